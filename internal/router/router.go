// Package router wires handlers and middleware onto the Echo instance.
package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/hospital-bed-manager/internal/handler"
	"github.com/iliyamo/hospital-bed-manager/internal/middleware"
	"github.com/iliyamo/hospital-bed-manager/internal/model"
)

// RegisterRoutes registers routes that do not require authentication.
func RegisterRoutes(e *echo.Echo, db handler.Pinger) {
	e.GET("/healthz", handler.Health)
	if db != nil {
		e.GET("/readyz", handler.Ready(db))
	}
}

// RegisterAuth registers the token endpoints under /v1/auth and the
// protected /v1/me.  Every role may call /v1/me.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler, jwtSecret string) {
	g := e.Group("/v1/auth")
	g.POST("/register", a.Register)
	g.POST("/login", a.Login)
	g.POST("/refresh", a.Refresh)
	g.POST("/refresh-access", a.RefreshAccess)
	g.POST("/logout", a.Logout)

	auth := e.Group("/v1")
	auth.Use(middleware.JWTAuth(jwtSecret))
	auth.Use(middleware.RequireRole(model.RoleAdmin, model.RoleDoctor, model.RolePatient, model.RoleStaff))
	auth.GET("/me", a.Me)

	e.POST("/v1/logout", a.Logout)
}

// Admin bundles what the administrative routes need.  RateLimit and Cache
// may be nil, in which case the routes run without them.
type Admin struct {
	Beds      *handler.BedHandler
	Occupancy *handler.OccupancyHandler
	JWTSecret string
	RateLimit echo.MiddlewareFunc
	Cache     echo.MiddlewareFunc
}

// RegisterAdmin registers bed registry and occupancy routes.  All of them
// require a valid ADMIN access token.
func RegisterAdmin(e *echo.Echo, a Admin) {
	g := e.Group("/v1")
	g.Use(middleware.JWTAuth(a.JWTSecret))
	g.Use(middleware.RequireRole(model.RoleAdmin))
	if a.RateLimit != nil {
		g.Use(a.RateLimit)
	}
	cached := []echo.MiddlewareFunc{}
	if a.Cache != nil {
		cached = append(cached, a.Cache)
	}

	g.GET("/beds", a.Beds.List)
	g.GET("/beds/available", a.Beds.ListAvailable, cached...)
	g.GET("/beds/:id", a.Beds.Get)
	g.POST("/beds", a.Beds.Create)
	g.PUT("/beds/:id", a.Beds.Update)
	g.PATCH("/beds/:id", a.Beds.Update)
	g.DELETE("/beds/:id", a.Beds.Delete)

	g.GET("/occupancy/stats", a.Occupancy.Stats, cached...)
	g.GET("/occupancies", a.Occupancy.List)
	g.POST("/occupancies", a.Occupancy.Allocate)
	g.GET("/occupancies/:id", a.Occupancy.Get)
	g.POST("/occupancies/:id/discharge", a.Occupancy.Discharge)
	g.POST("/occupancies/:id/transfer", a.Occupancy.Transfer)
	g.GET("/patients/:id/occupancies", a.Occupancy.PatientHistory)
}
