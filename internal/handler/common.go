package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/hospital-bed-manager/internal/middleware"
	"github.com/iliyamo/hospital-bed-manager/internal/model"
	"github.com/iliyamo/hospital-bed-manager/internal/repository"
)

// listMeta describes one page of a listing.
type listMeta struct {
	Page     int `json:"page"`
	PageSize int `json:"page_size"`
	Total    int `json:"total"`
}

func ok(c echo.Context, status int, data any) error {
	return c.JSON(status, echo.Map{"success": true, "data": data})
}

func okList(c echo.Context, data any, page, size, total int) error {
	return c.JSON(http.StatusOK, echo.Map{
		"success": true,
		"data":    data,
		"meta":    listMeta{Page: page, PageSize: size, Total: total},
	})
}

func fail(c echo.Context, status int, msg string) error {
	return c.JSON(status, echo.Map{"success": false, "error": msg})
}

// writeError maps service errors onto HTTP status codes.  Unknown errors are
// reported as 500 without leaking their text.
func writeError(c echo.Context, err error) error {
	var verr *repository.ValidationError
	switch {
	case errors.Is(err, errUnauthenticated):
		return fail(c, http.StatusUnauthorized, err.Error())
	case errors.As(err, &verr):
		return c.JSON(http.StatusBadRequest, echo.Map{"success": false, "error": verr.Error(), "field": verr.Field})
	case errors.Is(err, repository.ErrValidation):
		return fail(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, repository.ErrNotFound):
		return fail(c, http.StatusNotFound, err.Error())
	case errors.Is(err, repository.ErrConflict):
		return fail(c, http.StatusConflict, err.Error())
	case errors.Is(err, repository.ErrForbidden):
		return fail(c, http.StatusForbidden, err.Error())
	}
	c.Logger().Error(err)
	return fail(c, http.StatusInternalServerError, "internal error")
}

// errUnauthenticated is returned by handlers reached without JWTAuth.
var errUnauthenticated = errors.New("unauthorized")

// caller returns the authenticated actor stored by JWTAuth.
func caller(c echo.Context) (model.Actor, error) {
	a, found := middleware.ActorFrom(c)
	if !found {
		return model.Actor{}, errUnauthenticated
	}
	return a, nil
}

func parseID(c echo.Context, name string) (uint64, error) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		return 0, repository.Invalid(name, "must be a positive integer")
	}
	return id, nil
}

func queryInt(c echo.Context, name string) (int, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, repository.Invalid(name, "must be an integer")
	}
	return n, nil
}

func queryUint(c echo.Context, name string) (uint64, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, repository.Invalid(name, "must be a positive integer")
	}
	return n, nil
}

func queryBool(c echo.Context, name string) (*bool, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return nil, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return nil, repository.Invalid(name, "must be true or false")
	}
	return &b, nil
}
