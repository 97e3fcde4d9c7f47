package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/hospital-bed-manager/internal/model"
	"github.com/iliyamo/hospital-bed-manager/internal/repository"
	"github.com/iliyamo/hospital-bed-manager/internal/service"
)

// OccupancyHandler exposes allocation, discharge, transfer and the ledger
// reads over HTTP.
type OccupancyHandler struct {
	Occupancy  *service.OccupancyService
	Aggregator *service.StatsAggregator
}

func NewOccupancyHandler(o *service.OccupancyService, s *service.StatsAggregator) *OccupancyHandler {
	if o == nil || s == nil {
		panic("nil service passed to NewOccupancyHandler")
	}
	return &OccupancyHandler{Occupancy: o, Aggregator: s}
}

type notesReq struct {
	Notes string `json:"notes"`
}

type transferReq struct {
	NewBedID uint64 `json:"new_bed_id"`
	Notes    string `json:"notes"`
}

// Allocate handles POST /v1/occupancies.
func (h *OccupancyHandler) Allocate(c echo.Context) error {
	a, err := caller(c)
	if err != nil {
		return writeError(c, err)
	}
	var req model.AllocationRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, http.StatusBadRequest, "invalid request body")
	}
	rec, err := h.Occupancy.Allocate(c.Request().Context(), a, req)
	if err != nil {
		return writeError(c, err)
	}
	return ok(c, http.StatusCreated, rec)
}

// Discharge handles POST /v1/occupancies/:id/discharge.
func (h *OccupancyHandler) Discharge(c echo.Context) error {
	a, err := caller(c)
	if err != nil {
		return writeError(c, err)
	}
	id, err := parseID(c, "id")
	if err != nil {
		return writeError(c, err)
	}
	var req notesReq
	if err := c.Bind(&req); err != nil {
		return fail(c, http.StatusBadRequest, "invalid request body")
	}
	rec, err := h.Occupancy.Discharge(c.Request().Context(), a, id, req.Notes)
	if err != nil {
		return writeError(c, err)
	}
	return ok(c, http.StatusOK, rec)
}

// Transfer handles POST /v1/occupancies/:id/transfer and returns the new
// active record.
func (h *OccupancyHandler) Transfer(c echo.Context) error {
	a, err := caller(c)
	if err != nil {
		return writeError(c, err)
	}
	id, err := parseID(c, "id")
	if err != nil {
		return writeError(c, err)
	}
	var req transferReq
	if err := c.Bind(&req); err != nil {
		return fail(c, http.StatusBadRequest, "invalid request body")
	}
	rec, err := h.Occupancy.Transfer(c.Request().Context(), a, id, req.NewBedID, req.Notes)
	if err != nil {
		return writeError(c, err)
	}
	return ok(c, http.StatusOK, rec)
}

// Get handles GET /v1/occupancies/:id.
func (h *OccupancyHandler) Get(c echo.Context) error {
	a, err := caller(c)
	if err != nil {
		return writeError(c, err)
	}
	id, err := parseID(c, "id")
	if err != nil {
		return writeError(c, err)
	}
	rec, err := h.Occupancy.GetOccupancy(c.Request().Context(), a, id)
	if err != nil {
		return writeError(c, err)
	}
	return ok(c, http.StatusOK, rec)
}

// List handles GET /v1/occupancies?status=&bed_id=&patient_id=&page=&page_size=.
func (h *OccupancyHandler) List(c echo.Context) error {
	a, err := caller(c)
	if err != nil {
		return writeError(c, err)
	}
	var f model.OccupancyFilter
	if raw := c.QueryParam("status"); raw != "" {
		s, known := model.ParseOccupancyStatus(raw)
		if !known {
			return writeError(c, repository.Invalid("status", "unknown occupancy status"))
		}
		f.Status = s
	}
	if f.BedID, err = queryUint(c, "bed_id"); err != nil {
		return writeError(c, err)
	}
	if f.PatientID, err = queryUint(c, "patient_id"); err != nil {
		return writeError(c, err)
	}
	if f.Page, err = queryInt(c, "page"); err != nil {
		return writeError(c, err)
	}
	if f.PageSize, err = queryInt(c, "page_size"); err != nil {
		return writeError(c, err)
	}
	recs, total, err := h.Occupancy.ListOccupancies(c.Request().Context(), a, f)
	if err != nil {
		return writeError(c, err)
	}
	f.Normalize()
	return okList(c, recs, f.Page, f.PageSize, total)
}

// PatientHistory handles GET /v1/patients/:id/occupancies.
func (h *OccupancyHandler) PatientHistory(c echo.Context) error {
	a, err := caller(c)
	if err != nil {
		return writeError(c, err)
	}
	id, err := parseID(c, "id")
	if err != nil {
		return writeError(c, err)
	}
	page, err := queryInt(c, "page")
	if err != nil {
		return writeError(c, err)
	}
	size, err := queryInt(c, "page_size")
	if err != nil {
		return writeError(c, err)
	}
	recs, total, err := h.Occupancy.PatientHistory(c.Request().Context(), a, id, page, size)
	if err != nil {
		return writeError(c, err)
	}
	f := model.OccupancyFilter{Page: page, PageSize: size}
	f.Normalize()
	return okList(c, recs, f.Page, f.PageSize, total)
}

// Stats handles GET /v1/occupancy/stats.
func (h *OccupancyHandler) Stats(c echo.Context) error {
	a, err := caller(c)
	if err != nil {
		return writeError(c, err)
	}
	st, err := h.Aggregator.GetOccupancyStats(c.Request().Context(), a)
	if err != nil {
		return writeError(c, err)
	}
	return ok(c, http.StatusOK, st)
}
