package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/hospital-bed-manager/internal/model"
	"github.com/iliyamo/hospital-bed-manager/internal/repository"
	"github.com/iliyamo/hospital-bed-manager/internal/service"
)

// BedHandler exposes the bed registry over HTTP.
type BedHandler struct {
	Registry *service.BedRegistry
}

func NewBedHandler(r *service.BedRegistry) *BedHandler {
	if r == nil {
		panic("nil registry passed to NewBedHandler")
	}
	return &BedHandler{Registry: r}
}

// ListAvailable handles GET /v1/beds/available.
func (h *BedHandler) ListAvailable(c echo.Context) error {
	a, err := caller(c)
	if err != nil {
		return writeError(c, err)
	}
	beds, err := h.Registry.ListAvailableBeds(c.Request().Context(), a)
	if err != nil {
		return writeError(c, err)
	}
	return ok(c, http.StatusOK, beds)
}

// List handles GET /v1/beds with optional status, type, ward, floor,
// department_id, active, q, page and page_size query parameters.
func (h *BedHandler) List(c echo.Context) error {
	a, err := caller(c)
	if err != nil {
		return writeError(c, err)
	}
	f, err := bedFilterFrom(c)
	if err != nil {
		return writeError(c, err)
	}
	beds, total, err := h.Registry.ListBeds(c.Request().Context(), a, f)
	if err != nil {
		return writeError(c, err)
	}
	f.Normalize()
	return okList(c, beds, f.Page, f.PageSize, total)
}

func bedFilterFrom(c echo.Context) (model.BedFilter, error) {
	var f model.BedFilter
	if raw := c.QueryParam("status"); raw != "" {
		s, known := model.ParseBedStatus(raw)
		if !known {
			return f, repository.Invalid("status", "unknown bed status")
		}
		f.Status = s
	}
	if raw := c.QueryParam("type"); raw != "" {
		t, known := model.ParseBedType(raw)
		if !known {
			return f, repository.Invalid("type", "unknown bed type")
		}
		f.Type = t
	}
	f.Ward = strings.TrimSpace(c.QueryParam("ward"))
	f.Search = strings.TrimSpace(c.QueryParam("q"))
	if c.QueryParam("floor") != "" {
		floor, err := queryInt(c, "floor")
		if err != nil {
			return f, err
		}
		f.Floor = &floor
	}
	var err error
	if f.DepartmentID, err = queryUint(c, "department_id"); err != nil {
		return f, err
	}
	if f.Active, err = queryBool(c, "active"); err != nil {
		return f, err
	}
	if f.Page, err = queryInt(c, "page"); err != nil {
		return f, err
	}
	if f.PageSize, err = queryInt(c, "page_size"); err != nil {
		return f, err
	}
	return f, nil
}

// Get handles GET /v1/beds/:id.
func (h *BedHandler) Get(c echo.Context) error {
	a, err := caller(c)
	if err != nil {
		return writeError(c, err)
	}
	id, err := parseID(c, "id")
	if err != nil {
		return writeError(c, err)
	}
	bed, err := h.Registry.GetBed(c.Request().Context(), a, id)
	if err != nil {
		return writeError(c, err)
	}
	return ok(c, http.StatusOK, bed)
}

// Create handles POST /v1/beds.
func (h *BedHandler) Create(c echo.Context) error {
	a, err := caller(c)
	if err != nil {
		return writeError(c, err)
	}
	var in model.NewBed
	if err := c.Bind(&in); err != nil {
		return fail(c, http.StatusBadRequest, "invalid request body")
	}
	bed, err := h.Registry.CreateBed(c.Request().Context(), a, in)
	if err != nil {
		return writeError(c, err)
	}
	return ok(c, http.StatusCreated, bed)
}

// Update handles PUT/PATCH /v1/beds/:id.  Only fields present in the body
// change; an explicit null clears an optional field.
func (h *BedHandler) Update(c echo.Context) error {
	a, err := caller(c)
	if err != nil {
		return writeError(c, err)
	}
	id, err := parseID(c, "id")
	if err != nil {
		return writeError(c, err)
	}
	// Decoded directly: model.Field tracks absent vs null per key.
	var patch model.BedPatch
	if err := json.NewDecoder(c.Request().Body).Decode(&patch); err != nil && !errors.Is(err, io.EOF) {
		return fail(c, http.StatusBadRequest, "invalid request body")
	}
	bed, err := h.Registry.UpdateBed(c.Request().Context(), a, id, patch)
	if err != nil {
		return writeError(c, err)
	}
	return ok(c, http.StatusOK, bed)
}

// Delete handles DELETE /v1/beds/:id.
func (h *BedHandler) Delete(c echo.Context) error {
	a, err := caller(c)
	if err != nil {
		return writeError(c, err)
	}
	id, err := parseID(c, "id")
	if err != nil {
		return writeError(c, err)
	}
	if err := h.Registry.DeleteBed(c.Request().Context(), a, id); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}
