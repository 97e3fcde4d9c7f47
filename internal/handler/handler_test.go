package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/hospital-bed-manager/internal/middleware"
	"github.com/iliyamo/hospital-bed-manager/internal/model"
	"github.com/iliyamo/hospital-bed-manager/internal/repository"
	"github.com/iliyamo/hospital-bed-manager/internal/service"
)

var (
	adminActor = model.Actor{UserID: 1, Role: model.RoleAdmin}
	staffActor = model.Actor{UserID: 2, Role: model.RoleStaff}
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Field   string          `json:"field"`
	Meta    *listMeta       `json:"meta"`
}

type env struct {
	beds      *BedHandler
	occupancy *OccupancyHandler
}

func newEnv(t *testing.T) *env {
	t.Helper()
	store := repository.NewMemStore()
	store.AddPatient(55, 77)
	store.AddDoctor(9)
	return &env{
		beds:      NewBedHandler(service.NewBedRegistry(store)),
		occupancy: NewOccupancyHandler(service.NewOccupancyService(store), service.NewStatsAggregator(store)),
	}
}

// call invokes h directly with the given actor; a zero actor means the
// request carries no identity.
func call(t *testing.T, h echo.HandlerFunc, actor model.Actor, method, target, body string, params ...string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	e := echo.New()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if len(params) > 0 {
		c.SetParamNames(params[0])
		c.SetParamValues(params[1])
	}
	if actor.UserID != 0 {
		c.Set(middleware.ActorKey, actor)
	}
	require.NoError(t, h(c))

	var out envelope
	if rec.Body.Len() > 0 && strings.HasPrefix(rec.Header().Get(echo.HeaderContentType), echo.MIMEApplicationJSON) {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func (e *env) createBed(t *testing.T, body string) model.Bed {
	t.Helper()
	rec, out := call(t, e.beds.Create, adminActor, http.MethodPost, "/v1/beds", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var b model.Bed
	require.NoError(t, json.Unmarshal(out.Data, &b))
	return b
}

func TestCreateBedEnvelope(t *testing.T) {
	e := newEnv(t)
	b := e.createBed(t, `{"room_number":"101","bed_number":"A","type":"icu","equipment":["monitor","monitor","oxygen"]}`)
	assert.Equal(t, "101-A", b.Label())
	assert.Equal(t, model.BedTypeICU, b.Type)
	assert.Equal(t, model.BedAvailable, b.Status)
	assert.Equal(t, model.Equipment{"monitor", "oxygen"}, b.Equipment)

	rec, out := call(t, e.beds.Create, adminActor, http.MethodPost, "/v1/beds", `{"room_number":"101","bed_number":"A"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.False(t, out.Success)

	rec, out = call(t, e.beds.Create, adminActor, http.MethodPost, "/v1/beds", `{"room_number":" ","bed_number":"A"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "room_number", out.Field)

	rec, _ = call(t, e.beds.Create, adminActor, http.MethodPost, "/v1/beds", `{"room_number":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBedRoutesRequireIdentity(t *testing.T) {
	e := newEnv(t)
	rec, out := call(t, e.beds.List, model.Actor{}, http.MethodGet, "/v1/beds", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.False(t, out.Success)

	rec, _ = call(t, e.beds.List, staffActor, http.MethodGet, "/v1/beds", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestListBedsFiltersAndMeta(t *testing.T) {
	e := newEnv(t)
	e.createBed(t, `{"room_number":"101","bed_number":"A"}`)
	e.createBed(t, `{"room_number":"101","bed_number":"B","type":"icu"}`)
	e.createBed(t, `{"room_number":"102","bed_number":"A","type":"icu","floor":3}`)

	rec, out := call(t, e.beds.List, adminActor, http.MethodGet, "/v1/beds?type=icu&page_size=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, out.Meta)
	assert.Equal(t, listMeta{Page: 1, PageSize: 1, Total: 2}, *out.Meta)

	var beds []model.Bed
	require.NoError(t, json.Unmarshal(out.Data, &beds))
	require.Len(t, beds, 1)
	assert.Equal(t, "101-B", beds[0].Label())

	rec, out = call(t, e.beds.List, adminActor, http.MethodGet, "/v1/beds?floor=3", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, out.Meta.Total)

	for _, q := range []string{"status=broken", "type=hammock", "floor=up", "active=maybe", "department_id=-1"} {
		rec, _ := call(t, e.beds.List, adminActor, http.MethodGet, "/v1/beds?"+q, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
}

func TestPatchBedClearsAndKeeps(t *testing.T) {
	e := newEnv(t)
	b := e.createBed(t, `{"room_number":"101","bed_number":"A","ward":"East","floor":2}`)
	id := strconv.FormatUint(b.ID, 10)

	rec, out := call(t, e.beds.Update, adminActor, http.MethodPatch, "/v1/beds/"+id, `{"ward":null,"description":"near window"}`, "id", id)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var updated model.Bed
	require.NoError(t, json.Unmarshal(out.Data, &updated))
	assert.Nil(t, updated.Ward)
	require.NotNil(t, updated.Floor)
	assert.Equal(t, 2, *updated.Floor)
	assert.Equal(t, "near window", *updated.Description)

	rec, _ = call(t, e.beds.Update, adminActor, http.MethodPatch, "/v1/beds/"+id, `{}`, "id", id)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = call(t, e.beds.Update, adminActor, http.MethodPatch, "/v1/beds/"+id, `{"floor":"x"}`, "id", id)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = call(t, e.beds.Update, adminActor, http.MethodPatch, "/v1/beds/0", `{"floor":1}`, "id", "0")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = call(t, e.beds.Update, adminActor, http.MethodPatch, "/v1/beds/40", `{"floor":1}`, "id", "40")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdmissionLifecycle(t *testing.T) {
	e := newEnv(t)
	e.createBed(t, `{"room_number":"101","bed_number":"A"}`)
	e.createBed(t, `{"room_number":"101","bed_number":"B"}`)

	rec, out := call(t, e.occupancy.Allocate, adminActor, http.MethodPost, "/v1/occupancies",
		`{"bed_id":1,"patient_id":55,"doctor_id":9,"admission_reason":"chest pain","priority":"urgent"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var admitted model.OccupancyRecord
	require.NoError(t, json.Unmarshal(out.Data, &admitted))
	assert.Equal(t, model.OccupancyActive, admitted.Status)
	assert.Equal(t, model.PriorityUrgent, admitted.Priority)

	rec, _ = call(t, e.occupancy.Allocate, adminActor, http.MethodPost, "/v1/occupancies",
		`{"bed_id":1,"patient_id":77,"admission_reason":"fracture"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec, out = call(t, e.occupancy.Allocate, adminActor, http.MethodPost, "/v1/occupancies",
		`{"bed_id":2,"patient_id":77}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "admission_reason", out.Field)

	rec, out = call(t, e.occupancy.Transfer, adminActor, http.MethodPost, "/v1/occupancies/1/transfer",
		`{"new_bed_id":2,"notes":"needs isolation"}`, "id", "1")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var moved model.OccupancyRecord
	require.NoError(t, json.Unmarshal(out.Data, &moved))
	assert.Equal(t, uint64(2), moved.BedID)
	require.NotNil(t, moved.TransferredFromID)
	assert.Equal(t, admitted.ID, *moved.TransferredFromID)

	rec, _ = call(t, e.occupancy.Discharge, adminActor, http.MethodPost, "/v1/occupancies/1/discharge", "", "id", "1")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec, out = call(t, e.occupancy.Discharge, adminActor, http.MethodPost, "/v1/occupancies/2/discharge", `{"notes":"stable"}`, "id", "2")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var done model.OccupancyRecord
	require.NoError(t, json.Unmarshal(out.Data, &done))
	assert.Equal(t, model.OccupancyDischarged, done.Status)
	assert.NotNil(t, done.ActualDischargeDate)

	rec, out = call(t, e.occupancy.PatientHistory, adminActor, http.MethodGet, "/v1/patients/55/occupancies", "", "id", "55")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, out.Meta.Total)

	rec, out = call(t, e.occupancy.List, adminActor, http.MethodGet, "/v1/occupancies?status=transferred", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, out.Meta.Total)

	rec, _ = call(t, e.occupancy.List, adminActor, http.MethodGet, "/v1/occupancies?status=gone", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = call(t, e.occupancy.Get, adminActor, http.MethodGet, "/v1/occupancies/99", "", "id", "99")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteBedStatuses(t *testing.T) {
	e := newEnv(t)
	e.createBed(t, `{"room_number":"101","bed_number":"A"}`)
	e.createBed(t, `{"room_number":"101","bed_number":"B"}`)
	rec, _ := call(t, e.occupancy.Allocate, adminActor, http.MethodPost, "/v1/occupancies",
		`{"bed_id":2,"patient_id":55,"admission_reason":"observation"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec, _ = call(t, e.beds.Delete, adminActor, http.MethodDelete, "/v1/beds/2", "", "id", "2")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec, _ = call(t, e.beds.Delete, adminActor, http.MethodDelete, "/v1/beds/1", "", "id", "1")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec, _ = call(t, e.beds.Get, adminActor, http.MethodGet, "/v1/beds/1", "", "id", "1")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatsAndAvailable(t *testing.T) {
	e := newEnv(t)
	e.createBed(t, `{"room_number":"101","bed_number":"A"}`)
	e.createBed(t, `{"room_number":"101","bed_number":"B"}`)
	e.createBed(t, `{"room_number":"101","bed_number":"C","status":"maintenance"}`)
	e.createBed(t, `{"room_number":"101","bed_number":"D"}`)
	rec, _ := call(t, e.occupancy.Allocate, adminActor, http.MethodPost, "/v1/occupancies",
		`{"bed_id":1,"patient_id":55,"admission_reason":"observation"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec, out := call(t, e.occupancy.Stats, adminActor, http.MethodGet, "/v1/occupancy/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var st model.OccupancyStats
	require.NoError(t, json.Unmarshal(out.Data, &st))
	assert.Equal(t, 4, st.TotalBeds)
	assert.Equal(t, 1, st.OccupiedBeds)
	assert.Equal(t, 2, st.AvailableBeds)
	assert.Equal(t, 2, st.TotalPatients)
	assert.Equal(t, 25.0, st.OccupancyRate)

	rec, out = call(t, e.beds.ListAvailable, adminActor, http.MethodGet, "/v1/beds/available", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var avail []model.Bed
	require.NoError(t, json.Unmarshal(out.Data, &avail))
	assert.Len(t, avail, 2)
}
