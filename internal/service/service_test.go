package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/iliyamo/hospital-bed-manager/internal/model"
	"github.com/iliyamo/hospital-bed-manager/internal/queue"
	"github.com/iliyamo/hospital-bed-manager/internal/repository"
)

var (
	admin   = model.Actor{UserID: 1, Role: model.RoleAdmin}
	doctor  = model.Actor{UserID: 2, Role: model.RoleDoctor}
	fixedAt = time.Date(2026, 3, 1, 8, 30, 0, 0, time.UTC)
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []queue.OccupancyEvent
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, ev queue.OccupancyEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.err
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.Type)
	}
	return out
}

type countingInvalidator struct {
	mu sync.Mutex
	n  int
}

func (c *countingInvalidator) Invalidate(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
	return nil
}

func (c *countingInvalidator) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

type fixture struct {
	store     *repository.MemStore
	registry  *BedRegistry
	occupancy *OccupancyService
	stats     *StatsAggregator
	events    *recordingPublisher
	cache     *countingInvalidator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := repository.NewMemStore()
	store.AddPatient(55, 77, 88)
	store.AddDoctor(9)
	store.AddDepartment(3)
	events := &recordingPublisher{}
	cache := &countingInvalidator{}
	opts := []Option{
		WithEvents(events),
		WithCacheInvalidator(cache),
		WithClock(func() time.Time { return fixedAt }),
	}
	return &fixture{
		store:     store,
		registry:  NewBedRegistry(store, opts...),
		occupancy: NewOccupancyService(store, opts...),
		stats:     NewStatsAggregator(store),
		events:    events,
		cache:     cache,
	}
}

func (f *fixture) bed(t *testing.T, room, bed string) *model.Bed {
	t.Helper()
	b, err := f.registry.CreateBed(context.Background(), admin, model.NewBed{RoomNumber: room, BedNumber: bed})
	require.NoError(t, err)
	return b
}

func (f *fixture) admit(t *testing.T, bedID, patientID uint64) *model.OccupancyRecord {
	t.Helper()
	rec, err := f.occupancy.Allocate(context.Background(), admin, model.AllocationRequest{
		BedID:           bedID,
		PatientID:       patientID,
		AdmissionReason: "observation",
	})
	require.NoError(t, err)
	return rec
}

func (f *fixture) bedStatus(t *testing.T, id uint64) model.BedStatus {
	t.Helper()
	b, err := f.store.Beds().GetByID(context.Background(), id)
	require.NoError(t, err)
	return b.Status
}

// requireConsistent checks that every bed is occupied exactly when one
// active record references it.
func requireConsistent(t *testing.T, store repository.Store) {
	t.Helper()
	ctx := context.Background()
	beds, _, err := store.Beds().List(ctx, model.BedFilter{PageSize: 100})
	require.NoError(t, err)
	recs, _, err := store.Occupancies().List(ctx, model.OccupancyFilter{Status: model.OccupancyActive, PageSize: 100})
	require.NoError(t, err)
	active := map[uint64]int{}
	for _, r := range recs {
		active[r.BedID]++
	}
	for _, b := range beds {
		require.LessOrEqual(t, active[b.ID], 1, "bed %s has more than one active record", b.Label())
		require.Equal(t, b.Status == model.BedOccupied, active[b.ID] == 1, "bed %s status %s", b.Label(), b.Status)
	}
}

func TestEveryOperationRequiresAdmin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.bed(t, "101", "A")

	for _, actor := range []model.Actor{{}, doctor, {UserID: 0, Role: model.RoleAdmin}} {
		_, err := f.registry.ListAvailableBeds(ctx, actor)
		require.ErrorIs(t, err, repository.ErrForbidden)
		_, err = f.registry.CreateBed(ctx, actor, model.NewBed{RoomNumber: "1", BedNumber: "B"})
		require.ErrorIs(t, err, repository.ErrForbidden)
		_, err = f.stats.GetOccupancyStats(ctx, actor)
		require.ErrorIs(t, err, repository.ErrForbidden)
		_, err = f.occupancy.Allocate(ctx, actor, model.AllocationRequest{BedID: b.ID, PatientID: 55, AdmissionReason: "x"})
		require.ErrorIs(t, err, repository.ErrForbidden)
		_, err = f.occupancy.Discharge(ctx, actor, 1, "")
		require.ErrorIs(t, err, repository.ErrForbidden)
		_, err = f.occupancy.Transfer(ctx, actor, 1, 2, "")
		require.ErrorIs(t, err, repository.ErrForbidden)
	}
	require.Equal(t, model.BedAvailable, f.bedStatus(t, b.ID))
}

func TestAllocateDischargeScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.bed(t, "101", "A")
	require.Equal(t, uint64(1), b.ID)

	rec, err := f.occupancy.Allocate(ctx, admin, model.AllocationRequest{
		BedID:           1,
		PatientID:       55,
		AdmissionReason: "chest pain",
		Priority:        "urgent",
	})
	require.NoError(t, err)
	require.Equal(t, uint64(1), rec.BedID)
	require.Equal(t, uint64(55), rec.PatientID)
	require.Equal(t, model.OccupancyActive, rec.Status)
	require.Equal(t, model.PriorityUrgent, rec.Priority)
	require.Equal(t, fixedAt, rec.AdmissionDate)
	require.Equal(t, model.BedOccupied, f.bedStatus(t, 1))
	requireConsistent(t, f.store)

	_, err = f.occupancy.Allocate(ctx, admin, model.AllocationRequest{BedID: 1, PatientID: 77, AdmissionReason: "fracture"})
	require.ErrorIs(t, err, repository.ErrConflict)

	closed, err := f.occupancy.Discharge(ctx, admin, rec.ID, "stable")
	require.NoError(t, err)
	require.Equal(t, model.OccupancyDischarged, closed.Status)
	require.NotNil(t, closed.ActualDischargeDate)
	require.Equal(t, fixedAt, *closed.ActualDischargeDate)
	require.Equal(t, "stable", *closed.Notes)
	require.Equal(t, model.BedAvailable, f.bedStatus(t, 1))
	requireConsistent(t, f.store)

	require.Equal(t, []string{queue.EventBedAllocated, queue.EventPatientDischarged}, f.events.types())
}

func TestAllocateValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.bed(t, "101", "A")
	past := fixedAt.Add(-time.Hour)
	zero := uint64(0)

	cases := []struct {
		name  string
		req   model.AllocationRequest
		field string
	}{
		{"missing bed", model.AllocationRequest{PatientID: 55, AdmissionReason: "x"}, "bed_id"},
		{"missing patient", model.AllocationRequest{BedID: b.ID, AdmissionReason: "x"}, "patient_id"},
		{"blank reason", model.AllocationRequest{BedID: b.ID, PatientID: 55, AdmissionReason: "  "}, "admission_reason"},
		{"bad priority", model.AllocationRequest{BedID: b.ID, PatientID: 55, AdmissionReason: "x", Priority: "asap"}, "priority"},
		{"zero doctor", model.AllocationRequest{BedID: b.ID, PatientID: 55, AdmissionReason: "x", DoctorID: &zero}, "doctor_id"},
		{"past discharge", model.AllocationRequest{BedID: b.ID, PatientID: 55, AdmissionReason: "x", ExpectedDischargeDate: &past}, "expected_discharge_date"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.occupancy.Allocate(ctx, admin, tc.req)
			var verr *repository.ValidationError
			require.ErrorAs(t, err, &verr)
			require.Equal(t, tc.field, verr.Field)
			require.ErrorIs(t, err, repository.ErrValidation)
		})
	}
	require.Equal(t, model.BedAvailable, f.bedStatus(t, b.ID))
}

func TestAllocatePreconditions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.bed(t, "101", "A")

	_, err := f.occupancy.Allocate(ctx, admin, model.AllocationRequest{BedID: 99, PatientID: 55, AdmissionReason: "x"})
	require.ErrorIs(t, err, repository.ErrBedNotFound)

	_, err = f.occupancy.Allocate(ctx, admin, model.AllocationRequest{BedID: b.ID, PatientID: 1234, AdmissionReason: "x"})
	require.ErrorIs(t, err, repository.ErrPatientNotFound)

	unknownDoctor := uint64(404)
	_, err = f.occupancy.Allocate(ctx, admin, model.AllocationRequest{BedID: b.ID, PatientID: 55, DoctorID: &unknownDoctor, AdmissionReason: "x"})
	require.ErrorIs(t, err, repository.ErrDoctorNotFound)

	inactive := false
	off, err := f.registry.CreateBed(ctx, admin, model.NewBed{RoomNumber: "102", BedNumber: "A", IsActive: &inactive})
	require.NoError(t, err)
	_, err = f.occupancy.Allocate(ctx, admin, model.AllocationRequest{BedID: off.ID, PatientID: 55, AdmissionReason: "x"})
	require.ErrorIs(t, err, repository.ErrBedNotAvailable)

	repair, err := f.registry.CreateBed(ctx, admin, model.NewBed{RoomNumber: "103", BedNumber: "A", Status: "maintenance"})
	require.NoError(t, err)
	_, err = f.occupancy.Allocate(ctx, admin, model.AllocationRequest{BedID: repair.ID, PatientID: 55, AdmissionReason: "x"})
	require.ErrorIs(t, err, repository.ErrConflict)

	recs, total, err := f.occupancy.ListOccupancies(ctx, admin, model.OccupancyFilter{})
	require.NoError(t, err)
	require.Zero(t, total)
	require.Empty(t, recs)
	require.Empty(t, f.events.types())
	requireConsistent(t, f.store)
}

func TestConcurrentAllocationSameBed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.bed(t, "101", "A")

	const callers = 16
	patients := make([]uint64, callers)
	for i := range patients {
		patients[i] = uint64(1000 + i)
	}
	f.store.AddPatient(patients...)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		conflicts int
		others    []error
	)
	start := make(chan struct{})
	for _, pid := range patients {
		wg.Add(1)
		go func(pid uint64) {
			defer wg.Done()
			<-start
			_, err := f.occupancy.Allocate(ctx, admin, model.AllocationRequest{BedID: b.ID, PatientID: pid, AdmissionReason: "x"})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, repository.ErrConflict):
				conflicts++
			default:
				others = append(others, err)
			}
		}(pid)
	}
	close(start)
	wg.Wait()

	require.Empty(t, others)
	require.Equal(t, 1, succeeded)
	require.Equal(t, callers-1, conflicts)
	requireConsistent(t, f.store)
}

func TestDischargeIsNotIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.bed(t, "101", "A")
	rec := f.admit(t, b.ID, 55)

	_, err := f.occupancy.Discharge(ctx, admin, rec.ID, "")
	require.NoError(t, err)
	require.Equal(t, model.BedAvailable, f.bedStatus(t, b.ID))

	_, err = f.occupancy.Discharge(ctx, admin, rec.ID, "again")
	require.ErrorIs(t, err, repository.ErrOccupancyNotActive)
	require.ErrorIs(t, err, repository.ErrConflict)
	require.Equal(t, model.BedAvailable, f.bedStatus(t, b.ID))

	_, err = f.occupancy.Discharge(ctx, admin, 999, "")
	require.ErrorIs(t, err, repository.ErrNotFound)
	requireConsistent(t, f.store)
}

func TestDischargeAppendsNotes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.bed(t, "101", "A")
	notes := "allergic to penicillin"
	rec, err := f.occupancy.Allocate(ctx, admin, model.AllocationRequest{
		BedID: b.ID, PatientID: 55, AdmissionReason: "x", Notes: &notes,
	})
	require.NoError(t, err)

	closed, err := f.occupancy.Discharge(ctx, admin, rec.ID, "  sent home  ")
	require.NoError(t, err)
	require.Equal(t, "allergic to penicillin\nsent home", *closed.Notes)
}

func TestTransferMovesPatient(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	src := f.bed(t, "101", "A")
	dst := f.bed(t, "205", "B")
	doc := uint64(9)
	diagnosis := "pneumonia"
	due := fixedAt.Add(72 * time.Hour)
	rec, err := f.occupancy.Allocate(ctx, admin, model.AllocationRequest{
		BedID: src.ID, PatientID: 55, DoctorID: &doc, AdmissionReason: "cough",
		Diagnosis: &diagnosis, ExpectedDischargeDate: &due, Priority: "high",
	})
	require.NoError(t, err)

	moved, err := f.occupancy.Transfer(ctx, admin, rec.ID, dst.ID, "needs isolation")
	require.NoError(t, err)

	require.Equal(t, model.BedAvailable, f.bedStatus(t, src.ID))
	require.Equal(t, model.BedOccupied, f.bedStatus(t, dst.ID))

	old, err := f.occupancy.GetOccupancy(ctx, admin, rec.ID)
	require.NoError(t, err)
	require.Equal(t, model.OccupancyTransferred, old.Status)
	require.Equal(t, fixedAt, *old.ActualDischargeDate)
	require.Equal(t, "needs isolation", *old.Notes)

	require.Equal(t, model.OccupancyActive, moved.Status)
	require.Equal(t, dst.ID, moved.BedID)
	require.Equal(t, uint64(55), moved.PatientID)
	require.Equal(t, doc, *moved.DoctorID)
	require.Equal(t, diagnosis, *moved.Diagnosis)
	require.Equal(t, "cough", moved.AdmissionReason)
	require.Equal(t, model.PriorityHigh, moved.Priority)
	require.Equal(t, due, *moved.ExpectedDischargeDate)
	require.Equal(t, rec.ID, *moved.TransferredFromID)

	active, total, err := f.occupancy.ListOccupancies(ctx, admin, model.OccupancyFilter{BedID: dst.ID, Status: model.OccupancyActive})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Equal(t, moved.ID, active[0].ID)
	requireConsistent(t, f.store)

	f.events.mu.Lock()
	last := f.events.events[len(f.events.events)-1]
	f.events.mu.Unlock()
	require.Equal(t, queue.EventPatientTransferred, last.Type)
	require.Equal(t, rec.ID, *last.PreviousOccupancyID)
	require.Equal(t, src.ID, *last.PreviousBedID)
	require.Equal(t, "205-B", last.BedLabel)
}

func TestTransferRejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.bed(t, "101", "A")
	b := f.bed(t, "101", "B")
	c := f.bed(t, "101", "C")
	recA := f.admit(t, a.ID, 55)
	f.admit(t, b.ID, 77)

	_, err := f.occupancy.Transfer(ctx, admin, recA.ID, 0, "")
	require.ErrorIs(t, err, repository.ErrValidation)

	_, err = f.occupancy.Transfer(ctx, admin, recA.ID, a.ID, "")
	require.ErrorIs(t, err, repository.ErrValidation)

	_, err = f.occupancy.Transfer(ctx, admin, recA.ID, b.ID, "")
	require.ErrorIs(t, err, repository.ErrBedNotAvailable)

	_, err = f.occupancy.Transfer(ctx, admin, recA.ID, 404, "")
	require.ErrorIs(t, err, repository.ErrBedNotFound)

	_, err = f.occupancy.Transfer(ctx, admin, 999, c.ID, "")
	require.ErrorIs(t, err, repository.ErrOccupancyNotFound)

	_, err = f.occupancy.Discharge(ctx, admin, recA.ID, "")
	require.NoError(t, err)
	_, err = f.occupancy.Transfer(ctx, admin, recA.ID, c.ID, "")
	require.ErrorIs(t, err, repository.ErrOccupancyNotActive)

	require.Equal(t, model.BedAvailable, f.bedStatus(t, a.ID))
	require.Equal(t, model.BedOccupied, f.bedStatus(t, b.ID))
	require.Equal(t, model.BedAvailable, f.bedStatus(t, c.ID))
	requireConsistent(t, f.store)
}

// failingStore injects an error into one write inside a unit of work.
type failingStore struct {
	repository.Store
	failCreate bool
	failOccupy bool
}

var errInjected = errors.New("injected failure")

func (s failingStore) WithinTx(ctx context.Context, fn func(tx repository.Store) error) error {
	return s.Store.WithinTx(ctx, func(tx repository.Store) error {
		return fn(failingStore{Store: tx, failCreate: s.failCreate, failOccupy: s.failOccupy})
	})
}

func (s failingStore) Beds() repository.BedRepository {
	return failingBeds{BedRepository: s.Store.Beds(), failOccupy: s.failOccupy}
}

func (s failingStore) Occupancies() repository.OccupancyRepository {
	return failingOccupancies{OccupancyRepository: s.Store.Occupancies(), failCreate: s.failCreate}
}

type failingBeds struct {
	repository.BedRepository
	failOccupy bool
}

func (b failingBeds) SetStatus(ctx context.Context, id uint64, from, to model.BedStatus) error {
	if b.failOccupy && to == model.BedOccupied {
		return errInjected
	}
	return b.BedRepository.SetStatus(ctx, id, from, to)
}

type failingOccupancies struct {
	repository.OccupancyRepository
	failCreate bool
}

func (o failingOccupancies) Create(ctx context.Context, rec *model.OccupancyRecord) error {
	if o.failCreate {
		return errInjected
	}
	return o.OccupancyRepository.Create(ctx, rec)
}

func TestTransferRollsBackOnFailure(t *testing.T) {
	for _, tc := range []struct {
		name  string
		store func(repository.Store) failingStore
	}{
		{"new record insert fails", func(s repository.Store) failingStore { return failingStore{Store: s, failCreate: true} }},
		{"destination status fails", func(s repository.Store) failingStore { return failingStore{Store: s, failOccupy: true} }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			src := f.bed(t, "101", "A")
			dst := f.bed(t, "102", "A")
			rec := f.admit(t, src.ID, 55)
			published := len(f.events.types())

			svc := NewOccupancyService(tc.store(f.store), WithEvents(f.events))
			_, err := svc.Transfer(ctx, admin, rec.ID, dst.ID, "move")
			require.ErrorIs(t, err, errInjected)

			require.Equal(t, model.BedOccupied, f.bedStatus(t, src.ID))
			require.Equal(t, model.BedAvailable, f.bedStatus(t, dst.ID))
			got, err := f.occupancy.GetOccupancy(ctx, admin, rec.ID)
			require.NoError(t, err)
			require.Equal(t, model.OccupancyActive, got.Status)
			require.Nil(t, got.ActualDischargeDate)
			require.Nil(t, got.Notes)

			_, total, err := f.occupancy.ListOccupancies(ctx, admin, model.OccupancyFilter{})
			require.NoError(t, err)
			require.Equal(t, 1, total)
			require.Len(t, f.events.types(), published)
			requireConsistent(t, f.store)
		})
	}
}

func TestAllocateRollsBackWhenBedUpdateFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.bed(t, "101", "A")

	svc := NewOccupancyService(failingStore{Store: f.store, failOccupy: true})
	_, err := svc.Allocate(ctx, admin, model.AllocationRequest{BedID: b.ID, PatientID: 55, AdmissionReason: "x"})
	require.ErrorIs(t, err, errInjected)

	_, total, err := f.occupancy.ListOccupancies(ctx, admin, model.OccupancyFilter{})
	require.NoError(t, err)
	require.Zero(t, total)
	require.Equal(t, model.BedAvailable, f.bedStatus(t, b.ID))
}

func TestPublishFailureDoesNotFailOperation(t *testing.T) {
	f := newFixture(t)
	f.events.err = errors.New("broker down")
	b := f.bed(t, "101", "A")

	rec := f.admit(t, b.ID, 55)
	require.Equal(t, model.OccupancyActive, rec.Status)
	require.Equal(t, []string{queue.EventBedAllocated}, f.events.types())
}

func TestMutationsInvalidateCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.bed(t, "101", "A")
	require.Equal(t, 1, f.cache.count())

	rec := f.admit(t, b.ID, 55)
	require.Equal(t, 2, f.cache.count())

	_, err := f.occupancy.Discharge(ctx, admin, rec.ID, "")
	require.NoError(t, err)
	require.Equal(t, 3, f.cache.count())

	_, err = f.occupancy.Discharge(ctx, admin, rec.ID, "")
	require.Error(t, err)
	require.Equal(t, 3, f.cache.count())
}

func TestPatientHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.bed(t, "101", "A")
	b := f.bed(t, "101", "B")
	rec := f.admit(t, a.ID, 55)
	_, err := f.occupancy.Transfer(ctx, admin, rec.ID, b.ID, "")
	require.NoError(t, err)
	f.admit(t, a.ID, 77)

	recs, total, err := f.occupancy.PatientHistory(ctx, admin, 55, 1, 10)
	require.NoError(t, err)
	require.Equal(t, 2, total)
	require.Len(t, recs, 2)
	for _, r := range recs {
		require.Equal(t, uint64(55), r.PatientID)
	}

	_, _, err = f.occupancy.PatientHistory(ctx, admin, 4242, 1, 10)
	require.ErrorIs(t, err, repository.ErrPatientNotFound)
}
