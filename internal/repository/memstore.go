package repository

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/iliyamo/hospital-bed-manager/internal/model"
)

type memoryState struct {
	beds        map[uint64]model.Bed
	occupancies map[uint64]model.OccupancyRecord
	patients    map[uint64]struct{}
	doctors     map[uint64]struct{}
	departments map[uint64]struct{}
	nextBed     uint64
	nextOcc     uint64
}

func newMemoryState() *memoryState {
	return &memoryState{
		beds:        map[uint64]model.Bed{},
		occupancies: map[uint64]model.OccupancyRecord{},
		patients:    map[uint64]struct{}{},
		doctors:     map[uint64]struct{}{},
		departments: map[uint64]struct{}{},
	}
}

func (s *memoryState) clone() memoryState {
	c := memoryState{
		beds:        make(map[uint64]model.Bed, len(s.beds)),
		occupancies: make(map[uint64]model.OccupancyRecord, len(s.occupancies)),
		patients:    make(map[uint64]struct{}, len(s.patients)),
		doctors:     make(map[uint64]struct{}, len(s.doctors)),
		departments: make(map[uint64]struct{}, len(s.departments)),
		nextBed:     s.nextBed,
		nextOcc:     s.nextOcc,
	}
	for k, v := range s.beds {
		c.beds[k] = cloneBed(v)
	}
	for k, v := range s.occupancies {
		c.occupancies[k] = v
	}
	for k := range s.patients {
		c.patients[k] = struct{}{}
	}
	for k := range s.doctors {
		c.doctors[k] = struct{}{}
	}
	for k := range s.departments {
		c.departments[k] = struct{}{}
	}
	return c
}

func cloneBed(b model.Bed) model.Bed {
	b.Equipment = append(model.Equipment{}, b.Equipment...)
	return b
}

// MemStore is an in-memory Store.  Transactions are serialized on a single
// mutex and roll back by restoring a snapshot taken at the start of the
// unit of work.
type MemStore struct {
	mu    *sync.Mutex
	state *memoryState
	inTx  bool
}

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{mu: &sync.Mutex{}, state: newMemoryState()}
}

// AddPatient registers a patient id so allocations may reference it.
func (s *MemStore) AddPatient(ids ...uint64) {
	_ = s.do(func(st *memoryState) error {
		for _, id := range ids {
			st.patients[id] = struct{}{}
		}
		return nil
	})
}

// AddDoctor registers doctor ids.
func (s *MemStore) AddDoctor(ids ...uint64) {
	_ = s.do(func(st *memoryState) error {
		for _, id := range ids {
			st.doctors[id] = struct{}{}
		}
		return nil
	})
}

// AddDepartment registers department ids.
func (s *MemStore) AddDepartment(ids ...uint64) {
	_ = s.do(func(st *memoryState) error {
		for _, id := range ids {
			st.departments[id] = struct{}{}
		}
		return nil
	})
}

func (s *MemStore) do(fn func(st *memoryState) error) error {
	if s.inTx {
		return fn(s.state)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.state)
}

func (s *MemStore) Beds() BedRepository              { return memBeds{s} }
func (s *MemStore) Occupancies() OccupancyRepository { return memOccupancies{s} }
func (s *MemStore) References() ReferenceRepository  { return memReferences{s} }

// WithinTx runs fn with exclusive access to the store.  Any error or panic
// restores the state captured before fn started.
func (s *MemStore) WithinTx(ctx context.Context, fn func(tx Store) error) (err error) {
	if s.inTx {
		return fn(s)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.state.clone()
	committed := false
	defer func() {
		if !committed {
			*s.state = snapshot
		}
	}()
	if err := fn(&MemStore{mu: s.mu, state: s.state, inTx: true}); err != nil {
		return err
	}
	committed = true
	return nil
}

type memBeds struct{ s *MemStore }

func (r memBeds) Create(_ context.Context, b *model.Bed) error {
	return r.s.do(func(st *memoryState) error {
		for _, existing := range st.beds {
			if existing.RoomNumber == b.RoomNumber && existing.BedNumber == b.BedNumber {
				return ErrDuplicateBed
			}
		}
		if b.DepartmentID != nil {
			if _, ok := st.departments[*b.DepartmentID]; !ok {
				return ErrDepartmentNotFound
			}
		}
		st.nextBed++
		now := time.Now().UTC()
		b.ID = st.nextBed
		b.CreatedAt, b.UpdatedAt = now, now
		if b.Equipment == nil {
			b.Equipment = model.Equipment{}
		}
		st.beds[b.ID] = cloneBed(*b)
		return nil
	})
}

func (r memBeds) GetByID(_ context.Context, id uint64) (*model.Bed, error) {
	var out *model.Bed
	err := r.s.do(func(st *memoryState) error {
		b, ok := st.beds[id]
		if !ok {
			return ErrBedNotFound
		}
		b = cloneBed(b)
		out = &b
		return nil
	})
	return out, err
}

func (r memBeds) GetForUpdate(ctx context.Context, id uint64) (*model.Bed, error) {
	return r.GetByID(ctx, id)
}

func (r memBeds) List(_ context.Context, f model.BedFilter) ([]model.Bed, int, error) {
	f.Normalize()
	var matched []model.Bed
	_ = r.s.do(func(st *memoryState) error {
		for _, b := range st.beds {
			if bedMatches(b, f) {
				matched = append(matched, cloneBed(b))
			}
		}
		return nil
	})
	sortBeds(matched)
	return paginate(matched, f.Page, f.PageSize), len(matched), nil
}

func bedMatches(b model.Bed, f model.BedFilter) bool {
	if f.Status != "" && b.Status != f.Status {
		return false
	}
	if f.Type != "" && b.Type != f.Type {
		return false
	}
	if w := strings.TrimSpace(f.Ward); w != "" && (b.Ward == nil || *b.Ward != w) {
		return false
	}
	if f.Floor != nil && (b.Floor == nil || *b.Floor != *f.Floor) {
		return false
	}
	if f.DepartmentID != 0 && (b.DepartmentID == nil || *b.DepartmentID != f.DepartmentID) {
		return false
	}
	if f.Active != nil && b.IsActive != *f.Active {
		return false
	}
	if q := strings.ToLower(strings.TrimSpace(f.Search)); q != "" {
		hay := strings.ToLower(b.RoomNumber + " " + b.BedNumber)
		if b.Ward != nil {
			hay += " " + strings.ToLower(*b.Ward)
		}
		if !strings.Contains(hay, q) {
			return false
		}
	}
	return true
}

func sortBeds(beds []model.Bed) {
	sort.Slice(beds, func(i, j int) bool {
		if beds[i].RoomNumber != beds[j].RoomNumber {
			return beds[i].RoomNumber < beds[j].RoomNumber
		}
		return beds[i].BedNumber < beds[j].BedNumber
	})
}

func paginate[T any](items []T, page, size int) []T {
	start := (page - 1) * size
	if start >= len(items) {
		return []T{}
	}
	end := start + size
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}

func (r memBeds) ListAvailable(_ context.Context) ([]model.Bed, error) {
	out := make([]model.Bed, 0)
	_ = r.s.do(func(st *memoryState) error {
		for _, b := range st.beds {
			if b.Allocatable() {
				out = append(out, cloneBed(b))
			}
		}
		return nil
	})
	sortBeds(out)
	return out, nil
}

func (r memBeds) Update(_ context.Context, b *model.Bed) error {
	return r.s.do(func(st *memoryState) error {
		cur, ok := st.beds[b.ID]
		if !ok {
			return ErrBedNotFound
		}
		for id, other := range st.beds {
			if id != b.ID && other.RoomNumber == b.RoomNumber && other.BedNumber == b.BedNumber {
				return ErrDuplicateBed
			}
		}
		if b.DepartmentID != nil {
			if _, ok := st.departments[*b.DepartmentID]; !ok {
				return ErrDepartmentNotFound
			}
		}
		next := cloneBed(*b)
		next.CreatedAt = cur.CreatedAt
		next.UpdatedAt = time.Now().UTC()
		st.beds[b.ID] = next
		return nil
	})
}

func (r memBeds) SetStatus(_ context.Context, id uint64, from, to model.BedStatus) error {
	return r.s.do(func(st *memoryState) error {
		b, ok := st.beds[id]
		if !ok {
			return ErrBedNotFound
		}
		if b.Status != from {
			return ErrBedNotAvailable
		}
		b.Status = to
		b.UpdatedAt = time.Now().UTC()
		st.beds[id] = b
		return nil
	})
}

func (r memBeds) Delete(_ context.Context, id uint64) error {
	return r.s.do(func(st *memoryState) error {
		if _, ok := st.beds[id]; !ok {
			return ErrBedNotFound
		}
		for _, o := range st.occupancies {
			if o.BedID == id {
				return ErrBedHasHistory
			}
		}
		delete(st.beds, id)
		return nil
	})
}

func (r memBeds) CountByStatus(_ context.Context) (model.BedCounts, error) {
	var c model.BedCounts
	_ = r.s.do(func(st *memoryState) error {
		for _, b := range st.beds {
			c.Total++
			switch b.Status {
			case model.BedAvailable:
				c.Available++
			case model.BedOccupied:
				c.Occupied++
			case model.BedMaintenance:
				c.Maintenance++
			case model.BedReserved:
				c.Reserved++
			}
		}
		return nil
	})
	return c, nil
}

type memOccupancies struct{ s *MemStore }

func (r memOccupancies) Create(_ context.Context, o *model.OccupancyRecord) error {
	return r.s.do(func(st *memoryState) error {
		if _, ok := st.beds[o.BedID]; !ok {
			return fmt.Errorf("bed_id: %w", ErrNotFound)
		}
		if _, ok := st.patients[o.PatientID]; !ok {
			return fmt.Errorf("patient_id: %w", ErrNotFound)
		}
		if o.DoctorID != nil {
			if _, ok := st.doctors[*o.DoctorID]; !ok {
				return fmt.Errorf("doctor_id: %w", ErrNotFound)
			}
		}
		if o.Status == model.OccupancyActive {
			for _, other := range st.occupancies {
				if other.BedID == o.BedID && other.Active() {
					return ErrBedNoLongerAvailable
				}
			}
		}
		st.nextOcc++
		now := time.Now().UTC()
		o.ID = st.nextOcc
		o.CreatedAt, o.UpdatedAt = now, now
		st.occupancies[o.ID] = *o
		return nil
	})
}

func (r memOccupancies) GetByID(_ context.Context, id uint64) (*model.OccupancyRecord, error) {
	var out *model.OccupancyRecord
	err := r.s.do(func(st *memoryState) error {
		o, ok := st.occupancies[id]
		if !ok {
			return ErrOccupancyNotFound
		}
		out = &o
		return nil
	})
	return out, err
}

func (r memOccupancies) GetForUpdate(ctx context.Context, id uint64) (*model.OccupancyRecord, error) {
	return r.GetByID(ctx, id)
}

func (r memOccupancies) ActiveByBed(_ context.Context, bedID uint64) (*model.OccupancyRecord, error) {
	var out *model.OccupancyRecord
	err := r.s.do(func(st *memoryState) error {
		for _, o := range st.occupancies {
			if o.BedID == bedID && o.Active() {
				out = &o
				return nil
			}
		}
		return ErrOccupancyNotFound
	})
	return out, err
}

func (r memOccupancies) Close(_ context.Context, id uint64, status model.OccupancyStatus, at time.Time, notes *string) error {
	return r.s.do(func(st *memoryState) error {
		o, ok := st.occupancies[id]
		if !ok {
			return ErrOccupancyNotFound
		}
		if !o.Active() {
			return ErrOccupancyNotActive
		}
		at = at.UTC()
		o.Status = status
		o.ActualDischargeDate = &at
		o.Notes = notes
		o.UpdatedAt = time.Now().UTC()
		st.occupancies[id] = o
		return nil
	})
}

func (r memOccupancies) CountByBed(_ context.Context, bedID uint64) (int, error) {
	n := 0
	_ = r.s.do(func(st *memoryState) error {
		for _, o := range st.occupancies {
			if o.BedID == bedID {
				n++
			}
		}
		return nil
	})
	return n, nil
}

func (r memOccupancies) List(_ context.Context, f model.OccupancyFilter) ([]model.OccupancyRecord, int, error) {
	f.Normalize()
	var matched []model.OccupancyRecord
	_ = r.s.do(func(st *memoryState) error {
		for _, o := range st.occupancies {
			if f.Status != "" && o.Status != f.Status {
				continue
			}
			if f.BedID != 0 && o.BedID != f.BedID {
				continue
			}
			if f.PatientID != 0 && o.PatientID != f.PatientID {
				continue
			}
			matched = append(matched, o)
		}
		return nil
	})
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].AdmissionDate.Equal(matched[j].AdmissionDate) {
			return matched[i].AdmissionDate.After(matched[j].AdmissionDate)
		}
		return matched[i].ID > matched[j].ID
	})
	return paginate(matched, f.Page, f.PageSize), len(matched), nil
}

func (r memOccupancies) CountActive(_ context.Context) (int, error) {
	n := 0
	_ = r.s.do(func(st *memoryState) error {
		for _, o := range st.occupancies {
			if o.Active() {
				n++
			}
		}
		return nil
	})
	return n, nil
}

type memReferences struct{ s *MemStore }

func (r memReferences) has(set func(st *memoryState) map[uint64]struct{}, id uint64) (bool, error) {
	ok := false
	_ = r.s.do(func(st *memoryState) error {
		_, ok = set(st)[id]
		return nil
	})
	return ok, nil
}

func (r memReferences) PatientExists(_ context.Context, id uint64) (bool, error) {
	return r.has(func(st *memoryState) map[uint64]struct{} { return st.patients }, id)
}

func (r memReferences) DoctorExists(_ context.Context, id uint64) (bool, error) {
	return r.has(func(st *memoryState) map[uint64]struct{} { return st.doctors }, id)
}

func (r memReferences) DepartmentExists(_ context.Context, id uint64) (bool, error) {
	return r.has(func(st *memoryState) map[uint64]struct{} { return st.departments }, id)
}

func (r memReferences) CountPatients(_ context.Context) (int, error) {
	n := 0
	_ = r.s.do(func(st *memoryState) error {
		n = len(st.patients)
		return nil
	})
	return n, nil
}
