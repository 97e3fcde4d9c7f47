package service

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/iliyamo/hospital-bed-manager/internal/model"
	"github.com/iliyamo/hospital-bed-manager/internal/repository"
)

const (
	maxRoomNumberLen  = 20
	maxBedNumberLen   = 10
	maxWardLen        = 100
	maxDescriptionLen = 1000
)

// BedRegistry manages the set of physical beds.
type BedRegistry struct {
	store repository.Store
	hooks
}

// NewBedRegistry builds a BedRegistry on store.
func NewBedRegistry(store repository.Store, opts ...Option) *BedRegistry {
	return &BedRegistry{store: store, hooks: newHooks(opts)}
}

// ListAvailableBeds returns active beds whose status is available.
func (r *BedRegistry) ListAvailableBeds(ctx context.Context, actor model.Actor) ([]model.Bed, error) {
	if err := authorize(actor); err != nil {
		return nil, err
	}
	return r.store.Beds().ListAvailable(ctx)
}

// ListBeds returns one page of beds matching f and the total match count.
func (r *BedRegistry) ListBeds(ctx context.Context, actor model.Actor, f model.BedFilter) ([]model.Bed, int, error) {
	if err := authorize(actor); err != nil {
		return nil, 0, err
	}
	f.Normalize()
	return r.store.Beds().List(ctx, f)
}

// GetBed returns a single bed.
func (r *BedRegistry) GetBed(ctx context.Context, actor model.Actor, id uint64) (*model.Bed, error) {
	if err := authorize(actor); err != nil {
		return nil, err
	}
	return r.store.Beds().GetByID(ctx, id)
}

// CreateBed validates in and registers a new bed.  Type and status default
// to general and available; a new bed can never start out occupied.
func (r *BedRegistry) CreateBed(ctx context.Context, actor model.Actor, in model.NewBed) (*model.Bed, error) {
	if err := authorize(actor); err != nil {
		return nil, err
	}
	b, err := validateNewBed(in)
	if err != nil {
		return nil, err
	}
	if b.DepartmentID != nil {
		if err := r.requireDepartment(ctx, r.store, *b.DepartmentID); err != nil {
			return nil, err
		}
	}
	if err := r.store.Beds().Create(ctx, b); err != nil {
		return nil, err
	}
	r.logger.Info().Uint64("bed_id", b.ID).Str("bed", b.Label()).Msg("bed registered")
	r.committed(ctx, nil)
	return b, nil
}

func validateNewBed(in model.NewBed) (*model.Bed, error) {
	room, err := requiredText("room_number", in.RoomNumber, maxRoomNumberLen)
	if err != nil {
		return nil, err
	}
	bedNo, err := requiredText("bed_number", in.BedNumber, maxBedNumberLen)
	if err != nil {
		return nil, err
	}
	b := &model.Bed{
		RoomNumber:   room,
		BedNumber:    bedNo,
		DepartmentID: in.DepartmentID,
		Floor:        in.Floor,
		Type:         model.BedTypeGeneral,
		Status:       model.BedAvailable,
		Equipment:    model.NewEquipment(in.Equipment...),
		IsActive:     true,
	}
	if in.DepartmentID != nil && *in.DepartmentID == 0 {
		return nil, repository.Invalid("department_id", "must be a positive id")
	}
	if in.Type != "" {
		t, ok := model.ParseBedType(in.Type)
		if !ok {
			return nil, repository.Invalid("type", "unknown bed type "+in.Type)
		}
		b.Type = t
	}
	if in.Status != "" {
		s, ok := model.ParseBedStatus(in.Status)
		if !ok {
			return nil, repository.Invalid("status", "unknown bed status "+in.Status)
		}
		if s == model.BedOccupied {
			return nil, repository.Invalid("status", "occupied is set by allocation only")
		}
		b.Status = s
	}
	if b.Ward, err = optionalText("ward", in.Ward, maxWardLen); err != nil {
		return nil, err
	}
	if b.Description, err = optionalText("description", in.Description, maxDescriptionLen); err != nil {
		return nil, err
	}
	if in.IsActive != nil {
		b.IsActive = *in.IsActive
	}
	return b, nil
}

// UpdateBed applies a partial update.  Absent fields are left untouched and
// explicit nulls clear optional columns.  Room number, bed number, type,
// status and the active flag cannot be cleared.  While a bed is occupied its
// status and active flag are frozen; they change through discharge or
// transfer.
func (r *BedRegistry) UpdateBed(ctx context.Context, actor model.Actor, id uint64, p model.BedPatch) (*model.Bed, error) {
	if err := authorize(actor); err != nil {
		return nil, err
	}
	if p.Empty() {
		return nil, repository.Invalid("", "no fields to update")
	}
	if err := normalizePatch(&p); err != nil {
		return nil, err
	}

	var updated *model.Bed
	err := r.store.WithinTx(ctx, func(tx repository.Store) error {
		cur, err := tx.Beds().GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if cur.Status == model.BedOccupied {
			if p.Status.Set && p.Status.Value != model.BedOccupied {
				return repository.ErrBedOccupied
			}
			if p.IsActive.Set && !p.IsActive.Value {
				return repository.ErrBedOccupied
			}
		} else if p.Status.Set && p.Status.Value == model.BedOccupied {
			return repository.Invalid("status", "occupied is set by allocation only")
		}
		if p.DepartmentID.Set && !p.DepartmentID.Null {
			if err := r.requireDepartment(ctx, tx, p.DepartmentID.Value); err != nil {
				return err
			}
		}
		next := p.Apply(*cur)
		if err := tx.Beds().Update(ctx, &next); err != nil {
			return err
		}
		updated, err = tx.Beds().GetByID(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	r.logger.Info().Uint64("bed_id", id).Str("status", string(updated.Status)).Msg("bed updated")
	r.committed(ctx, nil)
	return updated, nil
}

func normalizePatch(p *model.BedPatch) error {
	if p.RoomNumber.Set {
		if p.RoomNumber.Null {
			return repository.Invalid("room_number", "is required")
		}
		v, err := requiredText("room_number", p.RoomNumber.Value, maxRoomNumberLen)
		if err != nil {
			return err
		}
		p.RoomNumber.Value = v
	}
	if p.BedNumber.Set {
		if p.BedNumber.Null {
			return repository.Invalid("bed_number", "is required")
		}
		v, err := requiredText("bed_number", p.BedNumber.Value, maxBedNumberLen)
		if err != nil {
			return err
		}
		p.BedNumber.Value = v
	}
	if p.Type.Set {
		t, ok := model.ParseBedType(string(p.Type.Value))
		if p.Type.Null || !ok {
			return repository.Invalid("type", "must be one of the known bed types")
		}
		p.Type.Value = t
	}
	if p.Status.Set {
		s, ok := model.ParseBedStatus(string(p.Status.Value))
		if p.Status.Null || !ok {
			return repository.Invalid("status", "must be one of the known bed statuses")
		}
		p.Status.Value = s
	}
	if p.IsActive.Set && p.IsActive.Null {
		return repository.Invalid("is_active", "cannot be null")
	}
	if p.DepartmentID.Set && !p.DepartmentID.Null && p.DepartmentID.Value == 0 {
		return repository.Invalid("department_id", "must be a positive id")
	}
	if p.Ward.Set && !p.Ward.Null {
		v, err := optionalText("ward", &p.Ward.Value, maxWardLen)
		if err != nil {
			return err
		}
		if v == nil {
			p.Ward = model.Null[string]()
		} else {
			p.Ward.Value = *v
		}
	}
	if p.Description.Set && !p.Description.Null {
		if utf8.RuneCountInString(p.Description.Value) > maxDescriptionLen {
			return repository.Invalid("description", "is too long")
		}
	}
	return nil
}

// DeleteBed removes a bed that has never been used.  A bed with an active
// admission, or with closed admissions kept as clinical history, cannot be
// deleted; deactivate it instead.
func (r *BedRegistry) DeleteBed(ctx context.Context, actor model.Actor, id uint64) error {
	if err := authorize(actor); err != nil {
		return err
	}
	err := r.store.WithinTx(ctx, func(tx repository.Store) error {
		if _, err := tx.Beds().GetForUpdate(ctx, id); err != nil {
			return err
		}
		_, err := tx.Occupancies().ActiveByBed(ctx, id)
		switch {
		case err == nil:
			return repository.ErrBedOccupied
		case !errors.Is(err, repository.ErrOccupancyNotFound):
			return err
		}
		n, err := tx.Occupancies().CountByBed(ctx, id)
		if err != nil {
			return err
		}
		if n > 0 {
			return repository.ErrBedHasHistory
		}
		return tx.Beds().Delete(ctx, id)
	})
	if err != nil {
		return err
	}
	r.logger.Info().Uint64("bed_id", id).Msg("bed deleted")
	r.committed(ctx, nil)
	return nil
}

func (r *BedRegistry) requireDepartment(ctx context.Context, s repository.Store, id uint64) error {
	ok, err := s.References().DepartmentExists(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return repository.ErrDepartmentNotFound
	}
	return nil
}

func requiredText(field, raw string, limit int) (string, error) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return "", repository.Invalid(field, "is required")
	}
	if utf8.RuneCountInString(v) > limit {
		return "", repository.Invalid(field, "is too long")
	}
	return v, nil
}

// optionalText trims raw; blank input becomes nil.
func optionalText(field string, raw *string, limit int) (*string, error) {
	if raw == nil {
		return nil, nil
	}
	v := strings.TrimSpace(*raw)
	if v == "" {
		return nil, nil
	}
	if utf8.RuneCountInString(v) > limit {
		return nil, repository.Invalid(field, "is too long")
	}
	return &v, nil
}
