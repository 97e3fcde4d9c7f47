package service

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/iliyamo/hospital-bed-manager/internal/model"
	"github.com/iliyamo/hospital-bed-manager/internal/queue"
	"github.com/iliyamo/hospital-bed-manager/internal/repository"
)

const (
	maxReasonLen = 500
	maxNotesLen  = 4000
)

// OccupancyService runs the admission lifecycle: allocation, discharge and
// transfer, plus read access to the occupancy ledger.
type OccupancyService struct {
	store repository.Store
	hooks
}

// NewOccupancyService builds an OccupancyService on store.
func NewOccupancyService(store repository.Store, opts ...Option) *OccupancyService {
	return &OccupancyService{store: store, hooks: newHooks(opts)}
}

// Allocate binds a patient to an available bed.  The bed's availability is
// checked once up front and again under the row lock inside the unit of
// work; losing a race to a concurrent allocation yields
// ErrBedNoLongerAvailable and writes nothing.
func (s *OccupancyService) Allocate(ctx context.Context, actor model.Actor, req model.AllocationRequest) (*model.OccupancyRecord, error) {
	if err := authorize(actor); err != nil {
		return nil, err
	}
	rec, err := s.validateAllocation(req)
	if err != nil {
		return nil, err
	}

	bed, err := s.store.Beds().GetByID(ctx, req.BedID)
	if err != nil {
		return nil, err
	}
	if !bed.Allocatable() {
		return nil, repository.ErrBedNotAvailable
	}

	err = s.store.WithinTx(ctx, func(tx repository.Store) error {
		locked, err := tx.Beds().GetForUpdate(ctx, req.BedID)
		if err != nil {
			return err
		}
		if !locked.Allocatable() {
			return repository.ErrBedNoLongerAvailable
		}
		bed = locked
		if err := requireParticipants(ctx, tx, rec.PatientID, rec.DoctorID); err != nil {
			return err
		}
		if err := tx.Occupancies().Create(ctx, rec); err != nil {
			return err
		}
		return occupy(ctx, tx, req.BedID)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Uint64("occupancy_id", rec.ID).Uint64("bed_id", rec.BedID).
		Uint64("patient_id", rec.PatientID).Str("priority", string(rec.Priority)).Msg("bed allocated")
	ev := queue.NewOccupancyEvent(queue.EventBedAllocated)
	ev.OccupancyID, ev.BedID, ev.BedLabel = rec.ID, rec.BedID, bed.Label()
	ev.PatientID, ev.DoctorID, ev.ActorID = rec.PatientID, rec.DoctorID, actor.UserID
	s.committed(ctx, &ev)
	return rec, nil
}

func (s *OccupancyService) validateAllocation(req model.AllocationRequest) (*model.OccupancyRecord, error) {
	if req.BedID == 0 {
		return nil, repository.Invalid("bed_id", "is required")
	}
	if req.PatientID == 0 {
		return nil, repository.Invalid("patient_id", "is required")
	}
	if req.DoctorID != nil && *req.DoctorID == 0 {
		return nil, repository.Invalid("doctor_id", "must be a positive id")
	}
	reason := strings.TrimSpace(req.AdmissionReason)
	if reason == "" {
		return nil, repository.Invalid("admission_reason", "is required")
	}
	if utf8.RuneCountInString(reason) > maxReasonLen {
		return nil, repository.Invalid("admission_reason", "is too long")
	}
	priority, ok := model.ParsePriority(req.Priority)
	if !ok {
		return nil, repository.Invalid("priority", "must be low, normal, high or urgent")
	}
	now := s.clock()
	if req.ExpectedDischargeDate != nil && req.ExpectedDischargeDate.Before(now) {
		return nil, repository.Invalid("expected_discharge_date", "must not be in the past")
	}
	diagnosis, err := optionalText("diagnosis", req.Diagnosis, maxReasonLen)
	if err != nil {
		return nil, err
	}
	notes, err := optionalText("notes", req.Notes, maxNotesLen)
	if err != nil {
		return nil, err
	}
	rec := &model.OccupancyRecord{
		BedID:           req.BedID,
		PatientID:       req.PatientID,
		DoctorID:        req.DoctorID,
		AdmissionDate:   now,
		AdmissionReason: reason,
		Diagnosis:       diagnosis,
		Priority:        priority,
		Status:          model.OccupancyActive,
		Notes:           notes,
	}
	if req.ExpectedDischargeDate != nil {
		t := req.ExpectedDischargeDate.UTC()
		rec.ExpectedDischargeDate = &t
	}
	return rec, nil
}

// Discharge closes an active admission and frees its bed.  It is not
// idempotent: discharging a record that is no longer active fails with
// ErrOccupancyNotActive.
func (s *OccupancyService) Discharge(ctx context.Context, actor model.Actor, id uint64, notes string) (*model.OccupancyRecord, error) {
	if err := authorize(actor); err != nil {
		return nil, err
	}
	if utf8.RuneCountInString(notes) > maxNotesLen {
		return nil, repository.Invalid("notes", "is too long")
	}

	var (
		closed *model.OccupancyRecord
		bed    *model.Bed
	)
	err := s.store.WithinTx(ctx, func(tx repository.Store) error {
		rec, err := tx.Occupancies().GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !rec.Active() {
			return repository.ErrOccupancyNotActive
		}
		if bed, err = tx.Beds().GetForUpdate(ctx, rec.BedID); err != nil {
			return err
		}
		if err := tx.Occupancies().Close(ctx, rec.ID, model.OccupancyDischarged, s.clock(), model.AppendNote(rec.Notes, notes)); err != nil {
			return err
		}
		if err := release(ctx, tx, rec.BedID); err != nil {
			return err
		}
		closed, err = tx.Occupancies().GetByID(ctx, rec.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Uint64("occupancy_id", closed.ID).Uint64("bed_id", closed.BedID).
		Uint64("patient_id", closed.PatientID).Msg("patient discharged")
	ev := queue.NewOccupancyEvent(queue.EventPatientDischarged)
	ev.OccupancyID, ev.BedID, ev.BedLabel = closed.ID, closed.BedID, bed.Label()
	ev.PatientID, ev.DoctorID, ev.ActorID = closed.PatientID, closed.DoctorID, actor.UserID
	s.committed(ctx, &ev)
	return closed, nil
}

// Transfer moves the patient of an active admission to another bed.  The
// four writes (close source record, free source bed, open destination
// record, occupy destination bed) commit together or not at all.  Both
// beds are locked in ascending id order.
func (s *OccupancyService) Transfer(ctx context.Context, actor model.Actor, id, newBedID uint64, notes string) (*model.OccupancyRecord, error) {
	if err := authorize(actor); err != nil {
		return nil, err
	}
	if newBedID == 0 {
		return nil, repository.Invalid("new_bed_id", "is required")
	}
	if utf8.RuneCountInString(notes) > maxNotesLen {
		return nil, repository.Invalid("notes", "is too long")
	}

	var (
		src, dst       *model.OccupancyRecord
		srcBed, dstBed *model.Bed
	)
	err := s.store.WithinTx(ctx, func(tx repository.Store) error {
		var err error
		if src, err = tx.Occupancies().GetForUpdate(ctx, id); err != nil {
			return err
		}
		if !src.Active() {
			return repository.ErrOccupancyNotActive
		}
		if src.BedID == newBedID {
			return repository.Invalid("new_bed_id", "patient already occupies this bed")
		}
		if srcBed, dstBed, err = lockPair(ctx, tx, src.BedID, newBedID); err != nil {
			return err
		}
		if !dstBed.Allocatable() {
			return repository.ErrBedNotAvailable
		}

		now := s.clock()
		if err := tx.Occupancies().Close(ctx, src.ID, model.OccupancyTransferred, now, model.AppendNote(src.Notes, notes)); err != nil {
			return err
		}
		if err := release(ctx, tx, src.BedID); err != nil {
			return err
		}
		dst = &model.OccupancyRecord{
			BedID:                 newBedID,
			PatientID:             src.PatientID,
			DoctorID:              src.DoctorID,
			AdmissionDate:         now,
			ExpectedDischargeDate: src.ExpectedDischargeDate,
			AdmissionReason:       src.AdmissionReason,
			Diagnosis:             src.Diagnosis,
			Priority:              src.Priority,
			Status:                model.OccupancyActive,
			TransferredFromID:     &src.ID,
		}
		if err := tx.Occupancies().Create(ctx, dst); err != nil {
			return err
		}
		return occupy(ctx, tx, newBedID)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Uint64("occupancy_id", dst.ID).Uint64("from_occupancy_id", src.ID).
		Uint64("from_bed_id", src.BedID).Uint64("bed_id", dst.BedID).
		Uint64("patient_id", dst.PatientID).Msg("patient transferred")
	ev := queue.NewOccupancyEvent(queue.EventPatientTransferred)
	ev.OccupancyID, ev.BedID, ev.BedLabel = dst.ID, dst.BedID, dstBed.Label()
	ev.PatientID, ev.DoctorID, ev.ActorID = dst.PatientID, dst.DoctorID, actor.UserID
	ev.PreviousOccupancyID, ev.PreviousBedID = &src.ID, &srcBed.ID
	s.committed(ctx, &ev)
	return dst, nil
}

// GetOccupancy returns one occupancy record.
func (s *OccupancyService) GetOccupancy(ctx context.Context, actor model.Actor, id uint64) (*model.OccupancyRecord, error) {
	if err := authorize(actor); err != nil {
		return nil, err
	}
	return s.store.Occupancies().GetByID(ctx, id)
}

// ListOccupancies returns one page of the ledger, newest admission first.
func (s *OccupancyService) ListOccupancies(ctx context.Context, actor model.Actor, f model.OccupancyFilter) ([]model.OccupancyRecord, int, error) {
	if err := authorize(actor); err != nil {
		return nil, 0, err
	}
	f.Normalize()
	return s.store.Occupancies().List(ctx, f)
}

// PatientHistory returns the admission episodes of one patient.
func (s *OccupancyService) PatientHistory(ctx context.Context, actor model.Actor, patientID uint64, page, pageSize int) ([]model.OccupancyRecord, int, error) {
	if err := authorize(actor); err != nil {
		return nil, 0, err
	}
	ok, err := s.store.References().PatientExists(ctx, patientID)
	if err != nil {
		return nil, 0, err
	}
	if !ok {
		return nil, 0, repository.ErrPatientNotFound
	}
	f := model.OccupancyFilter{PatientID: patientID, Page: page, PageSize: pageSize}
	f.Normalize()
	return s.store.Occupancies().List(ctx, f)
}

func requireParticipants(ctx context.Context, tx repository.Store, patientID uint64, doctorID *uint64) error {
	ok, err := tx.References().PatientExists(ctx, patientID)
	if err != nil {
		return err
	}
	if !ok {
		return repository.ErrPatientNotFound
	}
	if doctorID == nil {
		return nil
	}
	if ok, err = tx.References().DoctorExists(ctx, *doctorID); err != nil {
		return err
	}
	if !ok {
		return repository.ErrDoctorNotFound
	}
	return nil
}

// lockPair locks two beds in ascending id order and returns them in
// argument order.
func lockPair(ctx context.Context, tx repository.Store, a, b uint64) (*model.Bed, *model.Bed, error) {
	first, second := a, b
	if second < first {
		first, second = second, first
	}
	lo, err := tx.Beds().GetForUpdate(ctx, first)
	if err != nil {
		return nil, nil, err
	}
	hi, err := tx.Beds().GetForUpdate(ctx, second)
	if err != nil {
		return nil, nil, err
	}
	if lo.ID == a {
		return lo, hi, nil
	}
	return hi, lo, nil
}

func occupy(ctx context.Context, tx repository.Store, bedID uint64) error {
	err := tx.Beds().SetStatus(ctx, bedID, model.BedAvailable, model.BedOccupied)
	if errors.Is(err, repository.ErrBedNotAvailable) {
		return repository.ErrBedNoLongerAvailable
	}
	return err
}

func release(ctx context.Context, tx repository.Store, bedID uint64) error {
	return tx.Beds().SetStatus(ctx, bedID, model.BedOccupied, model.BedAvailable)
}
