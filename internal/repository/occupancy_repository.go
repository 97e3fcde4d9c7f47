package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/iliyamo/hospital-bed-manager/internal/model"
)

// OccupancyRepo provides access to occupancy_records.  All timestamp fields
// are stored in UTC.
type OccupancyRepo struct {
	db   DBTX
	lock bool
}

// NewOccupancyRepo returns an OccupancyRepo bound to the given handle.
func NewOccupancyRepo(db DBTX) *OccupancyRepo { return &OccupancyRepo{db: db} }

const occupancyColumns = `id, bed_id, patient_id, doctor_id, admission_date, expected_discharge_date,
	actual_discharge_date, admission_reason, diagnosis, priority, status, notes,
	transferred_from_id, created_at, updated_at`

func scanOccupancy(row rowScanner) (*model.OccupancyRecord, error) {
	var (
		o            model.OccupancyRecord
		doctorID     sql.NullInt64
		expected     sql.NullTime
		actual       sql.NullTime
		diagnosis    sql.NullString
		notes        sql.NullString
		transferFrom sql.NullInt64
	)
	if err := row.Scan(
		&o.ID, &o.BedID, &o.PatientID, &doctorID, &o.AdmissionDate, &expected,
		&actual, &o.AdmissionReason, &diagnosis, &o.Priority, &o.Status, &notes,
		&transferFrom, &o.CreatedAt, &o.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if doctorID.Valid {
		id := uint64(doctorID.Int64)
		o.DoctorID = &id
	}
	if expected.Valid {
		t := expected.Time.UTC()
		o.ExpectedDischargeDate = &t
	}
	if actual.Valid {
		t := actual.Time.UTC()
		o.ActualDischargeDate = &t
	}
	if diagnosis.Valid {
		o.Diagnosis = &diagnosis.String
	}
	if notes.Valid {
		o.Notes = &notes.String
	}
	if transferFrom.Valid {
		id := uint64(transferFrom.Int64)
		o.TransferredFromID = &id
	}
	o.AdmissionDate = o.AdmissionDate.UTC()
	return &o, nil
}

// Create inserts a new occupancy record and reloads it to populate the
// generated ID and defaults.  A second active record on the same bed is
// rejected by the active_bed_id unique index and reported as
// ErrBedNoLongerAvailable.
func (r *OccupancyRepo) Create(ctx context.Context, o *model.OccupancyRecord) error {
	const q = `INSERT INTO occupancy_records
	           (bed_id, patient_id, doctor_id, admission_date, expected_discharge_date,
	            admission_reason, diagnosis, priority, status, notes, transferred_from_id)
	           VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, q,
		o.BedID, o.PatientID, o.DoctorID, o.AdmissionDate.UTC(), o.ExpectedDischargeDate,
		o.AdmissionReason, o.Diagnosis, o.Priority, o.Status, o.Notes, o.TransferredFromID)
	if err != nil {
		switch {
		case IsDuplicate(err):
			return ErrBedNoLongerAvailable
		case IsMissingReference(err):
			return ErrNotFound
		}
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	created, err := r.GetByID(ctx, uint64(id))
	if err != nil {
		return err
	}
	*o = *created
	return nil
}

// GetByID returns a single occupancy record.
func (r *OccupancyRepo) GetByID(ctx context.Context, id uint64) (*model.OccupancyRecord, error) {
	return r.get(ctx, `SELECT `+occupancyColumns+` FROM occupancy_records WHERE id = ?`, false, id)
}

// GetForUpdate returns a record and locks it when running in a transaction.
func (r *OccupancyRepo) GetForUpdate(ctx context.Context, id uint64) (*model.OccupancyRecord, error) {
	return r.get(ctx, `SELECT `+occupancyColumns+` FROM occupancy_records WHERE id = ?`, r.lock, id)
}

// ActiveByBed returns the active record on bedID.
func (r *OccupancyRepo) ActiveByBed(ctx context.Context, bedID uint64) (*model.OccupancyRecord, error) {
	return r.get(ctx, `SELECT `+occupancyColumns+` FROM occupancy_records
	                    WHERE bed_id = ? AND status = 'active' LIMIT 1`, r.lock, bedID)
}

func (r *OccupancyRepo) get(ctx context.Context, q string, lock bool, arg any) (*model.OccupancyRecord, error) {
	o, err := scanOccupancy(r.db.QueryRowContext(ctx, forUpdate(q, lock), arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrOccupancyNotFound
		}
		return nil, err
	}
	return o, nil
}

// Close ends an active record.  The update is conditional on the record
// still being active, so a second discharge of the same record fails with
// ErrOccupancyNotActive.
func (r *OccupancyRepo) Close(ctx context.Context, id uint64, status model.OccupancyStatus, at time.Time, notes *string) error {
	const q = `UPDATE occupancy_records
	           SET status = ?, actual_discharge_date = ?, notes = ?, updated_at = CURRENT_TIMESTAMP
	           WHERE id = ? AND status = 'active'`
	res, err := r.db.ExecContext(ctx, q, status, at.UTC(), notes, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
		return ErrOccupancyNotActive
	}
	return nil
}

// CountByBed returns the number of records, of any status, referencing bedID.
func (r *OccupancyRepo) CountByBed(ctx context.Context, bedID uint64) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM occupancy_records WHERE bed_id = ?`, bedID).Scan(&n)
	return n, err
}

// List returns one page of records matching f, newest admission first,
// together with the total number of matches.
func (r *OccupancyRepo) List(ctx context.Context, f model.OccupancyFilter) ([]model.OccupancyRecord, int, error) {
	f.Normalize()
	var (
		where []string
		args  []any
	)
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}
	if f.BedID != 0 {
		where = append(where, "bed_id = ?")
		args = append(args, f.BedID)
	}
	if f.PatientID != 0 {
		where = append(where, "patient_id = ?")
		args = append(args, f.PatientID)
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM occupancy_records"+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []model.OccupancyRecord{}, 0, nil
	}

	q := "SELECT " + occupancyColumns + " FROM occupancy_records" + clause +
		" ORDER BY admission_date DESC, id DESC LIMIT ? OFFSET ?"
	pageArgs := append(append([]any{}, args...), f.PageSize, (f.Page-1)*f.PageSize)
	rows, err := r.db.QueryContext(ctx, q, pageArgs...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	result := make([]model.OccupancyRecord, 0, f.PageSize)
	for rows.Next() {
		o, err := scanOccupancy(rows)
		if err != nil {
			return nil, 0, err
		}
		result = append(result, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return result, total, nil
}

// CountActive returns the number of open admissions.
func (r *OccupancyRepo) CountActive(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM occupancy_records WHERE status = 'active'`).Scan(&n)
	return n, err
}
