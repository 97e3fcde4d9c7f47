package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/iliyamo/hospital-bed-manager/internal/model"
)

// BedRepo provides methods to work with beds in the database.
type BedRepo struct {
	db   DBTX
	lock bool
}

// NewBedRepo constructs a BedRepo with the given DB handle.
func NewBedRepo(db DBTX) *BedRepo { return &BedRepo{db: db} }

const bedColumns = `id, room_number, bed_number, department_id, ward, floor, type, status,
	description, equipment, is_active, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBed(row rowScanner) (*model.Bed, error) {
	var (
		b     model.Bed
		dept  sql.NullInt64
		ward  sql.NullString
		floor sql.NullInt32
		desc  sql.NullString
	)
	if err := row.Scan(
		&b.ID, &b.RoomNumber, &b.BedNumber, &dept, &ward, &floor, &b.Type, &b.Status,
		&desc, &b.Equipment, &b.IsActive, &b.CreatedAt, &b.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if dept.Valid {
		id := uint64(dept.Int64)
		b.DepartmentID = &id
	}
	if ward.Valid {
		b.Ward = &ward.String
	}
	if floor.Valid {
		f := int(floor.Int32)
		b.Floor = &f
	}
	if desc.Valid {
		b.Description = &desc.String
	}
	if b.Equipment == nil {
		b.Equipment = model.Equipment{}
	}
	return &b, nil
}

// Create inserts a bed.  On success the bed's ID and timestamps are populated.
func (r *BedRepo) Create(ctx context.Context, b *model.Bed) error {
	const q = `INSERT INTO beds (room_number, bed_number, department_id, ward, floor, type, status,
	           description, equipment, is_active)
	           VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, q,
		b.RoomNumber, b.BedNumber, b.DepartmentID, b.Ward, b.Floor, b.Type, b.Status,
		b.Description, b.Equipment, b.IsActive)
	if err != nil {
		switch {
		case IsDuplicate(err):
			return ErrDuplicateBed
		case IsMissingReference(err):
			return ErrDepartmentNotFound
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
	*b = *created
	return nil
}

// GetByID retrieves a bed by its id.
func (r *BedRepo) GetByID(ctx context.Context, id uint64) (*model.Bed, error) {
	return r.get(ctx, id, false)
}

// GetForUpdate retrieves a bed and locks its row when running inside a
// transaction.
func (r *BedRepo) GetForUpdate(ctx context.Context, id uint64) (*model.Bed, error) {
	return r.get(ctx, id, r.lock)
}

func (r *BedRepo) get(ctx context.Context, id uint64, lock bool) (*model.Bed, error) {
	q := forUpdate(`SELECT `+bedColumns+` FROM beds WHERE id = ?`, lock)
	b, err := scanBed(r.db.QueryRowContext(ctx, q, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrBedNotFound
		}
		return nil, err
	}
	return b, nil
}

// List returns one page of beds matching f along with the total number of
// matches.  Beds are ordered by room then bed number.
func (r *BedRepo) List(ctx context.Context, f model.BedFilter) ([]model.Bed, int, error) {
	f.Normalize()
	var (
		where []string
		args  []any
	)
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}
	if f.Type != "" {
		where = append(where, "type = ?")
		args = append(args, f.Type)
	}
	if s := strings.TrimSpace(f.Ward); s != "" {
		where = append(where, "ward = ?")
		args = append(args, s)
	}
	if f.Floor != nil {
		where = append(where, "floor = ?")
		args = append(args, *f.Floor)
	}
	if f.DepartmentID != 0 {
		where = append(where, "department_id = ?")
		args = append(args, f.DepartmentID)
	}
	if f.Active != nil {
		where = append(where, "is_active = ?")
		args = append(args, *f.Active)
	}
	if s := strings.TrimSpace(f.Search); s != "" {
		like := "%" + s + "%"
		where = append(where, "(room_number LIKE ? OR bed_number LIKE ? OR ward LIKE ?)")
		args = append(args, like, like, like)
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM beds"+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []model.Bed{}, 0, nil
	}

	q := "SELECT " + bedColumns + " FROM beds" + clause + " ORDER BY room_number, bed_number LIMIT ? OFFSET ?"
	pageArgs := append(append([]any{}, args...), f.PageSize, (f.Page-1)*f.PageSize)
	beds, err := r.query(ctx, q, pageArgs...)
	if err != nil {
		return nil, 0, err
	}
	return beds, total, nil
}

// ListAvailable returns every active bed whose status is available.
func (r *BedRepo) ListAvailable(ctx context.Context) ([]model.Bed, error) {
	const q = `SELECT ` + bedColumns + ` FROM beds
	           WHERE status = 'available' AND is_active = TRUE
	           ORDER BY room_number, bed_number`
	return r.query(ctx, q)
}

func (r *BedRepo) query(ctx context.Context, q string, args ...any) ([]model.Bed, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]model.Bed, 0)
	for rows.Next() {
		b, err := scanBed(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Update writes every mutable column of b.
func (r *BedRepo) Update(ctx context.Context, b *model.Bed) error {
	const q = `UPDATE beds
	           SET room_number = ?, bed_number = ?, department_id = ?, ward = ?, floor = ?,
	               type = ?, status = ?, description = ?, equipment = ?, is_active = ?,
	               updated_at = CURRENT_TIMESTAMP
	           WHERE id = ?`
	res, err := r.db.ExecContext(ctx, q,
		b.RoomNumber, b.BedNumber, b.DepartmentID, b.Ward, b.Floor,
		b.Type, b.Status, b.Description, b.Equipment, b.IsActive, b.ID)
	if err != nil {
		switch {
		case IsDuplicate(err):
			return ErrDuplicateBed
		case IsMissingReference(err):
			return ErrDepartmentNotFound
		}
		return err
	}
	// MySQL reports 0 affected rows when nothing changed, so confirm existence.
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := r.GetByID(ctx, b.ID); err != nil {
			return err
		}
	}
	return nil
}

// SetStatus performs a conditional status transition.  It returns
// ErrBedNotFound when the bed does not exist and ErrBedNotAvailable when the
// bed is not in the expected from status.
func (r *BedRepo) SetStatus(ctx context.Context, id uint64, from, to model.BedStatus) error {
	const q = `UPDATE beds SET status = ?, updated_at = CURRENT_TIMESTAMP
	           WHERE id = ? AND status = ?`
	res, err := r.db.ExecContext(ctx, q, to, id, from)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
		return ErrBedNotAvailable
	}
	return nil
}

// Delete removes a bed.  A bed still referenced by occupancy history yields
// ErrBedHasHistory.
func (r *BedRepo) Delete(ctx context.Context, id uint64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM beds WHERE id = ?`, id)
	if err != nil {
		if IsReferenced(err) {
			return ErrBedHasHistory
		}
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrBedNotFound
	}
	return nil
}

// CountByStatus returns the number of beds per status.  Every bed counts
// towards Total regardless of is_active.
func (r *BedRepo) CountByStatus(ctx context.Context) (model.BedCounts, error) {
	const q = `SELECT status, COUNT(*) FROM beds GROUP BY status`
	var c model.BedCounts
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return c, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			status model.BedStatus
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return c, err
		}
		c.Total += n
		switch status {
		case model.BedAvailable:
			c.Available = n
		case model.BedOccupied:
			c.Occupied = n
		case model.BedMaintenance:
			c.Maintenance = n
		case model.BedReserved:
			c.Reserved = n
		}
	}
	return c, rows.Err()
}
