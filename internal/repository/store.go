package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/iliyamo/hospital-bed-manager/internal/model"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx so a repository can run
// either standalone or inside a unit of work.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// BedRepository persists the Bed Registry.
type BedRepository interface {
	Create(ctx context.Context, b *model.Bed) error
	GetByID(ctx context.Context, id uint64) (*model.Bed, error)
	// GetForUpdate loads a bed and, inside a unit of work, locks its row
	// until commit or rollback.
	GetForUpdate(ctx context.Context, id uint64) (*model.Bed, error)
	List(ctx context.Context, f model.BedFilter) ([]model.Bed, int, error)
	ListAvailable(ctx context.Context) ([]model.Bed, error)
	Update(ctx context.Context, b *model.Bed) error
	// SetStatus moves a bed from one status to another and fails with
	// ErrConflict when the bed is not currently in the from status.
	SetStatus(ctx context.Context, id uint64, from, to model.BedStatus) error
	Delete(ctx context.Context, id uint64) error
	CountByStatus(ctx context.Context) (model.BedCounts, error)
}

// OccupancyRepository persists the Occupancy Ledger.
type OccupancyRepository interface {
	Create(ctx context.Context, o *model.OccupancyRecord) error
	GetByID(ctx context.Context, id uint64) (*model.OccupancyRecord, error)
	GetForUpdate(ctx context.Context, id uint64) (*model.OccupancyRecord, error)
	// ActiveByBed returns the open episode on a bed or ErrOccupancyNotFound.
	ActiveByBed(ctx context.Context, bedID uint64) (*model.OccupancyRecord, error)
	// Close ends an active episode with the given terminal status and fails
	// with ErrOccupancyNotActive when the record is no longer active.
	Close(ctx context.Context, id uint64, status model.OccupancyStatus, at time.Time, notes *string) error
	CountByBed(ctx context.Context, bedID uint64) (int, error)
	List(ctx context.Context, f model.OccupancyFilter) ([]model.OccupancyRecord, int, error)
	CountActive(ctx context.Context) (int, error)
}

// ReferenceRepository answers existence questions about entities owned by
// other subsystems (patients, doctors, departments).
type ReferenceRepository interface {
	PatientExists(ctx context.Context, id uint64) (bool, error)
	DoctorExists(ctx context.Context, id uint64) (bool, error)
	DepartmentExists(ctx context.Context, id uint64) (bool, error)
	CountPatients(ctx context.Context) (int, error)
}

// Store bundles the repositories of this subsystem.  WithinTx runs fn
// against a transaction-scoped Store: the work commits when fn returns nil
// and rolls back on any error or panic.
type Store interface {
	Beds() BedRepository
	Occupancies() OccupancyRepository
	References() ReferenceRepository
	WithinTx(ctx context.Context, fn func(tx Store) error) error
}

// SQLStore is the MySQL-backed Store.
type SQLStore struct {
	db   *sql.DB
	conn DBTX
	inTx bool
}

// NewSQLStore returns a Store bound to db.
func NewSQLStore(db *sql.DB) *SQLStore { return &SQLStore{db: db, conn: db} }

// DB exposes the underlying handle for callers that need it (health checks).
func (s *SQLStore) DB() *sql.DB { return s.db }

func (s *SQLStore) Beds() BedRepository {
	return &BedRepo{db: s.conn, lock: s.inTx}
}

func (s *SQLStore) Occupancies() OccupancyRepository {
	return &OccupancyRepo{db: s.conn, lock: s.inTx}
}

func (s *SQLStore) References() ReferenceRepository {
	return &ReferenceRepo{db: s.conn}
}

// WithinTx begins a transaction and hands fn a Store whose repositories use
// it.  Nested calls join the outer transaction.
func (s *SQLStore) WithinTx(ctx context.Context, fn func(tx Store) error) (err error) {
	if s.inTx {
		return fn(s)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if err := fn(&SQLStore{db: s.db, conn: tx, inTx: true}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	committed = true
	return nil
}

// forUpdate appends the row-lock clause when running inside a transaction.
func forUpdate(q string, lock bool) string {
	if lock {
		return q + " FOR UPDATE"
	}
	return q
}
