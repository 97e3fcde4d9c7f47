package repository

import (
	"context"
)

// ReferenceRepo reads the patients, doctors and departments tables, which are
// maintained by other parts of the hospital system.
type ReferenceRepo struct {
	db DBTX
}

// NewReferenceRepo constructs a ReferenceRepo.
func NewReferenceRepo(db DBTX) *ReferenceRepo { return &ReferenceRepo{db: db} }

func (r *ReferenceRepo) exists(ctx context.Context, q string, id uint64) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, q, id).Scan(&exists)
	return exists, err
}

// PatientExists reports whether a patient row with id exists.
func (r *ReferenceRepo) PatientExists(ctx context.Context, id uint64) (bool, error) {
	return r.exists(ctx, `SELECT EXISTS(SELECT 1 FROM patients WHERE id = ?)`, id)
}

// DoctorExists reports whether a doctor row with id exists.
func (r *ReferenceRepo) DoctorExists(ctx context.Context, id uint64) (bool, error) {
	return r.exists(ctx, `SELECT EXISTS(SELECT 1 FROM doctors WHERE id = ?)`, id)
}

// DepartmentExists reports whether a department row with id exists.
func (r *ReferenceRepo) DepartmentExists(ctx context.Context, id uint64) (bool, error) {
	return r.exists(ctx, `SELECT EXISTS(SELECT 1 FROM departments WHERE id = ?)`, id)
}

// CountPatients returns the number of registered patients.
func (r *ReferenceRepo) CountPatients(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM patients`).Scan(&n)
	return n, err
}
