// Package repository defines error types that are reused across multiple
// repositories and the services built on them. The four kind sentinels
// (ErrValidation, ErrNotFound, ErrConflict, ErrForbidden) allow higher
// layers such as handlers to map a failure to a response without knowing
// which entity produced it; the specific sentinels below wrap a kind so
// errors.Is matches both.
package repository

import (
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
)

// ErrValidation is the kind of malformed or missing input.
var ErrValidation = errors.New("validation failed")

// ErrNotFound is the kind of a referenced row that does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when an operation cannot proceed because of
// conflicting state, such as allocating a bed that was just taken or
// discharging an episode twice. Handlers should translate this into an
// HTTP 409 response.
var ErrConflict = errors.New("conflict")

// ErrForbidden is returned when the caller lacks the privilege for an
// operation. Handlers should translate this into an HTTP 403 response.
var ErrForbidden = errors.New("forbidden")

var (
	ErrBedNotFound        = fmt.Errorf("bed %w", ErrNotFound)
	ErrOccupancyNotFound  = fmt.Errorf("occupancy record %w", ErrNotFound)
	ErrPatientNotFound    = fmt.Errorf("patient %w", ErrNotFound)
	ErrDoctorNotFound     = fmt.Errorf("doctor %w", ErrNotFound)
	ErrDepartmentNotFound = fmt.Errorf("department %w", ErrNotFound)

	ErrBedNotAvailable      = fmt.Errorf("%w: bed is not available", ErrConflict)
	ErrBedNoLongerAvailable = fmt.Errorf("%w: bed no longer available, please pick another", ErrConflict)
	ErrOccupancyNotActive   = fmt.Errorf("%w: occupancy record is not active", ErrConflict)
	ErrBedOccupied          = fmt.Errorf("%w: bed has an active occupancy", ErrConflict)
	ErrBedHasHistory        = fmt.Errorf("%w: bed has occupancy history, deactivate it instead", ErrConflict)
	ErrDuplicateBed         = fmt.Errorf("%w: room and bed number already registered", ErrConflict)

	ErrNotAdmin = fmt.Errorf("%w: administrative privilege required", ErrForbidden)
)

// ValidationError reports a single offending input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

// Is makes every ValidationError match ErrValidation.
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// Invalid builds a ValidationError for field.
func Invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// MySQL server error numbers the repositories translate.
const (
	mysqlDuplicateEntry   = 1062
	mysqlRowIsReferenced  = 1451
	mysqlNoReferencedRow  = 1452
	mysqlRowIsReferenced2 = 1217
	mysqlNoReferencedRow2 = 1216
)

func mysqlCode(err error) uint16 {
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		return me.Number
	}
	return 0
}

// IsDuplicate reports a unique-key violation.
func IsDuplicate(err error) bool { return mysqlCode(err) == mysqlDuplicateEntry }

// IsReferenced reports a delete blocked by a foreign key.
func IsReferenced(err error) bool {
	c := mysqlCode(err)
	return c == mysqlRowIsReferenced || c == mysqlRowIsReferenced2
}

// IsMissingReference reports an insert/update pointing at a missing parent row.
func IsMissingReference(err error) bool {
	c := mysqlCode(err)
	return c == mysqlNoReferencedRow || c == mysqlNoReferencedRow2
}
