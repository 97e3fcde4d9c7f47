package model

import (
	"strings"
	"time"
)

// OccupancyStatus is the lifecycle state of an admission episode.
type OccupancyStatus string

const (
	OccupancyActive      OccupancyStatus = "active"
	OccupancyDischarged  OccupancyStatus = "discharged"
	OccupancyTransferred OccupancyStatus = "transferred"
)

// ParseOccupancyStatus normalizes raw input and reports whether it is known.
func ParseOccupancyStatus(raw string) (OccupancyStatus, bool) {
	s := OccupancyStatus(strings.ToLower(strings.TrimSpace(raw)))
	switch s {
	case OccupancyActive, OccupancyDischarged, OccupancyTransferred:
		return s, true
	}
	return "", false
}

// Priority is the clinical urgency recorded at admission.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// ParsePriority normalizes raw input; an empty string yields PriorityNormal.
func ParsePriority(raw string) (Priority, bool) {
	p := Priority(strings.ToLower(strings.TrimSpace(raw)))
	switch p {
	case "":
		return PriorityNormal, true
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return p, true
	}
	return "", false
}

// OccupancyRecord is one admission episode binding a patient to a bed.
// Exactly one active record may reference a bed at any time; closing a
// record (discharge or transfer) sets ActualDischargeDate.
type OccupancyRecord struct {
	ID                    uint64          `json:"id"`
	BedID                 uint64          `json:"bed_id"`
	PatientID             uint64          `json:"patient_id"`
	DoctorID              *uint64         `json:"doctor_id,omitempty"`
	AdmissionDate         time.Time       `json:"admission_date"`
	ExpectedDischargeDate *time.Time      `json:"expected_discharge_date,omitempty"`
	ActualDischargeDate   *time.Time      `json:"actual_discharge_date,omitempty"`
	AdmissionReason       string          `json:"admission_reason"`
	Diagnosis             *string         `json:"diagnosis,omitempty"`
	Priority              Priority        `json:"priority"`
	Status                OccupancyStatus `json:"status"`
	Notes                 *string         `json:"notes,omitempty"`
	TransferredFromID     *uint64         `json:"transferred_from_id,omitempty"`
	CreatedAt             time.Time       `json:"created_at"`
	UpdatedAt             time.Time       `json:"updated_at"`
}

// Active reports whether the episode is still open.
func (o OccupancyRecord) Active() bool { return o.Status == OccupancyActive }

// AllocationRequest carries the inputs of an allocation.
type AllocationRequest struct {
	BedID                 uint64     `json:"bed_id"`
	PatientID             uint64     `json:"patient_id"`
	DoctorID              *uint64    `json:"doctor_id"`
	AdmissionReason       string     `json:"admission_reason"`
	Diagnosis             *string    `json:"diagnosis"`
	ExpectedDischargeDate *time.Time `json:"expected_discharge_date"`
	Priority              string     `json:"priority"`
	Notes                 *string    `json:"notes"`
}

// OccupancyFilter narrows occupancy listings.  Zero values mean "no filter".
type OccupancyFilter struct {
	Status    OccupancyStatus
	BedID     uint64
	PatientID uint64
	Page      int
	PageSize  int
}

// Normalize clamps pagination.
func (f *OccupancyFilter) Normalize() { f.Page, f.PageSize = clampPage(f.Page, f.PageSize) }

// AppendNote joins an additional note onto existing notes, one per line.
func AppendNote(existing *string, note string) *string {
	note = strings.TrimSpace(note)
	if note == "" {
		return existing
	}
	if existing == nil || strings.TrimSpace(*existing) == "" {
		return &note
	}
	joined := *existing + "\n" + note
	return &joined
}
