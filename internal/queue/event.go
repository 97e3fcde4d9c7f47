// Package queue defines message payloads exchanged over the message broker.
package queue

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// OccupancyQueueName is the durable queue occupancy events are routed to.
const OccupancyQueueName = "occupancy.events"

// Event types published after a committed occupancy change.
const (
	EventBedAllocated       = "bed.allocated"
	EventPatientDischarged  = "patient.discharged"
	EventPatientTransferred = "patient.transferred"
)

// OccupancyEvent is published when an admission episode is opened or
// closed.  It contains enough information for downstream consumers to log,
// notify, or trigger analytics without querying the primary database.
type OccupancyEvent struct {
	ID                  string  `json:"id"`
	Type                string  `json:"type"`
	OccupancyID         uint64  `json:"occupancy_id"`
	BedID               uint64  `json:"bed_id"`
	BedLabel            string  `json:"bed_label"`
	PatientID           uint64  `json:"patient_id"`
	DoctorID            *uint64 `json:"doctor_id,omitempty"`
	PreviousOccupancyID *uint64 `json:"previous_occupancy_id,omitempty"`
	PreviousBedID       *uint64 `json:"previous_bed_id,omitempty"`
	ActorID             uint64  `json:"actor_id"`
	OccurredAt          string  `json:"occurred_at"`
}

// NewOccupancyEvent stamps a fresh event id and the current UTC time.
func NewOccupancyEvent(eventType string) OccupancyEvent {
	return OccupancyEvent{
		ID:         uuid.NewString(),
		Type:       eventType,
		OccurredAt: time.Now().UTC().Format(time.RFC3339),
	}
}

// Line renders the event as a single human-friendly log line.
func (ev OccupancyEvent) Line() string {
	var what string
	switch ev.Type {
	case EventBedAllocated:
		what = "Bed allocated"
	case EventPatientDischarged:
		what = "Patient discharged"
	case EventPatientTransferred:
		what = "Patient transferred"
	default:
		what = "Occupancy event " + ev.Type
	}
	line := fmt.Sprintf("[%s] %s | occupancy_id=%d | bed_id=%d | bed=%q | patient_id=%d",
		ev.OccurredAt, what, ev.OccupancyID, ev.BedID, ev.BedLabel, ev.PatientID)
	if ev.DoctorID != nil {
		line += fmt.Sprintf(" | doctor_id=%d", *ev.DoctorID)
	}
	if ev.PreviousOccupancyID != nil {
		line += fmt.Sprintf(" | from_occupancy_id=%d", *ev.PreviousOccupancyID)
	}
	if ev.PreviousBedID != nil {
		line += fmt.Sprintf(" | from_bed_id=%d", *ev.PreviousBedID)
	}
	return line + fmt.Sprintf(" | actor_id=%d | event_id=%s\n", ev.ActorID, ev.ID)
}
