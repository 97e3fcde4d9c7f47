package model

import (
	"strings"
	"time"
)

// BedType classifies the care setting a bed belongs to.
type BedType string

const (
	BedTypeGeneral   BedType = "general"
	BedTypeICU       BedType = "icu"
	BedTypeCCU       BedType = "ccu"
	BedTypeEmergency BedType = "emergency"
	BedTypeMaternity BedType = "maternity"
	BedTypePediatric BedType = "pediatric"
	BedTypeSurgical  BedType = "surgical"
)

// BedTypes lists every accepted bed type in display order.
var BedTypes = []BedType{
	BedTypeGeneral, BedTypeICU, BedTypeCCU, BedTypeEmergency,
	BedTypeMaternity, BedTypePediatric, BedTypeSurgical,
}

// ParseBedType normalizes raw input (case and surrounding space) and reports
// whether it names a known bed type.
func ParseBedType(raw string) (BedType, bool) {
	t := BedType(strings.ToLower(strings.TrimSpace(raw)))
	for _, known := range BedTypes {
		if t == known {
			return t, true
		}
	}
	return "", false
}

// BedStatus is the availability state of a bed.
type BedStatus string

const (
	BedAvailable   BedStatus = "available"
	BedOccupied    BedStatus = "occupied"
	BedMaintenance BedStatus = "maintenance"
	BedReserved    BedStatus = "reserved"
)

// BedStatuses lists every bed status.
var BedStatuses = []BedStatus{BedAvailable, BedOccupied, BedMaintenance, BedReserved}

// ParseBedStatus normalizes raw input and reports whether it names a known status.
func ParseBedStatus(raw string) (BedStatus, bool) {
	s := BedStatus(strings.ToLower(strings.TrimSpace(raw)))
	for _, known := range BedStatuses {
		if s == known {
			return s, true
		}
	}
	return "", false
}

// Bed describes a physical bed resource.  Beds are uniquely identified
// by their room number and bed number; Label joins both into the
// human-readable "room-bed" form shown to staff.
//
// Fields:
//
//	ID           – primary key identifier.
//	RoomNumber   – room the bed is located in.
//	BedNumber    – bed designation inside the room.
//	DepartmentID – owning department (nil when unassigned).
//	Ward         – ward name (nil when unspecified).
//	Floor        – floor number (nil when unspecified).
//	Type         – care setting of the bed.
//	Status       – availability state.
//	Description  – free text.
//	Equipment    – ordered set of equipment names.
//	IsActive     – whether the bed can be allocated at all.
type Bed struct {
	ID           uint64    `json:"id"`
	RoomNumber   string    `json:"room_number"`
	BedNumber    string    `json:"bed_number"`
	DepartmentID *uint64   `json:"department_id,omitempty"`
	Ward         *string   `json:"ward,omitempty"`
	Floor        *int      `json:"floor,omitempty"`
	Type         BedType   `json:"type"`
	Status       BedStatus `json:"status"`
	Description  *string   `json:"description,omitempty"`
	Equipment    Equipment `json:"equipment"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Label returns the composite "room-bed" identifier.
func (b Bed) Label() string { return b.RoomNumber + "-" + b.BedNumber }

// Allocatable reports whether a new admission may be placed on the bed.
func (b Bed) Allocatable() bool { return b.IsActive && b.Status == BedAvailable }

// NewBed carries the fields accepted when registering a bed.  Type and
// Status default to general/available when empty.
type NewBed struct {
	RoomNumber   string    `json:"room_number"`
	BedNumber    string    `json:"bed_number"`
	DepartmentID *uint64   `json:"department_id"`
	Ward         *string   `json:"ward"`
	Floor        *int      `json:"floor"`
	Type         string    `json:"type"`
	Status       string    `json:"status"`
	Description  *string   `json:"description"`
	Equipment    Equipment `json:"equipment"`
	IsActive     *bool     `json:"is_active"`
}

// BedPatch is a partial update.  An absent field leaves the column as is,
// an explicit JSON null clears it, any other value replaces it.
type BedPatch struct {
	RoomNumber   Field[string]    `json:"room_number"`
	BedNumber    Field[string]    `json:"bed_number"`
	DepartmentID Field[uint64]    `json:"department_id"`
	Ward         Field[string]    `json:"ward"`
	Floor        Field[int]       `json:"floor"`
	Type         Field[BedType]   `json:"type"`
	Status       Field[BedStatus] `json:"status"`
	Description  Field[string]    `json:"description"`
	Equipment    Field[Equipment] `json:"equipment"`
	IsActive     Field[bool]      `json:"is_active"`
}

// Empty reports whether the patch changes nothing.
func (p BedPatch) Empty() bool {
	return !p.RoomNumber.Set && !p.BedNumber.Set && !p.DepartmentID.Set &&
		!p.Ward.Set && !p.Floor.Set && !p.Type.Set && !p.Status.Set &&
		!p.Description.Set && !p.Equipment.Set && !p.IsActive.Set
}

// Apply returns a copy of b with the patch applied.  Validation is the
// caller's concern; Apply only moves values.
func (p BedPatch) Apply(b Bed) Bed {
	if p.RoomNumber.Set && !p.RoomNumber.Null {
		b.RoomNumber = p.RoomNumber.Value
	}
	if p.BedNumber.Set && !p.BedNumber.Null {
		b.BedNumber = p.BedNumber.Value
	}
	b.DepartmentID = p.DepartmentID.ApplyPtr(b.DepartmentID)
	b.Ward = p.Ward.ApplyPtr(b.Ward)
	b.Floor = p.Floor.ApplyPtr(b.Floor)
	if p.Type.Set && !p.Type.Null {
		b.Type = p.Type.Value
	}
	if p.Status.Set && !p.Status.Null {
		b.Status = p.Status.Value
	}
	b.Description = p.Description.ApplyPtr(b.Description)
	if p.Equipment.Set {
		if p.Equipment.Null {
			b.Equipment = Equipment{}
		} else {
			b.Equipment = NewEquipment(p.Equipment.Value...)
		}
	}
	if p.IsActive.Set && !p.IsActive.Null {
		b.IsActive = p.IsActive.Value
	}
	return b
}

// BedFilter narrows bed listings.  Zero values mean "no filter".
type BedFilter struct {
	Status       BedStatus
	Type         BedType
	Ward         string
	Floor        *int
	DepartmentID uint64
	Active       *bool
	Search       string
	Page         int
	PageSize     int
}

// Normalize clamps pagination to sane bounds (page ≥ 1, 1 ≤ size ≤ 100, default 20).
func (f *BedFilter) Normalize() { f.Page, f.PageSize = clampPage(f.Page, f.PageSize) }

func clampPage(page, size int) (int, int) {
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = 20
	}
	if size > 100 {
		size = 100
	}
	return page, size
}
