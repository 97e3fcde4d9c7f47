package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
)

// Equipment is an ordered set of equipment names attached to a bed.  It is
// kept as a slice in memory and stored as a JSON array in the equipment
// column.  Duplicates (case-insensitive) and blank names are dropped; the
// first spelling wins.
type Equipment []string

// NewEquipment builds a normalized set from raw names.
func NewEquipment(items ...string) Equipment {
	out := make(Equipment, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for _, it := range items {
		it = strings.TrimSpace(it)
		if it == "" {
			continue
		}
		k := strings.ToLower(it)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, it)
	}
	return out
}

// Contains reports whether name is in the set (case-insensitive).
func (e Equipment) Contains(name string) bool {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, it := range e {
		if strings.ToLower(it) == name {
			return true
		}
	}
	return false
}

// UnmarshalJSON accepts an array of names and normalizes it.
func (e *Equipment) UnmarshalJSON(data []byte) error {
	var raw []string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*e = NewEquipment(raw...)
	return nil
}

// MarshalJSON always writes an array, never null.
func (e Equipment) MarshalJSON() ([]byte, error) {
	if e == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]string(e))
}

// Value implements driver.Valuer.
func (e Equipment) Value() (driver.Value, error) {
	b, err := e.MarshalJSON()
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.  Older rows stored the list as a
// comma-separated string; those are still read.
func (e *Equipment) Scan(src any) error {
	var s string
	switch v := src.(type) {
	case nil:
		*e = Equipment{}
		return nil
	case []byte:
		s = string(v)
	case string:
		s = v
	default:
		return fmt.Errorf("equipment: unsupported scan type %T", src)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		*e = Equipment{}
		return nil
	}
	if strings.HasPrefix(s, "[") {
		var raw []string
		if err := json.Unmarshal([]byte(s), &raw); err != nil {
			return fmt.Errorf("equipment: %w", err)
		}
		*e = NewEquipment(raw...)
		return nil
	}
	*e = NewEquipment(strings.Split(s, ",")...)
	return nil
}
