package model

import (
	"bytes"
	"encoding/json"
)

// Field is a tri-state value used by partial updates:
//
//	Set == false            field absent, no change
//	Set == true, Null       explicit null, clear the column
//	Set == true, !Null      replace with Value
//
// An empty string is a value, not a clear.
type Field[T any] struct {
	Set   bool
	Null  bool
	Value T
}

// Value builds a Field that replaces the current value with v.
func Value[T any](v T) Field[T] { return Field[T]{Set: true, Value: v} }

// Null builds a Field that clears the current value.
func Null[T any]() Field[T] { return Field[T]{Set: true, Null: true} }

// UnmarshalJSON records presence and distinguishes null from a value.
func (f *Field[T]) UnmarshalJSON(data []byte) error {
	f.Set = true
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		f.Null = true
		var zero T
		f.Value = zero
		return nil
	}
	f.Null = false
	return json.Unmarshal(data, &f.Value)
}

// MarshalJSON writes null for absent or cleared fields.
func (f Field[T]) MarshalJSON() ([]byte, error) {
	if !f.Set || f.Null {
		return []byte("null"), nil
	}
	return json.Marshal(f.Value)
}

// ApplyPtr applies the field to a nullable column value.
func (f Field[T]) ApplyPtr(cur *T) *T {
	if !f.Set {
		return cur
	}
	if f.Null {
		return nil
	}
	v := f.Value
	return &v
}
