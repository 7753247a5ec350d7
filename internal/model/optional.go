package model

import (
	"encoding/json"
	"strconv"
)

// Float is a tagged optional float64. The zero value is undefined.
// Indicator fields use it so that "not enough data" can never be read as 0.
type Float struct {
	Value float64
	Valid bool
}

// Some returns a defined Float.
func Some(v float64) Float { return Float{Value: v, Valid: true} }

// None returns an undefined Float.
func None() Float { return Float{} }

// Get returns the value and whether it is defined.
func (f Float) Get() (float64, bool) { return f.Value, f.Valid }

// Or returns the value, or def when undefined.
func (f Float) Or(def float64) float64 {
	if !f.Valid {
		return def
	}
	return f.Value
}

func (f Float) String() string {
	if !f.Valid {
		return "undefined"
	}
	return strconv.FormatFloat(f.Value, 'f', 6, 64)
}

// MarshalJSON encodes undefined values as null.
func (f Float) MarshalJSON() ([]byte, error) {
	if !f.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(f.Value)
}

// UnmarshalJSON accepts a number or null.
func (f *Float) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*f = Float{}
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*f = Some(v)
	return nil
}
