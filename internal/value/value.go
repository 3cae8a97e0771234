// Package value defines the typed values returned by query execution.
//
// Value is a sealed interface: only Null, String, Int and Float implement it.
// Every backend decodes its result set into rows of these four types so that
// callers never see driver-specific representations (sql.NullString,
// int32 vs int64 from BSON, and so on).
package value

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// Value is a sealed interface representing a single typed result cell.
type Value interface {
	value() // Sealed - only the types in this file implement it
}

// Null is an absent value (SQL NULL, missing document field).
type Null struct{}

func (Null) value() {}

// MarshalJSON implements json.Marshaler for Null.
func (Null) MarshalJSON() ([]byte, error) {
	return []byte("null"), nil
}

// String is a string value.
type String string

func (String) value() {}

// Int is an integer value. Always int64.
type Int int64

func (Int) value() {}

// Float is a floating point value. Only AVG aggregations produce floats.
type Float float64

func (Float) value() {}

// Row is one result row: one value per select term, in select order.
type Row []Value

// Type is the declared result type of a column.
type Type int

const (
	TypeString Type = iota + 1
	TypeInt
	TypeFloat
)

// String returns the lowercase type name.
func (t Type) String() string {
	switch t {
	case TypeString:
		return "string"
	case TypeInt:
		return "int"
	case TypeFloat:
		return "float"
	default:
		return fmt.Sprintf("Type(%d)", int(t))
	}
}

// IsNull reports whether v is nil or Null.
func IsNull(v Value) bool {
	if v == nil {
		return true
	}
	_, ok := v.(Null)
	return ok
}

// Native converts a Value to its Go representation: nil, string, int64 or float64.
func Native(v Value) any {
	switch val := v.(type) {
	case String:
		return string(val)
	case Int:
		return int64(val)
	case Float:
		return float64(val)
	default:
		return nil
	}
}

// Natives converts a row to Go values.
func (r Row) Natives() []any {
	out := make([]any, len(r))
	for i, v := range r {
		out[i] = Native(v)
	}
	return out
}

// MarshalJSON encodes the row as a JSON array of natives.
func (r Row) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, v := range r {
		if i > 0 {
			buf.WriteByte(',')
		}
		b, err := Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("row[%d]: %w", i, err)
		}
		buf.Write(b)
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

// Marshal encodes a single value as JSON.
func Marshal(v Value) ([]byte, error) {
	switch val := v.(type) {
	case nil, Null:
		return []byte("null"), nil
	case String:
		return json.Marshal(string(val))
	case Int:
		return []byte(strconv.FormatInt(int64(val), 10)), nil
	case Float:
		if math.IsNaN(float64(val)) || math.IsInf(float64(val), 0) {
			return nil, fmt.Errorf("cannot encode non-finite float %v", float64(val))
		}
		return json.Marshal(float64(val))
	default:
		return nil, fmt.Errorf("unknown value type: %T", v)
	}
}

// FromNative converts a Go value to a Value.
// Accepts nil, string, all integer types and floats.
func FromNative(x any) (Value, error) {
	switch val := x.(type) {
	case nil:
		return Null{}, nil
	case Value:
		return val, nil
	case string:
		return String(val), nil
	case int:
		return Int(val), nil
	case int8:
		return Int(val), nil
	case int16:
		return Int(val), nil
	case int32:
		return Int(val), nil
	case int64:
		return Int(val), nil
	case uint8:
		return Int(val), nil
	case uint16:
		return Int(val), nil
	case uint32:
		return Int(val), nil
	case float32:
		return Float(val), nil
	case float64:
		return Float(val), nil
	case json.Number:
		if n, err := val.Int64(); err == nil {
			return Int(n), nil
		}
		f, err := val.Float64()
		if err != nil {
			return nil, fmt.Errorf("invalid number %q: %w", val, err)
		}
		return Float(f), nil
	default:
		return nil, fmt.Errorf("unsupported native type: %T", x)
	}
}

// Convert coerces a decoded driver value into the declared column type.
// nil stays Null. Integral floats are accepted for TypeInt because some
// engines report integer sums as doubles.
func Convert(x any, t Type) (Value, error) {
	if x == nil {
		return Null{}, nil
	}
	switch t {
	case TypeString:
		switch val := x.(type) {
		case string:
			return String(val), nil
		case []byte:
			return String(val), nil
		}
	case TypeInt:
		switch val := x.(type) {
		case int:
			return Int(val), nil
		case int32:
			return Int(val), nil
		case int64:
			return Int(val), nil
		case float64:
			if val == math.Trunc(val) {
				return Int(int64(val)), nil
			}
		}
	case TypeFloat:
		switch val := x.(type) {
		case float64:
			return Float(val), nil
		case float32:
			return Float(val), nil
		case int:
			return Float(val), nil
		case int32:
			return Float(val), nil
		case int64:
			return Float(val), nil
		case string:
			f, err := strconv.ParseFloat(val, 64)
			if err != nil {
				return nil, fmt.Errorf("convert %q to float: %w", val, err)
			}
			return Float(f), nil
		}
	}
	return nil, fmt.Errorf("cannot convert %T to %s", x, t)
}

// Compare orders two values. Null sorts before everything else, numbers
// compare numerically across Int and Float, strings compare bytewise.
// Comparing a string with a number orders numbers first.
func Compare(a, b Value) int {
	an, bn := IsNull(a), IsNull(b)
	switch {
	case an && bn:
		return 0
	case an:
		return -1
	case bn:
		return 1
	}

	as, aIsStr := a.(String)
	bs, bIsStr := b.(String)
	switch {
	case aIsStr && bIsStr:
		switch {
		case as < bs:
			return -1
		case as > bs:
			return 1
		}
		return 0
	case aIsStr:
		return 1
	case bIsStr:
		return -1
	}

	if ai, ok := a.(Int); ok {
		if bi, ok := b.(Int); ok {
			switch {
			case ai < bi:
				return -1
			case ai > bi:
				return 1
			}
			return 0
		}
	}
	af, bf := toFloat(a), toFloat(b)
	switch {
	case af < bf:
		return -1
	case af > bf:
		return 1
	}
	return 0
}

// Equal reports whether two values are equal under Compare.
func Equal(a, b Value) bool {
	return Compare(a, b) == 0
}

func toFloat(v Value) float64 {
	switch val := v.(type) {
	case Int:
		return float64(val)
	case Float:
		return float64(val)
	default:
		return 0
	}
}
