package entity

import (
	"fmt"
	"strings"
)

// AttrValue is a sealed union of attribute values.
// Only StrValue and IntValue implement it.
type AttrValue interface {
	Attr() Attribute
	// Native returns the Go value: string or int64.
	Native() any
	attrValue()
}

// StrValue is the value of a String attribute.
type StrValue struct {
	Attribute Attribute
	Value     string
}

func (v StrValue) Attr() Attribute { return v.Attribute }
func (v StrValue) Native() any     { return v.Value }
func (StrValue) attrValue()        {}

// IntValue is the value of an Integer attribute.
type IntValue struct {
	Attribute Attribute
	Value     int64
}

func (v IntValue) Attr() Attribute { return v.Attribute }
func (v IntValue) Native() any     { return v.Value }
func (IntValue) attrValue()        {}

// StrOf pairs a String attribute with a value.
func StrOf(a Attribute, v string) AttrValue {
	return StrValue{Attribute: a, Value: v}
}

// IntOf pairs an Integer attribute with a value.
func IntOf(a Attribute, v int64) AttrValue {
	return IntValue{Attribute: a, Value: v}
}

// ValueOf builds an AttrValue from a Go value, checking it against the
// attribute kind. Accepts string for String attributes and the signed and
// 8 to 32 bit unsigned integer types for Integer attributes.
func ValueOf(a Attribute, v any) (AttrValue, error) {
	switch a.Kind() {
	case KindString:
		if s, ok := v.(string); ok {
			return StrOf(a, s), nil
		}
	case KindInteger:
		switch n := v.(type) {
		case int:
			return IntOf(a, int64(n)), nil
		case int8:
			return IntOf(a, int64(n)), nil
		case int16:
			return IntOf(a, int64(n)), nil
		case int32:
			return IntOf(a, int64(n)), nil
		case int64:
			return IntOf(a, n), nil
		case uint8:
			return IntOf(a, int64(n)), nil
		case uint16:
			return IntOf(a, int64(n)), nil
		case uint32:
			return IntOf(a, int64(n)), nil
		}
	}
	return nil, fmt.Errorf("attribute %s: value %v (%T) does not match kind %s", a.Name(), v, v, a.Kind())
}

// Entity is an instance of an entity type. Attributes may be omitted.
type Entity struct {
	typ    *Type
	id     string
	values []AttrValue
}

// New creates an entity.
// Fails when the id is empty, a value references an attribute not declared
// on the type, a value's runtime type does not match the attribute kind, or
// an attribute is given twice.
func New(t *Type, id string, values ...AttrValue) (*Entity, error) {
	if t == nil {
		return nil, fmt.Errorf("entity type is required")
	}
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("entity of type %s: id is required", t.Name())
	}

	seen := make(map[Attribute]bool, len(values))
	out := make([]AttrValue, 0, len(values))
	for _, v := range values {
		if v == nil {
			return nil, fmt.Errorf("entity %s/%s: nil attribute value", t.Name(), id)
		}
		a := v.Attr()
		if !t.Declares(a) {
			return nil, fmt.Errorf("entity %s/%s: attribute %s is not declared on %s", t.Name(), id, a, t.Name())
		}
		if err := checkKind(v); err != nil {
			return nil, fmt.Errorf("entity %s/%s: %w", t.Name(), id, err)
		}
		if seen[a] {
			return nil, fmt.Errorf("entity %s/%s: duplicate value for attribute %s", t.Name(), id, a.Name())
		}
		seen[a] = true
		out = append(out, v)
	}

	return &Entity{typ: t, id: id, values: out}, nil
}

// MustNew is like New but panics on error.
func MustNew(t *Type, id string, values ...AttrValue) *Entity {
	e, err := New(t, id, values...)
	if err != nil {
		panic(err)
	}
	return e
}

func checkKind(v AttrValue) error {
	switch val := v.(type) {
	case StrValue:
		if val.Attribute.Kind() != KindString {
			return fmt.Errorf("string value for %s attribute %s", val.Attribute.Kind(), val.Attribute.Name())
		}
	case IntValue:
		if val.Attribute.Kind() != KindInteger {
			return fmt.Errorf("integer value for %s attribute %s", val.Attribute.Kind(), val.Attribute.Name())
		}
	default:
		return fmt.Errorf("unknown attribute value type %T", v)
	}
	return nil
}

func (e *Entity) Type() *Type { return e.typ }
func (e *Entity) ID() string  { return e.id }

// Values returns a copy of the supplied attribute values in the order given.
func (e *Entity) Values() []AttrValue {
	out := make([]AttrValue, len(e.values))
	copy(out, e.values)
	return out
}

// Get returns the value of an attribute, if supplied.
func (e *Entity) Get(a Attribute) (AttrValue, bool) {
	for _, v := range e.values {
		if v.Attr() == a {
			return v, true
		}
	}
	return nil, false
}
