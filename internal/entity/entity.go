// Package entity declares entity types, their typed attributes and entity
// instances.
//
// Attributes are identified by (kind, name). Entity types and entities are
// immutable once constructed; constructors validate every invariant so the
// query layer can assume well-formed input.
package entity

import (
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Kind is the declared type of an attribute.
type Kind int

const (
	KindString Kind = iota + 1
	KindInteger
)

// String returns the lowercase kind name.
func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInteger:
		return "int"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// ParseKind accepts "string"/"str" and "int"/"integer".
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "string", "str":
		return KindString, nil
	case "int", "integer":
		return KindInteger, nil
	default:
		return 0, fmt.Errorf("unknown attribute kind %q", s)
	}
}

// Attribute is a named, kind-typed field of an entity type.
// Attributes are comparable and may be used as map keys.
type Attribute struct {
	kind Kind
	name string
}

// IDName is the reserved name of the identity pseudo-attribute.
const IDName = "id"

// ID is the identity pseudo-attribute. In a query it refers to the id of the
// query's source entity type.
var ID = Attribute{kind: KindString, name: IDName}

// NewAttribute creates an attribute. The name is NFC-normalized.
func NewAttribute(kind Kind, name string) Attribute {
	return Attribute{kind: kind, name: norm.NFC.String(name)}
}

// Str creates a String attribute.
func Str(name string) Attribute {
	return NewAttribute(KindString, name)
}

// Int creates an Integer attribute.
func Int(name string) Attribute {
	return NewAttribute(KindInteger, name)
}

func (a Attribute) Kind() Kind   { return a.kind }
func (a Attribute) Name() string { return a.name }

// IsID reports whether a is the identity pseudo-attribute.
func (a Attribute) IsID() bool { return a == ID }

// IsZero reports whether a is the zero Attribute.
func (a Attribute) IsZero() bool { return a == Attribute{} }

func (a Attribute) String() string {
	return fmt.Sprintf("%s:%s", a.name, a.kind)
}

// Type is an entity type: a name and an ordered list of attributes.
type Type struct {
	name  string
	attrs []Attribute
	index map[string]int
}

// NewType creates an entity type.
// Fails on an empty name, duplicate or empty attribute names, unknown kinds,
// or an attribute named "id".
func NewType(name string, attrs ...Attribute) (*Type, error) {
	name = norm.NFC.String(strings.TrimSpace(name))
	if name == "" {
		return nil, fmt.Errorf("entity type name is required")
	}

	t := &Type{
		name:  name,
		attrs: make([]Attribute, 0, len(attrs)),
		index: make(map[string]int, len(attrs)),
	}
	for _, a := range attrs {
		if a.name == "" {
			return nil, fmt.Errorf("entity type %s: attribute name is required", name)
		}
		if a.kind != KindString && a.kind != KindInteger {
			return nil, fmt.Errorf("entity type %s: attribute %s has invalid kind %v", name, a.name, a.kind)
		}
		if a.name == IDName {
			return nil, fmt.Errorf("entity type %s: attribute name %q is reserved", name, IDName)
		}
		if _, dup := t.index[a.name]; dup {
			return nil, fmt.Errorf("entity type %s: duplicate attribute %s", name, a.name)
		}
		t.index[a.name] = len(t.attrs)
		t.attrs = append(t.attrs, a)
	}
	return t, nil
}

// MustType is like NewType but panics on error. Intended for package-level
// declarations and tests.
func MustType(name string, attrs ...Attribute) *Type {
	t, err := NewType(name, attrs...)
	if err != nil {
		panic(err)
	}
	return t
}

func (t *Type) Name() string { return t.name }

// Attributes returns a copy of the declared attributes in declaration order.
func (t *Type) Attributes() []Attribute {
	out := make([]Attribute, len(t.attrs))
	copy(out, t.attrs)
	return out
}

// Declares reports whether the exact attribute (kind and name) is declared.
func (t *Type) Declares(a Attribute) bool {
	i, ok := t.index[a.name]
	return ok && t.attrs[i] == a
}

// Lookup finds a declared attribute by name.
func (t *Type) Lookup(name string) (Attribute, bool) {
	i, ok := t.index[norm.NFC.String(name)]
	if !ok {
		return Attribute{}, false
	}
	return t.attrs[i], true
}

func (t *Type) String() string { return t.name }
