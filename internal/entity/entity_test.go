package entity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	fooStr = Str("foo_str")
	fooInt = Int("foo_int")
	foo    = MustType("foo", fooStr, fooInt)
)

func TestAttributeIdentity(t *testing.T) {
	assert.Equal(t, Str("a"), NewAttribute(KindString, "a"))
	assert.NotEqual(t, Str("a"), Int("a"))
	assert.True(t, ID.IsID())
	assert.False(t, fooStr.IsID())
	assert.True(t, Attribute{}.IsZero())

	// NFC: "é" composed vs decomposed
	assert.Equal(t, Str("café"), Str("café"))
}

func TestParseKind(t *testing.T) {
	for in, want := range map[string]Kind{"string": KindString, "STR": KindString, "int": KindInteger, " integer ": KindInteger} {
		got, err := ParseKind(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseKind("float")
	assert.Error(t, err)
}

func TestNewType(t *testing.T) {
	assert.Equal(t, "foo", foo.Name())
	assert.Equal(t, []Attribute{fooStr, fooInt}, foo.Attributes())
	assert.True(t, foo.Declares(fooInt))
	assert.False(t, foo.Declares(Str("foo_int")), "same name, different kind")

	a, ok := foo.Lookup("foo_str")
	assert.True(t, ok)
	assert.Equal(t, fooStr, a)
	_, ok = foo.Lookup("nope")
	assert.False(t, ok)

	attrs := foo.Attributes()
	attrs[0] = Str("mutated")
	assert.Equal(t, fooStr, foo.Attributes()[0], "Attributes returns a copy")
}

func TestNewTypeErrors(t *testing.T) {
	tests := []struct {
		name  string
		tname string
		attrs []Attribute
	}{
		{"empty name", " ", nil},
		{"duplicate attribute", "t", []Attribute{Str("a"), Int("a")}},
		{"reserved id", "t", []Attribute{Str("id")}},
		{"empty attribute name", "t", []Attribute{Str("")}},
		{"zero attribute", "t", []Attribute{{}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewType(tt.tname, tt.attrs...)
			assert.Error(t, err)
		})
	}
}

func TestNewEntity(t *testing.T) {
	e, err := New(foo, "foo_1", StrOf(fooStr, "A"), IntOf(fooInt, 42))
	require.NoError(t, err)
	assert.Equal(t, "foo_1", e.ID())
	assert.Same(t, foo, e.Type())

	v, ok := e.Get(fooInt)
	require.True(t, ok)
	assert.Equal(t, int64(42), v.Native())

	partial := MustNew(foo, "foo_2", StrOf(fooStr, "B"))
	_, ok = partial.Get(fooInt)
	assert.False(t, ok)
	assert.Len(t, partial.Values(), 1)
}

func TestNewEntityErrors(t *testing.T) {
	bar := Str("bar_str")
	tests := []struct {
		name   string
		id     string
		values []AttrValue
	}{
		{"empty id", "", nil},
		{"undeclared attribute", "x", []AttrValue{StrOf(bar, "b")}},
		{"kind mismatch", "x", []AttrValue{StrValue{Attribute: NewAttribute(KindInteger, "foo_int"), Value: "s"}}},
		{"duplicate", "x", []AttrValue{IntOf(fooInt, 1), IntOf(fooInt, 2)}},
		{"nil value", "x", []AttrValue{nil}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(foo, tt.id, tt.values...)
			assert.Error(t, err)
		})
	}

	_, err := New(nil, "x")
	assert.Error(t, err)
}

func TestValueOf(t *testing.T) {
	v, err := ValueOf(fooInt, 42)
	require.NoError(t, err)
	assert.Equal(t, IntOf(fooInt, 42), v)

	v, err = ValueOf(fooStr, "s")
	require.NoError(t, err)
	assert.Equal(t, StrOf(fooStr, "s"), v)

	_, err = ValueOf(fooInt, "42")
	assert.Error(t, err)
	_, err = ValueOf(fooStr, 1.5)
	assert.Error(t, err)
}

func TestValueOf_IntegerTypes(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want int64
	}{
		{"int8", int8(-8), -8},
		{"int16", int16(-16), -16},
		{"int32", int32(32), 32},
		{"int64", int64(64), 64},
		{"uint8", uint8(255), 255},
		{"uint16", uint16(65535), 65535},
		{"uint32", uint32(4294967295), 4294967295},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := ValueOf(fooInt, tt.in)
			require.NoError(t, err)
			assert.Equal(t, IntOf(fooInt, tt.want), v)
		})
	}

	_, err := ValueOf(fooInt, uint64(1))
	assert.Error(t, err)
}
