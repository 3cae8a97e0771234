package queryir

import (
	"github.com/roach88/relq/internal/entity"
	"github.com/roach88/relq/internal/value"
)

// Term is an expression leaf used on the right-hand side of comparisons.
//
// This is a sealed interface - only AttrRef, Literal and NullLiteral
// implement it.
type Term interface {
	termNode() // Marker method - seals interface to this package
}

// AttrRef references an attribute of the source or a joined entity type.
type AttrRef struct {
	Attr entity.Attribute
}

func (AttrRef) termNode() {}

// Literal is a constant. Value must be value.String or value.Int; any other
// value (including nil) fails validation.
type Literal struct {
	Value value.Value
}

func (Literal) termNode() {}

// NullLiteral is the null constant. Only valid with OpEQ, where it becomes a
// null test.
type NullLiteral struct{}

func (NullLiteral) termNode() {}

// SelectTerm is one output column of a query.
//
// This is a sealed interface - only Projection and Aggregation implement it.
type SelectTerm interface {
	// Attribute returns the projected or aggregated attribute.
	Attribute() entity.Attribute
	selectTerm()
}

// Projection outputs an attribute value.
type Projection struct {
	Attr entity.Attribute
}

func (p Projection) Attribute() entity.Attribute { return p.Attr }
func (Projection) selectTerm()                   {}

// Aggregation outputs an aggregate of an attribute over a group.
type Aggregation struct {
	Of   Projection
	Kind AggregateKind
}

func (a Aggregation) Attribute() entity.Attribute { return a.Of.Attr }
func (Aggregation) selectTerm()                   {}

// Predicate is a boolean condition over attributes.
//
// This is a sealed interface - only Comparison, And, Or and Not implement it.
type Predicate interface {
	predicateNode() // Marker method - seals interface to this package
}

// Comparison compares an attribute with a term.
//
// Semantics:
//
//	<left> <op> <right>
//
// Comparing with NullLiteral under OpEQ is a null test (IS NULL).
type Comparison struct {
	Left  AttrRef
	Op    Op
	Right Term
}

func (Comparison) predicateNode() {}

// And is true when both operands are true.
type And struct {
	Left, Right Predicate
}

func (And) predicateNode() {}

// Or is true when either operand is true.
type Or struct {
	Left, Right Predicate
}

func (Or) predicateNode() {}

// Not negates its operand.
type Not struct {
	Inner Predicate
}

func (Not) predicateNode() {}

// Join is an inner join of another entity type.
//
// Semantics:
//
//	JOIN <source> ON <on[0]> AND <on[1]> ...
//
// Rows of the left side without a matching row in Source are dropped.
type Join struct {
	Source *entity.Type
	On     []Comparison
}

// OrderBy is one sort key.
type OrderBy struct {
	Term      SelectTerm
	Direction Direction
}

// Query is the root of the algebra.
//
// Semantics:
//
//	SELECT <select> FROM <from> <joins>
//	WHERE <where[0]> AND <where[1]> ...
//	GROUP BY <group by> HAVING <having...> ORDER BY <order by>
//
// A Query is immutable by convention: it is built once by the query builder
// and never modified afterwards. Backends must not mutate the slices.
type Query struct {
	Select  []SelectTerm
	From    *entity.Type
	Where   []Predicate
	Joins   []Join
	GroupBy []AttrRef
	Having  []Predicate
	OrderBy []OrderBy
}

// ResultType returns the decoded type of a select term's column.
// COUNT is always an integer and AVG always a float; every other aggregate
// keeps the aggregated attribute's kind.
func ResultType(t SelectTerm) value.Type {
	if a, ok := t.(Aggregation); ok {
		switch a.Kind {
		case AggCount:
			return value.TypeInt
		case AggAvg:
			return value.TypeFloat
		}
	}
	return KindType(t.Attribute().Kind())
}

// KindType maps an attribute kind to its result type.
func KindType(k entity.Kind) value.Type {
	if k == entity.KindInteger {
		return value.TypeInt
	}
	return value.TypeString
}

// OutputName returns the result column name of a select term: the attribute
// name for a projection, "<kind>_<attribute>" for an aggregation.
func OutputName(t SelectTerm) string {
	if a, ok := t.(Aggregation); ok {
		return a.Kind.String() + "_" + a.Of.Attr.Name()
	}
	return t.Attribute().Name()
}
