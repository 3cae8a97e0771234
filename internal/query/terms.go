package query

import (
	"github.com/roach88/relq/internal/entity"
	"github.com/roach88/relq/internal/queryir"
	"github.com/roach88/relq/internal/value"
)

// Attr projects an attribute.
func Attr(a entity.Attribute) queryir.Projection {
	return queryir.Projection{Attr: a}
}

func Max(a entity.Attribute) queryir.Aggregation   { return aggregate(a, queryir.AggMax) }
func Min(a entity.Attribute) queryir.Aggregation   { return aggregate(a, queryir.AggMin) }
func Sum(a entity.Attribute) queryir.Aggregation   { return aggregate(a, queryir.AggSum) }
func Avg(a entity.Attribute) queryir.Aggregation   { return aggregate(a, queryir.AggAvg) }
func Count(a entity.Attribute) queryir.Aggregation { return aggregate(a, queryir.AggCount) }

func aggregate(a entity.Attribute, k queryir.AggregateKind) queryir.Aggregation {
	return queryir.Aggregation{Of: Attr(a), Kind: k}
}

// Field references an attribute as a comparison term.
func Field(a entity.Attribute) queryir.AttrRef {
	return queryir.AttrRef{Attr: a}
}

// Value wraps a Go value as a literal term.
// Strings become String literals and integers Int literals. Any other value
// produces a literal that fails validation in Build.
func Value(v any) queryir.Literal {
	switch x := v.(type) {
	case string:
		return queryir.Literal{Value: value.String(x)}
	case int:
		return queryir.Literal{Value: value.Int(int64(x))}
	case int32:
		return queryir.Literal{Value: value.Int(int64(x))}
	case int64:
		return queryir.Literal{Value: value.Int(x)}
	case value.Value:
		return queryir.Literal{Value: x}
	default:
		return queryir.Literal{}
	}
}

// Null is the null term. Eq(a, Null()) tests for null.
func Null() queryir.NullLiteral {
	return queryir.NullLiteral{}
}

// term converts the right-hand side of a comparison helper: a Term is used
// as is, an Attribute becomes a Field, nil becomes Null, anything else a Value.
func term(rhs any) queryir.Term {
	switch x := rhs.(type) {
	case queryir.Term:
		return x
	case entity.Attribute:
		return Field(x)
	case nil:
		return Null()
	default:
		return Value(x)
	}
}

// Eq compares a with rhs for equality.
func Eq(a entity.Attribute, rhs any) queryir.Comparison {
	return compare(a, queryir.OpEQ, rhs)
}

// Lt is a < rhs.
func Lt(a entity.Attribute, rhs any) queryir.Comparison {
	return compare(a, queryir.OpLT, rhs)
}

// Gt is a > rhs.
func Gt(a entity.Attribute, rhs any) queryir.Comparison {
	return compare(a, queryir.OpGT, rhs)
}

// Like matches a against a pattern with % and _ wildcards.
func Like(a entity.Attribute, pattern string) queryir.Comparison {
	return compare(a, queryir.OpLike, pattern)
}

func compare(a entity.Attribute, op queryir.Op, rhs any) queryir.Comparison {
	return queryir.Comparison{Left: Field(a), Op: op, Right: term(rhs)}
}

// And conjoins predicates left to right. And() is nil, which fails
// validation.
func And(preds ...queryir.Predicate) queryir.Predicate {
	return fold(preds, func(l, r queryir.Predicate) queryir.Predicate {
		return queryir.And{Left: l, Right: r}
	})
}

// Or disjoins predicates left to right.
func Or(preds ...queryir.Predicate) queryir.Predicate {
	return fold(preds, func(l, r queryir.Predicate) queryir.Predicate {
		return queryir.Or{Left: l, Right: r}
	})
}

func fold(preds []queryir.Predicate, join func(l, r queryir.Predicate) queryir.Predicate) queryir.Predicate {
	if len(preds) == 0 {
		return nil
	}
	acc := preds[0]
	for _, p := range preds[1:] {
		acc = join(acc, p)
	}
	return acc
}

// Not negates p.
func Not(p queryir.Predicate) queryir.Predicate {
	return queryir.Not{Inner: p}
}

// Asc sorts ascending by t.
func Asc(t queryir.SelectTerm) queryir.OrderBy {
	return queryir.OrderBy{Term: t, Direction: queryir.Asc}
}

// Desc sorts descending by t.
func Desc(t queryir.SelectTerm) queryir.OrderBy {
	return queryir.OrderBy{Term: t, Direction: queryir.Desc}
}
