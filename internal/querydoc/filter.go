package querydoc

import (
	"go.mongodb.org/mongo-driver/bson"

	"github.com/roach88/relq/internal/entity"
	"github.com/roach88/relq/internal/queryir"
	"github.com/roach88/relq/internal/value"
)

// filter renders predicates as $match filter documents. With negate set it
// renders the condition under which the predicate is false.
type filter struct {
	field  func(entity.Attribute) string
	negate bool
}

func (f filter) render(p queryir.Predicate) (bson.D, error) {
	return queryir.VisitPredicate[bson.D](p, f)
}

// conjunction renders predicates joined by AND. A single predicate is
// rendered as is.
func (f filter) conjunction(preds []queryir.Predicate) (bson.D, error) {
	if len(preds) == 1 {
		return f.render(preds[0])
	}
	docs := make(bson.A, len(preds))
	for i, p := range preds {
		d, err := f.render(p)
		if err != nil {
			return nil, err
		}
		docs[i] = d
	}
	return bson.D{{Key: "$and", Value: docs}}, nil
}

func (f filter) VisitComparison(c queryir.Comparison) (bson.D, error) {
	return queryir.VisitTerm[bson.D](c.Right, comparison{filter: f, cmp: c})
}

// VisitAnd: not(a and b) = not a or not b.
func (f filter) VisitAnd(a queryir.And) (bson.D, error) {
	op := "$and"
	if f.negate {
		op = "$or"
	}
	return f.combine(op, a.Left, a.Right)
}

// VisitOr: not(a or b) = not a and not b.
func (f filter) VisitOr(o queryir.Or) (bson.D, error) {
	op := "$or"
	if f.negate {
		op = "$and"
	}
	return f.combine(op, o.Left, o.Right)
}

func (f filter) VisitNot(n queryir.Not) (bson.D, error) {
	inner := f
	inner.negate = !f.negate
	return inner.render(n.Inner)
}

func (f filter) combine(op string, l, r queryir.Predicate) (bson.D, error) {
	left, err := f.render(l)
	if err != nil {
		return nil, err
	}
	right, err := f.render(r)
	if err != nil {
		return nil, err
	}
	return bson.D{{Key: op, Value: bson.A{left, right}}}, nil
}

// comparison renders one comparison by the kind of its right-hand term.
type comparison struct {
	filter
	cmp queryir.Comparison
}

func (c comparison) VisitLiteral(l queryir.Literal) (bson.D, error) {
	return queryir.VisitOp[bson.D](c.cmp.Op, literalCmp{
		field:  c.field(c.cmp.Left.Attr),
		value:  value.Native(l.Value),
		negate: c.negate,
	})
}

func (c comparison) VisitAttrRef(r queryir.AttrRef) (bson.D, error) {
	return queryir.VisitOp[bson.D](c.cmp.Op, fieldCmp{
		left:   "$" + c.field(c.cmp.Left.Attr),
		right:  "$" + c.field(r.Attr),
		negate: c.negate,
	})
}

// VisitNull renders the null test; validation restricts null to EQ.
func (c comparison) VisitNull(queryir.NullLiteral) (bson.D, error) {
	field := c.field(c.cmp.Left.Attr)
	if c.negate {
		return bson.D{{Key: field, Value: bson.D{{Key: "$ne", Value: nil}}}}, nil
	}
	return bson.D{{Key: field, Value: nil}}, nil
}

// literalCmp compares a field with a constant. Query operators never match
// null or missing fields against a non-null constant, so only the negated
// EQ form needs an explicit null exclusion.
type literalCmp struct {
	field  string
	value  any
	negate bool
}

func (l literalCmp) VisitEQ() (bson.D, error) {
	if l.negate {
		return l.op("$nin", bson.A{nil, l.value}), nil
	}
	return bson.D{{Key: l.field, Value: l.value}}, nil
}

func (l literalCmp) VisitLT() (bson.D, error) {
	if l.negate {
		return l.op("$gte", l.value), nil
	}
	return l.op("$lt", l.value), nil
}

func (l literalCmp) VisitGT() (bson.D, error) {
	if l.negate {
		return l.op("$lte", l.value), nil
	}
	return l.op("$gt", l.value), nil
}

func (l literalCmp) VisitLike() (bson.D, error) {
	return nil, queryir.NewUnsupportedError(Backend, "like on %s", l.field)
}

func (l literalCmp) op(name string, v any) bson.D {
	return bson.D{{Key: l.field, Value: bson.D{{Key: name, Value: v}}}}
}

// fieldCmp compares two fields with $expr. Aggregation expressions order
// null below every value, so both sides are guarded to be non-null.
type fieldCmp struct {
	left, right string
	negate      bool
}

func (f fieldCmp) VisitEQ() (bson.D, error) { return f.expr("$eq"), nil }
func (f fieldCmp) VisitLT() (bson.D, error) { return f.expr("$lt"), nil }
func (f fieldCmp) VisitGT() (bson.D, error) { return f.expr("$gt"), nil }

func (f fieldCmp) VisitLike() (bson.D, error) {
	return nil, queryir.NewUnsupportedError(Backend, "like on %s", f.left[1:])
}

func (f fieldCmp) expr(op string) bson.D {
	var cmp any = bson.D{{Key: op, Value: bson.A{f.left, f.right}}}
	if f.negate {
		cmp = bson.D{{Key: "$not", Value: bson.A{cmp}}}
	}
	return bson.D{{Key: "$expr", Value: bson.D{{Key: "$and", Value: bson.A{
		notNull(f.left),
		notNull(f.right),
		cmp,
	}}}}}
}

// notNull is true when the field holds a value. Missing sorts below null.
func notNull(field string) bson.D {
	return bson.D{{Key: "$gt", Value: bson.A{field, nil}}}
}
