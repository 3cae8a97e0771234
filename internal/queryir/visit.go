package queryir

// TermVisitor handles every Term variant.
type TermVisitor[R any] interface {
	VisitAttrRef(AttrRef) (R, error)
	VisitLiteral(Literal) (R, error)
	VisitNull(NullLiteral) (R, error)
}

// VisitTerm dispatches t to the matching visitor method.
func VisitTerm[R any](t Term, v TermVisitor[R]) (R, error) {
	switch term := t.(type) {
	case AttrRef:
		return v.VisitAttrRef(term)
	case Literal:
		return v.VisitLiteral(term)
	case NullLiteral:
		return v.VisitNull(term)
	default:
		var zero R
		return zero, unknownNode("term", t)
	}
}

// SelectTermVisitor handles every SelectTerm variant.
type SelectTermVisitor[R any] interface {
	VisitProjection(Projection) (R, error)
	VisitAggregation(Aggregation) (R, error)
}

// VisitSelectTerm dispatches t to the matching visitor method.
func VisitSelectTerm[R any](t SelectTerm, v SelectTermVisitor[R]) (R, error) {
	switch term := t.(type) {
	case Projection:
		return v.VisitProjection(term)
	case Aggregation:
		return v.VisitAggregation(term)
	default:
		var zero R
		return zero, unknownNode("select term", t)
	}
}

// PredicateVisitor handles every Predicate variant.
type PredicateVisitor[R any] interface {
	VisitComparison(Comparison) (R, error)
	VisitAnd(And) (R, error)
	VisitOr(Or) (R, error)
	VisitNot(Not) (R, error)
}

// VisitPredicate dispatches p to the matching visitor method.
func VisitPredicate[R any](p Predicate, v PredicateVisitor[R]) (R, error) {
	switch pred := p.(type) {
	case Comparison:
		return v.VisitComparison(pred)
	case And:
		return v.VisitAnd(pred)
	case Or:
		return v.VisitOr(pred)
	case Not:
		return v.VisitNot(pred)
	default:
		var zero R
		return zero, unknownNode("predicate", p)
	}
}

// OpVisitor handles every Op.
type OpVisitor[R any] interface {
	VisitEQ() (R, error)
	VisitLT() (R, error)
	VisitGT() (R, error)
	VisitLike() (R, error)
}

// VisitOp dispatches op to the matching visitor method.
func VisitOp[R any](op Op, v OpVisitor[R]) (R, error) {
	switch op {
	case OpEQ:
		return v.VisitEQ()
	case OpLT:
		return v.VisitLT()
	case OpGT:
		return v.VisitGT()
	case OpLike:
		return v.VisitLike()
	default:
		var zero R
		return zero, unknownNode("operator", op)
	}
}

// AggregateVisitor handles every AggregateKind.
type AggregateVisitor[R any] interface {
	VisitMax() (R, error)
	VisitMin() (R, error)
	VisitSum() (R, error)
	VisitAvg() (R, error)
	VisitCount() (R, error)
}

// VisitAggregate dispatches k to the matching visitor method.
func VisitAggregate[R any](k AggregateKind, v AggregateVisitor[R]) (R, error) {
	switch k {
	case AggMax:
		return v.VisitMax()
	case AggMin:
		return v.VisitMin()
	case AggSum:
		return v.VisitSum()
	case AggAvg:
		return v.VisitAvg()
	case AggCount:
		return v.VisitCount()
	default:
		var zero R
		return zero, unknownNode("aggregate", k)
	}
}

// Walk calls fn for every attribute reference in p, including nested ones.
func Walk(p Predicate, fn func(AttrRef)) {
	switch pred := p.(type) {
	case Comparison:
		fn(pred.Left)
		if ref, ok := pred.Right.(AttrRef); ok {
			fn(ref)
		}
	case And:
		Walk(pred.Left, fn)
		Walk(pred.Right, fn)
	case Or:
		Walk(pred.Left, fn)
		Walk(pred.Right, fn)
	case Not:
		Walk(pred.Inner, fn)
	}
}
