package memrepo

import (
	"regexp"
	"strings"

	"github.com/roach88/relq/internal/entity"
	"github.com/roach88/relq/internal/queryir"
	"github.com/roach88/relq/internal/value"
)

// truth is a three-valued logic value.
type truth int8

const (
	tFalse truth = iota
	tUnknown
	tTrue
)

func (t truth) not() truth { return tTrue - t }

func and(a, b truth) truth {
	if a < b {
		return a
	}
	return b
}

func or(a, b truth) truth {
	if a > b {
		return a
	}
	return b
}

func boolTruth(b bool) truth {
	if b {
		return tTrue
	}
	return tFalse
}

// lookupFunc returns the value of an attribute in the current row or group.
type lookupFunc func(entity.Attribute) value.Value

// evaluator evaluates predicates under SQL three-valued logic.
type evaluator struct {
	lookup lookupFunc
}

func (e evaluator) eval(p queryir.Predicate) (truth, error) {
	return queryir.VisitPredicate[truth](p, e)
}

// all is the conjunction of preds; an empty list is true.
func (e evaluator) all(preds []queryir.Predicate) (truth, error) {
	acc := tTrue
	for _, p := range preds {
		t, err := e.eval(p)
		if err != nil {
			return tFalse, err
		}
		acc = and(acc, t)
	}
	return acc, nil
}

func (e evaluator) VisitComparison(c queryir.Comparison) (truth, error) {
	left := e.lookup(c.Left.Attr)
	right, err := queryir.VisitTerm[operand](c.Right, e)
	if err != nil {
		return tFalse, err
	}
	if right.null {
		return boolTruth(value.IsNull(left)), nil
	}
	if value.IsNull(left) || value.IsNull(right.v) {
		return tUnknown, nil
	}
	return queryir.VisitOp[truth](c.Op, comparator{left: left, right: right.v})
}

func (e evaluator) VisitAnd(a queryir.And) (truth, error) {
	l, err := e.eval(a.Left)
	if err != nil {
		return tFalse, err
	}
	r, err := e.eval(a.Right)
	if err != nil {
		return tFalse, err
	}
	return and(l, r), nil
}

func (e evaluator) VisitOr(o queryir.Or) (truth, error) {
	l, err := e.eval(o.Left)
	if err != nil {
		return tFalse, err
	}
	r, err := e.eval(o.Right)
	if err != nil {
		return tFalse, err
	}
	return or(l, r), nil
}

func (e evaluator) VisitNot(n queryir.Not) (truth, error) {
	t, err := e.eval(n.Inner)
	if err != nil {
		return tFalse, err
	}
	return t.not(), nil
}

// operand is an evaluated comparison term. null marks the null literal,
// which turns EQ into a null test.
type operand struct {
	v    value.Value
	null bool
}

func (e evaluator) VisitAttrRef(r queryir.AttrRef) (operand, error) {
	return operand{v: e.lookup(r.Attr)}, nil
}

func (e evaluator) VisitLiteral(l queryir.Literal) (operand, error) {
	return operand{v: l.Value}, nil
}

func (e evaluator) VisitNull(queryir.NullLiteral) (operand, error) {
	return operand{null: true}, nil
}

// comparator applies an operator to two non-null values.
type comparator struct {
	left, right value.Value
}

func (c comparator) VisitEQ() (truth, error) {
	return boolTruth(value.Compare(c.left, c.right) == 0), nil
}

func (c comparator) VisitLT() (truth, error) {
	return boolTruth(value.Compare(c.left, c.right) < 0), nil
}

func (c comparator) VisitGT() (truth, error) {
	return boolTruth(value.Compare(c.left, c.right) > 0), nil
}

func (c comparator) VisitLike() (truth, error) {
	s, ok := c.left.(value.String)
	pattern, pok := c.right.(value.String)
	if !ok || !pok {
		return tFalse, nil
	}
	re, err := likePattern(string(pattern))
	if err != nil {
		return tFalse, err
	}
	return boolTruth(re.MatchString(string(s))), nil
}

// likePattern translates a LIKE pattern (% any run, _ one character) into an
// anchored, case-sensitive regular expression.
func likePattern(pattern string) (*regexp.Regexp, error) {
	var sb strings.Builder
	sb.WriteString(`(?s)\A`)
	var lit strings.Builder
	flush := func() {
		sb.WriteString(regexp.QuoteMeta(lit.String()))
		lit.Reset()
	}
	for _, r := range pattern {
		switch r {
		case '%':
			flush()
			sb.WriteString(".*")
		case '_':
			flush()
			sb.WriteString(".")
		default:
			lit.WriteRune(r)
		}
	}
	flush()
	sb.WriteString(`\z`)
	return regexp.Compile(sb.String())
}

// aggregator folds the non-null values of a group.
type aggregator struct {
	values []value.Value
}

func (a aggregator) VisitCount() (value.Value, error) {
	return value.Int(len(a.values)), nil
}

func (a aggregator) VisitSum() (value.Value, error) {
	if len(a.values) == 0 {
		return value.Null{}, nil
	}
	var sum int64
	for _, v := range a.values {
		sum += int64(v.(value.Int))
	}
	return value.Int(sum), nil
}

func (a aggregator) VisitAvg() (value.Value, error) {
	if len(a.values) == 0 {
		return value.Null{}, nil
	}
	var sum float64
	for _, v := range a.values {
		sum += float64(v.(value.Int))
	}
	return value.Float(sum / float64(len(a.values))), nil
}

func (a aggregator) VisitMax() (value.Value, error) { return a.extreme(1), nil }
func (a aggregator) VisitMin() (value.Value, error) { return a.extreme(-1), nil }

func (a aggregator) extreme(sign int) value.Value {
	if len(a.values) == 0 {
		return value.Null{}
	}
	best := a.values[0]
	for _, v := range a.values[1:] {
		if value.Compare(v, best)*sign > 0 {
			best = v
		}
	}
	return best
}
