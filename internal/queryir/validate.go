package queryir

import (
	"fmt"
	"strings"

	"github.com/roach88/relq/internal/entity"
	"github.com/roach88/relq/internal/value"
)

// Scope resolves attribute references against a source entity type and the
// types joined to it.
type Scope struct {
	from   *entity.Type
	types  []*entity.Type
	owners map[string][]*entity.Type
}

// NewScope creates a scope over from and the given joined types, in order.
func NewScope(from *entity.Type, joined ...*entity.Type) *Scope {
	s := &Scope{
		from:   from,
		owners: make(map[string][]*entity.Type),
	}
	s.add(from)
	for _, t := range joined {
		s.add(t)
	}
	return s
}

func (s *Scope) add(t *entity.Type) {
	if t == nil {
		return
	}
	s.types = append(s.types, t)
	for _, a := range t.Attributes() {
		s.owners[a.Name()] = append(s.owners[a.Name()], t)
	}
}

// From returns the source entity type.
func (s *Scope) From() *entity.Type { return s.from }

// Owner returns the entity type that declares a. The identity
// pseudo-attribute belongs to the source type.
func (s *Scope) Owner(a entity.Attribute) (*entity.Type, error) {
	if a.IsID() {
		return s.from, nil
	}
	owners := s.owners[a.Name()]
	switch len(owners) {
	case 0:
		return nil, NewValidationError("attribute %s is not declared on %s", a.Name(), s.typeNames())
	case 1:
		if !owners[0].Declares(a) {
			decl, _ := owners[0].Lookup(a.Name())
			return nil, NewValidationError("attribute %s is declared on %s as %s, referenced as %s",
				a.Name(), owners[0].Name(), decl.Kind(), a.Kind())
		}
		return owners[0], nil
	default:
		names := make([]string, len(owners))
		for i, t := range owners {
			names[i] = t.Name()
		}
		return nil, NewValidationError("attribute %s is ambiguous: declared on %s", a.Name(), strings.Join(names, ", "))
	}
}

// IsLocal reports whether a resolves to the source entity type.
func (s *Scope) IsLocal(a entity.Attribute) bool {
	owner, err := s.Owner(a)
	return err == nil && owner == s.from
}

func (s *Scope) typeNames() string {
	names := make([]string, len(s.types))
	for i, t := range s.types {
		names[i] = t.Name()
	}
	return strings.Join(names, ", ")
}

// Resolve validates q and returns the scope of its source and joined types.
// Backends call Resolve before lowering a query.
func Resolve(q Query) (*Scope, error) {
	if err := Validate(q); err != nil {
		return nil, err
	}
	joined := make([]*entity.Type, len(q.Joins))
	for i, j := range q.Joins {
		joined[i] = j.Source
	}
	return NewScope(q.From, joined...), nil
}

// Validate checks q against the algebra invariants.
//
// Rules:
//  1. From is set, Select is non-empty, joined types are distinct
//  2. Every attribute reference resolves to exactly one type in scope
//  3. Literal kinds match attribute kinds; LIKE needs strings; null only with EQ
//  4. With GROUP BY, every non-aggregated select and order term is grouped and
//     HAVING references grouped attributes only
//  5. Without GROUP BY, HAVING is empty and select terms are either all
//     aggregations or none
//  6. SUM and AVG aggregate integer attributes
//
// All violations are collected into a single validation error.
// Validate is a pure function with no side effects.
func Validate(q Query) error {
	v := &validator{}
	v.validateQuery(q)
	if len(v.errs) == 0 {
		return nil
	}
	return NewValidationError("%s", strings.Join(v.errs, "; "))
}

// validator accumulates violations during traversal.
type validator struct {
	errs []string
}

// addError appends a violation message.
func (v *validator) addError(format string, args ...any) {
	v.errs = append(v.errs, fmt.Sprintf(format, args...))
}

// addErr appends err's message, unwrapping validation errors.
func (v *validator) addErr(err error) {
	if qe, ok := err.(*Error); ok {
		v.errs = append(v.errs, qe.Message)
		return
	}
	v.errs = append(v.errs, err.Error())
}

func (v *validator) validateQuery(q Query) {
	if q.From == nil {
		v.addError("from is required")
		return
	}
	if len(q.Select) == 0 {
		v.addError("at least one select term is required")
	}

	joined := v.validateJoins(q)
	scope := NewScope(q.From, joined...)

	for _, t := range q.Select {
		v.validateSelectTerm(scope, t)
	}
	for _, p := range q.Where {
		v.validatePredicate(scope, "where", p)
	}
	for _, g := range q.GroupBy {
		v.resolve(scope, g.Attr)
	}
	for _, p := range q.Having {
		v.validatePredicate(scope, "having", p)
	}
	for _, o := range q.OrderBy {
		if o.Term == nil {
			v.addError("order by: nil term")
			continue
		}
		if o.Direction != Asc && o.Direction != Desc {
			v.addError("order by %s: invalid direction %v", o.Term.Attribute().Name(), o.Direction)
		}
		v.validateSelectTerm(scope, o.Term)
	}

	v.validateGrouping(q)
}

// validateJoins checks join sources and on-conditions and returns the joined
// types. Each on-condition resolves against the source, earlier joins and
// the join's own type, and must also be unambiguous once every join is in
// scope, since backends render it against the whole query.
func (v *validator) validateJoins(q Query) []*entity.Type {
	seen := map[string]bool{q.From.Name(): true}
	var joined []*entity.Type
	var valid []Join
	for i, j := range q.Joins {
		if j.Source == nil {
			v.addError("join %d: source entity type is required", i)
			continue
		}
		if seen[j.Source.Name()] {
			v.addError("join %d: entity type %s is already part of the query", i, j.Source.Name())
			continue
		}
		seen[j.Source.Name()] = true
		joined = append(joined, j.Source)
		valid = append(valid, j)

		if len(j.On) == 0 {
			v.addError("join %s: at least one on-condition is required", j.Source.Name())
		}
		scope := NewScope(q.From, joined...)
		for _, c := range j.On {
			v.validateComparison(scope, "join "+j.Source.Name(), c)
		}
	}

	full := NewScope(q.From, joined...)
	for i, j := range valid {
		local := NewScope(q.From, joined[:i+1]...)
		for _, c := range j.On {
			refs := []entity.Attribute{c.Left.Attr}
			if r, ok := c.Right.(AttrRef); ok {
				refs = append(refs, r.Attr)
			}
			for _, a := range refs {
				if a.IsZero() {
					continue
				}
				if _, err := local.Owner(a); err != nil {
					continue
				}
				if _, err := full.Owner(a); err != nil {
					v.addError("join %s: %s", j.Source.Name(), err.(*Error).Message)
				}
			}
		}
	}
	return joined
}

func (v *validator) resolve(scope *Scope, a entity.Attribute) bool {
	if a.IsZero() {
		v.addError("empty attribute reference")
		return false
	}
	if _, err := scope.Owner(a); err != nil {
		v.addErr(err)
		return false
	}
	return true
}

func (v *validator) validateSelectTerm(scope *Scope, t SelectTerm) {
	switch term := t.(type) {
	case Projection:
		v.resolve(scope, term.Attr)
	case Aggregation:
		if !v.resolve(scope, term.Of.Attr) {
			return
		}
		switch term.Kind {
		case AggMax, AggMin, AggCount:
		case AggSum, AggAvg:
			if term.Of.Attr.Kind() != entity.KindInteger {
				v.addError("%s(%s): attribute must be an integer", term.Kind, term.Of.Attr.Name())
			}
		default:
			v.addError("aggregation of %s: invalid aggregate kind %v", term.Of.Attr.Name(), term.Kind)
		}
	case nil:
		v.addError("nil select term")
	default:
		v.addError("unknown select term type: %T", t)
	}
}

func (v *validator) validatePredicate(scope *Scope, clause string, p Predicate) {
	switch pred := p.(type) {
	case Comparison:
		v.validateComparison(scope, clause, pred)
	case And:
		v.validateOperands(scope, clause, "and", pred.Left, pred.Right)
	case Or:
		v.validateOperands(scope, clause, "or", pred.Left, pred.Right)
	case Not:
		v.validateOperands(scope, clause, "not", pred.Inner)
	case nil:
		v.addError("%s: nil predicate", clause)
	default:
		v.addError("%s: unknown predicate type: %T", clause, p)
	}
}

func (v *validator) validateOperands(scope *Scope, clause, op string, operands ...Predicate) {
	for _, p := range operands {
		if p == nil {
			v.addError("%s: %s with nil operand", clause, op)
			continue
		}
		v.validatePredicate(scope, clause, p)
	}
}

func (v *validator) validateComparison(scope *Scope, clause string, c Comparison) {
	left := c.Left.Attr
	if !v.resolve(scope, left) {
		return
	}
	if c.Op < OpEQ || c.Op > OpLike {
		v.addError("%s: invalid operator %v", clause, c.Op)
		return
	}
	if c.Op == OpLike && left.Kind() != entity.KindString {
		v.addError("%s: like on non-string attribute %s", clause, left.Name())
	}

	switch right := c.Right.(type) {
	case AttrRef:
		if !v.resolve(scope, right.Attr) {
			return
		}
		if right.Attr.Kind() != left.Kind() {
			v.addError("%s: cannot compare %s (%s) with %s (%s)", clause,
				left.Name(), left.Kind(), right.Attr.Name(), right.Attr.Kind())
		}
	case Literal:
		switch lit := right.Value.(type) {
		case value.String:
			if left.Kind() != entity.KindString {
				v.addError("%s: string literal %q compared with %s attribute %s", clause, string(lit), left.Kind(), left.Name())
			}
		case value.Int:
			if left.Kind() != entity.KindInteger {
				v.addError("%s: integer literal %d compared with %s attribute %s", clause, int64(lit), left.Kind(), left.Name())
			}
			if c.Op == OpLike {
				v.addError("%s: like pattern must be a string", clause)
			}
		default:
			v.addError("%s: unsupported literal %v (%T) for %s", clause, right.Value, right.Value, left.Name())
		}
	case NullLiteral:
		if c.Op != OpEQ {
			v.addError("%s: null can only be compared with eq, got %s", clause, c.Op)
		}
	case nil:
		v.addError("%s: comparison on %s has no right-hand term", clause, left.Name())
	default:
		v.addError("%s: unknown term type: %T", clause, c.Right)
	}
}

// validateGrouping enforces the GROUP BY rules.
func (v *validator) validateGrouping(q Query) {
	aggregates := 0
	for _, t := range q.Select {
		if _, ok := t.(Aggregation); ok {
			aggregates++
		}
	}

	if len(q.GroupBy) == 0 {
		if len(q.Having) > 0 {
			v.addError("having requires group by")
		}
		if aggregates > 0 && aggregates < len(q.Select) {
			v.addError("select mixes aggregations with plain attributes but has no group by")
		}
		for _, o := range q.OrderBy {
			_, isAgg := o.Term.(Aggregation)
			if o.Term != nil && aggregates > 0 && !isAgg {
				v.addError("order by %s: aggregate query can only be ordered by aggregations", o.Term.Attribute().Name())
			}
			if o.Term != nil && aggregates == 0 && isAgg {
				v.addError("order by %s: aggregation in a query without aggregation", o.Term.Attribute().Name())
			}
		}
		return
	}

	grouped := make(map[entity.Attribute]bool, len(q.GroupBy))
	for _, g := range q.GroupBy {
		grouped[g.Attr] = true
	}
	for _, t := range q.Select {
		if p, ok := t.(Projection); ok && !grouped[p.Attr] {
			v.addError("select %s: attribute is neither grouped nor aggregated", p.Attr.Name())
		}
	}
	for _, o := range q.OrderBy {
		if p, ok := o.Term.(Projection); ok && !grouped[p.Attr] {
			v.addError("order by %s: attribute is neither grouped nor aggregated", p.Attr.Name())
		}
	}
	for _, p := range q.Having {
		Walk(p, func(ref AttrRef) {
			if !grouped[ref.Attr] {
				v.addError("having %s: attribute is not grouped", ref.Attr.Name())
			}
		})
	}
}
