// Package query builds validated queryir.Query values with a fluent API.
//
// Example:
//
//	q, err := query.Select(query.Attr(fooStr), query.Sum(fooInt)).
//	    From(fooType).
//	    Where(query.Gt(fooInt, 3)).
//	    GroupBy(fooStr).
//	    OrderBy(query.Desc(query.Sum(fooInt))).
//	    Build()
//
// Predicates and terms compose without validation; attribute resolution and
// every other invariant is checked once, in Build.
package query

import (
	"github.com/roach88/relq/internal/entity"
	"github.com/roach88/relq/internal/queryir"
)

// Builder accumulates the clauses of a query.
// A Builder is not safe for concurrent use and builds exactly once.
type Builder struct {
	q     queryir.Query
	built bool
}

// Select starts a query with the given output terms.
func Select(terms ...queryir.SelectTerm) *Builder {
	b := &Builder{}
	b.q.Select = append(b.q.Select, terms...)
	return b
}

// From sets the source entity type.
func (b *Builder) From(t *entity.Type) *Builder {
	b.q.From = t
	return b
}

// Where conjoins predicates to the filter. Multiple calls are combined with
// AND.
func (b *Builder) Where(preds ...queryir.Predicate) *Builder {
	b.q.Where = append(b.q.Where, preds...)
	return b
}

// And is Where.
func (b *Builder) And(preds ...queryir.Predicate) *Builder {
	return b.Where(preds...)
}

// Join adds an inner join.
func (b *Builder) Join(j *JoinClause) *Builder {
	if j == nil {
		b.q.Joins = append(b.q.Joins, queryir.Join{})
		return b
	}
	b.q.Joins = append(b.q.Joins, queryir.Join{
		Source: j.source,
		On:     append([]queryir.Comparison(nil), j.on...),
	})
	return b
}

// GroupBy sets the grouping attributes.
func (b *Builder) GroupBy(attrs ...entity.Attribute) *Builder {
	for _, a := range attrs {
		b.q.GroupBy = append(b.q.GroupBy, queryir.AttrRef{Attr: a})
	}
	return b
}

// Having conjoins predicates to the group filter.
func (b *Builder) Having(preds ...queryir.Predicate) *Builder {
	b.q.Having = append(b.q.Having, preds...)
	return b
}

// OrderBy appends sort keys.
func (b *Builder) OrderBy(orders ...queryir.OrderBy) *Builder {
	b.q.OrderBy = append(b.q.OrderBy, orders...)
	return b
}

// Build returns the query after validating it.
// The returned query shares no slices with the builder. A second call fails
// with a validation error.
func (b *Builder) Build() (queryir.Query, error) {
	if b.built {
		return queryir.Query{}, queryir.NewValidationError("query builder already built")
	}
	b.built = true

	q := queryir.Query{
		Select:  clone(b.q.Select),
		From:    b.q.From,
		Where:   clone(b.q.Where),
		Joins:   make([]queryir.Join, len(b.q.Joins)),
		GroupBy: clone(b.q.GroupBy),
		Having:  clone(b.q.Having),
		OrderBy: clone(b.q.OrderBy),
	}
	for i, j := range b.q.Joins {
		q.Joins[i] = queryir.Join{Source: j.Source, On: clone(j.On)}
	}
	if len(q.Joins) == 0 {
		q.Joins = nil
	}

	if err := queryir.Validate(q); err != nil {
		return queryir.Query{}, err
	}
	return q, nil
}

// MustBuild is like Build but panics on error. Intended for tests and
// package-level query declarations.
func (b *Builder) MustBuild() queryir.Query {
	q, err := b.Build()
	if err != nil {
		panic(err)
	}
	return q
}

func clone[T any](s []T) []T {
	if len(s) == 0 {
		return nil
	}
	return append([]T(nil), s...)
}

// JoinClause describes a join under construction.
type JoinClause struct {
	source *entity.Type
	on     []queryir.Comparison
}

// JoinOn starts a join of t.
func JoinOn(t *entity.Type) *JoinClause {
	return &JoinClause{source: t}
}

// On conjoins join conditions.
func (j *JoinClause) On(conds ...queryir.Comparison) *JoinClause {
	j.on = append(j.on, conds...)
	return j
}
