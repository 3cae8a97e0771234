// Package memrepo implements repo.Repository in memory.
//
// Queries are evaluated directly over the algebra with the relational
// semantics the SQL backends have: inner joins, three-valued predicate logic,
// null-ignoring aggregates, nulls first in ascending order. It serves as the
// reference backend in cross-backend tests and as the default backend of the
// scenario harness.
package memrepo

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/roach88/relq/internal/entity"
	"github.com/roach88/relq/internal/queryir"
	"github.com/roach88/relq/internal/repo"
	"github.com/roach88/relq/internal/value"
)

// Backend is the backend name reported in errors.
const Backend = "memory"

// Repository is an in-memory repo.Repository. It is safe for concurrent use.
type Repository struct {
	mu     sync.RWMutex
	tables map[string]*table
	logger *slog.Logger
}

var _ repo.Repository = (*Repository)(nil)

type table struct {
	typ  *entity.Type
	rows []*entity.Entity
	ids  map[string]bool
}

// New creates an empty repository.
func New(opts ...repo.Option) *Repository {
	o := repo.ApplyOptions(opts...)
	return &Repository{
		tables: make(map[string]*table),
		logger: o.Logger,
	}
}

// InitSchema recreates an empty table per entity type.
func (r *Repository) InitSchema(_ context.Context, types ...*entity.Type) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, t := range types {
		if t == nil {
			return queryir.NewSchemaError(Backend, "", fmt.Errorf("nil entity type"))
		}
		r.tables[t.Name()] = &table{typ: t, ids: make(map[string]bool)}
	}
	return nil
}

// InsertEntities appends entities in order. Ids are unique per type.
func (r *Repository) InsertEntities(_ context.Context, entities ...*entity.Entity) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range entities {
		tbl, ok := r.tables[e.Type().Name()]
		if !ok || tbl.typ != e.Type() {
			return queryir.NewWriteError(Backend, "", fmt.Errorf("entity %s/%s: type %s is not initialized", e.Type().Name(), e.ID(), e.Type().Name()))
		}
		if tbl.ids[e.ID()] {
			return queryir.NewWriteError(Backend, "", fmt.Errorf("entity %s/%s: duplicate id", e.Type().Name(), e.ID()))
		}
		tbl.ids[e.ID()] = true
		tbl.rows = append(tbl.rows, e)
	}
	return nil
}

// Execute evaluates q over the stored entities.
func (r *Repository) Execute(ctx context.Context, q queryir.Query) ([]value.Row, error) {
	scope, err := queryir.Resolve(q)
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	queryID := repo.NewQueryID()
	r.logger.Debug("execute query", "backend", Backend, "query_id", queryID, "from", q.From.Name())

	ex := &execution{scope: scope}
	rows, err := ex.run(ctx, q, r.tables)
	if err == nil {
		err = ex.err
	}
	if err != nil {
		return nil, err
	}

	r.logger.Debug("query complete", "query_id", queryID, "rows", len(rows))
	return rows, nil
}

// binding is one joined row: an entity per type in scope.
type binding map[*entity.Type]*entity.Entity

// execution holds the state of one query evaluation.
type execution struct {
	scope *queryir.Scope
	err   error // first unresolved attribute
}

func (ex *execution) rows(tables map[string]*table, t *entity.Type) ([]*entity.Entity, error) {
	tbl, ok := tables[t.Name()]
	if !ok || tbl.typ != t {
		return nil, queryir.NewQueryExecutionError(Backend, "", fmt.Errorf("entity type %s is not initialized", t.Name()))
	}
	return tbl.rows, nil
}

// lookup reads an attribute from the entity of its owning type.
func (ex *execution) lookup(b binding) lookupFunc {
	return func(a entity.Attribute) value.Value {
		owner, err := ex.scope.Owner(a)
		if err != nil {
			if ex.err == nil {
				ex.err = err
			}
			return value.Null{}
		}
		e := b[owner]
		if e == nil {
			return value.Null{}
		}
		if a.IsID() {
			return value.String(e.ID())
		}
		v, ok := e.Get(a)
		if !ok {
			return value.Null{}
		}
		out, err := value.FromNative(v.Native())
		if err != nil {
			return value.Null{}
		}
		return out
	}
}

func (ex *execution) run(ctx context.Context, q queryir.Query, tables map[string]*table) ([]value.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, queryir.NewQueryExecutionError(Backend, "", err)
	}
	base, err := ex.rows(tables, q.From)
	if err != nil {
		return nil, err
	}
	bindings := make([]binding, 0, len(base))
	for _, e := range base {
		bindings = append(bindings, binding{q.From: e})
	}

	for _, j := range q.Joins {
		if err := ctx.Err(); err != nil {
			return nil, queryir.NewQueryExecutionError(Backend, "", err)
		}
		if bindings, err = ex.join(bindings, j, tables); err != nil {
			return nil, err
		}
	}

	if bindings, err = ex.filter(bindings, q.Where); err != nil {
		return nil, err
	}

	var fs []frame
	if grouped(q) {
		if fs, err = ex.group(bindings, q); err != nil {
			return nil, err
		}
	} else {
		fs = make([]frame, len(bindings))
		for i, b := range bindings {
			fs[i] = frame{lookup: ex.lookup(b)}
		}
	}

	if err := sortFrames(fs, q.OrderBy); err != nil {
		return nil, err
	}

	out := make([]value.Row, len(fs))
	for i, f := range fs {
		row := make(value.Row, len(q.Select))
		for j, t := range q.Select {
			if row[j], err = f.term(t); err != nil {
				return nil, err
			}
		}
		out[i] = row
	}
	return out, nil
}

// join keeps every combination of a binding and a joined entity for which
// all on-conditions are true.
func (ex *execution) join(left []binding, j queryir.Join, tables map[string]*table) ([]binding, error) {
	right, err := ex.rows(tables, j.Source)
	if err != nil {
		return nil, err
	}
	on := make([]queryir.Predicate, len(j.On))
	for i, c := range j.On {
		on[i] = c
	}

	var out []binding
	for _, b := range left {
		for _, e := range right {
			candidate := make(binding, len(b)+1)
			for t, v := range b {
				candidate[t] = v
			}
			candidate[j.Source] = e
			ok, err := evaluator{lookup: ex.lookup(candidate)}.all(on)
			if err != nil {
				return nil, err
			}
			if ok == tTrue {
				out = append(out, candidate)
			}
		}
	}
	return out, nil
}

func (ex *execution) filter(bindings []binding, preds []queryir.Predicate) ([]binding, error) {
	if len(preds) == 0 {
		return bindings, nil
	}
	out := bindings[:0:0]
	for _, b := range bindings {
		ok, err := evaluator{lookup: ex.lookup(b)}.all(preds)
		if err != nil {
			return nil, err
		}
		if ok == tTrue {
			out = append(out, b)
		}
	}
	return out, nil
}

func grouped(q queryir.Query) bool {
	if len(q.GroupBy) > 0 {
		return true
	}
	for _, t := range q.Select {
		if _, ok := t.(queryir.Aggregation); ok {
			return true
		}
	}
	return false
}

// group partitions bindings by the group-by values in order of first
// appearance. Without group by all bindings form one group, which exists
// even when there are no bindings.
func (ex *execution) group(bindings []binding, q queryir.Query) ([]frame, error) {
	type group struct {
		key     value.Row
		members []binding
	}
	var groups []*group
	if len(q.GroupBy) == 0 {
		groups = append(groups, &group{members: bindings})
	} else {
	next:
		for _, b := range bindings {
			lookup := ex.lookup(b)
			key := make(value.Row, len(q.GroupBy))
			for i, ref := range q.GroupBy {
				key[i] = lookup(ref.Attr)
			}
			for _, g := range groups {
				if sameKey(g.key, key) {
					g.members = append(g.members, b)
					continue next
				}
			}
			groups = append(groups, &group{key: key, members: []binding{b}})
		}
	}

	out := make([]frame, 0, len(groups))
	for _, g := range groups {
		f := frame{ex: ex, members: g.members, lookup: groupLookup(q.GroupBy, g.key)}
		ok, err := evaluator{lookup: f.lookup}.all(q.Having)
		if err != nil {
			return nil, err
		}
		if ok == tTrue {
			out = append(out, f)
		}
	}
	return out, nil
}

func sameKey(a, b value.Row) bool {
	for i := range a {
		if !value.Equal(a[i], b[i]) {
			return false
		}
	}
	return true
}

func groupLookup(refs []queryir.AttrRef, key value.Row) lookupFunc {
	return func(a entity.Attribute) value.Value {
		for i, ref := range refs {
			if ref.Attr == a {
				return key[i]
			}
		}
		return value.Null{}
	}
}

// frame is the evaluation context of one output row: a single binding, or a
// group with its members.
type frame struct {
	ex      *execution
	lookup  lookupFunc
	members []binding
}

func (f frame) term(t queryir.SelectTerm) (value.Value, error) {
	return queryir.VisitSelectTerm[value.Value](t, f)
}

func (f frame) VisitProjection(p queryir.Projection) (value.Value, error) {
	return f.lookup(p.Attr), nil
}

func (f frame) VisitAggregation(a queryir.Aggregation) (value.Value, error) {
	if f.ex == nil {
		return nil, queryir.NewValidationError("aggregation %s outside a group", queryir.OutputName(a))
	}
	var values []value.Value
	for _, b := range f.members {
		if v := f.ex.lookup(b)(a.Of.Attr); !value.IsNull(v) {
			values = append(values, v)
		}
	}
	return queryir.VisitAggregate[value.Value](a.Kind, aggregator{values: values})
}

// sortFrames orders frames by the order-by keys. Nulls sort first ascending
// and last descending; ties keep their evaluation order.
func sortFrames(fs []frame, order []queryir.OrderBy) error {
	if len(order) == 0 {
		return nil
	}
	keys := make([]value.Row, len(fs))
	for i, f := range fs {
		keys[i] = make(value.Row, len(order))
		for j, o := range order {
			v, err := f.term(o.Term)
			if err != nil {
				return err
			}
			keys[i][j] = v
		}
	}

	idx := make([]int, len(fs))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		ka, kb := keys[idx[a]], keys[idx[b]]
		for j, o := range order {
			c := value.Compare(ka[j], kb[j])
			if o.Direction == queryir.Desc {
				c = -c
			}
			if c != 0 {
				return c < 0
			}
		}
		return false
	})

	sorted := make([]frame, len(fs))
	for i, k := range idx {
		sorted[i] = fs[k]
	}
	copy(fs, sorted)
	return nil
}
