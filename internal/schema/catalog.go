// Package schema loads relq catalogs written in CUE.
//
// A catalog declares entity types and named queries:
//
//	entity: foo: {
//		foo_str: "string"
//		foo_int: "integer"
//	}
//
//	query: cheap_foo: {
//		select: ["foo_str", {sum: "foo_int"}]
//		from:   "foo"
//		join: [{entity: "bar", on: [{attr: "id", field: "bar_foo"}]}]
//		where: [{attr: "foo_int", op: "lt", value: 43}]
//		group_by: ["foo_str"]
//		having: [{not: {attr: "foo_str", value: null}}]
//		order_by: [{desc: {sum: "foo_int"}}, "foo_str"]
//	}
//
// A comparison compares attr with a literal (value), another attribute
// (field) or null (value: null); op is eq, lt, gt or like and defaults to
// eq. Predicates combine with {"and": [...]}, {"or": [...]} and
// {not: {...}}; and and or are quoted because they are CUE builtins.
// Select and order terms are an attribute name or a single-key struct
// naming the aggregation. "id" is the identity of the source entity.
package schema

import (
	"fmt"

	"cuelang.org/go/cue"

	"github.com/roach88/relq/internal/entity"
	"github.com/roach88/relq/internal/query"
	"github.com/roach88/relq/internal/queryir"
)

// Catalog is a loaded set of entity types and named queries, in
// declaration order.
type Catalog struct {
	Types   []*entity.Type
	Queries []NamedQuery

	types map[string]*entity.Type
}

// NamedQuery is a validated query with its catalog name.
type NamedQuery struct {
	Name  string
	Query queryir.Query
}

// Type returns the entity type declared under name.
func (c *Catalog) Type(name string) (*entity.Type, bool) {
	t, ok := c.types[name]
	return t, ok
}

// Query returns the query declared under name.
func (c *Catalog) Query(name string) (queryir.Query, bool) {
	for _, q := range c.Queries {
		if q.Name == name {
			return q.Query, true
		}
	}
	return queryir.Query{}, false
}

// Compile reads entity types and queries from a CUE value. In fail-fast
// mode it stops at the first error; otherwise every broken declaration is
// reported and skipped.
func Compile(v cue.Value, mode LoadMode) (*Catalog, []error) {
	c := &Catalog{types: make(map[string]*entity.Type)}
	var errs []error
	report := func(err error) bool {
		errs = append(errs, err)
		return mode == LoadModeFailFast
	}

	if err := v.Validate(); err != nil {
		return c, []error{fromCUE(ErrCodeBuildFailed, "", err)}
	}

	entities := v.LookupPath(cue.ParsePath("entity"))
	if entities.Exists() {
		iter, err := entities.Fields()
		if err != nil && report(fromCUE(ErrCodeInvalidEntity, "entity", err)) {
			return c, errs
		}
		for err == nil && iter.Next() {
			t, terr := compileType(iter.Label(), iter.Value())
			if terr != nil {
				if report(terr) {
					return c, errs
				}
				continue
			}
			c.Types = append(c.Types, t)
			c.types[t.Name()] = t
		}
	}

	queries := v.LookupPath(cue.ParsePath("query"))
	if queries.Exists() {
		iter, err := queries.Fields()
		if err != nil && report(fromCUE(ErrCodeInvalidQuery, "query", err)) {
			return c, errs
		}
		for err == nil && iter.Next() {
			name := iter.Label()
			q, qerr := c.compileQuery("query."+name, iter.Value())
			if qerr != nil {
				if report(qerr) {
					return c, errs
				}
				continue
			}
			c.Queries = append(c.Queries, NamedQuery{Name: name, Query: q})
		}
	}

	if len(c.Types) == 0 && len(c.Queries) == 0 && len(errs) == 0 {
		errs = append(errs, newError(ErrCodeEmpty, "", v.Pos(), "no entities or queries found in catalog"))
	}
	return c, errs
}

func compileType(name string, v cue.Value) (*entity.Type, error) {
	path := "entity." + name
	iter, err := v.Fields()
	if err != nil {
		return nil, fromCUE(ErrCodeInvalidEntity, path, err)
	}

	var attrs []entity.Attribute
	for iter.Next() {
		attrName := iter.Label()
		kindName, err := iter.Value().String()
		if err != nil {
			return nil, newError(ErrCodeInvalidKind, path+"."+attrName, iter.Value().Pos(), "attribute kind must be a string")
		}
		kind, err := entity.ParseKind(kindName)
		if err != nil {
			return nil, newError(ErrCodeInvalidKind, path+"."+attrName, iter.Value().Pos(), "%v", err)
		}
		attrs = append(attrs, entity.NewAttribute(kind, attrName))
	}

	t, err := entity.NewType(name, attrs...)
	if err != nil {
		return nil, newError(ErrCodeInvalidEntity, path, v.Pos(), "%v", err)
	}
	return t, nil
}

// queryDecoder turns one query declaration into a builder.
type queryDecoder struct {
	catalog *Catalog
	path    string
	scope   []*entity.Type
}

func (c *Catalog) compileQuery(path string, v cue.Value) (queryir.Query, error) {
	d := &queryDecoder{catalog: c, path: path}

	from, err := d.entityRef(v, "from")
	if err != nil {
		return queryir.Query{}, err
	}
	d.scope = append(d.scope, from)

	joins, err := d.joins(v)
	if err != nil {
		return queryir.Query{}, err
	}

	sel, err := d.selectTerms(v, "select")
	if err != nil {
		return queryir.Query{}, err
	}
	b := query.Select(sel...).From(from)
	for _, j := range joins {
		b.Join(j)
	}

	where, err := d.predicates(v, "where")
	if err != nil {
		return queryir.Query{}, err
	}
	b.Where(where...)

	groupBy, err := d.attributes(v, "group_by")
	if err != nil {
		return queryir.Query{}, err
	}
	b.GroupBy(groupBy...)

	having, err := d.predicates(v, "having")
	if err != nil {
		return queryir.Query{}, err
	}
	b.Having(having...)

	orders, err := d.orders(v)
	if err != nil {
		return queryir.Query{}, err
	}
	b.OrderBy(orders...)

	q, err := b.Build()
	if err != nil {
		return queryir.Query{}, newError(ErrCodeQueryValidation, path, v.Pos(), "%v", err)
	}
	return q, nil
}

func (d *queryDecoder) invalid(v cue.Value, field, format string, args ...any) *Error {
	p := d.path
	if field != "" {
		p += "." + field
	}
	return newError(ErrCodeInvalidQuery, p, v.Pos(), format, args...)
}

func (d *queryDecoder) entityRef(v cue.Value, field string) (*entity.Type, error) {
	ref := v.LookupPath(cue.ParsePath(field))
	if !ref.Exists() {
		return nil, d.invalid(v, field, "%s is required", field)
	}
	name, err := ref.String()
	if err != nil {
		return nil, d.invalid(ref, field, "%s must be an entity name", field)
	}
	t, ok := d.catalog.Type(name)
	if !ok {
		return nil, newError(ErrCodeUnknownEntity, d.path+"."+field, ref.Pos(), "entity %q is not declared", name)
	}
	return t, nil
}

// list returns the elements of an optional list field.
func (d *queryDecoder) list(v cue.Value, field string) ([]cue.Value, error) {
	lv := v.LookupPath(cue.ParsePath(field))
	if !lv.Exists() {
		return nil, nil
	}
	iter, err := lv.List()
	if err != nil {
		return nil, d.invalid(lv, field, "%s must be a list", field)
	}
	var out []cue.Value
	for iter.Next() {
		out = append(out, iter.Value())
	}
	return out, nil
}

func (d *queryDecoder) joins(v cue.Value) ([]*query.JoinClause, error) {
	items, err := d.list(v, "join")
	if err != nil {
		return nil, err
	}
	var out []*query.JoinClause
	for i, item := range items {
		t, err := d.entityRef(item, "entity")
		if err != nil {
			return nil, err
		}
		d.scope = append(d.scope, t)

		onItems, err := d.list(item, "on")
		if err != nil {
			return nil, err
		}
		var on []queryir.Comparison
		for _, o := range onItems {
			p, err := d.predicate(o)
			if err != nil {
				return nil, err
			}
			c, ok := p.(queryir.Comparison)
			if !ok {
				return nil, d.invalid(o, fmt.Sprintf("join[%d].on", i), "join conditions must be comparisons")
			}
			on = append(on, c)
		}
		out = append(out, query.JoinOn(t).On(on...))
	}
	return out, nil
}

// attr resolves an attribute name against the source and joined types.
func (d *queryDecoder) attr(v cue.Value, field string) (entity.Attribute, error) {
	name, err := v.String()
	if err != nil {
		return entity.Attribute{}, d.invalid(v, field, "attribute reference must be a string")
	}
	if name == entity.IDName {
		return entity.ID, nil
	}

	var found []entity.Attribute
	for _, t := range d.scope {
		a, ok := t.Lookup(name)
		if !ok {
			continue
		}
		dup := false
		for _, f := range found {
			dup = dup || f == a
		}
		if !dup {
			found = append(found, a)
		}
	}
	switch len(found) {
	case 0:
		return entity.Attribute{}, newError(ErrCodeUnknownAttribute, d.path+"."+field, v.Pos(), "attribute %q is not declared on any entity in scope", name)
	case 1:
		return found[0], nil
	default:
		return entity.Attribute{}, newError(ErrCodeUnknownAttribute, d.path+"."+field, v.Pos(), "attribute %q is declared with different kinds in scope", name)
	}
}

func (d *queryDecoder) attributes(v cue.Value, field string) ([]entity.Attribute, error) {
	items, err := d.list(v, field)
	if err != nil {
		return nil, err
	}
	out := make([]entity.Attribute, 0, len(items))
	for _, item := range items {
		a, err := d.attr(item, field)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

var aggregations = map[string]func(entity.Attribute) queryir.Aggregation{
	"max":   query.Max,
	"min":   query.Min,
	"sum":   query.Sum,
	"avg":   query.Avg,
	"count": query.Count,
}

// selectTerm decodes "attr" or {kind: "attr"}.
func (d *queryDecoder) selectTerm(v cue.Value, field string) (queryir.SelectTerm, error) {
	if v.IncompleteKind() == cue.StringKind {
		a, err := d.attr(v, field)
		if err != nil {
			return nil, err
		}
		return query.Attr(a), nil
	}

	key, inner, err := d.singleField(v, field)
	if err != nil {
		return nil, err
	}
	agg, ok := aggregations[key]
	if !ok {
		return nil, d.invalid(v, field, "unknown aggregation %q", key)
	}
	a, err := d.attr(inner, field)
	if err != nil {
		return nil, err
	}
	return agg(a), nil
}

func (d *queryDecoder) selectTerms(v cue.Value, field string) ([]queryir.SelectTerm, error) {
	items, err := d.list(v, field)
	if err != nil {
		return nil, err
	}
	out := make([]queryir.SelectTerm, 0, len(items))
	for _, item := range items {
		t, err := d.selectTerm(item, field)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// singleField returns the only field of a struct.
func (d *queryDecoder) singleField(v cue.Value, field string) (string, cue.Value, error) {
	iter, err := v.Fields()
	if err != nil {
		return "", cue.Value{}, d.invalid(v, field, "expected a string or a single-key struct")
	}
	var key string
	var inner cue.Value
	n := 0
	for iter.Next() {
		key, inner = iter.Label(), iter.Value()
		n++
	}
	if n != 1 {
		return "", cue.Value{}, d.invalid(v, field, "expected exactly one key, got %d", n)
	}
	return key, inner, nil
}

func (d *queryDecoder) orders(v cue.Value) ([]queryir.OrderBy, error) {
	items, err := d.list(v, "order_by")
	if err != nil {
		return nil, err
	}
	out := make([]queryir.OrderBy, 0, len(items))
	for _, item := range items {
		if item.IncompleteKind() == cue.StringKind {
			t, err := d.selectTerm(item, "order_by")
			if err != nil {
				return nil, err
			}
			out = append(out, query.Asc(t))
			continue
		}

		key, inner, err := d.singleField(item, "order_by")
		if err != nil {
			return nil, err
		}
		dir, err := queryir.ParseDirection(key)
		if err != nil {
			return nil, d.invalid(item, "order_by", "%v", err)
		}
		t, err := d.selectTerm(inner, "order_by")
		if err != nil {
			return nil, err
		}
		out = append(out, queryir.OrderBy{Term: t, Direction: dir})
	}
	return out, nil
}

func (d *queryDecoder) predicates(v cue.Value, field string) ([]queryir.Predicate, error) {
	items, err := d.list(v, field)
	if err != nil {
		return nil, err
	}
	out := make([]queryir.Predicate, 0, len(items))
	for _, item := range items {
		p, err := d.predicate(item)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// predicate decodes a comparison or a boolean combination.
func (d *queryDecoder) predicate(v cue.Value) (queryir.Predicate, error) {
	for _, combinator := range []string{"and", "or"} {
		lv := v.LookupPath(cue.ParsePath(combinator))
		if !lv.Exists() {
			continue
		}
		parts, err := d.predicates(v, combinator)
		if err != nil {
			return nil, err
		}
		if len(parts) == 0 {
			return nil, d.invalid(lv, combinator, "%s needs at least one predicate", combinator)
		}
		if combinator == "and" {
			return query.And(parts...), nil
		}
		return query.Or(parts...), nil
	}

	if nv := v.LookupPath(cue.ParsePath("not")); nv.Exists() {
		inner, err := d.predicate(nv)
		if err != nil {
			return nil, err
		}
		return query.Not(inner), nil
	}

	return d.comparison(v)
}

func (d *queryDecoder) comparison(v cue.Value) (queryir.Predicate, error) {
	av := v.LookupPath(cue.ParsePath("attr"))
	if !av.Exists() {
		return nil, d.invalid(v, "", "predicate needs attr, and, or or not")
	}
	left, err := d.attr(av, "attr")
	if err != nil {
		return nil, err
	}

	op := queryir.OpEQ
	if ov := v.LookupPath(cue.ParsePath("op")); ov.Exists() {
		s, err := ov.String()
		if err != nil {
			return nil, d.invalid(ov, "op", "op must be a string")
		}
		if op, err = queryir.ParseOp(s); err != nil {
			return nil, d.invalid(ov, "op", "%v", err)
		}
	}

	right, err := d.rightTerm(v)
	if err != nil {
		return nil, err
	}
	return queryir.Comparison{Left: query.Field(left), Op: op, Right: right}, nil
}

func (d *queryDecoder) rightTerm(v cue.Value) (queryir.Term, error) {
	if fv := v.LookupPath(cue.ParsePath("field")); fv.Exists() {
		a, err := d.attr(fv, "field")
		if err != nil {
			return nil, err
		}
		return query.Field(a), nil
	}

	lv := v.LookupPath(cue.ParsePath("value"))
	if !lv.Exists() {
		return nil, d.invalid(v, "", "comparison needs value or field")
	}
	switch lv.IncompleteKind() {
	case cue.NullKind:
		return query.Null(), nil
	case cue.StringKind:
		s, err := lv.String()
		if err != nil {
			return nil, fromCUE(ErrCodeInvalidQuery, d.path+".value", err)
		}
		return query.Value(s), nil
	case cue.IntKind:
		n, err := lv.Int64()
		if err != nil {
			return nil, fromCUE(ErrCodeInvalidQuery, d.path+".value", err)
		}
		return query.Value(n), nil
	default:
		return nil, d.invalid(lv, "value", "literal must be a string, an integer or null")
	}
}
