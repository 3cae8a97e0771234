package querydoc

import (
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/roach88/relq/internal/entity"
	"github.com/roach88/relq/internal/queryir"
	"github.com/roach88/relq/internal/value"
)

// Backend is the backend name reported in errors.
const Backend = "mongo"

// IDField is the document identity field.
const IDField = "_id"

// joinPrefix names the temporary lookup field of a join.
const joinPrefix = "__join_"

// countPrefix names the hidden non-null count kept next to each SUM.
const countPrefix = "__count_"

// sortPrefix names the hidden field carrying an unselected sort term.
const sortPrefix = "__sort_"

// Pipeline is a compiled aggregation pipeline.
type Pipeline struct {
	// Collection is the collection the pipeline runs against.
	Collection string

	// Stages is the ordered stage sequence.
	Stages mongo.Pipeline

	// Fields describes each output field, in select order.
	Fields []Field
}

// Field is the name and decoded type of an output field.
type Field struct {
	Name string
	Type value.Type
}

// OutputFields returns the output field names in select order.
func (p *Pipeline) OutputFields() []string {
	names := make([]string, len(p.Fields))
	for i, f := range p.Fields {
		names[i] = f.Name
	}
	return names
}

// String renders the stages as relaxed extended JSON, one stage per line.
func (p *Pipeline) String() string {
	var sb strings.Builder
	for i, stage := range p.Stages {
		if i > 0 {
			sb.WriteByte('\n')
		}
		b, err := bson.MarshalExtJSON(stage, false, false)
		if err != nil {
			fmt.Fprintf(&sb, "<%v>", err)
			continue
		}
		sb.Write(b)
	}
	return sb.String()
}

// FieldName returns the document field that stores a.
func FieldName(a entity.Attribute) string {
	if a.IsID() {
		return IDField
	}
	return a.Name()
}

// groupedName is the field name of a after the group stage.
func groupedName(a entity.Attribute) string {
	return a.Name()
}

// Compiler compiles queries to aggregation pipelines.
type Compiler struct{}

// NewCompiler creates a pipeline compiler.
func NewCompiler() *Compiler {
	return &Compiler{}
}

// Compile converts a query to a pipeline. Unsupported shapes fail with an
// UNSUPPORTED_OPERATION error before any stage is returned.
func (c *Compiler) Compile(q queryir.Query) (*Pipeline, error) {
	scope, err := queryir.Resolve(q)
	if err != nil {
		return nil, err
	}

	b := &builder{scope: scope}

	local, joined := splitWhere(scope, q.Where)
	if err := b.match(filter{field: FieldName}, local); err != nil {
		return nil, err
	}
	for _, j := range q.Joins {
		if err := b.join(j); err != nil {
			return nil, err
		}
	}
	if err := b.match(filter{field: FieldName}, joined); err != nil {
		return nil, err
	}

	grouped := len(q.GroupBy) > 0 || hasAggregation(q.Select)
	if grouped {
		if err := b.group(q); err != nil {
			return nil, err
		}
		if err := b.match(filter{field: groupedName}, q.Having); err != nil {
			return nil, err
		}
	}

	keys := b.project(q.Select, q.OrderBy, grouped)
	b.sort(q.OrderBy, keys)

	out := make([]Field, len(q.Select))
	for i, t := range q.Select {
		out[i] = Field{Name: queryir.OutputName(t), Type: queryir.ResultType(t)}
	}
	return &Pipeline{Collection: q.From.Name(), Stages: b.stages, Fields: out}, nil
}

// splitWhere separates predicates over the source type from predicates that
// reference joined types.
func splitWhere(scope *queryir.Scope, preds []queryir.Predicate) (local, joined []queryir.Predicate) {
	for _, p := range preds {
		isLocal := true
		queryir.Walk(p, func(ref queryir.AttrRef) {
			if !scope.IsLocal(ref.Attr) {
				isLocal = false
			}
		})
		if isLocal {
			local = append(local, p)
		} else {
			joined = append(joined, p)
		}
	}
	return local, joined
}

func hasAggregation(terms []queryir.SelectTerm) bool {
	for _, t := range terms {
		if _, ok := t.(queryir.Aggregation); ok {
			return true
		}
	}
	return false
}

type builder struct {
	scope  *queryir.Scope
	stages mongo.Pipeline
	hidden bson.D // exclusions for hidden sort fields
}

func (b *builder) add(op string, v any) {
	b.stages = append(b.stages, bson.D{{Key: op, Value: v}})
}

func (b *builder) match(f filter, preds []queryir.Predicate) error {
	if len(preds) == 0 {
		return nil
	}
	doc, err := f.conjunction(preds)
	if err != nil {
		return err
	}
	b.add("$match", doc)
	return nil
}

// join appends the stages of one inner join.
func (b *builder) join(j queryir.Join) error {
	if len(j.On) != 1 {
		return queryir.NewUnsupportedError(Backend, "join %s: exactly one on-condition is supported, got %d", j.Source.Name(), len(j.On))
	}
	cond := j.On[0]
	if _, err := queryir.VisitOp[struct{}](cond.Op, equalityOnly{}); err != nil {
		return queryir.NewUnsupportedError(Backend, "join %s: only equality conditions are supported, got %s", j.Source.Name(), cond.Op)
	}
	right, err := queryir.VisitTerm[entity.Attribute](cond.Right, joinKey{})
	if err != nil {
		return queryir.NewUnsupportedError(Backend, "join %s: condition must compare two attributes", j.Source.Name())
	}

	local, foreign := cond.Left.Attr, right
	if b.isForeign(j.Source, local) && !b.isForeign(j.Source, foreign) {
		local, foreign = foreign, local
	}
	if b.isForeign(j.Source, local) || !b.isForeign(j.Source, foreign) {
		return queryir.NewUnsupportedError(Backend, "join %s: condition must compare a local attribute with an attribute of %s", j.Source.Name(), j.Source.Name())
	}

	localField := FieldName(local)
	tmp := joinPrefix + j.Source.Name()
	b.add("$match", bson.D{{Key: localField, Value: bson.D{{Key: "$ne", Value: nil}}}})
	b.add("$lookup", bson.D{
		{Key: "from", Value: j.Source.Name()},
		{Key: "localField", Value: localField},
		{Key: "foreignField", Value: foreign.Name()},
		{Key: "as", Value: tmp},
	})
	b.add("$unwind", "$"+tmp)
	b.add("$replaceRoot", bson.D{{Key: "newRoot", Value: bson.D{
		{Key: "$mergeObjects", Value: bson.A{"$" + tmp, "$$ROOT"}},
	}}})
	b.add("$project", bson.D{{Key: tmp, Value: 0}})
	return nil
}

func (b *builder) isForeign(source *entity.Type, a entity.Attribute) bool {
	owner, err := b.scope.Owner(a)
	return err == nil && owner == source
}

// group appends the $group stage keyed by the grouping attributes and the
// $project that moves the keys back onto their attribute names.
func (b *builder) group(q queryir.Query) error {
	var key any
	rekey := bson.D{{Key: IDField, Value: 0}}
	switch len(q.GroupBy) {
	case 0:
		key = nil
	case 1:
		a := q.GroupBy[0].Attr
		key = "$" + FieldName(a)
		rekey = append(rekey, bson.E{Key: groupedName(a), Value: "$" + IDField})
	default:
		keys := bson.D{}
		dup := make(map[entity.Attribute]bool, len(q.GroupBy))
		for _, g := range q.GroupBy {
			if dup[g.Attr] {
				continue
			}
			dup[g.Attr] = true
			keys = append(keys, bson.E{Key: groupedName(g.Attr), Value: "$" + FieldName(g.Attr)})
			rekey = append(rekey, bson.E{Key: groupedName(g.Attr), Value: "$" + IDField + "." + groupedName(g.Attr)})
		}
		key = keys
	}

	terms := append([]queryir.SelectTerm(nil), q.Select...)
	for _, o := range q.OrderBy {
		terms = append(terms, o.Term)
	}

	group := bson.D{{Key: IDField, Value: key}}
	seen := make(map[string]bool)
	for _, t := range terms {
		agg, ok := t.(queryir.Aggregation)
		if !ok {
			continue
		}
		name := queryir.OutputName(agg)
		if seen[name] {
			continue
		}
		seen[name] = true

		field := "$" + FieldName(agg.Of.Attr)
		acc, err := queryir.VisitAggregate[any](agg.Kind, accumulator{field: field})
		if err != nil {
			return err
		}
		group = append(group, bson.E{Key: name, Value: acc})

		// SUM over no values is null, as in SQL.
		if agg.Kind == queryir.AggSum {
			count := countPrefix + agg.Of.Attr.Name()
			if !seen[count] {
				seen[count] = true
				group = append(group, bson.E{Key: count, Value: countNonNull(field)})
			}
			rekey = append(rekey, bson.E{Key: name, Value: bson.D{{Key: "$cond", Value: bson.A{
				bson.D{{Key: "$gt", Value: bson.A{"$" + count, 0}}}, "$" + name, nil,
			}}}})
			continue
		}
		rekey = append(rekey, bson.E{Key: name, Value: 1})
	}

	b.add("$group", group)
	b.add("$project", rekey)
	return nil
}

// project appends the final $project and returns the field each sort term
// orders by. Sort terms that are not selected are carried in hidden fields.
func (b *builder) project(terms []queryir.SelectTerm, orders []queryir.OrderBy, grouped bool) map[string]string {
	doc := bson.D{}
	keys := make(map[string]string, len(terms)+len(orders))
	for _, t := range terms {
		name := queryir.OutputName(t)
		if _, ok := keys[name]; ok {
			continue
		}
		keys[name] = name
		if !grouped && t.Attribute().IsID() {
			doc = append(doc, bson.E{Key: name, Value: "$" + IDField})
			continue
		}
		doc = append(doc, bson.E{Key: name, Value: 1})
	}
	var hidden bson.D
	for _, o := range orders {
		name := queryir.OutputName(o.Term)
		if _, ok := keys[name]; ok {
			continue
		}
		key := sortPrefix + name
		keys[name] = key
		src := "$" + name
		if !grouped {
			src = "$" + FieldName(o.Term.Attribute())
		}
		doc = append(doc, bson.E{Key: key, Value: src})
		hidden = append(hidden, bson.E{Key: key, Value: 0})
	}
	doc = append(doc, bson.E{Key: IDField, Value: 0})
	b.add("$project", doc)
	if len(hidden) > 0 {
		b.hidden = hidden
	}
	return keys
}

// sort appends the $sort stage, then drops any hidden sort fields.
func (b *builder) sort(orders []queryir.OrderBy, keys map[string]string) {
	if len(orders) == 0 {
		return
	}
	doc := bson.D{}
	seen := make(map[string]bool, len(orders))
	for _, o := range orders {
		key := keys[queryir.OutputName(o.Term)]
		if seen[key] {
			continue
		}
		seen[key] = true
		dir := 1
		if o.Direction == queryir.Desc {
			dir = -1
		}
		doc = append(doc, bson.E{Key: key, Value: dir})
	}
	b.add("$sort", doc)
	if len(b.hidden) > 0 {
		b.add("$project", b.hidden)
	}
}

// accumulator renders the $group accumulator of an aggregate kind.
type accumulator struct {
	field string
}

func (a accumulator) VisitMax() (any, error)   { return bson.D{{Key: "$max", Value: a.field}}, nil }
func (a accumulator) VisitMin() (any, error)   { return bson.D{{Key: "$min", Value: a.field}}, nil }
func (a accumulator) VisitSum() (any, error)   { return bson.D{{Key: "$sum", Value: a.field}}, nil }
func (a accumulator) VisitAvg() (any, error)   { return bson.D{{Key: "$avg", Value: a.field}}, nil }
func (a accumulator) VisitCount() (any, error) { return countNonNull(a.field), nil }

// countNonNull sums 1 per document whose field holds a value.
func countNonNull(field string) bson.D {
	return bson.D{{Key: "$sum", Value: bson.D{{Key: "$cond", Value: bson.A{notNull(field), 1, 0}}}}}
}

// equalityOnly accepts EQ only.
type equalityOnly struct{}

func (equalityOnly) VisitEQ() (struct{}, error) { return struct{}{}, nil }
func (equalityOnly) VisitLT() (struct{}, error) { return struct{}{}, errNotEquality }
func (equalityOnly) VisitGT() (struct{}, error) { return struct{}{}, errNotEquality }
func (equalityOnly) VisitLike() (struct{}, error) {
	return struct{}{}, errNotEquality
}

var errNotEquality = fmt.Errorf("not an equality")

// joinKey accepts attribute references only.
type joinKey struct{}

func (joinKey) VisitAttrRef(r queryir.AttrRef) (entity.Attribute, error) { return r.Attr, nil }
func (joinKey) VisitLiteral(queryir.Literal) (entity.Attribute, error) {
	return entity.Attribute{}, errNotAttribute
}
func (joinKey) VisitNull(queryir.NullLiteral) (entity.Attribute, error) {
	return entity.Attribute{}, errNotAttribute
}

var errNotAttribute = fmt.Errorf("not an attribute reference")

// Document converts an entity to its stored document: the id plus one field
// per supplied attribute value.
func Document(e *entity.Entity) bson.D {
	values := e.Values()
	doc := make(bson.D, 0, len(values)+1)
	doc = append(doc, bson.E{Key: IDField, Value: e.ID()})
	for _, v := range values {
		doc = append(doc, bson.E{Key: v.Attr().Name(), Value: v.Native()})
	}
	return doc
}

// Decode maps an output document to a row in select order. Missing fields
// decode as null.
func (p *Pipeline) Decode(doc bson.M) (value.Row, error) {
	row := make(value.Row, len(p.Fields))
	for i, f := range p.Fields {
		raw, ok := doc[f.Name]
		if !ok {
			row[i] = value.Null{}
			continue
		}
		v, err := value.Convert(raw, f.Type)
		if err != nil {
			return nil, fmt.Errorf("decode field %s: %w", f.Name, err)
		}
		row[i] = v
	}
	return row, nil
}
