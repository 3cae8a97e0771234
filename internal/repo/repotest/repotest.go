// Package repotest is the conformance suite every repo.Repository runs.
//
// Each case gets a fresh repository from the factory, initializes the
// fixture types, inserts its entities and compares Execute results against
// the relational answer.
package repotest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/relq/internal/entity"
	"github.com/roach88/relq/internal/query"
	"github.com/roach88/relq/internal/queryir"
	"github.com/roach88/relq/internal/repo"
	"github.com/roach88/relq/internal/value"
)

// Fixture schema shared by the conformance cases.
var (
	FooStr = entity.Str("foo_str")
	FooInt = entity.Int("foo_int")
	BarFoo = entity.Str("bar_foo")
	BarInt = entity.Int("bar_int")
	BazBar = entity.Int("baz_bar")
	BazStr = entity.Str("baz_str")

	Foo = entity.MustType("foo", FooStr, FooInt)
	Bar = entity.MustType("bar", BarFoo, BarInt)
	Baz = entity.MustType("baz", BazBar, BazStr)
)

// Factory returns an empty repository for one test case.
type Factory func(t *testing.T) repo.Repository

// Options describes backend capabilities the suite adapts to.
type Options struct {
	// LikeUnsupported expects LIKE to fail with UNSUPPORTED_OPERATION.
	LikeUnsupported bool
	// NoEmptyAggregateRow expects no row for a whole-table aggregation
	// over an empty table instead of one row of empty aggregates.
	NoEmptyAggregateRow bool
}

// Option adjusts Options.
type Option func(*Options)

// WithoutLike marks LIKE as unsupported by the backend.
func WithoutLike() Option {
	return func(o *Options) { o.LikeUnsupported = true }
}

// WithoutEmptyAggregateRow marks the backend as producing no row for an
// aggregation over an empty input.
func WithoutEmptyAggregateRow() Option {
	return func(o *Options) { o.NoEmptyAggregateRow = true }
}

// FooRows is the basic fixture: ("foo_1","A",42), ("foo_2","B",43).
func FooRows() []*entity.Entity {
	return []*entity.Entity{
		entity.MustNew(Foo, "foo_1", entity.StrOf(FooStr, "A"), entity.IntOf(FooInt, 42)),
		entity.MustNew(Foo, "foo_2", entity.StrOf(FooStr, "B"), entity.IntOf(FooInt, 43)),
	}
}

// SparseFooRows extends FooRows with entities that omit attributes.
func SparseFooRows() []*entity.Entity {
	return append(FooRows(),
		entity.MustNew(Foo, "foo_3", entity.StrOf(FooStr, "A")),
		entity.MustNew(Foo, "foo_4", entity.IntOf(FooInt, 40)),
	)
}

// BarRows references foo_1 twice, foo_2 once, a missing foo and nothing.
func BarRows() []*entity.Entity {
	return []*entity.Entity{
		entity.MustNew(Bar, "bar_1", entity.StrOf(BarFoo, "foo_1"), entity.IntOf(BarInt, 1)),
		entity.MustNew(Bar, "bar_2", entity.StrOf(BarFoo, "foo_1"), entity.IntOf(BarInt, 2)),
		entity.MustNew(Bar, "bar_3", entity.StrOf(BarFoo, "foo_2"), entity.IntOf(BarInt, 3)),
		entity.MustNew(Bar, "bar_4", entity.IntOf(BarInt, 4)),
		entity.MustNew(Bar, "bar_5", entity.StrOf(BarFoo, "foo_9"), entity.IntOf(BarInt, 5)),
	}
}

// BazRows references bar_int 1 twice, 3 once, a missing value and nothing.
func BazRows() []*entity.Entity {
	return []*entity.Entity{
		entity.MustNew(Baz, "baz_1", entity.IntOf(BazBar, 1), entity.StrOf(BazStr, "x")),
		entity.MustNew(Baz, "baz_2", entity.IntOf(BazBar, 1), entity.StrOf(BazStr, "y")),
		entity.MustNew(Baz, "baz_3", entity.IntOf(BazBar, 3), entity.StrOf(BazStr, "z")),
		entity.MustNew(Baz, "baz_4", entity.IntOf(BazBar, 99), entity.StrOf(BazStr, "w")),
		entity.MustNew(Baz, "baz_5", entity.StrOf(BazStr, "v")),
	}
}

// Row builds an expected row from Go values; nil is Null.
func Row(values ...any) value.Row {
	row := make(value.Row, len(values))
	for i, v := range values {
		x, err := value.FromNative(v)
		if err != nil {
			panic(err)
		}
		row[i] = x
	}
	return row
}

type suite struct {
	new  Factory
	opts Options
}

// Run executes the conformance suite against repositories from newRepo.
func Run(t *testing.T, newRepo Factory, opts ...Option) {
	s := suite{new: newRepo}
	for _, opt := range opts {
		opt(&s.opts)
	}

	t.Run("RoundTrip", s.roundTrip)
	t.Run("FilterExample", s.filterExample)
	t.Run("NullLogic", s.nullLogic)
	t.Run("AttributeComparison", s.attributeComparison)
	t.Run("Join", s.join)
	t.Run("ChainedJoin", s.chainedJoin)
	t.Run("Grouping", s.grouping)
	t.Run("EmptyGroups", s.emptyGroups)
	t.Run("Ordering", s.ordering)
	t.Run("Like", s.like)
	t.Run("ValidationBeforeExecution", s.validation)
	t.Run("ReinitClearsData", s.reinit)
}

// setup returns a repository holding the given entities.
func (s suite) setup(t *testing.T, entities ...*entity.Entity) repo.Repository {
	t.Helper()
	r := s.new(t)
	require.NoError(t, r.InitSchema(context.Background(), Foo, Bar, Baz))
	if len(entities) > 0 {
		require.NoError(t, r.InsertEntities(context.Background(), entities...))
	}
	return r
}

func execute(t *testing.T, r repo.Repository, q queryir.Query) []value.Row {
	t.Helper()
	rows, err := r.Execute(context.Background(), q)
	require.NoError(t, err)
	return rows
}

func (s suite) roundTrip(t *testing.T) {
	r := s.setup(t, SparseFooRows()...)

	rows := execute(t, r, query.Select(query.Attr(entity.ID), query.Attr(FooStr), query.Attr(FooInt)).
		From(Foo).MustBuild())

	assert.ElementsMatch(t, []value.Row{
		Row("foo_1", "A", 42),
		Row("foo_2", "B", 43),
		Row("foo_3", "A", nil),
		Row("foo_4", nil, 40),
	}, rows)
}

func (s suite) filterExample(t *testing.T) {
	r := s.setup(t, FooRows()...)

	rows := execute(t, r, query.Select(query.Attr(FooStr), query.Attr(FooInt)).
		From(Foo).
		Where(query.Lt(FooInt, 43)).
		MustBuild())

	assert.Equal(t, []value.Row{Row("A", 42)}, rows)
}

func (s suite) nullLogic(t *testing.T) {
	r := s.setup(t, SparseFooRows()...)

	tests := []struct {
		name  string
		where queryir.Predicate
		want  []value.Row
	}{
		{"is null", query.Eq(FooInt, nil), []value.Row{Row("foo_3")}},
		{"is not null", query.Not(query.Eq(FooInt, nil)), []value.Row{Row("foo_1"), Row("foo_2"), Row("foo_4")}},
		{"lt skips null", query.Lt(FooInt, 43), []value.Row{Row("foo_1"), Row("foo_4")}},
		{"not lt skips null", query.Not(query.Lt(FooInt, 43)), []value.Row{Row("foo_2")}},
		{"not eq skips null", query.Not(query.Eq(FooStr, "A")), []value.Row{Row("foo_2")}},
		{"or", query.Or(query.Gt(FooInt, 41), query.Eq(FooStr, "A")), []value.Row{Row("foo_1"), Row("foo_2"), Row("foo_3")}},
		{"not or of unknown", query.Not(query.Or(query.Gt(FooInt, 41), query.Eq(FooStr, "A"))), nil},
		{"not and", query.Not(query.And(query.Eq(FooStr, "A"), query.Gt(FooInt, 41))), []value.Row{Row("foo_2"), Row("foo_4")}},
		{"double not", query.Not(query.Not(query.Gt(FooInt, 42))), []value.Row{Row("foo_2")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows := execute(t, r, query.Select(query.Attr(entity.ID)).From(Foo).Where(tt.where).MustBuild())
			assert.ElementsMatch(t, tt.want, rows)
		})
	}
}

func (s suite) attributeComparison(t *testing.T) {
	r := s.setup(t, BarRows()...)

	rows := execute(t, r, query.Select(query.Attr(entity.ID)).
		From(Bar).
		Where(query.Gt(BarFoo, entity.ID)).
		MustBuild())

	// "foo_9" > "bar_5"; bar_4 has no bar_foo.
	assert.ElementsMatch(t, []value.Row{
		Row("bar_1"), Row("bar_2"), Row("bar_3"), Row("bar_5"),
	}, rows)

	rows = execute(t, r, query.Select(query.Attr(entity.ID)).
		From(Bar).
		Where(query.Not(query.Gt(BarFoo, entity.ID))).
		MustBuild())
	assert.Empty(t, rows)
}

func (s suite) join(t *testing.T) {
	r := s.setup(t, append(FooRows(), BarRows()...)...)
	onFoo := query.JoinOn(Bar).On(query.Eq(entity.ID, BarFoo))

	t.Run("inner", func(t *testing.T) {
		rows := execute(t, r, query.Select(query.Attr(FooStr), query.Attr(BarInt)).
			From(Foo).Join(onFoo).MustBuild())
		assert.ElementsMatch(t, []value.Row{Row("A", 1), Row("A", 2), Row("B", 3)}, rows)
	})

	t.Run("filter on joined attribute", func(t *testing.T) {
		rows := execute(t, r, query.Select(query.Attr(FooStr), query.Attr(BarInt)).
			From(Foo).Join(onFoo).
			Where(query.Gt(BarInt, 1), query.Lt(FooInt, 43)).
			MustBuild())
		assert.ElementsMatch(t, []value.Row{Row("A", 2)}, rows)
	})

	t.Run("grouped", func(t *testing.T) {
		rows := execute(t, r, query.Select(query.Attr(FooStr), query.Sum(BarInt), query.Count(BarInt)).
			From(Foo).Join(onFoo).GroupBy(FooStr).MustBuild())
		assert.ElementsMatch(t, []value.Row{Row("A", 3, 2), Row("B", 3, 1)}, rows)
	})
}

// chainedJoin joins baz through an attribute of bar, which is itself
// joined to foo.
func (s suite) chainedJoin(t *testing.T) {
	entities := append(FooRows(), BarRows()...)
	r := s.setup(t, append(entities, BazRows()...)...)
	onFoo := query.JoinOn(Bar).On(query.Eq(entity.ID, BarFoo))
	onBar := query.JoinOn(Baz).On(query.Eq(BarInt, BazBar))

	t.Run("inner", func(t *testing.T) {
		rows := execute(t, r, query.Select(query.Attr(entity.ID), query.Attr(BarInt), query.Attr(BazStr)).
			From(Foo).Join(onFoo).Join(onBar).MustBuild())
		assert.ElementsMatch(t, []value.Row{
			Row("foo_1", 1, "x"), Row("foo_1", 1, "y"), Row("foo_2", 3, "z"),
		}, rows)
	})

	t.Run("swapped keys", func(t *testing.T) {
		rows := execute(t, r, query.Select(query.Attr(entity.ID), query.Attr(BazStr)).
			From(Foo).
			Join(query.JoinOn(Bar).On(query.Eq(BarFoo, entity.ID))).
			Join(query.JoinOn(Baz).On(query.Eq(BazBar, BarInt))).
			MustBuild())
		assert.ElementsMatch(t, []value.Row{Row("foo_1", "x"), Row("foo_1", "y"), Row("foo_2", "z")}, rows)
	})

	t.Run("filter on last join", func(t *testing.T) {
		rows := execute(t, r, query.Select(query.Attr(FooStr), query.Attr(BarInt)).
			From(Foo).Join(onFoo).Join(onBar).
			Where(query.Eq(BazStr, "y")).
			MustBuild())
		assert.Equal(t, []value.Row{Row("A", 1)}, rows)
	})

	t.Run("grouped", func(t *testing.T) {
		rows := execute(t, r, query.Select(query.Attr(FooStr), query.Count(BazStr), query.Sum(BarInt)).
			From(Foo).Join(onFoo).Join(onBar).
			GroupBy(FooStr).
			OrderBy(query.Asc(query.Attr(FooStr))).
			MustBuild())
		assert.Equal(t, []value.Row{Row("A", 2, 2), Row("B", 1, 3)}, rows)
	})
}

func (s suite) grouping(t *testing.T) {
	r := s.setup(t, SparseFooRows()...)

	t.Run("group by", func(t *testing.T) {
		rows := execute(t, r, query.Select(
			query.Attr(FooStr),
			query.Count(FooInt),
			query.Sum(FooInt),
			query.Avg(FooInt),
			query.Max(FooInt),
			query.Min(FooInt),
		).From(Foo).GroupBy(FooStr).MustBuild())

		assert.ElementsMatch(t, []value.Row{
			Row("A", 1, 42, 42.0, 42, 42),
			Row("B", 1, 43, 43.0, 43, 43),
			Row(nil, 1, 40, 40.0, 40, 40),
		}, rows)
	})

	t.Run("having", func(t *testing.T) {
		rows := execute(t, r, query.Select(query.Attr(FooStr), query.Count(entity.ID)).
			From(Foo).GroupBy(FooStr).
			Having(query.Not(query.Eq(FooStr, "B"))).
			MustBuild())
		assert.ElementsMatch(t, []value.Row{Row("A", 2)}, rows)
	})

	t.Run("whole table", func(t *testing.T) {
		rows := execute(t, r, query.Select(query.Count(FooInt), query.Sum(FooInt), query.Max(FooStr), query.Avg(FooInt)).
			From(Foo).MustBuild())
		assert.Equal(t, []value.Row{Row(3, 125, "B", 125.0/3)}, rows)
	})

	t.Run("group without aggregation", func(t *testing.T) {
		rows := execute(t, r, query.Select(query.Attr(FooStr)).From(Foo).GroupBy(FooStr).MustBuild())
		assert.ElementsMatch(t, []value.Row{Row("A"), Row("B"), Row(nil)}, rows)
	})
}

func (s suite) emptyGroups(t *testing.T) {
	r := s.setup(t, SparseFooRows()...)

	t.Run("only nulls", func(t *testing.T) {
		rows := execute(t, r, query.Select(
			query.Attr(FooStr),
			query.Count(FooInt),
			query.Sum(FooInt),
			query.Avg(FooInt),
			query.Max(FooInt),
		).From(Foo).Where(query.Eq(FooInt, nil)).GroupBy(FooStr).MustBuild())

		assert.Equal(t, []value.Row{Row("A", 0, nil, nil, nil)}, rows)
	})

	t.Run("no input rows", func(t *testing.T) {
		rows := execute(t, r, query.Select(query.Count(FooInt), query.Sum(FooInt)).
			From(Foo).Where(query.Gt(FooInt, 100)).MustBuild())

		if s.opts.NoEmptyAggregateRow {
			assert.Empty(t, rows)
			return
		}
		assert.Equal(t, []value.Row{Row(0, nil)}, rows)
	})
}

func (s suite) ordering(t *testing.T) {
	r := s.setup(t, SparseFooRows()...)
	sel := query.Select(query.Attr(FooStr), query.Attr(FooInt)).From(Foo)

	t.Run("asc nulls first", func(t *testing.T) {
		rows := execute(t, r, query.Select(query.Attr(entity.ID), query.Attr(FooInt)).
			From(Foo).OrderBy(query.Asc(query.Attr(FooInt))).MustBuild())
		assert.Equal(t, []value.Row{
			Row("foo_3", nil), Row("foo_4", 40), Row("foo_1", 42), Row("foo_2", 43),
		}, rows)
	})

	t.Run("desc nulls last", func(t *testing.T) {
		rows := execute(t, r, query.Select(query.Attr(entity.ID), query.Attr(FooInt)).
			From(Foo).OrderBy(query.Desc(query.Attr(FooInt))).MustBuild())
		assert.Equal(t, []value.Row{
			Row("foo_2", 43), Row("foo_1", 42), Row("foo_4", 40), Row("foo_3", nil),
		}, rows)
	})

	t.Run("multiple keys", func(t *testing.T) {
		rows := execute(t, r, sel.OrderBy(query.Asc(query.Attr(FooStr)), query.Desc(query.Attr(FooInt))).MustBuild())
		assert.Equal(t, []value.Row{
			Row(nil, 40), Row("A", 42), Row("A", nil), Row("B", 43),
		}, rows)
	})

	t.Run("by aggregate", func(t *testing.T) {
		rows := execute(t, r, query.Select(query.Attr(FooStr), query.Sum(FooInt)).
			From(Foo).GroupBy(FooStr).
			OrderBy(query.Desc(query.Sum(FooInt))).
			MustBuild())
		assert.Equal(t, []value.Row{Row("B", 43), Row("A", 42), Row(nil, 40)}, rows)
	})

	t.Run("by term not selected", func(t *testing.T) {
		rows := execute(t, r, query.Select(query.Attr(entity.ID)).
			From(Foo).OrderBy(query.Desc(query.Attr(FooInt))).MustBuild())
		assert.Equal(t, []value.Row{Row("foo_2"), Row("foo_1"), Row("foo_4"), Row("foo_3")}, rows)

		rows = execute(t, r, query.Select(query.Attr(FooStr)).
			From(Foo).GroupBy(FooStr).
			OrderBy(query.Asc(query.Max(FooInt))).
			MustBuild())
		assert.Equal(t, []value.Row{Row(nil), Row("A"), Row("B")}, rows)
	})

	t.Run("strings in byte order", func(t *testing.T) {
		r := s.setup(t,
			entity.MustNew(Foo, "foo_a", entity.StrOf(FooStr, "a")),
			entity.MustNew(Foo, "foo_b", entity.StrOf(FooStr, "B")),
			entity.MustNew(Foo, "foo_c", entity.StrOf(FooStr, "_c")),
		)
		rows := execute(t, r, query.Select(query.Attr(FooStr)).
			From(Foo).OrderBy(query.Asc(query.Attr(FooStr))).MustBuild())
		assert.Equal(t, []value.Row{Row("B"), Row("_c"), Row("a")}, rows)
	})
}

func (s suite) like(t *testing.T) {
	r := s.setup(t, SparseFooRows()...)
	q := func(pattern string) queryir.Query {
		return query.Select(query.Attr(entity.ID)).From(Foo).Where(query.Like(FooStr, pattern)).MustBuild()
	}

	if s.opts.LikeUnsupported {
		_, err := r.Execute(context.Background(), q("A%"))
		require.Error(t, err)
		assert.True(t, queryir.IsUnsupportedError(err), "got %v", err)
		return
	}

	assert.ElementsMatch(t, []value.Row{Row("foo_1"), Row("foo_3")}, execute(t, r, q("A%")))
	assert.ElementsMatch(t, []value.Row{Row("foo_1"), Row("foo_2"), Row("foo_3")}, execute(t, r, q("_")))
	assert.ElementsMatch(t, []value.Row{Row("foo_2")}, execute(t, r, q("%B")))
	assert.Empty(t, execute(t, r, q("a%")))
}

func (s suite) validation(t *testing.T) {
	r := s.setup(t)

	_, err := r.Execute(context.Background(), queryir.Query{
		Select: []queryir.SelectTerm{queryir.Projection{Attr: BarInt}},
		From:   Foo,
	})

	require.Error(t, err)
	assert.True(t, queryir.IsValidationError(err), "got %v", err)

	// foo_int is unique when bar is joined, shared once qux is.
	qux := entity.MustType("qux", entity.Int("qux_bar"), FooInt)
	_, err = r.Execute(context.Background(), queryir.Query{
		Select: []queryir.SelectTerm{queryir.Projection{Attr: BarInt}},
		From:   Foo,
		Joins: []queryir.Join{
			{Source: Bar, On: []queryir.Comparison{{Left: queryir.AttrRef{Attr: FooInt}, Op: queryir.OpEQ, Right: queryir.AttrRef{Attr: BarInt}}}},
			{Source: qux, On: []queryir.Comparison{{Left: queryir.AttrRef{Attr: BarInt}, Op: queryir.OpEQ, Right: queryir.AttrRef{Attr: entity.Int("qux_bar")}}}},
		},
	})

	require.Error(t, err)
	assert.True(t, queryir.IsValidationError(err), "got %v", err)
	assert.Contains(t, err.Error(), "foo_int is ambiguous")
}

func (s suite) reinit(t *testing.T) {
	r := s.setup(t, FooRows()...)
	require.NoError(t, r.InitSchema(context.Background(), Foo))

	rows := execute(t, r, query.Select(query.Attr(entity.ID)).From(Foo).MustBuild())
	assert.Empty(t, rows)
}
