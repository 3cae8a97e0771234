package querydoc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/roach88/relq/internal/entity"
	"github.com/roach88/relq/internal/query"
	"github.com/roach88/relq/internal/queryir"
	"github.com/roach88/relq/internal/value"
)

var (
	fooStr = entity.Str("foo_str")
	fooInt = entity.Int("foo_int")
	barStr = entity.Str("bar_str")
	barInt = entity.Int("bar_int")
	barFoo = entity.Str("bar_foo")

	fooType = entity.MustType("foo", fooStr, fooInt)
	barType = entity.MustType("bar", barStr, barInt, barFoo)
)

func stage(op string, v any) bson.D {
	return bson.D{{Key: op, Value: v}}
}

func field(name string, v any) bson.D {
	return bson.D{{Key: name, Value: v}}
}

func compile(t *testing.T, q queryir.Query) *Pipeline {
	t.Helper()
	p, err := NewCompiler().Compile(q)
	require.NoError(t, err)
	return p
}

func TestCompile_SimpleFilter(t *testing.T) {
	q := query.Select(query.Attr(fooStr), query.Attr(fooInt)).
		From(fooType).
		Where(query.Lt(fooInt, 43)).
		MustBuild()

	p := compile(t, q)

	assert.Equal(t, "foo", p.Collection)
	assert.Equal(t, mongo.Pipeline{
		stage("$match", field("foo_int", field("$lt", int64(43)))),
		stage("$project", bson.D{{Key: "foo_str", Value: 1}, {Key: "foo_int", Value: 1}, {Key: "_id", Value: 0}}),
	}, p.Stages)
	assert.Equal(t, []string{"foo_str", "foo_int"}, p.OutputFields())
	assert.Equal(t, []Field{{Name: "foo_str", Type: value.TypeString}, {Name: "foo_int", Type: value.TypeInt}}, p.Fields)
}

func TestCompile_Filters(t *testing.T) {
	tests := []struct {
		name string
		pred queryir.Predicate
		want bson.D
	}{
		{
			name: "eq",
			pred: query.Eq(fooStr, "a"),
			want: field("foo_str", "a"),
		},
		{
			name: "gt",
			pred: query.Gt(fooInt, 3),
			want: field("foo_int", field("$gt", int64(3))),
		},
		{
			name: "null test",
			pred: query.Eq(fooStr, nil),
			want: field("foo_str", nil),
		},
		{
			name: "not null",
			pred: query.Not(query.Eq(fooStr, query.Null())),
			want: field("foo_str", field("$ne", nil)),
		},
		{
			name: "not eq excludes null",
			pred: query.Not(query.Eq(fooStr, "a")),
			want: field("foo_str", field("$nin", bson.A{nil, "a"})),
		},
		{
			name: "not lt",
			pred: query.Not(query.Lt(fooInt, 3)),
			want: field("foo_int", field("$gte", int64(3))),
		},
		{
			name: "not gt",
			pred: query.Not(query.Gt(fooInt, 3)),
			want: field("foo_int", field("$lte", int64(3))),
		},
		{
			name: "double negation",
			pred: query.Not(query.Not(query.Lt(fooInt, 3))),
			want: field("foo_int", field("$lt", int64(3))),
		},
		{
			name: "and or",
			pred: query.And(query.Eq(fooStr, "a"), query.Or(query.Lt(fooInt, 1), query.Gt(fooInt, 9))),
			want: field("$and", bson.A{
				field("foo_str", "a"),
				field("$or", bson.A{field("foo_int", field("$lt", int64(1))), field("foo_int", field("$gt", int64(9)))}),
			}),
		},
		{
			name: "de morgan",
			pred: query.Not(query.Or(query.Eq(fooStr, "a"), query.Gt(fooInt, 3))),
			want: field("$and", bson.A{
				field("foo_str", field("$nin", bson.A{nil, "a"})),
				field("foo_int", field("$lte", int64(3))),
			}),
		},
		{
			name: "id",
			pred: query.Eq(entity.ID, "foo_1"),
			want: field("_id", "foo_1"),
		},
		{
			name: "attribute comparison",
			pred: query.Lt(fooInt, fooInt),
			want: field("$expr", field("$and", bson.A{
				field("$gt", bson.A{"$foo_int", nil}),
				field("$gt", bson.A{"$foo_int", nil}),
				field("$lt", bson.A{"$foo_int", "$foo_int"}),
			})),
		},
		{
			name: "negated attribute comparison",
			pred: query.Not(query.Eq(fooInt, fooInt)),
			want: field("$expr", field("$and", bson.A{
				field("$gt", bson.A{"$foo_int", nil}),
				field("$gt", bson.A{"$foo_int", nil}),
				field("$not", bson.A{field("$eq", bson.A{"$foo_int", "$foo_int"})}),
			})),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := query.Select(query.Attr(fooStr)).From(fooType).Where(tt.pred).MustBuild()
			p := compile(t, q)
			require.NotEmpty(t, p.Stages)
			assert.Equal(t, stage("$match", tt.want), p.Stages[0])
		})
	}
}

func TestCompile_MultipleWherePredicates(t *testing.T) {
	q := query.Select(query.Attr(fooStr)).
		From(fooType).
		Where(query.Eq(fooStr, "a"), query.Gt(fooInt, 1)).
		MustBuild()

	p := compile(t, q)
	assert.Equal(t, stage("$match", field("$and", bson.A{
		field("foo_str", "a"),
		field("foo_int", field("$gt", int64(1))),
	})), p.Stages[0])
}

func TestCompile_LikeIsUnsupported(t *testing.T) {
	preds := map[string]queryir.Predicate{
		"like":       query.Like(fooStr, "a%"),
		"nested":     query.Or(query.Eq(fooStr, "b"), query.Not(query.Like(fooStr, "a%"))),
		"attributes": queryir.Comparison{Left: query.Field(fooStr), Op: queryir.OpLike, Right: query.Field(fooStr)},
	}
	for name, pred := range preds {
		t.Run(name, func(t *testing.T) {
			q := query.Select(query.Attr(fooStr)).From(fooType).Where(pred).MustBuild()
			_, err := NewCompiler().Compile(q)
			require.Error(t, err)
			assert.True(t, queryir.IsUnsupportedError(err))
			assert.Contains(t, err.Error(), "like on foo_str")
		})
	}
}

func TestCompile_Join(t *testing.T) {
	// The condition is written foreign = local; the compiler swaps it.
	q := query.Select(query.Attr(fooStr), query.Attr(barStr)).
		From(fooType).
		Join(query.JoinOn(barType).On(query.Eq(barFoo, entity.ID))).
		Where(query.Eq(fooInt, 1), query.Eq(barInt, 2)).
		MustBuild()

	p := compile(t, q)

	assert.Equal(t, mongo.Pipeline{
		stage("$match", field("foo_int", int64(1))),
		stage("$match", field("_id", field("$ne", nil))),
		stage("$lookup", bson.D{
			{Key: "from", Value: "bar"},
			{Key: "localField", Value: "_id"},
			{Key: "foreignField", Value: "bar_foo"},
			{Key: "as", Value: "__join_bar"},
		}),
		stage("$unwind", "$__join_bar"),
		stage("$replaceRoot", field("newRoot", field("$mergeObjects", bson.A{"$__join_bar", "$$ROOT"}))),
		stage("$project", field("__join_bar", 0)),
		stage("$match", field("bar_int", int64(2))),
		stage("$project", bson.D{{Key: "foo_str", Value: 1}, {Key: "bar_str", Value: 1}, {Key: "_id", Value: 0}}),
	}, p.Stages)
}

func TestCompile_UnsupportedJoins(t *testing.T) {
	tests := []struct {
		name string
		join *query.JoinClause
		want string
	}{
		{
			name: "two conditions",
			join: query.JoinOn(barType).On(query.Eq(entity.ID, barFoo), query.Gt(barInt, 0)),
			want: "exactly one on-condition",
		},
		{
			name: "not equality",
			join: query.JoinOn(barType).On(query.Lt(fooInt, barInt)),
			want: "only equality conditions",
		},
		{
			name: "literal",
			join: query.JoinOn(barType).On(query.Eq(barFoo, "x")),
			want: "must compare two attributes",
		},
		{
			name: "both foreign",
			join: query.JoinOn(barType).On(query.Eq(barStr, barFoo)),
			want: "must compare a local attribute",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := query.Select(query.Attr(fooStr)).From(fooType).Join(tt.join).MustBuild()
			_, err := NewCompiler().Compile(q)
			require.Error(t, err)
			assert.True(t, queryir.IsUnsupportedError(err))
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestCompile_GroupHavingSort(t *testing.T) {
	q := query.Select(query.Attr(fooStr), query.Sum(fooInt), query.Count(fooInt)).
		From(fooType).
		GroupBy(fooStr).
		Having(query.Eq(fooStr, "A")).
		OrderBy(query.Desc(query.Sum(fooInt))).
		MustBuild()

	p := compile(t, q)

	count := countNonNull("$foo_int")
	assert.Equal(t, mongo.Pipeline{
		stage("$group", bson.D{
			{Key: "_id", Value: "$foo_str"},
			{Key: "sum_foo_int", Value: field("$sum", "$foo_int")},
			{Key: "__count_foo_int", Value: count},
			{Key: "count_foo_int", Value: count},
		}),
		stage("$project", bson.D{
			{Key: "_id", Value: 0},
			{Key: "foo_str", Value: "$_id"},
			{Key: "sum_foo_int", Value: field("$cond", bson.A{
				field("$gt", bson.A{"$__count_foo_int", 0}), "$sum_foo_int", nil,
			})},
			{Key: "count_foo_int", Value: 1},
		}),
		stage("$match", field("foo_str", "A")),
		stage("$project", bson.D{
			{Key: "foo_str", Value: 1},
			{Key: "sum_foo_int", Value: 1},
			{Key: "count_foo_int", Value: 1},
			{Key: "_id", Value: 0},
		}),
		stage("$sort", field("sum_foo_int", -1)),
	}, p.Stages)

	assert.Equal(t, []Field{
		{Name: "foo_str", Type: value.TypeString},
		{Name: "sum_foo_int", Type: value.TypeInt},
		{Name: "count_foo_int", Type: value.TypeInt},
	}, p.Fields)
}

func TestCompile_GroupKeys(t *testing.T) {
	t.Run("whole table", func(t *testing.T) {
		q := query.Select(query.Max(fooInt), query.Avg(fooInt)).From(fooType).MustBuild()
		p := compile(t, q)
		assert.Equal(t, stage("$group", bson.D{
			{Key: "_id", Value: nil},
			{Key: "max_foo_int", Value: field("$max", "$foo_int")},
			{Key: "avg_foo_int", Value: field("$avg", "$foo_int")},
		}), p.Stages[0])
		assert.Equal(t, stage("$project", bson.D{
			{Key: "_id", Value: 0},
			{Key: "max_foo_int", Value: 1},
			{Key: "avg_foo_int", Value: 1},
		}), p.Stages[1])
		assert.Equal(t, value.TypeFloat, p.Fields[1].Type)
	})

	t.Run("several attributes", func(t *testing.T) {
		q := query.Select(query.Attr(fooStr), query.Attr(fooInt), query.Min(fooStr)).
			From(fooType).
			GroupBy(fooStr, fooInt).
			MustBuild()
		p := compile(t, q)
		assert.Equal(t, stage("$group", bson.D{
			{Key: "_id", Value: bson.D{{Key: "foo_str", Value: "$foo_str"}, {Key: "foo_int", Value: "$foo_int"}}},
			{Key: "min_foo_str", Value: field("$min", "$foo_str")},
		}), p.Stages[0])
		assert.Equal(t, stage("$project", bson.D{
			{Key: "_id", Value: 0},
			{Key: "foo_str", Value: "$_id.foo_str"},
			{Key: "foo_int", Value: "$_id.foo_int"},
			{Key: "min_foo_str", Value: 1},
		}), p.Stages[1])
	})

	t.Run("duplicate aggregations", func(t *testing.T) {
		q := query.Select(query.Count(fooStr), query.Count(fooStr)).From(fooType).MustBuild()
		p := compile(t, q)
		assert.Len(t, p.Stages[0][0].Value, 2)
		assert.Equal(t, []string{"count_foo_str", "count_foo_str"}, p.OutputFields())
	})
}

func TestCompile_IDProjection(t *testing.T) {
	q := query.Select(query.Attr(entity.ID), query.Attr(fooStr)).
		From(fooType).
		OrderBy(query.Asc(query.Attr(entity.ID))).
		MustBuild()

	p := compile(t, q)
	assert.Equal(t, mongo.Pipeline{
		stage("$project", bson.D{{Key: "id", Value: "$_id"}, {Key: "foo_str", Value: 1}, {Key: "_id", Value: 0}}),
		stage("$sort", field("id", 1)),
	}, p.Stages)
}

func TestCompile_SortOnUnselectedTerm(t *testing.T) {
	t.Run("attribute", func(t *testing.T) {
		q := query.Select(query.Attr(fooStr)).
			From(fooType).
			OrderBy(query.Desc(query.Attr(fooInt)), query.Asc(query.Attr(entity.ID))).
			MustBuild()

		p := compile(t, q)
		assert.Equal(t, mongo.Pipeline{
			stage("$project", bson.D{
				{Key: "foo_str", Value: 1},
				{Key: "__sort_foo_int", Value: "$foo_int"},
				{Key: "__sort_id", Value: "$_id"},
				{Key: "_id", Value: 0},
			}),
			stage("$sort", bson.D{{Key: "__sort_foo_int", Value: -1}, {Key: "__sort_id", Value: 1}}),
			stage("$project", bson.D{{Key: "__sort_foo_int", Value: 0}, {Key: "__sort_id", Value: 0}}),
		}, p.Stages)
		assert.Equal(t, []string{"foo_str"}, p.OutputFields())
	})

	t.Run("aggregation", func(t *testing.T) {
		q := query.Select(query.Attr(fooStr)).
			From(fooType).
			GroupBy(fooStr).
			OrderBy(query.Asc(query.Max(fooInt))).
			MustBuild()

		p := compile(t, q)
		require.Len(t, p.Stages, 5)
		assert.Equal(t, stage("$group", bson.D{
			{Key: "_id", Value: "$foo_str"},
			{Key: "max_foo_int", Value: field("$max", "$foo_int")},
		}), p.Stages[0])
		assert.Equal(t, stage("$project", bson.D{
			{Key: "foo_str", Value: 1},
			{Key: "__sort_max_foo_int", Value: "$max_foo_int"},
			{Key: "_id", Value: 0},
		}), p.Stages[2])
		assert.Equal(t, stage("$sort", field("__sort_max_foo_int", 1)), p.Stages[3])
		assert.Equal(t, stage("$project", field("__sort_max_foo_int", 0)), p.Stages[4])
	})
}

func TestCompile_InvalidQuery(t *testing.T) {
	_, err := NewCompiler().Compile(queryir.Query{From: fooType})
	require.Error(t, err)
	assert.True(t, queryir.IsValidationError(err))
}

func TestDocument(t *testing.T) {
	e := entity.MustNew(fooType, "foo_1", entity.StrOf(fooStr, "A"), entity.IntOf(fooInt, 42))

	assert.Equal(t, bson.D{
		{Key: "_id", Value: "foo_1"},
		{Key: "foo_str", Value: "A"},
		{Key: "foo_int", Value: int64(42)},
	}, Document(e))

	sparse := entity.MustNew(fooType, "foo_2")
	assert.Equal(t, bson.D{{Key: "_id", Value: "foo_2"}}, Document(sparse))
}

func TestPipeline_Decode(t *testing.T) {
	p := &Pipeline{Fields: []Field{
		{Name: "foo_str", Type: value.TypeString},
		{Name: "count_foo_int", Type: value.TypeInt},
		{Name: "avg_foo_int", Type: value.TypeFloat},
		{Name: "foo_int", Type: value.TypeInt},
	}}

	row, err := p.Decode(bson.M{"foo_str": "A", "count_foo_int": int32(2), "avg_foo_int": 42.5})
	require.NoError(t, err)
	assert.Equal(t, value.Row{value.String("A"), value.Int(2), value.Float(42.5), value.Null{}}, row)

	_, err = p.Decode(bson.M{"foo_str": int32(1)})
	assert.Error(t, err)
}

func TestPipeline_String(t *testing.T) {
	q := query.Select(query.Attr(fooStr)).From(fooType).Where(query.Eq(fooStr, "a")).MustBuild()
	p := compile(t, q)

	s := p.String()
	assert.Contains(t, s, `"$match"`)
	assert.Contains(t, s, `"$project"`)
}
