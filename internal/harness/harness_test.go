package harness

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/roach88/relq/internal/queryir"
	"github.com/roach88/relq/internal/querysql"
	"github.com/roach88/relq/internal/repo"
	"github.com/roach88/relq/internal/repo/memrepo"
	"github.com/roach88/relq/internal/repo/mockrepo"
	"github.com/roach88/relq/internal/repo/sqlrepo"
	"github.com/roach88/relq/internal/value"
)

func catalogDir(t *testing.T) string {
	t.Helper()
	dir, err := filepath.Abs(filepath.Join("..", "..", "testdata", "catalog"))
	require.NoError(t, err)
	return dir
}

func sqliteRepo(t *testing.T) repo.Repository {
	t.Helper()
	db, err := sqlrepo.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return sqlrepo.New(db, querysql.SQLite)
}

func TestRun_Golden(t *testing.T) {
	backends := []struct {
		name string
		repo func(t *testing.T) repo.Repository
	}{
		{memrepo.Backend, func(t *testing.T) repo.Repository { return memrepo.New() }},
		{"sqlite", sqliteRepo},
	}

	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			h := New(b.repo(t), b.name)
			for _, name := range []string{"foo_bar", "empty"} {
				s, err := LoadScenario(scenarioPath(name + ".yaml"))
				require.NoError(t, err)

				result, err := RunWithGolden(t, h, s)
				require.NoError(t, err)
				assert.True(t, result.Pass, "errors: %v", result.Errors)
				assert.Equal(t, b.name, result.Backend)
			}
		})
	}
}

func TestRun_BackendOverride(t *testing.T) {
	// A repository that rejects LIKE the way the document backend does.
	ctrl := gomock.NewController(t)
	mem := memrepo.New()
	next := mockrepo.NewMockRepository(ctrl)
	next.EXPECT().InitSchema(gomock.Any(), gomock.Any()).DoAndReturn(mem.InitSchema)
	next.EXPECT().InsertEntities(gomock.Any(), gomock.Any()).DoAndReturn(mem.InsertEntities)
	next.EXPECT().Execute(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, q queryir.Query) ([]value.Row, error) {
			for _, p := range q.Where {
				if c, ok := p.(queryir.Comparison); ok && c.Op == queryir.OpLike {
					return nil, queryir.NewUnsupportedError("mongo", "like on %s", c.Left.Attr.Name())
				}
			}
			return mem.Execute(ctx, q)
		}).Times(4)

	s, err := LoadScenario(scenarioPath("foo_bar.yaml"))
	require.NoError(t, err)

	result, err := New(next, "mongo").Run(context.Background(), s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)

	require.Len(t, result.Outcomes, 4)
	like := result.Outcomes[3]
	assert.Equal(t, "a_names", like.Query)
	assert.Equal(t, string(queryir.CodeUnsupported), like.ErrorCode)
	assert.Nil(t, like.Rows)
}

func TestRun_ReportsMismatch(t *testing.T) {
	s := &Scenario{
		Name:        "mismatch",
		Description: "wrong expectations",
		Catalog:     catalogDir(t),
		Entities: []EntityStep{
			{Type: "foo", ID: "foo_1", Values: map[string]any{"foo_str": "A", "foo_int": 1}},
		},
		Queries: []QueryStep{
			{Query: "cheap_foo", Expect: Expect{Rows: [][]any{{"A", 2}}}},
			{Query: "missing_or_small", Expect: Expect{Error: "VALIDATION"}},
			{Query: "a_names", Expect: Expect{Rows: [][]any{{"foo_1"}}}},
		},
	}

	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))

	result, err := New(memrepo.New(), memrepo.Backend, WithLogger(logger)).Run(context.Background(), s)
	require.NoError(t, err)

	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 2)
	assert.Contains(t, result.Errors[0], "query cheap_foo failed on memory")
	assert.Contains(t, result.Errors[0], `Actual: [["A",1]]`)
	assert.Contains(t, result.Errors[1], "query missing_or_small failed on memory")
	assert.Contains(t, logs.String(), "scenario_query=a_names")
}

func TestRun_SetupErrors(t *testing.T) {
	tests := []struct {
		name     string
		catalog  string
		entities []EntityStep
		query    string
		want     string
	}{
		{
			name:    "missing catalog",
			catalog: "/nonexistent",
			query:   "cheap_foo",
			want:    "failed to load catalog",
		},
		{
			name:     "unknown entity type",
			entities: []EntityStep{{Type: "baz", ID: "x"}},
			query:    "cheap_foo",
			want:     `entities[0]: entity type "baz" is not declared`,
		},
		{
			name:     "unknown attribute",
			entities: []EntityStep{{Type: "foo", ID: "x", Values: map[string]any{"nope": 1}}},
			query:    "cheap_foo",
			want:     `foo has no attribute "nope"`,
		},
		{
			name:     "kind mismatch",
			entities: []EntityStep{{Type: "foo", ID: "x", Values: map[string]any{"foo_int": "one"}}},
			query:    "cheap_foo",
			want:     "does not match kind",
		},
		{
			name:  "unknown query",
			query: "nope",
			want:  `query "nope" is not declared in the catalog`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			catalog := tt.catalog
			if catalog == "" {
				catalog = catalogDir(t)
			}
			s := &Scenario{
				Name:     tt.name,
				Catalog:  catalog,
				Entities: tt.entities,
				Queries:  []QueryStep{{Query: tt.query, Expect: Expect{Count: intPtr(0)}}},
			}

			_, err := New(memrepo.New(), memrepo.Backend).Run(context.Background(), s)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestRun_RepositoryFailures(t *testing.T) {
	s, err := LoadScenario(scenarioPath("foo_bar.yaml"))
	require.NoError(t, err)

	t.Run("init schema", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		next := mockrepo.NewMockRepository(ctrl)
		next.EXPECT().InitSchema(gomock.Any(), gomock.Any()).Return(queryir.NewSchemaError("test", "", errors.New("read-only")))

		_, err := New(next, "test").Run(context.Background(), s)
		require.Error(t, err)
		assert.True(t, queryir.IsSchemaError(err))
	})

	t.Run("insert", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		next := mockrepo.NewMockRepository(ctrl)
		next.EXPECT().InitSchema(gomock.Any(), gomock.Any()).Return(nil)
		next.EXPECT().InsertEntities(gomock.Any(), gomock.Any()).Return(queryir.NewWriteError("test", "", errors.New("disk full")))

		_, err := New(next, "test").Run(context.Background(), s)
		require.Error(t, err)
		assert.True(t, queryir.IsWriteError(err))
		assert.Contains(t, err.Error(), "failed to insert entities")
	})
}

func TestSnapshot_RendersErrorCodeOnly(t *testing.T) {
	r := NewResult("s", "mongo")
	r.Outcomes = append(r.Outcomes,
		QueryOutcome{Query: "a", ErrorCode: "UNSUPPORTED_OPERATION", Error: "UNSUPPORTED_OPERATION: like on foo_str (backend=mongo)"},
		QueryOutcome{Query: "b", Error: "connection reset"},
		QueryOutcome{Query: "c", Columns: []string{"x"}, Rows: []value.Row{{value.Float(1.5)}}},
	)

	out, err := Snapshot(r)
	require.NoError(t, err)
	assert.Equal(t, "# s\n\nquery: a\nerror: UNSUPPORTED_OPERATION\n\nquery: b\nerror: unknown\n\nquery: c\ncolumns: x\n[1.5]\n", string(out))
}

func TestMain(m *testing.M) {
	// Keep repository debug logs out of test output.
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))
	os.Exit(m.Run())
}
