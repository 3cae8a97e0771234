package sqlrepo

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/roach88/relq/internal/entity"
	"github.com/roach88/relq/internal/query"
	"github.com/roach88/relq/internal/queryir"
	"github.com/roach88/relq/internal/querysql"
	"github.com/roach88/relq/internal/repo"
	"github.com/roach88/relq/internal/repo/memrepo"
	"github.com/roach88/relq/internal/repo/repotest"
	"github.com/roach88/relq/internal/value"
)

func openTestSQLite(t *testing.T) *sql.DB {
	t.Helper()
	db, err := OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func newSQLite(t *testing.T, opts ...repo.Option) *Repository {
	return New(openTestSQLite(t), querysql.SQLite, opts...)
}

func TestSQLite_Conformance(t *testing.T) {
	repotest.Run(t, func(t *testing.T) repo.Repository {
		return newSQLite(t)
	})
}

// TestSQLite_MatchesMemory runs the same queries on SQLite and the
// in-memory evaluator and expects identical results.
func TestSQLite_MatchesMemory(t *testing.T) {
	ctx := context.Background()
	entities := append(repotest.SparseFooRows(), repotest.BarRows()...)
	entities = append(entities, repotest.BazRows()...)

	backends := []repo.Repository{newSQLite(t), memrepo.New()}
	for _, b := range backends {
		require.NoError(t, b.InitSchema(ctx, repotest.Foo, repotest.Bar, repotest.Baz))
		require.NoError(t, b.InsertEntities(ctx, entities...))
	}

	onFoo := query.JoinOn(repotest.Bar).On(query.Eq(entity.ID, repotest.BarFoo))
	queries := map[string]queryir.Query{
		"projection": query.Select(query.Attr(entity.ID), query.Attr(repotest.FooInt)).
			From(repotest.Foo).MustBuild(),
		"nested predicate": query.Select(query.Attr(entity.ID)).
			From(repotest.Foo).
			Where(query.Or(
				query.Not(query.And(query.Gt(repotest.FooInt, 40), query.Lt(repotest.FooInt, 43))),
				query.Eq(repotest.FooStr, nil),
			)).MustBuild(),
		"join group having": query.Select(query.Attr(repotest.FooStr), query.Max(repotest.BarInt), query.Avg(repotest.BarInt)).
			From(repotest.Foo).Join(onFoo).
			GroupBy(repotest.FooStr).
			Having(query.Not(query.Eq(repotest.FooStr, "Z"))).
			MustBuild(),
		"ordered": query.Select(query.Attr(repotest.BarFoo), query.Attr(repotest.BarInt)).
			From(repotest.Bar).
			OrderBy(query.Asc(query.Attr(repotest.BarFoo)), query.Desc(query.Attr(repotest.BarInt))).
			MustBuild(),
		"chained join": query.Select(query.Attr(entity.ID), query.Attr(repotest.BarInt), query.Attr(repotest.BazStr)).
			From(repotest.Foo).Join(onFoo).
			Join(query.JoinOn(repotest.Baz).On(query.Eq(repotest.BarInt, repotest.BazBar))).
			Where(query.Not(query.Eq(repotest.BazStr, "x"))).
			MustBuild(),
		"like": query.Select(query.Attr(entity.ID)).
			From(repotest.Bar).Where(query.Like(repotest.BarFoo, "foo_%")).MustBuild(),
	}

	for name, q := range queries {
		t.Run(name, func(t *testing.T) {
			want, err := backends[1].Execute(ctx, q)
			require.NoError(t, err)
			got, err := backends[0].Execute(ctx, q)
			require.NoError(t, err)

			if len(q.OrderBy) > 0 {
				assert.Equal(t, want, got)
			} else {
				assert.ElementsMatch(t, want, got)
			}
		})
	}
}

func TestSQLite_Explain(t *testing.T) {
	r := newSQLite(t)

	text, err := r.Explain(query.Select(query.Attr(repotest.FooStr)).
		From(repotest.Foo).
		Where(query.Lt(repotest.FooInt, 43)).
		MustBuild())

	require.NoError(t, err)
	assert.Equal(t, "SELECT foo.foo_str FROM foo WHERE foo.foo_int < ?", text)
}

func TestSQLite_ExecuteLogsQueryID(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	r := newSQLite(t, repo.WithLogger(logger))
	ctx := context.Background()
	require.NoError(t, r.InitSchema(ctx, repotest.Foo))

	_, err := r.Execute(ctx, query.Select(query.Attr(repotest.FooStr)).From(repotest.Foo).MustBuild())
	require.NoError(t, err)

	assert.Contains(t, buf.String(), `"query_id"`)
	assert.Contains(t, buf.String(), `"sql":"SELECT foo.foo_str FROM foo"`)
}

func TestSQLite_ValidationBeforeRequest(t *testing.T) {
	db := openTestSQLite(t)
	r := New(db, querysql.SQLite)
	db.Close()

	_, err := r.Execute(context.Background(), queryir.Query{From: repotest.Foo})

	require.Error(t, err)
	assert.True(t, queryir.IsValidationError(err), "got %v", err)
}

func TestSQLite_ErrorCodes(t *testing.T) {
	ctx := context.Background()

	t.Run("schema", func(t *testing.T) {
		db := openTestSQLite(t)
		r := New(db, querysql.SQLite)
		db.Close()

		err := r.InitSchema(ctx, repotest.Foo)
		require.Error(t, err)
		assert.True(t, queryir.IsSchemaError(err))
	})

	t.Run("write", func(t *testing.T) {
		r := newSQLite(t)

		err := r.InsertEntities(ctx, repotest.FooRows()...)
		require.Error(t, err)
		assert.True(t, queryir.IsWriteError(err))
		assert.Contains(t, err.Error(), "foo/foo_1")
	})

	t.Run("duplicate id", func(t *testing.T) {
		r := newSQLite(t)
		require.NoError(t, r.InitSchema(ctx, repotest.Foo))
		require.NoError(t, r.InsertEntities(ctx, repotest.FooRows()...))

		err := r.InsertEntities(ctx, repotest.FooRows()[1])
		require.Error(t, err)
		assert.True(t, queryir.IsWriteError(err))
	})

	t.Run("query execution", func(t *testing.T) {
		r := newSQLite(t)

		_, err := r.Execute(ctx, query.Select(query.Attr(repotest.FooStr)).From(repotest.Foo).MustBuild())
		require.Error(t, err)
		assert.True(t, queryir.IsQueryExecutionError(err))

		var qe *queryir.Error
		require.ErrorAs(t, err, &qe)
		assert.Equal(t, "sqlite", qe.Backend)
		assert.Equal(t, "SELECT foo.foo_str FROM foo", qe.Statement)
	})
}

func TestSQLite_CaseSensitiveLike(t *testing.T) {
	r := newSQLite(t)
	ctx := context.Background()
	require.NoError(t, r.InitSchema(ctx, repotest.Foo))
	require.NoError(t, r.InsertEntities(ctx, repotest.FooRows()...))

	rows, err := r.Execute(ctx, query.Select(query.Attr(entity.ID)).
		From(repotest.Foo).
		Where(query.Like(repotest.FooStr, "a")).
		MustBuild())

	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestSQLite_Backend(t *testing.T) {
	assert.Equal(t, "sqlite", newSQLite(t).Backend())
	assert.Equal(t, "postgres", New(nil, querysql.Postgres).Backend())
}

// postgresDSN returns RELQ_POSTGRES_DSN, or starts a throwaway container.
func postgresDSN(t *testing.T) string {
	t.Helper()
	if dsn := os.Getenv("RELQ_POSTGRES_DSN"); dsn != "" {
		return dsn
	}
	if testing.Short() {
		t.Skip("skipping postgres container in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	req := testcontainers.ContainerRequest{
		Image: "postgres:16-alpine",
		Env: map[string]string{
			"POSTGRES_USER":     "relq",
			"POSTGRES_PASSWORD": "relq",
			"POSTGRES_DB":       "relq",
		},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("postgres container unavailable: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	return fmt.Sprintf("postgres://relq:relq@%s:%s/relq?sslmode=disable", host, port.Port())
}

func TestPostgres_Conformance(t *testing.T) {
	dsn := postgresDSN(t)
	ctx := context.Background()

	db, err := OpenPostgres(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	repotest.Run(t, func(t *testing.T) repo.Repository {
		return New(db, querysql.Postgres)
	})

	t.Run("AverageIsFloat", func(t *testing.T) {
		r := New(db, querysql.Postgres)
		require.NoError(t, r.InitSchema(ctx, repotest.Foo))
		require.NoError(t, r.InsertEntities(ctx, repotest.FooRows()...))

		rows, err := r.Execute(ctx, query.Select(query.Avg(repotest.FooInt), query.Sum(repotest.FooInt)).
			From(repotest.Foo).MustBuild())
		require.NoError(t, err)
		assert.Equal(t, []value.Row{{value.Float(42.5), value.Int(85)}}, rows)
	})
}
