// Package sqlrepo implements repo.Repository over database/sql.
//
// Statements are compiled by querysql for the repository's dialect; the
// same code drives SQLite (github.com/mattn/go-sqlite3) and PostgreSQL
// (github.com/jackc/pgx/v5/stdlib).
package sqlrepo

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/roach88/relq/internal/entity"
	"github.com/roach88/relq/internal/queryir"
	"github.com/roach88/relq/internal/querysql"
	"github.com/roach88/relq/internal/repo"
	"github.com/roach88/relq/internal/value"
)

// Repository is a relational repo.Repository.
// It is safe for concurrent use to the extent the underlying *sql.DB is.
type Repository struct {
	db       *sql.DB
	compiler *querysql.Compiler
	logger   *slog.Logger
}

var (
	_ repo.Repository = (*Repository)(nil)
	_ repo.Explainer  = (*Repository)(nil)
)

// New creates a repository over an open database. The caller keeps
// ownership of db.
func New(db *sql.DB, dialect *querysql.Dialect, opts ...repo.Option) *Repository {
	o := repo.ApplyOptions(opts...)
	return &Repository{
		db:       db,
		compiler: querysql.NewCompiler(dialect),
		logger:   o.Logger,
	}
}

// Backend returns the dialect name.
func (r *Repository) Backend() string {
	return r.compiler.Dialect().Name
}

// InitSchema drops and recreates one table per entity type.
func (r *Repository) InitSchema(ctx context.Context, types ...*entity.Type) error {
	for _, t := range types {
		for _, stmt := range r.compiler.CreateTable(t) {
			r.logger.Debug("init schema", "backend", r.Backend(), "type", t.Name(), "sql", stmt.Text)
			if _, err := r.db.ExecContext(ctx, stmt.Text, stmt.Args...); err != nil {
				return queryir.NewSchemaError(r.Backend(), stmt.Text, err)
			}
		}
	}
	return nil
}

// InsertEntities inserts one row per entity, in order. Entities before a
// failing one stay inserted.
func (r *Repository) InsertEntities(ctx context.Context, entities ...*entity.Entity) error {
	for _, e := range entities {
		stmt := r.compiler.Insert(e)
		if _, err := r.db.ExecContext(ctx, stmt.Text, stmt.Args...); err != nil {
			return queryir.NewWriteError(r.Backend(), stmt.Text, fmt.Errorf("entity %s/%s: %w", e.Type().Name(), e.ID(), err))
		}
	}
	return nil
}

// Execute compiles q, runs it and decodes every row.
func (r *Repository) Execute(ctx context.Context, q queryir.Query) ([]value.Row, error) {
	compiled, err := r.compiler.Compile(q)
	if err != nil {
		return nil, err
	}

	queryID := repo.NewQueryID()
	r.logger.Debug("execute query",
		"backend", r.Backend(),
		"query_id", queryID,
		"sql", compiled.Text,
		"args", compiled.Args)

	rows, err := r.db.QueryContext(ctx, compiled.Text, compiled.Args...)
	if err != nil {
		return nil, queryir.NewQueryExecutionError(r.Backend(), compiled.Text, err)
	}
	defer rows.Close()

	result, err := scanRows(rows, compiled)
	if err != nil {
		return nil, queryir.NewQueryExecutionError(r.Backend(), compiled.Text, err)
	}

	r.logger.Debug("query complete", "query_id", queryID, "rows", len(result))
	return result, nil
}

// Explain returns the compiled SQL text of q.
func (r *Repository) Explain(q queryir.Query) (string, error) {
	compiled, err := r.compiler.Compile(q)
	if err != nil {
		return "", err
	}
	return compiled.Text, nil
}

// scanRows reads every row positionally and decodes it by column type.
func scanRows(rows *sql.Rows, q *querysql.Query) ([]value.Row, error) {
	var result []value.Row
	raw := make([]any, len(q.Columns))
	ptrs := make([]any, len(raw))
	for i := range raw {
		ptrs[i] = &raw[i]
	}

	for rows.Next() {
		for i := range raw {
			raw[i] = nil
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		row, err := q.Decode(raw)
		if err != nil {
			return nil, err
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return result, nil
}
