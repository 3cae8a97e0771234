// Package docrepo implements repo.Repository over MongoDB.
//
// Each entity type is a collection; entities are documents keyed by _id.
// Queries are compiled by querydoc into aggregation pipelines and run
// against the collection of the query's source type.
package docrepo

import (
	"context"
	"fmt"
	"log/slog"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/roach88/relq/internal/entity"
	"github.com/roach88/relq/internal/querydoc"
	"github.com/roach88/relq/internal/queryir"
	"github.com/roach88/relq/internal/repo"
	"github.com/roach88/relq/internal/value"
)

// Repository is a document repo.Repository.
type Repository struct {
	db       *mongo.Database
	compiler *querydoc.Compiler
	logger   *slog.Logger
}

var (
	_ repo.Repository = (*Repository)(nil)
	_ repo.Explainer  = (*Repository)(nil)
)

// New creates a repository over a database. The caller keeps ownership of
// the client.
func New(db *mongo.Database, opts ...repo.Option) *Repository {
	o := repo.ApplyOptions(opts...)
	return &Repository{
		db:       db,
		compiler: querydoc.NewCompiler(),
		logger:   o.Logger,
	}
}

// Connect opens a client for uri and pings the primary.
func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}
	return client, nil
}

// InitSchema drops and recreates one collection per entity type.
func (r *Repository) InitSchema(ctx context.Context, types ...*entity.Type) error {
	for _, t := range types {
		r.logger.Debug("init schema", "backend", querydoc.Backend, "type", t.Name())
		coll := r.db.Collection(t.Name())
		if err := coll.Drop(ctx); err != nil {
			return queryir.NewSchemaError(querydoc.Backend, "drop "+t.Name(), err)
		}
		if err := r.db.CreateCollection(ctx, t.Name()); err != nil {
			return queryir.NewSchemaError(querydoc.Backend, "create "+t.Name(), err)
		}
	}
	return nil
}

// InsertEntities writes entities grouped by type, preserving order within
// each collection. Ids are unique per collection.
func (r *Repository) InsertEntities(ctx context.Context, entities ...*entity.Entity) error {
	var order []string
	docs := make(map[string][]any)
	for _, e := range entities {
		name := e.Type().Name()
		if _, ok := docs[name]; !ok {
			order = append(order, name)
		}
		docs[name] = append(docs[name], querydoc.Document(e))
	}

	for _, name := range order {
		if _, err := r.db.Collection(name).InsertMany(ctx, docs[name]); err != nil {
			return queryir.NewWriteError(querydoc.Backend, "insert "+name, err)
		}
	}
	return nil
}

// Execute compiles q, runs the pipeline and decodes every output document.
func (r *Repository) Execute(ctx context.Context, q queryir.Query) ([]value.Row, error) {
	p, err := r.compiler.Compile(q)
	if err != nil {
		return nil, err
	}

	queryID := repo.NewQueryID()
	r.logger.Debug("execute query",
		"backend", querydoc.Backend,
		"query_id", queryID,
		"collection", p.Collection,
		"pipeline", p.String())

	cursor, err := r.db.Collection(p.Collection).Aggregate(ctx, p.Stages)
	if err != nil {
		return nil, queryir.NewQueryExecutionError(querydoc.Backend, p.String(), err)
	}

	var docs []bson.M
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, queryir.NewQueryExecutionError(querydoc.Backend, p.String(), err)
	}

	rows := make([]value.Row, 0, len(docs))
	for _, doc := range docs {
		row, err := p.Decode(doc)
		if err != nil {
			return nil, queryir.NewQueryExecutionError(querydoc.Backend, p.String(), err)
		}
		rows = append(rows, row)
	}

	r.logger.Debug("query complete", "query_id", queryID, "rows", len(rows))
	return rows, nil
}

// Explain returns the rendered pipeline of q, prefixed by its collection.
func (r *Repository) Explain(q queryir.Query) (string, error) {
	p, err := r.compiler.Compile(q)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("db.%s.aggregate\n%s", p.Collection, p.String()), nil
}
