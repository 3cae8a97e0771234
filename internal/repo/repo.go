// Package repo defines the storage boundary every relq backend implements.
//
// A Repository owns no connection: callers open the engine session, pass it
// to a backend constructor and close it when done. Every operation compiles
// and issues its requests synchronously and fully materializes results.
package repo

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/roach88/relq/internal/entity"
	"github.com/roach88/relq/internal/queryir"
	"github.com/roach88/relq/internal/value"
)

//go:generate mockgen -source=repo.go -destination=mockrepo/mock_repository.go -package=mockrepo

// Repository stores entities and executes queries over them.
//
// Errors are *queryir.Error values: SCHEMA from InitSchema, WRITE from
// InsertEntities, and VALIDATION, UNSUPPORTED_OPERATION or QUERY_EXECUTION
// from Execute. Shape errors are reported before any backend request.
type Repository interface {
	// InitSchema recreates empty storage for each entity type.
	InitSchema(ctx context.Context, types ...*entity.Type) error

	// InsertEntities persists entities. Their types must be initialized.
	InsertEntities(ctx context.Context, entities ...*entity.Entity) error

	// Execute runs q and returns one row per result, one value per select
	// term in declared order.
	Execute(ctx context.Context, q queryir.Query) ([]value.Row, error)
}

// Explainer is implemented by repositories that can render the backend
// request of a query without running it.
type Explainer interface {
	Explain(q queryir.Query) (string, error)
}

// Options holds settings shared by the backend constructors.
type Options struct {
	Logger *slog.Logger
}

// Option configures a repository.
type Option func(*Options)

// WithLogger sets the logger used for compiled-artifact debug logs.
func WithLogger(l *slog.Logger) Option {
	return func(o *Options) {
		if l != nil {
			o.Logger = l
		}
	}
}

// ApplyOptions resolves options over the defaults.
func ApplyOptions(opts ...Option) Options {
	o := Options{Logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// NewQueryID generates a UUIDv7 identifying one Execute call in logs.
// UUIDv7 is time-sortable, so log lines of consecutive queries stay ordered.
func NewQueryID() string {
	return uuid.Must(uuid.NewV7()).String()
}
