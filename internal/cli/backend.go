package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/roach88/relq/internal/querydoc"
	"github.com/roach88/relq/internal/querysql"
	"github.com/roach88/relq/internal/repo"
	"github.com/roach88/relq/internal/repo/docrepo"
	"github.com/roach88/relq/internal/repo/memrepo"
	"github.com/roach88/relq/internal/repo/sqlrepo"
)

// Backend names accepted by --backend.
const (
	BackendMemory   = memrepo.Backend
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendMongo    = querydoc.Backend
)

// ValidBackends lists the --backend values.
var ValidBackends = []string{BackendMemory, BackendSQLite, BackendPostgres, BackendMongo}

// Environment fallbacks for connection flags.
const (
	EnvMongoURI    = "RELQ_MONGO_URI"
	EnvPostgresDSN = "RELQ_POSTGRES_DSN"
)

// BackendOptions selects and locates a storage backend.
type BackendOptions struct {
	Backend     string
	SQLitePath  string
	PostgresDSN string
	MongoURI    string
	MongoDB     string
}

// resolve fills connection settings from the environment.
func (o *BackendOptions) resolve() {
	if o.MongoURI == "" {
		o.MongoURI = os.Getenv(EnvMongoURI)
	}
	if o.PostgresDSN == "" {
		o.PostgresDSN = os.Getenv(EnvPostgresDSN)
	}
}

// openBackend opens the selected backend. The returned close function
// releases the connection and is never nil.
func openBackend(ctx context.Context, o BackendOptions, logger *slog.Logger) (repo.Repository, func(), error) {
	o.resolve()
	noop := func() {}
	opt := repo.WithLogger(logger)

	switch o.Backend {
	case BackendMemory:
		return memrepo.New(opt), noop, nil

	case BackendSQLite:
		path := o.SQLitePath
		if path == "" {
			path = ":memory:"
		}
		db, err := sqlrepo.OpenSQLite(path)
		if err != nil {
			return nil, noop, err
		}
		return sqlrepo.New(db, querysql.SQLite, opt), func() { db.Close() }, nil

	case BackendPostgres:
		if o.PostgresDSN == "" {
			return nil, noop, fmt.Errorf("postgres backend needs --postgres-dsn or %s", EnvPostgresDSN)
		}
		db, err := sqlrepo.OpenPostgres(ctx, o.PostgresDSN)
		if err != nil {
			return nil, noop, err
		}
		return sqlrepo.New(db, querysql.Postgres, opt), func() { db.Close() }, nil

	case BackendMongo:
		if o.MongoURI == "" {
			return nil, noop, fmt.Errorf("mongo backend needs --mongo-uri or %s", EnvMongoURI)
		}
		client, err := docrepo.Connect(ctx, o.MongoURI)
		if err != nil {
			return nil, noop, err
		}
		closeFn := func() {
			if err := client.Disconnect(context.Background()); err != nil {
				logger.Error("error disconnecting from mongo", "error", err)
			}
		}
		return docrepo.New(client.Database(o.MongoDB), opt), closeFn, nil

	default:
		return nil, noop, fmt.Errorf("unknown backend %q: must be one of %v", o.Backend, ValidBackends)
	}
}
