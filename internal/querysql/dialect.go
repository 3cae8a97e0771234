package querysql

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/roach88/relq/internal/entity"
	"github.com/roach88/relq/internal/queryir"
)

// Dialect captures the syntax differences between relational engines.
type Dialect struct {
	// Name identifies the dialect ("sqlite", "postgres").
	Name string

	// IdentQuoteChar quotes identifiers that are not plain lower snake case.
	IdentQuoteChar byte

	// NumberedParams selects $1, $2, ... placeholders instead of ?.
	NumberedParams bool

	// NullsOrdering appends NULLS FIRST / NULLS LAST to sort keys so nulls
	// order low, as on SQLite and MongoDB.
	NullsOrdering bool

	// StringType and IntegerType are the column types used by CreateTable.
	StringType  string
	IntegerType string

	// Aggregates overrides the SQL pattern of an aggregate function.
	// The pattern receives the column expression, e.g. "SUM(%s)".
	Aggregates map[queryir.AggregateKind]string
}

// SQLite is the dialect of github.com/mattn/go-sqlite3.
var SQLite = &Dialect{
	Name:           "sqlite",
	IdentQuoteChar: '"',
	StringType:     "TEXT",
	IntegerType:    "INTEGER",
}

// Postgres is the dialect of PostgreSQL through pgx. Strings use the "C"
// collation so they compare bytewise, as on the other backends.
// SUM(bigint) and AVG(bigint) return numeric on PostgreSQL; the casts keep
// the decoded types aligned with the other backends.
var Postgres = &Dialect{
	Name:           "postgres",
	IdentQuoteChar: '"',
	NumberedParams: true,
	NullsOrdering:  true,
	StringType:     `TEXT COLLATE "C"`,
	IntegerType:    "BIGINT",
	Aggregates: map[queryir.AggregateKind]string{
		queryir.AggSum: "CAST(SUM(%s) AS BIGINT)",
		queryir.AggAvg: "CAST(AVG(%s) AS DOUBLE PRECISION)",
	},
}

// DialectByName returns the dialect registered under name.
func DialectByName(name string) (*Dialect, error) {
	switch strings.ToLower(name) {
	case "sqlite", "sqlite3":
		return SQLite, nil
	case "postgres", "postgresql", "pgx":
		return Postgres, nil
	default:
		return nil, fmt.Errorf("unknown SQL dialect %q", name)
	}
}

// QuoteIdent quotes s unless it is a plain lower snake case identifier.
func (d *Dialect) QuoteIdent(s string) string {
	if isSafeIdent(s) {
		return s
	}
	q := d.IdentQuoteChar
	if q == 0 {
		return s
	}
	escaped := strings.ReplaceAll(s, string(q), string(q)+string(q))
	return string(q) + escaped + string(q)
}

// Placeholder returns the bind marker for the n-th argument (1-based).
func (d *Dialect) Placeholder(n int) string {
	if d.NumberedParams {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

// ColumnType returns the column type of an attribute kind.
func (d *Dialect) ColumnType(k entity.Kind) string {
	if k == entity.KindInteger {
		return d.IntegerType
	}
	return d.StringType
}

func (d *Dialect) aggregate(k queryir.AggregateKind, col string) (string, error) {
	if pattern, ok := d.Aggregates[k]; ok {
		return fmt.Sprintf(pattern, col), nil
	}
	name, err := queryir.VisitAggregate[string](k, aggregateNames{})
	if err != nil {
		return "", err
	}
	return name + "(" + col + ")", nil
}

// aggregateNames maps aggregate kinds to SQL function names.
type aggregateNames struct{}

func (aggregateNames) VisitMax() (string, error)   { return "MAX", nil }
func (aggregateNames) VisitMin() (string, error)   { return "MIN", nil }
func (aggregateNames) VisitSum() (string, error)   { return "SUM", nil }
func (aggregateNames) VisitAvg() (string, error)   { return "AVG", nil }
func (aggregateNames) VisitCount() (string, error) { return "COUNT", nil }

// sqlKeywords are words that must be quoted when used as identifiers.
var sqlKeywords = map[string]bool{
	"select": true, "from": true, "where": true, "group": true, "order": true,
	"by": true, "having": true, "join": true, "on": true, "and": true, "or": true,
	"not": true, "null": true, "is": true, "like": true, "table": true,
	"create": true, "drop": true, "insert": true, "into": true, "values": true,
	"primary": true, "key": true, "as": true, "user": true, "limit": true,
}

func isSafeIdent(s string) bool {
	if s == "" || sqlKeywords[s] {
		return false
	}
	for i, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r == '_':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}
