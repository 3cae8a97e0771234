// Package instrument decorates a repo.Repository with Prometheus metrics
// and OpenTelemetry spans.
package instrument

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/relq/internal/entity"
	"github.com/roach88/relq/internal/queryir"
	"github.com/roach88/relq/internal/repo"
	"github.com/roach88/relq/internal/value"
)

// TracerName is the instrumentation scope of relq spans.
const TracerName = "github.com/roach88/relq"

// Operation label values.
const (
	OpInitSchema     = "init_schema"
	OpInsertEntities = "insert_entities"
	OpExecute        = "execute"
)

// OutcomeOK is the outcome label of a successful call. Failures are labeled
// with the lowercased error code, or "error" for errors outside the query
// layer.
const OutcomeOK = "ok"

// Metrics holds the repository collectors.
type Metrics struct {
	Calls    *prometheus.CounterVec
	Duration *prometheus.HistogramVec
	Rows     *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		Calls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "relq",
				Name:      "repository_calls_total",
				Help:      "Repository calls by backend, operation and outcome.",
			},
			[]string{"backend", "operation", "outcome"},
		),
		Duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "relq",
				Name:      "repository_call_duration_seconds",
				Help:      "Repository call latency.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"backend", "operation"},
		),
		Rows: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "relq",
				Name:      "query_result_rows",
				Help:      "Rows returned per executed query.",
				Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
			},
			[]string{"backend"},
		),
	}

	for _, c := range []prometheus.Collector{m.Calls, m.Duration, m.Rows} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Repository wraps another repository. Explain is forwarded when the
// wrapped repository implements repo.Explainer.
type Repository struct {
	next    repo.Repository
	backend string
	metrics *Metrics
	tracer  trace.Tracer
}

var (
	_ repo.Repository = (*Repository)(nil)
	_ repo.Explainer  = (*Repository)(nil)
)

// Option configures the decorator.
type Option func(*Repository)

// WithMetrics records calls into m.
func WithMetrics(m *Metrics) Option {
	return func(r *Repository) { r.metrics = m }
}

// WithTracerProvider sets the span source. The global provider is used
// otherwise.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(r *Repository) {
		if tp != nil {
			r.tracer = tp.Tracer(TracerName)
		}
	}
}

// Wrap decorates next, labeling its telemetry with backend.
func Wrap(next repo.Repository, backend string, opts ...Option) *Repository {
	r := &Repository{
		next:    next,
		backend: backend,
		tracer:  otel.GetTracerProvider().Tracer(TracerName),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Unwrap returns the decorated repository.
func (r *Repository) Unwrap() repo.Repository { return r.next }

func (r *Repository) InitSchema(ctx context.Context, types ...*entity.Type) error {
	ctx, done := r.start(ctx, OpInitSchema, attribute.Int("relq.types", len(types)))
	err := r.next.InitSchema(ctx, types...)
	done(err)
	return err
}

func (r *Repository) InsertEntities(ctx context.Context, entities ...*entity.Entity) error {
	ctx, done := r.start(ctx, OpInsertEntities, attribute.Int("relq.entities", len(entities)))
	err := r.next.InsertEntities(ctx, entities...)
	done(err)
	return err
}

func (r *Repository) Execute(ctx context.Context, q queryir.Query) ([]value.Row, error) {
	var from string
	if q.From != nil {
		from = q.From.Name()
	}
	ctx, done := r.start(ctx, OpExecute,
		attribute.String("relq.from", from),
		attribute.Int("relq.joins", len(q.Joins)))

	rows, err := r.next.Execute(ctx, q)
	if err == nil {
		trace.SpanFromContext(ctx).SetAttributes(attribute.Int("relq.rows", len(rows)))
		if r.metrics != nil {
			r.metrics.Rows.WithLabelValues(r.backend).Observe(float64(len(rows)))
		}
	}
	done(err)
	return rows, err
}

// Explain forwards to the wrapped repository.
func (r *Repository) Explain(q queryir.Query) (string, error) {
	ex, ok := r.next.(repo.Explainer)
	if !ok {
		return "", queryir.NewUnsupportedError(r.backend, "explain")
	}
	return ex.Explain(q)
}

// start opens a span and returns the function that closes it and records
// the call.
func (r *Repository) start(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	attrs = append(attrs, attribute.String("relq.backend", r.backend))
	ctx, span := r.tracer.Start(ctx, "relq."+op, trace.WithAttributes(attrs...))
	begin := time.Now()

	return ctx, func(err error) {
		outcome := Outcome(err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, outcome)
		}
		span.End()

		if r.metrics != nil {
			r.metrics.Calls.WithLabelValues(r.backend, op, outcome).Inc()
			r.metrics.Duration.WithLabelValues(r.backend, op).Observe(time.Since(begin).Seconds())
		}
	}
}

// Outcome returns the outcome label of a call result.
func Outcome(err error) string {
	if err == nil {
		return OutcomeOK
	}
	var qe *queryir.Error
	if errors.As(err, &qe) {
		return strings.ToLower(string(qe.Code))
	}
	return "error"
}
