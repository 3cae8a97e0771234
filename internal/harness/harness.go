package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"

	"github.com/roach88/relq/internal/entity"
	"github.com/roach88/relq/internal/queryir"
	"github.com/roach88/relq/internal/repo"
	"github.com/roach88/relq/internal/schema"
)

// Harness runs scenarios against one repository.
// The repository is reinitialized with the scenario's catalog types on
// every run, so one harness can run many scenarios in sequence.
type Harness struct {
	repo    repo.Repository
	backend string
	logger  *slog.Logger
}

// Option configures a Harness.
type Option func(*Harness)

// WithLogger sets the logger for per-query progress.
func WithLogger(l *slog.Logger) Option {
	return func(h *Harness) {
		if l != nil {
			h.logger = l
		}
	}
}

// New creates a harness. backend selects per-backend expectations.
func New(r repo.Repository, backend string, opts ...Option) *Harness {
	h := &Harness{
		repo:    r,
		backend: backend,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run executes a test scenario and returns the result.
//
// Execution flow:
// 1. Load the CUE catalog
// 2. Initialize storage for every catalog type
// 3. Insert the scenario entities
// 4. Execute each query and check it against its expectation
//
// An error means the scenario could not be run at all; expectation
// failures are reported in Result.Errors.
func (h *Harness) Run(ctx context.Context, s *Scenario) (*Result, error) {
	loaded, errs := schema.Load(s.Catalog, schema.LoadModeFailFast)
	if len(errs) > 0 {
		return nil, fmt.Errorf("failed to load catalog: %w", errs[0])
	}
	catalog := loaded.Catalog

	if err := h.repo.InitSchema(ctx, catalog.Types...); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	entities, err := buildEntities(catalog, s.Entities)
	if err != nil {
		return nil, err
	}
	if len(entities) > 0 {
		if err := h.repo.InsertEntities(ctx, entities...); err != nil {
			return nil, fmt.Errorf("failed to insert entities: %w", err)
		}
	}

	result := NewResult(s.Name, h.backend)
	for i, step := range s.Queries {
		q, ok := catalog.Query(step.Query)
		if !ok {
			return nil, fmt.Errorf("queries[%d]: query %q is not declared in the catalog", i, step.Query)
		}

		outcome := h.execute(ctx, step.Query, q)
		result.Outcomes = append(result.Outcomes, outcome)

		if err := checkOutcome(outcome, h.backend, step.For(h.backend)); err != nil {
			result.AddError(err.Error())
		}
	}

	return result, nil
}

func (h *Harness) execute(ctx context.Context, name string, q queryir.Query) QueryOutcome {
	outcome := QueryOutcome{
		Query:   name,
		Columns: make([]string, len(q.Select)),
		Ordered: len(q.OrderBy) > 0,
	}
	for i, t := range q.Select {
		outcome.Columns[i] = queryir.OutputName(t)
	}

	rows, err := h.repo.Execute(ctx, q)
	if err != nil {
		outcome.Error = err.Error()
		var qerr *queryir.Error
		if errors.As(err, &qerr) {
			outcome.ErrorCode = string(qerr.Code)
		}
		h.logger.Debug("query failed", "scenario_query", name, "error", err)
		return outcome
	}

	outcome.Rows = rows
	h.logger.Debug("query executed", "scenario_query", name, "rows", len(rows))
	return outcome
}

// buildEntities converts scenario entity steps using the catalog types.
func buildEntities(catalog *schema.Catalog, steps []EntityStep) ([]*entity.Entity, error) {
	out := make([]*entity.Entity, 0, len(steps))
	for i, step := range steps {
		t, ok := catalog.Type(step.Type)
		if !ok {
			return nil, fmt.Errorf("entities[%d]: entity type %q is not declared in the catalog", i, step.Type)
		}

		names := make([]string, 0, len(step.Values))
		for name := range step.Values {
			names = append(names, name)
		}
		sort.Strings(names)

		values := make([]entity.AttrValue, 0, len(names))
		for _, name := range names {
			a, ok := t.Lookup(name)
			if !ok {
				return nil, fmt.Errorf("entities[%d]: %s has no attribute %q", i, t.Name(), name)
			}
			if step.Values[name] == nil {
				continue
			}
			v, err := entity.ValueOf(a, step.Values[name])
			if err != nil {
				return nil, fmt.Errorf("entities[%d]: %w", i, err)
			}
			values = append(values, v)
		}

		e, err := entity.New(t, step.ID, values...)
		if err != nil {
			return nil, fmt.Errorf("entities[%d]: %w", i, err)
		}
		out = append(out, e)
	}
	return out, nil
}
