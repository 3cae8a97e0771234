package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/roach88/relq/internal/queryir"
)

// Scenario defines a conformance test scenario.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Catalog is the CUE catalog directory. Relative paths are resolved
	// against the scenario file's directory by LoadScenario.
	Catalog string `yaml:"catalog"`

	// Entities are inserted in order after the catalog types are
	// initialized.
	Entities []EntityStep `yaml:"entities,omitempty"`

	// Queries are executed in order against the stored entities.
	Queries []QueryStep `yaml:"queries"`
}

// EntityStep describes one stored entity.
type EntityStep struct {
	// Type is the catalog entity type name.
	Type string `yaml:"type"`

	// ID is the entity identity.
	ID string `yaml:"id"`

	// Values maps attribute names to values. Omitted attributes are null.
	Values map[string]any `yaml:"values,omitempty"`
}

// QueryStep executes one catalog query.
type QueryStep struct {
	// Query is the catalog query name.
	Query string `yaml:"query"`

	// Expect is the expected outcome on every backend not listed in
	// Backends.
	Expect Expect `yaml:"expect"`

	// Backends overrides Expect per backend name.
	Backends map[string]Expect `yaml:"backends,omitempty"`
}

// Expect specifies an expected query outcome. Exactly one field is set.
type Expect struct {
	// Rows are the expected result rows, one value per select term.
	Rows [][]any `yaml:"rows,omitempty"`

	// Count is the expected number of result rows.
	Count *int `yaml:"count,omitempty"`

	// Error is the expected queryir error code.
	Error string `yaml:"error,omitempty"`
}

// For returns the expectation that applies to backend.
func (q QueryStep) For(backend string) Expect {
	if e, ok := q.Backends[backend]; ok {
		return e
	}
	return q.Expect
}

var errorCodes = map[queryir.ErrorCode]bool{
	queryir.CodeValidation:     true,
	queryir.CodeUnsupported:    true,
	queryir.CodeSchema:         true,
	queryir.CodeWrite:          true,
	queryir.CodeQueryExecution: true,
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	s, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}

	if !filepath.IsAbs(s.Catalog) {
		s.Catalog = filepath.Join(filepath.Dir(path), s.Catalog)
	}
	if _, err := os.Stat(s.Catalog); os.IsNotExist(err) {
		return nil, fmt.Errorf("invalid scenario: catalog directory not found: %s", s.Catalog)
	}

	return s, nil
}

// ParseScenario parses scenario YAML without touching the filesystem.
// The catalog path is left as written.
func ParseScenario(data []byte) (*Scenario, error) {
	// Reject unknown fields (catches typos like "query:" vs "queries:")
	var s Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&s); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &s, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Catalog == "" {
		return fmt.Errorf("catalog is required")
	}
	if len(s.Queries) == 0 {
		return fmt.Errorf("queries list is required and must be non-empty")
	}

	seen := make(map[string]bool)
	for i, e := range s.Entities {
		if e.Type == "" {
			return fmt.Errorf("entities[%d]: type is required", i)
		}
		if e.ID == "" {
			return fmt.Errorf("entities[%d]: id is required", i)
		}
		key := e.Type + "/" + e.ID
		if seen[key] {
			return fmt.Errorf("entities[%d]: duplicate %s id %q", i, e.Type, e.ID)
		}
		seen[key] = true
	}

	for i, q := range s.Queries {
		if q.Query == "" {
			return fmt.Errorf("queries[%d]: query is required", i)
		}
		if err := validateExpect(q.Expect); err != nil {
			return fmt.Errorf("queries[%d].expect: %w", i, err)
		}
		for backend, e := range q.Backends {
			if err := validateExpect(e); err != nil {
				return fmt.Errorf("queries[%d].backends.%s: %w", i, backend, err)
			}
		}
	}
	return nil
}

func validateExpect(e Expect) error {
	set := 0
	if e.Rows != nil {
		set++
	}
	if e.Count != nil {
		set++
		if *e.Count < 0 {
			return fmt.Errorf("count must be non-negative")
		}
	}
	if e.Error != "" {
		set++
		if !errorCodes[queryir.ErrorCode(e.Error)] {
			return fmt.Errorf("unknown error code %q", e.Error)
		}
	}
	if set != 1 {
		return fmt.Errorf("exactly one of rows, count or error is required")
	}
	return nil
}
