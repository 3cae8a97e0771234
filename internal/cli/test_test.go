package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var scenariosDir = filepath.Join("..", "..", "testdata", "scenarios")

func runTestCommand(t *testing.T, format string, args ...string) (string, string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	cmd := NewTestCommand(&RootOptions{Format: format})
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

func TestTestCommand_Backends(t *testing.T) {
	for _, backend := range []string{BackendMemory, BackendSQLite} {
		t.Run(backend, func(t *testing.T) {
			output, _, err := runTestCommand(t, "text", scenariosDir, "--backend", backend)
			require.NoError(t, err, output)

			assert.Contains(t, output, "✓ foo_bar")
			assert.Contains(t, output, "✓ empty")
			assert.Contains(t, output, "Test Summary ("+backend+"): 2 passed, 0 failed, 2 total")
			assert.Contains(t, output, "✓ All scenarios passed")
		})
	}
}

func TestTestCommand_JSON(t *testing.T) {
	output, _, err := runTestCommand(t, "json", filepath.Join(scenariosDir, "foo_bar.yaml"))
	require.NoError(t, err)

	// Rows hold interface values, so outcomes decode into natives.
	var resp struct {
		Status string `json:"status"`
		Data   struct {
			Backend   string `json:"backend"`
			Passed    int    `json:"passed"`
			Scenarios []struct {
				Name     string `json:"name"`
				Pass     bool   `json:"pass"`
				Outcomes []struct {
					Query string  `json:"query"`
					Rows  [][]any `json:"rows"`
				} `json:"outcomes"`
			} `json:"scenarios"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(output), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "memory", resp.Data.Backend)
	assert.Equal(t, 1, resp.Data.Passed)
	require.Len(t, resp.Data.Scenarios, 1)
	assert.Equal(t, "foo_bar", resp.Data.Scenarios[0].Name)
	assert.True(t, resp.Data.Scenarios[0].Pass)
	require.Len(t, resp.Data.Scenarios[0].Outcomes, 4)
	last := resp.Data.Scenarios[0].Outcomes[3]
	assert.Equal(t, "a_names", last.Query)
	assert.Equal(t, [][]any{{"foo_1"}, {"foo_3"}}, last.Rows)
}

func TestTestCommand_Filter(t *testing.T) {
	output, _, err := runTestCommand(t, "text", scenariosDir, "--filter", "emp*")
	require.NoError(t, err)
	assert.Contains(t, output, "✓ empty")
	assert.NotContains(t, output, "foo_bar")
	assert.Contains(t, output, "1 passed, 0 failed, 1 total")
}

func TestTestCommand_NoScenarios(t *testing.T) {
	output, _, err := runTestCommand(t, "text", t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, output, "No scenarios found.")
}

func TestTestCommand_Metrics(t *testing.T) {
	_, stderr, err := runTestCommand(t, "text", filepath.Join(scenariosDir, "empty.yaml"), "--metrics")
	require.NoError(t, err)

	assert.Contains(t, stderr, "Repository calls:")
	assert.Contains(t, stderr, "backend=memory operation=execute outcome=ok 3")
	assert.Contains(t, stderr, "backend=memory operation=init_schema outcome=ok 1")
}

func TestTestCommand_CommandErrors(t *testing.T) {
	t.Setenv(EnvMongoURI, "")
	t.Setenv(EnvPostgresDSN, "")

	tests := []struct {
		name string
		args []string
		msg  string
	}{
		{"missing path", []string{"/nonexistent/scenarios"}, "failed to find scenarios"},
		{"mongo without uri", []string{scenariosDir, "--backend", "mongo"}, EnvMongoURI},
		{"postgres without dsn", []string{scenariosDir, "--backend", "postgres"}, EnvPostgresDSN},
		{"unknown backend", []string{scenariosDir, "--backend", "oracle"}, `unknown backend "oracle"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := runTestCommand(t, "text", tt.args...)
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

// writeScenario writes a scenario over the shared catalog into dir.
func writeScenario(t *testing.T, dir, name, body string) string {
	t.Helper()
	catalog, err := filepath.Abs(catalogDir)
	require.NoError(t, err)

	content := "name: " + name + "\ndescription: generated\ncatalog: " + catalog + "\n" + body
	path := filepath.Join(dir, name+".yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

const oneFoo = `
entities:
  - type: foo
    id: foo_1
    values: { foo_str: A, foo_int: 1 }
queries:
  - query: cheap_foo
    expect:
      rows:
        - [A, 1]
`

func TestTestCommand_UpdateThenCompare(t *testing.T) {
	dir := t.TempDir()
	path := writeScenario(t, dir, "one_foo", oneFoo)

	output, _, err := runTestCommand(t, "text", path, "--update")
	require.NoError(t, err)
	assert.Contains(t, output, "✓ one_foo (golden updated)")

	golden, err := os.ReadFile(filepath.Join(dir, "golden", "one_foo.golden"))
	require.NoError(t, err)
	assert.Equal(t, "# one_foo\n\nquery: cheap_foo\ncolumns: foo_str, foo_int\n[\"A\",1]\n", string(golden))

	output, _, err = runTestCommand(t, "text", path)
	require.NoError(t, err)
	assert.Contains(t, output, "✓ one_foo")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "golden", "one_foo.golden"), []byte("# stale\n"), 0644))
	output, _, err = runTestCommand(t, "text", path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, output, "outcomes do not match golden file")
}

func TestTestCommand_FailingScenario(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "wrong", `
entities:
  - type: foo
    id: foo_1
    values: { foo_str: A, foo_int: 1 }
queries:
  - query: cheap_foo
    expect:
      count: 2
`)
	writeScenario(t, dir, "broken", `
queries:
  - query: not_declared
    expect:
      count: 0
`)

	output, _, err := runTestCommand(t, "text", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, output, "✗ wrong")
	assert.Contains(t, output, "query cheap_foo failed on memory")
	assert.Contains(t, output, "✗ broken")
	assert.Contains(t, output, `query "not_declared" is not declared in the catalog`)
	assert.Contains(t, output, "0 passed, 2 failed, 2 total")

	jsonOut, _, err := runTestCommand(t, "json", dir)
	require.Error(t, err)

	var resp struct {
		Status string    `json:"status"`
		Error  *CLIError `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(jsonOut), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "E_TEST_FAILED", resp.Error.Code)
}

func TestGoldenFilePath(t *testing.T) {
	assert.Equal(t,
		filepath.Join(scenariosDir, "golden", "foo_bar.mongo.golden"),
		goldenFilePath(filepath.Join(scenariosDir, "foo_bar.yaml"), BackendMongo))
	assert.Equal(t,
		filepath.Join(scenariosDir, "golden", "foo_bar.golden"),
		goldenFilePath(filepath.Join(scenariosDir, "foo_bar.yaml"), BackendSQLite))
}
