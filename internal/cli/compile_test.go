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

func runCompileCommand(t *testing.T, format string, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewCompileCommand(&RootOptions{Format: format})
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestCompile_SQLiteAllQueries(t *testing.T) {
	output, err := runCompileCommand(t, "text", catalogDir)
	require.NoError(t, err)

	assert.Contains(t, output, "-- cheap_foo (sqlite)")
	assert.Contains(t, output, "-- totals_by_str (sqlite)")
	assert.Contains(t, output, "-- a_names (sqlite)")
	assert.Contains(t, output, "SELECT")
	assert.Contains(t, output, "-- args:")
	assert.NotContains(t, output, "-- error")
}

func TestCompile_SelectedQueryPostgres(t *testing.T) {
	output, err := runCompileCommand(t, "json", catalogDir, "cheap_foo", "--target", "postgres")
	require.NoError(t, err)

	var resp struct {
		Status string            `json:"status"`
		Data   CompilationResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(output), &resp))
	assert.Equal(t, "ok", resp.Status)
	require.Len(t, resp.Data.Queries, 1)

	q := resp.Data.Queries[0]
	assert.Equal(t, "cheap_foo", q.Name)
	assert.Equal(t, "postgres", q.Target)
	assert.Contains(t, q.Statement, "$1")
	assert.Equal(t, []string{"foo_str", "foo_int"}, q.Columns)
	assert.Nil(t, q.Error)
}

func TestCompile_MongoRejectsLike(t *testing.T) {
	output, err := runCompileCommand(t, "text", catalogDir, "--target", "mongo")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "1 query(ies) failed to compile")

	assert.Contains(t, output, "-- cheap_foo (mongo)")
	assert.Contains(t, output, "db.foo.aggregate")
	assert.Contains(t, output, "-- a_names (mongo)")
	assert.Contains(t, output, "-- error [UNSUPPORTED_OPERATION]")
}

func TestCompile_CommandErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		msg  string
	}{
		{"unknown query", []string{catalogDir, "nope"}, "unknown query"},
		{"unknown target", []string{catalogDir, "--target", "oracle"}, "invalid target"},
		{"missing catalog", []string{"/nonexistent/catalog"}, "E005"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runCompileCommand(t, "text", tt.args...)
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestCompile_WritesOutputFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "compiled.json")

	output, err := runCompileCommand(t, "json", catalogDir, "cheap_foo", "missing_or_small", "--output", path)
	require.NoError(t, err)
	assert.NotEmpty(t, output)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var result CompilationResult
	require.NoError(t, json.Unmarshal(data, &result))
	require.Len(t, result.Queries, 2)
	assert.Equal(t, "cheap_foo", result.Queries[0].Name)
	assert.Equal(t, "missing_or_small", result.Queries[1].Name)
	assert.Zero(t, result.Failed)
}

func TestCompile_TextOutputFileMessage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "compiled.sql")

	output, err := runCompileCommand(t, "text", catalogDir, "cheap_foo", "-o", path)
	require.NoError(t, err)
	assert.Contains(t, output, "✓ Wrote 1 compiled query(ies) to "+path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "-- cheap_foo (sqlite)")
}
