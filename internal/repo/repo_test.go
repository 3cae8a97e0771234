package repo

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewQueryID_IsUUIDv7(t *testing.T) {
	id := NewQueryID()

	parsed, err := uuid.Parse(id)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), parsed.Version())
	assert.NotEqual(t, id, NewQueryID())
}

func TestApplyOptions(t *testing.T) {
	assert.Same(t, slog.Default(), ApplyOptions().Logger)

	var buf bytes.Buffer
	l := slog.New(slog.NewTextHandler(&buf, nil))
	assert.Same(t, l, ApplyOptions(WithLogger(l)).Logger)

	// A nil logger keeps the default.
	assert.Same(t, slog.Default(), ApplyOptions(WithLogger(nil)).Logger)
}
