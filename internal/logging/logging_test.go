package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("whatever"))
}

func TestNew_JSONFormatAndLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New(Options{Level: "warn", Format: "json", Output: &buf})
	l.Info("dropped")
	ForAgent(l, "BraveFox12", "inc-1").Warn("kept", "attempt", 2)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "kept", rec["msg"])
	assert.Equal(t, "BraveFox12", rec["agent"])
	assert.Equal(t, "inc-1", rec["incarnation"])
	assert.EqualValues(t, 2, rec["attempt"])
}

func TestOrDiscard(t *testing.T) {
	assert.NotNil(t, OrDiscard(nil))
	l := Discard()
	assert.Same(t, l, OrDiscard(l))
}
