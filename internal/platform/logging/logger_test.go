package logging

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/pscheid92/linecast/internal/platform/correlation"
	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("info"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warn"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

func TestNew_JSONFormatWithConnID(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "debug", "json")

	logger.DebugContext(correlation.WithConnID(context.Background(), "c1"), "Line sent", "bytes", 42)

	out := buf.String()
	assert.Contains(t, out, `"msg":"Line sent"`)
	assert.Contains(t, out, `"conn_id":"c1"`)
	assert.Contains(t, out, `"bytes":42`)
}

func TestNew_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "warn", "text")

	logger.Info("dropped")
	logger.Warn("kept")

	assert.NotContains(t, buf.String(), "dropped")
	assert.Contains(t, buf.String(), "kept")
}
