package correlation

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWithConnID_and_ConnID_Roundtrip(t *testing.T) {
	ctx := WithConnID(context.Background(), "4f1c2a9e")
	id, ok := ConnID(ctx)
	assert.True(t, ok)
	assert.Equal(t, "4f1c2a9e", id)
}

func TestConnID_Missing(t *testing.T) {
	id, ok := ConnID(context.Background())
	assert.False(t, ok)
	assert.Empty(t, id)
}

func TestConnID_EmptyString(t *testing.T) {
	ctx := WithConnID(context.Background(), "")
	id, ok := ConnID(ctx)
	assert.False(t, ok)
	assert.Empty(t, id)
}

func TestHandler_AddsConnID(t *testing.T) {
	var buf bytes.Buffer
	inner := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	logger := slog.New(NewHandler(inner))

	ctx := WithConnID(context.Background(), "conn-1")
	logger.InfoContext(ctx, "Client connected", "remote_addr", "127.0.0.1:50000")

	output := buf.String()
	assert.Contains(t, output, "conn_id=conn-1")
	assert.Contains(t, output, "remote_addr=127.0.0.1:50000")
	assert.Contains(t, output, "Client connected")
}

func TestHandler_NoConnID_WhenMissing(t *testing.T) {
	var buf bytes.Buffer
	inner := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	logger := slog.New(NewHandler(inner))

	logger.InfoContext(context.Background(), "Server listening")

	assert.NotContains(t, buf.String(), "conn_id")
}

func TestHandler_WithAttrsKeepsInjection(t *testing.T) {
	var buf bytes.Buffer
	inner := slog.NewJSONHandler(&buf, nil)
	logger := slog.New(NewHandler(inner)).With("component", "lineserver")

	logger.InfoContext(WithConnID(context.Background(), "abc"), "Line sent")

	output := buf.String()
	assert.Contains(t, output, `"component":"lineserver"`)
	assert.Contains(t, output, `"conn_id":"abc"`)
}
