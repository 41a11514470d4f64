package logger

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestColorHandlerLevels(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})

	log.Debug("hidden")
	log.Info("visible", "deal_id", "deal-1")
	log.Warn("careful")
	log.Error("broken")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "visible")
	assert.Contains(t, out, "deal_id=deal-1")
	assert.Contains(t, out, colorYellow)
	assert.Contains(t, out, colorRed)
}

func TestColorHandlerGreenKeywords(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger(&buf, nil)

	log.Info("Persisting facts", "count", 3)
	require.Contains(t, buf.String(), colorGreen)

	buf.Reset()
	log.Info("resolving entity")
	assert.NotContains(t, buf.String(), colorGreen)
}

func TestColorHandlerWithAttrs(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger(&buf, nil).With("component", "ingest")

	log.Info("document claimed", "document_id", "doc-1")

	line := buf.String()
	assert.Contains(t, line, "component=ingest")
	assert.Contains(t, line, "document_id=doc-1")
}

func TestColorHandlerWithGroup(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger(&buf, nil).WithGroup("store")

	log.Info("opened", "backend", "badger")
	assert.Contains(t, buf.String(), "store.backend=badger")
}

func TestNewDefaultLogger(t *testing.T) {
	log := NewDefaultLogger(slog.LevelDebug)
	require.NotNil(t, log)
	assert.True(t, log.Enabled(context.Background(), slog.LevelDebug))
}

func TestOneLinePerRecord(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger(&buf, nil)

	log.Info("first")
	log.Info("second")
	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	assert.Len(t, lines, 2)
}
