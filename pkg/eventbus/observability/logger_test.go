package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testHandler captures log records for testing.
type testHandler struct {
	buf   *bytes.Buffer
	level slog.Level
	attrs []slog.Attr
}

func newTestHandler() *testHandler {
	return &testHandler{
		buf:   &bytes.Buffer{},
		level: slog.LevelDebug,
	}
}

func (h *testHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *testHandler) Handle(_ context.Context, r slog.Record) error {
	data := map[string]any{
		"level": r.Level.String(),
		"msg":   r.Message,
	}
	for _, attr := range h.attrs {
		data[attr.Key] = attr.Value.Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		data[a.Key] = a.Value.Any()
		return true
	})
	return json.NewEncoder(h.buf).Encode(data)
}

func (h *testHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newH := &testHandler{
		buf:   h.buf,
		level: h.level,
		attrs: make([]slog.Attr, len(h.attrs)+len(attrs)),
	}
	copy(newH.attrs, h.attrs)
	copy(newH.attrs[len(h.attrs):], attrs)
	return newH
}

func (h *testHandler) WithGroup(string) slog.Handler {
	return h
}

// entries decodes the captured records.
func (h *testHandler) entries(t *testing.T) []map[string]any {
	t.Helper()
	var out []map[string]any
	dec := json.NewDecoder(strings.NewReader(h.buf.String()))
	for dec.More() {
		var m map[string]any
		require.NoError(t, dec.Decode(&m))
		out = append(out, m)
	}
	return out
}

func TestEnrichLogger(t *testing.T) {
	h := newTestHandler()
	logger := slog.New(h)

	enriched := EnrichLogger(logger, "ev-1", "cons-1", 2)
	require.NotNil(t, enriched)
	enriched.Info("retrying")

	entries := h.entries(t)
	require.Len(t, entries, 1)
	assert.Equal(t, "ev-1", entries[0]["event_id"])
	assert.Equal(t, "cons-1", entries[0]["consumer_id"])
	assert.Equal(t, float64(2), entries[0]["attempt"])
}

func TestEnrichLogger_NilLogger(t *testing.T) {
	assert.Nil(t, EnrichLogger(nil, "ev-1", "cons-1", 1))
}

func TestLogPublish(t *testing.T) {
	h := newTestHandler()
	LogPublish(slog.New(h), "ev-1", "order.created", "api")

	entries := h.entries(t)
	require.Len(t, entries, 1)
	assert.Equal(t, "event published", entries[0]["msg"])
	assert.Equal(t, "order.created", entries[0]["event_type"])
	assert.Equal(t, "api", entries[0]["producer"])
}

func TestLogConsumeFailure(t *testing.T) {
	h := newTestHandler()
	LogConsumeFailure(slog.New(h), "ev-1", "cons-1", errors.New("boom"), true)

	entries := h.entries(t)
	require.Len(t, entries, 1)
	assert.Equal(t, "ERROR", entries[0]["level"])
	assert.Equal(t, "boom", entries[0]["error"])
	assert.Equal(t, true, entries[0]["retryable"])
}

func TestLogClaimLost_DebugLevel(t *testing.T) {
	h := newTestHandler()
	LogClaimLost(slog.New(h), "ev-1", "cons-1")

	entries := h.entries(t)
	require.Len(t, entries, 1)
	// Claim races are routine, never errors.
	assert.Equal(t, "DEBUG", entries[0]["level"])
}

func TestLogHelpers_NilLoggerSafe(t *testing.T) {
	assert.NotPanics(t, func() {
		LogPublish(nil, "ev", "t", "p")
		LogConsumeStart(nil, "ev", "c", 1)
		LogConsumeSuccess(nil, "ev", "c", 1.5)
		LogConsumeFailure(nil, "ev", "c", errors.New("x"), false)
		LogClaimLost(nil, "ev", "c")
		LogArchive(nil, 3, 30)
		LogRegistered(nil, "consumer", "w", []string{"t"})
	})
}

func TestTimedOperation(t *testing.T) {
	done := TimedOperation()
	time.Sleep(10 * time.Millisecond)
	elapsed := done()
	assert.GreaterOrEqual(t, elapsed, float64(10))
}
