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

func (h *testHandler) WithGroup(name string) slog.Handler {
	return h
}

// records decodes every captured log line.
func (h *testHandler) records(t *testing.T) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(h.buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}
	return out
}

func TestLogHelpersNilLogger(t *testing.T) {
	// All helpers must tolerate a nil logger.
	LogEmit(nil, "e1", "t")
	LogBuffered(nil, "e1", 3)
	LogProcessed(nil, "e1", "t", time.Millisecond)
	LogProcessingFailed(nil, "e1", "t", 1, errors.New("boom"))
	LogRetryScheduled(nil, "e1", 1, time.Second)
	LogStoreError(nil, "e1", "store", errors.New("boom"))
	LogSweep(nil, "ttl-expiry", 2)
	assert.Nil(t, EnrichLogger(nil, "e1", "t", 1))
}

func TestLogEmit(t *testing.T) {
	h := newTestHandler()
	logger := slog.New(h)

	LogEmit(logger, "evt-1", "order.created")

	recs := h.records(t)
	require.Len(t, recs, 1)
	assert.Equal(t, "event emitted", recs[0]["msg"])
	assert.Equal(t, "evt-1", recs[0]["event_id"])
	assert.Equal(t, "order.created", recs[0]["event_type"])
}

func TestLogProcessingFailed(t *testing.T) {
	h := newTestHandler()
	logger := slog.New(h)

	LogProcessingFailed(logger, "evt-1", "order.created", 2, errors.New("boom"))

	recs := h.records(t)
	require.Len(t, recs, 1)
	assert.Equal(t, "ERROR", recs[0]["level"])
	assert.Equal(t, float64(2), recs[0]["attempt"])
	assert.Equal(t, "boom", recs[0]["error"])
}

func TestLogRetryScheduled(t *testing.T) {
	h := newTestHandler()
	logger := slog.New(h)

	LogRetryScheduled(logger, "evt-1", 1, 2*time.Second)

	recs := h.records(t)
	require.Len(t, recs, 1)
	assert.Equal(t, "retry scheduled", recs[0]["msg"])
	assert.Equal(t, "INFO", recs[0]["level"])
}

func TestEnrichLogger(t *testing.T) {
	h := newTestHandler()
	logger := slog.New(h)

	enriched := EnrichLogger(logger, "evt-1", "order.created", 3)
	require.NotNil(t, enriched)
	enriched.Info("custom line")

	recs := h.records(t)
	require.Len(t, recs, 1)
	assert.Equal(t, "evt-1", recs[0]["event_id"])
	assert.Equal(t, "order.created", recs[0]["event_type"])
	assert.Equal(t, float64(3), recs[0]["attempt"])
}

func TestLogSweep(t *testing.T) {
	h := newTestHandler()
	logger := slog.New(h)

	LogSweep(logger, "stale-retries", 4)

	recs := h.records(t)
	require.Len(t, recs, 1)
	assert.Equal(t, "maintenance sweep", recs[0]["msg"])
	assert.Equal(t, "stale-retries", recs[0]["task"])
	assert.Equal(t, float64(4), recs[0]["removed"])
}
