package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/attribute"
)

func TestNoopMetricsDoesNothing(t *testing.T) {
	m := NoopMetrics{}

	assert.NotPanics(t, func() {
		m.RecordEmit(context.Background(), "order.created")
		m.RecordProcessing(context.Background(), "order.created", 10*time.Millisecond, nil)
		m.RecordProcessing(context.Background(), "order.created", 10*time.Millisecond, errors.New("boom"))
		m.RecordRetry(context.Background(), "order.created", 1)
		m.RecordBufferDepth(context.Background(), 5)
	})

	assert.NotPanics(t, func() {
		m.RecordEmit(nil, "") //nolint:staticcheck // nil context on purpose
	})
}

func TestNoopSpanManagerDoesNothing(t *testing.T) {
	m := NoopSpanManager{}
	ctx := context.Background()

	emitCtx, span := m.StartEmitSpan(ctx, "evt-1", "t")
	assert.Equal(t, ctx, emitCtx, "context should pass through unchanged")
	assert.NotNil(t, span)
	assert.False(t, span.IsRecording())

	procCtx, span := m.StartProcessSpan(ctx, "evt-1", 1)
	assert.Equal(t, ctx, procCtx)
	assert.NotNil(t, span)

	assert.NotPanics(t, func() {
		m.EndSpanWithError(span, errors.New("boom"))
		m.EndSpanWithError(nil, nil)
		m.AddSpanEvent(ctx, "anything", attribute.String("k", "v"))
	})
}
