package requestctx

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestLoggerFallsBackToNoop(t *testing.T) {
	assert.Same(t, NoopLogger(), Logger(context.Background()))
	assert.Same(t, NoopLogger(), Logger(WithLogger(context.Background(), nil)))

	logger := zap.NewExample()
	assert.Same(t, logger, Logger(WithLogger(context.Background(), logger)))
}

func TestTraceAndSession(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, TraceID(ctx))
	assert.Empty(t, SessionID(ctx))

	ctx = WithTrace(ctx, TraceInfo{TraceID: "abc", SpanID: "1"})
	ctx = WithSessionID(ctx, "sess-1")
	assert.Equal(t, "abc", TraceID(ctx))
	assert.Equal(t, "sess-1", SessionID(ctx))
}
