package telemetry

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"goa.design/clue/log"
)

func TestNoopImplementations(t *testing.T) {
	ctx := context.Background()
	logger := NewNoopLogger()
	logger.Debug(ctx, "debug", "key", "value")
	logger.Info(ctx, "info", "key", "value")
	logger.Warn(ctx, "warn", "key", "value")
	logger.Error(ctx, "error", "err", errors.New("boom"))

	metrics := NewNoopMetrics()
	metrics.IncCounter("c", 1, "k", "v")
	metrics.RecordTimer("t", time.Second)

	newCtx, span := NewNoopTracer().Start(ctx, "op")
	require.Equal(t, ctx, newCtx)
	require.NotNil(t, span)
	span.AddEvent("evt", "k", 1)
	span.End()
}

func TestFielders(t *testing.T) {
	got := fielders("hello", []any{"unit", "AddUnit", 42, "skipped", "err", errors.New("boom"), "dangling"})
	assert.Equal(t, []log.Fielder{
		log.KV{K: "msg", V: "hello"},
		log.KV{K: "unit", V: "AddUnit"},
		log.KV{K: "err", V: "boom"},
		log.KV{K: "dangling", V: nil},
	}, got)
}

func TestTagsToAttrs(t *testing.T) {
	got := tagsToAttrs([]string{"kind", "worker", "outcome"})
	assert.Equal(t, []attribute.KeyValue{
		attribute.String("kind", "worker"),
		attribute.String("outcome", ""),
	}, got)
}

func TestClueLoggerWritesErrors(t *testing.T) {
	var buf bytes.Buffer
	ctx := log.Context(context.Background(), log.WithOutput(&buf), log.WithFormat(log.FormatJSON))
	NewClueLogger().Error(ctx, "dial failed", "address", "localhost:7233", "err", errors.New("refused"))
	out := buf.String()
	assert.Contains(t, out, "dial failed")
	assert.Contains(t, out, "localhost:7233")
	assert.Contains(t, out, "refused")
}
