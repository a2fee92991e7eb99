package middlewares

import (
	"context"
	"errors"
	"testing"

	"github.com/sbilibin2017/gw-payflow/internal/bus"
	"github.com/sbilibin2017/gw-payflow/internal/logger"
	"github.com/sbilibin2017/gw-payflow/internal/models"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func observeLogs(t *testing.T) *observer.ObservedLogs {
	t.Helper()

	core, logs := observer.New(zap.DebugLevel)
	original := logger.Log
	logger.Log = zap.New(core).Sugar()
	t.Cleanup(func() { logger.Log = original })
	return logs
}

func TestEventLogging(t *testing.T) {
	msg := bus.Message{Topic: models.TopicDebitCompleted, Key: "TXN1"}

	tests := []struct {
		name      string
		err       error
		wantLevel zapcore.Level
	}{
		{"handled", nil, zap.DebugLevel},
		{"retryable", errors.New("connection refused"), zap.WarnLevel},
		{"rejected", models.ErrInvalidEvent, zap.ErrorLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logs := observeLogs(t)

			h := EventLogging("orchestrator", func(ctx context.Context, m bus.Message) error {
				return tt.err
			})

			err := h(context.Background(), msg)
			assert.Equal(t, tt.err, err)

			entries := logs.All()
			if assert.Len(t, entries, 1) {
				assert.Equal(t, tt.wantLevel, entries[0].Level)
				assert.Equal(t, "orchestrator", entries[0].ContextMap()["consumer"])
				assert.Equal(t, "TXN1", entries[0].ContextMap()["key"])
			}
		})
	}
}

func TestEventRecoverer(t *testing.T) {
	observeLogs(t)

	h := EventRecoverer(func(ctx context.Context, m bus.Message) error {
		panic("boom")
	})

	err := h(context.Background(), bus.Message{Topic: models.TopicCreditCompleted})
	assert.ErrorIs(t, err, ErrHandlerPanic)
	assert.False(t, models.IsRetryable(err))

	ok := EventRecoverer(func(ctx context.Context, m bus.Message) error { return nil })
	assert.NoError(t, ok(context.Background(), bus.Message{}))
}
