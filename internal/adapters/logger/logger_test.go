package logger

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]LogLevel{
		"debug":   LevelDebug,
		"INFO":    LevelInfo,
		"warning": LevelWarn,
		"Error":   LevelError,
		"bogus":   LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}

func TestStdLogger_FiltersAndFormats(t *testing.T) {
	var buf bytes.Buffer
	l := NewStdLoggerTo(&buf, LevelInfo)
	ctx := context.Background()

	l.Debug(ctx, "hidden")
	l.Info(ctx, "Order placed", map[string]interface{}{"pair": "ETH/BTC", "amount": 2})
	l.Error(ctx, errors.New("boom"), "Tick failed")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "[INFO] Order placed | amount=2 pair=ETH/BTC")
	assert.Contains(t, out, "[ERROR] Tick failed | error: boom")
}

func TestZapLogger_Fields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := NewZapLoggerFrom(zap.New(core))
	ctx := context.Background()

	l.Info(ctx, "Trade opened", map[string]interface{}{"op": "enter", "trade_id": int64(7)})
	l.Error(ctx, errors.New("rate limited"), "Cancel failed")

	require.Equal(t, 2, logs.Len())
	first := logs.All()[0]
	assert.Equal(t, "Trade opened", first.Message)
	assert.Equal(t, "enter", first.ContextMap()["op"])
	assert.Equal(t, int64(7), first.ContextMap()["trade_id"])
	assert.Equal(t, "rate limited", logs.All()[1].ContextMap()["error"])
}

func TestNew_SelectsImplementation(t *testing.T) {
	l, err := New("text", LevelWarn)
	require.NoError(t, err)
	assert.IsType(t, &StdLogger{}, l)

	l, err = New("JSON", LevelWarn)
	require.NoError(t, err)
	assert.IsType(t, &ZapLogger{}, l)
}
