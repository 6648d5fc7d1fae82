package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewHonoursLevel(t *testing.T) {
	l, err := New("warn", "json")
	require.NoError(t, err)
	assert.False(t, l.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, l.Core().Enabled(zapcore.WarnLevel))

	l, err = New("nonsense", "console")
	require.NoError(t, err)
	assert.True(t, l.Core().Enabled(zapcore.InfoLevel))
	assert.False(t, l.Core().Enabled(zapcore.DebugLevel))
}

func TestNamedAndMust(t *testing.T) {
	assert.NotNil(t, Named(nil, "x"))
	core, logs := observer.New(zapcore.DebugLevel)
	Named(zap.New(core), "scheduler").Info("tick")
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "scheduler", logs.All()[0].LoggerName)
	assert.Panics(t, func() { Must(nil, assert.AnError) })
}

func TestKVWritesStructuredFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	kv := NewKV(zap.New(core))
	kv.Debug("operation committed", "operation", "sign_analysis")
	kv.Info("operation rejected", "kind", "precondition_unmet")
	kv.Warn("rule warning", "rule", "equipment_overlap")
	kv.Error("operation failed", "error", "boom")

	entries := logs.All()
	require.Len(t, entries, 4)
	assert.Equal(t, zapcore.WarnLevel, entries[2].Level)
	assert.Equal(t, "equipment_overlap", entries[2].ContextMap()["rule"])
	assert.Equal(t, "sign_analysis", entries[0].ContextMap()["operation"])

	NewKV(nil).Info("discarded")
}
