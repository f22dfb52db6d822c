package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestInitialize(t *testing.T) {
	tests := []struct {
		name       string
		jsonOutput bool
		verbosity  int
	}{
		{name: "console user level", jsonOutput: false, verbosity: 0},
		{name: "console debug", jsonOutput: false, verbosity: 2},
		{name: "json info", jsonOutput: true, verbosity: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prev := Logger
			t.Cleanup(func() { Logger = prev; JSONOutput = false })

			Logger = nil
			require.NoError(t, Initialize(tt.jsonOutput, tt.verbosity))
			require.NotNil(t, Logger)
			assert.Equal(t, tt.jsonOutput, JSONOutput)
		})
	}
}

func TestResolveLevel(t *testing.T) {
	tests := []struct {
		name      string
		env       string
		verbosity int
		want      zapcore.Level
	}{
		{name: "no env uses verbosity", verbosity: 1, want: zapcore.InfoLevel},
		{name: "env overrides verbosity", env: "error", verbosity: 2, want: zapcore.ErrorLevel},
		{name: "env is case insensitive", env: "DEBUG", verbosity: 0, want: zapcore.DebugLevel},
		{name: "invalid env falls back", env: "loud", verbosity: 0, want: zapcore.WarnLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(LevelEnvVar, tt.env)
			assert.Equal(t, tt.want, resolveLevel(tt.verbosity))
		})
	}
}

func TestVerbosityToLevel(t *testing.T) {
	assert.Equal(t, zapcore.WarnLevel, VerbosityToLevel(-1))
	assert.Equal(t, zapcore.WarnLevel, VerbosityToLevel(VerbosityUser))
	assert.Equal(t, zapcore.InfoLevel, VerbosityToLevel(VerbosityInfo))
	assert.Equal(t, zapcore.DebugLevel, VerbosityToLevel(VerbosityDebug))
	assert.Equal(t, zapcore.DebugLevel, VerbosityToLevel(5))
	assert.Equal(t, "Info (-v)", LevelName(1))
	assert.Equal(t, "Debug (-vv+)", LevelName(4))
}

func TestCleanup(t *testing.T) {
	prev := Logger
	t.Cleanup(func() { Logger = prev })

	Logger = zap.NewNop().Sugar()
	assert.NotPanics(t, Cleanup)
	assert.NotNil(t, Logger, "Cleanup should not nil out the logger")

	Logger = nil
	assert.NotPanics(t, Cleanup)
}

func TestLoggingFunctions(t *testing.T) {
	prev := Logger
	t.Cleanup(func() { Logger = prev })

	core, logs := observer.New(zapcore.DebugLevel)
	Logger = zap.New(core).Sugar()

	Infow("run started", FieldRunID, "r1")
	Warnw("retrying", FieldAttempt, 2)
	Errorw("step failed", FieldStep, "persist")
	Debugw("poke", FieldPath, "/tmp/x")

	require.Equal(t, 4, logs.Len())
	entries := logs.All()
	assert.Equal(t, "run started", entries[0].Message)
	assert.Equal(t, "r1", entries[0].ContextMap()[FieldRunID])
	assert.Equal(t, zapcore.ErrorLevel, entries[2].Level)

	t.Run("nil logger does not panic", func(t *testing.T) {
		Logger = nil
		assert.NotPanics(t, func() {
			Infow("x")
			Warnw("x")
			Errorw("x")
			Debugw("x")
		})
	})
}

func TestFieldsFromContext(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, FieldsFromContext(ctx))

	ctx = WithRunID(ctx, "run-42")
	ctx = WithComponent(ctx, "trigger")
	fields := FieldsFromContext(ctx)
	assert.Equal(t, []interface{}{FieldRunID, "run-42", FieldComponent, "trigger"}, fields)

	core, logs := observer.New(zapcore.InfoLevel)
	l := LoggerFromContext(zap.New(core).Sugar(), ctx)
	l.Info("hello")
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "run-42", logs.All()[0].ContextMap()[FieldRunID])
}

func TestComponentAndChildLogger(t *testing.T) {
	prev := Logger
	t.Cleanup(func() { Logger = prev })

	core, logs := observer.New(zapcore.InfoLevel)
	Logger = zap.New(core).Sugar()

	c := ComponentLogger("pulse.coordinator")
	child := ChildLogger(c, FieldRunID, "abc")
	child.Info("ok")

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "pulse.coordinator", entry.LoggerName)
	assert.Equal(t, "abc", entry.ContextMap()[FieldRunID])
}
