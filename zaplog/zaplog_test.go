package zaplog_test

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/goliatone/go-onboarding"
	"github.com/goliatone/go-onboarding/zaplog"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, zaplog.ParseLevel("debug"))
	assert.Equal(t, zapcore.WarnLevel, zaplog.ParseLevel(" WARNING "))
	assert.Equal(t, zapcore.ErrorLevel, zaplog.ParseLevel("error"))
	assert.Equal(t, zapcore.InfoLevel, zaplog.ParseLevel("verbose"))
}

func TestNewWritesJSONOutsideDevelopment(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := zaplog.New(zaplog.Options{Level: "info", Output: buf})

	zaplog.NewAdapter(logger).Info("hydrated at %s", "sms-validation")
	zaplog.NewAdapter(logger).Debug("filtered out")
	require.NoError(t, logger.Sync())

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	entry := map[string]any{}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "INFO", entry["level"])
	assert.Equal(t, "hydrated at sms-validation", entry["msg"])
}

func TestNewWritesTextInDevelopment(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := zaplog.New(zaplog.Options{Level: "debug", Development: true, Output: buf})

	zaplog.NewAdapter(logger).Debug("token issued")
	require.NoError(t, logger.Sync())

	assert.Contains(t, buf.String(), "token issued")
	assert.False(t, strings.HasPrefix(strings.TrimSpace(buf.String()), "{"))
}

func TestAdapterFormatsMessages(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	adapter := zaplog.NewAdapter(zap.New(core))

	adapter.Debug("d %d", 1)
	adapter.Info("i %d", 2)
	adapter.Warn("w %d", 3)
	adapter.Error("e %d", 4)

	entries := logs.All()
	require.Len(t, entries, 4)
	assert.Equal(t, "d 1", entries[0].Message)
	assert.Equal(t, zapcore.WarnLevel, entries[2].Level)
	assert.Equal(t, "e 4", entries[3].Message)
}

func TestActivitySinkLogsStructuredFields(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	sink := zaplog.NewActivitySink(zap.New(core))

	at := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)
	err := sink.Record(context.Background(), onboarding.ActivityEvent{
		EventType:  onboarding.ActivityEventStepChanged,
		Identity:   "fingerprint",
		FromStep:   onboarding.StepRegistration,
		ToStep:     onboarding.StepEmailValidation,
		Metadata:   map[string]any{"reason": "registered"},
		OccurredAt: at,
	})
	require.NoError(t, err)

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "applicant advanced", entries[0].Message)

	fields := entries[0].ContextMap()
	assert.Equal(t, "fingerprint", fields["actor_id"])
	assert.Equal(t, "onboarding", fields["channel"])
	assert.Equal(t, "fingerprint", fields["object_id"])
	assert.Equal(t, "applicant", fields["object_type"])

	metadata, ok := fields["metadata"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "registration", metadata["from_step"])
	assert.Equal(t, "email-validation", metadata["to_step"])
	assert.Equal(t, "registered", metadata["reason"])
	assert.Equal(t, "onboarding.step.changed", metadata["event"])
}

func TestNilLoggerFallsBackToNop(t *testing.T) {
	assert.NotPanics(t, func() {
		zaplog.NewAdapter(nil).Info("ignored")
		_ = zaplog.NewActivitySink(nil).Record(context.Background(), onboarding.ActivityEvent{})
	})
}
