package onboarding

import (
	"context"
	"testing"
	"time"

	"github.com/goliatone/go-onboarding/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOfflineSession(t *testing.T) *Session {
	t.Helper()
	cfg := Config{
		APIBaseURL:        "http://127.0.0.1:1",
		HydrationTimeout:  time.Second,
		EmailPollInterval: time.Hour,
		HTTPTimeout:       time.Second,
	}
	s, err := New(cfg, store.NewMemory())
	require.NoError(t, err)
	t.Cleanup(s.Shutdown)
	require.NoError(t, s.WaitHydrated(context.Background()))
	return s
}

func TestLateTransitionHookKeepsCurrentWatch(t *testing.T) {
	s := newOfflineSession(t)
	ctx := context.Background()

	require.NoError(t, s.SetStepData(ctx, RegistrationData{Email: "ana@example.com", AcceptTerms: true}))
	require.NoError(t, s.GoTo(ctx, StepEmailValidation))

	watch, ok := s.ActiveWatch(StepEmailValidation)
	require.True(t, ok)

	// email -> sms hook delivered after the wizard already went back to email
	s.onTransition(ctx, TransitionContext{From: StepEmailValidation, To: StepSmsValidation})

	current, ok := s.ActiveWatch(StepEmailValidation)
	require.True(t, ok)
	assert.Same(t, watch, current)
	select {
	case <-watch.Done():
		t.Fatal("watch for the current step was stopped")
	default:
	}
}

func TestLateTransitionHookDoesNotStartWatchOffStep(t *testing.T) {
	s := newOfflineSession(t)
	ctx := context.Background()

	require.NoError(t, s.SetStepData(ctx, RegistrationData{Email: "ana@example.com", AcceptTerms: true}))
	require.NoError(t, s.GoTo(ctx, StepSmsValidation))

	// sms -> email hook delivered after the wizard already moved on to sms
	s.onTransition(ctx, TransitionContext{From: StepSmsValidation, To: StepEmailValidation})

	_, ok := s.ActiveWatch(StepEmailValidation)
	assert.False(t, ok)
}

func TestTransitionHookStopsWatchOfLeftStep(t *testing.T) {
	s := newOfflineSession(t)
	ctx := context.Background()

	require.NoError(t, s.SetStepData(ctx, RegistrationData{Email: "ana@example.com", AcceptTerms: true}))
	require.NoError(t, s.GoTo(ctx, StepEmailValidation))
	watch, ok := s.ActiveWatch(StepEmailValidation)
	require.True(t, ok)

	require.NoError(t, s.GoTo(ctx, StepSmsValidation))

	select {
	case <-watch.Done():
	case <-time.After(time.Second):
		t.Fatal("watch kept running after leaving the step")
	}
}
