package onboarding

import (
	"context"
	"time"
)

// ActivityEventType enumerates supported activity categories.
type ActivityEventType string

const (
	ActivityEventStepChanged         ActivityEventType = "onboarding.step.changed"
	ActivityEventDataUpdated         ActivityEventType = "onboarding.data.updated"
	ActivityEventReset               ActivityEventType = "onboarding.reset"
	ActivityEventHydrated            ActivityEventType = "onboarding.hydrated"
	ActivityEventTokenIssued         ActivityEventType = "token.issued"
	ActivityEventTokenRefreshed      ActivityEventType = "token.refreshed"
	ActivityEventTokenRefreshFailed  ActivityEventType = "token.refresh.failed"
	ActivityEventVerificationStarted ActivityEventType = "identity.verification.started"
	ActivityEventVerificationDone    ActivityEventType = "identity.verification.finished"
	ActivityEventHostMessage         ActivityEventType = "host.message"
)

// ActivityEvent captures audit-friendly information about an action.
type ActivityEvent struct {
	EventType  ActivityEventType
	Identity   string
	FromStep   Step
	ToStep     Step
	Metadata   map[string]any
	OccurredAt time.Time
}

// ActivitySink consumes activity events for auditing/telemetry purposes.
type ActivitySink interface {
	Record(ctx context.Context, event ActivityEvent) error
}

// ActivitySinkFunc adapts a function to the ActivitySink interface.
type ActivitySinkFunc func(ctx context.Context, event ActivityEvent) error

// Record implements ActivitySink.
func (f ActivitySinkFunc) Record(ctx context.Context, event ActivityEvent) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}

type noopActivitySink struct{}

func (noopActivitySink) Record(context.Context, ActivityEvent) error {
	return nil
}

func normalizeActivitySink(s ActivitySink) ActivitySink {
	if s == nil {
		return noopActivitySink{}
	}
	return s
}

type activityRecorder struct {
	sink   ActivitySink
	now    func() time.Time
	logger Logger
}

func (r activityRecorder) record(ctx context.Context, event ActivityEvent) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = r.now()
	}

	sink := normalizeActivitySink(r.sink)
	if err := sink.Record(ctx, event); err != nil {
		r.logger.Warn("activity sink error: %v", err)
	}
}
