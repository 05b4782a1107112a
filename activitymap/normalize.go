// Package activitymap turns onboarding activity events into flat audit
// records (actor, verb, object) for downstream feeds.
package activitymap

import (
	"context"
	"strings"
	"time"

	"github.com/goliatone/go-onboarding"
)

// Object types, one per event family.
const (
	ObjectApplicant    = "applicant"
	ObjectCredential   = "credential"
	ObjectVerification = "verification"
	ObjectHost         = "host"
)

// Metadata keys added during normalization.
const (
	MetadataKeyEvent    = "event"
	MetadataKeyFromStep = "from_step"
	MetadataKeyToStep   = "to_step"
)

const (
	defaultChannel = "onboarding"
	anonymousActor = "anonymous"
	serviceActor   = "service"
)

// Normalized is a transport-agnostic activity record.
type Normalized struct {
	ActorID    string         `json:"actor_id"`
	Verb       string         `json:"verb"`
	ObjectType string         `json:"object_type"`
	ObjectID   string         `json:"object_id,omitempty"`
	Channel    string         `json:"channel"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// Option customizes normalization.
type Option func(*mapper)

// WithChannel overrides the channel stamped on every record.
func WithChannel(channel string) Option {
	return func(m *mapper) {
		if channel = strings.TrimSpace(channel); channel != "" {
			m.channel = channel
		}
	}
}

// WithClock sets the time used for events without OccurredAt.
func WithClock(now func() time.Time) Option {
	return func(m *mapper) {
		if now != nil {
			m.now = now
		}
	}
}

type mapper struct {
	channel string
	now     func() time.Time
}

// Normalize maps event to a record. The verb and object depend on the
// event family: step changes act on the applicant, token events on the
// platform credential, verification events on the verification session and
// host messages on the native container.
func Normalize(event onboarding.ActivityEvent, opts ...Option) Normalized {
	m := mapper{channel: defaultChannel, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&m)
		}
	}

	out := Normalized{
		ActorID:    strings.TrimSpace(event.Identity),
		Channel:    m.channel,
		Metadata:   metadataFor(event),
		OccurredAt: event.OccurredAt,
	}
	if out.OccurredAt.IsZero() {
		out.OccurredAt = m.now().UTC()
	}

	switch event.EventType {
	case onboarding.ActivityEventStepChanged:
		out.ObjectType, out.ObjectID = ObjectApplicant, out.ActorID
		out.Verb = transitionVerb(event.FromStep, event.ToStep)
	case onboarding.ActivityEventDataUpdated:
		out.ObjectType, out.ObjectID = ObjectApplicant, out.ActorID
		out.Verb = "updated"
	case onboarding.ActivityEventReset:
		out.ObjectType, out.ObjectID = ObjectApplicant, out.ActorID
		out.Verb = "reset"
	case onboarding.ActivityEventHydrated:
		out.ObjectType, out.ObjectID = ObjectApplicant, out.ActorID
		out.Verb = "resumed"

	case onboarding.ActivityEventTokenIssued:
		out.ObjectType, out.Verb = ObjectCredential, "issued"
	case onboarding.ActivityEventTokenRefreshed:
		out.ObjectType, out.Verb = ObjectCredential, "refreshed"
	case onboarding.ActivityEventTokenRefreshFailed:
		out.ObjectType, out.Verb = ObjectCredential, "refresh_failed"

	case onboarding.ActivityEventVerificationStarted:
		out.ObjectType, out.Verb = ObjectVerification, "started"
		out.ObjectID = metaString(event.Metadata, "verification_id")
	case onboarding.ActivityEventVerificationDone:
		out.ObjectType, out.Verb = ObjectVerification, "finished"
		out.ObjectID = metaString(event.Metadata, "verification_id")

	case onboarding.ActivityEventHostMessage:
		out.ObjectType, out.Verb = ObjectHost, "notified"
		out.ObjectID = metaString(event.Metadata, "action")

	default:
		out.ObjectType, out.ObjectID = ObjectApplicant, out.ActorID
		out.Verb = string(event.EventType)
	}

	if out.ActorID == "" {
		// credential traffic is issued to the app, not to an applicant
		if out.ObjectType == ObjectCredential {
			out.ActorID = serviceActor
		} else {
			out.ActorID = anonymousActor
		}
	}
	return out
}

// Sink adapts fn into an ActivitySink receiving normalized records.
func Sink(fn func(context.Context, Normalized) error, opts ...Option) onboarding.ActivitySink {
	return onboarding.ActivitySinkFunc(func(ctx context.Context, event onboarding.ActivityEvent) error {
		if fn == nil {
			return nil
		}
		return fn(ctx, Normalize(event, opts...))
	})
}

func transitionVerb(from, to onboarding.Step) string {
	switch {
	case to == onboarding.StepCompleted:
		return "completed"
	case from.Valid() && to.Valid() && to.Index() < from.Index():
		return "went_back"
	case from.Valid() && to.Valid() && to.Index() > from.Index()+1:
		return "skipped_ahead"
	default:
		return "advanced"
	}
}

func metadataFor(event onboarding.ActivityEvent) map[string]any {
	out := make(map[string]any, len(event.Metadata)+3)
	for k, v := range event.Metadata {
		out[k] = v
	}
	out[MetadataKeyEvent] = string(event.EventType)
	if event.FromStep != "" {
		out[MetadataKeyFromStep] = event.FromStep.String()
	}
	if event.ToStep != "" {
		out[MetadataKeyToStep] = event.ToStep.String()
	}
	return out
}

func metaString(meta map[string]any, key string) string {
	v, _ := meta[key].(string)
	return strings.TrimSpace(v)
}
