package onboarding

import (
	"context"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	goerrors "github.com/goliatone/go-errors"
)

// Events emitted by the identity verification SDK.
const (
	VerificationEventLoaded   = "metamap:loaded"
	VerificationEventStarted  = "metamap:userStartedSdk"
	VerificationEventFinished = "metamap:userFinishedSdk"
	VerificationEventExited   = "metamap:exitedSdk"
	VerificationEventScreen   = "metamap:screen"
)

// VerificationConfig is what the SDK button needs to start a flow.
type VerificationConfig struct {
	ClientID string                     `json:"clientId"`
	FlowID   string                     `json:"flowId"`
	Metadata VerificationConfigMetadata `json:"metadata"`
}

type VerificationConfigMetadata struct {
	Email string `json:"email"`
}

// VerificationConfig returns the SDK configuration for the current applicant.
func (s *Session) VerificationConfig() VerificationConfig {
	return VerificationConfig{
		ClientID: s.cfg.VerificationClientID,
		FlowID:   s.cfg.VerificationFlowID,
		Metadata: VerificationConfigMetadata{Email: s.wizard.Data().Email()},
	}
}

type VerificationEventMessage struct {
	Event          string `json:"event"`
	VerificationID string `json:"verificationId,omitempty"`
	IdentityID     string `json:"identityId,omitempty"`
}

func (e VerificationEventMessage) Type() string { return "onboarding.identity.event" }

func (e VerificationEventMessage) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.Event, validation.Required, validation.Length(1, 64)),
	)
}

// VerificationEventHandler follows the identity verification SDK lifecycle.
// Only the started and finished events change session state.
type VerificationEventHandler struct {
	session *Session
}

func NewVerificationEventHandler(session *Session) *VerificationEventHandler {
	return &VerificationEventHandler{session: session}
}

func (h *VerificationEventHandler) Execute(ctx context.Context, event VerificationEventMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled while handling verification event",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *VerificationEventHandler) execute(ctx context.Context, event VerificationEventMessage) error {
	if err := event.Validate(); err != nil {
		return validationFailed(err, "invalid verification event")
	}

	s := h.session
	if err := s.awaitHydration(ctx); err != nil {
		return err
	}

	switch strings.TrimSpace(event.Event) {
	case VerificationEventStarted:
		return h.started(ctx, event)
	case VerificationEventFinished:
		return h.finished(ctx, event)
	default:
		s.logger.Debug("verification event %s ignored", event.Event)
		return nil
	}
}

func (h *VerificationEventHandler) started(ctx context.Context, event VerificationEventMessage) error {
	s := h.session
	current := verificationData(s.wizard.Data())
	if event.VerificationID != "" {
		current.VerificationID = event.VerificationID
	}
	if event.IdentityID != "" {
		current.IdentityID = event.IdentityID
	}

	if err := s.wizard.SetStepData(ctx, current); err != nil {
		return err
	}
	s.record(ctx, ActivityEvent{
		EventType: ActivityEventVerificationStarted,
		ToStep:    s.wizard.Current(),
		Metadata: map[string]any{
			"verification_id": current.VerificationID,
			"identity_id":     current.IdentityID,
		},
	})
	return nil
}

func (h *VerificationEventHandler) finished(ctx context.Context, event VerificationEventMessage) error {
	s := h.session
	if s.wizard.Current() != StepIdentityVerification {
		s.logger.Info("verification finished outside the identity step, ignoring")
		return nil
	}

	current := verificationData(s.wizard.Data())
	if event.VerificationID != "" {
		current.VerificationID = event.VerificationID
	}
	if event.IdentityID != "" {
		current.IdentityID = event.IdentityID
	}
	current.Completed = true

	if current.VerificationID == "" {
		s.logger.Warn("verification finished without a verification id, platform not notified")
	} else if email := s.wizard.Data().Email(); email == "" {
		s.logger.Warn("verification finished without a registration email, platform not notified")
	} else {
		proof := IdentityProofUpdate{
			VerificationID: current.VerificationID,
			IdentityID:     current.IdentityID,
		}
		if err := s.users.Update(ctx, email, proof); err != nil {
			return err
		}
	}

	if err := s.wizard.SetStepData(ctx, current); err != nil {
		return err
	}
	s.record(ctx, ActivityEvent{
		EventType: ActivityEventVerificationDone,
		FromStep:  StepIdentityVerification,
		ToStep:    StepIdentityVerification,
		Metadata: map[string]any{
			"verification_id": current.VerificationID,
		},
	})
	s.wizard.AdvanceFrom(ctx, StepIdentityVerification, WithTransitionReason("identity verified"))
	return nil
}

func verificationData(d Data) IdentityVerificationData {
	if d.IdentityVerification == nil {
		return IdentityVerificationData{}
	}
	return *d.IdentityVerification
}
