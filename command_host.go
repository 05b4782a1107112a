package onboarding

import (
	"context"

	goerrors "github.com/goliatone/go-errors"
)

type FinishOnboardingMessage struct {
	OnResponse func(BridgeResult) `json:"-"`
}

func (e FinishOnboardingMessage) Type() string { return "onboarding.finish" }

type CloseOnboardingMessage struct {
	OnResponse func(BridgeResult) `json:"-"`
}

func (e CloseOnboardingMessage) Type() string { return "onboarding.close" }

// FinishOnboardingHandler tells the native shell the applicant is done. In a
// plain browser the session is reset and the page is expected to reload.
type FinishOnboardingHandler struct {
	session *Session
}

func NewFinishOnboardingHandler(session *Session) *FinishOnboardingHandler {
	return &FinishOnboardingHandler{session: session}
}

func (h *FinishOnboardingHandler) Execute(ctx context.Context, event FinishOnboardingMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled while finishing onboarding",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *FinishOnboardingHandler) execute(ctx context.Context, event FinishOnboardingMessage) error {
	s := h.session
	result := BridgeResult{}

	if s.HasHostBridge() {
		msg := HostMessage{Action: HostActionCompleted, Success: boolPtr(true)}
		if err := s.postHostMessage(ctx, msg); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryOperation, "failed to notify host shell")
		}
		result.Delivered = true
	} else {
		if err := s.Reset(ctx); err != nil {
			return err
		}
		result.Fallback = FallbackReload
	}

	if event.OnResponse != nil {
		event.OnResponse(result)
	}
	return nil
}

// CloseOnboardingHandler asks the native shell to dismiss the webview.
type CloseOnboardingHandler struct {
	session *Session
}

func NewCloseOnboardingHandler(session *Session) *CloseOnboardingHandler {
	return &CloseOnboardingHandler{session: session}
}

func (h *CloseOnboardingHandler) Execute(ctx context.Context, event CloseOnboardingMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled while closing onboarding",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *CloseOnboardingHandler) execute(ctx context.Context, event CloseOnboardingMessage) error {
	s := h.session
	result := BridgeResult{}

	if s.HasHostBridge() {
		if err := s.postHostMessage(ctx, HostMessage{Action: HostActionClose}); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryOperation, "failed to notify host shell")
		}
		result.Delivered = true
	} else {
		result.Fallback = FallbackCloseWindow
	}

	if event.OnResponse != nil {
		event.OnResponse(result)
	}
	return nil
}
