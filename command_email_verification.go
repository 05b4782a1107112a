package onboarding

import (
	"context"

	goerrors "github.com/goliatone/go-errors"
)

type CheckEmailVerificationMessage struct {
	OnResponse func(verified bool) `json:"-"`
}

func (e CheckEmailVerificationMessage) Type() string { return "onboarding.email.check" }

// CheckEmailVerificationHandler runs the same check as the email watch on
// demand, e.g. when the applicant taps "I confirmed my email".
type CheckEmailVerificationHandler struct {
	session *Session
}

func NewCheckEmailVerificationHandler(session *Session) *CheckEmailVerificationHandler {
	return &CheckEmailVerificationHandler{session: session}
}

func (h *CheckEmailVerificationHandler) Execute(ctx context.Context, event CheckEmailVerificationMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during email verification check",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *CheckEmailVerificationHandler) execute(ctx context.Context, event CheckEmailVerificationMessage) error {
	s := h.session
	if err := s.awaitHydration(ctx); err != nil {
		return err
	}

	email := s.wizard.Data().Email()
	if email == "" {
		return ErrEmailMissing.Clone()
	}

	verified, err := s.emailVerified(email)(ctx)
	if err != nil {
		return err
	}

	if verified && identityOf(email) == s.Identity() {
		s.wizard.AdvanceFrom(ctx, StepEmailValidation, WithTransitionReason("email verified"))
	}

	if event.OnResponse != nil {
		event.OnResponse(verified)
	}
	return nil
}
