package onboarding

import (
	"context"

	goerrors "github.com/goliatone/go-errors"
)

type SubmitAccountTypeMessage struct {
	AccountTypeData
}

func (e SubmitAccountTypeMessage) Type() string { return "onboarding.account_type.submit" }

func (e SubmitAccountTypeMessage) Validate() error {
	return e.AccountTypeData.Validate()
}

// SubmitAccountTypeHandler sends the personal or business profile to the
// platform and leaves the account type step.
type SubmitAccountTypeHandler struct {
	session *Session
}

func NewSubmitAccountTypeHandler(session *Session) *SubmitAccountTypeHandler {
	return &SubmitAccountTypeHandler{session: session}
}

func (h *SubmitAccountTypeHandler) Execute(ctx context.Context, event SubmitAccountTypeMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during account type submission",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *SubmitAccountTypeHandler) execute(ctx context.Context, event SubmitAccountTypeMessage) error {
	if err := event.Validate(); err != nil {
		return validationFailed(err, "invalid account type")
	}

	s := h.session
	if err := s.awaitHydration(ctx); err != nil {
		return err
	}

	email := s.wizard.Data().Email()
	if email == "" {
		return ErrEmailMissing.Clone()
	}

	if err := s.users.Update(ctx, email, ProfileUpdateFrom(event.AccountTypeData)); err != nil {
		return err
	}

	if err := s.wizard.SetStepData(ctx, event.AccountTypeData); err != nil {
		return err
	}
	s.wizard.AdvanceFrom(ctx, StepAccountType, WithTransitionReason("profile submitted"))
	return nil
}
