package onboarding

import (
	"context"

	validation "github.com/go-ozzo/ozzo-validation"
	goerrors "github.com/goliatone/go-errors"
)

type SetPinMessage struct {
	Pin        string `json:"pin"`
	ConfirmPin string `json:"confirmPin"`
}

func (e SetPinMessage) Type() string { return "onboarding.pin.set" }

func (e SetPinMessage) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.Pin, validation.Required, validation.Match(pinPattern)),
		validation.Field(&e.ConfirmPin,
			validation.Required,
			validation.By(ValidateStringEquals(e.Pin)),
		),
	)
}

type SetPinHandler struct {
	session *Session
}

func NewSetPinHandler(session *Session) *SetPinHandler {
	return &SetPinHandler{session: session}
}

func (h *SetPinHandler) Execute(ctx context.Context, event SetPinMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during pin setup",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *SetPinHandler) execute(ctx context.Context, event SetPinMessage) error {
	if err := event.Validate(); err != nil {
		return validationFailed(err, "invalid pin")
	}

	s := h.session
	if err := s.awaitHydration(ctx); err != nil {
		return err
	}

	email := s.wizard.Data().Email()
	if email == "" {
		return ErrEmailMissing.Clone()
	}

	if err := s.users.Update(ctx, email, PinUpdate{Code: event.Pin}); err != nil {
		return err
	}

	if err := s.wizard.SetStepData(ctx, PinData{Pin: event.Pin}); err != nil {
		return err
	}
	s.wizard.AdvanceFrom(ctx, StepPinSetup, WithTransitionReason("pin set"))
	return nil
}
