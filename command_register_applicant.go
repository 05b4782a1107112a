package onboarding

import (
	"context"
	"errors"
	"net/http"

	goerrors "github.com/goliatone/go-errors"
)

type RegisterApplicantMessage struct {
	Email        string `json:"email"`
	Password     string `json:"password"`
	ReferralCode string `json:"referralCode,omitempty"`
	AcceptTerms  bool   `json:"acceptTerms"`

	OnResponse func(*RegisterApplicantResponse) `json:"-"`
}

type RegisterApplicantResponse struct {
	Step          Step `json:"step"`
	EmailVerified bool `json:"emailVerified"`
}

func (e RegisterApplicantMessage) Type() string { return "onboarding.applicant.register" }

func (e RegisterApplicantMessage) Validate() error {
	return RegistrationData{
		Email:        e.Email,
		Password:     e.Password,
		ReferralCode: e.ReferralCode,
		AcceptTerms:  e.AcceptTerms,
	}.Validate()
}

// RegisterApplicantHandler creates the platform user and leaves the
// registration step. Applicants whose email is already confirmed skip
// straight to SMS validation.
type RegisterApplicantHandler struct {
	session *Session
}

func NewRegisterApplicantHandler(session *Session) *RegisterApplicantHandler {
	return &RegisterApplicantHandler{session: session}
}

func (h *RegisterApplicantHandler) Execute(ctx context.Context, event RegisterApplicantMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during applicant registration",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *RegisterApplicantHandler) execute(ctx context.Context, event RegisterApplicantMessage) error {
	if err := event.Validate(); err != nil {
		return validationFailed(err, "invalid registration")
	}

	s := h.session
	if err := s.awaitHydration(ctx); err != nil {
		return err
	}

	err := s.users.Create(ctx, CreateUserRequest{UserEmail: event.Email, Password: event.Password})
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusConflict {
		s.logger.Info("applicant already registered, resuming onboarding")
		s.SetLastError("")
		err = nil
	}
	if err != nil {
		return err
	}

	// the password is only needed by the create call and is never persisted
	if err := s.wizard.SetStepData(ctx, RegistrationData{
		Email:        event.Email,
		ReferralCode: event.ReferralCode,
		AcceptTerms:  event.AcceptTerms,
	}); err != nil {
		return err
	}

	verified := false
	if user, err := s.users.Get(ctx, event.Email); err != nil {
		s.logger.Debug("post registration status check failed: %v", err)
		s.SetLastError("")
	} else {
		verified = user.EmailVerified()
	}

	if verified {
		_, err = s.wizard.GoToFrom(ctx, StepRegistration, StepSmsValidation, WithTransitionReason("email already verified"))
	} else {
		s.wizard.AdvanceFrom(ctx, StepRegistration, WithTransitionReason("registered"))
	}
	if err != nil {
		return err
	}

	if event.OnResponse != nil {
		event.OnResponse(&RegisterApplicantResponse{
			Step:          s.wizard.Current(),
			EmailVerified: verified,
		})
	}
	return nil
}
