package onboarding

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	goerrors "github.com/goliatone/go-errors"
	"github.com/nyaruka/phonenumbers"
)

type SendSmsCodeMessage struct {
	CountryCode string `json:"countryCode,omitempty"`
	PhoneNumber string `json:"phoneNumber"`

	OnResponse func(cellNumber string) `json:"-"`
}

func (e SendSmsCodeMessage) Type() string { return "onboarding.sms.send" }

func (e SendSmsCodeMessage) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.CountryCode, validation.Match(countryCodePattern)),
		validation.Field(&e.PhoneNumber, validation.Required, validation.Length(6, 20)),
	)
}

type ResendSmsCodeMessage struct{}

func (e ResendSmsCodeMessage) Type() string { return "onboarding.sms.resend" }

type VerifySmsCodeMessage struct {
	Code string `json:"code"`
}

func (e VerifySmsCodeMessage) Type() string { return "onboarding.sms.verify" }

// SendSmsCodeHandler normalizes the phone number, registers it with the
// platform (which texts the code) and remembers it for verification.
type SendSmsCodeHandler struct {
	session *Session
}

func NewSendSmsCodeHandler(session *Session) *SendSmsCodeHandler {
	return &SendSmsCodeHandler{session: session}
}

func (h *SendSmsCodeHandler) Execute(ctx context.Context, event SendSmsCodeMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled while sending sms code",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *SendSmsCodeHandler) execute(ctx context.Context, event SendSmsCodeMessage) error {
	if err := event.Validate(); err != nil {
		return validationFailed(err, "invalid phone number")
	}

	s := h.session
	cell, err := NormalizePhone(event.CountryCode, event.PhoneNumber, s.cfg.PhoneRegion)
	if err != nil {
		return err
	}

	if err := s.awaitHydration(ctx); err != nil {
		return err
	}
	email := s.wizard.Data().Email()
	if email == "" {
		return ErrEmailMissing.Clone()
	}

	if err := s.users.Update(ctx, email, PhoneUpdate{CellNumber: cell}); err != nil {
		return err
	}

	if err := s.wizard.SetStepData(ctx, SmsValidationData{CellNumber: cell}); err != nil {
		return err
	}
	s.markSmsSent()

	if event.OnResponse != nil {
		event.OnResponse(cell)
	}
	return nil
}

// ResendSmsCodeHandler asks the platform to text the code again once the
// cooldown has passed.
type ResendSmsCodeHandler struct {
	session *Session
}

func NewResendSmsCodeHandler(session *Session) *ResendSmsCodeHandler {
	return &ResendSmsCodeHandler{session: session}
}

func (h *ResendSmsCodeHandler) Execute(ctx context.Context, event ResendSmsCodeMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled while resending sms code",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *ResendSmsCodeHandler) execute(ctx context.Context, _ ResendSmsCodeMessage) error {
	s := h.session
	if err := s.awaitHydration(ctx); err != nil {
		return err
	}

	if wait := s.smsCooldownLeft(); wait > 0 {
		return withMetadata(ErrResendTooSoon, map[string]any{
			"retry_after_seconds": int(math.Ceil(wait.Seconds())),
		})
	}

	data := s.wizard.Data()
	if data.SmsValidation == nil || data.SmsValidation.CellNumber == "" {
		return ErrPhoneMissing.Clone()
	}
	email := data.Email()
	if email == "" {
		return ErrEmailMissing.Clone()
	}

	if err := s.users.Update(ctx, email, PhoneUpdate{CellNumber: data.SmsValidation.CellNumber}); err != nil {
		return err
	}
	s.markSmsSent()
	return nil
}

// VerifySmsCodeHandler submits the texted code and leaves the SMS step.
type VerifySmsCodeHandler struct {
	session *Session
}

func NewVerifySmsCodeHandler(session *Session) *VerifySmsCodeHandler {
	return &VerifySmsCodeHandler{session: session}
}

func (h *VerifySmsCodeHandler) Execute(ctx context.Context, event VerifySmsCodeMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled while verifying sms code",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *VerifySmsCodeHandler) execute(ctx context.Context, event VerifySmsCodeMessage) error {
	s := h.session
	if err := s.awaitHydration(ctx); err != nil {
		return err
	}

	data := s.wizard.Data()
	if data.SmsValidation == nil || data.SmsValidation.CellNumber == "" {
		return ErrPhoneMissing.Clone()
	}

	payload := SmsValidationData{
		CellNumber: data.SmsValidation.CellNumber,
		Code:       strings.TrimSpace(event.Code),
	}
	if err := payload.Validate(); err != nil {
		return validationFailed(err, "invalid verification code")
	}

	email := data.Email()
	if email == "" {
		return ErrEmailMissing.Clone()
	}

	if err := s.users.Update(ctx, email, VerificationCodeUpdate{Code: payload.Code}); err != nil {
		return err
	}

	if err := s.wizard.SetStepData(ctx, payload); err != nil {
		return err
	}
	s.wizard.AdvanceFrom(ctx, StepSmsValidation, WithTransitionReason("phone verified"))
	return nil
}

// NormalizePhone joins an optional "+<code>" prefix with a local number and
// returns it in E.164 form. Numbers without a prefix are parsed for region.
func NormalizePhone(countryCode, number, region string) (string, error) {
	raw := strings.TrimSpace(countryCode) + strings.TrimSpace(number)
	if raw == "" {
		return "", validationFailed(errors.New("phone number is required"), "invalid phone number")
	}

	parsed, err := phonenumbers.Parse(raw, strings.ToUpper(strings.TrimSpace(region)))
	if err != nil {
		return "", validationFailed(err, "invalid phone number")
	}
	if !phonenumbers.IsValidNumber(parsed) {
		return "", validationFailed(errors.New("phone number is not valid"), "invalid phone number")
	}

	e164 := phonenumbers.Format(parsed, phonenumbers.E164)
	if !cellNumberPattern.MatchString(e164) {
		return "", validationFailed(errors.New("phone number has an unexpected length"), "invalid phone number")
	}
	return e164, nil
}

func (s *Session) markSmsSent() {
	s.smsMu.Lock()
	s.smsSentAt = s.now()
	s.smsMu.Unlock()
}

func (s *Session) smsCooldownLeft() time.Duration {
	s.smsMu.Lock()
	defer s.smsMu.Unlock()
	if s.smsSentAt.IsZero() {
		return 0
	}
	return s.cfg.SmsResendCooldown - s.now().Sub(s.smsSentAt)
}
