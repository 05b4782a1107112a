package onboarding

import (
	"errors"
	"fmt"
	"net/http"

	validation "github.com/go-ozzo/ozzo-validation"
	goerrors "github.com/goliatone/go-errors"
)

const (
	TextCodeInvalidStep     = "INVALID_ONBOARDING_STEP"
	TextCodeEmailMissing    = "ONBOARDING_EMAIL_MISSING"
	TextCodePhoneMissing    = "SMS_PHONE_MISSING"
	TextCodeResendTooSoon   = "SMS_RESEND_TOO_SOON"
	TextCodeWatchMismatch   = "WATCH_STEP_MISMATCH"
	TextCodeInvalidDataKey  = "INVALID_ONBOARDING_DATA_KEY"
	TextCodeSessionShutdown = "ONBOARDING_SESSION_SHUTDOWN"
)

// ErrInvalidStep is returned when a value is not one of the wizard steps.
var ErrInvalidStep = goerrors.New("invalid onboarding step", goerrors.CategoryValidation).
	WithTextCode(TextCodeInvalidStep).
	WithCode(goerrors.CodeBadRequest)

// ErrInvalidDataKey is returned when step data is addressed by an unknown key.
var ErrInvalidDataKey = goerrors.New("unknown onboarding data key", goerrors.CategoryValidation).
	WithTextCode(TextCodeInvalidDataKey).
	WithCode(goerrors.CodeBadRequest)

// ErrEmailMissing is returned by commands that need the registration email.
var ErrEmailMissing = goerrors.New("registration email not found", goerrors.CategoryBadInput).
	WithTextCode(TextCodeEmailMissing).
	WithCode(goerrors.CodeBadRequest)

// ErrPhoneMissing is returned when resending a code before one was sent.
var ErrPhoneMissing = goerrors.New("no phone number to resend the code to", goerrors.CategoryBadInput).
	WithTextCode(TextCodePhoneMissing).
	WithCode(goerrors.CodeBadRequest)

// ErrResendTooSoon is returned while the SMS resend cooldown is running.
var ErrResendTooSoon = goerrors.New("verification code was sent recently", goerrors.CategoryRateLimit).
	WithTextCode(TextCodeResendTooSoon)

// ErrWatchMismatch is returned when a watch is started for a step that is not current.
var ErrWatchMismatch = goerrors.New("watch step is not the current step", goerrors.CategoryConflict).
	WithTextCode(TextCodeWatchMismatch).
	WithCode(goerrors.CodeConflict)

// ErrSessionShutdown is returned by operations issued after Shutdown.
var ErrSessionShutdown = goerrors.New("onboarding session is shut down", goerrors.CategoryOperation).
	WithTextCode(TextCodeSessionShutdown)

var errInvalidJSON = errors.New("response is not valid JSON")

// AuthError reports a failed login or refresh round trip.
type AuthError struct {
	Operation string
	Status    int
	Err       error
}

func (e *AuthError) Error() string {
	if e == nil {
		return "auth error"
	}
	switch {
	case e.Status != 0 && e.Err != nil:
		return fmt.Sprintf("token %s failed with status %d: %v", e.Operation, e.Status, e.Err)
	case e.Status != 0:
		return fmt.Sprintf("token %s failed with status %d", e.Operation, e.Status)
	case e.Err != nil:
		return fmt.Sprintf("token %s failed: %v", e.Operation, e.Err)
	}
	return fmt.Sprintf("token %s failed", e.Operation)
}

func (e *AuthError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *AuthError) Metadata() map[string]any {
	if e == nil {
		return nil
	}
	meta := map[string]any{"operation": e.Operation}
	if e.Status != 0 {
		meta["status"] = e.Status
	}
	if e.Err != nil {
		meta["error"] = e.Err.Error()
	}
	return meta
}

// APIError reports a non-success response from a platform endpoint.
type APIError struct {
	Method   string
	Endpoint string
	Status   int
	Retried  bool
	Body     string
	Err      error
}

func (e *APIError) Error() string {
	if e == nil {
		return "api error"
	}
	switch {
	case e.Status == 0:
		return fmt.Sprintf("api error: %s %s: %v", e.Method, e.Endpoint, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("api error: %s %s returned %d: %v", e.Method, e.Endpoint, e.Status, e.Err)
	}
	return fmt.Sprintf("api error: %s %s returned %d", e.Method, e.Endpoint, e.Status)
}

func (e *APIError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *APIError) Metadata() map[string]any {
	if e == nil {
		return nil
	}
	meta := map[string]any{
		"method":   e.Method,
		"endpoint": e.Endpoint,
	}
	if e.Status != 0 {
		meta["status"] = e.Status
	}
	if e.Retried {
		meta["retried"] = true
	}
	return meta
}

// IsUnauthorized reports whether err is an APIError for a 401 or 403.
func IsUnauthorized(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Status == http.StatusUnauthorized || apiErr.Status == http.StatusForbidden
}

// IsValidationError reports whether err carries field validation failures.
func IsValidationError(err error) bool {
	var verrs validation.Errors
	if errors.As(err, &verrs) {
		return true
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr.Category == goerrors.CategoryValidation
	}
	return false
}

// ValidationFields flattens field validation failures into field → message.
// Returns nil when err carries none.
func ValidationFields(err error) map[string]string {
	var verrs validation.Errors
	if !errors.As(err, &verrs) {
		return nil
	}
	out := make(map[string]string, len(verrs))
	for field, ferr := range verrs {
		if ferr != nil {
			out[field] = ferr.Error()
		}
	}
	return out
}

func validationFailed(err error, msg string) error {
	if err == nil {
		return nil
	}
	return goerrors.Wrap(err, goerrors.CategoryValidation, msg)
}

func withMetadata(base *goerrors.Error, meta map[string]any) error {
	clone := base.Clone()
	if clone == nil {
		clone = base
	}
	if len(meta) > 0 {
		clone.WithMetadata(meta)
	}
	return clone
}
