package onboarding

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
)

// StatusAwaitingRegistrationComplete is reported once the applicant
// confirmed their email address.
const StatusAwaitingRegistrationComplete = "AWAITING_REGISTRATION_COMPLETE"

// PlatformUser is the user record returned by the platform.
type PlatformUser struct {
	UserEmail  string `json:"userEmail"`
	UserStatus string `json:"userStatus"`
}

// EmailVerified reports whether the platform considers the email confirmed.
func (u *PlatformUser) EmailVerified() bool {
	if u == nil {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(u.UserStatus), StatusAwaitingRegistrationComplete)
}

type CreateUserRequest struct {
	UserEmail string `json:"userEmail"`
	Password  string `json:"password"`
}

func (r CreateUserRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.UserEmail, validation.Required, is.Email),
		validation.Field(&r.Password, validation.Required, validation.Length(8, 128)),
	)
}

// UserUpdate is one of the typed bodies accepted by PUT user-by-email.
type UserUpdate interface {
	// StepName is sent as the onBoardingStepName query parameter when not empty.
	StepName() string
	Validate() error
}

type PhoneUpdate struct {
	CellNumber string `json:"cellNumber"`
}

func (PhoneUpdate) StepName() string { return "PhoneData" }

func (u PhoneUpdate) Validate() error {
	return validation.ValidateStruct(&u,
		validation.Field(&u.CellNumber, validation.Required, validation.Match(cellNumberPattern)),
	)
}

type VerificationCodeUpdate struct {
	Code string `json:"code"`
}

func (VerificationCodeUpdate) StepName() string { return "" }

func (u VerificationCodeUpdate) Validate() error {
	return validation.ValidateStruct(&u,
		validation.Field(&u.Code, validation.Required, validation.Match(smsCodePattern)),
	)
}

type PinUpdate struct {
	Code string `json:"code"`
}

func (PinUpdate) StepName() string { return "" }

func (u PinUpdate) Validate() error {
	return validation.ValidateStruct(&u,
		validation.Field(&u.Code, validation.Required, validation.Match(pinPattern)),
	)
}

// ProfileUpdate carries the account type form. Business fields are only
// sent for business accounts.
type ProfileUpdate struct {
	Nationality          string   `json:"nationality"`
	IdentificationNumber string   `json:"identificationNumber"`
	BusinessName         string   `json:"businessName,omitempty"`
	IndividualTaxpayerID string   `json:"individualTaxpayerId,omitempty"`
	BillingType          string   `json:"billingType,omitempty"`
	Address              *Address `json:"address,omitempty"`
	BillingAddress       *Address `json:"billingAddress,omitempty"`
}

// ProfileUpdateFrom builds the request body for an account type submission.
func ProfileUpdateFrom(data AccountTypeData) ProfileUpdate {
	u := ProfileUpdate{
		Nationality:          data.Nationality,
		IdentificationNumber: data.IdentificationNumber,
	}
	if data.IsBusiness() {
		u.BusinessName = data.BusinessName
		u.IndividualTaxpayerID = data.IndividualTaxpayerID
		u.BillingType = data.BillingType
		u.Address = cloneAddress(data.Address)
		u.BillingAddress = cloneAddress(data.BillingAddress)
	}
	return u
}

func (ProfileUpdate) StepName() string { return "" }

func (u ProfileUpdate) Validate() error {
	return validation.ValidateStruct(&u,
		validation.Field(&u.Nationality, validation.Required),
		validation.Field(&u.IdentificationNumber, validation.Required),
		validation.Field(&u.Address),
		validation.Field(&u.BillingAddress),
	)
}

// IdentityProofUpdate links a finished identity verification to the user.
type IdentityProofUpdate struct {
	VerificationID string `json:"verificationId"`
	IdentityID     string `json:"identityId,omitempty"`
}

func (IdentityProofUpdate) StepName() string { return "IdentityVerification" }

func (u IdentityProofUpdate) Validate() error {
	return validation.ValidateStruct(&u,
		validation.Field(&u.VerificationID, validation.Required),
	)
}

// Users wraps the user endpoints of the platform.
type Users struct {
	gateway *Gateway
	path    string
}

func NewUsers(gateway *Gateway, path string) *Users {
	path = strings.TrimRight(strings.TrimSpace(path), "/")
	if path == "" {
		path = "/v1/user/users"
	}
	return &Users{gateway: gateway, path: path}
}

// Create registers a new user.
func (u *Users) Create(ctx context.Context, req CreateUserRequest) error {
	if err := req.Validate(); err != nil {
		return validationFailed(err, "invalid create user request")
	}
	return u.gateway.Do(ctx, http.MethodPost, u.path, req, nil)
}

// Get fetches the user registered under email.
func (u *Users) Get(ctx context.Context, email string) (*PlatformUser, error) {
	if strings.TrimSpace(email) == "" {
		return nil, ErrEmailMissing.Clone()
	}
	user := &PlatformUser{}
	if err := u.gateway.Do(ctx, http.MethodGet, u.userPath(email), nil, user); err != nil {
		return nil, err
	}
	return user, nil
}

// Update sends one typed update for the user registered under email.
func (u *Users) Update(ctx context.Context, email string, update UserUpdate) error {
	if strings.TrimSpace(email) == "" {
		return ErrEmailMissing.Clone()
	}
	if update == nil {
		return validationFailed(errors.New("update is nil"), "missing user update")
	}
	if err := update.Validate(); err != nil {
		return validationFailed(err, "invalid user update")
	}

	endpoint := u.userPath(email)
	if step := update.StepName(); step != "" {
		endpoint += "?" + url.Values{"onBoardingStepName": {step}}.Encode()
	}
	return u.gateway.Do(ctx, http.MethodPut, endpoint, update, nil)
}

func (u *Users) userPath(email string) string {
	return u.path + "/" + url.PathEscape(strings.TrimSpace(email))
}
