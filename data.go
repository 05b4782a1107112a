package onboarding

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"
	"unicode"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
)

// DataKey addresses one payload inside Data.
type DataKey string

const (
	DataRegistration         DataKey = "registration"
	DataAccountType          DataKey = "accountType"
	DataSmsValidation        DataKey = "smsValidation"
	DataPin                  DataKey = "pin"
	DataIdentityVerification DataKey = "identityVerification"
)

const (
	AccountTypePersonal = "persona"
	AccountTypeBusiness = "empresa"

	BillingFinalConsumer = "Consumidor Final"
	BillingRegistered    = "Responsable Inscripto"
	BillingMonotributo   = "Monotributista"
)

const passwordSymbols = "@$!%*?&"

var (
	cellNumberPattern  = regexp.MustCompile(`^\+\d{10,15}$`)
	smsCodePattern     = regexp.MustCompile(`^\d{6}$`)
	pinPattern         = regexp.MustCompile(`^\d{4}$`)
	countryCodePattern = regexp.MustCompile(`^\+\d{1,4}$`)
)

// StepPayload is a typed entry of Data.
type StepPayload interface {
	DataKey() DataKey
	apply(d *Data)
}

// Data is the partial record of everything collected so far. Every field is
// optional because steps complete independently.
type Data struct {
	Registration         *RegistrationData         `json:"registration,omitempty"`
	AccountType          *AccountTypeData          `json:"accountType,omitempty"`
	SmsValidation        *SmsValidationData        `json:"smsValidation,omitempty"`
	Pin                  *PinData                  `json:"pin,omitempty"`
	IdentityVerification *IdentityVerificationData `json:"identityVerification,omitempty"`
}

type RegistrationData struct {
	Email        string `json:"email"`
	Password     string `json:"password,omitempty"`
	ReferralCode string `json:"referralCode,omitempty"`
	AcceptTerms  bool   `json:"acceptTerms"`
}

func (RegistrationData) DataKey() DataKey { return DataRegistration }

// apply drops the password: it is only sent with the create request.
func (r RegistrationData) apply(d *Data) {
	r.Password = ""
	d.Registration = &r
}

// Validate checks the registration form.
func (r RegistrationData) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, validation.Length(3, 254), is.Email),
		validation.Field(&r.Password, validation.Required, validation.Length(8, 128), validation.By(passwordStrength)),
		validation.Field(&r.ReferralCode, validation.Length(0, 64)),
		validation.Field(&r.AcceptTerms, validation.Required.Error("terms and conditions must be accepted")),
	)
}

type Address struct {
	Country     string `json:"country"`
	Town        string `json:"town"`
	AddressLine string `json:"addressLine"`
	Postcode    string `json:"postcode"`
}

func (a Address) Validate() error {
	return validation.ValidateStruct(&a,
		validation.Field(&a.Country, validation.Required),
		validation.Field(&a.Town, validation.Required),
		validation.Field(&a.AddressLine, validation.Required),
		validation.Field(&a.Postcode, validation.Required),
	)
}

type AccountTypeData struct {
	AccountType          string `json:"accountType"`
	Nationality          string `json:"nationality"`
	IdentificationNumber string `json:"identificationNumber"`

	Name        string   `json:"name,omitempty"`
	Surname     string   `json:"surname,omitempty"`
	DateOfBirth string   `json:"dateOfBirth,omitempty"`
	CellNumber  string   `json:"cellNumber,omitempty"`
	Address     *Address `json:"address,omitempty"`

	BusinessName         string   `json:"businessName,omitempty"`
	IndividualTaxpayerID string   `json:"individualTaxpayerId,omitempty"`
	BillingType          string   `json:"billingType,omitempty"`
	BillingAddress       *Address `json:"billingAddress,omitempty"`
}

func (AccountTypeData) DataKey() DataKey { return DataAccountType }

func (a AccountTypeData) apply(d *Data) {
	a.Address = cloneAddress(a.Address)
	a.BillingAddress = cloneAddress(a.BillingAddress)
	d.AccountType = &a
}

// IsBusiness reports whether the applicant registers a company.
func (a AccountTypeData) IsBusiness() bool {
	return a.AccountType == AccountTypeBusiness
}

// Validate checks the account type form. Business accounts also require
// the tax profile.
func (a AccountTypeData) Validate() error {
	rules := []*validation.FieldRules{
		validation.Field(&a.AccountType, validation.Required, validation.In(AccountTypePersonal, AccountTypeBusiness)),
		validation.Field(&a.Nationality, validation.Required),
		validation.Field(&a.IdentificationNumber, validation.Required),
		validation.Field(&a.CellNumber, validation.Match(cellNumberPattern)),
		validation.Field(&a.BillingType, validation.In(BillingFinalConsumer, BillingRegistered, BillingMonotributo)),
		validation.Field(&a.Address),
		validation.Field(&a.BillingAddress),
	}

	if a.IsBusiness() {
		rules = append(rules,
			validation.Field(&a.BusinessName, validation.Required),
			validation.Field(&a.IndividualTaxpayerID, validation.Required),
			validation.Field(&a.BillingType, validation.Required),
		)
	}

	return validation.ValidateStruct(&a, rules...)
}

type SmsValidationData struct {
	CellNumber string `json:"cellNumber"`
	Code       string `json:"code,omitempty"`
}

func (SmsValidationData) DataKey() DataKey { return DataSmsValidation }

func (s SmsValidationData) apply(d *Data) { d.SmsValidation = &s }

func (s SmsValidationData) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.CellNumber, validation.Required, validation.Match(cellNumberPattern)),
		validation.Field(&s.Code, validation.Required, validation.Match(smsCodePattern)),
	)
}

type PinData struct {
	Pin string `json:"pin"`
}

func (PinData) DataKey() DataKey { return DataPin }

func (p PinData) apply(d *Data) { d.Pin = &p }

func (p PinData) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Pin, validation.Required, validation.Match(pinPattern)),
	)
}

type IdentityVerificationData struct {
	VerificationID string `json:"verificationId,omitempty"`
	IdentityID     string `json:"identityId,omitempty"`
	Completed      bool   `json:"completed"`
}

func (IdentityVerificationData) DataKey() DataKey { return DataIdentityVerification }

func (v IdentityVerificationData) apply(d *Data) { d.IdentityVerification = &v }

// Get returns the payload stored under key, if any.
func (d Data) Get(key DataKey) (StepPayload, bool) {
	switch key {
	case DataRegistration:
		if d.Registration != nil {
			return *d.Registration, true
		}
	case DataAccountType:
		if d.AccountType != nil {
			return *d.AccountType, true
		}
	case DataSmsValidation:
		if d.SmsValidation != nil {
			return *d.SmsValidation, true
		}
	case DataPin:
		if d.Pin != nil {
			return *d.Pin, true
		}
	case DataIdentityVerification:
		if d.IdentityVerification != nil {
			return *d.IdentityVerification, true
		}
	}
	return nil, false
}

// Email is the registration email, or "".
func (d Data) Email() string {
	if d.Registration == nil {
		return ""
	}
	return strings.TrimSpace(d.Registration.Email)
}

// Empty reports whether no payload has been collected.
func (d Data) Empty() bool {
	return d.Registration == nil &&
		d.AccountType == nil &&
		d.SmsValidation == nil &&
		d.Pin == nil &&
		d.IdentityVerification == nil
}

// Clone returns a deep copy.
func (d Data) Clone() Data {
	out := Data{}
	if d.Registration != nil {
		d.Registration.apply(&out)
	}
	if d.AccountType != nil {
		d.AccountType.apply(&out)
	}
	if d.SmsValidation != nil {
		d.SmsValidation.apply(&out)
	}
	if d.Pin != nil {
		d.Pin.apply(&out)
	}
	if d.IdentityVerification != nil {
		d.IdentityVerification.apply(&out)
	}
	return out
}

// With returns a copy of d with payload stored under its key.
func (d Data) With(payload StepPayload) Data {
	out := d.Clone()
	if payload != nil {
		payload.apply(&out)
	}
	return out
}

// UnmarshalJSON also understands blobs written by older clients, which kept
// the identity step as a top level "metamapCompleted" flag.
func (d *Data) UnmarshalJSON(b []byte) error {
	type plain Data
	var aux struct {
		plain
		MetamapCompleted *bool `json:"metamapCompleted,omitempty"`
	}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}

	*d = Data(aux.plain)
	if aux.MetamapCompleted != nil && d.IdentityVerification == nil {
		d.IdentityVerification = &IdentityVerificationData{Completed: *aux.MetamapCompleted}
	}
	return nil
}

// DecodePayload decodes raw JSON into the payload type registered for key.
func DecodePayload(key DataKey, raw []byte) (StepPayload, error) {
	var (
		payload StepPayload
		err     error
	)

	switch key {
	case DataRegistration:
		var p RegistrationData
		err = json.Unmarshal(raw, &p)
		payload = p
	case DataAccountType:
		var p AccountTypeData
		err = json.Unmarshal(raw, &p)
		payload = p
	case DataSmsValidation:
		var p SmsValidationData
		err = json.Unmarshal(raw, &p)
		payload = p
	case DataPin:
		var p PinData
		err = json.Unmarshal(raw, &p)
		payload = p
	case DataIdentityVerification:
		var p IdentityVerificationData
		err = json.Unmarshal(raw, &p)
		payload = p
	default:
		return nil, withMetadata(ErrInvalidDataKey, map[string]any{"key": string(key)})
	}

	if err != nil {
		return nil, validationFailed(err, "malformed step data")
	}
	return payload, nil
}

func passwordStrength(value any) error {
	s, _ := value.(string)
	if s == "" {
		return nil
	}

	var lower, upper, digit, symbol bool
	for _, r := range s {
		switch {
		case unicode.IsLower(r):
			lower = true
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsDigit(r):
			digit = true
		case strings.ContainsRune(passwordSymbols, r):
			symbol = true
		}
	}

	if !lower || !upper || !digit || !symbol {
		return errors.New("must contain an uppercase letter, a lowercase letter, a number and one of " + passwordSymbols)
	}
	return nil
}

// ValidateStringEquals returns a rule matching value against str.
func ValidateStringEquals(str string) validation.RuleFunc {
	return func(value any) error {
		s, _ := value.(string)
		if s != str {
			return errors.New("values must match")
		}
		return nil
	}
}

func cloneAddress(a *Address) *Address {
	if a == nil {
		return nil
	}
	c := *a
	return &c
}
