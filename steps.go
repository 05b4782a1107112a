package onboarding

import (
	"strings"
)

// Step is one stage of the onboarding wizard.
type Step string

const (
	StepRegistration         Step = "registration"
	StepEmailValidation      Step = "email-validation"
	StepSmsValidation        Step = "sms-validation"
	StepAccountType          Step = "account-type"
	StepIdentityVerification Step = "identity-verification"
	StepPinSetup             Step = "pin-setup"
	StepCompleted            Step = "completed"
)

var stepOrder = []Step{
	StepRegistration,
	StepEmailValidation,
	StepSmsValidation,
	StepAccountType,
	StepIdentityVerification,
	StepPinSetup,
	StepCompleted,
}

// older clients persisted the vendor name for the identity step
var stepAliases = map[string]Step{
	"metamapverification": StepIdentityVerification,
}

// Steps returns the wizard steps in order.
func Steps() []Step {
	out := make([]Step, len(stepOrder))
	copy(out, stepOrder)
	return out
}

// ParseStep accepts canonical names ("sms-validation") as well as variant
// names ("SmsValidation"), ignoring case and separators.
func ParseStep(value string) (Step, error) {
	needle := normalizeStepName(value)
	if needle != "" {
		for _, step := range stepOrder {
			if normalizeStepName(string(step)) == needle {
				return step, nil
			}
		}
		if step, ok := stepAliases[needle]; ok {
			return step, nil
		}
	}

	return "", withMetadata(ErrInvalidStep, map[string]any{
		"step": value,
	})
}

func normalizeStepName(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	return strings.NewReplacer("-", "", "_", "", " ", "").Replace(value)
}

// Valid reports whether s is a member of the step sequence.
func (s Step) Valid() bool {
	return s.Index() >= 0
}

// Index is the zero based position of s, or -1.
func (s Step) Index() int {
	for i, step := range stepOrder {
		if step == s {
			return i
		}
	}
	return -1
}

// Next returns the following step. Completed and unknown steps return
// themselves.
func (s Step) Next() Step {
	i := s.Index()
	if i < 0 || i >= len(stepOrder)-1 {
		return s
	}
	return stepOrder[i+1]
}

// Prev returns the preceding step. Registration and Completed have no legal
// backward transition and return themselves.
func (s Step) Prev() Step {
	i := s.Index()
	if i <= 0 || s == StepCompleted {
		return s
	}
	return stepOrder[i-1]
}

func (s Step) Terminal() bool {
	return s == StepCompleted
}

func (s Step) String() string {
	return string(s)
}

// Progress describes how far along the wizard is.
type Progress struct {
	Index   int `json:"index"`
	Total   int `json:"total"`
	Percent int `json:"percent"`
}

// ProgressOf returns the position of s in the sequence.
func ProgressOf(s Step) Progress {
	i := s.Index()
	if i < 0 {
		i = 0
	}
	total := len(stepOrder)
	return Progress{
		Index:   i,
		Total:   total,
		Percent: i * 100 / (total - 1),
	}
}
