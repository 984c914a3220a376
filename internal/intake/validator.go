// Package intake turns a raw form submission into a normalized lead payload.
package intake

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	apperrors "leadflow/internal/common/errors"
	"leadflow/internal/models"
)

const (
	VariantScheduled      = "scheduled"
	VariantPregnancyWeeks = "pregnancyWeeks"

	defaultPhonePrefix = "010"
	minPregnancyWeeks  = 1
	maxPregnancyWeeks  = 45
)

var (
	ErrValidation      = apperrors.ErrValidation
	ErrConsentRequired = apperrors.ErrConsentRequired
)

var (
	phone1Regex = regexp.MustCompile(`^\d{2,3}$`)
	phone2Regex = regexp.MustCompile(`^\d{3,4}$`)
	phone3Regex = regexp.MustCompile(`^\d{4}$`)
	emailRegex  = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	spaceRegex  = regexp.MustCompile(`\s+`)
)

// RawSubmission is a decoded JSON form body.
type RawSubmission map[string]interface{}

type Config struct {
	Variant string
}

type Validator struct {
	variant string
}

func NewValidator(cfg Config) (*Validator, error) {
	switch cfg.Variant {
	case VariantScheduled, VariantPregnancyWeeks:
	case "":
		cfg.Variant = VariantPregnancyWeeks
	default:
		return nil, fmt.Errorf("unknown intake variant %q", cfg.Variant)
	}
	return &Validator{variant: cfg.Variant}, nil
}

func (v *Validator) Variant() string {
	return v.variant
}

// Validate returns either a complete payload or the full list of problems,
// never both.
func (v *Validator) Validate(raw RawSubmission) (*models.LeadPayload, *ValidationErrors) {
	errs := &ValidationErrors{}

	if raw == nil {
		raw = RawSubmission{}
	}

	typed, err := submissionSchema.ValidateDocument(map[string]interface{}(raw))
	if err != nil {
		errs.add("", "INVALID_DOCUMENT", err.Error())
		return nil, errs
	}
	for _, e := range typed.Errors {
		errs.add(e.Field, e.Code, e.Message)
	}
	if errs.HasErrors() {
		// Field rules below assume the types are right.
		if c, ok := raw["consent"].(bool); !ok || !c {
			errs.ConsentMissing = true
		}
		return nil, errs
	}

	payload := &models.LeadPayload{}

	name := spaceRegex.ReplaceAllString(strings.TrimSpace(str(raw, "applicantName")), " ")
	if name == "" {
		errs.add("applicantName", "MISSING_REQUIRED", "applicant name is required")
	}
	payload.ApplicantName = name

	payload.PhoneParts = v.phoneParts(raw, errs)
	payload.Phone = payload.PhoneParts.Assemble()

	if email := strings.TrimSpace(str(raw, "email")); email != "" {
		if !emailRegex.MatchString(email) {
			errs.add("email", "INVALID_FORMAT", "invalid email format")
		}
		payload.Email = email
	}

	switch v.variant {
	case VariantScheduled:
		due := strings.TrimSpace(str(raw, "dueDate"))
		if due == "" {
			errs.add("dueDate", "MISSING_REQUIRED", "due date is required")
		} else if _, err := time.Parse("2006-01-02", due); err != nil {
			errs.add("dueDate", "INVALID_FORMAT", "due date must be YYYY-MM-DD")
		}
		payload.DueDate = due
	case VariantPregnancyWeeks:
		weeks, ok := pregnancyWeeks(raw["pregnancyWeeks"])
		if !ok {
			errs.add("pregnancyWeeks", "INVALID_RANGE",
				fmt.Sprintf("pregnancy weeks must be a whole number between %d and %d", minPregnancyWeeks, maxPregnancyWeeks))
		}
		payload.PregnancyWeeks = weeks
	}

	budget := models.Budget(strings.TrimSpace(str(raw, "budget")))
	if !budget.Valid() {
		errs.add("budget", "INVALID_ENUM_VALUE", "budget must be one of under-50k, 50k-100k, 100k-200k, over-200k")
	}
	payload.Budget = budget

	payload.AdditionalInfo = strings.TrimSpace(str(raw, "additionalInfo"))

	if consent, _ := raw["consent"].(bool); consent {
		payload.ConsentGiven = true
	} else {
		errs.ConsentMissing = true
	}

	if errs.HasErrors() || errs.ConsentMissing {
		return nil, errs
	}
	return payload, nil
}

func (v *Validator) phoneParts(raw RawSubmission, errs *ValidationErrors) models.PhoneParts {
	p1, present := raw["phone1"].(string)
	if !present && v.variant == VariantPregnancyWeeks {
		p1 = defaultPhonePrefix
	}
	parts := models.PhoneParts{
		P1: strings.TrimSpace(p1),
		P2: strings.TrimSpace(str(raw, "phone2")),
		P3: strings.TrimSpace(str(raw, "phone3")),
	}

	if !phone1Regex.MatchString(parts.P1) {
		errs.add("phone1", "INVALID_FORMAT", "phone prefix must be 2-3 digits")
	}
	if !phone2Regex.MatchString(parts.P2) {
		errs.add("phone2", "INVALID_FORMAT", "phone middle part must be 3-4 digits")
	}
	if !phone3Regex.MatchString(parts.P3) {
		errs.add("phone3", "INVALID_FORMAT", "phone last part must be 4 digits")
	}
	return parts
}

// pregnancyWeeks accepts a JSON number or a numeric string. Absent and empty
// values are valid and yield nil.
func pregnancyWeeks(value interface{}) (*int, bool) {
	var n int
	switch w := value.(type) {
	case nil:
		return nil, true
	case int:
		n = w
	case float64:
		if w != float64(int(w)) {
			return nil, false
		}
		n = int(w)
	case string:
		w = strings.TrimSpace(w)
		if w == "" {
			return nil, true
		}
		parsed, err := strconv.Atoi(w)
		if err != nil {
			return nil, false
		}
		n = parsed
	default:
		return nil, false
	}
	if n < minPregnancyWeeks || n > maxPregnancyWeeks {
		return nil, false
	}
	return &n, true
}

func str(raw RawSubmission, key string) string {
	s, _ := raw[key].(string)
	return s
}
