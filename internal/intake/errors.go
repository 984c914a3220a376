package intake

import (
	"fmt"
	"strings"

	apperrors "leadflow/internal/common/errors"
)

type FieldError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ValidationErrors collects every problem with one submission. A missing
// consent is tracked apart from field errors because the form shows it
// differently.
type ValidationErrors struct {
	Fields         []FieldError `json:"fields,omitempty"`
	ConsentMissing bool         `json:"consentMissing"`
}

func (v *ValidationErrors) add(field, code, message string) {
	v.Fields = append(v.Fields, FieldError{Field: field, Code: code, Message: message})
}

func (v *ValidationErrors) HasErrors() bool {
	return len(v.Fields) > 0
}

// HasField reports whether field failed at least one rule.
func (v *ValidationErrors) HasField(field string) bool {
	for _, f := range v.Fields {
		if f.Field == field {
			return true
		}
	}
	return false
}

func (v *ValidationErrors) Error() string {
	msgs := make([]string, 0, len(v.Fields)+1)
	for _, f := range v.Fields {
		msgs = append(msgs, fmt.Sprintf("%s: %s", f.Field, f.Message))
	}
	if v.ConsentMissing {
		msgs = append(msgs, "consent: required")
	}
	return strings.Join(msgs, "; ")
}

// Unwrap lets callers match with errors.Is(err, ErrValidation) or
// errors.Is(err, ErrConsentRequired).
func (v *ValidationErrors) Unwrap() []error {
	var errs []error
	if v.HasErrors() {
		errs = append(errs, ErrValidation)
	}
	if v.ConsentMissing {
		errs = append(errs, ErrConsentRequired)
	}
	return errs
}

// ToStandardError picks the code the boundary reports: CONSENT_REQUIRED only
// when consent is the sole problem.
func (v *ValidationErrors) ToStandardError() *apperrors.StandardError {
	if v.ConsentMissing && !v.HasErrors() {
		return apperrors.NewConsentRequiredError()
	}

	fields := make(map[string]interface{}, len(v.Fields))
	for _, f := range v.Fields {
		if _, seen := fields[f.Field]; !seen {
			fields[f.Field] = f.Message
		}
	}
	stdErr := apperrors.NewValidationFailedError(v.Error(), map[string]interface{}{
		"fieldErrors":    fields,
		"consentMissing": v.ConsentMissing,
	})
	return stdErr
}
