package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

type ErrorCode string

const (
	ErrCodeValidationFailed  ErrorCode = "VALIDATION_FAILED"
	ErrCodeConsentRequired   ErrorCode = "CONSENT_REQUIRED"
	ErrCodeIllegalTransition ErrorCode = "ILLEGAL_TRANSITION"
	ErrCodeNotFound          ErrorCode = "NOT_FOUND"
	ErrCodeStoreUnavailable  ErrorCode = "STORE_UNAVAILABLE"
	ErrCodeBadRequest        ErrorCode = "BAD_REQUEST"
	ErrCodeInternal          ErrorCode = "INTERNAL_ERROR"
)

// Sentinels shared by the store, status machine and gateway. Packages wrap
// them with %w so callers can match with errors.Is.
var (
	ErrValidation        = stderrors.New("VALIDATION_FAILED")
	ErrConsentRequired   = stderrors.New("CONSENT_REQUIRED")
	ErrIllegalTransition = stderrors.New("ILLEGAL_TRANSITION")
	ErrNotFound          = stderrors.New("NOT_FOUND")
	ErrStoreUnavailable  = stderrors.New("STORE_UNAVAILABLE")
)

type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// BPMNError is the shape thrown back to Zeebe by the lead workers.
type BPMNError struct {
	Code           string                 `json:"code"`
	Message        string                 `json:"message"`
	Details        string                 `json:"details,omitempty"`
	Retryable      bool                   `json:"retryable"`
	Retries        int                    `json:"retries"`
	ErrorVariables map[string]interface{} `json:"errorVariables,omitempty"`
}

func (e *BPMNError) Error() string {
	return fmt.Sprintf("BPMNError[%s]: %s", e.Code, e.Message)
}

func (e *BPMNError) ToErrorVariables() map[string]interface{} {
	vars := map[string]interface{}{
		"errorCode":    e.Code,
		"errorMessage": e.Message,
		"errorDetails": e.Details,
		"retryable":    e.Retryable,
	}

	for k, v := range e.ErrorVariables {
		vars[k] = v
	}

	return vars
}

func NewValidationFailedError(details string, fields map[string]interface{}) *StandardError {
	return &StandardError{
		Code:      ErrCodeValidationFailed,
		Message:   "Submission validation failed",
		Details:   details,
		Retryable: false,
		Metadata:  fields,
		Timestamp: time.Now().UTC(),
	}
}

func NewConsentRequiredError() *StandardError {
	return &StandardError{
		Code:      ErrCodeConsentRequired,
		Message:   "Consent to personal data collection is required",
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

func NewIllegalTransitionError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeIllegalTransition,
		Message:   "Status transition is not allowed",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

func NewNotFoundError(id string) *StandardError {
	return &StandardError{
		Code:      ErrCodeNotFound,
		Message:   "Application not found",
		Details:   fmt.Sprintf("id: %s", id),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

func NewStoreUnavailableError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeStoreUnavailable,
		Message:   "Record store unavailable",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

func NewBadRequestError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeBadRequest,
		Message:   "Malformed request",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// standardizer is implemented by errors that know their own code, such as
// intake validation results.
type standardizer interface {
	ToStandardError() *StandardError
}

// FromError maps any error returned by the core onto a StandardError.
func FromError(err error) *StandardError {
	if err == nil {
		return nil
	}
	var stdErr *StandardError
	if stderrors.As(err, &stdErr) {
		return stdErr
	}
	var conv standardizer
	if stderrors.As(err, &conv) {
		return conv.ToStandardError()
	}

	switch {
	case stderrors.Is(err, ErrConsentRequired):
		e := NewConsentRequiredError()
		e.Details = err.Error()
		return e
	case stderrors.Is(err, ErrValidation):
		return NewValidationFailedError(err.Error(), nil)
	case stderrors.Is(err, ErrIllegalTransition):
		return NewIllegalTransitionError(err.Error())
	case stderrors.Is(err, ErrNotFound):
		return &StandardError{
			Code:      ErrCodeNotFound,
			Message:   "Application not found",
			Details:   err.Error(),
			Timestamp: time.Now().UTC(),
		}
	case stderrors.Is(err, ErrStoreUnavailable):
		return NewStoreUnavailableError(err)
	}

	return &StandardError{
		Code:      ErrCodeInternal,
		Message:   "Unexpected error",
		Details:   err.Error(),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

var BPMNErrorMapping = map[ErrorCode]string{
	ErrCodeValidationFailed:  "VALIDATION_FAILED",
	ErrCodeConsentRequired:   "CONSENT_REQUIRED",
	ErrCodeIllegalTransition: "ILLEGAL_TRANSITION",
	ErrCodeNotFound:          "NOT_FOUND",
	ErrCodeStoreUnavailable:  "STORE_UNAVAILABLE",
}

func GetRetryCount(code ErrorCode) int {
	switch code {
	case ErrCodeStoreUnavailable:
		return 3
	default:
		return 0 // Business errors: no retry
	}
}

// HTTPStatus maps an error code to the status the API answers with.
func HTTPStatus(code ErrorCode) int {
	switch code {
	case ErrCodeValidationFailed, ErrCodeConsentRequired:
		return http.StatusUnprocessableEntity
	case ErrCodeIllegalTransition:
		return http.StatusConflict
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeStoreUnavailable:
		return http.StatusServiceUnavailable
	case ErrCodeBadRequest:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func ConvertToBPMNError(stdErr *StandardError) *BPMNError {
	bpmnCode, exists := BPMNErrorMapping[stdErr.Code]
	if !exists {
		bpmnCode = string(stdErr.Code)
	}

	retries := GetRetryCount(stdErr.Code)
	if !stdErr.Retryable {
		retries = 0
	}

	vars := map[string]interface{}{
		"originalErrorCode": string(stdErr.Code),
		"timestamp":         stdErr.Timestamp.Format(time.RFC3339),
	}
	for k, v := range stdErr.Metadata {
		vars[k] = v
	}

	return &BPMNError{
		Code:           bpmnCode,
		Message:        stdErr.Message,
		Details:        stdErr.Details,
		Retryable:      stdErr.Retryable,
		Retries:        retries,
		ErrorVariables: vars,
	}
}

func IsRetryableErrorCode(code ErrorCode) bool {
	return GetRetryCount(code) > 0
}

func GetErrorCategory(code ErrorCode) string {
	codeStr := string(code)
	switch {
	case strings.Contains(codeStr, "STORE"):
		return "DATABASE"
	case strings.Contains(codeStr, "TRANSITION"):
		return "WORKFLOW"
	case strings.Contains(codeStr, "VALIDATION") || strings.Contains(codeStr, "CONSENT") || strings.Contains(codeStr, "BAD_REQUEST"):
		return "VALIDATION"
	case strings.Contains(codeStr, "NOT_FOUND"):
		return "LOOKUP"
	default:
		return "OTHER"
	}
}
