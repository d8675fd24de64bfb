package channel

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/achintir-projects/android-ios-automation-sub001/internal/domain"
)

// Error classes reported by adapters. ErrTransient never reaches a job record
// on its own: it only means "not yet" inside a poll loop.
var (
	ErrValidation      = errors.New("validation error")
	ErrAuthentication  = errors.New("authentication error")
	ErrTransfer        = errors.New("transfer error")
	ErrTimeout         = errors.New("timeout")
	ErrRemoteRejection = errors.New("remote rejection")
	ErrCancelled       = errors.New("cancelled")
	ErrTransient       = errors.New("transient vendor error")
)

// Class names used in job logs and metric labels.
const (
	KindValidation     = "ValidationError"
	KindAuthentication = "AuthenticationError"
	KindTransfer       = "TransferError"
	KindTimeout        = "Timeout"
	KindRemoteRejected = "RemoteRejection"
	KindCancelled      = "Cancelled"
	KindInternal       = "InternalError"
)

// Kind maps an adapter error to its class name.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrCancelled):
		return KindCancelled
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrAuthentication):
		return KindAuthentication
	case errors.Is(err, ErrTimeout):
		return KindTimeout
	case errors.Is(err, ErrRemoteRejection):
		return KindRemoteRejected
	case errors.Is(err, ErrTransfer), errors.Is(err, ErrTransient):
		return KindTransfer
	default:
		return KindInternal
	}
}

// FailureLine renders the final log line written for a failed job.
func FailureLine(err error) string {
	return fmt.Sprintf("deployment failed [%s]: %v", Kind(err), err)
}

// Authentication marks err as a credential failure.
func Authentication(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrAuthentication, fmt.Sprintf(format, args...))
}

// Transfer wraps an upload failure. Transient causes are preserved for errors.Is.
func Transfer(step string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrAuthentication) || errors.Is(err, ErrRemoteRejection) ||
		errors.Is(err, ErrCancelled) || errors.Is(err, ErrTimeout) || errors.Is(err, ErrValidation) {
		return fmt.Errorf("%s: %w", step, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrTransfer, step, err)
}

// Rejected reports an explicit vendor-side failure.
func Rejected(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrRemoteRejection, fmt.Sprintf(format, args...))
}

// FieldError describes one invalid parameter.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError lists every parameter problem found for a submission.
type ValidationError struct {
	Channel domain.Channel
	Fields  []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	sort.Strings(parts)
	if e.Channel == "" {
		return "invalid submission: " + strings.Join(parts, "; ")
	}
	return fmt.Sprintf("invalid %s submission: %s", e.Channel, strings.Join(parts, "; "))
}

// Unwrap lets callers match ErrValidation.
func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// Invalid builds a ValidationError for a single field.
func Invalid(ch domain.Channel, field, message string) *ValidationError {
	return &ValidationError{Channel: ch, Fields: []FieldError{{Field: field, Message: message}}}
}
