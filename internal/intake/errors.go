package intake

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fichaclinica/intake-api/internal/records"
)

var (
	// ErrBusy is returned when a commit or submission is already in flight for the form.
	ErrBusy = errors.New("intake: operation in progress")

	// ErrFormNotFound is returned by the registry for unknown or foreign form ids.
	ErrFormNotFound = errors.New("intake: form not found")

	// ErrDraftNotFound is returned when recovery is accepted but no draft is stored.
	ErrDraftNotFound = errors.New("intake: no draft to recover")
)

// FieldError is a validation failure shown next to one input.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError aborts a transition; nothing was written.
type ValidationError struct {
	Step   int
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		msgs = append(msgs, f.Field+": "+f.Message)
	}
	return fmt.Sprintf("intake: step %d invalid: %s", e.Step, strings.Join(msgs, "; "))
}

// IdentityConflictError blocks a write whose session or patient belongs to
// another national ID than the one on the form.
type IdentityConflictError struct {
	SessionID  string
	PatientID  string
	SessionRUT string
	FormRUT    string
}

func (e *IdentityConflictError) Error() string {
	if e.SessionID == "" {
		return fmt.Sprintf("intake: patient %s has national id %s, form is for %s", e.PatientID, e.SessionRUT, e.FormRUT)
	}
	return fmt.Sprintf("intake: session %s belongs to patient %s, form is for %s", e.SessionID, e.SessionRUT, e.FormRUT)
}

// GatewayError wraps a persistence failure. The form state is unchanged and
// the same action can be retried.
type GatewayError struct {
	Op  string
	Err error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("intake: %s failed: %v", e.Op, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }

// Retryable is always true; gateway failures never mutate the form.
func (e *GatewayError) Retryable() bool { return true }

// PreconditionError means the flow is inconsistent and must restart at step 1.
type PreconditionError struct {
	Reason string
}

func (e *PreconditionError) Error() string {
	return "intake: " + e.Reason
}

// Outcome classifies the result of an engine operation.
type Outcome string

const (
	OutcomeOK               Outcome = "ok"
	OutcomeValidation       Outcome = "validation"
	OutcomeIdentityConflict Outcome = "identity_conflict"
	OutcomeGateway          Outcome = "gateway"
	OutcomePrecondition     Outcome = "precondition"
	OutcomeBusy             Outcome = "busy"
	OutcomeNotFound         Outcome = "not_found"
)

// Classify maps an error to its Outcome.
func Classify(err error) Outcome {
	var (
		validation   *ValidationError
		conflict     *IdentityConflictError
		precondition *PreconditionError
	)
	switch {
	case err == nil:
		return OutcomeOK
	case errors.As(err, &validation):
		return OutcomeValidation
	case errors.As(err, &conflict):
		return OutcomeIdentityConflict
	case errors.Is(err, ErrBusy):
		return OutcomeBusy
	case errors.Is(err, ErrFormNotFound), errors.Is(err, ErrDraftNotFound), errors.Is(err, records.ErrNotFound):
		return OutcomeNotFound
	case errors.As(err, &precondition):
		return OutcomePrecondition
	default:
		return OutcomeGateway
	}
}
