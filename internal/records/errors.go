package records

import "errors"

var (
	// ErrNotFound is returned when a patient or session does not exist for the practitioner.
	ErrNotFound = errors.New("records: not found")

	// ErrMissingRUT is returned when a patient is written without a national ID.
	ErrMissingRUT = errors.New("records: rut is required")

	// ErrMissingPractitioner is returned when a call is not scoped to a practitioner.
	ErrMissingPractitioner = errors.New("records: practitioner id is required")

	// ErrUnknownKind is returned for session kinds other than acupuntura/kinesiologia.
	ErrUnknownKind = errors.New("records: unknown session kind")
)
