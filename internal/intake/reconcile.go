package intake

import (
	"context"
	"errors"

	"github.com/fichaclinica/intake-api/internal/audit"
	"github.com/fichaclinica/intake-api/internal/records"
	"github.com/fichaclinica/intake-api/internal/rut"
)

// Reconcile compares the national ID owning a session with the one on the
// form, ignoring punctuation, whitespace and case.
func Reconcile(sessionID, sessionRUT, formRUT string) error {
	if rut.Equal(sessionRUT, formRUT) {
		return nil
	}
	return &IdentityConflictError{SessionID: sessionID, SessionRUT: sessionRUT, FormRUT: formRUT}
}

// reconcile runs before any update by session id so a stale id can never
// overwrite another patient's session.
func (e *Engine) reconcile(ctx context.Context, kind records.SessionKind, sessionID, formRUT string) error {
	var owner string
	err := e.call(ctx, "session_owner", func(ctx context.Context) error {
		o, err := e.repo.SessionOwnerRUT(ctx, e.practitionerID, kind, sessionID)
		owner = o
		return err
	})
	if err != nil {
		if errors.Is(err, records.ErrNotFound) {
			return &PreconditionError{Reason: "La sesión creada en el paso 1 ya no existe. Reinicia la ficha desde el paso 1."}
		}
		return err
	}

	if err := Reconcile(sessionID, owner, formRUT); err != nil {
		e.logger.Warn("identity conflict blocked update",
			"session_id", sessionID,
			"session_type", string(kind),
		)
		e.record(ctx, audit.Event{
			Type:        audit.EventIdentityConflict,
			SessionID:   sessionID,
			SessionKind: string(kind),
		}, audit.Details{SessionRUT: owner, FormRUT: formRUT})
		return err
	}
	return nil
}

// reconcilePatient runs before every final write: the committed patient must
// still be the person the form describes.
func (e *Engine) reconcilePatient(ctx context.Context, patientID, formRUT string) error {
	var patient *records.Patient
	err := e.call(ctx, "get_patient", func(ctx context.Context) error {
		p, err := e.repo.GetPatient(ctx, e.practitionerID, patientID)
		patient = p
		return err
	})
	if err != nil {
		if errors.Is(err, records.ErrNotFound) {
			return &PreconditionError{Reason: "Paciente no registrado. Por favor, intenta nuevamente desde el paso 1."}
		}
		return err
	}

	if rut.Equal(patient.RUT, formRUT) {
		return nil
	}
	e.logger.Warn("identity conflict blocked submission", "patient_id", patientID)
	e.record(ctx, audit.Event{
		Type:      audit.EventIdentityConflict,
		PatientID: patientID,
	}, audit.Details{SessionRUT: patient.RUT, FormRUT: formRUT})
	return &IdentityConflictError{PatientID: patientID, SessionRUT: patient.RUT, FormRUT: formRUT}
}
