package intake

import (
	"context"
	"errors"
	"time"

	"github.com/fichaclinica/intake-api/internal/audit"
	"github.com/fichaclinica/intake-api/internal/records"
)

const unspecifiedReason = "No especificado"

type stepOneWrite struct {
	patient *records.Patient
	session *records.Session
	reused  bool
}

// commitStepOne writes the patient and a minimal session for the collected
// step-1 data. It is called with e.mu held and releases it. FormState only
// changes when every write succeeded.
func (e *Engine) commitStepOne(ctx context.Context, collected FormData) Result {
	staged := e.state.FormData.Clone()
	staged.Merge(collected)

	if staged.String(GroupPatient, KeyRUT) == "" {
		defer e.mu.Unlock()
		e.fieldErrors = []FieldError{{Field: "rut", Message: "El RUT es requerido para registrar un paciente"}}
		e.metrics.ObserveCommit(string(OutcomeValidation), "none")
		return e.resultLocked(OutcomeValidation, &ValidationError{Step: 1, Fields: e.fieldErrors})
	}

	demographics := demographicsFrom(staged)
	professional := staged.String(GroupVisit, KeyProfessional)
	reason := staged.String(GroupVisit, KeyReason)
	if reason == "" {
		reason = unspecifiedReason
	}
	e.inFlight = "commit"
	e.mu.Unlock()

	gctx, cancel := e.gatewayContext(ctx)
	defer cancel()
	written, err := e.writeStepOne(gctx, demographics, professional, reason)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.inFlight = ""

	if err != nil {
		outcome := Classify(err)
		e.metrics.ObserveCommit(string(outcome), "none")
		e.logger.Error("step 1 commit failed", "rut", demographics.RUT, "error", err)
		return e.resultLocked(outcome, err)
	}

	e.state.FormData = staged
	e.state.PatientID = written.patient.ID
	e.state.SessionID = ""
	e.state.SessionType = ""
	sessionLabel := "none"
	if written.session != nil {
		e.state.SessionID = written.session.ID
		e.state.SessionType = written.session.Kind
		sessionLabel = "inserted"
		if written.reused {
			sessionLabel = "reused"
		}
	}
	e.state.CurrentStep = 2
	e.metrics.ObserveCommit(string(OutcomeOK), sessionLabel)
	e.metrics.ObserveTransition("next", string(OutcomeOK))
	e.logger.Info("step 1 committed",
		"patient_id", e.state.PatientID,
		"session_id", e.state.SessionID,
		"session_type", string(e.state.SessionType),
		"session", sessionLabel,
	)

	res := e.resultLocked(OutcomeOK, nil)
	res.Patient = written.patient
	res.Session = written.session
	return res
}

func (e *Engine) writeStepOne(ctx context.Context, d records.Demographics, professional, reason string) (stepOneWrite, error) {
	var out stepOneWrite

	err := e.call(ctx, "upsert_patient", func(ctx context.Context) error {
		p, err := e.repo.UpsertPatient(ctx, e.practitionerID, d)
		out.patient = p
		return err
	})
	if err != nil {
		return stepOneWrite{}, err
	}
	e.record(ctx, audit.Event{
		Type:      audit.EventPatientUpserted,
		PatientID: out.patient.ID,
		Fields:    demographicFields(d),
	}, audit.Details{})

	if professional == "" {
		return out, nil
	}
	kind, err := records.ParseKind(professional)
	if err != nil {
		return stepOneWrite{}, &PreconditionError{Reason: "Tipo de profesional no válido"}
	}

	// A same-day open session of this kind is a retry of an earlier commit.
	var open *records.Session
	err = e.call(ctx, "find_open_session", func(ctx context.Context) error {
		s, err := e.repo.FindOpenSession(ctx, kind, e.practitionerID, out.patient.ID, e.now())
		if errors.Is(err, records.ErrNotFound) {
			return nil
		}
		open = s
		return err
	})
	if err != nil {
		return stepOneWrite{}, err
	}

	if open != nil {
		clinical := open.Clinical
		clinical.ConsultationReason = reason
		err = e.call(ctx, "update_session", func(ctx context.Context) error {
			s, err := e.repo.UpdateSession(ctx, kind, open.ID, records.SessionPayload{
				PractitionerID: e.practitionerID,
				Status:         records.StatusInProgress,
				Clinical:       clinical,
			})
			out.session = s
			return err
		})
		if err != nil {
			return stepOneWrite{}, err
		}
		out.reused = true
	} else {
		var number int
		err = e.call(ctx, "next_session_number", func(ctx context.Context) error {
			n, err := e.repo.NextSessionNumber(ctx, out.patient.ID, kind)
			number = n
			return err
		})
		if err != nil {
			return stepOneWrite{}, err
		}
		err = e.call(ctx, "insert_session", func(ctx context.Context) error {
			s, err := e.repo.InsertSession(ctx, kind, records.SessionPayload{
				PatientID:      out.patient.ID,
				PractitionerID: e.practitionerID,
				Number:         number,
				Status:         records.StatusInProgress,
				Clinical:       records.Clinical{ConsultationReason: reason},
			})
			out.session = s
			return err
		})
		if err != nil {
			return stepOneWrite{}, err
		}
	}

	mode := "insert"
	if out.reused {
		mode = "reuse"
	}
	e.record(ctx, audit.Event{
		Type:        audit.EventSessionOpened,
		PatientID:   out.patient.ID,
		SessionID:   out.session.ID,
		SessionKind: string(kind),
		Fields:      []string{KeyReason},
	}, audit.Details{Mode: mode, Number: out.session.Number})
	return out, nil
}

// demographicsFrom maps the patient group onto the gateway's demographics.
// An unparsable birth date is stored as unknown.
func demographicsFrom(data FormData) records.Demographics {
	d := records.Demographics{
		RUT:        data.String(GroupPatient, KeyRUT),
		FullName:   data.String(GroupPatient, KeyName),
		Phone:      data.String(GroupPatient, KeyPhone),
		Email:      data.String(GroupPatient, KeyEmail),
		Occupation: data.String(GroupPatient, KeyOccupation),
		Address:    data.String(GroupPatient, KeyAddress),
	}
	if raw := data.String(GroupPatient, KeyBirthDate); raw != "" {
		if t, err := time.Parse(dateLayout, raw); err == nil {
			d.BirthDate = &t
		}
	}
	return d
}

func demographicFields(d records.Demographics) []string {
	fields := []string{"rut", "nombre_completo"}
	if d.BirthDate != nil {
		fields = append(fields, "fecha_nacimiento")
	}
	if d.Phone != "" {
		fields = append(fields, "telefono")
	}
	if d.Email != "" {
		fields = append(fields, "email")
	}
	if d.Occupation != "" {
		fields = append(fields, "ocupacion")
	}
	if d.Address != "" {
		fields = append(fields, "direccion")
	}
	return fields
}
