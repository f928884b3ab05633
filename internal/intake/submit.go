package intake

import (
	"context"
	"time"

	"github.com/fichaclinica/intake-api/internal/audit"
	"github.com/fichaclinica/intake-api/internal/records"
)

type submission struct {
	kind      records.SessionKind
	patientID string
	sessionID string
	update    bool
	formRUT   string
	data      FormData
}

// submit validates the final step and writes the complete session. It is
// called with e.mu held and releases it. On failure the user stays on the
// final step with FormData intact.
func (e *Engine) submit(ctx context.Context, st StepSchema, collected FormData) Result {
	if errs := st.Validate(collected); len(errs) > 0 {
		defer e.mu.Unlock()
		e.fieldErrors = errs
		e.metrics.ObserveSubmission(string(OutcomeValidation), e.state.SessionID != "")
		return e.resultLocked(OutcomeValidation, &ValidationError{Step: st.Step, Fields: errs})
	}
	e.fieldErrors = nil

	if e.state.PatientID == "" {
		defer e.mu.Unlock()
		err := &PreconditionError{Reason: "Paciente no registrado. Por favor, intenta nuevamente desde el paso 1."}
		e.metrics.ObserveSubmission(string(OutcomePrecondition), false)
		return e.resultLocked(OutcomePrecondition, err)
	}

	e.state.FormData.Merge(collected)
	kind, err := records.ParseKind(e.professionalLocked())
	if err != nil {
		defer e.mu.Unlock()
		perr := &PreconditionError{Reason: "Tipo de profesional no válido"}
		e.metrics.ObserveSubmission(string(OutcomePrecondition), false)
		return e.resultLocked(OutcomePrecondition, perr)
	}

	plan := submission{
		kind:      kind,
		patientID: e.state.PatientID,
		sessionID: e.state.SessionID,
		update:    e.state.SessionID != "" && e.state.SessionType == kind,
		formRUT:   e.state.FormData.String(GroupPatient, KeyRUT),
		data:      e.state.FormData.Clone(),
	}
	e.state.IsSubmitting = true
	e.mu.Unlock()

	session, err := e.writeSubmission(ctx, plan)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.state.IsSubmitting = false

	if err != nil {
		outcome := Classify(err)
		e.metrics.ObserveSubmission(string(outcome), plan.update)
		e.logger.Error("submission failed",
			"patient_id", plan.patientID,
			"session_id", plan.sessionID,
			"outcome", string(outcome),
			"error", err,
		)
		return e.resultLocked(outcome, err)
	}

	e.state = newFormState()
	e.metrics.ObserveSubmission(string(OutcomeOK), plan.update)
	e.logger.Info("session submitted",
		"patient_id", plan.patientID,
		"session_id", session.ID,
		"session_type", string(plan.kind),
		"update", plan.update,
	)
	res := e.resultLocked(OutcomeOK, nil)
	res.Session = session
	res.Message = "¡Sesión guardada exitosamente!"
	return res
}

func (e *Engine) writeSubmission(ctx context.Context, plan submission) (*records.Session, error) {
	gctx, cancel := e.gatewayContext(ctx)
	defer cancel()

	clinical := buildClinical(plan.data, plan.kind, e.now())
	var session *records.Session

	if plan.update {
		if err := e.reconcile(gctx, plan.kind, plan.sessionID, plan.formRUT); err != nil {
			return nil, err
		}
	}
	if err := e.reconcilePatient(gctx, plan.patientID, plan.formRUT); err != nil {
		return nil, err
	}

	if plan.update {
		err := e.call(gctx, "update_session", func(ctx context.Context) error {
			s, err := e.repo.UpdateSession(ctx, plan.kind, plan.sessionID, records.SessionPayload{
				PractitionerID: e.practitionerID,
				Status:         records.StatusComplete,
				Clinical:       clinical,
			})
			session = s
			return err
		})
		if err != nil {
			return nil, err
		}
	} else {
		var number int
		err := e.call(gctx, "next_session_number", func(ctx context.Context) error {
			n, err := e.repo.NextSessionNumber(ctx, plan.patientID, plan.kind)
			number = n
			return err
		})
		if err != nil {
			return nil, err
		}
		err = e.call(gctx, "insert_session", func(ctx context.Context) error {
			s, err := e.repo.InsertSession(ctx, plan.kind, records.SessionPayload{
				PatientID:      plan.patientID,
				PractitionerID: e.practitionerID,
				Number:         number,
				Status:         records.StatusComplete,
				Clinical:       clinical,
			})
			session = s
			return err
		})
		if err != nil {
			return nil, err
		}
	}

	// A draft write that started before the submission must not land after
	// the clear.
	e.saves.Wait()
	if err := e.draft.Clear(gctx); err != nil {
		e.logger.Warn("draft clear failed", "error", err)
	}

	mode := "insert"
	if plan.update {
		mode = "update"
	}
	e.record(gctx, audit.Event{
		Type:        audit.EventSessionSubmitted,
		PatientID:   plan.patientID,
		SessionID:   session.ID,
		SessionKind: string(plan.kind),
		Fields:      clinicalFields(plan.kind),
	}, audit.Details{Mode: mode, Number: session.Number})
	return session, nil
}

// buildClinical assembles every accumulated clinical field for the kind.
func buildClinical(data FormData, kind records.SessionKind, now time.Time) records.Clinical {
	c := records.Clinical{
		ConsultationReason: data.String(GroupVisit, KeyReason),
		Symptoms:           data.Group(GroupSymptoms),
		Pain:               data.Group(GroupPain),
		Techniques:         data.Strings(GroupDiagnosis, KeyTechniques),
		Recommendations:    data.String(GroupDiagnosis, KeyAdvice),
		ConsentAccepted:    data.Bool(GroupDiagnosis, KeyConsent),
	}
	if c.Techniques == nil {
		c.Techniques = []string{}
	}
	if c.ConsentAccepted {
		at := now.UTC()
		c.ConsentAt = &at
	}

	switch kind {
	case records.KindAcupuncture:
		c.MTC = map[string]any{
			GroupTongue: data.Group(GroupTongue),
			GroupPulse:  data.Group(GroupPulse),
		}
		c.MTCDiagnosis = data.String(GroupDiagnosis, KeyDiagnosis)
		c.Points = data.Strings(GroupDiagnosis, KeyPoints)
		if c.Points == nil {
			c.Points = []string{}
		}
	case records.KindKinesiology:
		c.Evaluation = data.Group(GroupKinesic)
		c.Diagnosis = data.String(GroupDiagnosis, KeyDiagnosis)
		c.TreatmentPlan = data.String(GroupDiagnosis, KeyTreatmentPlan)
	}
	return c
}

func clinicalFields(kind records.SessionKind) []string {
	fields := []string{"motivo_consulta", "sintomas_generales", "datos_dolor", "tecnicas_aplicadas", "recomendaciones", "consentimiento_aceptado"}
	if kind == records.KindAcupuncture {
		return append(fields, "datos_mtc", "diagnostico_mtc", "puntos_acupuntura")
	}
	return append(fields, "evaluacion_kinesica", "diagnostico", "plan_tratamiento")
}
