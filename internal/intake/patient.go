package intake

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/fichaclinica/intake-api/internal/records"
	"github.com/fichaclinica/intake-api/internal/rut"
)

const dateLayout = "2006-01-02"

// AgeOn returns the completed years between birth and today.
func AgeOn(birth, today time.Time) int {
	age := today.Year() - birth.Year()
	if today.Month() < birth.Month() || (today.Month() == birth.Month() && today.Day() < birth.Day()) {
		age--
	}
	if age < 0 {
		return 0
	}
	return age
}

// SplitPhone splits a stored "code number" phone. A value without a space is
// returned as the number with an empty code.
func SplitPhone(phone string) (code, number string) {
	parts := strings.Fields(phone)
	switch len(parts) {
	case 0:
		return "", ""
	case 1:
		return "", parts[0]
	default:
		return parts[0], parts[1]
	}
}

// LoadPatient prefills step 1 with a returning patient's demographics. The
// consultation reason is left blank for the new visit and any previously
// committed patient or session is forgotten; the step-1 commit registers the
// patient again.
func (e *Engine) LoadPatient(ctx context.Context, nationalID string) Result {
	e.mu.Lock()
	if e.busyLocked() {
		defer e.mu.Unlock()
		return e.busyResultLocked()
	}
	if rut.Normalize(nationalID) == "" {
		defer e.mu.Unlock()
		e.fieldErrors = []FieldError{{Field: "rut", Message: "El RUT es requerido"}}
		return e.resultLocked(OutcomeValidation, &ValidationError{Step: e.state.CurrentStep, Fields: e.fieldErrors})
	}
	e.inFlight = "load_patient"
	e.mu.Unlock()

	gctx, cancel := e.gatewayContext(ctx)
	defer cancel()
	var patient *records.Patient
	err := e.call(gctx, "find_patient", func(ctx context.Context) error {
		p, err := e.repo.FindPatientByRUT(ctx, e.practitionerID, nationalID)
		patient = p
		return err
	})

	e.mu.Lock()
	defer e.mu.Unlock()
	e.inFlight = ""
	if err != nil {
		outcome := Classify(err)
		if outcome == OutcomeGateway {
			e.logger.Error("patient load failed", "error", err)
		}
		return e.resultLocked(outcome, err)
	}

	e.applyPatientLocked(patient)
	e.logger.Info("patient loaded", "patient_id", patient.ID)
	res := e.resultLocked(OutcomeOK, nil)
	res.Patient = patient
	return res
}

func (e *Engine) applyPatientLocked(p *records.Patient) {
	today := e.now()
	data := e.state.FormData

	data.Set(GroupPatient, KeyRUT, p.RUT)
	data.Set(GroupPatient, KeyName, p.FullName)
	data.Set(GroupPatient, KeyBirthDate, "")
	data.Set(GroupPatient, KeyAge, "")
	if p.BirthDate != nil {
		data.Set(GroupPatient, KeyBirthDate, p.BirthDate.Format(dateLayout))
		data.Set(GroupPatient, KeyAge, strconv.Itoa(AgeOn(*p.BirthDate, today)))
	}
	code, number := SplitPhone(p.Phone)
	if code == "" {
		code = DefaultPhoneCode
	}
	data.Set(GroupPatient, KeyPhone, p.Phone)
	data.Set(GroupPatient, KeyPhoneCode, code)
	data.Set(GroupPatient, KeyPhoneNumber, number)
	data.Set(GroupPatient, KeyEmail, p.Email)
	data.Set(GroupPatient, KeyOccupation, p.Occupation)
	data.Set(GroupPatient, KeyAddress, p.Address)
	data.Set(GroupVisit, KeyReason, "")
	data.Set(GroupVisit, KeyIntakeDate, today.Format(dateLayout))

	e.state.PatientID = ""
	e.state.SessionID = ""
	e.state.SessionType = ""
	e.state.CurrentStep = 1
	e.fieldErrors = nil
	e.pending = nil
	e.ui = UIState{ExistingPatientRUT: p.RUT, IsExistingPatient: true}
}
