package intake

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fichaclinica/intake-api/internal/audit"
	"github.com/fichaclinica/intake-api/internal/records"
)

func TestCommitStepOne_NewPatientGetsFirstSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res := f.engine.Advance(ctx, stepOne(rutAna, ProfessionalAcupuncturist))

	require.True(t, res.OK(), res.Err)
	require.NotNil(t, res.Patient)
	require.NotNil(t, res.Session)
	assert.Equal(t, 1, res.Session.Number)
	assert.Equal(t, records.StatusInProgress, res.Session.Status)
	assert.Equal(t, "Dolor lumbar", res.Session.ConsultationReason)

	st := f.engine.State()
	assert.Equal(t, 2, st.CurrentStep)
	assert.Equal(t, res.Patient.ID, st.PatientID)
	assert.Equal(t, res.Session.ID, st.SessionID)
	assert.Equal(t, records.KindAcupuncture, st.SessionType)

	p, err := f.repo.FindPatientByRUT(ctx, testPractitioner, "123456785")
	require.NoError(t, err)
	assert.Equal(t, "Ana Pérez", p.FullName)
	assert.Equal(t, "+569 12345678", p.Phone)
	require.NotNil(t, p.BirthDate)
	assert.Equal(t, "1990-05-20", p.BirthDate.Format(dateLayout))

	assert.Equal(t, []audit.EventType{audit.EventPatientUpserted, audit.EventSessionOpened}, f.audit.types())
}

func TestCommitStepOne_ReturningPatientContinuesNumbering(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p, err := f.repo.UpsertPatient(ctx, testPractitioner, records.Demographics{RUT: rutAna, FullName: "Ana Pérez"})
	require.NoError(t, err)
	for n := 1; n <= 2; n++ {
		_, err := f.repo.InsertSession(ctx, records.KindAcupuncture, records.SessionPayload{
			PatientID: p.ID, PractitionerID: testPractitioner, Number: n, Status: records.StatusComplete,
		})
		require.NoError(t, err)
	}

	res := f.engine.Advance(ctx, stepOne(rutAna, ProfessionalAcupuncturist))

	require.True(t, res.OK(), res.Err)
	assert.Equal(t, p.ID, res.Patient.ID)
	assert.Equal(t, 3, res.Session.Number)
}

func TestCommitStepOne_NumberingIsPerKind(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p, err := f.repo.UpsertPatient(ctx, testPractitioner, records.Demographics{RUT: rutAna, FullName: "Ana Pérez"})
	require.NoError(t, err)
	_, err = f.repo.InsertSession(ctx, records.KindAcupuncture, records.SessionPayload{
		PatientID: p.ID, PractitionerID: testPractitioner, Number: 1, Status: records.StatusComplete,
	})
	require.NoError(t, err)

	res := f.engine.Advance(ctx, stepOne(rutAna, ProfessionalKinesiologist))

	require.True(t, res.OK(), res.Err)
	assert.Equal(t, records.KindKinesiology, res.Session.Kind)
	assert.Equal(t, 1, res.Session.Number)
}

func TestCommitStepOne_FailureLeavesStateUntouched(t *testing.T) {
	for _, op := range []string{"upsert", "insert"} {
		t.Run(op, func(t *testing.T) {
			var flaky *flakyRepo
			f := newFixture(t, func(o *Options) {
				flaky = newFlakyRepo(o.Repository)
				o.Repository = flaky
			})
			flaky.fail(op, errBoom)

			res := f.engine.Advance(context.Background(), stepOne(rutAna, ProfessionalAcupuncturist))

			require.Equal(t, OutcomeGateway, res.Outcome)
			assert.ErrorIs(t, res.Err, errBoom)
			assert.Equal(t, "Error al guardar los datos. Por favor, intenta nuevamente.", res.Message)
			st := f.engine.State()
			assert.Equal(t, 1, st.CurrentStep)
			assert.Empty(t, st.PatientID)
			assert.Empty(t, st.SessionID)
			assert.Empty(t, st.FormData)
			assert.False(t, f.engine.Busy())
		})
	}
}

func TestCommitStepOne_RetryReusesOpenSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.engine.Advance(ctx, stepOne(rutAna, ProfessionalAcupuncturist))
	require.True(t, first.OK(), first.Err)

	// A second form for the same patient later that day picks up the open session.
	f.clock.advance(2 * time.Hour)
	other := NewEngine(testPractitioner, Options{
		Config:     DefaultConfig(),
		Repository: f.repo,
		Drafts:     f.drafts,
		Now:        f.clock.now,
	})
	defer other.Close()
	snap := stepOne(rutAna, ProfessionalAcupuncturist)
	snap.Inputs["motivo-consulta"] = "Cervicalgia"

	second := other.Advance(ctx, snap)

	require.True(t, second.OK(), second.Err)
	assert.Equal(t, first.Session.ID, second.Session.ID)
	assert.Equal(t, 1, second.Session.Number)
	assert.Equal(t, "Cervicalgia", second.Session.ConsultationReason)

	history, err := f.repo.PatientHistory(ctx, testPractitioner, rutAna)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestCommitStepOne_NextDayOpensNewSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.engine.Advance(ctx, stepOne(rutAna, ProfessionalAcupuncturist))
	require.True(t, first.OK())

	f.clock.advance(24 * time.Hour)
	f.engine.JumpTo(1)
	second := f.engine.Advance(ctx, stepOne(rutAna, ProfessionalAcupuncturist))

	require.True(t, second.OK(), second.Err)
	assert.NotEqual(t, first.Session.ID, second.Session.ID)
	assert.Equal(t, 2, second.Session.Number)
}

func TestCommitStepOne_WithoutProfessionalOnlyWritesPatient(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.Config.ValidateOnStepChange = false })
	snap := stepOne(rutAna, "")

	res := f.engine.Advance(context.Background(), snap)

	require.True(t, res.OK(), res.Err)
	assert.NotNil(t, res.Patient)
	assert.Nil(t, res.Session)
	st := f.engine.State()
	assert.Equal(t, 2, st.CurrentStep)
	assert.NotEmpty(t, st.PatientID)
	assert.Empty(t, st.SessionID)
	assert.Empty(t, st.SessionType)
}

func TestCommitStepOne_RequiresRUTEvenWithoutValidation(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.Config.ValidateOnStepChange = false })
	snap := stepOne("", ProfessionalAcupuncturist)

	res := f.engine.Advance(context.Background(), snap)

	require.Equal(t, OutcomeValidation, res.Outcome)
	assert.Equal(t, []string{"rut"}, fieldNames(res.Errors))
	assert.Equal(t, 1, f.engine.State().CurrentStep)
	assert.Empty(t, f.audit.types())
}

func TestCommitStepOne_DefaultsReasonWhenBlank(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.Config.ValidateOnStepChange = false })
	snap := stepOne(rutAna, ProfessionalKinesiologist)
	snap.Inputs["motivo-consulta"] = "   "

	res := f.engine.Advance(context.Background(), snap)

	require.True(t, res.OK(), res.Err)
	assert.Equal(t, "No especificado", res.Session.ConsultationReason)
}

func TestDemographicsFromIgnoresBadBirthDate(t *testing.T) {
	data := FormData{GroupPatient: {KeyRUT: rutAna, KeyBirthDate: "20/05/1990"}}
	d := demographicsFrom(data)
	assert.Nil(t, d.BirthDate)
	assert.Equal(t, []string{"rut", "nombre_completo"}, demographicFields(d))
}
