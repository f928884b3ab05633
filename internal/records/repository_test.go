package records

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const practitioner = "terapeuta-1"

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestRepo() (*InMemoryRepository, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)}
	return NewInMemoryRepository().WithClock(clock.now), clock
}

func TestInMemoryRepository_UpsertPatientIsIdempotentPerRUT(t *testing.T) {
	repo, clock := newTestRepo()
	ctx := context.Background()

	first, err := repo.UpsertPatient(ctx, practitioner, Demographics{RUT: "12.345.678-5", FullName: "Ana Soto"})
	require.NoError(t, err)

	clock.advance(time.Hour)
	second, err := repo.UpsertPatient(ctx, practitioner, Demographics{RUT: "12345678-5", FullName: "Ana Soto Rojas", Phone: "+56912345678"})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "Ana Soto Rojas", second.FullName)
	assert.Equal(t, first.CreatedAt, second.CreatedAt)
	assert.True(t, second.UpdatedAt.After(first.UpdatedAt))

	found, err := repo.FindPatientByRUT(ctx, practitioner, "12345678-5")
	require.NoError(t, err)
	assert.Equal(t, "+56912345678", found.Phone)
}

func TestInMemoryRepository_PatientsAreScopedByPractitioner(t *testing.T) {
	repo, _ := newTestRepo()
	ctx := context.Background()

	_, err := repo.UpsertPatient(ctx, practitioner, Demographics{RUT: "12345678-5", FullName: "Ana Soto"})
	require.NoError(t, err)

	_, err = repo.FindPatientByRUT(ctx, "otro", "12345678-5")
	assert.ErrorIs(t, err, ErrNotFound)

	other, err := repo.UpsertPatient(ctx, "otro", Demographics{RUT: "12345678-5", FullName: "Ana Soto"})
	require.NoError(t, err)
	mine, err := repo.FindPatientByRUT(ctx, practitioner, "12345678-5")
	require.NoError(t, err)
	assert.NotEqual(t, mine.ID, other.ID)
}

func TestInMemoryRepository_UpsertPatientRequiresScope(t *testing.T) {
	repo, _ := newTestRepo()
	_, err := repo.UpsertPatient(context.Background(), "", Demographics{RUT: "1-9"})
	assert.ErrorIs(t, err, ErrMissingPractitioner)
	_, err = repo.UpsertPatient(context.Background(), practitioner, Demographics{RUT: " - "})
	assert.ErrorIs(t, err, ErrMissingRUT)
}

func TestInMemoryRepository_SessionNumbering(t *testing.T) {
	repo, _ := newTestRepo()
	ctx := context.Background()

	// new patient starts at 1
	p, err := repo.UpsertPatient(ctx, practitioner, Demographics{RUT: "11111111-1", FullName: "Luis Vera"})
	require.NoError(t, err)
	n, err := repo.NextSessionNumber(ctx, p.ID, KindAcupuncture)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// returning patient with three acupuncture visits gets number 4
	for i := 1; i <= 3; i++ {
		_, err := repo.InsertSession(ctx, KindAcupuncture, SessionPayload{PatientID: p.ID, PractitionerID: practitioner, Number: i})
		require.NoError(t, err)
	}
	n, err = repo.NextSessionNumber(ctx, p.ID, KindAcupuncture)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	// numbering is per kind
	n, err = repo.NextSessionNumber(ctx, p.ID, KindKinesiology)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = repo.NextSessionNumber(ctx, p.ID, SessionKind("otro"))
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestInMemoryRepository_InsertAndUpdateSession(t *testing.T) {
	repo, _ := newTestRepo()
	ctx := context.Background()

	p, err := repo.UpsertPatient(ctx, practitioner, Demographics{RUT: "11111111-1", FullName: "Luis Vera"})
	require.NoError(t, err)

	s, err := repo.InsertSession(ctx, KindKinesiology, SessionPayload{
		PatientID:      p.ID,
		PractitionerID: practitioner,
		Number:         1,
		Clinical:       Clinical{ConsultationReason: "Lumbago"},
	})
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, s.Status)

	updated, err := repo.UpdateSession(ctx, KindKinesiology, s.ID, SessionPayload{
		PractitionerID: practitioner,
		Status:         StatusComplete,
		Clinical:       Clinical{ConsultationReason: "Lumbago", Diagnosis: "Lumbalgia mecánica"},
	})
	require.NoError(t, err)
	assert.Equal(t, StatusComplete, updated.Status)
	assert.Equal(t, "Lumbalgia mecánica", updated.Diagnosis)
	assert.Equal(t, 1, updated.Number)

	_, err = repo.UpdateSession(ctx, KindAcupuncture, s.ID, SessionPayload{PractitionerID: practitioner})
	assert.ErrorIs(t, err, ErrNotFound)

	owner, err := repo.SessionOwnerRUT(ctx, practitioner, KindKinesiology, s.ID)
	require.NoError(t, err)
	assert.Equal(t, "11111111-1", owner)

	_, err = repo.SessionOwnerRUT(ctx, "ter-otro", KindKinesiology, s.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = repo.InsertSession(ctx, KindKinesiology, SessionPayload{PatientID: "missing"})
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestInMemoryRepository_FindOpenSessionSameDay(t *testing.T) {
	repo, clock := newTestRepo()
	ctx := context.Background()

	p, err := repo.UpsertPatient(ctx, practitioner, Demographics{RUT: "11111111-1", FullName: "Luis Vera"})
	require.NoError(t, err)
	s, err := repo.InsertSession(ctx, KindAcupuncture, SessionPayload{PatientID: p.ID, PractitionerID: practitioner, Number: 1})
	require.NoError(t, err)

	open, err := repo.FindOpenSession(ctx, KindAcupuncture, practitioner, p.ID, clock.t)
	require.NoError(t, err)
	assert.Equal(t, s.ID, open.ID)

	_, err = repo.FindOpenSession(ctx, KindAcupuncture, practitioner, p.ID, clock.t.AddDate(0, 0, 1))
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = repo.UpdateSession(ctx, KindAcupuncture, s.ID, SessionPayload{PractitionerID: practitioner, Status: StatusComplete})
	require.NoError(t, err)
	_, err = repo.FindOpenSession(ctx, KindAcupuncture, practitioner, p.ID, clock.t)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestInMemoryRepository_SearchPatients(t *testing.T) {
	repo, clock := newTestRepo()
	ctx := context.Background()

	for _, d := range []Demographics{
		{RUT: "12345678-5", FullName: "José Núñez"},
		{RUT: "12399999-K", FullName: "María José Pérez"},
		{RUT: "7654321-6", FullName: "Pedro Rojas"},
	} {
		_, err := repo.UpsertPatient(ctx, practitioner, d)
		require.NoError(t, err)
		clock.advance(time.Minute)
	}
	_, err := repo.UpsertPatient(ctx, "otro", Demographics{RUT: "12300000-1", FullName: "Jose Ajeno"})
	require.NoError(t, err)

	byName, err := repo.SearchPatients(ctx, practitioner, "jose", 0)
	require.NoError(t, err)
	require.Len(t, byName, 2)
	assert.Equal(t, "María José Pérez", byName[0].FullName, "newest first")

	byRUT, err := repo.SearchPatients(ctx, practitioner, "12.3", 0)
	require.NoError(t, err)
	assert.Len(t, byRUT, 2)

	limited, err := repo.SearchPatients(ctx, practitioner, "123", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	none, err := repo.SearchPatients(ctx, practitioner, "   ", 0)
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestInMemoryRepository_HistoryAndDelete(t *testing.T) {
	repo, clock := newTestRepo()
	ctx := context.Background()

	p, err := repo.UpsertPatient(ctx, practitioner, Demographics{RUT: "11111111-1", FullName: "Luis Vera"})
	require.NoError(t, err)
	acu, err := repo.InsertSession(ctx, KindAcupuncture, SessionPayload{PatientID: p.ID, PractitionerID: practitioner, Number: 1, Clinical: Clinical{ConsultationReason: "Insomnio"}})
	require.NoError(t, err)
	clock.advance(24 * time.Hour)
	kine, err := repo.InsertSession(ctx, KindKinesiology, SessionPayload{PatientID: p.ID, PractitionerID: practitioner, Number: 1, Clinical: Clinical{ConsultationReason: "Hombro"}})
	require.NoError(t, err)

	history, err := repo.PatientHistory(ctx, practitioner, "11.111.111-1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, kine.ID, history[0].SessionID)
	assert.Equal(t, "Kinesiología", history[0].KindLabel)
	assert.Equal(t, acu.ID, history[1].SessionID)

	got, err := repo.GetSession(ctx, practitioner, KindAcupuncture, acu.ID)
	require.NoError(t, err)
	assert.Equal(t, "Insomnio", got.ConsultationReason)
	_, err = repo.GetSession(ctx, "otro", KindAcupuncture, acu.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, repo.DeletePatient(ctx, practitioner, "11111111-1"))
	_, err = repo.GetSession(ctx, practitioner, KindAcupuncture, acu.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, repo.DeletePatient(ctx, practitioner, "11111111-1"), ErrNotFound)

	empty, err := repo.PatientHistory(ctx, practitioner, "11111111-1")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind("Acupunturista")
	require.NoError(t, err)
	assert.Equal(t, KindAcupuncture, k)
	k, err = ParseKind("kinesiologia")
	require.NoError(t, err)
	assert.Equal(t, KindKinesiology, k)
	_, err = ParseKind("dentista")
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestInMemoryRepository_GetPatientScopedToPractitioner(t *testing.T) {
	repo, _ := newTestRepo()
	ctx := context.Background()
	p, err := repo.UpsertPatient(ctx, practitioner, Demographics{RUT: "11111111-1", FullName: "Luis Vera"})
	require.NoError(t, err)

	got, err := repo.GetPatient(ctx, practitioner, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "Luis Vera", got.FullName)

	_, err = repo.GetPatient(ctx, "ter-otro", p.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = repo.GetPatient(ctx, practitioner, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestInMemoryRepository_ReturnedSessionsDoNotAliasStore(t *testing.T) {
	repo, _ := newTestRepo()
	ctx := context.Background()
	p, err := repo.UpsertPatient(ctx, practitioner, Demographics{RUT: "11111111-1", FullName: "Luis Vera"})
	require.NoError(t, err)

	payload := Clinical{
		ConsultationReason: "Insomnio",
		Symptoms:           map[string]any{"sueno": "malo"},
		MTC:                map[string]any{"lengua": map[string]any{"color": "roja"}},
		Points:             []string{"HT7"},
	}
	s, err := repo.InsertSession(ctx, KindAcupuncture, SessionPayload{
		PatientID:      p.ID,
		PractitionerID: practitioner,
		Number:         1,
		Clinical:       payload,
	})
	require.NoError(t, err)

	s.Symptoms["sueno"] = "bueno"
	s.MTC["lengua"].(map[string]any)["color"] = "palida"
	s.Points[0] = "SP6"
	payload.Points[0] = "LI4"

	stored, err := repo.GetSession(ctx, practitioner, KindAcupuncture, s.ID)
	require.NoError(t, err)
	assert.Equal(t, "malo", stored.Symptoms["sueno"])
	assert.Equal(t, "roja", stored.MTC["lengua"].(map[string]any)["color"])
	assert.Equal(t, []string{"HT7"}, stored.Points)

	stored.Points = append(stored.Points, "KI3")
	again, err := repo.GetSession(ctx, practitioner, KindAcupuncture, s.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"HT7"}, again.Points)
}
