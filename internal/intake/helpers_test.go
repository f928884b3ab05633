package intake

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/fichaclinica/intake-api/internal/audit"
	"github.com/fichaclinica/intake-api/internal/drafts"
	"github.com/fichaclinica/intake-api/internal/observability/metrics"
	"github.com/fichaclinica/intake-api/internal/records"
	"github.com/fichaclinica/intake-api/pkg/logging"
)

const (
	testPractitioner = "ter-1"
	rutAna           = "12.345.678-5"
	rutBeto          = "11.111.111-1"
)

var errBoom = errors.New("connection reset")

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type recordingAuditor struct {
	mu     sync.Mutex
	events []audit.Event
	det    []audit.Details
}

func (a *recordingAuditor) RecordDetails(ctx context.Context, event audit.Event, details audit.Details) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, event)
	a.det = append(a.det, details)
	return nil
}

func (a *recordingAuditor) types() []audit.EventType {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]audit.EventType, 0, len(a.events))
	for _, e := range a.events {
		out = append(out, e.Type)
	}
	return out
}

// flakyRepo fails selected operations until the error is cleared.
type flakyRepo struct {
	records.Repository
	mu   sync.Mutex
	errs map[string]error
}

func newFlakyRepo(inner records.Repository) *flakyRepo {
	return &flakyRepo{Repository: inner, errs: map[string]error{}}
}

func (f *flakyRepo) fail(op string, err error) {
	f.mu.Lock()
	f.errs[op] = err
	f.mu.Unlock()
}

func (f *flakyRepo) err(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.errs[op]
}

func (f *flakyRepo) UpsertPatient(ctx context.Context, practitionerID string, d records.Demographics) (*records.Patient, error) {
	if err := f.err("upsert"); err != nil {
		return nil, err
	}
	return f.Repository.UpsertPatient(ctx, practitionerID, d)
}

func (f *flakyRepo) InsertSession(ctx context.Context, kind records.SessionKind, p records.SessionPayload) (*records.Session, error) {
	if err := f.err("insert"); err != nil {
		return nil, err
	}
	return f.Repository.InsertSession(ctx, kind, p)
}

func (f *flakyRepo) UpdateSession(ctx context.Context, kind records.SessionKind, id string, p records.SessionPayload) (*records.Session, error) {
	if err := f.err("update"); err != nil {
		return nil, err
	}
	return f.Repository.UpdateSession(ctx, kind, id, p)
}

// blockingRepo holds UpdateSession until release is closed.
type blockingRepo struct {
	records.Repository
	entered chan struct{}
	release chan struct{}
}

func (b *blockingRepo) UpdateSession(ctx context.Context, kind records.SessionKind, id string, p records.SessionPayload) (*records.Session, error) {
	close(b.entered)
	<-b.release
	return b.Repository.UpdateSession(ctx, kind, id, p)
}

// stallingDrafts holds the first Save until release is closed.
type stallingDrafts struct {
	drafts.Store
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (s *stallingDrafts) Save(ctx context.Context, slot string, d drafts.Draft) error {
	first := false
	s.once.Do(func() { first = true })
	if first {
		close(s.entered)
		<-s.release
	}
	return s.Store.Save(ctx, slot, d)
}

type brokenDrafts struct{}

func (brokenDrafts) Save(context.Context, string, drafts.Draft) error { return errBoom }
func (brokenDrafts) Load(context.Context, string) (*drafts.Draft, error) {
	return nil, errBoom
}
func (brokenDrafts) Clear(context.Context, string) error          { return errBoom }
func (brokenDrafts) Exists(context.Context, string) (bool, error) { return false, errBoom }

type fixture struct {
	engine *Engine
	repo   *records.InMemoryRepository
	drafts *drafts.MemoryStore
	audit  *recordingAuditor
	clock  *fakeClock
}

func newFixture(t *testing.T, configure ...func(*Options)) *fixture {
	t.Helper()
	clock := newFakeClock()
	repo := records.NewInMemoryRepository().WithClock(clock.now)
	store := drafts.NewMemoryStore()
	auditor := &recordingAuditor{}
	opts := Options{
		Config:     DefaultConfig(),
		Repository: repo,
		Drafts:     store,
		Audit:      auditor,
		Metrics:    metrics.NewIntakeMetrics(prometheus.NewRegistry()),
		Logger:     logging.Discard(),
		Now:        clock.now,
	}
	for _, fn := range configure {
		fn(&opts)
	}
	engine := NewEngine(testPractitioner, opts)
	t.Cleanup(engine.Close)
	return &fixture{engine: engine, repo: repo, drafts: store, audit: auditor, clock: clock}
}

func stepOne(nationalID, professional string) Snapshot {
	return Snapshot{
		Inputs: map[string]string{
			"nombre-paciente":  "Ana Pérez",
			"rut":              nationalID,
			"fecha-nacimiento": "1990-05-20",
			"edad":             "35",
			"telefono-codigo":  "+569",
			"telefono-numero":  "12345678",
			"email":            "ana@example.cl",
			"ocupacion":        "Profesora",
			"direccion":        "Av. Siempre Viva 742",
			"fecha-ingreso":    "2026-03-10",
			"motivo-consulta":  "Dolor lumbar",
		},
		Radios: map[string]string{"profesional": professional},
	}
}

func acupunctureStep() Snapshot {
	return Snapshot{
		Inputs: map[string]string{"lengua-observaciones": "grietas"},
		Radios: map[string]string{
			"lengua-color":      "palida",
			"pulso-profundidad": "profundo",
		},
	}
}

func kinesicStep() Snapshot {
	return Snapshot{
		Radios:     map[string]string{"kine-postura": "escoliosis"},
		Checkboxes: map[string][]string{"kine-pruebas": {"lasegue"}},
	}
}

func symptomsStep() Snapshot {
	return Snapshot{Checkboxes: map[string][]string{"sintomas": {"insomnio", "fatiga"}}}
}

func painStep() Snapshot {
	return Snapshot{
		Inputs:     map[string]string{"dolor-intensidad": "7"},
		Checkboxes: map[string][]string{"dolor-ubicacion": {"lumbar"}},
	}
}

func finalStep(consent bool) Snapshot {
	return Snapshot{
		Inputs: map[string]string{
			"diagnostico":       "Estancamiento de Qi",
			"plan-tratamiento":  "Ejercicios de core",
			"puntos-acupuntura": "BL23, GV4 ,, KI3",
			"recomendaciones":   "Reposo relativo",
		},
		Checkboxes: map[string][]string{"tecnicas": {"moxibustion"}},
		Flags:      map[string]bool{"consentimiento": consent},
	}
}

// walkToFinal commits step 1 and fills the intermediate steps.
func (f *fixture) walkToFinal(t *testing.T, nationalID, professional string) Result {
	t.Helper()
	ctx := context.Background()
	res := f.engine.Advance(ctx, stepOne(nationalID, professional))
	if !res.OK() {
		t.Fatalf("step 1: %s %v", res.Outcome, res.Err)
	}
	second := acupunctureStep()
	if professional == ProfessionalKinesiologist {
		second = kinesicStep()
	}
	for i, snap := range []Snapshot{second, symptomsStep(), painStep()} {
		if res = f.engine.Advance(ctx, snap); !res.OK() {
			t.Fatalf("step %d: %s %v", i+2, res.Outcome, res.Err)
		}
	}
	return res
}
