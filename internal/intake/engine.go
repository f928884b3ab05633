// Package intake implements the multi-step clinical intake form: step
// sequencing, declarative collection and validation, the step-1 commit and
// final submission protocol, patient/session reconciliation and drafts.
package intake

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fichaclinica/intake-api/internal/audit"
	"github.com/fichaclinica/intake-api/internal/drafts"
	"github.com/fichaclinica/intake-api/internal/observability/metrics"
	"github.com/fichaclinica/intake-api/internal/records"
	"github.com/fichaclinica/intake-api/pkg/logging"
)

// Auditor records intake writes. Failures are logged and ignored.
type Auditor interface {
	RecordDetails(ctx context.Context, event audit.Event, details audit.Details) error
}

// Options wires an Engine to its collaborators. Repository is required.
type Options struct {
	Config     Config
	Schema     *Schema
	Repository records.Repository
	Drafts     drafts.Store
	Audit      Auditor
	Metrics    *metrics.IntakeMetrics
	Logger     *logging.Logger
	Now        func() time.Time
}

// Result is returned by every engine operation; operations never panic or
// return bare errors.
type Result struct {
	Outcome    Outcome          `json:"outcome"`
	Step       int              `json:"step"`
	TotalSteps int              `json:"total_steps"`
	StepName   string           `json:"step_name,omitempty"`
	Message    string           `json:"message,omitempty"`
	Errors     []FieldError     `json:"errors,omitempty"`
	Fields     map[string]any   `json:"fields,omitempty"`
	Summary    *Summary         `json:"summary,omitempty"`
	Patient    *records.Patient `json:"patient,omitempty"`
	Session    *records.Session `json:"session,omitempty"`
	HasDraft   bool             `json:"has_draft,omitempty"`
	DraftSaved bool             `json:"draft_saved,omitempty"`
	Err        error            `json:"-"`
}

// OK reports whether the operation succeeded.
func (r Result) OK() bool { return r.Outcome == OutcomeOK }

// View is a read-only copy of the engine state.
type View struct {
	FormState
	UIState
	TotalSteps int            `json:"total_steps"`
	StepName   string         `json:"step_name,omitempty"`
	Errors     []FieldError   `json:"errors,omitempty"`
	Fields     map[string]any `json:"fields,omitempty"`
}

type pendingInput struct {
	src  Source
	step int
}

// Engine owns one form session. All methods are safe for concurrent use;
// while a commit, submission or patient load is in flight every other
// operation returns OutcomeBusy without touching the state.
type Engine struct {
	mu sync.Mutex

	practitionerID string
	cfg            Config
	schema         *Schema
	repo           records.Repository
	draft          *drafts.Slot
	audit          Auditor
	metrics        *metrics.IntakeMetrics
	logger         *logging.Logger
	now            func() time.Time

	state       FormState
	ui          UIState
	fieldErrors []FieldError
	inFlight    string

	pending *pendingInput
	timer   *time.Timer
	closed  bool

	// saves counts draft writes started before a submission; the submission
	// waits for them before clearing the draft.
	saves sync.WaitGroup
}

// NewEngine creates the engine of one form for a practitioner.
func NewEngine(practitionerID string, opts Options) *Engine {
	if opts.Repository == nil {
		panic("intake: repository required")
	}
	if opts.Schema == nil {
		opts.Schema = DefaultSchema()
	}
	if opts.Drafts == nil {
		opts.Drafts = drafts.NewMemoryStore()
	}
	if opts.Logger == nil {
		opts.Logger = logging.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Engine{
		practitionerID: practitionerID,
		cfg:            opts.Config.normalized(),
		schema:         opts.Schema,
		repo:           opts.Repository,
		draft:          drafts.NewSlot(opts.Drafts, practitionerID),
		audit:          opts.Audit,
		metrics:        opts.Metrics,
		logger:         opts.Logger.With("practitioner_id", practitionerID),
		now:            opts.Now,
		state:          newFormState(),
	}
}

// PractitionerID is the practitioner the form belongs to.
func (e *Engine) PractitionerID() string { return e.practitionerID }

// Config returns the resolved configuration.
func (e *Engine) Config() Config { return e.cfg }

// Busy reports whether a gateway operation is in flight.
func (e *Engine) Busy() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.busyLocked()
}

func (e *Engine) busyLocked() bool {
	return e.state.IsSubmitting || e.inFlight != ""
}

// State returns a copy of the form state.
func (e *Engine) State() View {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := e.currentSchemaLocked()
	state := e.state
	state.FormData = e.state.FormData.Clone()
	return View{
		FormState:  state,
		UIState:    e.ui,
		TotalSteps: e.cfg.TotalSteps,
		StepName:   st.Name,
		Errors:     append([]FieldError(nil), e.fieldErrors...),
		Fields:     st.Restore(e.state.FormData),
	}
}

// Advance collects the current step and moves forward. Step 1 commits the
// patient and a minimal session; the final step submits the whole form.
func (e *Engine) Advance(ctx context.Context, src Source) Result {
	e.mu.Lock()
	if e.busyLocked() {
		defer e.mu.Unlock()
		return e.busyResultLocked()
	}

	step := e.state.CurrentStep
	st := e.currentSchemaLocked()
	collected := st.Collect(src)
	e.pending = nil

	if step == e.cfg.TotalSteps {
		return e.submit(ctx, st, collected)
	}

	if e.cfg.ValidateOnStepChange {
		if errs := st.Validate(collected); len(errs) > 0 {
			defer e.mu.Unlock()
			e.fieldErrors = errs
			e.metrics.ObserveTransition("next", string(OutcomeValidation))
			return e.resultLocked(OutcomeValidation, &ValidationError{Step: step, Fields: errs})
		}
	}
	e.fieldErrors = nil

	if step == 1 {
		return e.commitStepOne(ctx, collected)
	}

	defer e.mu.Unlock()
	e.state.FormData.Merge(collected)
	e.state.CurrentStep++
	e.metrics.ObserveTransition("next", string(OutcomeOK))
	return e.resultLocked(OutcomeOK, nil)
}

// Retreat collects the current step without validation and moves back. It is
// a no-op at step 1.
func (e *Engine) Retreat(src Source) Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.busyLocked() {
		return e.busyResultLocked()
	}
	if e.state.CurrentStep <= 1 {
		return e.resultLocked(OutcomeOK, nil)
	}
	e.state.FormData.Merge(e.currentSchemaLocked().Collect(src))
	e.pending = nil
	e.fieldErrors = nil
	e.state.CurrentStep--
	e.metrics.ObserveTransition("prev", string(OutcomeOK))
	return e.resultLocked(OutcomeOK, nil)
}

// JumpTo navigates directly without collecting or validating. Steps outside
// [1, TotalSteps] are ignored.
func (e *Engine) JumpTo(step int) Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.busyLocked() {
		return e.busyResultLocked()
	}
	if step < 1 || step > e.cfg.TotalSteps {
		return e.resultLocked(OutcomeOK, nil)
	}
	e.pending = nil
	e.fieldErrors = nil
	e.state.CurrentStep = step
	e.metrics.ObserveTransition("jump", string(OutcomeOK))
	return e.resultLocked(OutcomeOK, nil)
}

// Close stops the autosave timer. The engine must not be used afterwards.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	e.pending = nil
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
}

func (e *Engine) professionalLocked() string {
	return e.state.FormData.String(GroupVisit, KeyProfessional)
}

func (e *Engine) currentSchemaLocked() StepSchema {
	return e.schema.Resolve(e.state.CurrentStep, e.professionalLocked())
}

func (e *Engine) resultLocked(outcome Outcome, err error) Result {
	st := e.currentSchemaLocked()
	res := Result{
		Outcome:    outcome,
		Step:       e.state.CurrentStep,
		TotalSteps: e.cfg.TotalSteps,
		StepName:   st.Name,
		Fields:     st.Restore(e.state.FormData),
		Err:        err,
	}
	if outcome == OutcomeValidation {
		res.Errors = append([]FieldError(nil), e.fieldErrors...)
	}
	if err != nil {
		res.Message = userMessage(outcome, err)
	}
	if e.cfg.ShowSummaryBeforeSave && e.state.CurrentStep == e.cfg.TotalSteps {
		summary := BuildSummary(e.state.FormData)
		res.Summary = &summary
	}
	return res
}

func (e *Engine) busyResultLocked() Result {
	return e.resultLocked(OutcomeBusy, ErrBusy)
}

func userMessage(outcome Outcome, err error) string {
	switch outcome {
	case OutcomeValidation:
		return "Por favor, completa todos los campos requeridos"
	case OutcomeIdentityConflict:
		return "El RUT del formulario no coincide con el paciente de la sesión. Carga el paciente correcto o reinicia la ficha."
	case OutcomeBusy:
		return "Hay una operación en curso, espera a que termine"
	case OutcomePrecondition:
		var p *PreconditionError
		if errors.As(err, &p) {
			return p.Reason
		}
		return err.Error()
	case OutcomeNotFound:
		switch {
		case errors.Is(err, ErrDraftNotFound):
			return "No hay un borrador guardado"
		case errors.Is(err, records.ErrNotFound):
			return "Paciente no encontrado"
		}
		return "No encontrado"
	default:
		return "Error al guardar los datos. Por favor, intenta nuevamente."
	}
}

// gatewayContext detaches a gateway call from request cancellation: a started
// commit runs to completion or failure.
func (e *Engine) gatewayContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), e.cfg.GatewayTimeout)
}

// call runs one gateway operation, records its latency and turns failures,
// including panics, into a *GatewayError.
func (e *Engine) call(ctx context.Context, op string, fn func(ctx context.Context) error) (err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		e.metrics.ObserveGatewayCall(op, time.Since(start), err)
		if err != nil {
			err = &GatewayError{Op: op, Err: err}
		}
	}()
	return fn(ctx)
}

func (e *Engine) record(ctx context.Context, event audit.Event, details audit.Details) {
	if e.audit == nil {
		return
	}
	event.PractitionerID = e.practitionerID
	if err := e.audit.RecordDetails(ctx, event, details); err != nil {
		e.logger.Warn("audit record failed", "event_type", string(event.Type), "error", err)
	}
}
