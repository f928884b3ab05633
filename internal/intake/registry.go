package intake

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fichaclinica/intake-api/pkg/logging"
)

// DefaultIdleTTL is how long an untouched form stays registered.
const DefaultIdleTTL = 2 * time.Hour

type registeredForm struct {
	engine   *Engine
	lastUsed time.Time
}

// Registry holds the live form engines. A form is only visible to the
// practitioner that created it.
type Registry struct {
	mu      sync.Mutex
	forms   map[string]*registeredForm
	opts    Options
	idleTTL time.Duration
	logger  *logging.Logger
	now     func() time.Time
}

// NewRegistry creates a registry whose engines are built from opts.
func NewRegistry(opts Options, idleTTL time.Duration) *Registry {
	if idleTTL <= 0 {
		idleTTL = DefaultIdleTTL
	}
	if opts.Logger == nil {
		opts.Logger = logging.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Registry{
		forms:   make(map[string]*registeredForm),
		opts:    opts,
		idleTTL: idleTTL,
		logger:  opts.Logger,
		now:     now,
	}
}

// Create registers a new form for the practitioner and reports whether a
// draft is waiting to be recovered.
func (r *Registry) Create(ctx context.Context, practitionerID string) (string, *Engine, Result) {
	engine := NewEngine(practitionerID, r.opts)
	id := uuid.New().String()

	r.mu.Lock()
	r.forms[id] = &registeredForm{engine: engine, lastUsed: r.now()}
	n := len(r.forms)
	r.mu.Unlock()

	r.opts.Metrics.SetActiveForms(n)
	r.logger.Info("form created", "form_id", id, "practitioner_id", practitionerID)
	return id, engine, engine.Start(ctx)
}

// Get returns the form if it exists and belongs to the practitioner.
func (r *Registry) Get(formID, practitionerID string) (*Engine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.forms[formID]
	if !ok || f.engine.PractitionerID() != practitionerID {
		return nil, ErrFormNotFound
	}
	f.lastUsed = r.now()
	return f.engine, nil
}

// Remove discards a form. The stored draft is kept.
func (r *Registry) Remove(formID, practitionerID string) error {
	r.mu.Lock()
	f, ok := r.forms[formID]
	if !ok || f.engine.PractitionerID() != practitionerID {
		r.mu.Unlock()
		return ErrFormNotFound
	}
	delete(r.forms, formID)
	n := len(r.forms)
	r.mu.Unlock()

	f.engine.Close()
	r.opts.Metrics.SetActiveForms(n)
	return nil
}

// Len is the number of registered forms.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.forms)
}

// Sweep evicts forms idle for longer than the TTL. Forms with a write in
// flight are kept until the write completes.
func (r *Registry) Sweep() int {
	cutoff := r.now().Add(-r.idleTTL)

	r.mu.Lock()
	var evicted []*Engine
	for id, f := range r.forms {
		if f.lastUsed.After(cutoff) || f.engine.Busy() {
			continue
		}
		delete(r.forms, id)
		evicted = append(evicted, f.engine)
	}
	n := len(r.forms)
	r.mu.Unlock()

	for _, e := range evicted {
		e.Close()
	}
	if len(evicted) > 0 {
		r.opts.Metrics.SetActiveForms(n)
		r.logger.Info("idle forms evicted", "count", len(evicted), "remaining", n)
	}
	return len(evicted)
}

// Close closes every registered form. Stored drafts are kept.
func (r *Registry) Close() {
	r.mu.Lock()
	forms := r.forms
	r.forms = make(map[string]*registeredForm)
	r.mu.Unlock()

	for _, f := range forms {
		f.engine.Close()
	}
	r.opts.Metrics.SetActiveForms(0)
}

// Run sweeps idle forms every interval. Blocks until ctx is cancelled.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = r.idleTTL / 4
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("form registry sweeper shutting down")
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}
