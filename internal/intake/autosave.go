package intake

import (
	"context"
	"time"

	"github.com/fichaclinica/intake-api/internal/drafts"
)

const draftTimeout = 5 * time.Second

// Start reports whether a recoverable draft exists for the practitioner.
func (e *Engine) Start(ctx context.Context) Result {
	exists, err := e.draft.Exists(ctx)
	if err != nil {
		e.logger.Warn("draft lookup failed", "error", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	res := e.resultLocked(OutcomeOK, nil)
	res.HasDraft = exists
	return res
}

// RecoverDraft replaces FormData with the stored draft when accept is true and
// deletes the draft otherwise. The current step is left unchanged.
func (e *Engine) RecoverDraft(ctx context.Context, accept bool) Result {
	if e.Busy() {
		e.mu.Lock()
		defer e.mu.Unlock()
		return e.busyResultLocked()
	}

	if !accept {
		if err := e.draft.Clear(ctx); err != nil {
			e.logger.Warn("draft clear failed", "error", err)
		}
		e.mu.Lock()
		defer e.mu.Unlock()
		return e.resultLocked(OutcomeOK, nil)
	}

	d, err := e.draft.Load(ctx)
	if err != nil {
		e.logger.Warn("draft load failed", "error", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.busyLocked() {
		return e.busyResultLocked()
	}
	if d == nil {
		return e.resultLocked(OutcomeNotFound, ErrDraftNotFound)
	}
	data := FormData(d.Data)
	if data == nil {
		data = FormData{}
	}
	e.state.FormData = data
	e.pending = nil
	e.logger.Info("draft recovered", "saved_at", d.Timestamp, "version", d.Version)
	return e.resultLocked(OutcomeOK, nil)
}

// Input records a change on the current step. With autosave enabled the
// latest input is saved to the draft store once no further input arrives for
// AutoSaveInterval.
func (e *Engine) Input(src Source) Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.busyLocked() {
		return e.busyResultLocked()
	}
	if !e.cfg.AutoSaveEnabled || e.closed {
		return e.resultLocked(OutcomeOK, nil)
	}
	e.pending = &pendingInput{src: src, step: e.state.CurrentStep}
	if e.timer != nil {
		e.timer.Stop()
	}
	e.timer = time.AfterFunc(e.cfg.AutoSaveInterval, e.flushAutosave)
	return e.resultLocked(OutcomeOK, nil)
}

// SaveDraft collects the current step and writes the whole FormData to the
// draft store immediately.
func (e *Engine) SaveDraft(ctx context.Context, src Source) Result {
	e.mu.Lock()
	if e.busyLocked() {
		defer e.mu.Unlock()
		return e.busyResultLocked()
	}
	e.state.FormData.Merge(e.currentSchemaLocked().Collect(src))
	e.pending = nil
	d := e.draftLocked()
	e.saves.Add(1)
	e.mu.Unlock()

	err := e.draft.Save(ctx, d)
	e.saves.Done()
	e.metrics.ObserveDraftSave("manual", err)
	if err != nil {
		e.logger.Warn("draft save failed", "trigger", "manual", "error", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	res := e.resultLocked(OutcomeOK, nil)
	res.DraftSaved = err == nil
	return res
}

// flushAutosave runs on the debounce timer. Input collected for a step the
// user already left is dropped.
func (e *Engine) flushAutosave() {
	e.mu.Lock()
	p := e.pending
	e.pending = nil
	e.timer = nil
	if e.closed || p == nil || e.busyLocked() {
		e.mu.Unlock()
		return
	}
	if p.step == e.state.CurrentStep {
		e.state.FormData.Merge(e.currentSchemaLocked().Collect(p.src))
	}
	d := e.draftLocked()
	e.saves.Add(1)
	e.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), draftTimeout)
	defer cancel()
	err := e.draft.Save(ctx, d)
	e.saves.Done()
	e.metrics.ObserveDraftSave("auto", err)
	if err != nil {
		e.logger.Warn("draft save failed", "trigger", "auto", "error", err)
		return
	}
	e.logger.Debug("draft autosaved", "step", p.step)
}

func (e *Engine) draftLocked() drafts.Draft {
	return drafts.Draft{
		Data:      e.state.FormData.Clone(),
		Timestamp: e.now().UTC(),
		Version:   e.cfg.Version,
	}
}
