package intake

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/fichaclinica/intake-api/internal/audit"
	"github.com/fichaclinica/intake-api/internal/practitioner"
	"github.com/fichaclinica/intake-api/internal/records"
	"github.com/fichaclinica/intake-api/internal/rut"
	"github.com/fichaclinica/intake-api/pkg/logging"
)

// busyRetryAfter is the Retry-After hint, in seconds, sent with busy responses.
const busyRetryAfter = "1"

// Handler exposes the form engines and the patient lookups over HTTP.
type Handler struct {
	forms  *Registry
	repo   records.Repository
	audit  Auditor
	logger *logging.Logger
}

// NewHandler creates the intake HTTP handler.
func NewHandler(forms *Registry, repo records.Repository, auditor Auditor, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{forms: forms, repo: repo, audit: auditor, logger: logger}
}

// Routes mounts the form and patient endpoints. The caller is expected to
// put practitioner authentication in front of it.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/forms", func(r chi.Router) {
		r.Post("/", h.CreateForm)
		r.Route("/{formID}", func(r chi.Router) {
			r.Get("/", h.GetForm)
			r.Delete("/", h.DeleteForm)
			r.Post("/next", h.Next)
			r.Post("/prev", h.Prev)
			r.Post("/steps/{step}", h.Jump)
			r.Post("/input", h.Input)
			r.Post("/draft", h.SaveDraft)
			r.Post("/draft/recover", h.RecoverDraft)
			r.Post("/patient", h.LoadPatient)
			r.Get("/summary", h.Summary)
		})
	})
	r.Get("/patients/search", h.SearchPatients)
	r.Get("/patients/{rut}/history", h.PatientHistory)
	r.Delete("/patients/{rut}", h.DeletePatient)
	r.Get("/sessions/{kind}/{sessionID}", h.GetSession)
	r.Get("/rut/check", h.CheckRUT)
}

// CreateForm registers a new form.
// POST /api/forms
func (h *Handler) CreateForm(w http.ResponseWriter, r *http.Request) {
	practitionerID, ok := h.practitioner(w, r)
	if !ok {
		return
	}
	id, _, res := h.forms.Create(r.Context(), practitionerID)
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":        id,
		"has_draft": res.HasDraft,
		"form":      res,
	})
}

// GetForm returns the form state.
// GET /api/forms/{formID}
func (h *Handler) GetForm(w http.ResponseWriter, r *http.Request) {
	engine, ok := h.engine(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, engine.State())
}

// DeleteForm discards a form; its draft is kept for recovery.
// DELETE /api/forms/{formID}
func (h *Handler) DeleteForm(w http.ResponseWriter, r *http.Request) {
	practitionerID, ok := h.practitioner(w, r)
	if !ok {
		return
	}
	if err := h.forms.Remove(chi.URLParam(r, "formID"), practitionerID); err != nil {
		writeError(w, http.StatusNotFound, "form not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Next advances the form.
// POST /api/forms/{formID}/next
func (h *Handler) Next(w http.ResponseWriter, r *http.Request) {
	engine, ok := h.engine(w, r)
	if !ok {
		return
	}
	snap, ok := decodeSnapshot(w, r)
	if !ok {
		return
	}
	h.writeResult(w, engine.Advance(r.Context(), snap))
}

// Prev moves the form back one step.
// POST /api/forms/{formID}/prev
func (h *Handler) Prev(w http.ResponseWriter, r *http.Request) {
	engine, ok := h.engine(w, r)
	if !ok {
		return
	}
	snap, ok := decodeSnapshot(w, r)
	if !ok {
		return
	}
	h.writeResult(w, engine.Retreat(snap))
}

// Jump navigates directly to a step.
// POST /api/forms/{formID}/steps/{step}
func (h *Handler) Jump(w http.ResponseWriter, r *http.Request) {
	engine, ok := h.engine(w, r)
	if !ok {
		return
	}
	step, err := strconv.Atoi(chi.URLParam(r, "step"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid step")
		return
	}
	h.writeResult(w, engine.JumpTo(step))
}

// Input schedules an autosave of the current step.
// POST /api/forms/{formID}/input
func (h *Handler) Input(w http.ResponseWriter, r *http.Request) {
	engine, ok := h.engine(w, r)
	if !ok {
		return
	}
	snap, ok := decodeSnapshot(w, r)
	if !ok {
		return
	}
	h.writeResult(w, engine.Input(snap))
}

// SaveDraft saves the form to the draft store now.
// POST /api/forms/{formID}/draft
func (h *Handler) SaveDraft(w http.ResponseWriter, r *http.Request) {
	engine, ok := h.engine(w, r)
	if !ok {
		return
	}
	snap, ok := decodeSnapshot(w, r)
	if !ok {
		return
	}
	h.writeResult(w, engine.SaveDraft(r.Context(), snap))
}

// RecoverDraft accepts or declines the stored draft.
// POST /api/forms/{formID}/draft/recover
func (h *Handler) RecoverDraft(w http.ResponseWriter, r *http.Request) {
	engine, ok := h.engine(w, r)
	if !ok {
		return
	}
	var payload struct {
		Accept bool `json:"accept"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	h.writeResult(w, engine.RecoverDraft(r.Context(), payload.Accept))
}

// LoadPatient prefills step 1 with a returning patient.
// POST /api/forms/{formID}/patient
func (h *Handler) LoadPatient(w http.ResponseWriter, r *http.Request) {
	engine, ok := h.engine(w, r)
	if !ok {
		return
	}
	var payload struct {
		RUT string `json:"rut"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	h.writeResult(w, engine.LoadPatient(r.Context(), payload.RUT))
}

// Summary returns the review of the accumulated data.
// GET /api/forms/{formID}/summary
func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	engine, ok := h.engine(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, engine.Summary())
}

// SearchPatients powers the RUT / name autocomplete.
// GET /api/patients/search?q=
func (h *Handler) SearchPatients(w http.ResponseWriter, r *http.Request) {
	practitionerID, ok := h.practitioner(w, r)
	if !ok {
		return
	}
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	limit := records.DefaultSearchLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 50 {
			limit = n
		}
	}
	patients, err := h.repo.SearchPatients(r.Context(), practitionerID, q, limit)
	if err != nil {
		h.logger.Error("patient search failed", "practitioner_id", practitionerID, "error", err)
		writeError(w, http.StatusBadGateway, "search failed")
		return
	}
	if patients == nil {
		patients = []*records.Patient{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"patients": patients})
}

// PatientHistory lists every visit of a patient, newest first.
// GET /api/patients/{rut}/history
func (h *Handler) PatientHistory(w http.ResponseWriter, r *http.Request) {
	practitionerID, ok := h.practitioner(w, r)
	if !ok {
		return
	}
	nationalID := chi.URLParam(r, "rut")
	entries, err := h.repo.PatientHistory(r.Context(), practitionerID, nationalID)
	if err != nil {
		h.logger.Error("patient history failed", "practitioner_id", practitionerID, "error", err)
		writeError(w, http.StatusBadGateway, "history failed")
		return
	}
	if entries == nil {
		entries = []records.HistoryEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"rut":      rut.Format(nationalID),
		"sessions": entries,
	})
}

// DeletePatient removes a patient and every session.
// DELETE /api/patients/{rut}
func (h *Handler) DeletePatient(w http.ResponseWriter, r *http.Request) {
	practitionerID, ok := h.practitioner(w, r)
	if !ok {
		return
	}
	nationalID := chi.URLParam(r, "rut")
	patient, err := h.repo.FindPatientByRUT(r.Context(), practitionerID, nationalID)
	if err == nil {
		err = h.repo.DeletePatient(r.Context(), practitionerID, nationalID)
	}
	if errors.Is(err, records.ErrNotFound) {
		writeError(w, http.StatusNotFound, "patient not found")
		return
	}
	if err != nil {
		h.logger.Error("patient delete failed", "practitioner_id", practitionerID, "error", err)
		writeError(w, http.StatusBadGateway, "delete failed")
		return
	}
	if h.audit != nil {
		event := audit.Event{
			Type:           audit.EventPatientDeleted,
			PractitionerID: practitionerID,
			PatientID:      patient.ID,
		}
		if err := h.audit.RecordDetails(r.Context(), event, audit.Details{}); err != nil {
			h.logger.Warn("audit record failed", "event_type", string(event.Type), "error", err)
		}
	}
	h.logger.Info("patient deleted", "practitioner_id", practitionerID, "patient_id", patient.ID)
	w.WriteHeader(http.StatusNoContent)
}

// GetSession returns the detail of one visit.
// GET /api/sessions/{kind}/{sessionID}
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	practitionerID, ok := h.practitioner(w, r)
	if !ok {
		return
	}
	kind, err := records.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid session kind")
		return
	}
	session, err := h.repo.GetSession(r.Context(), practitionerID, kind, chi.URLParam(r, "sessionID"))
	if errors.Is(err, records.ErrNotFound) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		h.logger.Error("session lookup failed", "practitioner_id", practitionerID, "error", err)
		writeError(w, http.StatusBadGateway, "lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, session)
}

// CheckRUT validates a national ID and returns its canonical format.
// GET /api/rut/check?rut=
func (h *Handler) CheckRUT(w http.ResponseWriter, r *http.Request) {
	value := r.URL.Query().Get("rut")
	valid := rut.Valid(value)
	resp := map[string]any{"valid": valid}
	if valid {
		resp["formatted"] = rut.Format(value)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) practitioner(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, ok := practitioner.IDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing practitioner")
		return "", false
	}
	return id, true
}

func (h *Handler) engine(w http.ResponseWriter, r *http.Request) (*Engine, bool) {
	practitionerID, ok := h.practitioner(w, r)
	if !ok {
		return nil, false
	}
	engine, err := h.forms.Get(chi.URLParam(r, "formID"), practitionerID)
	if err != nil {
		writeError(w, http.StatusNotFound, "form not found")
		return nil, false
	}
	return engine, true
}

func (h *Handler) writeResult(w http.ResponseWriter, res Result) {
	status := StatusFor(res.Outcome)
	if res.Outcome == OutcomeBusy {
		w.Header().Set("Retry-After", busyRetryAfter)
	}
	if res.Outcome == OutcomeGateway {
		h.logger.Error("intake gateway failure", "step", res.Step, "error", res.Err)
	}
	writeJSON(w, status, res)
}

// StatusFor maps an Outcome onto an HTTP status.
func StatusFor(outcome Outcome) int {
	switch outcome {
	case OutcomeOK:
		return http.StatusOK
	case OutcomeValidation:
		return http.StatusUnprocessableEntity
	case OutcomeIdentityConflict, OutcomeBusy:
		return http.StatusConflict
	case OutcomePrecondition:
		return http.StatusPreconditionFailed
	case OutcomeNotFound:
		return http.StatusNotFound
	default:
		return http.StatusBadGateway
	}
}

func decodeSnapshot(w http.ResponseWriter, r *http.Request) (Snapshot, bool) {
	var snap Snapshot
	if r.Body == nil || r.ContentLength == 0 {
		return snap, true
	}
	if err := json.NewDecoder(r.Body).Decode(&snap); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return snap, false
	}
	return snap, true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
