package records

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fichaclinica/intake-api/internal/rut"
)

// DefaultSearchLimit caps autocomplete suggestions.
const DefaultSearchLimit = 5

// Repository is the persistence gateway consumed by the intake engine and the
// patient lookup endpoints.
type Repository interface {
	FindPatientByRUT(ctx context.Context, practitionerID, nationalID string) (*Patient, error)
	GetPatient(ctx context.Context, practitionerID, patientID string) (*Patient, error)
	UpsertPatient(ctx context.Context, practitionerID string, d Demographics) (*Patient, error)
	NextSessionNumber(ctx context.Context, patientID string, kind SessionKind) (int, error)
	InsertSession(ctx context.Context, kind SessionKind, p SessionPayload) (*Session, error)
	UpdateSession(ctx context.Context, kind SessionKind, sessionID string, p SessionPayload) (*Session, error)
	SessionOwnerRUT(ctx context.Context, practitionerID string, kind SessionKind, sessionID string) (string, error)
	FindOpenSession(ctx context.Context, kind SessionKind, practitionerID, patientID string, day time.Time) (*Session, error)
	SearchPatients(ctx context.Context, practitionerID, query string, limit int) ([]*Patient, error)
	PatientHistory(ctx context.Context, practitionerID, nationalID string) ([]HistoryEntry, error)
	GetSession(ctx context.Context, practitionerID string, kind SessionKind, sessionID string) (*Session, error)
	DeletePatient(ctx context.Context, practitionerID, nationalID string) error
}

// InMemoryRepository is a Repository kept in process memory, used for local
// development and tests.
type InMemoryRepository struct {
	mu       sync.RWMutex
	patients map[string]*Patient
	sessions map[string]*Session
	now      func() time.Time
}

// NewInMemoryRepository creates an empty in-memory repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		patients: make(map[string]*Patient),
		sessions: make(map[string]*Session),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the time source used for timestamps.
func (r *InMemoryRepository) WithClock(now func() time.Time) *InMemoryRepository {
	r.now = now
	return r
}

func (r *InMemoryRepository) FindPatientByRUT(ctx context.Context, practitionerID, nationalID string) (*Patient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p := r.findPatientLocked(practitionerID, nationalID)
	if p == nil {
		return nil, ErrNotFound
	}
	return p.clone(), nil
}

func (r *InMemoryRepository) GetPatient(ctx context.Context, practitionerID, patientID string) (*Patient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.patients[patientID]
	if !ok || p.PractitionerID != practitionerID {
		return nil, ErrNotFound
	}
	return p.clone(), nil
}

func (r *InMemoryRepository) findPatientLocked(practitionerID, nationalID string) *Patient {
	key := rut.Normalize(nationalID)
	if key == "" {
		return nil
	}
	for _, p := range r.patients {
		if p.PractitionerID == practitionerID && rut.Normalize(p.RUT) == key {
			return p
		}
	}
	return nil
}

func (r *InMemoryRepository) UpsertPatient(ctx context.Context, practitionerID string, d Demographics) (*Patient, error) {
	if strings.TrimSpace(practitionerID) == "" {
		return nil, ErrMissingPractitioner
	}
	if rut.Normalize(d.RUT) == "" {
		return nil, ErrMissingRUT
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	p := r.findPatientLocked(practitionerID, d.RUT)
	if p == nil {
		p = &Patient{
			ID:             uuid.New().String(),
			PractitionerID: practitionerID,
			CreatedAt:      now,
		}
		r.patients[p.ID] = p
	}
	p.RUT = d.RUT
	p.FullName = d.FullName
	p.BirthDate = d.BirthDate
	p.Phone = d.Phone
	p.Email = d.Email
	p.Occupation = d.Occupation
	p.Address = d.Address
	p.UpdatedAt = now

	return p.clone(), nil
}

func (r *InMemoryRepository) NextSessionNumber(ctx context.Context, patientID string, kind SessionKind) (int, error) {
	if !kind.Valid() {
		return 0, ErrUnknownKind
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	max := 0
	for _, s := range r.sessions {
		if s.PatientID == patientID && s.Kind == kind && s.Number > max {
			max = s.Number
		}
	}
	return max + 1, nil
}

func (r *InMemoryRepository) InsertSession(ctx context.Context, kind SessionKind, p SessionPayload) (*Session, error) {
	if !kind.Valid() {
		return nil, ErrUnknownKind
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.patients[p.PatientID]; !ok {
		return nil, ErrNotFound
	}
	now := r.now()
	status := p.Status
	if status == "" {
		status = StatusInProgress
	}
	s := &Session{
		ID:             uuid.New().String(),
		Kind:           kind,
		PatientID:      p.PatientID,
		PractitionerID: p.PractitionerID,
		Number:         p.Number,
		Date:           now,
		Status:         status,
		Clinical:       p.Clinical.Clone(),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	r.sessions[s.ID] = s
	return s.clone(), nil
}

func (r *InMemoryRepository) UpdateSession(ctx context.Context, kind SessionKind, sessionID string, p SessionPayload) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok || s.Kind != kind {
		return nil, ErrNotFound
	}
	if p.PractitionerID != "" && s.PractitionerID != p.PractitionerID {
		return nil, ErrNotFound
	}
	s.Clinical = p.Clinical.Clone()
	if p.Status != "" {
		s.Status = p.Status
	}
	s.UpdatedAt = r.now()
	return s.clone(), nil
}

func (r *InMemoryRepository) SessionOwnerRUT(ctx context.Context, practitionerID string, kind SessionKind, sessionID string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[sessionID]
	if !ok || s.Kind != kind || s.PractitionerID != practitionerID {
		return "", ErrNotFound
	}
	p, ok := r.patients[s.PatientID]
	if !ok {
		return "", ErrNotFound
	}
	return p.RUT, nil
}

func (r *InMemoryRepository) FindOpenSession(ctx context.Context, kind SessionKind, practitionerID, patientID string, day time.Time) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	y, m, d := day.Date()
	var found *Session
	for _, s := range r.sessions {
		if s.Kind != kind || s.PatientID != patientID || s.PractitionerID != practitionerID || s.Status != StatusInProgress {
			continue
		}
		sy, sm, sd := s.Date.In(day.Location()).Date()
		if sy != y || sm != m || sd != d {
			continue
		}
		if found == nil || s.Number > found.Number {
			found = s
		}
	}
	if found == nil {
		return nil, ErrNotFound
	}
	return found.clone(), nil
}

func (r *InMemoryRepository) SearchPatients(ctx context.Context, practitionerID, query string, limit int) ([]*Patient, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []*Patient{}, nil
	}
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	byRUT := looksLikeRUT(query)
	needle := rut.Normalize(query)
	if !byRUT {
		needle = FoldName(query)
	}

	r.mu.RLock()
	var matches []*Patient
	for _, p := range r.patients {
		if p.PractitionerID != practitionerID {
			continue
		}
		if byRUT && strings.HasPrefix(rut.Normalize(p.RUT), needle) ||
			!byRUT && strings.Contains(FoldName(p.FullName), needle) {
			matches = append(matches, p.clone())
		}
	}
	r.mu.RUnlock()

	sort.Slice(matches, func(i, j int) bool { return matches[i].CreatedAt.After(matches[j].CreatedAt) })
	if len(matches) > limit {
		matches = matches[:limit]
	}
	if matches == nil {
		matches = []*Patient{}
	}
	return matches, nil
}

func (r *InMemoryRepository) PatientHistory(ctx context.Context, practitionerID, nationalID string) ([]HistoryEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p := r.findPatientLocked(practitionerID, nationalID)
	if p == nil {
		return []HistoryEntry{}, nil
	}
	history := []HistoryEntry{}
	for _, s := range r.sessions {
		if s.PatientID != p.ID {
			continue
		}
		history = append(history, historyEntry(s))
	}
	sort.Slice(history, func(i, j int) bool { return history[i].Date.After(history[j].Date) })
	return history, nil
}

func (r *InMemoryRepository) GetSession(ctx context.Context, practitionerID string, kind SessionKind, sessionID string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[sessionID]
	if !ok || s.Kind != kind || s.PractitionerID != practitionerID {
		return nil, ErrNotFound
	}
	return s.clone(), nil
}

func (r *InMemoryRepository) DeletePatient(ctx context.Context, practitionerID, nationalID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := r.findPatientLocked(practitionerID, nationalID)
	if p == nil {
		return ErrNotFound
	}
	for id, s := range r.sessions {
		if s.PatientID == p.ID {
			delete(r.sessions, id)
		}
	}
	delete(r.patients, p.ID)
	return nil
}

func historyEntry(s *Session) HistoryEntry {
	return HistoryEntry{
		SessionID:          s.ID,
		Kind:               s.Kind,
		KindLabel:          s.Kind.Label(),
		Number:             s.Number,
		Date:               s.Date,
		ConsultationReason: s.ConsultationReason,
		Status:             s.Status,
	}
}

// looksLikeRUT reports whether a search query should be matched against
// national IDs rather than names.
func looksLikeRUT(query string) bool {
	body := rut.Clean(query)
	if body == "" {
		return false
	}
	for i, r := range body {
		if r >= '0' && r <= '9' {
			continue
		}
		if (r == 'k' || r == 'K') && i == len(body)-1 && i > 0 {
			continue
		}
		return false
	}
	return true
}
