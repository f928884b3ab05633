// Package audit keeps an append-only trail of intake writes and identity
// conflicts.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// EventType names an audited action.
type EventType string

const (
	// EventPatientUpserted is logged when step 1 creates or updates a patient.
	EventPatientUpserted EventType = "intake.patient_upserted"
	// EventSessionOpened is logged when step 1 inserts or reuses a minimal session.
	EventSessionOpened EventType = "intake.session_opened"
	// EventSessionSubmitted is logged when the final step writes the full session.
	EventSessionSubmitted EventType = "intake.session_submitted"
	// EventIdentityConflict is logged when reconciliation blocks an update.
	EventIdentityConflict EventType = "intake.identity_conflict"
	// EventPatientDeleted is logged when a patient and their sessions are removed.
	EventPatientDeleted EventType = "patient.deleted"
)

// Event is an immutable audit record.
type Event struct {
	ID             string          `json:"id"`
	Type           EventType       `json:"event_type"`
	PractitionerID string          `json:"practitioner_id"`
	PatientID      string          `json:"patient_id,omitempty"`
	SessionID      string          `json:"session_id,omitempty"`
	SessionKind    string          `json:"session_kind,omitempty"`
	Fields         []string        `json:"fields,omitempty"`
	Details        json.RawMessage `json:"details,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Details holds event specific data.
type Details struct {
	Mode       string `json:"mode,omitempty"`
	Number     int    `json:"numero_sesion,omitempty"`
	SessionRUT string `json:"session_rut,omitempty"`
	FormRUT    string `json:"form_rut,omitempty"`
}

// Store writes audit events to PostgreSQL through database/sql.
type Store struct {
	db *sql.DB
}

// NewStore creates a new audit store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Record stores an audit event.
func (s *Store) Record(ctx context.Context, event Event) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	if len(event.Details) == 0 {
		event.Details = json.RawMessage(`{}`)
	}

	query := `
		INSERT INTO audit_events (
			id, event_type, practitioner_id, patient_id, session_id,
			session_kind, fields, details, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := s.db.ExecContext(ctx, query,
		event.ID,
		string(event.Type),
		event.PractitionerID,
		nullString(event.PatientID),
		nullString(event.SessionID),
		nullString(event.SessionKind),
		pq.Array(event.Fields),
		[]byte(event.Details),
		event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("audit: failed to record event: %w", err)
	}
	return nil
}

// RecordDetails marshals details into the event before recording it.
func (s *Store) RecordDetails(ctx context.Context, event Event, details Details) error {
	raw, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("audit: marshal details: %w", err)
	}
	event.Details = raw
	return s.Record(ctx, event)
}

// Filter specifies criteria for querying audit events.
type Filter struct {
	PractitionerID string
	PatientID      string
	Type           EventType
	Since          time.Time
	Limit          int
}

// Query returns matching events, newest first.
func (s *Store) Query(ctx context.Context, filter Filter) ([]Event, error) {
	query := `
		SELECT id, event_type, practitioner_id, patient_id, session_id,
			   session_kind, fields, details, created_at
		FROM audit_events
		WHERE practitioner_id = $1
	`
	args := []interface{}{filter.PractitionerID}
	argIdx := 2

	if filter.PatientID != "" {
		query += fmt.Sprintf(" AND patient_id = $%d", argIdx)
		args = append(args, filter.PatientID)
		argIdx++
	}
	if filter.Type != "" {
		query += fmt.Sprintf(" AND event_type = $%d", argIdx)
		args = append(args, string(filter.Type))
		argIdx++
	}
	if !filter.Since.IsZero() {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, filter.Since)
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: failed to query events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var eventType string
		var patientID, sessionID, kind sql.NullString
		var details []byte
		if err := rows.Scan(
			&e.ID, &eventType, &e.PractitionerID, &patientID, &sessionID,
			&kind, pq.Array(&e.Fields), &details, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("audit: failed to scan event: %w", err)
		}
		e.Type = EventType(eventType)
		e.PatientID = patientID.String
		e.SessionID = sessionID.String
		e.SessionKind = kind.String
		e.Details = details
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit: failed to read events: %w", err)
	}
	return events, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
