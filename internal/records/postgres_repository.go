package records

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/fichaclinica/intake-api/internal/rut"
)

// querier is the subset of pgxpool.Pool used by the repository; pgxmock
// satisfies it in tests.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresRepository stores patients and sessions in PostgreSQL.
type PostgresRepository struct {
	db     querier
	tracer trace.Tracer
}

// NewPostgresRepository initializes a repo backed by a pgx pool.
func NewPostgresRepository(db querier) *PostgresRepository {
	if db == nil {
		panic("records: pgx pool required")
	}
	return &PostgresRepository{
		db:     db,
		tracer: otel.Tracer("fichaclinica.internal.records"),
	}
}

const patientColumns = `id, terapeuta_id, rut, nombre_completo, fecha_nacimiento,
	COALESCE(telefono, ''), COALESCE(email, ''), COALESCE(ocupacion, ''), COALESCE(direccion, ''),
	created_at, updated_at`

// sessionTable describes one session collection. Both tables share the
// common clinical block and differ in three kind-specific columns.
type sessionTable struct {
	name       string
	extraCols  [3]string
	extraVals  func(c *Clinical) []any
	extraDests func(c *Clinical) []any
}

var sessionTables = map[SessionKind]sessionTable{
	KindAcupuncture: {
		name:      "sesiones_acupuntura",
		extraCols: [3]string{"datos_mtc", "diagnostico_mtc", "puntos_acupuntura"},
		extraVals: func(c *Clinical) []any {
			return []any{jsonValue(c.MTC), nullString(c.MTCDiagnosis), textArray(c.Points)}
		},
		extraDests: func(c *Clinical) []any {
			return []any{&c.MTC, &c.MTCDiagnosis, &c.Points}
		},
	},
	KindKinesiology: {
		name:      "sesiones_kinesiologia",
		extraCols: [3]string{"evaluacion_kinesica", "diagnostico", "plan_tratamiento"},
		extraVals: func(c *Clinical) []any {
			return []any{jsonValue(c.Evaluation), nullString(c.Diagnosis), nullString(c.TreatmentPlan)}
		},
		extraDests: func(c *Clinical) []any {
			return []any{&c.Evaluation, &c.Diagnosis, &c.TreatmentPlan}
		},
	},
}

func tableFor(kind SessionKind) (sessionTable, error) {
	t, ok := sessionTables[kind]
	if !ok {
		return sessionTable{}, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	return t, nil
}

// selectList wraps nullable text columns in COALESCE so they scan into strings.
func (t sessionTable) selectList() string {
	extras := make([]string, 0, 3)
	for _, col := range t.extraCols {
		switch col {
		case "diagnostico_mtc", "diagnostico", "plan_tratamiento":
			extras = append(extras, fmt.Sprintf("COALESCE(%s, '')", col))
		default:
			extras = append(extras, col)
		}
	}
	return `id, paciente_id, terapeuta_id, numero_sesion, fecha_sesion, estado,
	motivo_consulta, sintomas_generales, datos_dolor, tecnicas_aplicadas, COALESCE(recomendaciones, ''),
	consentimiento_aceptado, fecha_consentimiento, ` + strings.Join(extras, ", ") + `, created_at, updated_at`
}

func (r *PostgresRepository) FindPatientByRUT(ctx context.Context, practitionerID, nationalID string) (*Patient, error) {
	ctx, span := r.tracer.Start(ctx, "records.find_patient")
	defer span.End()

	query := `SELECT ` + patientColumns + ` FROM pacientes WHERE terapeuta_id = $1 AND rut_normalizado = $2`
	p, err := scanPatient(r.db.QueryRow(ctx, query, practitionerID, rut.Normalize(nationalID)))
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			span.RecordError(err)
		}
		return nil, err
	}
	return p, nil
}

func (r *PostgresRepository) GetPatient(ctx context.Context, practitionerID, patientID string) (*Patient, error) {
	ctx, span := r.tracer.Start(ctx, "records.get_patient")
	defer span.End()

	query := `SELECT ` + patientColumns + ` FROM pacientes WHERE id = $1 AND terapeuta_id = $2`
	p, err := scanPatient(r.db.QueryRow(ctx, query, patientID, practitionerID))
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			span.RecordError(err)
		}
		return nil, err
	}
	return p, nil
}

func (r *PostgresRepository) UpsertPatient(ctx context.Context, practitionerID string, d Demographics) (*Patient, error) {
	ctx, span := r.tracer.Start(ctx, "records.upsert_patient")
	defer span.End()

	if strings.TrimSpace(practitionerID) == "" {
		return nil, ErrMissingPractitioner
	}
	normalized := rut.Normalize(d.RUT)
	if normalized == "" {
		return nil, ErrMissingRUT
	}

	query := `
		INSERT INTO pacientes (id, terapeuta_id, rut, rut_normalizado, nombre_completo, nombre_busqueda,
			fecha_nacimiento, telefono, email, ocupacion, direccion)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (terapeuta_id, rut_normalizado) DO UPDATE SET
			rut = EXCLUDED.rut,
			nombre_completo = EXCLUDED.nombre_completo,
			nombre_busqueda = EXCLUDED.nombre_busqueda,
			fecha_nacimiento = EXCLUDED.fecha_nacimiento,
			telefono = EXCLUDED.telefono,
			email = EXCLUDED.email,
			ocupacion = EXCLUDED.ocupacion,
			direccion = EXCLUDED.direccion,
			updated_at = now()
		RETURNING id, created_at, updated_at
	`
	p := &Patient{
		PractitionerID: practitionerID,
		RUT:            d.RUT,
		FullName:       d.FullName,
		BirthDate:      d.BirthDate,
		Phone:          d.Phone,
		Email:          d.Email,
		Occupation:     d.Occupation,
		Address:        d.Address,
	}
	if err := r.db.QueryRow(ctx, query,
		uuid.New(),
		practitionerID,
		d.RUT,
		normalized,
		d.FullName,
		FoldName(d.FullName),
		d.BirthDate,
		nullString(d.Phone),
		nullString(d.Email),
		nullString(d.Occupation),
		nullString(d.Address),
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("records: upsert patient failed: %w", err)
	}
	span.SetAttributes(attribute.String("patient.id", p.ID))
	return p, nil
}

func (r *PostgresRepository) NextSessionNumber(ctx context.Context, patientID string, kind SessionKind) (int, error) {
	t, err := tableFor(kind)
	if err != nil {
		return 0, err
	}
	ctx, span := r.tracer.Start(ctx, "records.next_session_number")
	defer span.End()

	query := `SELECT COALESCE(MAX(numero_sesion), 0) + 1 FROM ` + t.name + ` WHERE paciente_id = $1`
	var next int
	if err := r.db.QueryRow(ctx, query, patientID).Scan(&next); err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("records: next session number failed: %w", err)
	}
	return next, nil
}

func (r *PostgresRepository) InsertSession(ctx context.Context, kind SessionKind, p SessionPayload) (*Session, error) {
	t, err := tableFor(kind)
	if err != nil {
		return nil, err
	}
	ctx, span := r.tracer.Start(ctx, "records.insert_session", trace.WithAttributes(attribute.String("session.kind", string(kind))))
	defer span.End()

	status := p.Status
	if status == "" {
		status = StatusInProgress
	}
	c := p.Clinical
	query := `
		INSERT INTO ` + t.name + ` (id, paciente_id, terapeuta_id, numero_sesion, estado,
			motivo_consulta, sintomas_generales, datos_dolor, tecnicas_aplicadas, recomendaciones,
			consentimiento_aceptado, fecha_consentimiento, ` + strings.Join(t.extraCols[:], ", ") + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING fecha_sesion, created_at, updated_at
	`
	args := append([]any{
		uuid.New(),
		p.PatientID,
		p.PractitionerID,
		p.Number,
		string(status),
		c.ConsultationReason,
		jsonValue(c.Symptoms),
		jsonValue(c.Pain),
		textArray(c.Techniques),
		nullString(c.Recommendations),
		c.ConsentAccepted,
		c.ConsentAt,
	}, t.extraVals(&c)...)

	s := &Session{
		ID:             args[0].(uuid.UUID).String(),
		Kind:           kind,
		PatientID:      p.PatientID,
		PractitionerID: p.PractitionerID,
		Number:         p.Number,
		Status:         status,
		Clinical:       c,
	}
	if err := r.db.QueryRow(ctx, query, args...).Scan(&s.Date, &s.CreatedAt, &s.UpdatedAt); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("records: insert session failed: %w", err)
	}
	return s, nil
}

func (r *PostgresRepository) UpdateSession(ctx context.Context, kind SessionKind, sessionID string, p SessionPayload) (*Session, error) {
	t, err := tableFor(kind)
	if err != nil {
		return nil, err
	}
	ctx, span := r.tracer.Start(ctx, "records.update_session", trace.WithAttributes(
		attribute.String("session.kind", string(kind)),
		attribute.String("session.id", sessionID),
	))
	defer span.End()

	c := p.Clinical
	query := `
		UPDATE ` + t.name + ` SET
			estado = COALESCE(NULLIF($3, ''), estado),
			motivo_consulta = $4,
			sintomas_generales = $5,
			datos_dolor = $6,
			tecnicas_aplicadas = $7,
			recomendaciones = $8,
			consentimiento_aceptado = $9,
			fecha_consentimiento = $10,
			` + t.extraCols[0] + ` = $11,
			` + t.extraCols[1] + ` = $12,
			` + t.extraCols[2] + ` = $13,
			updated_at = now()
		WHERE id = $1 AND terapeuta_id = $2
		RETURNING paciente_id, numero_sesion, fecha_sesion, estado, created_at, updated_at
	`
	args := append([]any{
		sessionID,
		p.PractitionerID,
		string(p.Status),
		c.ConsultationReason,
		jsonValue(c.Symptoms),
		jsonValue(c.Pain),
		textArray(c.Techniques),
		nullString(c.Recommendations),
		c.ConsentAccepted,
		c.ConsentAt,
	}, t.extraVals(&c)...)

	s := &Session{ID: sessionID, Kind: kind, PractitionerID: p.PractitionerID, Clinical: c}
	var status string
	if err := r.db.QueryRow(ctx, query, args...).Scan(&s.PatientID, &s.Number, &s.Date, &status, &s.CreatedAt, &s.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		span.RecordError(err)
		return nil, fmt.Errorf("records: update session failed: %w", err)
	}
	s.Status = SessionStatus(status)
	return s, nil
}

func (r *PostgresRepository) SessionOwnerRUT(ctx context.Context, practitionerID string, kind SessionKind, sessionID string) (string, error) {
	t, err := tableFor(kind)
	if err != nil {
		return "", err
	}
	ctx, span := r.tracer.Start(ctx, "records.session_owner")
	defer span.End()

	query := `SELECT p.rut FROM ` + t.name + ` s JOIN pacientes p ON p.id = s.paciente_id
		WHERE s.id = $1 AND s.terapeuta_id = $2`
	var owner string
	if err := r.db.QueryRow(ctx, query, sessionID, practitionerID).Scan(&owner); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotFound
		}
		span.RecordError(err)
		return "", fmt.Errorf("records: session owner lookup failed: %w", err)
	}
	return owner, nil
}

func (r *PostgresRepository) FindOpenSession(ctx context.Context, kind SessionKind, practitionerID, patientID string, day time.Time) (*Session, error) {
	t, err := tableFor(kind)
	if err != nil {
		return nil, err
	}
	ctx, span := r.tracer.Start(ctx, "records.find_open_session")
	defer span.End()

	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	query := `SELECT ` + t.selectList() + ` FROM ` + t.name + `
		WHERE paciente_id = $1 AND terapeuta_id = $2 AND estado = $3
			AND fecha_sesion >= $4 AND fecha_sesion < $5
		ORDER BY numero_sesion DESC
		LIMIT 1`
	s, err := scanSession(r.db.QueryRow(ctx, query, patientID, practitionerID, string(StatusInProgress), start, start.AddDate(0, 0, 1)), kind, t)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			span.RecordError(err)
		}
		return nil, err
	}
	return s, nil
}

func (r *PostgresRepository) SearchPatients(ctx context.Context, practitionerID, query string, limit int) ([]*Patient, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []*Patient{}, nil
	}
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	ctx, span := r.tracer.Start(ctx, "records.search_patients")
	defer span.End()

	column, pattern := "nombre_busqueda", "%"+escapeLike(FoldName(query))+"%"
	if looksLikeRUT(query) {
		column, pattern = "rut_normalizado", escapeLike(rut.Normalize(query))+"%"
	}
	sql := `SELECT ` + patientColumns + ` FROM pacientes
		WHERE terapeuta_id = $1 AND ` + column + ` LIKE $2
		ORDER BY created_at DESC
		LIMIT $3`
	rows, err := r.db.Query(ctx, sql, practitionerID, pattern, limit)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("records: search patients failed: %w", err)
	}
	defer rows.Close()

	patients := []*Patient{}
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, err
		}
		patients = append(patients, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("records: search patients failed: %w", err)
	}
	return patients, nil
}

func (r *PostgresRepository) PatientHistory(ctx context.Context, practitionerID, nationalID string) ([]HistoryEntry, error) {
	ctx, span := r.tracer.Start(ctx, "records.patient_history")
	defer span.End()

	query := `
		SELECT s.id, 'acupuntura' AS tipo, s.numero_sesion, s.fecha_sesion, s.motivo_consulta, s.estado
		FROM sesiones_acupuntura s JOIN pacientes p ON p.id = s.paciente_id
		WHERE p.terapeuta_id = $1 AND p.rut_normalizado = $2
		UNION ALL
		SELECT s.id, 'kinesiologia' AS tipo, s.numero_sesion, s.fecha_sesion, s.motivo_consulta, s.estado
		FROM sesiones_kinesiologia s JOIN pacientes p ON p.id = s.paciente_id
		WHERE p.terapeuta_id = $1 AND p.rut_normalizado = $2
		ORDER BY fecha_sesion DESC
	`
	rows, err := r.db.Query(ctx, query, practitionerID, rut.Normalize(nationalID))
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("records: patient history failed: %w", err)
	}
	defer rows.Close()

	history := []HistoryEntry{}
	for rows.Next() {
		var e HistoryEntry
		var kind, status string
		if err := rows.Scan(&e.SessionID, &kind, &e.Number, &e.Date, &e.ConsultationReason, &status); err != nil {
			return nil, fmt.Errorf("records: scan history failed: %w", err)
		}
		e.Kind = SessionKind(kind)
		e.KindLabel = e.Kind.Label()
		e.Status = SessionStatus(status)
		history = append(history, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("records: patient history failed: %w", err)
	}
	return history, nil
}

func (r *PostgresRepository) GetSession(ctx context.Context, practitionerID string, kind SessionKind, sessionID string) (*Session, error) {
	t, err := tableFor(kind)
	if err != nil {
		return nil, err
	}
	ctx, span := r.tracer.Start(ctx, "records.get_session")
	defer span.End()

	query := `SELECT ` + t.selectList() + ` FROM ` + t.name + ` WHERE id = $1 AND terapeuta_id = $2`
	return scanSession(r.db.QueryRow(ctx, query, sessionID, practitionerID), kind, t)
}

// DeletePatient removes the patient; sessions go with it through ON DELETE CASCADE.
func (r *PostgresRepository) DeletePatient(ctx context.Context, practitionerID, nationalID string) error {
	ctx, span := r.tracer.Start(ctx, "records.delete_patient")
	defer span.End()

	tag, err := r.db.Exec(ctx, `DELETE FROM pacientes WHERE terapeuta_id = $1 AND rut_normalizado = $2`,
		practitionerID, rut.Normalize(nationalID))
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("records: delete patient failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	if err := row.Scan(
		&p.ID,
		&p.PractitionerID,
		&p.RUT,
		&p.FullName,
		&p.BirthDate,
		&p.Phone,
		&p.Email,
		&p.Occupation,
		&p.Address,
		&p.CreatedAt,
		&p.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("records: scan patient failed: %w", err)
	}
	return &p, nil
}

func scanSession(row pgx.Row, kind SessionKind, t sessionTable) (*Session, error) {
	s := Session{Kind: kind}
	var status string
	dests := append([]any{
		&s.ID,
		&s.PatientID,
		&s.PractitionerID,
		&s.Number,
		&s.Date,
		&status,
		&s.ConsultationReason,
		&s.Symptoms,
		&s.Pain,
		&s.Techniques,
		&s.Recommendations,
		&s.ConsentAccepted,
		&s.ConsentAt,
	}, t.extraDests(&s.Clinical)...)
	dests = append(dests, &s.CreatedAt, &s.UpdatedAt)
	if err := row.Scan(dests...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("records: scan session failed: %w", err)
	}
	s.Status = SessionStatus(status)
	return &s, nil
}

func nullString(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}

// jsonValue keeps empty documents as '{}' rather than NULL.
func jsonValue(doc map[string]any) map[string]any {
	if doc == nil {
		return map[string]any{}
	}
	return doc
}

// textArray keeps empty lists as '{}'; pgx encodes a nil slice as NULL.
func textArray(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
