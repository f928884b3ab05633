// Package records is the persistence gateway for patients and their clinical
// sessions. Every operation is scoped to the authenticated practitioner.
package records

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// SessionKind selects which session collection a record belongs to.
type SessionKind string

const (
	KindAcupuncture SessionKind = "acupuntura"
	KindKinesiology SessionKind = "kinesiologia"
)

// ParseKind accepts the stored kind names as well as the professional
// identifiers used by the intake form.
func ParseKind(value string) (SessionKind, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "acupuntura", "acupunturista":
		return KindAcupuncture, nil
	case "kinesiologia", "kinesiologo":
		return KindKinesiology, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, value)
}

// Valid reports whether k is one of the known kinds.
func (k SessionKind) Valid() bool {
	return k == KindAcupuncture || k == KindKinesiology
}

// Label is the human readable name shown in visit history.
func (k SessionKind) Label() string {
	switch k {
	case KindAcupuncture:
		return "Acupuntura"
	case KindKinesiology:
		return "Kinesiología"
	default:
		return "No especificado"
	}
}

// SessionStatus tracks whether a visit was completed through final submission.
type SessionStatus string

const (
	StatusInProgress SessionStatus = "en_curso"
	StatusComplete   SessionStatus = "completa"
)

// Patient is the demographic record shared by every visit of a person.
type Patient struct {
	ID             string     `json:"id"`
	PractitionerID string     `json:"terapeuta_id"`
	RUT            string     `json:"rut"`
	FullName       string     `json:"nombre_completo"`
	BirthDate      *time.Time `json:"fecha_nacimiento,omitempty"`
	Phone          string     `json:"telefono,omitempty"`
	Email          string     `json:"email,omitempty"`
	Occupation     string     `json:"ocupacion,omitempty"`
	Address        string     `json:"direccion,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

func (p *Patient) clone() *Patient {
	cp := *p
	if p.BirthDate != nil {
		birth := *p.BirthDate
		cp.BirthDate = &birth
	}
	return &cp
}

// Demographics is the patient data captured by the first intake step.
type Demographics struct {
	RUT        string
	FullName   string
	BirthDate  *time.Time
	Phone      string
	Email      string
	Occupation string
	Address    string
}

// Clinical holds the visit fields. Acupuncture and kinesiology share the
// common block; the remaining fields are only stored for their own kind.
type Clinical struct {
	ConsultationReason string         `json:"motivo_consulta"`
	Symptoms           map[string]any `json:"sintomas_generales,omitempty"`
	Pain               map[string]any `json:"datos_dolor,omitempty"`
	Techniques         []string       `json:"tecnicas_aplicadas,omitempty"`
	Recommendations    string         `json:"recomendaciones,omitempty"`
	ConsentAccepted    bool           `json:"consentimiento_aceptado"`
	ConsentAt          *time.Time     `json:"fecha_consentimiento,omitempty"`

	// acupuntura
	MTC          map[string]any `json:"datos_mtc,omitempty"`
	MTCDiagnosis string         `json:"diagnostico_mtc,omitempty"`
	Points       []string       `json:"puntos_acupuntura,omitempty"`

	// kinesiologia
	Evaluation    map[string]any `json:"evaluacion_kinesica,omitempty"`
	Diagnosis     string         `json:"diagnostico,omitempty"`
	TreatmentPlan string         `json:"plan_tratamiento,omitempty"`
}

// Clone returns a deep copy of the clinical block.
func (c Clinical) Clone() Clinical {
	c.Symptoms = cloneDoc(c.Symptoms)
	c.Pain = cloneDoc(c.Pain)
	c.MTC = cloneDoc(c.MTC)
	c.Evaluation = cloneDoc(c.Evaluation)
	c.Techniques = slices.Clone(c.Techniques)
	c.Points = slices.Clone(c.Points)
	if c.ConsentAt != nil {
		at := *c.ConsentAt
		c.ConsentAt = &at
	}
	return c
}

func cloneDoc(doc map[string]any) map[string]any {
	if doc == nil {
		return nil
	}
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return cloneDoc(val)
	case []string:
		return slices.Clone(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}

// Session is one practitioner visit of a patient.
type Session struct {
	ID             string        `json:"id"`
	Kind           SessionKind   `json:"tipo"`
	PatientID      string        `json:"paciente_id"`
	PractitionerID string        `json:"terapeuta_id"`
	Number         int           `json:"numero_sesion"`
	Date           time.Time     `json:"fecha_sesion"`
	Status         SessionStatus `json:"estado"`
	Clinical
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (s *Session) clone() *Session {
	cp := *s
	cp.Clinical = s.Clinical.Clone()
	return &cp
}

// SessionPayload is written by InsertSession and UpdateSession. PatientID and
// Number are only used on insert.
type SessionPayload struct {
	PatientID      string
	PractitionerID string
	Number         int
	Status         SessionStatus
	Clinical       Clinical
}

// HistoryEntry is one row of a patient's visit history.
type HistoryEntry struct {
	SessionID          string        `json:"id"`
	Kind               SessionKind   `json:"tipo"`
	KindLabel          string        `json:"tipo_label"`
	Number             int           `json:"numero_sesion"`
	Date               time.Time     `json:"fecha_sesion"`
	ConsultationReason string        `json:"motivo_consulta"`
	Status             SessionStatus `json:"estado"`
}
