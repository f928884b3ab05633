package intake

import (
	"strings"
)

const notAvailable = "N/A"

// Summary is the review shown on the final step before saving.
type Summary struct {
	Patient  SummaryPatient  `json:"paciente"`
	MTC      *SummaryMTC     `json:"mtc,omitempty"`
	Kinesic  *SummaryKinesic `json:"evaluacion_kinesica,omitempty"`
	Symptoms string          `json:"sintomas"`
	Pain     SummaryPain     `json:"dolor"`
}

type SummaryPatient struct {
	Name   string `json:"nombre"`
	Age    string `json:"edad"`
	Phone  string `json:"telefono"`
	Email  string `json:"email"`
	Reason string `json:"motivo"`
}

type SummaryMTC struct {
	Tongue string `json:"lengua"`
	Pulse  string `json:"pulso"`
}

type SummaryKinesic struct {
	Posture string `json:"postura"`
	Tests   string `json:"pruebas"`
}

type SummaryPain struct {
	Locations string `json:"ubicacion"`
	Intensity string `json:"intensidad"`
}

// BuildSummary renders the accumulated FormData with "N/A" for missing values.
func BuildSummary(data FormData) Summary {
	s := Summary{
		Patient: SummaryPatient{
			Name:   orNA(data.String(GroupPatient, KeyName)),
			Age:    orNA(data.String(GroupPatient, KeyAge)),
			Phone:  orNA(data.String(GroupPatient, KeyPhone)),
			Email:  orNA(data.String(GroupPatient, KeyEmail)),
			Reason: orNA(data.String(GroupVisit, KeyReason)),
		},
		Symptoms: joinOrNA(data.Strings(GroupSymptoms, "sintomas")),
		Pain: SummaryPain{
			Locations: joinOrNA(data.Strings(GroupPain, "ubicaciones")),
			Intensity: orNA(data.String(GroupPain, "intensidad")) + "/10",
		},
	}
	switch data.String(GroupVisit, KeyProfessional) {
	case ProfessionalAcupuncturist:
		s.MTC = &SummaryMTC{
			Tongue: orNA(data.String(GroupTongue, "color")),
			Pulse:  orNA(data.String(GroupPulse, "profundidad")),
		}
	case ProfessionalKinesiologist:
		s.Kinesic = &SummaryKinesic{
			Posture: orNA(data.String(GroupKinesic, "postura")),
			Tests:   joinOrNA(data.Strings(GroupKinesic, "pruebas_especiales")),
		}
	}
	return s
}

func orNA(v string) string {
	if v == "" {
		return notAvailable
	}
	return v
}

func joinOrNA(values []string) string {
	return orNA(strings.Join(values, ", "))
}

// Summary returns the review of the accumulated FormData.
func (e *Engine) Summary() Summary {
	e.mu.Lock()
	defer e.mu.Unlock()
	return BuildSummary(e.state.FormData)
}
