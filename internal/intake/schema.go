package intake

import "strings"

// Professional identifiers selected in step 1.
const (
	ProfessionalAcupuncturist = "acupunturista"
	ProfessionalKinesiologist = "kinesiologo"
)

// Field groups in FormData.
const (
	GroupPatient   = "paciente"
	GroupVisit     = "visita"
	GroupTongue    = "lengua"
	GroupPulse     = "pulso"
	GroupKinesic   = "evaluacion_kinesica"
	GroupSymptoms  = "sintomas_generales"
	GroupPain      = "datos_dolor"
	GroupDiagnosis = "diagnostico"
)

// Keys the engine reads back out of FormData.
const (
	KeyName          = "nombre_paciente"
	KeyRUT           = "rut"
	KeyBirthDate     = "fecha_nacimiento"
	KeyAge           = "edad"
	KeyPhone         = "telefono"
	KeyPhoneCode     = "telefono_codigo"
	KeyPhoneNumber   = "telefono_numero"
	KeyEmail         = "email"
	KeyOccupation    = "ocupacion"
	KeyAddress       = "direccion"
	KeyIntakeDate    = "fecha_ingreso"
	KeyReason        = "motivo_consulta"
	KeyProfessional  = "profesional"
	KeyDiagnosis     = "diagnostico_terapeuta"
	KeyTreatmentPlan = "plan_tratamiento"
	KeyPoints        = "puntos_acupuntura"
	KeyTechniques    = "tecnicas_aplicadas"
	KeyAdvice        = "recomendaciones"
	KeyConsent       = "consentimiento_aceptado"
)

// DefaultPhoneCode is used when the country code selector is empty.
const DefaultPhoneCode = "+569"

// Extract selects how a field is read from a Source.
type Extract int

const (
	ExtractText       Extract = iota // trimmed input value
	ExtractRaw                       // input value as typed (dates, numbers)
	ExtractRadio                     // checked radio value
	ExtractCheckboxes                // checked checkbox values
	ExtractFlag                      // single checkbox
	ExtractList                      // comma separated input
	ExtractPhone                     // country code selector + digits
)

// Field binds a FormData key to a markup element.
type Field struct {
	Group     string
	Key       string
	Input     string
	Extract   Extract
	CodeInput string
}

// StepSchema is the declarative definition of one step.
type StepSchema struct {
	Step   int
	Name   string
	Fields []Field
	Rules  []Rule
}

// Schema resolves the StepSchema for a step. One step may branch on the
// professional chosen in step 1.
type Schema struct {
	steps      map[int]StepSchema
	branchStep int
	branches   map[string]StepSchema
}

// Resolve returns the schema of step for the given professional. Unknown steps
// and unselected branches resolve to an empty schema.
func (s *Schema) Resolve(step int, professional string) StepSchema {
	if step == s.branchStep {
		if b, ok := s.branches[professional]; ok {
			return b
		}
		return StepSchema{Step: step}
	}
	if st, ok := s.steps[step]; ok {
		return st
	}
	return StepSchema{Step: step}
}

// Collect reads every field of the step. It never fails: missing elements
// produce nil values or empty collections.
func (st StepSchema) Collect(src Source) FormData {
	data := FormData{}
	for _, f := range st.Fields {
		switch f.Extract {
		case ExtractText:
			if v, ok := src.Value(f.Input); ok {
				data.Set(f.Group, f.Key, strings.TrimSpace(v))
			} else {
				data.Set(f.Group, f.Key, nil)
			}
		case ExtractRaw:
			if v, ok := src.Value(f.Input); ok {
				data.Set(f.Group, f.Key, v)
			} else {
				data.Set(f.Group, f.Key, nil)
			}
		case ExtractRadio:
			if v, ok := src.Selected(f.Input); ok {
				data.Set(f.Group, f.Key, v)
			} else {
				data.Set(f.Group, f.Key, nil)
			}
		case ExtractCheckboxes:
			data.Set(f.Group, f.Key, append([]string{}, src.Checked(f.Input)...))
		case ExtractFlag:
			data.Set(f.Group, f.Key, src.Flag(f.Input))
		case ExtractList:
			v, _ := src.Value(f.Input)
			data.Set(f.Group, f.Key, splitList(v))
		case ExtractPhone:
			code, _ := src.Value(f.CodeInput)
			code = strings.TrimSpace(code)
			if code == "" {
				code = DefaultPhoneCode
			}
			number, _ := src.Value(f.Input)
			number = strings.TrimSpace(number)
			phone := ""
			if number != "" {
				phone = code + " " + number
			}
			data.Set(f.Group, f.Key, phone)
			data.Set(f.Group, f.Key+"_codigo", code)
			data.Set(f.Group, f.Key+"_numero", number)
		}
	}
	return data
}

// Restore maps the stored values of the step back onto markup ids so the
// client can refill the inputs.
func (st StepSchema) Restore(data FormData) map[string]any {
	out := map[string]any{}
	for _, f := range st.Fields {
		values, ok := data[f.Group]
		if !ok {
			continue
		}
		if f.Extract == ExtractPhone {
			if v, ok := values[f.Key+"_codigo"]; ok {
				out[f.CodeInput] = v
			}
			if v, ok := values[f.Key+"_numero"]; ok {
				out[f.Input] = v
			}
			continue
		}
		v, ok := values[f.Key]
		if !ok || v == nil {
			continue
		}
		if f.Extract == ExtractList {
			v = strings.Join(data.Strings(f.Group, f.Key), ", ")
		}
		out[f.Input] = v
	}
	return out
}

// Validate evaluates every rule of the step and returns all failures.
func (st StepSchema) Validate(data FormData) []FieldError {
	var errs []FieldError
	for _, r := range st.Rules {
		if msg, ok := r.Check(data); !ok {
			errs = append(errs, FieldError{Field: r.Field, Message: msg})
		}
	}
	return errs
}

func splitList(v string) []string {
	out := []string{}
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// DefaultSchema is the five step acupuncture/kinesiology intake.
func DefaultSchema() *Schema {
	return &Schema{
		branchStep: 2,
		steps: map[int]StepSchema{
			1: {
				Step: 1,
				Name: "Datos del paciente",
				Fields: []Field{
					{Group: GroupPatient, Key: KeyName, Input: "nombre-paciente", Extract: ExtractText},
					{Group: GroupPatient, Key: KeyRUT, Input: "rut", Extract: ExtractText},
					{Group: GroupPatient, Key: KeyBirthDate, Input: "fecha-nacimiento", Extract: ExtractRaw},
					{Group: GroupPatient, Key: KeyAge, Input: "edad", Extract: ExtractRaw},
					{Group: GroupPatient, Key: KeyPhone, Input: "telefono-numero", CodeInput: "telefono-codigo", Extract: ExtractPhone},
					{Group: GroupPatient, Key: KeyEmail, Input: "email", Extract: ExtractText},
					{Group: GroupPatient, Key: KeyOccupation, Input: "ocupacion", Extract: ExtractText},
					{Group: GroupPatient, Key: KeyAddress, Input: "direccion", Extract: ExtractText},
					{Group: GroupVisit, Key: KeyIntakeDate, Input: "fecha-ingreso", Extract: ExtractRaw},
					{Group: GroupVisit, Key: KeyReason, Input: "motivo-consulta", Extract: ExtractText},
					{Group: GroupVisit, Key: KeyProfessional, Input: "profesional", Extract: ExtractRadio},
				},
				Rules: []Rule{
					{Group: GroupPatient, Key: KeyName, Field: "nombre-paciente", Kind: RuleRequired, Label: "Nombre del paciente"},
					{Group: GroupPatient, Key: KeyRUT, Field: "rut", Kind: RuleRequired, Label: "RUT"},
					{Group: GroupPatient, Key: KeyBirthDate, Field: "fecha-nacimiento", Kind: RuleRequired, Label: "Fecha de nacimiento"},
					{Group: GroupPatient, Key: KeyPhoneNumber, Field: "telefono-numero", Kind: RuleRequired, Label: "Teléfono"},
					{Group: GroupPatient, Key: KeyPhoneNumber, Field: "telefono-numero", Kind: RuleDigits, Length: 8, Optional: true},
					{Group: GroupVisit, Key: KeyReason, Field: "motivo-consulta", Kind: RuleRequired, Label: "Motivo de consulta"},
					{Group: GroupPatient, Key: KeyEmail, Field: "email", Kind: RuleEmail, Optional: true},
					{Group: GroupPatient, Key: KeyAge, Field: "edad", Kind: RuleIntRange, Min: 0, Max: 150, Optional: true},
					{Group: GroupVisit, Key: KeyProfessional, Field: "profesional", Kind: RuleOneOf,
						Options: []string{ProfessionalAcupuncturist, ProfessionalKinesiologist},
						Message: "Debe seleccionar un profesional"},
				},
			},
			3: {
				Step: 3,
				Name: "Síntomas generales",
				Fields: []Field{
					{Group: GroupSymptoms, Key: "sintomas", Input: "sintomas", Extract: ExtractCheckboxes},
					{Group: GroupSymptoms, Key: "emociones", Input: "emociones", Extract: ExtractCheckboxes},
					{Group: GroupSymptoms, Key: "digestivos", Input: "digestivos", Extract: ExtractCheckboxes},
					{Group: GroupSymptoms, Key: "menstruales", Input: "menstruales", Extract: ExtractCheckboxes},
					{Group: GroupSymptoms, Key: "otros", Input: "otros-sintomas", Extract: ExtractText},
				},
			},
			4: {
				Step: 4,
				Name: "Datos del dolor",
				Fields: []Field{
					{Group: GroupPain, Key: "ubicaciones", Input: "dolor-ubicacion", Extract: ExtractCheckboxes},
					{Group: GroupPain, Key: "tipo", Input: "dolor-tipo", Extract: ExtractCheckboxes},
					{Group: GroupPain, Key: "intensidad", Input: "dolor-intensidad", Extract: ExtractRaw},
					{Group: GroupPain, Key: "frecuencia", Input: "dolor-frecuencia", Extract: ExtractRadio},
					{Group: GroupPain, Key: "factores_alivio", Input: "factores-alivio", Extract: ExtractText},
					{Group: GroupPain, Key: "factores_agravacion", Input: "factores-agravacion", Extract: ExtractText},
				},
			},
			5: {
				Step: 5,
				Name: "Diagnóstico y plan",
				Fields: []Field{
					{Group: GroupDiagnosis, Key: KeyDiagnosis, Input: "diagnostico", Extract: ExtractText},
					{Group: GroupDiagnosis, Key: KeyTreatmentPlan, Input: "plan-tratamiento", Extract: ExtractText},
					{Group: GroupDiagnosis, Key: KeyPoints, Input: "puntos-acupuntura", Extract: ExtractList},
					{Group: GroupDiagnosis, Key: KeyTechniques, Input: "tecnicas", Extract: ExtractCheckboxes},
					{Group: GroupDiagnosis, Key: KeyAdvice, Input: "recomendaciones", Extract: ExtractText},
					{Group: GroupDiagnosis, Key: KeyConsent, Input: "consentimiento", Extract: ExtractFlag},
				},
				Rules: []Rule{
					{Group: GroupDiagnosis, Key: KeyConsent, Field: "consentimiento", Kind: RuleMustBeTrue,
						Message: "Debes aceptar el consentimiento informado"},
				},
			},
		},
		branches: map[string]StepSchema{
			ProfessionalAcupuncturist: {
				Step: 2,
				Name: "Lengua y pulso",
				Fields: []Field{
					{Group: GroupTongue, Key: "color", Input: "lengua-color", Extract: ExtractRadio},
					{Group: GroupTongue, Key: "saburra", Input: "lengua-saburra", Extract: ExtractRadio},
					{Group: GroupTongue, Key: "forma", Input: "lengua-forma", Extract: ExtractRadio},
					{Group: GroupTongue, Key: "observaciones", Input: "lengua-observaciones", Extract: ExtractText},
					{Group: GroupPulse, Key: "profundidad", Input: "pulso-profundidad", Extract: ExtractRadio},
					{Group: GroupPulse, Key: "velocidad", Input: "pulso-velocidad", Extract: ExtractRadio},
					{Group: GroupPulse, Key: "fuerza", Input: "pulso-fuerza", Extract: ExtractRadio},
					{Group: GroupPulse, Key: "calidad", Input: "pulso-calidad", Extract: ExtractRadio},
					{Group: GroupPulse, Key: "observaciones", Input: "pulso-observaciones", Extract: ExtractText},
				},
			},
			ProfessionalKinesiologist: {
				Step: 2,
				Name: "Evaluación kinésica",
				Fields: []Field{
					{Group: GroupKinesic, Key: "postura", Input: "kine-postura", Extract: ExtractRadio},
					{Group: GroupKinesic, Key: "rango_movimiento", Input: "kine-rango-movimiento", Extract: ExtractText},
					{Group: GroupKinesic, Key: "fuerza_muscular", Input: "kine-fuerza", Extract: ExtractRadio},
					{Group: GroupKinesic, Key: "pruebas_especiales", Input: "kine-pruebas", Extract: ExtractCheckboxes},
					{Group: GroupKinesic, Key: "observaciones", Input: "kine-observaciones", Extract: ExtractText},
				},
			},
		},
	}
}
