package intake

import (
	"fmt"
	"strings"

	"github.com/fichaclinica/intake-api/internal/records"
)

// FormData maps a field group to its collected values. Values are strings,
// string slices, booleans or nil; after a draft round trip slices come back as
// []any, so reads go through the accessors below.
type FormData map[string]map[string]any

// Merge copies every key of other into d, overwriting existing keys. Keys are
// never removed.
func (d FormData) Merge(other FormData) {
	for group, values := range other {
		target, ok := d[group]
		if !ok {
			target = make(map[string]any, len(values))
			d[group] = target
		}
		for key, value := range values {
			target[key] = value
		}
	}
}

// Clone returns a deep copy of the group maps. Slice values are copied too.
func (d FormData) Clone() FormData {
	out := make(FormData, len(d))
	for group, values := range d {
		cp := make(map[string]any, len(values))
		for key, value := range values {
			switch v := value.(type) {
			case []string:
				cp[key] = append([]string(nil), v...)
			case []any:
				cp[key] = append([]any(nil), v...)
			default:
				cp[key] = v
			}
		}
		out[group] = cp
	}
	return out
}

// Set writes a single value.
func (d FormData) Set(group, key string, value any) {
	values, ok := d[group]
	if !ok {
		values = make(map[string]any)
		d[group] = values
	}
	values[key] = value
}

func (d FormData) value(group, key string) any {
	values, ok := d[group]
	if !ok {
		return nil
	}
	return values[key]
}

// String returns a trimmed string value or "".
func (d FormData) String(group, key string) string {
	switch v := d.value(group, key).(type) {
	case string:
		return strings.TrimSpace(v)
	case float64, int:
		return fmt.Sprint(v)
	default:
		return ""
	}
}

// Strings returns a string slice value, accepting the []any form produced by JSON.
func (d FormData) Strings(group, key string) []string {
	switch v := d.value(group, key).(type) {
	case []string:
		return append([]string(nil), v...)
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// Bool returns a boolean value or false.
func (d FormData) Bool(group, key string) bool {
	b, _ := d.value(group, key).(bool)
	return b
}

// Group returns a copy of a group's values, or an empty map.
func (d FormData) Group(group string) map[string]any {
	out := map[string]any{}
	for key, value := range d[group] {
		out[key] = value
	}
	return out
}

// FormState is owned by one Engine for the lifetime of a form session.
type FormState struct {
	CurrentStep  int                 `json:"current_step"`
	FormData     FormData            `json:"form_data"`
	IsSubmitting bool                `json:"is_submitting"`
	PatientID    string              `json:"patient_id,omitempty"`
	SessionID    string              `json:"session_id,omitempty"`
	SessionType  records.SessionKind `json:"session_type,omitempty"`
}

func newFormState() FormState {
	return FormState{CurrentStep: 1, FormData: FormData{}}
}

// UIState outlives a single form session: it tracks the returning patient
// loaded through search.
type UIState struct {
	ExistingPatientRUT string `json:"existing_patient_rut,omitempty"`
	IsExistingPatient  bool   `json:"is_existing_patient"`
}
