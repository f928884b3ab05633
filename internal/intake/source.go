package intake

// Source is the UI surface a step reads from: named inputs, radio groups,
// checkbox groups and single boolean checkboxes. Missing elements report
// ok=false, nil or false.
type Source interface {
	Value(id string) (string, bool)
	Selected(name string) (string, bool)
	Checked(name string) []string
	Flag(id string) bool
}

// Snapshot is the JSON form of a Source posted by the browser client.
type Snapshot struct {
	Inputs     map[string]string   `json:"inputs,omitempty"`
	Radios     map[string]string   `json:"radios,omitempty"`
	Checkboxes map[string][]string `json:"checkboxes,omitempty"`
	Flags      map[string]bool     `json:"flags,omitempty"`
}

func (s Snapshot) Value(id string) (string, bool) {
	v, ok := s.Inputs[id]
	return v, ok
}

func (s Snapshot) Selected(name string) (string, bool) {
	v, ok := s.Radios[name]
	if v == "" {
		return "", false
	}
	return v, ok
}

func (s Snapshot) Checked(name string) []string {
	return s.Checkboxes[name]
}

func (s Snapshot) Flag(id string) bool {
	return s.Flags[id]
}
