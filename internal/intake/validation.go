package intake

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// RuleKind selects a validation check.
type RuleKind int

const (
	RuleRequired    RuleKind = iota // non-empty after trimming
	RuleEmail                       // email shaped
	RuleIntRange                    // integer within [Min, Max]
	RuleDigits                      // exactly Length digits
	RuleNonEmptySet                 // at least one checkbox
	RuleMustBeTrue                  // checkbox must be checked
	RuleOneOf                       // value must be one of Options
)

// Rule validates one FormData value. Field is the markup id the error is
// shown next to. Optional rules are skipped when the value is empty.
type Rule struct {
	Group    string
	Key      string
	Field    string
	Kind     RuleKind
	Label    string
	Message  string
	Min      int
	Max      int
	Length   int
	Options  []string
	Optional bool
}

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// Check reports whether data satisfies the rule, with the message to show
// when it does not.
func (r Rule) Check(data FormData) (string, bool) {
	value := data.String(r.Group, r.Key)
	if r.Optional && value == "" && r.Kind != RuleNonEmptySet && r.Kind != RuleMustBeTrue {
		return "", true
	}

	switch r.Kind {
	case RuleRequired:
		if value == "" {
			return r.message(fmt.Sprintf("%s es requerido", r.label())), false
		}
	case RuleEmail:
		if !emailPattern.MatchString(value) {
			return r.message("Email inválido"), false
		}
	case RuleIntRange:
		n, err := strconv.Atoi(value)
		if err != nil || n < r.Min || n > r.Max {
			return r.message("Edad inválida"), false
		}
	case RuleDigits:
		if len(value) != r.Length || strings.Trim(value, "0123456789") != "" {
			return r.message(fmt.Sprintf("Debe tener %d dígitos", r.Length)), false
		}
	case RuleNonEmptySet:
		if len(data.Strings(r.Group, r.Key)) == 0 {
			return r.message(fmt.Sprintf("Seleccione al menos una opción en %s", r.label())), false
		}
	case RuleMustBeTrue:
		if !data.Bool(r.Group, r.Key) {
			return r.message(fmt.Sprintf("%s es requerido", r.label())), false
		}
	case RuleOneOf:
		for _, opt := range r.Options {
			if value == opt {
				return "", true
			}
		}
		return r.message(fmt.Sprintf("%s no es válido", r.label())), false
	}
	return "", true
}

func (r Rule) message(fallback string) string {
	if r.Message != "" {
		return r.Message
	}
	return fallback
}

func (r Rule) label() string {
	if r.Label != "" {
		return r.Label
	}
	return "Este campo"
}
