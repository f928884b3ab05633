// Package rut validates and formats Chilean national identity numbers (RUT).
package rut

import (
	"errors"
	"strconv"
	"strings"
)

// ErrInvalid is returned when a RUT fails the checksum or shape checks.
var ErrInvalid = errors.New("rut: invalid")

// Valid reports whether value carries a correct check digit. Dots and the
// hyphen are ignored; the check digit may be K in either case.
func Valid(value string) bool {
	clean := strings.NewReplacer(".", "", "-", "").Replace(strings.TrimSpace(value))
	if len(clean) < 2 {
		return false
	}
	body, dv := clean[:len(clean)-1], strings.ToUpper(clean[len(clean)-1:])
	if !isDigits(body) {
		return false
	}
	return CheckDigit(body) == dv
}

// CheckDigit computes the modulo-11 verifier for the numeric body of a RUT.
func CheckDigit(body string) string {
	sum, factor := 0, 2
	for i := len(body) - 1; i >= 0; i-- {
		sum += int(body[i]-'0') * factor
		if factor == 7 {
			factor = 2
		} else {
			factor++
		}
	}
	switch v := 11 - sum%11; v {
	case 11:
		return "0"
	case 10:
		return "K"
	default:
		return strconv.Itoa(v)
	}
}

// Format renders value as 12.345.678-5. Input that holds no digits or K is
// returned unchanged, and a single character is returned without a hyphen.
func Format(value string) string {
	var b strings.Builder
	for _, r := range value {
		if (r >= '0' && r <= '9') || r == 'k' || r == 'K' {
			b.WriteRune(r)
		}
	}
	clean := b.String()
	if clean == "" {
		return value
	}
	if len(clean) == 1 {
		return clean
	}
	body, dv := clean[:len(clean)-1], clean[len(clean)-1:]
	return groupThousands(body) + "-" + dv
}

// Clean strips dots and hyphens, the shape used for prefix searches.
func Clean(value string) string {
	return strings.NewReplacer(".", "", "-", "").Replace(strings.TrimSpace(value))
}

// Normalize reduces value to upper-case alphanumerics so that differently
// punctuated spellings of the same RUT compare equal.
func Normalize(value string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(value) {
		if (r >= '0' && r <= '9') || (r >= 'A' && r <= 'Z') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Equal compares two RUTs after normalization.
func Equal(a, b string) bool {
	na, nb := Normalize(a), Normalize(b)
	return na != "" && na == nb
}

// Parse validates value and returns its canonical formatted form.
func Parse(value string) (string, error) {
	if !Valid(value) {
		return "", ErrInvalid
	}
	return Format(value), nil
}

func groupThousands(digits string) string {
	if len(digits) <= 3 {
		return digits
	}
	head := len(digits) % 3
	var b strings.Builder
	if head > 0 {
		b.WriteString(digits[:head])
	}
	for i := head; i < len(digits); i += 3 {
		if b.Len() > 0 {
			b.WriteByte('.')
		}
		b.WriteString(digits[i : i+3])
	}
	return b.String()
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
