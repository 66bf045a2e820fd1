package phone

import (
	"fmt"
	"strings"
)

// Validation is the outcome of checking one raw customer number.
type Validation struct {
	Valid      bool
	Normalized string
	Err        error
}

// Normalize maps the accepted Indonesian mobile formats (+62..., 62...,
// 8..., 08...) to the canonical 08... form. It does not validate; callers
// that need rejection semantics use Validate.
func Normalize(raw string) string {
	cleaned := stripSpaces(raw)

	switch {
	case strings.HasPrefix(cleaned, "08"):
		return cleaned
	case strings.HasPrefix(cleaned, "+62"):
		return "0" + cleaned[3:]
	case strings.HasPrefix(cleaned, "62"):
		return "0" + cleaned[2:]
	case strings.HasPrefix(cleaned, "8"):
		return "0" + cleaned
	}

	return cleaned
}

// Validate checks one raw customer number and returns its canonical form.
// Only digits, '+' and whitespace are allowed in the input; the normalized
// number must start with 08 and be 10 to 13 digits long.
func Validate(raw string) Validation {
	cleaned := stripSpaces(raw)

	if cleaned == "" {
		return Validation{Err: fmt.Errorf("customer number is empty")}
	}

	for _, r := range cleaned {
		if (r < '0' || r > '9') && r != '+' {
			return Validation{Err: fmt.Errorf(
				"customer number %q contains invalid character %q", raw, r)}
		}
	}

	normalized := Normalize(cleaned)

	if !strings.HasPrefix(normalized, "08") {
		return Validation{Err: fmt.Errorf(
			"customer number %q does not normalize to an 08 prefix", raw)}
	}

	if len(normalized) < 10 || len(normalized) > 13 {
		return Validation{Err: fmt.Errorf(
			"customer number %q has %d digits, want 10 to 13",
			raw, len(normalized))}
	}

	return Validation{Valid: true, Normalized: normalized}
}

func stripSpaces(s string) string {
	return strings.Join(strings.Fields(s), "")
}
