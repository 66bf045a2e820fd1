package phone

import (
	"testing"
)

func TestNormalize_EquivalentForms(t *testing.T) {
	want := "081234567890"

	inputs := []string{
		"+6281234567890",
		"6281234567890",
		"81234567890",
		"081234567890",
		" 0812 3456 7890 ",
	}

	for _, input := range inputs {
		got := Normalize(input)
		if got != want {
			t.Errorf("Normalize(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name  string
		raw   string
		valid bool
		want  string
	}{
		{"canonical", "081234567890", true, "081234567890"},
		{"plus62", "+6281234567890", true, "081234567890"},
		{"bare62", "6281234567890", true, "081234567890"},
		{"no leading zero", "81234567890", true, "081234567890"},
		{"ten digits", "0812345678", true, "0812345678"},
		{"thirteen digits", "0812345678901", true, "0812345678901"},
		{"too short", "081234567", false, ""},
		{"too long", "08123456789012", false, ""},
		{"letters", "0812abc7890", false, ""},
		{"dashes", "0812-3456-7890", false, ""},
		{"landline prefix", "0212345678", false, ""},
		{"empty", "", false, ""},
		{"spaces only", "   ", false, ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v := Validate(tc.raw)

			if v.Valid != tc.valid {
				t.Fatalf("Validate(%q).Valid = %v, want %v (err: %v)",
					tc.raw, v.Valid, tc.valid, v.Err)
			}

			if tc.valid && v.Normalized != tc.want {
				t.Errorf("Validate(%q).Normalized = %q, want %q",
					tc.raw, v.Normalized, tc.want)
			}

			if !tc.valid && v.Err == nil {
				t.Errorf("Validate(%q) invalid but Err is nil", tc.raw)
			}
		})
	}
}
