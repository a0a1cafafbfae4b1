package phone

import "testing"

func TestNormalize(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want string
	}{
		{name: "empty", raw: "", want: ""},
		{name: "no digits", raw: "abc", want: ""},
		{name: "short", raw: "12 34", want: "1234"},
		{name: "eight digits", raw: "70000000", want: "70000000"},
		{name: "formatted local", raw: "70 00 00 00", want: "70000000"},
		{name: "nine digits", raw: "770000000", want: "770000000"},
		{name: "international", raw: "+223 70 00 00 00", want: "370000000"},
		{name: "double zero prefix", raw: "00223-70-00-00-00", want: "370000000"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Normalize(tc.raw); got != tc.want {
				t.Fatalf("Normalize(%q) = %q, want %q", tc.raw, got, tc.want)
			}
		})
	}
}

func TestMatchKeyAlignsInternationalAndLocalForms(t *testing.T) {
	international := MatchKey(Normalize("+223 70 00 00 00"))
	local := MatchKey(Normalize("70000000"))
	if international != local {
		t.Fatalf("expected same match key, got %q and %q", international, local)
	}
	if international != "70000000" {
		t.Fatalf("unexpected match key %q", international)
	}
}

func TestMatchable(t *testing.T) {
	if Matchable("1234567") {
		t.Fatalf("expected 7 digits to be rejected")
	}
	if !Matchable("70000000") {
		t.Fatalf("expected 8 digits to be accepted")
	}
}
