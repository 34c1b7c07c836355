package phone

import "testing"

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"5551234567":        "+15551234567",
		"15551234567":       "+15551234567",
		"+15551234567":      "+15551234567",
		"(555) 123-4567":    "+15551234567",
		" +1 555.123.4567 ": "+15551234567",
		"+442071838750":     "+442071838750",
		"+1 (555) 123-4567": "+15551234567",
		"client:alice":      "client:alice",
		"anonymous":         "anonymous",
		"":                  "",
	}
	for in, want := range cases {
		if got := Normalize(in); got != want {
			t.Fatalf("Normalize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNormalizeIsIdempotent(t *testing.T) {
	inputs := []string{"5551234567", "15551234567", "+15551234567", "555-123-4567", "+44 20 7183 8750", "client:bob", "anonymous", "12345"}
	for _, in := range inputs {
		once := Normalize(in)
		if twice := Normalize(once); twice != once {
			t.Fatalf("not idempotent for %q: %q then %q", in, once, twice)
		}
	}
}

func TestNormalizeInternationalForms(t *testing.T) {
	for _, in := range []string{
		"+44 20 7946 0958",
		"+44 (0)20 7946 0958",
		"011 44 20 7946 0958",
		"0044 20 7946 0958",
		"+44 020 7946 0958",
	} {
		if got := Normalize(in); got != "+442079460958" {
			t.Fatalf("Normalize(%q) = %q, want +442079460958", in, got)
		}
	}
	if !Equal("011 44 20 7946 0958", "+44 (0)20 7946 0958") {
		t.Fatalf("exit-code and trunk-zero forms must compare equal")
	}
}

func TestIsDialable(t *testing.T) {
	for _, in := range []string{"5551234567", "+15551234567", "0044 20 7946 0958", "011 44 20 7946 0958"} {
		if !IsDialable(in) {
			t.Fatalf("expected %q to be dialable", in)
		}
	}
	for _, in := range []string{"", "anonymous", "client:alice", "12345", "+1555"} {
		if IsDialable(in) {
			t.Fatalf("expected %q not to be dialable", in)
		}
	}
}

func TestEqual(t *testing.T) {
	if !Equal("5551234567", "+1 (555) 123-4567") {
		t.Fatalf("expected equal")
	}
	if Equal("", "") {
		t.Fatalf("empty numbers must not compare equal")
	}
	if Equal("5551234567", "5551234568") {
		t.Fatalf("expected not equal")
	}
}

func TestClientIdentity(t *testing.T) {
	if got := ClientIdentity("client:alice"); got != "alice" {
		t.Fatalf("expected alice, got %q", got)
	}
	if got := ClientIdentity("+15551234567"); got != "" {
		t.Fatalf("expected empty identity, got %q", got)
	}
}

func TestDisplayName(t *testing.T) {
	if got := DisplayName("5551234567"); got != "(555) 123-4567" {
		t.Fatalf("unexpected display name %q", got)
	}
	if got := DisplayName("+442071838750"); got != "+442071838750" {
		t.Fatalf("unexpected display name %q", got)
	}
}
