package phone

import (
	"strings"

	"github.com/nyaruka/phonenumbers"
)

// ClientPrefix marks a provider client identity (browser softphone) rather than a PSTN number.
const ClientPrefix = "client:"

// Numbers without a country code are read in this region.
const defaultRegion = "US"

// Normalize converts a phone number to E.164.
//
// Rules:
// - client:<identity> addresses are returned trimmed and otherwise unchanged
// - national numbers are read as NANP
// - international dialing prefixes (011, 00) and a bracketed trunk zero are dropped
// - input with no digits at all (e.g. "anonymous") is returned trimmed
// - input the parser rejects is returned trimmed
//
// Normalize is idempotent: Normalize(Normalize(x)) == Normalize(x).
func Normalize(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" || IsClient(s) || !strings.ContainsAny(s, "0123456789") {
		return s
	}
	num, err := parse(s)
	if err != nil {
		return s
	}
	return phonenumbers.Format(num, phonenumbers.E164)
}

func parse(s string) (*phonenumbers.PhoneNumber, error) {
	// 011 is the NANP exit code and the parser strips it for the default
	// region. 00 is the exit code almost everywhere else.
	if strings.HasPrefix(s, "00") {
		s = "+" + s[2:]
	}
	return phonenumbers.Parse(s, defaultRegion)
}

// Equal reports whether two representations refer to the same number.
func Equal(a, b string) bool {
	na, nb := Normalize(a), Normalize(b)
	return na != "" && na == nb
}

func IsClient(s string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(s)), ClientPrefix)
}

// ClientIdentity returns the identity part of a client:<identity> address, or "".
func ClientIdentity(s string) string {
	s = strings.TrimSpace(s)
	if !IsClient(s) {
		return ""
	}
	return s[len(ClientPrefix):]
}

// IsDialable reports whether s parses to a number of a possible length for its country.
func IsDialable(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" || IsClient(s) {
		return false
	}
	num, err := parse(s)
	if err != nil {
		return false
	}
	return phonenumbers.IsPossibleNumber(num)
}

// DisplayName is the placeholder contact name used for lazily created conversations.
func DisplayName(number string) string {
	n := Normalize(number)
	if strings.HasPrefix(n, "+1") && len(n) == 12 {
		return "(" + n[2:5] + ") " + n[5:8] + "-" + n[8:]
	}
	return n
}
