package model

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Callsign is an amateur-radio style station identifier with an optional
// SSID suffix, e.g. "KF8ABL" or "KF8ABL-11".
//
// IMPORTANT: adding or removing the SSID produces a different callsign that
// tracks as a separate payload in the database, which is how one station
// flies multiple devices under the same base call.
type Callsign string

// Base call: 3-6 alphanumerics, first is a letter. SSID: 1-2 alphanumerics.
// Total length including the dash never exceeds 9, which the pattern
// already guarantees.
var callsignPattern = regexp.MustCompile(`^([A-Z][A-Z0-9]{2,5})(?:-([A-Z0-9]{1,2}))?$`)

// ParseCallsign validates and canonicalizes a raw callsign string.
// Lowercase input is accepted and normalized to uppercase. A numeric SSID
// must be in the range 1-15; "-0" is rejected because APRS treats SSID 0
// as the absence of an SSID.
func ParseCallsign(raw string) (Callsign, error) {
	s := strings.ToUpper(strings.TrimSpace(raw))
	m := callsignPattern.FindStringSubmatch(s)
	if m == nil {
		return "", fmt.Errorf("invalid callsign %q", raw)
	}
	if ssid := m[2]; ssid != "" && isDigits(ssid) {
		n, err := strconv.Atoi(ssid)
		if err != nil || n < 1 || n > 15 {
			return "", fmt.Errorf("invalid callsign %q: numeric SSID must be 1-15", raw)
		}
	}
	return Callsign(s), nil
}

// Base returns the callsign without its SSID suffix.
func (c Callsign) Base() string {
	base, _, _ := strings.Cut(string(c), "-")
	return base
}

// SSID returns the SSID suffix, or "" when the callsign has none.
func (c Callsign) SSID() string {
	_, ssid, _ := strings.Cut(string(c), "-")
	return ssid
}

func (c Callsign) String() string { return string(c) }

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}
