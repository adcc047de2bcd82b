// Package aprs decodes textual APRS frames into position reports.
//
// Only uncompressed position reports are handled, with or without a
// timestamp. That covers what balloon trackers actually transmit;
// everything else on the frequency (Mic-E, compressed positions, status,
// messages, raw telemetry) is rejected with ErrUnsupported so the worker
// can log and move on.
//
// Values come back in the frame's native units: speed in knots, altitude
// in feet. Callers convert before persisting.
package aprs

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ErrUnsupported marks frames that are valid APRS but not position
// reports this parser understands.
var ErrUnsupported = errors.New("unsupported frame type")

// Frame is a decoded position report.
type Frame struct {
	// Source is the transmitting station, SSID included.
	Source string

	// Destination is the AX.25 destination field, usually a software
	// version marker rather than a real address.
	Destination string

	// Path lists the digipeaters the frame passed through, in order,
	// with the has-been-digipeated asterisks stripped.
	Path []string

	// Timestamp is the frame's own time field when the report carried
	// one, completed against a reference time. Nil for untimed reports.
	Timestamp *time.Time

	Latitude  float64
	Longitude float64

	// Ambiguity counts how many minute digits the sender blanked out,
	// 0 through 4. Blanked digits are read as zero.
	Ambiguity int

	SymbolTable byte
	SymbolCode  byte

	// Course in degrees true, Speed in knots, from the ccc/sss data
	// extension. Altitude in feet, from an /A= extension or a trailing
	// "<N> ft" comment suffix.
	Course   *float64
	Speed    *float64
	Altitude *float64

	// Comment is whatever text remains after the extensions are removed.
	Comment string
}

var (
	latPattern      = regexp.MustCompile(`^(\d{2})([0-9 ]{2}\.[0-9 ]{2})([NS])$`)
	lonPattern      = regexp.MustCompile(`^(\d{3})([0-9 ]{2}\.[0-9 ]{2})([EW])$`)
	courseSpeedExt  = regexp.MustCompile(`^(\d{3})/(\d{3})`)
	altitudeExt     = regexp.MustCompile(`/A=(-\d{5}|\d{6})`)
	altitudeComment = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*ft\.?\s*$`)
)

// Parse decodes one frame. Timed reports carry only a day or time of day;
// ref supplies the surrounding date, so pass the time the frame arrived.
func Parse(raw string, ref time.Time) (*Frame, error) {
	header, info, found := strings.Cut(raw, ":")
	if !found || info == "" {
		return nil, fmt.Errorf("no information field in %q", raw)
	}

	source, dest, found := strings.Cut(header, ">")
	if !found || source == "" || dest == "" {
		return nil, fmt.Errorf("malformed header %q", header)
	}

	hops := strings.Split(dest, ",")
	f := &Frame{
		Source:      strings.TrimSpace(source),
		Destination: hops[0],
	}
	for _, hop := range hops[1:] {
		hop = strings.TrimSuffix(strings.TrimSpace(hop), "*")
		if hop != "" {
			f.Path = append(f.Path, hop)
		}
	}

	body := info[1:]
	switch info[0] {
	case '!', '=':
		// Position without timestamp.
	case '/', '@':
		if len(body) < 7 {
			return nil, fmt.Errorf("truncated timestamp in %q", info)
		}
		ts, err := parseTimestamp(body[:7], ref)
		if err != nil {
			return nil, err
		}
		f.Timestamp = &ts
		body = body[7:]
	default:
		return nil, fmt.Errorf("%w: data type %q", ErrUnsupported, string(info[0]))
	}

	rest, err := f.parsePosition(body)
	if err != nil {
		return nil, err
	}
	rest = f.parseCourseSpeed(rest)
	f.Comment = f.parseAltitude(rest)
	return f, nil
}

// parsePosition consumes the 19-character uncompressed position block:
// 8 of latitude, the symbol table, 9 of longitude, the symbol code.
func (f *Frame) parsePosition(body string) (string, error) {
	if body == "" {
		return "", fmt.Errorf("empty position field")
	}
	if body[0] < '0' || body[0] > '9' {
		// Compressed positions open with the symbol table character.
		return "", fmt.Errorf("%w: compressed position", ErrUnsupported)
	}
	if len(body) < 19 {
		return "", fmt.Errorf("truncated position field %q", body)
	}

	m := latPattern.FindStringSubmatch(body[:8])
	if m == nil {
		return "", fmt.Errorf("malformed latitude %q", body[:8])
	}
	f.Ambiguity = strings.Count(m[2], " ")
	lat, err := degreesMinutes(m[1], m[2], 90)
	if err != nil {
		return "", fmt.Errorf("latitude: %w", err)
	}
	if m[3] == "S" {
		lat = -lat
	}
	f.Latitude = lat
	f.SymbolTable = body[8]

	m = lonPattern.FindStringSubmatch(body[9:18])
	if m == nil {
		return "", fmt.Errorf("malformed longitude %q", body[9:18])
	}
	lon, err := degreesMinutes(m[1], m[2], 180)
	if err != nil {
		return "", fmt.Errorf("longitude: %w", err)
	}
	if m[3] == "W" {
		lon = -lon
	}
	f.Longitude = lon
	f.SymbolCode = body[18]

	return body[19:], nil
}

// parseCourseSpeed consumes a leading ccc/sss data extension when present.
// Course 360 wraps to 0 per the on-air convention for due north.
func (f *Frame) parseCourseSpeed(rest string) string {
	m := courseSpeedExt.FindStringSubmatch(rest)
	if m == nil {
		return rest
	}
	course, _ := strconv.ParseFloat(m[1], 64)
	speed, _ := strconv.ParseFloat(m[2], 64)
	if course == 360 {
		course = 0
	}
	f.Course = &course
	f.Speed = &speed
	return rest[7:]
}

// parseAltitude pulls altitude out of the comment, preferring the /A=
// extension over a trailing feet suffix, and returns the remaining text.
func (f *Frame) parseAltitude(comment string) string {
	if m := altitudeExt.FindStringSubmatch(comment); m != nil {
		feet, _ := strconv.ParseFloat(m[1], 64)
		f.Altitude = &feet
		comment = strings.Replace(comment, m[0], "", 1)
		return strings.TrimSpace(comment)
	}
	if m := altitudeComment.FindStringSubmatch(comment); m != nil {
		feet, _ := strconv.ParseFloat(m[1], 64)
		f.Altitude = &feet
		comment = strings.TrimSuffix(comment, m[0])
		return strings.TrimSpace(comment)
	}
	return strings.TrimSpace(comment)
}

// degreesMinutes converts a ddmm.mm pair, reading blanked ambiguity
// digits as zero.
func degreesMinutes(degStr, minStr string, maxDeg float64) (float64, error) {
	deg, err := strconv.ParseFloat(degStr, 64)
	if err != nil {
		return 0, fmt.Errorf("bad degrees %q", degStr)
	}
	minutes, err := strconv.ParseFloat(strings.ReplaceAll(minStr, " ", "0"), 64)
	if err != nil {
		return 0, fmt.Errorf("bad minutes %q", minStr)
	}
	if minutes >= 60 {
		return 0, fmt.Errorf("minutes %v out of range", minutes)
	}
	val := deg + minutes/60
	if val > maxDeg {
		return 0, fmt.Errorf("coordinate %v exceeds %v", val, maxDeg)
	}
	return val, nil
}

// parseTimestamp completes a frame time against ref. Three on-air forms:
// DDHHMMz (day/hour/minute zulu), DDHHMM/ (same, station-local, treated
// as zulu here), HHMMSSh (time of day zulu).
func parseTimestamp(s string, ref time.Time) (time.Time, error) {
	digits := s[:6]
	for _, r := range digits {
		if r < '0' || r > '9' {
			return time.Time{}, fmt.Errorf("malformed timestamp %q", s)
		}
	}
	a, _ := strconv.Atoi(digits[0:2])
	b, _ := strconv.Atoi(digits[2:4])
	c, _ := strconv.Atoi(digits[4:6])
	ref = ref.UTC()

	switch s[6] {
	case 'z', '/':
		return dayHourMinute(a, b, c, ref)
	case 'h':
		if a > 23 || b > 59 || c > 59 {
			return time.Time{}, fmt.Errorf("time of day %q out of range", digits)
		}
		t := time.Date(ref.Year(), ref.Month(), ref.Day(), a, b, c, 0, time.UTC)
		// A frame cannot be from the future; beyond a little clock skew
		// it must have crossed midnight in transit.
		if t.After(ref.Add(5 * time.Minute)) {
			t = t.AddDate(0, 0, -1)
		}
		return t, nil
	default:
		return time.Time{}, fmt.Errorf("unknown timestamp indicator %q", string(s[6]))
	}
}

func dayHourMinute(day, hour, minute int, ref time.Time) (time.Time, error) {
	if day < 1 || day > 31 || hour > 23 || minute > 59 {
		return time.Time{}, fmt.Errorf("day-hour-minute %02d%02d%02d out of range", day, hour, minute)
	}
	year, month := ref.Year(), ref.Month()
	t := time.Date(year, month, day, hour, minute, 0, 0, time.UTC)
	if t.Day() != day || t.After(ref.Add(24*time.Hour)) {
		// The day number ran ahead of ref, so the frame is from last
		// month: day 31 received on the 1st, or a frame held in a
		// digipeater across the boundary.
		if month == time.January {
			year, month = year-1, time.December
		} else {
			month--
		}
		t = time.Date(year, month, day, hour, minute, 0, 0, time.UTC)
		if t.Day() != day {
			return time.Time{}, fmt.Errorf("impossible day of month %d", day)
		}
	}
	return t, nil
}
