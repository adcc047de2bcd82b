package normalize

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Axis selects the bounds and direction letters for a coordinate.
type Axis string

const (
	AxisLat Axis = "lat"
	AxisLon Axis = "lon"
)

// Degrees, then optional minutes after a colon/degree-sign/space separator,
// then optional seconds after a colon/quote/space separator. Minutes and
// seconds both accept decimals so "42:17.67N" style fixes parse. Direction
// letter is optional and case-insensitive.
var dmsPattern = regexp.MustCompile(`^(\d{1,3})(?:[:°\s]+(\d{1,2}(?:\.\d+)?)(?:[:'\s]+(\d{1,2}(?:\.\d+)?)["\s]*)?)?\s*([NSEWnsew])?$`)

// ParseCoordinate coerces a coordinate of any wire type into decimal degrees.
//
//   - float: already decimal degrees.
//   - int: decimal degrees scaled by 10000 (common for devices that avoid
//     floats on the air), so 424217 means 42.4217.
//   - string: degrees/minutes/seconds with flexible separators and an
//     optional direction letter; falls back to a plain numeric string.
//
// The result must lie within [-90, 90] for latitude and [-180, 180] for
// longitude.
func ParseCoordinate(value any, axis Axis) (float64, error) {
	var dd float64

	switch v := value.(type) {
	case float64:
		dd = v
	case float32:
		dd = float64(v)
	case int:
		dd = float64(v) / 10000.0
	case int64:
		dd = float64(v) / 10000.0
	case json.Number:
		// Integer-looking numbers keep the scaled-int rule; anything with a
		// fraction or exponent is taken as decimal degrees directly.
		if n, err := v.Int64(); err == nil && !strings.ContainsAny(v.String(), ".eE") {
			dd = float64(n) / 10000.0
		} else {
			f, err := v.Float64()
			if err != nil {
				return 0, fmt.Errorf("invalid numeric coordinate %q", v.String())
			}
			dd = f
		}
	case string:
		parsed, err := parseDMS(strings.TrimSpace(v), axis)
		if err != nil {
			return 0, err
		}
		dd = parsed
	default:
		return 0, fmt.Errorf("invalid type %T for coordinate", value)
	}

	limit := 90.0
	if axis == AxisLon {
		limit = 180.0
	}
	if dd < -limit || dd > limit {
		return 0, fmt.Errorf("coordinate %.6f out of bounds (±%g)", dd, limit)
	}
	return dd, nil
}

func parseDMS(s string, axis Axis) (float64, error) {
	m := dmsPattern.FindStringSubmatch(s)
	if m == nil {
		// Not DMS shaped; maybe it is just a stringified number
		// (negative decimal degrees land here since DMS is unsigned).
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid DMS or numeric string %q", s)
		}
		return f, nil
	}

	degrees, _ := strconv.ParseFloat(m[1], 64)
	var minutes, seconds float64
	if m[2] != "" {
		minutes, _ = strconv.ParseFloat(m[2], 64)
	}
	if m[3] != "" {
		seconds, _ = strconv.ParseFloat(m[3], 64)
	}
	if minutes >= 60 || seconds >= 60 {
		return 0, fmt.Errorf("invalid DMS values (minutes/seconds >= 60) in %q", s)
	}

	dd := degrees + minutes/60.0 + seconds/3600.0

	if dir := strings.ToUpper(m[4]); dir != "" {
		switch {
		case axis == AxisLat && dir != "N" && dir != "S":
			return 0, fmt.Errorf("invalid direction %q for latitude", dir)
		case axis == AxisLon && dir != "E" && dir != "W":
			return 0, fmt.Errorf("invalid direction %q for longitude", dir)
		}
		if dir == "S" || dir == "W" {
			dd = -dd
		}
	}
	return dd, nil
}
