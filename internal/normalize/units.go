package normalize

import "fmt"

// Conversion factors to meters, keyed by unit name as it appears in device
// configs and transport encodings.
var altitudeToMeters = map[string]float64{
	"meters":         1.0,
	"metres":         1.0,
	"m":              1.0,
	"kilometers":     1000.0,
	"kilometres":     1000.0,
	"km":             1000.0,
	"feet":           0.3048,
	"ft":             0.3048,
	"miles":          1609.344,
	"mi":             1609.344,
	"nautical miles": 1852.0,
	"nm":             1852.0,
	"nmi":            1852.0,
}

// Conversion factors to meters per second.
var speedToMetersPerSecond = map[string]float64{
	"meters_per_second":   1.0,
	"mps":                 1.0,
	"m/s":                 1.0,
	"kilometers_per_hour": 1000.0 / 3600.0,
	"km/h":                1000.0 / 3600.0,
	"kph":                 1000.0 / 3600.0,
	"miles_per_hour":      1609.344 / 3600.0,
	"mph":                 1609.344 / 3600.0,
	"knots":               1852.0 / 3600.0,
	"kts":                 1852.0 / 3600.0,
	"kt":                  1852.0 / 3600.0,
	"feet_per_second":     0.3048,
	"fps":                 0.3048,
	"ft/s":                0.3048,
}

// Factors the transport decoders apply directly: APRS encodes altitude in
// feet and speed in knots.
const (
	FeetToMeters           = 0.3048
	KnotsToMetersPerSecond = 1852.0 / 3600.0
)

// AltitudeToMeters converts an altitude reading from the named unit.
func AltitudeToMeters(value float64, unit string) (float64, error) {
	factor, ok := altitudeToMeters[unit]
	if !ok {
		return 0, fmt.Errorf("unknown altitude unit %q", unit)
	}
	return value * factor, nil
}

// SpeedToMetersPerSecond converts a speed reading from the named unit.
func SpeedToMetersPerSecond(value float64, unit string) (float64, error) {
	factor, ok := speedToMetersPerSecond[unit]
	if !ok {
		return 0, fmt.Errorf("unknown speed unit %q", unit)
	}
	return value * factor, nil
}
