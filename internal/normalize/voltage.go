package normalize

import (
	"encoding/json"
	"fmt"
	"strings"
)

// NormalizeVoltage coerces a battery reading into volts.
//
// Devices report battery in three common encodings and rarely say which:
//   - millivolts (3892): anything above 1000 is divided by 1000.
//   - tenths of a volt (38): an integer in [20, 60] is divided by 10. This
//     matches LiPo packs reading 2.0-6.0 V but is a heuristic (24 could be a
//     24 V supply), so it is skipped when strict is true and the caller is
//     expected to warn when scaled comes back true.
//   - volts (3.8): everything else.
//
// Negative values and non-numeric types are rejected.
func NormalizeVoltage(value any, strict bool) (volts float64, scaled bool, err error) {
	var f float64
	var isInt bool

	switch v := value.(type) {
	case float64:
		f = v
	case float32:
		f = float64(v)
	case int:
		f, isInt = float64(v), true
	case int64:
		f, isInt = float64(v), true
	case json.Number:
		if n, numErr := v.Int64(); numErr == nil && !strings.ContainsAny(v.String(), ".eE") {
			f, isInt = float64(n), true
		} else if f, numErr = v.Float64(); numErr != nil {
			return 0, false, fmt.Errorf("invalid numeric voltage %q", v.String())
		}
	default:
		return 0, false, fmt.Errorf("invalid type %T for voltage", value)
	}

	if f < 0 {
		return 0, false, fmt.Errorf("voltage cannot be negative")
	}

	if f > 1000.0 {
		return f / 1000.0, false, nil
	}

	if !strict && isInt && f >= 20 && f <= 60 {
		return f / 10.0, true, nil
	}

	return f, false, nil
}
