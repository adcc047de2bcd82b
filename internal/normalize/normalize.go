// Package normalize turns the loosely-typed dicts produced by the transport
// decoders into canonical telemetry packets: decimal-degree coordinates,
// meters, meters per second, volts.
package normalize

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/umich-balloons/tracker/internal/model"
)

// Alias sets for each canonical field, in resolution priority order. Keys
// are matched after lowercasing, so "Lat", "LAT" and "lat" are the same.
var fieldAliases = map[string][]string{
	"callsign":  {"callsign", "call"},
	"serial":    {"serial", "imei"},
	"latitude":  {"latitude", "lat", "latitude_deg", "lat_deg", "lat_dd"},
	"longitude": {"longitude", "lon", "longitude_deg", "lon_deg", "lon_dd"},
	"accuracy":  {"accuracy", "acc", "hdop", "cep"},
	"altitude":  {"altitude", "alt", "elevation", "elev", "height", "hgt"},
	"speed":     {"speed", "spd"},
	"course":    {"heading", "hdg", "course", "cse", "direction", "dir"},
	"battery":   {"battery_voltage", "voltage", "batt_v", "vbatt", "battery", "bat", "volt", "v"},
}

// An explicit extras field under any of these names is merged into the
// collected extras instead of being treated as telemetry.
var extraAliases = []string{"extra", "telem", "telemetry"}

var knownKeys = func() map[string]bool {
	keys := make(map[string]bool)
	for _, aliases := range fieldAliases {
		for _, a := range aliases {
			keys[a] = true
		}
	}
	for _, a := range extraAliases {
		keys[a] = true
	}
	return keys
}()

// Normalizer validates and coerces decoded telemetry dicts into packets.
type Normalizer struct {
	log *zap.Logger

	// strictVoltage disables the tenths-of-a-volt heuristic for integer
	// battery readings in [20, 60].
	strictVoltage bool
}

func New(log *zap.Logger, strictVoltage bool) *Normalizer {
	return &Normalizer{log: log, strictVoltage: strictVoltage}
}

// Normalize maps aliases onto canonical fields, coerces values into SI
// units, and collects everything unrecognized into the packet's extras.
//
// Required fields (an identifier plus both coordinates) reject the whole
// packet when missing or invalid. Optional fields are dropped individually
// with a warning, so one bad battery reading never costs us a position fix.
func (n *Normalizer) Normalize(data map[string]any) (*model.Packet, error) {
	lowered := make(map[string]any, len(data))
	for k, v := range data {
		lowered[strings.ToLower(k)] = v
	}

	// Partition the input: known aliases feed fields, an explicit extras
	// map is held aside, and every unknown key becomes a sibling extra.
	// On a key clash the explicit extras entry wins over a sibling.
	siblings := make(map[string]any)
	explicit := make(map[string]any)
	for k, v := range lowered {
		if isExtraAlias(k) {
			if m, ok := v.(map[string]any); ok {
				for ek, ev := range m {
					explicit[ek] = ev
				}
			} else {
				siblings[k] = v
			}
			continue
		}
		if !knownKeys[k] {
			siblings[k] = v
		}
	}

	pkt := &model.Packet{}

	if v, ok := resolve(lowered, "callsign"); ok {
		s, isStr := v.(string)
		if !isStr {
			return nil, fmt.Errorf("callsign: expected string, got %T", v)
		}
		cs, err := model.ParseCallsign(s)
		if err != nil {
			return nil, err
		}
		pkt.Callsign = cs
	}

	if v, ok := resolve(lowered, "serial"); ok {
		serial, err := parseSerial(v)
		if err != nil {
			return nil, fmt.Errorf("serial: %w", err)
		}
		pkt.Serial = serial
	}

	if !pkt.HasIdentifier() {
		return nil, fmt.Errorf("packet carries no identifier: need callsign or serial")
	}

	v, ok := resolve(lowered, "latitude")
	if !ok {
		return nil, fmt.Errorf("missing required field latitude")
	}
	lat, err := ParseCoordinate(v, AxisLat)
	if err != nil {
		return nil, fmt.Errorf("latitude: %w", err)
	}
	pkt.Latitude = lat

	v, ok = resolve(lowered, "longitude")
	if !ok {
		return nil, fmt.Errorf("missing required field longitude")
	}
	lon, err := ParseCoordinate(v, AxisLon)
	if err != nil {
		return nil, fmt.Errorf("longitude: %w", err)
	}
	pkt.Longitude = lon

	pkt.Accuracy = n.optionalFloat(lowered, "accuracy")
	pkt.Altitude = n.optionalFloat(lowered, "altitude")
	pkt.Speed = n.optionalFloat(lowered, "speed")

	if c := n.optionalFloat(lowered, "course"); c != nil {
		wrapped := math.Mod(*c, 360)
		if wrapped < 0 {
			wrapped += 360
		}
		pkt.Course = &wrapped
	}

	if v, ok := resolve(lowered, "battery"); ok && v != nil {
		volts, scaled, err := NormalizeVoltage(v, n.strictVoltage)
		if err != nil {
			n.log.Warn("Dropping invalid battery value",
				zap.Any("value", v),
				zap.Error(err),
			)
		} else {
			if scaled {
				n.log.Warn("Assuming integer battery value is scaled tenths of a volt",
					zap.Any("value", v),
					zap.Float64("volts", volts),
				)
			}
			pkt.Battery = &volts
		}
	}

	if len(siblings) > 0 || len(explicit) > 0 {
		extra := make(map[string]any, len(siblings)+len(explicit))
		for k, v := range siblings {
			extra[k] = v
		}
		for k, v := range explicit {
			extra[k] = v
		}
		pkt.Extra = extra
	}

	return pkt, nil
}

// optionalFloat coerces an optional numeric field, dropping it with a
// warning when the value does not parse.
func (n *Normalizer) optionalFloat(data map[string]any, field string) *float64 {
	v, ok := resolve(data, field)
	if !ok || v == nil {
		return nil
	}
	f, err := toFloat(v)
	if err != nil {
		n.log.Warn("Dropping unparseable optional field",
			zap.String("field", field),
			zap.Any("value", v),
		)
		return nil
	}
	return &f
}

// resolve returns the value for the first alias of the canonical field
// present in the data.
func resolve(data map[string]any, field string) (any, bool) {
	for _, alias := range fieldAliases[field] {
		if v, ok := data[alias]; ok {
			return v, true
		}
	}
	return nil, false
}

func isExtraAlias(key string) bool {
	for _, a := range extraAliases {
		if key == a {
			return true
		}
	}
	return false
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case json.Number:
		return n.Float64()
	case string:
		return strconv.ParseFloat(strings.TrimSpace(n), 64)
	default:
		return 0, fmt.Errorf("not numeric: %T", v)
	}
}

// parseSerial accepts modem serials as integers or digit strings and
// canonicalizes them to a decimal string.
func parseSerial(v any) (string, error) {
	switch s := v.(type) {
	case string:
		t := strings.TrimSpace(s)
		if t == "" || !allDigits(t) {
			return "", fmt.Errorf("expected numeric serial, got %q", s)
		}
		return t, nil
	case json.Number:
		if _, err := s.Int64(); err != nil {
			return "", fmt.Errorf("expected integer serial, got %q", s.String())
		}
		return s.String(), nil
	case int:
		return strconv.Itoa(s), nil
	case int64:
		return strconv.FormatInt(s, 10), nil
	case float64:
		if s != math.Trunc(s) {
			return "", fmt.Errorf("expected integer serial, got %v", s)
		}
		return strconv.FormatInt(int64(s), 10), nil
	default:
		return "", fmt.Errorf("invalid type %T for serial", v)
	}
}

func allDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// DecodeObject parses a raw JSON object while preserving the int/float
// distinction via json.Number, which the scaled-int coordinate rule
// depends on. A plain json.Unmarshal into map[string]any would flatten
// every number to float64 and integer coordinates would stop dividing.
func DecodeObject(raw []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, err
	}
	return m, nil
}
