package model

import (
	"time"

	"github.com/google/uuid"
)

// Packet is a position/telemetry report after normalization: coordinates in
// decimal degrees, altitude in meters, speed in m/s, battery in volts.
// Exactly the shape the storage layer persists.
//
// Optional fields are pointers so "absent" and "zero" stay distinguishable
// all the way into the database. An altitude of 0 m is a real reading; a nil
// altitude means the device never sent one.
type Packet struct {
	// Callsign of the original transmitter. Either Callsign or Serial must
	// be set; the normalizer rejects packets with neither.
	Callsign Callsign

	// Serial is a modem serial (e.g. an Iridium IMEI) for devices that do
	// not transmit a callsign. The worker maps it to a provisioned callsign
	// before the packet is persisted.
	Serial string

	Latitude  float64
	Longitude float64

	// Accuracy of the GPS fix in meters (HDOP/CEP style figures).
	Accuracy *float64
	// Altitude above sea level in meters.
	Altitude *float64
	// Speed over ground in m/s.
	Speed *float64
	// Course over ground in degrees, [0, 360).
	Course *float64
	// Battery voltage in volts.
	Battery *float64

	// Extra holds any telemetry we do not model. Unknown top-level keys land
	// here alongside the content of an explicit extra/telem field.
	Extra map[string]any

	// DataTime is when the device took the fix, when the transport encodes
	// one (APRS timestamped frames, Iridium transmit time). Zero means the
	// worker should fall back to the envelope receipt time.
	DataTime time.Time
}

// HasIdentifier reports whether the packet can be attributed to a device.
func (p *Packet) HasIdentifier() bool {
	return p.Callsign != "" || p.Serial != ""
}

// PositionEvent is published to the realtime channel whenever a brand-new
// telemetry row is inserted. Updates to existing rows (duplicates, accuracy
// refinements) do not emit events; clients already hold that position.
type PositionEvent struct {
	TelemetryID uuid.UUID `json:"telemetry_id"`
	PayloadID   int64     `json:"payload_id"`
	Latitude    float64   `json:"lat"`
	Longitude   float64   `json:"lon"`
	Timestamp   time.Time `json:"ts"`
}
