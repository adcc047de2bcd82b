package model

import (
	"encoding/json"
	"time"
)

// Queue names shared by the ingress API (producer) and the worker
// (consumer). Each transport gets its own Redis list so a burst on one
// link cannot starve the others. The two trigger queues carry scheduled
// and manually requested maintenance jobs rather than transmissions.
const (
	QueueAPRS          = "aprs"
	QueueLoRa          = "lora"
	QueueIridium       = "iridium"
	QueuePredictFlight = "predict_flight"
	QueueGetPath       = "get_path"

	// QueueDeadLetter receives envelopes that exhausted their retries,
	// wrapped in a DeadLetter record. Nothing consumes it automatically;
	// it exists for operators to inspect and requeue by hand.
	QueueDeadLetter = "dead_letter"
)

// WorkQueues lists every queue the dispatcher blocks on, in priority
// order: BLPOP checks them left to right, so live transmissions win
// over maintenance triggers when several lists hold entries.
var WorkQueues = []string{
	QueueAPRS,
	QueueIridium,
	QueueLoRa,
	QueuePredictFlight,
	QueueGetPath,
}

// RawEnvelope wraps a received transmission on its way from the ingress API
// to the background workers. The envelope records where the message came
// from and when we got it; the payload itself stays untouched until a
// worker decodes it.
//
// Payload uses json.RawMessage so the original bytes survive the queue
// verbatim. A []byte field would be base64-encoded by encoding/json and the
// decoders downstream would see mangled input.
type RawEnvelope struct {
	// Sender identifies who handed us the message: an iGate callsign, a
	// gateway ID, or the client IP when the body names nothing better.
	Sender string `json:"sender"`

	// Payload is the transmission as received. For APRS and LoRa this is
	// the body's data field; for Iridium it is the entire webhook body.
	Payload json.RawMessage `json:"payload"`

	// Timestamp is when the ingress API accepted the message, except for
	// Iridium where the constellation's transmit time is used instead.
	Timestamp time.Time `json:"timestamp"`

	// IngestMethod records the delivery path into our API ("HTTP", "MQTT").
	IngestMethod string `json:"ingest_method,omitempty"`

	// TransmitMethod records the radio link the message arrived over. The
	// worker stamps it from the queue name when the envelope leaves it empty.
	TransmitMethod string `json:"transmit_method,omitempty"`
}

// TriggerEnvelope builds the envelope enqueued on the predict_flight and
// get_path queues. Payload is the target payload ID, or empty for a
// fleet-wide run. Sender is "scheduler" for cron ticks and the client IP
// for manual requests.
func TriggerEnvelope(sender, payloadID string, now time.Time) RawEnvelope {
	raw, _ := json.Marshal(payloadID)
	return RawEnvelope{
		Sender:    sender,
		Payload:   raw,
		Timestamp: now.UTC(),
	}
}

// DeadLetter is the record pushed onto the dead_letter list when an
// envelope fails its final retry. It keeps the original envelope intact
// so the message can be replayed once the underlying fault is fixed.
type DeadLetter struct {
	Queue    string      `json:"queue"`
	Envelope RawEnvelope `json:"envelope"`
	Error    string      `json:"error"`
	Attempts int         `json:"attempts"`
	FailedAt time.Time   `json:"failed_at"`
}
