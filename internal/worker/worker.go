// Package worker turns queued transport envelopes into raw-message rows,
// telemetry rows and realtime position events. Every transport runs the
// same template; only the payload decode differs.
package worker

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/umich-balloons/tracker/internal/aprs"
	"github.com/umich-balloons/tracker/internal/broker"
	"github.com/umich-balloons/tracker/internal/dispatcher"
	"github.com/umich-balloons/tracker/internal/metrics"
	"github.com/umich-balloons/tracker/internal/model"
	"github.com/umich-balloons/tracker/internal/normalize"
	"github.com/umich-balloons/tracker/internal/store"
)

// Pipeline persists one envelope end to end: raw row first, then decode,
// normalize, identity resolution, telemetry upsert, provenance link, and
// finally a position event when the upsert inserted a new row.
type Pipeline struct {
	store   store.Querier
	broker  *broker.Broker
	norm    *normalize.Normalizer
	channel string
	metrics *metrics.Pipeline
	log     *zap.Logger
}

// New builds a pipeline publishing position events to the named channel.
func New(st store.Querier, b *broker.Broker, n *normalize.Normalizer, channel string, m *metrics.Pipeline, log *zap.Logger) *Pipeline {
	return &Pipeline{
		store:   st,
		broker:  b,
		norm:    n,
		channel: channel,
		metrics: m,
		log:     log,
	}
}

// Handlers returns the dispatch table for the transport work lists.
func (p *Pipeline) Handlers() map[string]dispatcher.HandlerFunc {
	return map[string]dispatcher.HandlerFunc{
		model.QueueAPRS:    p.HandleAPRS,
		model.QueueIridium: p.HandleIridium,
		model.QueueLoRa:    p.HandleLoRa,
	}
}

// decoded is a transport decode result: the dict handed to the
// normalizer, plus the frame-level facts only some transports carry.
type decoded struct {
	fields    map[string]any
	frameTime *time.Time
	relay     *string
}

// HandleAPRS processes one frame off the aprs list. The envelope payload
// is the frame in TNC2 text form.
func (p *Pipeline) HandleAPRS(ctx context.Context, queue string, env model.RawEnvelope) error {
	frameText := rawPayloadText(env.Payload)
	return p.process(ctx, queue, env, frameText, func() (*decoded, error) {
		frame, err := aprs.Parse(frameText, env.Timestamp)
		if err != nil {
			return nil, err
		}
		return aprsDecoded(frame), nil
	})
}

// HandleIridium processes one satellite webhook body off the iridium
// list.
func (p *Pipeline) HandleIridium(ctx context.Context, queue string, env model.RawEnvelope) error {
	return p.process(ctx, queue, env, rawPayloadText(env.Payload), func() (*decoded, error) {
		return decodeIridium(env.Payload)
	})
}

// HandleLoRa processes one JSON telemetry object off the lora list. The
// HTTP-JSON ingest path shares this list; the envelopes differ only in
// their method stamps.
func (p *Pipeline) HandleLoRa(ctx context.Context, queue string, env model.RawEnvelope) error {
	return p.process(ctx, queue, env, rawPayloadText(env.Payload), func() (*decoded, error) {
		return decodeJSONObject(env.Payload)
	})
}

// process runs the shared template. The raw row is written before any
// decode so a packet that fails later still leaves a trace with a null
// telemetry id. Decode and normalize failures are terminal; storage and
// broker failures are left transient for the dispatcher to retry.
func (p *Pipeline) process(ctx context.Context, transport string, env model.RawEnvelope, rawText string, decode func() (*decoded, error)) error {
	if env.Timestamp.IsZero() {
		env.Timestamp = time.Now().UTC()
	}
	if env.TransmitMethod == "" {
		env.TransmitMethod = transmitLabel(transport)
	}

	rawID, err := p.store.InsertRawMessage(ctx, store.InsertRawMessageParams{
		Sender:         env.Sender,
		RawData:        rawText,
		IngestMethod:   env.IngestMethod,
		TransmitMethod: env.TransmitMethod,
		DataTime:       env.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("insert raw message: %w", err)
	}

	d, err := decode()
	if err != nil {
		p.metrics.PacketFailed(ctx, transport, "decode")
		return dispatcher.Terminal(fmt.Errorf("decode %s payload: %w", transport, err))
	}

	pkt, err := p.norm.Normalize(d.fields)
	if err != nil {
		p.metrics.PacketFailed(ctx, transport, "normalize")
		return dispatcher.Terminal(fmt.Errorf("normalize %s packet: %w", transport, err))
	}

	// A packet cannot postdate its own arrival. Frame timestamps ahead
	// of the envelope are device clock skew; clamp and record it.
	pkt.DataTime = env.Timestamp
	if d.frameTime != nil {
		pkt.DataTime = d.frameTime.UTC()
	}
	if skew := pkt.DataTime.Sub(env.Timestamp); skew > 0 {
		p.metrics.ClockSkew(ctx, skew.Seconds())
		p.log.Warn("Packet timestamp ahead of arrival, clamping",
			zap.String("transport", transport),
			zap.Duration("skew", skew),
		)
		pkt.DataTime = env.Timestamp
	}

	if pkt.Callsign == "" {
		cs, err := p.store.LookupCallsignBySerial(ctx, pkt.Serial)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				p.metrics.PacketFailed(ctx, transport, "unprovisioned")
				return dispatcher.Terminal(fmt.Errorf("serial %q has no provisioned callsign: %w", pkt.Serial, err))
			}
			return fmt.Errorf("lookup callsign for serial %q: %w", pkt.Serial, err)
		}
		pkt.Callsign = cs
	}

	payloadID, err := p.store.GetOrCreatePayload(ctx, pkt.Callsign)
	if err != nil {
		return fmt.Errorf("resolve payload for %s: %w", pkt.Callsign, err)
	}

	telemetryID, inserted, err := p.store.UpsertTelemetry(ctx, payloadID, pkt)
	if err != nil {
		return fmt.Errorf("upsert telemetry: %w", err)
	}

	identifiers := []string{string(pkt.Callsign)}
	if d.relay != nil {
		identifiers = append(identifiers, *d.relay)
	}
	if err := p.store.LinkRawToTelemetry(ctx, store.LinkRawParams{
		RawID:       rawID,
		TelemetryID: telemetryID,
		Identifiers: identifiers,
		Relay:       d.relay,
	}); err != nil {
		return fmt.Errorf("link raw message %d: %w", rawID, err)
	}

	if inserted {
		event := model.PositionEvent{
			TelemetryID: telemetryID,
			PayloadID:   payloadID,
			Latitude:    pkt.Latitude,
			Longitude:   pkt.Longitude,
			Timestamp:   pkt.DataTime,
		}
		// The row is already persisted; a retry after a failed publish
		// would upsert a duplicate and never republish. Log and move on.
		if err := p.broker.Publish(ctx, p.channel, event); err != nil {
			p.log.Error("Position event publish failed",
				zap.String("transport", transport),
				zap.Int64("payload_id", payloadID),
				zap.Error(err),
			)
		} else {
			p.metrics.PositionEvent(ctx)
		}
	}

	p.metrics.PacketProcessed(ctx, transport)
	p.log.Info("Packet persisted",
		zap.String("transport", transport),
		zap.String("callsign", string(pkt.Callsign)),
		zap.Int64("payload_id", payloadID),
		zap.Bool("new_position", inserted),
	)
	return nil
}

// aprsDecoded flattens a parsed frame into the normalizer dict. Altitude
// and speed convert to SI here; the frame carries feet and knots.
func aprsDecoded(f *aprs.Frame) *decoded {
	fields := map[string]any{
		"callsign":  f.Source,
		"latitude":  f.Latitude,
		"longitude": f.Longitude,
	}
	if f.Altitude != nil {
		fields["altitude"] = *f.Altitude * normalize.FeetToMeters
	}
	if f.Speed != nil {
		fields["speed"] = *f.Speed * normalize.KnotsToMetersPerSecond
	}
	if f.Course != nil {
		fields["course"] = *f.Course
	}
	if f.Destination != "" {
		fields["destination"] = f.Destination
	}
	if len(f.Path) > 0 {
		fields["path"] = f.Path
	}
	if f.Comment != "" {
		fields["comment"] = f.Comment
	}
	if f.SymbolTable != 0 && f.SymbolCode != 0 {
		fields["symbol"] = string([]byte{f.SymbolTable, f.SymbolCode})
	}
	if f.Ambiguity > 0 {
		fields["position_ambiguity"] = f.Ambiguity
	}

	d := &decoded{fields: fields, frameTime: f.Timestamp}
	if len(f.Path) > 0 {
		relay := f.Path[len(f.Path)-1]
		d.relay = &relay
	}
	return d
}

// decodeIridium unwraps a satellite webhook: the device report rides in
// `data` as hex-encoded UTF-8 JSON. The webhook's serial and transmit
// time are mirrored into the report's extras, and serial doubles as the
// identity when the report has no callsign.
func decodeIridium(payload json.RawMessage) (*decoded, error) {
	webhook, err := normalize.DecodeObject(payload)
	if err != nil {
		return nil, fmt.Errorf("webhook body: %w", err)
	}

	dataField, ok := webhook["data"].(string)
	if !ok {
		return nil, errors.New("webhook data field missing or not a string")
	}
	report, err := hex.DecodeString(dataField)
	if err != nil {
		return nil, fmt.Errorf("data field is not hex: %w", err)
	}
	if !utf8.Valid(report) {
		return nil, errors.New("data field does not decode to UTF-8")
	}
	fields, err := normalize.DecodeObject(report)
	if err != nil {
		return nil, fmt.Errorf("data field is not a JSON object: %w", err)
	}

	extra, _ := fields["extra"].(map[string]any)
	if extra == nil {
		extra = make(map[string]any)
	}
	if serial, ok := webhook["serial"]; ok {
		if _, has := fields["serial"]; !has {
			fields["serial"] = serial
		}
		extra["serial"] = serial
	}
	if tt, ok := webhook["transmit_time"]; ok {
		extra["transmit_time"] = tt
	}
	if len(extra) > 0 {
		fields["extra"] = extra
	}
	return &decoded{fields: fields}, nil
}

// decodeJSONObject accepts either a JSON object or a JSON string that
// itself contains one, which is how the manual ingest paths wrap bodies.
func decodeJSONObject(payload json.RawMessage) (*decoded, error) {
	fields, err := normalize.DecodeObject(payload)
	if err == nil {
		return &decoded{fields: fields}, nil
	}

	var s string
	if err2 := json.Unmarshal(payload, &s); err2 == nil {
		fields, err2 = normalize.DecodeObject([]byte(s))
		if err2 != nil {
			return nil, fmt.Errorf("payload string is not a JSON object: %w", err2)
		}
		return &decoded{fields: fields}, nil
	}
	return nil, fmt.Errorf("payload is not a JSON object: %w", err)
}

// transmitLabel maps a work list name to the radio-link label recorded
// on raw rows when a producer left the envelope field empty. Producers
// other than our own API push to the lists directly and rarely fill it.
func transmitLabel(queue string) string {
	switch queue {
	case model.QueueAPRS:
		return "APRS"
	case model.QueueIridium:
		return "Iridium"
	case model.QueueLoRa:
		return "LoRa"
	}
	return queue
}

// rawPayloadText is what lands in the raw-message row: the sender's text
// as transmitted, unquoted when the envelope wrapped it in a JSON string.
func rawPayloadText(payload json.RawMessage) string {
	var s string
	if err := json.Unmarshal(payload, &s); err == nil {
		return s
	}
	return string(payload)
}
