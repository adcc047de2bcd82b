package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/umich-balloons/tracker/internal/model"
)

// Querier is the persistence surface the workers and handlers program
// against. Store implements it over a pgx pool; tests substitute the
// generated mock in internal/store/mock.
type Querier interface {
	// GetOrCreatePayload resolves a callsign to its payload id, creating
	// the payload on first sighting. Payloads are never deleted.
	GetOrCreatePayload(ctx context.Context, callsign model.Callsign) (int64, error)

	// LookupCallsignBySerial maps a satellite modem serial to the
	// callsign it was provisioned under. Returns pgx.ErrNoRows wrapped
	// when the serial is unknown.
	LookupCallsignBySerial(ctx context.Context, serial string) (model.Callsign, error)

	// InsertRawMessage appends the provenance row for a received
	// envelope and returns its id. Always runs before decoding, so a
	// packet that fails later still leaves a trace.
	InsertRawMessage(ctx context.Context, arg InsertRawMessageParams) (int64, error)

	// UpsertTelemetry inserts or merges one telemetry row for
	// (payloadID, pkt.DataTime). The returned bool is true iff no prior
	// row existed for that key.
	UpsertTelemetry(ctx context.Context, payloadID int64, pkt *model.Packet) (uuid.UUID, bool, error)

	// LinkRawToTelemetry points a raw-message row at the telemetry row
	// it produced and completes its provenance chain.
	LinkRawToTelemetry(ctx context.Context, arg LinkRawParams) error

	// GetTelemetry fetches the detail fields of one telemetry row by its
	// natural key. Returns (nil, nil) when no row matches.
	GetTelemetry(ctx context.Context, payloadID int64, timestamp string) (*TelemetryDetail, error)

	// PathSegments returns the precomputed path segments that overlap
	// both the box and the trailing history window.
	PathSegments(ctx context.Context, box model.Bbox, historySeconds int) ([]PathSegment, error)

	// RefreshPathView rebuilds the materialized path view without
	// blocking readers.
	RefreshPathView(ctx context.Context) error
}

// InsertRawMessageParams carries the envelope fields persisted before
// decoding. Sources start as [Sender, network tag]; the normalized
// identifiers are prepended later by LinkRawToTelemetry.
type InsertRawMessageParams struct {
	Sender         string
	RawData        string
	IngestMethod   string
	TransmitMethod string
	DataTime       time.Time
}

// LinkRawParams completes a raw-message row once its packet persisted.
// Identifiers holds the originating callsign followed by the relay chain
// and is prepended to the row's sources; the first element becomes the
// row's source_id.
type LinkRawParams struct {
	RawID       int64
	TelemetryID uuid.UUID
	Identifiers []string
	Relay       *string
}

// TelemetryDetail is the non-positional remainder of a telemetry row,
// served to viewers who click a point they already see on the map.
type TelemetryDetail struct {
	Altitude *float64       `json:"altitude"`
	Speed    *float64       `json:"speed"`
	Course   *float64       `json:"course"`
	Battery  *float64       `json:"battery"`
	Accuracy *float64       `json:"accuracy"`
	Extra    map[string]any `json:"extra"`
}

// PathSegment is one row of the materialized path view: a line geometry
// already encoded as GeoJSON by the database.
type PathSegment struct {
	PayloadID int64
	GeoJSON   string
}
