// Package store persists payloads, raw messages and telemetry in
// Postgres/PostGIS through a pgx pool.
//
// Schema contract (DDL lives in the deployment repo):
//
//	payloads           id BIGSERIAL PK, callsign TEXT UNIQUE, name TEXT
//	iridium_devices    serial TEXT PK, callsign TEXT
//	raw_messages       id BIGSERIAL PK, source_id, sources TEXT[], raw_data,
//	                   ingest_method, transmit_method, relay, data_time,
//	                   telemetry_id UUID NULL
//	telemetry          id UUID PK, payload_id, data_time, position
//	                   geography(Point,4326), accuracy, altitude, speed,
//	                   course, battery, extra JSONB, last_updated,
//	                   UNIQUE (payload_id, data_time)
//	mv_payload_path_segments
//	                   payload_id, segment_start_time, segment_end_time,
//	                   path_segment geography(LineString), with a unique
//	                   index on (payload_id, segment_start_time) so the
//	                   view refreshes CONCURRENTLY
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/exaring/otelpgx"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/umich-balloons/tracker/internal/model"
)

// NetworkTag marks our ingest network in every raw message's source
// chain, after the immediate sender.
const NetworkTag = "UMICH-BALLOONS"

// NewPool builds the process-wide connection pool: small floor so idle
// workers keep a warm connection, hourly recycle, minutely health check.
func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MinConns = 1
	cfg.MaxConns = 10
	cfg.MaxConnLifetime = time.Hour
	cfg.HealthCheckPeriod = time.Minute
	cfg.ConnConfig.ConnectTimeout = 10 * time.Second
	cfg.ConnConfig.Tracer = otelpgx.NewTracer()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// Store implements Querier over a pgx pool.
type Store struct {
	pool *pgxpool.Pool
}

var _ Querier = (*Store)(nil)

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) GetOrCreatePayload(ctx context.Context, callsign model.Callsign) (int64, error) {
	// The no-op DO UPDATE makes RETURNING yield the row on both paths.
	// A new payload's display name defaults to its callsign.
	const q = `
		INSERT INTO payloads (callsign, name)
		VALUES ($1, $1)
		ON CONFLICT (callsign) DO UPDATE SET callsign = EXCLUDED.callsign
		RETURNING id`

	var id int64
	if err := s.pool.QueryRow(ctx, q, string(callsign)).Scan(&id); err != nil {
		return 0, fmt.Errorf("get or create payload %s: %w", callsign, err)
	}
	return id, nil
}

func (s *Store) LookupCallsignBySerial(ctx context.Context, serial string) (model.Callsign, error) {
	const q = `SELECT callsign FROM iridium_devices WHERE serial = $1`

	var callsign string
	if err := s.pool.QueryRow(ctx, q, serial).Scan(&callsign); err != nil {
		return "", fmt.Errorf("lookup serial %s: %w", serial, err)
	}
	return model.Callsign(callsign), nil
}

func (s *Store) InsertRawMessage(ctx context.Context, arg InsertRawMessageParams) (int64, error) {
	const q = `
		INSERT INTO raw_messages (source_id, sources, raw_data, ingest_method, transmit_method, data_time)
		VALUES ($1, ARRAY[$1, $2], $3, $4, $5, $6)
		RETURNING id`

	var id int64
	err := s.pool.QueryRow(ctx, q,
		arg.Sender, NetworkTag, arg.RawData, arg.IngestMethod, arg.TransmitMethod, arg.DataTime,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert raw message: %w", err)
	}
	return id, nil
}

func (s *Store) UpsertTelemetry(ctx context.Context, payloadID int64, pkt *model.Packet) (uuid.UUID, bool, error) {
	// Merge rules on conflict: a strictly better (smaller) accuracy
	// replaces both position and accuracy, with a stored NULL accuracy
	// counting as worst; the remaining fields only fill stored NULLs.
	const q = `
		INSERT INTO telemetry (payload_id, data_time, position, accuracy, altitude, speed, course, battery, extra)
		VALUES ($1, $2, ST_SetSRID(ST_MakePoint($3, $4), 4326)::geography, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (payload_id, data_time) DO UPDATE SET
			position = CASE
				WHEN EXCLUDED.accuracy IS NOT NULL AND (telemetry.accuracy IS NULL OR EXCLUDED.accuracy < telemetry.accuracy)
				THEN EXCLUDED.position ELSE telemetry.position END,
			accuracy = CASE
				WHEN EXCLUDED.accuracy IS NOT NULL AND (telemetry.accuracy IS NULL OR EXCLUDED.accuracy < telemetry.accuracy)
				THEN EXCLUDED.accuracy ELSE telemetry.accuracy END,
			altitude     = COALESCE(telemetry.altitude, EXCLUDED.altitude),
			speed        = COALESCE(telemetry.speed, EXCLUDED.speed),
			course       = COALESCE(telemetry.course, EXCLUDED.course),
			battery      = COALESCE(telemetry.battery, EXCLUDED.battery),
			extra        = COALESCE(telemetry.extra, EXCLUDED.extra),
			last_updated = now()
		RETURNING id, (xmax = 0)`

	var extra any
	if pkt.Extra != nil {
		extra = pkt.Extra
	}

	var (
		id          uuid.UUID
		wasInserted bool
	)
	err := s.pool.QueryRow(ctx, q,
		payloadID, pkt.DataTime, pkt.Longitude, pkt.Latitude,
		pkt.Accuracy, pkt.Altitude, pkt.Speed, pkt.Course, pkt.Battery, extra,
	).Scan(&id, &wasInserted)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("upsert telemetry payload=%d: %w", payloadID, err)
	}
	return id, wasInserted, nil
}

func (s *Store) LinkRawToTelemetry(ctx context.Context, arg LinkRawParams) error {
	if len(arg.Identifiers) == 0 {
		return errors.New("link raw message: no identifiers")
	}
	const q = `
		UPDATE raw_messages
		SET telemetry_id = $2,
		    sources      = $3 || sources,
		    source_id    = $4,
		    relay        = $5
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, q,
		arg.RawID, arg.TelemetryID, arg.Identifiers, arg.Identifiers[0], arg.Relay,
	)
	if err != nil {
		return fmt.Errorf("link raw message %d: %w", arg.RawID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("link raw message %d: no such row", arg.RawID)
	}
	return nil
}

func (s *Store) GetTelemetry(ctx context.Context, payloadID int64, timestamp string) (*TelemetryDetail, error) {
	const q = `
		SELECT altitude, speed, course, battery, accuracy, extra
		FROM telemetry
		WHERE payload_id = $1 AND data_time = $2::timestamptz
		LIMIT 1`

	var d TelemetryDetail
	err := s.pool.QueryRow(ctx, q, payloadID, timestamp).
		Scan(&d.Altitude, &d.Speed, &d.Course, &d.Battery, &d.Accuracy, &d.Extra)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get telemetry payload=%d at %s: %w", payloadID, timestamp, err)
	}
	return &d, nil
}

func (s *Store) PathSegments(ctx context.Context, box model.Bbox, historySeconds int) ([]PathSegment, error) {
	const q = `
		SELECT mv.payload_id, ST_AsGeoJSON(mv.path_segment)
		FROM mv_payload_path_segments mv
		WHERE TSTZRANGE(mv.segment_start_time, mv.segment_end_time, '[]')
		      && TSTZRANGE(NOW() AT TIME ZONE 'utc' - $1::interval, NOW() AT TIME ZONE 'utc', '[]')
		  AND ST_Intersects(mv.path_segment, ST_MakeEnvelope($2, $3, $4, $5, 4326)::geography)`

	interval := fmt.Sprintf("%d seconds", historySeconds)
	rows, err := s.pool.Query(ctx, q, interval, box.MinLon, box.MinLat, box.MaxLon, box.MaxLat)
	if err != nil {
		return nil, fmt.Errorf("query path segments: %w", err)
	}
	defer rows.Close()

	var segments []PathSegment
	for rows.Next() {
		var seg PathSegment
		if err := rows.Scan(&seg.PayloadID, &seg.GeoJSON); err != nil {
			return nil, fmt.Errorf("scan path segment: %w", err)
		}
		segments = append(segments, seg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read path segments: %w", err)
	}
	return segments, nil
}

func (s *Store) RefreshPathView(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `REFRESH MATERIALIZED VIEW CONCURRENTLY mv_payload_path_segments`); err != nil {
		return fmt.Errorf("refresh path view: %w", err)
	}
	return nil
}
