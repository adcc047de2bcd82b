package metrics

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Pipeline bundles the worker fabric's instruments. Against the no-op
// global meter every method is a cheap no-op, so callers never guard.
type Pipeline struct {
	packetsProcessed metric.Int64Counter
	packetsFailed    metric.Int64Counter
	queueRetries     metric.Int64Counter
	positionEvents   metric.Int64Counter
	clockSkew        metric.Float64Histogram
}

// NewPipeline registers the pipeline instruments on the global meter.
func NewPipeline() (*Pipeline, error) {
	meter := otel.Meter("github.com/umich-balloons/tracker/internal/metrics")

	packetsProcessed, err := meter.Int64Counter("packets_processed_total",
		metric.WithDescription("Envelopes fully processed into telemetry rows."))
	if err != nil {
		return nil, err
	}
	packetsFailed, err := meter.Int64Counter("packets_failed_total",
		metric.WithDescription("Envelopes that failed processing, by failure reason."))
	if err != nil {
		return nil, err
	}
	queueRetries, err := meter.Int64Counter("queue_retries_total",
		metric.WithDescription("Retry attempts scheduled by the dispatcher."))
	if err != nil {
		return nil, err
	}
	positionEvents, err := meter.Int64Counter("position_events_total",
		metric.WithDescription("Position events published to the realtime channel."))
	if err != nil {
		return nil, err
	}
	clockSkew, err := meter.Float64Histogram("packet_clock_skew_seconds",
		metric.WithDescription("Seconds by which a packet's claimed time ran ahead of its envelope before clamping."),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	return &Pipeline{
		packetsProcessed: packetsProcessed,
		packetsFailed:    packetsFailed,
		queueRetries:     queueRetries,
		positionEvents:   positionEvents,
		clockSkew:        clockSkew,
	}, nil
}

func (p *Pipeline) PacketProcessed(ctx context.Context, transport string) {
	p.packetsProcessed.Add(ctx, 1, metric.WithAttributes(attribute.String("transport", transport)))
}

func (p *Pipeline) PacketFailed(ctx context.Context, transport, reason string) {
	p.packetsFailed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("transport", transport),
		attribute.String("reason", reason),
	))
}

func (p *Pipeline) QueueRetry(ctx context.Context, queue string) {
	p.queueRetries.Add(ctx, 1, metric.WithAttributes(attribute.String("queue", queue)))
}

func (p *Pipeline) PositionEvent(ctx context.Context) {
	p.positionEvents.Add(ctx, 1)
}

// ClockSkew records by how many seconds a packet claimed to be from the
// future of its own envelope.
func (p *Pipeline) ClockSkew(ctx context.Context, seconds float64) {
	p.clockSkew.Record(ctx, seconds)
}
