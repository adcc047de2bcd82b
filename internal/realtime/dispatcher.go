package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/umich-balloons/tracker/internal/broker"
	"github.com/umich-balloons/tracker/internal/grid"
	"github.com/umich-balloons/tracker/internal/model"
)

// receiveTimeout bounds each pub/sub read. A quiet channel is normal;
// hitting the timeout triggers a ping so a dead connection is noticed
// instead of being waited on forever.
const receiveTimeout = 45 * time.Second

// Dispatcher is the process-wide pub/sub consumer: one goroutine that
// receives position events and fans them out to the subscribed rooms.
// The cell an event belongs to is computed here from its coordinates;
// producers carry no routing hints.
type Dispatcher struct {
	broker   *broker.Broker
	registry *Registry
	grid     *grid.Grid
	channel  string
	log      *zap.Logger

	reconnectBackoff time.Duration
	errorBackoff     time.Duration
}

func NewDispatcher(b *broker.Broker, reg *Registry, g *grid.Grid, channel string, log *zap.Logger) *Dispatcher {
	return &Dispatcher{
		broker:           b,
		registry:         reg,
		grid:             g,
		channel:          channel,
		log:              log,
		reconnectBackoff: 10 * time.Second,
		errorBackoff:     5 * time.Second,
	}
}

// Run consumes the updates channel until ctx is canceled. A lost
// subscription is re-established with backoff; client registrations are
// untouched across reconnects, so viewers only miss events published
// while the subscription was down.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := d.consume(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		delay := d.errorBackoff
		if isConnError(err) {
			delay = d.reconnectBackoff
		}
		d.log.Warn("realtime subscription lost, reconnecting",
			zap.Error(err),
			zap.Duration("backoff", delay))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// consume holds one subscription open and fans out until it fails.
func (d *Dispatcher) consume(ctx context.Context) error {
	sub := d.broker.Subscribe(ctx, d.channel)
	defer func() { _ = sub.Close() }()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", d.channel, err)
	}
	d.log.Info("realtime dispatcher subscribed", zap.String("channel", d.channel))

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		msg, err := d.receive(ctx, sub)
		if err != nil {
			return err
		}
		if msg != nil {
			d.fanOut(msg.Payload)
		}
	}
}

// receive reads the next message, treating a quiet interval as a
// liveness probe cycle: ping, and keep waiting only if the ping lands.
func (d *Dispatcher) receive(ctx context.Context, sub *redis.PubSub) (*redis.Message, error) {
	raw, err := sub.ReceiveTimeout(ctx, receiveTimeout)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			if pingErr := sub.Ping(ctx); pingErr != nil {
				return nil, fmt.Errorf("liveness ping: %w", pingErr)
			}
			return nil, nil
		}
		return nil, err
	}

	switch m := raw.(type) {
	case *redis.Message:
		return m, nil
	default:
		// Subscription confirmations and pong replies.
		return nil, nil
	}
}

// fanOut routes one published event to every client in its cell's room.
// Clients whose sockets fail are torn down after the iteration so one
// dead viewer cannot stall or skip the rest of the room.
func (d *Dispatcher) fanOut(payload string) {
	var ev model.PositionEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		d.log.Warn("dropping undecodable position event", zap.Error(err))
		return
	}

	cell := d.grid.CellForPoint(ev.Latitude, ev.Longitude)
	if cell == "" {
		return
	}
	clients := d.registry.Snapshot(cell)
	if len(clients) == 0 {
		return
	}

	frame := ServerMessage{Type: TypeNewPosition, Data: ev}
	var failed []*Client
	for _, c := range clients {
		if err := c.WriteJSON(frame); err != nil {
			failed = append(failed, c)
		}
	}
	for _, c := range failed {
		d.registry.Disconnect(c)
		c.Close()
	}

	d.log.Debug("position broadcast",
		zap.String("cell", cell),
		zap.Int64("payload_id", ev.PayloadID),
		zap.Int("clients", len(clients)),
		zap.Int("failed", len(failed)),
	)
}

func isConnError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, io.EOF) || errors.Is(err, redis.ErrClosed)
}
