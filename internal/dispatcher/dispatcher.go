// Package dispatcher drains the transport and trigger lists into their
// handlers with bounded concurrency, retrying transient failures and
// dead-lettering envelopes that exhaust their retries.
package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/umich-balloons/tracker/internal/broker"
	"github.com/umich-balloons/tracker/internal/metrics"
	"github.com/umich-balloons/tracker/internal/model"
)

const maxRetries = 3

// TerminalError marks a failure retrying cannot fix, such as a frame
// that does not parse. The dispatcher drops the envelope instead of
// retrying; the raw message row, if any, is already persisted.
type TerminalError struct {
	Err error
}

func (e *TerminalError) Error() string { return e.Err.Error() }
func (e *TerminalError) Unwrap() error { return e.Err }

// Terminal wraps err so the dispatcher treats it as unretryable.
func Terminal(err error) error {
	if err == nil {
		return nil
	}
	return &TerminalError{Err: err}
}

// IsTerminal reports whether any error in err's chain is terminal.
func IsTerminal(err error) bool {
	var t *TerminalError
	return errors.As(err, &t)
}

// HandlerFunc processes one envelope popped from the named queue.
type HandlerFunc func(ctx context.Context, queue string, env model.RawEnvelope) error

// Dispatcher pops envelopes off the registered queues and runs their
// handlers on a bounded pool. A slot is acquired before each pop so an
// element never sits popped in memory waiting for capacity.
type Dispatcher struct {
	broker      *broker.Broker
	handlers    map[string]HandlerFunc
	concurrency int
	metrics     *metrics.Pipeline
	log         *zap.Logger

	retryBase        time.Duration
	reconnectBackoff time.Duration
	errorBackoff     time.Duration

	wg sync.WaitGroup
}

// New builds a dispatcher over the given handler table. Only queues
// present in handlers are popped; unknown names in the table are ignored
// unless they appear in model.WorkQueues.
func New(b *broker.Broker, handlers map[string]HandlerFunc, concurrency int, m *metrics.Pipeline, log *zap.Logger) *Dispatcher {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Dispatcher{
		broker:           b,
		handlers:         handlers,
		concurrency:      concurrency,
		metrics:          m,
		log:              log,
		retryBase:        30 * time.Second,
		reconnectBackoff: 10 * time.Second,
		errorBackoff:     5 * time.Second,
	}
}

// Run pops until ctx is canceled, then waits for in-flight handlers to
// drain before returning. Handlers run on a context detached from ctx so
// shutdown does not abort work already in progress; envelopes caught in a
// retry wait are pushed back to the front of their source list instead.
func (d *Dispatcher) Run(ctx context.Context) error {
	queues := make([]string, 0, len(d.handlers))
	for _, q := range model.WorkQueues {
		if _, ok := d.handlers[q]; ok {
			queues = append(queues, q)
		}
	}
	if len(queues) == 0 {
		return errors.New("dispatcher: no handlers registered")
	}
	workCtx := context.WithoutCancel(ctx)

	slots := make(chan struct{}, d.concurrency)
	for i := 0; i < d.concurrency; i++ {
		slots <- struct{}{}
	}

	d.log.Info("dispatcher started",
		zap.Strings("queues", queues),
		zap.Int("concurrency", d.concurrency))

	for {
		select {
		case <-ctx.Done():
			d.wg.Wait()
			return ctx.Err()
		case <-slots:
		}

		queue, raw, err := d.broker.PopAny(ctx, queues...)
		if err != nil {
			slots <- struct{}{}
			if ctx.Err() != nil {
				d.wg.Wait()
				return ctx.Err()
			}
			delay := d.errorBackoff
			if isConnError(err) {
				delay = d.reconnectBackoff
			}
			d.log.Error("queue pop failed",
				zap.Error(err),
				zap.Duration("backoff", delay))
			select {
			case <-ctx.Done():
				d.wg.Wait()
				return ctx.Err()
			case <-time.After(delay):
			}
			continue
		}

		d.wg.Add(1)
		go func(queue string, raw []byte) {
			defer d.wg.Done()
			defer func() { slots <- struct{}{} }()
			d.process(ctx, workCtx, queue, raw)
		}(queue, raw)
	}
}

// process runs the handler for one envelope through the retry schedule:
// the first attempt is immediate, then 30s, 60s and 120s between the
// three retries. runCtx only interrupts the waits between attempts.
func (d *Dispatcher) process(runCtx, workCtx context.Context, queue string, raw []byte) {
	var env model.RawEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		d.log.Error("dropping undecodable envelope",
			zap.String("queue", queue),
			zap.Error(err))
		d.metrics.PacketFailed(workCtx, queue, "envelope_decode")
		return
	}
	handler := d.handlers[queue]
	if handler == nil {
		d.log.Error("no handler for queue, dropping envelope", zap.String("queue", queue))
		return
	}

	for attempt := 0; ; attempt++ {
		err := handler(workCtx, queue, env)
		if err == nil {
			return
		}
		if IsTerminal(err) {
			d.log.Warn("dropping envelope after terminal failure",
				zap.String("queue", queue),
				zap.String("sender", env.Sender),
				zap.Error(err))
			return
		}
		if attempt == maxRetries {
			d.deadLetter(queue, env, err, attempt+1)
			return
		}

		delay := d.retryBase << attempt
		d.metrics.QueueRetry(workCtx, queue)
		d.log.Warn("handler failed, retrying",
			zap.String("queue", queue),
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
			zap.Error(err))
		select {
		case <-runCtx.Done():
			d.requeue(queue, raw)
			return
		case <-time.After(delay):
		}
	}
}

// deadLetter records an envelope whose retries ran out. The push uses its
// own context so a shutdown in progress cannot lose the record.
func (d *Dispatcher) deadLetter(queue string, env model.RawEnvelope, cause error, attempts int) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	entry := model.DeadLetter{
		Queue:    queue,
		Envelope: env,
		Error:    cause.Error(),
		Attempts: attempts,
		FailedAt: time.Now().UTC(),
	}
	d.metrics.PacketFailed(ctx, queue, "retries_exhausted")
	if _, err := d.broker.Enqueue(ctx, model.QueueDeadLetter, entry); err != nil {
		d.log.Error("dead letter push failed",
			zap.String("queue", queue),
			zap.NamedError("cause", cause),
			zap.Error(err))
		return
	}
	d.log.Error("envelope dead-lettered",
		zap.String("queue", queue),
		zap.String("sender", env.Sender),
		zap.Int("attempts", attempts),
		zap.NamedError("cause", cause))
}

// requeue returns an envelope interrupted mid-retry to the front of its
// source list so it is first out when a dispatcher next starts.
func (d *Dispatcher) requeue(queue string, raw []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := d.broker.EnqueueFront(ctx, queue, raw); err != nil {
		d.log.Error("returning envelope to queue failed",
			zap.String("queue", queue),
			zap.Error(err))
		return
	}
	d.log.Info("returned envelope to queue on shutdown", zap.String("queue", queue))
}

// isConnError splits pop failures into connection loss, which gets the
// longer reconnect backoff, and everything else.
func isConnError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, io.EOF) || errors.Is(err, redis.ErrClosed)
}
