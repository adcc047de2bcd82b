package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/umich-balloons/tracker/internal/broker"
	"github.com/umich-balloons/tracker/internal/metrics"
	"github.com/umich-balloons/tracker/internal/model"
)

func newTestBroker(t *testing.T) (*broker.Broker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	b, err := broker.New("redis://"+mr.Addr(), 0, 1, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b, mr
}

func newTestPipeline(t *testing.T) *metrics.Pipeline {
	t.Helper()
	p, err := metrics.NewPipeline()
	require.NoError(t, err)
	return p
}

func testEnvelope() model.RawEnvelope {
	return model.RawEnvelope{
		Sender:         "KF8ABL-11",
		Payload:        json.RawMessage(`"KF8ABL-11>APRS:!4217.67N/08342.78WO"`),
		Timestamp:      time.Now().UTC().Truncate(time.Second),
		IngestMethod:   "HTTP",
		TransmitMethod: "APRS",
	}
}

func TestTerminalMarking(t *testing.T) {
	require.Nil(t, Terminal(nil))

	plain := errors.New("redis gone")
	require.False(t, IsTerminal(plain))

	term := Terminal(errors.New("unparsable frame"))
	require.True(t, IsTerminal(term))
	require.Equal(t, "unparsable frame", term.Error())

	wrapped := fmt.Errorf("handling aprs: %w", term)
	require.True(t, IsTerminal(wrapped))
}

func TestRunDeliversEnvelopeToQueueHandler(t *testing.T) {
	b, _ := newTestBroker(t)

	type delivery struct {
		queue string
		env   model.RawEnvelope
	}
	got := make(chan delivery, 1)
	handlers := map[string]HandlerFunc{
		model.QueueAPRS: func(_ context.Context, queue string, env model.RawEnvelope) error {
			got <- delivery{queue: queue, env: env}
			return nil
		},
	}

	d := New(b, handlers, 2, newTestPipeline(t), zaptest.NewLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = d.Run(ctx) }()

	sent := testEnvelope()
	_, err := b.Enqueue(ctx, model.QueueAPRS, sent)
	require.NoError(t, err)

	select {
	case del := <-got:
		require.Equal(t, model.QueueAPRS, del.queue)
		require.Equal(t, sent.Sender, del.env.Sender)
		require.JSONEq(t, string(sent.Payload), string(del.env.Payload))
		require.Equal(t, sent.IngestMethod, del.env.IngestMethod)
		require.Equal(t, sent.TransmitMethod, del.env.TransmitMethod)
		require.True(t, sent.Timestamp.Equal(del.env.Timestamp))
	case <-time.After(3 * time.Second):
		t.Fatal("handler was not invoked")
	}
}

func TestTerminalFailureDropsEnvelope(t *testing.T) {
	b, mr := newTestBroker(t)

	var calls atomic.Int32
	handlers := map[string]HandlerFunc{
		model.QueueAPRS: func(context.Context, string, model.RawEnvelope) error {
			calls.Add(1)
			return Terminal(errors.New("frame type unsupported"))
		},
	}

	d := New(b, handlers, 2, newTestPipeline(t), zaptest.NewLogger(t))
	d.retryBase = 5 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = d.Run(ctx) }()

	_, err := b.Enqueue(ctx, model.QueueAPRS, testEnvelope())
	require.NoError(t, err)

	require.Eventually(t, func() bool { return calls.Load() == 1 }, 3*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, int32(1), calls.Load(), "terminal failures must not retry")
	require.False(t, mr.Exists(model.QueueDeadLetter), "terminal failures must not dead-letter")
	require.False(t, mr.Exists(model.QueueAPRS))
}

func TestRetriesExhaustedDeadLetters(t *testing.T) {
	b, mr := newTestBroker(t)

	var calls atomic.Int32
	handlers := map[string]HandlerFunc{
		model.QueueIridium: func(context.Context, string, model.RawEnvelope) error {
			calls.Add(1)
			return errors.New("database down")
		},
	}

	d := New(b, handlers, 2, newTestPipeline(t), zaptest.NewLogger(t))
	d.retryBase = 5 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = d.Run(ctx) }()

	sent := testEnvelope()
	sent.TransmitMethod = "Iridium"
	_, err := b.Enqueue(ctx, model.QueueIridium, sent)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return mr.Exists(model.QueueDeadLetter) }, 3*time.Second, 10*time.Millisecond)
	require.Equal(t, int32(4), calls.Load(), "one initial attempt plus three retries")

	items, err := mr.List(model.QueueDeadLetter)
	require.NoError(t, err)
	require.Len(t, items, 1)

	var entry model.DeadLetter
	require.NoError(t, json.Unmarshal([]byte(items[0]), &entry))
	require.Equal(t, model.QueueIridium, entry.Queue)
	require.Equal(t, 4, entry.Attempts)
	require.Contains(t, entry.Error, "database down")
	require.Equal(t, sent.Sender, entry.Envelope.Sender)
	require.WithinDuration(t, time.Now().UTC(), entry.FailedAt, 5*time.Second)
}

func TestTransientFailureRecovers(t *testing.T) {
	b, mr := newTestBroker(t)

	var calls atomic.Int32
	done := make(chan struct{})
	handlers := map[string]HandlerFunc{
		model.QueueLoRa: func(context.Context, string, model.RawEnvelope) error {
			if calls.Add(1) < 3 {
				return errors.New("connection reset")
			}
			close(done)
			return nil
		},
	}

	d := New(b, handlers, 2, newTestPipeline(t), zaptest.NewLogger(t))
	d.retryBase = 5 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = d.Run(ctx) }()

	_, err := b.Enqueue(ctx, model.QueueLoRa, testEnvelope())
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("handler never recovered")
	}
	require.Equal(t, int32(3), calls.Load())
	require.False(t, mr.Exists(model.QueueDeadLetter))
}

func TestSlotAcquiredBeforePop(t *testing.T) {
	b, mr := newTestBroker(t)

	var calls atomic.Int32
	started := make(chan struct{}, 2)
	release := make(chan struct{})
	handlers := map[string]HandlerFunc{
		model.QueueAPRS: func(context.Context, string, model.RawEnvelope) error {
			calls.Add(1)
			started <- struct{}{}
			<-release
			return nil
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_, err := b.Enqueue(ctx, model.QueueAPRS, testEnvelope())
	require.NoError(t, err)
	_, err = b.Enqueue(ctx, model.QueueAPRS, testEnvelope())
	require.NoError(t, err)

	d := New(b, handlers, 1, newTestPipeline(t), zaptest.NewLogger(t))
	go func() { _ = d.Run(ctx) }()

	select {
	case <-started:
	case <-time.After(3 * time.Second):
		t.Fatal("first handler never started")
	}

	// With a single slot held, the pop loop must leave the second
	// envelope in Redis rather than holding it popped in memory.
	items, err := mr.List(model.QueueAPRS)
	require.NoError(t, err)
	require.Len(t, items, 1)

	close(release)
	require.Eventually(t, func() bool { return calls.Load() == 2 }, 3*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return !mr.Exists(model.QueueAPRS) }, 3*time.Second, 10*time.Millisecond)
}

func TestShutdownRequeuesMidRetryEnvelope(t *testing.T) {
	b, mr := newTestBroker(t)

	var calls atomic.Int32
	failed := make(chan struct{}, 1)
	handlers := map[string]HandlerFunc{
		model.QueueAPRS: func(context.Context, string, model.RawEnvelope) error {
			calls.Add(1)
			failed <- struct{}{}
			return errors.New("database down")
		},
	}

	d := New(b, handlers, 1, newTestPipeline(t), zaptest.NewLogger(t))
	d.retryBase = time.Hour
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- d.Run(ctx) }()

	sent := testEnvelope()
	_, err := b.Enqueue(ctx, model.QueueAPRS, sent)
	require.NoError(t, err)

	select {
	case <-failed:
	case <-time.After(3 * time.Second):
		t.Fatal("handler never ran")
	}

	cancel()
	select {
	case err := <-errCh:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(10 * time.Second):
		t.Fatal("dispatcher did not stop")
	}

	// The envelope caught waiting out its retry goes back to the front
	// of its source list instead of being lost.
	require.Equal(t, int32(1), calls.Load())
	items, err := mr.List(model.QueueAPRS)
	require.NoError(t, err)
	require.Len(t, items, 1)

	var back model.RawEnvelope
	require.NoError(t, json.Unmarshal([]byte(items[0]), &back))
	require.Equal(t, sent.Sender, back.Sender)
	require.JSONEq(t, string(sent.Payload), string(back.Payload))
	require.False(t, mr.Exists(model.QueueDeadLetter))
}

func TestUndecodableEnvelopeDropped(t *testing.T) {
	b, mr := newTestBroker(t)

	var calls atomic.Int32
	handlers := map[string]HandlerFunc{
		model.QueueAPRS: func(context.Context, string, model.RawEnvelope) error {
			calls.Add(1)
			return nil
		},
	}

	d := New(b, handlers, 2, newTestPipeline(t), zaptest.NewLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = d.Run(ctx) }()

	_, err := mr.Lpush(model.QueueAPRS, "{not json")
	require.NoError(t, err)

	require.Eventually(t, func() bool { return !mr.Exists(model.QueueAPRS) }, 3*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, int32(0), calls.Load(), "undecodable envelopes never reach handlers")
	require.False(t, mr.Exists(model.QueueDeadLetter))
}

func TestRunRequiresHandlers(t *testing.T) {
	b, _ := newTestBroker(t)
	d := New(b, nil, 4, newTestPipeline(t), zaptest.NewLogger(t))
	require.Error(t, d.Run(context.Background()))
}
