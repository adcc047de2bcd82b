// Package scheduler emits the periodic maintenance ticks and handles the
// trigger lists they land on.
//
// Ticks are enqueued as ordinary envelopes so scheduled runs and manual
// API triggers flow through the same dispatcher and handlers:
//
//	0 * * * * * → get_path       (materialized path view refresh)
//	0 0 * * * * → predict_flight (flight prediction hook)
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/umich-balloons/tracker/internal/broker"
	"github.com/umich-balloons/tracker/internal/dispatcher"
	"github.com/umich-balloons/tracker/internal/model"
	"github.com/umich-balloons/tracker/internal/store"
)

const (
	schedulePathRefresh = "0 * * * * *"
	schedulePrediction  = "0 0 * * * *"

	// tickSender marks envelopes originated by the clock rather than a
	// client request.
	tickSender = "scheduler"
)

// CronScheduler wraps robfig/cron and enqueues tick envelopes.
type CronScheduler struct {
	cron   *cron.Cron
	broker *broker.Broker
	log    *zap.Logger
}

// NewCronScheduler creates and configures the scheduler.
func NewCronScheduler(b *broker.Broker, log *zap.Logger) *CronScheduler {
	return &CronScheduler{
		cron:   cron.New(cron.WithSeconds()),
		broker: b,
		log:    log,
	}
}

// Start registers the cron jobs and starts the scheduler.
// Call Stop() to gracefully shut down.
func (s *CronScheduler) Start() error {
	if _, err := s.cron.AddFunc(schedulePathRefresh, s.enqueuePathRefresh); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc(schedulePrediction, s.enqueuePrediction); err != nil {
		return err
	}

	s.cron.Start()
	s.log.Info("cron scheduler started",
		zap.String("path_refresh", schedulePathRefresh),
		zap.String("prediction", schedulePrediction),
	)
	return nil
}

// Stop gracefully stops the cron scheduler, waiting for any tick in
// flight to finish.
func (s *CronScheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info("cron scheduler stopped")
}

func (s *CronScheduler) enqueuePathRefresh() { s.enqueueTick(model.QueueGetPath) }
func (s *CronScheduler) enqueuePrediction()  { s.enqueueTick(model.QueuePredictFlight) }

// enqueueTick pushes an empty-payload trigger envelope. A scheduled tick
// addresses no single payload; the handlers treat that as "all".
func (s *CronScheduler) enqueueTick(queue string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	env := model.TriggerEnvelope(tickSender, "", time.Now().UTC())
	if _, err := s.broker.Enqueue(ctx, queue, env); err != nil {
		s.log.Error("cron tick enqueue failed",
			zap.String("queue", queue),
			zap.Error(err),
		)
		return
	}
	s.log.Debug("cron tick enqueued", zap.String("queue", queue))
}

// Triggers handles the two trigger lists. The same handlers serve cron
// ticks and manual API requests; only the envelope sender differs.
type Triggers struct {
	store store.Querier
	log   *zap.Logger
}

func NewTriggers(st store.Querier, log *zap.Logger) *Triggers {
	return &Triggers{store: st, log: log}
}

// Handlers returns the dispatch table for the trigger lists.
func (t *Triggers) Handlers() map[string]dispatcher.HandlerFunc {
	return map[string]dispatcher.HandlerFunc{
		model.QueueGetPath:       t.HandleGetPath,
		model.QueuePredictFlight: t.HandlePredictFlight,
	}
}

// HandleGetPath refreshes the materialized path view. Failures are left
// transient; a refresh that lost a race or a connection can be retried.
func (t *Triggers) HandleGetPath(ctx context.Context, _ string, env model.RawEnvelope) error {
	started := time.Now()
	if err := t.store.RefreshPathView(ctx); err != nil {
		return fmt.Errorf("refresh path view: %w", err)
	}
	t.log.Info("path view refreshed",
		zap.String("sender", env.Sender),
		zap.Duration("took", time.Since(started)),
	)
	return nil
}

// HandlePredictFlight records the request. Prediction itself runs in an
// external system; the queue exists so its triggers share the dispatch
// machinery and retry policy.
func (t *Triggers) HandlePredictFlight(_ context.Context, _ string, env model.RawEnvelope) error {
	var payloadID string
	if err := json.Unmarshal(env.Payload, &payloadID); err != nil {
		t.log.Warn("prediction trigger with unreadable payload",
			zap.String("sender", env.Sender),
			zap.Error(err),
		)
		return nil
	}
	t.log.Info("flight prediction requested",
		zap.String("sender", env.Sender),
		zap.String("payload_id", payloadID),
	)
	return nil
}
