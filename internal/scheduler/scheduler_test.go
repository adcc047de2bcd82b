package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap/zaptest"

	"github.com/umich-balloons/tracker/internal/broker"
	"github.com/umich-balloons/tracker/internal/dispatcher"
	"github.com/umich-balloons/tracker/internal/model"
	storemock "github.com/umich-balloons/tracker/internal/store/mock"
)

func newTestBroker(t *testing.T) (*broker.Broker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	b, err := broker.New("redis://"+mr.Addr(), 0, 1, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b, mr
}

func TestStartRegistersSchedulesAndStops(t *testing.T) {
	b, _ := newTestBroker(t)
	s := NewCronScheduler(b, zaptest.NewLogger(t))

	require.NoError(t, s.Start(), "both schedule expressions must parse")
	s.Stop()
}

func TestTickEnqueuesTriggerEnvelope(t *testing.T) {
	b, mr := newTestBroker(t)
	s := NewCronScheduler(b, zaptest.NewLogger(t))

	s.enqueuePathRefresh()

	items, err := mr.List(model.QueueGetPath)
	require.NoError(t, err)
	require.Len(t, items, 1)

	var env model.RawEnvelope
	require.NoError(t, json.Unmarshal([]byte(items[0]), &env))
	require.Equal(t, "scheduler", env.Sender)
	require.JSONEq(t, `""`, string(env.Payload))
	require.WithinDuration(t, time.Now().UTC(), env.Timestamp, 5*time.Second)

	s.enqueuePrediction()
	items, err = mr.List(model.QueuePredictFlight)
	require.NoError(t, err)
	require.Len(t, items, 1)
}

func TestHandleGetPathRefreshesView(t *testing.T) {
	ctrl := gomock.NewController(t)
	st := storemock.NewMockQuerier(ctrl)
	st.EXPECT().RefreshPathView(gomock.Any()).Return(nil)

	tr := NewTriggers(st, zaptest.NewLogger(t))
	env := model.TriggerEnvelope("scheduler", "", time.Now().UTC())
	require.NoError(t, tr.HandleGetPath(context.Background(), model.QueueGetPath, env))
}

func TestHandleGetPathFailureStaysTransient(t *testing.T) {
	ctrl := gomock.NewController(t)
	st := storemock.NewMockQuerier(ctrl)
	st.EXPECT().RefreshPathView(gomock.Any()).Return(errors.New("deadlock detected"))

	tr := NewTriggers(st, zaptest.NewLogger(t))
	env := model.TriggerEnvelope("198.51.100.7", "3", time.Now().UTC())

	err := tr.HandleGetPath(context.Background(), model.QueueGetPath, env)
	require.Error(t, err)
	require.False(t, dispatcher.IsTerminal(err), "refresh failures must retry")
}

func TestHandlePredictFlightNeverFails(t *testing.T) {
	ctrl := gomock.NewController(t)
	st := storemock.NewMockQuerier(ctrl)

	tr := NewTriggers(st, zaptest.NewLogger(t))
	env := model.TriggerEnvelope("198.51.100.7", "42", time.Now().UTC())
	require.NoError(t, tr.HandlePredictFlight(context.Background(), model.QueuePredictFlight, env))

	env.Payload = json.RawMessage(`{bad`)
	require.NoError(t, tr.HandlePredictFlight(context.Background(), model.QueuePredictFlight, env))
}

func TestHandlersCoverBothTriggerQueues(t *testing.T) {
	ctrl := gomock.NewController(t)
	tr := NewTriggers(storemock.NewMockQuerier(ctrl), zaptest.NewLogger(t))

	h := tr.Handlers()
	require.Contains(t, h, model.QueueGetPath)
	require.Contains(t, h, model.QueuePredictFlight)
}
