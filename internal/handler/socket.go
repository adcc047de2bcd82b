package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/umich-balloons/tracker/internal/broker"
	"github.com/umich-balloons/tracker/internal/geo"
	"github.com/umich-balloons/tracker/internal/grid"
	"github.com/umich-balloons/tracker/internal/model"
	"github.com/umich-balloons/tracker/internal/realtime"
	"github.com/umich-balloons/tracker/internal/store"
)

// Socket keepalive: pings go out every pingInterval and any pong pushes
// the read deadline out by readTimeout, so two missed pings cost the
// connection. Compliant clients answer pings automatically.
const (
	pingInterval = 30 * time.Second
	readTimeout  = 60 * time.Second
	writeWait    = 10 * time.Second
)

// clientMessage is the client to server frame envelope.
type clientMessage struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	RequestID string          `json:"request_id"`
}

type viewportPayload struct {
	Bbox           model.Bbox `json:"bbox"`
	HistorySeconds int        `json:"history_seconds"`
}

type telemetryPayload struct {
	PayloadID int64  `json:"payloadId"`
	Timestamp string `json:"timestamp"`
}

// SocketHandler runs the viewport protocol: each connection holds a cell
// subscription set in the shared registry and a read loop that serves
// its messages sequentially.
type SocketHandler struct {
	store          store.Querier
	broker         *broker.Broker
	registry       *realtime.Registry
	grid           *grid.Grid
	catchupSeconds int
	logger         *zap.Logger
	upgrader       websocket.Upgrader
}

func NewSocketHandler(st store.Querier, b *broker.Broker, reg *realtime.Registry, g *grid.Grid, catchupSeconds int, logger *zap.Logger) *SocketHandler {
	return &SocketHandler{
		store:          st,
		broker:         b,
		registry:       reg,
		grid:           g,
		catchupSeconds: catchupSeconds,
		logger:         logger,
		upgrader: websocket.Upgrader{
			// The map is public; viewers connect from arbitrary origins.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

func (h *SocketHandler) Register(e *echo.Echo) {
	e.GET("/ws", h.Serve)
}

// Serve upgrades the connection and runs its read loop until the socket
// dies. The registry entry lives exactly as long as the loop; the defer
// purges it on every exit path so broadcasts never target a dead socket
// for long.
func (h *SocketHandler) Serve(c echo.Context) error {
	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// Upgrade has already written the HTTP error response.
		return nil
	}

	client := realtime.NewClient(conn)
	h.registry.Register(client)
	defer func() {
		h.registry.Disconnect(client)
		client.Close()
	}()

	stopPing := make(chan struct{})
	defer close(stopPing)
	go h.pingLoop(client, stopPing)

	_ = client.SetReadDeadline(time.Now().Add(readTimeout))
	client.SetPongHandler(func(string) error {
		return client.SetReadDeadline(time.Now().Add(readTimeout))
	})

	ctx := c.Request().Context()
	for {
		data, err := client.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Warn("viewer socket failed",
					zap.String("remote", c.RealIP()),
					zap.Error(err),
				)
			}
			return nil
		}
		h.handleMessage(ctx, client, data)
	}
}

// pingLoop probes the peer so half-open connections fail the read
// deadline instead of lingering as registry members.
func (h *SocketHandler) pingLoop(client *realtime.Client, stop <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := client.Ping(time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-stop:
			return
		}
	}
}

// handleMessage serves one frame. Failures, unknown types and handler
// panics all answer the frame in place; only a faulted socket ends the
// session, so one bad request never costs a viewer their subscriptions.
func (h *SocketHandler) handleMessage(ctx context.Context, client *realtime.Client, data []byte) {
	var msg clientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		h.send(client, realtime.ServerMessage{Type: realtime.TypeError, Error: "frame is not valid JSON"})
		return
	}

	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("socket handler panicked",
				zap.String("type", msg.Type),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
			h.send(client, realtime.ServerMessage{Type: realtime.TypeError, Error: "internal error", RequestID: msg.RequestID})
		}
	}()

	switch msg.Type {
	case "getInitialData":
		h.getInitialData(ctx, client, msg)
	case "updateViewport":
		h.updateViewport(ctx, client, msg)
	case "getTelemetry":
		h.getTelemetry(ctx, client, msg)
	default:
		h.send(client, realtime.ServerMessage{
			Type:      realtime.TypeUnknown,
			Error:     fmt.Sprintf("unknown message type %q", msg.Type),
			RequestID: msg.RequestID,
		})
	}
}

// getInitialData pins the client's subscriptions to the cells covering
// the viewport and answers with the path history inside it.
func (h *SocketHandler) getInitialData(ctx context.Context, client *realtime.Client, msg clientMessage) {
	var req viewportPayload
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		h.send(client, realtime.ServerMessage{Type: realtime.TypeError, Error: "payload: expected {bbox, history_seconds}", RequestID: msg.RequestID})
		return
	}
	if !req.Bbox.Valid() {
		h.send(client, realtime.ServerMessage{Type: realtime.TypeError, Error: "bbox: coordinates out of range", RequestID: msg.RequestID})
		return
	}

	h.registry.UpdateSubscriptions(client, h.grid.CellsForBbox(req.Bbox))

	history := req.HistorySeconds
	if history <= 0 {
		history = h.catchupSeconds
	}
	segments, err := h.store.PathSegments(ctx, req.Bbox, history)
	if err != nil {
		h.logger.Error("path history query failed", zap.Error(err))
		h.send(client, realtime.ServerMessage{Type: realtime.TypeError, Error: "failed to query path history", RequestID: msg.RequestID})
		return
	}
	h.send(client, realtime.ServerMessage{
		Type:      realtime.TypeInitialSegments,
		Data:      geo.FeatureCollection(segments, h.logger),
		RequestID: msg.RequestID,
	})
}

// updateViewport re-pins subscriptions to the new viewport. A catch-up
// reply goes out only when the move joined at least one new cell; it
// covers the whole new box over the default window, since segments
// cannot be queried per cell and resending known ones is harmless.
func (h *SocketHandler) updateViewport(ctx context.Context, client *realtime.Client, msg clientMessage) {
	var req viewportPayload
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		h.send(client, realtime.ServerMessage{Type: realtime.TypeError, Error: "payload: expected {bbox}", RequestID: msg.RequestID})
		return
	}
	if !req.Bbox.Valid() {
		h.send(client, realtime.ServerMessage{Type: realtime.TypeError, Error: "bbox: coordinates out of range", RequestID: msg.RequestID})
		return
	}

	joined, _ := h.registry.UpdateSubscriptions(client, h.grid.CellsForBbox(req.Bbox))
	if len(joined) == 0 {
		return
	}

	segments, err := h.store.PathSegments(ctx, req.Bbox, h.catchupSeconds)
	if err != nil {
		h.logger.Error("catch-up query failed", zap.Error(err))
		h.send(client, realtime.ServerMessage{Type: realtime.TypeError, Error: "failed to query path history", RequestID: msg.RequestID})
		return
	}
	h.send(client, realtime.ServerMessage{
		Type:      realtime.TypeCatchUpSegments,
		Data:      geo.FeatureCollection(segments, h.logger),
		RequestID: msg.RequestID,
	})
}

// getTelemetry answers a point lookup through the same cached path the
// HTTP endpoint uses.
func (h *SocketHandler) getTelemetry(ctx context.Context, client *realtime.Client, msg clientMessage) {
	var req telemetryPayload
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		h.send(client, realtime.ServerMessage{Type: realtime.TypeError, Error: "payload: expected {payloadId, timestamp}", RequestID: msg.RequestID})
		return
	}
	if req.Timestamp == "" {
		h.send(client, realtime.ServerMessage{Type: realtime.TypeError, Error: "timestamp: field is required", RequestID: msg.RequestID})
		return
	}

	row, err := lookupTelemetry(ctx, h.store, h.broker, h.logger, req.PayloadID, req.Timestamp)
	if err != nil {
		h.logger.Error("telemetry lookup failed",
			zap.Int64("payload_id", req.PayloadID),
			zap.String("timestamp", req.Timestamp),
			zap.Error(err),
		)
		h.send(client, realtime.ServerMessage{Type: realtime.TypeError, Error: "failed to query telemetry", RequestID: msg.RequestID})
		return
	}
	h.send(client, realtime.ServerMessage{
		Type: realtime.TypeTelemetryResponse,
		Data: map[string]any{
			"payloadId": req.PayloadID,
			"timestamp": req.Timestamp,
			"telemetry": json.RawMessage(row),
		},
		RequestID: msg.RequestID,
	})
}

func (h *SocketHandler) send(client *realtime.Client, msg realtime.ServerMessage) {
	if err := client.WriteJSON(msg); err != nil {
		h.logger.Warn("socket write failed",
			zap.String("type", msg.Type),
			zap.Error(err),
		)
	}
}
