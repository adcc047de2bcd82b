package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/umich-balloons/tracker/internal/broker"
	"github.com/umich-balloons/tracker/internal/store"
)

// cacheTTL matches the telemetry KV namespace contract: lookups stay
// warm for an hour, misses included.
const cacheTTL = time.Hour

func telemetryCacheKey(payloadID int64, timestamp string) string {
	return fmt.Sprintf("telemetry:%d:%s", payloadID, timestamp)
}

// ViewHandler serves the HTTP read side: the telemetry detail lookup
// mirrored from the websocket protocol, and the health probe.
type ViewHandler struct {
	store  store.Querier
	broker *broker.Broker
	logger *zap.Logger
}

func NewViewHandler(st store.Querier, b *broker.Broker, logger *zap.Logger) *ViewHandler {
	return &ViewHandler{store: st, broker: b, logger: logger}
}

func (h *ViewHandler) Register(e *echo.Echo) {
	e.GET("/telemetry", h.GetTelemetry)
	e.GET("/health", h.Health)
}

// GetTelemetry godoc
// @Summary      Look up one telemetry row
// @Description  Returns the detail fields of the telemetry row matching payloadId and timestamp, or null when no row matches. Answers are cached for an hour.
// @ID           get-telemetry
// @Tags         view
// @Produce      json
// @Param        payloadId  query  int     true  "Payload id"
// @Param        timestamp  query  string  true  "Row timestamp, ISO-8601"
// @Success      200  {object}  store.TelemetryDetail
// @Failure      422  {object}  map[string]string  "Bad query"
// @Failure      500  {object}  map[string]string  "Lookup failed"
// @Router       /telemetry [get]
func (h *ViewHandler) GetTelemetry(c echo.Context) error {
	payloadID, err := strconv.ParseInt(c.QueryParam("payloadId"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusUnprocessableEntity, map[string]string{"error": "payloadId: must be an integer"})
	}
	timestamp := c.QueryParam("timestamp")
	if timestamp == "" {
		return c.JSON(http.StatusUnprocessableEntity, map[string]string{"error": "timestamp: parameter is required"})
	}

	row, err := lookupTelemetry(c.Request().Context(), h.store, h.broker, h.logger, payloadID, timestamp)
	if err != nil {
		h.logger.Error("telemetry lookup failed",
			zap.Int64("payload_id", payloadID),
			zap.String("timestamp", timestamp),
			zap.Error(err),
		)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to query telemetry"})
	}
	return c.JSONBlob(http.StatusOK, row)
}

// Health godoc
// @Summary      Liveness probe
// @ID           health
// @Tags         view
// @Produce      json
// @Success      200  {object}  map[string]string
// @Router       /health [get]
func (h *ViewHandler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// lookupTelemetry answers from the cache when it can and caches what the
// database says otherwise, nulls included, so repeated lookups of rows
// that do not exist stay cheap. Cache failures degrade to plain database
// reads rather than failing the request.
func lookupTelemetry(ctx context.Context, st store.Querier, b *broker.Broker, log *zap.Logger, payloadID int64, timestamp string) ([]byte, error) {
	key := telemetryCacheKey(payloadID, timestamp)
	cached, hit, err := b.CacheGet(ctx, key)
	if err != nil {
		log.Warn("telemetry cache read failed", zap.Error(err))
	} else if hit {
		return []byte(cached), nil
	}

	detail, err := st.GetTelemetry(ctx, payloadID, timestamp)
	if err != nil {
		return nil, err
	}
	row, err := json.Marshal(detail)
	if err != nil {
		return nil, err
	}
	if err := b.CacheSet(ctx, key, string(row), cacheTTL); err != nil {
		log.Warn("telemetry cache write failed", zap.Error(err))
	}
	return row, nil
}
