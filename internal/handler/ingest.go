// Package handler exposes the HTTP ingest surface, the read-side query
// endpoints and the websocket viewport protocol over Echo.
package handler

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/umich-balloons/tracker/internal/aprs"
	"github.com/umich-balloons/tracker/internal/auth"
	"github.com/umich-balloons/tracker/internal/broker"
	"github.com/umich-balloons/tracker/internal/model"
)

// iridiumTimeLayout is the transmit_time format the satellite gateway
// posts: two-digit year, UTC, no zone designator.
const iridiumTimeLayout = "06-01-02 15:04:05"

// queueAck is every 202 body: the length of the work list after the
// append and, where the transport reports one, whether the payload
// looked decodable.
type queueAck struct {
	QueueNumber   int64 `json:"queue_number"`
	DecodeSuccess *bool `json:"decode_success,omitempty"`
}

// ingestRequest is the JSON body shared by the APRS and LoRa posts.
type ingestRequest struct {
	Sender    string          `json:"sender"`
	RawData   json.RawMessage `json:"raw_data"`
	Timestamp *time.Time      `json:"timestamp"`
}

// iridiumRequest picks out the webhook fields the ingress itself needs;
// the envelope carries the complete body through to the worker.
type iridiumRequest struct {
	Data         *string `json:"data"`
	TransmitTime string  `json:"transmit_time"`
	Token        string  `json:"JWT"`
}

// IngestHandler stamps envelopes and appends them to the work lists.
type IngestHandler struct {
	broker   *broker.Broker
	verifier *auth.Verifier
	logger   *zap.Logger
}

func NewIngestHandler(b *broker.Broker, v *auth.Verifier, logger *zap.Logger) *IngestHandler {
	return &IngestHandler{broker: b, verifier: v, logger: logger}
}

func (h *IngestHandler) Register(e *echo.Echo) {
	e.POST("/aprs", h.PostAPRS)
	e.POST("/lora", h.PostLoRa)
	e.POST("/iridium", h.PostIridium)

	m := e.Group("/manual")
	m.POST("/aprs", h.PostManualAPRS)
	m.POST("/lora", h.PostManualLoRa)
	m.GET("/prediction/:payload_id", h.TriggerPrediction)
	m.GET("/path/:payload_id", h.TriggerPath)
}

// PostAPRS godoc
// @Summary      Ingest an APRS frame
// @Description  Accepts a gated APRS frame and appends it to the aprs work list. decode_success reports a trial parse when raw_data is a string; frames that fail it are still queued so the raw message is preserved.
// @ID           ingest-aprs
// @Tags         ingest
// @Accept       json
// @Produce      json
// @Param        payload  body  ingestRequest  true  "Frame envelope"
// @Success      202  {object}  queueAck
// @Failure      422  {object}  map[string]string  "Invalid body"
// @Failure      503  {object}  map[string]string  "Queue unavailable"
// @Router       /aprs [post]
func (h *IngestHandler) PostAPRS(c echo.Context) error {
	var req ingestRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusUnprocessableEntity, map[string]string{"error": "body: not a valid JSON object"})
	}
	if !hasValue(req.RawData) {
		return c.JSON(http.StatusUnprocessableEntity, map[string]string{"error": "raw_data: field is required"})
	}

	env := h.envelope(c, req, "APRS", "HTTP")

	// decode_success is tri-state: absent when raw_data is not a frame
	// string, otherwise the outcome of a trial parse.
	var decode *bool
	var frameText string
	if err := json.Unmarshal(req.RawData, &frameText); err == nil {
		ok := aprsDecodes(frameText, env.Timestamp)
		decode = &ok
	}
	return h.enqueue(c, model.QueueAPRS, env, decode)
}

// PostLoRa godoc
// @Summary      Ingest a LoRa telemetry report
// @Description  Accepts a JSON telemetry object heard over LoRa and appends it to the lora work list.
// @ID           ingest-lora
// @Tags         ingest
// @Accept       json
// @Produce      json
// @Param        payload  body  ingestRequest  true  "Report envelope"
// @Success      202  {object}  queueAck
// @Failure      422  {object}  map[string]string  "Invalid body"
// @Failure      503  {object}  map[string]string  "Queue unavailable"
// @Router       /lora [post]
func (h *IngestHandler) PostLoRa(c echo.Context) error {
	var req ingestRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusUnprocessableEntity, map[string]string{"error": "body: not a valid JSON object"})
	}
	if !hasValue(req.RawData) {
		return c.JSON(http.StatusUnprocessableEntity, map[string]string{"error": "raw_data: field is required"})
	}
	return h.enqueue(c, model.QueueLoRa, h.envelope(c, req, "LoRa", "HTTP"), nil)
}

// PostIridium godoc
// @Summary      Ingest a satellite webhook
// @Description  Accepts a short-burst-data webhook. The JWT field must verify against the pinned gateway key before anything is queued; transmit_time becomes the envelope timestamp. decode_success reports whether data is non-empty hex.
// @ID           ingest-iridium
// @Tags         ingest
// @Accept       json
// @Produce      json
// @Param        payload  body  object  true  "Webhook body"
// @Success      202  {object}  queueAck
// @Failure      401  {object}  map[string]string  "Token rejected"
// @Failure      422  {object}  map[string]string  "Invalid body"
// @Failure      503  {object}  map[string]string  "Queue unavailable"
// @Router       /iridium [post]
func (h *IngestHandler) PostIridium(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusUnprocessableEntity, map[string]string{"error": "body: unreadable"})
	}
	var req iridiumRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return c.JSON(http.StatusUnprocessableEntity, map[string]string{"error": "body: not a valid JSON object"})
	}

	// --- Token check before anything touches the queue ---
	if err := h.verifier.Verify(req.Token); err != nil {
		h.logger.Warn("iridium post rejected",
			zap.String("sender", c.RealIP()),
			zap.Error(err),
		)
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid token"})
	}

	if req.Data == nil {
		return c.JSON(http.StatusUnprocessableEntity, map[string]string{"error": "data: field is required"})
	}

	ts := time.Now().UTC()
	if t, err := time.Parse(iridiumTimeLayout, req.TransmitTime); err == nil {
		ts = t.UTC()
	} else if req.TransmitTime != "" {
		h.logger.Warn("unparseable transmit_time, falling back to arrival time",
			zap.String("transmit_time", req.TransmitTime),
		)
	}

	report, err := hex.DecodeString(*req.Data)
	ok := err == nil && len(report) > 0

	env := model.RawEnvelope{
		Sender:         c.RealIP(),
		Payload:        json.RawMessage(body),
		Timestamp:      ts,
		IngestMethod:   "HTTP",
		TransmitMethod: "Iridium",
	}
	return h.enqueue(c, model.QueueIridium, env, &ok)
}

// PostManualAPRS godoc
// @Summary      Manually submit an APRS frame
// @Description  Accepts the bare frame text as the request body, for operator-entered frames heard off the air.
// @ID           ingest-manual-aprs
// @Tags         manual
// @Accept       plain
// @Produce      json
// @Success      202  {object}  queueAck
// @Failure      422  {object}  map[string]string  "Empty body"
// @Failure      503  {object}  map[string]string  "Queue unavailable"
// @Router       /manual/aprs [post]
func (h *IngestHandler) PostManualAPRS(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusUnprocessableEntity, map[string]string{"error": "body: unreadable"})
	}
	text := string(body)
	if text == "" {
		return c.JSON(http.StatusUnprocessableEntity, map[string]string{"error": "body: raw frame text is required"})
	}

	payload, err := json.Marshal(text)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to serialize envelope"})
	}
	env := model.RawEnvelope{
		Sender:         c.RealIP(),
		Payload:        payload,
		Timestamp:      time.Now().UTC(),
		IngestMethod:   "manual",
		TransmitMethod: "APRS",
	}
	ok := aprsDecodes(text, env.Timestamp)
	return h.enqueue(c, model.QueueAPRS, env, &ok)
}

// PostManualLoRa godoc
// @Summary      Manually submit a LoRa report
// @Description  Accepts the raw report text as the request body.
// @ID           ingest-manual-lora
// @Tags         manual
// @Accept       plain
// @Produce      json
// @Success      202  {object}  queueAck
// @Failure      422  {object}  map[string]string  "Empty body"
// @Failure      503  {object}  map[string]string  "Queue unavailable"
// @Router       /manual/lora [post]
func (h *IngestHandler) PostManualLoRa(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusUnprocessableEntity, map[string]string{"error": "body: unreadable"})
	}
	text := string(body)
	if text == "" {
		return c.JSON(http.StatusUnprocessableEntity, map[string]string{"error": "body: raw text is required"})
	}

	payload, err := json.Marshal(text)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to serialize envelope"})
	}
	env := model.RawEnvelope{
		Sender:         c.RealIP(),
		Payload:        payload,
		Timestamp:      time.Now().UTC(),
		IngestMethod:   "manual",
		TransmitMethod: "LoRa",
	}
	return h.enqueue(c, model.QueueLoRa, env, nil)
}

// TriggerPrediction godoc
// @Summary      Request a flight prediction run
// @ID           trigger-prediction
// @Tags         manual
// @Produce      json
// @Param        payload_id  path  int  true  "Payload id"
// @Success      202  {object}  queueAck
// @Failure      422  {object}  map[string]string  "Bad payload id"
// @Failure      503  {object}  map[string]string  "Queue unavailable"
// @Router       /manual/prediction/{payload_id} [get]
func (h *IngestHandler) TriggerPrediction(c echo.Context) error {
	return h.trigger(c, model.QueuePredictFlight)
}

// TriggerPath godoc
// @Summary      Request a path view refresh
// @ID           trigger-path
// @Tags         manual
// @Produce      json
// @Param        payload_id  path  int  true  "Payload id"
// @Success      202  {object}  queueAck
// @Failure      422  {object}  map[string]string  "Bad payload id"
// @Failure      503  {object}  map[string]string  "Queue unavailable"
// @Router       /manual/path/{payload_id} [get]
func (h *IngestHandler) TriggerPath(c echo.Context) error {
	return h.trigger(c, model.QueueGetPath)
}

func (h *IngestHandler) trigger(c echo.Context, queue string) error {
	id := c.Param("payload_id")
	if _, err := strconv.ParseInt(id, 10, 64); err != nil {
		return c.JSON(http.StatusUnprocessableEntity, map[string]string{"error": "payload_id: must be an integer"})
	}
	env := model.TriggerEnvelope(c.RealIP(), id, time.Now().UTC())
	return h.enqueue(c, queue, env, nil)
}

// envelope stamps a transport post: missing senders resolve to the
// client address, missing timestamps to the arrival time.
func (h *IngestHandler) envelope(c echo.Context, req ingestRequest, transmit, ingest string) model.RawEnvelope {
	sender := req.Sender
	if sender == "" {
		sender = c.RealIP()
	}
	ts := time.Now().UTC()
	if req.Timestamp != nil {
		ts = req.Timestamp.UTC()
	}
	return model.RawEnvelope{
		Sender:         sender,
		Payload:        req.RawData,
		Timestamp:      ts,
		IngestMethod:   ingest,
		TransmitMethod: transmit,
	}
}

// enqueue appends and acks. A value that will not serialize is our bug
// (500); everything else from the broker means the queue is down (503).
func (h *IngestHandler) enqueue(c echo.Context, queue string, env model.RawEnvelope, decode *bool) error {
	n, err := h.broker.Enqueue(c.Request().Context(), queue, env)
	if err != nil {
		if errors.Is(err, broker.ErrEncode) {
			h.logger.Error("envelope serialization failed",
				zap.String("queue", queue),
				zap.Error(err),
			)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to serialize envelope"})
		}
		h.logger.Error("queue append failed",
			zap.String("queue", queue),
			zap.Error(err),
		)
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "queue unavailable, retry later"})
	}
	return c.JSON(http.StatusAccepted, queueAck{QueueNumber: n, DecodeSuccess: decode})
}

func aprsDecodes(frame string, ref time.Time) bool {
	_, err := aprs.Parse(frame, ref)
	return err == nil
}

// hasValue reports whether a raw JSON field was present and not null.
func hasValue(raw json.RawMessage) bool {
	return len(raw) > 0 && string(raw) != "null"
}
