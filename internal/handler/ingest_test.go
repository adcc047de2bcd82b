package handler_test

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/hex"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/umich-balloons/tracker/internal/auth"
	"github.com/umich-balloons/tracker/internal/broker"
	"github.com/umich-balloons/tracker/internal/handler"
	"github.com/umich-balloons/tracker/internal/model"
)

const testFrame = "KF8ABL-11>APRS,WIDE2-1,qAR,W8UM:!4217.67N/08342.78WO010/005/A=001000 going up"

type ackBody struct {
	QueueNumber   int64 `json:"queue_number"`
	DecodeSuccess *bool `json:"decode_success"`
}

func newSigningKey(t *testing.T) (*rsa.PrivateKey, string) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	return key, string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))
}

func signToken(t *testing.T, key *rsa.PrivateKey) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"iss": "Iridium",
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString(key)
	require.NoError(t, err)
	return token
}

// newIngestEcho wires an ingest handler over a fresh miniredis. The
// returned miniredis handle lets tests inspect the queued envelopes.
func newIngestEcho(t *testing.T, pubKey string) (*echo.Echo, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	b, err := broker.New("redis://"+mr.Addr(), 0, 1, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	v, err := auth.NewVerifier(pubKey)
	require.NoError(t, err)

	e := echo.New()
	handler.NewIngestHandler(b, v, zaptest.NewLogger(t)).Register(e)
	return e, mr
}

func postJSON(t *testing.T, e *echo.Echo, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func postText(t *testing.T, e *echo.Echo, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMETextPlain)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decodeAck(t *testing.T, rec *httptest.ResponseRecorder) ackBody {
	t.Helper()
	var ack ackBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ack))
	return ack
}

// queuedEnvelope asserts the queue holds exactly one envelope and
// returns it decoded.
func queuedEnvelope(t *testing.T, mr *miniredis.Miniredis, queue string) model.RawEnvelope {
	t.Helper()
	items, err := mr.List(queue)
	require.NoError(t, err)
	require.Len(t, items, 1)

	var env model.RawEnvelope
	require.NoError(t, json.Unmarshal([]byte(items[0]), &env))
	return env
}

func TestPostAPRSQueuesFrame(t *testing.T) {
	_, pub := newSigningKey(t)
	e, mr := newIngestEcho(t, pub)

	sent := time.Date(2026, 3, 10, 11, 59, 30, 0, time.UTC)
	rec := postJSON(t, e, "/aprs", map[string]any{
		"sender":    "W8UM",
		"raw_data":  testFrame,
		"timestamp": sent,
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	ack := decodeAck(t, rec)
	require.Equal(t, int64(1), ack.QueueNumber)
	require.NotNil(t, ack.DecodeSuccess)
	require.True(t, *ack.DecodeSuccess)

	env := queuedEnvelope(t, mr, model.QueueAPRS)
	require.Equal(t, "W8UM", env.Sender)
	require.Equal(t, "HTTP", env.IngestMethod)
	require.Equal(t, "APRS", env.TransmitMethod)
	require.True(t, sent.Equal(env.Timestamp))

	var frame string
	require.NoError(t, json.Unmarshal(env.Payload, &frame))
	require.Equal(t, testFrame, frame)
}

func TestPostAPRSUndecodableFrameStillQueued(t *testing.T) {
	_, pub := newSigningKey(t)
	e, mr := newIngestEcho(t, pub)

	rec := postJSON(t, e, "/aprs", map[string]any{"raw_data": "static noise"})
	require.Equal(t, http.StatusAccepted, rec.Code)

	ack := decodeAck(t, rec)
	require.NotNil(t, ack.DecodeSuccess)
	require.False(t, *ack.DecodeSuccess)

	// Sender falls back to the client address when the body names none.
	env := queuedEnvelope(t, mr, model.QueueAPRS)
	require.Equal(t, "192.0.2.1", env.Sender)
}

func TestPostAPRSNonStringRawDataOmitsDecode(t *testing.T) {
	_, pub := newSigningKey(t)
	e, mr := newIngestEcho(t, pub)

	rec := postJSON(t, e, "/aprs", map[string]any{
		"raw_data": map[string]any{"frame": testFrame},
	})
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Nil(t, decodeAck(t, rec).DecodeSuccess)
	require.NotContains(t, rec.Body.String(), "decode_success")
	queuedEnvelope(t, mr, model.QueueAPRS)
}

func TestPostAPRSMissingRawData(t *testing.T) {
	_, pub := newSigningKey(t)
	e, mr := newIngestEcho(t, pub)

	rec := postJSON(t, e, "/aprs", map[string]any{"sender": "W8UM"})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.False(t, mr.Exists(model.QueueAPRS))
}

func TestPostLoRaQueuesReport(t *testing.T) {
	_, pub := newSigningKey(t)
	e, mr := newIngestEcho(t, pub)

	report := map[string]any{"callsign": "KF8ABL-11", "lat": 42.29, "lon": -83.71}
	rec := postJSON(t, e, "/lora", map[string]any{"raw_data": report})
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Nil(t, decodeAck(t, rec).DecodeSuccess)

	env := queuedEnvelope(t, mr, model.QueueLoRa)
	require.Equal(t, "LoRa", env.TransmitMethod)

	want, err := json.Marshal(report)
	require.NoError(t, err)
	require.JSONEq(t, string(want), string(env.Payload))
}

func TestPostIridiumRejectsBadTokenBeforeQueueing(t *testing.T) {
	_, pub := newSigningKey(t)
	wrongKey, _ := newSigningKey(t)
	e, mr := newIngestEcho(t, pub)

	rec := postJSON(t, e, "/iridium", map[string]any{
		"data": "0102",
		"JWT":  signToken(t, wrongKey),
	})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.False(t, mr.Exists(model.QueueIridium))
}

func TestPostIridiumQueuesWholeWebhook(t *testing.T) {
	key, pub := newSigningKey(t)
	e, mr := newIngestEcho(t, pub)

	report, err := json.Marshal(map[string]any{"lat": 42.29, "lon": -83.71, "alt": 30500})
	require.NoError(t, err)

	body := map[string]any{
		"momsn":         12,
		"imei":          "300234010753370",
		"serial":        300234010753370,
		"device_type":   "ROCKBLOCK",
		"transmit_time": "26-03-10 12:01:05",
		"data":          hex.EncodeToString(report),
		"JWT":           signToken(t, key),
	}
	rec := postJSON(t, e, "/iridium", body)
	require.Equal(t, http.StatusAccepted, rec.Code)

	ack := decodeAck(t, rec)
	require.NotNil(t, ack.DecodeSuccess)
	require.True(t, *ack.DecodeSuccess)

	env := queuedEnvelope(t, mr, model.QueueIridium)
	require.Equal(t, "192.0.2.1", env.Sender)
	require.Equal(t, "Iridium", env.TransmitMethod)
	require.True(t, time.Date(2026, 3, 10, 12, 1, 5, 0, time.UTC).Equal(env.Timestamp))

	// The worker re-reads the gateway fields, so the envelope carries the
	// webhook body byte for byte.
	want, err := json.Marshal(body)
	require.NoError(t, err)
	require.JSONEq(t, string(want), string(env.Payload))
}

func TestPostIridiumBadHexQueuedWithDecodeFalse(t *testing.T) {
	key, pub := newSigningKey(t)
	e, mr := newIngestEcho(t, pub)

	rec := postJSON(t, e, "/iridium", map[string]any{
		"data": "not hex at all",
		"JWT":  signToken(t, key),
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	ack := decodeAck(t, rec)
	require.NotNil(t, ack.DecodeSuccess)
	require.False(t, *ack.DecodeSuccess)
	queuedEnvelope(t, mr, model.QueueIridium)
}

func TestPostIridiumMissingData(t *testing.T) {
	key, pub := newSigningKey(t)
	e, mr := newIngestEcho(t, pub)

	rec := postJSON(t, e, "/iridium", map[string]any{
		"momsn": 12,
		"JWT":   signToken(t, key),
	})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.False(t, mr.Exists(model.QueueIridium))
}

func TestPostManualAPRSQueuesFrameText(t *testing.T) {
	_, pub := newSigningKey(t)
	e, mr := newIngestEcho(t, pub)

	rec := postText(t, e, "/manual/aprs", testFrame)
	require.Equal(t, http.StatusAccepted, rec.Code)

	ack := decodeAck(t, rec)
	require.NotNil(t, ack.DecodeSuccess)
	require.True(t, *ack.DecodeSuccess)

	env := queuedEnvelope(t, mr, model.QueueAPRS)
	require.Equal(t, "manual", env.IngestMethod)
	require.Equal(t, "APRS", env.TransmitMethod)

	var frame string
	require.NoError(t, json.Unmarshal(env.Payload, &frame))
	require.Equal(t, testFrame, frame)
}

func TestPostManualAPRSEmptyBody(t *testing.T) {
	_, pub := newSigningKey(t)
	e, mr := newIngestEcho(t, pub)

	rec := postText(t, e, "/manual/aprs", "")
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.False(t, mr.Exists(model.QueueAPRS))
}

func TestPostManualLoRaQueuesText(t *testing.T) {
	_, pub := newSigningKey(t)
	e, mr := newIngestEcho(t, pub)

	body := `{"callsign":"KF8ABL-11","lat":42.29,"lon":-83.71}`
	rec := postText(t, e, "/manual/lora", body)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Nil(t, decodeAck(t, rec).DecodeSuccess)

	env := queuedEnvelope(t, mr, model.QueueLoRa)
	require.Equal(t, "manual", env.IngestMethod)
}

func TestManualTriggersQueueMaintenanceJobs(t *testing.T) {
	_, pub := newSigningKey(t)
	e, mr := newIngestEcho(t, pub)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/manual/path/12", nil))
	require.Equal(t, http.StatusAccepted, rec.Code)

	env := queuedEnvelope(t, mr, model.QueueGetPath)
	require.Equal(t, "192.0.2.1", env.Sender)
	require.JSONEq(t, `"12"`, string(env.Payload))

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/manual/prediction/12", nil))
	require.Equal(t, http.StatusAccepted, rec.Code)
	queuedEnvelope(t, mr, model.QueuePredictFlight)
}

func TestManualTriggerRejectsBadPayloadID(t *testing.T) {
	_, pub := newSigningKey(t)
	e, mr := newIngestEcho(t, pub)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/manual/path/balloon-one", nil))
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.False(t, mr.Exists(model.QueueGetPath))
}

func TestEnqueueAnswersServiceUnavailableWhenBrokerDown(t *testing.T) {
	_, pub := newSigningKey(t)
	e, mr := newIngestEcho(t, pub)
	mr.Close()

	rec := postJSON(t, e, "/aprs", map[string]any{"raw_data": testFrame})
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
