package realtime

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Server→client message types.
const (
	TypeNewPosition       = "newPosition"
	TypeInitialSegments   = "initialPathSegments"
	TypeCatchUpSegments   = "catchUpPathSegments"
	TypeTelemetryResponse = "telemetryResponse"
	TypeError             = "error"
	TypeUnknown           = "unknownResponse"
)

// ServerMessage is the frame shape for everything the server sends.
type ServerMessage struct {
	Type      string `json:"type"`
	Data      any    `json:"data,omitempty"`
	Error     string `json:"error,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// Client wraps one websocket connection. The write mutex is the point:
// the per-client read loop replies on the same socket the broadcast
// dispatcher writes to, and gorilla connections allow one writer at a
// time.
type Client struct {
	conn *websocket.Conn

	writeMu   sync.Mutex
	closeOnce sync.Once
}

func NewClient(conn *websocket.Conn) *Client {
	return &Client{conn: conn}
}

// WriteJSON sends one frame; safe to call from any goroutine.
func (c *Client) WriteJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(v)
}

// Ping sends a control ping, sharing the write lock with data frames.
func (c *Client) Ping(deadline time.Time) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteControl(websocket.PingMessage, nil, deadline)
}

// ReadMessage blocks for the next frame. Only the owning read loop may
// call this; gorilla connections support a single concurrent reader.
func (c *Client) ReadMessage() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	return data, err
}

func (c *Client) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

func (c *Client) SetPongHandler(h func(string) error) {
	c.conn.SetPongHandler(h)
}

// Close tears the socket down; safe to call more than once.
func (c *Client) Close() {
	c.closeOnce.Do(func() { _ = c.conn.Close() })
}
