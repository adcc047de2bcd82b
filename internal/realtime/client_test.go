package realtime

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// newSocketPair dials a real websocket through httptest and returns the
// wrapped client side plus the raw server side.
func newSocketPair(t *testing.T) (*Client, *websocket.Conn) {
	t.Helper()

	upgrader := websocket.Upgrader{}
	serverConns := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Error("upgrade failed:", err)
			return
		}
		serverConns <- conn
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })

	var server *websocket.Conn
	select {
	case server = <-serverConns:
	case <-time.After(2 * time.Second):
		t.Fatal("server side never arrived")
	}
	t.Cleanup(func() { _ = server.Close() })

	return NewClient(conn), server
}

func TestWriteJSONSafeFromManyGoroutines(t *testing.T) {
	client, server := newSocketPair(t)

	const writers, frames = 8, 25
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < frames; j++ {
				msg := ServerMessage{Type: TypeNewPosition, RequestID: "w"}
				if err := client.WriteJSON(msg); err != nil {
					t.Error("write failed:", err)
					return
				}
			}
		}(i)
	}

	received := 0
	deadline := time.Now().Add(5 * time.Second)
	for received < writers*frames {
		require.NoError(t, server.SetReadDeadline(deadline))
		var frame ServerMessage
		require.NoError(t, server.ReadJSON(&frame))
		require.Equal(t, TypeNewPosition, frame.Type)
		received++
	}
	wg.Wait()
}

func TestPingSharesTheSocket(t *testing.T) {
	client, server := newSocketPair(t)

	pinged := make(chan struct{}, 1)
	server.SetPingHandler(func(string) error {
		select {
		case pinged <- struct{}{}:
		default:
		}
		return nil
	})
	// Control frames are surfaced during reads; pump in the background.
	go func() {
		for {
			if _, _, err := server.ReadMessage(); err != nil {
				return
			}
		}
	}()

	require.NoError(t, client.Ping(time.Now().Add(2*time.Second)))
	select {
	case <-pinged:
	case <-time.After(2 * time.Second):
		t.Fatal("ping never reached the peer")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	client, _ := newSocketPair(t)

	client.Close()
	client.Close()

	err := client.WriteJSON(ServerMessage{Type: TypeError, Error: "gone"})
	require.Error(t, err, "writes after close must fail")
}
