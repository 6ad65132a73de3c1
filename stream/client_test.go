package stream

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// feedServer is a minimal upstream: it accepts websocket clients, records
// what they send, and can push frames or kill connections on demand.
type feedServer struct {
	srv *httptest.Server

	mu       sync.Mutex
	conns    []*websocket.Conn
	upgrades int
	received [][]byte
}

func newFeedServer(t *testing.T) *feedServer {
	t.Helper()
	fs := &feedServer{}
	upgrader := websocket.Upgrader{}

	fs.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		fs.mu.Lock()
		fs.upgrades++
		fs.conns = append(fs.conns, conn)
		fs.mu.Unlock()

		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			fs.mu.Lock()
			fs.received = append(fs.received, msg)
			fs.mu.Unlock()
		}
	}))
	t.Cleanup(fs.srv.Close)
	return fs
}

func (fs *feedServer) url() string {
	return "ws" + strings.TrimPrefix(fs.srv.URL, "http")
}

func (fs *feedServer) upgradeCount() int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.upgrades
}

func (fs *feedServer) messages() [][]byte {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	out := make([][]byte, len(fs.received))
	copy(out, fs.received)
	return out
}

// push writes a raw frame to the most recent client connection.
func (fs *feedServer) push(t *testing.T, payload string) {
	t.Helper()
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if len(fs.conns) == 0 {
		t.Fatal("no client connected")
	}
	conn := fs.conns[len(fs.conns)-1]
	if err := conn.WriteMessage(websocket.TextMessage, []byte(payload)); err != nil {
		t.Fatalf("push failed: %v", err)
	}
}

// deadURL returns a ws:// endpoint that refuses connections.
func deadURL(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	srv.Close()
	return url
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func noJitter(c *Client) {
	c.jitter = func() time.Duration { return 0 }
}

func TestRetryDelayGrowsAndCaps(t *testing.T) {
	c := New(Config{URL: "ws://unused", Silent: true})
	noJitter(c)

	var prev time.Duration
	for attempt := 0; attempt < DefaultMaxAttempts; attempt++ {
		d := c.retryDelay(attempt)
		if d < prev {
			t.Fatalf("delay shrank at attempt %d: %s < %s", attempt, d, prev)
		}
		if d > DefaultMaxDelay {
			t.Fatalf("delay above cap at attempt %d: %s", attempt, d)
		}
		prev = d
	}

	if got := c.retryDelay(0); got != 3*time.Second {
		t.Fatalf("attempt 0: expected 3s, got %s", got)
	}
	if got := c.retryDelay(1); got != 6*time.Second {
		t.Fatalf("attempt 1: expected 6s, got %s", got)
	}
	if got := c.retryDelay(3); got != 24*time.Second {
		t.Fatalf("attempt 3: expected 24s, got %s", got)
	}
	if got := c.retryDelay(4); got != 30*time.Second {
		t.Fatalf("attempt 4: expected the 30s cap, got %s", got)
	}
	if got := c.retryDelay(9); got != 30*time.Second {
		t.Fatalf("attempt 9: expected the 30s cap, got %s", got)
	}
}

func TestRetryDelayJitterBound(t *testing.T) {
	c := New(Config{URL: "ws://unused", Silent: true})

	for attempt := 0; attempt < DefaultMaxAttempts; attempt++ {
		base := c.backoff.ForAttempt(float64(attempt))
		for i := 0; i < 50; i++ {
			d := c.retryDelay(attempt)
			if d < base || d >= base+time.Second {
				t.Fatalf("attempt %d: delay %s outside [%s, %s)", attempt, d, base, base+time.Second)
			}
			if d > 31*time.Second {
				t.Fatalf("attempt %d: delay %s above the 31s ceiling", attempt, d)
			}
		}
	}
}

func TestConnectDeliversMessages(t *testing.T) {
	fs := newFeedServer(t)

	var mu sync.Mutex
	var got []string
	c := New(Config{
		URL:    fs.url(),
		Silent: true,
		OnMessage: func(msg []byte) {
			mu.Lock()
			got = append(got, string(msg))
			mu.Unlock()
		},
	})
	noJitter(c)
	defer c.Close()

	c.Connect()
	waitFor(t, 2*time.Second, func() bool { return c.Status() == StatusConnected }, "client never connected")

	if c.Attempt() != 0 {
		t.Fatalf("expected attempt 0 after connect, got %d", c.Attempt())
	}

	fs.push(t, `{"type":"status","state":"running"}`)
	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, "frame never delivered")

	mu.Lock()
	defer mu.Unlock()
	if got[0] != `{"type":"status","state":"running"}` {
		t.Fatalf("unexpected frame: %s", got[0])
	}
}

func TestMalformedFrameIsDroppedNotFatal(t *testing.T) {
	fs := newFeedServer(t)

	var mu sync.Mutex
	var got []string
	c := New(Config{
		URL:    fs.url(),
		Silent: true,
		OnMessage: func(msg []byte) {
			mu.Lock()
			got = append(got, string(msg))
			mu.Unlock()
		},
	})
	noJitter(c)
	defer c.Close()

	c.Connect()
	waitFor(t, 2*time.Second, func() bool { return c.Status() == StatusConnected }, "client never connected")

	fs.push(t, `{not json at all`)
	fs.push(t, `{"type":"trade"}`)

	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, "valid frame after the bad one never arrived")

	mu.Lock()
	if got[0] != `{"type":"trade"}` {
		mu.Unlock()
		t.Fatalf("unexpected frame: %s", got[0])
	}
	mu.Unlock()

	if c.Status() != StatusConnected {
		t.Fatalf("bad frame tore down the connection, status %s", c.Status())
	}
}

func TestSendWhileDownIsSilentDrop(t *testing.T) {
	c := New(Config{URL: deadURL(t), Silent: true})
	noJitter(c)
	defer c.Close()

	// Never connected: must not panic, must not error, must not change state.
	c.Send(map[string]string{"type": "subscribe"})
	c.Send(nil)

	if c.Status() != StatusDisconnected {
		t.Fatalf("expected disconnected, got %s", c.Status())
	}
}

func TestSendDeliversWhenConnected(t *testing.T) {
	fs := newFeedServer(t)

	c := New(Config{URL: fs.url(), Silent: true})
	noJitter(c)
	defer c.Close()

	c.Connect()
	waitFor(t, 2*time.Second, func() bool { return c.Status() == StatusConnected }, "client never connected")

	c.Send(map[string]string{"type": "subscribe", "channel": "positions"})

	waitFor(t, 2*time.Second, func() bool { return len(fs.messages()) == 1 }, "server never received the frame")
	if !strings.Contains(string(fs.messages()[0]), `"channel":"positions"`) {
		t.Fatalf("unexpected payload: %s", fs.messages()[0])
	}
}

func TestDropTriggersReconnect(t *testing.T) {
	fs := newFeedServer(t)

	c := New(Config{
		URL:       fs.url(),
		Silent:    true,
		BaseDelay: 10 * time.Millisecond,
		MaxDelay:  20 * time.Millisecond,
	})
	noJitter(c)
	defer c.Close()

	c.Connect()
	waitFor(t, 2*time.Second, func() bool { return c.Status() == StatusConnected }, "client never connected")

	// Kill the server side of every open connection, listener stays up.
	fs.srv.CloseClientConnections()

	waitFor(t, 2*time.Second, func() bool {
		return fs.upgradeCount() == 2 && c.Status() == StatusConnected
	}, "client never re-established the connection")

	if c.Attempt() != 0 {
		t.Fatalf("expected attempt counter reset after reconnect, got %d", c.Attempt())
	}
}

func TestFailedAfterBudgetExhausted(t *testing.T) {
	c := New(Config{
		URL:         deadURL(t),
		Silent:      true,
		BaseDelay:   time.Millisecond,
		MaxDelay:    2 * time.Millisecond,
		MaxAttempts: 3,
	})
	noJitter(c)
	defer c.Close()

	c.Connect()
	waitFor(t, 2*time.Second, func() bool { return c.Status() == StatusFailed }, "client never reached failed")

	if c.Attempt() != 3 {
		t.Fatalf("expected 3 consumed attempts, got %d", c.Attempt())
	}

	// No timer may be pending once failed: the state must not move on its own.
	c.mu.Lock()
	timer := c.retryTimer
	c.mu.Unlock()
	if timer != nil {
		t.Fatal("retry timer still set in failed state")
	}

	time.Sleep(50 * time.Millisecond)
	if c.Status() != StatusFailed {
		t.Fatalf("failed state moved on its own to %s", c.Status())
	}
	if c.Attempt() != 3 {
		t.Fatalf("attempt counter moved after failed: %d", c.Attempt())
	}

	// Connect is a no-op from failed, only Reconnect recovers.
	c.Connect()
	time.Sleep(20 * time.Millisecond)
	if c.Status() != StatusFailed {
		t.Fatalf("Connect escaped the failed state: %s", c.Status())
	}
}

func TestReconnectRecoversFromFailed(t *testing.T) {
	fs := newFeedServer(t)

	c := New(Config{URL: fs.url(), Silent: true, MaxAttempts: 2})
	noJitter(c)
	defer c.Close()

	// Force the terminal state directly, then recover against a live server.
	c.mu.Lock()
	c.status = StatusFailed
	c.attempt = c.cfg.MaxAttempts
	c.mu.Unlock()

	c.Reconnect()
	waitFor(t, 2*time.Second, func() bool { return c.Status() == StatusConnected }, "reconnect never connected")

	if c.Attempt() != 0 {
		t.Fatalf("expected fresh retry budget after reconnect, got %d", c.Attempt())
	}
}

func TestCloseCancelsPendingRetry(t *testing.T) {
	c := New(Config{
		URL:         deadURL(t),
		Silent:      true,
		BaseDelay:   150 * time.Millisecond,
		MaxDelay:    300 * time.Millisecond,
		MaxAttempts: 5,
	})
	noJitter(c)

	c.Connect()
	waitFor(t, 2*time.Second, func() bool { return c.Attempt() == 1 }, "first dial never failed")

	c.Close()
	c.Close() // idempotent

	// The 150ms retry would fire around now. It must not.
	time.Sleep(250 * time.Millisecond)
	if got := c.Attempt(); got != 1 {
		t.Fatalf("retry fired after Close, attempt %d", got)
	}
	if c.Status() != StatusDisconnected {
		t.Fatalf("expected disconnected after close, got %s", c.Status())
	}
}

func TestSecondConnectIsNoop(t *testing.T) {
	fs := newFeedServer(t)

	c := New(Config{URL: fs.url(), Silent: true})
	noJitter(c)
	defer c.Close()

	c.Connect()
	waitFor(t, 2*time.Second, func() bool { return c.Status() == StatusConnected }, "client never connected")

	c.Connect()
	time.Sleep(50 * time.Millisecond)

	if fs.upgradeCount() != 1 {
		t.Fatalf("second Connect dialed again, %d upgrades", fs.upgradeCount())
	}
}

func TestDisabledClientNeverDials(t *testing.T) {
	fs := newFeedServer(t)

	c := New(Config{URL: fs.url(), Silent: true, Disabled: true})
	defer c.Close()

	c.Connect()
	time.Sleep(50 * time.Millisecond)

	if fs.upgradeCount() != 0 {
		t.Fatal("disabled client dialed upstream")
	}
	if c.Status() != StatusDisconnected {
		t.Fatalf("expected disconnected, got %s", c.Status())
	}
}
