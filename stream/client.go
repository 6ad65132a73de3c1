package stream

import (
	"encoding/json"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"
)

// Status describes the lifecycle of the upstream connection.
type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
	StatusFailed       Status = "failed"
)

// Reconnect defaults. Retry delays follow min(BaseDelay * 2^attempt, MaxDelay)
// plus up to one second of jitter, so the worst case wait is MaxDelay + 1s.
const (
	DefaultBaseDelay   = 3 * time.Second
	DefaultMaxDelay    = 30 * time.Second
	DefaultMaxAttempts = 10
)

// Config wires a Client to an upstream feed.
type Config struct {
	URL  string
	Name string // Log label, e.g. "Agent Feed". Falls back to URL.

	// OnMessage receives every frame that is valid JSON. Malformed frames
	// are dropped and logged without touching the connection.
	OnMessage    func(msg []byte)
	OnConnect    func()
	OnDisconnect func(err error)
	OnError      func(err error)
	OnStatus     func(s Status)

	BaseDelay   time.Duration // First retry delay (default 3s)
	MaxDelay    time.Duration // Backoff cap (default 30s)
	MaxAttempts int           // Retry budget before giving up (default 10)

	Dialer *websocket.Dialer // Defaults to websocket.DefaultDialer

	DisableReconnect bool // Drop the connection permanently on first failure
	Disabled         bool // Never dial at all
	Silent           bool // Mute log output
}

// Client maintains one persistent websocket connection and re-establishes it
// after drops. At most one dial is in flight at any time, and once the retry
// budget is spent only an explicit Reconnect brings the client back.
type Client struct {
	cfg     Config
	backoff *backoff.Backoff
	jitter  func() time.Duration

	mu         sync.Mutex
	conn       *websocket.Conn
	status     Status
	attempt    int
	retryTimer *time.Timer
	closed     bool
	gen        int // bumped on Close/Reconnect to invalidate stale dials and timers

	writeMu sync.Mutex
}

// New builds a client. Nothing is dialed until Connect.
func New(cfg Config) *Client {
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultBaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = DefaultMaxDelay
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	return &Client{
		cfg:    cfg,
		status: StatusDisconnected,
		backoff: &backoff.Backoff{
			Min:    cfg.BaseDelay,
			Max:    cfg.MaxDelay,
			Factor: 2,
		},
		jitter: func() time.Duration {
			return time.Duration(rand.Int63n(int64(time.Second)))
		},
	}
}

// Connect starts dialing. No-op while disabled, closed, already connected or
// connecting, or failed. A failed client only comes back via Reconnect.
func (c *Client) Connect() {
	c.mu.Lock()
	if c.cfg.Disabled || c.closed || c.status == StatusConnecting || c.status == StatusConnected || c.status == StatusFailed {
		c.mu.Unlock()
		return
	}
	c.stopRetryLocked()
	c.setStatusLocked(StatusConnecting)
	gen := c.gen
	c.mu.Unlock()

	go c.dial(gen)
}

// Reconnect tears down whatever exists and dials again with a fresh retry
// budget, regardless of the current state.
func (c *Client) Reconnect() {
	c.mu.Lock()
	if c.cfg.Disabled || c.closed {
		c.mu.Unlock()
		return
	}
	c.gen++
	c.stopRetryLocked()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.attempt = 0
	c.setStatusLocked(StatusConnecting)
	gen := c.gen
	c.mu.Unlock()

	if !c.cfg.Silent {
		log.Printf("[%s] Manual reconnect requested", c.label())
	}
	go c.dial(gen)
}

// Close shuts the client down for good and cancels any pending retry.
// Safe to call more than once.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.gen++
	c.stopRetryLocked()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.setStatusLocked(StatusDisconnected)
}

// Send marshals v and writes it upstream. While the connection is down the
// frame is dropped on the floor: no queue, no error back to the caller.
func (c *Client) Send(v interface{}) {
	c.mu.Lock()
	conn := c.conn
	connected := c.status == StatusConnected
	c.mu.Unlock()

	if !connected || conn == nil {
		return
	}

	data, err := json.Marshal(v)
	if err != nil {
		if !c.cfg.Silent {
			log.Printf("⚠️ [%s] Send marshal error: %v", c.label(), err)
		}
		return
	}

	c.writeMu.Lock()
	err = conn.WriteMessage(websocket.TextMessage, data)
	c.writeMu.Unlock()
	if err != nil && !c.cfg.Silent {
		log.Printf("⚠️ [%s] Send failed: %v", c.label(), err)
	}
}

// Status returns the current connection state.
func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Attempt reports how many retries have been consumed since the last
// successful connect.
func (c *Client) Attempt() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempt
}

func (c *Client) dial(gen int) {
	conn, _, err := c.cfg.Dialer.Dial(c.cfg.URL, nil)

	c.mu.Lock()
	if c.closed || gen != c.gen {
		c.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return
	}

	if err != nil {
		if !c.cfg.Silent {
			log.Printf("[%s] Connection error: %v", c.label(), err)
		}
		if c.cfg.OnError != nil {
			go c.cfg.OnError(err)
		}
		c.scheduleRetryLocked()
		c.mu.Unlock()
		return
	}

	c.conn = conn
	c.attempt = 0
	c.setStatusLocked(StatusConnected)
	c.mu.Unlock()

	if !c.cfg.Silent {
		log.Printf("[%s] Connected", c.label())
	}
	if c.cfg.OnConnect != nil {
		c.cfg.OnConnect()
	}

	c.readLoop(conn, gen)
}

func (c *Client) readLoop(conn *websocket.Conn, gen int) {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			c.handleDrop(conn, gen, err)
			return
		}

		// Bad frames are a per-message problem, not a connection problem.
		if !json.Valid(msg) {
			if !c.cfg.Silent {
				log.Printf("⚠️ [%s] Dropping malformed frame (%d bytes)", c.label(), len(msg))
			}
			continue
		}

		if c.cfg.OnMessage != nil {
			c.cfg.OnMessage(msg)
		}
	}
}

func (c *Client) handleDrop(conn *websocket.Conn, gen int, err error) {
	conn.Close()

	c.mu.Lock()
	if c.closed || gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.conn = nil

	if !c.cfg.Silent {
		log.Printf("[%s] Read error: %v. Reconnecting...", c.label(), err)
	}
	if c.cfg.OnDisconnect != nil {
		go c.cfg.OnDisconnect(err)
	}

	c.scheduleRetryLocked()
	c.mu.Unlock()
}

// scheduleRetryLocked is called with c.mu held after a dial failure or drop.
func (c *Client) scheduleRetryLocked() {
	if c.cfg.DisableReconnect {
		c.setStatusLocked(StatusDisconnected)
		return
	}
	if c.attempt >= c.cfg.MaxAttempts {
		c.stopRetryLocked()
		c.setStatusLocked(StatusFailed)
		if !c.cfg.Silent {
			log.Printf("❌ [%s] Gave up after %d attempts. Manual reconnect required.", c.label(), c.attempt)
		}
		return
	}

	delay := c.retryDelay(c.attempt)
	c.attempt++
	c.setStatusLocked(StatusDisconnected)
	if !c.cfg.Silent {
		log.Printf("[%s] Retry %d/%d in %s", c.label(), c.attempt, c.cfg.MaxAttempts, delay.Round(time.Millisecond))
	}

	gen := c.gen
	c.retryTimer = time.AfterFunc(delay, func() {
		c.mu.Lock()
		if c.closed || gen != c.gen || c.status == StatusConnecting || c.status == StatusConnected {
			c.mu.Unlock()
			return
		}
		c.setStatusLocked(StatusConnecting)
		c.mu.Unlock()
		c.dial(gen)
	})
}

// retryDelay grows exponentially from BaseDelay up to the MaxDelay cap, with
// up to a second of jitter so a fleet of clients does not stampede upstream.
func (c *Client) retryDelay(attempt int) time.Duration {
	return c.backoff.ForAttempt(float64(attempt)) + c.jitter()
}

func (c *Client) stopRetryLocked() {
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
}

func (c *Client) setStatusLocked(s Status) {
	if c.status == s {
		return
	}
	c.status = s
	if c.cfg.OnStatus != nil {
		go c.cfg.OnStatus(s)
	}
}

func (c *Client) label() string {
	if c.cfg.Name != "" {
		return c.cfg.Name
	}
	return c.cfg.URL
}
