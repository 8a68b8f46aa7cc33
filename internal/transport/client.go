// Package transport maintains the persistent duplex websocket connection to
// the remote orchestrator: it encodes/decodes the protocol message union,
// sends periodic heartbeats, and reconnects on unexpected closure with
// bounded backoff.
package transport

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/katipally/Jarvis-sub002/internal/protocol"
)

// ErrNotConnected is returned by Send while no connection is established.
var ErrNotConnected = fmt.Errorf("transport: not connected")

// ErrRetryBudgetExceeded is delivered on Down once reconnection gives up.
var ErrRetryBudgetExceeded = fmt.Errorf("transport: reconnect attempts exhausted")

// Options tunes connection behavior. Zero values select defaults.
type Options struct {
	HeartbeatInterval    time.Duration // default 30s
	MaxReconnectAttempts int           // default 5
	ReconnectBase        time.Duration // delay = attempt * base; default 1s
	HandshakeTimeout     time.Duration // default 10s
}

func (o Options) withDefaults() Options {
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = 30 * time.Second
	}
	if o.MaxReconnectAttempts <= 0 {
		o.MaxReconnectAttempts = 5
	}
	if o.ReconnectBase <= 0 {
		o.ReconnectBase = time.Second
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = 10 * time.Second
	}
	return o
}

// Client is a duplex protocol connection with automatic reconnection. One
// client serves one session's lifetime.
type Client struct {
	url  string
	opts Options

	events chan protocol.Message
	down   chan error

	mu          sync.RWMutex
	conn        *websocket.Conn
	connected   bool
	connectedCh chan struct{}
	closing     bool

	writeMu  sync.Mutex // gorilla allows a single concurrent writer
	lastPong atomic.Int64

	stopCh chan struct{}
	done   sync.WaitGroup
}

// NewClient builds a client for the given ws/wss URL. Start must be called
// before sending.
func NewClient(url string, opts Options) *Client {
	return &Client{
		url:         url,
		opts:        opts.withDefaults(),
		events:      make(chan protocol.Message, 100),
		down:        make(chan error, 1),
		connectedCh: make(chan struct{}),
		stopCh:      make(chan struct{}),
	}
}

// Events delivers inbound server messages. Pongs are consumed internally.
func (c *Client) Events() <-chan protocol.Message { return c.events }

// Down delivers the terminal failure once the retry budget is exhausted.
func (c *Client) Down() <-chan error { return c.down }

// Start launches the connection manager. The initial dial also consumes the
// retry budget, so an unreachable server surfaces on Down.
func (c *Client) Start() {
	c.done.Add(1)
	go c.manage()
}

// WaitConnected blocks until the connection is established or ctx ends.
// Callers must await this before sending meaningful content.
func (c *Client) WaitConnected(ctx context.Context) error {
	c.mu.RLock()
	ch := c.connectedCh
	connected := c.connected
	c.mu.RUnlock()
	if connected {
		return nil
	}
	select {
	case <-ch:
		return nil
	case <-c.stopCh:
		return fmt.Errorf("transport: closed")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Send encodes and writes a message. Valid only while connected.
func (c *Client) Send(m protocol.Message) error {
	c.mu.RLock()
	conn := c.conn
	connected := c.connected
	c.mu.RUnlock()
	if !connected || conn == nil {
		return ErrNotConnected
	}
	data, err := protocol.Encode(m)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("transport: send: %w", err)
	}
	return nil
}

// TrySend is fire-and-forget delivery for interrupt and ping.
func (c *Client) TrySend(m protocol.Message) {
	if err := c.Send(m); err != nil && err != ErrNotConnected {
		log.Printf("transport: best-effort send failed: %v", err)
	}
}

// Close tears the connection down. It never triggers reconnection.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return nil
	}
	c.closing = true
	conn := c.conn
	c.mu.Unlock()
	close(c.stopCh)
	if conn != nil {
		_ = conn.Close()
	}
	c.done.Wait()
	return nil
}

func (c *Client) manage() {
	defer c.done.Done()
	attempt := 0
	for {
		select {
		case <-c.stopCh:
			return
		default:
		}

		conn, err := c.dial()
		if err != nil {
			attempt++
			log.Printf("transport: connect failed (attempt %d/%d): %v", attempt, c.opts.MaxReconnectAttempts, err)
			if attempt >= c.opts.MaxReconnectAttempts {
				c.reportDown(fmt.Errorf("%w: %v", ErrRetryBudgetExceeded, err))
				return
			}
			if !c.sleep(time.Duration(attempt) * c.opts.ReconnectBase) {
				return
			}
			continue
		}

		attempt = 0
		c.markConnected(conn)
		log.Printf("transport: connected to %s", c.url)

		readErr := c.serve(conn)
		c.markDisconnected()
		if c.isClosing() {
			return
		}
		log.Printf("transport: connection lost: %v", readErr)

		attempt++
		if !c.sleep(time.Duration(attempt) * c.opts.ReconnectBase) {
			return
		}
	}
}

func (c *Client) dial() (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: c.opts.HandshakeTimeout}
	conn, _, err := dialer.Dial(c.url, nil)
	return conn, err
}

// serve reads frames until the connection fails, running the heartbeat
// alongside; it returns the read error.
func (c *Client) serve(conn *websocket.Conn) error {
	c.lastPong.Store(time.Now().UnixNano())

	hbStop := make(chan struct{})
	defer close(hbStop)
	go c.heartbeat(conn, hbStop)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		m, err := protocol.Decode(data)
		if err != nil {
			log.Printf("transport: bad frame: %v", err)
			continue
		}
		if m.Type == protocol.TypePong {
			c.lastPong.Store(time.Now().UnixNano())
			continue
		}
		select {
		case c.events <- m:
		case <-c.stopCh:
			return fmt.Errorf("transport: closed")
		}
	}
}

// heartbeat sends a ping each interval and forces a reconnect when no pong
// arrives within two intervals.
func (c *Client) heartbeat(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(c.opts.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.TrySend(protocol.Ping())
			last := time.Unix(0, c.lastPong.Load())
			if time.Since(last) > 2*c.opts.HeartbeatInterval {
				log.Printf("transport: heartbeat timeout, recycling connection")
				_ = conn.Close()
				return
			}
		}
	}
}

func (c *Client) markConnected(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.connected = true
	close(c.connectedCh)
	c.mu.Unlock()
}

func (c *Client) markDisconnected() {
	c.mu.Lock()
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.conn = nil
	c.connected = false
	c.connectedCh = make(chan struct{})
	c.mu.Unlock()
}

func (c *Client) isClosing() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closing
}

func (c *Client) reportDown(err error) {
	select {
	case c.down <- err:
	default:
	}
}

// sleep waits for d unless the client is closed first.
func (c *Client) sleep(d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-c.stopCh:
		return false
	}
}
