package hubserver

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/starlight-protocol/starlight/internal/wire"
)

const (
	writeWait = 5 * time.Second

	// outboundHighWater bounds the per-connection send queue. A peer
	// that stops draining its socket loses new messages instead of
	// stalling the Hub; the caller sees ErrBackpressure and marks the
	// Sentinel DEGRADED.
	outboundHighWater = 256
)

// ErrBackpressure is returned by Send when the connection's outbound
// queue is at its high-water mark.
var ErrBackpressure = errors.New("outbound queue full, message dropped")

// ChaosConfig injects network faults into outbound frames for
// resilience testing. Zero value is a no-op.
type ChaosConfig struct {
	Enabled   bool
	LatencyMs int
}

// wsConn adapts a gorilla/websocket connection to registry.Conn.
// gorilla/websocket connections are not safe for concurrent writers, so
// all writes funnel through a single writer goroutine draining a
// bounded queue.
type wsConn struct {
	ws    *websocket.Conn
	chaos ChaosConfig

	mu     sync.Mutex
	out    chan *wire.Frame
	closed bool
	done   chan struct{}
}

func newWSConn(ws *websocket.Conn, chaos ChaosConfig) *wsConn {
	c := &wsConn{
		ws:    ws,
		chaos: chaos,
		out:   make(chan *wire.Frame, outboundHighWater),
		done:  make(chan struct{}),
	}
	go c.writeLoop()
	return c
}

func (c *wsConn) writeLoop() {
	for {
		select {
		case f := <-c.out:
			if c.chaos.Enabled && c.chaos.LatencyMs > 0 {
				time.Sleep(time.Duration(c.chaos.LatencyMs) * time.Millisecond)
			}
			if err := c.ws.WriteJSON(f); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *wsConn) Send(f *wire.Frame) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return nil
	}
	select {
	case c.out <- f:
		return nil
	default:
		return ErrBackpressure
	}
}

func (c *wsConn) Close(reason string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	close(c.done)
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason),
		time.Now().Add(writeWait))
	return c.ws.Close()
}
