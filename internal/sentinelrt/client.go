package sentinelrt

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"github.com/starlight-protocol/starlight/internal/obslog"
	"github.com/starlight-protocol/starlight/internal/wire"
)

// Hooks are the user-overridable callbacks a capability profile wires
// in. Each is optional; a nil hook is simply not called.
type Hooks struct {
	OnPreCheck      func(c *Client, p wire.PreCheckParams)
	OnEntropy       func(c *Client, p wire.EntropyStreamParams)
	OnContextUpdate func(c *Client, p wire.SovereignUpdateParams)
	OnSidetalk      func(c *Client, p wire.SidetalkParams)
	OnSidetalkAck   func(c *Client, p wire.SidetalkAckParams)
	OnMessage       func(c *Client, f *wire.Frame)
}

// Identity describes how this Sentinel registers.
type Identity struct {
	Layer        string
	Priority     int
	Selectors    []string
	Capabilities []string
	Version      string
	AuthToken    string
}

// Config holds the runtime's connection and timing knobs.
type Config struct {
	HubURL            string
	ReconnectDelay    time.Duration
	HeartbeatInterval time.Duration
}

// Client is the connection a Sentinel process holds to the Hub. It
// reconnects with a fixed delay until shutdown.
type Client struct {
	id     Identity
	cfg    Config
	hooks  Hooks
	log    *obslog.Logger
	memory *Memory

	mu        sync.Mutex
	ws        *websocket.Conn
	assignedID string
	ready     atomic.Bool

	activePreCheckID atomic.Int64

	readyOnce sync.Once
	readyCh   chan struct{}
}

// New creates a Client. Call Run to connect and block until ctx is done.
func New(id Identity, cfg Config, hooks Hooks, log *obslog.Logger, memory *Memory) *Client {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 2 * time.Second
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 2 * time.Second
	}
	return &Client{
		id:      id,
		cfg:     cfg,
		hooks:   hooks,
		log:     log,
		memory:  memory,
		readyCh: make(chan struct{}),
	}
}

// Ready blocks until the handshake completes or ctx is cancelled.
func (c *Client) Ready(ctx context.Context) error {
	select {
	case <-c.readyCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run connects and maintains the connection until ctx is cancelled,
// reconnecting on a fixed delay.
func (c *Client) Run(ctx context.Context) {
	fixed := backoff.NewConstantBackOff(c.cfg.ReconnectDelay)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := c.connectOnce(ctx); err != nil {
			c.log.Warn("connection attempt failed: %v", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(fixed.NextBackOff()):
		}
	}
}

func (c *Client) connectOnce(ctx context.Context) error {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, c.cfg.HubURL, http.Header{})
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.cfg.HubURL, err)
	}

	c.mu.Lock()
	c.ws = ws
	c.mu.Unlock()
	c.ready.Store(false)

	if err := c.handshake(ws); err != nil {
		_ = ws.Close()
		return err
	}

	c.ready.Store(true)
	c.readyOnce.Do(func() { close(c.readyCh) })
	c.log.Info("registered as layer %s (assigned %s)", c.id.Layer, c.assignedID)

	hbCtx, cancelHB := context.WithCancel(ctx)
	go c.heartbeatLoop(hbCtx)
	defer cancelHB()

	c.readLoop(ws)
	c.ready.Store(false)
	return nil
}

func (c *Client) handshake(ws *websocket.Conn) error {
	regFrame, err := wire.NewRequest(1, wire.MethodRegistration, wire.RegistrationParams{
		Layer:        c.id.Layer,
		Priority:     c.id.Priority,
		Selectors:    c.id.Selectors,
		Capabilities: c.id.Capabilities,
		Version:      c.id.Version,
		AuthToken:    c.id.AuthToken,
	})
	if err != nil {
		return err
	}
	if err := ws.WriteJSON(regFrame); err != nil {
		return err
	}

	var resp wire.Frame
	if err := ws.ReadJSON(&resp); err != nil {
		return err
	}
	if resp.Error != nil {
		return fmt.Errorf("registration rejected: %s", resp.Error.Message)
	}

	var result wire.RegistrationResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return fmt.Errorf("bad registration result: %w", err)
	}
	c.assignedID = result.AssignedID

	crFrame, err := wire.NewNotification(wire.MethodChallengeResponse, wire.ChallengeResponseParams{
		Response: result.Challenge,
	})
	if err != nil {
		return err
	}
	return ws.WriteJSON(crFrame)
}

func (c *Client) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = c.send(wire.MethodPulse, wire.PulseParams{
				Layer:     c.id.Layer,
				Timestamp: time.Now().Unix(),
			})
		}
	}
}

func (c *Client) readLoop(ws *websocket.Conn) {
	for {
		var f wire.Frame
		if err := ws.ReadJSON(&f); err != nil {
			return
		}
		c.dispatch(&f)
	}
}

func (c *Client) dispatch(f *wire.Frame) {
	if c.hooks.OnMessage != nil {
		c.hooks.OnMessage(c, f)
	}

	switch f.Method {
	case wire.MethodPreCheck:
		var p wire.PreCheckParams
		if err := json.Unmarshal(f.Params, &p); err == nil {
			c.activePreCheckID.Store(p.Command.ID)
			if c.hooks.OnPreCheck != nil {
				c.hooks.OnPreCheck(c, p)
			}
		}
	case wire.MethodEntropyStream:
		var p wire.EntropyStreamParams
		if err := json.Unmarshal(f.Params, &p); err == nil && c.hooks.OnEntropy != nil {
			c.hooks.OnEntropy(c, p)
		}
	case wire.MethodSovereignUpdate:
		var p wire.SovereignUpdateParams
		if err := json.Unmarshal(f.Params, &p); err == nil && c.hooks.OnContextUpdate != nil {
			c.hooks.OnContextUpdate(c, p)
		}
	case wire.MethodSidetalk:
		var p wire.SidetalkParams
		if err := json.Unmarshal(f.Params, &p); err == nil && c.hooks.OnSidetalk != nil {
			c.hooks.OnSidetalk(c, p)
		}
	case wire.MethodSidetalkAck:
		var p wire.SidetalkAckParams
		if err := json.Unmarshal(f.Params, &p); err == nil && c.hooks.OnSidetalkAck != nil {
			c.hooks.OnSidetalkAck(c, p)
		}
	case wire.MethodShutdown:
		c.mu.Lock()
		if c.ws != nil {
			_ = c.ws.Close()
		}
		c.mu.Unlock()
	}
}

func (c *Client) send(method string, params any) error {
	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws == nil {
		return fmt.Errorf("not connected")
	}
	frame, err := wire.NewNotification(method, params)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return ws.WriteJSON(frame)
}

// Clear votes clear on the active pre-check. Vote frames carry no
// command id; the Hub records them against the command it has in flight.
func (c *Client) Clear(confidence float64) error {
	return c.send(wire.MethodClear, wire.ClearParams{Confidence: confidence})
}

// Wait votes wait on the active pre-check.
func (c *Client) Wait(retryAfterMs int64, confidence float64) error {
	return c.send(wire.MethodWait, wire.WaitParams{RetryAfterMs: retryAfterMs, Confidence: confidence})
}

// Hijack claims remediation for the active pre-check.
func (c *Client) Hijack(reason string) error {
	return c.send(wire.MethodHijack, wire.HijackParams{Reason: reason})
}

// Resume ends an active hijack.
func (c *Client) Resume(reCheck bool) error {
	return c.send(wire.MethodResume, wire.ResumeParams{ReCheck: reCheck})
}

// Action submits one remediation step during an active hijack.
func (c *Client) Action(action wire.ActionParams) error {
	return c.send(wire.MethodAction, action)
}

// ContextUpdate merges updates into the Sovereign Context Store.
func (c *Client) ContextUpdate(updates map[string]any) error {
	return c.send(wire.MethodContextUpdate, wire.ContextUpdateParams{Context: updates})
}

// Sidetalk sends a point-to-point or broadcast message to other Sentinels.
func (c *Client) Sidetalk(to, topic string, payload any, replyTo string) error {
	return c.send(wire.MethodSidetalk, wire.SidetalkParams{
		From:    c.id.Layer,
		To:      to,
		Topic:   topic,
		Payload: payload,
		ReplyTo: replyTo,
	})
}

// Layer returns this Sentinel's registered layer name.
func (c *Client) Layer() string { return c.id.Layer }

// Memory exposes the Sentinel's persistent memory file.
func (c *Client) Memory() *Memory { return c.memory }

// Shutdown flushes memory and closes the connection - called on an OS
// termination signal so learned state survives the process.
func (c *Client) Shutdown() error {
	var err error
	if c.memory != nil {
		err = c.memory.Flush()
	}
	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws != nil {
		_ = ws.Close()
	}
	return err
}
