// Package intentsdk is the Intent Client's SDK: a "goto/click/fill"
// surface for submitting commands to the Hub. One connection, one
// goroutine reading responses, Submit calls correlate on the JSON-RPC
// request id so Abort can run concurrently with an in-flight Submit.
package intentsdk

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"github.com/starlight-protocol/starlight/internal/wire"
)

// Client is a single connection to the Hub's /starlight/ws endpoint,
// used as an Intent Client - distinguished from a Sentinel by sending
// starlight.intent, never starlight.registration, as its first
// message.
type Client struct {
	mu     sync.Mutex
	ws     *websocket.Conn
	nextID atomic.Int64

	pendingMu sync.Mutex
	pending   map[int64]chan *wire.Frame
}

// Dial connects to hubURL and starts the response-reader goroutine.
func Dial(ctx context.Context, hubURL string) (*Client, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, hubURL, http.Header{})
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", hubURL, err)
	}
	c := &Client{ws: ws, pending: make(map[int64]chan *wire.Frame)}
	go c.readLoop()
	return c, nil
}

func (c *Client) readLoop() {
	for {
		var f wire.Frame
		if err := c.ws.ReadJSON(&f); err != nil {
			c.failAllPending()
			return
		}
		if f.ID == nil {
			continue // notifications carry no correlation id this SDK waits on
		}
		c.pendingMu.Lock()
		ch, ok := c.pending[*f.ID]
		if ok {
			delete(c.pending, *f.ID)
		}
		c.pendingMu.Unlock()
		if ok {
			ch <- &f
		}
	}
}

func (c *Client) failAllPending() {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
}

// Submit sends one starlight.intent request and blocks for its
// terminal IntentResult. Safe to call while a previous Submit from
// another goroutine is still pending - the Hub serializes execution,
// this call just waits its turn.
func (c *Client) Submit(ctx context.Context, intent wire.IntentParams) (*wire.IntentResult, error) {
	id := c.nextID.Add(1)
	frame, err := wire.NewRequest(id, wire.MethodIntent, intent)
	if err != nil {
		return nil, err
	}

	ch := make(chan *wire.Frame, 1)
	c.pendingMu.Lock()
	c.pending[id] = ch
	c.pendingMu.Unlock()

	c.mu.Lock()
	werr := c.ws.WriteJSON(frame)
	c.mu.Unlock()
	if werr != nil {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
		return nil, werr
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, fmt.Errorf("connection closed while awaiting intent result")
		}
		if resp.Error != nil {
			return nil, fmt.Errorf("intent %d rejected: %s", id, resp.Error.Message)
		}
		var result wire.IntentResult
		if err := json.Unmarshal(resp.Result, &result); err != nil {
			return nil, fmt.Errorf("bad intent result: %w", err)
		}
		return &result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Abort asks the Hub to cancel whatever command is currently in
// flight. It is a fire-and-forget notification.
func (c *Client) Abort() error {
	frame, err := wire.NewNotification(wire.MethodAbort, struct{}{})
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteJSON(frame)
}

// Goto, Click, Fill, Select and the remaining convenience wrappers
// build an IntentParams for one action verb and Submit it.

func (c *Client) Goto(ctx context.Context, url string) (*wire.IntentResult, error) {
	return c.Submit(ctx, wire.IntentParams{Kind: "goto", URL: url, Action: wire.ActionParams{Action: "goto"}})
}

func (c *Client) Click(ctx context.Context, selector string) (*wire.IntentResult, error) {
	return c.Submit(ctx, wire.IntentParams{Kind: "click", TargetHint: selector, Action: wire.ActionParams{Action: "click", Selector: selector}})
}

func (c *Client) Fill(ctx context.Context, selector, text string) (*wire.IntentResult, error) {
	return c.Submit(ctx, wire.IntentParams{Kind: "fill", TargetHint: selector, Action: wire.ActionParams{Action: "fill", Selector: selector, Text: text}})
}

func (c *Client) Select(ctx context.Context, selector, value string) (*wire.IntentResult, error) {
	return c.Submit(ctx, wire.IntentParams{Kind: "select", TargetHint: selector, Action: wire.ActionParams{Action: "select", Selector: selector, Value: value}})
}

func (c *Client) Hover(ctx context.Context, selector string) (*wire.IntentResult, error) {
	return c.Submit(ctx, wire.IntentParams{Kind: "hover", TargetHint: selector, Action: wire.ActionParams{Action: "hover", Selector: selector}})
}

func (c *Client) Press(ctx context.Context, key string) (*wire.IntentResult, error) {
	return c.Submit(ctx, wire.IntentParams{Kind: "press", Action: wire.ActionParams{Action: "press", Key: key}})
}

func (c *Client) Type(ctx context.Context, text string) (*wire.IntentResult, error) {
	return c.Submit(ctx, wire.IntentParams{Kind: "type", Action: wire.ActionParams{Action: "type", Text: text}})
}

func (c *Client) Screenshot(ctx context.Context) (*wire.IntentResult, error) {
	return c.Submit(ctx, wire.IntentParams{Kind: "screenshot", Action: wire.ActionParams{Action: "screenshot"}})
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.Close()
}
