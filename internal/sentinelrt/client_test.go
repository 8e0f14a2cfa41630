package sentinelrt

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/starlight-protocol/starlight/internal/obslog"
	"github.com/starlight-protocol/starlight/internal/wire"
)

// stubHub is a minimal Hub-side peer: it accepts one websocket
// connection, answers the registration handshake, and records every
// frame the client sends afterwards.
type stubHub struct {
	upgrader websocket.Upgrader

	mu       sync.Mutex
	received []wire.Frame

	connCh chan *websocket.Conn
}

func newStubHub() *stubHub {
	return &stubHub{connCh: make(chan *websocket.Conn, 1)}
}

func (h *stubHub) handle(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	var reg wire.Frame
	if err := ws.ReadJSON(&reg); err != nil {
		return
	}
	if reg.Method != wire.MethodRegistration {
		_ = ws.Close()
		return
	}
	resp, _ := wire.NewResponse(reg.ID, wire.RegistrationResult{
		AssignedID: "stub-assigned-id",
		Challenge:  "stub-challenge",
	})
	if err := ws.WriteJSON(resp); err != nil {
		return
	}

	var cr wire.Frame
	if err := ws.ReadJSON(&cr); err != nil {
		return
	}
	var crParams wire.ChallengeResponseParams
	_ = json.Unmarshal(cr.Params, &crParams)
	if cr.Method != wire.MethodChallengeResponse || crParams.Response != "stub-challenge" {
		_ = ws.Close()
		return
	}

	h.connCh <- ws

	for {
		var f wire.Frame
		if err := ws.ReadJSON(&f); err != nil {
			return
		}
		h.mu.Lock()
		h.received = append(h.received, f)
		h.mu.Unlock()
	}
}

func (h *stubHub) framesByMethod(method string) []wire.Frame {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []wire.Frame
	for _, f := range h.received {
		if f.Method == method {
			out = append(out, f)
		}
	}
	return out
}

func newTestClient(t *testing.T, hub *stubHub, hooks Hooks) (*Client, context.CancelFunc) {
	t.Helper()

	ts := httptest.NewServer(http.HandlerFunc(hub.handle))
	t.Cleanup(ts.Close)
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http")

	c := New(Identity{
		Layer:    "TestLayer",
		Priority: 4,
		Version:  "test",
	}, Config{
		HubURL:            wsURL,
		ReconnectDelay:    20 * time.Millisecond,
		HeartbeatInterval: 20 * time.Millisecond,
	}, hooks, testLogger(t), nil)

	ctx, cancel := context.WithCancel(context.Background())
	go c.Run(ctx)
	t.Cleanup(cancel)
	return c, cancel
}

func testLogger(t *testing.T) *obslog.Logger {
	t.Helper()
	log, err := obslog.New(t.TempDir(), "test", true)
	if err != nil {
		t.Fatalf("opening test logger: %v", err)
	}
	t.Cleanup(func() { _ = log.Close() })
	return log
}

func TestClientCompletesHandshakeAndReportsReady(t *testing.T) {
	hub := newStubHub()
	c, _ := newTestClient(t, hub, Hooks{})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Ready(ctx); err != nil {
		t.Fatalf("client never became ready: %v", err)
	}
}

func TestClientSendsHeartbeats(t *testing.T) {
	hub := newStubHub()
	c, _ := newTestClient(t, hub, Hooks{})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Ready(ctx); err != nil {
		t.Fatalf("client never became ready: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(hub.framesByMethod(wire.MethodPulse)) >= 2 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("expected at least two heartbeat pulses")
}

func TestClientDispatchesPreCheckAndForwardsVote(t *testing.T) {
	hub := newStubHub()

	preCheckSeen := make(chan wire.PreCheckParams, 1)
	_, _ = newTestClient(t, hub, Hooks{
		OnPreCheck: func(c *Client, p wire.PreCheckParams) {
			preCheckSeen <- p
			_ = c.Clear(0.9)
		},
	})

	var ws *websocket.Conn
	select {
	case ws = <-hub.connCh:
	case <-time.After(2 * time.Second):
		t.Fatal("handshake never completed")
	}

	pc, _ := wire.NewNotification(wire.MethodPreCheck, wire.PreCheckParams{
		Command: wire.CommandDescriptor{ID: 42, Kind: "click", Target: "#buy"},
		URL:     "https://example.com",
	})
	if err := ws.WriteJSON(pc); err != nil {
		t.Fatalf("write pre_check: %v", err)
	}

	select {
	case p := <-preCheckSeen:
		if p.Command.ID != 42 || p.Command.Kind != "click" {
			t.Fatalf("pre-check hook got the wrong command: %+v", p.Command)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("OnPreCheck hook never fired")
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		votes := hub.framesByMethod(wire.MethodClear)
		if len(votes) > 0 {
			var params wire.ClearParams
			if err := json.Unmarshal(votes[0].Params, &params); err != nil {
				t.Fatalf("bad clear params: %v", err)
			}
			if params.Confidence != 0.9 {
				t.Fatalf("expected the hook's confidence to be forwarded, got %v", params.Confidence)
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("the clear vote never reached the hub")
}
