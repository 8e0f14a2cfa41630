package intentsdk

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/starlight-protocol/starlight/internal/wire"
)

// echoServer upgrades every connection and replies to each
// starlight.intent request with a canned IntentResult, and acks
// starlight.abort notifications by recording they arrived.
func echoServer(t *testing.T, abortSeen chan<- struct{}) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			var f wire.Frame
			if err := conn.ReadJSON(&f); err != nil {
				return
			}
			switch f.Method {
			case wire.MethodIntent:
				resp, _ := wire.NewResponse(f.ID, wire.IntentResult{
					CommandID: 1,
					Kind:      "goto",
					State:     "COMPLETE",
					Success:   true,
				})
				_ = conn.WriteJSON(resp)
			case wire.MethodAbort:
				if abortSeen != nil {
					select {
					case abortSeen <- struct{}{}:
					default:
					}
				}
			}
		}
	})
	return httptest.NewServer(mux)
}

func wsURL(t *testing.T, srv *httptest.Server) string {
	t.Helper()
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func TestSubmitRoundTrip(t *testing.T) {
	srv := echoServer(t, nil)
	defer srv.Close()

	c, err := Dial(context.Background(), wsURL(t, srv))
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	result, err := c.Goto(context.Background(), "https://example.com")
	if err != nil {
		t.Fatalf("Goto: %v", err)
	}
	if result.State != "COMPLETE" || !result.Success {
		t.Fatalf("expected a COMPLETE/success result, got %+v", result)
	}
}

func TestAbortSendsNotification(t *testing.T) {
	abortSeen := make(chan struct{}, 1)
	srv := echoServer(t, abortSeen)
	defer srv.Close()

	c, err := Dial(context.Background(), wsURL(t, srv))
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	if err := c.Abort(); err != nil {
		t.Fatalf("Abort: %v", err)
	}

	select {
	case <-abortSeen:
	case <-time.After(time.Second):
		t.Fatal("expected the server to observe a starlight.abort notification")
	}
}

func TestSubmitContextCancellation(t *testing.T) {
	upgrader := websocket.Upgrader{}
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		var f wire.Frame
		_ = conn.ReadJSON(&f) // read but never reply, simulating a hung Hub
		time.Sleep(time.Second)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c, err := Dial(context.Background(), wsURL(t, srv))
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = c.Submit(ctx, wire.IntentParams{Kind: "goto"})
	if err == nil {
		t.Fatal("expected a context deadline error when the Hub never replies")
	}
}
