package sidetalk

import (
	"testing"

	"github.com/starlight-protocol/starlight/internal/registry"
	"github.com/starlight-protocol/starlight/internal/wire"
)

type fakeConn struct {
	sent      []*wire.Frame
	failWrite bool
}

func (f *fakeConn) Send(fr *wire.Frame) error {
	if f.failWrite {
		return errNoConn
	}
	f.sent = append(f.sent, fr)
	return nil
}
func (f *fakeConn) Close(reason string) error { return nil }

var errNoConn = &closedErr{}

type closedErr struct{}

func (*closedErr) Error() string { return "connection closed" }

func readySentinel(t *testing.T, layer string) (*registry.Sentinel, *fakeConn) {
	t.Helper()
	reg := registry.New("")
	conn := &fakeConn{}
	s, challenge := reg.BeginRegistration(wire.RegistrationParams{Layer: layer}, conn)
	ready, err := reg.FinishHandshake(s.AssignedID, challenge)
	if err != nil {
		t.Fatalf("FinishHandshake: %v", err)
	}
	return ready, conn
}

type fakeRegistry struct {
	byLayer map[string]*registry.Sentinel
	order   []*registry.Sentinel
}

func (f *fakeRegistry) Ready() []*registry.Sentinel { return f.order }
func (f *fakeRegistry) ByLayer(layer string) (*registry.Sentinel, bool) {
	s, ok := f.byLayer[layer]
	return s, ok
}
func (f *fakeRegistry) Layers() []string {
	out := make([]string, 0, len(f.byLayer))
	for l := range f.byLayer {
		out = append(out, l)
	}
	return out
}

func TestRoutePointToPointDelivers(t *testing.T) {
	sender, senderConn := readySentinel(t, "Sender")
	target, targetConn := readySentinel(t, "Target")

	reg := &fakeRegistry{byLayer: map[string]*registry.Sentinel{"Target": target}, order: []*registry.Sentinel{sender, target}}
	r := New(reg)

	r.Route(sender, wire.SidetalkParams{From: "Sender", To: "Target", Topic: "hello"})

	if len(targetConn.sent) != 1 {
		t.Fatalf("expected target to receive 1 frame, got %d", len(targetConn.sent))
	}
	if len(senderConn.sent) != 0 {
		t.Fatalf("expected no ack without replyTo, got %d", len(senderConn.sent))
	}
}

func TestRouteUndeliverableAcksSender(t *testing.T) {
	sender, senderConn := readySentinel(t, "Sender")
	reg := &fakeRegistry{byLayer: map[string]*registry.Sentinel{}, order: []*registry.Sentinel{sender}}
	r := New(reg)

	r.Route(sender, wire.SidetalkParams{From: "Sender", To: "Missing", Topic: "hello"})

	if len(senderConn.sent) != 1 {
		t.Fatalf("expected 1 undeliverable ack, got %d", len(senderConn.sent))
	}
}

func TestRouteWildcardBroadcastsExceptSender(t *testing.T) {
	sender, _ := readySentinel(t, "Sender")
	peerA, connA := readySentinel(t, "A")
	peerB, connB := readySentinel(t, "B")

	reg := &fakeRegistry{order: []*registry.Sentinel{sender, peerA, peerB}, byLayer: map[string]*registry.Sentinel{}}
	r := New(reg)

	r.Route(sender, wire.SidetalkParams{From: "Sender", To: Wildcard, Topic: "broadcast"})

	if len(connA.sent) != 1 || len(connB.sent) != 1 {
		t.Fatalf("expected every other ready sentinel to receive the broadcast, got A=%d B=%d", len(connA.sent), len(connB.sent))
	}
}
