package supervisor

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/starlight-protocol/starlight/internal/registry"
	"github.com/starlight-protocol/starlight/internal/wire"
)

type fakeConn struct {
	closed bool
}

func (f *fakeConn) Send(fr *wire.Frame) error { return nil }
func (f *fakeConn) Close(reason string) error { f.closed = true; return nil }

type recordingTrace struct {
	events []string
}

func (r *recordingTrace) Emit(kind string, commandID int64, payload any) {
	r.events = append(r.events, kind)
}

func registerReady(t *testing.T, reg *registry.Registry, layer string) *registry.Sentinel {
	t.Helper()
	s, challenge := reg.BeginRegistration(wire.RegistrationParams{Layer: layer, Priority: 1}, &fakeConn{})
	ready, err := reg.FinishHandshake(s.AssignedID, challenge)
	if err != nil {
		t.Fatalf("FinishHandshake: %v", err)
	}
	return ready
}

func TestSweepDegradesOnStaleHeartbeat(t *testing.T) {
	reg := registry.New("")
	sentinel := registerReady(t, reg, "Pulse")
	sentinel.Touch(time.Now().Add(-700*time.Millisecond), nil, nil)

	tr := &recordingTrace{}
	sv := New(reg, 500*time.Millisecond, tr, zerolog.Nop())
	sv.sweep()

	if sentinel.State() != registry.Degraded {
		t.Fatalf("expected DEGRADED after exceeding one heartbeat timeout, got %s", sentinel.State())
	}
}

func TestSweepRemovesOnDoubleTimeout(t *testing.T) {
	reg := registry.New("")
	sentinel := registerReady(t, reg, "Pulse")
	sentinel.Touch(time.Now().Add(-5*time.Second), nil, nil)

	tr := &recordingTrace{}
	sv := New(reg, 500*time.Millisecond, tr, zerolog.Nop())
	sv.sweep()

	if sentinel.State() != registry.Gone {
		t.Fatalf("expected GONE after exceeding twice the heartbeat timeout, got %s", sentinel.State())
	}
	if _, ok := reg.ByLayer("Pulse"); ok {
		t.Fatal("expected the gone sentinel to be removed from the registry")
	}
}

func TestSweepLeavesFreshSentinelsReady(t *testing.T) {
	reg := registry.New("")
	sentinel := registerReady(t, reg, "Pulse")

	tr := &recordingTrace{}
	sv := New(reg, 500*time.Millisecond, tr, zerolog.Nop())
	sv.sweep()

	if sentinel.State() != registry.Ready {
		t.Fatalf("expected a fresh sentinel to remain READY, got %s", sentinel.State())
	}
}
