package context

import (
	"testing"

	"github.com/starlight-protocol/starlight/internal/registry"
)

type fakeBroadcaster struct {
	ready []*registry.Sentinel
}

func (f *fakeBroadcaster) Ready() []*registry.Sentinel { return f.ready }

func TestUpdateMergesKeys(t *testing.T) {
	s := New(&fakeBroadcaster{})
	s.Update("A", map[string]any{"foo": 1})
	s.Update("B", map[string]any{"bar": 2})

	snap := s.Snapshot()
	if snap["foo"] != 1 || snap["bar"] != 2 {
		t.Fatalf("expected merged snapshot, got %+v", snap)
	}
}

func TestUpdateOverwritesSameKey(t *testing.T) {
	s := New(&fakeBroadcaster{})
	s.Update("A", map[string]any{"foo": 1})
	result := s.Update("B", map[string]any{"foo": 2})

	if result["foo"] != 2 {
		t.Fatalf("expected the later write to win, got %+v", result)
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	s := New(&fakeBroadcaster{})
	s.Update("A", map[string]any{"foo": 1})

	snap := s.Snapshot()
	snap["foo"] = 999

	if got := s.Snapshot()["foo"]; got != 1 {
		t.Fatalf("mutating a returned snapshot should not affect the store, got %v", got)
	}
}
