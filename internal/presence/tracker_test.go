package presence

import (
	"context"
	"sync"
	"testing"
	"time"
)

type notifyRecorder struct {
	mu     sync.Mutex
	events []bool
}

func (n *notifyRecorder) fn(participantID string, online bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, online)
}

func (n *notifyRecorder) snapshot() []bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]bool, len(n.events))
	copy(out, n.events)
	return out
}

func TestTracker_OnlineWithAnyDevice(t *testing.T) {
	rec := &notifyRecorder{}
	tr := NewTracker(NewMemoryStore(time.Minute), 10*time.Millisecond, rec.fn)
	ctx := context.Background()

	if err := tr.SetOnline(ctx, "u1", "d1"); err != nil {
		t.Fatalf("online: %v", err)
	}
	if err := tr.SetOnline(ctx, "u1", "d2"); err != nil {
		t.Fatalf("online: %v", err)
	}

	if err := tr.SetOffline(ctx, "u1", "d1"); err != nil {
		t.Fatalf("offline: %v", err)
	}
	on, err := tr.IsOnline(ctx, "u1")
	if err != nil {
		t.Fatalf("isonline: %v", err)
	}
	if !on {
		t.Fatalf("participant with one live device must be online")
	}
}

func TestTracker_DebouncesOfflineBroadcast(t *testing.T) {
	rec := &notifyRecorder{}
	tr := NewTracker(NewMemoryStore(time.Minute), 50*time.Millisecond, rec.fn)
	ctx := context.Background()

	if err := tr.SetOnline(ctx, "u1", "d1"); err != nil {
		t.Fatalf("online: %v", err)
	}
	if err := tr.SetOffline(ctx, "u1", "d1"); err != nil {
		t.Fatalf("offline: %v", err)
	}
	// Reconnect inside the debounce window: the offline broadcast is cancelled.
	if err := tr.SetOnline(ctx, "u1", "d1"); err != nil {
		t.Fatalf("reconnect: %v", err)
	}

	time.Sleep(120 * time.Millisecond)

	for _, online := range rec.snapshot() {
		if !online {
			t.Fatalf("network blip must not broadcast offline")
		}
	}
}

func TestTracker_BroadcastsOfflineAfterDebounce(t *testing.T) {
	rec := &notifyRecorder{}
	tr := NewTracker(NewMemoryStore(time.Minute), 20*time.Millisecond, rec.fn)
	ctx := context.Background()

	if err := tr.SetOnline(ctx, "u1", "d1"); err != nil {
		t.Fatalf("online: %v", err)
	}
	if err := tr.SetOffline(ctx, "u1", "d1"); err != nil {
		t.Fatalf("offline: %v", err)
	}

	time.Sleep(80 * time.Millisecond)

	evs := rec.snapshot()
	if len(evs) == 0 || evs[len(evs)-1] != false {
		t.Fatalf("expected trailing offline broadcast, got %v", evs)
	}
}

func TestMemoryStore_LivenessExpires(t *testing.T) {
	st := NewMemoryStore(30 * time.Second)
	now := time.Unix(1700000000, 0)
	st.clock = func() time.Time { return now }
	ctx := context.Background()

	if err := st.SetOnline(ctx, "u1", "d1"); err != nil {
		t.Fatalf("online: %v", err)
	}
	now = now.Add(31 * time.Second)

	devices, err := st.OnlineDevices(ctx, "u1")
	if err != nil {
		t.Fatalf("devices: %v", err)
	}
	if len(devices) != 0 {
		t.Fatalf("device past grace period must be offline, got %v", devices)
	}
}

func TestTracker_NotifiesOnlineOnce(t *testing.T) {
	rec := &notifyRecorder{}
	tr := NewTracker(NewMemoryStore(time.Minute), 10*time.Millisecond, rec.fn)
	ctx := context.Background()

	_ = tr.SetOnline(ctx, "u1", "d1")
	_ = tr.SetOnline(ctx, "u1", "d2")

	got := rec.snapshot()
	if len(got) != 1 || !got[0] {
		t.Fatalf("expected a single online broadcast, got %v", got)
	}
}
