package presence

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrInvalidArgument = errors.New("presence: invalid argument")

// DeviceStore holds per-device liveness. Owned exclusively by the Tracker;
// nothing else writes presence.
//
// Implementations keep a liveness TTL per device so a device whose relay
// connection dies without a clean disconnect is considered offline once the
// grace period lapses.
type DeviceStore interface {
	SetOnline(ctx context.Context, participantID, deviceID string) error
	// Refresh extends the liveness TTL; called on heartbeats.
	Refresh(ctx context.Context, participantID, deviceID string) error
	SetOffline(ctx context.Context, participantID, deviceID string) error

	OnlineDevices(ctx context.Context, participantID string) ([]string, error)
	LastSeen(ctx context.Context, participantID string) (time.Time, bool, error)
}

// NotifyFunc broadcasts a participant-level presence change to interested
// parties (UI fan-out). It must be fast or spawn its own goroutine.
type NotifyFunc func(participantID string, online bool)

// Tracker maintains online/offline state per device and derives
// participant-level presence (online iff any device is online).
//
// Offline broadcasts are debounced: a disconnect immediately followed by a
// reconnect (network blip) must not flicker the UI, so the offline
// notification is delayed and cancelled if the participant comes back first.
// The store itself is updated immediately; only the broadcast is delayed.
type Tracker struct {
	store    DeviceStore
	debounce time.Duration
	notify   NotifyFunc

	mu      sync.Mutex
	pending map[string]*time.Timer
}

func NewTracker(store DeviceStore, debounce time.Duration, notify NotifyFunc) *Tracker {
	if debounce <= 0 {
		debounce = 3 * time.Second
	}
	return &Tracker{
		store:    store,
		debounce: debounce,
		notify:   notify,
		pending:  make(map[string]*time.Timer),
	}
}

func (t *Tracker) SetOnline(ctx context.Context, participantID, deviceID string) error {
	if participantID == "" || deviceID == "" {
		return ErrInvalidArgument
	}

	wasOnline, err := t.IsOnline(ctx, participantID)
	if err != nil {
		return err
	}
	if err := t.store.SetOnline(ctx, participantID, deviceID); err != nil {
		return err
	}

	t.cancelPendingOffline(participantID)

	if !wasOnline && t.notify != nil {
		t.notify(participantID, true)
	}
	return nil
}

func (t *Tracker) Refresh(ctx context.Context, participantID, deviceID string) error {
	if participantID == "" || deviceID == "" {
		return ErrInvalidArgument
	}
	return t.store.Refresh(ctx, participantID, deviceID)
}

func (t *Tracker) SetOffline(ctx context.Context, participantID, deviceID string) error {
	if participantID == "" || deviceID == "" {
		return ErrInvalidArgument
	}
	if err := t.store.SetOffline(ctx, participantID, deviceID); err != nil {
		return err
	}

	online, err := t.IsOnline(ctx, participantID)
	if err != nil {
		return err
	}
	if online {
		// another device is still up; no participant-level change
		return nil
	}

	t.scheduleOfflineBroadcast(participantID)
	return nil
}

// IsOnline reports participant-level presence: true if any device is online.
func (t *Tracker) IsOnline(ctx context.Context, participantID string) (bool, error) {
	if participantID == "" {
		return false, ErrInvalidArgument
	}
	devices, err := t.store.OnlineDevices(ctx, participantID)
	if err != nil {
		return false, err
	}
	return len(devices) > 0, nil
}

func (t *Tracker) LastSeen(ctx context.Context, participantID string) (time.Time, bool, error) {
	if participantID == "" {
		return time.Time{}, false, ErrInvalidArgument
	}
	return t.store.LastSeen(ctx, participantID)
}

func (t *Tracker) scheduleOfflineBroadcast(participantID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if timer, ok := t.pending[participantID]; ok {
		timer.Stop()
	}
	t.pending[participantID] = time.AfterFunc(t.debounce, func() {
		t.mu.Lock()
		delete(t.pending, participantID)
		t.mu.Unlock()

		// Re-check: a reconnect may have raced the timer.
		online, err := t.IsOnline(context.Background(), participantID)
		if err != nil || online {
			return
		}
		if t.notify != nil {
			t.notify(participantID, false)
		}
	})
}

func (t *Tracker) cancelPendingOffline(participantID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if timer, ok := t.pending[participantID]; ok {
		timer.Stop()
		delete(t.pending, participantID)
	}
}
