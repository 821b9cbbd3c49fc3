package presence

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory DeviceStore for tests and local runs.
// Device liveness honors the same grace-period TTL semantics as the Redis
// store, using an injectable clock.
type MemoryStore struct {
	grace time.Duration
	clock func() time.Time

	mu       sync.Mutex
	deadline map[string]map[string]time.Time // participant -> device -> expiry
	lastSeen map[string]time.Time
}

func NewMemoryStore(grace time.Duration) *MemoryStore {
	if grace <= 0 {
		grace = 30 * time.Second
	}
	return &MemoryStore{
		grace:    grace,
		clock:    time.Now,
		deadline: make(map[string]map[string]time.Time),
		lastSeen: make(map[string]time.Time),
	}
}

func (s *MemoryStore) SetOnline(ctx context.Context, participantID, deviceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deadline[participantID] == nil {
		s.deadline[participantID] = make(map[string]time.Time)
	}
	now := s.clock()
	s.deadline[participantID][deviceID] = now.Add(s.grace)
	s.lastSeen[participantID] = now
	return nil
}

func (s *MemoryStore) Refresh(ctx context.Context, participantID, deviceID string) error {
	return s.SetOnline(ctx, participantID, deviceID)
}

func (s *MemoryStore) SetOffline(ctx context.Context, participantID, deviceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.deadline[participantID], deviceID)
	s.lastSeen[participantID] = s.clock()
	return nil
}

func (s *MemoryStore) OnlineDevices(ctx context.Context, participantID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock()
	var online []string
	for device, dl := range s.deadline[participantID] {
		if dl.After(now) {
			online = append(online, device)
		} else {
			delete(s.deadline[participantID], device)
		}
	}
	return online, nil
}

func (s *MemoryStore) LastSeen(ctx context.Context, participantID string) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.lastSeen[participantID]
	return t, ok, nil
}
