package signaling

import (
	"context"
	"sync"
	"time"
)

// MemoryRelay is an in-process Relay for tests and single-node local runs.
// It mirrors the Redis relay's contract: Seq assigned on Send, per-sender
// order preserved, buffered fan-out per subscriber.
type MemoryRelay struct {
	mu     sync.Mutex
	subs   map[string]map[*memorySubscription]struct{}
	seqs   map[string]int64
	buffer int
	clock  func() time.Time
}

func NewMemoryRelay(buffer int) *MemoryRelay {
	if buffer <= 0 {
		buffer = 64
	}
	return &MemoryRelay{
		subs:   make(map[string]map[*memorySubscription]struct{}),
		seqs:   make(map[string]int64),
		buffer: buffer,
		clock:  time.Now,
	}
}

func (r *MemoryRelay) Send(ctx context.Context, m Message) error {
	if err := m.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	k := m.SessionID + "/" + m.FromDevice
	r.seqs[k]++
	m.Seq = r.seqs[k]
	if m.SentAt.IsZero() {
		m.SentAt = r.clock().UTC()
	}

	// Fan out under the lock; Close holds it too, so a channel can never be
	// closed mid-send. Sends never block: a saturated subscriber is skipped
	// and re-syncs from the session store.
	for s := range r.subs[m.To] {
		select {
		case s.out <- m:
		default:
		}
	}
	return nil
}

func (r *MemoryRelay) Subscribe(ctx context.Context, participantID string) (Subscription, error) {
	if participantID == "" {
		return nil, ErrInvalidMessage
	}

	s := &memorySubscription{
		relay:       r,
		participant: participantID,
		out:         make(chan Message, r.buffer),
	}

	r.mu.Lock()
	if r.subs[participantID] == nil {
		r.subs[participantID] = make(map[*memorySubscription]struct{})
	}
	r.subs[participantID][s] = struct{}{}
	r.mu.Unlock()

	return s, nil
}

type memorySubscription struct {
	relay       *MemoryRelay
	participant string
	out         chan Message
	closeOnce   sync.Once
}

func (s *memorySubscription) Messages() <-chan Message { return s.out }

func (s *memorySubscription) Close() error {
	s.closeOnce.Do(func() {
		s.relay.mu.Lock()
		defer s.relay.mu.Unlock()
		delete(s.relay.subs[s.participant], s)
		close(s.out)
	})
	return nil
}
