package session

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	ErrNotFound          = errors.New("session: not found")
	ErrConflict          = errors.New("session: status conflict")
	ErrInvalidArgument   = errors.New("session: invalid argument")
	ErrInvalidTransition = errors.New("session: invalid transition")
)

// Fields are the columns a successful transition may set alongside status.
// Zero values are left untouched.
type Fields struct {
	AnsweredAt *time.Time
	AnsweredBy string
	EndedAt    *time.Time
	EndedBy    string
	EndReason  EndReason
}

// Repository is the persistence contract for call sessions.
//
// Transition is the sole mutation path after Create and MUST be a
// compare-and-swap: it succeeds only when the stored status equals expected,
// and otherwise returns ErrConflict with no side effects. This single
// primitive is what makes the multi-device answer/decline/timeout races safe,
// so implementations must make it atomic (a conditional UPDATE in Postgres,
// a mutex in memory).
type Repository interface {
	Create(ctx context.Context, s CallSession) error
	Get(ctx context.Context, familyID, id string) (CallSession, error)
	Transition(ctx context.Context, familyID, id string, expected, next Status, f Fields) (CallSession, error)
}

// ChangeEvent is published after every successful transition.
type ChangeEvent struct {
	Session  CallSession
	Previous Status
	At       time.Time
}

// Store is the single source of truth for call session state.
// Everything outside this package treats sessions as read-only plus change
// events; status mutations go through Transition.
type Store struct {
	repo  Repository
	clock func() time.Time

	mu   sync.Mutex
	subs map[int]chan ChangeEvent
	next int
}

func NewStore(repo Repository) *Store {
	return &Store{
		repo:  repo,
		clock: time.Now,
		subs:  make(map[int]chan ChangeEvent),
	}
}

func (st *Store) Create(ctx context.Context, s CallSession) (CallSession, error) {
	if s.ID == "" || s.FamilyID == "" || s.CallerID == "" || s.CalleeID == "" {
		return CallSession{}, ErrInvalidArgument
	}
	if s.Type != CallTypeVoice && s.Type != CallTypeVideo {
		return CallSession{}, ErrInvalidArgument
	}
	if s.Status == "" {
		s.Status = StatusRinging
	}
	if s.Status != StatusRinging {
		// Sessions are born ringing; everything else goes through Transition.
		return CallSession{}, ErrInvalidArgument
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = st.clock().UTC()
	}
	if err := st.repo.Create(ctx, s); err != nil {
		return CallSession{}, err
	}
	return s, nil
}

func (st *Store) Get(ctx context.Context, familyID, id string) (CallSession, error) {
	if familyID == "" || id == "" {
		return CallSession{}, ErrInvalidArgument
	}
	return st.repo.Get(ctx, familyID, id)
}

// Transition performs the compare-and-swap and, on success, publishes a
// change event to subscribers. ErrConflict means the caller lost a race and
// must re-read state; it is expected, not fatal.
func (st *Store) Transition(ctx context.Context, familyID, id string, expected, next Status, f Fields) (CallSession, error) {
	if familyID == "" || id == "" {
		return CallSession{}, ErrInvalidArgument
	}
	if !CanTransition(expected, next) {
		return CallSession{}, ErrInvalidTransition
	}

	out, err := st.repo.Transition(ctx, familyID, id, expected, next, f)
	if err != nil {
		return CallSession{}, err
	}

	st.publish(ChangeEvent{Session: out, Previous: expected, At: st.clock().UTC()})
	return out, nil
}

// Subscribe returns a buffered change-event channel and a cancel func.
// Events are dropped for a subscriber whose buffer is full; consumers are
// derived views (badges, history) and re-sync from the store when behind.
func (st *Store) Subscribe(buffer int) (<-chan ChangeEvent, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan ChangeEvent, buffer)

	st.mu.Lock()
	id := st.next
	st.next++
	st.subs[id] = ch
	st.mu.Unlock()

	cancel := func() {
		st.mu.Lock()
		if _, ok := st.subs[id]; ok {
			delete(st.subs, id)
			close(ch)
		}
		st.mu.Unlock()
	}
	return ch, cancel
}

func (st *Store) publish(ev ChangeEvent) {
	st.mu.Lock()
	defer st.mu.Unlock()
	for _, ch := range st.subs {
		select {
		case ch <- ev:
		default:
			// slow consumer; it re-syncs via Get
		}
	}
}
