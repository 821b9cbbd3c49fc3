package session

import (
	"context"
	"sync"
)

// MemoryRepo is an in-memory Repository useful for tests and local runs.
// The mutex gives Transition the same linearizable compare-and-swap the
// Postgres conditional UPDATE provides.
type MemoryRepo struct {
	mu       sync.Mutex
	sessions map[string]CallSession
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{sessions: make(map[string]CallSession)}
}

func key(familyID, id string) string { return familyID + "/" + id }

func (r *MemoryRepo) Create(ctx context.Context, s CallSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := key(s.FamilyID, s.ID)
	if _, ok := r.sessions[k]; ok {
		return ErrConflict
	}
	r.sessions[k] = s
	return nil
}

func (r *MemoryRepo) Get(ctx context.Context, familyID, id string) (CallSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[key(familyID, id)]
	if !ok {
		return CallSession{}, ErrNotFound
	}
	return s, nil
}

func (r *MemoryRepo) Transition(ctx context.Context, familyID, id string, expected, next Status, f Fields) (CallSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := key(familyID, id)
	s, ok := r.sessions[k]
	if !ok {
		return CallSession{}, ErrNotFound
	}
	if s.Status != expected {
		return CallSession{}, ErrConflict
	}

	s.Status = next
	if f.AnsweredAt != nil {
		s.AnsweredAt = f.AnsweredAt
	}
	if f.AnsweredBy != "" {
		s.AnsweredBy = f.AnsweredBy
	}
	if f.EndedAt != nil {
		s.EndedAt = f.EndedAt
	}
	if f.EndedBy != "" {
		s.EndedBy = f.EndedBy
	}
	if f.EndReason != "" {
		s.EndReason = f.EndReason
	}
	r.sessions[k] = s
	return s, nil
}
