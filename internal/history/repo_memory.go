package history

import (
	"context"
	"sort"
	"sync"
)

// MemoryRepo is an in-memory append-only repository for tests.
type MemoryRepo struct {
	mu      sync.Mutex
	records []Record
	seen    map[string]bool
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{seen: make(map[string]bool)}
}

func (r *MemoryRepo) Append(_ context.Context, rec Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.seen[rec.SessionID] {
		return nil
	}
	r.seen[rec.SessionID] = true
	r.records = append(r.records, rec)
	return nil
}

func (r *MemoryRepo) List(_ context.Context, req ListRequest) ([]Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Record
	for _, rec := range r.records {
		if rec.FamilyID != req.FamilyID {
			continue
		}
		if rec.CallerID != req.ParticipantID && rec.CalleeID != req.ParticipantID {
			continue
		}
		if !inRange(rec, req.Range) {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EndedAt.After(out[j].EndedAt) })
	if req.Limit > 0 && len(out) > req.Limit {
		out = out[:req.Limit]
	}
	return out, nil
}

func (r *MemoryRepo) ListPair(_ context.Context, familyID, participantID, contactID string, rng TimeRange) ([]Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Record
	for _, rec := range r.records {
		if rec.FamilyID != familyID {
			continue
		}
		pair := (rec.CallerID == participantID && rec.CalleeID == contactID) ||
			(rec.CallerID == contactID && rec.CalleeID == participantID)
		if !pair || !inRange(rec, rng) {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func inRange(rec Record, rng TimeRange) bool {
	if !rng.From.IsZero() && rec.EndedAt.Before(rng.From) {
		return false
	}
	if !rng.To.IsZero() && rec.EndedAt.After(rng.To) {
		return false
	}
	return true
}
