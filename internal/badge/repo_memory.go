package badge

import (
	"context"
	"sync"
	"time"
)

type memoryEvent struct {
	kind       Kind
	occurredAt time.Time
}

type pairKey struct {
	participantID string
	contactID     string
}

// MemoryRepository is an in-memory Repository for tests.
type MemoryRepository struct {
	mu         sync.Mutex
	events     map[pairKey]map[string]memoryEvent
	watermarks map[pairKey]Watermarks
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		events:     make(map[pairKey]map[string]memoryEvent),
		watermarks: make(map[pairKey]Watermarks),
	}
}

func (r *MemoryRepository) RecordEvent(_ context.Context, participantID, contactID string, kind Kind, eventID string, occurredAt time.Time) (bool, error) {
	if participantID == "" || contactID == "" || eventID == "" || !kind.Valid() {
		return false, ErrInvalidArgument
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	key := pairKey{participantID, contactID}
	evs, ok := r.events[key]
	if !ok {
		evs = make(map[string]memoryEvent)
		r.events[key] = evs
	}
	if _, dup := evs[eventID]; dup {
		return false, nil
	}
	evs[eventID] = memoryEvent{kind: kind, occurredAt: occurredAt}
	return true, nil
}

func (r *MemoryRepository) SetWatermark(_ context.Context, participantID, contactID string, kind Kind, clearedAt time.Time) error {
	if participantID == "" || contactID == "" || !kind.Valid() {
		return ErrInvalidArgument
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	key := pairKey{participantID, contactID}
	w := r.watermarks[key]
	switch kind {
	case KindMessages:
		if clearedAt.After(w.Messages) {
			w.Messages = clearedAt
		}
	case KindCalls:
		if clearedAt.After(w.Calls) {
			w.Calls = clearedAt
		}
	}
	r.watermarks[key] = w

	// Prune events the watermark covers; they can never count again. A
	// replayed pruned event re-records but stays behind the watermark.
	mark := w.Messages
	if kind == KindCalls {
		mark = w.Calls
	}
	for id, ev := range r.events[key] {
		if ev.kind == kind && !ev.occurredAt.After(mark) {
			delete(r.events[key], id)
		}
	}
	return nil
}

func (r *MemoryRepository) GetWatermarks(_ context.Context, participantID, contactID string) (Watermarks, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.watermarks[pairKey{participantID, contactID}], nil
}

func (r *MemoryRepository) Counts(_ context.Context, participantID, contactID string) (Counts, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := pairKey{participantID, contactID}
	w := r.watermarks[key]
	var c Counts
	for _, ev := range r.events[key] {
		switch ev.kind {
		case KindMessages:
			if ev.occurredAt.After(w.Messages) {
				c.UnreadMessages++
			}
		case KindCalls:
			if ev.occurredAt.After(w.Calls) {
				c.MissedCalls++
			}
		}
	}
	return c, nil
}
