package badge

import (
	"context"
	"testing"
	"time"

	"familycall-platform/internal/messaging"
	"familycall-platform/internal/session"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func missedEvent(sessionID, callerID, calleeID string, at time.Time) session.ChangeEvent {
	return session.ChangeEvent{
		Session: session.CallSession{
			ID:       sessionID,
			FamilyID: "fam-1",
			CallerID: callerID,
			CalleeID: calleeID,
			Status:   session.StatusMissed,
		},
		Previous: session.StatusRinging,
		At:       at,
	}
}

func TestMissedCallIncrementsCalleeCounter(t *testing.T) {
	repo := NewMemoryRepository()
	rec := NewReconciler(repo, nil)
	ctx := context.Background()

	ev := missedEvent("s-1", "parent-1", "child-1", time.Now())
	if err := rec.OnSessionEvent(ctx, ev); err != nil {
		t.Fatalf("OnSessionEvent: %v", err)
	}

	c, err := rec.GetCounts(ctx, "child-1", "parent-1")
	if err != nil {
		t.Fatalf("GetCounts: %v", err)
	}
	if c.MissedCalls != 1 || c.UnreadMessages != 0 {
		t.Fatalf("counts = %+v, want 1 missed call", c)
	}

	// The caller's own view stays empty.
	c, err = rec.GetCounts(ctx, "parent-1", "child-1")
	if err != nil {
		t.Fatalf("GetCounts: %v", err)
	}
	if c.MissedCalls != 0 {
		t.Fatalf("caller counts = %+v, want none", c)
	}
}

func TestNonMissedTransitionsAreIgnored(t *testing.T) {
	repo := NewMemoryRepository()
	rec := NewReconciler(repo, nil)
	ctx := context.Background()

	for _, st := range []session.Status{
		session.StatusConnecting, session.StatusActive,
		session.StatusEnded, session.StatusDeclined, session.StatusFailed,
	} {
		ev := missedEvent("s-1", "parent-1", "child-1", time.Now())
		ev.Session.Status = st
		if err := rec.OnSessionEvent(ctx, ev); err != nil {
			t.Fatalf("OnSessionEvent(%s): %v", st, err)
		}
	}

	c, _ := rec.GetCounts(ctx, "child-1", "parent-1")
	if c.MissedCalls != 0 {
		t.Fatalf("counts = %+v, want none", c)
	}
}

func TestReplayedEventsDoNotInflateCounts(t *testing.T) {
	repo := NewMemoryRepository()
	rec := NewReconciler(repo, nil)
	ctx := context.Background()

	at := time.Now()
	for i := 0; i < 5; i++ {
		if err := rec.OnSessionEvent(ctx, missedEvent("s-1", "parent-1", "child-1", at)); err != nil {
			t.Fatalf("replay %d: %v", i, err)
		}
	}
	msg := messaging.MessageEvent{
		MessageID: "m-1", FamilyID: "fam-1",
		SenderID: "parent-1", RecipientID: "child-1",
		SentAt: at,
	}
	for i := 0; i < 5; i++ {
		if err := rec.OnMessageEvent(ctx, msg); err != nil {
			t.Fatalf("message replay %d: %v", i, err)
		}
	}

	c, _ := rec.GetCounts(ctx, "child-1", "parent-1")
	if c.MissedCalls != 1 || c.UnreadMessages != 1 {
		t.Fatalf("counts = %+v, want exactly one of each", c)
	}
}

func TestClearAdvancesWatermarkNotCounts(t *testing.T) {
	repo := NewMemoryRepository()
	rec := NewReconciler(repo, nil)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rec.clock = fixedClock(base.Add(time.Minute))

	if err := rec.OnSessionEvent(ctx, missedEvent("s-1", "parent-1", "child-1", base)); err != nil {
		t.Fatalf("OnSessionEvent: %v", err)
	}
	if err := rec.Clear(ctx, "child-1", "parent-1", KindCalls); err != nil {
		t.Fatalf("Clear: %v", err)
	}

	c, _ := rec.GetCounts(ctx, "child-1", "parent-1")
	if c.MissedCalls != 0 {
		t.Fatalf("counts after clear = %+v, want zero missed", c)
	}

	// A call missed after the clear is counted even when its event is
	// delivered late and replayed.
	late := missedEvent("s-2", "parent-1", "child-1", base.Add(2*time.Minute))
	for i := 0; i < 3; i++ {
		if err := rec.OnSessionEvent(ctx, late); err != nil {
			t.Fatalf("late replay %d: %v", i, err)
		}
	}
	c, _ = rec.GetCounts(ctx, "child-1", "parent-1")
	if c.MissedCalls != 1 {
		t.Fatalf("counts = %+v, want 1 missed after clear", c)
	}
}

func TestClearIsPerKind(t *testing.T) {
	repo := NewMemoryRepository()
	rec := NewReconciler(repo, nil)
	ctx := context.Background()

	at := time.Now()
	if err := rec.OnSessionEvent(ctx, missedEvent("s-1", "parent-1", "child-1", at)); err != nil {
		t.Fatalf("OnSessionEvent: %v", err)
	}
	if err := rec.OnMessageEvent(ctx, messaging.MessageEvent{
		MessageID: "m-1", SenderID: "parent-1", RecipientID: "child-1", SentAt: at,
	}); err != nil {
		t.Fatalf("OnMessageEvent: %v", err)
	}

	rec.clock = fixedClock(at.Add(time.Second))
	if err := rec.Clear(ctx, "child-1", "parent-1", KindMessages); err != nil {
		t.Fatalf("Clear: %v", err)
	}

	c, _ := rec.GetCounts(ctx, "child-1", "parent-1")
	if c.UnreadMessages != 0 || c.MissedCalls != 1 {
		t.Fatalf("counts = %+v, want calls untouched by message clear", c)
	}
}

func TestConvergenceUnderReplayAndReorder(t *testing.T) {
	// Replaying the full event history in a different order around a clear
	// yields the same final counts: ids dedupe, watermarks filter by time.
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	events := []session.ChangeEvent{
		missedEvent("s-1", "parent-1", "child-1", at),
		missedEvent("s-2", "parent-1", "child-1", at.Add(10*time.Second)),
		missedEvent("s-3", "parent-1", "child-1", at.Add(2*time.Minute)),
	}
	clearAt := at.Add(time.Minute)

	orders := [][]int{{0, 1, 2}, {2, 1, 0}, {1, 2, 0, 0, 1, 2}}
	for _, order := range orders {
		repo := NewMemoryRepository()
		rec := NewReconciler(repo, nil)
		rec.clock = fixedClock(clearAt)
		ctx := context.Background()

		if err := rec.Clear(ctx, "child-1", "parent-1", KindCalls); err != nil {
			t.Fatalf("Clear: %v", err)
		}
		for _, i := range order {
			if err := rec.OnSessionEvent(ctx, events[i]); err != nil {
				t.Fatalf("event %d: %v", i, err)
			}
		}

		c, _ := rec.GetCounts(ctx, "child-1", "parent-1")
		if c.MissedCalls != 1 {
			t.Fatalf("order %v: counts = %+v, want only the post-clear miss", order, c)
		}
	}
}

func TestRunConsumesStoreEvents(t *testing.T) {
	repo := NewMemoryRepository()
	rec := NewReconciler(repo, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := make(chan session.ChangeEvent, 4)
	done := make(chan struct{})
	go func() {
		rec.Run(ctx, ch)
		close(done)
	}()

	ch <- missedEvent("s-1", "parent-1", "child-1", time.Now())
	ch <- missedEvent("s-2", "parent-1", "child-1", time.Now())
	close(ch)
	<-done

	c, _ := rec.GetCounts(context.Background(), "child-1", "parent-1")
	if c.MissedCalls != 2 {
		t.Fatalf("counts = %+v, want 2 missed", c)
	}
}

func TestClearPrunesCoveredEvents(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	base := time.Unix(1700000000, 0).UTC()

	for i, id := range []string{"call:a", "call:b"} {
		if _, err := repo.RecordEvent(ctx, "child-1", "parent-1", KindCalls, id, base.Add(time.Duration(i)*time.Minute)); err != nil {
			t.Fatalf("RecordEvent: %v", err)
		}
	}
	if _, err := repo.RecordEvent(ctx, "child-1", "parent-1", KindMessages, "msg:a", base); err != nil {
		t.Fatalf("RecordEvent: %v", err)
	}

	if err := repo.SetWatermark(ctx, "child-1", "parent-1", KindCalls, base.Add(time.Hour)); err != nil {
		t.Fatalf("SetWatermark: %v", err)
	}

	// Covered call events are gone; the message event survives with its
	// counter intact.
	if n := len(repo.events[pairKey{"child-1", "parent-1"}]); n != 1 {
		t.Fatalf("events after prune = %d, want 1", n)
	}
	c, err := repo.Counts(ctx, "child-1", "parent-1")
	if err != nil {
		t.Fatalf("Counts: %v", err)
	}
	if c.MissedCalls != 0 || c.UnreadMessages != 1 {
		t.Fatalf("counts = %+v, want 0 missed / 1 unread", c)
	}

	// Replaying a pruned event re-records it but the watermark still
	// excludes it from the counter.
	if _, err := repo.RecordEvent(ctx, "child-1", "parent-1", KindCalls, "call:a", base); err != nil {
		t.Fatalf("replay RecordEvent: %v", err)
	}
	c, _ = repo.Counts(ctx, "child-1", "parent-1")
	if c.MissedCalls != 0 {
		t.Fatalf("replayed pruned event counted: %+v", c)
	}
}
