package calls

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"familycall-platform/internal/config"
	"familycall-platform/internal/family"
	"familycall-platform/internal/session"
	"familycall-platform/internal/signaling"
)

type recordingNotifier struct {
	mu       sync.Mutex
	incoming []string
	missed   []string
}

func (n *recordingNotifier) NotifyIncomingCall(_ context.Context, s session.CallSession) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.incoming = append(n.incoming, s.ID)
	return nil
}

func (n *recordingNotifier) NotifyMissedCall(_ context.Context, s session.CallSession) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.missed = append(n.missed, s.ID)
	return nil
}

func (n *recordingNotifier) missedCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.missed)
}

type fixture struct {
	machine  *Machine
	store    *session.Store
	relay    *signaling.MemoryRelay
	notifier *recordingNotifier
}

func newFixture(t *testing.T, cfg config.CallConfig) *fixture {
	t.Helper()

	dir := family.NewMemoryDirectory()
	dir.AddMember(family.Member{ID: "parent-1", FamilyID: "fam-1", Role: "parent", DisplayName: "Dana"})
	dir.AddMember(family.Member{ID: "child-1", FamilyID: "fam-1", Role: "child", DisplayName: "Sam"})

	store := session.NewStore(session.NewMemoryRepo())
	relay := signaling.NewMemoryRelay(16)
	notifier := &recordingNotifier{}

	m := NewMachine(store, relay, dir, notifier, nil, cfg, nil)
	return &fixture{machine: m, store: store, relay: relay, notifier: notifier}
}

func defaultCfg() config.CallConfig {
	return config.CallConfig{
		RingTimeout:    time.Minute,
		ConnectTimeout: time.Minute,
		HeartbeatGrace: time.Minute,
	}
}

func TestRequestCallCreatesRingingSession(t *testing.T) {
	f := newFixture(t, defaultCfg())
	ctx := context.Background()

	sub, err := f.relay.Subscribe(ctx, "child-1")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Close()

	s, err := f.machine.RequestCall(ctx, "fam-1", "parent-1", "dev-p1", "child-1", session.CallTypeVideo)
	if err != nil {
		t.Fatalf("RequestCall: %v", err)
	}
	if s.Status != session.StatusRinging {
		t.Fatalf("status = %s, want ringing", s.Status)
	}
	if s.CallerRole != "parent" || s.CalleeRole != "child" {
		t.Fatalf("roles = %s/%s", s.CallerRole, s.CalleeRole)
	}

	select {
	case msg := <-sub.Messages():
		if msg.Variant != signaling.VariantCallRequest || msg.SessionID != s.ID {
			t.Fatalf("got %s for %s", msg.Variant, msg.SessionID)
		}
	case <-time.After(time.Second):
		t.Fatal("no call_request delivered")
	}

	if len(f.notifier.incoming) != 1 {
		t.Fatalf("incoming pushes = %d, want 1", len(f.notifier.incoming))
	}
}

func TestRequestCallRejectsUnauthorizedPair(t *testing.T) {
	f := newFixture(t, defaultCfg())

	_, err := f.machine.RequestCall(context.Background(), "fam-1", "parent-1", "dev-p1", "stranger", session.CallTypeVoice)
	if !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("err = %v, want ErrNotAuthorized", err)
	}
}

func TestAnswerRaceHasOneWinner(t *testing.T) {
	f := newFixture(t, defaultCfg())
	ctx := context.Background()

	s, err := f.machine.RequestCall(ctx, "fam-1", "parent-1", "dev-p1", "child-1", session.CallTypeVoice)
	if err != nil {
		t.Fatalf("RequestCall: %v", err)
	}

	devices := []string{"dev-c1", "dev-c2", "dev-c3", "dev-c4"}
	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	conflicts := 0
	for _, dev := range devices {
		wg.Add(1)
		go func(dev string) {
			defer wg.Done()
			_, err := f.machine.Answer(ctx, "fam-1", s.ID, "child-1", dev)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				winners++
			case errors.Is(err, session.ErrConflict):
				conflicts++
			default:
				t.Errorf("Answer(%s): %v", dev, err)
			}
		}(dev)
	}
	wg.Wait()

	if winners != 1 || conflicts != len(devices)-1 {
		t.Fatalf("winners = %d conflicts = %d, want 1/%d", winners, conflicts, len(devices)-1)
	}

	cur, err := f.store.Get(ctx, "fam-1", s.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if cur.Status != session.StatusConnecting || cur.AnsweredBy == "" || cur.AnsweredAt == nil {
		t.Fatalf("session = %+v, want connecting with winner recorded", cur)
	}
}

func TestAnswerByNonCalleeRejected(t *testing.T) {
	f := newFixture(t, defaultCfg())
	ctx := context.Background()

	s, _ := f.machine.RequestCall(ctx, "fam-1", "parent-1", "dev-p1", "child-1", session.CallTypeVoice)
	if _, err := f.machine.Answer(ctx, "fam-1", s.ID, "parent-1", "dev-p1"); !errors.Is(err, ErrNotParticipant) {
		t.Fatalf("err = %v, want ErrNotParticipant", err)
	}
}

func TestRingTimeoutMarksMissed(t *testing.T) {
	cfg := defaultCfg()
	cfg.RingTimeout = 20 * time.Millisecond
	f := newFixture(t, cfg)
	ctx := context.Background()

	s, err := f.machine.RequestCall(ctx, "fam-1", "parent-1", "dev-p1", "child-1", session.CallTypeVoice)
	if err != nil {
		t.Fatalf("RequestCall: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for {
		cur, err := f.store.Get(ctx, "fam-1", s.ID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if cur.Status == session.StatusMissed {
			if cur.EndReason != session.EndReasonTimeout {
				t.Fatalf("end reason = %s, want timeout", cur.EndReason)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("session never went missed, status = %s", cur.Status)
		}
		time.Sleep(5 * time.Millisecond)
	}

	if f.notifier.missedCount() != 1 {
		t.Fatalf("missed pushes = %d, want 1", f.notifier.missedCount())
	}

	// Answering after the timeout is the lost race the client must see.
	if _, err := f.machine.Answer(ctx, "fam-1", s.ID, "child-1", "dev-c1"); !errors.Is(err, session.ErrConflict) {
		t.Fatalf("late answer err = %v, want ErrConflict", err)
	}
}

func TestAnswerCancelsRingTimeout(t *testing.T) {
	cfg := defaultCfg()
	cfg.RingTimeout = 30 * time.Millisecond
	f := newFixture(t, cfg)
	ctx := context.Background()

	s, _ := f.machine.RequestCall(ctx, "fam-1", "parent-1", "dev-p1", "child-1", session.CallTypeVoice)
	if _, err := f.machine.Answer(ctx, "fam-1", s.ID, "child-1", "dev-c1"); err != nil {
		t.Fatalf("Answer: %v", err)
	}

	time.Sleep(100 * time.Millisecond)
	cur, _ := f.store.Get(ctx, "fam-1", s.ID)
	if cur.Status != session.StatusConnecting {
		t.Fatalf("status = %s, want connecting after answered call outlives ring window", cur.Status)
	}
	if f.notifier.missedCount() != 0 {
		t.Fatalf("missed pushes = %d, want 0", f.notifier.missedCount())
	}
}

func TestDeclineIsIdempotentAgainstTimeout(t *testing.T) {
	cfg := defaultCfg()
	cfg.RingTimeout = 20 * time.Millisecond
	f := newFixture(t, cfg)
	ctx := context.Background()

	s, _ := f.machine.RequestCall(ctx, "fam-1", "parent-1", "dev-p1", "child-1", session.CallTypeVoice)

	// Let the ring timer win.
	deadline := time.Now().Add(time.Second)
	for {
		cur, _ := f.store.Get(ctx, "fam-1", s.ID)
		if cur.Status.Terminal() {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("session never terminal")
		}
		time.Sleep(5 * time.Millisecond)
	}

	out, err := f.machine.Decline(ctx, "fam-1", s.ID, "child-1", "dev-c1")
	if err != nil {
		t.Fatalf("Decline after timeout: %v", err)
	}
	if out.Status != session.StatusMissed {
		t.Fatalf("status = %s, want the timeout's verdict kept", out.Status)
	}
}

func TestDeclineAfterAnswerReportsAnsweredSession(t *testing.T) {
	f := newFixture(t, defaultCfg())
	ctx := context.Background()

	s, _ := f.machine.RequestCall(ctx, "fam-1", "parent-1", "dev-p1", "child-1", session.CallTypeVoice)
	if _, err := f.machine.Answer(ctx, "fam-1", s.ID, "child-1", "dev-c1"); err != nil {
		t.Fatalf("Answer: %v", err)
	}

	// A slower device declines after the answer already won. The decline is
	// a no-op and reports the answered session, not a conflict.
	out, err := f.machine.Decline(ctx, "fam-1", s.ID, "child-1", "dev-c2")
	if err != nil {
		t.Fatalf("Decline after answer: %v", err)
	}
	if out.Status != session.StatusConnecting {
		t.Fatalf("status = %s, want connecting", out.Status)
	}
	if out.AnsweredBy != "dev-c1" {
		t.Fatalf("answered_by = %s, want dev-c1", out.AnsweredBy)
	}
}

func TestFullLifecycleToEnded(t *testing.T) {
	f := newFixture(t, defaultCfg())
	ctx := context.Background()

	s, _ := f.machine.RequestCall(ctx, "fam-1", "parent-1", "dev-p1", "child-1", session.CallTypeVideo)
	if _, err := f.machine.Answer(ctx, "fam-1", s.ID, "child-1", "dev-c1"); err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if _, err := f.machine.MarkActive(ctx, "fam-1", s.ID, "parent-1"); err != nil {
		t.Fatalf("MarkActive: %v", err)
	}

	out, err := f.machine.End(ctx, "fam-1", s.ID, "parent-1", "")
	if err != nil {
		t.Fatalf("End: %v", err)
	}
	if out.Status != session.StatusEnded || out.EndReason != session.EndReasonHangup || out.EndedBy != "parent-1" {
		t.Fatalf("session = %+v, want ended by parent-1 (hangup)", out)
	}

	// The other side hanging up at the same time is a success too.
	again, err := f.machine.End(ctx, "fam-1", s.ID, "child-1", "")
	if err != nil {
		t.Fatalf("duplicate End: %v", err)
	}
	if again.EndedBy != "parent-1" {
		t.Fatalf("EndedBy = %s, want first ender kept", again.EndedBy)
	}
}

func TestCallerCancelWhileRingingIsMissed(t *testing.T) {
	f := newFixture(t, defaultCfg())
	ctx := context.Background()

	s, _ := f.machine.RequestCall(ctx, "fam-1", "parent-1", "dev-p1", "child-1", session.CallTypeVoice)
	out, err := f.machine.End(ctx, "fam-1", s.ID, "parent-1", "")
	if err != nil {
		t.Fatalf("End: %v", err)
	}
	if out.Status != session.StatusMissed || out.EndReason != session.EndReasonHangup {
		t.Fatalf("session = %+v, want missed/hangup", out)
	}
}

func TestCalleeEndWhileRingingIsDecline(t *testing.T) {
	f := newFixture(t, defaultCfg())
	ctx := context.Background()

	s, _ := f.machine.RequestCall(ctx, "fam-1", "parent-1", "dev-p1", "child-1", session.CallTypeVoice)
	out, err := f.machine.End(ctx, "fam-1", s.ID, "child-1", "")
	if err != nil {
		t.Fatalf("End: %v", err)
	}
	if out.Status != session.StatusDeclined {
		t.Fatalf("status = %s, want declined", out.Status)
	}
}

func TestHeartbeatLapseFailsActiveCall(t *testing.T) {
	cfg := defaultCfg()
	cfg.HeartbeatGrace = 30 * time.Millisecond
	f := newFixture(t, cfg)
	ctx := context.Background()

	s, _ := f.machine.RequestCall(ctx, "fam-1", "parent-1", "dev-p1", "child-1", session.CallTypeVoice)
	f.machine.Answer(ctx, "fam-1", s.ID, "child-1", "dev-c1")
	f.machine.MarkActive(ctx, "fam-1", s.ID, "parent-1")

	// Heartbeats keep it alive past the grace window.
	for i := 0; i < 3; i++ {
		time.Sleep(15 * time.Millisecond)
		if _, err := f.machine.Heartbeat(ctx, "fam-1", s.ID, "parent-1"); err != nil {
			t.Fatalf("Heartbeat: %v", err)
		}
	}
	cur, _ := f.store.Get(ctx, "fam-1", s.ID)
	if cur.Status != session.StatusActive {
		t.Fatalf("status = %s, want still active under heartbeats", cur.Status)
	}

	// Then stop and let the dead-man fire.
	deadline := time.Now().Add(time.Second)
	for {
		cur, _ = f.store.Get(ctx, "fam-1", s.ID)
		if cur.Status == session.StatusFailed {
			if cur.EndReason != session.EndReasonNetworkFailure {
				t.Fatalf("end reason = %s, want network_failure", cur.EndReason)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("call never failed, status = %s", cur.Status)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestConnectTimeoutFailsSession(t *testing.T) {
	cfg := defaultCfg()
	cfg.ConnectTimeout = 25 * time.Millisecond
	f := newFixture(t, cfg)
	ctx := context.Background()

	s, _ := f.machine.RequestCall(ctx, "fam-1", "parent-1", "dev-p1", "child-1", session.CallTypeVoice)
	if _, err := f.machine.Answer(ctx, "fam-1", s.ID, "child-1", "dev-c1"); err != nil {
		t.Fatalf("Answer: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for {
		cur, _ := f.store.Get(ctx, "fam-1", s.ID)
		if cur.Status == session.StatusFailed {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("session never failed, status = %s", cur.Status)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestEndWithNetworkFailureReasonFailsSession(t *testing.T) {
	f := newFixture(t, defaultCfg())
	ctx := context.Background()

	s, _ := f.machine.RequestCall(ctx, "fam-1", "parent-1", "dev-p1", "child-1", session.CallTypeVideo)
	if _, err := f.machine.Answer(ctx, "fam-1", s.ID, "child-1", "dev-c1"); err != nil {
		t.Fatalf("Answer: %v", err)
	}

	// Media negotiation gave up; the session fails rather than ends.
	out, err := f.machine.End(ctx, "fam-1", s.ID, "parent-1", session.EndReasonNetworkFailure)
	if err != nil {
		t.Fatalf("End: %v", err)
	}
	if out.Status != session.StatusFailed || out.EndReason != session.EndReasonNetworkFailure {
		t.Fatalf("session = %+v, want failed/network_failure", out)
	}
}
