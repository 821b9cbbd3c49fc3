package signaling

import (
	"context"
	"testing"

	"familycall-platform/internal/session"
)

func fixedStatus(st session.Status, err error) StatusFunc {
	return func(ctx context.Context, familyID, sessionID string) (session.Status, error) {
		return st, err
	}
}

func TestReceiver_DropsDuplicateSeq(t *testing.T) {
	r := NewReceiver(fixedStatus(session.StatusActive, nil))
	m := testMessage("sess-1", "dev-a", "callee", VariantICECandidate)
	m.Seq = 1

	ok, err := r.Accept(context.Background(), m)
	if err != nil || !ok {
		t.Fatalf("first delivery should be accepted, got ok=%v err=%v", ok, err)
	}
	// at-least-once redelivery of the same message
	ok, err = r.Accept(context.Background(), m)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if ok {
		t.Fatalf("duplicate should be dropped")
	}
}

func TestReceiver_DropsReorderedBehindMessage(t *testing.T) {
	r := NewReceiver(fixedStatus(session.StatusActive, nil))
	m2 := testMessage("sess-1", "dev-a", "callee", VariantICECandidate)
	m2.Seq = 2
	m1 := testMessage("sess-1", "dev-a", "callee", VariantICECandidate)
	m1.Seq = 1

	if ok, _ := r.Accept(context.Background(), m2); !ok {
		t.Fatalf("seq 2 should be accepted")
	}
	if ok, _ := r.Accept(context.Background(), m1); ok {
		t.Fatalf("seq 1 behind the floor should be dropped")
	}
}

func TestReceiver_DiscardsMediaForTerminalSession(t *testing.T) {
	r := NewReceiver(fixedStatus(session.StatusEnded, nil))
	m := testMessage("sess-1", "dev-a", "callee", VariantICECandidate)
	m.Seq = 1

	ok, err := r.Accept(context.Background(), m)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if ok {
		t.Fatalf("ice_candidate for ended session must be discarded")
	}
}

func TestReceiver_TreatsUnknownSessionAsEnded(t *testing.T) {
	r := NewReceiver(fixedStatus("", session.ErrNotFound))
	m := testMessage("sess-x", "dev-a", "callee", VariantOffer)
	m.Seq = 1

	ok, err := r.Accept(context.Background(), m)
	if err != nil {
		t.Fatalf("not-found must not surface as an error, got %v", err)
	}
	if ok {
		t.Fatalf("offer for unknown session must be dropped")
	}
}

func TestReceiver_ControlVariantsSkipStatusCheck(t *testing.T) {
	// call_ended itself must get through even though the session is terminal
	// by the time it is delivered.
	r := NewReceiver(fixedStatus(session.StatusEnded, nil))
	m := testMessage("sess-1", "dev-a", "caller", VariantCallEnded)
	m.Seq = 1

	ok, err := r.Accept(context.Background(), m)
	if err != nil || !ok {
		t.Fatalf("call_ended should be delivered, got ok=%v err=%v", ok, err)
	}
}

func TestReceiver_SeparateFloorsPerVariant(t *testing.T) {
	r := NewReceiver(fixedStatus(session.StatusActive, nil))
	ice := testMessage("sess-1", "dev-a", "callee", VariantICECandidate)
	ice.Seq = 5
	offer := testMessage("sess-1", "dev-a", "callee", VariantOffer)
	offer.Seq = 1

	if ok, _ := r.Accept(context.Background(), ice); !ok {
		t.Fatalf("ice seq 5 should be accepted")
	}
	if ok, _ := r.Accept(context.Background(), offer); !ok {
		t.Fatalf("offer has its own (session, variant) floor")
	}
}
