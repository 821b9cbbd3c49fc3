package history

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"familycall-platform/internal/session"
)

var ErrInvalidRequest = errors.New("history: invalid request")

// Repository is the persistence contract for history records.
//
// It MUST be append-only for records; no update or delete methods exist.
// Append must tolerate replays: inserting a record for a session that
// already has one is a silent no-op.
type Repository interface {
	Append(ctx context.Context, r Record) error
	List(ctx context.Context, req ListRequest) ([]Record, error)
	ListPair(ctx context.Context, familyID, participantID, contactID string, rng TimeRange) ([]Record, error)
}

// Recorder turns terminal session transitions into immutable history rows
// and answers call-log queries. It consumes the same change-event stream as
// the badge reconciler; both are derived views that must never hold up the
// call path.
type Recorder struct {
	repo  Repository
	log   *slog.Logger
	clock func() time.Time
	newID func() string
}

func NewRecorder(repo Repository, log *slog.Logger) *Recorder {
	if log == nil {
		log = slog.Default()
	}
	return &Recorder{repo: repo, log: log, clock: time.Now, newID: uuid.NewString}
}

// OnSessionEvent appends a record once the session is terminal. Non-terminal
// transitions are ignored; replayed terminal events dedupe on session id in
// the repository.
func (r *Recorder) OnSessionEvent(ctx context.Context, ev session.ChangeEvent) error {
	s := ev.Session
	if !s.Status.Terminal() {
		return nil
	}

	endedAt := ev.At
	if s.EndedAt != nil {
		endedAt = *s.EndedAt
	}
	if endedAt.IsZero() {
		endedAt = r.clock().UTC()
	}

	rec := Record{
		ID:         r.newID(),
		SessionID:  s.ID,
		FamilyID:   s.FamilyID,
		CallerID:   s.CallerID,
		CalleeID:   s.CalleeID,
		Type:       string(s.Type),
		Outcome:    string(s.Status),
		StartedAt:  s.CreatedAt,
		AnsweredAt: s.AnsweredAt,
		EndedAt:    endedAt,
		EndReason:  string(s.EndReason),
	}
	if s.AnsweredAt != nil && endedAt.After(*s.AnsweredAt) {
		rec.DurationSeconds = int(endedAt.Sub(*s.AnsweredAt) / time.Second)
	}
	return r.repo.Append(ctx, rec)
}

func (r *Recorder) List(ctx context.Context, req ListRequest) ([]Record, error) {
	if req.FamilyID == "" || req.ParticipantID == "" {
		return nil, ErrInvalidRequest
	}
	if req.Limit <= 0 || req.Limit > 200 {
		req.Limit = 50
	}
	return r.repo.List(ctx, req)
}

// Summary aggregates the participant's calls with one contact over a range.
func (r *Recorder) Summary(ctx context.Context, familyID, participantID, contactID string, rng TimeRange) (Summary, error) {
	if familyID == "" || participantID == "" || contactID == "" {
		return Summary{}, ErrInvalidRequest
	}

	rows, err := r.repo.ListPair(ctx, familyID, participantID, contactID, rng)
	if err != nil {
		return Summary{}, err
	}

	out := Summary{FamilyID: familyID, ParticipantID: participantID, ContactID: contactID}
	for _, rec := range rows {
		out.TotalCalls++
		out.TotalDurationSeconds += rec.DurationSeconds
		switch session.Status(rec.Outcome) {
		case session.StatusEnded:
			out.CompletedCalls++
		case session.StatusMissed:
			out.MissedCalls++
		case session.StatusDeclined:
			out.DeclinedCalls++
		case session.StatusFailed:
			out.FailedCalls++
		}
	}
	if out.TotalCalls > 0 {
		out.AverageDurationSeconds = out.TotalDurationSeconds / out.TotalCalls
	}
	return out, nil
}

// Run consumes session change events until ctx is done or the channel
// closes. History failures are logged and swallowed.
func (r *Recorder) Run(ctx context.Context, events <-chan session.ChangeEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := r.OnSessionEvent(ctx, ev); err != nil {
				r.log.Warn("history record dropped", "session_id", ev.Session.ID, "err", err)
			}
		}
	}
}
