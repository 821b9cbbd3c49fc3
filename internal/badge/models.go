package badge

import "time"

// Kind selects which counter a watermark applies to.
type Kind string

const (
	KindMessages Kind = "messages"
	KindCalls    Kind = "calls"
)

func (k Kind) Valid() bool { return k == KindMessages || k == KindCalls }

// Counts is the derived per-contact badge view the UI renders. It is never
// authoritative: it can always be rebuilt by replaying events against the
// watermarks.
type Counts struct {
	UnreadMessages int `json:"unread_message_count"`
	MissedCalls    int `json:"missed_call_count"`
}

// Watermarks are the participant's per-contact "last cleared" times.
// Clearing records a watermark instead of zeroing counts, so an event that
// lands concurrently with a clear is never silently dropped from the next
// count.
type Watermarks struct {
	Messages time.Time `json:"messages"`
	Calls    time.Time `json:"calls"`
}
