package message

import "time"

// Message is a direct message between two users. ID and CreatedAt are
// assigned by the store at persistence time; ClientID is an opaque
// client-supplied identifier used to correlate later deletions.
type Message struct {
	ID        int64     `json:"id"`
	Sender    string    `json:"sender"`
	Recipient string    `json:"recipient"`
	Body      string    `json:"message"`
	ClientID  string    `json:"message_id,omitempty"`
	CreatedAt time.Time `json:"timestamp"`
}

// PairKey returns a canonical key for the unordered pair of participants,
// so that a conversation is addressed the same way from either side.
func PairKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + ":" + b
}
