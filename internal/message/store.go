package message

import (
	"context"
	"sync"
	"time"
)

// Store is the interface for message persistence backends. Append assigns
// the message a monotonically increasing id and a server timestamp.
// Remove addresses messages by their client-supplied id, the identifier
// clients hold on to, and only deletes when the stored sender matches,
// so a connection can never delete a message it did not originate.
type Store interface {
	Append(ctx context.Context, m *Message) error
	ListBetween(ctx context.Context, a, b string) ([]*Message, error)
	Remove(ctx context.Context, clientID, sender string) (bool, error)
}

// MemStore keeps messages in memory, grouped by conversation. It is the
// default backend and the one used by tests.
type MemStore struct {
	mu     sync.RWMutex
	convs  map[string][]*Message
	nextID int64
}

// NewMemStore creates an empty in-memory message store.
func NewMemStore() *MemStore {
	return &MemStore{convs: make(map[string][]*Message)}
}

// Append stores the message, assigning its id and timestamp.
func (s *MemStore) Append(ctx context.Context, m *Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	m.ID = s.nextID
	m.CreatedAt = time.Now().UTC()

	key := PairKey(m.Sender, m.Recipient)
	stored := *m
	s.convs[key] = append(s.convs[key], &stored)
	return nil
}

// ListBetween returns the conversation between a and b, oldest first.
func (s *MemStore) ListBetween(ctx context.Context, a, b string) ([]*Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := s.convs[PairKey(a, b)]
	result := make([]*Message, len(msgs))
	for i, m := range msgs {
		cp := *m
		result[i] = &cp
	}
	return result, nil
}

// Remove deletes the message with the given client id if its stored
// sender matches. Returns false when no such message exists or the
// sender does not match.
func (s *MemStore) Remove(ctx context.Context, clientID, sender string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, msgs := range s.convs {
		for i, m := range msgs {
			if m.ClientID != clientID {
				continue
			}
			if m.Sender != sender {
				return false, nil
			}
			s.convs[key] = append(msgs[:i:i], msgs[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}
