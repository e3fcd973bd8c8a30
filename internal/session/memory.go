package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemQuerier is the in-process history backend. It backs the store when
// PostgreSQL is unreachable and is the default backend in tests.
//
// MemQuerier is safe for concurrent use.
type MemQuerier struct {
	mu       sync.RWMutex
	messages map[string][]*Message
}

// NewMemQuerier creates an empty in-process backend.
func NewMemQuerier() *MemQuerier {
	return &MemQuerier{messages: make(map[string][]*Message)}
}

func (q *MemQuerier) AppendMessages(_ context.Context, identity string, msgs []*Message) error {
	if len(msgs) == 0 {
		return nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	existing := q.messages[identity]
	var maxSeq int32
	if n := len(existing); n > 0 {
		maxSeq = existing[n-1].Sequence
	}
	for i, m := range msgs {
		existing = append(existing, &Message{
			ID:        uuid.New(),
			Identity:  identity,
			Role:      m.Role,
			Content:   m.Content,
			Sequence:  maxSeq + int32(i) + 1, //nolint:gosec
			CreatedAt: time.Now(),
		})
	}
	q.messages[identity] = existing
	return nil
}

func (q *MemQuerier) History(_ context.Context, identity string) ([]*Message, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	stored := q.messages[identity]
	out := make([]*Message, len(stored))
	copy(out, stored)
	return out, nil
}

func (q *MemQuerier) ReplaceHistory(_ context.Context, identity string, msgs []*Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	replaced := make([]*Message, len(msgs))
	for i, m := range msgs {
		replaced[i] = &Message{
			ID:        uuid.New(),
			Identity:  identity,
			Role:      m.Role,
			Content:   m.Content,
			Sequence:  int32(i) + 1, //nolint:gosec
			CreatedAt: time.Now(),
		}
	}
	q.messages[identity] = replaced
	return nil
}

func (q *MemQuerier) Clear(_ context.Context, identity string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	delete(q.messages, identity)
	return nil
}
