// Package session persists per-identity conversation history.
//
// History is keyed by an opaque identity string supplied by the caller.
// The primary backend is PostgreSQL; when no pool is available the store
// transparently runs on an in-process backend so a reading still works
// without a database.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/firebase/genkit/go/ai"
	"github.com/google/uuid"
)

// ErrNotFound is returned when an identity has no stored history.
var ErrNotFound = errors.New("session: history not found")

// Message is one stored turn of a conversation.
type Message struct {
	ID        uuid.UUID
	Identity  string
	Role      string
	Content   []*ai.Part
	Sequence  int32
	CreatedAt time.Time
}

// Text concatenates the text parts of the message.
func (m *Message) Text() string {
	var out string
	for _, p := range m.Content {
		if p != nil && p.IsText() {
			out += p.Text
		}
	}
	return out
}

// NewMessage builds a text-only message for role.
func NewMessage(role, text string) *Message {
	return &Message{Role: role, Content: []*ai.Part{ai.NewTextPart(text)}}
}

// ToModelMessages converts stored messages to the model wire type, preserving
// order.
func ToModelMessages(msgs []*Message) []*ai.Message {
	out := make([]*ai.Message, len(msgs))
	for i, m := range msgs {
		out[i] = &ai.Message{Role: ai.Role(m.Role), Content: m.Content}
	}
	return out
}

// marshalParts serializes message parts for JSONB storage.
func marshalParts(parts []*ai.Part) ([]byte, error) {
	for i, p := range parts {
		if p == nil {
			return nil, fmt.Errorf("nil content part at index %d", i)
		}
	}
	return json.Marshal(parts)
}

func unmarshalParts(data []byte) ([]*ai.Part, error) {
	var parts []*ai.Part
	if err := json.Unmarshal(data, &parts); err != nil {
		return nil, err
	}
	return parts, nil
}

// EstimateTokens approximates the token count of text. Two runes per token
// holds up reasonably for both CJK and Latin content and errs on the side of
// compacting early.
func EstimateTokens(text string) int {
	return utf8.RuneCountInString(text) / 2
}

// EstimateMessageTokens sums the estimate over every text part of msgs.
func EstimateMessageTokens(msgs []*Message) int {
	total := 0
	for _, m := range msgs {
		total += EstimateTokens(m.Text())
	}
	return total
}
