package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// DefaultTokenBudget caps the estimated token size of a stored history
// before it is compacted into a summary.
const DefaultTokenBudget = 1000

// Summarizer condenses a history into a short profile string. The reasoning
// layer provides a model-backed implementation.
type Summarizer interface {
	Summarize(ctx context.Context, msgs []*Message) (string, error)
}

// Store manages per-identity conversation history on top of a Querier.
//
// Store serializes turns per identity: callers wrap a full
// read-reason-append cycle in Acquire so interleaved requests for the same
// identity cannot corrupt ordering. Different identities never contend.
type Store struct {
	querier     Querier
	summarizer  Summarizer
	tokenBudget int
	logger      *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Option configures a Store.
type Option func(*Store)

// WithSummarizer installs the history summarizer used during compaction.
// Without one, over-budget histories are truncated instead.
func WithSummarizer(s Summarizer) Option {
	return func(st *Store) { st.summarizer = s }
}

// WithTokenBudget overrides DefaultTokenBudget. Values below 1 are ignored.
func WithTokenBudget(n int) Option {
	return func(st *Store) {
		if n > 0 {
			st.tokenBudget = n
		}
	}
}

// New creates a Store on querier. logger may be nil.
func New(querier Querier, logger *slog.Logger, opts ...Option) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		querier:     querier,
		tokenBudget: DefaultTokenBudget,
		logger:      logger,
		locks:       make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Acquire takes the per-identity turn lock and returns its release func.
// Lock entries are created on demand and kept for the process lifetime;
// identity cardinality is bounded by the active user population.
func (s *Store) Acquire(identity string) func() {
	s.mu.Lock()
	l, ok := s.locks[identity]
	if !ok {
		l = &sync.Mutex{}
		s.locks[identity] = l
	}
	s.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// History returns the stored messages for identity, oldest first.
func (s *Store) History(ctx context.Context, identity string) ([]*Message, error) {
	msgs, err := s.querier.History(ctx, identity)
	if err != nil {
		return nil, fmt.Errorf("load history for %q: %w", identity, err)
	}
	return msgs, nil
}

// Append stores msgs at the end of identity's history and compacts when the
// history has grown past the token budget.
func (s *Store) Append(ctx context.Context, identity string, msgs ...*Message) error {
	if err := s.querier.AppendMessages(ctx, identity, msgs); err != nil {
		return fmt.Errorf("append history for %q: %w", identity, err)
	}
	return s.compactIfNeeded(ctx, identity)
}

// Clear removes all history for identity.
func (s *Store) Clear(ctx context.Context, identity string) error {
	if err := s.querier.Clear(ctx, identity); err != nil {
		return fmt.Errorf("clear history for %q: %w", identity, err)
	}
	s.logger.Debug("cleared history", "identity", identity)
	return nil
}

// compactIfNeeded replaces an over-budget history with a single system
// message. The summarizer output is preferred; when it is unavailable or
// failing, the newest messages that fit the budget are kept instead.
// Compaction failures never fail the turn.
func (s *Store) compactIfNeeded(ctx context.Context, identity string) error {
	msgs, err := s.querier.History(ctx, identity)
	if err != nil {
		return fmt.Errorf("load history for compaction: %w", err)
	}

	used := EstimateMessageTokens(msgs)
	if used <= s.tokenBudget {
		return nil
	}

	if s.summarizer != nil {
		summary, err := s.summarizer.Summarize(ctx, msgs)
		if err == nil && summary != "" {
			replacement := []*Message{NewMessage("system", summary)}
			if err := s.querier.ReplaceHistory(ctx, identity, replacement); err != nil {
				return fmt.Errorf("install summary: %w", err)
			}
			s.logger.Info("compacted history",
				"identity", identity, "tokens_before", used, "messages_before", len(msgs))
			return nil
		}
		s.logger.Warn("summarization failed, truncating instead", "identity", identity, "error", err)
	}

	kept := truncateToBudget(msgs, s.tokenBudget)
	if len(kept) == len(msgs) {
		return nil
	}
	if err := s.querier.ReplaceHistory(ctx, identity, kept); err != nil {
		return fmt.Errorf("truncate history: %w", err)
	}
	s.logger.Info("truncated history",
		"identity", identity, "messages_before", len(msgs), "messages_after", len(kept))
	return nil
}

// truncateToBudget keeps the newest messages whose estimate fits budget,
// always retaining at least the newest message.
func truncateToBudget(msgs []*Message, budget int) []*Message {
	if len(msgs) == 0 {
		return msgs
	}

	total := 0
	start := len(msgs)
	for i := len(msgs) - 1; i >= 0; i-- {
		cost := EstimateTokens(msgs[i].Text())
		if total+cost > budget && start < len(msgs) {
			break
		}
		total += cost
		start = i
	}
	return msgs[start:]
}
