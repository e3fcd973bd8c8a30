package agent

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/firebase/genkit/go/ai"

	"github.com/koopa0/banxian/internal/mood"
	"github.com/koopa0/banxian/internal/persona"
	"github.com/koopa0/banxian/internal/session"
)

// TurnErrorAnswer replaces the reply when the reasoning turn itself fails.
const TurnErrorAnswer = "很抱歉，算卦过程中出现小插曲，请稍后再试~"

// ErrEmptyQuery rejects blank input before any model call.
var ErrEmptyQuery = errors.New("query must not be empty")

// reasoner is the reasoning loop surface the controller needs.
type reasoner interface {
	Run(ctx context.Context, system string, history []*ai.Message, input string) (*Result, error)
}

// classifier is the mood classification surface the controller needs.
type classifier interface {
	Classify(ctx context.Context, text string) mood.Label
}

// historyStore is the slice of the session store the controller uses.
type historyStore interface {
	Acquire(identity string) func()
	History(ctx context.Context, identity string) ([]*session.Message, error)
	Append(ctx context.Context, identity string, msgs ...*session.Message) error
}

// Reading is the outcome of one conversational turn.
type Reading struct {
	Answer string
	Trace  []ToolInvocation
	Mood   mood.Label
	// Failed marks a degraded turn: Answer carries apology text and the
	// exchange was not recorded in history.
	Failed bool
}

// Controller orchestrates one turn per identity: mood classification,
// persona assembly, the reasoning loop, and history upkeep. Shared resources
// (engine, classifier, store) are process-wide and immutable; all per-turn
// state lives on the stack, so distinct identities run concurrently while
// turns for the same identity are serialized through the store's lock.
type Controller struct {
	engine     reasoner
	classifier classifier
	store      historyStore
	logger     *slog.Logger
}

// NewController wires a Controller. logger may be nil.
func NewController(engine reasoner, cls classifier, store historyStore, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{engine: engine, classifier: cls, store: store, logger: logger}
}

// Run executes one turn for identity. The returned Reading always carries a
// non-empty answer; provider-side failures degrade to TurnErrorAnswer with
// Failed set instead of surfacing an error. Only invalid input errors.
func (c *Controller) Run(ctx context.Context, identity, query string) (*Reading, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}

	release := c.store.Acquire(identity)
	defer release()

	label := c.classifier.Classify(ctx, query)
	prompt := persona.Build(label)
	c.logger.Debug("classified turn", "identity", identity, "mood", label)

	history, err := c.store.History(ctx, identity)
	if err != nil {
		// Degraded turn without context beats no turn at all.
		c.logger.Warn("loading history failed, proceeding without it",
			"identity", identity, "error", err)
		history = nil
	}

	result, err := c.engine.Run(ctx, prompt.System(), session.ToModelMessages(history), query)
	if err != nil {
		c.logger.Error("reasoning turn failed", "identity", identity, "error", err)
		return &Reading{Answer: TurnErrorAnswer, Mood: label, Failed: true}, nil
	}

	if err := c.store.Append(ctx, identity,
		session.NewMessage("user", query),
		session.NewMessage("model", result.Answer),
	); err != nil {
		// Best effort: the answer still reaches the user.
		c.logger.Warn("recording turn failed", "identity", identity, "error", err)
	}

	return &Reading{Answer: result.Answer, Trace: result.Trace, Mood: label}, nil
}
