package session

import (
	"context"
	"errors"
	"runtime"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koopa0/banxian/internal/log"
)

type fakeSummarizer struct {
	summary string
	err     error
	calls   int
}

func (f *fakeSummarizer) Summarize(_ context.Context, _ []*Message) (string, error) {
	f.calls++
	return f.summary, f.err
}

func TestStore_AppendAndHistory(t *testing.T) {
	t.Parallel()

	store := New(NewMemQuerier(), log.NewNop())
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, "user-1",
		NewMessage("user", "帮我算一卦"),
		NewMessage("model", "我命由我不由天，且听我慢慢道来。"),
	))

	msgs, err := store.History(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "user", msgs[0].Role)
	assert.Equal(t, "帮我算一卦", msgs[0].Text())
	assert.Equal(t, int32(1), msgs[0].Sequence)
	assert.Equal(t, int32(2), msgs[1].Sequence)

	// Separate identities never see each other's history.
	other, err := store.History(ctx, "user-2")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestStore_SequenceContinuesAcrossAppends(t *testing.T) {
	t.Parallel()

	store := New(NewMemQuerier(), log.NewNop())
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, "u", NewMessage("user", "hi")))
	require.NoError(t, store.Append(ctx, "u", NewMessage("model", "ok")))

	msgs, err := store.History(ctx, "u")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, int32(2), msgs[1].Sequence)
}

func TestStore_Clear(t *testing.T) {
	t.Parallel()

	store := New(NewMemQuerier(), log.NewNop())
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, "u", NewMessage("user", "hi")))
	require.NoError(t, store.Clear(ctx, "u"))

	msgs, err := store.History(ctx, "u")
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestStore_CompactsWithSummary(t *testing.T) {
	t.Parallel()

	sum := &fakeSummarizer{summary: "总结摘要：用户咨询运势｜用户关键信息：1990年生"}
	store := New(NewMemQuerier(), log.NewNop(), WithSummarizer(sum), WithTokenBudget(10))
	ctx := context.Background()

	long := strings.Repeat("运势如何", 20)
	require.NoError(t, store.Append(ctx, "u", NewMessage("user", long)))

	assert.Equal(t, 1, sum.calls)
	msgs, err := store.History(ctx, "u")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "system", msgs[0].Role)
	assert.Equal(t, sum.summary, msgs[0].Text())
}

func TestStore_UnderBudgetDoesNotCompact(t *testing.T) {
	t.Parallel()

	sum := &fakeSummarizer{summary: "should not be used"}
	store := New(NewMemQuerier(), log.NewNop(), WithSummarizer(sum))
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, "u", NewMessage("user", "短问题")))

	assert.Zero(t, sum.calls)
	msgs, err := store.History(ctx, "u")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "user", msgs[0].Role)
}

func TestStore_SummarizerFailureFallsBackToTruncation(t *testing.T) {
	t.Parallel()

	sum := &fakeSummarizer{err: errors.New("model unavailable")}
	store := New(NewMemQuerier(), log.NewNop(), WithSummarizer(sum), WithTokenBudget(10))
	ctx := context.Background()

	// Each message is over budget on its own, so only the newest survives.
	require.NoError(t, store.Append(ctx, "u",
		NewMessage("user", strings.Repeat("旧", 40)),
		NewMessage("model", strings.Repeat("新", 40)),
	))

	msgs, err := store.History(ctx, "u")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, strings.Repeat("新", 40), msgs[0].Text())
}

func TestTruncateToBudget(t *testing.T) {
	t.Parallel()

	msgs := []*Message{
		NewMessage("user", strings.Repeat("a", 40)),  // ~20 tokens
		NewMessage("model", strings.Repeat("b", 40)), // ~20 tokens
		NewMessage("user", strings.Repeat("c", 20)),  // ~10 tokens
	}

	kept := truncateToBudget(msgs, 30)
	require.Len(t, kept, 2)
	assert.Equal(t, strings.Repeat("b", 40), kept[0].Text())

	// Budget below the newest message still keeps it.
	kept = truncateToBudget(msgs, 1)
	require.Len(t, kept, 1)
	assert.Equal(t, strings.Repeat("c", 20), kept[0].Text())

	assert.Empty(t, truncateToBudget(nil, 100))
}

func TestStore_AcquireSerializesPerIdentity(t *testing.T) {
	t.Parallel()

	store := New(NewMemQuerier(), log.NewNop())

	// A read-yield-write cycle under the keyed lock loses updates if two
	// goroutines ever hold it at once.
	var (
		wg      sync.WaitGroup
		counter int
	)
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release := store.Acquire("same")
			defer release()

			v := counter
			runtime.Gosched()
			counter = v + 1
		}()
	}
	wg.Wait()

	assert.Equal(t, 16, counter)
}

func TestEstimateTokens(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 2, EstimateTokens("你好世界"))
	assert.Equal(t, 5, EstimateTokens("hello world")) // 11 runes
}

func TestToModelMessages(t *testing.T) {
	t.Parallel()

	msgs := []*Message{
		NewMessage("user", "问"),
		NewMessage("model", "答"),
	}
	converted := ToModelMessages(msgs)
	require.Len(t, converted, 2)
	assert.Equal(t, "user", string(converted[0].Role))
	assert.Equal(t, "问", converted[0].Text())
}
