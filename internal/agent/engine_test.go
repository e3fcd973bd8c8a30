package agent

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koopa0/banxian/internal/log"
)

// scriptedEngine builds an Engine backed by a registered model whose
// responses come from fn. Each test gets its own Genkit registry.
func scriptedEngine(t *testing.T, cfg EngineConfig, fn func(req *ai.ModelRequest) (*ai.ModelResponse, error)) *Engine {
	t.Helper()

	g := genkit.Init(context.Background())
	genkit.DefineModel(g, "scripted/model", &ai.ModelOptions{
		Label: "Scripted Model",
		Supports: &ai.ModelSupports{
			Multiturn:  true,
			Tools:      true,
			SystemRole: true,
		},
	}, func(_ context.Context, req *ai.ModelRequest, _ ai.ModelStreamCallback) (*ai.ModelResponse, error) {
		return fn(req)
	})

	cfg.Genkit = g
	cfg.ModelName = "scripted/model"
	cfg.Logger = log.NewNop()
	e, err := NewEngine(cfg)
	require.NoError(t, err)
	return e
}

func modelReply(req *ai.ModelRequest, text string) *ai.ModelResponse {
	return &ai.ModelResponse{
		Request: req,
		Message: &ai.Message{Role: ai.RoleModel, Content: []*ai.Part{ai.NewTextPart(text)}},
	}
}

// fastRetry keeps backoff delays out of test runtime.
func fastRetry(maxRetries int) RetryConfig {
	return RetryConfig{
		MaxRetries:      maxRetries,
		InitialInterval: time.Millisecond,
		MaxInterval:     time.Millisecond,
	}
}

func TestEngine_Run(t *testing.T) {
	t.Parallel()

	var sawInput atomic.Bool
	e := scriptedEngine(t, EngineConfig{Retry: fastRetry(0)},
		func(req *ai.ModelRequest) (*ai.ModelResponse, error) {
			last := req.Messages[len(req.Messages)-1]
			if last.Role == ai.RoleUser && last.Text() == "今日运势如何" {
				sawInput.Store(true)
			}
			return modelReply(req, "紫气东来，诸事皆宜。"), nil
		})

	result, err := e.Run(context.Background(), "你是黄半仙", nil, "今日运势如何")
	require.NoError(t, err)
	assert.Equal(t, "紫气东来，诸事皆宜。", result.Answer)
	assert.Empty(t, result.Trace)
	assert.True(t, sawInput.Load())
}

func TestEngine_Run_EmptyResponseFallsBack(t *testing.T) {
	t.Parallel()

	e := scriptedEngine(t, EngineConfig{Retry: fastRetry(0)},
		func(req *ai.ModelRequest) (*ai.ModelResponse, error) {
			return modelReply(req, "   "), nil
		})

	result, err := e.Run(context.Background(), "system", nil, "问")
	require.NoError(t, err)
	assert.Equal(t, FallbackAnswer, result.Answer)
}

func TestEngine_Run_RetriesTransientFailure(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	e := scriptedEngine(t, EngineConfig{Retry: fastRetry(2)},
		func(req *ai.ModelRequest) (*ai.ModelResponse, error) {
			if calls.Add(1) == 1 {
				return nil, errors.New("503 service unavailable")
			}
			return modelReply(req, "卦象已成"), nil
		})

	result, err := e.Run(context.Background(), "system", nil, "问")
	require.NoError(t, err)
	assert.Equal(t, "卦象已成", result.Answer)
	assert.Equal(t, int32(2), calls.Load())
}

func TestEngine_Run_NonRetryableFailsFast(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	e := scriptedEngine(t, EngineConfig{Retry: fastRetry(3)},
		func(*ai.ModelRequest) (*ai.ModelResponse, error) {
			calls.Add(1)
			return nil, errors.New("invalid api key")
		})

	_, err := e.Run(context.Background(), "system", nil, "问")
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestEngine_Run_BreakerRejectsAfterFailures(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	e := scriptedEngine(t, EngineConfig{
		Retry:   fastRetry(0),
		Breaker: CircuitBreakerConfig{FailureThreshold: 1},
	}, func(*ai.ModelRequest) (*ai.ModelResponse, error) {
		calls.Add(1)
		return nil, errors.New("invalid request")
	})

	_, err := e.Run(context.Background(), "system", nil, "问")
	require.Error(t, err)

	_, err = e.Run(context.Background(), "system", nil, "再问")
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, int32(1), calls.Load())
}

func TestEngine_Run_HistoryNotMutated(t *testing.T) {
	t.Parallel()

	history := []*ai.Message{
		ai.NewUserMessage(ai.NewTextPart("我叫张三")),
		{Role: ai.RoleModel, Content: []*ai.Part{ai.NewTextPart("幸会")}},
	}
	e := scriptedEngine(t, EngineConfig{Retry: fastRetry(0)},
		func(req *ai.ModelRequest) (*ai.ModelResponse, error) {
			return modelReply(req, "好"), nil
		})

	_, err := e.Run(context.Background(), "system", history, "问")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "我叫张三", history[0].Content[0].Text)
	assert.Equal(t, "幸会", history[1].Content[0].Text)
}
