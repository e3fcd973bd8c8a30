// Package agent runs the tool-augmented reasoning loop and orchestrates a
// full conversational turn per user identity.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"strings"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"golang.org/x/time/rate"
)

// FallbackAnswer is returned when the loop produces no usable output.
const FallbackAnswer = "很抱歉，暂时无法为您提供算卦解答~"

// defaultMaxTurns bounds tool-call iterations within one reasoning turn.
const defaultMaxTurns = 5

// Result is one completed reasoning turn.
type Result struct {
	Answer string
	Trace  []ToolInvocation
}

// EngineConfig assembles an Engine.
type EngineConfig struct {
	Genkit    *genkit.Genkit
	ModelName string       // provider-qualified, empty uses the default
	Tools     []ai.ToolRef // registered tool refs
	MaxTurns  int
	Retry     RetryConfig
	Breaker   CircuitBreakerConfig
	// RPS caps outbound generate calls per second. Zero disables limiting.
	RPS    float64
	Logger *slog.Logger
}

// Engine drives the bounded tool-calling loop against the model provider.
// The provider resolves tool calls internally up to MaxTurns; the Engine
// adds resilience (retry, circuit breaking, rate limiting) and trace
// extraction on top.
//
// Engine is stateless across calls and safe for concurrent use.
type Engine struct {
	g         *genkit.Genkit
	modelName string
	toolRefs  []ai.ToolRef
	maxTurns  int

	retryConfig RetryConfig
	breaker     *CircuitBreaker
	limiter     *rate.Limiter

	logger *slog.Logger
}

// NewEngine creates an Engine from cfg.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Genkit == nil {
		return nil, fmt.Errorf("genkit instance is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	maxTurns := cfg.MaxTurns
	if maxTurns <= 0 {
		maxTurns = defaultMaxTurns
	}
	retryCfg := cfg.Retry
	if retryCfg.MaxRetries == 0 && retryCfg.InitialInterval == 0 {
		retryCfg = DefaultRetryConfig()
	}

	var limiter *rate.Limiter
	if cfg.RPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RPS), 1)
	}

	e := &Engine{
		g:           cfg.Genkit,
		modelName:   cfg.ModelName,
		toolRefs:    cfg.Tools,
		maxTurns:    maxTurns,
		retryConfig: retryCfg,
		breaker:     NewCircuitBreaker(cfg.Breaker),
		limiter:     limiter,
		logger:      cfg.Logger,
	}

	e.logger.Info("reasoning engine initialized",
		"tools", len(e.toolRefs), "max_turns", e.maxTurns, "model", e.modelName)
	return e, nil
}

// Run executes one reasoning turn. system is the assembled persona prompt,
// history the prior conversation, input the new user utterance. The returned
// answer is never empty: a blank model response is replaced by
// FallbackAnswer.
func (e *Engine) Run(ctx context.Context, system string, history []*ai.Message, input string) (*Result, error) {
	messages := deepCopyMessages(history)
	messages = append(messages, ai.NewUserMessage(ai.NewTextPart(input)))

	opts := []ai.GenerateOption{
		ai.WithSystem(system),
		ai.WithMessages(messages...),
		ai.WithTools(e.toolRefs...),
		ai.WithMaxTurns(e.maxTurns),
	}
	if e.modelName != "" {
		opts = append(opts, ai.WithModelName(e.modelName))
	}

	if err := e.breaker.Allow(); err != nil {
		e.logger.Warn("circuit breaker rejected turn", "state", e.breaker.State().String())
		return nil, fmt.Errorf("service unavailable: %w", err)
	}

	resp, err := e.generateWithRetry(ctx, opts)
	if err != nil {
		e.breaker.Failure()
		return nil, err
	}
	e.breaker.Success()

	var trace []ToolInvocation
	if resp.Request != nil {
		trace = ExtractTrace(resp.Request.Messages)
	}

	answer := strings.TrimSpace(resp.Text())
	if answer == "" {
		e.logger.Warn("model returned empty response", "tool_calls", len(trace))
		answer = FallbackAnswer
	}

	return &Result{Answer: answer, Trace: trace}, nil
}

// generateWithRetry issues the generate call with exponential backoff on
// transient failures. The rate limiter gates every attempt, not just the
// first.
func (e *Engine) generateWithRetry(ctx context.Context, opts []ai.GenerateOption) (*ai.ModelResponse, error) {
	var lastErr error
	delay := e.retryConfig.InitialInterval
	start := time.Now()

	for attempt := 0; attempt <= e.retryConfig.MaxRetries; attempt++ {
		if e.limiter != nil {
			if err := e.limiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("rate limit wait: %w", err)
			}
		}

		resp, err := genkit.Generate(ctx, e.g, opts...)
		if err == nil {
			e.logger.Debug("generate succeeded",
				"attempts", attempt+1, "elapsed", time.Since(start))
			return resp, nil
		}

		lastErr = err
		if !retryableError(err) {
			return nil, fmt.Errorf("generate: %w", err)
		}
		if attempt == e.retryConfig.MaxRetries {
			break
		}

		e.logger.Debug("retrying generate",
			"attempt", attempt+1, "delay", delay, "error", err)
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("canceled during retry: %w", ctx.Err())
		case <-time.After(delay):
			delay = min(delay*2, e.retryConfig.MaxInterval)
		}
	}

	return nil, fmt.Errorf("generate after %d retries (elapsed %v): %w",
		e.retryConfig.MaxRetries, time.Since(start), lastErr)
}

// deepCopyMessages copies messages down to the part values. The generate
// path mutates message content in place, so history shared with the session
// store must never reach it directly.
func deepCopyMessages(msgs []*ai.Message) []*ai.Message {
	out := make([]*ai.Message, len(msgs))
	for i, m := range msgs {
		parts := make([]*ai.Part, len(m.Content))
		for j, p := range m.Content {
			parts[j] = deepCopyPart(p)
		}
		out[i] = &ai.Message{Role: m.Role, Content: parts, Metadata: maps.Clone(m.Metadata)}
	}
	return out
}

// deepCopyPart copies one part. Tool request inputs and response outputs
// stay shared; the loop treats those payloads as read-only.
func deepCopyPart(p *ai.Part) *ai.Part {
	if p == nil {
		return nil
	}
	cp := &ai.Part{
		Kind:        p.Kind,
		ContentType: p.ContentType,
		Text:        p.Text,
		Custom:      maps.Clone(p.Custom),
		Metadata:    maps.Clone(p.Metadata),
	}
	if p.ToolRequest != nil {
		req := *p.ToolRequest
		cp.ToolRequest = &req
	}
	if p.ToolResponse != nil {
		resp := *p.ToolResponse
		cp.ToolResponse = &resp
	}
	if p.Resource != nil {
		res := *p.Resource
		cp.Resource = &res
	}
	return cp
}
