package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"

	"github.com/koopa0/banxian/internal/mood"
	"github.com/koopa0/banxian/internal/persona"
	"github.com/koopa0/banxian/internal/session"
)

// summaryInstruction yields a pipe-delimited reduction: a short digest, then
// the key user facts worth keeping across compaction.
const summaryInstruction = "总结对话记忆，提取用户关键信息（姓名、生日等）。\n以如下形式返回：总结摘要|用户关键信息"

// HistorySummarizer condenses a conversation into one summary line. It
// implements the session store's Summarizer.
type HistorySummarizer struct {
	g         *genkit.Genkit
	modelName string
	logger    *slog.Logger
}

// NewHistorySummarizer creates a HistorySummarizer. modelName may be empty.
func NewHistorySummarizer(g *genkit.Genkit, modelName string, logger *slog.Logger) *HistorySummarizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &HistorySummarizer{g: g, modelName: modelName, logger: logger}
}

// Summarize reduces msgs to the pipe-delimited summary format.
func (s *HistorySummarizer) Summarize(ctx context.Context, msgs []*session.Message) (string, error) {
	if len(msgs) == 0 {
		return "", fmt.Errorf("nothing to summarize")
	}

	opts := []ai.GenerateOption{
		ai.WithSystem(persona.Build(mood.Default).System() + "\n" + summaryInstruction),
		ai.WithPrompt(formatTranscript(msgs)),
	}
	if s.modelName != "" {
		opts = append(opts, ai.WithModelName(s.modelName))
	}

	resp, err := genkit.Generate(ctx, s.g, opts...)
	if err != nil {
		return "", fmt.Errorf("summarize history: %w", err)
	}

	summary := strings.TrimSpace(resp.Text())
	if summary == "" {
		return "", fmt.Errorf("summarizer returned empty text")
	}
	s.logger.Debug("summarized history", "messages", len(msgs), "summary_length", len(summary))
	return summary, nil
}

// formatTranscript renders stored messages as speaker-prefixed lines.
func formatTranscript(msgs []*session.Message) string {
	var b strings.Builder
	for _, m := range msgs {
		switch m.Role {
		case "user":
			b.WriteString("用户：")
		case "model", "assistant":
			b.WriteString(persona.Name + "：")
		default:
			b.WriteString(m.Role + "：")
		}
		b.WriteString(m.Text())
		b.WriteString("\n")
	}
	return b.String()
}
