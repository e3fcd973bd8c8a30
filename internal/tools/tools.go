// Package tools defines the model-callable tools of the fortune teller.
//
// Five tools are registered: web search, local knowledge lookup, birth chart
// casting, daily divination, and dream interpretation. Provider-side
// failures surface as user-facing text rather than errors so the model can
// relay them and continue the conversation.
package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"

	"github.com/koopa0/banxian/internal/fortune"
	"github.com/koopa0/banxian/internal/knowledge"
)

// Diviner is the slice of the fortune client the tools use.
type Diviner interface {
	BaziChart(ctx context.Context, p fortune.BaziParams) (string, error)
	DailyDraw(ctx context.Context) (string, error)
	InterpretDream(ctx context.Context, keywords []string) (string, error)
}

// Searcher performs a live web search.
type Searcher interface {
	Search(ctx context.Context, query string) (string, error)
}

// Retriever looks up stored reference material.
type Retriever interface {
	Search(ctx context.Context, query string, opts ...knowledge.SearchOption) ([]*knowledge.Result, error)
}

// Toolset bundles the dependencies behind the registered tools.
type Toolset struct {
	diviner   Diviner
	searcher  Searcher
	retriever Retriever
	extractor Extractor
	logger    *slog.Logger
}

// NewToolset creates a Toolset. Any dependency may be nil, in which case the
// corresponding tool reports unavailability instead of being dropped, so the
// model always sees a stable tool surface.
func NewToolset(d Diviner, s Searcher, r Retriever, e Extractor, logger *slog.Logger) *Toolset {
	if logger == nil {
		logger = slog.Default()
	}
	return &Toolset{diviner: d, searcher: s, retriever: r, extractor: e, logger: logger}
}

// Register defines all tools on g and returns their refs for generation.
func (t *Toolset) Register(g *genkit.Genkit) []ai.ToolRef {
	refs := []ai.ToolRef{
		genkit.DefineTool(g, "web_search",
			"只有需要了解实时信息或者不知道的事情时才会使用这个工具",
			t.WebSearch),
		genkit.DefineTool(g, "local_knowledge",
			"只有回答与2025年运势或者2025年相关问题才使用这个工具，从本地知识库中获取信息",
			t.LocalKnowledge),
		genkit.DefineTool(g, "bazi_reading",
			"只有做八字排盘的时候才会使用到这个工具，需要输入用户姓名和出生年月日时，如果缺少则不可用",
			t.BaziReading),
		genkit.DefineTool(g, "daily_divination",
			"只有用户想要每日占卜抽签的时候才会使用到这个工具，其他时候不可用",
			t.DailyDivination),
		genkit.DefineTool(g, "dream_reading",
			"只有用户想要解梦的时候才会使用，需要输入梦境内容，缺少则不可用",
			t.DreamReading),
	}
	t.logger.Info("registered tools", "count", len(refs))
	return refs
}

// QueryInput is the single-string input shared by query-shaped tools.
type QueryInput struct {
	Query string `json:"query" jsonschema_description:"用户的问题或描述"`
}

// EmptyInput is used by tools that take no arguments.
type EmptyInput struct{}

// WebSearch performs a live search for current information.
func (t *Toolset) WebSearch(ctx *ai.ToolContext, input QueryInput) (string, error) {
	if t.searcher == nil {
		return "搜索服务未配置，无法查询实时信息", nil
	}

	result, err := t.searcher.Search(ctx, input.Query)
	if err != nil {
		t.logger.Warn("web search failed", "query", input.Query, "error", err)
		return fmt.Sprintf("搜索失败：%v，请尝试其他问题", err), nil
	}
	t.logger.Debug("web search succeeded", "query", input.Query, "result_length", len(result))
	return result, nil
}

// LocalKnowledge retrieves stored reference material for the query.
func (t *Toolset) LocalKnowledge(ctx *ai.ToolContext, input QueryInput) (string, error) {
	if t.retriever == nil {
		return "本地知识库未配置", nil
	}

	results, err := t.retriever.Search(ctx, input.Query, knowledge.WithTopK(3))
	if err != nil {
		t.logger.Warn("knowledge lookup failed", "query", input.Query, "error", err)
		return fmt.Sprintf("知识库查询失败：%v", err), nil
	}
	if len(results) == 0 {
		return "本地知识库中未找到相关信息", nil
	}

	lines := make([]string, 0, len(results))
	for _, r := range results {
		content := r.Content
		if runes := []rune(content); len(runes) > 300 {
			content = string(runes[:300]) + "..."
		}
		lines = append(lines, "知识库信息："+content)
	}
	return strings.Join(lines, "\n\n"), nil
}

// BaziReading extracts birth details from the query and casts a chart.
func (t *Toolset) BaziReading(ctx *ai.ToolContext, input QueryInput) (string, error) {
	if t.diviner == nil {
		return "排盘服务未配置", nil
	}
	if t.extractor == nil {
		return "排盘服务未配置", nil
	}

	params, missing, err := t.extractor.BirthDetails(ctx, input.Query)
	if err != nil {
		t.logger.Warn("birth detail extraction failed", "error", err)
		return "无法识别出生信息，请提供姓名和出生年月日时", nil
	}
	if len(missing) > 0 {
		return "八字排盘还需要补充以下信息：" + strings.Join(missing, "、"), nil
	}

	bazi, err := t.diviner.BaziChart(ctx, params)
	if err != nil {
		t.logger.Warn("bazi chart failed", "error", err)
		var apiErr *fortune.APIError
		if errors.As(err, &apiErr) {
			return "八字排盘失败：" + apiErr.Msg, nil
		}
		return "八字排盘失败，网络异常，请稍后重试", nil
	}
	return "八字为：" + bazi, nil
}

// DailyDivination draws today's lot.
func (t *Toolset) DailyDivination(ctx *ai.ToolContext, _ EmptyInput) (string, error) {
	if t.diviner == nil {
		return "占卜服务未配置", nil
	}

	result, err := t.diviner.DailyDraw(ctx)
	if err != nil {
		t.logger.Warn("daily draw failed", "error", err)
		var apiErr *fortune.APIError
		if errors.As(err, &apiErr) {
			return "每日占卜失败：" + apiErr.Msg, nil
		}
		return "每日占卜失败，网络异常，请稍后重试", nil
	}
	return result, nil
}

// DreamReading extracts dream keywords and looks up their symbolism.
func (t *Toolset) DreamReading(ctx *ai.ToolContext, input QueryInput) (string, error) {
	if t.diviner == nil || t.extractor == nil {
		return "解梦服务未配置", nil
	}

	keywords, err := t.extractor.DreamKeywords(ctx, input.Query)
	if err != nil || len(keywords) == 0 {
		t.logger.Warn("dream keyword extraction failed", "error", err)
		return "无法识别梦境内容，请重新描述梦境", nil
	}

	result, err := t.diviner.InterpretDream(ctx, keywords)
	if err != nil {
		t.logger.Warn("dream lookup failed", "keywords", keywords, "error", err)
		var apiErr *fortune.APIError
		if errors.As(err, &apiErr) {
			return "解梦失败：" + apiErr.Msg, nil
		}
		return "解梦失败，网络异常，请稍后重试", nil
	}
	return "梦境解析结果：" + result, nil
}
