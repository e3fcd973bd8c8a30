package tools

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"

	"github.com/koopa0/banxian/internal/fortune"
)

// Extractor pulls structured parameters out of free-form user text.
type Extractor interface {
	// BirthDetails extracts chart parameters. missing lists the
	// human-readable names of fields the user has not provided yet.
	BirthDetails(ctx context.Context, query string) (params fortune.BaziParams, missing []string, err error)

	// DreamKeywords extracts at most three keywords describing a dream.
	DreamKeywords(ctx context.Context, query string) ([]string, error)
}

// birthDetailsOutput is the structured output schema for chart extraction.
type birthDetailsOutput struct {
	Name         string `json:"name" jsonschema_description:"姓名"`
	Sex          int    `json:"sex" jsonschema_description:"性别，0男1女，未提供时根据姓名判断"`
	CalendarType int    `json:"type" jsonschema_description:"0农历，1公历，默认1"`
	Year         int    `json:"year" jsonschema_description:"出生年份，未提供填0"`
	Month        int    `json:"month" jsonschema_description:"出生月份，未提供填0"`
	Day          int    `json:"day" jsonschema_description:"出生日期，未提供填0"`
	Hour         int    `json:"hours" jsonschema_description:"出生小时，默认0"`
	Minute       int    `json:"minute" jsonschema_description:"出生分钟，默认0"`
}

type dreamKeywordsOutput struct {
	Keywords []string `json:"keywords" jsonschema_description:"最多3个梦境关键词"`
}

const birthDetailsPrompt = `根据用户输入提取八字排盘参数。
性别未提供时根据姓名判断，历法默认公历，小时分钟默认0。
无法确定的数字字段填0。
用户输入：%s`

const dreamKeywordsPrompt = `提取梦境关键词，最多返回3个。
例如："梦见"、"可爱的"、"婴儿"。
用户输入：%s`

// ModelExtractor implements Extractor with structured model output.
type ModelExtractor struct {
	g         *genkit.Genkit
	modelName string
	logger    *slog.Logger
}

// NewModelExtractor creates a ModelExtractor. modelName may be empty to use
// the provider default.
func NewModelExtractor(g *genkit.Genkit, modelName string, logger *slog.Logger) *ModelExtractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &ModelExtractor{g: g, modelName: modelName, logger: logger}
}

func (e *ModelExtractor) BirthDetails(ctx context.Context, query string) (fortune.BaziParams, []string, error) {
	opts := []ai.GenerateOption{
		ai.WithPrompt(birthDetailsPrompt, query),
		ai.WithOutputType(birthDetailsOutput{}),
	}
	if e.modelName != "" {
		opts = append(opts, ai.WithModelName(e.modelName))
	}

	resp, err := genkit.Generate(ctx, e.g, opts...)
	if err != nil {
		return fortune.BaziParams{}, nil, fmt.Errorf("extract birth details: %w", err)
	}

	var out birthDetailsOutput
	if err := resp.Output(&out); err != nil {
		return fortune.BaziParams{}, nil, fmt.Errorf("decode birth details: %w", err)
	}

	params := fortune.BaziParams{
		Name:         strings.TrimSpace(out.Name),
		Sex:          out.Sex,
		CalendarType: out.CalendarType,
		Year:         out.Year,
		Month:        out.Month,
		Day:          out.Day,
		Hour:         out.Hour,
		Minute:       out.Minute,
	}
	return params, missingBirthFields(params), nil
}

func (e *ModelExtractor) DreamKeywords(ctx context.Context, query string) ([]string, error) {
	opts := []ai.GenerateOption{
		ai.WithPrompt(dreamKeywordsPrompt, query),
		ai.WithOutputType(dreamKeywordsOutput{}),
	}
	if e.modelName != "" {
		opts = append(opts, ai.WithModelName(e.modelName))
	}

	resp, err := genkit.Generate(ctx, e.g, opts...)
	if err != nil {
		return nil, fmt.Errorf("extract dream keywords: %w", err)
	}

	var out dreamKeywordsOutput
	if err := resp.Output(&out); err != nil {
		return nil, fmt.Errorf("decode dream keywords: %w", err)
	}
	return normalizeKeywords(out.Keywords), nil
}

// missingBirthFields names the chart fields still absent from params.
func missingBirthFields(p fortune.BaziParams) []string {
	var missing []string
	if p.Name == "" {
		missing = append(missing, "姓名")
	}
	if p.Year == 0 {
		missing = append(missing, "出生年份")
	}
	if p.Month == 0 {
		missing = append(missing, "出生月份")
	}
	if p.Day == 0 {
		missing = append(missing, "出生日期")
	}
	return missing
}

// normalizeKeywords trims, drops empties, and caps the list at three.
func normalizeKeywords(raw []string) []string {
	out := make([]string, 0, 3)
	for _, k := range raw {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		out = append(out, k)
		if len(out) == 3 {
			break
		}
	}
	return out
}
