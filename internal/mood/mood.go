// Package mood classifies the emotional tone of a user utterance.
//
// The classification is a single short model call and is best-effort only:
// any failure, timeout, or out-of-set answer degrades to Default. A reading
// never fails because the mood call failed.
package mood

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
)

// Label is one mood from the fixed enumerated set.
type Label string

// The full label set. Anything else returned by the model maps to Default.
const (
	Default       Label = "default"
	Depressed     Label = "depressed"
	Happy         Label = "happy"
	Neutral       Label = "neutral"
	Unknown       Label = "unknown"
	Abusive       Label = "abusive"
	Inappropriate Label = "inappropriate"
	Sensitive     Label = "sensitive"
)

// Profile pairs the tone directive injected into the persona prompt with the
// TTS voice style used for the spoken reply.
type Profile struct {
	Tone       string
	VoiceStyle string
}

var profiles = map[Label]Profile{
	Default:       {Tone: "亲切友善的交流者，保持适度热情与专业态度。", VoiceStyle: "chat"},
	Depressed:     {Tone: "展现共情与理解，用温和舒缓的语气回应，给予情感支持。", VoiceStyle: "friendly"},
	Happy:         {Tone: "用轻松活泼的语气回应，分享积极情绪，适当使用幽默表达。", VoiceStyle: "happy"},
	Neutral:       {Tone: "保持客观理性，语言简洁明了，专注信息准确传递。", VoiceStyle: "chat"},
	Unknown:       {Tone: "以开放包容的态度交流，温和提问逐步了解用户状态。", VoiceStyle: "chat"},
	Abusive:       {Tone: "保持冷静克制，提醒沟通边界，引导理性表达。", VoiceStyle: "chat"},
	Inappropriate: {Tone: "委婉表示无法回应不适内容，引导对话回到合适方向。", VoiceStyle: "chat"},
	Sensitive:     {Tone: "保持谨慎尊重，避免争议，引导理性平和讨论。", VoiceStyle: "chat"},
}

// Valid reports whether l is a member of the enumerated set.
func (l Label) Valid() bool {
	_, ok := profiles[l]
	return ok
}

// Profile returns the tone/voice pair for l, falling back to Default for
// labels outside the set.
func (l Label) Profile() Profile {
	if p, ok := profiles[l]; ok {
		return p
	}
	return profiles[Default]
}

// Normalize trims and lowercases a raw model answer and maps it into the
// label set. Out-of-set values become Default.
func Normalize(raw string) Label {
	l := Label(strings.ToLower(strings.TrimSpace(raw)))
	if l.Valid() {
		return l
	}
	return Default
}

// classifyTimeout bounds the classification call. Classification is short and
// optional, so it gets a much tighter deadline than the reasoning loop.
const classifyTimeout = 8 * time.Second

const classifyPrompt = `根据用户输入判断情绪，只返回一个标签：
负面情绪返回"depressed"，正面情绪返回"happy"，中性内容返回"neutral"，
无法判断返回"unknown"，辱骂攻击返回"abusive"，色情暴力返回"inappropriate"，
涉及敏感信息返回"sensitive"。
只返回标签本身，不要解释。
用户输入：%s`

// Classifier turns raw user text into a Label via one model call.
type Classifier struct {
	g         *genkit.Genkit
	modelName string
	logger    *slog.Logger
}

// NewClassifier creates a Classifier. modelName may be empty to use the
// provider default.
func NewClassifier(g *genkit.Genkit, modelName string, logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{g: g, modelName: modelName, logger: logger}
}

// Classify returns the mood label for text. It never returns an error:
// provider failures and unexpected answers degrade to Default and are
// logged.
func (c *Classifier) Classify(ctx context.Context, text string) Label {
	ctx, cancel := context.WithTimeout(ctx, classifyTimeout)
	defer cancel()

	opts := []ai.GenerateOption{
		ai.WithPrompt(classifyPrompt, text),
	}
	if c.modelName != "" {
		opts = append(opts, ai.WithModelName(c.modelName))
	}

	resp, err := genkit.Generate(ctx, c.g, opts...)
	if err != nil {
		c.logger.Warn("mood classification failed, using default", "error", err)
		return Default
	}

	label := Normalize(resp.Text())
	c.logger.Debug("classified mood", "label", label)
	return label
}
