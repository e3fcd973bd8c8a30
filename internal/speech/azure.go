// Package speech synthesizes spoken answers through the Azure Cognitive
// Services TTS REST API and runs synthesis as detached background jobs so
// the chat path never waits on audio.
package speech

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	// DefaultVoice is the multilingual Mandarin voice used for all answers.
	DefaultVoice = "zh-CN-XiaoxiaoMultilingualNeural"

	// DefaultRegion is the Azure region when none is configured.
	DefaultRegion = "eastus"

	// outputFormat is the requested audio encoding.
	outputFormat = "audio-16khz-32kbitrate-mono-mp3"

	userAgent = "banxian-tts-client"

	synthesizeTimeout = 20 * time.Second
)

// Synthesizer calls the Azure TTS endpoint and returns MP3 bytes.
type Synthesizer struct {
	endpoint   string
	key        string
	voice      string
	httpClient *http.Client
	logger     *slog.Logger
}

// SynthesizerOption customizes a Synthesizer.
type SynthesizerOption func(*Synthesizer)

// WithEndpoint overrides the regional endpoint URL. Used by tests.
func WithEndpoint(url string) SynthesizerOption {
	return func(s *Synthesizer) { s.endpoint = url }
}

// WithVoice overrides the synthesis voice.
func WithVoice(voice string) SynthesizerOption {
	return func(s *Synthesizer) { s.voice = voice }
}

// WithTTSHTTPClient overrides the HTTP client, e.g. to route through a proxy.
func WithTTSHTTPClient(c *http.Client) SynthesizerOption {
	return func(s *Synthesizer) { s.httpClient = c }
}

// NewSynthesizer creates a Synthesizer for the given subscription key and
// region. An empty region falls back to DefaultRegion.
func NewSynthesizer(key, region string, logger *slog.Logger, opts ...SynthesizerOption) *Synthesizer {
	if region == "" {
		region = DefaultRegion
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Synthesizer{
		endpoint:   fmt.Sprintf("https://%s.tts.speech.microsoft.com/cognitiveservices/v1", region),
		key:        key,
		voice:      DefaultVoice,
		httpClient: &http.Client{Timeout: synthesizeTimeout},
		logger:     logger.With("component", "speech"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Synthesize renders text to MP3 audio. style selects the mstts express-as
// speaking style (for example "chat", "friendly", "happy").
func (s *Synthesizer) Synthesize(ctx context.Context, text, style string) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("synthesize: empty text")
	}
	if style == "" {
		style = "chat"
	}

	body := buildSSML(s.voice, style, text)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build tts request: %w", err)
	}
	req.Header.Set("Ocp-Apim-Subscription-Key", s.key)
	req.Header.Set("Content-Type", "application/ssml+xml")
	req.Header.Set("X-Microsoft-OutputFormat", outputFormat)
	req.Header.Set("User-Agent", userAgent)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call tts endpoint: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("tts endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read tts response: %w", err)
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("tts endpoint returned empty audio")
	}

	s.logger.Debug("synthesized audio", "style", style, "bytes", len(audio))
	return audio, nil
}

// buildSSML renders the SSML document. Text is escaped for XML content;
// the express-as role keeps the young female timbre across styles.
func buildSSML(voice, style, text string) string {
	escaped := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;").Replace(text)
	var b strings.Builder
	b.WriteString(`<speak version="1.0" xmlns="http://www.w3.org/2001/10/synthesis" xmlns:mstts="http://www.w3.org/2001/mstts" xml:lang="zh-CN">`)
	b.WriteString(`<voice name="` + voice + `">`)
	b.WriteString(`<mstts:express-as style="` + style + `" role="YoungFemale">`)
	b.WriteString(escaped)
	b.WriteString(`</mstts:express-as></voice></speak>`)
	return b.String()
}
