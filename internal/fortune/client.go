// Package fortune is a client for the divination provider's REST API.
//
// The provider exposes form-encoded POST endpoints sharing a common response
// envelope: errcode zero means success and data carries the payload, anything
// else is a provider-side failure described by msg.
package fortune

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// DefaultBaseURL is the production API root.
const DefaultBaseURL = "https://api.yuanfenju.com/index.php/v1"

const defaultTimeout = 15 * time.Second

// Endpoint paths under the API root.
const (
	pathBaziChart = "/Bazi/paipan"
	pathDailyDraw = "/Zhanbu/meiri"
	pathDream     = "/Gongju/zhougong"
)

// APIError is a provider-reported failure (non-zero errcode).
type APIError struct {
	Code int
	Msg  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("fortune api error %d: %s", e.Code, e.Msg)
}

// Client calls the divination API.
//
// Client is safe for concurrent use.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides DefaultBaseURL, mainly for tests.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient supplies a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger supplies a logger. Default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a Client authenticated with apiKey.
func NewClient(apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL:    DefaultBaseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: defaultTimeout},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaziParams are the birth details needed to cast a chart. Sex is 0 for male
// and 1 for female; CalendarType is 0 for lunar and 1 for gregorian.
type BaziParams struct {
	Name         string
	Sex          int
	CalendarType int
	Year         int
	Month        int
	Day          int
	Hour         int
	Minute       int
}

// Validate checks that the birth details are complete enough to cast.
func (p BaziParams) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("name is required")
	}
	if p.Year < 1900 || p.Year > 2100 {
		return fmt.Errorf("year %d out of range", p.Year)
	}
	if p.Month < 1 || p.Month > 12 {
		return fmt.Errorf("month %d out of range", p.Month)
	}
	if p.Day < 1 || p.Day > 31 {
		return fmt.Errorf("day %d out of range", p.Day)
	}
	if p.Hour < 0 || p.Hour > 23 {
		return fmt.Errorf("hour %d out of range", p.Hour)
	}
	return nil
}

// BaziChart casts a birth chart and returns its eight-characters string.
func (c *Client) BaziChart(ctx context.Context, p BaziParams) (string, error) {
	if err := p.Validate(); err != nil {
		return "", fmt.Errorf("invalid chart params: %w", err)
	}

	form := url.Values{
		"name":   {p.Name},
		"sex":    {strconv.Itoa(p.Sex)},
		"type":   {strconv.Itoa(p.CalendarType)},
		"year":   {strconv.Itoa(p.Year)},
		"month":  {strconv.Itoa(p.Month)},
		"day":    {strconv.Itoa(p.Day)},
		"hours":  {strconv.Itoa(p.Hour)},
		"minute": {strconv.Itoa(p.Minute)},
	}

	data, err := c.post(ctx, pathBaziChart, form)
	if err != nil {
		return "", err
	}

	var payload struct {
		BaziInfo struct {
			Bazi string `json:"bazi"`
		} `json:"bazi_info"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return "", fmt.Errorf("decode chart payload: %w", err)
	}
	if payload.BaziInfo.Bazi == "" {
		return "", fmt.Errorf("chart payload missing bazi field")
	}
	return payload.BaziInfo.Bazi, nil
}

// DailyDraw pulls today's divination lot and returns its text.
func (c *Client) DailyDraw(ctx context.Context) (string, error) {
	data, err := c.post(ctx, pathDailyDraw, url.Values{})
	if err != nil {
		return "", err
	}
	return renderData(data), nil
}

// InterpretDream looks up dream symbolism for up to three keywords.
func (c *Client) InterpretDream(ctx context.Context, keywords []string) (string, error) {
	if len(keywords) == 0 {
		return "", fmt.Errorf("at least one dream keyword is required")
	}
	if len(keywords) > 3 {
		keywords = keywords[:3]
	}

	form := url.Values{
		"title_zhougong": {strings.Join(keywords, ",")},
	}
	data, err := c.post(ctx, pathDream, form)
	if err != nil {
		return "", err
	}
	return renderData(data), nil
}

// post sends a form-encoded request and unwraps the response envelope.
func (c *Client) post(ctx context.Context, path string, form url.Values) (json.RawMessage, error) {
	form.Set("api_key", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", path, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("call %s: unexpected status %d", path, resp.StatusCode)
	}

	var env struct {
		ErrCode *int            `json:"errcode"`
		Msg     string          `json:"msg"`
		Data    json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode %s envelope: %w", path, err)
	}
	if env.ErrCode == nil {
		return nil, fmt.Errorf("decode %s envelope: missing errcode", path)
	}
	if *env.ErrCode != 0 {
		c.logger.Warn("fortune api failure", "path", path, "errcode", *env.ErrCode, "msg", env.Msg)
		return nil, &APIError{Code: *env.ErrCode, Msg: env.Msg}
	}
	if len(env.Data) == 0 {
		return nil, fmt.Errorf("call %s: envelope has no data", path)
	}
	return env.Data, nil
}

// renderData flattens a data payload to display text. Strings pass through;
// structured payloads are rendered as compact key-value lines.
func renderData(data json.RawMessage) string {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return s
	}

	var m map[string]any
	if err := json.Unmarshal(data, &m); err == nil {
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		var b strings.Builder
		for _, k := range keys {
			if b.Len() > 0 {
				b.WriteString("\n")
			}
			fmt.Fprintf(&b, "%s: %v", k, m[k])
		}
		return b.String()
	}
	return string(data)
}
