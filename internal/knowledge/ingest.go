package knowledge

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-shiori/go-readability"
	"github.com/google/uuid"
)

// urlValidator guards outbound fetches against SSRF.
type urlValidator interface {
	ValidateURL(url string) error
	CreateSafeHTTPClient() *http.Client
	MaxResponseSize() int64
}

// Ingestor pulls a web page, extracts its readable text, chunks it, and
// stores the chunks.
type Ingestor struct {
	store     *Store
	validator urlValidator
	chunkSize int
	overlap   int
	logger    *slog.Logger
}

// NewIngestor creates an Ingestor writing into store. logger may be nil.
func NewIngestor(store *Store, validator urlValidator, logger *slog.Logger) *Ingestor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingestor{
		store:     store,
		validator: validator,
		chunkSize: DefaultChunkSize,
		overlap:   DefaultChunkOverlap,
		logger:    logger,
	}
}

// IngestURL fetches rawURL, extracts article text, and stores it in chunks.
// It returns the number of chunks stored. A page with no extractable text
// fails with ErrNoContent.
func (in *Ingestor) IngestURL(ctx context.Context, rawURL string) (int, error) {
	if err := in.validator.ValidateURL(rawURL); err != nil {
		return 0, fmt.Errorf("url rejected: %w", err)
	}

	body, err := in.fetch(ctx, rawURL)
	if err != nil {
		return 0, err
	}

	text := in.extract(rawURL, body)
	if strings.TrimSpace(text) == "" {
		return 0, fmt.Errorf("%w from %s", ErrNoContent, rawURL)
	}

	chunks := SplitText(text, in.chunkSize, in.overlap)
	for i, chunk := range chunks {
		doc := Document{
			ID:      uuid.New().String(),
			Content: chunk,
			Metadata: map[string]string{
				"source": rawURL,
				"chunk":  fmt.Sprintf("%d/%d", i+1, len(chunks)),
			},
		}
		if err := in.store.Add(ctx, doc); err != nil {
			return i, fmt.Errorf("store chunk %d of %d: %w", i+1, len(chunks), err)
		}
	}

	in.logger.Info("ingested url", "url", rawURL, "chunks", len(chunks), "text_length", len(text))
	return len(chunks), nil
}

func (in *Ingestor) fetch(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}

	resp, err := in.validator.CreateSafeHTTPClient().Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch %s: unexpected status %d", rawURL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, in.validator.MaxResponseSize()))
	if err != nil {
		return "", fmt.Errorf("read %s: %w", rawURL, err)
	}
	return string(body), nil
}

// extract prefers readability article extraction and falls back to stripping
// the raw DOM when the page has no article structure.
func (in *Ingestor) extract(rawURL, html string) string {
	pageURL, _ := url.Parse(rawURL)

	article, err := readability.FromReader(strings.NewReader(html), pageURL)
	if err == nil && strings.TrimSpace(article.TextContent) != "" {
		return article.TextContent
	}
	if err != nil {
		in.logger.Debug("readability extraction failed, falling back", "url", rawURL, "error", err)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}
	doc.Find("script, style, noscript, nav, header, footer").Remove()
	return strings.TrimSpace(doc.Find("body").Text())
}
