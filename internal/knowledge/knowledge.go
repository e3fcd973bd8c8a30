// Package knowledge stores domain reference material and serves semantic
// lookups over it.
//
// Documents arrive through URL ingestion, are chunked and embedded, and land
// in PostgreSQL with pgvector. Search embeds the query and ranks chunks by
// cosine similarity.
package knowledge

import (
	"errors"
	"time"
)

// ErrNoContent is returned when an ingested page yields no usable text.
var ErrNoContent = errors.New("knowledge: no content loaded")

// Document is one stored chunk of reference material.
type Document struct {
	ID        string
	Content   string
	Metadata  map[string]string
	CreatedAt time.Time
}

// Result is a search hit with its cosine similarity in [0, 1].
type Result struct {
	Document
	Similarity float64
}

// Search configuration defaults.
const (
	DefaultTopK          = 4
	DefaultSearchTimeout = 10 * time.Second
)

type searchConfig struct {
	topK    int32
	filter  map[string]string
	timeout time.Duration
}

// SearchOption customizes a Search call.
type SearchOption func(*searchConfig)

// WithTopK sets the maximum number of results. Non-positive values keep the
// default.
func WithTopK(k int) SearchOption {
	return func(c *searchConfig) {
		if k > 0 {
			c.topK = int32(k) //nolint:gosec
		}
	}
}

// WithFilter restricts results to documents whose metadata contains the
// given key/value pair.
func WithFilter(key, value string) SearchOption {
	return func(c *searchConfig) {
		if c.filter == nil {
			c.filter = make(map[string]string)
		}
		c.filter[key] = value
	}
}

// WithSearchTimeout bounds the embed-and-query cycle.
func WithSearchTimeout(d time.Duration) SearchOption {
	return func(c *searchConfig) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func buildSearchConfig(opts []SearchOption) searchConfig {
	cfg := searchConfig{
		topK:    DefaultTopK,
		timeout: DefaultSearchTimeout,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}
