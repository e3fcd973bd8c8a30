package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/koopa0/banxian/internal/config"
	"github.com/koopa0/banxian/internal/fortune"
	"github.com/koopa0/banxian/internal/knowledge"
	"github.com/koopa0/banxian/internal/log"
	"github.com/koopa0/banxian/internal/tools"
)

func TestClose_Empty(t *testing.T) {
	t.Parallel()

	a := &App{Logger: log.NewNop()}
	assert.NoError(t, a.Close())
}

func TestOrNilHelpers(t *testing.T) {
	t.Parallel()

	// A nil concrete pointer must become a nil interface, not a non-nil
	// interface wrapping a nil pointer.
	assert.Nil(t, divinerOrNil(nil))
	assert.Nil(t, searcherOrNil(nil))
	assert.Nil(t, retrieverOrNil(nil))

	var d tools.Diviner = divinerOrNil((*fortune.Client)(nil))
	assert.Nil(t, d)
	var r tools.Retriever = retrieverOrNil((*knowledge.Store)(nil))
	assert.Nil(t, r)
}

func TestEmbedOptions(t *testing.T) {
	t.Parallel()

	assert.Nil(t, embedOptions(config.ProviderOpenAI))

	opts, ok := embedOptions(config.ProviderGemini).(*genai.EmbedContentConfig)
	require.True(t, ok)
	require.NotNil(t, opts.OutputDimensionality)
	assert.Equal(t, int32(knowledge.VectorDimension), *opts.OutputDimensionality)
}
