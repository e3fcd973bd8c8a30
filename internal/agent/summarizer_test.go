package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koopa0/banxian/internal/log"
	"github.com/koopa0/banxian/internal/session"
)

func TestFormatTranscript(t *testing.T) {
	t.Parallel()

	msgs := []*session.Message{
		session.NewMessage("user", "我叫张三"),
		session.NewMessage("model", "幸会，张三施主。"),
		session.NewMessage("system", "历史摘要"),
	}

	got := formatTranscript(msgs)
	assert.Equal(t, "用户：我叫张三\n黄半仙：幸会，张三施主。\nsystem：历史摘要\n", got)
}

func TestHistorySummarizer_EmptyInput(t *testing.T) {
	t.Parallel()

	s := NewHistorySummarizer(nil, "", log.NewNop())
	_, err := s.Summarize(context.Background(), nil)
	require.Error(t, err)
}
