package knowledge

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koopa0/banxian/internal/log"
)

// openValidator accepts every URL so tests can hit httptest servers on
// loopback.
type openValidator struct {
	rejectAll bool
}

func (v *openValidator) ValidateURL(string) error {
	if v.rejectAll {
		return errors.New("blocked")
	}
	return nil
}

func (v *openValidator) CreateSafeHTTPClient() *http.Client { return http.DefaultClient }

func (v *openValidator) MaxResponseSize() int64 { return 5 * 1024 * 1024 }

const articleHTML = `<!DOCTYPE html>
<html><head><title>紫微斗数入门</title></head>
<body>
<nav>导航栏</nav>
<article>
<h1>紫微斗数入门</h1>
<p>紫微斗数是中国传统命理学的重要流派，以人出生的年月日时确定命盘。</p>
<p>命盘分为十二宫，紫微星系与天府星系分布其间，推断一生祸福吉凶。</p>
</article>
<script>console.log("ignored")</script>
</body></html>`

func newTestIngestor(validator urlValidator) (*Ingestor, *mockQuerier) {
	q := newMockQuerier()
	store := NewStore(q, &mockEmbedder{}, log.NewNop())
	return NewIngestor(store, validator, log.NewNop()), q
}

func TestIngestor_IngestURL(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(articleHTML))
	}))
	defer srv.Close()

	ing, q := newTestIngestor(&openValidator{})

	n, err := ing.IngestURL(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, q.upserted, 1)

	for _, doc := range q.upserted {
		assert.Contains(t, doc.Content, "紫微斗数")
		assert.NotContains(t, doc.Content, "console.log")
		assert.Equal(t, srv.URL, doc.Metadata["source"])
		assert.Equal(t, "1/1", doc.Metadata["chunk"])
	}
}

func TestIngestor_RejectedURL(t *testing.T) {
	t.Parallel()

	ing, q := newTestIngestor(&openValidator{rejectAll: true})

	_, err := ing.IngestURL(context.Background(), "http://169.254.169.254/latest")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "url rejected")
	assert.Empty(t, q.upserted)
}

func TestIngestor_EmptyPage(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<html><body><script>var x = 1;</script></body></html>`))
	}))
	defer srv.Close()

	ing, _ := newTestIngestor(&openValidator{})

	_, err := ing.IngestURL(context.Background(), srv.URL)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoContent)
}

func TestIngestor_NonOKStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	ing, _ := newTestIngestor(&openValidator{})

	_, err := ing.IngestURL(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 404")
}
