package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koopa0/banxian/internal/agent"
	"github.com/koopa0/banxian/internal/knowledge"
	"github.com/koopa0/banxian/internal/log"
	"github.com/koopa0/banxian/internal/mood"
	"github.com/koopa0/banxian/internal/speech"
)

type fakeChat struct {
	reading *agent.Reading
	err     error

	lastIdentity string
	lastQuery    string
}

func (f *fakeChat) Run(_ context.Context, identity, query string) (*agent.Reading, error) {
	f.lastIdentity = identity
	f.lastQuery = query
	if f.err != nil {
		return nil, f.err
	}
	return f.reading, nil
}

type fakeAudio struct {
	jobID string
	err   error
	calls []string
}

func (f *fakeAudio) Submit(identity, text, style string) (string, error) {
	f.calls = append(f.calls, identity+"|"+text+"|"+style)
	if f.err != nil {
		return "", f.err
	}
	return f.jobID, nil
}

type fakeIngestor struct {
	chunks  int
	err     error
	lastURL string
}

func (f *fakeIngestor) IngestURL(_ context.Context, url string) (int, error) {
	f.lastURL = url
	return f.chunks, f.err
}

type fakeAudioJobs struct {
	jobs map[string]speech.Job
}

func (f *fakeAudioJobs) Status(jobID string) (speech.Job, bool) {
	job, ok := f.jobs[jobID]
	return job, ok
}

type fakePinger struct {
	err error
}

func (f *fakePinger) Ping(context.Context) error { return f.err }

func newTestServer(t *testing.T, cfg ServerConfig) *Server {
	t.Helper()
	if cfg.Logger == nil {
		cfg.Logger = log.NewNop()
	}
	srv, err := NewServer(cfg)
	require.NoError(t, err)
	return srv
}

func postJSON(t *testing.T, handler http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	buf, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(buf))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestChat_Success(t *testing.T) {
	t.Parallel()

	chat := &fakeChat{reading: &agent.Reading{Answer: "今日宜出行", Mood: mood.Happy}}
	audio := &fakeAudio{jobID: "uid-1_1700000000"}
	srv := newTestServer(t, ServerConfig{Chat: chat, Audio: audio})

	rec := postJSON(t, srv.Handler(), "/api/chat", chatRequest{Query: "今天运势如何", UID: "uid-1"})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp chatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "success", resp.Status)
	assert.Equal(t, "今日宜出行", resp.Message)
	assert.Equal(t, "uid-1_1700000000", resp.AudioUID)
	assert.Equal(t, "voices/uid-1_1700000000.mp3", resp.AudioPath)
	assert.Equal(t, "uid-1", resp.UID)

	assert.Equal(t, "uid-1", chat.lastIdentity)
	require.Len(t, audio.calls, 1)
	assert.Equal(t, "uid-1|今日宜出行|happy", audio.calls[0])
}

func TestChat_GeneratesUIDWhenMissing(t *testing.T) {
	t.Parallel()

	chat := &fakeChat{reading: &agent.Reading{Answer: "a", Mood: mood.Default}}
	srv := newTestServer(t, ServerConfig{Chat: chat})

	rec := postJSON(t, srv.Handler(), "/api/chat", chatRequest{Query: "q"})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp chatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.UID)
	assert.Equal(t, resp.UID, chat.lastIdentity)
}

func TestChat_EmptyQuery(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, ServerConfig{Chat: &fakeChat{err: agent.ErrEmptyQuery}})

	rec := postJSON(t, srv.Handler(), "/api/chat", chatRequest{Query: "   "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "查询内容不能为空")
}

func TestChat_MalformedBody(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, ServerConfig{Chat: &fakeChat{reading: &agent.Reading{}}})

	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader("not-json"))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChat_AudioFailureDegradesToText(t *testing.T) {
	t.Parallel()

	chat := &fakeChat{reading: &agent.Reading{Answer: "a", Mood: mood.Default}}
	srv := newTestServer(t, ServerConfig{Chat: chat, Audio: &fakeAudio{err: errors.New("bad identity")}})

	rec := postJSON(t, srv.Handler(), "/api/chat", chatRequest{Query: "q", UID: "u"})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp chatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "success", resp.Status)
	assert.Empty(t, resp.AudioUID)
	assert.Empty(t, resp.AudioPath)
}

func TestIngest(t *testing.T) {
	t.Parallel()

	t.Run("success", func(t *testing.T) {
		t.Parallel()
		ing := &fakeIngestor{chunks: 7}
		srv := newTestServer(t, ServerConfig{Chat: &fakeChat{}, Ingestor: ing})

		rec := postJSON(t, srv.Handler(), "/api/ingest", ingestRequest{URL: "https://example.com/a"})
		require.Equal(t, http.StatusOK, rec.Code)

		var resp ingestResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, 7, resp.Chunks)
		assert.Contains(t, resp.Message, "7个文档片段")
		assert.Equal(t, "https://example.com/a", ing.lastURL)
	})

	t.Run("empty url", func(t *testing.T) {
		t.Parallel()
		srv := newTestServer(t, ServerConfig{Chat: &fakeChat{}, Ingestor: &fakeIngestor{}})

		rec := postJSON(t, srv.Handler(), "/api/ingest", ingestRequest{URL: "  "})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("no content", func(t *testing.T) {
		t.Parallel()
		srv := newTestServer(t, ServerConfig{Chat: &fakeChat{}, Ingestor: &fakeIngestor{err: knowledge.ErrNoContent}})

		rec := postJSON(t, srv.Handler(), "/api/ingest", ingestRequest{URL: "https://example.com/empty"})
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})

	t.Run("fetch failure", func(t *testing.T) {
		t.Parallel()
		srv := newTestServer(t, ServerConfig{Chat: &fakeChat{}, Ingestor: &fakeIngestor{err: errors.New("timeout")}})

		rec := postJSON(t, srv.Handler(), "/api/ingest", ingestRequest{URL: "https://example.com/slow"})
		assert.Equal(t, http.StatusBadGateway, rec.Code)
	})

	t.Run("disabled without ingestor", func(t *testing.T) {
		t.Parallel()
		srv := newTestServer(t, ServerConfig{Chat: &fakeChat{}})

		rec := postJSON(t, srv.Handler(), "/api/ingest", ingestRequest{URL: "https://example.com"})
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestAudio(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	mp3 := filepath.Join(dir, "uid_1.mp3")
	require.NoError(t, os.WriteFile(mp3, []byte("mp3-data"), 0o644))

	jobs := &fakeAudioJobs{jobs: map[string]speech.Job{
		"uid_1": {ID: "uid_1", State: speech.StateSucceeded, Path: mp3},
		"uid_2": {ID: "uid_2", State: speech.StatePending},
		"uid_3": {ID: "uid_3", State: speech.StateFailed},
	}}
	srv := newTestServer(t, ServerConfig{Chat: &fakeChat{}, AudioStore: jobs})

	t.Run("succeeded job serves artifact", func(t *testing.T) {
		t.Parallel()
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/audio/uid_1", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "audio/mpeg", rec.Header().Get("Content-Type"))
		assert.Equal(t, "mp3-data", rec.Body.String())
	})

	t.Run("pending job answers 404 with state", func(t *testing.T) {
		t.Parallel()
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/audio/uid_2", nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Contains(t, rec.Body.String(), "pending")
	})

	t.Run("failed job answers 404", func(t *testing.T) {
		t.Parallel()
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/audio/uid_3", nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("unknown job answers 404", func(t *testing.T) {
		t.Parallel()
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/audio/nope", nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestHealthProbes(t *testing.T) {
	t.Parallel()

	t.Run("health", func(t *testing.T) {
		t.Parallel()
		srv := newTestServer(t, ServerConfig{Chat: &fakeChat{}})
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("ready without store", func(t *testing.T) {
		t.Parallel()
		srv := newTestServer(t, ServerConfig{Chat: &fakeChat{}})
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("ready with unreachable store", func(t *testing.T) {
		t.Parallel()
		srv := newTestServer(t, ServerConfig{Chat: &fakeChat{}, Pinger: &fakePinger{err: errors.New("down")}})
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}

func TestNewServer_RequiresChat(t *testing.T) {
	t.Parallel()

	_, err := NewServer(ServerConfig{})
	assert.Error(t, err)
}

func TestCORSPreflightAllowedOrigin(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, ServerConfig{Chat: &fakeChat{}, CORSOrigins: []string{"http://localhost:5173"}})

	req := httptest.NewRequest(http.MethodOptions, "/api/chat", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRecoveryMiddleware(t *testing.T) {
	t.Parallel()

	panicky := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})
	handler := recoveryMiddleware(log.NewNop())(panicky)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
