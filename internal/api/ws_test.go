package api

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koopa0/banxian/internal/agent"
	"github.com/koopa0/banxian/internal/mood"
)

func wsDial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestWebsocket_ChatLoop(t *testing.T) {
	t.Parallel()

	chat := &fakeChat{reading: &agent.Reading{Answer: "紫气东来", Mood: mood.Default}}
	audio := &fakeAudio{jobID: "job-1"}
	apiSrv := newTestServer(t, ServerConfig{Chat: chat, Audio: audio})
	srv := httptest.NewServer(apiSrv.Handler())
	defer srv.Close()

	conn := wsDial(t, srv)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("今日如何")))

	_, reply, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "黄半仙：紫气东来", string(reply))

	assert.Equal(t, "今日如何", chat.lastQuery)
	assert.NotEmpty(t, chat.lastIdentity)
}

func TestWebsocket_EmptyQueryNotice(t *testing.T) {
	t.Parallel()

	apiSrv := newTestServer(t, ServerConfig{Chat: &fakeChat{err: agent.ErrEmptyQuery}})
	srv := httptest.NewServer(apiSrv.Handler())
	defer srv.Close()

	conn := wsDial(t, srv)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("  ")))

	_, reply, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(reply), "系统提示")
}
