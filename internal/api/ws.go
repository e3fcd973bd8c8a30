package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/koopa0/banxian/internal/agent"
	"github.com/koopa0/banxian/internal/persona"
)

type wsHandler struct {
	runner   chatRunner
	audio    audioRunner
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

func newWSHandler(runner chatRunner, audio audioRunner, allowedOrigins []string, logger *slog.Logger) *wsHandler {
	originSet := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		originSet[o] = struct{}{}
	}
	return &wsHandler{
		runner: runner,
		audio:  audio,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// Non-browser clients send no Origin header.
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				_, ok := originSet[origin]
				return ok
			},
		},
		logger: logger,
	}
}

// handle runs a realtime chat loop. Each connection gets a fresh identity;
// the loop ends when the client disconnects.
func (h *wsHandler) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	identity := uuid.New().String()
	h.logger.Info("websocket client connected", "identity", identity)

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			h.logger.Info("websocket client disconnected", "identity", identity, "error", err)
			return
		}

		reading, err := h.runner.Run(r.Context(), identity, string(payload))
		if err != nil {
			if errors.Is(err, agent.ErrEmptyQuery) {
				if writeErr := conn.WriteMessage(websocket.TextMessage, []byte("系统提示：查询内容不能为空")); writeErr != nil {
					return
				}
				continue
			}
			h.logger.Error("websocket turn failed", "identity", identity, "error", err)
			if writeErr := conn.WriteMessage(websocket.TextMessage, []byte("系统提示：处理失败，请稍后再试")); writeErr != nil {
				return
			}
			continue
		}

		if err := conn.WriteMessage(websocket.TextMessage, []byte(persona.Name+"："+reading.Answer)); err != nil {
			h.logger.Warn("websocket write failed", "identity", identity, "error", err)
			return
		}

		if h.audio != nil {
			if _, err := h.audio.Submit(identity, reading.Answer, reading.Mood.Profile().VoiceStyle); err != nil {
				h.logger.Warn("audio job submission failed", "identity", identity, "error", err)
			}
		}
	}
}
