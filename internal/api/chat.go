package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/koopa0/banxian/internal/agent"
)

// chatRunner runs one conversational turn for an identity.
type chatRunner interface {
	Run(ctx context.Context, identity, query string) (*agent.Reading, error)
}

// audioRunner starts detached synthesis jobs.
type audioRunner interface {
	Submit(identity, text, style string) (string, error)
}

// chatRequest is the POST /api/chat body. UID is optional; the server
// generates one on first contact and echoes it back for reuse.
type chatRequest struct {
	Query string `json:"query"`
	UID   string `json:"uid"`
}

// chatResponse mirrors the shape the frontend consumes.
type chatResponse struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	AudioUID  string `json:"audio_uid"`
	AudioPath string `json:"audio_path"`
	UID       string `json:"uid"`
}

type chatHandler struct {
	runner chatRunner
	audio  audioRunner
	logger *slog.Logger
}

func (h *chatHandler) send(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "请求格式错误")
		return
	}

	uid := req.UID
	if uid == "" {
		uid = uuid.New().String()
	}

	reading, err := h.runner.Run(r.Context(), uid, req.Query)
	if err != nil {
		if errors.Is(err, agent.ErrEmptyQuery) {
			writeError(w, http.StatusBadRequest, "查询内容不能为空，请输入您的问题")
			return
		}
		h.logger.Error("chat turn failed", "uid", uid, "error", err)
		writeError(w, http.StatusInternalServerError, "接口执行失败，请稍后再试")
		return
	}

	// Audio is detached; a submission failure degrades to a text-only reply.
	var audioUID, audioPath string
	if h.audio != nil {
		jobID, submitErr := h.audio.Submit(uid, reading.Answer, reading.Mood.Profile().VoiceStyle)
		if submitErr != nil {
			h.logger.Warn("audio job submission failed", "uid", uid, "error", submitErr)
		} else {
			audioUID = jobID
			audioPath = audioURLPath(jobID)
		}
	}

	writeJSON(w, http.StatusOK, chatResponse{
		Status:    "success",
		Message:   reading.Answer,
		AudioUID:  audioUID,
		AudioPath: audioPath,
		UID:       uid,
	})
}

// audioURLPath is the client-facing location of a job's artifact.
func audioURLPath(jobID string) string {
	return "voices/" + jobID + ".mp3"
}
