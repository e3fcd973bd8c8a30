package api

import (
	"log/slog"
	"net/http"

	"github.com/koopa0/banxian/internal/speech"
)

// audioStore exposes job state and artifact locations for polling.
type audioStore interface {
	Status(jobID string) (speech.Job, bool)
}

type audioStatusResponse struct {
	Status string          `json:"status"`
	State  speech.JobState `json:"state"`
}

type audioHandler struct {
	store  audioStore
	logger *slog.Logger
}

// serve returns the MP3 artifact for a finished job. Pending and failed jobs
// answer 404 so the frontend keeps polling until its timeout.
func (h *audioHandler) serve(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("jobID")

	job, ok := h.store.Status(jobID)
	if !ok {
		writeError(w, http.StatusNotFound, "音频不存在")
		return
	}

	if job.State != speech.StateSucceeded {
		writeJSON(w, http.StatusNotFound, audioStatusResponse{Status: "error", State: job.State})
		return
	}

	w.Header().Set("Content-Type", "audio/mpeg")
	http.ServeFile(w, r, job.Path)
}
