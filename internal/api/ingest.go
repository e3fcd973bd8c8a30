package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/koopa0/banxian/internal/knowledge"
)

// ingestor loads a URL's content into the knowledge base.
type ingestor interface {
	IngestURL(ctx context.Context, url string) (int, error)
}

type ingestRequest struct {
	URL string `json:"url"`
}

type ingestResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Chunks  int    `json:"chunks"`
	URL     string `json:"url"`
}

type ingestHandler struct {
	ingestor ingestor
	logger   *slog.Logger
}

func (h *ingestHandler) add(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "请求格式错误")
		return
	}

	rawURL := strings.TrimSpace(req.URL)
	if rawURL == "" {
		writeError(w, http.StatusBadRequest, "URL不能为空")
		return
	}

	chunks, err := h.ingestor.IngestURL(r.Context(), rawURL)
	if err != nil {
		h.logger.Warn("url ingestion failed", "url", rawURL, "error", err)
		if errors.Is(err, knowledge.ErrNoContent) {
			writeError(w, http.StatusUnprocessableEntity, "未从URL中加载到内容，请检查URL是否有效")
			return
		}
		writeError(w, http.StatusBadGateway, "添加URL失败，请稍后再试")
		return
	}

	writeJSON(w, http.StatusOK, ingestResponse{
		Status:  "success",
		Message: fmt.Sprintf("URL内容已添加到知识库（%d个文档片段）", chunks),
		Chunks:  chunks,
		URL:     rawURL,
	})
}
