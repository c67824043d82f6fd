package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/starford/inkwell/internal/apperr"
	"github.com/starford/inkwell/internal/assistant"
)

// Assistant answers chat questions and suggests tags.
type Assistant interface {
	Chat(ctx context.Context, history []assistant.Message, contextText string) (string, error)
	SuggestTags(ctx context.Context, text string) ([]string, error)
}

// AssistantHandler exposes the chat assistant.
type AssistantHandler struct {
	assistant Assistant
}

// NewAssistantHandler creates an AssistantHandler.
func NewAssistantHandler(a Assistant) *AssistantHandler {
	return &AssistantHandler{assistant: a}
}

// Chat handles POST /api/chat.
func (h *AssistantHandler) Chat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	reply, err := h.assistant.Chat(r.Context(), req.Messages, req.Context)
	if err != nil {
		writeAssistantError(w, "chat", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"reply": reply})
}

// SuggestTags handles POST /api/tags/suggest.
func (h *AssistantHandler) SuggestTags(w http.ResponseWriter, r *http.Request) {
	var req SuggestTagsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	tags, err := h.assistant.SuggestTags(r.Context(), req.Content)
	if err != nil {
		writeAssistantError(w, "suggest tags", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"tags": tags})
}

// writeAssistantError reports model endpoint failures as a bad gateway.
func writeAssistantError(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, apperr.ErrInvalidArgument) {
		writeError(w, op, err)
		return
	}
	slog.Warn(op+" failed", slog.String("error", err.Error()))
	writeJSON(w, http.StatusBadGateway, errorBody("assistant request failed"))
}
