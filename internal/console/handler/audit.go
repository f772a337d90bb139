package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/xela07ax/cloud-blacklist-guard/internal/domain"
)

// HistoryReader - история модерации группы (postgres.ModerationRepo).
type HistoryReader interface {
	RecentForGroup(ctx context.Context, groupID string, limit int) ([]domain.ModerationEvent, error)
}

type AuditHandler struct {
	repo HistoryReader
}

func NewAuditHandler(repo HistoryReader) *AuditHandler {
	return &AuditHandler{repo: repo}
}

// GetHistory GET /v1/groups/{groupID}/history
func (h *AuditHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "history_disabled", "moderation history requires database.url")
		return
	}
	groupID := chi.URLParam(r, "groupID")
	if !canManage(r.Context(), groupID) {
		writeError(w, http.StatusForbidden, "forbidden", "token does not grant access to this group")
		return
	}

	events, err := h.repo.RecentForGroup(r.Context(), groupID, parseLimit(r, 100))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "database_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, events)
}
