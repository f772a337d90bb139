package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/xela07ax/cloud-blacklist-guard/internal/domain"
	"github.com/xela07ax/cloud-blacklist-guard/internal/infra/auth"
	"go.uber.org/zap"
)

// GuardService Описываем, что нам нужно от engine.Guard
type GuardService interface {
	OnMemberJoin(ctx context.Context, groupID, subjectID string)
	OnScanCommand(ctx context.Context, groupID, apiKey string) (string, error)
	OnConfirmCommand(ctx context.Context, groupID string) (string, domain.ConfirmResult, error)
	OnSetCleanupThresholdText(ctx context.Context, groupID, raw string) (string, error)
	Pending(groupID string) (domain.PendingBatch, bool)
}

type GuardHandler struct {
	service GuardService
	logger  *zap.Logger
}

func NewGuardHandler(s GuardService, logger *zap.Logger) *GuardHandler {
	return &GuardHandler{service: s, logger: logger.Named("guard-handler")}
}

type ReportResponse struct {
	Report string                `json:"report"`
	Result *domain.ConfirmResult `json:"result,omitempty"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type ScanRequest struct {
	APIKey string `json:"api_key"`
}

// Scan POST /v1/groups/{groupID}/scan
func (h *GuardHandler) Scan(w http.ResponseWriter, r *http.Request) {
	groupID, ok := h.group(w, r)
	if !ok {
		return
	}

	var req ScanRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_body", "invalid request body")
			return
		}
	}

	report, err := h.service.OnScanCommand(r.Context(), groupID, req.APIKey)
	if err != nil {
		h.fail(w, groupID, err)
		return
	}
	writeJSON(w, http.StatusOK, ReportResponse{Report: report})
}

// Confirm POST /v1/groups/{groupID}/confirm
func (h *GuardHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	groupID, ok := h.group(w, r)
	if !ok {
		return
	}

	report, result, err := h.service.OnConfirmCommand(r.Context(), groupID)
	if err != nil {
		h.fail(w, groupID, err)
		return
	}
	writeJSON(w, http.StatusOK, ReportResponse{Report: report, Result: &result})
}

// GetPending GET /v1/groups/{groupID}/pending
func (h *GuardHandler) GetPending(w http.ResponseWriter, r *http.Request) {
	groupID, ok := h.group(w, r)
	if !ok {
		return
	}

	batch, ok := h.service.Pending(groupID)
	if !ok {
		h.fail(w, groupID, domain.ErrNoStagedBatch)
		return
	}
	writeJSON(w, http.StatusOK, batch)
}

type ThresholdRequest struct {
	// json.Number, чтобы "abc" и 12.5 доходили до валидации как текст команды
	Seconds json.Number `json:"seconds"`
}

// SetThreshold PUT /v1/groups/{groupID}/cleanup-threshold
func (h *GuardHandler) SetThreshold(w http.ResponseWriter, r *http.Request) {
	groupID, ok := h.group(w, r)
	if !ok {
		return
	}

	var req ThresholdRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.fail(w, groupID, domain.ErrInvalidThreshold)
		return
	}

	ack, err := h.service.OnSetCleanupThresholdText(r.Context(), groupID, req.Seconds.String())
	if err != nil {
		h.fail(w, groupID, err)
		return
	}
	writeJSON(w, http.StatusOK, ReportResponse{Report: ack})
}

type JoinEventRequest struct {
	GroupID json.Number `json:"group_id"`
	UserID  json.Number `json:"user_id"`
}

// MemberJoin POST /v1/events/member-join - вебхук хоста бота.
// Отвечаем 202 сразу: проверка может ждать окно лимитера.
func (h *GuardHandler) MemberJoin(w http.ResponseWriter, r *http.Request) {
	var req JoinEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "invalid join event")
		return
	}
	groupID, userID := req.GroupID.String(), req.UserID.String()
	if groupID == "" || userID == "" {
		writeError(w, http.StatusBadRequest, "invalid_body", "group_id and user_id are required")
		return
	}
	if !canManage(r.Context(), groupID) {
		writeError(w, http.StatusForbidden, "forbidden", "token does not grant access to this group")
		return
	}

	// Контекст запроса умрет после ответа, trace-id сохраняем
	ctx := context.WithoutCancel(r.Context())
	go h.service.OnMemberJoin(ctx, groupID, userID)

	w.WriteHeader(http.StatusAccepted)
}

func (h *GuardHandler) group(w http.ResponseWriter, r *http.Request) (string, bool) {
	groupID := strings.TrimSpace(chi.URLParam(r, "groupID"))
	if groupID == "" {
		h.fail(w, "", domain.ErrNotInGroupContext)
		return "", false
	}
	if !canManage(r.Context(), groupID) {
		writeError(w, http.StatusForbidden, "forbidden", "token does not grant access to this group")
		return "", false
	}
	return groupID, true
}

// fail разделяет типы ошибок (4xx для оператора, 502 для внешних сбоев)
func (h *GuardHandler) fail(w http.ResponseWriter, groupID string, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("guard command failed", zap.String("group_id", groupID), zap.Error(err))
		writeError(w, status, code, "upstream service failed, try again later")
		return
	}
	writeError(w, status, code, err.Error())
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrNotInGroupContext):
		return http.StatusBadRequest, "not_in_group_context"
	case errors.Is(err, domain.ErrInvalidThreshold):
		return http.StatusBadRequest, "invalid_threshold"
	case errors.Is(err, domain.ErrNoStagedBatch):
		return http.StatusNotFound, "no_staged_batch"
	case errors.Is(err, domain.ErrConfigMissing):
		return http.StatusPreconditionFailed, "config_missing"
	case errors.Is(err, domain.ErrGroupNotEnabled):
		return http.StatusForbidden, "group_not_enabled"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	default:
		return http.StatusBadGateway, "upstream_unavailable"
	}
}

func canManage(ctx context.Context, groupID string) bool {
	claims, ok := auth.ClaimsFrom(ctx)
	if !ok {
		// Авторизация выключена
		return true
	}
	return claims.CanManage(groupID)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: code, Message: message})
}

// parseLimit - ?limit=N для списков.
func parseLimit(r *http.Request, def int) int {
	if n, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && n > 0 {
		return n
	}
	return def
}
