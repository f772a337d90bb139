package handler_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/xela07ax/cloud-blacklist-guard/internal/console/handler"
	"github.com/xela07ax/cloud-blacklist-guard/internal/domain"
)

type stubHistory struct {
	limit int
	err   error
}

func (h *stubHistory) RecentForGroup(ctx context.Context, groupID string, limit int) ([]domain.ModerationEvent, error) {
	h.limit = limit
	if h.err != nil {
		return nil, h.err
	}
	return []domain.ModerationEvent{{ID: "e1", GroupID: groupID, Action: domain.ActionRemoved}}, nil
}

func historyRouter(h *handler.AuditHandler) chi.Router {
	r := chi.NewRouter()
	r.Get("/v1/groups/{groupID}/history", h.GetHistory)
	return r
}

func TestGetHistory(t *testing.T) {
	repo := &stubHistory{}
	r := historyRouter(handler.NewAuditHandler(repo))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/groups/g1/history?limit=5", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 5, repo.limit)

	var events []domain.ModerationEvent
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&events))
	require.Len(t, events, 1)
	require.Equal(t, "g1", events[0].GroupID)
}

func TestGetHistoryDefaultsLimit(t *testing.T) {
	repo := &stubHistory{}
	r := historyRouter(handler.NewAuditHandler(repo))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/groups/g1/history?limit=-3", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 100, repo.limit)
}

func TestGetHistoryWithoutDatabase(t *testing.T) {
	r := historyRouter(handler.NewAuditHandler(nil))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/groups/g1/history", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestGetHistoryDatabaseError(t *testing.T) {
	r := historyRouter(handler.NewAuditHandler(&stubHistory{err: errors.New("conn refused")}))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/groups/g1/history", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}
