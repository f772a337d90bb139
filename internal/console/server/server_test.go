package server_test

import (
	"crypto/rand"
	"crypto/rsa"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"

	"github.com/xela07ax/cloud-blacklist-guard/internal/audit"
	"github.com/xela07ax/cloud-blacklist-guard/internal/connectors"
	"github.com/xela07ax/cloud-blacklist-guard/internal/console/handler"
	"github.com/xela07ax/cloud-blacklist-guard/internal/console/server"
	"github.com/xela07ax/cloud-blacklist-guard/internal/domain"
	"github.com/xela07ax/cloud-blacklist-guard/internal/engine"
	"github.com/xela07ax/cloud-blacklist-guard/internal/infra/auth"
)

type ConsoleServerSuite struct {
	suite.Suite
	key *rsa.PrivateKey
	srv *server.ConsoleServer
}

func TestConsoleServerSuite(t *testing.T) {
	suite.Run(t, new(ConsoleServerSuite))
}

func (s *ConsoleServerSuite) SetupSuite() {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	s.Require().NoError(err)
	s.key = key
}

func (s *ConsoleServerSuite) SetupTest() {
	logger := zap.NewNop()
	metrics := engine.NewMetrics(nil)

	host := connectors.NewMockHost(false)
	host.SetMembers("123", "1001")
	store := engine.NewPendingActionStore(engine.DefaultCleanupThreshold, metrics)
	journal := audit.NewJournal(audit.NewLogStorage(logger), 100, nil, logger)
	limiter := engine.NewRateLimiter(20, 5*time.Second, metrics)
	checker := engine.NewReputationClient("http://127.0.0.1:1", time.Second, limiter, metrics, logger)

	scanner := engine.NewBatchScanner(checker, store, journal, metrics, logger)
	gate := engine.NewMembershipGate(checker, host, journal, engine.GateOptions{}, metrics, logger)
	guard := engine.NewGuard(scanner, gate, store, host, journal, engine.GuardOptions{}, metrics, logger)

	s.srv = server.NewConsoleServer(logger,
		auth.NewBaseValidator(&s.key.PublicKey),
		handler.NewGuardHandler(guard, logger),
		handler.NewAuditHandler(nil),
	)
}

func (s *ConsoleServerSuite) token(groups map[string]bool) string {
	claims := domain.OperatorClaims{
		OperatorID: "op-1",
		Groups:     groups,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(s.key)
	s.Require().NoError(err)
	return signed
}

func (s *ConsoleServerSuite) serve(method, path, body, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.srv.ServeHTTP(rec, req)
	return rec
}

func (s *ConsoleServerSuite) TestHealthIsPublic() {
	rec := s.serve(http.MethodGet, "/health", "", "")
	s.Equal(http.StatusOK, rec.Code)
	s.NotEmpty(rec.Header().Get("X-Trace-ID"))
}

func (s *ConsoleServerSuite) TestGroupRoutesRequireToken() {
	rec := s.serve(http.MethodGet, "/v1/groups/123/pending", "", "")
	s.Equal(http.StatusUnauthorized, rec.Code)

	rec = s.serve(http.MethodGet, "/v1/groups/123/pending", "", "not-a-jwt")
	s.Equal(http.StatusUnauthorized, rec.Code)
}

func (s *ConsoleServerSuite) TestTokenScopedToGroup() {
	tok := s.token(map[string]bool{"123": true})

	rec := s.serve(http.MethodPut, "/v1/groups/123/cleanup-threshold", `{"seconds":60}`, tok)
	s.Equal(http.StatusOK, rec.Code)

	rec = s.serve(http.MethodPut, "/v1/groups/456/cleanup-threshold", `{"seconds":60}`, tok)
	s.Equal(http.StatusForbidden, rec.Code)
}

func (s *ConsoleServerSuite) TestConfirmWithoutScan() {
	rec := s.serve(http.MethodPost, "/v1/groups/123/confirm", "", s.token(nil))
	s.Equal(http.StatusNotFound, rec.Code)
}

func (s *ConsoleServerSuite) TestScanWithoutKey() {
	rec := s.serve(http.MethodPost, "/v1/groups/123/scan", "", s.token(nil))
	s.Equal(http.StatusPreconditionFailed, rec.Code)
}

func (s *ConsoleServerSuite) TestHistoryDisabledWithoutDatabase() {
	rec := s.serve(http.MethodGet, "/v1/groups/123/history", "", s.token(nil))
	s.Equal(http.StatusServiceUnavailable, rec.Code)
}
