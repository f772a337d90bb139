package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/xela07ax/cloud-blacklist-guard/internal/console/handler"
	"github.com/xela07ax/cloud-blacklist-guard/internal/engine"
	"github.com/xela07ax/cloud-blacklist-guard/internal/infra/auth"
	"go.uber.org/zap"
)

type ConsoleServer struct {
	router *chi.Mux
	logger *zap.Logger

	// nil - авторизация выключена (нет публичного ключа)
	authValidator auth.TokenValidator

	guardHandler *handler.GuardHandler // /v1/groups, /v1/events
	auditHandler *handler.AuditHandler // /v1/groups/{id}/history
}

// NewConsoleServer инициализирует HTTP-поверхность guard'а
func NewConsoleServer(
	logger *zap.Logger,
	validator auth.TokenValidator,
	guardH *handler.GuardHandler,
	auditH *handler.AuditHandler,
) *ConsoleServer {
	s := &ConsoleServer{
		router:        chi.NewRouter(),
		logger:        logger.Named("console-api"),
		authValidator: validator,
		guardHandler:  guardH,
		auditHandler:  auditH,
	}

	s.routes()
	return s
}

func (s *ConsoleServer) routes() {
	r := s.router

	// --- 1. Глобальные инфраструктурные Middleware (для всех) ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(engine.TracingMiddleware)
	r.Use(middleware.Recoverer)

	// --- 2. ПУБЛИЧНЫЕ РОУТЫ ---
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	// --- 3. ЗАЩИЩЕННЫЙ ПЕРИМЕТР (RS256 токен, если ключ настроен) ---
	r.Group(func(r chi.Router) {
		if s.authValidator != nil {
			r.Use(auth.NewMiddleware(s.authValidator, s.logger))
		} else {
			s.logger.Warn("operator auth disabled: no public key configured")
		}

		r.Post("/v1/events/member-join", s.guardHandler.MemberJoin)

		r.Route("/v1/groups/{groupID}", func(r chi.Router) {
			r.Post("/scan", s.guardHandler.Scan)       // Сканирование всей группы
			r.Post("/confirm", s.guardHandler.Confirm) // Исключение staged-участников
			r.Get("/pending", s.guardHandler.GetPending)
			r.Put("/cleanup-threshold", s.guardHandler.SetThreshold)
			r.Get("/history", s.auditHandler.GetHistory)
		})
	})
}

// ServeHTTP позволяет использовать ConsoleServer как стандартный http.Handler
func (s *ConsoleServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
