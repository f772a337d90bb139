package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/cloud-blacklist-guard/internal/audit"
	"github.com/xela07ax/cloud-blacklist-guard/internal/connectors"
	"github.com/xela07ax/cloud-blacklist-guard/internal/console/handler"
	"github.com/xela07ax/cloud-blacklist-guard/internal/console/server"
	"github.com/xela07ax/cloud-blacklist-guard/internal/engine"
	"github.com/xela07ax/cloud-blacklist-guard/internal/infra"
	"github.com/xela07ax/cloud-blacklist-guard/internal/infra/auth"
	"github.com/xela07ax/cloud-blacklist-guard/internal/repository/postgres"
)

func main() {
	cfg, err := infra.LoadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("guard stopped with error", zap.Error(err))
	}
}

func run(cfg *infra.Config, logger *zap.Logger) error {
	// Контекст для управления жизненным циклом фоновых горутин
	appCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 1. Метрики
	reg := prometheus.NewRegistry()
	metrics := engine.NewMetrics(reg)

	// 2. Журнал модерации: Postgres или, без БД, структурированный лог
	var (
		storage audit.Storage = audit.NewLogStorage(logger)
		history handler.HistoryReader
	)
	if cfg.Database.URL != "" {
		repo, err := postgres.NewModerationRepo(cfg.Database.URL, int(cfg.Database.MaxConns), int(cfg.Database.MinConns))
		if err != nil {
			return fmt.Errorf("moderation repo: %w", err)
		}
		defer repo.Close()

		ctx, cancelPing := context.WithTimeout(appCtx, 5*time.Second)
		err = repo.Ping(ctx)
		if err == nil {
			err = repo.EnsureSchema(ctx)
		}
		cancelPing()
		if err != nil {
			return fmt.Errorf("database unreachable: %w", err)
		}
		storage, history = repo, repo
	} else {
		logger.Warn("database.url is empty: moderation journal goes to log only")
	}

	journal := audit.NewJournal(storage, 1000, metrics.JournalBufferFill, logger)
	journal.Start()
	defer journal.Stop() // дописывает остаток буфера до закрытия БД

	// 3. Облачный черный список за общим лимитером (20 запросов / 5 сек)
	limiter := engine.NewRateLimiter(cfg.Reputation.MaxRequests, cfg.Reputation.Window, metrics)
	reputation := engine.NewReputationClient(cfg.Reputation.BaseURL, cfg.Reputation.Timeout, limiter, metrics, logger)
	if cfg.Reputation.BaseURL == "" {
		logger.Warn("reputation.base_url is empty: every lookup will fail and members stay untouched")
	}
	if cfg.Reputation.APIKey == "" {
		logger.Warn("reputation.api_key is empty: checks will be refused until a key is passed per command")
	}

	// 4. Хост бота, обернутый в Reliability (Rate limit, Circuit Breaker, Retries)
	var rawHost engine.GroupHost
	if cfg.Host.BaseURL != "" {
		rawHost = connectors.NewOneBotClient(cfg.Host.BaseURL, cfg.Host.AccessToken)
	} else {
		logger.Warn("host.base_url is empty: using in-memory mock host")
		rawHost = connectors.NewMockHost(true)
	}
	host := engine.NewReliableHost(rawHost, engine.ReliabilitySettings{
		RPS:           cfg.Host.RPS,
		Burst:         cfg.Host.Burst,
		CBMaxRequests: uint32(cfg.Host.CBMaxRequests),
		CBInterval:    cfg.Host.CBInterval,
		CBTimeout:     cfg.Host.CBTimeout,
		RetryAttempts: cfg.Host.RetryAttempts,
	}, metrics, logger)

	// 5. Ядро guard'а
	store := engine.NewPendingActionStore(cfg.Guard.DefaultCleanupThreshold, metrics)
	scanner := engine.NewBatchScanner(reputation, store, journal, metrics, logger)
	gate := engine.NewMembershipGate(reputation, host, journal, engine.GateOptions{
		APIKey:      cfg.Reputation.APIKey,
		Whitelist:   infra.GroupSet(cfg.Guard.AutoCheckWhitelist),
		NotifyClean: cfg.Guard.JoinNotifyClean,
	}, metrics, logger)
	guard := engine.NewGuard(scanner, gate, store, host, journal, engine.GuardOptions{
		APIKey:        cfg.Reputation.APIKey,
		EnabledGroups: infra.GroupSet(cfg.Guard.EnabledGroups),
	}, metrics, logger)

	janitor := engine.NewJanitorTask(limiter, store, cfg.Guard.JanitorInterval, metrics, logger)
	janitor.Start(appCtx)
	defer janitor.Stop()

	// 6. События вступления из Redis (опционально)
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		go engine.ListenJoinEventsResilient(appCtx, rdb, logger, infra.RedisChanMemberJoin, guard.OnMemberJoin)
	}

	// 7. Авторизация операторов (RS256), если ключ настроен
	var validator auth.TokenValidator
	if len(cfg.Auth.PublicKey) > 0 {
		pub, err := auth.ParseRSAPublicKey(cfg.Auth.PublicKey)
		if err != nil {
			return fmt.Errorf("auth public key: %w", err)
		}
		validator = auth.NewBaseValidator(pub)
	}

	console := server.NewConsoleServer(logger, validator,
		handler.NewGuardHandler(guard, logger),
		handler.NewAuditHandler(history),
	)

	// Экспортируем метрики для Prometheus
	metricsSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.MetricsPort),
		Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      console,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("guard started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	// 8. Graceful Shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case <-stop:
	case err := <-serveErr:
		return fmt.Errorf("listen: %w", err)
	}
	logger.Info("guard stopping...")

	cancel()

	// Даем 5 секунд на завершение запросов
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}
	_ = metricsSrv.Shutdown(shutdownCtx)

	store.Reset() // staged-батчи не переживают рестарт

	logger.Info("guard exited properly")
	return nil
}
