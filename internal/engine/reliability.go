package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/sony/gobreaker"
	"github.com/xela07ax/cloud-blacklist-guard/internal/connectors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ReliabilitySettings - защита вызовов к API бота.
type ReliabilitySettings struct {
	RPS           float64
	Burst         int
	CBMaxRequests uint32
	CBInterval    time.Duration
	CBTimeout     time.Duration
	RetryAttempts uint
	CallTimeout   time.Duration
}

// ReliableHost оборачивает GroupHost: rate limiter -> circuit breaker -> retries.
// Относится только к API бота; репутационное API не ретраится.
type ReliableHost struct {
	next     GroupHost
	cb       *gobreaker.CircuitBreaker
	limiter  *rate.Limiter
	attempts uint
	timeout  time.Duration
	logger   *zap.Logger
}

func NewReliableHost(next GroupHost, s ReliabilitySettings, metrics *Metrics, logger *zap.Logger) *ReliableHost {
	if s.RPS <= 0 {
		s.RPS = 5
	}
	if s.Burst <= 0 {
		s.Burst = 1
	}
	if s.RetryAttempts == 0 {
		s.RetryAttempts = 1
	}
	if s.CallTimeout <= 0 {
		s.CallTimeout = 10 * time.Second
	}

	logger = logger.Named("host-reliability")

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "host-bot-api",
		MaxRequests: s.CBMaxRequests,
		Interval:    s.CBInterval,
		Timeout:     s.CBTimeout, // Время, через которое CB попробует "закрыться"
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			// Если более 5 ошибок подряд - открываемся (блокируем трафик)
			return counts.ConsecutiveFailures > 5
		},
		IsSuccessful: func(err error) bool {
			// Отказ API по существу запроса - не признак деградации хоста
			return err == nil || errors.Is(err, connectors.ErrRejected)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("host circuit breaker state changed",
				zap.String("from", from.String()), zap.String("to", to.String()))
			if metrics != nil {
				metrics.HostBreakerState.WithLabelValues(name).Set(float64(to))
			}
		},
	})

	return &ReliableHost{
		next:     next,
		cb:       cb,
		limiter:  rate.NewLimiter(rate.Limit(s.RPS), s.Burst),
		attempts: s.RetryAttempts,
		timeout:  s.CallTimeout,
		logger:   logger,
	}
}

func (h *ReliableHost) ListGroupMembers(ctx context.Context, groupID string) ([]string, error) {
	var members []string
	err := h.call(ctx, func(ctx context.Context) error {
		var err error
		members, err = h.next.ListGroupMembers(ctx, groupID)
		return err
	})
	return members, err
}

func (h *ReliableHost) RemoveMember(ctx context.Context, groupID, subjectID string) error {
	return h.call(ctx, func(ctx context.Context) error {
		return h.next.RemoveMember(ctx, groupID, subjectID)
	})
}

func (h *ReliableHost) SendGroupMessage(ctx context.Context, groupID, text string) error {
	return h.call(ctx, func(ctx context.Context) error {
		return h.next.SendGroupMessage(ctx, groupID, text)
	})
}

func (h *ReliableHost) call(ctx context.Context, fn func(ctx context.Context) error) error {
	// 1. Rate Limiter
	if err := h.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("host rate limit wait: %w", err)
	}

	// 2. Circuit Breaker
	_, err := h.cb.Execute(func() (interface{}, error) {
		r := retry.New(
			retry.Context(ctx),
			retry.Attempts(h.attempts),
			retry.DelayType(func(n uint, err error, config retry.DelayContext) time.Duration {
				// API бота вернуло 429 с Retry-After
				var tErr *connectors.ThrottleError
				if errors.As(err, &tErr) {
					return tErr.RetryAfter
				}
				return retry.BackOffDelay(n, err, config)
			}),
		)

		return nil, r.Do(func() error {
			tCtx, cancel := context.WithTimeout(ctx, h.timeout)
			defer cancel()
			err := fn(tCtx)
			if errors.Is(err, connectors.ErrRejected) {
				// Отказ бизнес-уровня (нет прав, нет участника) повторять бессмысленно
				return retry.Unrecoverable(err)
			}
			return err
		})
	})
	return err
}
