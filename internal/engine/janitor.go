package engine

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const DefaultJanitorInterval = 30 * time.Second

// Pruner - то, что janitor подрезает на каждом тике (RateLimiter).
type Pruner interface {
	Prune(now time.Time) int
}

// Sweeper - то, что janitor выметает на каждом тике (PendingActionStore).
type Sweeper interface {
	SweepExpired(now time.Time) []string
}

// JanitorTask - фоновый цикл: подрезает окно лимитера и выметает
// истекшие батчи. Паника в одной итерации не останавливает цикл.
type JanitorTask struct {
	limiter  Pruner
	store    Sweeper
	interval time.Duration
	now      func() time.Time
	metrics  *Metrics
	logger   *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewJanitorTask(limiter Pruner, store Sweeper, interval time.Duration, metrics *Metrics, logger *zap.Logger) *JanitorTask {
	if interval <= 0 {
		interval = DefaultJanitorInterval
	}
	return &JanitorTask{
		limiter:  limiter,
		store:    store,
		interval: interval,
		now:      time.Now,
		metrics:  metrics,
		logger:   logger.With(zap.String("mod", "janitor")),
	}
}

// Start запускает Run в горутине. Остановка - Stop или отмена ctx.
func (j *JanitorTask) Start(ctx context.Context) {
	ctx, j.cancel = context.WithCancel(ctx)
	j.wg.Add(1)
	go func() {
		defer j.wg.Done()
		j.Run(ctx)
	}()
}

// Stop отменяет цикл и ждет выхода горутины: висящих пробуждений не остается.
func (j *JanitorTask) Stop() {
	if j.cancel != nil {
		j.cancel()
	}
	j.wg.Wait()
	j.logger.Info("janitor stopped")
}

// Run крутится до отмены ctx. Отмена - штатный выход, не ошибка.
func (j *JanitorTask) Run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.Sweep()
		}
	}
}

// Sweep - одна итерация очистки.
func (j *JanitorTask) Sweep() {
	defer func() {
		if r := recover(); r != nil {
			if j.metrics != nil {
				j.metrics.JanitorFailures.Inc()
			}
			j.logger.Error("janitor iteration failed", zap.Any("panic", r))
		}
	}()

	now := j.now()
	window := j.limiter.Prune(now)
	evicted := j.store.SweepExpired(now)

	if len(evicted) > 0 {
		j.logger.Info("expired scan results evicted",
			zap.Strings("group_ids", evicted),
			zap.Int("limiter_window", window))
		return
	}
	j.logger.Debug("janitor tick", zap.Int("limiter_window", window))
}
