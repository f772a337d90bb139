package engine

import (
	"context"
	"sync"
	"time"
)

// RateLimiter - скользящий лог запросов: не более maxRequests вызовов
// в любом окне длиной window. В отличие от фиксированного окна
// не дает двойного всплеска на границе окон.
type RateLimiter struct {
	mu          sync.Mutex
	timestamps  []time.Time // FIFO, все в (now-window, now]
	maxRequests int
	window      time.Duration

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	metrics *Metrics
}

func NewRateLimiter(maxRequests int, window time.Duration, metrics *Metrics) *RateLimiter {
	if maxRequests < 1 {
		maxRequests = 1
	}
	return &RateLimiter{
		timestamps:  make([]time.Time, 0, maxRequests),
		maxRequests: maxRequests,
		window:      window,
		now:         time.Now,
		sleep:       sleepCtx,
		metrics:     metrics,
	}
}

// Acquire блокирует только вызывающую горутину, пока еще один вызов
// не уложится в окно, затем фиксирует его. Ошибка - только отмена ctx.
func (l *RateLimiter) Acquire(ctx context.Context) error {
	start := l.now()
	for {
		l.mu.Lock()
		now := l.now()
		l.pruneLocked(now)

		if len(l.timestamps) < l.maxRequests {
			// проверка и запись под одним локом
			l.timestamps = append(l.timestamps, now)
			size := len(l.timestamps)
			l.mu.Unlock()

			if l.metrics != nil {
				l.metrics.LimiterWait.Observe(now.Sub(start).Seconds())
				l.metrics.LimiterWindow.Set(float64(size))
			}
			return nil
		}

		wait := l.window - now.Sub(l.timestamps[0])
		l.mu.Unlock()

		if wait > 0 {
			if err := l.sleep(ctx, wait); err != nil {
				return err
			}
		}
	}
}

// Prune выкидывает устаревшие метки. Вызывается janitor'ом.
func (l *RateLimiter) Prune(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pruneLocked(now)
	if l.metrics != nil {
		l.metrics.LimiterWindow.Set(float64(len(l.timestamps)))
	}
	return len(l.timestamps)
}

// Len - текущий размер окна.
func (l *RateLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.timestamps)
}

// pruneLocked: метка на границе окна (ts == now-window) уже не считается.
// Must be called while holding l.mu.
func (l *RateLimiter) pruneLocked(now time.Time) {
	cutoff := now.Add(-l.window)
	i := 0
	for ; i < len(l.timestamps); i++ {
		if l.timestamps[i].After(cutoff) {
			break
		}
	}
	if i > 0 {
		l.timestamps = append(l.timestamps[:0], l.timestamps[i:]...)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
