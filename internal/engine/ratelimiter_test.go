package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

type RateLimiterSuite struct {
	suite.Suite
	clock   *fakeClock
	limiter *RateLimiter
}

func TestRateLimiterSuite(t *testing.T) {
	suite.Run(t, new(RateLimiterSuite))
}

func (s *RateLimiterSuite) SetupTest() {
	s.clock = newFakeClock()
	s.limiter = NewRateLimiter(20, 5*time.Second, NewMetrics(nil))
	s.limiter.now = s.clock.Now
	s.limiter.sleep = s.clock.Sleep
}

func (s *RateLimiterSuite) TestAdmitsUpToBudgetWithoutWaiting() {
	start := s.clock.Now()
	for i := 0; i < 20; i++ {
		s.Require().NoError(s.limiter.Acquire(context.Background()))
	}
	s.Equal(start, s.clock.Now(), "first 20 calls must not wait")
	s.Equal(20, s.limiter.Len())
}

func (s *RateLimiterSuite) TestTwentyFirstCallWaitsForOldestToLeaveWindow() {
	start := s.clock.Now()
	for i := 0; i < 20; i++ {
		s.Require().NoError(s.limiter.Acquire(context.Background()))
	}

	s.Require().NoError(s.limiter.Acquire(context.Background()))
	s.Equal(start.Add(5*time.Second), s.clock.Now())
	s.Equal(1, s.limiter.Len(), "whole first burst left the window at the same instant")
}

func (s *RateLimiterSuite) TestNoWindowExceedsBudget() {
	// Разнесенные во времени вызовы плюс ожидания: проверяем каждое окно [t, t+5s)
	var admitted []time.Time
	for i := 0; i < 100; i++ {
		if i%7 == 0 {
			s.clock.Advance(300 * time.Millisecond)
		}
		s.Require().NoError(s.limiter.Acquire(context.Background()))
		admitted = append(admitted, s.clock.Now())
	}

	for i, from := range admitted {
		to := from.Add(5 * time.Second)
		n := 0
		for _, ts := range admitted[i:] {
			if ts.Before(to) {
				n++
			}
		}
		s.LessOrEqual(n, 20, "window starting at %v", from)
	}
}

func (s *RateLimiterSuite) TestBoundaryTimestampIsPruned() {
	s.Require().NoError(s.limiter.Acquire(context.Background()))
	s.clock.Advance(5 * time.Second)
	s.Equal(0, s.limiter.Prune(s.clock.Now()), "ts == now-window is outside the window")
}

func (s *RateLimiterSuite) TestPruneKeepsRecentEntries() {
	for i := 0; i < 3; i++ {
		s.Require().NoError(s.limiter.Acquire(context.Background()))
		s.clock.Advance(2 * time.Second)
	}
	// метки: T, T+2, T+4; сейчас T+6 - в окне (T+1, T+6] остаются две
	s.Equal(2, s.limiter.Prune(s.clock.Now()))
}

func (s *RateLimiterSuite) TestCancelledContextAbortsWait() {
	for i := 0; i < 20; i++ {
		s.Require().NoError(s.limiter.Acquire(context.Background()))
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.limiter.Acquire(ctx)
	s.ErrorIs(err, context.Canceled)
	s.Equal(20, s.limiter.Len(), "cancelled caller must not take a slot")
}

func TestRateLimiterConcurrentCallersRealClock(t *testing.T) {
	const (
		budget  = 5
		window  = 200 * time.Millisecond
		callers = 12
	)
	limiter := NewRateLimiter(budget, window, nil)

	var (
		admitted atomic.Int32
		wg       sync.WaitGroup
	)
	start := time.Now()
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := limiter.Acquire(context.Background()); err != nil {
				t.Errorf("acquire: %v", err)
				return
			}
			admitted.Add(1)
		}()
	}
	wg.Wait()
	elapsed := time.Since(start)

	if got := admitted.Load(); got != callers {
		t.Fatalf("admitted %d of %d callers", got, callers)
	}
	// 12 вызовов при бюджете 5 - минимум два полных окна ожидания
	if elapsed < 2*window {
		t.Fatalf("12 calls finished in %v, want >= %v", elapsed, 2*window)
	}
	if n := limiter.Len(); n > budget {
		t.Fatalf("window holds %d entries, budget is %d", n, budget)
	}
}
