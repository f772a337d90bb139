package engine

import (
	"context"
	"sync"
	"time"

	"github.com/xela07ax/cloud-blacklist-guard/internal/domain"
)

// fakeChecker отвечает по заранее заданной таблице с необязательной задержкой.
type fakeChecker struct {
	mu      sync.Mutex
	flagged map[string]domain.Verdict
	errs    map[string]error
	delays  map[string]time.Duration
	calls   []string
}

func newFakeChecker() *fakeChecker {
	return &fakeChecker{
		flagged: make(map[string]domain.Verdict),
		errs:    make(map[string]error),
		delays:  make(map[string]time.Duration),
	}
}

func (f *fakeChecker) flag(id, reason string) *fakeChecker {
	f.flagged[id] = domain.NewVerdict(id, true, reason, "spam", "", "", "")
	return f
}

func (f *fakeChecker) Check(ctx context.Context, subjectID, apiKey string) (domain.Verdict, error) {
	f.mu.Lock()
	f.calls = append(f.calls, subjectID)
	delay := f.delays[subjectID]
	err := f.errs[subjectID]
	v, flagged := f.flagged[subjectID]
	f.mu.Unlock()

	if delay > 0 {
		if err := sleepCtx(ctx, delay); err != nil {
			return domain.Verdict{}, domain.NewLookupError(subjectID, domain.ErrUpstreamUnavailable, err)
		}
	}
	if err != nil {
		return domain.Verdict{}, err
	}
	if flagged {
		return v, nil
	}
	return domain.NotFlagged(subjectID), nil
}

func (f *fakeChecker) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// recordingAuditor собирает события журнала в памяти.
type recordingAuditor struct {
	mu     sync.Mutex
	events []domain.ModerationEvent
}

func (a *recordingAuditor) Log(e domain.ModerationEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, e)
}

func (a *recordingAuditor) Actions() []domain.ModerationAction {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]domain.ModerationAction, 0, len(a.events))
	for _, e := range a.events {
		out = append(out, e.Action)
	}
	return out
}

// fakeClock - ручное время для лимитера и стора.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Sleep подменяет ожидание лимитера: время "проходит" мгновенно.
func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.Advance(d)
	return nil
}
