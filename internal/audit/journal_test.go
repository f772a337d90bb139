package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xela07ax/cloud-blacklist-guard/internal/domain"
)

type memoryStorage struct {
	mu      sync.Mutex
	batches [][]domain.ModerationEvent
	fail    error
}

func (m *memoryStorage) WriteBatch(_ context.Context, events []domain.ModerationEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	// журнал переиспользует слайс после записи
	m.batches = append(m.batches, append([]domain.ModerationEvent(nil), events...))
	return m.fail
}

func (m *memoryStorage) Events() []domain.ModerationEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.ModerationEvent
	for _, b := range m.batches {
		out = append(out, b...)
	}
	return out
}

func (m *memoryStorage) Batches() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.batches)
}

type gauge struct {
	mu   sync.Mutex
	last float64
}

func (g *gauge) Set(v float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.last = v
}

type JournalSuite struct {
	suite.Suite
	storage *memoryStorage
	journal *Journal
}

func TestJournalSuite(t *testing.T) {
	suite.Run(t, new(JournalSuite))
}

func (s *JournalSuite) SetupTest() {
	s.storage = &memoryStorage{}
	s.journal = NewJournal(s.storage, 1000, &gauge{}, zap.NewNop())
	s.journal.Start()
}

func (s *JournalSuite) TearDownTest() {
	s.journal.Stop()
}

func event(id string) domain.ModerationEvent {
	return domain.ModerationEvent{
		ID:        id,
		GroupID:   "g1",
		SubjectID: "1002",
		Source:    domain.SourceScan,
		Action:    domain.ActionStaged,
	}
}

func (s *JournalSuite) TestStopDrainsBuffer() {
	for i := 0; i < 250; i++ {
		s.journal.Log(event(string(rune('a' + i%26))))
	}
	s.journal.Stop()

	s.Len(s.storage.Events(), 250)
	s.GreaterOrEqual(s.storage.Batches(), 3, "flushes in batches of 100")
}

func (s *JournalSuite) TestTickerFlushesPartialBatch() {
	s.journal.Log(event("one"))

	s.Eventually(func() bool {
		return len(s.storage.Events()) == 1
	}, 2*time.Second, 20*time.Millisecond)
}

func (s *JournalSuite) TestLogStampsTimestamp() {
	s.journal.Log(event("ts"))
	s.journal.Stop()

	events := s.storage.Events()
	s.Require().Len(events, 1)
	s.False(events[0].Timestamp.IsZero())
}

func (s *JournalSuite) TestLogAfterStopIsDropped() {
	s.journal.Stop()
	s.NotPanics(func() { s.journal.Log(event("late")) })
	s.Empty(s.storage.Events())
}

func (s *JournalSuite) TestConcurrentLogDuringStop() {
	var wg sync.WaitGroup
	start := make(chan struct{})
	for w := 0; w < 16; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			for i := 0; i < 200; i++ {
				s.journal.Log(event("race"))
			}
		}()
	}

	close(start)
	s.journal.Stop()
	wg.Wait()

	stored := len(s.storage.Events())
	s.journal.Log(event("after"))
	s.Len(s.storage.Events(), stored)
}

func (s *JournalSuite) TestStopIsIdempotent() {
	s.journal.Stop()
	s.NotPanics(s.journal.Stop)
}

func TestJournalSurvivesStorageErrors(t *testing.T) {
	storage := &memoryStorage{fail: errors.New("db down")}
	j := NewJournal(storage, 10, nil, zap.NewNop())
	j.Start()

	j.Log(event("x"))
	j.Stop()

	require.Equal(t, 1, storage.Batches())
}

func TestJournalOverflowDoesNotBlock(t *testing.T) {
	storage := &memoryStorage{}
	// воркер не запущен: буфер на 2 события быстро переполнится
	j := NewJournal(storage, 2, nil, zap.NewNop())

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			j.Log(event("x"))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Log blocked on a full buffer")
	}
}

func TestLogStorageWritesStructuredEntries(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	storage := NewLogStorage(zap.New(core))

	require.NoError(t, storage.WriteBatch(context.Background(), []domain.ModerationEvent{event("e1"), event("e2")}))

	entries := logs.FilterMessage("moderation event").All()
	require.Len(t, entries, 2)
	require.Equal(t, "e1", entries[0].ContextMap()["id"])
	require.Equal(t, string(domain.ActionStaged), entries[0].ContextMap()["action"])
}
