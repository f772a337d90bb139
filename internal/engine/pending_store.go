package engine

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xela07ax/cloud-blacklist-guard/internal/domain"
)

const (
	DefaultCleanupThreshold = 300 * time.Second
	MinCleanupThreshold     = 10 * time.Second
	MaxCleanupThreshold     = 3600 * time.Second
)

// PendingActionStore - per-group staging area результатов сканирования.
// Все групповые мапы (батчи, пороги очистки, время сканирования) живут
// под одним мьютексом: одна группа - не больше одного батча.
type PendingActionStore struct {
	mu         sync.Mutex
	batches    map[string]domain.PendingBatch
	thresholds map[string]time.Duration
	lastScan   map[string]time.Time

	defaultThreshold time.Duration
	now              func() time.Time
	metrics          *Metrics
}

func NewPendingActionStore(defaultThreshold time.Duration, metrics *Metrics) *PendingActionStore {
	if defaultThreshold <= 0 {
		defaultThreshold = DefaultCleanupThreshold
	}
	return &PendingActionStore{
		batches:          make(map[string]domain.PendingBatch),
		thresholds:       make(map[string]time.Duration),
		lastScan:         make(map[string]time.Time),
		defaultThreshold: defaultThreshold,
		now:              time.Now,
		metrics:          metrics,
	}
}

// Stage сохраняет батч группы, затирая предыдущий.
func (s *PendingActionStore) Stage(groupID string, verdicts []domain.Verdict) domain.PendingBatch {
	members := make([]domain.Verdict, len(verdicts))
	copy(members, verdicts)

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	batch := domain.PendingBatch{
		ID:           uuid.New().String(),
		GroupID:      groupID,
		Members:      members,
		CreatedAt:    now,
		ExpiresAfter: s.thresholdLocked(groupID),
	}
	s.batches[groupID] = batch
	s.lastScan[groupID] = now
	s.reportLocked()
	return batch
}

// MarkScanned фиксирует время сканирования без батча (ничего не найдено).
func (s *PendingActionStore) MarkScanned(groupID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastScan[groupID] = s.now()
}

// ConfirmAndTake атомарно забирает батч группы. Истекший батч, до которого
// janitor еще не дошел, удаляется и не выдается.
func (s *PendingActionStore) ConfirmAndTake(groupID string) (domain.PendingBatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	batch, ok := s.batches[groupID]
	if !ok {
		return domain.PendingBatch{}, domain.ErrNoStagedBatch
	}
	delete(s.batches, groupID)
	s.reportLocked()

	if s.expiredLocked(batch, s.now()) {
		return domain.PendingBatch{}, domain.ErrNoStagedBatch
	}
	return batch, nil
}

// Peek отдает батч без изъятия. Истекший, но еще не выметенный батч считается отсутствующим.
func (s *PendingActionStore) Peek(groupID string) (domain.PendingBatch, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	batch, ok := s.batches[groupID]
	if !ok || s.expiredLocked(batch, s.now()) {
		return domain.PendingBatch{}, false
	}
	return batch, true
}

// SweepExpired удаляет батчи, у которых now - CreatedAt > порога группы.
// Возвращает ID выметенных групп для логирования.
func (s *PendingActionStore) SweepExpired(now time.Time) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var evicted []string
	for groupID, batch := range s.batches {
		if s.expiredLocked(batch, now) {
			delete(s.batches, groupID)
			evicted = append(evicted, groupID)
		}
	}
	if len(evicted) > 0 && s.metrics != nil {
		s.metrics.ExpiredBatches.Add(float64(len(evicted)))
	}
	s.reportLocked()
	return evicted
}

// SetCleanupThreshold задает порог очистки группы в секундах.
// При ошибке прежнее значение сохраняется.
func (s *PendingActionStore) SetCleanupThreshold(groupID string, seconds int) error {
	// Диапазон проверяется на целых секундах: умножение на time.Second переполняется
	if seconds < int(MinCleanupThreshold/time.Second) || seconds > int(MaxCleanupThreshold/time.Second) {
		return domain.ErrInvalidThreshold
	}
	d := time.Duration(seconds) * time.Second

	s.mu.Lock()
	defer s.mu.Unlock()
	s.thresholds[groupID] = d
	return nil
}

// CleanupThreshold - действующий порог группы.
func (s *PendingActionStore) CleanupThreshold(groupID string) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.thresholdLocked(groupID)
}

// LastScan - когда группу сканировали последний раз.
func (s *PendingActionStore) LastScan(groupID string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.lastScan[groupID]
	return t, ok
}

// Len - число групп с батчем.
func (s *PendingActionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.batches)
}

// Reset очищает все состояние при остановке плагина.
func (s *PendingActionStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = make(map[string]domain.PendingBatch)
	s.thresholds = make(map[string]time.Duration)
	s.lastScan = make(map[string]time.Time)
	s.reportLocked()
}

// Порог читается в момент проверки: изменение порога действует и на уже
// стоящий батч.
func (s *PendingActionStore) expiredLocked(batch domain.PendingBatch, now time.Time) bool {
	return now.Sub(batch.CreatedAt) > s.thresholdLocked(batch.GroupID)
}

func (s *PendingActionStore) thresholdLocked(groupID string) time.Duration {
	if d, ok := s.thresholds[groupID]; ok {
		return d
	}
	return s.defaultThreshold
}

func (s *PendingActionStore) reportLocked() {
	if s.metrics != nil {
		s.metrics.PendingBatches.Set(float64(len(s.batches)))
	}
}
