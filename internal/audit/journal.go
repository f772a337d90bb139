package audit

/*
Журнал модерации: кого guard поставил на подтверждение, исключил или пропустил.

- Non-blocking Log: события уходят в буферизованный канал, горячий путь
  (проверка вступления, подтверждение батча) не ждет базу.
- Batching: запись пачками по 100 событий или по таймеру.
- Drain: Stop закрывает канал и ждет, пока воркер допишет остатки.
*/

import (
	"context"
	"sync"
	"time"

	"github.com/xela07ax/cloud-blacklist-guard/internal/domain"
	"go.uber.org/zap"
)

const (
	defaultBufferSize = 10000
	flushBatchSize    = 100
	flushInterval     = 500 * time.Millisecond
)

// Storage определяет, куда физически сохраняются события
type Storage interface {
	// WriteBatch сохраняет пачку событий за один раз
	WriteBatch(ctx context.Context, events []domain.ModerationEvent) error
}

type Auditor interface {
	Log(event domain.ModerationEvent)
}

// BufferObserver получает заполненность буфера (метрика backpressure).
type BufferObserver interface {
	Set(float64)
}

type Journal struct {
	ch       chan domain.ModerationEvent
	repo     Storage
	logger   *zap.Logger
	fill     BufferObserver
	wg       sync.WaitGroup
	interval time.Duration

	// closeMu держится на чтение через проверку closed и отправку в канал,
	// на запись - при закрытии канала
	closeMu sync.RWMutex
	closed  bool
}

func NewJournal(repo Storage, bufferSize int, fill BufferObserver, logger *zap.Logger) *Journal {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	return &Journal{
		ch:       make(chan domain.ModerationEvent, bufferSize),
		repo:     repo,
		fill:     fill,
		interval: flushInterval,
		logger:   logger.With(zap.String("mod", "journal")),
	}
}

func (j *Journal) Start() {
	j.wg.Add(1)
	go j.worker()
}

// Stop «запирает» вход в канал и ждет, пока воркер всё допишет.
func (j *Journal) Stop() {
	j.closeMu.Lock()
	if j.closed {
		j.closeMu.Unlock()
		return
	}
	j.closed = true
	j.logger.Info("stopping journal: closing channel and flushing buffer...")
	close(j.ch)
	j.closeMu.Unlock()

	j.wg.Wait()
	j.logger.Info("journal stopped gracefully")
}

func (j *Journal) Log(event domain.ModerationEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	j.closeMu.RLock()
	defer j.closeMu.RUnlock()

	if j.closed {
		j.logger.Warn("moderation event dropped: journal is stopping", zap.String("id", event.ID))
		return
	}

	// Load Shedding: при переполнении не блокируем вызывающего
	select {
	case j.ch <- event:
		if j.fill != nil {
			j.fill.Set(float64(len(j.ch)))
		}
	default:
		j.logger.Error("journal_buffer_overflow",
			zap.String("group_id", event.GroupID),
			zap.String("subject_id", event.SubjectID),
			zap.String("action", string(event.Action)),
		)
	}
}

func (j *Journal) worker() {
	defer j.wg.Done()

	batch := make([]domain.ModerationEvent, 0, flushBatchSize)
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) > 0 {
			// Background: основной контекст к моменту Stop уже может быть отменен
			if err := j.repo.WriteBatch(context.Background(), batch); err != nil {
				j.logger.Error("journal flush failed", zap.Int("events", len(batch)), zap.Error(err))
			}
			batch = batch[:0]
		}
		if j.fill != nil {
			j.fill.Set(float64(len(j.ch)))
		}
	}

	for {
		select {
		case event, ok := <-j.ch:
			if !ok {
				// Канал закрыт в Stop: остатки уже вычитаны, финальный сброс
				flush()
				j.logger.Info("journal worker finished")
				return
			}
			batch = append(batch, event)
			if len(batch) >= flushBatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}
