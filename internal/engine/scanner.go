package engine

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/xela07ax/cloud-blacklist-guard/internal/audit"
	"github.com/xela07ax/cloud-blacklist-guard/internal/domain"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Checker - одиночная проверка пользователя (ReputationClient).
type Checker interface {
	Check(ctx context.Context, subjectID, apiKey string) (domain.Verdict, error)
}

// BatchScanner параллельно проверяет участников группы.
// Отдельного лимита параллелизма нет: допуск регулирует только RateLimiter.
type BatchScanner struct {
	checker Checker
	store   *PendingActionStore
	auditor audit.Auditor
	metrics *Metrics
	logger  *zap.Logger
}

func NewBatchScanner(checker Checker, store *PendingActionStore, auditor audit.Auditor, metrics *Metrics, logger *zap.Logger) *BatchScanner {
	return &BatchScanner{
		checker: checker,
		store:   store,
		auditor: auditor,
		metrics: metrics,
		logger:  logger.Named("scanner"),
	}
}

// Scan возвращает только flagged-вердикты в порядке memberIDs.
// Ошибка проверки одного участника не прерывает батч: участник считается
// "неизвестным", а не нарушителем.
func (s *BatchScanner) Scan(ctx context.Context, groupID string, memberIDs []string, apiKey string) ([]domain.Verdict, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, domain.ErrConfigMissing
	}
	if s.metrics != nil {
		s.metrics.ScansTotal.Inc()
	}

	start := time.Now()
	// Слот на каждого участника: порядок не зависит от порядка завершения
	slots := make([]domain.Verdict, len(memberIDs))
	var failed atomic.Int32

	var g errgroup.Group
	for i, memberID := range memberIDs {
		g.Go(func() error {
			verdict, err := s.checker.Check(ctx, memberID, apiKey)
			if err != nil {
				failed.Add(1)
				s.logger.Warn("member skipped",
					zap.String("group_id", groupID),
					zap.String("subject_id", memberID),
					zap.Error(err))
				return nil
			}
			slots[i] = verdict
			return nil
		})
	}
	_ = g.Wait()

	flagged := make([]domain.Verdict, 0)
	for _, v := range slots {
		if v.IsFlagged {
			flagged = append(flagged, v)
		}
	}

	s.logger.Info("group scan finished",
		zap.String("group_id", groupID),
		zap.Int("members", len(memberIDs)),
		zap.Int("flagged", len(flagged)),
		zap.Int32("failed", failed.Load()),
		zap.Duration("took", time.Since(start)))

	if err := ctx.Err(); err != nil {
		// Сканирование прервано - неполный результат не ставим на подтверждение
		return flagged, err
	}

	if len(flagged) == 0 {
		s.store.MarkScanned(groupID)
		return flagged, nil
	}

	batch := s.store.Stage(groupID, flagged)
	if s.metrics != nil {
		s.metrics.FlaggedTotal.WithLabelValues(string(domain.SourceScan)).Add(float64(len(flagged)))
	}
	for _, v := range flagged {
		s.auditor.Log(domain.ModerationEvent{
			ID:        uuid.New().String(),
			TraceID:   extractTraceID(ctx),
			GroupID:   groupID,
			SubjectID: v.SubjectID,
			BatchID:   batch.ID,
			Source:    domain.SourceScan,
			Action:    domain.ActionStaged,
			Reason:    v.Reason,
			Category:  v.Category,
		})
	}
	return flagged, nil
}
