package audit

import (
	"context"

	"github.com/xela07ax/cloud-blacklist-guard/internal/domain"
	"go.uber.org/zap"
)

// LogStorage пишет журнал в zap, когда PostgreSQL не настроен.
type LogStorage struct {
	logger *zap.Logger
}

func NewLogStorage(logger *zap.Logger) *LogStorage {
	return &LogStorage{logger: logger.Named("moderation-log")}
}

func (s *LogStorage) WriteBatch(_ context.Context, events []domain.ModerationEvent) error {
	for _, e := range events {
		s.logger.Info("moderation event",
			zap.String("id", e.ID),
			zap.String("trace_id", e.TraceID),
			zap.String("group_id", e.GroupID),
			zap.String("subject_id", e.SubjectID),
			zap.String("batch_id", e.BatchID),
			zap.String("source", string(e.Source)),
			zap.String("action", string(e.Action)),
			zap.String("reason", e.Reason),
			zap.String("category", e.Category),
			zap.String("error", e.Error),
			zap.Time("timestamp", e.Timestamp),
		)
	}
	return nil
}
