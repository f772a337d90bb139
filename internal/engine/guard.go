package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xela07ax/cloud-blacklist-guard/internal/audit"
	"github.com/xela07ax/cloud-blacklist-guard/internal/domain"
	"go.uber.org/zap"
)

// Guard - точка входа для хоста бота: команды операторов и события групп.
type Guard struct {
	scanner       *BatchScanner
	gate          *MembershipGate
	store         *PendingActionStore
	host          GroupHost
	auditor       audit.Auditor
	apiKey        string
	enabledGroups map[string]struct{}
	metrics       *Metrics
	logger        *zap.Logger
}

type GuardOptions struct {
	APIKey string
	// Пустой список - команды разрешены во всех группах.
	EnabledGroups map[string]struct{}
}

func NewGuard(scanner *BatchScanner, gate *MembershipGate, store *PendingActionStore, host GroupHost, auditor audit.Auditor, opts GuardOptions, metrics *Metrics, logger *zap.Logger) *Guard {
	enabled := opts.EnabledGroups
	if enabled == nil {
		enabled = make(map[string]struct{})
	}
	return &Guard{
		scanner:       scanner,
		gate:          gate,
		store:         store,
		host:          host,
		auditor:       auditor,
		apiKey:        opts.APIKey,
		enabledGroups: enabled,
		metrics:       metrics,
		logger:        logger.Named("guard"),
	}
}

// OnMemberJoin - событие вступления в группу.
func (g *Guard) OnMemberJoin(ctx context.Context, groupID, subjectID string) {
	g.gate.OnMemberJoin(ctx, groupID, subjectID)
}

// OnScanCommand сканирует всех участников группы и ставит найденных на подтверждение.
// apiKey из команды имеет приоритет над ключом из конфигурации.
func (g *Guard) OnScanCommand(ctx context.Context, groupID, apiKey string) (string, error) {
	if err := g.checkGroup(groupID); err != nil {
		return "", err
	}
	if strings.TrimSpace(apiKey) == "" {
		apiKey = g.apiKey
	}
	if strings.TrimSpace(apiKey) == "" {
		return "", domain.ErrConfigMissing
	}

	members, err := g.host.ListGroupMembers(ctx, groupID)
	if err != nil {
		g.logger.Error("failed to list group members", zap.String("group_id", groupID), zap.Error(err))
		return "", fmt.Errorf("list group members: %w", err)
	}

	flagged, err := g.scanner.Scan(ctx, groupID, members, apiKey)
	if err != nil {
		return "", err
	}
	return FormatScanReport(groupID, len(members), flagged, g.store.CleanupThreshold(groupID)), nil
}

// OnConfirmCommand исполняет подтвержденный батч: исключает всех из него.
// Ошибка исключения одного участника не останавливает остальных.
func (g *Guard) OnConfirmCommand(ctx context.Context, groupID string) (string, domain.ConfirmResult, error) {
	if strings.TrimSpace(groupID) == "" {
		return "", domain.ConfirmResult{}, domain.ErrNotInGroupContext
	}

	batch, err := g.store.ConfirmAndTake(groupID)
	if err != nil {
		return "", domain.ConfirmResult{}, err
	}

	result := domain.ConfirmResult{
		GroupID: groupID,
		BatchID: batch.ID,
		Removed: make([]string, 0, len(batch.Members)),
		Failed:  make([]string, 0),
	}

	for _, v := range batch.Members {
		event := domain.ModerationEvent{
			ID:        uuid.New().String(),
			TraceID:   extractTraceID(ctx),
			GroupID:   groupID,
			SubjectID: v.SubjectID,
			BatchID:   batch.ID,
			Source:    domain.SourceConfirm,
			Reason:    v.Reason,
			Category:  v.Category,
		}

		if err := g.host.RemoveMember(ctx, groupID, v.SubjectID); err != nil {
			g.logger.Warn("failed to remove member",
				zap.String("group_id", groupID),
				zap.String("subject_id", v.SubjectID),
				zap.String("batch_id", batch.ID),
				zap.Error(err))
			result.Failed = append(result.Failed, v.SubjectID)
			event.Action = domain.ActionRemoveFailed
			event.Error = err.Error()
			g.removal("failed")
		} else {
			result.Removed = append(result.Removed, v.SubjectID)
			event.Action = domain.ActionRemoved
			g.removal("ok")
		}
		g.auditor.Log(event)
	}

	g.logger.Info("staged batch confirmed",
		zap.String("group_id", groupID),
		zap.String("batch_id", batch.ID),
		zap.Int("removed", len(result.Removed)),
		zap.Int("failed", len(result.Failed)))

	return FormatConfirmReport(result), result, nil
}

// OnSetCleanupThreshold - настройка порога очистки staged-результатов группы.
func (g *Guard) OnSetCleanupThreshold(ctx context.Context, groupID string, seconds int) (string, error) {
	if strings.TrimSpace(groupID) == "" {
		return "", domain.ErrNotInGroupContext
	}
	if err := g.store.SetCleanupThreshold(groupID, seconds); err != nil {
		return "", err
	}
	g.logger.Info("cleanup threshold updated", zap.String("group_id", groupID), zap.Int("seconds", seconds))
	return fmt.Sprintf("Scan results in this group now expire after %d seconds.", seconds), nil
}

// OnSetCleanupThresholdText принимает значение как есть из текста команды.
func (g *Guard) OnSetCleanupThresholdText(ctx context.Context, groupID, raw string) (string, error) {
	seconds, err := ParseThreshold(raw)
	if err != nil {
		return "", err
	}
	return g.OnSetCleanupThreshold(ctx, groupID, seconds)
}

// Pending - текущий staged-батч группы без изъятия.
func (g *Guard) Pending(groupID string) (domain.PendingBatch, bool) {
	return g.store.Peek(groupID)
}

func (g *Guard) checkGroup(groupID string) error {
	if strings.TrimSpace(groupID) == "" {
		return domain.ErrNotInGroupContext
	}
	if len(g.enabledGroups) == 0 {
		return nil
	}
	if _, ok := g.enabledGroups[groupID]; !ok {
		return domain.ErrGroupNotEnabled
	}
	return nil
}

func (g *Guard) removal(status string) {
	if g.metrics != nil {
		g.metrics.RemovalsTotal.WithLabelValues(string(domain.SourceScan), status).Inc()
	}
}

// FormatScanReport - ответ оператору на команду сканирования.
func FormatScanReport(groupID string, scanned int, flagged []domain.Verdict, expiresAfter time.Duration) string {
	var b strings.Builder
	if len(flagged) == 0 {
		fmt.Fprintf(&b, "Scanned %d members of group %s: no blacklisted members found.", scanned, groupID)
		return b.String()
	}

	fmt.Fprintf(&b, "Scanned %d members of group %s: %d blacklisted.\n", scanned, groupID, len(flagged))
	for i, v := range flagged {
		fmt.Fprintf(&b, "%d. %s | reason: %s | category: %s | admin: %s | severity: %s | date: %s\n",
			i+1, v.SubjectID, v.Reason, v.Category, v.ReportingAdmin, v.Severity, v.RecordedDate)
	}
	fmt.Fprintf(&b, "Send the confirm command within %d seconds to remove them.", int(expiresAfter/time.Second))
	return b.String()
}

// FormatConfirmReport - итог исключения.
func FormatConfirmReport(r domain.ConfirmResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Removal finished: %d removed, %d failed.", len(r.Removed), len(r.Failed))
	if len(r.Failed) > 0 {
		fmt.Fprintf(&b, "\nFailed: %s", strings.Join(r.Failed, ", "))
	}
	return b.String()
}
