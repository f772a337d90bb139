package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/xela07ax/cloud-blacklist-guard/internal/audit"
	"github.com/xela07ax/cloud-blacklist-guard/internal/domain"
	"go.uber.org/zap"
)

// GroupHost - то, что guard вызывает у хоста бота.
type GroupHost interface {
	ListGroupMembers(ctx context.Context, groupID string) ([]string, error)
	RemoveMember(ctx context.Context, groupID, subjectID string) error
	SendGroupMessage(ctx context.Context, groupID, text string) error
}

// MembershipGate - проверка при вступлении в группу. Идет мимо батчей,
// но через общий лимитер. При любой неопределенности (ошибка проверки)
// никого не исключает: fail-open.
type MembershipGate struct {
	checker     Checker
	host        GroupHost
	auditor     audit.Auditor
	apiKey      string
	whitelist   map[string]struct{}
	notifyClean bool
	metrics     *Metrics
	logger      *zap.Logger
}

type GateOptions struct {
	APIKey string
	// Пустой whitelist - автопроверка выключена глобально.
	Whitelist   map[string]struct{}
	NotifyClean bool
}

func NewMembershipGate(checker Checker, host GroupHost, auditor audit.Auditor, opts GateOptions, metrics *Metrics, logger *zap.Logger) *MembershipGate {
	whitelist := opts.Whitelist
	if whitelist == nil {
		whitelist = make(map[string]struct{})
	}
	return &MembershipGate{
		checker:     checker,
		host:        host,
		auditor:     auditor,
		apiKey:      opts.APIKey,
		whitelist:   whitelist,
		notifyClean: opts.NotifyClean,
		metrics:     metrics,
		logger:      logger.Named("gate"),
	}
}

// Enabled сообщает, включена ли автопроверка для группы.
func (g *MembershipGate) Enabled(groupID string) bool {
	if len(g.whitelist) == 0 {
		return false
	}
	_, ok := g.whitelist[groupID]
	return ok
}

// OnMemberJoin обрабатывает одно событие вступления. Ничего не возвращает:
// ошибки логируются, событие в остальном игнорируется.
func (g *MembershipGate) OnMemberJoin(ctx context.Context, groupID, subjectID string) {
	defer func() {
		if r := recover(); r != nil {
			g.outcome("error")
			g.logger.Error("join handler panicked",
				zap.String("group_id", groupID),
				zap.String("subject_id", subjectID),
				zap.Any("panic", r))
		}
	}()

	log := g.logger.With(
		zap.String("group_id", groupID),
		zap.String("subject_id", subjectID),
		zap.String("trace_id", extractTraceID(ctx)))

	if !g.Enabled(groupID) {
		g.outcome("skipped")
		return
	}
	if g.apiKey == "" {
		g.outcome("no_key")
		log.Warn("join auto-check skipped: reputation api key is not configured")
		return
	}

	verdict, err := g.checker.Check(ctx, subjectID, g.apiKey)
	if err != nil {
		g.outcome("error")
		log.Warn("join check failed, member kept", zap.Error(err))
		g.audit(ctx, groupID, subjectID, domain.ActionLookupFailed, domain.Verdict{}, err)
		return
	}

	if !verdict.IsFlagged {
		g.outcome("clean")
		g.audit(ctx, groupID, subjectID, domain.ActionJoinAllowed, verdict, nil)
		if g.notifyClean {
			if err := g.host.SendGroupMessage(ctx, groupID, FormatJoinClean(subjectID)); err != nil {
				log.Warn("failed to post join info message", zap.Error(err))
			}
		}
		return
	}

	if g.metrics != nil {
		g.metrics.FlaggedTotal.WithLabelValues(string(domain.SourceJoin)).Inc()
	}

	if err := g.host.RemoveMember(ctx, groupID, subjectID); err != nil {
		g.outcome("error")
		g.removal("failed")
		log.Error("failed to remove flagged member", zap.Error(err))
		g.audit(ctx, groupID, subjectID, domain.ActionRemoveFailed, verdict, err)
		return
	}

	g.outcome("blocked")
	g.removal("ok")
	log.Info("flagged member removed on join",
		zap.String("reason", verdict.Reason),
		zap.String("category", verdict.Category))
	g.audit(ctx, groupID, subjectID, domain.ActionJoinBlocked, verdict, nil)

	if err := g.host.SendGroupMessage(ctx, groupID, FormatJoinBlocked(verdict)); err != nil {
		log.Warn("failed to post removal notice", zap.Error(err))
	}
}

func (g *MembershipGate) audit(ctx context.Context, groupID, subjectID string, action domain.ModerationAction, v domain.Verdict, err error) {
	event := domain.ModerationEvent{
		ID:        uuid.New().String(),
		TraceID:   extractTraceID(ctx),
		GroupID:   groupID,
		SubjectID: subjectID,
		Source:    domain.SourceJoin,
		Action:    action,
		Reason:    v.Reason,
		Category:  v.Category,
	}
	if err != nil {
		event.Error = err.Error()
	}
	g.auditor.Log(event)
}

func (g *MembershipGate) outcome(name string) {
	if g.metrics != nil {
		g.metrics.JoinEventsTotal.WithLabelValues(name).Inc()
	}
}

func (g *MembershipGate) removal(status string) {
	if g.metrics != nil {
		g.metrics.RemovalsTotal.WithLabelValues(string(domain.SourceJoin), status).Inc()
	}
}

// FormatJoinBlocked - уведомление в группу об исключении при вступлении.
func FormatJoinBlocked(v domain.Verdict) string {
	return fmt.Sprintf("User %s is on the cloud blacklist and has been removed.\nReason: %s\nCategory: %s\nRecorded: %s",
		v.SubjectID, v.Reason, v.Category, v.RecordedDate)
}

// FormatJoinClean - необязательное информационное сообщение.
func FormatJoinClean(subjectID string) string {
	return fmt.Sprintf("User %s passed the cloud blacklist check.", subjectID)
}
