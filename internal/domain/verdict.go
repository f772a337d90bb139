package domain

import (
	"strings"
	"time"
)

// Заглушки для полей, которые облачный черный список не заполнил.
// Пустые строки наружу (в сообщения группы) не уходят никогда.
const (
	DefaultReason         = "no description"
	DefaultCategory       = "unknown"
	DefaultReportingAdmin = "unknown"
	DefaultSeverity       = "none"
	DefaultRecordedDate   = "no record"
)

// Verdict - нормализованный ответ репутационного API по одному пользователю.
type Verdict struct {
	SubjectID      string `json:"subject_id"`
	IsFlagged      bool   `json:"is_flagged"`
	Reason         string `json:"reason"`
	Category       string `json:"category"`
	ReportingAdmin string `json:"reporting_admin"`
	Severity       string `json:"severity"`
	RecordedDate   string `json:"recorded_date"`
}

// NewVerdict собирает вердикт, подставляя заглушки вместо пустых полей.
func NewVerdict(subjectID string, flagged bool, reason, category, admin, severity, date string) Verdict {
	return Verdict{
		SubjectID:      subjectID,
		IsFlagged:      flagged,
		Reason:         orDefault(reason, DefaultReason),
		Category:       orDefault(category, DefaultCategory),
		ReportingAdmin: orDefault(admin, DefaultReportingAdmin),
		Severity:       orDefault(severity, DefaultSeverity),
		RecordedDate:   orDefault(date, DefaultRecordedDate),
	}
}

// NotFlagged - вердикт "записи нет".
func NotFlagged(subjectID string) Verdict {
	return NewVerdict(subjectID, false, "", "", "", "", "")
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return strings.TrimSpace(v)
}

// PendingBatch - результат последнего сканирования группы, ждущий подтверждения оператора.
type PendingBatch struct {
	ID           string        `json:"id"`
	GroupID      string        `json:"group_id"`
	Members      []Verdict     `json:"members"` // только flagged, в порядке сканирования
	CreatedAt    time.Time     `json:"created_at"`
	ExpiresAfter time.Duration `json:"expires_after"`
}

// ExpiredAt сообщает, истек ли батч к моменту now.
func (b PendingBatch) ExpiredAt(now time.Time) bool {
	return now.Sub(b.CreatedAt) > b.ExpiresAfter
}

// SubjectIDs возвращает ID участников батча.
func (b PendingBatch) SubjectIDs() []string {
	ids := make([]string, 0, len(b.Members))
	for _, m := range b.Members {
		ids = append(ids, m.SubjectID)
	}
	return ids
}

// ConfirmResult - итог исполнения подтвержденного батча.
type ConfirmResult struct {
	GroupID string   `json:"group_id"`
	BatchID string   `json:"batch_id"`
	Removed []string `json:"removed"`
	Failed  []string `json:"failed"`
}
