package domain

import "time"

// ModerationSource - откуда пришло действие.
type ModerationSource string

const (
	SourceScan    ModerationSource = "scan"
	SourceJoin    ModerationSource = "join"
	SourceConfirm ModerationSource = "confirm"
)

// ModerationAction - что сделал guard.
type ModerationAction string

const (
	ActionStaged       ModerationAction = "STAGED"
	ActionRemoved      ModerationAction = "REMOVED"
	ActionRemoveFailed ModerationAction = "REMOVE_FAILED"
	ActionJoinBlocked  ModerationAction = "JOIN_BLOCKED"
	ActionJoinAllowed  ModerationAction = "JOIN_ALLOWED"
	ActionLookupFailed ModerationAction = "LOOKUP_FAILED"
)

// ModerationEvent - запись аудита модерации.
type ModerationEvent struct {
	ID        string           `json:"id"`
	TraceID   string           `json:"trace_id"`
	GroupID   string           `json:"group_id"`
	SubjectID string           `json:"subject_id"`
	BatchID   string           `json:"batch_id,omitempty"`
	Source    ModerationSource `json:"source"`
	Action    ModerationAction `json:"action"`
	Reason    string           `json:"reason,omitempty"`
	Category  string           `json:"category,omitempty"`
	Error     string           `json:"error,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}
