package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/xela07ax/cloud-blacklist-guard/internal/domain"

	_ "github.com/jackc/pgx/v5/stdlib" // Драйвер Postgres
)

const moderationColumns = 11

const createModerationLog = `
CREATE TABLE IF NOT EXISTS moderation_log (
	id          UUID PRIMARY KEY,
	trace_id    TEXT NOT NULL,
	group_id    TEXT NOT NULL,
	subject_id  TEXT NOT NULL,
	batch_id    TEXT,
	source      TEXT NOT NULL,
	action      TEXT NOT NULL,
	reason      TEXT,
	category    TEXT,
	error       TEXT,
	timestamp   TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS moderation_log_group_ts ON moderation_log (group_id, timestamp DESC);`

// ModerationRepo хранит журнал модерации (audit.Storage).
type ModerationRepo struct {
	db *sql.DB
}

func NewModerationRepo(connString string, maxConns, minConns int) (*ModerationRepo, error) {
	db, err := sql.Open("pgx", connString)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	if maxConns > 0 {
		db.SetMaxOpenConns(maxConns)
	}
	if minConns > 0 {
		db.SetMaxIdleConns(minConns)
	}
	db.SetConnMaxLifetime(5 * time.Minute)
	return &ModerationRepo{db: db}, nil
}

// Ping проверяет доступность базы при старте
func (r *ModerationRepo) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// EnsureSchema создает таблицу журнала, если ее нет.
func (r *ModerationRepo) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, createModerationLog); err != nil {
		return fmt.Errorf("postgres: failed to create moderation_log: %w", err)
	}
	return nil
}

func (r *ModerationRepo) Close() error {
	return r.db.Close()
}

// WriteBatch - пакетная вставка одним запросом.
func (r *ModerationRepo) WriteBatch(ctx context.Context, events []domain.ModerationEvent) error {
	if len(events) == 0 {
		return nil
	}

	query, vals := buildModerationInsert(events)
	if _, err := r.db.ExecContext(ctx, query, vals...); err != nil {
		return fmt.Errorf("postgres: failed to write moderation batch: %w", err)
	}
	return nil
}

// buildModerationInsert динамически строит запрос для пакетной вставки
func buildModerationInsert(events []domain.ModerationEvent) (string, []interface{}) {
	var sb strings.Builder
	vals := make([]interface{}, 0, len(events)*moderationColumns)

	for i, e := range events {
		if i > 0 {
			sb.WriteString(",")
		}
		p := i * moderationColumns
		sb.WriteString("(")
		for c := 1; c <= moderationColumns; c++ {
			if c > 1 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "$%d", p+c)
		}
		sb.WriteString(")")

		vals = append(vals,
			e.ID, e.TraceID, e.GroupID, e.SubjectID, nullable(e.BatchID),
			string(e.Source), string(e.Action), nullable(e.Reason), nullable(e.Category),
			nullable(e.Error), e.Timestamp,
		)
	}

	query := "INSERT INTO moderation_log (id, trace_id, group_id, subject_id, batch_id, source, action, reason, category, error, timestamp) VALUES " +
		sb.String() + " ON CONFLICT (id) DO NOTHING"
	return query, vals
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// RecentForGroup - последние события группы (для консоли).
func (r *ModerationRepo) RecentForGroup(ctx context.Context, groupID string, limit int) ([]domain.ModerationEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := `SELECT id, trace_id, group_id, subject_id, batch_id, source, action, reason, category, error, timestamp
	          FROM moderation_log WHERE group_id = $1 ORDER BY timestamp DESC LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, groupID, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query moderation log: %w", err)
	}
	defer rows.Close()

	// Инициализируем пустой слайс, чтобы в JSON был [] вместо null
	results := make([]domain.ModerationEvent, 0)
	for rows.Next() {
		var e domain.ModerationEvent
		var batchID, reason, category, errText sql.NullString
		var source, action string
		if err := rows.Scan(&e.ID, &e.TraceID, &e.GroupID, &e.SubjectID, &batchID,
			&source, &action, &reason, &category, &errText, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("postgres: failed to scan moderation event: %w", err)
		}
		e.BatchID = batchID.String
		e.Source = domain.ModerationSource(source)
		e.Action = domain.ModerationAction(action)
		e.Reason = reason.String
		e.Category = category.String
		e.Error = errText.String
		results = append(results, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows iteration error: %w", err)
	}
	return results, nil
}
