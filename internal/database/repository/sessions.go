package repository

import (
	"context"
	"database/sql"
)

// SessionRepo records finished focus sessions.
type SessionRepo struct {
	db *sql.DB
}

func NewSessionRepo(db *sql.DB) *SessionRepo { return &SessionRepo{db: db} }

func (r *SessionRepo) Insert(ctx context.Context, s FocusSession) error {
	_, err := r.db.ExecContext(ctx, `
	INSERT INTO focus_sessions(id, identity, total_seconds, completed_seconds, end_reason, started_at, ended_at)
	VALUES(?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.Identity, s.TotalSeconds, s.CompletedSeconds, s.EndReason, s.StartedAt.UTC(), s.EndedAt.UTC())
	return err
}

// List returns identity's sessions newest first. limit <= 0 means no limit.
func (r *SessionRepo) List(ctx context.Context, identity string, limit int) ([]FocusSession, error) {
	query := `SELECT id, identity, total_seconds, completed_seconds, end_reason, started_at, ended_at
	FROM focus_sessions WHERE identity = ? ORDER BY started_at DESC, id`
	args := []interface{}{identity}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []FocusSession
	for rows.Next() {
		var s FocusSession
		if err := rows.Scan(&s.ID, &s.Identity, &s.TotalSeconds, &s.CompletedSeconds, &s.EndReason, &s.StartedAt, &s.EndedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// FocusedSeconds sums completed seconds across identity's sessions.
func (r *SessionRepo) FocusedSeconds(ctx context.Context, identity string) (int, error) {
	var total sql.NullInt64
	err := r.db.QueryRowContext(ctx, `SELECT SUM(completed_seconds) FROM focus_sessions WHERE identity = ?`, identity).Scan(&total)
	if err != nil {
		return 0, err
	}
	return int(total.Int64), nil
}
