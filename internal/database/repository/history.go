package repository

import (
	"context"
	"database/sql"
)

// HistoryRepo persists each identity's ordered search history.
type HistoryRepo struct {
	db *sql.DB
}

func NewHistoryRepo(db *sql.DB) *HistoryRepo { return &HistoryRepo{db: db} }

// Load returns identity's history in stored order.
func (r *HistoryRepo) Load(ctx context.Context, identity string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT query FROM search_history WHERE identity = ? ORDER BY position`, identity)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []string{}
	for rows.Next() {
		var q string
		if err := rows.Scan(&q); err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

// Save replaces identity's history with entries.
func (r *HistoryRepo) Save(ctx context.Context, identity string, entries []string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM search_history WHERE identity = ?`, identity); err != nil {
		_ = tx.Rollback()
		return err
	}
	for i, q := range entries {
		if _, err := tx.ExecContext(ctx, `INSERT INTO search_history(identity, position, query) VALUES(?, ?, ?)`, identity, i, q); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// Scoped binds the repo to one identity.
func (r *HistoryRepo) Scoped(identity string) *ScopedHistory {
	return &ScopedHistory{repo: r, identity: identity}
}

// ScopedHistory is a HistoryRepo bound to a single identity.
type ScopedHistory struct {
	repo     *HistoryRepo
	identity string
}

func (s *ScopedHistory) Load(ctx context.Context) ([]string, error) {
	return s.repo.Load(ctx, s.identity)
}

func (s *ScopedHistory) Save(ctx context.Context, entries []string) error {
	return s.repo.Save(ctx, s.identity, entries)
}
