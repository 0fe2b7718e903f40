package repository

import (
	"context"
	"database/sql"
	"errors"
)

// ProfileRepo handles profiles.
type ProfileRepo struct {
	db *sql.DB
}

func NewProfileRepo(db *sql.DB) *ProfileRepo { return &ProfileRepo{db: db} }

// Upsert inserts p or updates the row with the same identity.
func (r *ProfileRepo) Upsert(ctx context.Context, p Profile) error {
	_, err := r.db.ExecContext(ctx, `
	INSERT INTO profiles(id, identity, display_name, role, created_at, updated_at)
	VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
	ON CONFLICT(identity) DO UPDATE SET
	 display_name=excluded.display_name,
	 role=excluded.role,
	 updated_at=CURRENT_TIMESTAMP;
	`, p.ID, p.Identity, p.DisplayName, p.Role)
	return err
}

// GetByIdentity returns nil, nil when no profile exists.
func (r *ProfileRepo) GetByIdentity(ctx context.Context, identity string) (*Profile, error) {
	row := r.db.QueryRowContext(ctx, `SELECT id, identity, display_name, role, created_at, updated_at FROM profiles WHERE identity = ?`, identity)
	var p Profile
	if err := row.Scan(&p.ID, &p.Identity, &p.DisplayName, &p.Role, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

func (r *ProfileRepo) List(ctx context.Context) ([]Profile, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, identity, display_name, role, created_at, updated_at FROM profiles ORDER BY identity`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Profile
	for rows.Next() {
		var p Profile
		if err := rows.Scan(&p.ID, &p.Identity, &p.DisplayName, &p.Role, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *ProfileRepo) Delete(ctx context.Context, identity string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM profiles WHERE identity = ?`, identity)
	return err
}
