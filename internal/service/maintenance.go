package service

import (
	"context"
	"database/sql"

	"github.com/Laisky/errors/v2"

	"github.com/jask/focusguard/internal/database"
)

// MaintenanceService houses destructive/ops actions surfaced through the CLI.
type MaintenanceService struct {
	DB *sql.DB
}

// Reset wipes all user data. It keeps the schema intact and re-seeds the default profile.
func (s *MaintenanceService) Reset(ctx context.Context) error {
	if s.DB == nil {
		return errors.New("maintenance: db not configured")
	}
	if err := database.WithTx(ctx, s.DB, func(tx *sql.Tx) error {
		tables := []string{
			"search_history",
			"focus_sessions",
			"profiles",
		}
		for _, t := range tables {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+t); err != nil {
				return errors.Wrapf(err, "reset table %s", t)
			}
		}
		return nil
	}); err != nil {
		return err
	}
	_, _ = s.DB.ExecContext(ctx, "VACUUM")
	return database.SeedDefaults(ctx, s.DB)
}
