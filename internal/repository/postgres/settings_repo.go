package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
)

// SettingsRepo implements SettingsRepository on the single-row app_settings table.
type SettingsRepo struct{ db *DB }

// NewSettingsRepo constructs a settings repository.
func NewSettingsRepo(db *DB) *SettingsRepo { return &SettingsRepo{db: db} }

// LoginLocked reads the global gate; a missing row means unlocked.
func (r *SettingsRepo) LoginLocked(ctx context.Context) (bool, error) {
	const q = `SELECT login_locked FROM app_settings WHERE id=1`
	var locked bool
	if err := r.db.Pool.QueryRow(ctx, q).Scan(&locked); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return locked, nil
}

// SetLoginLocked writes the global gate.
func (r *SettingsRepo) SetLoginLocked(ctx context.Context, locked bool) error {
	const q = `
INSERT INTO app_settings (id, login_locked, updated_at) VALUES (1, $1, now())
ON CONFLICT (id) DO UPDATE SET login_locked=EXCLUDED.login_locked, updated_at=now()`
	_, err := r.db.Pool.Exec(ctx, q, locked)
	return err
}
