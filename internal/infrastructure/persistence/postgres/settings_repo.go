package postgres

import (
	"context"
	"fmt"

	"github.com/alem-hub/progression-hub/internal/domain/progression"
	"github.com/alem-hub/progression-hub/internal/domain/shared"
)

// SettingsRepository implements progression.SettingsRepository.
type SettingsRepository struct {
	conn *Connection
}

// NewSettingsRepository creates a new SettingsRepository.
func NewSettingsRepository(conn *Connection) *SettingsRepository {
	return &SettingsRepository{conn: conn}
}

// GetSettings returns the stored level settings.
func (r *SettingsRepository) GetSettings(ctx context.Context) (progression.Settings, error) {
	var s progression.Settings
	err := r.conn.QueryRow(ctx, `SELECT base_jump, difficulty_pct FROM level_settings WHERE id = 1`).
		Scan(&s.BaseJump, &s.DifficultyPct)
	if err != nil {
		if IsNoRows(err) {
			return progression.Settings{}, shared.NewDomainError("progression", "GetSettings", shared.ErrNotFound, "no level settings stored")
		}
		return progression.Settings{}, fmt.Errorf("failed to get level settings: %w", err)
	}
	return s, nil
}

// SaveSettings replaces the stored level settings.
func (r *SettingsRepository) SaveSettings(ctx context.Context, s progression.Settings) error {
	_, err := r.conn.Exec(ctx, `
		INSERT INTO level_settings (id, base_jump, difficulty_pct, updated_at)
		VALUES (1, $1, $2, NOW())
		ON CONFLICT (id) DO UPDATE SET
			base_jump = EXCLUDED.base_jump,
			difficulty_pct = EXCLUDED.difficulty_pct,
			updated_at = EXCLUDED.updated_at
	`, s.BaseJump, s.DifficultyPct)
	if err != nil {
		return fmt.Errorf("failed to save level settings: %w", err)
	}
	return nil
}
