package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/alem-hub/progression-hub/internal/domain/cosmetic"
	"github.com/alem-hub/progression-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// SELECTION & UNLOCK REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// SelectionRepository implements cosmetic.SelectionRepository and cosmetic.UnlockRepository.
type SelectionRepository struct {
	conn *Connection
}

// NewSelectionRepository creates a new SelectionRepository.
func NewSelectionRepository(conn *Connection) *SelectionRepository {
	return &SelectionRepository{conn: conn}
}

const selectionColumns = `student_id, avatar_id, particle_style, corner_border_key, card_plate_key,
	avatar_set_at, avatar_daily_granted_at, version`

// ListUnlocks returns every unlock record of a student.
func (r *SelectionRepository) ListUnlocks(ctx context.Context, studentID string) ([]cosmetic.UnlockRecord, error) {
	rows, err := r.conn.Query(ctx, `
		SELECT student_id, item_type, item_key, unlocked_at
		FROM unlock_records
		WHERE student_id = $1
		ORDER BY unlocked_at
	`, studentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list unlocks: %w", err)
	}
	defer rows.Close()

	var records []cosmetic.UnlockRecord
	for rows.Next() {
		var (
			rec      cosmetic.UnlockRecord
			category string
		)
		if err := rows.Scan(&rec.StudentID, &category, &rec.ItemKey, &rec.UnlockedAt); err != nil {
			return nil, fmt.Errorf("failed to scan unlock: %w", err)
		}
		rec.Category = cosmetic.Category(category)
		records = append(records, rec)
	}

	return records, rows.Err()
}

// GetSelection returns the selection, creating an empty row on first access.
func (r *SelectionRepository) GetSelection(ctx context.Context, studentID string) (cosmetic.Selection, error) {
	if err := ensureSelection(ctx, r.conn, studentID, time.Now()); err != nil {
		return cosmetic.Selection{}, err
	}
	return getSelection(ctx, r.conn, studentID, false)
}

// UpdateSelection stores sel if the stored version still equals expectedVersion.
// The daily grant stamp is left untouched; only the claim transaction writes it.
func (r *SelectionRepository) UpdateSelection(ctx context.Context, sel cosmetic.Selection, expectedVersion int64) (cosmetic.Selection, error) {
	tag, err := r.conn.Exec(ctx, `
		UPDATE avatar_settings SET
			avatar_id = $2,
			particle_style = $3,
			corner_border_key = $4,
			card_plate_key = $5,
			avatar_set_at = $6,
			version = version + 1
		WHERE student_id = $1 AND version = $7
	`, sel.StudentID,
		sel.Key(cosmetic.CategoryAvatar),
		sel.Key(cosmetic.CategoryEffect),
		sel.Key(cosmetic.CategoryCornerBorder),
		sel.Key(cosmetic.CategoryCardPlate),
		sel.AvatarSetAt,
		expectedVersion,
	)
	if err != nil {
		return cosmetic.Selection{}, fmt.Errorf("failed to update selection: %w", err)
	}

	stored, err := getSelection(ctx, r.conn, sel.StudentID, false)
	if err != nil {
		return cosmetic.Selection{}, err
	}
	if tag.RowsAffected() == 0 {
		return stored, shared.ErrSelectionStale
	}
	return stored, nil
}

// FindStudentsUsing lists students whose selection references the item.
func (r *SelectionRepository) FindStudentsUsing(ctx context.Context, category cosmetic.Category, key string) ([]string, error) {
	column, err := selectionColumn(category)
	if err != nil {
		return nil, err
	}

	rows, err := r.conn.Query(ctx, `SELECT student_id FROM avatar_settings WHERE `+column+` = $1 ORDER BY student_id`, key)
	if err != nil {
		return nil, fmt.Errorf("failed to find students using item: %w", err)
	}
	defer rows.Close()

	return scanIDs(rows)
}

// ListStudentIDs pages through students with a selection row.
func (r *SelectionRepository) ListStudentIDs(ctx context.Context, afterID string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 500
	}

	rows, err := r.conn.Query(ctx, `
		SELECT student_id FROM avatar_settings
		WHERE student_id > $1
		ORDER BY student_id
		LIMIT $2
	`, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list students: %w", err)
	}
	defer rows.Close()

	return scanIDs(rows)
}

// ─────────────────────────────────────────────────────────────────────────────
// Shared helpers
// ─────────────────────────────────────────────────────────────────────────────

func selectionColumn(c cosmetic.Category) (string, error) {
	switch c {
	case cosmetic.CategoryAvatar:
		return "avatar_id", nil
	case cosmetic.CategoryEffect:
		return "particle_style", nil
	case cosmetic.CategoryCornerBorder:
		return "corner_border_key", nil
	case cosmetic.CategoryCardPlate:
		return "card_plate_key", nil
	}
	return "", shared.ErrUnknownCategory
}

func ensureSelection(ctx context.Context, q Querier, studentID string, now time.Time) error {
	_, err := q.Exec(ctx, `
		INSERT INTO avatar_settings (student_id, avatar_set_at) VALUES ($1, $2)
		ON CONFLICT (student_id) DO NOTHING
	`, studentID, now.UTC())
	if err != nil {
		return fmt.Errorf("failed to ensure selection: %w", err)
	}
	return nil
}

func getSelection(ctx context.Context, q Querier, studentID string, forUpdate bool) (cosmetic.Selection, error) {
	query := `SELECT ` + selectionColumns + ` FROM avatar_settings WHERE student_id = $1`
	if forUpdate {
		query += " FOR UPDATE"
	}

	var s cosmetic.Selection
	err := q.QueryRow(ctx, query, studentID).Scan(
		&s.StudentID,
		&s.AvatarID,
		&s.ParticleStyle,
		&s.CornerBorderKey,
		&s.CardPlateKey,
		&s.AvatarSetAt,
		&s.DailyGrantedAt,
		&s.Version,
	)
	if err != nil {
		if IsNoRows(err) {
			return cosmetic.Selection{}, shared.ErrStudentNotFound
		}
		return cosmetic.Selection{}, fmt.Errorf("failed to get selection: %w", err)
	}
	return s, nil
}

func scanIDs(rows pgx.Rows) ([]string, error) {
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan student id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
