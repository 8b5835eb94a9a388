package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/alem-hub/progression-hub/internal/domain/shared"
	"github.com/alem-hub/progression-hub/internal/domain/student"
)

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESS REPOSITORY & LEDGER
// ══════════════════════════════════════════════════════════════════════════════

// ProgressRepository implements student.ProgressRepository and student.Ledger.
type ProgressRepository struct {
	conn *Connection
}

// NewProgressRepository creates a new ProgressRepository.
func NewProgressRepository(conn *Connection) *ProgressRepository {
	return &ProgressRepository{conn: conn}
}

// EnsureStudent creates an empty progress row if none exists.
func (r *ProgressRepository) EnsureStudent(ctx context.Context, studentID string) error {
	_, err := r.conn.Exec(ctx, `
		INSERT INTO student_progress (student_id) VALUES ($1)
		ON CONFLICT (student_id) DO NOTHING
	`, studentID)
	if err != nil {
		return fmt.Errorf("failed to ensure student: %w", err)
	}
	return nil
}

// GetProgress returns the points of a student.
func (r *ProgressRepository) GetProgress(ctx context.Context, studentID string) (student.Progress, error) {
	return getProgress(ctx, r.conn, studentID, false)
}

// AppendEntry appends a ledger entry and applies it to the balance in one transaction.
// A repeated key returns the current progress with shared.ErrDuplicateEntry.
func (r *ProgressRepository) AppendEntry(ctx context.Context, entry student.LedgerEntry) (student.Progress, error) {
	var out student.Progress
	err := r.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		p, err := getProgress(ctx, tx, entry.StudentID, true)
		if err != nil {
			return err
		}
		out, err = appendEntry(ctx, tx, p, entry)
		return err
	})
	return out, err
}

// ListEntries returns the latest entries of a student, newest first.
func (r *ProgressRepository) ListEntries(ctx context.Context, studentID string, limit int) ([]student.LedgerEntry, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.conn.Query(ctx, `
		SELECT id, student_id, delta, reason, note, COALESCE(idempotency_key, ''), created_at
		FROM ledger_entries
		WHERE student_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, studentID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []student.LedgerEntry
	for rows.Next() {
		var (
			e      student.LedgerEntry
			id     uuid.UUID
			reason string
		)
		if err := rows.Scan(&id, &e.StudentID, &e.Delta, &reason, &e.Note, &e.IdempotencyKey, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		e.ID = id.String()
		e.Reason = student.Reason(reason)
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// ─────────────────────────────────────────────────────────────────────────────
// Shared helpers
// ─────────────────────────────────────────────────────────────────────────────

func getProgress(ctx context.Context, q Querier, studentID string, forUpdate bool) (student.Progress, error) {
	query := `
		SELECT student_id, lifetime_points, points_balance, updated_at
		FROM student_progress
		WHERE student_id = $1
	`
	if forUpdate {
		query += " FOR UPDATE"
	}

	var p student.Progress
	err := q.QueryRow(ctx, query, studentID).Scan(&p.StudentID, &p.LifetimePoints, &p.PointsBalance, &p.UpdatedAt)
	if err != nil {
		if IsNoRows(err) {
			return student.Progress{}, shared.ErrStudentNotFound
		}
		return student.Progress{}, fmt.Errorf("failed to get progress: %w", err)
	}
	return p, nil
}

// appendEntry writes the entry and the new balance. The caller must hold the
// progress row lock. A repeated idempotency key leaves p unchanged and returns
// shared.ErrDuplicateEntry, which rolls back the surrounding transaction.
func appendEntry(ctx context.Context, tx pgx.Tx, p student.Progress, entry student.LedgerEntry) (student.Progress, error) {
	id := uuid.New()
	if entry.ID != "" {
		parsed, err := uuid.Parse(entry.ID)
		if err != nil {
			return p, shared.WrapError("student", "AppendEntry", shared.ErrValidation, "invalid ledger entry id", err)
		}
		id = parsed
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	var idem *string
	if entry.IdempotencyKey != "" {
		idem = &entry.IdempotencyKey
	}

	tag, err := tx.Exec(ctx, `
		INSERT INTO ledger_entries (id, student_id, delta, reason, note, idempotency_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (student_id, idempotency_key) WHERE idempotency_key IS NOT NULL DO NOTHING
	`, id, entry.StudentID, entry.Delta, string(entry.Reason), entry.Note, idem, entry.CreatedAt)
	if err != nil {
		return p, fmt.Errorf("failed to insert ledger entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return p, shared.ErrDuplicateEntry
	}

	p = p.Apply(entry.Delta, entry.CountsTowardLifetime())
	p.UpdatedAt = entry.CreatedAt

	_, err = tx.Exec(ctx, `
		UPDATE student_progress
		SET lifetime_points = $2, points_balance = $3, updated_at = $4
		WHERE student_id = $1
	`, p.StudentID, p.LifetimePoints, p.PointsBalance, p.UpdatedAt)
	if err != nil {
		return p, fmt.Errorf("failed to update progress: %w", err)
	}

	return p, nil
}
