package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/alem-hub/progression-hub/internal/domain/bonus"
	"github.com/alem-hub/progression-hub/internal/domain/cosmetic"
	"github.com/alem-hub/progression-hub/internal/domain/shared"
	"github.com/alem-hub/progression-hub/internal/domain/student"
)

// ══════════════════════════════════════════════════════════════════════════════
// SPEND & GRANT TRANSACTIONS
// Both lock the progress row first, then the selection row, always in that order.
// ══════════════════════════════════════════════════════════════════════════════

// TransactionStore implements cosmetic.PurchaseStore and bonus.ClaimStore.
type TransactionStore struct {
	conn *Connection
}

// NewTransactionStore creates a new TransactionStore.
func NewTransactionStore(conn *Connection) *TransactionStore {
	return &TransactionStore{conn: conn}
}

// PurchaseUnlock records the unlock, deducts the cost, appends the ledger entry and
// selects the item, all in one transaction.
func (s *TransactionStore) PurchaseUnlock(ctx context.Context, req cosmetic.PurchaseRequest) (cosmetic.PurchaseResult, error) {
	base := req.Item.Base()
	category := req.Item.Category()
	now := req.Now
	if now.IsZero() {
		now = time.Now()
	}
	now = now.UTC()

	var result cosmetic.PurchaseResult
	err := s.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		p, err := getProgress(ctx, tx, req.StudentID, true)
		if err != nil {
			return err
		}
		if err := ensureSelection(ctx, tx, req.StudentID, now); err != nil {
			return err
		}
		sel, err := getSelection(ctx, tx, req.StudentID, true)
		if err != nil {
			return err
		}

		var owned bool
		err = tx.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM unlock_records
				WHERE student_id = $1 AND item_type = $2 AND item_key = $3
			)
		`, req.StudentID, string(category), base.Key).Scan(&owned)
		if err != nil {
			return fmt.Errorf("failed to check unlock: %w", err)
		}
		if owned {
			result = cosmetic.PurchaseResult{AlreadyOwned: true, BalanceAfter: p.PointsBalance, Selection: sel}
			return nil
		}

		level := req.Level(p.LifetimePoints)
		if d := cosmetic.Gate(req.Item, level, cosmetic.UnlockSet{}); d.Reason == cosmetic.GateDisabled || d.Reason == cosmetic.GateLevelTooLow {
			return d.Err(category, base.Key)
		}
		if !p.CanAfford(base.UnlockPoints) {
			return cosmetic.InsufficientBalance(base.UnlockPoints, p.PointsBalance)
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO unlock_records (student_id, item_type, item_key, unlocked_at)
			VALUES ($1, $2, $3, $4)
		`, req.StudentID, string(category), base.Key, now); err != nil {
			if IsUniqueViolation(err) {
				return shared.WrapError("cosmetic", "Purchase", shared.ErrConcurrencyConflict, "item was unlocked concurrently", err)
			}
			return fmt.Errorf("failed to insert unlock: %w", err)
		}

		p, err = appendEntry(ctx, tx, p, student.LedgerEntry{
			StudentID:      req.StudentID,
			Delta:          -base.UnlockPoints,
			Reason:         student.ReasonUnlockPurchase,
			Note:           string(category) + ":" + base.Key,
			IdempotencyKey: req.IdempotencyKey,
			CreatedAt:      now,
		})
		if err != nil {
			return err
		}

		next := sel.With(category, base.Key, now)
		if err := writeSelection(ctx, tx, next); err != nil {
			return err
		}
		next.Version = sel.Version + 1

		result = cosmetic.PurchaseResult{
			PointsSpent:  base.UnlockPoints,
			BalanceAfter: p.PointsBalance,
			Selection:    next,
		}
		return nil
	})
	if err != nil {
		return cosmetic.PurchaseResult{}, err
	}
	return result, nil
}

// ClaimDailyBonus credits the bonus and stamps the grant time. The stamp is a
// conditional update, so a second claim inside the window changes nothing.
func (s *TransactionStore) ClaimDailyBonus(ctx context.Context, req bonus.ClaimRequest) (bonus.ClaimResult, error) {
	now := req.Now.UTC()

	var result bonus.ClaimResult
	err := s.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		p, err := getProgress(ctx, tx, req.StudentID, true)
		if err != nil {
			return err
		}
		if err := ensureSelection(ctx, tx, req.StudentID, now); err != nil {
			return err
		}
		sel, err := getSelection(ctx, tx, req.StudentID, true)
		if err != nil {
			return err
		}
		if sel.Key(cosmetic.CategoryAvatar) != req.AvatarID {
			return shared.ErrSelectionStale
		}

		w := bonus.WindowFor(sel, req.Cooldown)
		if !w.IsReady(now) {
			return w.NotReadyErr(now)
		}

		tag, err := tx.Exec(ctx, `
			UPDATE avatar_settings
			SET avatar_daily_granted_at = $2, version = version + 1
			WHERE student_id = $1
			  AND COALESCE(avatar_daily_granted_at, avatar_set_at) <= $3
		`, req.StudentID, now, now.Add(-w.Cooldown))
		if err != nil {
			return fmt.Errorf("failed to stamp daily grant: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return w.NotReadyErr(now)
		}

		p, err = appendEntry(ctx, tx, p, student.LedgerEntry{
			StudentID:      req.StudentID,
			Delta:          req.Points,
			Reason:         student.ReasonDailyBonus,
			Note:           req.AvatarID,
			IdempotencyKey: req.IdempotencyKey,
			CreatedAt:      now,
		})
		if err != nil {
			return err
		}

		sel.DailyGrantedAt = &now
		sel.Version++
		result = bonus.ClaimResult{
			PointsAwarded: req.Points,
			BalanceAfter:  p.PointsBalance,
			GrantedAt:     now,
			Selection:     sel,
		}
		return nil
	})
	if err != nil {
		return bonus.ClaimResult{}, err
	}
	return result, nil
}

func writeSelection(ctx context.Context, tx pgx.Tx, sel cosmetic.Selection) error {
	_, err := tx.Exec(ctx, `
		UPDATE avatar_settings SET
			avatar_id = $2,
			particle_style = $3,
			corner_border_key = $4,
			card_plate_key = $5,
			avatar_set_at = $6,
			version = version + 1
		WHERE student_id = $1
	`, sel.StudentID,
		sel.Key(cosmetic.CategoryAvatar),
		sel.Key(cosmetic.CategoryEffect),
		sel.Key(cosmetic.CategoryCornerBorder),
		sel.Key(cosmetic.CategoryCardPlate),
		sel.AvatarSetAt,
	)
	if err != nil {
		return fmt.Errorf("failed to write selection: %w", err)
	}
	return nil
}
