package student

import (
	"math"
	"strings"
	"time"

	"github.com/alem-hub/progression-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESS
// ══════════════════════════════════════════════════════════════════════════════

// Progress - баллы студента. Принадлежит внешнему журналу, движок только читает.
type Progress struct {
	// StudentID - идентификатор студента.
	StudentID string `json:"student_id"`

	// LifetimePoints - все когда-либо заработанные баллы. Только растёт.
	LifetimePoints float64 `json:"lifetime_points"`

	// PointsBalance - баллы, доступные для трат. Может уменьшаться.
	PointsBalance float64 `json:"points_balance"`

	// UpdatedAt - время последнего изменения.
	UpdatedAt time.Time `json:"updated_at"`
}

// CanAfford возвращает true, если баланса хватает на покупку.
func (p Progress) CanAfford(cost float64) bool {
	return p.PointsBalance >= cost
}

// Apply применяет изменение баланса. Положительные начисления увеличивают
// и LifetimePoints, отрицательные - только баланс.
func (p Progress) Apply(delta float64, countsTowardLifetime bool) Progress {
	p.PointsBalance += delta
	if delta > 0 && countsTowardLifetime {
		p.LifetimePoints += delta
	}
	return p
}

// ValidatePoints проверяет, что значение - конечное неотрицательное число.
func ValidatePoints(v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return shared.NewDomainError("student", "Validate", shared.ErrValidation, "points must be a number")
	}
	if v < 0 {
		return shared.ErrNegativePoints
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// ROLE
// ══════════════════════════════════════════════════════════════════════════════

// Role - роль вызывающего.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleStudent Role = "student"
	RoleTeacher Role = "teacher"
	RoleViewer  Role = "viewer"
)

// ParseRole нормализует строку роли.
func ParseRole(s string) Role {
	return Role(strings.ToLower(strings.TrimSpace(s)))
}

// CanClaimDailyBonus - забирать ежедневный бонус могут только admin и student.
func (r Role) CanClaimDailyBonus() bool {
	return r == RoleAdmin || r == RoleStudent
}

// IsAdmin возвращает true для администратора.
func (r Role) IsAdmin() bool {
	return r == RoleAdmin
}

// ══════════════════════════════════════════════════════════════════════════════
// LEDGER
// ══════════════════════════════════════════════════════════════════════════════

// Reason - причина записи в журнале.
type Reason string

const (
	ReasonRuleKeeper     Reason = "rule_keeper"
	ReasonRuleBreaker    Reason = "rule_breaker"
	ReasonDailyBonus     Reason = "daily_bonus"
	ReasonUnlockPurchase Reason = "unlock_purchase"
	ReasonAdjustment     Reason = "adjustment"
)

// LedgerEntry - одна запись журнала баллов.
type LedgerEntry struct {
	ID             string    `json:"id"`
	StudentID      string    `json:"student_id"`
	Delta          float64   `json:"delta"`
	Reason         Reason    `json:"reason"`
	Note           string    `json:"note,omitempty"`
	IdempotencyKey string    `json:"idempotency_key,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// CountsTowardLifetime - покупки не уменьшают и не увеличивают lifetime points,
// штрафы (rule breaker) списывают только баланс.
func (e LedgerEntry) CountsTowardLifetime() bool {
	return e.Delta > 0 && e.Reason != ReasonUnlockPurchase
}
