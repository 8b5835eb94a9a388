// Package bonus реализует окно ожидания ежедневного бонуса аватара.
package bonus

import (
	"context"
	"fmt"
	"time"

	"github.com/alem-hub/progression-hub/internal/domain/cosmetic"
	"github.com/alem-hub/progression-hub/internal/domain/shared"
)

// DefaultCooldown - скользящее окно между двумя начислениями бонуса.
const DefaultCooldown = 24 * time.Hour

// Window - состояние окна ожидания одного студента.
type Window struct {
	// LastGrantAt - время последнего начисления или, если бонус ещё не
	// начислялся, время выбора аватара.
	LastGrantAt time.Time
	Cooldown    time.Duration
}

// WindowFor строит окно по сохранённому выбору.
func WindowFor(sel cosmetic.Selection, cooldown time.Duration) Window {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	anchor := sel.AvatarSetAt
	if sel.DailyGrantedAt != nil {
		anchor = *sel.DailyGrantedAt
	}
	return Window{LastGrantAt: anchor, Cooldown: cooldown}
}

// ReadyAt - первый момент, когда бонус можно забрать.
func (w Window) ReadyAt() time.Time {
	return w.LastGrantAt.Add(w.Cooldown)
}

// IsReady возвращает true, если now >= последнее начисление + cooldown.
func (w Window) IsReady(now time.Time) bool {
	return !now.Before(w.ReadyAt())
}

// Remaining - сколько осталось до открытия окна. Ноль, если окно открыто.
func (w Window) Remaining(now time.Time) time.Duration {
	if w.IsReady(now) {
		return 0
	}
	return w.ReadyAt().Sub(now)
}

// NotReadyErr возвращает ошибку NotReady со временем следующей попытки.
func (w Window) NotReadyErr(now time.Time) error {
	left := w.Remaining(now).Round(time.Minute)
	if left < time.Minute {
		left = time.Minute
	}
	h := int(left.Hours())
	m := int(left.Minutes()) % 60
	return shared.WrapError("bonus", "Claim", shared.ErrNotReady,
		fmt.Sprintf("next daily bonus available in %dh %02dm", h, m),
		&NotReadyDetail{ReadyAt: w.ReadyAt()})
}

// NotReadyDetail хранит момент открытия окна.
type NotReadyDetail struct {
	ReadyAt time.Time
}

func (d *NotReadyDetail) Error() string {
	return "ready at " + d.ReadyAt.UTC().Format(time.RFC3339)
}

// ClaimRequest - всё, что нужно хранилищу для атомарного начисления бонуса.
type ClaimRequest struct {
	StudentID string
	// AvatarID - аватар, по которому посчитана сумма. Если выбор успел
	// измениться, хранилище отклоняет начисление.
	AvatarID       string
	Points         float64
	Cooldown       time.Duration
	Now            time.Time
	IdempotencyKey string
}

// ClaimResult - зафиксированный результат начисления.
type ClaimResult struct {
	PointsAwarded float64
	BalanceAfter  float64
	GrantedAt     time.Time
	Selection     cosmetic.Selection
}

// ClaimStore начисляет бонус и отмечает время в одной транзакции,
// перепроверяя окно по заблокированной строке.
type ClaimStore interface {
	ClaimDailyBonus(ctx context.Context, req ClaimRequest) (ClaimResult, error)
}

// ClaimLock - короткая блокировка на студента, чтобы сразу отсекать
// одновременные попытки.
type ClaimLock interface {
	// Acquire возвращает false, если блокировку держит другая попытка.
	Acquire(ctx context.Context, studentID string, ttl time.Duration) (release func(), ok bool, err error)
}
