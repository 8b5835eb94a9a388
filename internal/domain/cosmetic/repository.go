package cosmetic

import (
	"context"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACES
// Реализации - в infrastructure/persistence.
// ══════════════════════════════════════════════════════════════════════════════

// CatalogRepository читает и редактирует каталог.
type CatalogRepository interface {
	// ListItems возвращает все предметы категории, включая выключенные.
	ListItems(ctx context.Context, category Category) ([]Item, error)

	// GetItem возвращает предмет или ErrItemNotFound.
	GetItem(ctx context.Context, category Category, key string) (Item, error)

	// UpsertItem создаёт или заменяет предмет.
	UpsertItem(ctx context.Context, item Item) error

	// DeleteItem удаляет предмет. Записи об открытии остаются.
	DeleteItem(ctx context.Context, category Category, key string) error
}

// UnlockRepository читает записи об открытии. Пишет их только PurchaseStore.
type UnlockRepository interface {
	ListUnlocks(ctx context.Context, studentID string) ([]UnlockRecord, error)
}

// SelectionRepository хранит строку выбора студента.
type SelectionRepository interface {
	// GetSelection возвращает выбор, при первом обращении создаёт пустой.
	GetSelection(ctx context.Context, studentID string) (Selection, error)

	// UpdateSelection сохраняет sel, если версия совпадает с expectedVersion,
	// и возвращает строку с новой версией. Иначе - ErrSelectionStale.
	UpdateSelection(ctx context.Context, sel Selection, expectedVersion int64) (Selection, error)

	// FindStudentsUsing возвращает студентов, у которых выбран этот предмет.
	FindStudentsUsing(ctx context.Context, category Category, key string) ([]string, error)

	// ListStudentIDs постранично перебирает студентов со строкой выбора.
	ListStudentIDs(ctx context.Context, afterID string, limit int) ([]string, error)
}

// PurchaseRequest - всё, что нужно хранилищу для атомарной покупки.
type PurchaseRequest struct {
	StudentID string
	Item      Item
	// Level вычисляет уровень по lifetime points, прочитанным под блокировкой
	// строки. Проверка уровня идёт внутри транзакции.
	Level          func(lifetimePoints float64) int
	IdempotencyKey string
	Now            time.Time
}

// PurchaseResult - зафиксированный результат покупки.
type PurchaseResult struct {
	AlreadyOwned bool
	PointsSpent  float64
	BalanceAfter float64
	Selection    Selection
}

// PurchaseStore выполняет покупку в одной транзакции: проверки на заблокированном
// состоянии, запись об открытии, списание, запись в журнал и автовыбор.
// Либо всё, либо ничего.
type PurchaseStore interface {
	PurchaseUnlock(ctx context.Context, req PurchaseRequest) (PurchaseResult, error)
}
