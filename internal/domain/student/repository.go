package student

import (
	"context"
)

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACES
// Эти интерфейсы определяют контракт для работы с хранилищем данных.
// Реализации находятся в infrastructure/persistence.
// ══════════════════════════════════════════════════════════════════════════════

// ProgressRepository читает баллы студента.
type ProgressRepository interface {
	// GetProgress возвращает баллы студента.
	// Возвращает ErrStudentNotFound, если студент не найден.
	GetProgress(ctx context.Context, studentID string) (Progress, error)

	// EnsureStudent создаёт пустую запись прогресса, если её ещё нет.
	EnsureStudent(ctx context.Context, studentID string) error
}

// Ledger - внешний журнал баллов. Запись и изменение баланса атомарны.
type Ledger interface {
	// AppendEntry добавляет запись и применяет её к балансу.
	// Ключ идемпотентности уникален в пределах студента. Повтор ключа ничего
	// не меняет и возвращает текущий прогресс вместе с ErrDuplicateEntry.
	AppendEntry(ctx context.Context, entry LedgerEntry) (Progress, error)

	// ListEntries возвращает последние записи студента (новые первыми).
	ListEntries(ctx context.Context, studentID string, limit int) ([]LedgerEntry, error)
}
