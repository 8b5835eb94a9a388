// Package student содержит доменную модель прогресса студента.
//
// Пакет определяет:
//
//   - Value Objects: Progress (lifetime points и баланс), Role
//   - Записи журнала начислений: LedgerEntry
//   - Интерфейсы репозиториев: ProgressRepository, Ledger
//
// # Архитектурные принципы
//
//  1. Нулевые внешние зависимости - только стандартная библиотека Go
//  2. Dependency Inversion - интерфейсы реализуются в infrastructure/persistence
//
// # Инварианты
//
// LifetimePoints никогда не уменьшается: списания (покупки, штрафы) меняют
// только PointsBalance. Уровень студента вычисляется из LifetimePoints
// пакетом progression и здесь не хранится.
//
//	p := student.Progress{StudentID: id, LifetimePoints: 120, PointsBalance: 40}
//	if !p.CanAfford(50) {
//	    // недостаточно баллов
//	}
package student
