package view

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/alem-hub/progression-hub/internal/domain/cosmetic"
	"github.com/alem-hub/progression-hub/pkg/logger"
)

// Refresher перечитывает состояние и применяет только самый новый ответ.
//
// Каждый Refresh берёт номер поколения до начала чтения. Если чтения
// пересекаются, ответ со старым поколением отбрасывается, и медленное
// устаревшее чтение не затирает более свежее состояние.
type Refresher[T any] struct {
	load    func(ctx context.Context) (T, error)
	onApply func(T)
	log     *logger.Logger

	issued  atomic.Uint64
	mu      sync.RWMutex
	applied uint64
	current T
}

// NewRefresher создаёт Refresher. onApply может быть nil.
func NewRefresher[T any](load func(ctx context.Context) (T, error), onApply func(T), log *logger.Logger) *Refresher[T] {
	if log == nil {
		log = logger.Nop()
	}
	return &Refresher[T]{load: load, onApply: onApply, log: log.With(logger.Component("refresher"))}
}

// Refresh загружает состояние и применяет его, если не пришло более новое поколение.
// Возвращает текущее состояние и признак, применён ли этот ответ.
func (r *Refresher[T]) Refresh(ctx context.Context) (T, bool, error) {
	gen := r.issued.Add(1)

	v, err := r.load(ctx)
	if err != nil {
		cur, _ := r.Current()
		return cur, false, err
	}

	r.mu.Lock()
	if gen < r.applied {
		cur := r.current
		r.mu.Unlock()
		r.log.Debug("discarding stale response", logger.Generation(gen))
		return cur, false, nil
	}
	r.applied = gen
	r.current = v
	r.mu.Unlock()

	if r.onApply != nil {
		r.onApply(v)
	}
	return v, true, nil
}

// Current возвращает применённое состояние и его поколение (0 до первого обновления).
func (r *Refresher[T]) Current() (T, uint64) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current, r.applied
}

// Session - клиентское представление студента: обновляемый снимок и
// оптимистичный выбор.
type Session struct {
	*Refresher[*Student]
	Selection *Reconciled[cosmetic.Selection]
}

// NewSession создаёт сессию, которая перечитывает студента через loader.
// Каждое применённое обновление сбрасывает оптимистичный выбор к серверному.
func NewSession(loader *Loader, studentID string, log *logger.Logger) *Session {
	s := &Session{Selection: NewReconciled(cosmetic.Selection{StudentID: studentID})}
	s.Refresher = NewRefresher(func(ctx context.Context) (*Student, error) {
		return loader.Load(ctx, studentID)
	}, func(st *Student) {
		s.Selection.Reset(st.Selection)
	}, log)
	return s
}
