package view

import "sync"

// Token идентифицирует одно оптимистичное предложение.
type Token uint64

// Reconciled хранит значение, которое показывается оптимистично, пока идёт запись.
//
// Propose сразу показывает значение. Confirm сохраняет ответ сервера, Reject
// откатывает к последнему подтверждённому. Ответы на вытесненные предложения
// игнорируются, старый ответ не перезапишет более новое значение.
// Reset заменяет всё состоянием сервера.
type Reconciled[T any] struct {
	mu        sync.Mutex
	confirmed T
	pending   *T
	latest    Token
}

// NewReconciled создаёт значение с подтверждённым начальным состоянием.
func NewReconciled[T any](initial T) *Reconciled[T] {
	return &Reconciled[T]{confirmed: initial}
}

// Propose показывает v, пока оно не подтверждено или не отклонено.
func (r *Reconciled[T]) Propose(v T) Token {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.latest++
	r.pending = &v
	return r.latest
}

// Confirm сохраняет подтверждённое сервером значение. Если tok уже вытеснен,
// возвращает false и ничего не меняет.
func (r *Reconciled[T]) Confirm(tok Token, v T) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if tok != r.latest || r.pending == nil {
		return false
	}
	r.confirmed = v
	r.pending = nil
	return true
}

// Reject отбрасывает предложение и возвращается к подтверждённому значению.
func (r *Reconciled[T]) Reject(tok Token) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if tok != r.latest || r.pending == nil {
		return false
	}
	r.pending = nil
	return true
}

// Reset заменяет подтверждённое значение и отбрасывает текущее предложение.
func (r *Reconciled[T]) Reset(v T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.latest++
	r.confirmed = v
	r.pending = nil
}

// Value возвращает текущее предложение или подтверждённое значение.
func (r *Reconciled[T]) Value() T {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pending != nil {
		return *r.pending
	}
	return r.confirmed
}

// Confirmed возвращает последнее подтверждённое сервером значение.
func (r *Reconciled[T]) Confirmed() T {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.confirmed
}

// Pending возвращает true, если предложение ещё ждёт ответа.
func (r *Reconciled[T]) Pending() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pending != nil
}
