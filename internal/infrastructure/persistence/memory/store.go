// Package memory implements every repository of the progression hub in process memory.
// It backs development mode (no DATABASE_URL) and the application tests. Each
// mutating operation runs inside one critical section, which gives the same
// all-or-nothing behaviour as the PostgreSQL transactions.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alem-hub/progression-hub/internal/domain/bonus"
	"github.com/alem-hub/progression-hub/internal/domain/cosmetic"
	"github.com/alem-hub/progression-hub/internal/domain/progression"
	"github.com/alem-hub/progression-hub/internal/domain/shared"
	"github.com/alem-hub/progression-hub/internal/domain/student"
)

// Store is an in-memory implementation of all repositories.
type Store struct {
	mu sync.Mutex

	settings   *progression.Settings
	progress   map[string]student.Progress
	ledger     map[string][]student.LedgerEntry
	idem       map[string]student.LedgerEntry
	catalog    map[cosmetic.Category]map[string]cosmetic.Item
	unlocks    map[string][]cosmetic.UnlockRecord
	selections map[string]cosmetic.Selection
	locks      map[string]time.Time

	now func() time.Time
}

// NewStore creates an empty store.
func NewStore() *Store {
	s := &Store{
		progress:   make(map[string]student.Progress),
		ledger:     make(map[string][]student.LedgerEntry),
		idem:       make(map[string]student.LedgerEntry),
		catalog:    make(map[cosmetic.Category]map[string]cosmetic.Item),
		unlocks:    make(map[string][]cosmetic.UnlockRecord),
		selections: make(map[string]cosmetic.Selection),
		locks:      make(map[string]time.Time),
		now:        time.Now,
	}
	for _, c := range cosmetic.AllCategories {
		s.catalog[c] = make(map[string]cosmetic.Item)
	}
	return s
}

// SetClock overrides the clock used for timestamps. Used by tests.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// ══════════════════════════════════════════════════════════════════════════════
// LEVEL SETTINGS
// ══════════════════════════════════════════════════════════════════════════════

// GetSettings implements progression.SettingsRepository.
func (s *Store) GetSettings(ctx context.Context) (progression.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.settings == nil {
		return progression.Settings{}, shared.NewDomainError("progression", "GetSettings", shared.ErrNotFound, "no level settings stored")
	}
	return *s.settings, nil
}

// SaveSettings implements progression.SettingsRepository.
func (s *Store) SaveSettings(ctx context.Context, settings progression.Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = &settings
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESS & LEDGER
// ══════════════════════════════════════════════════════════════════════════════

// EnsureStudent implements student.ProgressRepository.
func (s *Store) EnsureStudent(ctx context.Context, studentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.progress[studentID]; !ok {
		s.progress[studentID] = student.Progress{StudentID: studentID, UpdatedAt: s.now().UTC()}
	}
	return nil
}

// GetProgress implements student.ProgressRepository.
func (s *Store) GetProgress(ctx context.Context, studentID string) (student.Progress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.progress[studentID]
	if !ok {
		return student.Progress{}, shared.ErrStudentNotFound
	}
	return p, nil
}

// AppendEntry implements student.Ledger.
func (s *Store) AppendEntry(ctx context.Context, entry student.LedgerEntry) (student.Progress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendLocked(entry)
}

func (s *Store) appendLocked(entry student.LedgerEntry) (student.Progress, error) {
	p, ok := s.progress[entry.StudentID]
	if !ok {
		return student.Progress{}, shared.ErrStudentNotFound
	}
	idemKey := ledgerKey(entry.StudentID, entry.IdempotencyKey)
	if entry.IdempotencyKey != "" {
		if _, dup := s.idem[idemKey]; dup {
			return p, shared.ErrDuplicateEntry
		}
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now().UTC()
	}

	p = p.Apply(entry.Delta, entry.CountsTowardLifetime())
	p.UpdatedAt = entry.CreatedAt
	s.progress[entry.StudentID] = p
	s.ledger[entry.StudentID] = append(s.ledger[entry.StudentID], entry)
	if entry.IdempotencyKey != "" {
		s.idem[idemKey] = entry
	}
	return p, nil
}

func ledgerKey(studentID, key string) string {
	return studentID + "\x00" + key
}

// ListEntries implements student.Ledger.
func (s *Store) ListEntries(ctx context.Context, studentID string, limit int) ([]student.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.ledger[studentID]
	out := make([]student.LedgerEntry, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		out = append(out, entries[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// CATALOG
// ══════════════════════════════════════════════════════════════════════════════

// ListItems implements cosmetic.CatalogRepository.
func (s *Store) ListItems(ctx context.Context, category cosmetic.Category) ([]cosmetic.Item, error) {
	if !category.IsValid() {
		return nil, shared.ErrUnknownCategory
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	items := make([]cosmetic.Item, 0, len(s.catalog[category]))
	for _, it := range s.catalog[category] {
		items = append(items, it)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Base().Key < items[j].Base().Key })
	return items, nil
}

// GetItem implements cosmetic.CatalogRepository.
func (s *Store) GetItem(ctx context.Context, category cosmetic.Category, key string) (cosmetic.Item, error) {
	if !category.IsValid() {
		return nil, shared.ErrUnknownCategory
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.catalog[category][key]
	if !ok {
		return nil, shared.ErrItemNotFound
	}
	return it, nil
}

// UpsertItem implements cosmetic.CatalogRepository.
func (s *Store) UpsertItem(ctx context.Context, item cosmetic.Item) error {
	if err := cosmetic.ValidateItem(item); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.catalog[item.Category()][item.Base().Key] = item
	return nil
}

// DeleteItem implements cosmetic.CatalogRepository.
func (s *Store) DeleteItem(ctx context.Context, category cosmetic.Category, key string) error {
	if !category.IsValid() {
		return shared.ErrUnknownCategory
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.catalog[category][key]; !ok {
		return shared.ErrItemNotFound
	}
	delete(s.catalog[category], key)
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// UNLOCKS & SELECTIONS
// ══════════════════════════════════════════════════════════════════════════════

// ListUnlocks implements cosmetic.UnlockRepository.
func (s *Store) ListUnlocks(ctx context.Context, studentID string) ([]cosmetic.UnlockRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]cosmetic.UnlockRecord, len(s.unlocks[studentID]))
	copy(out, s.unlocks[studentID])
	return out, nil
}

// GetSelection implements cosmetic.SelectionRepository.
func (s *Store) GetSelection(ctx context.Context, studentID string) (cosmetic.Selection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selectionLocked(studentID), nil
}

func (s *Store) selectionLocked(studentID string) cosmetic.Selection {
	sel, ok := s.selections[studentID]
	if !ok {
		sel = cosmetic.NewSelection(studentID, s.now())
		s.selections[studentID] = sel
	}
	return sel
}

// UpdateSelection implements cosmetic.SelectionRepository.
func (s *Store) UpdateSelection(ctx context.Context, sel cosmetic.Selection, expectedVersion int64) (cosmetic.Selection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.selectionLocked(sel.StudentID)
	if cur.Version != expectedVersion {
		return cur, shared.ErrSelectionStale
	}
	sel.Version = cur.Version + 1
	// The grant stamp is owned by the claim flow.
	sel.DailyGrantedAt = cur.DailyGrantedAt
	s.selections[sel.StudentID] = sel
	return sel, nil
}

// FindStudentsUsing implements cosmetic.SelectionRepository.
func (s *Store) FindStudentsUsing(ctx context.Context, category cosmetic.Category, key string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for id, sel := range s.selections {
		if sel.Key(category) == key {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// ListStudentIDs implements cosmetic.SelectionRepository.
func (s *Store) ListStudentIDs(ctx context.Context, afterID string, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.selections))
	for id := range s.selections {
		if id > afterID {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// TRANSACTIONS
// ══════════════════════════════════════════════════════════════════════════════

// PurchaseUnlock implements cosmetic.PurchaseStore.
func (s *Store) PurchaseUnlock(ctx context.Context, req cosmetic.PurchaseRequest) (cosmetic.PurchaseResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	base := req.Item.Base()
	category := req.Item.Category()

	p, ok := s.progress[req.StudentID]
	if !ok {
		return cosmetic.PurchaseResult{}, shared.ErrStudentNotFound
	}
	sel := s.selectionLocked(req.StudentID)

	for _, r := range s.unlocks[req.StudentID] {
		if r.Category == category && r.ItemKey == base.Key {
			return cosmetic.PurchaseResult{AlreadyOwned: true, BalanceAfter: p.PointsBalance, Selection: sel}, nil
		}
	}

	level := req.Level(p.LifetimePoints)
	if d := cosmetic.Gate(req.Item, level, cosmetic.UnlockSet{}); d.Reason == cosmetic.GateDisabled || d.Reason == cosmetic.GateLevelTooLow {
		return cosmetic.PurchaseResult{}, d.Err(category, base.Key)
	}
	if !p.CanAfford(base.UnlockPoints) {
		return cosmetic.PurchaseResult{}, cosmetic.InsufficientBalance(base.UnlockPoints, p.PointsBalance)
	}

	now := req.Now
	if now.IsZero() {
		now = s.now()
	}
	p, err := s.appendLocked(student.LedgerEntry{
		StudentID:      req.StudentID,
		Delta:          -base.UnlockPoints,
		Reason:         student.ReasonUnlockPurchase,
		Note:           string(category) + ":" + base.Key,
		IdempotencyKey: req.IdempotencyKey,
		CreatedAt:      now.UTC(),
	})
	if err != nil {
		return cosmetic.PurchaseResult{}, err
	}
	s.unlocks[req.StudentID] = append(s.unlocks[req.StudentID], cosmetic.UnlockRecord{
		StudentID:  req.StudentID,
		Category:   category,
		ItemKey:    base.Key,
		UnlockedAt: now.UTC(),
	})

	sel = sel.With(category, base.Key, now)
	sel.Version++
	s.selections[req.StudentID] = sel

	return cosmetic.PurchaseResult{
		PointsSpent:  base.UnlockPoints,
		BalanceAfter: p.PointsBalance,
		Selection:    sel,
	}, nil
}

// ClaimDailyBonus implements bonus.ClaimStore.
func (s *Store) ClaimDailyBonus(ctx context.Context, req bonus.ClaimRequest) (bonus.ClaimResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.progress[req.StudentID]; !ok {
		return bonus.ClaimResult{}, shared.ErrStudentNotFound
	}
	sel := s.selectionLocked(req.StudentID)
	if sel.Key(cosmetic.CategoryAvatar) != req.AvatarID {
		return bonus.ClaimResult{}, shared.ErrSelectionStale
	}

	w := bonus.WindowFor(sel, req.Cooldown)
	if !w.IsReady(req.Now) {
		return bonus.ClaimResult{}, w.NotReadyErr(req.Now)
	}

	p, err := s.appendLocked(student.LedgerEntry{
		StudentID:      req.StudentID,
		Delta:          req.Points,
		Reason:         student.ReasonDailyBonus,
		Note:           req.AvatarID,
		IdempotencyKey: req.IdempotencyKey,
		CreatedAt:      req.Now.UTC(),
	})
	if err != nil {
		return bonus.ClaimResult{}, err
	}

	granted := req.Now.UTC()
	sel.DailyGrantedAt = &granted
	sel.Version++
	s.selections[req.StudentID] = sel

	return bonus.ClaimResult{
		PointsAwarded: req.Points,
		BalanceAfter:  p.PointsBalance,
		GrantedAt:     granted,
		Selection:     sel,
	}, nil
}

// Acquire implements bonus.ClaimLock.
func (s *Store) Acquire(ctx context.Context, studentID string, ttl time.Duration) (func(), bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if until, held := s.locks[studentID]; held && now.Before(until) {
		return func() {}, false, nil
	}
	s.locks[studentID] = now.Add(ttl)
	release := func() {
		s.mu.Lock()
		delete(s.locks, studentID)
		s.mu.Unlock()
	}
	return release, true, nil
}
