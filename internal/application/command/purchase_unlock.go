package command

import (
	"context"
	"fmt"

	"github.com/alem-hub/progression-hub/internal/domain/cosmetic"
	"github.com/alem-hub/progression-hub/internal/domain/shared"
	"github.com/alem-hub/progression-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// PURCHASE UNLOCK COMMAND
// Buys a cosmetic item with spendable points and equips it. The level gate is
// checked first, then the balance; the record, deduction, ledger entry and
// selection are written in one transaction.
// ══════════════════════════════════════════════════════════════════════════════

// PurchaseUnlockCommand contains the data to purchase an item.
type PurchaseUnlockCommand struct {
	// StudentID is the buyer.
	StudentID string

	// Category is the item's category.
	Category cosmetic.Category

	// ItemKey is the item's key within the category.
	ItemKey string

	// IdempotencyKey deduplicates retried requests. Defaults to one key per
	// student and item, so an item is charged at most once.
	IdempotencyKey string

	// CorrelationID for tracing.
	CorrelationID string
}

// Validate validates the command.
func (c PurchaseUnlockCommand) Validate() error {
	if c.StudentID == "" {
		return shared.NewDomainError("command", "PurchaseUnlock", shared.ErrValidation, "student_id is required")
	}
	if !c.Category.IsValid() {
		return shared.ErrUnknownCategory
	}
	if cosmetic.IsNone(c.ItemKey) {
		return shared.NewDomainError("command", "PurchaseUnlock", shared.ErrValidation, "item_key is required")
	}
	return nil
}

func (c PurchaseUnlockCommand) idempotencyKey() string {
	if c.IdempotencyKey != "" {
		return clientKey("unlock", c.StudentID, c.IdempotencyKey)
	}
	return fmt.Sprintf("unlock:%s:%s:%s", c.StudentID, c.Category, c.ItemKey)
}

// PurchaseUnlockResult contains the result of a purchase.
type PurchaseUnlockResult struct {
	// AlreadyOwned is true when the item was bought before; nothing was charged.
	AlreadyOwned bool

	// Free is true when the item has no price and was only equipped.
	Free bool

	// PointsSpent is the amount deducted from the balance.
	PointsSpent float64

	// BalanceAfter is the spendable balance after the purchase.
	BalanceAfter float64

	// Selection is the stored selection after the purchase.
	Selection cosmetic.Selection

	// Events contains domain events generated.
	Events []shared.Event
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// PurchaseUnlockHandler handles the PurchaseUnlockCommand.
type PurchaseUnlockHandler struct {
	loader         StudentLoader
	store          cosmetic.PurchaseStore
	selections     cosmetic.SelectionRepository
	eventPublisher shared.EventPublisher
	purchases      FeatureToggle
	clock          Clock
}

// PurchaseUnlockHandlerConfig contains configuration for the handler.
type PurchaseUnlockHandlerConfig struct {
	// Purchases gates the whole flow (cosmetics.purchases flag).
	Purchases FeatureToggle
	Clock     Clock
}

// DefaultPurchaseUnlockHandlerConfig returns default configuration.
func DefaultPurchaseUnlockHandlerConfig() PurchaseUnlockHandlerConfig {
	return PurchaseUnlockHandlerConfig{}
}

// NewPurchaseUnlockHandler creates a new PurchaseUnlockHandler.
func NewPurchaseUnlockHandler(
	loader StudentLoader,
	store cosmetic.PurchaseStore,
	selections cosmetic.SelectionRepository,
	eventPublisher shared.EventPublisher,
	config PurchaseUnlockHandlerConfig,
) *PurchaseUnlockHandler {
	return &PurchaseUnlockHandler{
		loader:         loader,
		store:          store,
		selections:     selections,
		eventPublisher: eventPublisher,
		purchases:      config.Purchases,
		clock:          config.Clock,
	}
}

// Handle executes the purchase. It is never retried automatically.
func (h *PurchaseUnlockHandler) Handle(ctx context.Context, cmd PurchaseUnlockCommand) (*PurchaseUnlockResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	if !h.purchases.enabled(cmd.StudentID) {
		return nil, shared.NewDomainError("cosmetic", "Purchase", shared.ErrGateDenied, "purchases are currently disabled")
	}

	st, err := h.loader.Load(ctx, cmd.StudentID)
	if err != nil {
		return nil, fmt.Errorf("purchase_unlock: failed to load student: %w", err)
	}

	item, ok := st.Catalog.Lookup(cmd.Category, cmd.ItemKey)
	if !ok {
		return nil, cosmetic.Decision{Reason: cosmetic.GateMissingItem}.Err(cmd.Category, cmd.ItemKey)
	}
	base := item.Base()
	now := h.clock.now()
	log := logger.FromContext(ctx).With(
		logger.StudentID(cmd.StudentID),
		logger.Category(string(cmd.Category)),
		logger.ItemKey(cmd.ItemKey),
	)

	d := st.Decide(cmd.Category, cmd.ItemKey)
	switch {
	case d.Allowed && !base.IsFree():
		return &PurchaseUnlockResult{
			AlreadyOwned: true,
			BalanceAfter: st.Progress.PointsBalance,
			Selection:    st.Selection,
		}, nil

	case d.Allowed:
		sel, err := equip(ctx, h.selections, cmd.StudentID, cmd.Category, cmd.ItemKey, now)
		if err != nil {
			return nil, err
		}
		result := &PurchaseUnlockResult{
			Free:         true,
			BalanceAfter: st.Progress.PointsBalance,
			Selection:    sel,
		}
		if st.Selection.Key(cmd.Category) != cmd.ItemKey {
			result.Events = append(result.Events, shared.NewSelectionChangedEvent(cmd.StudentID, string(cmd.Category), cmd.ItemKey))
		}
		publishAll(ctx, h.eventPublisher, cmd.CorrelationID, result.Events)
		return result, nil

	case d.Reason != cosmetic.GateNotPurchased:
		return nil, d.Err(cmd.Category, cmd.ItemKey)
	}

	if !st.Progress.CanAfford(base.UnlockPoints) {
		return nil, cosmetic.InsufficientBalance(base.UnlockPoints, st.Progress.PointsBalance)
	}

	res, err := h.store.PurchaseUnlock(ctx, cosmetic.PurchaseRequest{
		StudentID:      cmd.StudentID,
		Item:           item,
		Level:          st.Table.ResolveLevel,
		IdempotencyKey: cmd.idempotencyKey(),
		Now:            now,
	})
	if err != nil {
		return nil, err
	}

	result := &PurchaseUnlockResult{
		AlreadyOwned: res.AlreadyOwned,
		PointsSpent:  res.PointsSpent,
		BalanceAfter: res.BalanceAfter,
		Selection:    res.Selection,
	}
	if !res.AlreadyOwned {
		result.Events = append(result.Events,
			shared.NewUnlockRecordedEvent(cmd.StudentID, string(cmd.Category), cmd.ItemKey, res.PointsSpent),
			shared.NewSelectionChangedEvent(cmd.StudentID, string(cmd.Category), cmd.ItemKey),
		)
		log.Info("item unlocked", logger.Points(res.PointsSpent), logger.Float64("balance_after", res.BalanceAfter))
	}
	publishAll(ctx, h.eventPublisher, cmd.CorrelationID, result.Events)
	return result, nil
}
