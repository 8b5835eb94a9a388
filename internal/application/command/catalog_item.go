package command

import (
	"context"
	"fmt"

	"github.com/alem-hub/progression-hub/internal/domain/cosmetic"
	"github.com/alem-hub/progression-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// CATALOG COMMANDS
// Admin edits of the cosmetic catalog. Each edit publishes catalog_changed so
// selections that no longer pass their gate are revoked.
// ══════════════════════════════════════════════════════════════════════════════

// UpsertCatalogItemCommand creates or replaces an item.
type UpsertCatalogItemCommand struct {
	Item          cosmetic.Item
	CorrelationID string
}

// Validate validates the command.
func (c UpsertCatalogItemCommand) Validate() error {
	if c.Item == nil {
		return shared.NewDomainError("command", "UpsertCatalogItem", shared.ErrValidation, "item is required")
	}
	return cosmetic.ValidateItem(c.Item)
}

// DeleteCatalogItemCommand removes an item. Existing unlock records are kept.
type DeleteCatalogItemCommand struct {
	Category      cosmetic.Category
	ItemKey       string
	CorrelationID string
}

// Validate validates the command.
func (c DeleteCatalogItemCommand) Validate() error {
	if !c.Category.IsValid() {
		return shared.ErrUnknownCategory
	}
	if cosmetic.IsNone(c.ItemKey) {
		return shared.NewDomainError("command", "DeleteCatalogItem", shared.ErrValidation, "item_key is required")
	}
	return nil
}

// CatalogItemHandler handles catalog edits.
type CatalogItemHandler struct {
	catalog        cosmetic.CatalogRepository
	eventPublisher shared.EventPublisher
}

// NewCatalogItemHandler creates a new CatalogItemHandler.
func NewCatalogItemHandler(catalog cosmetic.CatalogRepository, eventPublisher shared.EventPublisher) *CatalogItemHandler {
	return &CatalogItemHandler{catalog: catalog, eventPublisher: eventPublisher}
}

// Upsert stores the item.
func (h *CatalogItemHandler) Upsert(ctx context.Context, cmd UpsertCatalogItemCommand) error {
	if err := cmd.Validate(); err != nil {
		return err
	}
	if err := h.catalog.UpsertItem(ctx, cmd.Item); err != nil {
		return fmt.Errorf("upsert_catalog_item: %w", err)
	}
	b := cmd.Item.Base()
	publishAll(ctx, h.eventPublisher, cmd.CorrelationID, []shared.Event{
		shared.NewCatalogChangedEvent(string(cmd.Item.Category()), b.Key, b.Enabled, false),
	})
	return nil
}

// Delete removes the item.
func (h *CatalogItemHandler) Delete(ctx context.Context, cmd DeleteCatalogItemCommand) error {
	if err := cmd.Validate(); err != nil {
		return err
	}
	if err := h.catalog.DeleteItem(ctx, cmd.Category, cmd.ItemKey); err != nil {
		return fmt.Errorf("delete_catalog_item: %w", err)
	}
	publishAll(ctx, h.eventPublisher, cmd.CorrelationID, []shared.Event{
		shared.NewCatalogChangedEvent(string(cmd.Category), cmd.ItemKey, false, true),
	})
	return nil
}
