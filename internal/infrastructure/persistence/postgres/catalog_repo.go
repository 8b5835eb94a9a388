package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/alem-hub/progression-hub/internal/domain/cosmetic"
	"github.com/alem-hub/progression-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// CATALOG REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// CatalogRepository implements cosmetic.CatalogRepository.
type CatalogRepository struct {
	conn *Connection
}

// NewCatalogRepository creates a new CatalogRepository.
func NewCatalogRepository(conn *Connection) *CatalogRepository {
	return &CatalogRepository{conn: conn}
}

// itemAttrs is the category-specific part of an item, stored as JSONB.
type itemAttrs struct {
	ImageURL string                `json:"image_url,omitempty"`
	Style    string                `json:"style,omitempty"`
	Aura     *cosmetic.AuraProfile `json:"aura,omitempty"`
}

const itemColumns = `category, key, name, unlock_level, unlock_points, enabled, sort_order, attrs`

// ListItems returns every item of a category.
func (r *CatalogRepository) ListItems(ctx context.Context, category cosmetic.Category) ([]cosmetic.Item, error) {
	if !category.IsValid() {
		return nil, shared.ErrUnknownCategory
	}

	rows, err := r.conn.Query(ctx, `
		SELECT `+itemColumns+`
		FROM cosmetic_items
		WHERE category = $1
		ORDER BY sort_order, unlock_level, key
	`, string(category))
	if err != nil {
		return nil, fmt.Errorf("failed to list cosmetic items: %w", err)
	}
	defer rows.Close()

	var items []cosmetic.Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}

	return items, rows.Err()
}

// GetItem returns one item.
func (r *CatalogRepository) GetItem(ctx context.Context, category cosmetic.Category, key string) (cosmetic.Item, error) {
	if !category.IsValid() {
		return nil, shared.ErrUnknownCategory
	}

	row := r.conn.QueryRow(ctx, `
		SELECT `+itemColumns+`
		FROM cosmetic_items
		WHERE category = $1 AND key = $2
	`, string(category), key)

	it, err := scanItem(row)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrItemNotFound
		}
		return nil, err
	}
	return it, nil
}

// UpsertItem creates or replaces an item.
func (r *CatalogRepository) UpsertItem(ctx context.Context, item cosmetic.Item) error {
	if err := cosmetic.ValidateItem(item); err != nil {
		return err
	}

	b := item.Base()
	attrs, err := json.Marshal(attrsOf(item))
	if err != nil {
		return fmt.Errorf("failed to marshal item attrs: %w", err)
	}

	_, err = r.conn.Exec(ctx, `
		INSERT INTO cosmetic_items (`+itemColumns+`, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		ON CONFLICT (category, key) DO UPDATE SET
			name = EXCLUDED.name,
			unlock_level = EXCLUDED.unlock_level,
			unlock_points = EXCLUDED.unlock_points,
			enabled = EXCLUDED.enabled,
			sort_order = EXCLUDED.sort_order,
			attrs = EXCLUDED.attrs,
			updated_at = EXCLUDED.updated_at
	`, string(item.Category()), b.Key, b.Name, b.UnlockLevel, b.UnlockPoints, b.Enabled, b.SortOrder, attrs)
	if err != nil {
		return fmt.Errorf("failed to upsert cosmetic item: %w", err)
	}
	return nil
}

// DeleteItem removes an item. Unlock records are kept.
func (r *CatalogRepository) DeleteItem(ctx context.Context, category cosmetic.Category, key string) error {
	if !category.IsValid() {
		return shared.ErrUnknownCategory
	}

	tag, err := r.conn.Exec(ctx, `DELETE FROM cosmetic_items WHERE category = $1 AND key = $2`, string(category), key)
	if err != nil {
		return fmt.Errorf("failed to delete cosmetic item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrItemNotFound
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Scanning
// ─────────────────────────────────────────────────────────────────────────────

func scanItem(row pgx.Row) (cosmetic.Item, error) {
	var (
		category string
		b        cosmetic.ItemBase
		raw      []byte
	)
	if err := row.Scan(&category, &b.Key, &b.Name, &b.UnlockLevel, &b.UnlockPoints, &b.Enabled, &b.SortOrder, &raw); err != nil {
		if IsNoRows(err) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan cosmetic item: %w", err)
	}

	var attrs itemAttrs
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &attrs); err != nil {
			return nil, fmt.Errorf("failed to unmarshal item attrs: %w", err)
		}
	}

	return buildItem(cosmetic.Category(category), b, attrs)
}

func buildItem(c cosmetic.Category, b cosmetic.ItemBase, attrs itemAttrs) (cosmetic.Item, error) {
	switch c {
	case cosmetic.CategoryAvatar:
		return cosmetic.Avatar{ItemBase: b, ImageURL: attrs.ImageURL, Aura: attrs.Aura}, nil
	case cosmetic.CategoryEffect:
		return cosmetic.Effect{ItemBase: b, Style: attrs.Style}, nil
	case cosmetic.CategoryCornerBorder:
		return cosmetic.CornerBorder{ItemBase: b, ImageURL: attrs.ImageURL}, nil
	case cosmetic.CategoryCardPlate:
		return cosmetic.CardPlate{ItemBase: b, ImageURL: attrs.ImageURL}, nil
	}
	return nil, shared.ErrUnknownCategory
}

func attrsOf(item cosmetic.Item) itemAttrs {
	switch v := item.(type) {
	case cosmetic.Avatar:
		return itemAttrs{ImageURL: v.ImageURL, Aura: v.Aura}
	case cosmetic.Effect:
		return itemAttrs{Style: v.Style}
	case cosmetic.CornerBorder:
		return itemAttrs{ImageURL: v.ImageURL}
	case cosmetic.CardPlate:
		return itemAttrs{ImageURL: v.ImageURL}
	}
	return itemAttrs{}
}
