package store

import (
	"context"
	"fmt"

	"github.com/surrealdb/surrealdb.go"

	"github.com/pricedock/pricedock/internal/models"
)

// catalogKey builds the deterministic record id for (supplier_id, sku) so
// re-ingesting a supplier upserts instead of duplicating.
func catalogKey(supplierID, sku string) string {
	return supplierID + ":" + sku
}

// UpsertCatalogItem writes one validated normalized record into the catalog
// output table, keyed by (supplier_id, sku).
func (c *Client) UpsertCatalogItem(ctx context.Context, item models.CatalogItem) error {
	_, err := surrealdb.Query[any](ctx, c.db, `
		UPSERT type::record("catalog_item", $id) CONTENT $item
	`, map[string]any{
		"id":   catalogKey(item.SupplierID, item.SKU),
		"item": item,
	})
	if err != nil {
		return fmt.Errorf("upsert catalog item: %w", wrapQueryError(err))
	}
	return nil
}

// QueueForReview stores a record whose match outcome needs a human decision.
func (c *Client) QueueForReview(ctx context.Context, item models.CatalogItem) error {
	_, err := surrealdb.Query[any](ctx, c.db, `
		CREATE review_item CONTENT $item
	`, map[string]any{"item": item})
	if err != nil {
		return fmt.Errorf("queue for review: %w", wrapQueryError(err))
	}
	return nil
}

// CatalogItemsBySupplier returns the existing catalog rows for one supplier,
// used by the matcher to reconcile extracted records.
func (c *Client) CatalogItemsBySupplier(ctx context.Context, supplierID string) ([]models.CatalogItem, error) {
	results, err := surrealdb.Query[[]models.CatalogItem](ctx, c.db, `
		SELECT * FROM catalog_item WHERE supplier_id = $supplier
	`, map[string]any{"supplier": supplierID})
	if err != nil {
		return nil, fmt.Errorf("catalog items by supplier: %w", wrapQueryError(err))
	}
	if results == nil || len(*results) == 0 {
		return []models.CatalogItem{}, nil
	}
	return (*results)[0].Result, nil
}
