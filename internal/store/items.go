package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/elonfeng/gearrank/pkg/popularity"
)

// Gear types an item may carry.
const (
	GearCamera = "camera"
	GearLens   = "lens"
)

// Normalize trims the item's keys and lowercases its gear type, then
// rejects an empty id or a gear type other than camera or lens.
func (it *Item) Normalize() error {
	it.ID = strings.TrimSpace(it.ID)
	it.BrandID = strings.TrimSpace(it.BrandID)
	it.MountID = strings.TrimSpace(it.MountID)
	it.GearType = strings.ToLower(strings.TrimSpace(it.GearType))

	if it.ID == "" {
		return popularity.Invalid("id", "item id is required")
	}
	if it.GearType != GearCamera && it.GearType != GearLens {
		return popularity.Invalid("gear_type", fmt.Sprintf("item %s: gear_type must be camera or lens, got %q", it.ID, it.GearType))
	}
	return nil
}

// UpsertItem normalizes item and writes it.
func (s *SQLiteStore) UpsertItem(ctx context.Context, item *Item) error {
	if err := item.Normalize(); err != nil {
		return err
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO items (id, name, brand_id, mount_id, gear_type, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			brand_id = excluded.brand_id,
			mount_id = excluded.mount_id,
			gear_type = excluded.gear_type
	`, item.ID, item.Name, item.BrandID, item.MountID, item.GearType, item.CreatedAt)
	if err != nil {
		return fmt.Errorf("upsert item %s: %w", item.ID, err)
	}
	return nil
}

func (s *SQLiteStore) ItemExists(ctx context.Context, id string) (bool, error) {
	var n int
	err := s.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM items WHERE id = ?", id)
	if err != nil {
		return false, fmt.Errorf("item exists %s: %w", id, err)
	}
	return n > 0, nil
}

// AnyItemMatches reports whether at least one catalog item satisfies f.
func (s *SQLiteStore) AnyItemMatches(ctx context.Context, f ItemFilter) (bool, error) {
	clause, args := filterClause(f, nil)
	var n int
	err := s.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM (SELECT 1 FROM items i WHERE 1=1"+clause+" LIMIT 1)", args...)
	if err != nil {
		return false, fmt.Errorf("match items: %w", err)
	}
	return n > 0, nil
}
