package service

import (
	"context"
	"fmt"

	"ragefit/pos/internal/domain"
)

// SaveItem creates or replaces a catalog item. The returned flag is true
// when the item did not exist before.
func (s *Session) SaveItem(ctx context.Context, item domain.InventoryItem) (domain.InventoryItem, bool, error) {
	if err := s.checkOpen(); err != nil {
		return domain.InventoryItem{}, false, err
	}
	ctx = s.ctx(ctx)

	saved, created, err := s.engine.ledger.Save(ctx, item)
	if err != nil {
		return domain.InventoryItem{}, false, err
	}
	if created {
		s.engine.logActivity(ctx, "inventory_create", "inventory", saved.ID,
			fmt.Sprintf("Added %s at %s.", saved.Name, saved.Price.StringFixed(2)))
	} else {
		s.engine.logActivity(ctx, "inventory_update", "inventory", saved.ID,
			fmt.Sprintf("Updated %s: price %s, quantity %d.", saved.Name, saved.Price.StringFixed(2), saved.Quantity))
	}
	return saved, created, nil
}

// RestockItem receives qty units into stock. It shares the per-item lock
// with cart adjustments, so a delivery booked mid-sale is never lost.
func (s *Session) RestockItem(ctx context.Context, itemID string, qty int) (domain.InventoryItem, error) {
	if err := s.checkOpen(); err != nil {
		return domain.InventoryItem{}, err
	}
	ctx = s.ctx(ctx)

	item, err := s.engine.ledger.AddStock(ctx, itemID, qty)
	if err != nil {
		return domain.InventoryItem{}, err
	}
	s.engine.logActivity(ctx, "inventory_restock", "inventory", item.ID,
		fmt.Sprintf("Restocked %d x %s, now %d on hand.", qty, item.Name, item.Quantity))
	return item, nil
}

func (s *Session) DeleteItem(ctx context.Context, itemID string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	ctx = s.ctx(ctx)

	item, err := s.engine.ledger.Delete(ctx, itemID)
	if err != nil {
		return err
	}
	s.engine.logActivity(ctx, "inventory_delete", "inventory", item.ID, fmt.Sprintf("Removed %s.", item.Name))
	return nil
}
