package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"ragefit/pos/internal/domain"
	"ragefit/pos/internal/keylock"
	"ragefit/pos/internal/store"
	"ragefit/pos/internal/xid"
)

var (
	ErrItemNotFound = errors.New("item not found")
	ErrOutOfStock   = errors.New("out of stock")
	ErrInvalidItem  = errors.New("invalid inventory item")
)

type Adjustment struct {
	ItemID string
	Delta  int
}

// Ledger is the only writer of InventoryItem quantities. Adjustments to the
// same item are serialized; different items proceed independently.
type Ledger struct {
	items store.Table[domain.InventoryItem]
	locks *keylock.Map
	now   func() time.Time
}

func NewLedger(items store.Table[domain.InventoryItem]) *Ledger {
	return &Ledger{
		items: items,
		locks: keylock.New(),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (l *Ledger) Get(ctx context.Context, itemID string) (domain.InventoryItem, error) {
	item, err := l.items.Get(ctx, itemID)
	if errors.Is(err, store.ErrNotFound) {
		return domain.InventoryItem{}, fmt.Errorf("%w: %s", ErrItemNotFound, itemID)
	}
	return item, err
}

func (l *Ledger) List(ctx context.Context) ([]domain.InventoryItem, error) {
	return l.items.GetAll(ctx)
}

// Adjust applies delta to the item's quantity. Unlimited items are returned
// unchanged. A result below zero fails with ErrOutOfStock and writes nothing.
func (l *Ledger) Adjust(ctx context.Context, itemID string, delta int) (domain.InventoryItem, error) {
	unlock := l.locks.Lock(itemID)
	defer unlock()
	return l.adjustLocked(ctx, itemID, delta)
}

func (l *Ledger) adjustLocked(ctx context.Context, itemID string, delta int) (domain.InventoryItem, error) {
	item, err := l.Get(ctx, itemID)
	if err != nil {
		return domain.InventoryItem{}, err
	}
	if item.IsUnlimited || delta == 0 {
		return item, nil
	}
	next := item.Quantity + delta
	if next < 0 {
		return item, fmt.Errorf("%w: %s has %d left", ErrOutOfStock, item.Name, item.Quantity)
	}
	item.Quantity = next
	item.UpdatedAt = l.now()
	if err := l.items.Put(ctx, item); err != nil {
		return domain.InventoryItem{}, fmt.Errorf("adjust %s: %w", itemID, err)
	}
	return item, nil
}

// Save creates item, or replaces the stored item with the same id. An empty
// id gets a fresh one. Quantity is taken as a stock count and is ignored
// for unlimited items. created reports whether the item is new.
func (l *Ledger) Save(ctx context.Context, item domain.InventoryItem) (saved domain.InventoryItem, created bool, err error) {
	item.Name = strings.TrimSpace(item.Name)
	item.Category = strings.TrimSpace(item.Category)
	switch {
	case item.Name == "":
		return domain.InventoryItem{}, false, fmt.Errorf("%w: name is required", ErrInvalidItem)
	case item.Price.IsNegative():
		return domain.InventoryItem{}, false, fmt.Errorf("%w: price must not be negative", ErrInvalidItem)
	case item.Quantity < 0:
		return domain.InventoryItem{}, false, fmt.Errorf("%w: quantity must not be negative", ErrInvalidItem)
	}
	if item.ID == "" {
		item.ID = xid.New("inv")
	}
	if item.IsUnlimited {
		item.Quantity = 0
	}

	unlock := l.locks.Lock(item.ID)
	defer unlock()

	_, err = l.items.Get(ctx, item.ID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		created = true
	case err != nil:
		return domain.InventoryItem{}, false, err
	}
	item.UpdatedAt = l.now()
	if err := l.items.Put(ctx, item); err != nil {
		return domain.InventoryItem{}, false, fmt.Errorf("save %s: %w", item.ID, err)
	}
	return item, created, nil
}

// AddStock receives qty units of a tracked item.
func (l *Ledger) AddStock(ctx context.Context, itemID string, qty int) (domain.InventoryItem, error) {
	if qty <= 0 {
		return domain.InventoryItem{}, fmt.Errorf("%w: quantity must be greater than zero", ErrInvalidItem)
	}
	unlock := l.locks.Lock(itemID)
	defer unlock()

	item, err := l.Get(ctx, itemID)
	if err != nil {
		return domain.InventoryItem{}, err
	}
	if item.IsUnlimited {
		return domain.InventoryItem{}, fmt.Errorf("%w: %s is not stock tracked", ErrInvalidItem, item.Name)
	}
	return l.adjustLocked(ctx, itemID, qty)
}

// Delete removes an item from the catalog. Sales that already hold it keep
// their lines.
func (l *Ledger) Delete(ctx context.Context, itemID string) (domain.InventoryItem, error) {
	unlock := l.locks.Lock(itemID)
	defer unlock()

	item, err := l.Get(ctx, itemID)
	if err != nil {
		return domain.InventoryItem{}, err
	}
	if err := l.items.Delete(ctx, itemID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.InventoryItem{}, fmt.Errorf("%w: %s", ErrItemNotFound, itemID)
		}
		return domain.InventoryItem{}, err
	}
	return item, nil
}

// Apply runs adjustments in order. If one fails, those already applied are
// reversed before the error is returned.
func (l *Ledger) Apply(ctx context.Context, adjustments []Adjustment) error {
	applied := make([]Adjustment, 0, len(adjustments))
	for _, adj := range adjustments {
		if _, err := l.Adjust(ctx, adj.ItemID, adj.Delta); err != nil {
			l.revert(ctx, applied)
			return err
		}
		applied = append(applied, adj)
	}
	return nil
}

func (l *Ledger) revert(ctx context.Context, applied []Adjustment) {
	ctx = context.WithoutCancel(ctx)
	for i := len(applied) - 1; i >= 0; i-- {
		_, _ = l.Adjust(ctx, applied[i].ItemID, -applied[i].Delta)
	}
}

// Restock returns the adjustments that put every line of a sale back.
func Restock(lines []domain.SaleLine) []Adjustment {
	out := make([]Adjustment, 0, len(lines))
	for _, line := range lines {
		if line.Qty <= 0 {
			continue
		}
		out = append(out, Adjustment{ItemID: line.ItemID, Delta: line.Qty})
	}
	return out
}
