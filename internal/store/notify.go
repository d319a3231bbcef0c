package store

import (
	"context"
	"time"

	"ragefit/pos/internal/domain"
	"ragefit/pos/internal/events"
)

// Notifying wraps repo so that every committed write is published to pub.
// Failed writes publish nothing.
func Notifying(repo Repository, pub events.Publisher) Repository {
	return &notifyingRepository{
		sales:     notifyingTable[domain.Sale]{next: repo.Sales(), name: TableSales, pub: pub},
		inventory: notifyingTable[domain.InventoryItem]{next: repo.Inventory(), name: TableInventory, pub: pub},
		shifts:    notifyingTable[domain.Shift]{next: repo.Shifts(), name: TableShifts, pub: pub},
		movements: notifyingTable[domain.CashMovement]{next: repo.CashMovements(), name: TableCashMovements, pub: pub},
		activity:  notifyingTable[domain.ActivityLog]{next: repo.Activity(), name: TableActivity, pub: pub},
		users:     notifyingTable[domain.UserAccount]{next: repo.Users(), name: TableUsers, pub: pub},
	}
}

type notifyingRepository struct {
	sales     notifyingTable[domain.Sale]
	inventory notifyingTable[domain.InventoryItem]
	shifts    notifyingTable[domain.Shift]
	movements notifyingTable[domain.CashMovement]
	activity  notifyingTable[domain.ActivityLog]
	users     notifyingTable[domain.UserAccount]
}

func (r *notifyingRepository) Sales() Table[domain.Sale]                 { return r.sales }
func (r *notifyingRepository) Inventory() Table[domain.InventoryItem]    { return r.inventory }
func (r *notifyingRepository) Shifts() Table[domain.Shift]               { return r.shifts }
func (r *notifyingRepository) CashMovements() Table[domain.CashMovement] { return r.movements }
func (r *notifyingRepository) Activity() Table[domain.ActivityLog]       { return r.activity }
func (r *notifyingRepository) Users() Table[domain.UserAccount]          { return r.users }

type notifyingTable[T Record] struct {
	next Table[T]
	name string
	pub  events.Publisher
}

func (t notifyingTable[T]) Get(ctx context.Context, id string) (T, error) {
	return t.next.Get(ctx, id)
}

func (t notifyingTable[T]) GetAll(ctx context.Context) ([]T, error) {
	return t.next.GetAll(ctx)
}

func (t notifyingTable[T]) Put(ctx context.Context, record T) error {
	if err := t.next.Put(ctx, record); err != nil {
		return err
	}
	t.emit(ctx, events.OpPut, record.RecordID())
	return nil
}

func (t notifyingTable[T]) Add(ctx context.Context, record T) error {
	if err := t.next.Add(ctx, record); err != nil {
		return err
	}
	t.emit(ctx, events.OpAdd, record.RecordID())
	return nil
}

func (t notifyingTable[T]) Delete(ctx context.Context, id string) error {
	if err := t.next.Delete(ctx, id); err != nil {
		return err
	}
	t.emit(ctx, events.OpDelete, id)
	return nil
}

func (t notifyingTable[T]) emit(ctx context.Context, op string, id string) {
	t.pub.Publish(ctx, events.Change{
		Table: t.name,
		Op:    op,
		ID:    id,
		At:    time.Now().UTC(),
	})
}
