package store

import (
	"context"
	"errors"

	"ragefit/pos/internal/domain"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("record already exists")
)

const (
	TableSales         = "sales"
	TableInventory     = "inventory"
	TableShifts        = "shifts"
	TableCashMovements = "cash_movements"
	TableActivity      = "activity_logs"
	TableUsers         = "users"
)

// Record is anything stored in a keyed table.
type Record interface {
	RecordID() string
}

// Table is a keyed-record table. Each call runs in its own implicit
// transaction; callers get no atomicity across tables or across calls.
type Table[T Record] interface {
	Get(ctx context.Context, id string) (T, error)
	GetAll(ctx context.Context) ([]T, error)
	Put(ctx context.Context, record T) error
	Add(ctx context.Context, record T) error
	Delete(ctx context.Context, id string) error
}

type Repository interface {
	Sales() Table[domain.Sale]
	Inventory() Table[domain.InventoryItem]
	Shifts() Table[domain.Shift]
	CashMovements() Table[domain.CashMovement]
	Activity() Table[domain.ActivityLog]
	Users() Table[domain.UserAccount]
}
