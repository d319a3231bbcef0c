package memory

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"ragefit/pos/internal/domain"
	"ragefit/pos/internal/store"
)

type Store struct {
	sales     *table[domain.Sale]
	inventory *table[domain.InventoryItem]
	shifts    *table[domain.Shift]
	movements *table[domain.CashMovement]
	activity  *table[domain.ActivityLog]
	users     *table[domain.UserAccount]
}

func New() *Store {
	return &Store{
		sales:     newTable(domain.Sale.Clone),
		inventory: newTable(same[domain.InventoryItem]),
		shifts:    newTable(domain.Shift.Clone),
		movements: newTable(same[domain.CashMovement]),
		activity:  newTable(same[domain.ActivityLog]),
		users:     newTable(same[domain.UserAccount]),
	}
}

// NewSeeded returns a store with demo inventory and operator accounts.
func NewSeeded() *Store {
	s := New()
	now := time.Now().UTC()
	for _, item := range []domain.InventoryItem{
		{ID: "inv-day-pass", Name: "Day Pass", Category: "service", Price: decimal.NewFromInt(100), IsUnlimited: true},
		{ID: "inv-monthly", Name: "Monthly Membership", Category: "service", Price: decimal.NewFromInt(1200), IsUnlimited: true},
		{ID: "inv-water", Name: "Bottled Water", Category: "drinks", Price: decimal.NewFromInt(25), Quantity: 48},
		{ID: "inv-sports-drink", Name: "Sports Drink", Category: "drinks", Price: decimal.NewFromInt(50), Quantity: 24},
		{ID: "inv-whey", Name: "Whey Protein Shake", Category: "supplements", Price: decimal.RequireFromString("149.50"), Quantity: 12},
		{ID: "inv-towel", Name: "Gym Towel", Category: "merch", Price: decimal.NewFromInt(180), Quantity: 10},
		{ID: "inv-locker", Name: "Locker Rental", Category: "service", Price: decimal.NewFromInt(20), IsUnlimited: true},
	} {
		item.UpdatedAt = now
		s.inventory.rows[item.ID] = item
	}
	for username, user := range seedUsers() {
		s.users.rows[username] = user
	}
	return s
}

// seedUsers builds the initial operator accounts for dev/demo mode.
// Credentials come from SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD; if
// unset, dev defaults are used with a warning.
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Warn().Str("component", "memory-store").Msg("using default dev credentials, set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, domain.RoleAdmin},
		{"cashier", cashierPwd, domain.RoleCashier},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatal().Err(err).Str("username", u.username).Msg("failed to hash seed password")
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func (s *Store) Sales() store.Table[domain.Sale]                 { return s.sales }
func (s *Store) Inventory() store.Table[domain.InventoryItem]    { return s.inventory }
func (s *Store) Shifts() store.Table[domain.Shift]               { return s.shifts }
func (s *Store) CashMovements() store.Table[domain.CashMovement] { return s.movements }
func (s *Store) Activity() store.Table[domain.ActivityLog]       { return s.activity }
func (s *Store) Users() store.Table[domain.UserAccount]          { return s.users }

func (s *Store) Close() error { return nil }

type table[T store.Record] struct {
	mu    sync.RWMutex
	rows  map[string]T
	clone func(T) T
}

func newTable[T store.Record](clone func(T) T) *table[T] {
	return &table[T]{rows: make(map[string]T), clone: clone}
}

func same[T any](v T) T { return v }

func (t *table[T]) Get(_ context.Context, id string) (T, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	row, ok := t.rows[id]
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s", store.ErrNotFound, id)
	}
	return t.clone(row), nil
}

// GetAll returns rows ordered by id. Ids are time-ordered, so this is
// insertion order for generated ids.
func (t *table[T]) GetAll(_ context.Context) ([]T, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	keys := make([]string, 0, len(t.rows))
	for k := range t.rows {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]T, 0, len(keys))
	for _, k := range keys {
		out = append(out, t.clone(t.rows[k]))
	}
	return out, nil
}

func (t *table[T]) Put(_ context.Context, record T) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rows[record.RecordID()] = t.clone(record)
	return nil
}

func (t *table[T]) Add(_ context.Context, record T) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := record.RecordID()
	if _, exists := t.rows[id]; exists {
		return fmt.Errorf("%w: %s", store.ErrConflict, id)
	}
	t.rows[id] = t.clone(record)
	return nil
}

func (t *table[T]) Delete(_ context.Context, id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.rows[id]; !ok {
		return fmt.Errorf("%w: %s", store.ErrNotFound, id)
	}
	delete(t.rows, id)
	return nil
}
