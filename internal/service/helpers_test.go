package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"ragefit/pos/internal/domain"
	"ragefit/pos/internal/inventory"
	"ragefit/pos/internal/printer"
	"ragefit/pos/internal/printq"
	"ragefit/pos/internal/store/memory"
)

var cashier = domain.Actor{Username: "cashier", Role: domain.RoleCashier}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newTestEngine(t *testing.T, items ...domain.InventoryItem) (*Engine, *memory.Store) {
	t.Helper()
	repo := memory.New()
	for _, item := range items {
		if err := repo.Inventory().Add(context.Background(), item); err != nil {
			t.Fatalf("seed %s: %v", item.ID, err)
		}
	}
	engine := New(repo, inventory.NewLedger(repo.Inventory()), Options{
		Branding: domain.Branding{BusinessName: "RageFit Gym", Address: "Tagum City, Davao Region"},
		Logger:   zerolog.Nop(),
	})
	return engine, repo
}

func newTestSession(t *testing.T, e *Engine) *Session {
	t.Helper()
	q := printq.New(printq.Options{Delay: time.Millisecond, Logger: zerolog.Nop()})
	s := e.NewSession(cashier, q)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func startShift(t *testing.T, s *Session, cash string) domain.Shift {
	t.Helper()
	shift, err := s.StartShift(context.Background(), dec(cash))
	if err != nil {
		t.Fatalf("start shift: %v", err)
	}
	return shift
}

func stock(t *testing.T, e *Engine, itemID string) int {
	t.Helper()
	item, err := e.ledger.Get(context.Background(), itemID)
	if err != nil {
		t.Fatalf("get %s: %v", itemID, err)
	}
	return item.Quantity
}

func item(id string, price string, qty int) domain.InventoryItem {
	return domain.InventoryItem{ID: id, Name: id, Price: dec(price), Quantity: qty}
}

type recordingTransport struct {
	mu     sync.Mutex
	writes [][]byte
	fail   bool
}

func (r *recordingTransport) Write(_ context.Context, payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return printer.ErrTransportWriteFailure
	}
	r.writes = append(r.writes, append([]byte(nil), payload...))
	return nil
}

func (r *recordingTransport) Close() error { return nil }
func (r *recordingTransport) Name() string { return "recording" }

func (r *recordingTransport) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.writes)
}

type staticConnector struct{ t printer.Transport }

func (c staticConnector) Connect(context.Context) (printer.Transport, error) {
	if c.t == nil {
		return nil, errors.New("no device")
	}
	return c.t, nil
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
