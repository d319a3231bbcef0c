package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"ragefit/pos/internal/domain"
	"ragefit/pos/internal/inventory"
	"ragefit/pos/internal/keylock"
	"ragefit/pos/internal/printer"
	"ragefit/pos/internal/printq"
	"ragefit/pos/internal/store"
	"ragefit/pos/internal/xid"
)

var (
	ErrNoActiveShift             = errors.New("no active shift")
	ErrShiftAlreadyActive        = errors.New("a shift is already active")
	ErrShiftNotActive            = errors.New("shift is not active")
	ErrNoPendingReview           = errors.New("no end-of-shift review in progress")
	ErrOutOfStock                = inventory.ErrOutOfStock
	ErrItemNotFound              = inventory.ErrItemNotFound
	ErrInvalidItem               = inventory.ErrInvalidItem
	ErrSaleNotFound              = errors.New("sale not found")
	ErrSaleClosed                = errors.New("sale is no longer open")
	ErrSaleNotPaid               = errors.New("sale has not been paid")
	ErrEmptySale                 = errors.New("sale has no items")
	ErrInvalidLine               = errors.New("invalid sale line")
	ErrMemberAlreadyAssigned     = errors.New("sale already has a member")
	ErrAlreadyRefunded           = errors.New("sale already refunded")
	ErrInvalidDiscount           = errors.New("invalid discount")
	ErrNoPendingDiscount         = errors.New("no pending discount")
	ErrInvalidPayment            = errors.New("invalid payment")
	ErrSplitPaymentMismatch      = errors.New("split payment does not match total")
	ErrInvalidAmount             = errors.New("invalid amount")
	ErrInvalidMovement           = errors.New("invalid cash movement type")
	ErrPrintTransportUnavailable = errors.New("no printer connected")
	ErrSessionClosed             = errors.New("session closed")
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Options struct {
	Branding domain.Branding
	// Location is used for receipt timestamps; UTC when nil.
	Location *time.Location
	Logger   zerolog.Logger
	Clock    func() time.Time
}

// Engine holds collaborators shared by every session: the store, the
// inventory ledger and the per-sale and shift locks.
type Engine struct {
	repo     store.Repository
	ledger   *inventory.Ledger
	branding domain.Branding
	loc      *time.Location
	log      zerolog.Logger
	now      func() time.Time

	saleLocks *keylock.Map
	shiftMu   sync.Mutex
}

func New(repo store.Repository, ledger *inventory.Ledger, opts Options) *Engine {
	if opts.Clock == nil {
		opts.Clock = func() time.Time { return time.Now().UTC() }
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Branding.BusinessName == "" {
		opts.Branding.BusinessName = "POS"
	}
	return &Engine{
		repo:      repo,
		ledger:    ledger,
		branding:  opts.Branding,
		loc:       opts.Location,
		log:       opts.Logger,
		now:       opts.Clock,
		saleLocks: keylock.New(),
	}
}

func (e *Engine) Branding() domain.Branding { return e.branding }

func (e *Engine) ListInventory(ctx context.Context) ([]domain.InventoryItem, error) {
	return e.ledger.List(ctx)
}

// Session is the state of one logged-in cashier: the sale being rung up,
// the printer and its queue, and any end-of-shift review in progress. It
// is created at login and closed at logout.
type Session struct {
	engine *Engine
	actor  domain.Actor
	queue  *printq.Queue

	mu           sync.Mutex
	activeSaleID string
	review       *pendingReview
	printer      printer.Transport
	closed       bool
}

type pendingReview struct {
	shiftID       string
	actualCash    decimal.Decimal
	denominations []domain.Denomination
}

func (e *Engine) NewSession(actor domain.Actor, queue *printq.Queue) *Session {
	if queue == nil {
		queue = printq.New(printq.Options{Logger: e.log})
	}
	return &Session{engine: e, actor: actor, queue: queue}
}

func (s *Session) Actor() domain.Actor { return s.actor }

func (s *Session) Queue() *printq.Queue { return s.queue }

func (s *Session) ActiveSaleID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeSaleID
}

// Close disconnects the printer and stops the print queue. Jobs still
// pending stay in the queue journal.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	transport := s.printer
	s.printer = nil
	s.mu.Unlock()

	var errs []error
	if err := s.queue.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close print queue: %w", err))
	}
	if transport != nil {
		if err := transport.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close printer: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (s *Session) ctx(ctx context.Context) context.Context {
	if _, ok := ActorFromContext(ctx); ok {
		return ctx
	}
	return WithActor(ctx, s.actor)
}

func (s *Session) checkOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	return nil
}

func (e *Engine) ListActivity(ctx context.Context, limit int) ([]domain.ActivityLog, error) {
	logs, err := e.repo.Activity().GetAll(ctx)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(logs) > limit {
		logs = logs[len(logs)-limit:]
	}
	return logs, nil
}

func (e *Engine) logActivity(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	entry := domain.ActivityLog{
		ID:            xid.New("log"),
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     e.now(),
	}
	if err := e.repo.Activity().Add(context.WithoutCancel(ctx), entry); err != nil {
		e.log.Warn().Err(err).Str("action", action).Str("entity", entityType+"/"+entityID).Msg("failed to write activity log")
	}
}

// shortID is the tail of a record id as shown to cashiers.
func shortID(id string) string {
	if len(id) <= 4 {
		return id
	}
	return id[len(id)-4:]
}
