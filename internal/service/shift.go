package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"ragefit/pos/internal/domain"
	"ragefit/pos/internal/store"
	"ragefit/pos/internal/xid"
)

type CashMovementRequest struct {
	ShiftID string          `json:"shift_id"`
	Type    string          `json:"type"`
	Amount  decimal.Decimal `json:"amount"`
	Note    string          `json:"note"`
	Late    bool            `json:"late"`
}

type shiftTotals struct {
	cashSales   decimal.Decimal
	onlineSales decimal.Decimal
	cashIn      decimal.Decimal
	cashOut     decimal.Decimal
	onlineOut   decimal.Decimal
	expected    decimal.Decimal
	movements   []domain.CashMovement
	unpaid      int
}

// ActiveShift returns the single Active shift. There is one register and
// one drawer, so the active shift is global rather than per operator.
func (e *Engine) ActiveShift(ctx context.Context) (domain.Shift, error) {
	shifts, err := e.repo.Shifts().GetAll(ctx)
	if err != nil {
		return domain.Shift{}, err
	}
	var active []domain.Shift
	for _, shift := range shifts {
		if shift.Status == domain.ShiftStatusActive {
			active = append(active, shift)
		}
	}
	switch len(active) {
	case 0:
		return domain.Shift{}, ErrNoActiveShift
	case 1:
		return active[0], nil
	default:
		e.log.Error().Int("count", len(active)).Msg("more than one active shift in store, using the latest")
		return active[len(active)-1], nil
	}
}

func (e *Engine) GetShift(ctx context.Context, shiftID string) (domain.Shift, error) {
	shift, err := e.repo.Shifts().Get(ctx, shiftID)
	if errors.Is(err, store.ErrNotFound) {
		return domain.Shift{}, fmt.Errorf("%w: shift %s", store.ErrNotFound, shiftID)
	}
	return shift, err
}

func (e *Engine) ListShifts(ctx context.Context) ([]domain.Shift, error) {
	return e.repo.Shifts().GetAll(ctx)
}

// SuggestedStartingCash is the counted cash of the most recently closed
// shift, or zero when no shift has been closed.
func (e *Engine) SuggestedStartingCash(ctx context.Context) (decimal.Decimal, error) {
	shifts, err := e.repo.Shifts().GetAll(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	var last *domain.Shift
	for i := range shifts {
		s := &shifts[i]
		if s.Status != domain.ShiftStatusCompleted || s.EndTime == nil {
			continue
		}
		if last == nil || s.EndTime.After(*last.EndTime) {
			last = s
		}
	}
	if last == nil {
		return decimal.Zero, nil
	}
	return last.ActualCash, nil
}

func (e *Engine) ListCashMovements(ctx context.Context, shiftID string) ([]domain.CashMovement, error) {
	all, err := e.repo.CashMovements().GetAll(ctx)
	if err != nil {
		return nil, err
	}
	if shiftID == "" {
		return all, nil
	}
	out := make([]domain.CashMovement, 0, len(all))
	for _, m := range all {
		if m.ShiftID == shiftID {
			out = append(out, m)
		}
	}
	return out, nil
}

// ComputeExpectedCash is startingCash + cash taken on sales + cash in -
// cash-drawer expenses. Online sales and online expenses never touch the
// drawer.
func (e *Engine) ComputeExpectedCash(ctx context.Context, shift domain.Shift) (decimal.Decimal, error) {
	totals, err := e.shiftTotals(ctx, shift)
	if err != nil {
		return decimal.Zero, err
	}
	return totals.expected, nil
}

func (e *Engine) shiftTotals(ctx context.Context, shift domain.Shift) (shiftTotals, error) {
	t := shiftTotals{
		cashSales:   decimal.Zero,
		onlineSales: decimal.Zero,
		cashIn:      decimal.Zero,
		cashOut:     decimal.Zero,
		onlineOut:   decimal.Zero,
	}
	sales, err := e.repo.Sales().GetAll(ctx)
	if err != nil {
		return shiftTotals{}, err
	}
	for _, sale := range sales {
		if sale.ShiftID != shift.ID {
			continue
		}
		if sale.Status == domain.SaleStatusUnpaid {
			t.unpaid++
			continue
		}
		t.cashSales = t.cashSales.Add(sale.CashPaid)
		t.onlineSales = t.onlineSales.Add(sale.OnlinePaid)
	}

	movements, err := e.ListCashMovements(ctx, shift.ID)
	if err != nil {
		return shiftTotals{}, err
	}
	t.movements = movements
	for _, m := range movements {
		switch m.Type {
		case domain.MovementCashIn:
			t.cashIn = t.cashIn.Add(m.Amount)
		case domain.MovementCashDrawer:
			t.cashOut = t.cashOut.Add(m.Amount)
		case domain.MovementOnline:
			t.onlineOut = t.onlineOut.Add(m.Amount)
		}
	}
	t.expected = shift.StartingCash.Add(t.cashSales).Add(t.cashIn).Sub(t.cashOut)
	return t, nil
}

func (s *Session) StartShift(ctx context.Context, startingCash decimal.Decimal) (domain.Shift, error) {
	if err := s.checkOpen(); err != nil {
		return domain.Shift{}, err
	}
	ctx = s.ctx(ctx)
	e := s.engine
	if startingCash.IsNegative() {
		return domain.Shift{}, fmt.Errorf("%w: starting cash must not be negative", ErrInvalidAmount)
	}

	e.shiftMu.Lock()
	defer e.shiftMu.Unlock()

	if active, err := e.ActiveShift(ctx); err == nil {
		return domain.Shift{}, fmt.Errorf("%w: %s opened by %s", ErrShiftAlreadyActive, active.ID, active.Operator)
	} else if !errors.Is(err, ErrNoActiveShift) {
		return domain.Shift{}, err
	}

	shift := domain.Shift{
		ID:           xid.New("shift"),
		Status:       domain.ShiftStatusActive,
		Operator:     s.actor.Username,
		StartingCash: startingCash,
		CashSales:    decimal.Zero,
		OnlineSales:  decimal.Zero,
		CashIn:       decimal.Zero,
		CashOut:      decimal.Zero,
		ExpectedCash: decimal.Zero,
		ActualCash:   decimal.Zero,
		Difference:   decimal.Zero,
		StartTime:    e.now(),
	}
	if err := e.repo.Shifts().Add(ctx, shift); err != nil {
		return domain.Shift{}, fmt.Errorf("start shift: %w", err)
	}
	e.logActivity(ctx, "shift_start", "shift", shift.ID, fmt.Sprintf("User %s started a shift with starting cash of %s.", s.actor.Username, startingCash.StringFixed(2)))
	return shift, nil
}

// RecordCashMovement appends an expense or cash-in to an active shift.
// Movements recorded while this session is reviewing the shift close are
// flagged late.
func (s *Session) RecordCashMovement(ctx context.Context, req CashMovementRequest) (domain.CashMovement, error) {
	if err := s.checkOpen(); err != nil {
		return domain.CashMovement{}, err
	}
	ctx = s.ctx(ctx)
	e := s.engine
	switch req.Type {
	case domain.MovementCashDrawer, domain.MovementOnline, domain.MovementCashIn:
	default:
		return domain.CashMovement{}, fmt.Errorf("%w: %q", ErrInvalidMovement, req.Type)
	}
	if !req.Amount.IsPositive() {
		return domain.CashMovement{}, fmt.Errorf("%w: amount must be greater than zero", ErrInvalidAmount)
	}

	e.shiftMu.Lock()
	defer e.shiftMu.Unlock()

	var shift domain.Shift
	var err error
	if req.ShiftID == "" {
		shift, err = e.ActiveShift(ctx)
	} else {
		shift, err = e.GetShift(ctx, req.ShiftID)
	}
	if err != nil {
		return domain.CashMovement{}, err
	}
	if shift.Status != domain.ShiftStatusActive {
		return domain.CashMovement{}, fmt.Errorf("%w: %s", ErrShiftNotActive, shift.ID)
	}

	late := req.Late
	s.mu.Lock()
	if s.review != nil && s.review.shiftID == shift.ID {
		late = true
	}
	s.mu.Unlock()

	movement := domain.CashMovement{
		ID:        xid.New("cash"),
		ShiftID:   shift.ID,
		Type:      req.Type,
		Amount:    req.Amount,
		Note:      strings.TrimSpace(req.Note),
		Late:      late,
		CreatedBy: s.actor.Username,
		CreatedAt: e.now(),
	}
	if err := e.repo.CashMovements().Add(ctx, movement); err != nil {
		return domain.CashMovement{}, fmt.Errorf("record cash movement: %w", err)
	}

	action := "cash_movement"
	if late {
		action = "cash_movement_late"
	}
	e.logActivity(ctx, action, "cash_movement", movement.ID, fmt.Sprintf("Recorded %s: %s for %s.", movement.Type, movement.Note, movement.Amount.StringFixed(2)))
	return movement, nil
}

// RequestEndShift builds the close-out summary for the active shift and
// enters the review state. Nothing is written until ConfirmEndShift.
func (s *Session) RequestEndShift(ctx context.Context, actualCash decimal.Decimal, denominations []domain.Denomination) (domain.ShiftReview, error) {
	if err := s.checkOpen(); err != nil {
		return domain.ShiftReview{}, err
	}
	ctx = s.ctx(ctx)
	if actualCash.IsNegative() {
		return domain.ShiftReview{}, fmt.Errorf("%w: counted cash must not be negative", ErrInvalidAmount)
	}
	shift, err := s.engine.ActiveShift(ctx)
	if err != nil {
		return domain.ShiftReview{}, err
	}
	review, err := s.engine.buildReview(ctx, shift, actualCash)
	if err != nil {
		return domain.ShiftReview{}, err
	}

	s.mu.Lock()
	s.review = &pendingReview{
		shiftID:       shift.ID,
		actualCash:    actualCash,
		denominations: append([]domain.Denomination(nil), denominations...),
	}
	s.mu.Unlock()
	return review, nil
}

// CurrentReview recomputes the summary for the review in progress, picking
// up late movements.
func (s *Session) CurrentReview(ctx context.Context) (domain.ShiftReview, error) {
	s.mu.Lock()
	pending := s.review
	s.mu.Unlock()
	if pending == nil {
		return domain.ShiftReview{}, ErrNoPendingReview
	}
	shift, err := s.engine.GetShift(ctx, pending.shiftID)
	if err != nil {
		return domain.ShiftReview{}, err
	}
	return s.engine.buildReview(ctx, shift, pending.actualCash)
}

func (s *Session) CancelEndShift(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.review == nil {
		return ErrNoPendingReview
	}
	s.review = nil
	return nil
}

// ConfirmEndShift closes the reviewed shift. Totals are recomputed at this
// point so movements added during review are included.
func (s *Session) ConfirmEndShift(ctx context.Context) (domain.Shift, error) {
	if err := s.checkOpen(); err != nil {
		return domain.Shift{}, err
	}
	ctx = s.ctx(ctx)
	e := s.engine

	s.mu.Lock()
	pending := s.review
	s.mu.Unlock()
	if pending == nil {
		return domain.Shift{}, ErrNoPendingReview
	}

	e.shiftMu.Lock()
	defer e.shiftMu.Unlock()

	shift, err := e.GetShift(ctx, pending.shiftID)
	if err != nil {
		return domain.Shift{}, err
	}
	if shift.Status != domain.ShiftStatusActive {
		s.clearReview(pending)
		return domain.Shift{}, fmt.Errorf("%w: %s", ErrShiftNotActive, shift.ID)
	}
	totals, err := e.shiftTotals(ctx, shift)
	if err != nil {
		return domain.Shift{}, err
	}

	end := e.now()
	shift.Status = domain.ShiftStatusCompleted
	shift.EndTime = &end
	shift.CashSales = totals.cashSales
	shift.OnlineSales = totals.onlineSales
	shift.CashIn = totals.cashIn
	shift.CashOut = totals.cashOut
	shift.ExpectedCash = totals.expected
	shift.ActualCash = pending.actualCash
	shift.Difference = pending.actualCash.Sub(totals.expected)
	shift.Denominations = pending.denominations
	if err := e.repo.Shifts().Put(ctx, shift); err != nil {
		return domain.Shift{}, fmt.Errorf("close shift: %w", err)
	}
	s.clearReview(pending)

	e.logActivity(ctx, "shift_end", "shift", shift.ID, fmt.Sprintf("User %s ended shift %s. Expected %s, counted %s, difference %s.",
		s.actor.Username, shortID(shift.ID), shift.ExpectedCash.StringFixed(2), shift.ActualCash.StringFixed(2), shift.Difference.StringFixed(2)))
	return shift, nil
}

func (s *Session) Reviewing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.review != nil
}

func (s *Session) clearReview(p *pendingReview) {
	s.mu.Lock()
	if s.review == p {
		s.review = nil
	}
	s.mu.Unlock()
}

func (e *Engine) buildReview(ctx context.Context, shift domain.Shift, actualCash decimal.Decimal) (domain.ShiftReview, error) {
	totals, err := e.shiftTotals(ctx, shift)
	if err != nil {
		return domain.ShiftReview{}, err
	}
	review := domain.ShiftReview{
		Shift:        shift,
		CashSales:    totals.cashSales,
		OnlineSales:  totals.onlineSales,
		CashIn:       totals.cashIn,
		CashOut:      totals.cashOut,
		OnlineOut:    totals.onlineOut,
		ExpectedCash: totals.expected,
		ActualCash:   actualCash,
		Difference:   actualCash.Sub(totals.expected),
		Movements:    totals.movements,
	}
	if actualCash.IsZero() {
		review.Warnings = append(review.Warnings, "counted cash is zero")
	}
	if totals.unpaid > 0 {
		review.Warnings = append(review.Warnings, fmt.Sprintf("%d unpaid sale(s) still open in this shift", totals.unpaid))
	}
	return review, nil
}
