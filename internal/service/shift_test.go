package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"ragefit/pos/internal/domain"
)

func TestStartShiftOnlyOnce(t *testing.T) {
	e, _ := newTestEngine(t)
	s := newTestSession(t, e)
	ctx := context.Background()

	startShift(t, s, "1000")
	other := newTestSession(t, e)
	if _, err := other.StartShift(ctx, dec("500")); !errors.Is(err, ErrShiftAlreadyActive) {
		t.Fatalf("expected ErrShiftAlreadyActive, got %v", err)
	}
	if _, err := s.StartShift(ctx, dec("-1")); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount for negative float, got %v", err)
	}
}

// 1000 start + 200 cash in - 150 drawer expense + 300 cash sales = 1350.
func TestExpectedCashScenario(t *testing.T) {
	e, _ := newTestEngine(t, item("a", "300", 5), item("b", "80", 5))
	s := newTestSession(t, e)
	shift := startShift(t, s, "1000")
	ctx := context.Background()

	if _, err := s.RecordCashMovement(ctx, CashMovementRequest{Type: domain.MovementCashIn, Amount: dec("200"), Note: "change fund"}); err != nil {
		t.Fatalf("cash in: %v", err)
	}
	if _, err := s.RecordCashMovement(ctx, CashMovementRequest{Type: domain.MovementCashDrawer, Amount: dec("150"), Note: "ice"}); err != nil {
		t.Fatalf("expense: %v", err)
	}
	// Online activity never touches the drawer.
	if _, err := s.RecordCashMovement(ctx, CashMovementRequest{Type: domain.MovementOnline, Amount: dec("999"), Note: "supplier"}); err != nil {
		t.Fatalf("online expense: %v", err)
	}

	cashSale, _ := s.AddItem(ctx, "", "a")
	if _, err := s.ProcessPayment(ctx, cashSale.ID, PaymentRequest{Method: domain.PaymentCash, CashAmount: dec("500")}); err != nil {
		t.Fatalf("cash payment: %v", err)
	}
	onlineSale, _ := s.AddItem(ctx, "", "b")
	if _, err := s.ProcessPayment(ctx, onlineSale.ID, PaymentRequest{Method: domain.PaymentOnline}); err != nil {
		t.Fatalf("online payment: %v", err)
	}
	// Unpaid sales are excluded.
	_, _ = s.AddItem(ctx, "", "a")

	expected, err := e.ComputeExpectedCash(ctx, shift)
	if err != nil {
		t.Fatalf("expected cash: %v", err)
	}
	if !expected.Equal(dec("1350")) {
		t.Fatalf("expected 1350, got %s", expected)
	}

	review, err := s.RequestEndShift(ctx, dec("1340"), nil)
	if err != nil {
		t.Fatalf("request end: %v", err)
	}
	if !review.OnlineSales.Equal(dec("80")) || !review.OnlineOut.Equal(dec("999")) {
		t.Fatalf("unexpected online totals %s / %s", review.OnlineSales, review.OnlineOut)
	}
	if !review.Difference.Equal(dec("-10")) {
		t.Fatalf("expected difference -10, got %s", review.Difference)
	}
	if len(review.Warnings) != 1 || !strings.Contains(review.Warnings[0], "1 unpaid") {
		t.Fatalf("expected unpaid warning, got %v", review.Warnings)
	}
}

func TestRefundReducesExpectedCash(t *testing.T) {
	e, _ := newTestEngine(t, item("a", "100", 5))
	s := newTestSession(t, e)
	shift := startShift(t, s, "500")
	ctx := context.Background()

	sale, _ := s.AddItem(ctx, "", "a")
	_, _ = s.ProcessPayment(ctx, sale.ID, PaymentRequest{Method: domain.PaymentCash})
	if _, err := s.RefundSale(ctx, sale.ID); err != nil {
		t.Fatalf("refund: %v", err)
	}
	expected, _ := e.ComputeExpectedCash(ctx, shift)
	if !expected.Equal(dec("500")) {
		t.Fatalf("refund mirror should cancel the sale, got %s", expected)
	}
}

func TestEndShiftReviewConfirm(t *testing.T) {
	e, _ := newTestEngine(t)
	s := newTestSession(t, e)
	shift := startShift(t, s, "1000")
	ctx := context.Background()

	if _, err := s.ConfirmEndShift(ctx); !errors.Is(err, ErrNoPendingReview) {
		t.Fatalf("confirm without review should fail, got %v", err)
	}
	total, denoms, err := CountCash(map[string]int{"1000": 1, "0.25": 2})
	if err != nil {
		t.Fatalf("count cash: %v", err)
	}
	review, err := s.RequestEndShift(ctx, total, denoms)
	if err != nil {
		t.Fatalf("request end: %v", err)
	}
	if !review.Difference.Equal(dec("0.50")) {
		t.Fatalf("expected difference 0.50, got %s", review.Difference)
	}
	if !s.Reviewing() {
		t.Fatalf("session should be in review")
	}
	still, _ := e.GetShift(ctx, shift.ID)
	if still.Status != domain.ShiftStatusActive {
		t.Fatalf("review must not close the shift")
	}

	closed, err := s.ConfirmEndShift(ctx)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if closed.Status != domain.ShiftStatusCompleted || closed.EndTime == nil {
		t.Fatalf("unexpected closed shift %+v", closed)
	}
	if !closed.ActualCash.Equal(dec("1000.50")) || len(closed.Denominations) != 2 {
		t.Fatalf("unexpected count on closed shift %+v", closed)
	}
	if _, err := e.ActiveShift(ctx); !errors.Is(err, ErrNoActiveShift) {
		t.Fatalf("expected no active shift, got %v", err)
	}
	if _, err := s.OpenOrGetActiveSale(ctx); !errors.Is(err, ErrNoActiveShift) {
		t.Fatalf("sales need a shift after close, got %v", err)
	}

	suggested, _ := e.SuggestedStartingCash(ctx)
	if !suggested.Equal(dec("1000.50")) {
		t.Fatalf("expected suggested float 1000.50, got %s", suggested)
	}
}

func TestLateMovementIsFlaggedAndCounted(t *testing.T) {
	e, _ := newTestEngine(t)
	s := newTestSession(t, e)
	startShift(t, s, "1000")
	ctx := context.Background()

	review, err := s.RequestEndShift(ctx, dec("0"), nil)
	if err != nil {
		t.Fatalf("request end: %v", err)
	}
	if len(review.Warnings) == 0 || review.Warnings[0] != "counted cash is zero" {
		t.Fatalf("expected zero-count warning, got %v", review.Warnings)
	}

	m, err := s.RecordCashMovement(ctx, CashMovementRequest{Type: domain.MovementCashDrawer, Amount: dec("100"), Note: "forgot"})
	if err != nil {
		t.Fatalf("late movement: %v", err)
	}
	if !m.Late {
		t.Fatalf("movement during review must be marked late")
	}
	current, _ := s.CurrentReview(ctx)
	if !current.ExpectedCash.Equal(dec("900")) {
		t.Fatalf("review should pick up late movement, got %s", current.ExpectedCash)
	}
	closed, err := s.ConfirmEndShift(ctx)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if !closed.ExpectedCash.Equal(dec("900")) || !closed.CashOut.Equal(dec("100")) {
		t.Fatalf("closed shift should include late movement: %+v", closed)
	}
}

func TestCancelEndShiftKeepsShiftOpen(t *testing.T) {
	e, _ := newTestEngine(t)
	s := newTestSession(t, e)
	startShift(t, s, "1000")
	ctx := context.Background()

	if _, err := s.RequestEndShift(ctx, dec("1000"), nil); err != nil {
		t.Fatalf("request end: %v", err)
	}
	if err := s.CancelEndShift(ctx); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	m, _ := s.RecordCashMovement(ctx, CashMovementRequest{Type: domain.MovementCashIn, Amount: dec("5")})
	if m.Late {
		t.Fatalf("movement after cancel should not be late")
	}
	if err := s.CancelEndShift(ctx); !errors.Is(err, ErrNoPendingReview) {
		t.Fatalf("expected ErrNoPendingReview, got %v", err)
	}
}

func TestCashMovementValidation(t *testing.T) {
	e, _ := newTestEngine(t)
	s := newTestSession(t, e)
	ctx := context.Background()

	if _, err := s.RecordCashMovement(ctx, CashMovementRequest{Type: domain.MovementCashIn, Amount: dec("5")}); !errors.Is(err, ErrNoActiveShift) {
		t.Fatalf("expected ErrNoActiveShift, got %v", err)
	}
	startShift(t, s, "0")
	if _, err := s.RecordCashMovement(ctx, CashMovementRequest{Type: "Card", Amount: dec("5")}); !errors.Is(err, ErrInvalidMovement) {
		t.Fatalf("expected ErrInvalidMovement, got %v", err)
	}
	if _, err := s.RecordCashMovement(ctx, CashMovementRequest{Type: domain.MovementCashIn, Amount: dec("0")}); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}

func TestCountCashIsExact(t *testing.T) {
	counts := map[string]int{"0.10": 3, "0.05": 7, "0.01": 9, "1000": 0}
	total, breakdown, err := CountCash(counts)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if !total.Equal(dec("0.74")) {
		t.Fatalf("expected 0.74, got %s", total)
	}
	if len(breakdown) != 3 || !breakdown[0].FaceValue.Equal(dec("0.10")) {
		t.Fatalf("unexpected breakdown %+v", breakdown)
	}

	bad := []map[string]int{
		{"abc": 1},
		{"0": 1},
		{"20": -1},
		{"0.1": 1, "0.10": 1},
	}
	for _, c := range bad {
		if _, _, err := CountCash(c); !errors.Is(err, ErrInvalidAmount) {
			t.Fatalf("expected ErrInvalidAmount for %v, got %v", c, err)
		}
	}
}
