package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"ragefit/pos/internal/domain"
)

func TestOpenSaleRequiresActiveShift(t *testing.T) {
	e, _ := newTestEngine(t, item("water", "25", 5))
	s := newTestSession(t, e)

	if _, err := s.OpenOrGetActiveSale(context.Background()); !errors.Is(err, ErrNoActiveShift) {
		t.Fatalf("expected ErrNoActiveShift, got %v", err)
	}
	if _, err := s.AddItem(context.Background(), "", "water"); !errors.Is(err, ErrNoActiveShift) {
		t.Fatalf("expected ErrNoActiveShift from AddItem, got %v", err)
	}
	if got := stock(t, e, "water"); got != 5 {
		t.Fatalf("inventory must be untouched, got %d", got)
	}
}

func TestOpenOrGetActiveSaleReturnsSameSale(t *testing.T) {
	e, _ := newTestEngine(t)
	s := newTestSession(t, e)
	shift := startShift(t, s, "0")
	ctx := context.Background()

	first, err := s.OpenOrGetActiveSale(ctx)
	if err != nil {
		t.Fatalf("open sale: %v", err)
	}
	again, _ := s.OpenOrGetActiveSale(ctx)
	if first.ID != again.ID {
		t.Fatalf("expected the same active sale, got %s and %s", first.ID, again.ID)
	}
	if first.ShiftID != shift.ID || first.DisplayName != domain.WalkInClient || first.Status != domain.SaleStatusUnpaid {
		t.Fatalf("unexpected new sale %+v", first)
	}
}

// Adding the same 50.00 item twice yields one line of qty 2.
func TestAddItemTwiceScenario(t *testing.T) {
	e, _ := newTestEngine(t, item("shake", "50", 10))
	s := newTestSession(t, e)
	startShift(t, s, "0")
	ctx := context.Background()

	sale, err := s.AddItem(ctx, "", "shake")
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	sale, err = s.AddItem(ctx, sale.ID, "shake")
	if err != nil {
		t.Fatalf("add again: %v", err)
	}
	if !sale.TotalAmount.Equal(dec("100")) {
		t.Fatalf("expected total 100, got %s", sale.TotalAmount)
	}
	if len(sale.Lines) != 1 || sale.Lines[0].Qty != 2 {
		t.Fatalf("expected one line of qty 2, got %+v", sale.Lines)
	}
	if got := stock(t, e, "shake"); got != 8 {
		t.Fatalf("expected inventory 8, got %d", got)
	}
}

func TestAddItemOutOfStockAndUnknown(t *testing.T) {
	e, _ := newTestEngine(t, item("towel", "180", 0))
	s := newTestSession(t, e)
	startShift(t, s, "0")
	ctx := context.Background()
	sale, _ := s.OpenOrGetActiveSale(ctx)

	if _, err := s.AddItem(ctx, sale.ID, "towel"); !errors.Is(err, ErrOutOfStock) {
		t.Fatalf("expected ErrOutOfStock, got %v", err)
	}
	if _, err := s.AddItem(ctx, sale.ID, "ghost"); !errors.Is(err, ErrItemNotFound) {
		t.Fatalf("expected ErrItemNotFound, got %v", err)
	}
	got, _ := e.GetSale(ctx, sale.ID)
	if len(got.Lines) != 0 {
		t.Fatalf("failed adds must not change the sale, got %+v", got.Lines)
	}
}

func TestUnlimitedItemNeverRunsOut(t *testing.T) {
	pass := domain.InventoryItem{ID: "pass", Name: "Day Pass", Price: dec("100"), IsUnlimited: true}
	e, _ := newTestEngine(t, pass)
	s := newTestSession(t, e)
	startShift(t, s, "0")
	ctx := context.Background()

	var sale domain.Sale
	var err error
	for i := 0; i < 3; i++ {
		sale, err = s.AddItem(ctx, sale.ID, "pass")
		if err != nil {
			t.Fatalf("add %d: %v", i, err)
		}
	}
	if sale.Lines[0].Qty != 3 || stock(t, e, "pass") != 0 {
		t.Fatalf("unexpected state: qty=%d stock=%d", sale.Lines[0].Qty, stock(t, e, "pass"))
	}
}

func TestTotalTracksLinesThroughMutations(t *testing.T) {
	e, _ := newTestEngine(t, item("a", "12.50", 20), item("b", "0.75", 20))
	s := newTestSession(t, e)
	startShift(t, s, "0")
	ctx := context.Background()

	check := func(sale domain.Sale) {
		t.Helper()
		if !sale.TotalAmount.Equal(sale.Subtotal()) {
			t.Fatalf("total %s != subtotal %s", sale.TotalAmount, sale.Subtotal())
		}
	}

	sale, _ := s.AddItem(ctx, "", "a")
	check(sale)
	sale, _ = s.AddItem(ctx, sale.ID, "b")
	check(sale)
	res, err := s.AdjustQuantity(ctx, sale.ID, 1, 4)
	if err != nil {
		t.Fatalf("adjust up: %v", err)
	}
	check(res.Sale)
	res, err = s.AdjustQuantity(ctx, sale.ID, 0, -1)
	if err != nil {
		t.Fatalf("adjust down: %v", err)
	}
	if res.Voided || len(res.Sale.Lines) != 1 {
		t.Fatalf("expected line a to be dropped, got %+v", res)
	}
	check(res.Sale)
	if !res.Sale.TotalAmount.Equal(dec("3.75")) {
		t.Fatalf("expected 3.75, got %s", res.Sale.TotalAmount)
	}
	if stock(t, e, "a") != 20 || stock(t, e, "b") != 15 {
		t.Fatalf("unexpected stock a=%d b=%d", stock(t, e, "a"), stock(t, e, "b"))
	}
}

func TestAdjustQuantityBeyondStockFails(t *testing.T) {
	e, _ := newTestEngine(t, item("a", "10", 3))
	s := newTestSession(t, e)
	startShift(t, s, "0")
	ctx := context.Background()

	sale, _ := s.AddItem(ctx, "", "a")
	if _, err := s.AdjustQuantity(ctx, sale.ID, 0, 5); !errors.Is(err, ErrOutOfStock) {
		t.Fatalf("expected ErrOutOfStock, got %v", err)
	}
	got, _ := e.GetSale(ctx, sale.ID)
	if got.Lines[0].Qty != 1 || stock(t, e, "a") != 2 {
		t.Fatalf("failed adjust must not mutate: qty=%d stock=%d", got.Lines[0].Qty, stock(t, e, "a"))
	}
	if _, err := s.AdjustQuantity(ctx, sale.ID, 7, 1); !errors.Is(err, ErrInvalidLine) {
		t.Fatalf("expected ErrInvalidLine, got %v", err)
	}
}

func TestRemovingLastItemDeletesSale(t *testing.T) {
	e, _ := newTestEngine(t, item("a", "10", 3))
	s := newTestSession(t, e)
	startShift(t, s, "0")
	ctx := context.Background()

	sale, _ := s.AddItem(ctx, "", "a")
	sale, _ = s.AddItem(ctx, sale.ID, "a")
	res, err := s.RemoveItem(ctx, sale.ID, 0)
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if !res.Voided {
		t.Fatalf("expected implicit void")
	}
	if _, err := e.GetSale(ctx, sale.ID); !errors.Is(err, ErrSaleNotFound) {
		t.Fatalf("expected sale to be deleted, got %v", err)
	}
	if stock(t, e, "a") != 3 {
		t.Fatalf("expected stock restored to 3, got %d", stock(t, e, "a"))
	}
	if s.ActiveSaleID() != "" {
		t.Fatalf("active sale pointer should be cleared")
	}
}

// Voiding a sale with two lines of qty 3 restores exactly 3 units of each.
func TestVoidRestoresInventoryScenario(t *testing.T) {
	e, _ := newTestEngine(t, item("a", "10", 10), item("b", "20", 4))
	s := newTestSession(t, e)
	startShift(t, s, "0")
	ctx := context.Background()

	var sale domain.Sale
	for i := 0; i < 3; i++ {
		sale, _ = s.AddItem(ctx, sale.ID, "a")
		sale, _ = s.AddItem(ctx, sale.ID, "b")
	}
	if stock(t, e, "a") != 7 || stock(t, e, "b") != 1 {
		t.Fatalf("unexpected stock before void a=%d b=%d", stock(t, e, "a"), stock(t, e, "b"))
	}
	if err := s.VoidSale(ctx, sale.ID); err != nil {
		t.Fatalf("void: %v", err)
	}
	if stock(t, e, "a") != 10 || stock(t, e, "b") != 4 {
		t.Fatalf("void must restore exactly: a=%d b=%d", stock(t, e, "a"), stock(t, e, "b"))
	}
	if _, err := e.GetSale(ctx, sale.ID); !errors.Is(err, ErrSaleNotFound) {
		t.Fatalf("expected sale gone, got %v", err)
	}
	if err := s.VoidSale(ctx, sale.ID); !errors.Is(err, ErrSaleNotFound) {
		t.Fatalf("second void should report ErrSaleNotFound, got %v", err)
	}
}

func TestVoidPaidSaleIsRejected(t *testing.T) {
	e, _ := newTestEngine(t, item("a", "10", 10))
	s := newTestSession(t, e)
	startShift(t, s, "0")
	ctx := context.Background()

	sale, _ := s.AddItem(ctx, "", "a")
	if _, err := s.ProcessPayment(ctx, sale.ID, PaymentRequest{Method: domain.PaymentCash}); err != nil {
		t.Fatalf("pay: %v", err)
	}
	if err := s.VoidSale(ctx, sale.ID); !errors.Is(err, ErrSaleClosed) {
		t.Fatalf("expected ErrSaleClosed, got %v", err)
	}
	if stock(t, e, "a") != 9 {
		t.Fatalf("rejected void must not restock, got %d", stock(t, e, "a"))
	}
}

func TestAssignMemberOnlyOnce(t *testing.T) {
	e, _ := newTestEngine(t, item("a", "10", 10))
	s := newTestSession(t, e)
	startShift(t, s, "0")
	ctx := context.Background()
	sale, _ := s.AddItem(ctx, "", "a")

	sale, err := s.AssignMember(ctx, sale.ID, "mem-7", "Dela Cruz, Juan")
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if sale.DisplayName != "Dela Cruz, Juan" || sale.MemberID != "mem-7" {
		t.Fatalf("unexpected assignment %+v", sale)
	}
	if _, err := s.AssignMember(ctx, sale.ID, "mem-8", "Other"); !errors.Is(err, ErrMemberAlreadyAssigned) {
		t.Fatalf("expected ErrMemberAlreadyAssigned, got %v", err)
	}
}

func TestDiscountIsTwoPhase(t *testing.T) {
	e, _ := newTestEngine(t, item("a", "100", 10))
	s := newTestSession(t, e)
	startShift(t, s, "0")
	ctx := context.Background()
	sale, _ := s.AddItem(ctx, "", "a")

	pending, err := s.ApplyDiscount(ctx, sale.ID, domain.DiscountPercentage, dec("10"))
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if pending.Pending == nil || !pending.Pending.Amount.Equal(dec("10")) {
		t.Fatalf("expected pending amount 10, got %+v", pending.Pending)
	}
	if !pending.TotalAmount.Equal(dec("100")) || pending.Discount != nil {
		t.Fatalf("pending discount must not change totals")
	}

	// A pending discount is ignored at payment.
	split := PaymentRequest{Method: domain.PaymentSplit, CashAmount: dec("50"), OnlineAmount: dec("40")}
	if _, err := s.ProcessPayment(ctx, sale.ID, split); !errors.Is(err, ErrSplitPaymentMismatch) {
		t.Fatalf("expected mismatch against undiscounted total, got %v", err)
	}

	committed, err := s.CommitDiscount(ctx, sale.ID)
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if committed.Discount == nil || committed.Pending != nil {
		t.Fatalf("expected committed discount, got %+v", committed)
	}
	if !committed.TotalAmount.Equal(dec("100")) {
		t.Fatalf("unpaid total must stay the subtotal, got %s", committed.TotalAmount)
	}

	res, err := s.ProcessPayment(ctx, sale.ID, split)
	if err != nil {
		t.Fatalf("pay discounted: %v", err)
	}
	if !res.Sale.TotalAmount.Equal(dec("90")) {
		t.Fatalf("expected paid total 90, got %s", res.Sale.TotalAmount)
	}
}

func TestDiscountValidation(t *testing.T) {
	e, _ := newTestEngine(t, item("a", "100", 10))
	s := newTestSession(t, e)
	startShift(t, s, "0")
	ctx := context.Background()
	sale, _ := s.AddItem(ctx, "", "a")

	cases := []struct {
		name  string
		kind  string
		value string
	}{
		{"percentage over 100", domain.DiscountPercentage, "100.01"},
		{"negative percentage", domain.DiscountPercentage, "-1"},
		{"fixed over total", domain.DiscountFixed, "100.01"},
		{"unknown type", "Coupon", "5"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := s.ApplyDiscount(ctx, sale.ID, tc.kind, dec(tc.value)); !errors.Is(err, ErrInvalidDiscount) {
				t.Fatalf("expected ErrInvalidDiscount, got %v", err)
			}
		})
	}
	if _, err := s.CommitDiscount(ctx, sale.ID); !errors.Is(err, ErrNoPendingDiscount) {
		t.Fatalf("expected ErrNoPendingDiscount, got %v", err)
	}
	if _, err := s.ApplyDiscount(ctx, sale.ID, domain.DiscountFixed, dec("100")); err != nil {
		t.Fatalf("fixed equal to total should be allowed: %v", err)
	}
}

func TestCommittedFixedDiscountClampsWhenItemsRemoved(t *testing.T) {
	e, _ := newTestEngine(t, item("a", "100", 10), item("b", "20", 10))
	s := newTestSession(t, e)
	startShift(t, s, "0")
	ctx := context.Background()

	sale, _ := s.AddItem(ctx, "", "a")
	sale, _ = s.AddItem(ctx, sale.ID, "b")
	_, _ = s.ApplyDiscount(ctx, sale.ID, domain.DiscountFixed, dec("50"))
	_, _ = s.CommitDiscount(ctx, sale.ID)

	res, err := s.RemoveItem(ctx, sale.ID, 0)
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if !res.Sale.Discount.Amount.Equal(dec("20")) {
		t.Fatalf("expected discount clamped to 20, got %s", res.Sale.Discount.Amount)
	}
}

// Split 60+40 on 100 succeeds; 60+30 fails.
func TestSplitPaymentScenario(t *testing.T) {
	e, _ := newTestEngine(t, item("a", "100", 10))
	s := newTestSession(t, e)
	startShift(t, s, "0")
	ctx := context.Background()

	bad, _ := s.AddItem(ctx, "", "a")
	_, err := s.ProcessPayment(ctx, bad.ID, PaymentRequest{Method: domain.PaymentSplit, CashAmount: dec("60"), OnlineAmount: dec("30")})
	if !errors.Is(err, ErrSplitPaymentMismatch) {
		t.Fatalf("expected ErrSplitPaymentMismatch, got %v", err)
	}
	still, _ := e.GetSale(ctx, bad.ID)
	if still.Status != domain.SaleStatusUnpaid {
		t.Fatalf("failed payment must not change status")
	}

	res, err := s.ProcessPayment(ctx, bad.ID, PaymentRequest{Method: domain.PaymentSplit, CashAmount: dec("60"), OnlineAmount: dec("40")})
	if err != nil {
		t.Fatalf("split payment: %v", err)
	}
	if res.Sale.Status != domain.SaleStatusPaid || !res.Sale.CashPaid.Equal(dec("60")) || !res.Sale.OnlinePaid.Equal(dec("40")) {
		t.Fatalf("unexpected paid sale %+v", res.Sale)
	}
}

func TestSplitToleranceIsOneThousandth(t *testing.T) {
	e, _ := newTestEngine(t, item("a", "100", 10))
	s := newTestSession(t, e)
	startShift(t, s, "0")
	ctx := context.Background()

	sale, _ := s.AddItem(ctx, "", "a")
	if _, err := s.ProcessPayment(ctx, sale.ID, PaymentRequest{Method: domain.PaymentSplit, CashAmount: dec("60.0011"), OnlineAmount: dec("40")}); !errors.Is(err, ErrSplitPaymentMismatch) {
		t.Fatalf("expected mismatch just outside tolerance, got %v", err)
	}
	if _, err := s.ProcessPayment(ctx, sale.ID, PaymentRequest{Method: domain.PaymentSplit, CashAmount: dec("60.001"), OnlineAmount: dec("40")}); err != nil {
		t.Fatalf("expected success at tolerance edge, got %v", err)
	}
}

func TestCashPaymentRecordsChange(t *testing.T) {
	e, _ := newTestEngine(t, item("a", "75", 10))
	s := newTestSession(t, e)
	startShift(t, s, "0")
	ctx := context.Background()

	sale, _ := s.AddItem(ctx, "", "a")
	if _, err := s.ProcessPayment(ctx, sale.ID, PaymentRequest{Method: domain.PaymentCash, CashAmount: dec("50")}); !errors.Is(err, ErrInvalidPayment) {
		t.Fatalf("expected short cash to be rejected, got %v", err)
	}
	res, err := s.ProcessPayment(ctx, sale.ID, PaymentRequest{Method: domain.PaymentCash, CashAmount: dec("100")})
	if err != nil {
		t.Fatalf("pay: %v", err)
	}
	if !res.Sale.CashPaid.Equal(dec("75")) || !res.Sale.ChangeDue.Equal(dec("25")) {
		t.Fatalf("expected cashPaid 75 change 25, got %s / %s", res.Sale.CashPaid, res.Sale.ChangeDue)
	}
	if res.Printed || !strings.Contains(res.Notice, "not printed") {
		t.Fatalf("expected skipped print notice, got %+v", res)
	}
	if _, err := s.ProcessPayment(ctx, sale.ID, PaymentRequest{Method: domain.PaymentCash}); !errors.Is(err, ErrSaleClosed) {
		t.Fatalf("expected second payment to fail with ErrSaleClosed, got %v", err)
	}
}

func TestPaymentQueuesReceiptWhenPrinterConnected(t *testing.T) {
	e, _ := newTestEngine(t, item("a", "75", 10))
	s := newTestSession(t, e)
	startShift(t, s, "0")
	ctx := context.Background()
	tr := &recordingTransport{}
	if err := s.ConnectPrinter(ctx, staticConnector{t: tr}); err != nil {
		t.Fatalf("connect: %v", err)
	}

	sale, _ := s.AddItem(ctx, "", "a")
	res, err := s.ProcessPayment(ctx, sale.ID, PaymentRequest{Method: domain.PaymentOnline})
	if err != nil {
		t.Fatalf("pay: %v", err)
	}
	if !res.Printed || res.JobID == "" {
		t.Fatalf("expected receipt to be queued, got %+v", res)
	}
	waitUntil(t, "receipt write", func() bool { return tr.count() == 1 })
}

func TestPrintFailureDoesNotAffectPayment(t *testing.T) {
	e, _ := newTestEngine(t, item("a", "75", 10))
	s := newTestSession(t, e)
	startShift(t, s, "0")
	ctx := context.Background()
	if err := s.ConnectPrinter(ctx, staticConnector{t: &recordingTransport{fail: true}}); err != nil {
		t.Fatalf("connect: %v", err)
	}

	sale, _ := s.AddItem(ctx, "", "a")
	res, err := s.ProcessPayment(ctx, sale.ID, PaymentRequest{Method: domain.PaymentCash})
	if err != nil {
		t.Fatalf("pay: %v", err)
	}
	waitUntil(t, "job to fail", func() bool {
		jobs := s.PrintJobs()
		return len(jobs) == 1 && jobs[0].Status == domain.PrintJobFailed
	})
	got, _ := e.GetSale(ctx, res.Sale.ID)
	if got.Status != domain.SaleStatusPaid {
		t.Fatalf("print failure must not roll back payment, status %s", got.Status)
	}
}

func TestPaymentAndVoidRace(t *testing.T) {
	for i := 0; i < 20; i++ {
		e, _ := newTestEngine(t, item("a", "10", 10))
		s := newTestSession(t, e)
		startShift(t, s, "0")
		ctx := context.Background()
		sale, _ := s.AddItem(ctx, "", "a")

		var wg sync.WaitGroup
		var payErr, voidErr error
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, payErr = s.ProcessPayment(ctx, sale.ID, PaymentRequest{Method: domain.PaymentCash})
		}()
		go func() {
			defer wg.Done()
			voidErr = s.VoidSale(ctx, sale.ID)
		}()
		wg.Wait()

		if (payErr == nil) == (voidErr == nil) {
			t.Fatalf("exactly one of pay/void must win: pay=%v void=%v", payErr, voidErr)
		}
		if payErr == nil {
			if !errors.Is(voidErr, ErrSaleClosed) {
				t.Fatalf("void loser should see ErrSaleClosed, got %v", voidErr)
			}
			if stock(t, e, "a") != 9 {
				t.Fatalf("paid sale must keep stock consumed")
			}
		} else {
			if !errors.Is(payErr, ErrSaleNotFound) {
				t.Fatalf("payment loser should see ErrSaleNotFound, got %v", payErr)
			}
			if stock(t, e, "a") != 10 {
				t.Fatalf("voided sale must restore stock")
			}
		}
	}
}

// A refund succeeds once with a -100 mirror; the second attempt is rejected.
func TestRefundScenario(t *testing.T) {
	e, _ := newTestEngine(t, item("a", "50", 10))
	s := newTestSession(t, e)
	startShift(t, s, "0")
	ctx := context.Background()

	sale, _ := s.AddItem(ctx, "", "a")
	sale, _ = s.AddItem(ctx, sale.ID, "a")
	if _, err := s.ProcessPayment(ctx, sale.ID, PaymentRequest{Method: domain.PaymentSplit, CashAmount: dec("70"), OnlineAmount: dec("30")}); err != nil {
		t.Fatalf("pay: %v", err)
	}

	res, err := s.RefundSale(ctx, sale.ID)
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	m := res.Mirror
	if !m.TotalAmount.Equal(dec("-100")) || !m.CashPaid.Equal(dec("-70")) || !m.OnlinePaid.Equal(dec("-30")) {
		t.Fatalf("unexpected mirror amounts %+v", m)
	}
	if m.Status != domain.SaleStatusRefunded || m.OriginalSaleID != sale.ID || m.ID == sale.ID {
		t.Fatalf("unexpected mirror identity %+v", m)
	}
	if res.Original.Status != domain.SaleStatusRefunded {
		t.Fatalf("original must be marked refunded")
	}
	if stock(t, e, "a") != 10 {
		t.Fatalf("refund must restore stock, got %d", stock(t, e, "a"))
	}

	before, _ := e.ListSales(ctx, "")
	if _, err := s.RefundSale(ctx, sale.ID); !errors.Is(err, ErrAlreadyRefunded) {
		t.Fatalf("expected ErrAlreadyRefunded, got %v", err)
	}
	if _, err := s.RefundSale(ctx, m.ID); !errors.Is(err, ErrAlreadyRefunded) {
		t.Fatalf("refunding a mirror should be rejected, got %v", err)
	}
	after, _ := e.ListSales(ctx, "")
	if len(before) != len(after) || stock(t, e, "a") != 10 {
		t.Fatalf("rejected refund must not mutate records or stock")
	}
}

func TestRefundUnpaidSaleRejected(t *testing.T) {
	e, _ := newTestEngine(t, item("a", "50", 10))
	s := newTestSession(t, e)
	startShift(t, s, "0")
	ctx := context.Background()
	sale, _ := s.AddItem(ctx, "", "a")

	if _, err := s.RefundSale(ctx, sale.ID); !errors.Is(err, ErrSaleNotPaid) {
		t.Fatalf("expected ErrSaleNotPaid, got %v", err)
	}
}

func TestReprintNeedsPrinter(t *testing.T) {
	e, _ := newTestEngine(t, item("a", "50", 10))
	s := newTestSession(t, e)
	startShift(t, s, "0")
	ctx := context.Background()
	sale, _ := s.AddItem(ctx, "", "a")
	_, _ = s.ProcessPayment(ctx, sale.ID, PaymentRequest{Method: domain.PaymentCash})

	if _, err := s.ReprintReceipt(ctx, sale.ID); !errors.Is(err, ErrPrintTransportUnavailable) {
		t.Fatalf("expected ErrPrintTransportUnavailable, got %v", err)
	}
	tr := &recordingTransport{}
	_ = s.ConnectPrinter(ctx, staticConnector{t: tr})
	if _, err := s.ReprintReceipt(ctx, sale.ID); err != nil {
		t.Fatalf("reprint: %v", err)
	}
	waitUntil(t, "reprint write", func() bool { return tr.count() == 1 })

	if _, err := s.OpenCashDrawer(ctx); err != nil {
		t.Fatalf("open drawer: %v", err)
	}
	waitUntil(t, "drawer kick", func() bool { return tr.count() == 2 })
}

func TestListSalesFiltersByStatus(t *testing.T) {
	e, _ := newTestEngine(t, item("a", "50", 10))
	s := newTestSession(t, e)
	startShift(t, s, "0")
	ctx := context.Background()

	paid, _ := s.AddItem(ctx, "", "a")
	_, _ = s.ProcessPayment(ctx, paid.ID, PaymentRequest{Method: domain.PaymentCash})
	_, _ = s.AddItem(ctx, "", "a")

	unpaid, _ := e.ListSales(ctx, domain.SaleStatusUnpaid)
	done, _ := e.ListSales(ctx, domain.SaleStatusPaid)
	if len(unpaid) != 1 || len(done) != 1 {
		t.Fatalf("expected 1 unpaid and 1 paid, got %d and %d", len(unpaid), len(done))
	}
}

func TestActivityIsLogged(t *testing.T) {
	e, _ := newTestEngine(t, item("a", "50", 10))
	s := newTestSession(t, e)
	startShift(t, s, "0")
	ctx := context.Background()
	sale, _ := s.AddItem(ctx, "", "a")
	_ = s.VoidSale(ctx, sale.ID)

	logs, err := e.ListActivity(ctx, 0)
	if err != nil {
		t.Fatalf("list activity: %v", err)
	}
	actions := map[string]bool{}
	for _, l := range logs {
		actions[l.Action] = true
		if l.ActorUsername != "cashier" {
			t.Fatalf("expected session actor on log entry, got %q", l.ActorUsername)
		}
	}
	if !actions["shift_start"] || !actions["sale_void"] {
		t.Fatalf("missing expected actions in %v", actions)
	}
}

func TestClosedSessionRejectsCommands(t *testing.T) {
	e, _ := newTestEngine(t)
	s := newTestSession(t, e)
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := s.StartShift(context.Background(), decimal.Zero); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("expected ErrSessionClosed, got %v", err)
	}
}
