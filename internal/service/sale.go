package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"ragefit/pos/internal/domain"
	"ragefit/pos/internal/inventory"
	"ragefit/pos/internal/store"
	"ragefit/pos/internal/xid"
)

var splitTolerance = decimal.New(1, -3)

type PaymentRequest struct {
	Method       string          `json:"method"`
	CashAmount   decimal.Decimal `json:"cash_amount"`
	OnlineAmount decimal.Decimal `json:"online_amount"`
}

// CartResult is returned by commands that may empty a sale. Voided is set
// when the last line was removed and the sale record deleted.
type CartResult struct {
	Sale   domain.Sale `json:"sale"`
	Voided bool        `json:"voided"`
}

func (e *Engine) GetSale(ctx context.Context, saleID string) (domain.Sale, error) {
	sale, err := e.repo.Sales().Get(ctx, saleID)
	if errors.Is(err, store.ErrNotFound) {
		return domain.Sale{}, fmt.Errorf("%w: %s", ErrSaleNotFound, saleID)
	}
	return sale, err
}

// ListSales returns sales with the given status, or all sales when status
// is empty.
func (e *Engine) ListSales(ctx context.Context, status string) ([]domain.Sale, error) {
	all, err := e.repo.Sales().GetAll(ctx)
	if err != nil {
		return nil, err
	}
	if status == "" {
		return all, nil
	}
	out := make([]domain.Sale, 0, len(all))
	for _, sale := range all {
		if sale.Status == status {
			out = append(out, sale)
		}
	}
	return out, nil
}

// OpenOrGetActiveSale returns the session's unpaid sale, creating one in
// the active shift if there is none.
func (s *Session) OpenOrGetActiveSale(ctx context.Context) (domain.Sale, error) {
	if err := s.checkOpen(); err != nil {
		return domain.Sale{}, err
	}
	ctx = s.ctx(ctx)
	e := s.engine
	shift, err := e.ActiveShift(ctx)
	if err != nil {
		return domain.Sale{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeSaleID != "" {
		sale, err := e.GetSale(ctx, s.activeSaleID)
		if err == nil && sale.Status == domain.SaleStatusUnpaid {
			return sale, nil
		}
		if err != nil && !errors.Is(err, ErrSaleNotFound) {
			return domain.Sale{}, err
		}
		s.activeSaleID = ""
	}

	now := e.now()
	sale := domain.Sale{
		ID:          xid.New("sale"),
		Lines:       []domain.SaleLine{},
		TotalAmount: decimal.Zero,
		Status:      domain.SaleStatusUnpaid,
		DisplayName: domain.WalkInClient,
		ShiftID:     shift.ID,
		Cashier:     s.actor.Username,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := e.repo.Sales().Add(ctx, sale); err != nil {
		return domain.Sale{}, fmt.Errorf("create sale: %w", err)
	}
	s.activeSaleID = sale.ID
	e.log.Debug().Str("sale_id", sale.ID).Str("shift_id", shift.ID).Msg("sale started")
	return sale, nil
}

// ResumeSale makes an unpaid sale the session's active sale.
func (s *Session) ResumeSale(ctx context.Context, saleID string) (domain.Sale, error) {
	if err := s.checkOpen(); err != nil {
		return domain.Sale{}, err
	}
	sale, err := s.engine.GetSale(ctx, saleID)
	if err != nil {
		return domain.Sale{}, err
	}
	if sale.Status != domain.SaleStatusUnpaid {
		return domain.Sale{}, ErrSaleClosed
	}
	s.mu.Lock()
	s.activeSaleID = sale.ID
	s.mu.Unlock()
	return sale, nil
}

// AddItem adds one unit of itemID to the sale. An empty saleID targets the
// session's active sale, opening one if needed.
func (s *Session) AddItem(ctx context.Context, saleID string, itemID string) (domain.Sale, error) {
	if err := s.checkOpen(); err != nil {
		return domain.Sale{}, err
	}
	ctx = s.ctx(ctx)
	e := s.engine
	if _, err := e.ActiveShift(ctx); err != nil {
		return domain.Sale{}, err
	}
	if strings.TrimSpace(saleID) == "" {
		sale, err := s.OpenOrGetActiveSale(ctx)
		if err != nil {
			return domain.Sale{}, err
		}
		saleID = sale.ID
	}

	unlock := e.saleLocks.Lock(saleID)
	defer unlock()

	sale, err := e.loadUnpaid(ctx, saleID)
	if err != nil {
		return domain.Sale{}, err
	}
	item, err := e.ledger.Get(ctx, itemID)
	if err != nil {
		return domain.Sale{}, err
	}
	if !item.IsUnlimited && item.Quantity <= 0 {
		return domain.Sale{}, fmt.Errorf("%w: %s", ErrOutOfStock, item.Name)
	}

	adj := []inventory.Adjustment{{ItemID: item.ID, Delta: -1}}
	if err := e.ledger.Apply(ctx, adj); err != nil {
		return domain.Sale{}, err
	}

	found := false
	for i := range sale.Lines {
		if sale.Lines[i].ItemID == item.ID {
			sale.Lines[i].Qty++
			found = true
			break
		}
	}
	if !found {
		sale.Lines = append(sale.Lines, domain.SaleLine{
			ItemID:    item.ID,
			Name:      item.Name,
			UnitPrice: item.Price,
			Qty:       1,
		})
	}
	e.recalculate(&sale)

	if err := e.repo.Sales().Put(ctx, sale); err != nil {
		e.compensate(ctx, adj)
		return domain.Sale{}, fmt.Errorf("save sale: %w", err)
	}
	s.setActive(sale.ID)
	return sale, nil
}

// RemoveItem drops a whole line and returns its units to inventory.
func (s *Session) RemoveItem(ctx context.Context, saleID string, lineIndex int) (CartResult, error) {
	if err := s.checkOpen(); err != nil {
		return CartResult{}, err
	}
	ctx = s.ctx(ctx)
	e := s.engine
	unlock := e.saleLocks.Lock(saleID)
	defer unlock()

	sale, err := e.loadUnpaid(ctx, saleID)
	if err != nil {
		return CartResult{}, err
	}
	if lineIndex < 0 || lineIndex >= len(sale.Lines) {
		return CartResult{}, fmt.Errorf("%w: index %d", ErrInvalidLine, lineIndex)
	}
	line := sale.Lines[lineIndex]
	result, err := s.changeLine(ctx, sale, lineIndex, -line.Qty)
	if err != nil {
		return CartResult{}, err
	}
	e.logActivity(ctx, "sale_item_remove", "sale", saleID, fmt.Sprintf("Item %s (x%d) removed from sale %s.", line.Name, line.Qty, shortID(saleID)))
	return result, nil
}

// AdjustQuantity changes a line's quantity by delta. Positive deltas take
// stock, negative deltas return it; a line reaching zero is dropped.
func (s *Session) AdjustQuantity(ctx context.Context, saleID string, lineIndex int, delta int) (CartResult, error) {
	if err := s.checkOpen(); err != nil {
		return CartResult{}, err
	}
	ctx = s.ctx(ctx)
	e := s.engine
	unlock := e.saleLocks.Lock(saleID)
	defer unlock()

	sale, err := e.loadUnpaid(ctx, saleID)
	if err != nil {
		return CartResult{}, err
	}
	if lineIndex < 0 || lineIndex >= len(sale.Lines) {
		return CartResult{}, fmt.Errorf("%w: index %d", ErrInvalidLine, lineIndex)
	}
	if delta == 0 {
		return CartResult{Sale: sale}, nil
	}
	if delta > 0 {
		if _, err := e.ActiveShift(ctx); err != nil {
			return CartResult{}, err
		}
	}
	if sale.Lines[lineIndex].Qty+delta < 0 {
		delta = -sale.Lines[lineIndex].Qty
	}
	return s.changeLine(ctx, sale, lineIndex, delta)
}

// changeLine applies delta to one line and the matching inventory item,
// writing both or neither. Caller holds the sale lock.
func (s *Session) changeLine(ctx context.Context, sale domain.Sale, lineIndex int, delta int) (CartResult, error) {
	e := s.engine
	line := sale.Lines[lineIndex]
	adj := []inventory.Adjustment{{ItemID: line.ItemID, Delta: -delta}}
	if err := e.ledger.Apply(ctx, adj); err != nil {
		if errors.Is(err, ErrItemNotFound) && delta < 0 {
			// The item was deleted from the catalog; the line can still go.
			adj = nil
		} else {
			return CartResult{}, err
		}
	}

	sale.Lines[lineIndex].Qty += delta
	if sale.Lines[lineIndex].Qty <= 0 {
		sale.Lines = append(sale.Lines[:lineIndex], sale.Lines[lineIndex+1:]...)
	}

	if len(sale.Lines) == 0 {
		if err := e.repo.Sales().Delete(ctx, sale.ID); err != nil {
			e.compensate(ctx, adj)
			return CartResult{}, fmt.Errorf("delete empty sale: %w", err)
		}
		s.clearActive(sale.ID)
		e.logActivity(ctx, "sale_void", "sale", sale.ID, fmt.Sprintf("Sale %s voided as it has no items left.", shortID(sale.ID)))
		return CartResult{Sale: sale, Voided: true}, nil
	}

	e.recalculate(&sale)
	if err := e.repo.Sales().Put(ctx, sale); err != nil {
		e.compensate(ctx, adj)
		return CartResult{}, fmt.Errorf("save sale: %w", err)
	}
	return CartResult{Sale: sale}, nil
}

// AssignMember attaches a member to an unassigned unpaid sale.
func (s *Session) AssignMember(ctx context.Context, saleID string, memberID string, displayName string) (domain.Sale, error) {
	memberID = strings.TrimSpace(memberID)
	displayName = strings.TrimSpace(displayName)
	if memberID == "" {
		return domain.Sale{}, fmt.Errorf("%w: member id is required", ErrInvalidLine)
	}
	if displayName == "" {
		displayName = memberID
	}
	return s.mutateUnpaid(ctx, saleID, func(sale *domain.Sale) error {
		if sale.MemberID != "" {
			return ErrMemberAlreadyAssigned
		}
		sale.MemberID = memberID
		sale.DisplayName = displayName
		return nil
	})
}

func (s *Session) SetNote(ctx context.Context, saleID string, note string) (domain.Sale, error) {
	return s.mutateUnpaid(ctx, saleID, func(sale *domain.Sale) error {
		sale.Note = strings.TrimSpace(note)
		return nil
	})
}

// ApplyDiscount computes a pending discount. It is stored with the sale but
// has no effect on any amount until CommitDiscount.
func (s *Session) ApplyDiscount(ctx context.Context, saleID string, discountType string, value decimal.Decimal) (domain.Sale, error) {
	return s.mutateUnpaid(ctx, saleID, func(sale *domain.Sale) error {
		d, err := computeDiscount(discountType, value, sale.Subtotal())
		if err != nil {
			return err
		}
		sale.Pending = &d
		return nil
	})
}

// CommitDiscount promotes the pending discount. The discount is folded into
// TotalAmount when the sale is paid.
func (s *Session) CommitDiscount(ctx context.Context, saleID string) (domain.Sale, error) {
	sale, err := s.mutateUnpaid(ctx, saleID, func(sale *domain.Sale) error {
		if sale.Pending == nil {
			return ErrNoPendingDiscount
		}
		if sale.Pending.Amount.IsZero() {
			sale.Discount = nil
		} else {
			committed := *sale.Pending
			sale.Discount = &committed
		}
		sale.Pending = nil
		return nil
	})
	if err == nil && sale.Discount != nil {
		s.engine.logActivity(s.ctx(ctx), "sale_discount", "sale", sale.ID, fmt.Sprintf("%s discount of %s applied to sale %s.", sale.Discount.Type, sale.Discount.Amount.StringFixed(2), shortID(sale.ID)))
	}
	return sale, err
}

func (s *Session) ClearPendingDiscount(ctx context.Context, saleID string) (domain.Sale, error) {
	return s.mutateUnpaid(ctx, saleID, func(sale *domain.Sale) error {
		sale.Pending = nil
		return nil
	})
}

func (s *Session) mutateUnpaid(ctx context.Context, saleID string, fn func(sale *domain.Sale) error) (domain.Sale, error) {
	if err := s.checkOpen(); err != nil {
		return domain.Sale{}, err
	}
	ctx = s.ctx(ctx)
	e := s.engine
	unlock := e.saleLocks.Lock(saleID)
	defer unlock()

	sale, err := e.loadUnpaid(ctx, saleID)
	if err != nil {
		return domain.Sale{}, err
	}
	if err := fn(&sale); err != nil {
		return domain.Sale{}, err
	}
	sale.UpdatedAt = e.now()
	if err := e.repo.Sales().Put(ctx, sale); err != nil {
		return domain.Sale{}, fmt.Errorf("save sale: %w", err)
	}
	return sale, nil
}

// ProcessPayment settles an unpaid sale. The receipt is queued for
// printing afterwards; a missing printer is reported in the result and
// never fails the payment.
func (s *Session) ProcessPayment(ctx context.Context, saleID string, req PaymentRequest) (domain.PaymentResult, error) {
	if err := s.checkOpen(); err != nil {
		return domain.PaymentResult{}, err
	}
	ctx = s.ctx(ctx)
	e := s.engine
	if req.CashAmount.IsNegative() || req.OnlineAmount.IsNegative() {
		return domain.PaymentResult{}, fmt.Errorf("%w: amounts must not be negative", ErrInvalidPayment)
	}
	shift, err := e.ActiveShift(ctx)
	if err != nil {
		return domain.PaymentResult{}, err
	}

	unlock := e.saleLocks.Lock(saleID)
	defer unlock()

	sale, err := e.loadUnpaid(ctx, saleID)
	if err != nil {
		return domain.PaymentResult{}, err
	}
	if len(sale.Lines) == 0 {
		return domain.PaymentResult{}, ErrEmptySale
	}
	e.recalculate(&sale)
	due := amountDue(sale)

	cashPaid, onlinePaid, tendered := decimal.Zero, decimal.Zero, decimal.Zero
	switch req.Method {
	case domain.PaymentCash:
		tendered = req.CashAmount
		if tendered.IsZero() {
			tendered = due
		}
		if tendered.LessThan(due) {
			return domain.PaymentResult{}, fmt.Errorf("%w: cash %s is less than total %s", ErrInvalidPayment, tendered.StringFixed(2), due.StringFixed(2))
		}
		cashPaid = due
	case domain.PaymentOnline:
		onlinePaid = due
	case domain.PaymentSplit:
		if req.CashAmount.Add(req.OnlineAmount).Sub(due).Abs().GreaterThan(splitTolerance) {
			return domain.PaymentResult{}, fmt.Errorf("%w: cash %s + online %s != %s", ErrSplitPaymentMismatch,
				req.CashAmount.StringFixed(2), req.OnlineAmount.StringFixed(2), due.StringFixed(2))
		}
		cashPaid = req.CashAmount
		onlinePaid = req.OnlineAmount
		tendered = req.CashAmount
	default:
		return domain.PaymentResult{}, fmt.Errorf("%w: unknown method %q", ErrInvalidPayment, req.Method)
	}

	now := e.now()
	sale.Status = domain.SaleStatusPaid
	sale.PaymentMethod = req.Method
	sale.CashPaid = cashPaid
	sale.OnlinePaid = onlinePaid
	sale.CashTendered = tendered
	sale.ChangeDue = tendered.Sub(cashPaid)
	sale.TotalAmount = due
	sale.Pending = nil
	sale.ShiftID = shift.ID
	sale.Cashier = s.actor.Username
	sale.PaidAt = &now
	sale.UpdatedAt = now

	if err := e.repo.Sales().Put(ctx, sale); err != nil {
		return domain.PaymentResult{}, fmt.Errorf("save payment: %w", err)
	}
	s.clearActive(sale.ID)
	e.logActivity(ctx, "sale_paid", "sale", sale.ID, fmt.Sprintf("Sale %s for %s paid via %s.", shortID(sale.ID), due.StringFixed(2), req.Method))

	result := domain.PaymentResult{Sale: sale}
	job, err := s.printReceipt(ctx, sale, "Receipt "+shortID(sale.ID))
	if err != nil {
		result.Notice = "payment recorded, receipt not printed: " + err.Error()
	} else {
		result.Printed = true
		result.JobID = job.ID
	}
	return result, nil
}

// VoidSale deletes an unpaid sale and returns all its units to inventory.
func (s *Session) VoidSale(ctx context.Context, saleID string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	ctx = s.ctx(ctx)
	e := s.engine
	unlock := e.saleLocks.Lock(saleID)
	defer unlock()

	sale, err := e.loadUnpaid(ctx, saleID)
	if err != nil {
		return err
	}
	restock := e.existing(ctx, inventory.Restock(sale.Lines))
	if err := e.ledger.Apply(ctx, restock); err != nil {
		return fmt.Errorf("restock voided sale: %w", err)
	}
	if err := e.repo.Sales().Delete(ctx, sale.ID); err != nil {
		e.compensate(ctx, restock)
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrSaleNotFound, sale.ID)
		}
		return fmt.Errorf("delete sale: %w", err)
	}
	s.clearActive(sale.ID)
	e.logActivity(ctx, "sale_void", "sale", sale.ID, fmt.Sprintf("Sale %s was voided.", shortID(sale.ID)))
	return nil
}

// RefundSale records a negated mirror of a paid sale, marks the original
// Refunded and returns its units to inventory. A sale refunds once.
func (s *Session) RefundSale(ctx context.Context, saleID string) (domain.RefundResult, error) {
	if err := s.checkOpen(); err != nil {
		return domain.RefundResult{}, err
	}
	ctx = s.ctx(ctx)
	e := s.engine
	unlock := e.saleLocks.Lock(saleID)
	defer unlock()

	original, err := e.GetSale(ctx, saleID)
	if err != nil {
		return domain.RefundResult{}, err
	}
	switch {
	case original.Status == domain.SaleStatusRefunded || original.OriginalSaleID != "":
		return domain.RefundResult{}, fmt.Errorf("%w: %s", ErrAlreadyRefunded, saleID)
	case original.Status != domain.SaleStatusPaid:
		return domain.RefundResult{}, fmt.Errorf("%w: %s", ErrSaleNotPaid, saleID)
	}

	now := e.now()
	mirror := original.Clone()
	mirror.ID = xid.New("sale")
	mirror.TotalAmount = original.TotalAmount.Neg()
	mirror.CashPaid = original.CashPaid.Neg()
	mirror.OnlinePaid = original.OnlinePaid.Neg()
	mirror.CashTendered = decimal.Zero
	mirror.ChangeDue = decimal.Zero
	mirror.Status = domain.SaleStatusRefunded
	mirror.OriginalSaleID = original.ID
	mirror.Note = "Refund for sale ID: " + shortID(original.ID)
	mirror.Cashier = s.actor.Username
	mirror.CreatedAt = now
	mirror.UpdatedAt = now
	mirror.PaidAt = nil
	mirror.RefundedAt = &now
	if shift, err := e.ActiveShift(ctx); err == nil {
		mirror.ShiftID = shift.ID
	}

	restock := e.existing(ctx, inventory.Restock(original.Lines))
	if err := e.ledger.Apply(ctx, restock); err != nil {
		return domain.RefundResult{}, fmt.Errorf("restock refunded sale: %w", err)
	}
	if err := e.repo.Sales().Add(ctx, mirror); err != nil {
		e.compensate(ctx, restock)
		return domain.RefundResult{}, fmt.Errorf("record refund: %w", err)
	}
	original.Status = domain.SaleStatusRefunded
	original.RefundedAt = &now
	original.UpdatedAt = now
	if err := e.repo.Sales().Put(ctx, original); err != nil {
		if delErr := e.repo.Sales().Delete(context.WithoutCancel(ctx), mirror.ID); delErr != nil {
			e.log.Error().Err(delErr).Str("mirror_id", mirror.ID).Msg("failed to roll back refund mirror")
		}
		e.compensate(ctx, restock)
		return domain.RefundResult{}, fmt.Errorf("mark sale refunded: %w", err)
	}

	e.logActivity(ctx, "sale_refund", "sale", original.ID, fmt.Sprintf("Processed refund for sale %s amounting to %s.", shortID(original.ID), original.TotalAmount.StringFixed(2)))
	return domain.RefundResult{Original: original, Mirror: mirror}, nil
}

func (e *Engine) loadUnpaid(ctx context.Context, saleID string) (domain.Sale, error) {
	sale, err := e.GetSale(ctx, saleID)
	if err != nil {
		return domain.Sale{}, err
	}
	if sale.Status != domain.SaleStatusUnpaid {
		return domain.Sale{}, fmt.Errorf("%w: %s is %s", ErrSaleClosed, saleID, sale.Status)
	}
	return sale, nil
}

// existing drops adjustments for items no longer in the catalog so that a
// deleted item cannot block a void or refund.
func (e *Engine) existing(ctx context.Context, adjustments []inventory.Adjustment) []inventory.Adjustment {
	out := adjustments[:0]
	for _, adj := range adjustments {
		if _, err := e.ledger.Get(ctx, adj.ItemID); errors.Is(err, ErrItemNotFound) {
			e.log.Warn().Str("item_id", adj.ItemID).Msg("item no longer in inventory, skipping restock")
			continue
		}
		out = append(out, adj)
	}
	return out
}

func (e *Engine) compensate(ctx context.Context, applied []inventory.Adjustment) {
	if len(applied) == 0 {
		return
	}
	reverse := make([]inventory.Adjustment, len(applied))
	for i, adj := range applied {
		reverse[i] = inventory.Adjustment{ItemID: adj.ItemID, Delta: -adj.Delta}
	}
	if err := e.ledger.Apply(context.WithoutCancel(ctx), reverse); err != nil {
		e.log.Error().Err(err).Msg("inventory compensation failed")
	}
}

// recalculate keeps TotalAmount equal to the line subtotal while a sale is
// unpaid and rescales any committed discount to the new subtotal. A pending
// discount refers to the old subtotal and is dropped.
func (e *Engine) recalculate(sale *domain.Sale) {
	subtotal := sale.Subtotal()
	sale.TotalAmount = subtotal
	sale.Pending = nil
	if sale.Discount != nil {
		d, err := computeDiscount(sale.Discount.Type, sale.Discount.Value, subtotal)
		if err != nil {
			// Fixed discount larger than the new subtotal.
			d = domain.Discount{Type: sale.Discount.Type, Value: sale.Discount.Value, Amount: subtotal}
		}
		sale.Discount = &d
	}
	sale.UpdatedAt = e.now()
}

func amountDue(sale domain.Sale) decimal.Decimal {
	due := sale.Subtotal()
	if sale.Discount != nil {
		due = due.Sub(sale.Discount.Amount)
	}
	return due
}

func computeDiscount(discountType string, value decimal.Decimal, subtotal decimal.Decimal) (domain.Discount, error) {
	if value.IsNegative() {
		return domain.Discount{}, fmt.Errorf("%w: value must not be negative", ErrInvalidDiscount)
	}
	d := domain.Discount{Type: discountType, Value: value}
	switch discountType {
	case domain.DiscountPercentage:
		if value.GreaterThan(decimal.NewFromInt(100)) {
			return domain.Discount{}, fmt.Errorf("%w: percentage must be between 0 and 100", ErrInvalidDiscount)
		}
		d.Amount = subtotal.Mul(value).Div(decimal.NewFromInt(100)).Round(2)
	case domain.DiscountFixed:
		if value.GreaterThan(subtotal) {
			return domain.Discount{}, fmt.Errorf("%w: amount exceeds total %s", ErrInvalidDiscount, subtotal.StringFixed(2))
		}
		d.Amount = value
	default:
		return domain.Discount{}, fmt.Errorf("%w: unknown type %q", ErrInvalidDiscount, discountType)
	}
	return d, nil
}

func (s *Session) setActive(saleID string) {
	s.mu.Lock()
	s.activeSaleID = saleID
	s.mu.Unlock()
}

func (s *Session) clearActive(saleID string) {
	s.mu.Lock()
	if s.activeSaleID == saleID {
		s.activeSaleID = ""
	}
	s.mu.Unlock()
}
