package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Actor struct {
	Username string
	Role     string
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
	SessionID   string `json:"session_id"`
}

type OperatorCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Operator is the public view of a UserAccount.
type Operator struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

type SaleLine struct {
	ItemID    string          `json:"item_id"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Qty       int             `json:"qty"`
}

// Total is UnitPrice x Qty.
func (l SaleLine) Total() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Qty)))
}

type Discount struct {
	Type   string          `json:"type"`
	Value  decimal.Decimal `json:"value"`
	Amount decimal.Decimal `json:"amount"`
}

type Sale struct {
	ID             string          `json:"id"`
	Lines          []SaleLine      `json:"lines"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
	Status         string          `json:"status"`
	PaymentMethod  string          `json:"payment_method,omitempty"`
	CashPaid       decimal.Decimal `json:"cash_paid"`
	OnlinePaid     decimal.Decimal `json:"online_paid"`
	CashTendered   decimal.Decimal `json:"cash_tendered"`
	ChangeDue      decimal.Decimal `json:"change_due"`
	Discount       *Discount       `json:"discount,omitempty"`
	Pending        *Discount       `json:"pending_discount,omitempty"`
	MemberID       string          `json:"member_id,omitempty"`
	DisplayName    string          `json:"display_name"`
	Note           string          `json:"note,omitempty"`
	ShiftID        string          `json:"shift_id"`
	OriginalSaleID string          `json:"original_sale_id,omitempty"`
	Cashier        string          `json:"cashier"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	PaidAt         *time.Time      `json:"paid_at,omitempty"`
	RefundedAt     *time.Time      `json:"refunded_at,omitempty"`
}

func (s Sale) RecordID() string { return s.ID }

// Subtotal is the sum of line totals before any discount.
func (s Sale) Subtotal() decimal.Decimal {
	sum := decimal.Zero
	for _, line := range s.Lines {
		sum = sum.Add(line.Total())
	}
	return sum
}

func (s Sale) ItemCount() int {
	count := 0
	for _, line := range s.Lines {
		count += line.Qty
	}
	return count
}

type InventoryItem struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Category    string          `json:"category,omitempty"`
	Price       decimal.Decimal `json:"price"`
	Quantity    int             `json:"quantity"`
	IsUnlimited bool            `json:"is_unlimited"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

func (i InventoryItem) RecordID() string { return i.ID }

type Shift struct {
	ID            string          `json:"id"`
	Status        string          `json:"status"`
	Operator      string          `json:"operator"`
	StartingCash  decimal.Decimal `json:"starting_cash"`
	CashSales     decimal.Decimal `json:"cash_sales"`
	OnlineSales   decimal.Decimal `json:"online_sales"`
	CashIn        decimal.Decimal `json:"cash_in"`
	CashOut       decimal.Decimal `json:"cash_out"`
	ExpectedCash  decimal.Decimal `json:"expected_cash"`
	ActualCash    decimal.Decimal `json:"actual_cash"`
	Difference    decimal.Decimal `json:"difference"`
	Denominations []Denomination  `json:"denominations,omitempty"`
	StartTime     time.Time       `json:"start_time"`
	EndTime       *time.Time      `json:"end_time,omitempty"`
}

func (s Shift) RecordID() string { return s.ID }

type Denomination struct {
	FaceValue decimal.Decimal `json:"face_value"`
	Count     int             `json:"count"`
}

type CashMovement struct {
	ID        string          `json:"id"`
	ShiftID   string          `json:"shift_id"`
	Type      string          `json:"type"`
	Amount    decimal.Decimal `json:"amount"`
	Note      string          `json:"note"`
	Late      bool            `json:"late"`
	CreatedBy string          `json:"created_by"`
	CreatedAt time.Time       `json:"created_at"`
}

func (m CashMovement) RecordID() string { return m.ID }

type PrintJob struct {
	ID        string    `json:"id"`
	Label     string    `json:"label"`
	Payload   []byte    `json:"payload"`
	Status    string    `json:"status"`
	LastError string    `json:"last_error,omitempty"`
	Attempts  int       `json:"attempts"`
	CreatedAt time.Time `json:"created_at"`
}

func (j PrintJob) RecordID() string { return j.ID }

// UserAccount is an internal persistence model for operator credentials.
type UserAccount struct {
	Username  string    `json:"username"`
	Password  string    `json:"password"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

func (u UserAccount) RecordID() string { return u.Username }

type ActivityLog struct {
	ID            string    `json:"id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

func (a ActivityLog) RecordID() string { return a.ID }

// Branding is the receipt header information.
type Branding struct {
	BusinessName   string
	Address        string
	CurrencyPrefix string
}

// ShiftReview is the summary shown before a shift is closed.
type ShiftReview struct {
	Shift        Shift           `json:"shift"`
	CashSales    decimal.Decimal `json:"cash_sales"`
	OnlineSales  decimal.Decimal `json:"online_sales"`
	CashIn       decimal.Decimal `json:"cash_in"`
	CashOut      decimal.Decimal `json:"cash_out"`
	OnlineOut    decimal.Decimal `json:"online_out"`
	ExpectedCash decimal.Decimal `json:"expected_cash"`
	ActualCash   decimal.Decimal `json:"actual_cash"`
	Difference   decimal.Decimal `json:"difference"`
	Movements    []CashMovement  `json:"movements"`
	Warnings     []string        `json:"warnings,omitempty"`
}

type PaymentResult struct {
	Sale    Sale   `json:"sale"`
	Printed bool   `json:"queued_for_print"`
	JobID   string `json:"print_job_id,omitempty"`
	Notice  string `json:"notice,omitempty"`
}

type RefundResult struct {
	Original Sale `json:"original"`
	Mirror   Sale `json:"mirror"`
}

const (
	SaleStatusUnpaid   = "Unpaid"
	SaleStatusPaid     = "Paid"
	SaleStatusRefunded = "Refunded"
)

const (
	PaymentCash   = "Cash"
	PaymentOnline = "Online"
	PaymentSplit  = "Split"
)

const (
	DiscountPercentage = "Percentage"
	DiscountFixed      = "Fixed"
)

const (
	ShiftStatusActive    = "Active"
	ShiftStatusCompleted = "Completed"
)

const (
	MovementCashDrawer = "Cash Drawer"
	MovementOnline     = "Online"
	MovementCashIn     = "Cash In"
)

const (
	PrintJobQueued    = "Queued"
	PrintJobPrinting  = "Printing"
	PrintJobFailed    = "Failed"
	PrintJobCompleted = "Completed"
)

const (
	RoleAdmin   = "admin"
	RoleCashier = "cashier"
)

const WalkInClient = "Walk-in Client"

// Clone returns a deep copy so callers never share line slices or pointers.
func (s Sale) Clone() Sale {
	out := s
	out.Lines = append([]SaleLine(nil), s.Lines...)
	if s.Discount != nil {
		d := *s.Discount
		out.Discount = &d
	}
	if s.Pending != nil {
		d := *s.Pending
		out.Pending = &d
	}
	if s.PaidAt != nil {
		t := *s.PaidAt
		out.PaidAt = &t
	}
	if s.RefundedAt != nil {
		t := *s.RefundedAt
		out.RefundedAt = &t
	}
	return out
}

func (s Shift) Clone() Shift {
	out := s
	out.Denominations = append([]Denomination(nil), s.Denominations...)
	if s.EndTime != nil {
		t := *s.EndTime
		out.EndTime = &t
	}
	return out
}

func (j PrintJob) Clone() PrintJob {
	out := j
	out.Payload = append([]byte(nil), j.Payload...)
	return out
}
