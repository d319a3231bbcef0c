package receipt

import (
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"ragefit/pos/internal/domain"
)

// LineWidth is the character width of 58mm paper.
const LineWidth = 32

const (
	divider       = "--------------------------------"
	dateLayout    = "1/2/2006, 3:04:05 PM"
	defaultPrefix = "P"
)

// FormatLine justifies left and right across LineWidth characters and ends
// with a line feed. When the two do not fit they are joined with no padding
// and the line runs long; nothing is cut or wrapped.
func FormatLine(left, right string) string {
	spaces := LineWidth - utf8.RuneCountInString(left) - utf8.RuneCountInString(right)
	if spaces < 0 {
		spaces = 0
	}
	return left + strings.Repeat(" ", spaces) + right + "\n"
}

// Encode renders sale as an ESC/POS byte stream.
func Encode(sale domain.Sale, branding domain.Branding, loc *time.Location) []byte {
	if loc == nil {
		loc = time.UTC
	}
	prefix := branding.CurrencyPrefix
	if prefix == "" {
		prefix = defaultPrefix
	}
	money := func(d decimal.Decimal) string { return prefix + d.StringFixed(2) }

	b := New()

	b.Center().Bold(true).DoubleStrike(true).
		Line(branding.BusinessName).
		Bold(false).DoubleStrike(false)
	if branding.Address != "" {
		b.Line(branding.Address)
	}
	b.Line(divider).Feed(1)

	client := sale.DisplayName
	if client == "" {
		client = domain.WalkInClient
	}
	b.Left().
		Line("Date: " + sale.CreatedAt.In(loc).Format(dateLayout)).
		Line("Client: " + client)
	if sale.Note != "" {
		b.Line("Note: " + sale.Note)
	}
	b.Line(divider).Feed(1)

	b.Pair("Item", "Price")
	for _, line := range sale.Lines {
		b.Line(line.Name + " x" + strconv.Itoa(line.Qty))
		b.Pair("", money(line.Total()))
	}
	b.Line(divider)

	if sale.Discount != nil && !sale.Discount.Amount.IsZero() {
		b.Pair("Subtotal:", money(sale.Subtotal()))
		b.Pair(discountLabel(*sale.Discount), "-"+money(sale.Discount.Amount))
	}
	b.Bold(true).Pair("TOTAL:", money(sale.TotalAmount)).Bold(false).Feed(1)

	b.Pair("Payment Method:", sale.PaymentMethod)
	if sale.PaymentMethod == domain.PaymentSplit || sale.PaymentMethod == domain.PaymentCash {
		b.Pair("Cash Paid:", money(sale.CashPaid))
	}
	if sale.PaymentMethod == domain.PaymentSplit || sale.PaymentMethod == domain.PaymentOnline {
		b.Pair("Online Paid:", money(sale.OnlinePaid))
	}
	b.Feed(1)

	b.Center().Line("Thank you!").FeedAndCut()
	return b.Bytes()
}

// TestPage is a short page for checking a printer connection.
func TestPage(branding domain.Branding, at time.Time) []byte {
	return New().
		Center().Bold(true).Line(branding.BusinessName).Bold(false).
		Line("Printer test").
		Line(divider).
		Left().
		Pair("Time:", at.Format("15:04:05")).
		Pair("Width:", strconv.Itoa(LineWidth)+" chars").
		Feed(1).
		Center().Line("OK").
		Feed(3).
		PartialCut().
		Bytes()
}

func discountLabel(d domain.Discount) string {
	if d.Type == domain.DiscountPercentage {
		return "Discount (" + d.Value.String() + "%):"
	}
	return "Discount:"
}
