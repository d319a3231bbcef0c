package service

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"ragefit/pos/internal/domain"
)

// PesoDenominations lists the bills and coins offered on the cash-count
// screen, largest first.
var PesoDenominations = []string{
	"1000", "500", "200", "100", "50", "20",
	"10", "5", "1", "0.25", "0.10", "0.05", "0.01",
}

// CountCash sums face value x count for every entry. Keys are decimal
// strings so centavo coins add up exactly. Zero counts are dropped from the
// returned breakdown.
func CountCash(counts map[string]int) (decimal.Decimal, []domain.Denomination, error) {
	total := decimal.Zero
	breakdown := make([]domain.Denomination, 0, len(counts))
	seen := make(map[string]bool, len(counts))
	for key, count := range counts {
		face, err := decimal.NewFromString(strings.TrimSpace(key))
		if err != nil {
			return decimal.Zero, nil, fmt.Errorf("%w: face value %q", ErrInvalidAmount, key)
		}
		if !face.IsPositive() {
			return decimal.Zero, nil, fmt.Errorf("%w: face value %q must be positive", ErrInvalidAmount, key)
		}
		if count < 0 {
			return decimal.Zero, nil, fmt.Errorf("%w: count for %s must not be negative", ErrInvalidAmount, key)
		}
		canonical := face.String()
		if seen[canonical] {
			return decimal.Zero, nil, fmt.Errorf("%w: face value %s listed twice", ErrInvalidAmount, canonical)
		}
		seen[canonical] = true
		if count == 0 {
			continue
		}
		total = total.Add(face.Mul(decimal.NewFromInt(int64(count))))
		breakdown = append(breakdown, domain.Denomination{FaceValue: face, Count: count})
	}
	sort.Slice(breakdown, func(i, j int) bool {
		return breakdown[i].FaceValue.GreaterThan(breakdown[j].FaceValue)
	})
	return total, breakdown, nil
}
