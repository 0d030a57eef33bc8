package domain

import (
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Totals are the derived amounts for a set of payments.
type Totals struct {
	TotalDue     decimal.Decimal `json:"total_due"`
	TotalPaid    decimal.Decimal `json:"total_paid"`
	Outstanding  decimal.Decimal `json:"outstanding"`
	PaymentCount int             `json:"payment_count"`
}

// ComputeTotals is the one place balances are derived from payments.
func ComputeTotals(payments []Payment) Totals {
	t := Totals{TotalDue: decimal.Zero, TotalPaid: decimal.Zero}
	for _, p := range payments {
		t.TotalDue = t.TotalDue.Add(p.Amount)
		t.TotalPaid = t.TotalPaid.Add(p.AmountPaid)
	}
	t.Outstanding = t.TotalDue.Sub(t.TotalPaid)
	t.PaymentCount = len(payments)
	return t
}

// Balance converts totals to the stored balance view for a student.
func (t Totals) Balance(studentID string) StudentBalance {
	return StudentBalance{
		StudentID:   studentID,
		TotalDue:    t.TotalDue,
		TotalPaid:   t.TotalPaid,
		Outstanding: t.Outstanding,
	}
}

// DistributionEntry is one category in a payment distribution.
type DistributionEntry struct {
	Category   PaymentType     `json:"category"`
	Amount     decimal.Decimal `json:"amount"`
	Percentage int64           `json:"percentage"`
}

var distributionCategories = []PaymentType{TypeTuition, TypeHousing, TypeMealPlan, TypeFees}

// Distribution splits the owed amount across the fixed categories. Payments of
// other types count towards the total but get no entry of their own, and
// categories with no amount are left out.
func Distribution(payments []Payment) []DistributionEntry {
	total := decimal.Zero
	byType := make(map[PaymentType]decimal.Decimal)
	for _, p := range payments {
		total = total.Add(p.Amount)
		byType[p.Type] = byType[p.Type].Add(p.Amount)
	}

	out := []DistributionEntry{}
	if !total.IsPositive() {
		return out
	}
	for _, c := range distributionCategories {
		amt := byType[c]
		if !amt.IsPositive() {
			continue
		}
		out = append(out, DistributionEntry{
			Category:   c,
			Amount:     amt,
			Percentage: Percent(amt, total),
		})
	}
	return out
}

// Percent returns round(part / whole * 100), or 0 when whole is not positive.
func Percent(part, whole decimal.Decimal) int64 {
	if !whole.IsPositive() {
		return 0
	}
	return part.Mul(hundred).Div(whole).Round(0).IntPart()
}
