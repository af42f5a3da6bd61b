package econ

import (
	"github.com/shopspring/decimal"
)

// Bracket is one slice of the progressive personal-tax table. Max == nil
// marks the unbounded top bracket. Brackets are expected to be ordered
// and gapless from zero; the engine does not repair a malformed table —
// keeping it well-formed is an admin responsibility.
type Bracket struct {
	Min  decimal.Decimal  `json:"min"`
	Max  *decimal.Decimal `json:"max"`
	Rate decimal.Decimal  `json:"rate"`
}

// BracketLine is one row of a personal-tax breakdown, reproducible for
// display. The lines sum exactly to the total tax.
type BracketLine struct {
	Min   decimal.Decimal  `json:"min"`
	Max   *decimal.Decimal `json:"max"`
	Rate  decimal.Decimal  `json:"rate"`
	Taxed decimal.Decimal  `json:"taxed"`
	Tax   decimal.Decimal  `json:"tax"`
}

// CorporateTax is flat: rate × max(grossProfit, 0), rounded to cents.
// A loss never yields tax.
func CorporateTax(grossProfit, rate decimal.Decimal) decimal.Decimal {
	if grossProfit.Sign() <= 0 {
		return decimal.Zero
	}
	return grossProfit.Mul(rate).Round(2)
}

// PersonalTax walks the brackets lowest to highest, taxing the slice of
// income that falls inside each one. Zero or negative income yields zero
// tax and no breakdown. Each line is rounded to cents as it is produced,
// so the sum of lines is the returned total by construction.
func PersonalTax(income decimal.Decimal, brackets []Bracket) (decimal.Decimal, []BracketLine) {
	if income.Sign() <= 0 || len(brackets) == 0 {
		return decimal.Zero, nil
	}

	total := decimal.Zero
	var lines []BracketLine
	for _, b := range brackets {
		upper := income
		if b.Max != nil && b.Max.LessThan(upper) {
			upper = *b.Max
		}
		taxed := upper.Sub(b.Min)
		if taxed.Sign() <= 0 {
			continue
		}
		tax := taxed.Mul(b.Rate).Round(2)
		total = total.Add(tax)
		lines = append(lines, BracketLine{
			Min:   b.Min,
			Max:   b.Max,
			Rate:  b.Rate,
			Taxed: taxed,
			Tax:   tax,
		})
	}
	return total, lines
}

// ValidateBrackets rejects the obviously malformed: empty table, negative
// rates, min ≥ max, a bounded top bracket, or a table not starting at
// zero. Gaps and overlaps between interior brackets are deliberately not
// checked here.
func ValidateBrackets(brackets []Bracket) error {
	if len(brackets) == 0 {
		return validationf("tax table must have at least one bracket")
	}
	if !brackets[0].Min.IsZero() {
		return validationf("first bracket must start at 0")
	}
	for i, b := range brackets {
		if b.Rate.Sign() < 0 {
			return validationf("bracket %d: negative rate", i)
		}
		if b.Max != nil && !b.Max.GreaterThan(b.Min) {
			return validationf("bracket %d: max must exceed min", i)
		}
	}
	if brackets[len(brackets)-1].Max != nil {
		return validationf("top bracket must be unbounded")
	}
	return nil
}
