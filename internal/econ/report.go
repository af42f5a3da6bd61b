package econ

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"mogul/internal/store"
)

// ItemEntry is one sold item submitted for a revenue report: a name and
// a unit price. The dice roll that turns it into revenue happens inside
// the engine.
type ItemEntry struct {
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

var hundred = decimal.NewFromInt(100)

// reportFigures carries every intermediate value of a report
// computation; all monetary figures are finalized to cents.
type reportFigures struct {
	items         []store.ReportItem
	grossRevenue  decimal.Decimal
	grossExpenses decimal.Decimal
	grossProfit   decimal.Decimal
	corporateTax  decimal.Decimal
	afterCorpTax  decimal.Decimal
	ceoSalary     decimal.Decimal
	salaryCapped  bool
	personalTax   decimal.Decimal
	taxLines      []BracketLine
	ceoTakeHome   decimal.Decimal
	netProfit     decimal.Decimal
}

// computeReport turns submitted items into the full chain of report
// figures: dice revenue, expenses, corporate tax, capped CEO salary,
// progressive personal tax, and the company's net. Pure except for the
// dice draws on r.
func computeReport(items []ItemEntry, expensePercent, salaryPercent int, salaryCap decimal.Decimal, corpRate decimal.Decimal, brackets []Bracket, r Roller) reportFigures {
	var f reportFigures

	f.grossRevenue = decimal.Zero
	for _, it := range items {
		dice := rollDice(r)
		revenue := it.UnitPrice.Mul(decimal.NewFromInt(int64(dice)))
		f.items = append(f.items, store.ReportItem{
			Name:      it.Name,
			UnitPrice: it.UnitPrice,
			Dice:      dice,
			Revenue:   revenue,
		})
		f.grossRevenue = f.grossRevenue.Add(revenue)
	}

	f.grossExpenses = f.grossRevenue.Mul(decimal.NewFromInt(int64(expensePercent))).Div(hundred).Round(2)
	f.grossProfit = f.grossRevenue.Sub(f.grossExpenses)

	f.corporateTax = CorporateTax(f.grossProfit, corpRate)
	f.afterCorpTax = f.grossProfit.Sub(f.corporateTax)

	f.ceoSalary = f.afterCorpTax.Mul(decimal.NewFromInt(int64(salaryPercent))).Div(hundred).Round(2)
	if f.ceoSalary.Sign() < 0 {
		f.ceoSalary = decimal.Zero
	}
	if f.ceoSalary.GreaterThan(salaryCap) {
		f.ceoSalary = salaryCap
		f.salaryCapped = true
	}

	f.personalTax, f.taxLines = PersonalTax(f.ceoSalary, brackets)
	f.ceoTakeHome = f.ceoSalary.Sub(f.personalTax)
	f.netProfit = f.afterCorpTax.Sub(f.ceoSalary).Round(2)
	return f
}

// priceDelta combines the profit-driven base move with an optional event
// impact, clamped to ±25% total (base alone is clamped to ±10%).
func priceDelta(netProfit decimal.Decimal, eventImpact decimal.Decimal) decimal.Decimal {
	base := netProfit.Div(decimal.NewFromInt(10000))
	base = clampFraction(base, decimal.NewFromFloat(0.10))
	return clampFraction(base.Add(eventImpact), decimal.NewFromFloat(0.25))
}

func clampFraction(v, bound decimal.Decimal) decimal.Decimal {
	if v.GreaterThan(bound) {
		return bound
	}
	if v.LessThan(bound.Neg()) {
		return bound.Neg()
	}
	return v
}

// CheckReportCooldown tells the dialogue layer whether the caller may
// file for the company right now, so a company on cooldown is rejected
// when it is picked rather than after every item has been entered.
// FileReport re-checks inside its own transaction.
func (s *Service) CheckReportCooldown(ctx context.Context, userID, companyName string) error {
	set := s.settings.snapshot()
	err := s.store.WithinTx(ctx, func(tx store.Tx) error {
		c, err := ownedCompany(tx, userID, companyName)
		if err != nil {
			return err
		}
		return reportCooldownErr(c, set, s.now())
	})
	return wrapStore(err)
}

func reportCooldownErr(c store.Company, set Settings, now time.Time) error {
	if c.LastReportAt == nil {
		return nil
	}
	if wait := set.ReportCooldown - now.Sub(*c.LastReportAt); wait > 0 {
		return &CooldownError{Op: "report for " + c.Name, Remaining: wait}
	}
	return nil
}

// FileReport commits a revenue report for a company the caller owns: the
// dice are rolled, taxes and salary computed, balances moved, the stock
// price adjusted if the company is public, and the immutable report
// record persisted, all in one transaction. A per-company cooldown gates
// filing.
func (s *Service) FileReport(ctx context.Context, userID, companyName string, expensePercent int, items []ItemEntry) (ReportResult, error) {
	if expensePercent < 0 || expensePercent > 100 {
		return ReportResult{}, validationf("expense percent must be between 0 and 100")
	}
	if len(items) == 0 {
		return ReportResult{}, validationf("report needs at least one item")
	}
	for i, it := range items {
		if strings.TrimSpace(it.Name) == "" {
			return ReportResult{}, validationf("item %d: name required", i+1)
		}
		if it.UnitPrice.Sign() <= 0 {
			return ReportResult{}, validationf("item %d: price must be positive", i+1)
		}
	}
	set := s.settings.snapshot()

	var res ReportResult
	err := s.store.WithinTx(ctx, func(tx store.Tx) error {
		c, err := ownedCompany(tx, userID, companyName)
		if err != nil {
			return err
		}
		now := s.now()
		if err := reportCooldownErr(c, set, now); err != nil {
			return err
		}

		brackets, err := taxTable(tx)
		if err != nil {
			return err
		}
		salaryCap := set.CEOSalaryCapPrivate
		if c.IsPublic {
			salaryCap = set.CEOSalaryCapPublic
		}
		f := computeReport(items, expensePercent, c.CEOSalaryPercent, salaryCap, set.CorporateTaxRate, brackets, s.roller)

		a, err := s.getOrCreateAccount(tx, userID, set)
		if err != nil {
			return err
		}
		c.Balance = c.Balance.Add(f.netProfit)
		a.Balance = a.Balance.Add(f.ceoTakeHome)

		report := store.Report{
			ID:             uuid.NewString(),
			CompanyID:      c.ID,
			FiledBy:        userID,
			Items:          f.items,
			GrossRevenue:   f.grossRevenue.Round(2),
			ExpensePercent: expensePercent,
			GrossExpenses:  f.grossExpenses,
			GrossProfit:    f.grossProfit.Round(2),
			CorporateTax:   f.corporateTax,
			CEOSalary:      f.ceoSalary,
			SalaryCapped:   f.salaryCapped,
			PersonalTax:    f.personalTax,
			CEOTakeHome:    f.ceoTakeHome,
			NetProfit:      f.netProfit,
			PriceDelta:     decimal.Zero,
			FiledAt:        now,
		}

		res = ReportResult{TaxLines: f.taxLines}
		if c.IsPublic {
			st, err := tx.GetStockByCompany(c.ID)
			if err != nil {
				return err
			}
			ev, impact := DrawEvent(f.netProfit, s.roller)
			delta := priceDelta(f.netProfit, impact)
			st.Price = clampPrice(st.Price.Mul(decimal.NewFromInt(1).Add(delta)))
			if err := tx.UpdateStock(st); err != nil {
				return err
			}
			report.PriceDelta = delta
			if ev != nil {
				report.EventName = ev.Name
				res.Event = ev
			}
			res.NewPrice = &st.Price
		}

		c.LastReportAt = &now
		if err := tx.UpdateCompany(c); err != nil {
			return err
		}
		if err := tx.PutAccount(a); err != nil {
			return err
		}
		if err := tx.InsertReport(report); err != nil {
			return err
		}
		res.Report = report
		return nil
	})
	if err != nil {
		return ReportResult{}, wrapStore(err)
	}
	s.metrics.ReportsFiled.Inc()
	s.log.Info("report filed",
		"company", companyName,
		"net_profit", res.Report.NetProfit.String(),
		"take_home", res.Report.CEOTakeHome.String())
	return res, nil
}
