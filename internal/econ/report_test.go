package econ

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileReportScenario(t *testing.T) {
	// One $100 item rolling dice 50, 40% expenses, 10% CEO salary, 25%
	// corporate tax, flat 10% personal tax.
	roller := &scriptRoller{ints: []int{49}} // dice = 1 + 49
	svc, mem, _ := newTestService(t, roller)
	ctx := t.Context()

	require.NoError(t, svc.ReplaceTaxBrackets(ctx, []Bracket{
		{Min: dec("0"), Max: nil, Rate: dec("0.10")},
	}))
	_, err := svc.CreateCompany(ctx, "alice", "Acme Corp", 10)
	require.NoError(t, err)

	res, err := svc.FileReport(ctx, "alice", "Acme Corp", 40, []ItemEntry{
		{Name: "widget", UnitPrice: dec("100")},
	})
	require.NoError(t, err)

	r := res.Report
	assert.Equal(t, 50, r.Items[0].Dice)
	assert.True(t, r.GrossRevenue.Equal(dec("5000")), "gross %s", r.GrossRevenue)
	assert.True(t, r.GrossExpenses.Equal(dec("2000")))
	assert.True(t, r.GrossProfit.Equal(dec("3000")))
	assert.True(t, r.CorporateTax.Equal(dec("750")))
	assert.True(t, r.CEOSalary.Equal(dec("225")))
	assert.False(t, r.SalaryCapped)
	assert.True(t, r.PersonalTax.Equal(dec("22.50")))
	assert.True(t, r.CEOTakeHome.Equal(dec("202.50")))
	assert.True(t, r.NetProfit.Equal(dec("2025.00")))

	// Balances moved exactly once: treasury +net, CEO +take-home.
	cv, err := svc.Company(ctx, "Acme Corp")
	require.NoError(t, err)
	assert.True(t, cv.Balance.Equal(dec("2025")), "treasury %s", cv.Balance)
	assert.True(t, balanceOf(t, mem, "alice").Equal(dec("50202.50")))
}

func TestFileReportCooldown(t *testing.T) {
	svc, _, clock := newTestService(t, &scriptRoller{ints: []int{49, 49}})
	ctx := t.Context()

	_, err := svc.CreateCompany(ctx, "alice", "Acme Corp", 10)
	require.NoError(t, err)
	items := []ItemEntry{{Name: "widget", UnitPrice: dec("10")}}

	_, err = svc.FileReport(ctx, "alice", "Acme Corp", 40, items)
	require.NoError(t, err)

	_, err = svc.FileReport(ctx, "alice", "Acme Corp", 40, items)
	var cd *CooldownError
	require.ErrorAs(t, err, &cd)
	assert.Positive(t, cd.Remaining)

	clock.Advance(49 * time.Hour)
	_, err = svc.FileReport(ctx, "alice", "Acme Corp", 40, items)
	assert.NoError(t, err)
}

func TestCheckReportCooldown(t *testing.T) {
	svc, _, clock := newTestService(t, &scriptRoller{ints: []int{49}})
	ctx := t.Context()

	_, err := svc.CreateCompany(ctx, "alice", "Acme Corp", 10)
	require.NoError(t, err)

	// Before any filing the company is clear.
	require.NoError(t, svc.CheckReportCooldown(ctx, "alice", "Acme Corp"))

	_, err = svc.FileReport(ctx, "alice", "Acme Corp", 40, []ItemEntry{
		{Name: "widget", UnitPrice: dec("10")},
	})
	require.NoError(t, err)

	var cd *CooldownError
	err = svc.CheckReportCooldown(ctx, "alice", "Acme Corp")
	require.ErrorAs(t, err, &cd)
	assert.Positive(t, cd.Remaining)

	assert.ErrorIs(t, svc.CheckReportCooldown(ctx, "bob", "Acme Corp"), ErrValidation, "only the owner files")
	assert.ErrorIs(t, svc.CheckReportCooldown(ctx, "alice", "No Such Co"), ErrNotFound)

	clock.Advance(49 * time.Hour)
	assert.NoError(t, svc.CheckReportCooldown(ctx, "alice", "Acme Corp"))
}

func TestFileReportValidation(t *testing.T) {
	svc, _, _ := newTestService(t, nil)
	ctx := t.Context()
	_, err := svc.CreateCompany(ctx, "alice", "Acme Corp", 10)
	require.NoError(t, err)

	_, err = svc.FileReport(ctx, "alice", "Acme Corp", 140, []ItemEntry{{Name: "w", UnitPrice: dec("1")}})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = svc.FileReport(ctx, "alice", "Acme Corp", 40, nil)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = svc.FileReport(ctx, "alice", "Acme Corp", 40, []ItemEntry{{Name: "w", UnitPrice: dec("-5")}})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = svc.FileReport(ctx, "bob", "Acme Corp", 40, []ItemEntry{{Name: "w", UnitPrice: dec("1")}})
	assert.ErrorIs(t, err, ErrValidation, "only the owner files")

	_, err = svc.FileReport(ctx, "alice", "No Such Co", 40, []ItemEntry{{Name: "w", UnitPrice: dec("1")}})
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestFileReportPublicMovesPrice(t *testing.T) {
	// Dice 49 → gross 5000 on a $100 item; no event (gate draw misses).
	roller := &scriptRoller{ints: []int{49}, floats: []float64{0.99}}
	svc, _, _ := newTestService(t, roller)
	ctx := t.Context()

	listedCompany(t, svc)
	res, err := svc.FileReport(ctx, "alice", "Acme Corp", 40, []ItemEntry{
		{Name: "widget", UnitPrice: dec("100")},
	})
	require.NoError(t, err)

	// netProfit 2025 → base delta 0.2025 clamped to 0.10; 100 → 110.
	require.NotNil(t, res.NewPrice)
	assert.True(t, res.NewPrice.Equal(dec("110")), "price %s", res.NewPrice)
	assert.True(t, res.Report.PriceDelta.Equal(dec("0.1")))

	q, err := svc.Quote(ctx, "ACME")
	require.NoError(t, err)
	assert.True(t, q.Price.Equal(dec("110")))
}

func TestPriceDeltaClamps(t *testing.T) {
	assert.True(t, priceDelta(dec("500"), dec("0")).Equal(dec("0.05")))
	assert.True(t, priceDelta(dec("100000"), dec("0")).Equal(dec("0.1")))
	assert.True(t, priceDelta(dec("-100000"), dec("0")).Equal(dec("-0.1")))
	assert.True(t, priceDelta(dec("100000"), dec("0.2")).Equal(dec("0.25")))
	assert.True(t, priceDelta(dec("-100000"), dec("-0.2")).Equal(dec("-0.25")))
}
