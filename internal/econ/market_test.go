package econ

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGoPublicValidation(t *testing.T) {
	svc, _, _ := newTestService(t, nil)
	ctx := t.Context()
	_, err := svc.CreateCompany(ctx, "alice", "Acme Corp", 10)
	require.NoError(t, err)

	cases := []struct {
		name    string
		ticker  string
		shares  int64
		ownerPc int
		price   string
	}{
		{"bad ticker", "acme", 1000, 50, "100"},
		{"ticker too long", "ACMECO", 1000, 50, "100"},
		{"zero shares", "ACME", 0, 50, "100"},
		{"owner keeps everything", "ACME", 1000, 100, "100"},
		{"zero price", "ACME", 1000, 50, "0"},
	}
	for _, tc := range cases {
		_, err := svc.GoPublic(ctx, "alice", "Acme Corp", tc.ticker, tc.shares, tc.ownerPc, dec(tc.price))
		assert.ErrorIs(t, err, ErrValidation, tc.name)
	}

	_, err = svc.GoPublic(ctx, "alice", "Acme Corp", "ACME", 1000, 50, dec("100"))
	require.NoError(t, err)

	_, err = svc.GoPublic(ctx, "alice", "Acme Corp", "ACMX", 1000, 50, dec("100"))
	assert.ErrorIs(t, err, ErrState, "already public")
}

func TestBuySellRoundTrip(t *testing.T) {
	svc, mem, clock := newTestService(t, nil)
	ctx := t.Context()
	listedCompany(t, svc)

	buy, err := svc.Buy(ctx, "bob", "ACME", 10)
	require.NoError(t, err)
	assert.True(t, buy.Cost.Equal(dec("1000")))
	assert.True(t, buy.NewBalance.Equal(dec("49000")))

	available, total, held, shorted := shareCounts(t, mem, "ACME")
	assert.Equal(t, int64(490), available)
	assert.Equal(t, int64(1000), total)
	assert.Equal(t, int64(510), held, "owner 500 + bob 10")
	assert.Zero(t, shorted)
	assert.Equal(t, total, available+held, "shares are conserved")

	clock.Advance(301 * time.Second)
	sell, err := svc.Sell(ctx, "bob", "ACME", 10)
	require.NoError(t, err)
	assert.True(t, sell.NewBalance.Equal(dec("50000")), "price unchanged, round trip is lossless")

	available, total, held, _ = shareCounts(t, mem, "ACME")
	assert.Equal(t, int64(500), available)
	assert.Equal(t, int64(500), held)
	assert.Equal(t, total, available+held)
}

func TestBuyRejections(t *testing.T) {
	svc, mem, _ := newTestService(t, nil)
	ctx := t.Context()
	listedCompany(t, svc)

	_, err := svc.Buy(ctx, "bob", "ACME", 501)
	assert.ErrorIs(t, err, ErrValidation, "only 500 in the float")

	_, err = svc.Buy(ctx, "bob", "ACME", 0)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = svc.Buy(ctx, "bob", "NOPE", 1)
	assert.ErrorIs(t, err, ErrNotFound)

	// 500 × $100.01 just exceeds the $50,000 starting balance.
	setPrice(t, mem, "ACME", dec("100.01"))
	_, err = svc.Buy(ctx, "bob", "ACME", 500)
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	_, err = svc.Sell(ctx, "bob", "ACME", 1)
	assert.ErrorIs(t, err, ErrValidation, "nothing to sell")
}

func TestTradeCooldown(t *testing.T) {
	svc, _, clock := newTestService(t, nil)
	ctx := t.Context()
	listedCompany(t, svc)

	_, err := svc.Buy(ctx, "bob", "ACME", 1)
	require.NoError(t, err)

	_, err = svc.Buy(ctx, "bob", "ACME", 1)
	var cd *CooldownError
	require.ErrorAs(t, err, &cd)
	assert.Positive(t, cd.Remaining)

	clock.Advance(301 * time.Second)
	_, err = svc.Buy(ctx, "bob", "ACME", 1)
	assert.NoError(t, err)
}

func TestShortCoverProfit(t *testing.T) {
	// Short 10 @ $100 with a 3% fee, cover at $80: proceeds 970, cost 800,
	// so the account finishes $170 up.
	svc, mem, clock := newTestService(t, nil)
	ctx := t.Context()
	listedCompany(t, svc)

	sh, err := svc.Short(ctx, "bob", "ACME", 10)
	require.NoError(t, err)
	assert.True(t, sh.Fee.Equal(dec("30")))
	assert.True(t, sh.Proceeds.Equal(dec("970")))
	assert.True(t, sh.NewBalance.Equal(dec("50970")))

	available, _, _, shorted := shareCounts(t, mem, "ACME")
	assert.Equal(t, int64(490), available, "borrowed shares leave the float")
	assert.Equal(t, int64(10), shorted)

	setPrice(t, mem, "ACME", dec("80"))
	clock.Advance(301 * time.Second)

	cov, err := svc.Cover(ctx, "bob", "ACME", 10)
	require.NoError(t, err)
	assert.True(t, cov.Cost.Equal(dec("800")))
	assert.True(t, cov.PnL.Equal(dec("200")), "gross PnL before the open fee")
	assert.True(t, cov.NewBalance.Equal(dec("50170")))
	assert.Zero(t, cov.RemainingShares)

	available, _, _, shorted = shareCounts(t, mem, "ACME")
	assert.Equal(t, int64(500), available)
	assert.Zero(t, shorted)
}

func TestSecondShortConflict(t *testing.T) {
	svc, mem, clock := newTestService(t, nil)
	ctx := t.Context()
	listedCompany(t, svc)

	_, err := svc.Short(ctx, "bob", "ACME", 5)
	require.NoError(t, err)
	before := balanceOf(t, mem, "bob")

	clock.Advance(301 * time.Second)
	_, err = svc.Short(ctx, "bob", "ACME", 5)
	assert.ErrorIs(t, err, ErrConflict)

	assert.True(t, balanceOf(t, mem, "bob").Equal(before), "rejected short leaves the balance alone")
	_, _, _, shorted := shareCounts(t, mem, "ACME")
	assert.Equal(t, int64(5), shorted)
}

func TestCoverPartialAndLimits(t *testing.T) {
	svc, _, clock := newTestService(t, nil)
	ctx := t.Context()
	listedCompany(t, svc)

	_, err := svc.Short(ctx, "bob", "ACME", 10)
	require.NoError(t, err)

	clock.Advance(301 * time.Second)
	_, err = svc.Cover(ctx, "bob", "ACME", 11)
	assert.ErrorIs(t, err, ErrValidation, "cannot cover more than the position")

	clock.Advance(301 * time.Second)
	cov, err := svc.Cover(ctx, "bob", "ACME", 4)
	require.NoError(t, err)
	assert.Equal(t, int64(6), cov.RemainingShares)

	clock.Advance(301 * time.Second)
	_, err = svc.Cover(ctx, "carol", "ACME", 1)
	assert.ErrorIs(t, err, ErrNotFound, "no position, nothing to cover")
}

func TestIssueDilutesPrice(t *testing.T) {
	svc, mem, _ := newTestService(t, nil)
	ctx := t.Context()
	listedCompany(t, svc)

	res, err := svc.Issue(ctx, "alice", "ACME", 1000)
	require.NoError(t, err)
	assert.Equal(t, int64(2000), res.TotalShares)
	assert.Equal(t, int64(1500), res.AvailableShares)
	assert.True(t, res.NewPrice.Equal(dec("50")), "market cap is preserved")

	// Existing holders keep their absolute share counts.
	_, total, held, _ := shareCounts(t, mem, "ACME")
	assert.Equal(t, int64(2000), total)
	assert.Equal(t, int64(500), held)

	_, err = svc.Issue(ctx, "bob", "ACME", 10)
	assert.ErrorIs(t, err, ErrValidation, "only the owner issues")
}

func TestBuybackScalesPriceUp(t *testing.T) {
	svc, _, _ := newTestService(t, nil)
	ctx := t.Context()
	listedCompany(t, svc)

	_, err := svc.Buyback(ctx, "alice", "ACME", 100)
	assert.ErrorIs(t, err, ErrInsufficientFunds, "empty treasury cannot pay")

	_, err = svc.DepositTreasury(ctx, "alice", "Acme Corp", dec("25000"))
	require.NoError(t, err)

	res, err := svc.Buyback(ctx, "alice", "ACME", 100)
	require.NoError(t, err)
	assert.Equal(t, int64(900), res.TotalShares)
	assert.Equal(t, int64(400), res.AvailableShares)
	// 100 × 1000 / 900 = 111.11.
	assert.True(t, res.NewPrice.Equal(dec("111.11")), "price %s", res.NewPrice)

	cv, err := svc.Company(ctx, "Acme Corp")
	require.NoError(t, err)
	assert.True(t, cv.Balance.Equal(dec("15000")), "treasury paid 100 × $100")

	_, err = svc.Buyback(ctx, "alice", "ACME", 401)
	assert.ErrorIs(t, err, ErrValidation, "float is only 400")
}

func TestReleaseAndWithdrawShares(t *testing.T) {
	svc, mem, _ := newTestService(t, nil)
	ctx := t.Context()
	listedCompany(t, svc)

	rel, err := svc.ReleaseShares(ctx, "alice", "ACME", 200)
	require.NoError(t, err)
	assert.Equal(t, int64(300), rel.OwnerShares)
	assert.Equal(t, int64(700), rel.AvailableShares)

	wd, err := svc.WithdrawShares(ctx, "alice", "ACME", 700)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), wd.OwnerShares)
	assert.Zero(t, wd.AvailableShares)

	_, err = svc.WithdrawShares(ctx, "alice", "ACME", 1)
	assert.ErrorIs(t, err, ErrValidation, "float is empty")

	_, total, held, _ := shareCounts(t, mem, "ACME")
	assert.Equal(t, total, held, "moves never mint or burn shares")
}

func TestDelistPaysEveryoneOut(t *testing.T) {
	svc, mem, clock := newTestService(t, nil)
	ctx := t.Context()
	listedCompany(t, svc)

	_, err := svc.Buy(ctx, "bob", "ACME", 10)
	require.NoError(t, err)
	_, err = svc.Short(ctx, "carol", "ACME", 5)
	require.NoError(t, err)
	clock.Advance(301 * time.Second)

	res, err := svc.Delist(ctx, "alice", "ACME")
	require.NoError(t, err)
	assert.Equal(t, 2, res.HoldersPaid, "alice and bob")
	assert.Equal(t, 1, res.ShortsClosed)
	// alice 500 + bob 10 shares at $100.
	assert.True(t, res.TotalPayout.Equal(dec("51000")))

	assert.True(t, balanceOf(t, mem, "bob").Equal(dec("50000")), "bought at 100, paid out at 100")
	// carol banked 485 net of the fee, then pays 500 to force-cover.
	assert.True(t, balanceOf(t, mem, "carol").Equal(dec("49985")))
	assert.True(t, balanceOf(t, mem, "alice").Equal(dec("100000")), "starting 50000 plus 500 × $100")

	_, err = svc.Quote(ctx, "ACME")
	assert.ErrorIs(t, err, ErrNotFound)
	cv, err := svc.Company(ctx, "Acme Corp")
	require.NoError(t, err)
	assert.False(t, cv.IsPublic)
}

func TestFluctuateStaysInSpan(t *testing.T) {
	// A draw of 0.0 is the extreme downward move: -span exactly.
	svc, _, _ := newTestService(t, &scriptRoller{floats: []float64{0.0}})
	ctx := t.Context()
	listedCompany(t, svc)

	moves, err := svc.Fluctuate(ctx)
	require.NoError(t, err)
	require.Len(t, moves, 1)
	assert.True(t, moves[0].NewPrice.Equal(dec("95")), "got %s", moves[0].NewPrice)
}

func TestFluctuateNeverBelowPenny(t *testing.T) {
	svc, mem, _ := newTestService(t, &scriptRoller{floats: []float64{0.0}})
	ctx := t.Context()
	listedCompany(t, svc)
	setPrice(t, mem, "ACME", dec("0.01"))

	moves, err := svc.Fluctuate(ctx)
	require.NoError(t, err)
	require.Len(t, moves, 1)
	assert.True(t, moves[0].NewPrice.Equal(dec("0.01")))
}

func TestShareSupplyCeiling(t *testing.T) {
	svc, _, _ := newTestService(t, nil)
	ctx := t.Context()

	_, err := svc.CreateCompany(ctx, "alice", "Acme Corp", 10)
	require.NoError(t, err)

	_, err = svc.GoPublic(ctx, "alice", "Acme Corp", "ACME", maxTotalShares+1, 50, dec("100"))
	assert.ErrorIs(t, err, ErrValidation)

	_, err = svc.GoPublic(ctx, "alice", "Acme Corp", "ACME", 1000, 50, dec("100"))
	require.NoError(t, err)

	_, err = svc.Issue(ctx, "alice", "ACME", maxTotalShares+1)
	assert.ErrorIs(t, err, ErrValidation)

	// 1000 shares are already outstanding, so an in-range amount that
	// would push the total past the ceiling is rejected too.
	_, err = svc.Issue(ctx, "alice", "ACME", maxTotalShares-500)
	assert.ErrorIs(t, err, ErrValidation)

	q, err := svc.Quote(ctx, "ACME")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), q.TotalShares, "failed issues change nothing")
}
