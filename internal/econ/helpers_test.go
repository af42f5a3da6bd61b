package econ

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"mogul/internal/store"
)

// scriptRoller replays queued values; when a queue runs dry it falls
// back to draws that keep randomness out of the way (no event, dice 1).
type scriptRoller struct {
	floats []float64
	ints   []int
}

func (r *scriptRoller) Float64() float64 {
	if len(r.floats) == 0 {
		return 0.999999
	}
	v := r.floats[0]
	r.floats = r.floats[1:]
	return v
}

func (r *scriptRoller) Intn(n int) int {
	if len(r.ints) == 0 {
		return 0
	}
	v := r.ints[0]
	r.ints = r.ints[1:]
	if v >= n {
		v = n - 1
	}
	return v
}

// testClock is a movable fixed clock.
type testClock struct {
	t time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time          { return c.t }
func (c *testClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestService(t *testing.T, roller Roller) (*Service, *store.MemoryStore, *testClock) {
	t.Helper()
	if roller == nil {
		roller = &scriptRoller{}
	}
	mem := store.NewMemoryStore()
	clock := newTestClock()
	svc := NewService(mem, nil, nil, WithClock(clock.Now), WithRoller(roller))
	return svc, mem, clock
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

// listedCompany sets up owner "alice" with public company "Acme Corp"
// listed as ACME: 1000 shares, alice holds 500, float 500, price $100.
func listedCompany(t *testing.T, svc *Service) {
	t.Helper()
	ctx := t.Context()
	_, err := svc.CreateCompany(ctx, "alice", "Acme Corp", 10)
	require.NoError(t, err)
	_, err = svc.GoPublic(ctx, "alice", "Acme Corp", "ACME", 1000, 50, dec("100"))
	require.NoError(t, err)
}

// shareCounts returns (available, total, sum of holdings, sum of short
// shares) for a ticker.
func shareCounts(t *testing.T, mem *store.MemoryStore, ticker string) (int64, int64, int64, int64) {
	t.Helper()
	var available, total, held, shorted int64
	err := mem.WithinTx(t.Context(), func(tx store.Tx) error {
		st, err := tx.GetStock(ticker)
		if err != nil {
			return err
		}
		available, total = st.AvailableShares, st.TotalShares
		holdings, err := tx.HoldingsByStock(st.ID)
		if err != nil {
			return err
		}
		for _, h := range holdings {
			held += h.Shares
		}
		shorts, err := tx.ShortsByStock(st.ID)
		if err != nil {
			return err
		}
		for _, p := range shorts {
			shorted += p.Shares
		}
		return nil
	})
	require.NoError(t, err)
	return available, total, held, shorted
}

// setPrice rewrites a stock's quote directly, standing in for market
// movement between trades.
func setPrice(t *testing.T, mem *store.MemoryStore, ticker string, price decimal.Decimal) {
	t.Helper()
	err := mem.WithinTx(t.Context(), func(tx store.Tx) error {
		st, err := tx.GetStock(ticker)
		if err != nil {
			return err
		}
		st.Price = price
		return tx.UpdateStock(st)
	})
	require.NoError(t, err)
}

func balanceOf(t *testing.T, mem *store.MemoryStore, userID string) decimal.Decimal {
	t.Helper()
	var b decimal.Decimal
	err := mem.WithinTx(t.Context(), func(tx store.Tx) error {
		a, err := tx.GetAccount(userID)
		if err != nil {
			return err
		}
		b = a.Balance
		return nil
	})
	require.NoError(t, err)
	return b
}
