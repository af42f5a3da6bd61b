// Package econ implements the economy engines: tax, events, revenue
// reports, the share market, and loans, all orchestrated by Service and
// persisted through the ledger store. Every operation is a single atomic
// transition; preconditions are validated inside the transaction, after
// row locks are held, never from stale reads.
package econ

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"mogul/internal/metrics"
	"mogul/internal/store"
)

type Service struct {
	store    store.Store
	log      *slog.Logger
	metrics  *metrics.Set
	settings settingsHolder
	roller   Roller
	now      func() time.Time

	// fluctuateMu keeps a fluctuation pass from overlapping itself when
	// the scheduled tick and the admin trigger coincide.
	fluctuateMu sync.Mutex
}

// Option tweaks a Service at construction. Tests inject fixed clocks and
// scripted rollers this way.
type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithRoller(r Roller) Option {
	return func(s *Service) { s.roller = r }
}

func WithSettings(set Settings) Option {
	return func(s *Service) { s.settings.update(set) }
}

func NewService(st store.Store, logger *slog.Logger, m *metrics.Set, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.New()
	}
	s := &Service{
		store:   st,
		log:     logger,
		metrics: m,
		roller:  NewRoller(),
		now:     time.Now,
	}
	s.settings.update(DefaultSettings())
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Settings returns the current engine parameters.
func (s *Service) Settings() Settings {
	return s.settings.snapshot()
}

// UpdateSettings swaps the engine parameters; the next operation sees the
// new values.
func (s *Service) UpdateSettings(set Settings) error {
	if set.StartingBalance.Sign() < 0 {
		return validationf("starting balance must not be negative")
	}
	if set.MaxCompaniesPerOwner < 1 {
		return validationf("max companies per owner must be at least 1")
	}
	if set.ShortFeeRate.Sign() < 0 || set.CorporateTaxRate.Sign() < 0 || set.LateFeeRatePerDay.Sign() < 0 {
		return validationf("rates must not be negative")
	}
	s.settings.update(set)
	return nil
}

// getOrCreateAccount loads an account, creating it lazily at the
// configured starting balance on first reference.
func (s *Service) getOrCreateAccount(tx store.Tx, userID string, set Settings) (store.Account, error) {
	a, err := tx.GetAccount(userID)
	if err == nil {
		return a, nil
	}
	if err != store.ErrNotFound {
		return store.Account{}, err
	}
	a = store.Account{
		UserID:    userID,
		Balance:   set.StartingBalance,
		CreatedAt: s.now(),
	}
	if err := tx.PutAccount(a); err != nil {
		return store.Account{}, err
	}
	return a, nil
}

// Account returns (and lazily creates) the user's account.
func (s *Service) Account(ctx context.Context, userID string) (AccountView, error) {
	if userID == "" {
		return AccountView{}, validationf("user id required")
	}
	set := s.settings.snapshot()
	var view AccountView
	err := s.store.WithinTx(ctx, func(tx store.Tx) error {
		a, err := s.getOrCreateAccount(tx, userID, set)
		if err != nil {
			return err
		}
		view = AccountView{UserID: a.UserID, Balance: a.Balance}
		return nil
	})
	return view, wrapStore(err)
}

// Transfer moves money between two accounts.
func (s *Service) Transfer(ctx context.Context, fromID, toID string, amount decimal.Decimal) (TransferResult, error) {
	if fromID == "" || toID == "" {
		return TransferResult{}, validationf("both accounts required")
	}
	if fromID == toID {
		return TransferResult{}, validationf("cannot transfer to yourself")
	}
	if amount.Sign() <= 0 {
		return TransferResult{}, validationf("amount must be positive")
	}
	amount = amount.Round(2)
	set := s.settings.snapshot()

	var res TransferResult
	err := s.store.WithinTx(ctx, func(tx store.Tx) error {
		from, err := s.getOrCreateAccount(tx, fromID, set)
		if err != nil {
			return err
		}
		to, err := s.getOrCreateAccount(tx, toID, set)
		if err != nil {
			return err
		}
		if from.Balance.LessThan(amount) {
			return insufficientf("balance %s, need %s", from.Balance, amount)
		}
		from.Balance = from.Balance.Sub(amount)
		to.Balance = to.Balance.Add(amount)
		if err := tx.PutAccount(from); err != nil {
			return err
		}
		if err := tx.PutAccount(to); err != nil {
			return err
		}
		res = TransferResult{
			From:   AccountView{UserID: from.UserID, Balance: from.Balance},
			To:     AccountView{UserID: to.UserID, Balance: to.Balance},
			Amount: amount,
		}
		return nil
	})
	return res, wrapStore(err)
}

// AdjustBalance applies an admin delta to an account; this is the only
// path that may push a balance negative.
func (s *Service) AdjustBalance(ctx context.Context, userID string, delta decimal.Decimal) (AccountView, error) {
	if userID == "" {
		return AccountView{}, validationf("user id required")
	}
	set := s.settings.snapshot()
	var view AccountView
	err := s.store.WithinTx(ctx, func(tx store.Tx) error {
		a, err := s.getOrCreateAccount(tx, userID, set)
		if err != nil {
			return err
		}
		a.Balance = a.Balance.Add(delta.Round(2))
		if err := tx.PutAccount(a); err != nil {
			return err
		}
		view = AccountView{UserID: a.UserID, Balance: a.Balance}
		return nil
	})
	if err != nil {
		return AccountView{}, wrapStore(err)
	}
	s.log.Info("balance adjusted", "user", userID, "delta", delta.String())
	return view, nil
}

// TaxBrackets returns the active progressive table, seeding the default
// one when the store holds none.
func (s *Service) TaxBrackets(ctx context.Context) ([]Bracket, error) {
	var out []Bracket
	err := s.store.WithinTx(ctx, func(tx store.Tx) error {
		rows, err := tx.TaxBrackets()
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			out = DefaultTaxBrackets()
			return tx.ReplaceTaxBrackets(bracketsToStore(out))
		}
		out = bracketsFromStore(rows)
		return nil
	})
	return out, wrapStore(err)
}

// ReplaceTaxBrackets swaps the whole table.
func (s *Service) ReplaceTaxBrackets(ctx context.Context, brackets []Bracket) error {
	if err := ValidateBrackets(brackets); err != nil {
		return err
	}
	err := s.store.WithinTx(ctx, func(tx store.Tx) error {
		return tx.ReplaceTaxBrackets(bracketsToStore(brackets))
	})
	return wrapStore(err)
}

func bracketsToStore(bs []Bracket) []store.TaxBracket {
	out := make([]store.TaxBracket, len(bs))
	for i, b := range bs {
		out[i] = store.TaxBracket{Min: b.Min, Max: b.Max, Rate: b.Rate}
	}
	return out
}

func bracketsFromStore(rows []store.TaxBracket) []Bracket {
	out := make([]Bracket, len(rows))
	for i, r := range rows {
		out[i] = Bracket{Min: r.Min, Max: r.Max, Rate: r.Rate}
	}
	return out
}

// taxTable loads brackets inside an existing transaction, falling back to
// the defaults when unseeded.
func taxTable(tx store.Tx) ([]Bracket, error) {
	rows, err := tx.TaxBrackets()
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return DefaultTaxBrackets(), nil
	}
	return bracketsFromStore(rows), nil
}

// Portfolio marks the user's holdings and shorts to the current price.
func (s *Service) Portfolio(ctx context.Context, userID string) (PortfolioView, error) {
	if userID == "" {
		return PortfolioView{}, validationf("user id required")
	}
	set := s.settings.snapshot()
	var view PortfolioView
	err := s.store.WithinTx(ctx, func(tx store.Tx) error {
		a, err := s.getOrCreateAccount(tx, userID, set)
		if err != nil {
			return err
		}
		view = PortfolioView{UserID: userID, Cash: a.Balance, NetWorth: a.Balance}

		holdings, err := tx.HoldingsByUser(userID)
		if err != nil {
			return err
		}
		for _, h := range holdings {
			st, err := tx.GetStockByID(h.StockID)
			if err != nil {
				return err
			}
			value := st.Price.Mul(decimal.NewFromInt(h.Shares)).Round(2)
			view.Holdings = append(view.Holdings, HoldingView{
				Ticker: st.Ticker,
				Shares: h.Shares,
				Price:  st.Price,
				Value:  value,
			})
			view.NetWorth = view.NetWorth.Add(value)
		}

		shorts, err := tx.ShortsByUser(userID)
		if err != nil {
			return err
		}
		for _, p := range shorts {
			st, err := tx.GetStockByID(p.StockID)
			if err != nil {
				return err
			}
			pnl := p.EntryPrice.Sub(st.Price).Mul(decimal.NewFromInt(p.Shares)).Round(2)
			view.Shorts = append(view.Shorts, ShortView{
				Ticker:     st.Ticker,
				Shares:     p.Shares,
				EntryPrice: p.EntryPrice,
				Price:      st.Price,
				PnL:        pnl,
			})
		}
		return nil
	})
	return view, wrapStore(err)
}

// Leaderboard ranks accounts by net worth: cash plus holdings at current
// prices. Shorts are open bets and do not count until covered.
func (s *Service) Leaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	if limit <= 0 || limit > 100 {
		limit = 10
	}
	var entries []LeaderboardEntry
	err := s.store.WithinTx(ctx, func(tx store.Tx) error {
		accounts, err := tx.AllAccounts()
		if err != nil {
			return err
		}
		prices := map[int64]decimal.Decimal{}
		stocks, err := tx.ListStocks()
		if err != nil {
			return err
		}
		for _, st := range stocks {
			prices[st.ID] = st.Price
		}

		entries = entries[:0]
		for _, a := range accounts {
			net := a.Balance
			holdings, err := tx.HoldingsByUser(a.UserID)
			if err != nil {
				return err
			}
			for _, h := range holdings {
				net = net.Add(prices[h.StockID].Mul(decimal.NewFromInt(h.Shares)))
			}
			entries = append(entries, LeaderboardEntry{
				UserID:   a.UserID,
				Cash:     a.Balance,
				NetWorth: net.Round(2),
			})
		}
		return nil
	})
	if err != nil {
		return nil, wrapStore(err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].NetWorth.GreaterThan(entries[j].NetWorth)
	})
	if len(entries) > limit {
		entries = entries[:limit]
	}
	for i := range entries {
		entries[i].Rank = i + 1
	}
	return entries, nil
}
