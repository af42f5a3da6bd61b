package econ

import (
	"context"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"mogul/internal/store"
)

var tickerRE = regexp.MustCompile(`^[A-Z]{3,5}$`)

var pennyStock = decimal.NewFromFloat(0.01)

// maxTotalShares bounds a stock's supply so issuance arithmetic stays
// far from int64 limits.
const maxTotalShares int64 = 1_000_000_000

// GoPublic lists a company on the exchange: creates its stock at the
// given price, carves out the owner's stake and leaves the rest as
// tradable float.
func (s *Service) GoPublic(ctx context.Context, ownerID, companyName, ticker string, totalShares int64, ownerPercent int, price decimal.Decimal) (IPOResult, error) {
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	if !tickerRE.MatchString(ticker) {
		return IPOResult{}, validationf("ticker must be 3-5 uppercase letters")
	}
	if totalShares <= 0 || totalShares > maxTotalShares {
		return IPOResult{}, validationf("total shares must be between 1 and %d", maxTotalShares)
	}
	if ownerPercent <= 0 || ownerPercent >= 100 {
		return IPOResult{}, validationf("owner percent must be strictly between 0 and 100")
	}
	if !price.GreaterThan(decimal.Zero) {
		return IPOResult{}, validationf("price must be positive")
	}
	price = price.Round(2)

	var res IPOResult
	err := s.store.WithinTx(ctx, func(tx store.Tx) error {
		c, err := ownedCompany(tx, ownerID, companyName)
		if err != nil {
			return err
		}
		if c.IsPublic {
			return statef("company %q is already public", companyName)
		}

		ownerShares := totalShares * int64(ownerPercent) / 100
		available := totalShares - ownerShares
		if available <= 0 {
			return validationf("owner stake leaves no public float")
		}

		st := store.Stock{
			CompanyID:       c.ID,
			Ticker:          ticker,
			Price:           price,
			AvailableShares: available,
			TotalShares:     totalShares,
			CreatedAt:       s.now(),
		}
		if err := tx.InsertStock(&st); err != nil {
			if err == store.ErrDuplicate {
				return conflictf("ticker %s is taken", ticker)
			}
			return err
		}
		if ownerShares > 0 {
			if err := tx.PutHolding(store.Holding{UserID: ownerID, StockID: st.ID, Shares: ownerShares}); err != nil {
				return err
			}
		}
		c.IsPublic = true
		if err := tx.UpdateCompany(c); err != nil {
			return err
		}
		res = IPOResult{
			Stock:       stockView(st, c.Name),
			OwnerShares: ownerShares,
		}
		return nil
	})
	if err != nil {
		return IPOResult{}, wrapStore(err)
	}
	s.metrics.Trades.WithLabelValues("ipo").Inc()
	s.log.Info("company listed", "ticker", ticker, "company", companyName, "shares", totalShares)
	return res, nil
}

// Stocks lists every tradable stock.
func (s *Service) Stocks(ctx context.Context) ([]StockView, error) {
	var out []StockView
	err := s.store.WithinTx(ctx, func(tx store.Tx) error {
		stocks, err := tx.ListStocks()
		if err != nil {
			return err
		}
		out = out[:0]
		for _, st := range stocks {
			c, err := tx.GetCompany(st.CompanyID)
			if err != nil {
				return err
			}
			out = append(out, stockView(st, c.Name))
		}
		return nil
	})
	return out, wrapStore(err)
}

// Quote returns one stock by ticker.
func (s *Service) Quote(ctx context.Context, ticker string) (StockView, error) {
	var out StockView
	err := s.store.WithinTx(ctx, func(tx store.Tx) error {
		st, err := tx.GetStock(ticker)
		if err != nil {
			if err == store.ErrNotFound {
				return notFoundf("ticker %s", ticker)
			}
			return err
		}
		c, err := tx.GetCompany(st.CompanyID)
		if err != nil {
			return err
		}
		out = stockView(st, c.Name)
		return nil
	})
	return out, wrapStore(err)
}

// Buy purchases shares from the public float.
func (s *Service) Buy(ctx context.Context, userID, ticker string, amount int64) (TradeResult, error) {
	if amount <= 0 {
		return TradeResult{}, validationf("amount must be positive")
	}
	set := s.settings.snapshot()

	var res TradeResult
	err := s.store.WithinTx(ctx, func(tx store.Tx) error {
		st, err := tx.GetStock(ticker)
		if err != nil {
			if err == store.ErrNotFound {
				return notFoundf("ticker %s", ticker)
			}
			return err
		}
		if err := s.gateTrade(tx, userID, st.Ticker, set); err != nil {
			return err
		}
		if amount > st.AvailableShares {
			return validationf("only %d shares available", st.AvailableShares)
		}
		a, err := s.getOrCreateAccount(tx, userID, set)
		if err != nil {
			return err
		}
		cost := st.Price.Mul(decimal.NewFromInt(amount)).Round(2)
		if a.Balance.LessThan(cost) {
			return insufficientf("balance %s, need %s", a.Balance, cost)
		}

		a.Balance = a.Balance.Sub(cost)
		st.AvailableShares -= amount
		h, err := tx.GetHolding(userID, st.ID)
		if err != nil && err != store.ErrNotFound {
			return err
		}
		h.UserID, h.StockID = userID, st.ID
		h.Shares += amount

		if err := tx.PutAccount(a); err != nil {
			return err
		}
		if err := tx.UpdateStock(st); err != nil {
			return err
		}
		if err := tx.PutHolding(h); err != nil {
			return err
		}
		res = TradeResult{Ticker: st.Ticker, Shares: amount, Price: st.Price, Cost: cost, NewBalance: a.Balance}
		return nil
	})
	if err != nil {
		return TradeResult{}, wrapStore(err)
	}
	s.metrics.Trades.WithLabelValues("buy").Inc()
	return res, nil
}

// Sell returns owned shares to the public float for cash.
func (s *Service) Sell(ctx context.Context, userID, ticker string, amount int64) (TradeResult, error) {
	if amount <= 0 {
		return TradeResult{}, validationf("amount must be positive")
	}
	set := s.settings.snapshot()

	var res TradeResult
	err := s.store.WithinTx(ctx, func(tx store.Tx) error {
		st, err := tx.GetStock(ticker)
		if err != nil {
			if err == store.ErrNotFound {
				return notFoundf("ticker %s", ticker)
			}
			return err
		}
		if err := s.gateTrade(tx, userID, st.Ticker, set); err != nil {
			return err
		}
		h, err := tx.GetHolding(userID, st.ID)
		if err != nil {
			if err == store.ErrNotFound {
				return validationf("you own no %s shares", st.Ticker)
			}
			return err
		}
		if amount > h.Shares {
			return validationf("you own %d %s shares", h.Shares, st.Ticker)
		}
		a, err := s.getOrCreateAccount(tx, userID, set)
		if err != nil {
			return err
		}

		proceeds := st.Price.Mul(decimal.NewFromInt(amount)).Round(2)
		a.Balance = a.Balance.Add(proceeds)
		st.AvailableShares += amount
		h.Shares -= amount

		if err := tx.PutAccount(a); err != nil {
			return err
		}
		if err := tx.UpdateStock(st); err != nil {
			return err
		}
		if err := tx.PutHolding(h); err != nil {
			return err
		}
		res = TradeResult{Ticker: st.Ticker, Shares: amount, Price: st.Price, Cost: proceeds, NewBalance: a.Balance}
		return nil
	})
	if err != nil {
		return TradeResult{}, wrapStore(err)
	}
	s.metrics.Trades.WithLabelValues("sell").Inc()
	return res, nil
}

// Issue dilutes: mints new shares into the float and scales the price
// down by oldTotal/newTotal. Existing holders keep their share counts.
func (s *Service) Issue(ctx context.Context, ownerID, ticker string, amount int64) (SupplyChangeResult, error) {
	if amount <= 0 || amount > maxTotalShares {
		return SupplyChangeResult{}, validationf("amount must be between 1 and %d", maxTotalShares)
	}
	var res SupplyChangeResult
	err := s.store.WithinTx(ctx, func(tx store.Tx) error {
		st, _, err := ownedStock(tx, ownerID, ticker)
		if err != nil {
			return err
		}
		if amount > maxTotalShares-st.TotalShares {
			return validationf("supply cannot exceed %d shares", maxTotalShares)
		}

		oldPrice := st.Price
		oldTotal := st.TotalShares
		st.TotalShares += amount
		st.AvailableShares += amount
		st.Price = scalePrice(oldPrice, oldTotal, st.TotalShares)

		if err := tx.UpdateStock(st); err != nil {
			return err
		}
		res = SupplyChangeResult{
			Ticker:          st.Ticker,
			SharesChanged:   amount,
			OldPrice:        oldPrice,
			NewPrice:        st.Price,
			TotalShares:     st.TotalShares,
			AvailableShares: st.AvailableShares,
		}
		return nil
	})
	if err != nil {
		return SupplyChangeResult{}, wrapStore(err)
	}
	s.metrics.Trades.WithLabelValues("issue").Inc()
	return res, nil
}

// Buyback retires shares from the float, paid for by the company
// treasury; the price scales up by oldTotal/newTotal.
func (s *Service) Buyback(ctx context.Context, ownerID, ticker string, amount int64) (SupplyChangeResult, error) {
	if amount <= 0 {
		return SupplyChangeResult{}, validationf("amount must be positive")
	}
	var res SupplyChangeResult
	err := s.store.WithinTx(ctx, func(tx store.Tx) error {
		st, c, err := ownedStock(tx, ownerID, ticker)
		if err != nil {
			return err
		}
		if amount > st.AvailableShares {
			return validationf("only %d shares in the float", st.AvailableShares)
		}
		if amount == st.TotalShares {
			return validationf("cannot buy back every share; delist instead")
		}
		cost := st.Price.Mul(decimal.NewFromInt(amount)).Round(2)
		if c.Balance.LessThan(cost) {
			return insufficientf("treasury %s, need %s", c.Balance, cost)
		}

		oldPrice := st.Price
		oldTotal := st.TotalShares
		c.Balance = c.Balance.Sub(cost)
		st.TotalShares -= amount
		st.AvailableShares -= amount
		st.Price = scalePrice(oldPrice, oldTotal, st.TotalShares)

		if err := tx.UpdateCompany(c); err != nil {
			return err
		}
		if err := tx.UpdateStock(st); err != nil {
			return err
		}
		res = SupplyChangeResult{
			Ticker:          st.Ticker,
			SharesChanged:   -amount,
			OldPrice:        oldPrice,
			NewPrice:        st.Price,
			TotalShares:     st.TotalShares,
			AvailableShares: st.AvailableShares,
		}
		return nil
	})
	if err != nil {
		return SupplyChangeResult{}, wrapStore(err)
	}
	s.metrics.Trades.WithLabelValues("buyback").Inc()
	return res, nil
}

// ReleaseShares moves shares from the owner's holding into the public
// float. No price or total-share effect.
func (s *Service) ReleaseShares(ctx context.Context, ownerID, ticker string, amount int64) (ShareMoveResult, error) {
	return s.moveOwnerShares(ctx, ownerID, ticker, amount, true)
}

// WithdrawShares pulls shares out of the float into the owner's holding.
func (s *Service) WithdrawShares(ctx context.Context, ownerID, ticker string, amount int64) (ShareMoveResult, error) {
	return s.moveOwnerShares(ctx, ownerID, ticker, amount, false)
}

func (s *Service) moveOwnerShares(ctx context.Context, ownerID, ticker string, amount int64, release bool) (ShareMoveResult, error) {
	if amount <= 0 {
		return ShareMoveResult{}, validationf("amount must be positive")
	}
	var res ShareMoveResult
	err := s.store.WithinTx(ctx, func(tx store.Tx) error {
		st, _, err := ownedStock(tx, ownerID, ticker)
		if err != nil {
			return err
		}
		h, err := tx.GetHolding(ownerID, st.ID)
		if err != nil && err != store.ErrNotFound {
			return err
		}
		h.UserID, h.StockID = ownerID, st.ID

		if release {
			if amount > h.Shares {
				return validationf("you hold %d %s shares", h.Shares, st.Ticker)
			}
			h.Shares -= amount
			st.AvailableShares += amount
		} else {
			if amount > st.AvailableShares {
				return validationf("only %d shares in the float", st.AvailableShares)
			}
			h.Shares += amount
			st.AvailableShares -= amount
		}

		if err := tx.PutHolding(h); err != nil {
			return err
		}
		if err := tx.UpdateStock(st); err != nil {
			return err
		}
		res = ShareMoveResult{
			Ticker:          st.Ticker,
			Shares:          amount,
			OwnerShares:     h.Shares,
			AvailableShares: st.AvailableShares,
		}
		return nil
	})
	return res, wrapStore(err)
}

// Short borrows shares from the float and sells them at the current
// price, minus the short fee. One open position per (user, stock).
func (s *Service) Short(ctx context.Context, userID, ticker string, amount int64) (ShortResult, error) {
	if amount <= 0 {
		return ShortResult{}, validationf("amount must be positive")
	}
	set := s.settings.snapshot()

	var res ShortResult
	err := s.store.WithinTx(ctx, func(tx store.Tx) error {
		st, err := tx.GetStock(ticker)
		if err != nil {
			if err == store.ErrNotFound {
				return notFoundf("ticker %s", ticker)
			}
			return err
		}
		if err := s.gateTrade(tx, userID, st.Ticker, set); err != nil {
			return err
		}
		if _, err := tx.GetShort(userID, st.ID); err == nil {
			return conflictf("you already have an open %s short; cover it first", st.Ticker)
		} else if err != store.ErrNotFound {
			return err
		}
		if amount > st.AvailableShares {
			return validationf("only %d shares available to borrow", st.AvailableShares)
		}
		a, err := s.getOrCreateAccount(tx, userID, set)
		if err != nil {
			return err
		}

		gross := st.Price.Mul(decimal.NewFromInt(amount))
		fee := gross.Mul(set.ShortFeeRate).Round(2)
		proceeds := gross.Sub(fee).Round(2)

		a.Balance = a.Balance.Add(proceeds)
		st.AvailableShares -= amount
		pos := store.ShortPosition{
			UserID:     userID,
			StockID:    st.ID,
			Shares:     amount,
			EntryPrice: st.Price,
			OpenedAt:   s.now(),
		}

		if err := tx.PutAccount(a); err != nil {
			return err
		}
		if err := tx.UpdateStock(st); err != nil {
			return err
		}
		if err := tx.PutShort(pos); err != nil {
			return err
		}
		res = ShortResult{
			Ticker:     st.Ticker,
			Shares:     amount,
			EntryPrice: st.Price,
			Fee:        fee,
			Proceeds:   proceeds,
			NewBalance: a.Balance,
		}
		return nil
	})
	if err != nil {
		return ShortResult{}, wrapStore(err)
	}
	s.metrics.Trades.WithLabelValues("short").Inc()
	return res, nil
}

// Cover buys back shorted shares at the current price and returns them
// to the float. The open already banked the sale proceeds, so the only
// cash movement here is the buy-back cost; PnL in the result is
// informational.
func (s *Service) Cover(ctx context.Context, userID, ticker string, amount int64) (CoverResult, error) {
	if amount <= 0 {
		return CoverResult{}, validationf("amount must be positive")
	}
	set := s.settings.snapshot()

	var res CoverResult
	err := s.store.WithinTx(ctx, func(tx store.Tx) error {
		st, err := tx.GetStock(ticker)
		if err != nil {
			if err == store.ErrNotFound {
				return notFoundf("ticker %s", ticker)
			}
			return err
		}
		if err := s.gateTrade(tx, userID, st.Ticker, set); err != nil {
			return err
		}
		pos, err := tx.GetShort(userID, st.ID)
		if err != nil {
			if err == store.ErrNotFound {
				return notFoundf("no open %s short", st.Ticker)
			}
			return err
		}
		if amount > pos.Shares {
			return validationf("position is %d shares", pos.Shares)
		}
		a, err := s.getOrCreateAccount(tx, userID, set)
		if err != nil {
			return err
		}

		cost := st.Price.Mul(decimal.NewFromInt(amount)).Round(2)
		if a.Balance.LessThan(cost) {
			return insufficientf("balance %s, need %s to cover", a.Balance, cost)
		}
		pnl := pos.EntryPrice.Sub(st.Price).Mul(decimal.NewFromInt(amount)).Round(2)

		a.Balance = a.Balance.Sub(cost)
		st.AvailableShares += amount
		pos.Shares -= amount

		if err := tx.PutAccount(a); err != nil {
			return err
		}
		if err := tx.UpdateStock(st); err != nil {
			return err
		}
		if err := tx.PutShort(pos); err != nil {
			return err
		}
		res = CoverResult{
			Ticker:          st.Ticker,
			Shares:          amount,
			EntryPrice:      pos.EntryPrice,
			CoverPrice:      st.Price,
			Cost:            cost,
			PnL:             pnl,
			RemainingShares: pos.Shares,
			NewBalance:      a.Balance,
		}
		return nil
	})
	if err != nil {
		return CoverResult{}, wrapStore(err)
	}
	s.metrics.Trades.WithLabelValues("cover").Inc()
	return res, nil
}

// Delist takes a company off the exchange: holders are paid out at the
// current price from the market, shorts are force-covered at the current
// price (the shorter keeps the entry proceeds and pays the buy-back,
// which may push them negative), then the stock and its positions are
// removed. Required before a public company can disband.
func (s *Service) Delist(ctx context.Context, ownerID, ticker string) (DelistResult, error) {
	set := s.settings.snapshot()

	var res DelistResult
	err := s.store.WithinTx(ctx, func(tx store.Tx) error {
		st, c, err := ownedStock(tx, ownerID, ticker)
		if err != nil {
			return err
		}

		res = DelistResult{Ticker: st.Ticker, Price: st.Price, TotalPayout: decimal.Zero}

		holdings, err := tx.HoldingsByStock(st.ID)
		if err != nil {
			return err
		}
		for _, h := range holdings {
			payout := st.Price.Mul(decimal.NewFromInt(h.Shares)).Round(2)
			a, err := s.getOrCreateAccount(tx, h.UserID, set)
			if err != nil {
				return err
			}
			a.Balance = a.Balance.Add(payout)
			if err := tx.PutAccount(a); err != nil {
				return err
			}
			res.HoldersPaid++
			res.TotalPayout = res.TotalPayout.Add(payout)
		}

		shorts, err := tx.ShortsByStock(st.ID)
		if err != nil {
			return err
		}
		for _, pos := range shorts {
			cost := st.Price.Mul(decimal.NewFromInt(pos.Shares)).Round(2)
			a, err := s.getOrCreateAccount(tx, pos.UserID, set)
			if err != nil {
				return err
			}
			a.Balance = a.Balance.Sub(cost)
			if err := tx.PutAccount(a); err != nil {
				return err
			}
			res.ShortsClosed++
		}

		if err := tx.DeleteStock(st.ID); err != nil {
			return err
		}
		c.IsPublic = false
		return tx.UpdateCompany(c)
	})
	if err != nil {
		return DelistResult{}, wrapStore(err)
	}
	s.metrics.Trades.WithLabelValues("delist").Inc()
	s.log.Info("company delisted", "ticker", ticker, "holders_paid", res.HoldersPaid, "shorts_closed", res.ShortsClosed)
	return res, nil
}

// Fluctuate applies a uniform random move within the configured span to
// every stock. The scheduled tick and the admin trigger share this exact
// code path; a pass never overlaps itself.
func (s *Service) Fluctuate(ctx context.Context) ([]FluctuationMove, error) {
	s.fluctuateMu.Lock()
	defer s.fluctuateMu.Unlock()

	set := s.settings.snapshot()
	span, _ := set.FluctuationSpan.Float64()

	var moves []FluctuationMove
	err := s.store.WithinTx(ctx, func(tx store.Tx) error {
		stocks, err := tx.ListStocks()
		if err != nil {
			return err
		}
		moves = moves[:0]
		for _, st := range stocks {
			delta := (s.roller.Float64()*2 - 1) * span
			oldPrice := st.Price
			st.Price = clampPrice(oldPrice.Mul(decimal.NewFromFloat(1 + delta)))
			if err := tx.UpdateStock(st); err != nil {
				return err
			}
			moves = append(moves, FluctuationMove{Ticker: st.Ticker, OldPrice: oldPrice, NewPrice: st.Price})
		}
		return nil
	})
	if err != nil {
		return nil, wrapStore(err)
	}
	s.metrics.FluctuationTicks.Inc()
	s.log.Info("market fluctuated", "stocks", len(moves))
	return moves, nil
}

// gateTrade enforces the per-(user, ticker) trade cooldown and stamps
// the new trade time in the same transaction.
func (s *Service) gateTrade(tx store.Tx, userID, ticker string, set Settings) error {
	if userID == "" {
		return validationf("user id required")
	}
	last, err := tx.LastTrade(userID, ticker)
	if err != nil {
		return err
	}
	now := s.now()
	if !last.IsZero() {
		if wait := set.TradeCooldown - now.Sub(last); wait > 0 {
			return &CooldownError{Op: "trade " + ticker, Remaining: wait}
		}
	}
	return tx.StampTrade(userID, ticker, now)
}

// ownedStock resolves a ticker and checks the caller owns the company
// behind it.
func ownedStock(tx store.Tx, ownerID, ticker string) (store.Stock, store.Company, error) {
	if ownerID == "" {
		return store.Stock{}, store.Company{}, validationf("user id required")
	}
	st, err := tx.GetStock(ticker)
	if err != nil {
		if err == store.ErrNotFound {
			return store.Stock{}, store.Company{}, notFoundf("ticker %s", ticker)
		}
		return store.Stock{}, store.Company{}, err
	}
	c, err := tx.GetCompany(st.CompanyID)
	if err != nil {
		return store.Stock{}, store.Company{}, err
	}
	if c.OwnerID != ownerID {
		return store.Stock{}, store.Company{}, validationf("you do not own %s", ticker)
	}
	return st, c, nil
}

// scalePrice recomputes a price after a supply change, keeping market
// cap constant: newPrice = oldPrice × oldTotal / newTotal.
func scalePrice(oldPrice decimal.Decimal, oldTotal, newTotal int64) decimal.Decimal {
	return clampPrice(oldPrice.Mul(decimal.NewFromInt(oldTotal)).Div(decimal.NewFromInt(newTotal)))
}

// clampPrice rounds to cents and floors at 0.01.
func clampPrice(p decimal.Decimal) decimal.Decimal {
	p = p.Round(2)
	if p.LessThan(pennyStock) {
		return pennyStock
	}
	return p
}

func stockView(st store.Stock, companyName string) StockView {
	return StockView{
		Ticker:          st.Ticker,
		CompanyID:       st.CompanyID,
		CompanyName:     companyName,
		Price:           st.Price,
		AvailableShares: st.AvailableShares,
		TotalShares:     st.TotalShares,
	}
}
