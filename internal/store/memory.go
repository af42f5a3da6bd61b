package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore implements Store with in-memory maps. Used for engine tests
// and development; not suitable for production (no persistence).
//
// WithinTx clones the whole state, runs fn against the clone and swaps it
// in on success, so rollback is total and a failed fn leaves no trace.
// The store mutex is held for the duration of a transaction, which
// serializes all access — acceptable for tests, and strictly stronger
// than the row-level isolation the Postgres store provides.
type MemoryStore struct {
	mu    sync.Mutex
	state *memState
}

type memState struct {
	accounts  map[string]Account
	companies map[int64]Company
	stocks    map[int64]Stock
	holdings  map[holdingKey]Holding
	shorts    map[holdingKey]ShortPosition
	reports   []Report
	loans     map[int64]Loan
	brackets  []TaxBracket
	cooldowns map[cooldownKey]time.Time

	nextCompanyID int64
	nextStockID   int64
	nextLoanID    int64
}

type holdingKey struct {
	UserID  string
	StockID int64
}

type cooldownKey struct {
	UserID string
	Ticker string
}

// NewMemoryStore creates an empty in-memory ledger.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: &memState{
		accounts:      make(map[string]Account),
		companies:     make(map[int64]Company),
		stocks:        make(map[int64]Stock),
		holdings:      make(map[holdingKey]Holding),
		shorts:        make(map[holdingKey]ShortPosition),
		loans:         make(map[int64]Loan),
		cooldowns:     make(map[cooldownKey]time.Time),
		nextCompanyID: 1,
		nextStockID:   1,
		nextLoanID:    1,
	}}
}

func (s *MemoryStore) WithinTx(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := s.state.clone()
	if err := fn(&memTx{state: clone}); err != nil {
		return err
	}
	s.state = clone
	return nil
}

func (st *memState) clone() *memState {
	out := &memState{
		accounts:      make(map[string]Account, len(st.accounts)),
		companies:     make(map[int64]Company, len(st.companies)),
		stocks:        make(map[int64]Stock, len(st.stocks)),
		holdings:      make(map[holdingKey]Holding, len(st.holdings)),
		shorts:        make(map[holdingKey]ShortPosition, len(st.shorts)),
		reports:       make([]Report, len(st.reports)),
		loans:         make(map[int64]Loan, len(st.loans)),
		brackets:      make([]TaxBracket, len(st.brackets)),
		cooldowns:     make(map[cooldownKey]time.Time, len(st.cooldowns)),
		nextCompanyID: st.nextCompanyID,
		nextStockID:   st.nextStockID,
		nextLoanID:    st.nextLoanID,
	}
	for k, v := range st.accounts {
		out.accounts[k] = v
	}
	for k, v := range st.companies {
		out.companies[k] = v
	}
	for k, v := range st.stocks {
		out.stocks[k] = v
	}
	for k, v := range st.holdings {
		out.holdings[k] = v
	}
	for k, v := range st.shorts {
		out.shorts[k] = v
	}
	copy(out.reports, st.reports)
	for k, v := range st.loans {
		out.loans[k] = v
	}
	copy(out.brackets, st.brackets)
	for k, v := range st.cooldowns {
		out.cooldowns[k] = v
	}
	return out
}

type memTx struct {
	state *memState
}

// --- Accounts ---

func (t *memTx) GetAccount(userID string) (Account, error) {
	a, ok := t.state.accounts[userID]
	if !ok {
		return Account{}, ErrNotFound
	}
	return a, nil
}

func (t *memTx) PutAccount(a Account) error {
	t.state.accounts[a.UserID] = a
	return nil
}

func (t *memTx) AllAccounts() ([]Account, error) {
	out := make([]Account, 0, len(t.state.accounts))
	for _, a := range t.state.accounts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

// --- Companies ---

func (t *memTx) GetCompany(id int64) (Company, error) {
	c, ok := t.state.companies[id]
	if !ok {
		return Company{}, ErrNotFound
	}
	return c, nil
}

func (t *memTx) GetCompanyByName(name string) (Company, error) {
	for _, c := range t.state.companies {
		if strings.EqualFold(c.Name, name) {
			return c, nil
		}
	}
	return Company{}, ErrNotFound
}

func (t *memTx) CompaniesByOwner(ownerID string) ([]Company, error) {
	var out []Company
	for _, c := range t.state.companies {
		if c.OwnerID == ownerID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *memTx) InsertCompany(c *Company) error {
	for _, existing := range t.state.companies {
		if strings.EqualFold(existing.Name, c.Name) {
			return ErrDuplicate
		}
	}
	c.ID = t.state.nextCompanyID
	t.state.nextCompanyID++
	t.state.companies[c.ID] = *c
	return nil
}

func (t *memTx) UpdateCompany(c Company) error {
	if _, ok := t.state.companies[c.ID]; !ok {
		return ErrNotFound
	}
	t.state.companies[c.ID] = c
	return nil
}

func (t *memTx) DeleteCompany(id int64) error {
	if _, ok := t.state.companies[id]; !ok {
		return ErrNotFound
	}
	delete(t.state.companies, id)
	return nil
}

// --- Stocks ---

func (t *memTx) GetStock(ticker string) (Stock, error) {
	for _, st := range t.state.stocks {
		if st.Ticker == ticker {
			return st, nil
		}
	}
	return Stock{}, ErrNotFound
}

func (t *memTx) GetStockByID(id int64) (Stock, error) {
	st, ok := t.state.stocks[id]
	if !ok {
		return Stock{}, ErrNotFound
	}
	return st, nil
}

func (t *memTx) GetStockByCompany(companyID int64) (Stock, error) {
	for _, st := range t.state.stocks {
		if st.CompanyID == companyID {
			return st, nil
		}
	}
	return Stock{}, ErrNotFound
}

func (t *memTx) ListStocks() ([]Stock, error) {
	out := make([]Stock, 0, len(t.state.stocks))
	for _, st := range t.state.stocks {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ticker < out[j].Ticker })
	return out, nil
}

func (t *memTx) InsertStock(st *Stock) error {
	for _, existing := range t.state.stocks {
		if existing.Ticker == st.Ticker || existing.CompanyID == st.CompanyID {
			return ErrDuplicate
		}
	}
	st.ID = t.state.nextStockID
	t.state.nextStockID++
	t.state.stocks[st.ID] = *st
	return nil
}

func (t *memTx) UpdateStock(st Stock) error {
	if _, ok := t.state.stocks[st.ID]; !ok {
		return ErrNotFound
	}
	t.state.stocks[st.ID] = st
	return nil
}

func (t *memTx) DeleteStock(id int64) error {
	st, ok := t.state.stocks[id]
	if !ok {
		return ErrNotFound
	}
	delete(t.state.stocks, id)
	for k := range t.state.holdings {
		if k.StockID == id {
			delete(t.state.holdings, k)
		}
	}
	for k := range t.state.shorts {
		if k.StockID == id {
			delete(t.state.shorts, k)
		}
	}
	for k := range t.state.cooldowns {
		if k.Ticker == st.Ticker {
			delete(t.state.cooldowns, k)
		}
	}
	return nil
}

// --- Holdings ---

func (t *memTx) GetHolding(userID string, stockID int64) (Holding, error) {
	h, ok := t.state.holdings[holdingKey{userID, stockID}]
	if !ok {
		return Holding{}, ErrNotFound
	}
	return h, nil
}

func (t *memTx) PutHolding(h Holding) error {
	key := holdingKey{h.UserID, h.StockID}
	if h.Shares == 0 {
		delete(t.state.holdings, key)
		return nil
	}
	t.state.holdings[key] = h
	return nil
}

func (t *memTx) HoldingsByUser(userID string) ([]Holding, error) {
	var out []Holding
	for k, h := range t.state.holdings {
		if k.UserID == userID {
			out = append(out, h)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StockID < out[j].StockID })
	return out, nil
}

func (t *memTx) HoldingsByStock(stockID int64) ([]Holding, error) {
	var out []Holding
	for k, h := range t.state.holdings {
		if k.StockID == stockID {
			out = append(out, h)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

// --- Short positions ---

func (t *memTx) GetShort(userID string, stockID int64) (ShortPosition, error) {
	p, ok := t.state.shorts[holdingKey{userID, stockID}]
	if !ok {
		return ShortPosition{}, ErrNotFound
	}
	return p, nil
}

func (t *memTx) PutShort(p ShortPosition) error {
	key := holdingKey{p.UserID, p.StockID}
	if p.Shares == 0 {
		delete(t.state.shorts, key)
		return nil
	}
	t.state.shorts[key] = p
	return nil
}

func (t *memTx) ShortsByUser(userID string) ([]ShortPosition, error) {
	var out []ShortPosition
	for k, p := range t.state.shorts {
		if k.UserID == userID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StockID < out[j].StockID })
	return out, nil
}

func (t *memTx) ShortsByStock(stockID int64) ([]ShortPosition, error) {
	var out []ShortPosition
	for k, p := range t.state.shorts {
		if k.StockID == stockID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

// --- Reports ---

func (t *memTx) InsertReport(r Report) error {
	items := make([]ReportItem, len(r.Items))
	copy(items, r.Items)
	r.Items = items
	t.state.reports = append(t.state.reports, r)
	return nil
}

func (t *memTx) ReportsByCompany(companyID int64, limit int) ([]Report, error) {
	var out []Report
	for i := len(t.state.reports) - 1; i >= 0; i-- {
		if t.state.reports[i].CompanyID == companyID {
			out = append(out, t.state.reports[i])
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

// --- Loans ---

func (t *memTx) GetLoan(id int64) (Loan, error) {
	l, ok := t.state.loans[id]
	if !ok {
		return Loan{}, ErrNotFound
	}
	return l, nil
}

func (t *memTx) OpenLoan(kind LoanKind, borrowerID string) (Loan, error) {
	for _, l := range t.state.loans {
		if l.Kind == kind && l.BorrowerID == borrowerID && !l.Repaid {
			return l, nil
		}
	}
	return Loan{}, ErrNotFound
}

func (t *memTx) InsertLoan(l *Loan) error {
	l.ID = t.state.nextLoanID
	t.state.nextLoanID++
	t.state.loans[l.ID] = *l
	return nil
}

func (t *memTx) UpdateLoan(l Loan) error {
	if _, ok := t.state.loans[l.ID]; !ok {
		return ErrNotFound
	}
	t.state.loans[l.ID] = l
	return nil
}

func (t *memTx) OverdueLoans(asOf time.Time) ([]Loan, error) {
	var out []Loan
	for _, l := range t.state.loans {
		if !l.Repaid && l.DueDate.Before(asOf) {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *memTx) LoansByBorrower(kind LoanKind, borrowerID string) ([]Loan, error) {
	var out []Loan
	for _, l := range t.state.loans {
		if l.Kind == kind && l.BorrowerID == borrowerID {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// --- Tax brackets ---

func (t *memTx) TaxBrackets() ([]TaxBracket, error) {
	out := make([]TaxBracket, len(t.state.brackets))
	copy(out, t.state.brackets)
	return out, nil
}

func (t *memTx) ReplaceTaxBrackets(brackets []TaxBracket) error {
	t.state.brackets = make([]TaxBracket, len(brackets))
	copy(t.state.brackets, brackets)
	return nil
}

// --- Trade cooldowns ---

func (t *memTx) LastTrade(userID, ticker string) (time.Time, error) {
	return t.state.cooldowns[cooldownKey{userID, ticker}], nil
}

func (t *memTx) StampTrade(userID, ticker string, at time.Time) error {
	t.state.cooldowns[cooldownKey{userID, ticker}] = at
	return nil
}
