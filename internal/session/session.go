// Package session holds in-memory state for multi-step guided dialogues:
// report filing and the IPO wizard. A session never touches the ledger;
// it only collects input until the final step hands the completed set to
// the engine for one atomic commit. Cancelling or timing out discards
// the session with no side effects.
package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"mogul/internal/econ"
)

// ReportState walks AwaitingCompany → AwaitingExpensePct →
// CollectingItems; Processing and Done live inside the engine commit.
type ReportState string

const (
	ReportAwaitingCompany    ReportState = "awaiting_company"
	ReportAwaitingExpensePct ReportState = "awaiting_expense_pct"
	ReportCollectingItems    ReportState = "collecting_items"
)

type ReportSession struct {
	UserID         string           `json:"user_id"`
	State          ReportState      `json:"state"`
	Company        string           `json:"company"`
	ExpensePercent int              `json:"expense_percent"`
	Items          []econ.ItemEntry `json:"items"`
	StartedAt      time.Time        `json:"started_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// IPOState walks the wizard steps in order.
type IPOState string

const (
	IPOAwaitingCompany  IPOState = "awaiting_company"
	IPOAwaitingTicker   IPOState = "awaiting_ticker"
	IPOAwaitingShares   IPOState = "awaiting_shares"
	IPOAwaitingOwnerPct IPOState = "awaiting_owner_pct"
	IPOAwaitingPrice    IPOState = "awaiting_price"
)

type IPOSession struct {
	UserID       string          `json:"user_id"`
	State        IPOState        `json:"state"`
	Company      string          `json:"company"`
	Ticker       string          `json:"ticker"`
	TotalShares  int64           `json:"total_shares"`
	OwnerPercent int             `json:"owner_percent"`
	Price        decimal.Decimal `json:"price"`
	StartedAt    time.Time       `json:"started_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Manager owns all live sessions, keyed by user. At most one report and
// one IPO session per user. Sessions idle past the TTL are dropped
// lazily on access and by Sweep.
type Manager struct {
	mu      sync.Mutex
	reports map[string]*ReportSession
	ipos    map[string]*IPOSession
	ttl     time.Duration
	now     func() time.Time
}

const DefaultTTL = 10 * time.Minute

func NewManager(ttl time.Duration, now func() time.Time) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if now == nil {
		now = time.Now
	}
	return &Manager{
		reports: make(map[string]*ReportSession),
		ipos:    make(map[string]*IPOSession),
		ttl:     ttl,
		now:     now,
	}
}

func conflictf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{econ.ErrConflict}, args...)...)
}

func notFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{econ.ErrNotFound}, args...)...)
}

func statef(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{econ.ErrState}, args...)...)
}

func validationf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{econ.ErrValidation}, args...)...)
}

// StartReport opens a report-filing dialogue for the user.
func (m *Manager) StartReport(userID string) (*ReportSession, error) {
	if userID == "" {
		return nil, validationf("user id required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expireLocked(userID)
	if _, ok := m.reports[userID]; ok {
		return nil, conflictf("a report session is already active; finish or cancel it")
	}
	now := m.now()
	s := &ReportSession{
		UserID:    userID,
		State:     ReportAwaitingCompany,
		StartedAt: now,
		UpdatedAt: now,
	}
	m.reports[userID] = s
	return copyReport(s), nil
}

// ReportSetCompany answers the first prompt.
func (m *Manager) ReportSetCompany(userID, company string) (*ReportSession, error) {
	return m.withReport(userID, func(s *ReportSession) error {
		if s.State != ReportAwaitingCompany {
			return statef("session is %s, not awaiting a company", s.State)
		}
		if company == "" {
			return validationf("company name required")
		}
		s.Company = company
		s.State = ReportAwaitingExpensePct
		return nil
	})
}

// ReportSetExpensePct answers the second prompt.
func (m *Manager) ReportSetExpensePct(userID string, pct int) (*ReportSession, error) {
	return m.withReport(userID, func(s *ReportSession) error {
		if s.State != ReportAwaitingExpensePct {
			return statef("session is %s, not awaiting an expense percent", s.State)
		}
		if pct < 0 || pct > 100 {
			return validationf("expense percent must be between 0 and 100")
		}
		s.ExpensePercent = pct
		s.State = ReportCollectingItems
		return nil
	})
}

// ReportAddItem appends one sold item; the dialogue stays in
// CollectingItems until FinishReport.
func (m *Manager) ReportAddItem(userID, name string, unitPrice decimal.Decimal) (*ReportSession, error) {
	return m.withReport(userID, func(s *ReportSession) error {
		if s.State != ReportCollectingItems {
			return statef("session is %s, not collecting items", s.State)
		}
		if name == "" {
			return validationf("item name required")
		}
		if unitPrice.Sign() <= 0 {
			return validationf("item price must be positive")
		}
		s.Items = append(s.Items, econ.ItemEntry{Name: name, UnitPrice: unitPrice})
		return nil
	})
}

// FinishReport checks the dialogue is complete and hands back
// everything collected. The session stays live until CompleteReport so
// a commit that fails on a transient condition can be retried without
// re-entering every item.
func (m *Manager) FinishReport(userID string) (*ReportSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expireLocked(userID)
	s, ok := m.reports[userID]
	if !ok {
		return nil, notFoundf("no active report session")
	}
	if s.State != ReportCollectingItems {
		return nil, statef("session is %s, not collecting items", s.State)
	}
	if len(s.Items) == 0 {
		return nil, validationf("report needs at least one item")
	}
	return copyReport(s), nil
}

// CompleteReport discards the dialogue once its input has been
// committed (or rejected for good).
func (m *Manager) CompleteReport(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.reports, userID)
}

// CancelReport discards the dialogue.
func (m *Manager) CancelReport(userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.reports[userID]; !ok {
		return notFoundf("no active report session")
	}
	delete(m.reports, userID)
	return nil
}

func (m *Manager) withReport(userID string, fn func(*ReportSession) error) (*ReportSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expireLocked(userID)
	s, ok := m.reports[userID]
	if !ok {
		return nil, notFoundf("no active report session")
	}
	if err := fn(s); err != nil {
		return nil, err
	}
	s.UpdatedAt = m.now()
	return copyReport(s), nil
}

// StartIPO opens the listing wizard.
func (m *Manager) StartIPO(userID string) (*IPOSession, error) {
	if userID == "" {
		return nil, validationf("user id required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expireLocked(userID)
	if _, ok := m.ipos[userID]; ok {
		return nil, conflictf("an IPO session is already active; finish or cancel it")
	}
	now := m.now()
	s := &IPOSession{
		UserID:    userID,
		State:     IPOAwaitingCompany,
		StartedAt: now,
		UpdatedAt: now,
	}
	m.ipos[userID] = s
	return copyIPO(s), nil
}

// The wizard steps run strictly in order: company, ticker, shares,
// owner percent, then price via FinishIPO.
func (m *Manager) IPOSetCompany(userID, company string) (*IPOSession, error) {
	return m.withIPO(userID, IPOAwaitingCompany, func(s *IPOSession) error {
		if company == "" {
			return validationf("company name required")
		}
		s.Company = company
		s.State = IPOAwaitingTicker
		return nil
	})
}

func (m *Manager) IPOSetTicker(userID, ticker string) (*IPOSession, error) {
	return m.withIPO(userID, IPOAwaitingTicker, func(s *IPOSession) error {
		if ticker == "" {
			return validationf("ticker required")
		}
		s.Ticker = ticker
		s.State = IPOAwaitingShares
		return nil
	})
}

func (m *Manager) IPOSetShares(userID string, shares int64) (*IPOSession, error) {
	return m.withIPO(userID, IPOAwaitingShares, func(s *IPOSession) error {
		if shares <= 0 {
			return validationf("total shares must be positive")
		}
		s.TotalShares = shares
		s.State = IPOAwaitingOwnerPct
		return nil
	})
}

func (m *Manager) IPOSetOwnerPct(userID string, pct int) (*IPOSession, error) {
	return m.withIPO(userID, IPOAwaitingOwnerPct, func(s *IPOSession) error {
		if pct <= 0 || pct >= 100 {
			return validationf("owner percent must be strictly between 0 and 100")
		}
		s.OwnerPercent = pct
		s.State = IPOAwaitingPrice
		return nil
	})
}

// FinishIPO takes the final answer (the listing price), closes the
// wizard and returns the completed session for the engine to commit.
func (m *Manager) FinishIPO(userID string, price decimal.Decimal) (*IPOSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expireLocked(userID)
	s, ok := m.ipos[userID]
	if !ok {
		return nil, notFoundf("no active IPO session")
	}
	if s.State != IPOAwaitingPrice {
		return nil, statef("session is %s, not awaiting a price", s.State)
	}
	if price.Sign() <= 0 {
		return nil, validationf("price must be positive")
	}
	s.Price = price
	delete(m.ipos, userID)
	return copyIPO(s), nil
}

// CancelIPO discards the wizard.
func (m *Manager) CancelIPO(userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.ipos[userID]; !ok {
		return notFoundf("no active IPO session")
	}
	delete(m.ipos, userID)
	return nil
}

func (m *Manager) withIPO(userID string, want IPOState, fn func(*IPOSession) error) (*IPOSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expireLocked(userID)
	s, ok := m.ipos[userID]
	if !ok {
		return nil, notFoundf("no active IPO session")
	}
	if s.State != want {
		return nil, statef("session is %s, expected %s", s.State, want)
	}
	if err := fn(s); err != nil {
		return nil, err
	}
	s.UpdatedAt = m.now()
	return copyIPO(s), nil
}

// Sweep drops every session idle past the TTL. Called periodically by
// the worker.
func (m *Manager) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := m.now().Add(-m.ttl)
	dropped := 0
	for k, s := range m.reports {
		if s.UpdatedAt.Before(cutoff) {
			delete(m.reports, k)
			dropped++
		}
	}
	for k, s := range m.ipos {
		if s.UpdatedAt.Before(cutoff) {
			delete(m.ipos, k)
			dropped++
		}
	}
	return dropped
}

// expireLocked lazily drops the user's own stale sessions.
func (m *Manager) expireLocked(userID string) {
	cutoff := m.now().Add(-m.ttl)
	if s, ok := m.reports[userID]; ok && s.UpdatedAt.Before(cutoff) {
		delete(m.reports, userID)
	}
	if s, ok := m.ipos[userID]; ok && s.UpdatedAt.Before(cutoff) {
		delete(m.ipos, userID)
	}
}

func copyReport(s *ReportSession) *ReportSession {
	out := *s
	out.Items = append([]econ.ItemEntry(nil), s.Items...)
	return &out
}

func copyIPO(s *IPOSession) *IPOSession {
	out := *s
	return &out
}
