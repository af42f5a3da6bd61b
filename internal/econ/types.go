package econ

import (
	"time"

	"github.com/shopspring/decimal"

	"mogul/internal/store"
)

// Structured results returned to the dispatch layer. The engine never
// renders display text; callers format these however their surface
// requires.

type AccountView struct {
	UserID  string          `json:"user_id"`
	Balance decimal.Decimal `json:"balance"`
}

type TransferResult struct {
	From   AccountView     `json:"from"`
	To     AccountView     `json:"to"`
	Amount decimal.Decimal `json:"amount"`
}

type CompanyView struct {
	ID               int64           `json:"id"`
	Name             string          `json:"name"`
	OwnerID          string          `json:"owner_id"`
	Balance          decimal.Decimal `json:"balance"`
	CEOSalaryPercent int             `json:"ceo_salary_percent"`
	IsPublic         bool            `json:"is_public"`
	Ticker           string          `json:"ticker,omitempty"`
	LastReportAt     *time.Time      `json:"last_report_at,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
}

type StockView struct {
	Ticker          string          `json:"ticker"`
	CompanyID       int64           `json:"company_id"`
	CompanyName     string          `json:"company_name,omitempty"`
	Price           decimal.Decimal `json:"price"`
	AvailableShares int64           `json:"available_shares"`
	TotalShares     int64           `json:"total_shares"`
}

type IPOResult struct {
	Stock       StockView `json:"stock"`
	OwnerShares int64     `json:"owner_shares"`
}

type TradeResult struct {
	Ticker     string          `json:"ticker"`
	Shares     int64           `json:"shares"`
	Price      decimal.Decimal `json:"price"`
	Cost       decimal.Decimal `json:"cost"`
	NewBalance decimal.Decimal `json:"new_balance"`
}

type ShortResult struct {
	Ticker     string          `json:"ticker"`
	Shares     int64           `json:"shares"`
	EntryPrice decimal.Decimal `json:"entry_price"`
	Fee        decimal.Decimal `json:"fee"`
	Proceeds   decimal.Decimal `json:"proceeds"`
	NewBalance decimal.Decimal `json:"new_balance"`
}

type CoverResult struct {
	Ticker          string          `json:"ticker"`
	Shares          int64           `json:"shares"`
	EntryPrice      decimal.Decimal `json:"entry_price"`
	CoverPrice      decimal.Decimal `json:"cover_price"`
	Cost            decimal.Decimal `json:"cost"`
	PnL             decimal.Decimal `json:"pnl"`
	RemainingShares int64           `json:"remaining_shares"`
	NewBalance      decimal.Decimal `json:"new_balance"`
}

type ShareMoveResult struct {
	Ticker          string `json:"ticker"`
	Shares          int64  `json:"shares"`
	OwnerShares     int64  `json:"owner_shares"`
	AvailableShares int64  `json:"available_shares"`
}

type SupplyChangeResult struct {
	Ticker          string          `json:"ticker"`
	SharesChanged   int64           `json:"shares_changed"`
	OldPrice        decimal.Decimal `json:"old_price"`
	NewPrice        decimal.Decimal `json:"new_price"`
	TotalShares     int64           `json:"total_shares"`
	AvailableShares int64           `json:"available_shares"`
}

type DelistResult struct {
	Ticker       string          `json:"ticker"`
	Price        decimal.Decimal `json:"price"`
	HoldersPaid  int             `json:"holders_paid"`
	ShortsClosed int             `json:"shorts_closed"`
	TotalPayout  decimal.Decimal `json:"total_payout"`
}

type FluctuationMove struct {
	Ticker   string          `json:"ticker"`
	OldPrice decimal.Decimal `json:"old_price"`
	NewPrice decimal.Decimal `json:"new_price"`
}

type ReportResult struct {
	Report   store.Report     `json:"report"`
	TaxLines []BracketLine    `json:"tax_lines"`
	Event    *Event           `json:"event,omitempty"`
	NewPrice *decimal.Decimal `json:"new_price,omitempty"`
}

type LoanView struct {
	ID             int64           `json:"id"`
	Kind           store.LoanKind  `json:"kind"`
	BorrowerID     string          `json:"borrower_id"`
	Principal      decimal.Decimal `json:"principal"`
	InterestAmount decimal.Decimal `json:"interest_amount"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
	LateFees       decimal.Decimal `json:"late_fees"`
	DueDate        time.Time       `json:"due_date"`
	TakenAt        time.Time       `json:"taken_at"`
	Repaid         bool            `json:"repaid"`
	RepaidAt       *time.Time      `json:"repaid_at,omitempty"`
}

type RepayResult struct {
	Loan      LoanView        `json:"loan"`
	Paid      decimal.Decimal `json:"paid"`
	Remaining decimal.Decimal `json:"remaining"`
}

type HoldingView struct {
	Ticker string          `json:"ticker"`
	Shares int64           `json:"shares"`
	Price  decimal.Decimal `json:"price"`
	Value  decimal.Decimal `json:"value"`
}

type ShortView struct {
	Ticker     string          `json:"ticker"`
	Shares     int64           `json:"shares"`
	EntryPrice decimal.Decimal `json:"entry_price"`
	Price      decimal.Decimal `json:"price"`
	PnL        decimal.Decimal `json:"pnl"`
}

type PortfolioView struct {
	UserID   string          `json:"user_id"`
	Cash     decimal.Decimal `json:"cash"`
	Holdings []HoldingView   `json:"holdings"`
	Shorts   []ShortView     `json:"shorts"`
	NetWorth decimal.Decimal `json:"net_worth"`
}

type LeaderboardEntry struct {
	Rank     int             `json:"rank"`
	UserID   string          `json:"user_id"`
	Cash     decimal.Decimal `json:"cash"`
	NetWorth decimal.Decimal `json:"net_worth"`
}

func loanView(l store.Loan) LoanView {
	return LoanView{
		ID:             l.ID,
		Kind:           l.Kind,
		BorrowerID:     l.BorrowerID,
		Principal:      l.Principal,
		InterestAmount: l.InterestAmount,
		TotalAmount:    l.TotalAmount,
		LateFees:       l.LateFees,
		DueDate:        l.DueDate,
		TakenAt:        l.TakenAt,
		Repaid:         l.Repaid,
		RepaidAt:       l.RepaidAt,
	}
}
