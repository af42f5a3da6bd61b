// Package store is the ledger: the authoritative holder of accounts,
// companies, stocks, holdings, short positions, reports, loans, tax
// brackets, and trade cooldowns. Engines mutate state only through the
// WithinTx primitive, so a multi-step transition either fully applies or
// not at all. Implementations: PostgreSQL (source of truth) and in-memory
// (tests).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrDuplicate is returned on a uniqueness violation (ticker,
	// company name).
	ErrDuplicate = errors.New("store: duplicate")

	// ErrTxConflict is returned when a transaction could not be committed
	// after retrying serialization failures.
	ErrTxConflict = errors.New("store: transaction conflict, please retry")
)

// Account is one player's cash balance. Created lazily on first reference;
// balance may go negative only through admin adjustment.
type Account struct {
	UserID    string
	Balance   decimal.Decimal
	CreatedAt time.Time
}

// Company is a player-owned business with its own treasury.
type Company struct {
	ID               int64
	Name             string
	OwnerID          string
	Balance          decimal.Decimal
	CEOSalaryPercent int
	IsPublic         bool
	LastReportAt     *time.Time
	CreatedAt        time.Time
}

// Stock is the tradable listing of a public company, one-to-one with it.
// Invariant: TotalShares - AvailableShares equals the sum of all holdings
// plus all borrowed (shorted) shares for this stock.
type Stock struct {
	ID              int64
	CompanyID       int64
	Ticker          string
	Price           decimal.Decimal
	AvailableShares int64
	TotalShares     int64
	CreatedAt       time.Time
}

// Holding is shares owned by a user. A holding never persists at zero
// shares; it is deleted instead.
type Holding struct {
	UserID  string
	StockID int64
	Shares  int64
}

// ShortPosition is an open short. At most one per (user, stock).
type ShortPosition struct {
	UserID     string
	StockID    int64
	Shares     int64
	EntryPrice decimal.Decimal
	OpenedAt   time.Time
}

// ReportItem is one sold item inside a revenue report.
type ReportItem struct {
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Dice      int             `json:"dice"`
	Revenue   decimal.Decimal `json:"revenue"`
}

// Report is an immutable record of a filed revenue report with every
// intermediate figure. Append-only.
type Report struct {
	ID             string
	CompanyID      int64
	FiledBy        string
	Items          []ReportItem
	GrossRevenue   decimal.Decimal
	ExpensePercent int
	GrossExpenses  decimal.Decimal
	GrossProfit    decimal.Decimal
	CorporateTax   decimal.Decimal
	CEOSalary      decimal.Decimal
	SalaryCapped   bool
	PersonalTax    decimal.Decimal
	CEOTakeHome    decimal.Decimal
	NetProfit      decimal.Decimal
	PriceDelta     decimal.Decimal
	EventName      string
	FiledAt        time.Time
}

// LoanKind distinguishes personal loans (borrower = user id) from company
// loans (borrower = company id rendered as a string).
type LoanKind string

const (
	LoanPersonal LoanKind = "personal"
	LoanCompany  LoanKind = "company"
)

// Loan is a personal or company loan. TotalAmount is the remaining balance
// owed: it decreases on repayment and increases when late fees accrue.
type Loan struct {
	ID             int64
	Kind           LoanKind
	BorrowerID     string
	Principal      decimal.Decimal
	InterestAmount decimal.Decimal
	TotalAmount    decimal.Decimal
	LateFees       decimal.Decimal
	DueDate        time.Time
	TakenAt        time.Time
	Repaid         bool
	RepaidAt       *time.Time
}

// TaxBracket is one slice of the progressive personal tax table.
// Max == nil marks the unbounded top bracket.
type TaxBracket struct {
	Min  decimal.Decimal  `json:"min"`
	Max  *decimal.Decimal `json:"max"`
	Rate decimal.Decimal  `json:"rate"`
}

// Store opens atomic units of work against the ledger.
type Store interface {
	// WithinTx runs fn inside a serializable transaction. If fn returns an
	// error the transaction rolls back completely; nothing fn did is
	// observable. fn may be invoked more than once when the backend
	// retries a serialization conflict, so it must not carry side effects
	// outside the Tx.
	WithinTx(ctx context.Context, fn func(Tx) error) error
}

// Tx is the set of query shapes the engines need, one method per shape.
// Reads inside a Tx see the transaction's own writes. Implementations
// lock rows that read-modify-write cycles depend on.
type Tx interface {
	// Accounts
	GetAccount(userID string) (Account, error)
	PutAccount(a Account) error
	AllAccounts() ([]Account, error)

	// Companies
	GetCompany(id int64) (Company, error)
	GetCompanyByName(name string) (Company, error)
	CompaniesByOwner(ownerID string) ([]Company, error)
	InsertCompany(c *Company) error
	UpdateCompany(c Company) error
	DeleteCompany(id int64) error

	// Stocks
	GetStock(ticker string) (Stock, error)
	GetStockByID(id int64) (Stock, error)
	GetStockByCompany(companyID int64) (Stock, error)
	ListStocks() ([]Stock, error)
	InsertStock(st *Stock) error
	UpdateStock(st Stock) error
	// DeleteStock cascades: holdings, short positions and trade cooldowns
	// for the stock are removed with it.
	DeleteStock(id int64) error

	// Holdings
	GetHolding(userID string, stockID int64) (Holding, error)
	// PutHolding upserts; zero shares deletes the row.
	PutHolding(h Holding) error
	HoldingsByUser(userID string) ([]Holding, error)
	HoldingsByStock(stockID int64) ([]Holding, error)

	// Short positions
	GetShort(userID string, stockID int64) (ShortPosition, error)
	// PutShort upserts; zero shares deletes the row.
	PutShort(p ShortPosition) error
	ShortsByUser(userID string) ([]ShortPosition, error)
	ShortsByStock(stockID int64) ([]ShortPosition, error)

	// Reports
	InsertReport(r Report) error
	ReportsByCompany(companyID int64, limit int) ([]Report, error)

	// Loans
	GetLoan(id int64) (Loan, error)
	// OpenLoan returns the single un-repaid loan for a borrower, or
	// ErrNotFound.
	OpenLoan(kind LoanKind, borrowerID string) (Loan, error)
	InsertLoan(l *Loan) error
	UpdateLoan(l Loan) error
	OverdueLoans(asOf time.Time) ([]Loan, error)
	LoansByBorrower(kind LoanKind, borrowerID string) ([]Loan, error)

	// Tax brackets
	TaxBrackets() ([]TaxBracket, error)
	ReplaceTaxBrackets(brackets []TaxBracket) error

	// Trade cooldowns. LastTrade returns the zero time when the pair has
	// never traded.
	LastTrade(userID, ticker string) (time.Time, error)
	StampTrade(userID, ticker string, at time.Time) error
}
