package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Postgres implements Store on top of pgx. Every WithinTx call runs at
// serializable isolation; serialization failures are retried with backoff
// before surfacing as ErrTxConflict. Row locks (FOR UPDATE) are taken by
// the getters so read-modify-write cycles on the same rows queue up
// instead of aborting each other.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres wraps a connection pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

const schema = `
CREATE SCHEMA IF NOT EXISTS ledger;

CREATE TABLE IF NOT EXISTS ledger.accounts (
	user_id    text PRIMARY KEY,
	balance    numeric(20,2) NOT NULL,
	created_at timestamptz NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS ledger.companies (
	id                 bigint GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
	name               text NOT NULL,
	owner_id           text NOT NULL,
	balance            numeric(20,2) NOT NULL DEFAULT 0,
	ceo_salary_percent int NOT NULL DEFAULT 0,
	is_public          boolean NOT NULL DEFAULT false,
	last_report_at     timestamptz,
	created_at         timestamptz NOT NULL DEFAULT now()
);
CREATE UNIQUE INDEX IF NOT EXISTS companies_name_key
	ON ledger.companies (lower(name));

CREATE TABLE IF NOT EXISTS ledger.stocks (
	id               bigint GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
	company_id       bigint NOT NULL UNIQUE REFERENCES ledger.companies (id),
	ticker           text NOT NULL UNIQUE,
	price            numeric(20,2) NOT NULL,
	available_shares bigint NOT NULL,
	total_shares     bigint NOT NULL,
	created_at       timestamptz NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS ledger.holdings (
	user_id  text NOT NULL,
	stock_id bigint NOT NULL REFERENCES ledger.stocks (id) ON DELETE CASCADE,
	shares   bigint NOT NULL,
	PRIMARY KEY (user_id, stock_id)
);

CREATE TABLE IF NOT EXISTS ledger.short_positions (
	user_id     text NOT NULL,
	stock_id    bigint NOT NULL REFERENCES ledger.stocks (id) ON DELETE CASCADE,
	shares      bigint NOT NULL,
	entry_price numeric(20,2) NOT NULL,
	opened_at   timestamptz NOT NULL,
	PRIMARY KEY (user_id, stock_id)
);

CREATE TABLE IF NOT EXISTS ledger.reports (
	id              uuid PRIMARY KEY,
	company_id      bigint NOT NULL,
	filed_by        text NOT NULL,
	items           jsonb NOT NULL,
	gross_revenue   numeric(20,2) NOT NULL,
	expense_percent int NOT NULL,
	gross_expenses  numeric(20,2) NOT NULL,
	gross_profit    numeric(20,2) NOT NULL,
	corporate_tax   numeric(20,2) NOT NULL,
	ceo_salary      numeric(20,2) NOT NULL,
	salary_capped   boolean NOT NULL,
	personal_tax    numeric(20,2) NOT NULL,
	ceo_take_home   numeric(20,2) NOT NULL,
	net_profit      numeric(20,2) NOT NULL,
	price_delta     numeric(10,6) NOT NULL,
	event_name      text NOT NULL DEFAULT '',
	filed_at        timestamptz NOT NULL
);
CREATE INDEX IF NOT EXISTS reports_company_idx
	ON ledger.reports (company_id, filed_at DESC);

CREATE TABLE IF NOT EXISTS ledger.loans (
	id              bigint GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
	kind            text NOT NULL,
	borrower_id     text NOT NULL,
	principal       numeric(20,2) NOT NULL,
	interest_amount numeric(20,2) NOT NULL,
	total_amount    numeric(20,2) NOT NULL,
	late_fees       numeric(20,2) NOT NULL DEFAULT 0,
	due_date        timestamptz NOT NULL,
	taken_at        timestamptz NOT NULL,
	repaid          boolean NOT NULL DEFAULT false,
	repaid_at       timestamptz
);
CREATE UNIQUE INDEX IF NOT EXISTS loans_one_open_idx
	ON ledger.loans (kind, borrower_id) WHERE NOT repaid;

CREATE TABLE IF NOT EXISTS ledger.tax_brackets (
	position int PRIMARY KEY,
	min      numeric(20,2) NOT NULL,
	max      numeric(20,2),
	rate     numeric(8,6) NOT NULL
);

CREATE TABLE IF NOT EXISTS ledger.trade_cooldowns (
	user_id    text NOT NULL,
	ticker     text NOT NULL,
	last_trade timestamptz NOT NULL,
	PRIMARY KEY (user_id, ticker)
);
`

// EnsureSchema creates the ledger schema and tables if missing.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, schema)
	if err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (p *Postgres) WithinTx(ctx context.Context, fn func(Tx) error) error {
	const maxAttempts = 8
	retryDelay := 75 * time.Millisecond

	for attempt := 0; attempt < maxAttempts; attempt++ {
		tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		err = func() error {
			defer tx.Rollback(ctx)
			if err := fn(&pgTx{ctx: ctx, tx: tx}); err != nil {
				return err
			}
			return tx.Commit(ctx)
		}()
		if err == nil {
			return nil
		}
		if !isSerializationError(err) {
			return err
		}
		if attempt == maxAttempts-1 {
			return ErrTxConflict
		}
		if err := sleepWithContext(ctx, retryDelay); err != nil {
			return err
		}
		if retryDelay < 1200*time.Millisecond {
			retryDelay *= 2
		}
	}
	return ErrTxConflict
}

func isSerializationError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && (pgErr.Code == "40001" || pgErr.Code == "40P01")
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type pgTx struct {
	ctx context.Context
	tx  pgx.Tx
}

// --- Accounts ---

func (t *pgTx) GetAccount(userID string) (Account, error) {
	var a Account
	err := t.tx.QueryRow(t.ctx, `
		SELECT user_id, balance, created_at
		FROM ledger.accounts
		WHERE user_id = $1
		FOR UPDATE
	`, userID).Scan(&a.UserID, &a.Balance, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Account{}, ErrNotFound
	}
	return a, err
}

func (t *pgTx) PutAccount(a Account) error {
	_, err := t.tx.Exec(t.ctx, `
		INSERT INTO ledger.accounts (user_id, balance, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE SET balance = EXCLUDED.balance
	`, a.UserID, a.Balance, a.CreatedAt)
	return err
}

func (t *pgTx) AllAccounts() ([]Account, error) {
	rows, err := t.tx.Query(t.ctx, `
		SELECT user_id, balance, created_at
		FROM ledger.accounts
		ORDER BY user_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Account
	for rows.Next() {
		var a Account
		if err := rows.Scan(&a.UserID, &a.Balance, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// --- Companies ---

const companyCols = `id, name, owner_id, balance, ceo_salary_percent, is_public, last_report_at, created_at`

func scanCompany(row pgx.Row) (Company, error) {
	var c Company
	err := row.Scan(&c.ID, &c.Name, &c.OwnerID, &c.Balance, &c.CEOSalaryPercent, &c.IsPublic, &c.LastReportAt, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Company{}, ErrNotFound
	}
	return c, err
}

func (t *pgTx) GetCompany(id int64) (Company, error) {
	return scanCompany(t.tx.QueryRow(t.ctx, `
		SELECT `+companyCols+`
		FROM ledger.companies
		WHERE id = $1
		FOR UPDATE
	`, id))
}

func (t *pgTx) GetCompanyByName(name string) (Company, error) {
	return scanCompany(t.tx.QueryRow(t.ctx, `
		SELECT `+companyCols+`
		FROM ledger.companies
		WHERE lower(name) = lower($1)
		FOR UPDATE
	`, name))
}

func (t *pgTx) CompaniesByOwner(ownerID string) ([]Company, error) {
	rows, err := t.tx.Query(t.ctx, `
		SELECT `+companyCols+`
		FROM ledger.companies
		WHERE owner_id = $1
		ORDER BY id
	`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Company
	for rows.Next() {
		c, err := scanCompany(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (t *pgTx) InsertCompany(c *Company) error {
	err := t.tx.QueryRow(t.ctx, `
		INSERT INTO ledger.companies (name, owner_id, balance, ceo_salary_percent, is_public, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, c.Name, c.OwnerID, c.Balance, c.CEOSalaryPercent, c.IsPublic, c.CreatedAt).Scan(&c.ID)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

func (t *pgTx) UpdateCompany(c Company) error {
	cmd, err := t.tx.Exec(t.ctx, `
		UPDATE ledger.companies
		SET balance = $1, ceo_salary_percent = $2, is_public = $3, last_report_at = $4
		WHERE id = $5
	`, c.Balance, c.CEOSalaryPercent, c.IsPublic, c.LastReportAt, c.ID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *pgTx) DeleteCompany(id int64) error {
	cmd, err := t.tx.Exec(t.ctx, `DELETE FROM ledger.companies WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Stocks ---

const stockCols = `id, company_id, ticker, price, available_shares, total_shares, created_at`

func scanStock(row pgx.Row) (Stock, error) {
	var st Stock
	err := row.Scan(&st.ID, &st.CompanyID, &st.Ticker, &st.Price, &st.AvailableShares, &st.TotalShares, &st.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Stock{}, ErrNotFound
	}
	return st, err
}

func (t *pgTx) GetStock(ticker string) (Stock, error) {
	return scanStock(t.tx.QueryRow(t.ctx, `
		SELECT `+stockCols+`
		FROM ledger.stocks
		WHERE ticker = $1
		FOR UPDATE
	`, ticker))
}

func (t *pgTx) GetStockByID(id int64) (Stock, error) {
	return scanStock(t.tx.QueryRow(t.ctx, `
		SELECT `+stockCols+`
		FROM ledger.stocks
		WHERE id = $1
		FOR UPDATE
	`, id))
}

func (t *pgTx) GetStockByCompany(companyID int64) (Stock, error) {
	return scanStock(t.tx.QueryRow(t.ctx, `
		SELECT `+stockCols+`
		FROM ledger.stocks
		WHERE company_id = $1
		FOR UPDATE
	`, companyID))
}

func (t *pgTx) ListStocks() ([]Stock, error) {
	rows, err := t.tx.Query(t.ctx, `
		SELECT `+stockCols+`
		FROM ledger.stocks
		ORDER BY ticker
		FOR UPDATE
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Stock
	for rows.Next() {
		st, err := scanStock(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (t *pgTx) InsertStock(st *Stock) error {
	err := t.tx.QueryRow(t.ctx, `
		INSERT INTO ledger.stocks (company_id, ticker, price, available_shares, total_shares, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, st.CompanyID, st.Ticker, st.Price, st.AvailableShares, st.TotalShares, st.CreatedAt).Scan(&st.ID)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

func (t *pgTx) UpdateStock(st Stock) error {
	cmd, err := t.tx.Exec(t.ctx, `
		UPDATE ledger.stocks
		SET price = $1, available_shares = $2, total_shares = $3
		WHERE id = $4
	`, st.Price, st.AvailableShares, st.TotalShares, st.ID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *pgTx) DeleteStock(id int64) error {
	var ticker string
	err := t.tx.QueryRow(t.ctx, `
		DELETE FROM ledger.stocks WHERE id = $1 RETURNING ticker
	`, id).Scan(&ticker)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	// Holdings and shorts cascade via FK; cooldowns are keyed by ticker.
	_, err = t.tx.Exec(t.ctx, `DELETE FROM ledger.trade_cooldowns WHERE ticker = $1`, ticker)
	return err
}

// --- Holdings ---

func (t *pgTx) GetHolding(userID string, stockID int64) (Holding, error) {
	var h Holding
	err := t.tx.QueryRow(t.ctx, `
		SELECT user_id, stock_id, shares
		FROM ledger.holdings
		WHERE user_id = $1 AND stock_id = $2
		FOR UPDATE
	`, userID, stockID).Scan(&h.UserID, &h.StockID, &h.Shares)
	if errors.Is(err, pgx.ErrNoRows) {
		return Holding{}, ErrNotFound
	}
	return h, err
}

func (t *pgTx) PutHolding(h Holding) error {
	if h.Shares == 0 {
		_, err := t.tx.Exec(t.ctx, `
			DELETE FROM ledger.holdings WHERE user_id = $1 AND stock_id = $2
		`, h.UserID, h.StockID)
		return err
	}
	_, err := t.tx.Exec(t.ctx, `
		INSERT INTO ledger.holdings (user_id, stock_id, shares)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, stock_id) DO UPDATE SET shares = EXCLUDED.shares
	`, h.UserID, h.StockID, h.Shares)
	return err
}

func (t *pgTx) HoldingsByUser(userID string) ([]Holding, error) {
	return t.queryHoldings(`
		SELECT user_id, stock_id, shares
		FROM ledger.holdings
		WHERE user_id = $1
		ORDER BY stock_id
	`, userID)
}

func (t *pgTx) HoldingsByStock(stockID int64) ([]Holding, error) {
	return t.queryHoldings(`
		SELECT user_id, stock_id, shares
		FROM ledger.holdings
		WHERE stock_id = $1
		ORDER BY user_id
		FOR UPDATE
	`, stockID)
}

func (t *pgTx) queryHoldings(query string, arg any) ([]Holding, error) {
	rows, err := t.tx.Query(t.ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Holding
	for rows.Next() {
		var h Holding
		if err := rows.Scan(&h.UserID, &h.StockID, &h.Shares); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// --- Short positions ---

func (t *pgTx) GetShort(userID string, stockID int64) (ShortPosition, error) {
	var p ShortPosition
	err := t.tx.QueryRow(t.ctx, `
		SELECT user_id, stock_id, shares, entry_price, opened_at
		FROM ledger.short_positions
		WHERE user_id = $1 AND stock_id = $2
		FOR UPDATE
	`, userID, stockID).Scan(&p.UserID, &p.StockID, &p.Shares, &p.EntryPrice, &p.OpenedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ShortPosition{}, ErrNotFound
	}
	return p, err
}

func (t *pgTx) PutShort(p ShortPosition) error {
	if p.Shares == 0 {
		_, err := t.tx.Exec(t.ctx, `
			DELETE FROM ledger.short_positions WHERE user_id = $1 AND stock_id = $2
		`, p.UserID, p.StockID)
		return err
	}
	_, err := t.tx.Exec(t.ctx, `
		INSERT INTO ledger.short_positions (user_id, stock_id, shares, entry_price, opened_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, stock_id) DO UPDATE
			SET shares = EXCLUDED.shares, entry_price = EXCLUDED.entry_price, opened_at = EXCLUDED.opened_at
	`, p.UserID, p.StockID, p.Shares, p.EntryPrice, p.OpenedAt)
	return err
}

func (t *pgTx) ShortsByUser(userID string) ([]ShortPosition, error) {
	return t.queryShorts(`
		SELECT user_id, stock_id, shares, entry_price, opened_at
		FROM ledger.short_positions
		WHERE user_id = $1
		ORDER BY stock_id
	`, userID)
}

func (t *pgTx) ShortsByStock(stockID int64) ([]ShortPosition, error) {
	return t.queryShorts(`
		SELECT user_id, stock_id, shares, entry_price, opened_at
		FROM ledger.short_positions
		WHERE stock_id = $1
		ORDER BY user_id
		FOR UPDATE
	`, stockID)
}

func (t *pgTx) queryShorts(query string, arg any) ([]ShortPosition, error) {
	rows, err := t.tx.Query(t.ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ShortPosition
	for rows.Next() {
		var p ShortPosition
		if err := rows.Scan(&p.UserID, &p.StockID, &p.Shares, &p.EntryPrice, &p.OpenedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// --- Reports ---

func (t *pgTx) InsertReport(r Report) error {
	items, err := json.Marshal(r.Items)
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(t.ctx, `
		INSERT INTO ledger.reports
			(id, company_id, filed_by, items, gross_revenue, expense_percent,
			 gross_expenses, gross_profit, corporate_tax, ceo_salary, salary_capped,
			 personal_tax, ceo_take_home, net_profit, price_delta, event_name, filed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`, r.ID, r.CompanyID, r.FiledBy, items, r.GrossRevenue, r.ExpensePercent,
		r.GrossExpenses, r.GrossProfit, r.CorporateTax, r.CEOSalary, r.SalaryCapped,
		r.PersonalTax, r.CEOTakeHome, r.NetProfit, r.PriceDelta, r.EventName, r.FiledAt)
	return err
}

func (t *pgTx) ReportsByCompany(companyID int64, limit int) ([]Report, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := t.tx.Query(t.ctx, `
		SELECT id, company_id, filed_by, items, gross_revenue, expense_percent,
		       gross_expenses, gross_profit, corporate_tax, ceo_salary, salary_capped,
		       personal_tax, ceo_take_home, net_profit, price_delta, event_name, filed_at
		FROM ledger.reports
		WHERE company_id = $1
		ORDER BY filed_at DESC
		LIMIT $2
	`, companyID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Report
	for rows.Next() {
		var r Report
		var items []byte
		if err := rows.Scan(&r.ID, &r.CompanyID, &r.FiledBy, &items, &r.GrossRevenue, &r.ExpensePercent,
			&r.GrossExpenses, &r.GrossProfit, &r.CorporateTax, &r.CEOSalary, &r.SalaryCapped,
			&r.PersonalTax, &r.CEOTakeHome, &r.NetProfit, &r.PriceDelta, &r.EventName, &r.FiledAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(items, &r.Items); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// --- Loans ---

const loanCols = `id, kind, borrower_id, principal, interest_amount, total_amount, late_fees, due_date, taken_at, repaid, repaid_at`

func scanLoan(row pgx.Row) (Loan, error) {
	var l Loan
	err := row.Scan(&l.ID, &l.Kind, &l.BorrowerID, &l.Principal, &l.InterestAmount,
		&l.TotalAmount, &l.LateFees, &l.DueDate, &l.TakenAt, &l.Repaid, &l.RepaidAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Loan{}, ErrNotFound
	}
	return l, err
}

func (t *pgTx) GetLoan(id int64) (Loan, error) {
	return scanLoan(t.tx.QueryRow(t.ctx, `
		SELECT `+loanCols+`
		FROM ledger.loans
		WHERE id = $1
		FOR UPDATE
	`, id))
}

func (t *pgTx) OpenLoan(kind LoanKind, borrowerID string) (Loan, error) {
	return scanLoan(t.tx.QueryRow(t.ctx, `
		SELECT `+loanCols+`
		FROM ledger.loans
		WHERE kind = $1 AND borrower_id = $2 AND NOT repaid
		FOR UPDATE
	`, kind, borrowerID))
}

func (t *pgTx) InsertLoan(l *Loan) error {
	err := t.tx.QueryRow(t.ctx, `
		INSERT INTO ledger.loans
			(kind, borrower_id, principal, interest_amount, total_amount, late_fees, due_date, taken_at, repaid)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, false)
		RETURNING id
	`, l.Kind, l.BorrowerID, l.Principal, l.InterestAmount, l.TotalAmount, l.LateFees, l.DueDate, l.TakenAt).Scan(&l.ID)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

func (t *pgTx) UpdateLoan(l Loan) error {
	cmd, err := t.tx.Exec(t.ctx, `
		UPDATE ledger.loans
		SET total_amount = $1, late_fees = $2, repaid = $3, repaid_at = $4
		WHERE id = $5
	`, l.TotalAmount, l.LateFees, l.Repaid, l.RepaidAt, l.ID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *pgTx) OverdueLoans(asOf time.Time) ([]Loan, error) {
	rows, err := t.tx.Query(t.ctx, `
		SELECT `+loanCols+`
		FROM ledger.loans
		WHERE NOT repaid AND due_date < $1
		ORDER BY id
		FOR UPDATE
	`, asOf)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Loan
	for rows.Next() {
		l, err := scanLoan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (t *pgTx) LoansByBorrower(kind LoanKind, borrowerID string) ([]Loan, error) {
	rows, err := t.tx.Query(t.ctx, `
		SELECT `+loanCols+`
		FROM ledger.loans
		WHERE kind = $1 AND borrower_id = $2
		ORDER BY id
	`, kind, borrowerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Loan
	for rows.Next() {
		l, err := scanLoan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// --- Tax brackets ---

func (t *pgTx) TaxBrackets() ([]TaxBracket, error) {
	rows, err := t.tx.Query(t.ctx, `
		SELECT min, max, rate
		FROM ledger.tax_brackets
		ORDER BY position
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []TaxBracket
	for rows.Next() {
		var b TaxBracket
		var max *decimal.Decimal
		if err := rows.Scan(&b.Min, &max, &b.Rate); err != nil {
			return nil, err
		}
		b.Max = max
		out = append(out, b)
	}
	return out, rows.Err()
}

func (t *pgTx) ReplaceTaxBrackets(brackets []TaxBracket) error {
	if _, err := t.tx.Exec(t.ctx, `DELETE FROM ledger.tax_brackets`); err != nil {
		return err
	}
	for i, b := range brackets {
		if _, err := t.tx.Exec(t.ctx, `
			INSERT INTO ledger.tax_brackets (position, min, max, rate)
			VALUES ($1, $2, $3, $4)
		`, i, b.Min, b.Max, b.Rate); err != nil {
			return err
		}
	}
	return nil
}

// --- Trade cooldowns ---

func (t *pgTx) LastTrade(userID, ticker string) (time.Time, error) {
	var at time.Time
	err := t.tx.QueryRow(t.ctx, `
		SELECT last_trade
		FROM ledger.trade_cooldowns
		WHERE user_id = $1 AND ticker = $2
		FOR UPDATE
	`, userID, ticker).Scan(&at)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, nil
	}
	return at, err
}

func (t *pgTx) StampTrade(userID, ticker string, at time.Time) error {
	_, err := t.tx.Exec(t.ctx, `
		INSERT INTO ledger.trade_cooldowns (user_id, ticker, last_trade)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, ticker) DO UPDATE SET last_trade = EXCLUDED.last_trade
	`, userID, ticker, at)
	return err
}
