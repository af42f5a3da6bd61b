// Package api is the HTTP face of the engine: a thin dispatch layer that
// parses input, calls one engine operation, and renders its typed result
// or error as JSON. The chat platform that normally drives the engine
// authenticates users itself, so the server trusts the X-User-ID header.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/shopspring/decimal"

	"mogul/internal/config"
	"mogul/internal/econ"
	"mogul/internal/metrics"
	"mogul/internal/session"
)

type contextKey string

const userContextKey contextKey = "user"

type Server struct {
	cfg      config.APIConfig
	log      *slog.Logger
	engine   *econ.Service
	sessions *session.Manager
	metrics  *metrics.Set
	mux      *chi.Mux
}

func New(cfg config.APIConfig, logger *slog.Logger, engine *econ.Service, sessions *session.Manager, m *metrics.Set) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if sessions == nil {
		sessions = session.NewManager(cfg.SessionTTL, nil)
	}
	s := &Server{
		cfg:      cfg,
		log:      logger,
		engine:   engine,
		sessions: sessions,
		metrics:  m,
		mux:      chi.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	r := s.mux
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	r.Route("/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(s.userMiddleware)

			r.Get("/account", s.handleAccount)
			r.Post("/account/transfer", s.handleTransfer)
			r.Get("/portfolio", s.handlePortfolio)
			r.Get("/leaderboard", s.handleLeaderboard)

			r.Post("/companies", s.handleCreateCompany)
			r.Get("/companies", s.handleMyCompanies)
			r.Get("/companies/{name}", s.handleCompany)
			r.Delete("/companies/{name}", s.handleDisband)
			r.Post("/companies/{name}/salary", s.handleSetSalary)
			r.Post("/companies/{name}/deposit", s.handleDeposit)
			r.Post("/companies/{name}/withdraw", s.handleWithdraw)
			r.Get("/companies/{name}/reports", s.handleReports)

			r.Post("/reports/session", s.handleReportStart)
			r.Post("/reports/session/company", s.handleReportCompany)
			r.Post("/reports/session/expenses", s.handleReportExpenses)
			r.Post("/reports/session/items", s.handleReportItem)
			r.Post("/reports/session/done", s.handleReportDone)
			r.Delete("/reports/session", s.handleReportCancel)

			r.Post("/ipo/session", s.handleIPOStart)
			r.Post("/ipo/session/company", s.handleIPOCompany)
			r.Post("/ipo/session/ticker", s.handleIPOTicker)
			r.Post("/ipo/session/shares", s.handleIPOShares)
			r.Post("/ipo/session/owner-percent", s.handleIPOOwnerPct)
			r.Post("/ipo/session/done", s.handleIPODone)
			r.Delete("/ipo/session", s.handleIPOCancel)

			r.Get("/stocks", s.handleStocks)
			r.Get("/stocks/{ticker}", s.handleQuote)
			r.Post("/stocks/{ticker}/buy", s.handleBuy)
			r.Post("/stocks/{ticker}/sell", s.handleSell)
			r.Post("/stocks/{ticker}/short", s.handleShort)
			r.Post("/stocks/{ticker}/cover", s.handleCover)
			r.Post("/stocks/{ticker}/issue", s.handleIssue)
			r.Post("/stocks/{ticker}/buyback", s.handleBuyback)
			r.Post("/stocks/{ticker}/release", s.handleRelease)
			r.Post("/stocks/{ticker}/withdraw", s.handleWithdrawShares)
			r.Post("/stocks/{ticker}/delist", s.handleDelist)

			r.Post("/loans/personal", s.handlePersonalLoan)
			r.Post("/loans/company", s.handleCompanyLoan)
			r.Post("/loans/{id}/repay", s.handleRepay)
			r.Get("/loans", s.handleLoans)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(s.adminMiddleware)
			r.Post("/balance", s.handleAdminAdjustBalance)
			r.Get("/settings", s.handleAdminGetSettings)
			r.Put("/settings", s.handleAdminPutSettings)
			r.Get("/tax-brackets", s.handleAdminGetBrackets)
			r.Put("/tax-brackets", s.handleAdminPutBrackets)
			r.Post("/fluctuate", s.handleAdminFluctuate)
			r.Post("/loans/{id}/forgive", s.handleAdminForgive)
		})
	})
}

func (s *Server) userMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := strings.TrimSpace(r.Header.Get("X-User-ID"))
		if userID == "" {
			writeError(w, http.StatusUnauthorized, "missing X-User-ID header")
			return
		}
		ctx := context.WithValue(r.Context(), userContextKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) adminMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.AdminToken)) != 1 {
			writeError(w, http.StatusUnauthorized, "invalid admin token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func userFrom(r *http.Request) string {
	userID, _ := r.Context().Value(userContextKey).(string)
	return userID
}

// --- Accounts ---

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	out, err := s.engine.Account(r.Context(), userFrom(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	var in struct {
		To     string          `json:"to"`
		Amount decimal.Decimal `json:"amount"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.engine.Transfer(r.Context(), userFrom(r), in.To, in.Amount)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handlePortfolio(w http.ResponseWriter, r *http.Request) {
	out, err := s.engine.Portfolio(r.Context(), userFrom(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	out, err := s.engine.Leaderboard(r.Context(), limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rows": out})
}

// --- Companies ---

func (s *Server) handleCreateCompany(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Name          string `json:"name"`
		SalaryPercent int    `json:"salary_percent"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.engine.CreateCompany(r.Context(), userFrom(r), in.Name, in.SalaryPercent)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

func (s *Server) handleMyCompanies(w http.ResponseWriter, r *http.Request) {
	out, err := s.engine.Companies(r.Context(), userFrom(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"companies": out})
}

func (s *Server) handleCompany(w http.ResponseWriter, r *http.Request) {
	out, err := s.engine.Company(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleDisband(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Disband(r.Context(), userFrom(r), chi.URLParam(r, "name")); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleSetSalary(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Percent int `json:"percent"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.engine.SetSalaryPercent(r.Context(), userFrom(r), chi.URLParam(r, "name"), in.Percent)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	s.handleTreasuryMove(w, r, s.engine.DepositTreasury)
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	s.handleTreasuryMove(w, r, s.engine.WithdrawTreasury)
}

func (s *Server) handleTreasuryMove(w http.ResponseWriter, r *http.Request, op func(context.Context, string, string, decimal.Decimal) (econ.CompanyView, error)) {
	var in struct {
		Amount decimal.Decimal `json:"amount"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := op(r.Context(), userFrom(r), chi.URLParam(r, "name"), in.Amount)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleReports(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	out, err := s.engine.Reports(r.Context(), chi.URLParam(r, "name"), limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reports": out})
}

// --- Report filing session ---

func (s *Server) handleReportStart(w http.ResponseWriter, r *http.Request) {
	out, err := s.sessions.StartReport(userFrom(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

func (s *Server) handleReportCompany(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Company string `json:"company"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	userID := userFrom(r)
	// A company on cooldown is rejected here, before the user types in
	// the rest of the dialogue; the engine re-checks at commit.
	if err := s.engine.CheckReportCooldown(r.Context(), userID, in.Company); err != nil {
		writeDomainError(w, err)
		return
	}
	out, err := s.sessions.ReportSetCompany(userID, in.Company)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleReportExpenses(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Percent int `json:"percent"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.sessions.ReportSetExpensePct(userFrom(r), in.Percent)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleReportItem(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Name      string          `json:"name"`
		UnitPrice decimal.Decimal `json:"unit_price"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.sessions.ReportAddItem(userFrom(r), in.Name, in.UnitPrice)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// handleReportDone closes the dialogue and commits it through the engine
// in one shot; the ledger is untouched until here. The session survives
// a cooldown or storage rejection so the collected items can be retried.
func (s *Server) handleReportDone(w http.ResponseWriter, r *http.Request) {
	userID := userFrom(r)
	sess, err := s.sessions.FinishReport(userID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	out, err := s.engine.FileReport(r.Context(), userID, sess.Company, sess.ExpensePercent, sess.Items)
	if err != nil {
		var cd *econ.CooldownError
		if !errors.As(err, &cd) && !errors.Is(err, econ.ErrStorage) {
			s.sessions.CompleteReport(userID)
		}
		writeDomainError(w, err)
		return
	}
	s.sessions.CompleteReport(userID)
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleReportCancel(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.CancelReport(userFrom(r)); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// --- IPO wizard ---

func (s *Server) handleIPOStart(w http.ResponseWriter, r *http.Request) {
	out, err := s.sessions.StartIPO(userFrom(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

func (s *Server) handleIPOCompany(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Company string `json:"company"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.sessions.IPOSetCompany(userFrom(r), in.Company)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleIPOTicker(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Ticker string `json:"ticker"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.sessions.IPOSetTicker(userFrom(r), in.Ticker)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleIPOShares(w http.ResponseWriter, r *http.Request) {
	var in struct {
		TotalShares int64 `json:"total_shares"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.sessions.IPOSetShares(userFrom(r), in.TotalShares)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleIPOOwnerPct(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Percent int `json:"percent"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.sessions.IPOSetOwnerPct(userFrom(r), in.Percent)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleIPODone(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Price decimal.Decimal `json:"price"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	userID := userFrom(r)
	sess, err := s.sessions.FinishIPO(userID, in.Price)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	out, err := s.engine.GoPublic(r.Context(), userID, sess.Company, sess.Ticker, sess.TotalShares, sess.OwnerPercent, sess.Price)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

func (s *Server) handleIPOCancel(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.CancelIPO(userFrom(r)); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// --- Market ---

func (s *Server) handleStocks(w http.ResponseWriter, r *http.Request) {
	out, err := s.engine.Stocks(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stocks": out})
}

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	out, err := s.engine.Quote(r.Context(), chi.URLParam(r, "ticker"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleBuy(w http.ResponseWriter, r *http.Request) {
	s.handleTrade(w, r, s.engine.Buy)
}

func (s *Server) handleSell(w http.ResponseWriter, r *http.Request) {
	s.handleTrade(w, r, s.engine.Sell)
}

func (s *Server) handleTrade(w http.ResponseWriter, r *http.Request, op func(context.Context, string, string, int64) (econ.TradeResult, error)) {
	var in struct {
		Amount int64 `json:"amount"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := op(r.Context(), userFrom(r), chi.URLParam(r, "ticker"), in.Amount)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleShort(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Amount int64 `json:"amount"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.engine.Short(r.Context(), userFrom(r), chi.URLParam(r, "ticker"), in.Amount)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCover(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Amount int64 `json:"amount"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.engine.Cover(r.Context(), userFrom(r), chi.URLParam(r, "ticker"), in.Amount)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleIssue(w http.ResponseWriter, r *http.Request) {
	s.handleSupplyChange(w, r, s.engine.Issue)
}

func (s *Server) handleBuyback(w http.ResponseWriter, r *http.Request) {
	s.handleSupplyChange(w, r, s.engine.Buyback)
}

func (s *Server) handleSupplyChange(w http.ResponseWriter, r *http.Request, op func(context.Context, string, string, int64) (econ.SupplyChangeResult, error)) {
	var in struct {
		Amount int64 `json:"amount"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := op(r.Context(), userFrom(r), chi.URLParam(r, "ticker"), in.Amount)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleRelease(w http.ResponseWriter, r *http.Request) {
	s.handleShareMove(w, r, s.engine.ReleaseShares)
}

func (s *Server) handleWithdrawShares(w http.ResponseWriter, r *http.Request) {
	s.handleShareMove(w, r, s.engine.WithdrawShares)
}

func (s *Server) handleShareMove(w http.ResponseWriter, r *http.Request, op func(context.Context, string, string, int64) (econ.ShareMoveResult, error)) {
	var in struct {
		Amount int64 `json:"amount"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := op(r.Context(), userFrom(r), chi.URLParam(r, "ticker"), in.Amount)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleDelist(w http.ResponseWriter, r *http.Request) {
	out, err := s.engine.Delist(r.Context(), userFrom(r), chi.URLParam(r, "ticker"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// --- Loans ---

func (s *Server) handlePersonalLoan(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Amount decimal.Decimal `json:"amount"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.engine.TakePersonalLoan(r.Context(), userFrom(r), in.Amount)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

func (s *Server) handleCompanyLoan(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Company string          `json:"company"`
		Amount  decimal.Decimal `json:"amount"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.engine.TakeCompanyLoan(r.Context(), userFrom(r), in.Company, in.Amount)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

func (s *Server) handleRepay(w http.ResponseWriter, r *http.Request) {
	loanID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid loan id")
		return
	}
	// An empty body means "repay in full".
	var in struct {
		Amount *decimal.Decimal `json:"amount"`
	}
	if err := decodeJSON(r, &in); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.engine.RepayLoan(r.Context(), userFrom(r), loanID, in.Amount)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleLoans(w http.ResponseWriter, r *http.Request) {
	out, err := s.engine.Loans(r.Context(), userFrom(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"loans": out})
}

// --- Admin ---

func (s *Server) handleAdminAdjustBalance(w http.ResponseWriter, r *http.Request) {
	var in struct {
		UserID string          `json:"user_id"`
		Delta  decimal.Decimal `json:"delta"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.engine.AdjustBalance(r.Context(), in.UserID, in.Delta)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAdminGetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Settings())
}

func (s *Server) handleAdminPutSettings(w http.ResponseWriter, r *http.Request) {
	var in econ.Settings
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.engine.UpdateSettings(in); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.engine.Settings())
}

func (s *Server) handleAdminGetBrackets(w http.ResponseWriter, r *http.Request) {
	out, err := s.engine.TaxBrackets(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"brackets": out})
}

func (s *Server) handleAdminPutBrackets(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Brackets []econ.Bracket `json:"brackets"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.engine.ReplaceTaxBrackets(r.Context(), in.Brackets); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleAdminFluctuate(w http.ResponseWriter, r *http.Request) {
	out, err := s.engine.Fluctuate(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"moves": out})
}

func (s *Server) handleAdminForgive(w http.ResponseWriter, r *http.Request) {
	loanID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid loan id")
		return
	}
	out, err := s.engine.ForgiveLoan(r.Context(), loanID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// writeDomainError maps the engine's error taxonomy onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	var cd *econ.CooldownError
	if errors.As(err, &cd) {
		w.Header().Set("Retry-After", strconv.Itoa(int(cd.Remaining.Seconds())+1))
		writeJSON(w, http.StatusTooManyRequests, map[string]any{
			"error":             cd.Error(),
			"remaining_seconds": cd.Remaining.Seconds(),
		})
		return
	}
	switch {
	case errors.Is(err, econ.ErrValidation), errors.Is(err, econ.ErrInsufficientFunds):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, econ.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, econ.ErrConflict), errors.Is(err, econ.ErrState):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, econ.ErrStorage):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func decodeJSON(r *http.Request, out any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(out)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": strings.TrimSpace(message)})
}

func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
