package econ

import (
	"context"
	"strconv"

	"github.com/shopspring/decimal"

	"mogul/internal/store"
)

// repayEpsilon is the residual below which a loan counts as fully paid.
var repayEpsilon = decimal.NewFromFloat(0.01)

func companyBorrowerID(companyID int64) string {
	return strconv.FormatInt(companyID, 10)
}

// TakePersonalLoan disburses a loan to the user's account. Interest is
// owed, not disbursed. One un-repaid personal loan per user.
func (s *Service) TakePersonalLoan(ctx context.Context, userID string, amount decimal.Decimal) (LoanView, error) {
	if userID == "" {
		return LoanView{}, validationf("user id required")
	}
	set := s.settings.snapshot()
	if err := checkLoanAmount(amount, set.MaxPersonalLoan); err != nil {
		return LoanView{}, err
	}

	var view LoanView
	err := s.store.WithinTx(ctx, func(tx store.Tx) error {
		if _, err := tx.OpenLoan(store.LoanPersonal, userID); err == nil {
			return conflictf("you already have an outstanding loan")
		} else if err != store.ErrNotFound {
			return err
		}
		a, err := s.getOrCreateAccount(tx, userID, set)
		if err != nil {
			return err
		}

		l := s.buildLoan(store.LoanPersonal, userID, amount, set)
		if err := tx.InsertLoan(&l); err != nil {
			if err == store.ErrDuplicate {
				return conflictf("you already have an outstanding loan")
			}
			return err
		}
		a.Balance = a.Balance.Add(l.Principal)
		if err := tx.PutAccount(a); err != nil {
			return err
		}
		view = loanView(l)
		return nil
	})
	if err != nil {
		return LoanView{}, wrapStore(err)
	}
	s.metrics.LoansIssued.WithLabelValues(string(store.LoanPersonal)).Inc()
	s.log.Info("personal loan issued", "user", userID, "amount", amount.String())
	return view, nil
}

// TakeCompanyLoan disburses a loan into the company treasury. One
// un-repaid loan per company.
func (s *Service) TakeCompanyLoan(ctx context.Context, ownerID, companyName string, amount decimal.Decimal) (LoanView, error) {
	set := s.settings.snapshot()
	if err := checkLoanAmount(amount, set.MaxCompanyLoan); err != nil {
		return LoanView{}, err
	}

	var view LoanView
	err := s.store.WithinTx(ctx, func(tx store.Tx) error {
		c, err := ownedCompany(tx, ownerID, companyName)
		if err != nil {
			return err
		}
		borrower := companyBorrowerID(c.ID)
		if _, err := tx.OpenLoan(store.LoanCompany, borrower); err == nil {
			return conflictf("%s already has an outstanding loan", c.Name)
		} else if err != store.ErrNotFound {
			return err
		}

		l := s.buildLoan(store.LoanCompany, borrower, amount, set)
		if err := tx.InsertLoan(&l); err != nil {
			if err == store.ErrDuplicate {
				return conflictf("%s already has an outstanding loan", c.Name)
			}
			return err
		}
		c.Balance = c.Balance.Add(l.Principal)
		if err := tx.UpdateCompany(c); err != nil {
			return err
		}
		view = loanView(l)
		return nil
	})
	if err != nil {
		return LoanView{}, wrapStore(err)
	}
	s.metrics.LoansIssued.WithLabelValues(string(store.LoanCompany)).Inc()
	s.log.Info("company loan issued", "company", companyName, "amount", amount.String())
	return view, nil
}

func checkLoanAmount(amount, limit decimal.Decimal) error {
	if amount.Sign() <= 0 {
		return validationf("amount must be positive")
	}
	if amount.GreaterThan(limit) {
		return validationf("amount exceeds the loan limit of %s", limit)
	}
	return nil
}

func (s *Service) buildLoan(kind store.LoanKind, borrowerID string, amount decimal.Decimal, set Settings) store.Loan {
	principal := amount.Round(2)
	interest := principal.Mul(set.LoanInterestRate).Round(2)
	now := s.now()
	return store.Loan{
		Kind:           kind,
		BorrowerID:     borrowerID,
		Principal:      principal,
		InterestAmount: interest,
		TotalAmount:    principal.Add(interest),
		LateFees:       decimal.Zero,
		DueDate:        now.Add(set.LoanDuration),
		TakenAt:        now,
	}
}

// RepayLoan pays down the caller's open loan. amount nil means the full
// remaining balance; overpayment is rejected. Personal loans debit the
// account, company loans debit the treasury.
func (s *Service) RepayLoan(ctx context.Context, userID string, loanID int64, amount *decimal.Decimal) (RepayResult, error) {
	if userID == "" {
		return RepayResult{}, validationf("user id required")
	}
	set := s.settings.snapshot()

	var res RepayResult
	err := s.store.WithinTx(ctx, func(tx store.Tx) error {
		l, err := tx.GetLoan(loanID)
		if err != nil {
			if err == store.ErrNotFound {
				return notFoundf("loan %d", loanID)
			}
			return err
		}
		if l.Repaid {
			return statef("loan %d is already repaid", loanID)
		}

		pay := l.TotalAmount
		if amount != nil {
			pay = amount.Round(2)
			if pay.Sign() <= 0 {
				return validationf("amount must be positive")
			}
			if pay.GreaterThan(l.TotalAmount) {
				return validationf("loan balance is %s; no overpayment", l.TotalAmount)
			}
		}

		switch l.Kind {
		case store.LoanPersonal:
			if l.BorrowerID != userID {
				return validationf("loan %d is not yours", loanID)
			}
			a, err := s.getOrCreateAccount(tx, userID, set)
			if err != nil {
				return err
			}
			if a.Balance.LessThan(pay) {
				return insufficientf("balance %s, need %s", a.Balance, pay)
			}
			a.Balance = a.Balance.Sub(pay)
			if err := tx.PutAccount(a); err != nil {
				return err
			}
		case store.LoanCompany:
			companyID, err := strconv.ParseInt(l.BorrowerID, 10, 64)
			if err != nil {
				return err
			}
			c, err := tx.GetCompany(companyID)
			if err != nil {
				return err
			}
			if c.OwnerID != userID {
				return validationf("loan %d belongs to a company you do not own", loanID)
			}
			if c.Balance.LessThan(pay) {
				return insufficientf("treasury %s, need %s", c.Balance, pay)
			}
			c.Balance = c.Balance.Sub(pay)
			if err := tx.UpdateCompany(c); err != nil {
				return err
			}
		}

		l.TotalAmount = l.TotalAmount.Sub(pay)
		if l.TotalAmount.LessThanOrEqual(repayEpsilon) {
			l.TotalAmount = decimal.Zero
			l.Repaid = true
			now := s.now()
			l.RepaidAt = &now
		}
		if err := tx.UpdateLoan(l); err != nil {
			return err
		}
		res = RepayResult{Loan: loanView(l), Paid: pay, Remaining: l.TotalAmount}
		return nil
	})
	if err != nil {
		return RepayResult{}, wrapStore(err)
	}
	s.log.Info("loan repayment", "loan", loanID, "paid", res.Paid.String(), "repaid", res.Loan.Repaid)
	return res, nil
}

// Loans lists the user's personal loans plus the loans of companies they
// own.
func (s *Service) Loans(ctx context.Context, userID string) ([]LoanView, error) {
	if userID == "" {
		return nil, validationf("user id required")
	}
	var out []LoanView
	err := s.store.WithinTx(ctx, func(tx store.Tx) error {
		out = out[:0]
		personal, err := tx.LoansByBorrower(store.LoanPersonal, userID)
		if err != nil {
			return err
		}
		for _, l := range personal {
			out = append(out, loanView(l))
		}
		companies, err := tx.CompaniesByOwner(userID)
		if err != nil {
			return err
		}
		for _, c := range companies {
			loans, err := tx.LoansByBorrower(store.LoanCompany, companyBorrowerID(c.ID))
			if err != nil {
				return err
			}
			for _, l := range loans {
				out = append(out, loanView(l))
			}
		}
		return nil
	})
	return out, wrapStore(err)
}

// AccrueLateFees sweeps overdue loans, charging lateFeeRate per full day
// overdue, capped at principal × maxLateFeeMultiplier. Fees are
// monotonic: a sweep only writes when the computed fee exceeds the
// stored one, so running twice in the same day changes nothing. The fee
// delta is added to the remaining balance, preserving prior repayments.
func (s *Service) AccrueLateFees(ctx context.Context) (int, error) {
	set := s.settings.snapshot()
	now := s.now()

	updated := 0
	err := s.store.WithinTx(ctx, func(tx store.Tx) error {
		updated = 0
		overdue, err := tx.OverdueLoans(now)
		if err != nil {
			return err
		}
		for _, l := range overdue {
			days := int64(now.Sub(l.DueDate).Hours() / 24)
			if days <= 0 {
				continue
			}
			fees := l.Principal.Mul(set.LateFeeRatePerDay).Mul(decimal.NewFromInt(days)).Round(2)
			if ceiling := l.Principal.Mul(set.MaxLateFeeMultiplier); fees.GreaterThan(ceiling) {
				fees = ceiling.Round(2)
			}
			if !fees.GreaterThan(l.LateFees) {
				continue
			}
			delta := fees.Sub(l.LateFees)
			l.LateFees = fees
			l.TotalAmount = l.TotalAmount.Add(delta)
			if err := tx.UpdateLoan(l); err != nil {
				return err
			}
			updated++
		}
		return nil
	})
	if err != nil {
		return 0, wrapStore(err)
	}
	s.metrics.LateFeeSweeps.Inc()
	if updated > 0 {
		s.log.Info("late fees accrued", "loans", updated)
	}
	return updated, nil
}

// ForgiveLoan marks a loan repaid with no balance transfer. Admin only.
func (s *Service) ForgiveLoan(ctx context.Context, loanID int64) (LoanView, error) {
	var view LoanView
	err := s.store.WithinTx(ctx, func(tx store.Tx) error {
		l, err := tx.GetLoan(loanID)
		if err != nil {
			if err == store.ErrNotFound {
				return notFoundf("loan %d", loanID)
			}
			return err
		}
		if l.Repaid {
			return statef("loan %d is already repaid", loanID)
		}
		l.TotalAmount = decimal.Zero
		l.Repaid = true
		now := s.now()
		l.RepaidAt = &now
		if err := tx.UpdateLoan(l); err != nil {
			return err
		}
		view = loanView(l)
		return nil
	})
	if err != nil {
		return LoanView{}, wrapStore(err)
	}
	s.log.Info("loan forgiven", "loan", loanID)
	return view, nil
}
