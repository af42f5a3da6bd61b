package econ

import (
	"context"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"mogul/internal/store"
)

var companyNameRE = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9 &.\-']{2,47}$`)

// CreateCompany registers a new private company for the owner.
func (s *Service) CreateCompany(ctx context.Context, ownerID, name string, salaryPercent int) (CompanyView, error) {
	if ownerID == "" {
		return CompanyView{}, validationf("user id required")
	}
	name = strings.TrimSpace(name)
	if !companyNameRE.MatchString(name) {
		return CompanyView{}, validationf("company name must be 3-48 characters, letters, digits, spaces and &.-'")
	}
	if salaryPercent < 0 || salaryPercent > 100 {
		return CompanyView{}, validationf("salary percent must be between 0 and 100")
	}
	set := s.settings.snapshot()

	var view CompanyView
	err := s.store.WithinTx(ctx, func(tx store.Tx) error {
		if _, err := s.getOrCreateAccount(tx, ownerID, set); err != nil {
			return err
		}
		owned, err := tx.CompaniesByOwner(ownerID)
		if err != nil {
			return err
		}
		if len(owned) >= set.MaxCompaniesPerOwner {
			return conflictf("you already own %d companies (max %d)", len(owned), set.MaxCompaniesPerOwner)
		}
		c := store.Company{
			Name:             name,
			OwnerID:          ownerID,
			Balance:          decimal.Zero,
			CEOSalaryPercent: salaryPercent,
			CreatedAt:        s.now(),
		}
		if err := tx.InsertCompany(&c); err != nil {
			if err == store.ErrDuplicate {
				return conflictf("company name %q is taken", name)
			}
			return err
		}
		view = companyView(c, "")
		return nil
	})
	if err != nil {
		return CompanyView{}, wrapStore(err)
	}
	s.log.Info("company created", "owner", ownerID, "name", name)
	return view, nil
}

// Company looks a company up by name, attaching its ticker when public.
func (s *Service) Company(ctx context.Context, name string) (CompanyView, error) {
	var view CompanyView
	err := s.store.WithinTx(ctx, func(tx store.Tx) error {
		c, err := tx.GetCompanyByName(name)
		if err != nil {
			if err == store.ErrNotFound {
				return notFoundf("company %q", name)
			}
			return err
		}
		ticker := ""
		if c.IsPublic {
			st, err := tx.GetStockByCompany(c.ID)
			if err != nil {
				return err
			}
			ticker = st.Ticker
		}
		view = companyView(c, ticker)
		return nil
	})
	return view, wrapStore(err)
}

// Companies lists the companies the user owns.
func (s *Service) Companies(ctx context.Context, ownerID string) ([]CompanyView, error) {
	if ownerID == "" {
		return nil, validationf("user id required")
	}
	var out []CompanyView
	err := s.store.WithinTx(ctx, func(tx store.Tx) error {
		owned, err := tx.CompaniesByOwner(ownerID)
		if err != nil {
			return err
		}
		out = out[:0]
		for _, c := range owned {
			ticker := ""
			if c.IsPublic {
				st, err := tx.GetStockByCompany(c.ID)
				if err != nil {
					return err
				}
				ticker = st.Ticker
			}
			out = append(out, companyView(c, ticker))
		}
		return nil
	})
	return out, wrapStore(err)
}

// Disband destroys a private company. Its treasury is destroyed with it,
// not refunded. Public companies must be delisted first.
func (s *Service) Disband(ctx context.Context, ownerID, name string) error {
	err := s.store.WithinTx(ctx, func(tx store.Tx) error {
		c, err := ownedCompany(tx, ownerID, name)
		if err != nil {
			return err
		}
		if c.IsPublic {
			return statef("company %q is public; delist it before disbanding", name)
		}
		if _, err := tx.OpenLoan(store.LoanCompany, companyBorrowerID(c.ID)); err == nil {
			return statef("company %q has an outstanding loan", name)
		} else if err != store.ErrNotFound {
			return err
		}
		return tx.DeleteCompany(c.ID)
	})
	if err != nil {
		return wrapStore(err)
	}
	s.log.Info("company disbanded", "owner", ownerID, "name", name)
	return nil
}

// SetSalaryPercent updates the CEO salary fraction for future reports.
func (s *Service) SetSalaryPercent(ctx context.Context, ownerID, name string, percent int) (CompanyView, error) {
	if percent < 0 || percent > 100 {
		return CompanyView{}, validationf("salary percent must be between 0 and 100")
	}
	var view CompanyView
	err := s.store.WithinTx(ctx, func(tx store.Tx) error {
		c, err := ownedCompany(tx, ownerID, name)
		if err != nil {
			return err
		}
		c.CEOSalaryPercent = percent
		if err := tx.UpdateCompany(c); err != nil {
			return err
		}
		view = companyView(c, "")
		return nil
	})
	return view, wrapStore(err)
}

// DepositTreasury moves the owner's cash into the company treasury.
func (s *Service) DepositTreasury(ctx context.Context, ownerID, name string, amount decimal.Decimal) (CompanyView, error) {
	if amount.Sign() <= 0 {
		return CompanyView{}, validationf("amount must be positive")
	}
	amount = amount.Round(2)
	set := s.settings.snapshot()

	var view CompanyView
	err := s.store.WithinTx(ctx, func(tx store.Tx) error {
		c, err := ownedCompany(tx, ownerID, name)
		if err != nil {
			return err
		}
		a, err := s.getOrCreateAccount(tx, ownerID, set)
		if err != nil {
			return err
		}
		if a.Balance.LessThan(amount) {
			return insufficientf("balance %s, need %s", a.Balance, amount)
		}
		a.Balance = a.Balance.Sub(amount)
		c.Balance = c.Balance.Add(amount)
		if err := tx.PutAccount(a); err != nil {
			return err
		}
		if err := tx.UpdateCompany(c); err != nil {
			return err
		}
		view = companyView(c, "")
		return nil
	})
	return view, wrapStore(err)
}

// WithdrawTreasury moves company treasury back to the owner's account.
func (s *Service) WithdrawTreasury(ctx context.Context, ownerID, name string, amount decimal.Decimal) (CompanyView, error) {
	if amount.Sign() <= 0 {
		return CompanyView{}, validationf("amount must be positive")
	}
	amount = amount.Round(2)
	set := s.settings.snapshot()

	var view CompanyView
	err := s.store.WithinTx(ctx, func(tx store.Tx) error {
		c, err := ownedCompany(tx, ownerID, name)
		if err != nil {
			return err
		}
		if c.Balance.LessThan(amount) {
			return insufficientf("treasury %s, need %s", c.Balance, amount)
		}
		a, err := s.getOrCreateAccount(tx, ownerID, set)
		if err != nil {
			return err
		}
		c.Balance = c.Balance.Sub(amount)
		a.Balance = a.Balance.Add(amount)
		if err := tx.UpdateCompany(c); err != nil {
			return err
		}
		if err := tx.PutAccount(a); err != nil {
			return err
		}
		view = companyView(c, "")
		return nil
	})
	return view, wrapStore(err)
}

// Reports lists a company's filed reports, newest first.
func (s *Service) Reports(ctx context.Context, name string, limit int) ([]store.Report, error) {
	var out []store.Report
	err := s.store.WithinTx(ctx, func(tx store.Tx) error {
		c, err := tx.GetCompanyByName(name)
		if err != nil {
			if err == store.ErrNotFound {
				return notFoundf("company %q", name)
			}
			return err
		}
		out, err = tx.ReportsByCompany(c.ID, limit)
		return err
	})
	return out, wrapStore(err)
}

// ownedCompany loads a company by name and checks the caller owns it.
func ownedCompany(tx store.Tx, ownerID, name string) (store.Company, error) {
	if ownerID == "" {
		return store.Company{}, validationf("user id required")
	}
	c, err := tx.GetCompanyByName(name)
	if err != nil {
		if err == store.ErrNotFound {
			return store.Company{}, notFoundf("company %q", name)
		}
		return store.Company{}, err
	}
	if c.OwnerID != ownerID {
		return store.Company{}, validationf("you do not own %q", name)
	}
	return c, nil
}

func companyView(c store.Company, ticker string) CompanyView {
	return CompanyView{
		ID:               c.ID,
		Name:             c.Name,
		OwnerID:          c.OwnerID,
		Balance:          c.Balance,
		CEOSalaryPercent: c.CEOSalaryPercent,
		IsPublic:         c.IsPublic,
		Ticker:           ticker,
		LastReportAt:     c.LastReportAt,
		CreatedAt:        c.CreatedAt,
	}
}
