package store

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithinTxRollsBackOnError(t *testing.T) {
	mem := NewMemoryStore()
	ctx := t.Context()
	boom := errors.New("boom")

	err := mem.WithinTx(ctx, func(tx Tx) error {
		if err := tx.PutAccount(Account{UserID: "alice", Balance: decimal.NewFromInt(100)}); err != nil {
			return err
		}
		c := Company{Name: "Acme", OwnerID: "alice"}
		if err := tx.InsertCompany(&c); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	err = mem.WithinTx(ctx, func(tx Tx) error {
		if _, err := tx.GetAccount("alice"); err != ErrNotFound {
			t.Errorf("account survived a rollback: %v", err)
		}
		if _, err := tx.GetCompanyByName("Acme"); err != ErrNotFound {
			t.Errorf("company survived a rollback: %v", err)
		}
		return nil
	})
	require.NoError(t, err)
}

func TestTxSeesItsOwnWrites(t *testing.T) {
	mem := NewMemoryStore()
	err := mem.WithinTx(t.Context(), func(tx Tx) error {
		if err := tx.PutAccount(Account{UserID: "alice", Balance: decimal.NewFromInt(1)}); err != nil {
			return err
		}
		a, err := tx.GetAccount("alice")
		if err != nil {
			return err
		}
		assert.True(t, a.Balance.Equal(decimal.NewFromInt(1)))
		return nil
	})
	require.NoError(t, err)
}

func TestInsertCompanyAssignsIDsAndRejectsDuplicates(t *testing.T) {
	mem := NewMemoryStore()
	err := mem.WithinTx(t.Context(), func(tx Tx) error {
		a := Company{Name: "Acme", OwnerID: "alice"}
		if err := tx.InsertCompany(&a); err != nil {
			return err
		}
		assert.Equal(t, int64(1), a.ID)

		b := Company{Name: "Bolt", OwnerID: "bob"}
		if err := tx.InsertCompany(&b); err != nil {
			return err
		}
		assert.Equal(t, int64(2), b.ID)

		dup := Company{Name: "ACME", OwnerID: "carol"}
		assert.ErrorIs(t, tx.InsertCompany(&dup), ErrDuplicate, "name match is case-insensitive")
		return nil
	})
	require.NoError(t, err)
}

func TestInsertStockRejectsDuplicateTicker(t *testing.T) {
	mem := NewMemoryStore()
	err := mem.WithinTx(t.Context(), func(tx Tx) error {
		c := Company{Name: "Acme", OwnerID: "alice"}
		if err := tx.InsertCompany(&c); err != nil {
			return err
		}
		st := Stock{CompanyID: c.ID, Ticker: "ACME", Price: decimal.NewFromInt(10), TotalShares: 100, AvailableShares: 100}
		if err := tx.InsertStock(&st); err != nil {
			return err
		}
		dup := Stock{CompanyID: c.ID, Ticker: "ACME", Price: decimal.NewFromInt(5), TotalShares: 1, AvailableShares: 1}
		assert.ErrorIs(t, tx.InsertStock(&dup), ErrDuplicate)
		return nil
	})
	require.NoError(t, err)
}

func TestDeleteStockCascades(t *testing.T) {
	mem := NewMemoryStore()
	ctx := t.Context()

	var stockID int64
	err := mem.WithinTx(ctx, func(tx Tx) error {
		c := Company{Name: "Acme", OwnerID: "alice"}
		if err := tx.InsertCompany(&c); err != nil {
			return err
		}
		st := Stock{CompanyID: c.ID, Ticker: "ACME", Price: decimal.NewFromInt(10), TotalShares: 100, AvailableShares: 80}
		if err := tx.InsertStock(&st); err != nil {
			return err
		}
		stockID = st.ID
		if err := tx.PutHolding(Holding{UserID: "bob", StockID: st.ID, Shares: 15}); err != nil {
			return err
		}
		if err := tx.PutShort(ShortPosition{UserID: "carol", StockID: st.ID, Shares: 5, EntryPrice: decimal.NewFromInt(10)}); err != nil {
			return err
		}
		return tx.StampTrade("bob", "ACME", time.Now())
	})
	require.NoError(t, err)

	err = mem.WithinTx(ctx, func(tx Tx) error {
		return tx.DeleteStock(stockID)
	})
	require.NoError(t, err)

	err = mem.WithinTx(ctx, func(tx Tx) error {
		if _, err := tx.GetStock("ACME"); err != ErrNotFound {
			t.Errorf("stock still present: %v", err)
		}
		if _, err := tx.GetHolding("bob", stockID); err != ErrNotFound {
			t.Errorf("holding survived the cascade: %v", err)
		}
		if _, err := tx.GetShort("carol", stockID); err != ErrNotFound {
			t.Errorf("short survived the cascade: %v", err)
		}
		last, err := tx.LastTrade("bob", "ACME")
		if err != nil {
			return err
		}
		assert.True(t, last.IsZero(), "cooldown survived the cascade")
		return nil
	})
	require.NoError(t, err)
}

func TestPutHoldingZeroSharesDeletes(t *testing.T) {
	mem := NewMemoryStore()
	err := mem.WithinTx(t.Context(), func(tx Tx) error {
		if err := tx.PutHolding(Holding{UserID: "bob", StockID: 1, Shares: 10}); err != nil {
			return err
		}
		if err := tx.PutHolding(Holding{UserID: "bob", StockID: 1, Shares: 0}); err != nil {
			return err
		}
		_, err := tx.GetHolding("bob", 1)
		assert.ErrorIs(t, err, ErrNotFound)

		holdings, err := tx.HoldingsByUser("bob")
		if err != nil {
			return err
		}
		assert.Empty(t, holdings)
		return nil
	})
	require.NoError(t, err)
}

func TestOpenLoanIgnoresRepaid(t *testing.T) {
	mem := NewMemoryStore()
	err := mem.WithinTx(t.Context(), func(tx Tx) error {
		settled := Loan{Kind: LoanPersonal, BorrowerID: "alice", Principal: decimal.NewFromInt(100), Repaid: true}
		if err := tx.InsertLoan(&settled); err != nil {
			return err
		}
		if _, err := tx.OpenLoan(LoanPersonal, "alice"); err != ErrNotFound {
			t.Errorf("repaid loan reported as open: %v", err)
		}

		open := Loan{Kind: LoanPersonal, BorrowerID: "alice", Principal: decimal.NewFromInt(200)}
		if err := tx.InsertLoan(&open); err != nil {
			return err
		}
		got, err := tx.OpenLoan(LoanPersonal, "alice")
		if err != nil {
			return err
		}
		assert.Equal(t, open.ID, got.ID)

		// Kinds are separate namespaces: company borrower "alice" is distinct.
		if _, err := tx.OpenLoan(LoanCompany, "alice"); err != ErrNotFound {
			t.Errorf("kind leaked across namespaces: %v", err)
		}
		return nil
	})
	require.NoError(t, err)
}

func TestOverdueLoans(t *testing.T) {
	mem := NewMemoryStore()
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	err := mem.WithinTx(t.Context(), func(tx Tx) error {
		overdue := Loan{Kind: LoanPersonal, BorrowerID: "a", DueDate: now.Add(-time.Hour)}
		current := Loan{Kind: LoanPersonal, BorrowerID: "b", DueDate: now.Add(time.Hour)}
		settled := Loan{Kind: LoanPersonal, BorrowerID: "c", DueDate: now.Add(-time.Hour), Repaid: true}
		for _, l := range []*Loan{&overdue, &current, &settled} {
			if err := tx.InsertLoan(l); err != nil {
				return err
			}
		}
		got, err := tx.OverdueLoans(now)
		if err != nil {
			return err
		}
		require.Len(t, got, 1)
		assert.Equal(t, "a", got[0].BorrowerID)
		return nil
	})
	require.NoError(t, err)
}

func TestReplaceTaxBrackets(t *testing.T) {
	mem := NewMemoryStore()
	err := mem.WithinTx(t.Context(), func(tx Tx) error {
		first := []TaxBracket{{Min: decimal.Zero, Rate: decimal.NewFromFloat(0.1)}}
		if err := tx.ReplaceTaxBrackets(first); err != nil {
			return err
		}
		second := []TaxBracket{
			{Min: decimal.Zero, Rate: decimal.NewFromFloat(0.05)},
			{Min: decimal.NewFromInt(1000), Rate: decimal.NewFromFloat(0.2)},
		}
		if err := tx.ReplaceTaxBrackets(second); err != nil {
			return err
		}
		got, err := tx.TaxBrackets()
		if err != nil {
			return err
		}
		require.Len(t, got, 2, "replace swaps the whole table")
		assert.True(t, got[1].Rate.Equal(decimal.NewFromFloat(0.2)))
		return nil
	})
	require.NoError(t, err)
}
