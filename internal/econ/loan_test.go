package econ

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mogul/internal/store"
)

func TestTakePersonalLoan(t *testing.T) {
	svc, mem, _ := newTestService(t, nil)
	ctx := t.Context()

	l, err := svc.TakePersonalLoan(ctx, "alice", dec("50000"))
	require.NoError(t, err)
	assert.Equal(t, store.LoanPersonal, l.Kind)
	assert.True(t, l.Principal.Equal(dec("50000")))
	assert.True(t, l.InterestAmount.Equal(dec("5000")), "10%% interest")
	assert.True(t, l.TotalAmount.Equal(dec("55000")))
	assert.Equal(t, l.TakenAt.Add(7*24*time.Hour), l.DueDate)

	// Principal is disbursed on top of the starting balance.
	assert.True(t, balanceOf(t, mem, "alice").Equal(dec("100000")))

	_, err = svc.TakePersonalLoan(ctx, "alice", dec("100"))
	assert.ErrorIs(t, err, ErrConflict, "one open loan at a time")

	_, err = svc.TakePersonalLoan(ctx, "bob", dec("100001"))
	assert.ErrorIs(t, err, ErrValidation, "over the personal limit")
	_, err = svc.TakePersonalLoan(ctx, "bob", dec("-5"))
	assert.ErrorIs(t, err, ErrValidation)
}

func TestLateFeesAccrue(t *testing.T) {
	// $50,000 at 10%: total 55,000, due in 7 days. Three full days overdue
	// at 5%/day adds 7,500, bringing the balance to 62,500.
	svc, _, clock := newTestService(t, nil)
	ctx := t.Context()

	_, err := svc.TakePersonalLoan(ctx, "alice", dec("50000"))
	require.NoError(t, err)

	clock.Advance(7*24*time.Hour + 3*24*time.Hour + time.Minute)
	n, err := svc.AccrueLateFees(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	loans, err := svc.Loans(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, loans, 1)
	assert.True(t, loans[0].LateFees.Equal(dec("7500")), "fees %s", loans[0].LateFees)
	assert.True(t, loans[0].TotalAmount.Equal(dec("62500")), "total %s", loans[0].TotalAmount)

	// A second sweep the same day is a no-op.
	n, err = svc.AccrueLateFees(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	// Fees cap at principal × 2 no matter how long the loan sits.
	clock.Advance(365 * 24 * time.Hour)
	_, err = svc.AccrueLateFees(ctx)
	require.NoError(t, err)
	loans, err = svc.Loans(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, loans[0].LateFees.Equal(dec("100000")), "fees %s", loans[0].LateFees)
	assert.True(t, loans[0].TotalAmount.Equal(dec("155000")))
}

func TestLateFeeDeltaPreservesRepayments(t *testing.T) {
	svc, _, clock := newTestService(t, nil)
	ctx := t.Context()

	l, err := svc.TakePersonalLoan(ctx, "alice", dec("1000"))
	require.NoError(t, err)

	// Pay half of the 1,100 balance before going overdue.
	half := dec("550")
	_, err = svc.RepayLoan(ctx, "alice", l.ID, &half)
	require.NoError(t, err)

	clock.Advance(8*24*time.Hour + time.Minute) // 1 full day overdue
	_, err = svc.AccrueLateFees(ctx)
	require.NoError(t, err)

	loans, err := svc.Loans(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, loans, 1)
	// 550 remaining + 1 day × 5% × 1000 = 600; the fee lands on top of the
	// paid-down balance, not the original total.
	assert.True(t, loans[0].TotalAmount.Equal(dec("600")), "total %s", loans[0].TotalAmount)
}

func TestRepayLoan(t *testing.T) {
	svc, mem, _ := newTestService(t, nil)
	ctx := t.Context()

	l, err := svc.TakePersonalLoan(ctx, "alice", dec("1000"))
	require.NoError(t, err)

	over := dec("2000")
	_, err = svc.RepayLoan(ctx, "alice", l.ID, &over)
	assert.ErrorIs(t, err, ErrValidation, "no overpayment")

	part := dec("600")
	res, err := svc.RepayLoan(ctx, "alice", l.ID, &part)
	require.NoError(t, err)
	assert.True(t, res.Remaining.Equal(dec("500")))
	assert.False(t, res.Loan.Repaid)

	// nil amount settles whatever is left.
	res, err = svc.RepayLoan(ctx, "alice", l.ID, nil)
	require.NoError(t, err)
	assert.True(t, res.Paid.Equal(dec("500")))
	assert.True(t, res.Remaining.IsZero())
	assert.True(t, res.Loan.Repaid)
	require.NotNil(t, res.Loan.RepaidAt)

	// 50,000 + 1,000 disbursed − 1,100 repaid.
	assert.True(t, balanceOf(t, mem, "alice").Equal(dec("49900")))

	_, err = svc.RepayLoan(ctx, "alice", l.ID, nil)
	assert.ErrorIs(t, err, ErrState, "already repaid")

	// A settled loan frees the slot for a new one.
	_, err = svc.TakePersonalLoan(ctx, "alice", dec("100"))
	assert.NoError(t, err)
}

func TestRepayLoanOwnership(t *testing.T) {
	svc, _, _ := newTestService(t, nil)
	ctx := t.Context()

	l, err := svc.TakePersonalLoan(ctx, "alice", dec("1000"))
	require.NoError(t, err)

	_, err = svc.RepayLoan(ctx, "bob", l.ID, nil)
	assert.ErrorIs(t, err, ErrValidation, "not bob's loan")

	_, err = svc.RepayLoan(ctx, "alice", 9999, nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCompanyLoanFlowsThroughTreasury(t *testing.T) {
	svc, mem, _ := newTestService(t, nil)
	ctx := t.Context()
	_, err := svc.CreateCompany(ctx, "alice", "Acme Corp", 10)
	require.NoError(t, err)

	_, err = svc.TakeCompanyLoan(ctx, "alice", "Acme Corp", dec("500001"))
	assert.ErrorIs(t, err, ErrValidation, "over the company limit")

	l, err := svc.TakeCompanyLoan(ctx, "alice", "Acme Corp", dec("200000"))
	require.NoError(t, err)
	assert.Equal(t, store.LoanCompany, l.Kind)
	assert.True(t, l.TotalAmount.Equal(dec("220000")))

	cv, err := svc.Company(ctx, "Acme Corp")
	require.NoError(t, err)
	assert.True(t, cv.Balance.Equal(dec("200000")), "disbursed to the treasury")
	assert.True(t, balanceOf(t, mem, "alice").Equal(dec("50000")), "owner cash untouched")

	_, err = svc.TakeCompanyLoan(ctx, "alice", "Acme Corp", dec("100"))
	assert.ErrorIs(t, err, ErrConflict)

	// The treasury holds 200,000 but owes 220,000: top it up, then settle.
	_, err = svc.RepayLoan(ctx, "alice", l.ID, nil)
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	_, err = svc.DepositTreasury(ctx, "alice", "Acme Corp", dec("20000"))
	require.NoError(t, err)
	res, err := svc.RepayLoan(ctx, "alice", l.ID, nil)
	require.NoError(t, err)
	assert.True(t, res.Loan.Repaid)

	cv, err = svc.Company(ctx, "Acme Corp")
	require.NoError(t, err)
	assert.True(t, cv.Balance.IsZero())
}

func TestRepayCompanyLoanRequiresOwner(t *testing.T) {
	svc, _, _ := newTestService(t, nil)
	ctx := t.Context()
	_, err := svc.CreateCompany(ctx, "alice", "Acme Corp", 10)
	require.NoError(t, err)
	l, err := svc.TakeCompanyLoan(ctx, "alice", "Acme Corp", dec("1000"))
	require.NoError(t, err)

	_, err = svc.RepayLoan(ctx, "bob", l.ID, nil)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestForgiveLoan(t *testing.T) {
	svc, mem, _ := newTestService(t, nil)
	ctx := t.Context()

	l, err := svc.TakePersonalLoan(ctx, "alice", dec("1000"))
	require.NoError(t, err)
	before := balanceOf(t, mem, "alice")

	view, err := svc.ForgiveLoan(ctx, l.ID)
	require.NoError(t, err)
	assert.True(t, view.Repaid)
	assert.True(t, view.TotalAmount.IsZero())
	assert.True(t, balanceOf(t, mem, "alice").Equal(before), "forgiveness moves no money")

	_, err = svc.ForgiveLoan(ctx, l.ID)
	assert.ErrorIs(t, err, ErrState)
	_, err = svc.ForgiveLoan(ctx, 9999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRepayEpsilonClosesLoan(t *testing.T) {
	svc, _, _ := newTestService(t, nil)
	ctx := t.Context()

	l, err := svc.TakePersonalLoan(ctx, "alice", dec("1000"))
	require.NoError(t, err)

	almost := dec("1099.99")
	res, err := svc.RepayLoan(ctx, "alice", l.ID, &almost)
	require.NoError(t, err)
	assert.True(t, res.Loan.Repaid, "a residual of one cent counts as settled")
	assert.True(t, res.Remaining.IsZero())
}

func TestLoansListsCompanyLoansToo(t *testing.T) {
	svc, _, _ := newTestService(t, nil)
	ctx := t.Context()
	_, err := svc.CreateCompany(ctx, "alice", "Acme Corp", 10)
	require.NoError(t, err)

	_, err = svc.TakePersonalLoan(ctx, "alice", dec("100"))
	require.NoError(t, err)
	_, err = svc.TakeCompanyLoan(ctx, "alice", "Acme Corp", dec("200"))
	require.NoError(t, err)

	loans, err := svc.Loans(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, loans, 2)
	kinds := map[store.LoanKind]bool{}
	for _, l := range loans {
		kinds[l.Kind] = true
	}
	assert.True(t, kinds[store.LoanPersonal] && kinds[store.LoanCompany])
}
