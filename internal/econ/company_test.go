package econ

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateCompanyRules(t *testing.T) {
	svc, _, _ := newTestService(t, nil)
	ctx := t.Context()

	_, err := svc.CreateCompany(ctx, "alice", "Acme Corp", 10)
	require.NoError(t, err)

	_, err = svc.CreateCompany(ctx, "bob", "acme corp", 10)
	assert.ErrorIs(t, err, ErrConflict, "names are case-insensitively unique")

	_, err = svc.CreateCompany(ctx, "alice", "ab", 10)
	assert.ErrorIs(t, err, ErrValidation, "too short")
	_, err = svc.CreateCompany(ctx, "alice", "Bad\nName", 10)
	assert.ErrorIs(t, err, ErrValidation)
	_, err = svc.CreateCompany(ctx, "alice", "Fine Name", 101)
	assert.ErrorIs(t, err, ErrValidation, "salary percent out of range")

	_, err = svc.CreateCompany(ctx, "alice", "Second Co", 0)
	require.NoError(t, err)
	_, err = svc.CreateCompany(ctx, "alice", "Third Co", 0)
	require.NoError(t, err)
	_, err = svc.CreateCompany(ctx, "alice", "Fourth Co", 0)
	assert.ErrorIs(t, err, ErrConflict, "three companies per owner")
}

func TestDisbandRules(t *testing.T) {
	svc, _, _ := newTestService(t, nil)
	ctx := t.Context()

	_, err := svc.CreateCompany(ctx, "alice", "Acme Corp", 10)
	require.NoError(t, err)

	err = svc.Disband(ctx, "bob", "Acme Corp")
	assert.ErrorIs(t, err, ErrValidation, "not the owner")

	_, err = svc.TakeCompanyLoan(ctx, "alice", "Acme Corp", dec("1000"))
	require.NoError(t, err)
	err = svc.Disband(ctx, "alice", "Acme Corp")
	assert.ErrorIs(t, err, ErrState, "outstanding loan blocks disband")

	_, err = svc.DepositTreasury(ctx, "alice", "Acme Corp", dec("100"))
	require.NoError(t, err)
	loans, err := svc.Loans(ctx, "alice")
	require.NoError(t, err)
	_, err = svc.RepayLoan(ctx, "alice", loans[0].ID, nil)
	require.NoError(t, err)

	require.NoError(t, svc.Disband(ctx, "alice", "Acme Corp"))
	_, err = svc.Company(ctx, "Acme Corp")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDisbandPublicCompanyBlocked(t *testing.T) {
	svc, _, _ := newTestService(t, nil)
	ctx := t.Context()
	listedCompany(t, svc)

	err := svc.Disband(ctx, "alice", "Acme Corp")
	assert.ErrorIs(t, err, ErrState, "delist comes first")

	_, err = svc.Delist(ctx, "alice", "ACME")
	require.NoError(t, err)
	assert.NoError(t, svc.Disband(ctx, "alice", "Acme Corp"))
}

func TestTreasuryMoves(t *testing.T) {
	svc, mem, _ := newTestService(t, nil)
	ctx := t.Context()
	_, err := svc.CreateCompany(ctx, "alice", "Acme Corp", 10)
	require.NoError(t, err)

	cv, err := svc.DepositTreasury(ctx, "alice", "Acme Corp", dec("10000"))
	require.NoError(t, err)
	assert.True(t, cv.Balance.Equal(dec("10000")))
	assert.True(t, balanceOf(t, mem, "alice").Equal(dec("40000")))

	_, err = svc.DepositTreasury(ctx, "alice", "Acme Corp", dec("40001"))
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	cv, err = svc.WithdrawTreasury(ctx, "alice", "Acme Corp", dec("4000"))
	require.NoError(t, err)
	assert.True(t, cv.Balance.Equal(dec("6000")))
	assert.True(t, balanceOf(t, mem, "alice").Equal(dec("44000")))

	_, err = svc.WithdrawTreasury(ctx, "alice", "Acme Corp", dec("6001"))
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	_, err = svc.DepositTreasury(ctx, "bob", "Acme Corp", dec("1"))
	assert.ErrorIs(t, err, ErrValidation, "owner only")
}

func TestSetSalaryPercent(t *testing.T) {
	svc, _, _ := newTestService(t, nil)
	ctx := t.Context()
	_, err := svc.CreateCompany(ctx, "alice", "Acme Corp", 10)
	require.NoError(t, err)

	cv, err := svc.SetSalaryPercent(ctx, "alice", "Acme Corp", 25)
	require.NoError(t, err)
	assert.Equal(t, 25, cv.CEOSalaryPercent)

	_, err = svc.SetSalaryPercent(ctx, "alice", "Acme Corp", 101)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestTransferBetweenAccounts(t *testing.T) {
	svc, _, _ := newTestService(t, nil)
	ctx := t.Context()

	res, err := svc.Transfer(ctx, "alice", "bob", dec("1234.56"))
	require.NoError(t, err)
	assert.True(t, res.From.Balance.Equal(dec("48765.44")))
	assert.True(t, res.To.Balance.Equal(dec("51234.56")))

	_, err = svc.Transfer(ctx, "alice", "alice", dec("1"))
	assert.ErrorIs(t, err, ErrValidation)
	_, err = svc.Transfer(ctx, "alice", "bob", dec("1000000"))
	assert.ErrorIs(t, err, ErrInsufficientFunds)
}

func TestLeaderboardRanksNetWorth(t *testing.T) {
	svc, _, _ := newTestService(t, nil)
	ctx := t.Context()
	listedCompany(t, svc)

	// bob converts cash to stock; his net worth is unchanged at today's
	// price. carol just holds cash.
	_, err := svc.Buy(ctx, "bob", "ACME", 10)
	require.NoError(t, err)
	_, err = svc.Account(ctx, "carol")
	require.NoError(t, err)

	entries, err := svc.Leaderboard(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	// alice holds 500 shares at $100 on top of her cash.
	assert.Equal(t, "alice", entries[0].UserID)
	assert.Equal(t, 1, entries[0].Rank)
	assert.True(t, entries[0].NetWorth.Equal(dec("100000")))
	for _, e := range entries[1:] {
		assert.True(t, e.NetWorth.Equal(dec("50000")), "%s: %s", e.UserID, e.NetWorth)
	}
}
