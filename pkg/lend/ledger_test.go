package lend

import (
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newLedgerFixture returns a ledger with one verified million-unit asset
// owned by alice.
func newLedgerFixture(t *testing.T) (*LoanLedger, *AssetRegistry, uint64) {
	t.Helper()

	registry := NewAssetRegistry()
	ledger := NewLoanLedger(registry, DefaultParams())

	asset, err := registry.Tokenize("alice", RealEstate, big.NewInt(1000000), "office", "NYC", "ipfs://doc", baseTime)
	require.NoError(t, err)
	require.NoError(t, registry.Verify(asset.TokenID, true))

	return ledger, registry, asset.TokenID
}

func TestCreateLoanRequest(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		ledger, registry, tokenID := newLedgerFixture(t)

		req, err := ledger.CreateLoanRequest("alice", tokenID, big.NewInt(800000), 500, 365, "expansion", baseTime)
		require.NoError(t, err)
		assert.Equal(t, uint64(1), req.RequestID)
		assert.Equal(t, RequestOpen, req.Status)

		// Collateral reserved immediately, before any funding
		asset, _ := registry.GetAsset(tokenID)
		assert.True(t, asset.IsLocked)
	})

	t.Run("ExceedsLTV", func(t *testing.T) {
		ledger, registry, tokenID := newLedgerFixture(t)

		// 90% of a 1,000,000 asset is over the 80% cap
		_, err := ledger.CreateLoanRequest("alice", tokenID, big.NewInt(900000), 500, 365, "", baseTime)
		assert.ErrorIs(t, err, ErrExceedsLTV)

		// Rejection left the asset unlocked
		asset, _ := registry.GetAsset(tokenID)
		assert.False(t, asset.IsLocked)
	})

	t.Run("LTVBoundaryIsInclusive", func(t *testing.T) {
		ledger, _, tokenID := newLedgerFixture(t)

		_, err := ledger.CreateLoanRequest("alice", tokenID, big.NewInt(800000), 500, 365, "", baseTime)
		assert.NoError(t, err)
	})

	t.Run("NotOwner", func(t *testing.T) {
		ledger, _, tokenID := newLedgerFixture(t)

		_, err := ledger.CreateLoanRequest("mallory", tokenID, big.NewInt(100000), 500, 365, "", baseTime)
		assert.ErrorIs(t, err, ErrNotOwner)
	})

	t.Run("NotVerified", func(t *testing.T) {
		registry := NewAssetRegistry()
		ledger := NewLoanLedger(registry, DefaultParams())
		asset, _ := registry.Tokenize("alice", Invoice, big.NewInt(100000), "", "", "", baseTime)

		_, err := ledger.CreateLoanRequest("alice", asset.TokenID, big.NewInt(50000), 500, 90, "", baseTime)
		assert.ErrorIs(t, err, ErrNotVerified)
	})

	t.Run("SinglePledge", func(t *testing.T) {
		ledger, _, tokenID := newLedgerFixture(t)

		_, err := ledger.CreateLoanRequest("alice", tokenID, big.NewInt(400000), 500, 365, "", baseTime)
		require.NoError(t, err)

		// A second request against the locked asset always fails
		_, err = ledger.CreateLoanRequest("alice", tokenID, big.NewInt(100000), 500, 90, "", baseTime)
		assert.ErrorIs(t, err, ErrAlreadyLocked)
	})

	t.Run("InvalidArguments", func(t *testing.T) {
		ledger, _, tokenID := newLedgerFixture(t)

		_, err := ledger.CreateLoanRequest("alice", tokenID, big.NewInt(0), 500, 365, "", baseTime)
		assert.ErrorIs(t, err, ErrInvalidValue)
		_, err = ledger.CreateLoanRequest("alice", tokenID, big.NewInt(100000), 500, 0, "", baseTime)
		assert.ErrorIs(t, err, ErrInvalidValue)
		_, err = ledger.CreateLoanRequest("alice", 99, big.NewInt(100000), 500, 365, "", baseTime)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestCancelLoanRequest(t *testing.T) {
	ledger, registry, tokenID := newLedgerFixture(t)

	req, err := ledger.CreateLoanRequest("alice", tokenID, big.NewInt(500000), 500, 180, "", baseTime)
	require.NoError(t, err)

	t.Run("OnlyBorrower", func(t *testing.T) {
		assert.ErrorIs(t, ledger.CancelLoanRequest(req.RequestID, "mallory"), ErrNotOwner)
	})

	t.Run("UnlocksCollateral", func(t *testing.T) {
		require.NoError(t, ledger.CancelLoanRequest(req.RequestID, "alice"))

		asset, _ := registry.GetAsset(tokenID)
		assert.False(t, asset.IsLocked)

		got, _ := ledger.GetLoanRequest(req.RequestID)
		assert.Equal(t, RequestCancelled, got.Status)
	})

	t.Run("OnlyWhileOpen", func(t *testing.T) {
		assert.ErrorIs(t, ledger.CancelLoanRequest(req.RequestID, "alice"), ErrAlreadyFunded)
		assert.ErrorIs(t, ledger.CancelLoanRequest(999, "alice"), ErrNotFound)
	})
}

// The registry call commits before any ledger record mutates, so a failure
// there leaves the request or loan exactly as it was.
func TestRegistryFailureLeavesLedgerUntouched(t *testing.T) {
	t.Run("CancelKeepsRequestOpen", func(t *testing.T) {
		ledger, registry, tokenID := newLedgerFixture(t)
		req, err := ledger.CreateLoanRequest("alice", tokenID, big.NewInt(500000), 500, 180, "", baseTime)
		require.NoError(t, err)

		// Break the lock out of band so the cancel's unlock fails
		require.NoError(t, registry.Unlock(tokenID))

		assert.ErrorIs(t, ledger.CancelLoanRequest(req.RequestID, "alice"), ErrNotLocked)
		got, _ := ledger.GetLoanRequest(req.RequestID)
		assert.Equal(t, RequestOpen, got.Status)
	})

	t.Run("FinalRepaymentKeepsLoanActive", func(t *testing.T) {
		ledger, registry, tokenID := newLedgerFixture(t)
		req, err := ledger.CreateLoanRequest("alice", tokenID, big.NewInt(800000), 500, 365, "", baseTime)
		require.NoError(t, err)
		loan, _, err := ledger.FundLoan(req.RequestID, "bob", big.NewInt(800000), baseTime)
		require.NoError(t, err)

		require.NoError(t, registry.Unlock(tokenID))

		_, err = ledger.RepayLoan(loan.LoanID, big.NewInt(800000), baseTime)
		assert.ErrorIs(t, err, ErrNotLocked)

		got, _ := ledger.GetLoan(loan.LoanID)
		assert.Equal(t, LoanActive, got.Status)
		assert.Equal(t, int64(0), got.TotalRepaid.Int64())
	})
}

func TestFundLoan(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		ledger, _, tokenID := newLedgerFixture(t)
		req, _ := ledger.CreateLoanRequest("alice", tokenID, big.NewInt(800000), 500, 365, "", baseTime)

		loan, fee, err := ledger.FundLoan(req.RequestID, "bob", big.NewInt(800000), baseTime)
		require.NoError(t, err)
		assert.Equal(t, uint64(1), loan.LoanID)
		assert.Equal(t, LoanActive, loan.Status)
		assert.Equal(t, "bob", loan.Lender)
		assert.Equal(t, "alice", loan.Borrower)
		assert.Equal(t, int64(800000), loan.Principal.Int64())
		assert.Equal(t, baseTime.Add(365*24*time.Hour), loan.DueDate)
		// 50 bps origination fee
		assert.Equal(t, int64(4000), fee.Int64())

		got, _ := ledger.GetLoanRequest(req.RequestID)
		assert.Equal(t, RequestFunded, got.Status)
		assert.Equal(t, uint64(1), ledger.LoansOriginated())
		assert.Equal(t, 1, ledger.ActiveLoans())
	})

	t.Run("ExactAmountOnly", func(t *testing.T) {
		ledger, _, tokenID := newLedgerFixture(t)
		req, _ := ledger.CreateLoanRequest("alice", tokenID, big.NewInt(800000), 500, 365, "", baseTime)

		_, _, err := ledger.FundLoan(req.RequestID, "bob", big.NewInt(799999), baseTime)
		assert.ErrorIs(t, err, ErrWrongAmount)
		_, _, err = ledger.FundLoan(req.RequestID, "bob", big.NewInt(800001), baseTime)
		assert.ErrorIs(t, err, ErrWrongAmount)
	})

	t.Run("OnlyOnce", func(t *testing.T) {
		ledger, _, tokenID := newLedgerFixture(t)
		req, _ := ledger.CreateLoanRequest("alice", tokenID, big.NewInt(800000), 500, 365, "", baseTime)

		_, _, err := ledger.FundLoan(req.RequestID, "bob", big.NewInt(800000), baseTime)
		require.NoError(t, err)
		_, _, err = ledger.FundLoan(req.RequestID, "carol", big.NewInt(800000), baseTime)
		assert.ErrorIs(t, err, ErrAlreadyFunded)
	})

	t.Run("NotFound", func(t *testing.T) {
		ledger, _, _ := newLedgerFixture(t)
		_, _, err := ledger.FundLoan(42, "bob", big.NewInt(100), baseTime)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("ConcurrentFundingSingleWinner", func(t *testing.T) {
		ledger, _, tokenID := newLedgerFixture(t)
		req, _ := ledger.CreateLoanRequest("alice", tokenID, big.NewInt(800000), 500, 365, "", baseTime)

		const racers = 16
		var wg sync.WaitGroup
		errs := make([]error, racers)
		for i := 0; i < racers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, _, errs[i] = ledger.FundLoan(req.RequestID, "lender", big.NewInt(800000), baseTime)
			}(i)
		}
		wg.Wait()

		wins := 0
		for _, err := range errs {
			if err == nil {
				wins++
			} else {
				assert.ErrorIs(t, err, ErrAlreadyFunded)
			}
		}
		assert.Equal(t, 1, wins)
		assert.Equal(t, uint64(1), ledger.LoansOriginated())
	})
}

func TestRepayLoan(t *testing.T) {
	fund := func(t *testing.T) (*LoanLedger, *AssetRegistry, uint64, uint64) {
		t.Helper()
		ledger, registry, tokenID := newLedgerFixture(t)
		req, _ := ledger.CreateLoanRequest("alice", tokenID, big.NewInt(800000), 500, 365, "", baseTime)
		loan, _, err := ledger.FundLoan(req.RequestID, "bob", big.NewInt(800000), baseTime)
		require.NoError(t, err)
		return ledger, registry, loan.LoanID, tokenID
	}

	t.Run("FullSettlement", func(t *testing.T) {
		ledger, registry, loanID, tokenID := fund(t)
		now := baseTime.Add(30 * 24 * time.Hour)

		owed, err := ledger.TotalOwed(loanID, now)
		require.NoError(t, err)
		assert.Equal(t, int64(803287), owed.Int64())

		remaining, err := ledger.RepayLoan(loanID, owed, now)
		require.NoError(t, err)
		assert.Equal(t, int64(0), remaining.Int64())

		loan, _ := ledger.GetLoan(loanID)
		assert.Equal(t, LoanRepaid, loan.Status)
		assert.Equal(t, now, loan.LastPaymentAt)

		asset, _ := registry.GetAsset(tokenID)
		assert.False(t, asset.IsLocked)
		assert.Equal(t, 0, ledger.ActiveLoans())
	})

	t.Run("PartialPayments", func(t *testing.T) {
		ledger, registry, loanID, tokenID := fund(t)
		now := baseTime.Add(30 * 24 * time.Hour)

		remaining, err := ledger.RepayLoan(loanID, big.NewInt(400000), now)
		require.NoError(t, err)
		assert.Equal(t, int64(403287), remaining.Int64())

		// Loan stays active, collateral stays locked
		loan, _ := ledger.GetLoan(loanID)
		assert.Equal(t, LoanActive, loan.Status)
		asset, _ := registry.GetAsset(tokenID)
		assert.True(t, asset.IsLocked)

		remaining, err = ledger.RepayLoan(loanID, big.NewInt(403287), now)
		require.NoError(t, err)
		assert.Equal(t, int64(0), remaining.Int64())

		loan, _ = ledger.GetLoan(loanID)
		assert.Equal(t, LoanRepaid, loan.Status)
		assert.Equal(t, int64(803287), loan.TotalRepaid.Int64())
	})

	t.Run("OverPaymentRejected", func(t *testing.T) {
		ledger, _, loanID, _ := fund(t)
		now := baseTime.Add(30 * 24 * time.Hour)

		_, err := ledger.RepayLoan(loanID, big.NewInt(803288), now)
		assert.ErrorIs(t, err, ErrOverPayment)

		// Rejection mutated nothing
		loan, _ := ledger.GetLoan(loanID)
		assert.Equal(t, int64(0), loan.TotalRepaid.Int64())
		assert.Equal(t, LoanActive, loan.Status)
	})

	t.Run("RepaidLoanRejectsFurtherPayments", func(t *testing.T) {
		ledger, _, loanID, _ := fund(t)

		owed, _ := ledger.TotalOwed(loanID, baseTime)
		_, err := ledger.RepayLoan(loanID, owed, baseTime)
		require.NoError(t, err)

		_, err = ledger.RepayLoan(loanID, big.NewInt(1), baseTime)
		assert.ErrorIs(t, err, ErrNotActive)
	})

	t.Run("InvalidArguments", func(t *testing.T) {
		ledger, _, loanID, _ := fund(t)

		_, err := ledger.RepayLoan(loanID, big.NewInt(0), baseTime)
		assert.ErrorIs(t, err, ErrInvalidValue)
		_, err = ledger.RepayLoan(404, big.NewInt(100), baseTime)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestGetUserLoans(t *testing.T) {
	ledger, registry, tokenID := newLedgerFixture(t)

	asset2, _ := registry.Tokenize("carol", Invoice, big.NewInt(200000), "", "", "", baseTime)
	require.NoError(t, registry.Verify(asset2.TokenID, true))

	req1, _ := ledger.CreateLoanRequest("alice", tokenID, big.NewInt(500000), 500, 365, "", baseTime)
	req2, _ := ledger.CreateLoanRequest("carol", asset2.TokenID, big.NewInt(100000), 700, 90, "", baseTime)
	ledger.FundLoan(req1.RequestID, "bob", big.NewInt(500000), baseTime)
	ledger.FundLoan(req2.RequestID, "bob", big.NewInt(100000), baseTime)

	assert.Len(t, ledger.GetUserLoans("alice"), 1)
	assert.Len(t, ledger.GetUserLoans("bob"), 2)
	assert.Len(t, ledger.GetUserLoans("carol"), 1)
	assert.Empty(t, ledger.GetUserLoans("dave"))
}
