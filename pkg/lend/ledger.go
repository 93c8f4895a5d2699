package lend

import (
	"math/big"
	"sync"
	"time"
)

// LoanLedger owns every loan request and loan record and is the sole writer
// of their status fields. Collateral locks are taken through the asset
// registry inside the ledger's own critical section, so a request and its
// lock commit together.
type LoanLedger struct {
	registry *AssetRegistry
	params   Params

	requests      map[uint64]*LoanRequest
	loans         map[uint64]*Loan
	nextRequestID uint64
	nextLoanID    uint64

	loansOriginated uint64

	mu sync.RWMutex
}

// NewLoanLedger creates an empty ledger backed by the given registry.
func NewLoanLedger(registry *AssetRegistry, params Params) *LoanLedger {
	return &LoanLedger{
		registry:      registry,
		params:        params,
		requests:      make(map[uint64]*LoanRequest),
		loans:         make(map[uint64]*Loan),
		nextRequestID: 1,
		nextLoanID:    1,
	}
}

// CreateLoanRequest opens a borrow request against a verified, unlocked
// asset owned by the borrower and locks the asset immediately, so collateral
// cannot be pledged twice even before funding. The requested amount is
// capped at LTVRatioBPS of the collateral's current value.
func (l *LoanLedger) CreateLoanRequest(borrower string, collateralTokenID uint64, amount *big.Int, rateBPS, durationDays uint64, purpose string, now time.Time) (*LoanRequest, error) {
	if amount == nil || amount.Sign() <= 0 || durationDays == 0 {
		return nil, ErrInvalidValue
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	asset, err := l.registry.GetAsset(collateralTokenID)
	if err != nil {
		return nil, err
	}
	if asset.Owner != borrower {
		return nil, ErrNotOwner
	}
	if !asset.IsVerified {
		return nil, ErrNotVerified
	}
	if asset.IsLocked {
		return nil, ErrAlreadyLocked
	}

	// requested_amount <= current_value * LTV_RATIO
	maxLoan := new(big.Int).Mul(asset.CurrentValue, new(big.Int).SetUint64(l.params.LTVRatioBPS))
	maxLoan.Div(maxLoan, new(big.Int).SetUint64(l.params.BPSDenominator))
	if amount.Cmp(maxLoan) > 0 {
		return nil, ErrExceedsLTV
	}

	// The lock is the last mutation before the request record goes in; a
	// concurrent request racing for the same asset loses here.
	if err := l.registry.Lock(collateralTokenID); err != nil {
		return nil, err
	}

	req := &LoanRequest{
		RequestID:         l.nextRequestID,
		Borrower:          borrower,
		CollateralTokenID: collateralTokenID,
		RequestedAmount:   new(big.Int).Set(amount),
		InterestRateBPS:   rateBPS,
		DurationDays:      durationDays,
		Purpose:           purpose,
		Status:            RequestOpen,
		CreatedAt:         now,
	}
	l.nextRequestID++
	l.requests[req.RequestID] = req

	return copyRequest(req), nil
}

// CancelLoanRequest withdraws an unfunded request and releases the
// collateral. Only the borrower who opened the request may cancel it.
func (l *LoanLedger) CancelLoanRequest(requestID uint64, caller string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	req, ok := l.requests[requestID]
	if !ok {
		return ErrNotFound
	}
	if req.Borrower != caller {
		return ErrNotOwner
	}
	if req.Status != RequestOpen {
		return ErrAlreadyFunded
	}

	// Release the collateral before touching the request; an unlock failure
	// leaves the request untouched.
	if err := l.registry.Unlock(req.CollateralTokenID); err != nil {
		return err
	}
	req.Status = RequestCancelled
	return nil
}

// FundLoan turns an open request into an active loan. The lender must pay
// exactly the requested amount; there is no partial funding. The returned
// fee is the origination fee retained from the payout to the borrower.
func (l *LoanLedger) FundLoan(requestID uint64, lender string, paidAmount *big.Int, now time.Time) (*Loan, *big.Int, error) {
	if paidAmount == nil || paidAmount.Sign() <= 0 {
		return nil, nil, ErrInvalidValue
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	req, ok := l.requests[requestID]
	if !ok {
		return nil, nil, ErrNotFound
	}
	if req.Status != RequestOpen {
		return nil, nil, ErrAlreadyFunded
	}
	if paidAmount.Cmp(req.RequestedAmount) != 0 {
		return nil, nil, ErrWrongAmount
	}

	fee := new(big.Int).Mul(req.RequestedAmount, new(big.Int).SetUint64(l.params.OriginationFeeBPS))
	fee.Div(fee, new(big.Int).SetUint64(l.params.BPSDenominator))

	loan := &Loan{
		LoanID:            l.nextLoanID,
		RequestID:         req.RequestID,
		Borrower:          req.Borrower,
		Lender:            lender,
		CollateralTokenID: req.CollateralTokenID,
		Principal:         new(big.Int).Set(req.RequestedAmount),
		InterestRateBPS:   req.InterestRateBPS,
		DurationDays:      req.DurationDays,
		FundedAt:          now,
		DueDate:           now.Add(time.Duration(req.DurationDays) * 24 * time.Hour),
		TotalRepaid:       big.NewInt(0),
		Status:            LoanActive,
	}
	l.nextLoanID++
	l.loans[loan.LoanID] = loan
	l.loansOriginated++

	req.Status = RequestFunded

	return copyLoan(loan), fee, nil
}

// RepayLoan applies a payment to an active loan. Payments accumulate up to
// principal plus accrued interest; paying more than the outstanding debt is
// rejected outright rather than clamped or refunded. The repayment that
// clears the debt closes the loan and unlocks the collateral. Returns the
// remaining debt after the payment.
func (l *LoanLedger) RepayLoan(loanID uint64, paidAmount *big.Int, now time.Time) (*big.Int, error) {
	if paidAmount == nil || paidAmount.Sign() <= 0 {
		return nil, ErrInvalidValue
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	loan, ok := l.loans[loanID]
	if !ok {
		return nil, ErrNotFound
	}
	if loan.Status != LoanActive {
		return nil, ErrNotActive
	}

	outstanding := TotalOwed(l.params, loan, now)
	if paidAmount.Cmp(outstanding) > 0 {
		return nil, ErrOverPayment
	}

	remaining := new(big.Int).Sub(outstanding, paidAmount)
	if remaining.Sign() == 0 {
		// Unlock before mutating the loan; an unlock failure rejects the
		// payment with the loan still Active and untouched.
		if err := l.registry.Unlock(loan.CollateralTokenID); err != nil {
			return nil, err
		}
		loan.Status = LoanRepaid
	}

	loan.TotalRepaid.Add(loan.TotalRepaid, paidAmount)
	loan.LastPaymentAt = now

	return remaining, nil
}

// GetLoan returns a copy of a loan record.
func (l *LoanLedger) GetLoan(loanID uint64) (*Loan, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	loan, ok := l.loans[loanID]
	if !ok {
		return nil, ErrNotFound
	}
	return copyLoan(loan), nil
}

// GetLoanRequest returns a copy of a loan request record.
func (l *LoanLedger) GetLoanRequest(requestID uint64) (*LoanRequest, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	req, ok := l.requests[requestID]
	if !ok {
		return nil, ErrNotFound
	}
	return copyRequest(req), nil
}

// GetUserLoans returns copies of every loan where the account is borrower
// or lender.
func (l *LoanLedger) GetUserLoans(account string) []*Loan {
	l.mu.RLock()
	defer l.mu.RUnlock()

	loans := make([]*Loan, 0)
	for _, loan := range l.loans {
		if loan.Borrower == account || loan.Lender == account {
			loans = append(loans, copyLoan(loan))
		}
	}
	return loans
}

// TotalOwed computes the outstanding debt on a loan at the given instant.
func (l *LoanLedger) TotalOwed(loanID uint64, now time.Time) (*big.Int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	loan, ok := l.loans[loanID]
	if !ok {
		return nil, ErrNotFound
	}
	return TotalOwed(l.params, loan, now), nil
}

// HealthFactor computes the live collateralization percentage for a loan.
// The collateral price is read fresh from the registry on every call; there
// is no cached health factor.
func (l *LoanLedger) HealthFactor(loanID uint64, now time.Time) (uint64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	loan, ok := l.loans[loanID]
	if !ok {
		return 0, ErrNotFound
	}
	return l.healthFactorLocked(loan, now)
}

// healthFactorLocked requires at least a read lock on the ledger.
func (l *LoanLedger) healthFactorLocked(loan *Loan, now time.Time) (uint64, error) {
	value, err := l.registry.CurrentValue(loan.CollateralTokenID)
	if err != nil {
		return 0, err
	}
	return HealthFactor(l.params, value, TotalOwed(l.params, loan, now)), nil
}

// LoansOriginated returns the number of loans funded since genesis.
func (l *LoanLedger) LoansOriginated() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.loansOriginated
}

// ActiveLoans returns the number of currently active loans.
func (l *LoanLedger) ActiveLoans() int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	n := 0
	for _, loan := range l.loans {
		if loan.Status == LoanActive {
			n++
		}
	}
	return n
}

// ActiveLoanMetrics returns the summed outstanding debt and the live health
// factor of every active loan, for stats aggregation.
func (l *LoanLedger) ActiveLoanMetrics(now time.Time) (*big.Int, []uint64) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	outstanding := big.NewInt(0)
	factors := make([]uint64, 0)
	for _, loan := range l.loans {
		if loan.Status != LoanActive {
			continue
		}
		outstanding.Add(outstanding, TotalOwed(l.params, loan, now))
		if hf, err := l.healthFactorLocked(loan, now); err == nil {
			factors = append(factors, hf)
		}
	}
	return outstanding, factors
}

func copyRequest(req *LoanRequest) *LoanRequest {
	cp := *req
	cp.RequestedAmount = new(big.Int).Set(req.RequestedAmount)
	return &cp
}

func copyLoan(loan *Loan) *Loan {
	cp := *loan
	cp.Principal = new(big.Int).Set(loan.Principal)
	cp.TotalRepaid = new(big.Int).Set(loan.TotalRepaid)
	return &cp
}
