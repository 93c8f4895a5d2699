package lend

import "errors"

// Every operation fails with exactly one of these, checked before any
// mutation, so a returned error means no state changed. Callers match with
// errors.Is.
var (
	// Not-found
	ErrNotFound = errors.New("record not found")

	// Authorization
	ErrNotOwner    = errors.New("caller is not the asset owner")
	ErrNotVerifier = errors.New("caller is not an authorized verifier")
	ErrNotOracle   = errors.New("caller is not an authorized price oracle")
	ErrNotAdmin    = errors.New("caller is not the protocol admin")

	// State
	ErrAlreadyLocked   = errors.New("asset is already pledged as collateral")
	ErrNotLocked       = errors.New("asset is not locked")
	ErrAlreadyDecided  = errors.New("asset verification already decided")
	ErrNotVerified     = errors.New("asset is not verified")
	ErrAlreadyFunded   = errors.New("loan request is no longer open")
	ErrNotActive       = errors.New("loan is not active")
	ErrNotLiquidatable = errors.New("loan is not eligible for liquidation")

	// Value
	ErrInvalidValue = errors.New("value must be positive")
	ErrExceedsLTV   = errors.New("requested amount exceeds loan-to-value cap")
	ErrWrongAmount  = errors.New("paid amount does not match requested amount")
	ErrOverPayment  = errors.New("payment exceeds outstanding debt")
)
