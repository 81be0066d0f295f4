package loan

import "math/big"

// The external lending protocol is consumed through narrow capability
// interfaces rather than one monolithic handle: each engine operation depends
// only on the primitives it actually calls. Hint parameters are opaque
// insertion-position optimizations for the collaborator's internal ordered
// list; the zero value is always valid, just less efficient.

// PositionOpener mints stablecoin debt against the attached collateral.
type PositionOpener interface {
	OpenPosition(debtAmount, collateral *big.Int, hintA, hintB [20]byte) error
}

// PositionRepayer reduces outstanding debt.
type PositionRepayer interface {
	Repay(amount *big.Int, hintA, hintB [20]byte) error
}

// PositionCloser repays all debt minus the fixed rebate and returns all
// collateral.
type PositionCloser interface {
	ClosePosition() error
}

// PositionRefinancer re-prices the position at the collaborator's current
// global rate.
type PositionRefinancer interface {
	Refinance(hintA, hintB [20]byte) error
}

// CollateralMover adds or withdraws collateral on an open position.
type CollateralMover interface {
	AddCollateral(collateral *big.Int, hintA, hintB [20]byte) error
	WithdrawCollateral(amount *big.Int, hintA, hintB [20]byte) error
}

// DebtQuerier exposes the collaborator's read-only debt accounting.
type DebtQuerier interface {
	MinimumDebt() (*big.Int, error)
	BorrowingFee(debtAmount *big.Int) (*big.Int, error)
	PositionDebtAndCollateral(owner [20]byte) (principal, interest, collateral *big.Int, err error)
	CurrentRatio(owner [20]byte, price *big.Int) (*big.Int, error)
	InterestRateBps(owner [20]byte) (uint64, error)
}

// PriceQuerier reads the collateral oracle price, scaled fixed-point.
type PriceQuerier interface {
	CurrentPrice() (*big.Int, error)
}

// Collaborator is the full consumed surface, satisfied by a single external
// protocol binding. Wiring it through SetCollaborator assigns every
// capability at once; the engine still holds each one behind its narrow
// interface.
type Collaborator interface {
	PositionOpener
	PositionRepayer
	PositionCloser
	PositionRefinancer
	CollateralMover
	DebtQuerier
	PriceQuerier
}
