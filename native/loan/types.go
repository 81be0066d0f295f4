package loan

import "math/big"

// Details is the assembled read-only view of the shared borrowing position.
// Every attribute is derived from collaborator reads at query time; only the
// Active flag lives in local state.
type Details struct {
	// Principal is the stablecoin debt excluding accrued interest.
	Principal *big.Int
	// Interest is the accrued interest outstanding on the principal.
	Interest *big.Int
	// TotalDebt is principal plus interest.
	TotalDebt *big.Int
	// Collateral is the native-asset amount backing the debt.
	Collateral *big.Int
	// CollateralizationRatio is collateral value over debt, 1e18 fixed-point.
	CollateralizationRatio *big.Int
	// InterestRateBps is the position's current rate in basis points.
	InterestRateBps uint64
	// Active reports whether a position is currently open.
	Active bool
}

// Clone returns a deep copy of the details.
func (d *Details) Clone() *Details {
	if d == nil {
		return nil
	}
	clone := *d
	if d.Principal != nil {
		clone.Principal = new(big.Int).Set(d.Principal)
	}
	if d.Interest != nil {
		clone.Interest = new(big.Int).Set(d.Interest)
	}
	if d.TotalDebt != nil {
		clone.TotalDebt = new(big.Int).Set(d.TotalDebt)
	}
	if d.Collateral != nil {
		clone.Collateral = new(big.Int).Set(d.Collateral)
	}
	if d.CollateralizationRatio != nil {
		clone.CollateralizationRatio = new(big.Int).Set(d.CollateralizationRatio)
	}
	return &clone
}
