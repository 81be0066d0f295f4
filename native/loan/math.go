package loan

import "math/big"

var (
	// fixedOne is the 1e18 fixed-point unit used by the collaborator's ratio
	// and price reads.
	fixedOne = mustBigInt("1000000000000000000")
	// GasCompensation is the protocol-fixed rebate withheld when closing a
	// position: 200 stablecoin units in wei. The close payment is the total
	// debt minus this amount.
	GasCompensation = mustBigInt("200000000000000000000")
	hundred         = big.NewInt(100)
)

// MinimumCollateralRatioPercent is the protocol floor below which a position
// is considered at liquidation risk.
const MinimumCollateralRatioPercent = 110

func mustBigInt(value string) *big.Int {
	v, ok := new(big.Int).SetString(value, 10)
	if !ok {
		panic("invalid big integer constant")
	}
	return v
}

// ratioToPercent converts a 1e18 fixed-point collateralization ratio into a
// whole percentage, truncating.
func ratioToPercent(ratio *big.Int) *big.Int {
	if ratio == nil || ratio.Sign() <= 0 {
		return big.NewInt(0)
	}
	percent := new(big.Int).Mul(ratio, hundred)
	return percent.Quo(percent, fixedOne)
}

// collateralRatio computes collateral*price/debt as a 1e18 fixed-point value.
// A zero debt yields a zero ratio; callers treat debt-free positions as
// unconstrained before consulting it.
func collateralRatio(collateral, price, debt *big.Int) *big.Int {
	if collateral == nil || price == nil || debt == nil || debt.Sign() == 0 {
		return big.NewInt(0)
	}
	ratio := new(big.Int).Mul(collateral, price)
	return ratio.Quo(ratio, debt)
}
