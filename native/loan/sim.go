package loan

import (
	"errors"
	"math/big"
	"sync"

	"pursechain/native/token"
)

var (
	errSimNoPosition     = errors.New("trove sim: no open position")
	errSimPositionOpen   = errors.New("trove sim: position already open")
	errSimOverpayment    = errors.New("trove sim: repayment exceeds outstanding debt")
	errSimCollateral     = errors.New("trove sim: insufficient collateral")
	errSimRatioBreached  = errors.New("trove sim: withdrawal breaches minimum ratio")
	errSimUnknownOwner   = errors.New("trove sim: unknown position owner")
	errSimInvalidAmount  = errors.New("trove sim: amount must be positive")
	errSimBelowMinimum   = errors.New("trove sim: debt below minimum")
	errSimPriceNotSet    = errors.New("trove sim: oracle price not configured")
	errSimLedgersMissing = errors.New("trove sim: token ledgers not configured")
)

var basisPoints = big.NewInt(10_000)

// TroveSim is a deterministic in-process stand-in for the external lending
// protocol, backing tests and the local environment. It mints the borrowed
// stablecoin, escrows collateral on its own ledger address and keeps one
// position for the configured owner. Opening folds the borrowing fee and the
// gas compensation into the principal, matching the close payment of total
// debt minus the compensation.
type TroveSim struct {
	mu       sync.Mutex
	stable   *token.Ledger
	reserve  *token.Ledger
	addr     [20]byte
	owner    [20]byte
	price    *big.Int
	rateBps  uint64
	posRate  uint64
	feeBps   uint64
	minDebt  *big.Int
	active   bool
	princ    *big.Int
	interest *big.Int
	pledged  *big.Int
}

// NewTroveSim builds a simulator holding positions for owner, escrowing
// collateral at addr. The price is the initial 1e18-scaled oracle read.
func NewTroveSim(stable, collateral *token.Ledger, addr, owner [20]byte, price *big.Int) *TroveSim {
	sim := &TroveSim{
		stable:   stable,
		reserve:  collateral,
		addr:     addr,
		owner:    owner,
		rateBps:  500,
		feeBps:   50,
		minDebt:  mustBigInt("2000000000000000000000"), // 2000 stablecoin units
		princ:    big.NewInt(0),
		interest: big.NewInt(0),
		pledged:  big.NewInt(0),
	}
	if price != nil {
		sim.price = new(big.Int).Set(price)
	}
	return sim
}

// SetPrice replaces the oracle read.
func (s *TroveSim) SetPrice(price *big.Int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if price == nil {
		s.price = nil
		return
	}
	s.price = new(big.Int).Set(price)
}

// SetGlobalRateBps replaces the rate applied by the next refinance.
func (s *TroveSim) SetGlobalRateBps(bps uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rateBps = bps
}

// SetMinimumDebt replaces the open floor.
func (s *TroveSim) SetMinimumDebt(min *big.Int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if min == nil {
		s.minDebt = big.NewInt(0)
		return
	}
	s.minDebt = new(big.Int).Set(min)
}

// AccrueInterest adds amount to the outstanding interest, letting tests move
// time forward without a block clock.
func (s *TroveSim) AccrueInterest(amount *big.Int) {
	if amount == nil || amount.Sign() <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active {
		s.interest = new(big.Int).Add(s.interest, amount)
	}
}

func (s *TroveSim) totalDebtLocked() *big.Int {
	return new(big.Int).Add(s.princ, s.interest)
}

// OpenPosition escrows the collateral, records principal as the requested
// debt plus the borrowing fee plus the gas compensation, and mints the
// requested amount to the owner.
func (s *TroveSim) OpenPosition(debtAmount, collateral *big.Int, hintA, hintB [20]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stable == nil || s.reserve == nil {
		return errSimLedgersMissing
	}
	if s.active {
		return errSimPositionOpen
	}
	if debtAmount == nil || debtAmount.Sign() <= 0 || collateral == nil || collateral.Sign() <= 0 {
		return errSimInvalidAmount
	}
	if debtAmount.Cmp(s.minDebt) < 0 {
		return errSimBelowMinimum
	}
	if err := s.reserve.Transfer(s.owner, s.addr, collateral); err != nil {
		return err
	}
	fee := new(big.Int).Mul(debtAmount, new(big.Int).SetUint64(s.feeBps))
	fee.Quo(fee, basisPoints)
	principal := new(big.Int).Add(debtAmount, fee)
	principal.Add(principal, GasCompensation)
	if err := s.stable.Mint(s.owner, debtAmount); err != nil {
		return err
	}
	s.active = true
	s.princ = principal
	s.interest = big.NewInt(0)
	s.pledged = new(big.Int).Set(collateral)
	s.posRate = s.rateBps
	return nil
}

// Repay burns amount of the owner's stablecoin against the debt, interest
// first.
func (s *TroveSim) Repay(amount *big.Int, hintA, hintB [20]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return errSimNoPosition
	}
	if amount == nil || amount.Sign() <= 0 {
		return errSimInvalidAmount
	}
	if amount.Cmp(s.totalDebtLocked()) > 0 {
		return errSimOverpayment
	}
	if err := s.stable.Burn(s.owner, amount); err != nil {
		return err
	}
	remaining := new(big.Int).Set(amount)
	if s.interest.Sign() > 0 {
		if remaining.Cmp(s.interest) >= 0 {
			remaining.Sub(remaining, s.interest)
			s.interest = big.NewInt(0)
		} else {
			s.interest = new(big.Int).Sub(s.interest, remaining)
			remaining = big.NewInt(0)
		}
	}
	if remaining.Sign() > 0 {
		s.princ = new(big.Int).Sub(s.princ, remaining)
	}
	return nil
}

// ClosePosition burns total debt minus the gas compensation from the owner
// and returns all escrowed collateral.
func (s *TroveSim) ClosePosition() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return errSimNoPosition
	}
	required := new(big.Int).Sub(s.totalDebtLocked(), GasCompensation)
	if required.Sign() < 0 {
		required = big.NewInt(0)
	}
	if required.Sign() > 0 {
		if err := s.stable.Burn(s.owner, required); err != nil {
			return err
		}
	}
	if s.pledged.Sign() > 0 {
		if err := s.reserve.Transfer(s.addr, s.owner, s.pledged); err != nil {
			return err
		}
	}
	s.active = false
	s.princ = big.NewInt(0)
	s.interest = big.NewInt(0)
	s.pledged = big.NewInt(0)
	return nil
}

// Refinance re-prices the open position at the current global rate.
func (s *TroveSim) Refinance(hintA, hintB [20]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return errSimNoPosition
	}
	s.posRate = s.rateBps
	return nil
}

// AddCollateral escrows more collateral on the open position.
func (s *TroveSim) AddCollateral(collateral *big.Int, hintA, hintB [20]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return errSimNoPosition
	}
	if collateral == nil || collateral.Sign() <= 0 {
		return errSimInvalidAmount
	}
	if err := s.reserve.Transfer(s.owner, s.addr, collateral); err != nil {
		return err
	}
	s.pledged = new(big.Int).Add(s.pledged, collateral)
	return nil
}

// WithdrawCollateral releases collateral back to the owner, refusing any
// withdrawal that would leave the position below the minimum ratio.
func (s *TroveSim) WithdrawCollateral(amount *big.Int, hintA, hintB [20]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return errSimNoPosition
	}
	if amount == nil || amount.Sign() <= 0 {
		return errSimInvalidAmount
	}
	if s.pledged.Cmp(amount) < 0 {
		return errSimCollateral
	}
	debt := s.totalDebtLocked()
	if debt.Sign() > 0 {
		if s.price == nil {
			return errSimPriceNotSet
		}
		remaining := new(big.Int).Sub(s.pledged, amount)
		percent := ratioToPercent(collateralRatio(remaining, s.price, debt))
		if percent.Cmp(big.NewInt(MinimumCollateralRatioPercent)) < 0 {
			return errSimRatioBreached
		}
	}
	if err := s.reserve.Transfer(s.addr, s.owner, amount); err != nil {
		return err
	}
	s.pledged = new(big.Int).Sub(s.pledged, amount)
	return nil
}

// MinimumDebt reports the smallest debt an open accepts.
func (s *TroveSim) MinimumDebt() (*big.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return new(big.Int).Set(s.minDebt), nil
}

// BorrowingFee reports the one-time fee charged on the given debt.
func (s *TroveSim) BorrowingFee(debtAmount *big.Int) (*big.Int, error) {
	if debtAmount == nil || debtAmount.Sign() <= 0 {
		return big.NewInt(0), nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	fee := new(big.Int).Mul(debtAmount, new(big.Int).SetUint64(s.feeBps))
	return fee.Quo(fee, basisPoints), nil
}

// PositionDebtAndCollateral reports the owner's principal, accrued interest
// and escrowed collateral.
func (s *TroveSim) PositionDebtAndCollateral(owner [20]byte) (*big.Int, *big.Int, *big.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if owner != s.owner {
		return nil, nil, nil, errSimUnknownOwner
	}
	if !s.active {
		return big.NewInt(0), big.NewInt(0), big.NewInt(0), nil
	}
	return new(big.Int).Set(s.princ), new(big.Int).Set(s.interest), new(big.Int).Set(s.pledged), nil
}

// CurrentRatio reports collateral value over total debt at the given price,
// 1e18 fixed-point.
func (s *TroveSim) CurrentRatio(owner [20]byte, price *big.Int) (*big.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if owner != s.owner {
		return nil, errSimUnknownOwner
	}
	if !s.active {
		return big.NewInt(0), nil
	}
	return collateralRatio(s.pledged, price, s.totalDebtLocked()), nil
}

// CurrentPrice reads the configured oracle price.
func (s *TroveSim) CurrentPrice() (*big.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.price == nil {
		return nil, errSimPriceNotSet
	}
	return new(big.Int).Set(s.price), nil
}

// InterestRateBps reports the owner's current rate in basis points.
func (s *TroveSim) InterestRateBps(owner [20]byte) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if owner != s.owner {
		return 0, errSimUnknownOwner
	}
	return s.posRate, nil
}

var _ Collaborator = (*TroveSim)(nil)
