package loan

import (
	"errors"
	"fmt"
	"math/big"

	"pursechain/core/events"
	"pursechain/core/types"
)

var (
	errNilState        = errors.New("loan engine: state not configured")
	errNilToken        = errors.New("loan engine: token collaborators not configured")
	errNilCollaborator = errors.New("loan engine: lending collaborator not configured")

	// ErrAmountPositive rejects zero or negative amounts before any state or
	// collaborator access.
	ErrAmountPositive = errors.New("loan engine: amount must be positive")
	// ErrPositionActive is returned when open is called while a position
	// already exists. The shared position is a singleton: all purse holders
	// stand behind one borrower of record.
	ErrPositionActive = errors.New("loan engine: position already active")
	// ErrNoActivePosition is returned when a mutation targets a position that
	// was never opened or has been closed.
	ErrNoActivePosition = errors.New("loan engine: no active position")
	// ErrBelowMinimumDebt is returned when the requested borrow is below the
	// collaborator's floor.
	ErrBelowMinimumDebt = errors.New("loan engine: requested debt below collaborator minimum")
	// ErrInsufficientBalance is returned when a purse-funded payment exceeds
	// the caller's available balance.
	ErrInsufficientBalance = errors.New("loan engine: insufficient available balance")
	// ErrInsufficientCollateral is returned when a withdrawal exceeds the
	// position's collateral.
	ErrInsufficientCollateral = errors.New("loan engine: insufficient collateral")
	// ErrRatioTooLow is returned when a collateral withdrawal would push the
	// collateralization ratio below the protocol floor. The collaborator
	// enforces its own threshold too; this check keeps the failure local and
	// named.
	ErrRatioTooLow = errors.New("loan engine: resulting collateral ratio below minimum")
)

type engineState interface {
	PurseGet(addr [20]byte) (*types.Purse, error)
	PursePut(addr [20]byte, purse *types.Purse) error
	PositionActive() (bool, error)
	SetPositionActive(active bool) error
}

// AssetTransfer is the external token surface used to move the stablecoin and
// the native collateral asset.
type AssetTransfer interface {
	Transfer(from, to [20]byte, amount *big.Int) error
	BalanceOf(addr [20]byte) (*big.Int, error)
}

type loanEvent struct {
	evt *types.Event
}

func (e loanEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e loanEvent) Event() *types.Event { return e.evt }

// Engine is the single choke-point for the external lending collaborator. The
// ledger vault is the sole position holder the collaborator knows about; all
// purse holders implicitly share that one position, so one caller's
// under-collateralization affects everyone. Borrow and close proceeds are
// measured as balance deltas on the vault, never trusted from the request.
type Engine struct {
	state      engineState
	stable     AssetTransfer
	collateral AssetTransfer
	vault      [20]byte
	emitter    events.Emitter

	opener     PositionOpener
	repayer    PositionRepayer
	closer     PositionCloser
	refinancer PositionRefinancer
	mover      CollateralMover
	debt       DebtQuerier
	price      PriceQuerier
}

// NewEngine creates a loan engine bound to the ledger vault address.
func NewEngine(vault [20]byte) *Engine {
	return &Engine{
		vault:   vault,
		emitter: events.NoopEmitter{},
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetTokens configures the stablecoin and collateral asset collaborators.
func (e *Engine) SetTokens(stable, collateral AssetTransfer) {
	e.stable = stable
	e.collateral = collateral
}

// SetCollaborator wires every lending capability from one binding. Individual
// capabilities can be overridden afterwards through the narrow setters.
func (e *Engine) SetCollaborator(c Collaborator) {
	if e == nil || c == nil {
		return
	}
	e.opener = c
	e.repayer = c
	e.closer = c
	e.refinancer = c
	e.mover = c
	e.debt = c
	e.price = c
}

// SetOpener overrides the open-position capability.
func (e *Engine) SetOpener(o PositionOpener) { e.opener = o }

// SetRepayer overrides the repay capability.
func (e *Engine) SetRepayer(r PositionRepayer) { e.repayer = r }

// SetCloser overrides the close capability.
func (e *Engine) SetCloser(c PositionCloser) { e.closer = c }

// SetRefinancer overrides the refinance capability.
func (e *Engine) SetRefinancer(r PositionRefinancer) { e.refinancer = r }

// SetCollateralMover overrides the collateral add/withdraw capability.
func (e *Engine) SetCollateralMover(m CollateralMover) { e.mover = m }

// SetDebtQuerier overrides the debt read capability.
func (e *Engine) SetDebtQuerier(q DebtQuerier) { e.debt = q }

// SetPriceQuerier overrides the oracle read capability.
func (e *Engine) SetPriceQuerier(q PriceQuerier) { e.price = q }

// SetEmitter configures the event emitter. Passing nil resets it to a no-op
// implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(loanEvent{evt: event})
}

func (e *Engine) ready() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.stable == nil || e.collateral == nil {
		return errNilToken
	}
	return nil
}

func (e *Engine) requireActive() error {
	active, err := e.state.PositionActive()
	if err != nil {
		return err
	}
	if !active {
		return ErrNoActivePosition
	}
	return nil
}

// OpenAndBorrow opens the shared position with the attached collateral and
// borrows musdAmount of the stablecoin against it. The amount actually
// received is measured as the vault's stablecoin balance delta; once the
// collaborator has opened the position there is no local unwind, so the
// measured delta is committed and returned even when it falls short of the
// request. With depositToPurse the delta is credited straight into the
// caller's purse total (the funds already sit in the vault); otherwise it is
// forwarded to the caller's external token balance. A second open while the
// position is active fails locally rather than relying on a collaborator
// rejection.
func (e *Engine) OpenAndBorrow(caller [20]byte, musdAmount, collateral *big.Int, depositToPurse bool, hintA, hintB [20]byte) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if e.opener == nil || e.debt == nil {
		return nil, errNilCollaborator
	}
	if musdAmount == nil || musdAmount.Sign() <= 0 || collateral == nil || collateral.Sign() <= 0 {
		return nil, ErrAmountPositive
	}
	active, err := e.state.PositionActive()
	if err != nil {
		return nil, err
	}
	if active {
		return nil, ErrPositionActive
	}
	minimum, err := e.debt.MinimumDebt()
	if err != nil {
		return nil, fmt.Errorf("loan engine: minimum debt query: %w", err)
	}
	if minimum != nil && musdAmount.Cmp(minimum) < 0 {
		return nil, ErrBelowMinimumDebt
	}
	before, err := e.stable.BalanceOf(e.vault)
	if err != nil {
		return nil, err
	}
	if err := e.collateral.Transfer(caller, e.vault, collateral); err != nil {
		return nil, fmt.Errorf("loan engine: collateral transfer: %w", err)
	}
	if err := e.opener.OpenPosition(musdAmount, collateral, hintA, hintB); err != nil {
		if restoreErr := e.collateral.Transfer(e.vault, caller, collateral); restoreErr != nil {
			return nil, fmt.Errorf("loan engine: open failed (%v) and collateral restore failed: %w", err, restoreErr)
		}
		return nil, fmt.Errorf("loan engine: open position: %w", err)
	}
	// The position now exists at the collaborator and cannot be unwound
	// locally, so from here on the measured outcome is committed: a short
	// or failed delivery still activates the position and forwards whatever
	// arrived, keeping the local flag truthful.
	delta := big.NewInt(0)
	if after, balErr := e.stable.BalanceOf(e.vault); balErr == nil {
		delta = new(big.Int).Sub(after, before)
		if delta.Sign() < 0 {
			delta = big.NewInt(0)
		}
	}
	if err := e.state.SetPositionActive(true); err != nil {
		return nil, err
	}
	if depositToPurse {
		purse, err := e.state.PurseGet(caller)
		if err != nil {
			return nil, err
		}
		purse.Total = new(big.Int).Add(purse.Total, delta)
		if err := e.state.PursePut(caller, purse); err != nil {
			return nil, err
		}
	} else if delta.Sign() > 0 {
		if err := e.stable.Transfer(e.vault, caller, delta); err != nil {
			return nil, fmt.Errorf("loan engine: borrow payout: %w", err)
		}
	}
	e.emit(NewPositionOpenedEvent(caller, delta, collateral))
	return delta, nil
}

// Repay reduces the shared debt by amount, funded either from the caller's
// purse (bounded by the available portion) or by pulling external stablecoin
// from the caller. A collaborator rejection compensates the funding so the
// caller is made whole.
func (e *Engine) Repay(caller [20]byte, amount *big.Int, fromPurse bool, hintA, hintB [20]byte) error {
	if err := e.ready(); err != nil {
		return err
	}
	if e.repayer == nil {
		return errNilCollaborator
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrAmountPositive
	}
	if err := e.requireActive(); err != nil {
		return err
	}
	restore, err := e.fundPayment(caller, amount, fromPurse)
	if err != nil {
		return err
	}
	if err := e.repayer.Repay(amount, hintA, hintB); err != nil {
		if restoreErr := restore(); restoreErr != nil {
			return fmt.Errorf("loan engine: repay failed (%v) and funding restore failed: %w", err, restoreErr)
		}
		return fmt.Errorf("loan engine: repay: %w", err)
	}
	e.emit(NewLoanRepaidEvent(caller, amount, fromPurse))
	return nil
}

// Close fully repays the shared position and forwards the returned collateral
// to the caller. The required payment is the collaborator's total debt minus
// the fixed gas compensation; the collateral handed back is measured as the
// vault's balance delta and forwarded exactly.
func (e *Engine) Close(caller [20]byte, fromPurse bool, hintA, hintB [20]byte) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if e.closer == nil || e.debt == nil {
		return nil, errNilCollaborator
	}
	if err := e.requireActive(); err != nil {
		return nil, err
	}
	principal, interest, _, err := e.debt.PositionDebtAndCollateral(e.vault)
	if err != nil {
		return nil, fmt.Errorf("loan engine: debt query: %w", err)
	}
	totalDebt := new(big.Int).Add(principal, interest)
	required := new(big.Int).Sub(totalDebt, GasCompensation)
	if required.Sign() < 0 {
		required = big.NewInt(0)
	}
	restore := func() error { return nil }
	if required.Sign() > 0 {
		restore, err = e.fundPayment(caller, required, fromPurse)
		if err != nil {
			return nil, err
		}
	}
	before, err := e.collateral.BalanceOf(e.vault)
	if err != nil {
		return nil, err
	}
	if err := e.closer.ClosePosition(); err != nil {
		if restoreErr := restore(); restoreErr != nil {
			return nil, fmt.Errorf("loan engine: close failed (%v) and funding restore failed: %w", err, restoreErr)
		}
		return nil, fmt.Errorf("loan engine: close position: %w", err)
	}
	after, err := e.collateral.BalanceOf(e.vault)
	if err != nil {
		return nil, err
	}
	returned := new(big.Int).Sub(after, before)
	if returned.Sign() > 0 {
		if err := e.collateral.Transfer(e.vault, caller, returned); err != nil {
			return nil, fmt.Errorf("loan engine: collateral payout: %w", err)
		}
	}
	if err := e.state.SetPositionActive(false); err != nil {
		return nil, err
	}
	e.emit(NewPositionClosedEvent(caller, required, returned))
	return returned, nil
}

// AddCollateral attaches more of the native asset to the open position.
func (e *Engine) AddCollateral(caller [20]byte, amount *big.Int, hintA, hintB [20]byte) error {
	if err := e.ready(); err != nil {
		return err
	}
	if e.mover == nil {
		return errNilCollaborator
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrAmountPositive
	}
	if err := e.requireActive(); err != nil {
		return err
	}
	if err := e.collateral.Transfer(caller, e.vault, amount); err != nil {
		return fmt.Errorf("loan engine: collateral transfer: %w", err)
	}
	if err := e.mover.AddCollateral(amount, hintA, hintB); err != nil {
		if restoreErr := e.collateral.Transfer(e.vault, caller, amount); restoreErr != nil {
			return fmt.Errorf("loan engine: add collateral failed (%v) and restore failed: %w", err, restoreErr)
		}
		return fmt.Errorf("loan engine: add collateral: %w", err)
	}
	e.emit(NewCollateralAddedEvent(caller, amount))
	return nil
}

// WithdrawCollateral detaches amount of collateral and forwards it to the
// caller. The resulting ratio must stay at or above the protocol floor; the
// check runs here as well as inside the collaborator so the failure is a
// local, named error.
func (e *Engine) WithdrawCollateral(caller [20]byte, amount *big.Int, hintA, hintB [20]byte) error {
	if err := e.ready(); err != nil {
		return err
	}
	if e.mover == nil || e.debt == nil || e.price == nil {
		return errNilCollaborator
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrAmountPositive
	}
	if err := e.requireActive(); err != nil {
		return err
	}
	principal, interest, collateral, err := e.debt.PositionDebtAndCollateral(e.vault)
	if err != nil {
		return fmt.Errorf("loan engine: debt query: %w", err)
	}
	if collateral == nil || collateral.Cmp(amount) < 0 {
		return ErrInsufficientCollateral
	}
	totalDebt := new(big.Int).Add(principal, interest)
	if totalDebt.Sign() > 0 {
		price, err := e.price.CurrentPrice()
		if err != nil {
			return fmt.Errorf("loan engine: price query: %w", err)
		}
		remaining := new(big.Int).Sub(collateral, amount)
		percent := ratioToPercent(collateralRatio(remaining, price, totalDebt))
		if percent.Cmp(big.NewInt(MinimumCollateralRatioPercent)) < 0 {
			return ErrRatioTooLow
		}
	}
	if err := e.mover.WithdrawCollateral(amount, hintA, hintB); err != nil {
		return fmt.Errorf("loan engine: withdraw collateral: %w", err)
	}
	if err := e.collateral.Transfer(e.vault, caller, amount); err != nil {
		return fmt.Errorf("loan engine: collateral payout: %w", err)
	}
	e.emit(NewCollateralWithdrawnEvent(caller, amount))
	return nil
}

// Refinance re-prices the position at the collaborator's current global rate.
func (e *Engine) Refinance(caller [20]byte, hintA, hintB [20]byte) error {
	if err := e.ready(); err != nil {
		return err
	}
	if e.refinancer == nil || e.debt == nil {
		return errNilCollaborator
	}
	if err := e.requireActive(); err != nil {
		return err
	}
	if err := e.refinancer.Refinance(hintA, hintB); err != nil {
		return fmt.Errorf("loan engine: refinance: %w", err)
	}
	rate, err := e.debt.InterestRateBps(e.vault)
	if err != nil {
		return fmt.Errorf("loan engine: rate query: %w", err)
	}
	e.emit(NewPositionRefinancedEvent(caller, rate))
	return nil
}

// LoanDetails assembles the read-only view of the shared position from the
// collaborator's debt, rate and oracle reads plus the local active flag.
func (e *Engine) LoanDetails() (*Details, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if e.debt == nil || e.price == nil {
		return nil, errNilCollaborator
	}
	active, err := e.state.PositionActive()
	if err != nil {
		return nil, err
	}
	if !active {
		return &Details{
			Principal:              big.NewInt(0),
			Interest:               big.NewInt(0),
			TotalDebt:              big.NewInt(0),
			Collateral:             big.NewInt(0),
			CollateralizationRatio: big.NewInt(0),
		}, nil
	}
	principal, interest, collateral, err := e.debt.PositionDebtAndCollateral(e.vault)
	if err != nil {
		return nil, fmt.Errorf("loan engine: debt query: %w", err)
	}
	price, err := e.price.CurrentPrice()
	if err != nil {
		return nil, fmt.Errorf("loan engine: price query: %w", err)
	}
	ratio, err := e.debt.CurrentRatio(e.vault, price)
	if err != nil {
		return nil, fmt.Errorf("loan engine: ratio query: %w", err)
	}
	rate, err := e.debt.InterestRateBps(e.vault)
	if err != nil {
		return nil, fmt.Errorf("loan engine: rate query: %w", err)
	}
	return &Details{
		Principal:              principal,
		Interest:               interest,
		TotalDebt:              new(big.Int).Add(principal, interest),
		Collateral:             collateral,
		CollateralizationRatio: ratio,
		InterestRateBps:        rate,
		Active:                 true,
	}, nil
}

// CollateralizationRatioPercent reports the current ratio as a whole
// percentage.
func (e *Engine) CollateralizationRatioPercent() (*big.Int, error) {
	details, err := e.LoanDetails()
	if err != nil {
		return nil, err
	}
	return ratioToPercent(details.CollateralizationRatio), nil
}

// IsAtLiquidationRisk reports whether the active position sits below the
// protocol's minimum collateral ratio. An inactive position carries no risk.
func (e *Engine) IsAtLiquidationRisk() (bool, error) {
	details, err := e.LoanDetails()
	if err != nil {
		return false, err
	}
	if !details.Active {
		return false, nil
	}
	percent := ratioToPercent(details.CollateralizationRatio)
	return percent.Cmp(big.NewInt(MinimumCollateralRatioPercent)) < 0, nil
}

// fundPayment collects amount of stablecoin into the vault, either by
// debiting the caller's purse or by pulling external tokens. The returned
// closure undoes the funding if the downstream collaborator call fails.
func (e *Engine) fundPayment(caller [20]byte, amount *big.Int, fromPurse bool) (func() error, error) {
	if fromPurse {
		purse, err := e.state.PurseGet(caller)
		if err != nil {
			return nil, err
		}
		if purse.Available().Cmp(amount) < 0 {
			return nil, ErrInsufficientBalance
		}
		debited := purse.Clone()
		debited.Total = new(big.Int).Sub(debited.Total, amount)
		if err := e.state.PursePut(caller, debited); err != nil {
			return nil, err
		}
		return func() error { return e.state.PursePut(caller, purse) }, nil
	}
	if err := e.stable.Transfer(caller, e.vault, amount); err != nil {
		return nil, fmt.Errorf("loan engine: payment transfer: %w", err)
	}
	return func() error { return e.stable.Transfer(e.vault, caller, amount) }, nil
}
