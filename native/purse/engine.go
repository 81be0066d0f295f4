package purse

import (
	"errors"
	"fmt"
	"math/big"

	"pursechain/core/events"
	"pursechain/core/types"
)

var (
	errNilState = errors.New("purse engine: state not configured")
	errNilToken = errors.New("purse engine: token collaborator not configured")

	// ErrAmountPositive rejects zero or negative amounts before any state
	// read.
	ErrAmountPositive = errors.New("purse engine: amount must be positive")
	// ErrInsufficientBalance is returned when an operation exceeds the
	// caller's available (total minus reserved) balance.
	ErrInsufficientBalance = errors.New("purse engine: insufficient available balance")
	// ErrInsufficientReserved is returned when a release exceeds the
	// caller's reserved balance.
	ErrInsufficientReserved = errors.New("purse engine: insufficient reserved balance")
)

type engineState interface {
	PurseGet(addr [20]byte) (*types.Purse, error)
	PursePut(addr [20]byte, purse *types.Purse) error
	EarningsGet(addr [20]byte) (*big.Int, error)
	EarningsPut(addr [20]byte, amount *big.Int) error
}

// AssetTransfer is the narrow surface the engine needs from the external
// token collaborator. Deposits pull funds from the caller into the ledger
// vault; withdrawals push them back out.
type AssetTransfer interface {
	Transfer(from, to [20]byte, amount *big.Int) error
	BalanceOf(addr [20]byte) (*big.Int, error)
}

type purseEvent struct {
	evt *types.Event
}

func (e purseEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e purseEvent) Event() *types.Event { return e.evt }

// Engine implements the purse bookkeeping: deposits, withdrawals and the
// reserve/release split that backs off-chain vouchers. All purse funds are
// held by the ledger vault address on the external token ledger; the purse
// records only apportion them between owners.
type Engine struct {
	state   engineState
	token   AssetTransfer
	vault   [20]byte
	emitter events.Emitter
}

// NewEngine creates a purse engine bound to the ledger vault address.
func NewEngine(vault [20]byte) *Engine {
	return &Engine{
		vault:   vault,
		emitter: events.NoopEmitter{},
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetToken configures the external token collaborator.
func (e *Engine) SetToken(token AssetTransfer) { e.token = token }

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
	e.emitter.Emit(purseEvent{evt: event})
}

func (e *Engine) ready() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.token == nil {
		return errNilToken
	}
	return nil
}

// Deposit pulls amount of the external token from the caller into the ledger
// vault and credits the caller's purse total. The external transfer is
// confirmed before any purse mutation so a collaborator failure leaves the
// purse untouched.
func (e *Engine) Deposit(caller [20]byte, amount *big.Int) error {
	if err := e.ready(); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrAmountPositive
	}
	if err := e.token.Transfer(caller, e.vault, amount); err != nil {
		return fmt.Errorf("purse engine: deposit transfer: %w", err)
	}
	purse, err := e.state.PurseGet(caller)
	if err != nil {
		return err
	}
	purse.Total = new(big.Int).Add(purse.Total, amount)
	if err := e.state.PursePut(caller, purse); err != nil {
		return err
	}
	e.emit(NewDepositedEvent(caller, amount))
	return nil
}

// Withdraw debits the caller's purse total and pushes amount of the external
// token back to the caller. Only the available portion (total minus reserved)
// may be withdrawn. The purse is debited before the external call; if the
// collaborator rejects the transfer the debit is compensated so no
// inconsistent state survives the call.
func (e *Engine) Withdraw(caller [20]byte, amount *big.Int) error {
	if err := e.ready(); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrAmountPositive
	}
	purse, err := e.state.PurseGet(caller)
	if err != nil {
		return err
	}
	if purse.Available().Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	debited := purse.Clone()
	debited.Total = new(big.Int).Sub(debited.Total, amount)
	if err := e.state.PursePut(caller, debited); err != nil {
		return err
	}
	if err := e.token.Transfer(e.vault, caller, amount); err != nil {
		if restoreErr := e.state.PursePut(caller, purse); restoreErr != nil {
			return fmt.Errorf("purse engine: withdraw transfer failed (%v) and purse restore failed: %w", err, restoreErr)
		}
		return fmt.Errorf("purse engine: withdraw transfer: %w", err)
	}
	e.emit(NewWithdrawnEvent(caller, amount))
	return nil
}

// Reserve earmarks amount of the caller's available balance to back off-chain
// vouchers. Intended to be called once to cover the sum of all vouchers a
// payer plans to sign, amortising the reservation cost across many vouchers.
func (e *Engine) Reserve(caller [20]byte, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrAmountPositive
	}
	purse, err := e.state.PurseGet(caller)
	if err != nil {
		return err
	}
	if purse.Available().Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	purse.Reserved = new(big.Int).Add(purse.Reserved, amount)
	if err := e.state.PursePut(caller, purse); err != nil {
		return err
	}
	e.emit(NewReservedEvent(caller, amount))
	return nil
}

// Release returns amount from the caller's reserved balance to the available
// portion. Releasing does not invalidate previously signed vouchers: an
// unexpired voucher becomes redeemable again the moment sufficient funds are
// re-reserved.
func (e *Engine) Release(caller [20]byte, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrAmountPositive
	}
	purse, err := e.state.PurseGet(caller)
	if err != nil {
		return err
	}
	if purse.Reserved.Cmp(amount) < 0 {
		return ErrInsufficientReserved
	}
	purse.Reserved = new(big.Int).Sub(purse.Reserved, amount)
	if err := e.state.PursePut(caller, purse); err != nil {
		return err
	}
	e.emit(NewReleasedEvent(caller, amount))
	return nil
}

// Balances reports the caller's total, reserved and derived available
// amounts.
func (e *Engine) Balances(addr [20]byte) (total, reserved, available *big.Int, err error) {
	if e == nil || e.state == nil {
		return nil, nil, nil, errNilState
	}
	purse, err := e.state.PurseGet(addr)
	if err != nil {
		return nil, nil, nil, err
	}
	return purse.Total, purse.Reserved, purse.Available(), nil
}

// Earnings reports the accumulated merchant earnings for an address.
func (e *Engine) Earnings(addr [20]byte) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	return e.state.EarningsGet(addr)
}
