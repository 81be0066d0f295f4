package voucher

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"pursechain/core/events"
	"pursechain/core/types"
)

var (
	errNilState = errors.New("voucher engine: state not configured")
	errNilToken = errors.New("voucher engine: token collaborator not configured")

	// ErrAmountPositive rejects zero-amount vouchers before any state read.
	ErrAmountPositive = errors.New("voucher engine: amount must be positive")
	// ErrExpired is returned when the voucher expiry lies strictly in the
	// past. A voucher expiring exactly now is still valid.
	ErrExpired = errors.New("voucher engine: voucher expired")
	// ErrAlreadyRedeemed is returned when the voucher digest is already in
	// the redeemed set.
	ErrAlreadyRedeemed = errors.New("voucher engine: voucher already redeemed")
	// ErrNotMerchant is returned when the caller is not the merchant named
	// by the voucher.
	ErrNotMerchant = errors.New("voucher engine: caller is not the named merchant")
	// ErrInsufficientFunds is returned when the payer's total or reserved
	// balance cannot cover the voucher amount.
	ErrInsufficientFunds = errors.New("voucher engine: payer funds insufficient")
	// ErrInsufficientEarnings is returned when a merchant withdrawal exceeds
	// the accumulated earnings.
	ErrInsufficientEarnings = errors.New("voucher engine: insufficient merchant earnings")
	// ErrEmptyBatch rejects batches with no entries.
	ErrEmptyBatch = errors.New("voucher engine: batch must not be empty")
	// ErrBatchLengthMismatch rejects batches whose voucher and signature
	// arrays differ in length.
	ErrBatchLengthMismatch = errors.New("voucher engine: voucher and signature counts differ")
)

type engineState interface {
	PurseGet(addr [20]byte) (*types.Purse, error)
	PursePut(addr [20]byte, purse *types.Purse) error
	EarningsGet(addr [20]byte) (*big.Int, error)
	EarningsPut(addr [20]byte, amount *big.Int) error
	RedeemedHas(digest [32]byte) (bool, error)
	RedeemedMark(digest [32]byte, at int64) error
}

// AssetTransfer is the external token surface needed for merchant
// withdrawals.
type AssetTransfer interface {
	Transfer(from, to [20]byte, amount *big.Int) error
	BalanceOf(addr [20]byte) (*big.Int, error)
}

type voucherEvent struct {
	evt *types.Event
}

func (e voucherEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e voucherEvent) Event() *types.Event { return e.evt }

// Engine settles signed vouchers against the purse state. A voucher has
// exactly two states, unseen and redeemed; redemption is terminal and
// idempotent-by-rejection.
type Engine struct {
	state   engineState
	token   AssetTransfer
	chainID uint64
	ledger  [20]byte
	vault   [20]byte
	emitter events.Emitter
	nowFn   func() int64
}

// NewEngine creates a redemption engine scoped to one deployment: the chain
// identifier and ledger address feed every digest, and the vault address
// holds settled funds on the external token ledger.
func NewEngine(chainID uint64, ledger [20]byte) *Engine {
	return &Engine{
		chainID: chainID,
		ledger:  ledger,
		vault:   ledger,
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetToken configures the external token collaborator used for merchant
// withdrawals.
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

// SetNowFunc overrides the time source, primarily for deterministic tests.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(voucherEvent{evt: event})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

// Digest returns the deployment-scoped digest for a voucher.
func (e *Engine) Digest(v *Voucher) [32]byte {
	if v == nil {
		return [32]byte{}
	}
	return v.Digest(e.chainID, e.ledger)
}

// IsRedeemed reports whether the digest is in the redeemed set.
func (e *Engine) IsRedeemed(digest [32]byte) (bool, error) {
	if e == nil || e.state == nil {
		return false, errNilState
	}
	return e.state.RedeemedHas(digest)
}

// RedeemVoucher settles a single voucher: the caller must be the named
// merchant, the voucher must be unexpired, unredeemed and signed by the
// payer, and the payer must hold both total and reserved balance covering the
// amount. On success the digest is marked redeemed, the payer's total and
// reserved drop by the amount and the merchant's earnings grow by it. Any
// failing precondition aborts the call with no effect.
func (e *Engine) RedeemVoucher(caller [20]byte, v *Voucher, signature []byte) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if v == nil {
		return fmt.Errorf("voucher engine: nil voucher")
	}
	if caller != v.Merchant {
		return ErrNotMerchant
	}
	// Cheap checks first: no state access before amount and expiry pass.
	if v.Amount == nil || v.Amount.Sign() <= 0 {
		return ErrAmountPositive
	}
	now := e.now()
	if now > v.Expiry {
		return ErrExpired
	}
	digest := e.Digest(v)
	redeemed, err := e.state.RedeemedHas(digest)
	if err != nil {
		return err
	}
	if redeemed {
		return ErrAlreadyRedeemed
	}
	signer, err := RecoverSigner(digest, signature)
	if err != nil {
		return err
	}
	if signer != v.Payer {
		return ErrInvalidSignature
	}
	return e.settle(v, digest, now)
}

// RedeemBatch settles vouchers strictly in array order. Entries that are
// already redeemed or carry an invalid signature are skipped silently; an
// authorization mismatch, validation failure, expired entry or insufficient
// payer funds aborts the whole batch. Callers must preserve the submitted
// order: reordering changes which entries consume a payer's reservation
// first. The settled count is returned.
func (e *Engine) RedeemBatch(caller [20]byte, vouchers []*Voucher, signatures [][]byte) (int, error) {
	if e == nil || e.state == nil {
		return 0, errNilState
	}
	if len(vouchers) == 0 {
		return 0, ErrEmptyBatch
	}
	if len(vouchers) != len(signatures) {
		return 0, ErrBatchLengthMismatch
	}
	settled := 0
	for i, v := range vouchers {
		if v == nil {
			return settled, fmt.Errorf("voucher engine: nil voucher at index %d", i)
		}
		if caller != v.Merchant {
			return settled, ErrNotMerchant
		}
		if v.Amount == nil || v.Amount.Sign() <= 0 {
			return settled, ErrAmountPositive
		}
		now := e.now()
		if now > v.Expiry {
			return settled, ErrExpired
		}
		digest := e.Digest(v)
		redeemed, err := e.state.RedeemedHas(digest)
		if err != nil {
			return settled, err
		}
		if redeemed {
			e.emit(NewBatchSkippedEvent(v, digest, "already_redeemed"))
			continue
		}
		signer, err := RecoverSigner(digest, signatures[i])
		if err != nil || signer != v.Payer {
			e.emit(NewBatchSkippedEvent(v, digest, "invalid_signature"))
			continue
		}
		if err := e.settle(v, digest, now); err != nil {
			return settled, err
		}
		settled++
	}
	return settled, nil
}

// settle applies the redemption effects for a verified voucher. Both total
// and reserved are checked explicitly: reserved can only exceed total if the
// purse invariant were violated elsewhere, which must never happen.
func (e *Engine) settle(v *Voucher, digest [32]byte, now int64) error {
	payerPurse, err := e.state.PurseGet(v.Payer)
	if err != nil {
		return err
	}
	if payerPurse.Total.Cmp(v.Amount) < 0 || payerPurse.Reserved.Cmp(v.Amount) < 0 {
		return ErrInsufficientFunds
	}
	if err := e.state.RedeemedMark(digest, now); err != nil {
		return err
	}
	payerPurse.Total = new(big.Int).Sub(payerPurse.Total, v.Amount)
	payerPurse.Reserved = new(big.Int).Sub(payerPurse.Reserved, v.Amount)
	if err := e.state.PursePut(v.Payer, payerPurse); err != nil {
		return err
	}
	earnings, err := e.state.EarningsGet(v.Merchant)
	if err != nil {
		return err
	}
	if err := e.state.EarningsPut(v.Merchant, new(big.Int).Add(earnings, v.Amount)); err != nil {
		return err
	}
	e.emit(NewRedeemedEvent(v, digest))
	return nil
}

// WithdrawMerchant pays accumulated earnings out to the merchant through the
// external token. Earnings are debited before the external call; a rejected
// transfer restores them.
func (e *Engine) WithdrawMerchant(caller [20]byte, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.token == nil {
		return errNilToken
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrAmountPositive
	}
	earnings, err := e.state.EarningsGet(caller)
	if err != nil {
		return err
	}
	if earnings.Cmp(amount) < 0 {
		return ErrInsufficientEarnings
	}
	if err := e.state.EarningsPut(caller, new(big.Int).Sub(earnings, amount)); err != nil {
		return err
	}
	if err := e.token.Transfer(e.vault, caller, amount); err != nil {
		if restoreErr := e.state.EarningsPut(caller, earnings); restoreErr != nil {
			return fmt.Errorf("voucher engine: withdraw transfer failed (%v) and earnings restore failed: %w", err, restoreErr)
		}
		return fmt.Errorf("voucher engine: withdraw transfer: %w", err)
	}
	e.emit(NewMerchantWithdrawnEvent(caller, amount))
	return nil
}
