package core

import (
	"fmt"
	"log/slog"
	"math/big"
	"sync"

	"pursechain/core/events"
	"pursechain/core/types"
	"pursechain/native/loan"
	"pursechain/native/purse"
	"pursechain/native/voucher"
	"pursechain/observability/metrics"
	"pursechain/state"
)

// AssetLedger is the external token surface the node hands to its engines:
// the MUSD stablecoin and the native collateral asset both satisfy it.
type AssetLedger interface {
	Transfer(from, to [20]byte, amount *big.Int) error
	BalanceOf(addr [20]byte) (*big.Int, error)
}

type eventCarrier interface {
	Event() *types.Event
}

// memoryEmitter buffers engine events for the duration of one entry point.
// The buffer reaches the node's event log only when the overlay commits, so
// aborted calls emit nothing.
type memoryEmitter struct {
	events []*types.Event
}

func (m *memoryEmitter) Emit(evt events.Event) {
	carrier, ok := evt.(eventCarrier)
	if !ok {
		return
	}
	if e := carrier.Event(); e != nil {
		m.events = append(m.events, e)
	}
}

// Node is the ledger's execution surface. Every mutating entry point runs
// serialized under one mutex against a fresh state overlay and commits only
// on success, reproducing the run-to-completion-or-revert semantics of the
// contract execution model. Two callers racing for the same payer's reserved
// balance are ordered by the mutex; the second sees the first's committed
// effects.
type Node struct {
	mu           sync.Mutex
	ledger       state.Ledger
	chainID      uint64
	ledgerAddr   [20]byte
	stable       AssetLedger
	collateral   AssetLedger
	collaborator loan.Collaborator
	log          []*types.Event
	logger       *slog.Logger
	metrics      *metrics.LedgerMetrics
	nowFn        func() int64
}

// NewNode constructs a node over the persistent ledger state, scoped to one
// deployment by the chain identifier and ledger address.
func NewNode(ledger state.Ledger, chainID uint64, ledgerAddr [20]byte, stable, collateral AssetLedger) *Node {
	return &Node{
		ledger:     ledger,
		chainID:    chainID,
		ledgerAddr: ledgerAddr,
		stable:     stable,
		collateral: collateral,
		logger:     slog.Default(),
		metrics:    metrics.Ledger(),
	}
}

// SetCollaborator wires the external lending protocol binding.
func (n *Node) SetCollaborator(c loan.Collaborator) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.collaborator = c
}

// SetLogger replaces the node logger. Passing nil resets it to the default.
func (n *Node) SetLogger(logger *slog.Logger) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if logger == nil {
		logger = slog.Default()
	}
	n.logger = logger
}

// SetNowFunc overrides the clock used for voucher expiry checks, primarily
// for deterministic tests.
func (n *Node) SetNowFunc(now func() int64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.nowFn = now
}

// ChainID returns the deployment chain identifier.
func (n *Node) ChainID() uint64 { return n.chainID }

// LedgerAddress returns the vault address holding all purse funds.
func (n *Node) LedgerAddress() [20]byte { return n.ledgerAddr }

// Events returns a snapshot of the committed event log.
func (n *Node) Events() []*types.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	snapshot := make([]*types.Event, len(n.log))
	copy(snapshot, n.log)
	return snapshot
}

// withCommit runs fn against a fresh overlay under the node mutex. The
// overlay and the buffered events are discarded when fn fails.
func (n *Node) withCommit(fn func(ov *state.Overlay, em *memoryEmitter) error) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	ov := state.NewOverlay(n.ledger)
	em := &memoryEmitter{}
	if err := fn(ov, em); err != nil {
		return err
	}
	if err := ov.Commit(); err != nil {
		// External token moves made inside fn are already final; a failed
		// commit here loses their ledger record, so the operator must hear
		// about it.
		n.logger.Error("state commit failed after external transfers applied", "error", err)
		return fmt.Errorf("core: state commit: %w", err)
	}
	n.log = append(n.log, em.events...)
	return nil
}

func (n *Node) purseEngine(ov *state.Overlay, em events.Emitter) *purse.Engine {
	engine := purse.NewEngine(n.ledgerAddr)
	engine.SetState(ov)
	engine.SetToken(n.stable)
	engine.SetEmitter(em)
	return engine
}

func (n *Node) voucherEngine(ov *state.Overlay, em events.Emitter) *voucher.Engine {
	engine := voucher.NewEngine(n.chainID, n.ledgerAddr)
	engine.SetState(ov)
	engine.SetToken(n.stable)
	engine.SetEmitter(em)
	if n.nowFn != nil {
		engine.SetNowFunc(n.nowFn)
	}
	return engine
}

func (n *Node) loanEngine(ov *state.Overlay, em events.Emitter) *loan.Engine {
	engine := loan.NewEngine(n.ledgerAddr)
	engine.SetState(ov)
	engine.SetTokens(n.stable, n.collateral)
	engine.SetCollaborator(n.collaborator)
	engine.SetEmitter(em)
	return engine
}

// Deposit credits external stablecoin into the caller's purse.
func (n *Node) Deposit(caller [20]byte, amount *big.Int) error {
	err := n.withCommit(func(ov *state.Overlay, em *memoryEmitter) error {
		return n.purseEngine(ov, em).Deposit(caller, amount)
	})
	if err != nil {
		return err
	}
	n.metrics.ObservePurseOp("deposit")
	n.logger.Info("purse deposit settled", "amount", amount.String())
	return nil
}

// Withdraw pays available purse funds back out to the caller.
func (n *Node) Withdraw(caller [20]byte, amount *big.Int) error {
	err := n.withCommit(func(ov *state.Overlay, em *memoryEmitter) error {
		return n.purseEngine(ov, em).Withdraw(caller, amount)
	})
	if err != nil {
		return err
	}
	n.metrics.ObservePurseOp("withdraw")
	n.logger.Info("purse withdrawal settled", "amount", amount.String())
	return nil
}

// Reserve earmarks available purse funds to back vouchers.
func (n *Node) Reserve(caller [20]byte, amount *big.Int) error {
	err := n.withCommit(func(ov *state.Overlay, em *memoryEmitter) error {
		return n.purseEngine(ov, em).Reserve(caller, amount)
	})
	if err != nil {
		return err
	}
	n.metrics.ObservePurseOp("reserve")
	return nil
}

// Release returns reserved purse funds to the available portion.
func (n *Node) Release(caller [20]byte, amount *big.Int) error {
	err := n.withCommit(func(ov *state.Overlay, em *memoryEmitter) error {
		return n.purseEngine(ov, em).Release(caller, amount)
	})
	if err != nil {
		return err
	}
	n.metrics.ObservePurseOp("release")
	return nil
}

// Balances reports an address's total, reserved and available purse amounts.
func (n *Node) Balances(addr [20]byte) (total, reserved, available *big.Int, err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	engine := n.purseEngine(state.NewOverlay(n.ledger), events.NoopEmitter{})
	return engine.Balances(addr)
}

// Earnings reports a merchant's accumulated earnings.
func (n *Node) Earnings(addr [20]byte) (*big.Int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	engine := n.purseEngine(state.NewOverlay(n.ledger), events.NoopEmitter{})
	return engine.Earnings(addr)
}

// RedeemVoucher settles a single signed voucher for the calling merchant.
func (n *Node) RedeemVoucher(caller [20]byte, v *voucher.Voucher, signature []byte) error {
	err := n.withCommit(func(ov *state.Overlay, em *memoryEmitter) error {
		return n.voucherEngine(ov, em).RedeemVoucher(caller, v, signature)
	})
	if err != nil {
		return err
	}
	n.metrics.ObserveRedemptions(1)
	n.logger.Info("voucher settled")
	return nil
}

// RedeemBatch settles vouchers strictly in array order. A batch abort reverts
// every entry, including ones that settled before the failing entry, so the
// returned count is zero whenever the error is non-nil.
func (n *Node) RedeemBatch(caller [20]byte, vouchers []*voucher.Voucher, signatures [][]byte) (int, error) {
	settled := 0
	skipped := make(map[string]int)
	err := n.withCommit(func(ov *state.Overlay, em *memoryEmitter) error {
		count, err := n.voucherEngine(ov, em).RedeemBatch(caller, vouchers, signatures)
		if err != nil {
			return err
		}
		settled = count
		for _, evt := range em.events {
			if evt.Type == voucher.EventTypeBatchSkipped {
				skipped[evt.Attributes["reason"]]++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	n.metrics.ObserveRedemptions(settled)
	for reason, count := range skipped {
		for i := 0; i < count; i++ {
			n.metrics.ObserveBatchSkipped(reason)
		}
	}
	n.logger.Info("voucher batch settled", "settled", settled, "submitted", len(vouchers))
	return settled, nil
}

// IsRedeemed reports whether a voucher digest has been settled.
func (n *Node) IsRedeemed(digest [32]byte) (bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.ledger.RedeemedHas(digest)
}

// VoucherDigest returns the deployment-scoped digest for a voucher.
func (n *Node) VoucherDigest(v *voucher.Voucher) [32]byte {
	if v == nil {
		return [32]byte{}
	}
	return v.Digest(n.chainID, n.ledgerAddr)
}

// WithdrawMerchant pays accumulated earnings out to the calling merchant.
func (n *Node) WithdrawMerchant(caller [20]byte, amount *big.Int) error {
	err := n.withCommit(func(ov *state.Overlay, em *memoryEmitter) error {
		return n.voucherEngine(ov, em).WithdrawMerchant(caller, amount)
	})
	if err != nil {
		return err
	}
	n.metrics.ObserveMerchantPayout()
	return nil
}

// OpenAndBorrow opens the shared borrowing position and borrows stablecoin
// against the attached collateral.
func (n *Node) OpenAndBorrow(caller [20]byte, musdAmount, collateral *big.Int, depositToPurse bool, hintA, hintB [20]byte) (*big.Int, error) {
	var borrowed *big.Int
	err := n.withCommit(func(ov *state.Overlay, em *memoryEmitter) error {
		delta, err := n.loanEngine(ov, em).OpenAndBorrow(caller, musdAmount, collateral, depositToPurse, hintA, hintB)
		if err != nil {
			return err
		}
		borrowed = delta
		return nil
	})
	if err != nil {
		return nil, err
	}
	n.metrics.ObserveLoanOp("open")
	n.logger.Info("position opened", "borrowed", borrowed.String())
	return borrowed, nil
}

// RepayLoan reduces the shared debt.
func (n *Node) RepayLoan(caller [20]byte, amount *big.Int, fromPurse bool, hintA, hintB [20]byte) error {
	err := n.withCommit(func(ov *state.Overlay, em *memoryEmitter) error {
		return n.loanEngine(ov, em).Repay(caller, amount, fromPurse, hintA, hintB)
	})
	if err != nil {
		return err
	}
	n.metrics.ObserveLoanOp("repay")
	return nil
}

// CloseLoan fully repays the shared position and forwards the returned
// collateral to the caller.
func (n *Node) CloseLoan(caller [20]byte, fromPurse bool, hintA, hintB [20]byte) (*big.Int, error) {
	var returned *big.Int
	err := n.withCommit(func(ov *state.Overlay, em *memoryEmitter) error {
		collateral, err := n.loanEngine(ov, em).Close(caller, fromPurse, hintA, hintB)
		if err != nil {
			return err
		}
		returned = collateral
		return nil
	})
	if err != nil {
		return nil, err
	}
	n.metrics.ObserveLoanOp("close")
	n.logger.Info("position closed", "collateral_returned", returned.String())
	return returned, nil
}

// AddCollateral attaches more collateral to the open position.
func (n *Node) AddCollateral(caller [20]byte, amount *big.Int, hintA, hintB [20]byte) error {
	err := n.withCommit(func(ov *state.Overlay, em *memoryEmitter) error {
		return n.loanEngine(ov, em).AddCollateral(caller, amount, hintA, hintB)
	})
	if err != nil {
		return err
	}
	n.metrics.ObserveLoanOp("add_collateral")
	return nil
}

// WithdrawCollateral detaches collateral from the open position, subject to
// the minimum ratio.
func (n *Node) WithdrawCollateral(caller [20]byte, amount *big.Int, hintA, hintB [20]byte) error {
	err := n.withCommit(func(ov *state.Overlay, em *memoryEmitter) error {
		return n.loanEngine(ov, em).WithdrawCollateral(caller, amount, hintA, hintB)
	})
	if err != nil {
		return err
	}
	n.metrics.ObserveLoanOp("withdraw_collateral")
	return nil
}

// RefinanceLoan re-prices the position at the collaborator's current global
// rate.
func (n *Node) RefinanceLoan(caller [20]byte, hintA, hintB [20]byte) error {
	err := n.withCommit(func(ov *state.Overlay, em *memoryEmitter) error {
		return n.loanEngine(ov, em).Refinance(caller, hintA, hintB)
	})
	if err != nil {
		return err
	}
	n.metrics.ObserveLoanOp("refinance")
	return nil
}

// LoanDetails assembles the read-only view of the shared position.
func (n *Node) LoanDetails() (*loan.Details, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	engine := n.loanEngine(state.NewOverlay(n.ledger), events.NoopEmitter{})
	return engine.LoanDetails()
}

// CollateralizationRatioPercent reports the position's ratio as a whole
// percentage.
func (n *Node) CollateralizationRatioPercent() (*big.Int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	engine := n.loanEngine(state.NewOverlay(n.ledger), events.NoopEmitter{})
	return engine.CollateralizationRatioPercent()
}

// IsAtLiquidationRisk reports whether the position sits below the protocol's
// minimum collateral ratio.
func (n *Node) IsAtLiquidationRisk() (bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	engine := n.loanEngine(state.NewOverlay(n.ledger), events.NoopEmitter{})
	return engine.IsAtLiquidationRisk()
}
