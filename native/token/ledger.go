package token

import (
	"errors"
	"math/big"
	"strings"
	"sync"
)

var (
	ErrInsufficientBalance = errors.New("token ledger: insufficient balance")
	errInvalidAmount       = errors.New("token ledger: amount must be non-negative")
)

// Ledger is a plain fungible-balance ledger. The purse and loan engines treat
// the external assets (the MUSD stablecoin and the native collateral asset)
// as opaque collaborators behind narrow transfer interfaces; this type is the
// in-process implementation backing tests and the local environment.
type Ledger struct {
	mu       sync.Mutex
	symbol   string
	balances map[[20]byte]*big.Int
}

// NewLedger constructs an empty ledger for the given asset symbol.
func NewLedger(symbol string) *Ledger {
	return &Ledger{
		symbol:   strings.ToUpper(strings.TrimSpace(symbol)),
		balances: make(map[[20]byte]*big.Int),
	}
}

// Symbol returns the canonical asset symbol.
func (l *Ledger) Symbol() string { return l.symbol }

// Mint credits freshly issued units to the address.
func (l *Ledger) Mint(addr [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return errInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.credit(addr, amount)
	return nil
}

// Burn destroys units held by the address.
func (l *Ledger) Burn(addr [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return errInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.debit(addr, amount)
}

// Transfer moves units between two addresses.
func (l *Ledger) Transfer(from, to [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return errInvalidAmount
	}
	if amount.Sign() == 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.debit(from, amount); err != nil {
		return err
	}
	l.credit(to, amount)
	return nil
}

// BalanceOf reports the units held by the address.
func (l *Ledger) BalanceOf(addr [20]byte) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if balance, ok := l.balances[addr]; ok {
		return new(big.Int).Set(balance), nil
	}
	return big.NewInt(0), nil
}

func (l *Ledger) credit(addr [20]byte, amount *big.Int) {
	current, ok := l.balances[addr]
	if !ok {
		current = big.NewInt(0)
	}
	l.balances[addr] = new(big.Int).Add(current, amount)
}

func (l *Ledger) debit(addr [20]byte, amount *big.Int) error {
	current, ok := l.balances[addr]
	if !ok || current.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	l.balances[addr] = new(big.Int).Sub(current, amount)
	return nil
}
