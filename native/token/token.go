package token

import (
	"errors"
	"math/big"

	"custodia/crypto"
)

var (
	errNilStore = errors.New("token ledger: store not configured")

	ErrInvalidAmount     = errors.New("token ledger: amount must be positive")
	ErrInsufficientFunds = errors.New("token ledger: insufficient funds")
)

type store interface {
	GetTokenBalance(addr crypto.Address, symbol string) (*big.Int, error)
	PutTokenBalance(addr crypto.Address, symbol string, amount *big.Int) error
}

// Ledger tracks external fungible-asset balances per (account, symbol). It
// models the asset side of the system: the collateral engine only ever moves
// value through it via the Vault.
type Ledger struct {
	store store
}

func NewLedger(s store) *Ledger {
	return &Ledger{store: s}
}

// SetStore wires the ledger to the persistence layer.
func (l *Ledger) SetStore(s store) { l.store = s }

func (l *Ledger) balance(addr crypto.Address, symbol string) (*big.Int, error) {
	bal, err := l.store.GetTokenBalance(addr, symbol)
	if err != nil {
		return nil, err
	}
	if bal == nil {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(bal), nil
}

// BalanceOf reports the account's spendable balance for the symbol.
func (l *Ledger) BalanceOf(addr crypto.Address, symbol string) (*big.Int, error) {
	if l == nil || l.store == nil {
		return nil, errNilStore
	}
	return l.balance(addr, symbol)
}

// Mint credits freshly issued funds to the account. Used for genesis balances
// and test fixtures.
func (l *Ledger) Mint(addr crypto.Address, symbol string, amount *big.Int) error {
	if l == nil || l.store == nil {
		return errNilStore
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	bal, err := l.balance(addr, symbol)
	if err != nil {
		return err
	}
	return l.store.PutTokenBalance(addr, symbol, bal.Add(bal, amount))
}

// Transfer moves amount between two accounts, failing loudly when the sender
// cannot cover it.
func (l *Ledger) Transfer(from, to crypto.Address, symbol string, amount *big.Int) error {
	if l == nil || l.store == nil {
		return errNilStore
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	fromBal, err := l.balance(from, symbol)
	if err != nil {
		return err
	}
	if fromBal.Cmp(amount) < 0 {
		return ErrInsufficientFunds
	}
	toBal, err := l.balance(to, symbol)
	if err != nil {
		return err
	}
	if err := l.store.PutTokenBalance(from, symbol, fromBal.Sub(fromBal, amount)); err != nil {
		return err
	}
	return l.store.PutTokenBalance(to, symbol, toBal.Add(toBal, amount))
}

// Vault adapts the token ledger to the collateral engine's bridge interface.
// Pulled funds accumulate under the custody address; pushes pay out of it.
type Vault struct {
	ledger  *Ledger
	custody crypto.Address
}

func NewVault(ledger *Ledger, custody crypto.Address) *Vault {
	return &Vault{ledger: ledger, custody: custody}
}

// Custody returns the vault's custody address.
func (v *Vault) Custody() crypto.Address { return v.custody }

// Pull moves amount from the account into custody.
func (v *Vault) Pull(symbol string, from crypto.Address, amount *big.Int) error {
	return v.ledger.Transfer(from, v.custody, symbol, amount)
}

// Push moves amount out of custody to the account.
func (v *Vault) Push(symbol string, to crypto.Address, amount *big.Int) error {
	return v.ledger.Transfer(v.custody, to, symbol, amount)
}
