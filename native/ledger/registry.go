package ledger

import (
	"math/big"

	"custodia/core/events"
	"custodia/crypto"
)

func (e *Engine) requireOwner(caller crypto.Address) error {
	if caller.IsZero() || !caller.Equal(e.owner) {
		return ErrUnauthorized
	}
	return nil
}

// AddMarket registers a new supported asset with its risk and rate parameters.
// Markets start active with zero totals; once created they are never removed.
// Owner-only.
func (e *Engine) AddMarket(caller crypto.Address, symbol string, collateralFactorBps, supplyRateBps, borrowRateBps uint64) error {
	if err := e.begin(); err != nil {
		return err
	}
	defer e.end()
	if err := e.requireOwner(caller); err != nil {
		return err
	}
	symbol = normalizeSymbol(symbol)
	if symbol == "" {
		return ErrInvalidAsset
	}
	if collateralFactorBps > 10_000 {
		return ErrInvalidCollateralFactor
	}
	existing, err := e.state.GetMarket(symbol)
	if err != nil {
		return err
	}
	if existing != nil && existing.Active {
		return ErrMarketExists
	}

	market := &Market{
		Symbol:              symbol,
		CollateralFactorBps: collateralFactorBps,
		SupplyRateBps:       supplyRateBps,
		BorrowRateBps:       borrowRateBps,
		TotalSupply:         big.NewInt(0),
		TotalBorrow:         big.NewInt(0),
		Active:              true,
		CreatedAt:           e.now(),
	}
	if existing != nil {
		// Re-adding a deactivated market overwrites parameters only. The
		// per-account balances survived deactivation, so the totals must too.
		market.TotalSupply = cloneBigInt(existing.TotalSupply)
		market.TotalBorrow = cloneBigInt(existing.TotalBorrow)
		market.CreatedAt = existing.CreatedAt
	}
	if err := e.state.PutMarket(market); err != nil {
		return err
	}
	if existing == nil {
		if err := e.state.AppendAsset(symbol); err != nil {
			return err
		}
	}

	e.emit(events.LedgerMarketAdded{
		Symbol:              symbol,
		CollateralFactorBps: collateralFactorBps,
	}.Event())
	return nil
}

// UpdateMarket overwrites the mutable risk and rate parameters of an active
// market. Totals are untouched. Owner-only.
func (e *Engine) UpdateMarket(caller crypto.Address, symbol string, collateralFactorBps, supplyRateBps, borrowRateBps uint64) error {
	if err := e.begin(); err != nil {
		return err
	}
	defer e.end()
	if err := e.requireOwner(caller); err != nil {
		return err
	}
	symbol = normalizeSymbol(symbol)
	if collateralFactorBps > 10_000 {
		return ErrInvalidCollateralFactor
	}
	market, err := e.activeMarket(symbol)
	if err != nil {
		return err
	}

	market.CollateralFactorBps = collateralFactorBps
	market.SupplyRateBps = supplyRateBps
	market.BorrowRateBps = borrowRateBps
	if err := e.state.PutMarket(market); err != nil {
		return err
	}

	e.emit(events.LedgerMarketUpdated{
		Symbol:              symbol,
		CollateralFactorBps: collateralFactorBps,
		SupplyRateBps:       supplyRateBps,
		BorrowRateBps:       borrowRateBps,
		Active:              market.Active,
	}.Event())
	e.emit(events.LedgerRatesUpdated{
		Symbol:        symbol,
		SupplyRateBps: supplyRateBps,
		BorrowRateBps: borrowRateBps,
	}.Event())
	return nil
}

// SetMarketActive toggles a market's activation flag. Deactivated markets
// reject deposits, withdrawals, borrows, and repays, and are skipped by the
// risk walk. Owner-only.
func (e *Engine) SetMarketActive(caller crypto.Address, symbol string, active bool) error {
	if err := e.begin(); err != nil {
		return err
	}
	defer e.end()
	if err := e.requireOwner(caller); err != nil {
		return err
	}
	symbol = normalizeSymbol(symbol)
	market, err := e.state.GetMarket(symbol)
	if err != nil {
		return err
	}
	if market == nil {
		return ErrMarketInactive
	}
	market.Active = active
	if err := e.state.PutMarket(market); err != nil {
		return err
	}

	e.emit(events.LedgerMarketUpdated{
		Symbol:              symbol,
		CollateralFactorBps: market.CollateralFactorBps,
		SupplyRateBps:       market.SupplyRateBps,
		BorrowRateBps:       market.BorrowRateBps,
		Active:              active,
	}.Event())
	return nil
}

// RecoverAssets pushes amount of an asset out of custody to the recipient
// without touching the ledger accounting. Emergency use only. Owner-only.
func (e *Engine) RecoverAssets(caller crypto.Address, symbol string, amount *big.Int, recipient crypto.Address) error {
	if err := e.begin(); err != nil {
		return err
	}
	defer e.end()
	if e.bridge == nil {
		return errNilBridge
	}
	if err := e.requireOwner(caller); err != nil {
		return err
	}
	symbol = normalizeSymbol(symbol)
	if symbol == "" {
		return ErrInvalidAsset
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if err := e.bridge.Push(symbol, recipient, amount); err != nil {
		return err
	}

	e.emit(events.LedgerAssetsRecovered{
		Symbol:    symbol,
		Amount:    cloneBigInt(amount),
		Recipient: addressFixed(recipient),
	}.Event())
	return nil
}

// Market returns a snapshot of the named market, or nil when it has never been
// registered.
func (e *Engine) Market(symbol string) (*Market, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	market, err := e.state.GetMarket(normalizeSymbol(symbol))
	if err != nil || market == nil {
		return nil, err
	}
	out := *market
	out.TotalSupply = cloneBigInt(market.TotalSupply)
	out.TotalBorrow = cloneBigInt(market.TotalBorrow)
	return &out, nil
}

// Position returns a snapshot of the account's aggregate totals. Accounts are
// created implicitly, so an untouched address reports a zero-valued position.
func (e *Engine) Position(addr crypto.Address) (*Position, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	position, err := e.ensurePosition(addr)
	if err != nil {
		return nil, err
	}
	out := *position
	out.TotalDeposited = cloneBigInt(position.TotalDeposited)
	out.TotalBorrowed = cloneBigInt(position.TotalBorrowed)
	return &out, nil
}

// Balance returns a snapshot of the account's deposit and borrow legs for one
// asset.
func (e *Engine) Balance(addr crypto.Address, symbol string) (*AssetBalance, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	balance, err := e.ensureBalance(addr, normalizeSymbol(symbol))
	if err != nil {
		return nil, err
	}
	out := *balance
	out.Deposited = cloneBigInt(balance.Deposited)
	out.Borrowed = cloneBigInt(balance.Borrowed)
	return &out, nil
}

// SupportedAssets returns the registry's insertion-ordered asset list.
func (e *Engine) SupportedAssets() ([]string, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	return e.state.AssetList()
}
