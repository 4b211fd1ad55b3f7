package events

import (
	"math/big"
	"strings"

	"custodia/core/types"
	"custodia/crypto"
)

const (
	// TypeLedgerMarketAdded is emitted when a new market is registered.
	TypeLedgerMarketAdded = "ledger.market.added"
	// TypeLedgerMarketUpdated is emitted when a market's risk parameters change.
	TypeLedgerMarketUpdated = "ledger.market.updated"
	// TypeLedgerRatesUpdated is emitted alongside market updates so rate
	// indexers do not need to diff the full market payload.
	TypeLedgerRatesUpdated = "ledger.rates.updated"
	// TypeLedgerDeposit is emitted when collateral is credited to a position.
	TypeLedgerDeposit = "ledger.deposit"
	// TypeLedgerWithdraw is emitted when collateral is returned to an account.
	TypeLedgerWithdraw = "ledger.withdraw"
	// TypeLedgerBorrow is emitted when an account draws down a loan.
	TypeLedgerBorrow = "ledger.borrow"
	// TypeLedgerRepay is emitted when borrowed funds are returned.
	TypeLedgerRepay = "ledger.repay"
	// TypeLedgerLiquidate is emitted when an undercollateralized position is
	// partially closed by a liquidator.
	TypeLedgerLiquidate = "ledger.liquidate"
	// TypeLedgerAssetsRecovered is emitted when the operator sweeps stray
	// vault balances back to the treasury.
	TypeLedgerAssetsRecovered = "ledger.assets.recovered"
)

func addressAttr(b [20]byte) string {
	if b == ([20]byte{}) {
		return ""
	}
	return crypto.NewAddress(crypto.LedgerPrefix, b[:]).String()
}

func amountAttr(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

type LedgerMarketAdded struct {
	Symbol              string
	CollateralFactorBps uint64
}

func (LedgerMarketAdded) EventType() string { return TypeLedgerMarketAdded }

func (e LedgerMarketAdded) Event() *types.Event {
	return &types.Event{
		Type: TypeLedgerMarketAdded,
		Attributes: map[string]string{
			"symbol":           strings.TrimSpace(e.Symbol),
			"collateralFactor": new(big.Int).SetUint64(e.CollateralFactorBps).String(),
		},
	}
}

type LedgerMarketUpdated struct {
	Symbol              string
	CollateralFactorBps uint64
	SupplyRateBps       uint64
	BorrowRateBps       uint64
	Active              bool
}

func (LedgerMarketUpdated) EventType() string { return TypeLedgerMarketUpdated }

func (e LedgerMarketUpdated) Event() *types.Event {
	active := "false"
	if e.Active {
		active = "true"
	}
	return &types.Event{
		Type: TypeLedgerMarketUpdated,
		Attributes: map[string]string{
			"symbol":           strings.TrimSpace(e.Symbol),
			"collateralFactor": new(big.Int).SetUint64(e.CollateralFactorBps).String(),
			"supplyRate":       new(big.Int).SetUint64(e.SupplyRateBps).String(),
			"borrowRate":       new(big.Int).SetUint64(e.BorrowRateBps).String(),
			"active":           active,
		},
	}
}

type LedgerRatesUpdated struct {
	Symbol        string
	SupplyRateBps uint64
	BorrowRateBps uint64
}

func (LedgerRatesUpdated) EventType() string { return TypeLedgerRatesUpdated }

func (e LedgerRatesUpdated) Event() *types.Event {
	return &types.Event{
		Type: TypeLedgerRatesUpdated,
		Attributes: map[string]string{
			"symbol":     strings.TrimSpace(e.Symbol),
			"supplyRate": new(big.Int).SetUint64(e.SupplyRateBps).String(),
			"borrowRate": new(big.Int).SetUint64(e.BorrowRateBps).String(),
		},
	}
}

type LedgerDeposit struct {
	Account [20]byte
	Symbol  string
	Amount  *big.Int
}

func (LedgerDeposit) EventType() string { return TypeLedgerDeposit }

func (e LedgerDeposit) Event() *types.Event {
	return &types.Event{
		Type: TypeLedgerDeposit,
		Attributes: map[string]string{
			"account": addressAttr(e.Account),
			"symbol":  strings.TrimSpace(e.Symbol),
			"amount":  amountAttr(e.Amount),
		},
	}
}

type LedgerWithdraw struct {
	Account [20]byte
	Symbol  string
	Amount  *big.Int
}

func (LedgerWithdraw) EventType() string { return TypeLedgerWithdraw }

func (e LedgerWithdraw) Event() *types.Event {
	return &types.Event{
		Type: TypeLedgerWithdraw,
		Attributes: map[string]string{
			"account": addressAttr(e.Account),
			"symbol":  strings.TrimSpace(e.Symbol),
			"amount":  amountAttr(e.Amount),
		},
	}
}

type LedgerBorrow struct {
	Account [20]byte
	Symbol  string
	Amount  *big.Int
}

func (LedgerBorrow) EventType() string { return TypeLedgerBorrow }

func (e LedgerBorrow) Event() *types.Event {
	return &types.Event{
		Type: TypeLedgerBorrow,
		Attributes: map[string]string{
			"account": addressAttr(e.Account),
			"symbol":  strings.TrimSpace(e.Symbol),
			"amount":  amountAttr(e.Amount),
		},
	}
}

type LedgerRepay struct {
	Account [20]byte
	Symbol  string
	Amount  *big.Int
}

func (LedgerRepay) EventType() string { return TypeLedgerRepay }

func (e LedgerRepay) Event() *types.Event {
	return &types.Event{
		Type: TypeLedgerRepay,
		Attributes: map[string]string{
			"account": addressAttr(e.Account),
			"symbol":  strings.TrimSpace(e.Symbol),
			"amount":  amountAttr(e.Amount),
		},
	}
}

type LedgerLiquidate struct {
	Liquidator       [20]byte
	Borrower         [20]byte
	RepaySymbol      string
	RepayAmount      *big.Int
	CollateralSymbol string
	SeizedAmount     *big.Int
}

func (LedgerLiquidate) EventType() string { return TypeLedgerLiquidate }

func (e LedgerLiquidate) Event() *types.Event {
	return &types.Event{
		Type: TypeLedgerLiquidate,
		Attributes: map[string]string{
			"liquidator":       addressAttr(e.Liquidator),
			"borrower":         addressAttr(e.Borrower),
			"repaySymbol":      strings.TrimSpace(e.RepaySymbol),
			"repayAmount":      amountAttr(e.RepayAmount),
			"collateralSymbol": strings.TrimSpace(e.CollateralSymbol),
			"seizedAmount":     amountAttr(e.SeizedAmount),
		},
	}
}

type LedgerAssetsRecovered struct {
	Symbol    string
	Amount    *big.Int
	Recipient [20]byte
}

func (LedgerAssetsRecovered) EventType() string { return TypeLedgerAssetsRecovered }

func (e LedgerAssetsRecovered) Event() *types.Event {
	return &types.Event{
		Type: TypeLedgerAssetsRecovered,
		Attributes: map[string]string{
			"symbol":    strings.TrimSpace(e.Symbol),
			"amount":    amountAttr(e.Amount),
			"recipient": addressAttr(e.Recipient),
		},
	}
}
