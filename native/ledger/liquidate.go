package ledger

import (
	"errors"
	"math/big"

	"custodia/core/events"
	"custodia/crypto"
)

// bestCollateral selects the single collateral asset to seize from: the active
// market, among those where the account holds a positive deposit, maximizing
// the weighted deposit value. Strict greater-than keeps the first-registered
// asset on ties, since registry order is stable.
func (e *Engine) bestCollateral(addr crypto.Address) (string, *AssetBalance, error) {
	assets, err := e.state.AssetList()
	if err != nil {
		return "", nil, err
	}
	bestSymbol := ""
	var bestBalance *AssetBalance
	bestValue := big.NewInt(0)
	for _, symbol := range assets {
		market, err := e.state.GetMarket(symbol)
		if err != nil {
			return "", nil, err
		}
		if market == nil || !market.Active {
			continue
		}
		balance, err := e.ensureBalance(addr, symbol)
		if err != nil {
			return "", nil, err
		}
		if balance.Deposited.Sign() <= 0 {
			continue
		}
		value := new(big.Int).Mul(balance.Deposited, new(big.Int).SetUint64(market.CollateralFactorBps))
		value.Quo(value, basisPoints)
		if value.Cmp(bestValue) > 0 {
			bestValue = value
			bestSymbol = symbol
			bestBalance = balance
		}
	}
	if bestBalance == nil {
		return "", nil, ErrNoCollateral
	}
	return bestSymbol, bestBalance, nil
}

// Liquidate lets a third party repay amount of the account's borrow in the
// named asset in exchange for a penalty-adjusted amount of the account's
// single best collateral asset. The seize is all-or-nothing from that one
// asset: liquidation is rejected when the best asset cannot cover the full
// seize amount, even if collateral spread across other assets would suffice.
func (e *Engine) Liquidate(liquidator, account crypto.Address, symbol string, amount *big.Int) (*big.Int, error) {
	if err := e.begin(); err != nil {
		return nil, err
	}
	defer e.end()
	if e.bridge == nil {
		return nil, errNilBridge
	}
	symbol = normalizeSymbol(symbol)
	market, err := e.activeMarket(symbol)
	if err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}

	balance, err := e.ensureBalance(account, symbol)
	if err != nil {
		return nil, err
	}
	if balance.Borrowed.Cmp(amount) < 0 {
		return nil, ErrInsufficientBorrowToLiquidate
	}

	ratio, infinite, err := e.ratio(account, nil)
	if err != nil {
		return nil, err
	}
	if infinite || ratio.Cmp(big.NewInt(LiquidationThresholdBps)) >= 0 {
		return nil, ErrNotLiquidatable
	}

	seize := new(big.Int).Mul(amount, big.NewInt(10_000+LiquidationPenaltyBps))
	seize.Quo(seize, basisPoints)

	collateralSymbol, collateralBalance, err := e.bestCollateral(account)
	if err != nil {
		return nil, err
	}
	collateralMarket := market
	if collateralSymbol == symbol {
		// Repaid asset doubles as the seized collateral; mutate the
		// already-loaded records instead of stale copies.
		collateralBalance = balance
	} else {
		collateralMarket, err = e.activeMarket(collateralSymbol)
		if err != nil {
			return nil, err
		}
	}
	if collateralBalance.Deposited.Cmp(seize) < 0 {
		return nil, ErrInsufficientCollateral
	}

	position, err := e.ensurePosition(account)
	if err != nil {
		return nil, err
	}

	newBorrowed, err := subBigInt(balance.Borrowed, amount)
	if err != nil {
		return nil, err
	}
	newTotalBorrowed, err := subBigInt(position.TotalBorrowed, amount)
	if err != nil {
		return nil, err
	}
	newMarketBorrow, err := subBigInt(market.TotalBorrow, amount)
	if err != nil {
		return nil, err
	}
	newDeposited, err := subBigInt(collateralBalance.Deposited, seize)
	if err != nil {
		return nil, err
	}
	newTotalDeposited, err := subBigInt(position.TotalDeposited, seize)
	if err != nil {
		return nil, err
	}
	newCollateralSupply, err := subBigInt(collateralMarket.TotalSupply, seize)
	if err != nil {
		return nil, err
	}

	if err := e.bridge.Pull(symbol, liquidator, amount); err != nil {
		return nil, err
	}
	if err := e.bridge.Push(collateralSymbol, liquidator, seize); err != nil {
		// The repayment is already in custody with nothing recorded against
		// it; return it so a failed seize leaves the liquidator whole.
		if refundErr := e.bridge.Push(symbol, liquidator, amount); refundErr != nil {
			return nil, errors.Join(err, refundErr)
		}
		return nil, err
	}

	balance.Borrowed = newBorrowed
	position.TotalBorrowed = newTotalBorrowed
	market.TotalBorrow = newMarketBorrow
	collateralBalance.Deposited = newDeposited
	position.TotalDeposited = newTotalDeposited
	collateralMarket.TotalSupply = newCollateralSupply
	position.LastUpdate = e.now()

	if err := e.state.PutBalance(balance); err != nil {
		return nil, err
	}
	if collateralSymbol != symbol {
		if err := e.state.PutBalance(collateralBalance); err != nil {
			return nil, err
		}
		if err := e.state.PutMarket(collateralMarket); err != nil {
			return nil, err
		}
	}
	if err := e.state.PutPosition(position); err != nil {
		return nil, err
	}
	if err := e.state.PutMarket(market); err != nil {
		return nil, err
	}

	e.emit(events.LedgerLiquidate{
		Liquidator:       addressFixed(liquidator),
		Borrower:         addressFixed(account),
		RepaySymbol:      symbol,
		RepayAmount:      cloneBigInt(amount),
		CollateralSymbol: collateralSymbol,
		SeizedAmount:     cloneBigInt(seize),
	}.Event())
	return seize, nil
}
