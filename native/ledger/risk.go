package ledger

import (
	"math"
	"math/big"

	"custodia/crypto"
)

// MaxRatio is the sentinel collateralization ratio reported for positions with
// no outstanding borrow. A position with nothing borrowed is always safe.
var MaxRatio = new(big.Int).SetUint64(math.MaxUint64)

// riskAdjustment simulates a pending operation inside the risk totals without
// mutating the ledger. DepositDelta is subtracted from the named asset's
// deposit leg (floored at zero), BorrowDelta is added to its borrow leg.
type riskAdjustment struct {
	symbol       string
	depositDelta *big.Int
	borrowDelta  *big.Int
}

// riskTotals walks every active market in registry order and accumulates the
// weighted collateral value and the raw borrow value for the account. The
// withdraw and borrow gates reuse this single walk with an adjustment applied,
// so the simulated and the current ratio can never drift apart structurally.
func (e *Engine) riskTotals(addr crypto.Address, adj *riskAdjustment) (*big.Int, *big.Int, error) {
	assets, err := e.state.AssetList()
	if err != nil {
		return nil, nil, err
	}
	collateralValue := big.NewInt(0)
	borrowValue := big.NewInt(0)
	for _, symbol := range assets {
		market, err := e.state.GetMarket(symbol)
		if err != nil {
			return nil, nil, err
		}
		if market == nil || !market.Active {
			continue
		}
		balance, err := e.ensureBalance(addr, symbol)
		if err != nil {
			return nil, nil, err
		}
		deposited := cloneBigInt(balance.Deposited)
		borrowed := cloneBigInt(balance.Borrowed)
		if adj != nil && adj.symbol == symbol {
			if adj.depositDelta != nil {
				deposited.Sub(deposited, adj.depositDelta)
				if deposited.Sign() < 0 {
					deposited.SetInt64(0)
				}
			}
			if adj.borrowDelta != nil {
				borrowed.Add(borrowed, adj.borrowDelta)
			}
		}
		weighted := new(big.Int).Mul(deposited, new(big.Int).SetUint64(market.CollateralFactorBps))
		weighted.Quo(weighted, basisPoints)
		collateralValue.Add(collateralValue, weighted)
		borrowValue.Add(borrowValue, borrowed)
	}
	return collateralValue, borrowValue, nil
}

// ratio reduces the risk totals to a basis-point ratio. The boolean reports
// the infinite case (zero borrow value).
func (e *Engine) ratio(addr crypto.Address, adj *riskAdjustment) (*big.Int, bool, error) {
	collateralValue, borrowValue, err := e.riskTotals(addr, adj)
	if err != nil {
		return nil, false, err
	}
	if borrowValue.Sign() == 0 {
		return new(big.Int).Set(MaxRatio), true, nil
	}
	out := new(big.Int).Mul(collateralValue, basisPoints)
	out.Quo(out, borrowValue)
	return out, false, nil
}

// CollateralizationRatio reports the account's current ratio in basis points.
// Accounts with no outstanding borrow report MaxRatio.
func (e *Engine) CollateralizationRatio(addr crypto.Address) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	ratio, _, err := e.ratio(addr, nil)
	return ratio, err
}

func (e *Engine) canWithdraw(addr crypto.Address, symbol string, amount *big.Int) (bool, error) {
	_, infinite, err := e.ratio(addr, nil)
	if err != nil {
		return false, err
	}
	if infinite {
		return true, nil
	}
	simulated, infinite, err := e.ratio(addr, &riskAdjustment{symbol: symbol, depositDelta: amount})
	if err != nil {
		return false, err
	}
	if infinite {
		return true, nil
	}
	return simulated.Cmp(big.NewInt(LiquidationThresholdBps)) >= 0, nil
}

func (e *Engine) canBorrow(addr crypto.Address, symbol string, amount *big.Int) (bool, error) {
	// With no existing borrow the gate approves immediately; the resulting
	// ratio is not rechecked against the requested amount. The first borrow
	// is bounded only by market liquidity.
	_, infinite, err := e.ratio(addr, nil)
	if err != nil {
		return false, err
	}
	if infinite {
		return true, nil
	}
	simulated, infinite, err := e.ratio(addr, &riskAdjustment{symbol: symbol, borrowDelta: amount})
	if err != nil {
		return false, err
	}
	if infinite {
		return true, nil
	}
	return simulated.Cmp(big.NewInt(LiquidationThresholdBps)) >= 0, nil
}

// CanWithdraw reports whether withdrawing amount of the asset would keep the
// account's position at or above the liquidation threshold.
func (e *Engine) CanWithdraw(addr crypto.Address, symbol string, amount *big.Int) (bool, error) {
	if e == nil || e.state == nil {
		return false, errNilState
	}
	return e.canWithdraw(addr, normalizeSymbol(symbol), amount)
}

// CanBorrow reports whether borrowing amount of the asset would keep the
// account's position at or above the liquidation threshold.
func (e *Engine) CanBorrow(addr crypto.Address, symbol string, amount *big.Int) (bool, error) {
	if e == nil || e.state == nil {
		return false, errNilState
	}
	return e.canBorrow(addr, normalizeSymbol(symbol), amount)
}

// IsLiquidatable reports whether the account's aggregate ratio has fallen
// below the liquidation threshold. Infinite ratios are never liquidatable.
func (e *Engine) IsLiquidatable(addr crypto.Address) (bool, error) {
	if e == nil || e.state == nil {
		return false, errNilState
	}
	ratio, infinite, err := e.ratio(addr, nil)
	if err != nil {
		return false, err
	}
	if infinite {
		return false, nil
	}
	return ratio.Cmp(big.NewInt(LiquidationThresholdBps)) < 0, nil
}
