package ledger

import (
	"math/big"
	"strings"
	"time"

	"custodia/core/events"
	"custodia/core/types"
	"custodia/crypto"
	nativecommon "custodia/native/common"
)

var basisPoints = big.NewInt(10_000)

const (
	// LiquidationThresholdBps is the minimum collateralization ratio below
	// which a position becomes liquidatable.
	LiquidationThresholdBps = 8_000
	// LiquidationPenaltyBps is the bonus added to the liquidator's seized
	// collateral relative to the repaid amount.
	LiquidationPenaltyBps = 500
)

const moduleName = "ledger"

type engineState interface {
	GetMarket(symbol string) (*Market, error)
	PutMarket(market *Market) error
	AssetList() ([]string, error)
	AppendAsset(symbol string) error
	GetPosition(addr crypto.Address) (*Position, error)
	PutPosition(position *Position) error
	GetBalance(addr crypto.Address, symbol string) (*AssetBalance, error)
	PutBalance(balance *AssetBalance) error
	GetNonce(addr crypto.Address) (uint64, error)
	PutNonce(addr crypto.Address, nonce uint64) error
}

// TokenBridge is the external transfer collaborator. Pull moves funds from an
// account into the ledger's custody, Push moves funds back out. Both fail
// loudly; a short transfer is never silently accepted.
type TokenBridge interface {
	Pull(symbol string, from crypto.Address, amount *big.Int) error
	Push(symbol string, to crypto.Address, amount *big.Int) error
}

type ledgerEvent struct {
	evt *types.Event
}

func (e ledgerEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e ledgerEvent) Event() *types.Event { return e.evt }

// Engine orchestrates the primary state transitions for the collateral ledger.
// Every entry point runs to completion under the single-writer execution model;
// the reentrancy latch rejects recursive invocations triggered by the token
// bridge while an operation is in flight.
type Engine struct {
	state   engineState
	bridge  TokenBridge
	owner   crypto.Address
	pauses  nativecommon.PauseView
	emitter events.Emitter
	nowFn   func() int64
	entered bool
}

// NewEngine constructs a ledger engine owned by the given registry owner. The
// engine starts with a no-op emitter; callers override it via SetEmitter.
func NewEngine(owner crypto.Address) *Engine {
	return &Engine{
		owner:   owner,
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetBridge wires the engine to the external asset transfer collaborator.
func (e *Engine) SetBridge(bridge TokenBridge) { e.bridge = bridge }

func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if e == nil {
		return
	}
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if e == nil {
		return
	}
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
	e.emitter.Emit(ledgerEvent{evt: event})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

// begin acquires the reentrancy latch and runs the shared operation guards.
func (e *Engine) begin() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.entered {
		return ErrReentrantCall
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	e.entered = true
	return nil
}

func (e *Engine) end() { e.entered = false }

func normalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// activeMarket loads the market for symbol and requires it to be active.
func (e *Engine) activeMarket(symbol string) (*Market, error) {
	market, err := e.state.GetMarket(symbol)
	if err != nil {
		return nil, err
	}
	if market == nil || !market.Active {
		return nil, ErrMarketInactive
	}
	if market.TotalSupply == nil {
		market.TotalSupply = big.NewInt(0)
	}
	if market.TotalBorrow == nil {
		market.TotalBorrow = big.NewInt(0)
	}
	return market, nil
}

func (e *Engine) ensurePosition(addr crypto.Address) (*Position, error) {
	position, err := e.state.GetPosition(addr)
	if err != nil {
		return nil, err
	}
	if position == nil {
		position = &Position{Address: addr}
	}
	if position.TotalDeposited == nil {
		position.TotalDeposited = big.NewInt(0)
	}
	if position.TotalBorrowed == nil {
		position.TotalBorrowed = big.NewInt(0)
	}
	return position, nil
}

func (e *Engine) ensureBalance(addr crypto.Address, symbol string) (*AssetBalance, error) {
	balance, err := e.state.GetBalance(addr, symbol)
	if err != nil {
		return nil, err
	}
	if balance == nil {
		balance = &AssetBalance{Address: addr, Symbol: symbol}
	}
	if balance.Deposited == nil {
		balance.Deposited = big.NewInt(0)
	}
	if balance.Borrowed == nil {
		balance.Borrowed = big.NewInt(0)
	}
	return balance, nil
}

// Deposit pulls amount of the asset from the caller into custody and credits
// the caller's collateral position.
func (e *Engine) Deposit(caller crypto.Address, symbol string, amount *big.Int) error {
	if err := e.begin(); err != nil {
		return err
	}
	defer e.end()
	return e.deposit(caller, symbol, amount)
}

// deposit is the latch-free deposit body shared with the signed-authorization
// path.
func (e *Engine) deposit(caller crypto.Address, symbol string, amount *big.Int) error {
	if e.bridge == nil {
		return errNilBridge
	}
	symbol = normalizeSymbol(symbol)
	market, err := e.activeMarket(symbol)
	if err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}

	position, err := e.ensurePosition(caller)
	if err != nil {
		return err
	}
	balance, err := e.ensureBalance(caller, symbol)
	if err != nil {
		return err
	}

	// All validation precedes the external call; custody moves before any
	// ledger credit so a failed pull aborts with no state change.
	if err := e.bridge.Pull(symbol, caller, amount); err != nil {
		return err
	}

	balance.Deposited = addBigInt(balance.Deposited, amount)
	position.TotalDeposited = addBigInt(position.TotalDeposited, amount)
	position.LastUpdate = e.now()
	position.Active = true
	market.TotalSupply = addBigInt(market.TotalSupply, amount)

	if err := e.state.PutBalance(balance); err != nil {
		return err
	}
	if err := e.state.PutPosition(position); err != nil {
		return err
	}
	if err := e.state.PutMarket(market); err != nil {
		return err
	}

	e.emit(events.LedgerDeposit{
		Account: addressFixed(caller),
		Symbol:  symbol,
		Amount:  cloneBigInt(amount),
	}.Event())
	return nil
}

// Withdraw returns amount of the asset to the caller, provided the remaining
// position stays above the liquidation threshold.
func (e *Engine) Withdraw(caller crypto.Address, symbol string, amount *big.Int) error {
	if err := e.begin(); err != nil {
		return err
	}
	defer e.end()
	if e.bridge == nil {
		return errNilBridge
	}
	symbol = normalizeSymbol(symbol)
	market, err := e.activeMarket(symbol)
	if err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}

	balance, err := e.ensureBalance(caller, symbol)
	if err != nil {
		return err
	}
	if balance.Deposited.Cmp(amount) < 0 {
		return ErrInsufficientDeposit
	}

	safe, err := e.canWithdraw(caller, symbol, amount)
	if err != nil {
		return err
	}
	if !safe {
		return ErrUnsafeWithdrawal
	}

	position, err := e.ensurePosition(caller)
	if err != nil {
		return err
	}

	newDeposited, err := subBigInt(balance.Deposited, amount)
	if err != nil {
		return err
	}
	newTotal, err := subBigInt(position.TotalDeposited, amount)
	if err != nil {
		return err
	}
	newSupply, err := subBigInt(market.TotalSupply, amount)
	if err != nil {
		return err
	}

	if err := e.bridge.Push(symbol, caller, amount); err != nil {
		return err
	}

	balance.Deposited = newDeposited
	position.TotalDeposited = newTotal
	position.LastUpdate = e.now()
	if position.TotalDeposited.Sign() == 0 {
		position.Active = false
	}
	market.TotalSupply = newSupply

	if err := e.state.PutBalance(balance); err != nil {
		return err
	}
	if err := e.state.PutPosition(position); err != nil {
		return err
	}
	if err := e.state.PutMarket(market); err != nil {
		return err
	}

	e.emit(events.LedgerWithdraw{
		Account: addressFixed(caller),
		Symbol:  symbol,
		Amount:  cloneBigInt(amount),
	}.Event())
	return nil
}

// Borrow lends amount of the asset to the caller against their existing
// collateral. The ledger never lends out more than has been supplied.
func (e *Engine) Borrow(caller crypto.Address, symbol string, amount *big.Int) error {
	if err := e.begin(); err != nil {
		return err
	}
	defer e.end()
	if e.bridge == nil {
		return errNilBridge
	}
	symbol = normalizeSymbol(symbol)
	market, err := e.activeMarket(symbol)
	if err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if market.TotalSupply.Cmp(amount) < 0 {
		return ErrInsufficientLiquidity
	}

	safe, err := e.canBorrow(caller, symbol, amount)
	if err != nil {
		return err
	}
	if !safe {
		return ErrUnsafeBorrow
	}

	position, err := e.ensurePosition(caller)
	if err != nil {
		return err
	}
	balance, err := e.ensureBalance(caller, symbol)
	if err != nil {
		return err
	}

	if err := e.bridge.Push(symbol, caller, amount); err != nil {
		return err
	}

	balance.Borrowed = addBigInt(balance.Borrowed, amount)
	position.TotalBorrowed = addBigInt(position.TotalBorrowed, amount)
	position.LastUpdate = e.now()
	position.Active = true
	market.TotalBorrow = addBigInt(market.TotalBorrow, amount)

	if err := e.state.PutBalance(balance); err != nil {
		return err
	}
	if err := e.state.PutPosition(position); err != nil {
		return err
	}
	if err := e.state.PutMarket(market); err != nil {
		return err
	}

	e.emit(events.LedgerBorrow{
		Account: addressFixed(caller),
		Symbol:  symbol,
		Amount:  cloneBigInt(amount),
	}.Event())
	return nil
}

// Repay pulls amount of the asset from the caller and reduces their
// outstanding borrow.
func (e *Engine) Repay(caller crypto.Address, symbol string, amount *big.Int) error {
	if err := e.begin(); err != nil {
		return err
	}
	defer e.end()
	if e.bridge == nil {
		return errNilBridge
	}
	symbol = normalizeSymbol(symbol)
	market, err := e.activeMarket(symbol)
	if err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}

	balance, err := e.ensureBalance(caller, symbol)
	if err != nil {
		return err
	}
	if balance.Borrowed.Cmp(amount) < 0 {
		return ErrInsufficientBorrow
	}

	position, err := e.ensurePosition(caller)
	if err != nil {
		return err
	}

	newBorrowed, err := subBigInt(balance.Borrowed, amount)
	if err != nil {
		return err
	}
	newTotal, err := subBigInt(position.TotalBorrowed, amount)
	if err != nil {
		return err
	}
	newMarketBorrow, err := subBigInt(market.TotalBorrow, amount)
	if err != nil {
		return err
	}

	if err := e.bridge.Pull(symbol, caller, amount); err != nil {
		return err
	}

	balance.Borrowed = newBorrowed
	position.TotalBorrowed = newTotal
	position.LastUpdate = e.now()
	if position.TotalBorrowed.Sign() == 0 && position.TotalDeposited.Sign() == 0 {
		position.Active = false
	}
	market.TotalBorrow = newMarketBorrow

	if err := e.state.PutBalance(balance); err != nil {
		return err
	}
	if err := e.state.PutPosition(position); err != nil {
		return err
	}
	if err := e.state.PutMarket(market); err != nil {
		return err
	}

	e.emit(events.LedgerRepay{
		Account: addressFixed(caller),
		Symbol:  symbol,
		Amount:  cloneBigInt(amount),
	}.Event())
	return nil
}
