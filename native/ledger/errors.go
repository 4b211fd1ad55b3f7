package ledger

import "errors"

var (
	errNilState  = errors.New("ledger engine: state not configured")
	errNilBridge = errors.New("ledger engine: token bridge not configured")

	// Input validation.
	ErrInvalidAsset            = errors.New("ledger engine: invalid asset symbol")
	ErrInvalidCollateralFactor = errors.New("ledger engine: collateral factor exceeds 10000 basis points")
	ErrInvalidAmount           = errors.New("ledger engine: amount must be positive")

	// State conflicts.
	ErrMarketExists   = errors.New("ledger engine: market already exists")
	ErrMarketInactive = errors.New("ledger engine: market not active")

	// Insufficiency.
	ErrInsufficientDeposit           = errors.New("ledger engine: insufficient deposit balance")
	ErrInsufficientBorrow            = errors.New("ledger engine: insufficient borrow balance")
	ErrInsufficientLiquidity         = errors.New("ledger engine: insufficient market liquidity")
	ErrInsufficientBorrowToLiquidate = errors.New("ledger engine: liquidation exceeds borrow balance")
	ErrInsufficientCollateral        = errors.New("ledger engine: best collateral cannot cover seize amount")
	ErrNoCollateral                  = errors.New("ledger engine: no collateral available to seize")

	// Safety gates.
	ErrUnsafeWithdrawal = errors.New("ledger engine: withdrawal would leave position undercollateralized")
	ErrUnsafeBorrow     = errors.New("ledger engine: borrow would leave position undercollateralized")
	ErrNotLiquidatable  = errors.New("ledger engine: position not eligible for liquidation")

	// Authorization.
	ErrSignatureExpired = errors.New("ledger engine: authorization deadline elapsed")
	ErrInvalidNonce     = errors.New("ledger engine: authorization nonce mismatch")
	ErrInvalidSignature = errors.New("ledger engine: invalid authorization signature")
	ErrUnauthorized     = errors.New("ledger engine: caller is not the registry owner")

	// Operational.
	ErrReentrantCall   = errors.New("ledger engine: reentrant call")
	ErrLedgerUnderflow = errors.New("ledger engine: balance underflow")
)
