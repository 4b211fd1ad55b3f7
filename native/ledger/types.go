package ledger

import (
	"math/big"

	"custodia/crypto"
)

// Market captures the registry record for one supported asset. Identity is the
// asset symbol; once created a market is never removed, only its risk and rate
// parameters mutate.
type Market struct {
	Symbol              string
	CollateralFactorBps uint64
	SupplyRateBps       uint64
	BorrowRateBps       uint64
	TotalSupply         *big.Int
	TotalBorrow         *big.Int
	Active              bool
	CreatedAt           int64
}

// Position is the denormalized cross-asset aggregate for one account. The
// per-asset balances are the ground truth; these totals are maintained in
// lockstep by every operation.
type Position struct {
	Address        crypto.Address
	TotalDeposited *big.Int
	TotalBorrowed  *big.Int
	LastUpdate     int64
	Active         bool
}

// AssetBalance holds the per-(account, asset) deposit and borrow legs.
type AssetBalance struct {
	Address   crypto.Address
	Symbol    string
	Deposited *big.Int
	Borrowed  *big.Int
}

// DepositAuthorization carries the off-chain-signed payload that authorizes a
// deposit on behalf of the signer without direct caller authentication.
type DepositAuthorization struct {
	Nonce     uint64
	Deadline  int64
	Signature []byte
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func addBigInt(a, b *big.Int) *big.Int {
	return new(big.Int).Add(cloneBigInt(a), cloneBigInt(b))
}

// subBigInt subtracts b from a and rejects negative results. Financial
// accounting must never wrap.
func subBigInt(a, b *big.Int) (*big.Int, error) {
	out := new(big.Int).Sub(cloneBigInt(a), cloneBigInt(b))
	if out.Sign() < 0 {
		return nil, ErrLedgerUnderflow
	}
	return out, nil
}

func addressFixed(addr crypto.Address) [20]byte {
	var out [20]byte
	copy(out[:], addr.Bytes())
	return out
}
