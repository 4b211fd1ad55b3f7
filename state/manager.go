package state

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"custodia/crypto"
	"custodia/native/ledger"
	"custodia/storage"
)

// Manager persists ledger and token state as JSON records in a key-value
// store. It backs both the collateral engine and the token ledger.
type Manager struct {
	db storage.Database
}

func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

func addrKey(addr crypto.Address) string {
	return hex.EncodeToString(addr.Bytes())
}

func marketKey(symbol string) []byte {
	return []byte("ledger/market/" + symbol)
}

var assetListKey = []byte("ledger/assets")

func positionKey(addr crypto.Address) []byte {
	return []byte("ledger/position/" + addrKey(addr))
}

func balanceKey(addr crypto.Address, symbol string) []byte {
	return []byte("ledger/balance/" + addrKey(addr) + "/" + symbol)
}

func nonceKey(addr crypto.Address) []byte {
	return []byte("ledger/nonce/" + addrKey(addr))
}

func tokenKey(addr crypto.Address, symbol string) []byte {
	return []byte("token/balance/" + addrKey(addr) + "/" + symbol)
}

// getJSON loads and decodes the record at key into out, reporting presence.
func (m *Manager) getJSON(key []byte, out interface{}) (bool, error) {
	raw, err := m.db.Get(key)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("state: decode %s: %w", key, err)
	}
	return true, nil
}

func (m *Manager) putJSON(key []byte, in interface{}) error {
	raw, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("state: encode %s: %w", key, err)
	}
	return m.db.Put(key, raw)
}

type storedMarket struct {
	Symbol              string   `json:"symbol"`
	CollateralFactorBps uint64   `json:"collateralFactorBps"`
	SupplyRateBps       uint64   `json:"supplyRateBps"`
	BorrowRateBps       uint64   `json:"borrowRateBps"`
	TotalSupply         *big.Int `json:"totalSupply"`
	TotalBorrow         *big.Int `json:"totalBorrow"`
	Active              bool     `json:"active"`
	CreatedAt           int64    `json:"createdAt"`
}

func (m *Manager) GetMarket(symbol string) (*ledger.Market, error) {
	var stored storedMarket
	ok, err := m.getJSON(marketKey(symbol), &stored)
	if err != nil || !ok {
		return nil, err
	}
	return &ledger.Market{
		Symbol:              stored.Symbol,
		CollateralFactorBps: stored.CollateralFactorBps,
		SupplyRateBps:       stored.SupplyRateBps,
		BorrowRateBps:       stored.BorrowRateBps,
		TotalSupply:         stored.TotalSupply,
		TotalBorrow:         stored.TotalBorrow,
		Active:              stored.Active,
		CreatedAt:           stored.CreatedAt,
	}, nil
}

func (m *Manager) PutMarket(market *ledger.Market) error {
	if market == nil {
		return fmt.Errorf("state: nil market")
	}
	return m.putJSON(marketKey(market.Symbol), storedMarket{
		Symbol:              market.Symbol,
		CollateralFactorBps: market.CollateralFactorBps,
		SupplyRateBps:       market.SupplyRateBps,
		BorrowRateBps:       market.BorrowRateBps,
		TotalSupply:         market.TotalSupply,
		TotalBorrow:         market.TotalBorrow,
		Active:              market.Active,
		CreatedAt:           market.CreatedAt,
	})
}

func (m *Manager) AssetList() ([]string, error) {
	var assets []string
	if _, err := m.getJSON(assetListKey, &assets); err != nil {
		return nil, err
	}
	return assets, nil
}

func (m *Manager) AppendAsset(symbol string) error {
	assets, err := m.AssetList()
	if err != nil {
		return err
	}
	for _, existing := range assets {
		if existing == symbol {
			return nil
		}
	}
	return m.putJSON(assetListKey, append(assets, symbol))
}

type storedPosition struct {
	TotalDeposited *big.Int `json:"totalDeposited"`
	TotalBorrowed  *big.Int `json:"totalBorrowed"`
	LastUpdate     int64    `json:"lastUpdate"`
	Active         bool     `json:"active"`
}

func (m *Manager) GetPosition(addr crypto.Address) (*ledger.Position, error) {
	var stored storedPosition
	ok, err := m.getJSON(positionKey(addr), &stored)
	if err != nil || !ok {
		return nil, err
	}
	return &ledger.Position{
		Address:        addr,
		TotalDeposited: stored.TotalDeposited,
		TotalBorrowed:  stored.TotalBorrowed,
		LastUpdate:     stored.LastUpdate,
		Active:         stored.Active,
	}, nil
}

func (m *Manager) PutPosition(position *ledger.Position) error {
	if position == nil {
		return fmt.Errorf("state: nil position")
	}
	return m.putJSON(positionKey(position.Address), storedPosition{
		TotalDeposited: position.TotalDeposited,
		TotalBorrowed:  position.TotalBorrowed,
		LastUpdate:     position.LastUpdate,
		Active:         position.Active,
	})
}

type storedBalance struct {
	Deposited *big.Int `json:"deposited"`
	Borrowed  *big.Int `json:"borrowed"`
}

func (m *Manager) GetBalance(addr crypto.Address, symbol string) (*ledger.AssetBalance, error) {
	var stored storedBalance
	ok, err := m.getJSON(balanceKey(addr, symbol), &stored)
	if err != nil || !ok {
		return nil, err
	}
	return &ledger.AssetBalance{
		Address:   addr,
		Symbol:    symbol,
		Deposited: stored.Deposited,
		Borrowed:  stored.Borrowed,
	}, nil
}

func (m *Manager) PutBalance(balance *ledger.AssetBalance) error {
	if balance == nil {
		return fmt.Errorf("state: nil balance")
	}
	return m.putJSON(balanceKey(balance.Address, balance.Symbol), storedBalance{
		Deposited: balance.Deposited,
		Borrowed:  balance.Borrowed,
	})
}

func (m *Manager) GetNonce(addr crypto.Address) (uint64, error) {
	var nonce uint64
	if _, err := m.getJSON(nonceKey(addr), &nonce); err != nil {
		return 0, err
	}
	return nonce, nil
}

func (m *Manager) PutNonce(addr crypto.Address, nonce uint64) error {
	return m.putJSON(nonceKey(addr), nonce)
}

func (m *Manager) GetTokenBalance(addr crypto.Address, symbol string) (*big.Int, error) {
	var balance *big.Int
	ok, err := m.getJSON(tokenKey(addr, symbol), &balance)
	if err != nil || !ok {
		return nil, err
	}
	return balance, nil
}

func (m *Manager) PutTokenBalance(addr crypto.Address, symbol string, amount *big.Int) error {
	return m.putJSON(tokenKey(addr, symbol), amount)
}
