package config

import (
	"fmt"
	"math/big"
	"strings"

	"custodia/crypto"
)

// Validate rejects configurations that would start the daemon in an unusable
// or unsafe state.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.RPCAddress) == "" {
		return fmt.Errorf("config: RPCAddress is required")
	}
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("config: DataDir is required")
	}
	if c.AdminAuthEnabled && strings.TrimSpace(c.JWTSecret) == "" {
		return fmt.Errorf("config: JWTSecret is required when AdminAuthEnabled is set")
	}
	if c.RateLimitPerSecond < 0 {
		return fmt.Errorf("config: RateLimitPerSecond must not be negative")
	}

	seen := make(map[string]struct{}, len(c.Markets))
	for i, market := range c.Markets {
		symbol := strings.ToUpper(strings.TrimSpace(market.Symbol))
		if symbol == "" {
			return fmt.Errorf("config: Markets[%d]: Symbol is required", i)
		}
		if _, ok := seen[symbol]; ok {
			return fmt.Errorf("config: Markets[%d]: duplicate symbol %s", i, symbol)
		}
		seen[symbol] = struct{}{}
		if market.CollateralFactorBps > 10_000 {
			return fmt.Errorf("config: Markets[%d]: CollateralFactorBps exceeds 10000", i)
		}
	}

	for i, balance := range c.GenesisBalances {
		if _, err := crypto.DecodeAddress(strings.TrimSpace(balance.Address)); err != nil {
			return fmt.Errorf("config: GenesisBalances[%d]: %w", i, err)
		}
		symbol := strings.ToUpper(strings.TrimSpace(balance.Symbol))
		if _, ok := seen[symbol]; !ok {
			return fmt.Errorf("config: GenesisBalances[%d]: unknown symbol %s", i, balance.Symbol)
		}
		amount, ok := new(big.Int).SetString(strings.TrimSpace(balance.Amount), 10)
		if !ok || amount.Sign() <= 0 {
			return fmt.Errorf("config: GenesisBalances[%d]: Amount must be a positive integer", i)
		}
	}

	return nil
}
