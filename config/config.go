package config

import (
	"os"
	"path/filepath"

	"custodia/crypto"

	"github.com/BurntSushi/toml"
)

// MarketConfig declares a genesis market registered at startup.
type MarketConfig struct {
	Symbol              string `toml:"Symbol"`
	CollateralFactorBps uint64 `toml:"CollateralFactorBps"`
	SupplyRateBps       uint64 `toml:"SupplyRateBps"`
	BorrowRateBps       uint64 `toml:"BorrowRateBps"`
}

// BalanceConfig seeds a token balance at startup. Amount is a base-10 integer
// string so arbitrarily large balances survive the TOML round trip.
type BalanceConfig struct {
	Address string `toml:"Address"`
	Symbol  string `toml:"Symbol"`
	Amount  string `toml:"Amount"`
}

type Config struct {
	RPCAddress         string          `toml:"RPCAddress"`
	DataDir            string          `toml:"DataDir"`
	Environment        string          `toml:"Environment"`
	OwnerKeystorePath  string          `toml:"OwnerKeystorePath"`
	JWTSecret          string          `toml:"JWTSecret"`
	JWTIssuer          string          `toml:"JWTIssuer"`
	AdminAuthEnabled   bool            `toml:"AdminAuthEnabled"`
	RateLimitPerSecond float64         `toml:"RateLimitPerSecond"`
	RateLimitBurst     int             `toml:"RateLimitBurst"`
	Markets            []MarketConfig  `toml:"Markets"`
	GenesisBalances    []BalanceConfig `toml:"GenesisBalances"`
}

// Load reads the configuration from the given path, creating a default file
// (and a fresh owner keystore) on first run.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}

	if cfg.OwnerKeystorePath == "" {
		cfg.OwnerKeystorePath = defaultKeystorePath(path)
	}
	if _, err := os.Stat(cfg.OwnerKeystorePath); os.IsNotExist(err) {
		key, genErr := crypto.GeneratePrivateKey()
		if genErr != nil {
			return nil, genErr
		}
		if err := crypto.SaveToKeystore(cfg.OwnerKeystorePath, key, ""); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}

	keystorePath := defaultKeystorePath(path)
	if err := crypto.SaveToKeystore(keystorePath, key, ""); err != nil {
		return nil, err
	}

	cfg := &Config{
		RPCAddress:         ":8080",
		DataDir:            "./custodia-data",
		Environment:        "local",
		OwnerKeystorePath:  keystorePath,
		AdminAuthEnabled:   false,
		RateLimitPerSecond: 50,
		RateLimitBurst:     100,
	}

	if err := persist(path, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

func defaultKeystorePath(configPath string) string {
	dir := filepath.Dir(configPath)
	if dir == "." || dir == "" {
		dir = ""
	}
	return filepath.Join(dir, "owner.keystore")
}
