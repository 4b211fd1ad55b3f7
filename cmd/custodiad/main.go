package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"custodia/config"
	"custodia/core/events"
	"custodia/core/types"
	"custodia/crypto"
	"custodia/gateway/middleware"
	"custodia/native/common"
	"custodia/native/ledger"
	"custodia/native/token"
	"custodia/observability/logging"
	"custodia/rpc"
	"custodia/state"
	"custodia/storage"
)

const ownerPassEnv = "CUSTODIA_OWNER_PASS"

var genesisAppliedKey = []byte("genesis/applied")

// logEmitter forwards engine events to the structured log.
type logEmitter struct {
	logger *slog.Logger
}

func (l logEmitter) Emit(event events.Event) {
	if typed, ok := event.(interface{ Event() *types.Event }); ok {
		if evt := typed.Event(); evt != nil {
			l.logger.Info("ledger event", "type", evt.Type, "attributes", evt.Attributes)
			return
		}
	}
	l.logger.Info("ledger event", "type", event.EventType())
}

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("CUSTODIA_ENV"))
	logger := logging.Setup("custodiad", env)

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		panic(fmt.Sprintf("Failed to open database: %v", err))
	}
	defer db.Close()

	ownerKey, err := crypto.LoadFromKeystore(cfg.OwnerKeystorePath, os.Getenv(ownerPassEnv))
	if err != nil {
		panic(fmt.Sprintf("Failed to load owner key: %v", err))
	}
	owner := ownerKey.PubKey().Address()
	logger.Info("registry owner loaded", "address", owner.String())

	manager := state.NewManager(db)
	tokens := token.NewLedger(manager)
	vault := token.NewVault(tokens, custodyAddress())
	pauses := common.NewSwitch()

	engine := ledger.NewEngine(owner)
	engine.SetState(manager)
	engine.SetBridge(vault)
	engine.SetPauses(pauses)
	engine.SetEmitter(logEmitter{logger: logger})

	if err := applyGenesis(db, cfg, engine, tokens, owner); err != nil {
		logger.Error("Failed to apply genesis state", slog.Any("error", err))
		os.Exit(1)
	}

	server := rpc.NewServer(rpc.ServerConfig{
		ListenAddress: cfg.RPCAddress,
		Auth: middleware.AuthConfig{
			Enabled:    cfg.AdminAuthEnabled,
			HMACSecret: cfg.JWTSecret,
			Issuer:     cfg.JWTIssuer,
		},
		RateLimit: middleware.RateLimit{
			RequestsPerSecond: cfg.RateLimitPerSecond,
			Burst:             cfg.RateLimitBurst,
		},
	}, engine, tokens, pauses, owner, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("RPC server failed", slog.Any("error", err))
			os.Exit(1)
		}
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			logger.Error("Shutdown failed", slog.Any("error", err))
		}
	}
}

// custodyAddress derives the deterministic vault address holding pulled
// collateral. No private key exists for it.
func custodyAddress() crypto.Address {
	digest := ethcrypto.Keccak256([]byte("custodia/ledger/vault"))
	return crypto.NewAddress(crypto.LedgerPrefix, digest[12:])
}

// applyGenesis registers configured markets and, on first run only, seeds the
// configured token balances.
func applyGenesis(db storage.Database, cfg *config.Config, engine *ledger.Engine, tokens *token.Ledger, owner crypto.Address) error {
	for _, market := range cfg.Markets {
		existing, err := engine.Market(market.Symbol)
		if err != nil {
			return err
		}
		if existing != nil {
			continue
		}
		if err := engine.AddMarket(owner, market.Symbol, market.CollateralFactorBps, market.SupplyRateBps, market.BorrowRateBps); err != nil {
			return err
		}
	}

	if _, err := db.Get(genesisAppliedKey); err == nil {
		return nil
	} else if !errors.Is(err, storage.ErrKeyNotFound) {
		return err
	}
	for _, balance := range cfg.GenesisBalances {
		addr, err := crypto.DecodeAddress(strings.TrimSpace(balance.Address))
		if err != nil {
			return err
		}
		amount, ok := new(big.Int).SetString(strings.TrimSpace(balance.Amount), 10)
		if !ok {
			return fmt.Errorf("genesis: invalid amount %q", balance.Amount)
		}
		symbol := strings.ToUpper(strings.TrimSpace(balance.Symbol))
		if err := tokens.Mint(addr, symbol, amount); err != nil {
			return err
		}
	}
	return db.Put(genesisAppliedKey, []byte("1"))
}
