package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"custodia/crypto"
	"custodia/gateway/middleware"
	"custodia/native/common"
	"custodia/native/ledger"
	"custodia/native/token"
	"custodia/observability/metrics"
)

const requestBodyLimit = 1 << 20 // 1 MiB

// AdminScope is the JWT scope required for registry and custody operations.
const AdminScope = "ledger.admin"

// Server exposes the collateral ledger over HTTP. Public routes carry the
// account in the request body; privileged routes additionally require a bearer
// token with the admin scope.
type Server struct {
	engine  *ledger.Engine
	tokens  *token.Ledger
	pauses  *common.Switch
	owner   crypto.Address
	auth    *middleware.Authenticator
	limiter *middleware.RateLimiter
	logger  *slog.Logger
	metrics *metrics.LedgerMetrics
	http    *http.Server
}

type ServerConfig struct {
	ListenAddress string
	Auth          middleware.AuthConfig
	RateLimit     middleware.RateLimit
}

func NewServer(cfg ServerConfig, engine *ledger.Engine, tokens *token.Ledger, pauses *common.Switch, owner crypto.Address, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		engine:  engine,
		tokens:  tokens,
		pauses:  pauses,
		owner:   owner,
		auth:    middleware.NewAuthenticator(cfg.Auth, logger),
		limiter: middleware.NewRateLimiter(cfg.RateLimit, logger),
		logger:  logger,
		metrics: metrics.Ledger(),
	}
	s.http = &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           s.router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.limiter.Middleware())

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1/ledger", func(r chi.Router) {
		r.Post("/deposit", s.handleDeposit)
		r.Post("/withdraw", s.handleWithdraw)
		r.Post("/borrow", s.handleBorrow)
		r.Post("/repay", s.handleRepay)
		r.Post("/liquidate", s.handleLiquidate)
		r.Post("/depositWithAuthorization", s.handleDepositWithAuthorization)
		r.Post("/check", s.handleCheck)
		r.Get("/markets", s.handleListMarkets)
		r.Get("/markets/{symbol}", s.handleGetMarket)
		r.Get("/positions/{address}", s.handleGetPosition)
		r.Get("/positions/{address}/ratio", s.handleGetRatio)
		r.Get("/positions/{address}/balances/{symbol}", s.handleGetBalance)
		r.Get("/nonce/{address}", s.handleGetNonce)
	})

	r.Get("/v1/token/balance/{address}/{symbol}", s.handleTokenBalance)

	r.Route("/v1/admin", func(r chi.Router) {
		r.Use(s.auth.Middleware(AdminScope))
		r.Post("/markets", s.handleAddMarket)
		r.Put("/markets", s.handleUpdateMarket)
		r.Post("/markets/activate", s.handleSetMarketActive)
		r.Post("/pause", s.handleSetPaused)
		r.Post("/recover", s.handleRecoverAssets)
		r.Post("/mint", s.handleMint)
	})

	return r
}

// Start serves HTTP until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("rpc server listening", "addr", s.http.Addr)
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// Handler exposes the routed handler for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

func (s *Server) decode(r *http.Request, out interface{}) error {
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, requestBodyLimit))
	dec.DisallowUnknownFields()
	return dec.Decode(out)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

var errBadRequest = errors.New("bad request")

// statusForError maps engine failures onto HTTP statuses: malformed input is a
// 400, authorization failures a 401/403, pause a 503, everything else a
// domain conflict.
func statusForError(err error) int {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, ledger.ErrInvalidAsset),
		errors.Is(err, ledger.ErrInvalidCollateralFactor),
		errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, token.ErrInvalidAmount):
		return http.StatusBadRequest
	case errors.Is(err, ledger.ErrSignatureExpired),
		errors.Is(err, ledger.ErrInvalidNonce),
		errors.Is(err, ledger.ErrInvalidSignature):
		return http.StatusUnauthorized
	case errors.Is(err, ledger.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, common.ErrModulePaused):
		return http.StatusServiceUnavailable
	case errors.Is(err, ledger.ErrMarketExists),
		errors.Is(err, ledger.ErrMarketInactive),
		errors.Is(err, ledger.ErrInsufficientDeposit),
		errors.Is(err, ledger.ErrInsufficientBorrow),
		errors.Is(err, ledger.ErrInsufficientLiquidity),
		errors.Is(err, ledger.ErrInsufficientBorrowToLiquidate),
		errors.Is(err, ledger.ErrInsufficientCollateral),
		errors.Is(err, ledger.ErrNoCollateral),
		errors.Is(err, ledger.ErrUnsafeWithdrawal),
		errors.Is(err, ledger.ErrUnsafeBorrow),
		errors.Is(err, ledger.ErrNotLiquidatable),
		errors.Is(err, token.ErrInsufficientFunds):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func parseAddress(raw string) (crypto.Address, error) {
	addr, err := crypto.DecodeAddress(strings.TrimSpace(raw))
	if err != nil {
		return crypto.Address{}, fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return addr, nil
}

func parseAmount(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("%w: invalid amount", errBadRequest)
	}
	return amount, nil
}
