package rpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"custodia/crypto"
	"custodia/gateway/middleware"
	"custodia/native/common"
	"custodia/native/ledger"
	"custodia/native/token"
	"custodia/state"
	"custodia/storage"
)

const testSecret = "http-test-secret"

type testStack struct {
	server *Server
	tokens *token.Ledger
	engine *ledger.Engine
	owner  crypto.Address
}

func newTestStack(t *testing.T, authEnabled bool) *testStack {
	t.Helper()

	manager := state.NewManager(storage.NewMemDB())
	tokens := token.NewLedger(manager)
	custodyBytes := make([]byte, crypto.AddressLength)
	custodyBytes[0] = 0xCC
	vault := token.NewVault(tokens, crypto.NewAddress(crypto.LedgerPrefix, custodyBytes))
	pauses := common.NewSwitch()

	ownerBytes := make([]byte, crypto.AddressLength)
	ownerBytes[19] = 0xFF
	owner := crypto.NewAddress(crypto.LedgerPrefix, ownerBytes)

	engine := ledger.NewEngine(owner)
	engine.SetState(manager)
	engine.SetBridge(vault)
	engine.SetPauses(pauses)

	server := NewServer(ServerConfig{
		ListenAddress: ":0",
		Auth: middleware.AuthConfig{
			Enabled:    authEnabled,
			HMACSecret: testSecret,
			Issuer:     "custodia",
		},
	}, engine, tokens, pauses, owner, nil)

	return &testStack{server: server, tokens: tokens, engine: engine, owner: owner}
}

func (ts *testStack) do(t *testing.T, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

func newFundedAccount(t *testing.T, ts *testStack, amount int64) crypto.Address {
	t.Helper()
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	account := key.PubKey().Address()
	if amount > 0 {
		if err := ts.tokens.Mint(account, "ATOK", big.NewInt(amount)); err != nil {
			t.Fatalf("mint: %v", err)
		}
	}
	return account
}

func TestDepositBorrowOverHTTP(t *testing.T) {
	ts := newTestStack(t, false)
	if err := ts.engine.AddMarket(ts.owner, "ATOK", 8000, 200, 400); err != nil {
		t.Fatalf("add market: %v", err)
	}
	account := newFundedAccount(t, ts, 1000)

	rec := ts.do(t, http.MethodPost, "/v1/ledger/deposit", map[string]string{
		"account": account.String(),
		"symbol":  "ATOK",
		"amount":  "1000",
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("deposit: %d %s", rec.Code, rec.Body)
	}

	rec = ts.do(t, http.MethodGet, "/v1/ledger/markets/ATOK", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get market: %d %s", rec.Code, rec.Body)
	}
	var market marketPayload
	decodeBody(t, rec, &market)
	if market.TotalSupply != "1000" || !market.Active {
		t.Fatalf("unexpected market %+v", market)
	}

	// Fully collateralized account has an infinite ratio before borrowing.
	rec = ts.do(t, http.MethodGet, fmt.Sprintf("/v1/ledger/positions/%s/ratio", account), nil, nil)
	var ratio struct {
		Ratio        string `json:"ratio"`
		Infinite     bool   `json:"infinite"`
		Liquidatable bool   `json:"liquidatable"`
	}
	decodeBody(t, rec, &ratio)
	if !ratio.Infinite || ratio.Liquidatable {
		t.Fatalf("unexpected ratio %+v", ratio)
	}

	rec = ts.do(t, http.MethodPost, "/v1/ledger/borrow", map[string]string{
		"account": account.String(),
		"symbol":  "ATOK",
		"amount":  "500",
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("borrow: %d %s", rec.Code, rec.Body)
	}

	rec = ts.do(t, http.MethodGet, fmt.Sprintf("/v1/ledger/positions/%s/ratio", account), nil, nil)
	decodeBody(t, rec, &ratio)
	// 1000 deposited at factor 8000 against 500 borrowed: 16000 bps.
	if ratio.Ratio != "16000" || ratio.Infinite {
		t.Fatalf("unexpected ratio %+v", ratio)
	}

	// Borrowed funds landed back in the account's token balance.
	rec = ts.do(t, http.MethodGet, fmt.Sprintf("/v1/token/balance/%s/ATOK", account), nil, nil)
	var balance struct {
		Balance string `json:"balance"`
	}
	decodeBody(t, rec, &balance)
	if balance.Balance != "500" {
		t.Fatalf("expected 500, got %s", balance.Balance)
	}
}

func TestUnsafeBorrowReturnsConflict(t *testing.T) {
	ts := newTestStack(t, false)
	if err := ts.engine.AddMarket(ts.owner, "ATOK", 8000, 200, 400); err != nil {
		t.Fatalf("add market: %v", err)
	}
	account := newFundedAccount(t, ts, 1000)

	rec := ts.do(t, http.MethodPost, "/v1/ledger/deposit", map[string]string{
		"account": account.String(), "symbol": "ATOK", "amount": "1000",
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("deposit: %d", rec.Code)
	}
	rec = ts.do(t, http.MethodPost, "/v1/ledger/borrow", map[string]string{
		"account": account.String(), "symbol": "ATOK", "amount": "500",
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("borrow: %d", rec.Code)
	}

	// A second borrow pushing the ratio under threshold is refused.
	rec = ts.do(t, http.MethodPost, "/v1/ledger/borrow", map[string]string{
		"account": account.String(), "symbol": "ATOK", "amount": "600",
	}, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d %s", rec.Code, rec.Body)
	}

	rec = ts.do(t, http.MethodPost, "/v1/ledger/check", map[string]string{
		"account": account.String(), "op": "borrow", "symbol": "ATOK", "amount": "600",
	}, nil)
	var check struct {
		Allowed bool `json:"allowed"`
	}
	decodeBody(t, rec, &check)
	if check.Allowed {
		t.Fatalf("check must refuse the unsafe borrow")
	}
}

func TestAuthorizedDepositOverHTTP(t *testing.T) {
	ts := newTestStack(t, false)
	if err := ts.engine.AddMarket(ts.owner, "ATOK", 8000, 200, 400); err != nil {
		t.Fatalf("add market: %v", err)
	}

	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	account := key.PubKey().Address()
	if err := ts.tokens.Mint(account, "ATOK", big.NewInt(500)); err != nil {
		t.Fatalf("mint: %v", err)
	}

	deadline := time.Now().Add(time.Hour).Unix()
	signature, err := key.SignDigest(ledger.DepositDigest("ATOK", big.NewInt(500), 0, deadline))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	rec := ts.do(t, http.MethodPost, "/v1/ledger/depositWithAuthorization", map[string]interface{}{
		"account":   account.String(),
		"symbol":    "ATOK",
		"amount":    "500",
		"nonce":     0,
		"deadline":  deadline,
		"signature": fmt.Sprintf("0x%x", signature),
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("authorized deposit: %d %s", rec.Code, rec.Body)
	}

	rec = ts.do(t, http.MethodGet, fmt.Sprintf("/v1/ledger/nonce/%s", account), nil, nil)
	var nonce struct {
		Nonce uint64 `json:"nonce"`
	}
	decodeBody(t, rec, &nonce)
	if nonce.Nonce != 1 {
		t.Fatalf("expected nonce 1, got %d", nonce.Nonce)
	}

	// Replay of the consumed nonce comes back as an auth failure.
	rec = ts.do(t, http.MethodPost, "/v1/ledger/depositWithAuthorization", map[string]interface{}{
		"account":   account.String(),
		"symbol":    "ATOK",
		"amount":    "500",
		"nonce":     0,
		"deadline":  deadline,
		"signature": fmt.Sprintf("0x%x", signature),
	}, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 on replay, got %d %s", rec.Code, rec.Body)
	}
}

func adminToken(t *testing.T, scope string) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iss":   "custodia",
		"exp":   time.Now().Add(time.Hour).Unix(),
		"scope": scope,
	}).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func TestAdminRoutesRequireScope(t *testing.T) {
	ts := newTestStack(t, true)
	body := map[string]interface{}{
		"symbol":              "ATOK",
		"collateralFactorBps": 8000,
		"supplyRateBps":       200,
		"borrowRateBps":       400,
	}

	rec := ts.do(t, http.MethodPost, "/v1/admin/markets", body, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	rec = ts.do(t, http.MethodPost, "/v1/admin/markets", body, map[string]string{
		"Authorization": "Bearer " + adminToken(t, "ledger.read"),
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without admin scope, got %d", rec.Code)
	}

	rec = ts.do(t, http.MethodPost, "/v1/admin/markets", body, map[string]string{
		"Authorization": "Bearer " + adminToken(t, AdminScope),
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with admin scope, got %d %s", rec.Code, rec.Body)
	}

	rec = ts.do(t, http.MethodGet, "/v1/ledger/markets/ATOK", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("market must exist after admin add, got %d", rec.Code)
	}
}

func TestPauseBlocksOperations(t *testing.T) {
	ts := newTestStack(t, true)
	if err := ts.engine.AddMarket(ts.owner, "ATOK", 8000, 200, 400); err != nil {
		t.Fatalf("add market: %v", err)
	}
	account := newFundedAccount(t, ts, 100)
	auth := map[string]string{"Authorization": "Bearer " + adminToken(t, AdminScope)}

	rec := ts.do(t, http.MethodPost, "/v1/admin/pause", map[string]interface{}{
		"module": "ledger", "paused": true,
	}, auth)
	if rec.Code != http.StatusOK {
		t.Fatalf("pause: %d %s", rec.Code, rec.Body)
	}

	rec = ts.do(t, http.MethodPost, "/v1/ledger/deposit", map[string]string{
		"account": account.String(), "symbol": "ATOK", "amount": "100",
	}, nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 while paused, got %d %s", rec.Code, rec.Body)
	}

	rec = ts.do(t, http.MethodPost, "/v1/admin/pause", map[string]interface{}{
		"module": "ledger", "paused": false,
	}, auth)
	if rec.Code != http.StatusOK {
		t.Fatalf("unpause: %d", rec.Code)
	}
	rec = ts.do(t, http.MethodPost, "/v1/ledger/deposit", map[string]string{
		"account": account.String(), "symbol": "ATOK", "amount": "100",
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("deposit after unpause: %d %s", rec.Code, rec.Body)
	}
}

func TestUnknownMarketIs404(t *testing.T) {
	ts := newTestStack(t, false)
	rec := ts.do(t, http.MethodGet, "/v1/ledger/markets/NOPE", nil, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestMalformedRequestsAreBadRequests(t *testing.T) {
	ts := newTestStack(t, false)

	rec := ts.do(t, http.MethodPost, "/v1/ledger/deposit", map[string]string{
		"account": "not-an-address", "symbol": "ATOK", "amount": "100",
	}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad address, got %d", rec.Code)
	}

	rec = ts.do(t, http.MethodPost, "/v1/ledger/deposit", map[string]string{
		"account": "cust1qqqq", "symbol": "ATOK", "amount": "ten",
	}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad amount, got %d", rec.Code)
	}

	rec = ts.do(t, http.MethodPost, "/v1/ledger/deposit", map[string]string{
		"account": "cust1qqqq", "symbol": "ATOK", "amount": "1", "extra": "field",
	}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown field, got %d", rec.Code)
	}
}
