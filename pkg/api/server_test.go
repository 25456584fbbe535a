package api_test

import (
	"bytes"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/leeplabs/leepdex/pkg/api"
	"github.com/leeplabs/leepdex/pkg/exchange"
	"github.com/leeplabs/leepdex/pkg/token"
)

var (
	deployer   = common.HexToAddress("0x1000000000000000000000000000000000000001")
	feeAccount = common.HexToAddress("0xA000000000000000000000000000000000000000")
	user1      = common.HexToAddress("0xBB00000000000000000000000000000000000001")
	user2      = common.HexToAddress("0xBB00000000000000000000000000000000000002")
)

func ether(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1_000_000_000_000_000_000))
}

type testServer struct {
	srv  *httptest.Server
	ex   *exchange.Exchange
	leep *token.Token
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	t.Setenv("TX_LOG_FILE", filepath.Join(t.TempDir(), "transactions.log"))

	leep := token.Deploy(deployer, "LeepCoin", "LEEP", big.NewInt(1_000_000))
	reg := token.NewRegistry()
	if err := reg.Register(leep); err != nil {
		t.Fatalf("register: %v", err)
	}

	ex, err := exchange.New(exchange.Config{
		Address:       token.DeriveAddress(deployer, "LEEPDEX"),
		FeeAccount:    feeAccount,
		FeePercent:    1,
		AllowSelfFill: true,
		Tokens: exchange.ResolverFunc(func(asset common.Address) (exchange.TokenLedger, error) {
			return reg.Get(asset)
		}),
	})
	if err != nil {
		t.Fatalf("new exchange: %v", err)
	}

	for _, u := range []common.Address{user1, user2} {
		if err := leep.Transfer(deployer, u, ether(1000)); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	s := api.NewServer(ex, reg, zap.NewNop().Sugar())
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return &testServer{srv: srv, ex: ex, leep: leep}
}

func (ts *testServer) post(t *testing.T, path string, body any) (*http.Response, []byte) {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := http.Post(ts.srv.URL+path, "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	defer resp.Body.Close()
	var buf bytes.Buffer
	buf.ReadFrom(resp.Body)
	return resp, buf.Bytes()
}

func (ts *testServer) get(t *testing.T, path string, out any) *http.Response {
	t.Helper()
	resp, err := http.Get(ts.srv.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", path, err)
		}
	}
	return resp
}

func TestGetExchange(t *testing.T) {
	ts := newTestServer(t)

	var info api.ExchangeInfo
	resp := ts.get(t, "/api/v1/exchange", &info)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if info.FeeAccount != feeAccount.Hex() {
		t.Errorf("fee account = %s, want %s", info.FeeAccount, feeAccount.Hex())
	}
	if info.FeePercent != 1 {
		t.Errorf("fee percent = %d, want 1", info.FeePercent)
	}
}

func TestGetTokens(t *testing.T) {
	ts := newTestServer(t)

	var tokens []api.TokenInfo
	ts.get(t, "/api/v1/tokens", &tokens)
	if len(tokens) != 1 {
		t.Fatalf("len = %d, want 1", len(tokens))
	}
	if tokens[0].Symbol != "LEEP" || tokens[0].Name != "LeepCoin" {
		t.Errorf("token = %+v", tokens[0])
	}
	if tokens[0].TotalSupply != "1000000" {
		t.Errorf("supply = %s, want 1000000", tokens[0].TotalSupply)
	}
}

func TestDepositAndBalance(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.post(t, "/api/v1/deposits/ether", api.EtherFundsRequest{
		User:   user1.Hex(),
		Amount: "1.5",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body = %s", resp.StatusCode, body)
	}

	var bal api.BalanceInfo
	ts.get(t, "/api/v1/balances/ether/"+user1.Hex(), &bal)
	if bal.Balance != "1.5" {
		t.Errorf("balance = %s, want 1.5", bal.Balance)
	}
}

func TestDepositTokenHTTP(t *testing.T) {
	ts := newTestServer(t)

	if err := ts.leep.Approve(user1, ts.ex.Address(), ether(100)); err != nil {
		t.Fatalf("approve: %v", err)
	}

	resp, body := ts.post(t, "/api/v1/deposits/token", api.TokenFundsRequest{
		User:   user1.Hex(),
		Asset:  ts.leep.Address().Hex(),
		Amount: "100",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body = %s", resp.StatusCode, body)
	}

	var bal api.BalanceInfo
	ts.get(t, "/api/v1/balances/"+ts.leep.Address().Hex()+"/"+user1.Hex(), &bal)
	if bal.Balance != "100" {
		t.Errorf("balance = %s, want 100", bal.Balance)
	}
}

// The full token-deposit leg over HTTP alone: owner hands out LEEP, the user
// approves the exchange, then deposits, with no direct ledger calls.
func TestApproveThenDepositHTTP(t *testing.T) {
	ts := newTestServer(t)
	asset := ts.leep.Address().Hex()

	resp, body := ts.post(t, "/api/v1/tokens/transfer", api.TokenTransferRequest{
		User: deployer.Hex(), Asset: asset, To: user1.Hex(), Amount: "250",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("transfer status = %d, body = %s", resp.StatusCode, body)
	}

	var wallet api.WalletBalanceInfo
	ts.get(t, "/api/v1/tokens/"+asset+"/balances/"+user1.Hex(), &wallet)
	if wallet.Balance != "1250" { // 1000 seeded + 250 transferred
		t.Fatalf("wallet balance = %s, want 1250", wallet.Balance)
	}

	// Spender omitted: defaults to the exchange custody address.
	resp, body = ts.post(t, "/api/v1/tokens/approve", api.TokenApproveRequest{
		User: user1.Hex(), Asset: asset, Amount: "200",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("approve status = %d, body = %s", resp.StatusCode, body)
	}
	var allowance api.AllowanceInfo
	if err := json.Unmarshal(body, &allowance); err != nil {
		t.Fatalf("decode allowance: %v", err)
	}
	if allowance.Allowance != "200" || allowance.Spender != ts.ex.Address().Hex() {
		t.Fatalf("allowance = %+v", allowance)
	}

	resp, body = ts.post(t, "/api/v1/deposits/token", api.TokenFundsRequest{
		User: user1.Hex(), Asset: asset, Amount: "200",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("deposit status = %d, body = %s", resp.StatusCode, body)
	}

	var bal api.BalanceInfo
	ts.get(t, "/api/v1/balances/"+asset+"/"+user1.Hex(), &bal)
	if bal.Balance != "200" {
		t.Errorf("custodial balance = %s, want 200", bal.Balance)
	}
	ts.get(t, "/api/v1/tokens/"+asset+"/balances/"+user1.Hex(), &wallet)
	if wallet.Balance != "1050" {
		t.Errorf("wallet balance = %s, want 1050", wallet.Balance)
	}
}

func TestTokenTransferInsufficientHTTP(t *testing.T) {
	ts := newTestServer(t)

	resp, _ := ts.post(t, "/api/v1/tokens/transfer", api.TokenTransferRequest{
		User: user1.Hex(), Asset: ts.leep.Address().Hex(), To: user2.Hex(), Amount: "5000",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestTokenApproveUnknownAsset(t *testing.T) {
	ts := newTestServer(t)

	resp, _ := ts.post(t, "/api/v1/tokens/approve", api.TokenApproveRequest{
		User:   user1.Hex(),
		Asset:  "0x00000000000000000000000000000000000000ff",
		Amount: "1",
	})
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestDepositTokenWithoutApproval(t *testing.T) {
	ts := newTestServer(t)

	resp, _ := ts.post(t, "/api/v1/deposits/token", api.TokenFundsRequest{
		User:   user1.Hex(),
		Asset:  ts.leep.Address().Hex(),
		Amount: "100",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestWithdrawInsufficient(t *testing.T) {
	ts := newTestServer(t)

	resp, _ := ts.post(t, "/api/v1/withdrawals/ether", api.EtherFundsRequest{
		User:   user1.Hex(),
		Amount: "1",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestOrderLifecycleHTTP(t *testing.T) {
	ts := newTestServer(t)

	// user1 offers 1 ETH for 100 LEEP.
	ts.post(t, "/api/v1/deposits/ether", api.EtherFundsRequest{User: user1.Hex(), Amount: "1"})

	resp, body := ts.post(t, "/api/v1/orders", api.MakeOrderRequest{
		User:       user1.Hex(),
		TokenGet:   ts.leep.Address().Hex(),
		AmountGet:  "100",
		TokenGive:  "ether",
		AmountGive: "1",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("make order status = %d, body = %s", resp.StatusCode, body)
	}
	var order api.OrderInfo
	if err := json.Unmarshal(body, &order); err != nil {
		t.Fatalf("decode order: %v", err)
	}
	if order.ID != 1 || order.Status != "open" {
		t.Fatalf("order = %+v", order)
	}

	// user2 funds and fills it.
	if err := ts.leep.Approve(user2, ts.ex.Address(), ether(100)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	ts.post(t, "/api/v1/deposits/token", api.TokenFundsRequest{
		User: user2.Hex(), Asset: ts.leep.Address().Hex(), Amount: "100",
	})

	resp, body = ts.post(t, "/api/v1/orders/1/fill", api.OrderActionRequest{User: user2.Hex()})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("fill status = %d, body = %s", resp.StatusCode, body)
	}
	var trade api.TradeInfo
	if err := json.Unmarshal(body, &trade); err != nil {
		t.Fatalf("decode trade: %v", err)
	}
	if trade.AmountGive != "1" || trade.Fee != "0.01" {
		t.Errorf("trade = %+v", trade)
	}

	// Filler nets 0.99 ETH after the fee.
	var bal api.BalanceInfo
	ts.get(t, "/api/v1/balances/ether/"+user2.Hex(), &bal)
	if bal.Balance != "0.99" {
		t.Errorf("filler balance = %s, want 0.99", bal.Balance)
	}

	ts.get(t, "/api/v1/balances/ether/"+feeAccount.Hex(), &bal)
	if bal.Balance != "0.01" {
		t.Errorf("fee balance = %s, want 0.01", bal.Balance)
	}

	var got api.OrderInfo
	ts.get(t, "/api/v1/orders/1", &got)
	if got.Status != "filled" {
		t.Errorf("status = %s, want filled", got.Status)
	}
}

func TestCancelOrderHTTP(t *testing.T) {
	ts := newTestServer(t)

	ts.post(t, "/api/v1/orders", api.MakeOrderRequest{
		User:       user1.Hex(),
		TokenGet:   ts.leep.Address().Hex(),
		AmountGet:  "100",
		TokenGive:  "ether",
		AmountGive: "1",
	})

	// Only the creator may cancel.
	resp, _ := ts.post(t, "/api/v1/orders/1/cancel", api.OrderActionRequest{User: user2.Hex()})
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("foreign cancel status = %d, want 403", resp.StatusCode)
	}

	resp, _ = ts.post(t, "/api/v1/orders/1/cancel", api.OrderActionRequest{User: user1.Hex()})
	if resp.StatusCode != http.StatusOK {
		t.Errorf("cancel status = %d, want 200", resp.StatusCode)
	}

	// Filling a cancelled order conflicts.
	resp, _ = ts.post(t, "/api/v1/orders/1/fill", api.OrderActionRequest{User: user2.Hex()})
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("fill cancelled status = %d, want 409", resp.StatusCode)
	}
}

func TestOrderNotFoundHTTP(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.get(t, "/api/v1/orders/42", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("get status = %d, want 404", resp.StatusCode)
	}

	resp, _ = ts.post(t, "/api/v1/orders/42/cancel", api.OrderActionRequest{User: user1.Hex()})
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("cancel status = %d, want 404", resp.StatusCode)
	}
}

func TestInvalidInputsHTTP(t *testing.T) {
	ts := newTestServer(t)

	resp, _ := ts.post(t, "/api/v1/deposits/ether", api.EtherFundsRequest{
		User: "not-an-address", Amount: "1",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad address status = %d, want 400", resp.StatusCode)
	}

	resp, _ = ts.post(t, "/api/v1/deposits/ether", api.EtherFundsRequest{
		User: user1.Hex(), Amount: "-1",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad amount status = %d, want 400", resp.StatusCode)
	}

	resp = ts.get(t, "/api/v1/orders/0", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("zero id status = %d, want 400", resp.StatusCode)
	}
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)

	var out map[string]string
	resp := ts.get(t, "/health", &out)
	if resp.StatusCode != http.StatusOK || out["status"] != "ok" {
		t.Errorf("health = %d %v", resp.StatusCode, out)
	}
}
