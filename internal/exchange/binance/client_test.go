package binance

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/petreltrade/petrel/errs"
	"github.com/petreltrade/petrel/internal/credential"
	"github.com/petreltrade/petrel/internal/exchange"
	"github.com/petreltrade/petrel/internal/schema"
)

const (
	testAPIKey    = "test-api-key"
	testAPISecret = "test-api-secret"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	creds, err := credential.New(testAPIKey, testAPISecret, schema.EnvTestnet)
	if err != nil {
		t.Fatalf("credential.New: %v", err)
	}
	client, err := New(Options{
		Credentials:       creds,
		BaseURL:           srv.URL,
		Clock:             func() time.Time { return time.Unix(1700000000, 0).UTC() },
		RequestsPerSecond: 1000,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return client, srv
}

func verifySignature(t *testing.T, payload string) {
	t.Helper()
	idx := strings.LastIndex(payload, "&signature=")
	if idx < 0 {
		t.Fatalf("payload missing signature: %q", payload)
	}
	base, signature := payload[:idx], payload[idx+len("&signature="):]
	if want := signPayload(base, testAPISecret); signature != want {
		t.Fatalf("signature mismatch: got %s want %s", signature, want)
	}
	if !strings.Contains(base, "timestamp=") {
		t.Fatalf("signed payload missing timestamp: %q", base)
	}
	if !strings.Contains(base, "recvWindow=") {
		t.Fatalf("signed payload missing recvWindow: %q", base)
	}
}

func TestPlaceOrderSignsAndParses(t *testing.T) {
	var gotBody, gotKey string
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/fapi/v1/order" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		buf, _ := io.ReadAll(r.Body)
		gotBody = string(buf)
		gotKey = r.Header.Get("X-MBX-APIKEY")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"symbol":"BTCUSDT","orderId":4567,"clientOrderId":"ref-1","status":"NEW","executedQty":"0","avgPrice":"0.00000","updateTime":1700000000123}`))
	}))

	intent := exchange.OrderIntent{
		ClientRef: "ref-1",
		Request: schema.OrderRequest{
			Symbol:     "BTCUSDT",
			Side:       schema.SideBuy,
			Type:       schema.OrderTypeLimit,
			Quantity:   decimal.RequireFromString("0.5"),
			LimitPrice: decimal.RequireFromString("42000.1"),
		},
	}
	state, err := client.PlaceOrder(context.Background(), intent)
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if gotKey != testAPIKey {
		t.Fatalf("X-MBX-APIKEY = %q, want %q", gotKey, testAPIKey)
	}
	verifySignature(t, gotBody)
	for _, want := range []string{"symbol=BTCUSDT", "side=BUY", "type=LIMIT", "quantity=0.5", "price=42000.1", "timeInForce=GTC", "newClientOrderId=ref-1"} {
		if !strings.Contains(gotBody, want) {
			t.Fatalf("order body missing %q: %q", want, gotBody)
		}
	}
	if state.Status != schema.ProviderNew {
		t.Fatalf("status = %s, want NEW", state.Status)
	}
	if state.ExchangeOrderID != "4567" {
		t.Fatalf("exchange order id = %q, want 4567", state.ExchangeOrderID)
	}
	if state.ClientRef != "ref-1" {
		t.Fatalf("client ref = %q, want ref-1", state.ClientRef)
	}
	if !state.UpdatedAt.Equal(time.UnixMilli(1700000000123).UTC()) {
		t.Fatalf("updated at = %v", state.UpdatedAt)
	}
}

func TestQueryOrderPrefersExchangeOrderID(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.RawQuery
		if !strings.Contains(query, "orderId=4567") {
			t.Errorf("query missing orderId: %q", query)
		}
		if strings.Contains(query, "origClientOrderId") {
			t.Errorf("query should not carry origClientOrderId: %q", query)
		}
		verifySignature(t, query)
		_, _ = w.Write([]byte(`{"symbol":"BTCUSDT","orderId":4567,"clientOrderId":"ref-1","status":"PARTIALLY_FILLED","executedQty":"0.2","avgPrice":"41999.5","updateTime":1700000001000}`))
	}))

	state, err := client.QueryOrder(context.Background(), exchange.OrderQuery{
		Symbol:          "BTCUSDT",
		ExchangeOrderID: "4567",
		ClientRef:       "ref-1",
	})
	if err != nil {
		t.Fatalf("QueryOrder: %v", err)
	}
	if state.Status != schema.ProviderPartiallyFilled {
		t.Fatalf("status = %s", state.Status)
	}
	if !state.ExecutedQty.Equal(decimal.RequireFromString("0.2")) {
		t.Fatalf("executed qty = %s", state.ExecutedQty)
	}
}

func TestQueryOrderFallsBackToClientRef(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.RawQuery, "origClientOrderId=ref-9") {
			t.Errorf("query missing origClientOrderId: %q", r.URL.RawQuery)
		}
		_, _ = w.Write([]byte(`{"symbol":"BTCUSDT","orderId":99,"clientOrderId":"ref-9","status":"FILLED","executedQty":"1","avgPrice":"42000","updateTime":1700000002000}`))
	}))

	state, err := client.QueryOrder(context.Background(), exchange.OrderQuery{Symbol: "BTCUSDT", ClientRef: "ref-9"})
	if err != nil {
		t.Fatalf("QueryOrder: %v", err)
	}
	if state.Status != schema.ProviderFilled {
		t.Fatalf("status = %s", state.Status)
	}
}

func TestCancelOrderUsesDelete(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Errorf("method = %s, want DELETE", r.Method)
		}
		_, _ = w.Write([]byte(`{"symbol":"BTCUSDT","orderId":4567,"clientOrderId":"ref-1","status":"CANCELED","executedQty":"0","avgPrice":"0","updateTime":1700000003000}`))
	}))

	state, err := client.CancelOrder(context.Background(), exchange.OrderQuery{Symbol: "BTCUSDT", ExchangeOrderID: "4567"})
	if err != nil {
		t.Fatalf("CancelOrder: %v", err)
	}
	if state.Status != schema.ProviderCanceled {
		t.Fatalf("status = %s", state.Status)
	}
}

func TestOrderQueryRequiresIdentifier(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Error("no request expected")
	}))
	_, err := client.QueryOrder(context.Background(), exchange.OrderQuery{Symbol: "BTCUSDT"})
	if !errs.IsKind(err, errs.KindValidation) {
		t.Fatalf("err = %v, want validation", err)
	}
}

func TestErrorClassification(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		want   errs.Kind
		code   string
	}{
		{"unknown order", http.StatusBadRequest, `{"code":-2013,"msg":"Order does not exist."}`, errs.KindNotFound, "-2013"},
		{"cancel unknown", http.StatusBadRequest, `{"code":-2011,"msg":"Unknown order sent."}`, errs.KindNotFound, "-2011"},
		{"rejected key", http.StatusUnauthorized, `{"code":-2015,"msg":"Invalid API-key, IP, or permissions for action."}`, errs.KindPermission, "-2015"},
		{"bad signature", http.StatusBadRequest, `{"code":-1022,"msg":"Signature for this request is not valid."}`, errs.KindPermission, "-1022"},
		{"clock skew", http.StatusBadRequest, `{"code":-1021,"msg":"Timestamp for this request is outside of the recvWindow."}`, errs.KindConnection, "-1021"},
		{"venue reject", http.StatusBadRequest, `{"code":-2010,"msg":"Account has insufficient balance for requested action."}`, errs.KindProvider, "-2010"},
		{"server error", http.StatusInternalServerError, `oops`, errs.KindConnection, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := classifyHTTPError(tc.status, []byte(tc.body))
			if !errs.IsKind(err, tc.want) {
				t.Fatalf("kind = %s, want %s (err %v)", errs.KindOf(err), tc.want, err)
			}
			var e *errs.E
			if !errors.As(err, &e) {
				t.Fatalf("error is not an envelope: %v", err)
			}
			if e.RawCode != tc.code {
				t.Fatalf("raw code = %q, want %q", e.RawCode, tc.code)
			}
			if e.HTTP != tc.status {
				t.Fatalf("http = %d, want %d", e.HTTP, tc.status)
			}
		})
	}
}

func TestRejectionPreservesVenueMessage(t *testing.T) {
	const venueMsg = "Account has insufficient balance for requested action."
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":-2010,"msg":"` + venueMsg + `"}`))
	}))

	_, err := client.PlaceOrder(context.Background(), exchange.OrderIntent{
		ClientRef: "ref-1",
		Request: schema.OrderRequest{
			Symbol:   "BTCUSDT",
			Side:     schema.SideBuy,
			Type:     schema.OrderTypeMarket,
			Quantity: decimal.RequireFromString("1"),
		},
	})
	if !errs.IsKind(err, errs.KindProvider) {
		t.Fatalf("kind = %s, want provider", errs.KindOf(err))
	}
	var e *errs.E
	if !errors.As(err, &e) {
		t.Fatalf("error is not an envelope: %v", err)
	}
	if e.Display() != venueMsg {
		t.Fatalf("display = %q, want verbatim venue message", e.Display())
	}
}

func TestTransportFailureIsConnection(t *testing.T) {
	client, srv := newTestClient(t, http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close()
	_, err := client.Ping(context.Background())
	if !errs.IsKind(err, errs.KindConnection) {
		t.Fatalf("err = %v, want connection", err)
	}
}

func TestPingComputesOffset(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/fapi/v1/time" {
			t.Errorf("path = %s", r.URL.Path)
		}
		// two seconds ahead of the fixed test clock
		_, _ = w.Write([]byte(`{"serverTime":1700000002000}`))
	}))
	offset, err := client.Ping(context.Background())
	if err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if offset != 2*time.Second {
		t.Fatalf("offset = %v, want 2s", offset)
	}
}

func TestAccountReportsCanTrade(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/fapi/v2/account" {
			t.Errorf("path = %s", r.URL.Path)
		}
		verifySignature(t, r.URL.RawQuery)
		_, _ = w.Write([]byte(`{"canTrade":true,"updateTime":1700000000000}`))
	}))
	info, err := client.Account(context.Background())
	if err != nil {
		t.Fatalf("Account: %v", err)
	}
	if !info.CanTrade {
		t.Fatal("expected canTrade")
	}
}

func TestQueryBalancesParsesAllAssets(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/fapi/v2/balance" {
			t.Errorf("path = %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`[
			{"asset":"USDT","balance":"1500.25","availableBalance":"1200.00","updateTime":1700000000000},
			{"asset":"BNB","balance":"0","availableBalance":"0","updateTime":1700000000000}
		]`))
	}))
	balances, err := client.QueryBalances(context.Background())
	if err != nil {
		t.Fatalf("QueryBalances: %v", err)
	}
	if len(balances) != 2 {
		t.Fatalf("len = %d, want 2", len(balances))
	}
	if balances[0].Asset != "USDT" || !balances[0].Available.Equal(decimal.RequireFromString("1200")) {
		t.Fatalf("unexpected first balance: %+v", balances[0])
	}
	// a zero balance is a legitimate snapshot, not an error
	if balances[1].Asset != "BNB" || !balances[1].Total.IsZero() {
		t.Fatalf("unexpected second balance: %+v", balances[1])
	}
}

func TestLoadFiltersCachesStepMetadata(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/fapi/v1/exchangeInfo" {
			t.Errorf("path = %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"symbols":[{"symbol":"BTCUSDT","filters":[
			{"filterType":"LOT_SIZE","minQty":"0.001","stepSize":"0.001"},
			{"filterType":"PRICE_FILTER","tickSize":"0.10"},
			{"filterType":"MIN_NOTIONAL","notional":"5"}
		]}]}`))
	}))
	if err := client.LoadFilters(context.Background()); err != nil {
		t.Fatalf("LoadFilters: %v", err)
	}
	filters, ok := client.Filters("BTCUSDT")
	if !ok {
		t.Fatal("filters missing for BTCUSDT")
	}
	if !filters.QuantityStep.Equal(decimal.RequireFromString("0.001")) {
		t.Fatalf("quantity step = %s", filters.QuantityStep)
	}
	if !filters.PriceTick.Equal(decimal.RequireFromString("0.1")) {
		t.Fatalf("price tick = %s", filters.PriceTick)
	}
	if _, ok := client.Filters("ETHUSDT"); ok {
		t.Fatal("unexpected filters for ETHUSDT")
	}
}

func TestParseOrderUpdate(t *testing.T) {
	payload := []byte(`{"e":"ORDER_TRADE_UPDATE","E":1700000005000,"o":{"s":"BTCUSDT","c":"ref-1","X":"PARTIALLY_FILLED","i":4567,"z":"0.3","ap":"41990.0","T":1700000004500}}`)
	state, ok := parseOrderUpdate(payload)
	if !ok {
		t.Fatal("expected an order update")
	}
	if state.Status != schema.ProviderPartiallyFilled {
		t.Fatalf("status = %s", state.Status)
	}
	if state.ClientRef != "ref-1" || state.ExchangeOrderID != "4567" {
		t.Fatalf("identifiers = %q/%q", state.ClientRef, state.ExchangeOrderID)
	}
	if !state.ExecutedQty.Equal(decimal.RequireFromString("0.3")) {
		t.Fatalf("executed qty = %s", state.ExecutedQty)
	}
	if !state.UpdatedAt.Equal(time.UnixMilli(1700000004500).UTC()) {
		t.Fatalf("updated at = %v", state.UpdatedAt)
	}

	if _, ok := parseOrderUpdate([]byte(`{"e":"ACCOUNT_UPDATE"}`)); ok {
		t.Fatal("non-order events must be ignored")
	}
}
