package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/tickerbook/pkg/app/broker"
	"github.com/uhyunpark/tickerbook/pkg/app/core"
	"github.com/uhyunpark/tickerbook/pkg/app/core/market"
	"github.com/uhyunpark/tickerbook/pkg/app/core/prices"
	"github.com/uhyunpark/tickerbook/pkg/events"
	"github.com/uhyunpark/tickerbook/pkg/metrics"
	"github.com/uhyunpark/tickerbook/pkg/storage"
	"github.com/uhyunpark/tickerbook/pkg/util"
)

func newTestServer(t *testing.T, adminKey string) *httptest.Server {
	t.Helper()
	reg := market.Default()
	clock := util.NewManualClock(time.Unix(1700000000, 0))
	m := metrics.New()
	app, err := broker.New(context.Background(), broker.Config{AdminKey: adminKey}, broker.Deps{
		Registry: reg,
		Table:    prices.NewTable(reg, clock.Now()),
		Store:    storage.NewMemoryStore(),
		Metrics:  m,
		Clock:    clock,
	})
	require.NoError(t, err)

	s := NewServer(app, m, Config{MetricsEnabled: true}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go s.hub.Run(ctx)

	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		ts.Close()
		cancel()
		app.Close()
	})
	return ts
}

func do(t *testing.T, method, url, body string, header http.Header) (*http.Response, []byte) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, rd)
	require.NoError(t, err)
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func TestHealthAndMarketData(t *testing.T) {
	ts := newTestServer(t, "")

	resp, body := do(t, "GET", ts.URL+"/health", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))

	_, body = do(t, "GET", ts.URL+"/api/v1/supported", "", nil)
	var sup SupportedResponse
	require.NoError(t, json.Unmarshal(body, &sup))
	assert.Equal(t, []core.Symbol{"GOOG", "TSLA", "AMZN", "META", "NVDA"}, sup.Supported)

	_, body = do(t, "GET", ts.URL+"/api/v1/prices", "", nil)
	var px PricesResponse
	require.NoError(t, json.Unmarshal(body, &px))
	require.Len(t, px.Prices, 5)
	assert.Equal(t, "2800", px.Prices["GOOG"].Price.String())
}

func TestDecimalsAreJSONNumbers(t *testing.T) {
	ts := newTestServer(t, "")

	_, body := do(t, "GET", ts.URL+"/api/v1/prices", "", nil)
	assert.Contains(t, string(body), `"price":2800`)

	resp, body := do(t, "POST", ts.URL+"/api/v1/orders",
		`{"email":"n@x","symbol":"META","side":"buy","quantity":"2","type":"limit","price":"300.5"}`, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	_, body = do(t, "GET", ts.URL+"/api/v1/orderbook?symbol=META", "", nil)
	assert.Contains(t, string(body), `"price":300.5`)
	assert.NotContains(t, string(body), `"300.5"`)
}

func TestPlaceAndFetchOrders(t *testing.T) {
	ts := newTestServer(t, "")

	resp, body := do(t, "POST", ts.URL+"/api/v1/orders",
		`{"email":"a@x","symbol":"TSLA","side":"sell","quantity":3,"type":"limit","price":690}`, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var placed broker.Placement
	require.NoError(t, json.Unmarshal(body, &placed))
	assert.Equal(t, core.StatusOpen, placed.Status)

	_, body = do(t, "GET", ts.URL+"/api/v1/orderbook?symbol=TSLA", "", nil)
	var book OrderbookResponse
	require.NoError(t, json.Unmarshal(body, &book))
	require.Len(t, book.Orderbook, 1)
	assert.Equal(t, placed.OrderID, book.Orderbook[0].ID)

	resp, body = do(t, "POST", ts.URL+"/api/v1/orders",
		`{"email":"b@x","symbol":"TSLA","side":"buy","quantity":"1","type":"market"}`, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var filled broker.Placement
	require.NoError(t, json.Unmarshal(body, &filled))
	assert.Equal(t, core.StatusFilled, filled.Status)
	require.Len(t, filled.Trades, 1)
	assert.Equal(t, "700", filled.Trades[0].Price.String())

	resp, body = do(t, "GET", ts.URL+"/api/v1/orders/1", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var order core.Order
	require.NoError(t, json.Unmarshal(body, &order))
	assert.Equal(t, core.Sell, order.Side)

	resp, _ = do(t, "GET", ts.URL+"/api/v1/orders/999", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	_, body = do(t, "GET", ts.URL+"/api/v1/trades?symbol=TSLA&limit=5", "", nil)
	var trades TradesResponse
	require.NoError(t, json.Unmarshal(body, &trades))
	assert.Len(t, trades.Trades, 1)
}

func TestBadRequests(t *testing.T) {
	ts := newTestServer(t, "")

	cases := []struct {
		name, method, path, body string
	}{
		{"unknown symbol", "POST", "/api/v1/orders", `{"email":"a@x","symbol":"AAPL","side":"buy","quantity":1,"type":"market"}`},
		{"zero quantity", "POST", "/api/v1/orders", `{"email":"a@x","symbol":"GOOG","side":"buy","quantity":0,"type":"market"}`},
		{"limit without price", "POST", "/api/v1/orders", `{"email":"a@x","symbol":"GOOG","side":"buy","quantity":1}`},
		{"missing email", "POST", "/api/v1/orders", `{"symbol":"GOOG","side":"buy","quantity":1,"type":"market"}`},
		{"malformed body", "POST", "/api/v1/orders", `{`},
		{"orderbook without symbol", "GET", "/api/v1/orderbook", ""},
		{"bad limit", "GET", "/api/v1/trades?limit=abc", ""},
		{"subscriptions without email", "GET", "/api/v1/me/subscriptions", ""},
		{"subscribe unknown symbol", "POST", "/api/v1/subscriptions", `{"email":"a@x","symbol":"AAPL"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, body := do(t, tc.method, ts.URL+tc.path, tc.body, nil)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode, string(body))
			var e ErrorResponse
			require.NoError(t, json.Unmarshal(body, &e))
			assert.NotEmpty(t, e.Error)
		})
	}
}

func TestSubscriptionRoutes(t *testing.T) {
	ts := newTestServer(t, "")

	_, body := do(t, "GET", ts.URL+"/api/v1/me/subscriptions?email=nobody@x", "", nil)
	assert.JSONEq(t, `{"subscriptions":[]}`, string(body))

	resp, body := do(t, "POST", ts.URL+"/api/v1/subscriptions", `{"email":"s@x","symbol":"META"}`, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"subscriptions":["META"]}`, string(body))

	_, body = do(t, "GET", ts.URL+"/api/v1/me/subscriptions?email=s@x", "", nil)
	assert.JSONEq(t, `{"subscriptions":["META"]}`, string(body))

	resp, body = do(t, "DELETE", ts.URL+"/api/v1/subscriptions", `{"email":"s@x","symbol":"META"}`, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"subscriptions":[]}`, string(body))
}

func TestAdminRoutes(t *testing.T) {
	ts := newTestServer(t, "k3y")
	do(t, "POST", ts.URL+"/api/v1/subscriptions", `{"email":"s@x","symbol":"GOOG"}`, nil)
	do(t, "POST", ts.URL+"/api/v1/orders", `{"email":"s@x","symbol":"GOOG","side":"buy","quantity":1,"type":"market"}`, nil)

	for _, path := range []string{"/api/v1/admin/users", "/api/v1/admin/subscriptions", "/api/v1/admin/trades.csv"} {
		resp, body := do(t, "GET", ts.URL+path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, path)
		assert.NotContains(t, string(body), "s@x")

		resp, _ = do(t, "GET", ts.URL+path, "", http.Header{AdminKeyHeader: {"nope"}})
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, path)
	}

	key := http.Header{AdminKeyHeader: {"k3y"}}
	_, body := do(t, "GET", ts.URL+"/api/v1/admin/users", "", key)
	var users UsersResponse
	require.NoError(t, json.Unmarshal(body, &users))
	require.Len(t, users.Users, 1)
	assert.Equal(t, "s@x", users.Users[0].Email)

	_, body = do(t, "GET", ts.URL+"/api/v1/admin/subscriptions", "", key)
	assert.JSONEq(t, `{"subscriptions":[{"email":"s@x","symbol":"GOOG"}]}`, string(body))

	resp, body := do(t, "GET", ts.URL+"/api/v1/admin/trades.csv?symbol=GOOG", "", key)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/csv", resp.Header.Get("Content-Type"))
	assert.Equal(t, `attachment; filename="trades-GOOG.csv"`, resp.Header.Get("Content-Disposition"))
	assert.True(t, strings.HasPrefix(string(body), "id,buy_order_id,sell_order_id,symbol,price,quantity,traded_at\n"))
	assert.Contains(t, string(body), "1,1,,GOOG,2800,1,")
}

func TestAdminUsersEmptyIsArray(t *testing.T) {
	ts := newTestServer(t, "")

	resp, body := do(t, "GET", ts.URL+"/api/v1/admin/users", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"users":[]}`, string(body))
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, "")
	do(t, "POST", ts.URL+"/api/v1/orders", `{"email":"m@x","symbol":"NVDA","side":"buy","quantity":1,"type":"market"}`, nil)

	resp, body := do(t, "GET", ts.URL+"/metrics", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `tickerbook_trades_executed_total{symbol="NVDA"} 1`)
}

func mustDec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func ptrDec(d decimal.Decimal) *decimal.Decimal { return &d }

type wsFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(WSMessage{Event: event, Data: raw}))
}

func next(t *testing.T, conn *websocket.Conn) wsFrame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var f wsFrame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

func TestWebSocketSession(t *testing.T) {
	ts := newTestServer(t, "")
	conn := dial(t, ts)

	send(t, conn, opJoin, JoinRequest{Email: "ws@x"})
	assert.Equal(t, events.PricesInit, next(t, conn).Event)
	assert.Equal(t, events.SubscriptionsInit, next(t, conn).Event)
	assert.Equal(t, events.TradesInit, next(t, conn).Event)

	send(t, conn, opSubscribe, SymbolRequest{Symbol: "AMZN"})
	f := next(t, conn)
	require.Equal(t, events.SubscriptionsUpdate, f.Event)
	assert.JSONEq(t, `["AMZN"]`, string(f.Data))

	resp, _ := do(t, "POST", ts.URL+"/api/v1/orders",
		`{"email":"other@x","symbol":"AMZN","side":"buy","quantity":2,"price":3000}`, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	f = next(t, conn)
	require.Equal(t, events.OrdersUpdate, f.Event)
	var changed events.OrdersChanged
	require.NoError(t, json.Unmarshal(f.Data, &changed))
	assert.Equal(t, core.Symbol("AMZN"), changed.Symbol)

	send(t, conn, opPlaceOrder, OrderRequest{Symbol: "AMZN", Side: "sell", Type: "limit",
		Quantity: mustDec("2"), Price: ptrDec(mustDec("2990"))})

	var got []string
	for i := 0; i < 4; i++ {
		got = append(got, next(t, conn).Event)
	}
	assert.Equal(t, []string{
		events.OrdersUpdate, events.TradesUpdate, events.OrdersUpdate, events.OrderPlaced,
	}, got)
}

func TestWebSocketErrors(t *testing.T) {
	ts := newTestServer(t, "")
	conn := dial(t, ts)

	send(t, conn, opSubscribe, SymbolRequest{Symbol: "GOOG"})
	assert.Equal(t, events.Error, next(t, conn).Event)

	send(t, conn, "bogus", map[string]string{})
	assert.Equal(t, events.Error, next(t, conn).Event)

	send(t, conn, opPlaceOrder, OrderRequest{Email: "e@x", Symbol: "AAPL", Side: "buy", Type: "market", Quantity: mustDec("1")})
	f := next(t, conn)
	require.Equal(t, events.Error, f.Event)
	var reply events.ErrorReply
	require.NoError(t, json.Unmarshal(f.Data, &reply))
	assert.Contains(t, reply.Message, "symbol")
}
