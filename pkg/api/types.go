package api

import (
	"encoding/json"

	"github.com/shopspring/decimal"

	"github.com/uhyunpark/tickerbook/pkg/app/broker"
	"github.com/uhyunpark/tickerbook/pkg/app/core"
	"github.com/uhyunpark/tickerbook/pkg/app/core/prices"
)

// ==============================
// REST Request Types
// ==============================

// OrderRequest is the payload for POST /api/v1/orders and the place:order
// push-channel message. Type defaults to limit.
type OrderRequest struct {
	Email    string           `json:"email"`
	Symbol   string           `json:"symbol"`
	Side     string           `json:"side"`
	Quantity decimal.Decimal  `json:"quantity"`
	Type     string           `json:"type"`
	Price    *decimal.Decimal `json:"price,omitempty"`
}

func (r OrderRequest) toBroker() broker.OrderRequest {
	return broker.OrderRequest{
		Email:    r.Email,
		Symbol:   r.Symbol,
		Side:     r.Side,
		Quantity: r.Quantity,
		Type:     r.Type,
		Price:    r.Price,
	}
}

// SubscriptionRequest is the payload for POST/DELETE /api/v1/subscriptions
type SubscriptionRequest struct {
	Email  string `json:"email"`
	Symbol string `json:"symbol"`
}

// ==============================
// REST Response Types
// ==============================

type SupportedResponse struct {
	Supported []core.Symbol `json:"supported"`
}

type PricesResponse struct {
	Prices map[core.Symbol]prices.Price `json:"prices"`
}

type OrderbookResponse struct {
	Orderbook []*core.Order `json:"orderbook"`
}

type TradesResponse struct {
	Trades []*core.Trade `json:"trades"`
}

type SubscriptionsResponse struct {
	Subscriptions []core.Symbol `json:"subscriptions"`
}

type UsersResponse struct {
	Users []core.User `json:"users"`
}

type AdminSubscriptionsResponse struct {
	Subscriptions []broker.SubscriptionRow `json:"subscriptions"`
}

// ErrorResponse is returned for all errors
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// ==============================
// WebSocket Message Types
// ==============================

// WSMessage is what a client sends over the push channel:
// {"event": "subscribe", "data": {"symbol": "GOOG"}}
type WSMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// inbound push-channel events
const (
	opJoin        = "client:join"
	opSubscribe   = "subscribe"
	opUnsubscribe = "unsubscribe"
	opPlaceOrder  = "place:order"
)

type JoinRequest struct {
	Email string `json:"email"`
}

type SymbolRequest struct {
	Symbol string `json:"symbol"`
}
