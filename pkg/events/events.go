package events

import (
	"github.com/uhyunpark/tickerbook/pkg/app/core"
	"github.com/uhyunpark/tickerbook/pkg/app/core/prices"
)

// Event names are the outward contract with observers.
const (
	PricesInit          = "prices:init"
	PricesUpdate        = "prices:update"
	SubscriptionsInit   = "subscriptions:init"
	SubscriptionsUpdate = "subscriptions:update"
	TradesInit          = "trades:init"
	TradesUpdate        = "trades:update"
	OrdersUpdate        = "orders:update"

	// replies addressed to a single observer
	OrderPlaced = "order:placed"
	Error       = "error"
)

// Envelope is the unit pushed to an observer.
type Envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// PricesSnapshot is the prices:init payload.
type PricesSnapshot struct {
	Supported []core.Symbol                `json:"supported"`
	Prices    map[core.Symbol]prices.Price `json:"prices"`
}

// OrdersChanged tells observers a symbol's book changed; they re-fetch the
// open orders rather than apply a delta.
type OrdersChanged struct {
	Symbol  core.Symbol `json:"symbol"`
	OrderID int64       `json:"orderId"`
}

// ErrorReply carries a rejected request back to its sender.
type ErrorReply struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// Greeting is what an observer receives once on join.
type Greeting struct {
	Supported     []core.Symbol
	Prices        map[core.Symbol]prices.Price
	Subscriptions []core.Symbol
	Trades        []*core.Trade
}
