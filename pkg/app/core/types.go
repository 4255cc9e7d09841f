package core

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Epsilon is the tolerance below which a remaining quantity counts as zero.
var Epsilon = decimal.New(1, -9)

// Symbol is a ticker from the fixed set registered at startup.
type Symbol string

type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

// Opposite returns the side a resting counter-order must have.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

func (s Side) Valid() bool { return s == Buy || s == Sell }

// ParseSide accepts "buy"/"sell" in any case.
func ParseSide(s string) (Side, error) {
	side := Side(strings.ToLower(strings.TrimSpace(s)))
	if !side.Valid() {
		return "", Invalid("side", "must be buy or sell")
	}
	return side, nil
}

type OrderKind string

const (
	Market OrderKind = "market"
	Limit  OrderKind = "limit"
)

// ParseOrderKind defaults to limit when s is empty, matching the request
// surface where "type" is optional.
func ParseOrderKind(s string) (OrderKind, error) {
	switch OrderKind(strings.ToLower(strings.TrimSpace(s))) {
	case Market:
		return Market, nil
	case Limit, "":
		return Limit, nil
	}
	return "", Invalid("type", "must be market or limit")
}

type OrderStatus string

const (
	StatusOpen   OrderStatus = "open"
	StatusFilled OrderStatus = "filled"
)

// Order is a unit of trading intent. Quantity is the remaining quantity and
// shrinks on every fill; OriginalQuantity never changes. Price is nil for
// market orders.
type Order struct {
	ID               int64            `json:"id"`
	UserID           int64            `json:"userId"`
	Symbol           Symbol           `json:"symbol"`
	Side             Side             `json:"side"`
	OriginalQuantity decimal.Decimal  `json:"originalQuantity"`
	Quantity         decimal.Decimal  `json:"quantity"`
	Price            *decimal.Decimal `json:"price"`
	Status           OrderStatus      `json:"status"`
	CreatedAt        time.Time        `json:"createdAt"`
}

func (o *Order) IsOpen() bool { return o.Status == StatusOpen }

// HasPrice reports whether the order carries a limit price.
func (o *Order) HasPrice() bool { return o.Price != nil }

// Fill reduces the remaining quantity by qty and transitions to filled once
// nothing (within Epsilon) is left. A filled order never reopens.
func (o *Order) Fill(qty decimal.Decimal) {
	o.Quantity = o.Quantity.Sub(qty)
	if o.Quantity.LessThanOrEqual(Epsilon) {
		o.Quantity = decimal.Zero
		o.Status = StatusFilled
	}
}

// Filled returns the quantity executed so far.
func (o *Order) Filled() decimal.Decimal {
	return o.OriginalQuantity.Sub(o.Quantity)
}

// Clone returns a deep copy safe to hand outside the book lock.
func (o *Order) Clone() *Order {
	cp := *o
	if o.Price != nil {
		p := *o.Price
		cp.Price = &p
	}
	return &cp
}

// Trade is an immutable execution record. One of BuyOrderID/SellOrderID may
// be nil for a market fill against the reference price.
type Trade struct {
	ID          int64           `json:"id"`
	BuyOrderID  *int64          `json:"buyOrderId"`
	SellOrderID *int64          `json:"sellOrderId"`
	Symbol      Symbol          `json:"symbol"`
	Price       decimal.Decimal `json:"price"`
	Quantity    decimal.Decimal `json:"quantity"`
	TradedAt    time.Time       `json:"tradedAt"`
}

type User struct {
	ID      int64  `json:"id"`
	Email   string `json:"email"`
	IsAdmin bool   `json:"isAdmin"`
}

type Subscription struct {
	UserID int64  `json:"userId"`
	Symbol Symbol `json:"symbol"`
}

// Batch is the set of order and trade records one execution step produces.
// Stores must apply a batch atomically.
type Batch struct {
	Orders []*Order
	Trades []*Trade
}

func (b *Batch) Empty() bool { return len(b.Orders) == 0 && len(b.Trades) == 0 }
