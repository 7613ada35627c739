package exchange

import (
	"context"
	"time"
)

// OrderSide defines the order direction (BUY or SELL).
type OrderSide string

const (
	Buy  OrderSide = "BUY"
	Sell OrderSide = "SELL"
)

// Opposite returns the closing side for a given entry side.
func (s OrderSide) Opposite() OrderSide {
	if s == Buy {
		return Sell
	}
	return Buy
}

// OrderType defines the order type.
type OrderType string

const (
	Market           OrderType = "MARKET"
	StopMarket       OrderType = "STOP_MARKET"
	TakeProfitMarket OrderType = "TAKE_PROFIT_MARKET"
)

// OrderStatus defines the order status.
type OrderStatus string

const (
	New      OrderStatus = "NEW"
	Filled   OrderStatus = "FILLED"
	Canceled OrderStatus = "CANCELED"
	Expired  OrderStatus = "EXPIRED"
)

// Order represents an order submitted to or returned by the exchange.
type Order struct {
	Symbol        string      `json:"symbol"`
	OrderID       int64       `json:"orderId"`
	ClientOrderID string      `json:"clientOrderId"`
	Side          OrderSide   `json:"side"`
	Type          OrderType   `json:"type"`
	OrigQty       string      `json:"origQty"`
	ExecutedQty   string      `json:"executedQty"`
	AvgPrice      string      `json:"avgPrice"`
	StopPrice     string      `json:"stopPrice"`
	Status        OrderStatus `json:"status"`
	ReduceOnly    bool        `json:"reduceOnly"`
	ClosePosition bool        `json:"closePosition"`
	UpdateTime    int64       `json:"updateTime"`
}

// SymbolFilters holds the trading filters that matter for order construction.
type SymbolFilters struct {
	Symbol   string
	StepSize float64 // LOT_SIZE quantity step
	TickSize float64 // PRICE_FILTER price tick
}

// Candle is a single kline bar.
type Candle struct {
	High  float64
	Low   float64
	Close float64
}

// AccountTrade is one fill from the account trade history.
type AccountTrade struct {
	Symbol      string
	Qty         float64
	RealizedPnl float64
	Time        time.Time
}

// Client defines the interface the decision core needs from an exchange.
// Keeping it narrow lets tests substitute the mock client wholesale.
type Client interface {
	// SyncTime synchronizes time with the server. Must be called before any
	// signed request.
	SyncTime() error

	// SetLeverage configures leverage for the symbol.
	SetLeverage(ctx context.Context, symbol string, leverage int) error

	// GetBalance returns the total wallet balance in the quote asset.
	GetBalance(ctx context.Context) (float64, error)

	// GetSymbolFilters returns the cached lot-size step and price tick.
	GetSymbolFilters(symbol string) (SymbolFilters, bool)

	// GetKlines returns the most recent one-minute candles, oldest first.
	GetKlines(ctx context.Context, symbol string, limit int) ([]Candle, error)

	// GetOpenInterest returns the current open interest for the symbol.
	GetOpenInterest(ctx context.Context, symbol string) (float64, error)

	// PlaceOrder submits a new order to the exchange.
	PlaceOrder(ctx context.Context, order *Order) (*Order, error)

	// GetPositionAmt returns the signed position amount for the symbol
	// (0 when flat).
	GetPositionAmt(ctx context.Context, symbol string) (float64, error)

	// GetRecentTrades returns the latest account trades for the symbol,
	// capped at limit.
	GetRecentTrades(ctx context.Context, symbol string, limit int) ([]AccountTrade, error)

	// CancelAllOpenOrders cancels all open orders for the symbol.
	CancelAllOpenOrders(ctx context.Context, symbol string) error
}
