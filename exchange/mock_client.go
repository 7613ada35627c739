// exchange/mock_client.go
package exchange

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// Ensure MockClient implements the Client interface.
var _ Client = (*MockClient)(nil)

// MockClient is an in-memory exchange used by tests. Market orders fill
// immediately at FillPrice; conditional orders are accepted and recorded but
// never trigger. Tests drive position closure by setting PositionAmt and
// Trades directly, mirroring how the live loop only ever observes closure
// through polling.
type MockClient struct {
	mu sync.Mutex

	Balance      float64
	Filters      SymbolFilters
	PositionAmt  float64
	Trades       []AccountTrade
	Klines       []Candle
	OpenInterest float64

	FillPrice    float64 // execution price for market orders
	OrderErr     error   // returned by PlaceOrder when set
	PlacedOrders []*Order
	CancelCalls  int

	nextOrderID int64
}

func NewMockClient() *MockClient {
	return &MockClient{
		Filters: SymbolFilters{StepSize: 0.001, TickSize: 0.1},
	}
}

func (m *MockClient) SyncTime() error { return nil }

func (m *MockClient) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	return nil
}

func (m *MockClient) GetBalance(ctx context.Context) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Balance, nil
}

func (m *MockClient) GetSymbolFilters(symbol string) (SymbolFilters, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f := m.Filters
	f.Symbol = symbol
	return f, true
}

func (m *MockClient) GetKlines(ctx context.Context, symbol string, limit int) ([]Candle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Candle(nil), m.Klines...), nil
}

func (m *MockClient) GetOpenInterest(ctx context.Context, symbol string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.OpenInterest, nil
}

func (m *MockClient) PlaceOrder(ctx context.Context, order *Order) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.OrderErr != nil {
		err := m.OrderErr
		m.OrderErr = nil
		return nil, err
	}

	m.nextOrderID++
	placed := *order
	placed.OrderID = m.nextOrderID
	placed.UpdateTime = time.Now().UnixMilli()

	switch order.Type {
	case Market:
		placed.Status = Filled
		placed.ExecutedQty = order.OrigQty
		placed.AvgPrice = strconv.FormatFloat(m.FillPrice, 'f', -1, 64)
		qty, _ := strconv.ParseFloat(order.OrigQty, 64)
		if order.Side == Buy {
			m.PositionAmt += qty
		} else {
			m.PositionAmt -= qty
		}
	default:
		placed.Status = New
	}

	m.PlacedOrders = append(m.PlacedOrders, &placed)
	return &placed, nil
}

func (m *MockClient) GetPositionAmt(ctx context.Context, symbol string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.PositionAmt, nil
}

func (m *MockClient) GetRecentTrades(ctx context.Context, symbol string, limit int) ([]AccountTrade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	trades := m.Trades
	if len(trades) > limit {
		trades = trades[len(trades)-limit:]
	}
	return append([]AccountTrade(nil), trades...), nil
}

func (m *MockClient) CancelAllOpenOrders(ctx context.Context, symbol string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CancelCalls++
	return nil
}

// OrdersOfType returns the recorded orders of the given type, for assertions.
func (m *MockClient) OrdersOfType(t OrderType) []*Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Order
	for _, o := range m.PlacedOrders {
		if o.Type == t {
			out = append(out, o)
		}
	}
	return out
}
