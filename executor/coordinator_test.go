package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"mmfr_bot/config"
	"mmfr_bot/exchange"
	"mmfr_bot/risk"
	"mmfr_bot/signal"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testGovernor(balance float64) *risk.Governor {
	g := risk.NewGovernor(&config.RiskConfig{
		RiskPerTrade:         0.005,
		BasicRR:              1.5,
		ConvictionRR:         2.5,
		SlAtrMult:            1.0,
		MaxConsecutiveLoss:   4,
		MaxDrawdownPct:       6.0,
		DailyLossLimitR:      3.0,
		MinScore:             8,
		TradeCooldownSeconds: 0,
	}, nil, nil)
	g.SyncBalance(balance)
	return g
}

func testCoordinator(mock *exchange.MockClient, gov *risk.Governor) *Coordinator {
	return NewCoordinator(mock, gov, nil, nil, "BTCUSDT",
		0.005, 1.0, exchange.SymbolFilters{Symbol: "BTCUSDT", StepSize: 0.001, TickSize: 0.1})
}

func buySignal() signal.Result {
	return signal.Result{Side: exchange.Buy, Total: 9, Factors: 3, Regime: signal.Trend}
}

func TestEnterSizesAndBracketsFromFill(t *testing.T) {
	mock := exchange.NewMockClient()
	mock.FillPrice = 50000
	gov := testGovernor(10000)
	c := testCoordinator(mock, gov)

	// risk = 10000 * 0.005 = 50 USDT, stop distance = 100 (ATR 100 * mult 1),
	// size = floor((50/100)/0.001)*0.001 = 0.5 exactly.
	require.NoError(t, c.Enter(context.Background(), buySignal(), 2.0, 100))

	markets := mock.OrdersOfType(exchange.Market)
	require.Len(t, markets, 1)
	assert.Equal(t, "0.5", markets[0].OrigQty)
	assert.Equal(t, exchange.Buy, markets[0].Side)
	assert.NotEmpty(t, markets[0].ClientOrderID)

	stops := mock.OrdersOfType(exchange.StopMarket)
	require.Len(t, stops, 1)
	assert.Equal(t, "49900", stops[0].StopPrice)
	assert.Equal(t, exchange.Sell, stops[0].Side)
	assert.True(t, stops[0].ClosePosition)
	assert.True(t, stops[0].ReduceOnly)

	takes := mock.OrdersOfType(exchange.TakeProfitMarket)
	require.Len(t, takes, 1)
	assert.Equal(t, "50200", takes[0].StopPrice, "TP at entry + 2R")

	state, pos := c.Status()
	assert.Equal(t, Open, state)
	require.NotNil(t, pos)
	assert.InDelta(t, 50000.0, pos.EntryPrice, 1e-9)
	assert.InDelta(t, 0.5, pos.Quantity, 1e-12)
	assert.InDelta(t, 50.0, pos.ActualRisk, 1e-9, "|50000-49900| * 0.5")
}

func TestEnterSellSideBrackets(t *testing.T) {
	mock := exchange.NewMockClient()
	mock.FillPrice = 50000
	c := testCoordinator(mock, testGovernor(10000))

	res := buySignal()
	res.Side = exchange.Sell
	require.NoError(t, c.Enter(context.Background(), res, 1.5, 100))

	stops := mock.OrdersOfType(exchange.StopMarket)
	require.Len(t, stops, 1)
	assert.Equal(t, "50100", stops[0].StopPrice)
	assert.Equal(t, exchange.Buy, stops[0].Side)

	takes := mock.OrdersOfType(exchange.TakeProfitMarket)
	require.Len(t, takes, 1)
	assert.Equal(t, "49850", takes[0].StopPrice)
}

func TestEnterZeroSizeIsNoOp(t *testing.T) {
	mock := exchange.NewMockClient()
	mock.FillPrice = 50000
	c := testCoordinator(mock, testGovernor(10)) // 0.05 USDT of risk rounds to zero size

	require.NoError(t, c.Enter(context.Background(), buySignal(), 2.0, 100))

	assert.Empty(t, mock.PlacedOrders)
	state, _ := c.Status()
	assert.Equal(t, Flat, state)
}

func TestEnterRejectsSecondPosition(t *testing.T) {
	mock := exchange.NewMockClient()
	mock.FillPrice = 50000
	c := testCoordinator(mock, testGovernor(10000))

	require.NoError(t, c.Enter(context.Background(), buySignal(), 2.0, 100))
	err := c.Enter(context.Background(), buySignal(), 2.0, 100)
	assert.ErrorIs(t, err, ErrPositionOpen)
	assert.Len(t, mock.OrdersOfType(exchange.Market), 1)
}

func TestEnterRevertsToFlatOnOrderError(t *testing.T) {
	mock := exchange.NewMockClient()
	mock.FillPrice = 50000
	mock.OrderErr = errors.New("code=-2019, msg=Margin is insufficient")
	c := testCoordinator(mock, testGovernor(10000))

	err := c.Enter(context.Background(), buySignal(), 2.0, 100)
	require.Error(t, err)

	state, pos := c.Status()
	assert.Equal(t, Flat, state)
	assert.Nil(t, pos)

	// The slot was released: a later entry goes through.
	require.NoError(t, c.Enter(context.Background(), buySignal(), 2.0, 100))
	state, _ = c.Status()
	assert.Equal(t, Open, state)
}

func TestEnterSkippedWhileHalted(t *testing.T) {
	mock := exchange.NewMockClient()
	mock.FillPrice = 50000
	gov := testGovernor(10000)
	gov.SyncBalance(9000) // 10% drawdown trips the halt
	c := testCoordinator(mock, gov)

	require.NoError(t, c.Enter(context.Background(), buySignal(), 2.0, 100))
	assert.Empty(t, mock.PlacedOrders)
}

func TestReconcileNoOpWhileExposureRemains(t *testing.T) {
	mock := exchange.NewMockClient()
	mock.FillPrice = 50000
	c := testCoordinator(mock, testGovernor(10000))
	require.NoError(t, c.Enter(context.Background(), buySignal(), 2.0, 100))

	// The mock's market fill left PositionAmt at +0.5.
	require.NoError(t, c.Reconcile(context.Background()))

	state, _ := c.Status()
	assert.Equal(t, Open, state)
	assert.Zero(t, mock.CancelCalls)
}

func TestReconcileTakeProfit(t *testing.T) {
	mock := exchange.NewMockClient()
	mock.FillPrice = 50000
	gov := testGovernor(20000) // risk 100 USDT, size 1.0, ActualRisk 100
	gov.OnTradeClosed(-1)
	gov.OnTradeClosed(-1)
	c := testCoordinator(mock, gov)
	require.NoError(t, c.Enter(context.Background(), buySignal(), 2.0, 100))

	mock.PositionAmt = 0 // the TP leg fired exchange-side
	mock.Trades = []exchange.AccountTrade{
		{Symbol: "BTCUSDT", Qty: 1, RealizedPnl: 150, Time: time.Now().Add(time.Second)},
	}
	mock.Balance = 20150

	require.NoError(t, c.Reconcile(context.Background()))

	state, pos := c.Status()
	assert.Equal(t, Flat, state)
	assert.Nil(t, pos)
	assert.Equal(t, 1, mock.CancelCalls, "the unfired bracket leg must be cancelled")

	st := gov.Status()
	assert.Zero(t, st.ConsecutiveLoss, "a win resets the loss streak")
	assert.InDelta(t, 20150.0, st.Balance, 1e-9)
}

func TestReconcileStopLossFeedsGovernorInR(t *testing.T) {
	mock := exchange.NewMockClient()
	mock.FillPrice = 50000
	gov := testGovernor(20000)
	c := testCoordinator(mock, gov)
	require.NoError(t, c.Enter(context.Background(), buySignal(), 2.0, 100))

	mock.PositionAmt = 0
	mock.Trades = []exchange.AccountTrade{
		{Symbol: "BTCUSDT", Qty: 1, RealizedPnl: -100, Time: time.Now().Add(time.Second)},
	}
	mock.Balance = 19900

	require.NoError(t, c.Reconcile(context.Background()))

	st := gov.Status()
	assert.Equal(t, 1, st.ConsecutiveLoss)
	assert.InDelta(t, 1.0, st.DailyLossR, 1e-9, "-100 USDT against 100 of actual risk is -1R")

	state, _ := c.Status()
	assert.Equal(t, Flat, state)
}

func TestReconcileIgnoresTradesBeforeOpenTime(t *testing.T) {
	mock := exchange.NewMockClient()
	mock.FillPrice = 50000
	gov := testGovernor(20000)
	c := testCoordinator(mock, gov)
	require.NoError(t, c.Enter(context.Background(), buySignal(), 2.0, 100))

	mock.PositionAmt = 0
	mock.Trades = []exchange.AccountTrade{
		{Symbol: "BTCUSDT", Qty: 1, RealizedPnl: -500, Time: time.Now().Add(-time.Hour)},
		{Symbol: "BTCUSDT", Qty: 1, RealizedPnl: 50, Time: time.Now().Add(time.Second)},
	}
	mock.Balance = 20050

	require.NoError(t, c.Reconcile(context.Background()))

	st := gov.Status()
	assert.Zero(t, st.ConsecutiveLoss, "only post-entry fills count toward the outcome")
	assert.Zero(t, st.DailyLossR)
}

func TestReconcileFlatStateIsNoOp(t *testing.T) {
	mock := exchange.NewMockClient()
	c := testCoordinator(mock, testGovernor(10000))
	require.NoError(t, c.Reconcile(context.Background()))
	assert.Zero(t, mock.CancelCalls)
}
