// executor/coordinator.go
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"mmfr_bot/exchange"
	"mmfr_bot/logs"
	"mmfr_bot/notify"
	"mmfr_bot/record"
	"mmfr_bot/risk"
	"mmfr_bot/signal"

	"github.com/google/uuid"

	"mmfr_bot/utils"
)

// PositionState is the per-position lifecycle. There is no PENDING_EXIT:
// exits are exchange-native conditional orders whose fill this process never
// observes directly; closure is inferred by Reconcile.
type PositionState int

const (
	Flat PositionState = iota
	PendingEntry
	Open
)

func (s PositionState) String() string {
	switch s {
	case PendingEntry:
		return "PENDING_ENTRY"
	case Open:
		return "OPEN"
	default:
		return "FLAT"
	}
}

// Position is a locally tracked open position. ActualRisk is computed from
// the real fill and stop prices, not the pre-trade estimate that sized the
// order: entry slippage shifts the realized stop distance, and ActualRisk
// is the denominator for every later R-multiple.
type Position struct {
	Side       exchange.OrderSide
	EntryPrice float64
	Quantity   float64
	OpenTime   time.Time
	StopPrice  float64
	TakePrice  float64
	ActualRisk float64
	Score      float64
	RewardRisk float64
	Regime     signal.Regime
}

// ErrPositionOpen is returned when an entry is requested while a position is
// already open or pending.
var ErrPositionOpen = errors.New("a position is already open or pending")

// How many recent account trades the reconciliation pass inspects.
const tradeHistoryLimit = 15

// Coordinator sizes and submits bracketed entries and reconciles exchange
// truth back into realized outcomes. At most one position exists at a time;
// the PENDING_ENTRY marker is written under the mutex before any network
// call, so a second tick cannot slip through while an order is in flight.
type Coordinator struct {
	mu       sync.Mutex
	state    PositionState
	position *Position

	client   exchange.Client
	governor *risk.Governor
	notifier notify.TextNotifier
	recorder *record.Store // nil disables audit records

	symbol       string
	riskPerTrade float64
	slAtrMult    float64
	filters      exchange.SymbolFilters
}

func NewCoordinator(
	client exchange.Client,
	governor *risk.Governor,
	notifier notify.TextNotifier,
	recorder *record.Store,
	symbol string,
	riskPerTrade, slAtrMult float64,
	filters exchange.SymbolFilters,
) *Coordinator {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Coordinator{
		client:       client,
		governor:     governor,
		notifier:     notifier,
		recorder:     recorder,
		symbol:       symbol,
		riskPerTrade: riskPerTrade,
		slAtrMult:    slAtrMult,
		filters:      filters,
	}
}

// Enter submits a market entry with an attached stop-loss/take-profit
// bracket at the requested reward-to-risk ratio. The position size is
// floor((balance × riskPerTrade / stopDist) / lotStep) × lotStep; a size
// that rounds to zero is a silent no-op.
func (c *Coordinator) Enter(ctx context.Context, res signal.Result, rr, atr float64) error {
	if c.governor.IsHalted() {
		return nil
	}

	slDistRaw := atr * c.slAtrMult
	if slDistRaw <= 0 {
		return nil
	}

	riskAmount := c.governor.Balance() * c.riskPerTrade
	qty := utils.FloorToStep(riskAmount/slDistRaw, c.filters.StepSize)
	if qty <= 0 {
		return nil
	}

	// Claim the slot before going to the network. This is the marker that
	// closes the double-entry window: any concurrent tick now sees
	// PENDING_ENTRY and bails.
	c.mu.Lock()
	if c.state != Flat {
		c.mu.Unlock()
		return ErrPositionOpen
	}
	c.state = PendingEntry
	c.mu.Unlock()

	pos, err := c.submitEntry(ctx, res, rr, slDistRaw, qty)

	c.mu.Lock()
	if err != nil || pos == nil {
		c.state = Flat
		c.position = nil
	} else {
		c.state = Open
		c.position = pos
	}
	c.mu.Unlock()

	return err
}

func (c *Coordinator) submitEntry(ctx context.Context, res signal.Result, rr, slDistRaw, qty float64) (*Position, error) {
	entryOrder := &exchange.Order{
		Symbol:        c.symbol,
		Side:          res.Side,
		Type:          exchange.Market,
		OrigQty:       strconv.FormatFloat(qty, 'f', -1, 64),
		ClientOrderID: uuid.NewString(),
	}
	placed, err := c.client.PlaceOrder(ctx, entryOrder)
	if err != nil {
		return nil, fmt.Errorf("entry order failed: %w", err)
	}
	if placed.Status != exchange.Filled {
		return nil, fmt.Errorf("entry order not filled, status %s", placed.Status)
	}

	entryPrice, err := strconv.ParseFloat(placed.AvgPrice, 64)
	if err != nil || entryPrice <= 0 {
		return nil, fmt.Errorf("entry fill price unusable: %q", placed.AvgPrice)
	}

	// Bracket prices come from the actual fill, tick-rounded.
	var slPrice, tpPrice float64
	if res.Side == exchange.Buy {
		slPrice = utils.RoundToTick(entryPrice-slDistRaw, c.filters.TickSize)
		tpPrice = utils.RoundToTick(entryPrice+slDistRaw*rr, c.filters.TickSize)
	} else {
		slPrice = utils.RoundToTick(entryPrice+slDistRaw, c.filters.TickSize)
		tpPrice = utils.RoundToTick(entryPrice-slDistRaw*rr, c.filters.TickSize)
	}

	closeSide := res.Side.Opposite()
	for _, leg := range []struct {
		orderType exchange.OrderType
		stopPrice float64
	}{
		{exchange.StopMarket, slPrice},
		{exchange.TakeProfitMarket, tpPrice},
	} {
		_, err := c.client.PlaceOrder(ctx, &exchange.Order{
			Symbol:        c.symbol,
			Side:          closeSide,
			Type:          leg.orderType,
			StopPrice:     strconv.FormatFloat(leg.stopPrice, 'f', -1, 64),
			ClosePosition: true,
			ReduceOnly:    true,
			ClientOrderID: uuid.NewString(),
		})
		if err != nil {
			// The entry already filled; we own the exposure either way.
			// Keep the position tracked and let reconciliation see it out.
			logs.Errorf("[Executor] Failed to place %s leg: %v", leg.orderType, err)
		}
	}

	now := time.Now()
	pos := &Position{
		Side:       res.Side,
		EntryPrice: entryPrice,
		Quantity:   qty,
		OpenTime:   now,
		StopPrice:  slPrice,
		TakePrice:  tpPrice,
		ActualRisk: math.Abs(entryPrice-slPrice) * qty,
		Score:      res.Total,
		RewardRisk: rr,
		Regime:     res.Regime,
	}
	c.governor.MarkTradeOpened(now)

	c.appendRecord(&record.TradeEvent{
		Type:        record.EventEntry,
		Symbol:      c.symbol,
		Side:        string(res.Side),
		Score:       res.Total,
		RewardRisk:  rr,
		Regime:      string(res.Regime),
		EntryPrice:  entryPrice,
		Quantity:    qty,
		ActualRisk:  pos.ActualRisk,
		Balance:     c.governor.Balance(),
		MetricsJSON: metricsJSON(res),
	})
	go c.notifier.SendText(fmt.Sprintf("🟢 *ENTRY %s*\nScore: %.1f | RR: 1:%.1f\nRegime: %s", res.Side, res.Total, rr, res.Regime))
	logs.Infof("[Executor] Entered %s %.6f @ %.2f (SL %.2f / TP %.2f, actual risk %.4f)", res.Side, qty, entryPrice, slPrice, tpPrice, pos.ActualRisk)

	return pos, nil
}

// Reconcile polls exchange truth. When the exchange reports zero exposure
// for a locally open position, the bracket has fired: sum the realized PnL
// of every trade at or after the open time, express it in R against the
// actual risk, classify TP/SL by sign, feed the governor, clean up residual
// orders, and go FLAT.
func (c *Coordinator) Reconcile(ctx context.Context) error {
	c.mu.Lock()
	if c.state != Open || c.position == nil {
		c.mu.Unlock()
		return nil
	}
	pos := *c.position
	c.mu.Unlock()

	amt, err := c.client.GetPositionAmt(ctx, c.symbol)
	if err != nil {
		return fmt.Errorf("position query failed: %w", err)
	}
	if math.Abs(amt) >= 1e-6 {
		return nil // still open on the exchange
	}

	trades, err := c.client.GetRecentTrades(ctx, c.symbol, tradeHistoryLimit)
	if err != nil {
		return fmt.Errorf("trade history query failed: %w", err)
	}

	var pnlUSDT float64
	for _, t := range trades {
		if t.Symbol == c.symbol && !t.Time.Before(pos.OpenTime) && math.Abs(t.Qty) > 0 {
			pnlUSDT += t.RealizedPnl
		}
	}

	var pnlR float64
	if pos.ActualRisk > 0 {
		pnlR = pnlUSDT / pos.ActualRisk
	}
	reason := "SL"
	if pnlR >= 0 {
		reason = "TP"
	}

	if balance, err := c.client.GetBalance(ctx); err != nil {
		logs.Errorf("[Executor] Balance refresh failed during reconcile: %v", err)
	} else {
		c.governor.SyncBalance(balance)
	}
	c.governor.OnTradeClosed(pnlR)

	// Defensive cleanup of whichever bracket leg did not fire. Tolerant of
	// already-cancelled orders.
	if err := c.client.CancelAllOpenOrders(ctx, c.symbol); err != nil {
		logs.Warnf("[Executor] Residual order cleanup failed: %v", err)
	}

	status := c.governor.Status()
	c.appendRecord(&record.TradeEvent{
		Type:       record.EventExit,
		Symbol:     c.symbol,
		Side:       string(pos.Side),
		Score:      pos.Score,
		RewardRisk: pos.RewardRisk,
		Regime:     string(pos.Regime),
		EntryPrice: pos.EntryPrice,
		Quantity:   pos.Quantity,
		ActualRisk: pos.ActualRisk,
		PnlUSDT:    pnlUSDT,
		PnlR:       pnlR,
		Reason:     reason,
		Balance:    status.Balance,
	})
	go c.notifier.SendText(fmt.Sprintf("🔴 *EXIT CONFIRMED*\nPnL: %.2fR (%s)\nDaily Loss: %.2fR\nBal: $%.2f", pnlR, reason, status.DailyLossR, status.Balance))
	logs.Infof("[Executor] Position closed: %s, PnL %.4f USDT (%.2fR, %s)", pos.Side, pnlUSDT, pnlR, reason)

	c.mu.Lock()
	c.state = Flat
	c.position = nil
	c.mu.Unlock()
	return nil
}

// Status returns the current lifecycle state and a copy of the open
// position, if any.
func (c *Coordinator) Status() (PositionState, *Position) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.position == nil {
		return c.state, nil
	}
	pos := *c.position
	return c.state, &pos
}

func (c *Coordinator) appendRecord(ev *record.TradeEvent) {
	if c.recorder == nil {
		return
	}
	if err := c.recorder.Append(ev); err != nil {
		logs.Errorf("[Executor] Failed to append trade record: %v", err)
	}
}

func metricsJSON(res signal.Result) string {
	data, err := json.Marshal(map[string]float64{
		"atr_pct":      res.AtrPct,
		"flow_ratio":   res.FlowRatio,
		"funding":      res.FundingRate,
		"funding_bias": res.FundingBias,
		"oi_z":         res.OiZScore,
	})
	if err != nil {
		return "{}"
	}
	return string(data)
}
