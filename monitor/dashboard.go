// monitor/dashboard.go
package monitor

import (
	"time"

	"mmfr_bot/executor"
	"mmfr_bot/logs"
	"mmfr_bot/market"
	"mmfr_bot/risk"
	"mmfr_bot/signal"
)

// Start runs the periodic status projection until stopChan closes. It only
// reads snapshots; it never mutates state.
func Start(
	agg *market.Aggregator,
	governor *risk.Governor,
	coordinator *executor.Coordinator,
	interval time.Duration,
	stopChan <-chan struct{},
) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopChan:
			logs.Info("Dashboard received stop signal, exiting.")
			return
		case <-ticker.C:
			render(agg, governor, coordinator)
		}
	}
}

func render(agg *market.Aggregator, governor *risk.Governor, coordinator *executor.Coordinator) {
	snap := agg.Snapshot()
	status := governor.Status()

	if !snap.Warm() {
		logs.Infof("[Dashboard] Warming up... [%d/30] open-interest samples", snap.OiSamples)
		return
	}

	res := signal.Score(snap)
	logs.Infof("[Dashboard] Price: %.1f | ATR: %.2f (%.3f%%) | OI z: %.2f", snap.Price, snap.Atr, res.AtrPct*100, snap.OiZScore)
	logs.Infof("[Dashboard] Score L:%.1f / S:%.1f | Regime: %s | Factors: %d", res.Long, res.Short, res.Regime, res.Factors)
	logs.Infof("[Dashboard] Balance: $%.2f | Drawdown: %.2f%% | Daily Loss: %.2fR | Halted: %v", status.Balance, status.DrawdownPct, status.DailyLossR, status.Halted)

	if state, pos := coordinator.Status(); pos != nil {
		logs.Infof("[Dashboard] Position [%s]: %s %.6f @ %.2f (SL %.2f / TP %.2f)", state, pos.Side, pos.Quantity, pos.EntryPrice, pos.StopPrice, pos.TakePrice)
	}
}
