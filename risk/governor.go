// risk/governor.go
package risk

import (
	"sync"
	"time"

	"mmfr_bot/config"
	"mmfr_bot/logs"
	"mmfr_bot/notify"
	"mmfr_bot/state"
)

const dateLayout = "2006-01-02"

// Status is a read-only projection of the governor for the dashboard.
type Status struct {
	Balance         float64
	MaxBalance      float64
	DrawdownPct     float64
	ConsecutiveLoss int
	DailyLossR      float64
	Halted          bool
}

// Governor gates trade entry behind three independent breakers: peak-relative
// drawdown, consecutive losses, and the daily loss budget in R. The halt flag
// is sticky: once any breaker trips, it stays set until a day rollover AND
// the drawdown breaker has recovered. The other two breakers are not
// rechecked at clear time.
type Governor struct {
	mu sync.Mutex

	maxDrawdownPct     float64
	maxConsecutiveLoss int
	dailyLossLimitR    float64
	cooldown           time.Duration

	balance         float64
	maxBalance      float64
	drawdownPct     float64
	consecutiveLoss int

	dailyLossR    float64
	lastResetDate string
	shutdown      bool

	lastTradeOpen time.Time

	notifier notify.TextNotifier
	store    state.ManagerInterface
}

// NewGovernor builds a governor from config, restoring persisted counters
// when a state manager is provided.
func NewGovernor(cfg *config.RiskConfig, notifier notify.TextNotifier, store state.ManagerInterface) *Governor {
	g := &Governor{
		maxDrawdownPct:     cfg.MaxDrawdownPct,
		maxConsecutiveLoss: cfg.MaxConsecutiveLoss,
		dailyLossLimitR:    cfg.DailyLossLimitR,
		cooldown:           time.Duration(cfg.TradeCooldownSeconds) * time.Second,
		lastResetDate:      time.Now().UTC().Format(dateLayout),
		notifier:           notifier,
		store:              store,
	}
	if g.notifier == nil {
		g.notifier = notify.Nop{}
	}
	if store != nil {
		st := store.Get()
		if st.LastResetDate != "" {
			g.dailyLossR = st.DailyLossR
			g.lastResetDate = st.LastResetDate
			g.consecutiveLoss = st.ConsecutiveLoss
			g.maxBalance = st.MaxBalance
			g.shutdown = st.IsShutdown
		}
	}
	return g
}

// persist must be called with the lock held.
func (g *Governor) persist() {
	if g.store == nil {
		return
	}
	err := g.store.Update(state.RiskState{
		DailyLossR:      g.dailyLossR,
		LastResetDate:   g.lastResetDate,
		ConsecutiveLoss: g.consecutiveLoss,
		MaxBalance:      g.maxBalance,
		IsShutdown:      g.shutdown,
	})
	if err != nil {
		logs.Errorf("[Risk] Failed to persist risk state: %v", err)
	}
}

// SyncBalance records a fresh exchange-reported balance and recomputes the
// peak-relative drawdown. Balance is never computed locally.
func (g *Governor) SyncBalance(balance float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.balance = balance
	if balance > g.maxBalance {
		g.maxBalance = balance
	}
	if g.maxBalance > 0 {
		g.drawdownPct = (g.maxBalance - g.balance) / g.maxBalance * 100
	}
	g.persist()
}

// OnDailyRollover resets the daily loss budget when the UTC date changes.
// The sticky halt clears only if the drawdown breaker has recovered; the
// consecutive-loss counter is left alone.
func (g *Governor) OnDailyRollover(today time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	day := today.UTC().Format(dateLayout)
	if day == g.lastResetDate {
		return
	}
	g.dailyLossR = 0
	g.lastResetDate = day
	if g.shutdown && g.drawdownPct < g.maxDrawdownPct {
		g.shutdown = false
		logs.Infof("[Risk] Day rollover: daily loss reset, halt cleared (drawdown %.2f%% < %.2f%%)", g.drawdownPct, g.maxDrawdownPct)
	}
	g.persist()
}

// IsHalted evaluates the breakers fresh on every call. The transition into
// the halted state fires a single notification; subsequent calls while
// halted stay silent.
func (g *Governor) IsHalted() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	tripped := g.drawdownPct >= g.maxDrawdownPct ||
		g.consecutiveLoss >= g.maxConsecutiveLoss ||
		g.dailyLossR >= g.dailyLossLimitR

	if tripped && !g.shutdown {
		g.shutdown = true
		g.persist()
		logs.Warnf("[Risk] HALT: drawdown %.2f%%, consecutive losses %d, daily loss %.2fR", g.drawdownPct, g.consecutiveLoss, g.dailyLossR)
		go g.notifier.SendText("🛑 SYSTEM HALTED: Risk Limit Reached")
	}
	return tripped || g.shutdown
}

// OnTradeClosed feeds a realized outcome back into the loss counters.
func (g *Governor) OnTradeClosed(pnlR float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if pnlR < 0 {
		g.dailyLossR += -pnlR
		g.consecutiveLoss++
	} else {
		g.consecutiveLoss = 0
	}
	g.persist()
}

// MarkTradeOpened starts the cooldown clock.
func (g *Governor) MarkTradeOpened(t time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lastTradeOpen = t
}

// CanEnter reports whether a new entry is permitted: not halted and past the
// cooldown since the last trade opened.
func (g *Governor) CanEnter(now time.Time) bool {
	if g.IsHalted() {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return now.Sub(g.lastTradeOpen) >= g.cooldown
}

// Status returns a copy of the current counters for observation.
func (g *Governor) Status() Status {
	g.mu.Lock()
	defer g.mu.Unlock()
	return Status{
		Balance:         g.balance,
		MaxBalance:      g.maxBalance,
		DrawdownPct:     g.drawdownPct,
		ConsecutiveLoss: g.consecutiveLoss,
		DailyLossR:      g.dailyLossR,
		Halted:          g.shutdown,
	}
}

// Balance returns the last synced account balance.
func (g *Governor) Balance() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.balance
}
