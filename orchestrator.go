// orchestrator.go
package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"mmfr_bot/config"
	"mmfr_bot/exchange"
	"mmfr_bot/executor"
	"mmfr_bot/logs"
	"mmfr_bot/market"
	"mmfr_bot/monitor"
	"mmfr_bot/notify"
	"mmfr_bot/record"
	"mmfr_bot/risk"
	"mmfr_bot/signal"
	"mmfr_bot/state"
	"mmfr_bot/stream"
)

const (
	defaultBaseURL = "https://fapi.binance.com"
	defaultWsURL   = "wss://fstream.binance.com/ws"
	klineLimit     = 100
)

// Orchestrator wires the market aggregator, scorer, governor and coordinator
// together and drives them from one event loop. Stream events and periodic
// refreshes are all handled on that single goroutine; the components guard
// their own state for the dashboard goroutine that reads alongside.
type Orchestrator struct {
	cfg    *config.Config
	envCfg *config.EnvConfig

	client   exchange.Client
	agg      *market.Aggregator
	governor *risk.Governor
	recorder *record.Store
	notifier notify.TextNotifier

	// The coordinator is created on first initialize and read from the
	// dashboard goroutine; publication goes through coordMu.
	coordMu     sync.Mutex
	coordinator *executor.Coordinator

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewOrchestrator(cfg *config.Config, envCfg *config.EnvConfig, stateFilePath, recordFilePath string) (*Orchestrator, error) {
	if envCfg.BaseURL == "" {
		envCfg.BaseURL = defaultBaseURL
	}
	if envCfg.WsURL == "" {
		envCfg.WsURL = defaultWsURL
	}

	client := exchange.NewAPIClient(envCfg.ApiKey, envCfg.ApiSecret, envCfg.BaseURL,
		cfg.Normal.HTTPTimeoutSeconds, cfg.Normal.RecvWindowSeconds)

	var notifier notify.TextNotifier = notify.Nop{}
	if envCfg.TelegramToken != "" {
		notifier = notify.NewTelegram(envCfg.TelegramToken, envCfg.TelegramChatID)
		logs.Info("Telegram notifications enabled.")
	}

	stateManager, err := state.NewManager(stateFilePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize state manager: %w", err)
	}
	logs.Infof("Risk state will be persisted to: %s", stateFilePath)

	recorder, err := record.NewStore(recordFilePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open trade record store: %w", err)
	}
	logs.Infof("Trade records will be appended to: %s", recordFilePath)

	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		cfg:      cfg,
		envCfg:   envCfg,
		client:   client,
		agg:      market.NewAggregator(),
		governor: risk.NewGovernor(cfg.Risk, notifier, stateManager),
		recorder: recorder,
		notifier: notifier,
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Start launches the engine loop and the dashboard.
func (o *Orchestrator) Start() {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.run()
	}()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		// The dashboard waits until the coordinator exists (first init).
		var coordinator *executor.Coordinator
		for coordinator == nil {
			select {
			case <-o.ctx.Done():
				return
			case <-time.After(time.Second):
				coordinator = o.coord()
			}
		}
		monitor.Start(o.agg, o.governor, coordinator,
			time.Duration(o.cfg.Normal.DashboardIntervalSeconds)*time.Second, o.ctx.Done())
	}()

	logs.Infof("Engine for %s started, press Ctrl+C to exit.", o.cfg.Symbol)
}

// Stop shuts the engine down gracefully.
func (o *Orchestrator) Stop() {
	logs.Info("Received close signal, starting graceful shutdown...")
	o.cancel()
	o.wg.Wait()
	if err := o.recorder.Close(); err != nil {
		logs.Errorf("Failed to close trade record store: %v", err)
	}
	logs.Info("All services stopped successfully.")
}

// run drives initialize → event loop → full reinit on stream loss, with a
// fixed delay between attempts. Indicator state is rebuilt from scratch on
// every reinit; only the coordinator (and any open position it tracks)
// survives.
func (o *Orchestrator) run() {
	delay := time.Duration(o.cfg.Normal.ReconnectDelaySeconds) * time.Second
	for {
		if o.ctx.Err() != nil {
			return
		}
		if err := o.initialize(); err != nil {
			logs.Errorf("[Orchestrator] Initialization failed: %v. Retrying in %s...", err, delay)
			if !o.sleep(delay) {
				return
			}
			continue
		}

		err := o.eventLoop()
		if o.ctx.Err() != nil {
			return
		}
		logs.Warnf("[Orchestrator] Stream lost: %v. Reinitializing in %s...", err, delay)
		if !o.sleep(delay) {
			return
		}
	}
}

// coord returns the coordinator, or nil before the first initialize has
// published it.
func (o *Orchestrator) coord() *executor.Coordinator {
	o.coordMu.Lock()
	defer o.coordMu.Unlock()
	return o.coordinator
}

func (o *Orchestrator) sleep(d time.Duration) bool {
	select {
	case <-o.ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

// initialize runs the startup sequence: time sync, balance, ATR seed,
// leverage, trading filters. Any failure aborts the whole sequence.
func (o *Orchestrator) initialize() error {
	if err := o.client.SyncTime(); err != nil {
		return fmt.Errorf("time sync failed: %w", err)
	}

	balance, err := o.client.GetBalance(o.ctx)
	if err != nil {
		return fmt.Errorf("balance sync failed: %w", err)
	}
	o.governor.SyncBalance(balance)

	klines, err := o.client.GetKlines(o.ctx, o.cfg.Symbol, klineLimit)
	if err != nil {
		return fmt.Errorf("ATR seed failed: %w", err)
	}
	o.agg.RefreshATR(klines)

	if err := o.client.SetLeverage(o.ctx, o.cfg.Symbol, o.cfg.Leverage); err != nil {
		return fmt.Errorf("leverage setup failed: %w", err)
	}

	filters, ok := o.client.GetSymbolFilters(o.cfg.Symbol)
	if !ok {
		return fmt.Errorf("no trading filters cached for %s", o.cfg.Symbol)
	}

	// The coordinator is created once and survives reinits: an open position
	// must not be forgotten just because the stream dropped.
	o.coordMu.Lock()
	if o.coordinator == nil {
		o.coordinator = executor.NewCoordinator(o.client, o.governor, o.notifier, o.recorder,
			o.cfg.Symbol, o.cfg.Risk.RiskPerTrade, o.cfg.Risk.SlAtrMult, filters)
	}
	o.coordMu.Unlock()

	logs.Infof("[Orchestrator] Initialization complete. Balance: %.2f, step %.6f, tick %.6f.",
		balance, filters.StepSize, filters.TickSize)
	go o.notifier.SendText(fmt.Sprintf("✅ Engine online: %s", o.cfg.Symbol))
	return nil
}

// eventLoop consumes stream events and timer ticks on one goroutine until
// the stream fails or shutdown is requested. Handlers run to completion
// before the next event is taken.
func (o *Orchestrator) eventLoop() error {
	st, err := stream.Dial(o.envCfg.WsURL, o.cfg.Symbol)
	if err != nil {
		return err
	}
	defer st.Close()

	normal := o.cfg.Normal
	flowTicker := time.NewTicker(time.Duration(normal.FlowResetSeconds) * time.Second)
	atrTicker := time.NewTicker(time.Duration(normal.AtrIntervalSeconds) * time.Second)
	oiTicker := time.NewTicker(time.Duration(normal.OiIntervalSeconds) * time.Second)
	reconcileTicker := time.NewTicker(time.Duration(normal.ReconcileIntervalSeconds) * time.Second)
	balanceTicker := time.NewTicker(time.Duration(normal.BalanceSyncSeconds) * time.Second)
	defer func() {
		flowTicker.Stop()
		atrTicker.Stop()
		oiTicker.Stop()
		reconcileTicker.Stop()
		balanceTicker.Stop()
	}()

	for {
		select {
		case <-o.ctx.Done():
			return nil

		case err := <-st.Errors():
			return err

		case ev, ok := <-st.Events():
			if !ok {
				return fmt.Errorf("event channel closed")
			}
			o.handleEvent(ev)

		case <-flowTicker.C:
			o.agg.ResetFlow()

		case <-atrTicker.C:
			if klines, err := o.client.GetKlines(o.ctx, o.cfg.Symbol, klineLimit); err != nil {
				logs.Errorf("[Orchestrator] ATR refresh failed, skipping cycle: %v", err)
			} else {
				o.agg.RefreshATR(klines)
			}

		case <-oiTicker.C:
			if oi, err := o.client.GetOpenInterest(o.ctx, o.cfg.Symbol); err != nil {
				logs.Errorf("[Orchestrator] Open-interest refresh failed, skipping cycle: %v", err)
			} else {
				o.agg.RefreshOpenInterest(oi)
			}

		case <-reconcileTicker.C:
			if err := o.coord().Reconcile(o.ctx); err != nil {
				logs.Errorf("[Orchestrator] Reconcile failed, skipping cycle: %v", err)
			}

		case <-balanceTicker.C:
			if balance, err := o.client.GetBalance(o.ctx); err != nil {
				logs.Errorf("[Orchestrator] Balance sync failed, skipping cycle: %v", err)
			} else {
				o.governor.SyncBalance(balance)
			}
		}
	}
}

func (o *Orchestrator) handleEvent(ev stream.Event) {
	switch e := ev.(type) {
	case stream.TradeEvent:
		o.agg.OnTrade(e.Price, e.Qty, e.BuyerIsMaker, e.EventTime)
		o.evaluate(e.EventTime)
	case stream.MarkPriceEvent:
		o.agg.OnMarkPrice(e.FundingRate)
	}
}

// evaluate runs the decision chain for one trade tick: day rollover, risk
// gate, warmup gate, scoring, eligibility, entry.
func (o *Orchestrator) evaluate(eventTime time.Time) {
	o.governor.OnDailyRollover(eventTime)

	if o.governor.IsHalted() {
		return
	}

	snap := o.agg.Snapshot()
	if !snap.Warm() {
		return
	}

	coordinator := o.coord()
	if st, _ := coordinator.Status(); st != executor.Flat {
		return
	}
	if !o.governor.CanEnter(time.Now()) {
		return
	}

	res := signal.Score(snap)
	if !res.Eligible(o.cfg.Risk.MinScore) {
		return
	}

	rr := res.RewardRisk(o.cfg.Risk.BasicRR, o.cfg.Risk.ConvictionRR)
	if err := coordinator.Enter(o.ctx, res, rr, snap.Atr); err != nil {
		// Order failures drop the decision; there is no retry without an
		// idempotent path all the way through.
		logs.Errorf("[Orchestrator] Entry failed, decision dropped: %v", err)
	}
}
