// market/aggregator.go
package market

import (
	"math"
	"sync"
	"time"

	"mmfr_bot/exchange"
)

const (
	atrPeriod     = 14
	oiHistoryCap  = 60
	oiMinSamples  = 30
	utcDateLayout = "2006-01-02"
)

// Snapshot is an immutable copy of the aggregated market state, taken under
// the aggregator's lock. The scorer and dashboard only ever see snapshots.
type Snapshot struct {
	Price       float64
	PrevPrice   float64
	Atr         float64
	Vwap        float64
	PrevVwap    float64
	OiDelta     float64
	OiZScore    float64
	OiSamples   int
	FundingRate float64
	BuyVolume   float64
	SellVolume  float64
}

// Warm reports whether enough data has accumulated to score: a live price
// and a populated open-interest window.
func (s Snapshot) Warm() bool {
	return s.Price > 0 && s.OiSamples >= oiMinSamples
}

// Aggregator maintains the rolling indicators fed by the trade stream and
// the periodic REST polls. All mutation goes through the mutex; stream
// events and timers run on different goroutines.
type Aggregator struct {
	mu sync.Mutex

	price     float64
	prevPrice float64

	atr float64

	vwapValue float64
	vwapPrev  float64
	cumPV     float64
	cumVol    float64
	vwapDay   string // UTC calendar date of the current VWAP session

	oiCurrent float64
	oiSeen    bool
	oiDelta   float64
	oiZScore  float64
	oiHistory []float64

	fundingRate float64

	flowBuy  float64
	flowSell float64
}

func NewAggregator() *Aggregator {
	return &Aggregator{
		oiHistory: make([]float64, 0, oiHistoryCap),
	}
}

// OnTrade applies one trade tick: price bookkeeping, session VWAP, and the
// buy/sell flow counters. buyerIsMaker means the aggressor sold. The very
// first tick only seeds the price pair.
func (a *Aggregator) OnTrade(price, qty float64, buyerIsMaker bool, eventTime time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.price == 0 {
		a.price = price
		a.prevPrice = price
		return
	}

	// VWAP session boundary is the UTC calendar day.
	day := eventTime.UTC().Format(utcDateLayout)
	if day != a.vwapDay {
		a.cumPV = 0
		a.cumVol = 0
		a.vwapDay = day
	}

	a.vwapPrev = a.vwapValue
	a.cumPV += price * qty
	a.cumVol += qty
	a.vwapValue = a.cumPV / a.cumVol

	if buyerIsMaker {
		a.flowSell += qty
	} else {
		a.flowBuy += qty
	}

	a.prevPrice = a.price
	a.price = price
}

// OnMarkPrice stores the latest funding rate verbatim.
func (a *Aggregator) OnMarkPrice(fundingRate float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.fundingRate = fundingRate
}

// RefreshATR recomputes the ATR from the given one-minute candles (oldest
// first). The true range of the first candle is 0 since it has no previous
// close, and the average always divides by the full period.
func (a *Aggregator) RefreshATR(candles []exchange.Candle) {
	if len(candles) == 0 {
		return
	}

	trs := make([]float64, len(candles))
	for i, c := range candles {
		if i == 0 {
			trs[i] = 0
			continue
		}
		prevClose := candles[i-1].Close
		trs[i] = math.Max(c.High-c.Low,
			math.Max(math.Abs(c.High-prevClose), math.Abs(c.Low-prevClose)))
	}
	if len(trs) > atrPeriod {
		trs = trs[len(trs)-atrPeriod:]
	}
	var sum float64
	for _, tr := range trs {
		sum += tr
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.atr = sum / atrPeriod
}

// RefreshOpenInterest records a new open-interest observation: delta versus
// the previous value (0 on the first observation), ring-buffer append, and
// a z-score once the buffer holds enough samples. A zero standard deviation
// yields a z-score of 0.
func (a *Aggregator) RefreshOpenInterest(currentOi float64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.oiSeen {
		a.oiDelta = currentOi - a.oiCurrent
	} else {
		a.oiDelta = 0
		a.oiSeen = true
	}
	a.oiCurrent = currentOi

	a.oiHistory = append(a.oiHistory, currentOi)
	if len(a.oiHistory) > oiHistoryCap {
		a.oiHistory = a.oiHistory[1:]
	}

	if len(a.oiHistory) < oiMinSamples {
		a.oiZScore = 0
		return
	}

	var sum float64
	for _, v := range a.oiHistory {
		sum += v
	}
	mean := sum / float64(len(a.oiHistory))

	var variance float64
	for _, v := range a.oiHistory {
		variance += (v - mean) * (v - mean)
	}
	std := math.Sqrt(variance / float64(len(a.oiHistory)))

	if std == 0 {
		a.oiZScore = 0
	} else {
		a.oiZScore = (currentOi - mean) / std
	}
}

// ResetFlow clears the buy/sell flow counters. Driven by a periodic timer so
// the flow ratio reflects a rolling window rather than all history.
func (a *Aggregator) ResetFlow() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.flowBuy = 0
	a.flowSell = 0
}

// Snapshot returns a consistent copy of the current state.
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Snapshot{
		Price:       a.price,
		PrevPrice:   a.prevPrice,
		Atr:         a.atr,
		Vwap:        a.vwapValue,
		PrevVwap:    a.vwapPrev,
		OiDelta:     a.oiDelta,
		OiZScore:    a.oiZScore,
		OiSamples:   len(a.oiHistory),
		FundingRate: a.fundingRate,
		BuyVolume:   a.flowBuy,
		SellVolume:  a.flowSell,
	}
}
