// signal/scorer.go
package signal

import (
	"math"

	"mmfr_bot/exchange"
	"mmfr_bot/market"
)

// Regime is the coarse market classification derived from the VWAP slope.
type Regime string

const (
	Trend Regime = "TREND"
	Range Regime = "RANGE"
)

// Scoring thresholds. These are calibrated values, not tunables: changing
// any of them changes trading behavior.
const (
	vwapDevThreshold  = 0.001   // |price-vwap|/vwap beyond which VWAP deviation fires
	momentumThreshold = 0.0002  // |priceDelta|/price beyond which momentum fires
	flowLongRatio     = 1.8     // buy/sell ratio above which flow favors longs
	flowShortRatio    = 0.5     // buy/sell ratio below which flow favors shorts
	fundingUnit       = 0.0015  // funding rate normalization unit
	fundingBiasCap    = 1.5     // cap on the continuous funding term
	trendSlopeMin     = 0.00015 // |vwapSlope| above which the regime is TREND
	minFactors        = 3       // discrete factors required for entry
	strongTotal       = 9.0     // total that overrides a RANGE regime
	bonusTotal        = 10.0    // total that earns the reward-risk bonus
	bonusRR           = 0.5
)

// Result is the composite score derived from one market snapshot.
type Result struct {
	Long    float64
	Short   float64
	Total   float64 // max(Long, Short)
	Side    exchange.OrderSide
	Regime  Regime
	Factors int // discrete factors fired: VWAP deviation, momentum, flow

	// Contributing metrics, carried along for records and notifications.
	AtrPct      float64
	FlowRatio   float64
	FundingBias float64
	OiZScore    float64
	FundingRate float64
}

// Score derives the directional score from a snapshot. Pure and
// deterministic; all state lives in the snapshot.
func Score(s market.Snapshot) Result {
	priceDelta := s.Price - s.PrevPrice

	flowRatio := s.BuyVolume
	if s.SellVolume != 0 {
		flowRatio = s.BuyVolume / s.SellVolume
	}

	var long, short float64
	factors := 0

	// VWAP deviation: 3 points to the side of the deviation.
	if s.Vwap > 0 && math.Abs(s.Price-s.Vwap)/s.Vwap > vwapDevThreshold {
		if s.Price > s.Vwap {
			long += 3
		} else {
			short += 3
		}
		factors++
	}

	// Momentum: 2 points to the side of the last move.
	if s.Price > 0 && math.Abs(priceDelta/s.Price) > momentumThreshold {
		if priceDelta > 0 {
			long += 2
		} else {
			short += 2
		}
		factors++
	}

	// Trade-flow imbalance: 2 points, a single factor either way.
	if flowRatio > flowLongRatio {
		long += 2
		factors++
	} else if flowRatio < flowShortRatio {
		short += 2
		factors++
	}

	// Funding bias: continuous adjustment, not a factor. Positive funding
	// (longs paying) biases short and vice versa.
	fundingBias := sign(-s.FundingRate) * math.Min(fundingBiasCap, math.Abs(s.FundingRate)/fundingUnit)
	long += fundingBias
	short += -fundingBias

	// Open-interest alignment: rising OI confirms whichever way price moved.
	if s.OiDelta > 0 {
		if priceDelta > 0 {
			long++
		} else if priceDelta < 0 {
			short++
		}
	}

	regime := Range
	if s.Price > 0 {
		vwapSlope := (s.Vwap - s.PrevVwap) / s.Price
		if math.Abs(vwapSlope) > trendSlopeMin {
			regime = Trend
		}
	}

	// Strict greater-than: an exact tie resolves to SELL.
	side := exchange.Sell
	if long > short {
		side = exchange.Buy
	}

	atrPct := 0.0
	if s.Price > 0 {
		atrPct = s.Atr / s.Price
	}

	return Result{
		Long:        long,
		Short:       short,
		Total:       math.Max(long, short),
		Side:        side,
		Regime:      regime,
		Factors:     factors,
		AtrPct:      atrPct,
		FlowRatio:   flowRatio,
		FundingBias: fundingBias,
		OiZScore:    s.OiZScore,
		FundingRate: s.FundingRate,
	}
}

// Eligible reports whether this score clears the entry gate: enough discrete
// factors, a trending regime or an outsized total, and the configured floor.
func (r Result) Eligible(minScore float64) bool {
	if r.Factors < minFactors {
		return false
	}
	if r.Regime != Trend && r.Total < strongTotal {
		return false
	}
	return r.Total >= minScore
}

// RewardRisk picks the reward-to-risk ratio for this score: the conviction
// ratio in TREND, the basic ratio in RANGE, plus a bonus for very high totals.
func (r Result) RewardRisk(basicRR, convictionRR float64) float64 {
	rr := basicRR
	if r.Regime == Trend {
		rr = convictionRR
	}
	if r.Total >= bonusTotal {
		rr += bonusRR
	}
	return rr
}

func sign(v float64) float64 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}
