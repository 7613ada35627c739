package signal

import (
	"math"
	"testing"

	"mmfr_bot/exchange"
	"mmfr_bot/market"

	"github.com/stretchr/testify/assert"
)

// neutralSnapshot has no factor firing: price on VWAP, no momentum,
// balanced flow, zero funding, flat open interest.
func neutralSnapshot() market.Snapshot {
	return market.Snapshot{
		Price:      100,
		PrevPrice:  100,
		Vwap:       100,
		PrevVwap:   100,
		BuyVolume:  1,
		SellVolume: 1,
	}
}

func TestScoreVwapDeviationPlusFlow(t *testing.T) {
	// Price 0.2% above VWAP, flat momentum, flow ratio 2.0, zero funding,
	// flat open interest: 3 (VWAP) + 2 (flow) long, two factors.
	snap := market.Snapshot{
		Price:      100.2,
		PrevPrice:  100.2,
		Vwap:       100,
		PrevVwap:   100,
		BuyVolume:  2,
		SellVolume: 1,
	}

	res := Score(snap)
	assert.InDelta(t, 5.0, res.Long, 1e-12)
	assert.Zero(t, res.Short)
	assert.InDelta(t, 5.0, res.Total, 1e-12)
	assert.Equal(t, 2, res.Factors)
	assert.Equal(t, exchange.Buy, res.Side)
	assert.Equal(t, Range, res.Regime, "flat VWAP slope means RANGE")
}

func TestScoreTieResolvesToSell(t *testing.T) {
	// Strict greater-than on the long side: an exact tie is a SELL. This is
	// the specified behavior, covered so a refactor cannot change it quietly.
	res := Score(neutralSnapshot())
	assert.Equal(t, res.Long, res.Short)
	assert.Equal(t, exchange.Sell, res.Side)
}

func TestScoreMomentum(t *testing.T) {
	snap := neutralSnapshot()
	snap.PrevPrice = 100
	snap.Price = 100.03 // 0.03% move, above the 0.02% threshold

	res := Score(snap)
	assert.InDelta(t, 2.0, res.Long, 1e-9)
	assert.Equal(t, 1, res.Factors)
}

func TestScoreFlowShortSide(t *testing.T) {
	snap := neutralSnapshot()
	snap.BuyVolume = 1
	snap.SellVolume = 3 // ratio 0.33 < 0.5

	res := Score(snap)
	assert.InDelta(t, 2.0, res.Short, 1e-12)
	assert.Equal(t, 1, res.Factors)
	assert.Equal(t, exchange.Sell, res.Side)
}

func TestScoreFlowWithNoSellVolume(t *testing.T) {
	// With zero sell volume the ratio falls back to the raw buy volume
	// instead of dividing by zero.
	snap := neutralSnapshot()
	snap.BuyVolume = 2
	snap.SellVolume = 0

	res := Score(snap)
	assert.InDelta(t, 2.0, res.FlowRatio, 1e-12)
	assert.InDelta(t, 2.0, res.Long, 1e-12, "ratio 2.0 > 1.8 fires the flow factor long")
	assert.Equal(t, 1, res.Factors)
	assert.False(t, math.IsNaN(res.FlowRatio))
	assert.False(t, math.IsInf(res.FlowRatio, 0))
}

func TestScoreFundingBiasContinuousAndCapped(t *testing.T) {
	snap := neutralSnapshot()
	snap.FundingRate = 0.0015 // longs paying one full unit: bias -1

	res := Score(snap)
	assert.InDelta(t, -1.0, res.Long, 1e-12)
	assert.InDelta(t, 1.0, res.Short, 1e-12)
	assert.Equal(t, 0, res.Factors, "funding bias is not a discrete factor")

	snap.FundingRate = 0.01 // would be 6.67 units, capped at 1.5
	res = Score(snap)
	assert.InDelta(t, -1.5, res.Long, 1e-12)
	assert.InDelta(t, 1.5, res.Short, 1e-12)
}

func TestScoreOpenInterestAlignment(t *testing.T) {
	snap := neutralSnapshot()
	snap.OiDelta = 500
	snap.PrevPrice = 100
	snap.Price = 100.03

	res := Score(snap)
	assert.InDelta(t, 3.0, res.Long, 1e-9, "momentum 2 + OI alignment 1")

	// Rising OI with no price movement contributes nothing.
	snap.Price = 100
	res = Score(snap)
	assert.Zero(t, res.Long)
	assert.Zero(t, res.Short)
}

func TestScoreRegimeFromVwapSlope(t *testing.T) {
	snap := neutralSnapshot()
	snap.PrevVwap = 100
	snap.Vwap = 100.02 // slope 0.0002 > 0.00015

	assert.Equal(t, Trend, Score(snap).Regime)

	snap.Vwap = 100.01 // slope 0.0001
	assert.Equal(t, Range, Score(snap).Regime)
}

func TestEligible(t *testing.T) {
	tests := []struct {
		name     string
		res      Result
		minScore float64
		want     bool
	}{
		{"trend with factors and score", Result{Factors: 3, Regime: Trend, Total: 8}, 8, true},
		{"too few factors", Result{Factors: 2, Regime: Trend, Total: 12}, 8, false},
		{"range below strong total", Result{Factors: 3, Regime: Range, Total: 8.5}, 8, false},
		{"range with strong total", Result{Factors: 3, Regime: Range, Total: 9}, 8, true},
		{"below min score", Result{Factors: 3, Regime: Trend, Total: 7}, 8, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.res.Eligible(tt.minScore))
		})
	}
}

func TestRewardRisk(t *testing.T) {
	assert.InDelta(t, 1.5, Result{Regime: Range, Total: 8}.RewardRisk(1.5, 2.5), 1e-12)
	assert.InDelta(t, 2.5, Result{Regime: Trend, Total: 8}.RewardRisk(1.5, 2.5), 1e-12)
	assert.InDelta(t, 3.0, Result{Regime: Trend, Total: 10}.RewardRisk(1.5, 2.5), 1e-12)
	assert.InDelta(t, 2.0, Result{Regime: Range, Total: 11}.RewardRisk(1.5, 2.5), 1e-12)
}
