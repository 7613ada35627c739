package stream

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAggTrade(t *testing.T) {
	raw := []byte(`{"e":"aggTrade","E":1756300000123,"s":"BTCUSDT","a":26129,` +
		`"p":"50000.10","q":"0.012","f":100,"l":105,"T":1756300000120,"m":true}`)

	ev := parse(raw)
	trade, ok := ev.(TradeEvent)
	require.True(t, ok)

	assert.InDelta(t, 50000.10, trade.Price, 1e-9)
	assert.InDelta(t, 0.012, trade.Qty, 1e-12)
	assert.True(t, trade.BuyerIsMaker)
	assert.Equal(t, time.UnixMilli(1756300000120), trade.EventTime)
}

func TestParseMarkPrice(t *testing.T) {
	raw := []byte(`{"e":"markPrice","E":1756300000123,"s":"BTCUSDT",` +
		`"p":"50001.29","i":"50000.88","P":"50010.00","r":"0.00010000","T":1756310400000}`)

	ev := parse(raw)
	mark, ok := ev.(MarkPriceEvent)
	require.True(t, ok)
	assert.InDelta(t, 0.0001, mark.FundingRate, 1e-12)
}

func TestParseDropsSubscriptionAck(t *testing.T) {
	assert.Nil(t, parse([]byte(`{"result":null,"id":1}`)))
}

func TestParseDropsUnknownEventType(t *testing.T) {
	assert.Nil(t, parse([]byte(`{"e":"kline","s":"BTCUSDT"}`)))
	assert.Nil(t, parse([]byte(`not even json`)))
}
