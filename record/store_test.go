package record

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreAppendAndRecent(t *testing.T) {
	store, err := NewStore(filepath.Join(t.TempDir(), "trades.db"))
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Append(&TradeEvent{
		Type:       EventEntry,
		Symbol:     "BTCUSDT",
		Side:       "BUY",
		Score:      9.5,
		RewardRisk: 2.5,
		Regime:     "TREND",
		EntryPrice: 50000,
		Quantity:   0.5,
		ActualRisk: 50,
		Balance:    10000,
	}))
	require.NoError(t, store.Append(&TradeEvent{
		Type:    EventExit,
		Symbol:  "BTCUSDT",
		Side:    "BUY",
		PnlUSDT: 125,
		PnlR:    2.5,
		Reason:  "TP",
		Balance: 10125,
	}))

	events, err := store.Recent(10)
	require.NoError(t, err)
	require.Len(t, events, 2)

	// Newest first.
	assert.Equal(t, EventExit, events[0].Type)
	assert.Equal(t, "TP", events[0].Reason)
	assert.InDelta(t, 2.5, events[0].PnlR, 1e-12)
	assert.Equal(t, EventEntry, events[1].Type)
	assert.InDelta(t, 50.0, events[1].ActualRisk, 1e-12)
	assert.False(t, events[0].CreatedAt.IsZero())
}

func TestStoreRecentLimit(t *testing.T) {
	store, err := NewStore(filepath.Join(t.TempDir(), "trades.db"))
	require.NoError(t, err)
	defer store.Close()

	for i := 0; i < 5; i++ {
		require.NoError(t, store.Append(&TradeEvent{Type: EventEntry, Symbol: "BTCUSDT"}))
	}

	events, err := store.Recent(3)
	require.NoError(t, err)
	assert.Len(t, events, 3)
}

func TestStoreReopensExistingDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trades.db")

	store, err := NewStore(path)
	require.NoError(t, err)
	require.NoError(t, store.Append(&TradeEvent{Type: EventEntry, Symbol: "ETHUSDT"}))
	require.NoError(t, store.Close())

	store2, err := NewStore(path)
	require.NoError(t, err)
	defer store2.Close()

	events, err := store2.Recent(10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "ETHUSDT", events[0].Symbol)
}
