package state

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManagerCreatesInitialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "risk_state.json")

	m, err := NewManager(path)
	require.NoError(t, err)
	assert.Equal(t, RiskState{}, m.Get())

	_, err = os.Stat(path)
	assert.NoError(t, err, "initial state file must exist on disk")
}

func TestManagerRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "risk_state.json")

	m, err := NewManager(path)
	require.NoError(t, err)

	st := RiskState{
		DailyLossR:      2.5,
		LastResetDate:   "2026-03-01",
		ConsecutiveLoss: 3,
		MaxBalance:      12345.67,
		IsShutdown:      true,
	}
	require.NoError(t, m.Update(st))

	// A fresh manager on the same path sees what the first one wrote.
	m2, err := NewManager(path)
	require.NoError(t, err)
	assert.Equal(t, st, m2.Get())
}

func TestManagerRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "risk_state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

	_, err := NewManager(path)
	assert.Error(t, err)
}
