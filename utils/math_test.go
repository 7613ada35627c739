package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFloorToStep(t *testing.T) {
	// 0.5/0.001 is not exactly 500 in float64; a naive floor loses a step.
	assert.Equal(t, 0.5, FloorToStep(0.5, 0.001))
	assert.Equal(t, 0.123, FloorToStep(0.1239, 0.001))
	assert.Equal(t, 0.0, FloorToStep(0.0004, 0.001))
	assert.Equal(t, 5.0, FloorToStep(5.9, 1))
	assert.Equal(t, 1.7, FloorToStep(1.7, 0), "zero step passes the value through")
}

func TestRoundToTick(t *testing.T) {
	assert.Equal(t, 49900.0, RoundToTick(49900.04, 0.1))
	assert.Equal(t, 49900.1, RoundToTick(49900.06, 0.1))
	assert.Equal(t, 100.25, RoundToTick(100.25, 0.05))
	assert.Equal(t, 3.14, RoundToTick(3.14, 0))
}

func TestFloatEquals(t *testing.T) {
	assert.True(t, FloatEquals(0.1+0.2, 0.3))
	assert.False(t, FloatEquals(0.1, 0.2))
}

func TestRoundToPrecision(t *testing.T) {
	assert.InDelta(t, 3.142, RoundToPrecision(3.14159, 3), 1e-12)
	assert.InDelta(t, 3.0, RoundToPrecision(3.14159, 0), 1e-12)
}
