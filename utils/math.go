// utils/math.go
package utils

import (
	"math"

	"github.com/shopspring/decimal"
)

const Epsilon = 1e-9

// FloatEquals compares two floating-point numbers for near-equality.
func FloatEquals(a, b float64) bool {
	return math.Abs(a-b) < Epsilon
}

// RoundToPrecision rounds a float64 to a specified number of decimal places.
func RoundToPrecision(value float64, precision int) float64 {
	pow := math.Pow(10, float64(precision))
	return math.Round(value*pow) / pow
}

// FloorToStep floors a quantity down to the nearest multiple of the exchange
// lot-size step. Done in decimal arithmetic: 0.5/0.001 is not exactly 500 in
// float64, and a naive floor there would silently drop a whole step.
func FloorToStep(qty, step float64) float64 {
	if step <= 0 {
		return qty
	}
	res, _ := decimal.NewFromFloat(qty).
		Div(decimal.NewFromFloat(step)).
		Floor().
		Mul(decimal.NewFromFloat(step)).
		Float64()
	return res
}

// RoundToTick rounds a price to the nearest multiple of the exchange price
// tick, in decimal arithmetic for the same reason as FloorToStep.
func RoundToTick(price, tick float64) float64 {
	if tick <= 0 {
		return price
	}
	res, _ := decimal.NewFromFloat(price).
		Div(decimal.NewFromFloat(tick)).
		Round(0).
		Mul(decimal.NewFromFloat(tick)).
		Float64()
	return res
}
