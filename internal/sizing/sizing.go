// Package sizing maps a disclosed trade's notional to the order notional the
// bot should submit. Pure math, no I/O.
package sizing

import "math"

// ReasonBelowMinUnit is recorded when rounding collapses an otherwise
// eligible trade to zero.
const ReasonBelowMinUnit = "below minimum tradable unit"

// Calculator holds the brokerage sizing constant.
type Calculator struct {
	// MinTradableNotional is the brokerage's minimum tradable unit in
	// dollars. Order notionals are floored to a multiple of it.
	MinTradableNotional float64
}

// OrderNotional computes min(maxPositionNotional, fraction × eventNotional),
// floored to the minimum tradable unit. ok is false when the result collapses
// to zero (or the inputs cannot produce a positive size); such events are
// ineligible, never executed at zero.
func (c Calculator) OrderNotional(eventNotional, fraction, maxPositionNotional float64) (notional float64, ok bool) {
	if eventNotional <= 0 || fraction <= 0 || maxPositionNotional <= 0 {
		return 0, false
	}

	size := math.Min(maxPositionNotional, fraction*eventNotional)

	unit := c.MinTradableNotional
	if unit > 0 {
		size = math.Floor(size/unit) * unit
	}
	if size <= 0 {
		return 0, false
	}
	return size, true
}
