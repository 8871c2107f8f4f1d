// Package fx derives currency carry measures from interest rate
// differentials and FX volatility.
package fx

import (
	"fmt"
	"math"

	"jgb-regime-go/timeseries"
)

// ComputeCarry returns the interest rate differential earned by holding the
// foreign currency against the domestic one, in the input's rate units.
func ComputeCarry(domestic, foreign timeseries.Series) (timeseries.Series, error) {
	if domestic.Len() != foreign.Len() {
		return timeseries.Series{}, fmt.Errorf("fx: series lengths differ: %d vs %d",
			domestic.Len(), foreign.Len())
	}
	vals := make([]float64, domestic.Len())
	for i := range vals {
		if !domestic.Dates[i].Equal(foreign.Dates[i]) {
			return timeseries.Series{}, fmt.Errorf("fx: date mismatch at index %d", i)
		}
		vals[i] = foreign.Values[i] - domestic.Values[i]
	}
	return timeseries.Series{Name: "carry", Dates: domestic.Dates, Values: vals}, nil
}

// CarryToVol is the carry per unit of FX volatility, the usual risk-adjusted
// attractiveness measure for a carry trade. Dates with zero or missing
// volatility map to NaN.
func CarryToVol(carry, fxVol timeseries.Series) (timeseries.Series, error) {
	if carry.Len() != fxVol.Len() {
		return timeseries.Series{}, fmt.Errorf("fx: series lengths differ: %d vs %d",
			carry.Len(), fxVol.Len())
	}
	vals := make([]float64, carry.Len())
	for i := range vals {
		c, v := carry.Values[i], fxVol.Values[i]
		if math.IsNaN(c) || math.IsNaN(v) || v == 0 {
			vals[i] = math.NaN()
			continue
		}
		vals[i] = c / v
	}
	return timeseries.Series{Name: "carry_to_vol", Dates: carry.Dates, Values: vals}, nil
}
