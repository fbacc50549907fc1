package exchange

import "github.com/shopspring/decimal"

// floorToStep floor-rounds value to the nearest multiple of step. A zero
// step means no filter is known for the symbol yet and value passes
// through unchanged.
func floorToStep(value, step decimal.Decimal) decimal.Decimal {
	if step.IsZero() {
		return value
	}
	return value.Div(step).Floor().Mul(step)
}

// FloorPrice floor-rounds a price to the symbol's tick size.
func FloorPrice(price decimal.Decimal, f SymbolFilters) decimal.Decimal {
	return floorToStep(price, f.TickSize)
}

// FloorQuantity floor-rounds a quantity to the symbol's step size.
func FloorQuantity(qty decimal.Decimal, f SymbolFilters) decimal.Decimal {
	return floorToStep(qty, f.StepSize)
}
