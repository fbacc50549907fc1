package exchange

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestFloorPriceRoundsDownToTickSize(t *testing.T) {
	f := SymbolFilters{TickSize: decimal.NewFromFloat(0.01), StepSize: decimal.NewFromFloat(0.001)}
	got := FloorPrice(decimal.NewFromFloat(100.567), f)
	assert.True(t, got.Equal(decimal.NewFromFloat(100.56)), "got %s", got)
}

func TestFloorQuantityRoundsDownToStepSize(t *testing.T) {
	f := SymbolFilters{TickSize: decimal.NewFromFloat(0.01), StepSize: decimal.NewFromFloat(0.001)}
	got := FloorQuantity(decimal.NewFromFloat(1.23456), f)
	assert.True(t, got.Equal(decimal.NewFromFloat(1.234)), "got %s", got)
}

func TestFloorWithZeroStepIsNoFilter(t *testing.T) {
	f := SymbolFilters{}
	price := decimal.NewFromFloat(123.456789)
	assert.True(t, FloorPrice(price, f).Equal(price))
}
