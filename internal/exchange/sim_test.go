package exchange

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/predatortrading/perp-engine/internal/model"
)

func newTestSim() *Sim {
	return NewSim(SimConfig{
		FeeRate:      decimal.Zero,
		SlippageRate: decimal.Zero,
		StartBalance: decimal.NewFromInt(1000),
		DefaultFilter: SymbolFilters{
			TickSize: decimal.NewFromFloat(0.01),
			StepSize: decimal.NewFromFloat(0.0001),
		},
	})
}

func drainEvent(t *testing.T, s *Sim) Event {
	t.Helper()
	select {
	case ev := <-s.Subscribe():
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for sim event")
	}
	return Event{}
}

func TestSimLimitBuyTriggersOnPriceAtOrBelow(t *testing.T) {
	ctx := context.Background()
	s := newTestSim()

	id, err := s.PlaceLimitOrder(ctx, model.Order{
		Symbol: "BTCUSDT", Side: model.SideBuy, Type: model.OrderTypeLimit,
		Quantity: decimal.NewFromInt(1), Price: decimal.NewFromInt(100), PositionSide: model.PositionLong,
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	s.FeedMarkPrice("BTCUSDT", decimal.NewFromInt(101)) // not yet triggered
	ev := drainEvent(t, s)
	assert.Equal(t, EventMarkPrice, ev.Kind)

	s.FeedMarkPrice("BTCUSDT", decimal.NewFromInt(99)) // triggers (price <= limit)
	ev = drainEvent(t, s)
	assert.Equal(t, EventMarkPrice, ev.Kind)
	ev = drainEvent(t, s)
	assert.Equal(t, EventOrderFilled, ev.Kind)
	assert.Equal(t, id, ev.OrderID)
	assert.True(t, ev.Price.Equal(decimal.NewFromInt(100)), "fills at the limit price, got %s", ev.Price)
}

func TestSimStopAlreadyPassedFillsImmediately(t *testing.T) {
	// Ticks 98 then 100 with a BUY stop at 99: the simulator must notice
	// the gap crossed the trigger and fill at 99, not 100.
	ctx := context.Background()
	s := newTestSim()

	s.FeedMarkPrice("BTCUSDT", decimal.NewFromInt(98))
	_ = drainEvent(t, s) // markPrice echo

	id, err := s.PlaceStopLimitOrder(ctx, model.Order{
		Symbol: "BTCUSDT", Side: model.SideBuy, Type: model.OrderTypeStopLimit,
		Quantity: decimal.NewFromInt(1), Price: decimal.NewFromInt(99), StopPrice: decimal.NewFromInt(99),
		PositionSide: model.PositionLong,
	})
	require.NoError(t, err)

	s.FeedMarkPrice("BTCUSDT", decimal.NewFromInt(100))
	ev := drainEvent(t, s) // markPrice echo
	assert.Equal(t, EventMarkPrice, ev.Kind)
	ev = drainEvent(t, s) // order filled, gap-filled at the stop price
	assert.Equal(t, EventOrderFilled, ev.Kind)
	assert.Equal(t, id, ev.OrderID)
	assert.True(t, ev.Price.Equal(decimal.NewFromInt(99)), "fills at the stop price despite the tick gap, got %s", ev.Price)
}

func TestSimCancelUnknownOrderIsSuccess(t *testing.T) {
	ctx := context.Background()
	s := newTestSim()
	assert.NoError(t, s.CancelOrder(ctx, "BTCUSDT", "does-not-exist"),
		"cancelling an unknown order is swallowed as success, like -2011 on the live adapter")
}

func TestSimCancelledOrderNeverFills(t *testing.T) {
	ctx := context.Background()
	s := newTestSim()

	id, err := s.PlaceLimitOrder(ctx, model.Order{
		Symbol: "BTCUSDT", Side: model.SideBuy, Type: model.OrderTypeLimit,
		Quantity: decimal.NewFromInt(1), Price: decimal.NewFromInt(100), PositionSide: model.PositionLong,
	})
	require.NoError(t, err)
	require.NoError(t, s.CancelOrder(ctx, "BTCUSDT", id))
	ev := drainEvent(t, s)
	assert.Equal(t, EventOrderCancelled, ev.Kind)

	s.FeedMarkPrice("BTCUSDT", decimal.NewFromInt(99))
	ev = drainEvent(t, s)
	assert.Equal(t, EventMarkPrice, ev.Kind)
	select {
	case ev := <-s.Subscribe():
		t.Fatalf("unexpected event after cancel: %v", ev.Kind)
	default:
	}
}

func TestSimMarketOrderFillsAtBookSideWithSlippage(t *testing.T) {
	ctx := context.Background()
	s := NewSim(SimConfig{
		FeeRate:       decimal.Zero,
		SlippageRate:  decimal.NewFromFloat(0.01),
		StartBalance:  decimal.NewFromInt(1000),
		DefaultFilter: SymbolFilters{TickSize: decimal.NewFromFloat(0.01), StepSize: decimal.NewFromFloat(0.0001)},
	})
	s.FeedBookTicker("BTCUSDT", decimal.NewFromInt(99), decimal.NewFromInt(101))
	_ = drainEvent(t, s)

	_, fillPrice, err := s.PlaceMarketOrder(ctx, model.Order{
		Symbol: "BTCUSDT", Side: model.SideBuy, Type: model.OrderTypeMarket,
		Quantity: decimal.NewFromInt(1), PositionSide: model.PositionLong,
	})
	require.NoError(t, err)
	assert.True(t, fillPrice.GreaterThan(decimal.NewFromInt(101)), "buy fills above the ask with slippage, got %s", fillPrice)
}
