package strategy

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/predatortrading/perp-engine/internal/exchange"
	"github.com/predatortrading/perp-engine/internal/ledger"
	"github.com/predatortrading/perp-engine/internal/model"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func newGridHarness(t *testing.T) (*exchange.Sim, *ledger.Ledger, *GridTrader) {
	t.Helper()
	sim := exchange.NewSim(exchange.SimConfig{
		FeeRate:      decimal.Zero,
		SlippageRate: decimal.Zero,
		StartBalance: decimal.NewFromInt(1000),
		DefaultFilter: exchange.SymbolFilters{
			TickSize: decimal.NewFromFloat(0.0001),
			StepSize: decimal.NewFromFloat(0.0001),
		},
	})
	sim.FeedMarkPrice("BTCUSDT", d("100"))
	<-sim.Subscribe()

	led := ledger.New(d("1000"))
	cfg := Config{
		TestMode: true, MaxTraders: 1, Leverage: 1,
		EquityFraction:      d("1"),
		LevelSpacingPercent: d("1"),
		TakeProfitPercent:   d("1"),
		StopLossPercent:     d("1"),
		FeeRate:             decimal.Zero,
	}
	trader := NewGridTrader("BTCUSDT", sim, led, cfg)
	require.NoError(t, trader.Start(context.Background()))
	return sim, led, trader
}

func pump(t *testing.T, sim *exchange.Sim, trader *GridTrader, ctx context.Context) {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		select {
		case ev := <-sim.Subscribe():
			trader.HandleEvent(ctx, ev)
		case <-deadline:
			return
		default:
			return
		}
	}
}

// A long entry at 99 with 1% offsets carries TP 99.99 / SL 98.01; the TP
// fill closes the trade and ends the Trader.
func TestGridTakeProfitOnLongLeg(t *testing.T) {
	ctx := context.Background()
	sim, _, trader := newGridHarness(t)

	sim.FeedMarkPrice("BTCUSDT", d("99")) // long entry fills at 99
	pump(t, sim, trader, ctx)

	trader.mu.Lock()
	var pos *model.Position
	for _, p := range trader.positions {
		pos = p
	}
	trader.mu.Unlock()
	require.NotNil(t, pos)
	assert.Equal(t, model.PositionLong, pos.Direction)
	assert.True(t, pos.TakeProfitPrice.Equal(d("99.99")), "got %s", pos.TakeProfitPrice)
	assert.True(t, pos.StopLossPrice.Equal(d("98.01")), "got %s", pos.StopLossPrice)

	sim.FeedMarkPrice("BTCUSDT", d("99.99")) // TP fills
	pump(t, sim, trader, ctx)

	assert.Equal(t, model.TraderTerminal, trader.State())
	require.Len(t, trader.tradeHistory, 1)
	assert.Equal(t, model.ReasonTakeProfit, trader.tradeHistory[0].Reason)
	assert.True(t, trader.tradeHistory[0].PnL.GreaterThan(decimal.Zero))
}

// A short entry filled on the way up stops out when price keeps running.
func TestGridStopLossOnShortLeg(t *testing.T) {
	ctx := context.Background()
	sim, _, trader := newGridHarness(t)

	sim.FeedMarkPrice("BTCUSDT", d("101")) // short entry fills at 101
	pump(t, sim, trader, ctx)

	sim.FeedMarkPrice("BTCUSDT", d("102.01")) // SL fills
	pump(t, sim, trader, ctx)

	assert.Equal(t, model.TraderTerminal, trader.State())
	require.Len(t, trader.tradeHistory, 1)
	assert.Equal(t, model.ReasonStopLoss, trader.tradeHistory[0].Reason)
	assert.True(t, trader.tradeHistory[0].PnL.LessThan(decimal.Zero))
}

func TestGridEntryQuantityFormula(t *testing.T) {
	g := &GridTrader{base: newBase("t1", "BTCUSDT", model.StrategyGrid, nil, nil, Config{
		MaxTraders: 2, Leverage: 5, EquityFraction: d("0.5"),
	})}
	qty := g.entryQuantity(d("1000"), d("100"))
	// (1000 * 0.5 * 5) / (2 * 2 * 100) = 2500 / 400 = 6.25
	assert.True(t, qty.Equal(d("6.25")), "got %s", qty)
}

// slRejectingAdapter rejects every stop-limit placement with -2021, the
// "would immediately trigger" rejection.
type slRejectingAdapter struct {
	*exchange.Sim
}

func (a *slRejectingAdapter) PlaceStopLimitOrder(ctx context.Context, o model.Order) (string, error) {
	return "", &exchange.ExchangeError{Code: exchange.CodeWouldImmediateTrigger, Message: "Order would immediately trigger."}
}

// An SL placement rejected with -2021 records no SL order id and fires
// an immediate market close with reason stop-loss.
func TestGridSLRejectedWithWouldTriggerClosesAtMarket(t *testing.T) {
	ctx := context.Background()
	sim := exchange.NewSim(exchange.SimConfig{
		FeeRate:      decimal.Zero,
		SlippageRate: decimal.Zero,
		StartBalance: decimal.NewFromInt(1000),
		DefaultFilter: exchange.SymbolFilters{
			TickSize: decimal.NewFromFloat(0.0001),
			StepSize: decimal.NewFromFloat(0.0001),
		},
	})
	sim.FeedMarkPrice("BTCUSDT", d("100"))
	<-sim.Subscribe()

	led := ledger.New(d("1000"))
	cfg := Config{
		TestMode: true, MaxTraders: 1, Leverage: 1,
		EquityFraction:      d("1"),
		LevelSpacingPercent: d("1"),
		TakeProfitPercent:   d("1"),
		StopLossPercent:     d("1"),
	}
	trader := NewGridTrader("BTCUSDT", &slRejectingAdapter{Sim: sim}, led, cfg)
	require.NoError(t, trader.Start(ctx))

	sim.FeedMarkPrice("BTCUSDT", d("99")) // long entry fills, SL placement then rejects
	pump(t, sim, trader, ctx)

	assert.Equal(t, model.TraderTerminal, trader.State())
	require.Len(t, trader.tradeHistory, 1)
	assert.Equal(t, model.ReasonStopLoss, trader.tradeHistory[0].Reason)

	trader.mu.Lock()
	assert.Empty(t, trader.positions, "the unprotectable position must be flattened")
	for _, exit := range trader.pendingExits {
		assert.NotEqual(t, model.ReasonStopLoss, exit.Reason, "no SL order id may be recorded")
	}
	trader.mu.Unlock()
}

func TestDestroyIsIdempotent(t *testing.T) {
	ctx := context.Background()
	sim, led, trader := newGridHarness(t)
	_ = sim
	_ = led

	trader.Destroy(ctx)
	historyLen := len(trader.tradeHistory)
	trader.Destroy(ctx)
	assert.Equal(t, historyLen, len(trader.tradeHistory), "destroy must not double-append trade history")
}
