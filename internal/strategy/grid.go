package strategy

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/predatortrading/perp-engine/internal/exchange"
	"github.com/predatortrading/perp-engine/internal/ledger"
	"github.com/predatortrading/perp-engine/internal/model"
)

var hundred = decimal.NewFromInt(100)

// GridTrader opens symmetric long/short entries offset by a spacing
// percentage from the base price and manages paired TP/SL orders for
// whichever side fills.
type GridTrader struct {
	base
}

// NewGridTrader constructs an un-started grid Trader for symbol.
func NewGridTrader(symbol model.Symbol, adapter exchange.Adapter, led *ledger.Ledger, cfg Config) *GridTrader {
	g := &GridTrader{base: newBase(newTraderID(symbol, model.StrategyGrid), symbol, model.StrategyGrid, adapter, led, cfg)}
	g.terminalOn = func(reason model.CloseReason, _ int) bool {
		return reason == model.ReasonTakeProfit || reason == model.ReasonStopLoss
	}
	return g
}

func (g *GridTrader) Start(ctx context.Context) error {
	price, err := g.adapter.GetMarkPrice(ctx, g.symbol)
	if err != nil {
		return err
	}
	g.mu.Lock()
	g.basePrice = price
	g.lastPrice = price
	g.mu.Unlock()

	balance, err := g.adapter.GetBalance(ctx)
	if err != nil {
		return err
	}
	qty := g.entryQuantity(balance, price)

	spacing := g.cfg.LevelSpacingPercent.Div(hundred)
	longPrice := price.Mul(decimal.NewFromInt(1).Sub(spacing))
	shortPrice := price.Mul(decimal.NewFromInt(1).Add(spacing))

	longID, err := g.adapter.PlaceLimitOrder(ctx, model.Order{
		Symbol: g.symbol, Side: model.SideBuy, Type: model.OrderTypeLimit,
		Quantity: qty, Price: longPrice, PositionSide: model.PositionLong,
	})
	if err != nil {
		return err
	}
	shortID, err := g.adapter.PlaceLimitOrder(ctx, model.Order{
		Symbol: g.symbol, Side: model.SideSell, Type: model.OrderTypeLimit,
		Quantity: qty, Price: shortPrice, PositionSide: model.PositionShort,
	})
	if err != nil {
		return err
	}

	g.mu.Lock()
	g.pendingEntries[longID] = &model.PendingEntry{OrderID: longID, Direction: model.PositionLong, Price: longPrice, Quantity: qty, LevelIndex: -1}
	g.pendingEntries[shortID] = &model.PendingEntry{OrderID: shortID, Direction: model.PositionShort, Price: shortPrice, Quantity: qty, LevelIndex: 1}
	g.state = model.TraderActive
	g.mu.Unlock()
	return nil
}

// entryQuantity implements qty = (equity × equityFraction × leverage) /
// (maxTraders × 2 × price), rounded down to the lot step by the adapter
// at order placement time.
func (g *GridTrader) entryQuantity(equity, price decimal.Decimal) decimal.Decimal {
	numerator := equity.Mul(g.cfg.EquityFraction).Mul(decimal.NewFromInt(int64(g.cfg.Leverage)))
	denominator := decimal.NewFromInt(int64(g.cfg.MaxTraders)).Mul(decimal.NewFromInt(2)).Mul(price)
	if denominator.IsZero() {
		return decimal.Zero
	}
	return numerator.Div(denominator)
}

func (g *GridTrader) HandleEvent(ctx context.Context, ev exchange.Event) {
	switch ev.Kind {
	case exchange.EventMarkPrice, exchange.EventBookTicker:
		g.mu.Lock()
		if ev.Kind == exchange.EventMarkPrice {
			g.lastPrice = ev.MarkPrice
		} else if !ev.BestBid.IsZero() && !ev.BestAsk.IsZero() {
			g.lastPrice = ev.BestBid.Add(ev.BestAsk).Div(decimal.NewFromInt(2))
		}
		g.mu.Unlock()
	case exchange.EventOrderFilled:
		g.onOrderFilled(ctx, ev)
	case exchange.EventOrderCancelled:
		g.onOrderCancelled(ctx, ev)
	}
}

func (g *GridTrader) onOrderFilled(ctx context.Context, ev exchange.Event) {
	g.mu.Lock()
	if entry, ok := g.pendingEntries[ev.OrderID]; ok {
		delete(g.pendingEntries, ev.OrderID)
		g.mu.Unlock()
		g.onEntryFilled(ctx, entry, ev.Price)
		return
	}
	exit, ok := g.pendingExits[ev.OrderID]
	g.mu.Unlock()
	if ok {
		g.onExitFilled(ctx, exit, ev.Price)
	}
}

func (g *GridTrader) onEntryFilled(ctx context.Context, entry *model.PendingEntry, fillPrice decimal.Decimal) {
	entryPrice := fillPrice
	if entryPrice.IsZero() {
		entryPrice = entry.Price
	}

	tpPct := g.cfg.TakeProfitPercent.Div(hundred)
	slPct := g.cfg.StopLossPercent.Div(hundred)
	dir := decimal.NewFromInt(int64(entry.Direction.Sign()))
	tp := entryPrice.Mul(decimal.NewFromInt(1).Add(tpPct.Mul(dir)))
	sl := entryPrice.Mul(decimal.NewFromInt(1).Sub(slPct.Mul(dir)))

	pos := &model.Position{
		PosID: string(entry.Direction), Direction: entry.Direction, EntryPrice: entryPrice,
		Quantity: entry.Quantity, TakeProfitPrice: tp, StopLossPrice: sl, LevelIndex: entry.LevelIndex,
	}

	g.mu.Lock()
	g.positions[pos.PosID] = pos
	lastPrice := g.lastPrice
	g.mu.Unlock()

	closeSide := entry.Direction.CloseSide()

	if slAlreadyCrossed(entry.Direction, lastPrice, sl) {
		_, fillPx, err := g.adapter.ClosePositionMarket(ctx, g.symbol, closeSide, pos.Quantity)
		if err != nil {
			g.log.Error().Err(err).Msg("pre-check stop-loss market close failed")
			return
		}
		g.finalizeClose(ctx, pos, fillPx, model.ReasonStopLoss)
		return
	}

	tpID, err := g.adapter.PlaceLimitOrder(ctx, model.Order{
		Symbol: g.symbol, Side: closeSide, Type: model.OrderTypeLimit,
		Quantity: pos.Quantity, Price: tp, ReduceOnly: true, PositionSide: entry.Direction,
	})
	if err != nil {
		g.log.Warn().Err(err).Msg("take-profit placement failed")
	}

	// Record the TP before the SL goes out, so any SL-failure close can
	// cancel it through the normal sibling path.
	g.mu.Lock()
	pos.TPOrderID = tpID
	if tpID != "" {
		g.pendingExits[tpID] = &model.PendingExit{OrderID: tpID, PositionID: pos.PosID, Reason: model.ReasonTakeProfit, Price: tp}
	}
	g.mu.Unlock()

	slID, err := g.adapter.PlaceStopLimitOrder(ctx, model.Order{
		Symbol: g.symbol, Side: closeSide, Type: model.OrderTypeStopLimit,
		Quantity: pos.Quantity, Price: sl, StopPrice: sl, ReduceOnly: true, PositionSide: entry.Direction,
	})
	if err != nil {
		// -2021 would trigger immediately: close now with stop-loss. Any
		// other rejection still may not leave the position unprotected.
		reason := model.ReasonSLRejected
		if exchange.IsCode(err, exchange.CodeWouldImmediateTrigger) {
			reason = model.ReasonStopLoss
		}
		g.log.Warn().Err(err).Str("reason", string(reason)).Msg("stop-loss placement rejected, flattening position")
		_, fillPx, closeErr := g.adapter.ClosePositionMarket(ctx, g.symbol, closeSide, pos.Quantity)
		if closeErr != nil {
			g.log.Error().Err(closeErr).Msg("stop-loss rejected and market close failed")
			return
		}
		g.finalizeClose(ctx, pos, fillPx, reason)
		return
	}

	g.mu.Lock()
	pos.SLOrderID = slID
	g.pendingExits[slID] = &model.PendingExit{OrderID: slID, PositionID: pos.PosID, Reason: model.ReasonStopLoss, Price: sl}
	g.mu.Unlock()
}

func (g *GridTrader) onExitFilled(ctx context.Context, exit *model.PendingExit, fillPrice decimal.Decimal) {
	g.mu.Lock()
	pos, ok := g.positions[exit.PositionID]
	delete(g.pendingExits, exit.OrderID)
	g.mu.Unlock()
	if !ok {
		return
	}
	exitPrice := g.reconcileExit(ctx, exit.OrderID, fillPrice)
	g.finalizeClose(ctx, pos, exitPrice, exit.Reason)
}

// onOrderCancelled handles an exit cancellation: if it was the SL and
// the position isn't already closing, the position must never be left
// unprotected, so it is closed at market immediately with sl-rejected.
func (g *GridTrader) onOrderCancelled(ctx context.Context, ev exchange.Event) {
	g.mu.Lock()
	exit, ok := g.pendingExits[ev.OrderID]
	if !ok {
		g.mu.Unlock()
		return
	}
	delete(g.pendingExits, ev.OrderID)
	pos, posOK := g.positions[exit.PositionID]
	g.mu.Unlock()
	if !posOK || exit.Reason != model.ReasonStopLoss || pos.IsClosing {
		return
	}

	_, fillPx, err := g.adapter.ClosePositionMarket(ctx, g.symbol, pos.Direction.CloseSide(), pos.Quantity)
	if err != nil {
		g.log.Error().Err(err).Msg("sl-rejected market close failed")
		return
	}
	g.finalizeClose(ctx, pos, fillPx, model.ReasonSLRejected)
}

// Tick implements the test-mode force-close complement: any position
// whose TP or SL level has already been crossed by lastPrice is
// finalized synchronously, so tests observe closures even against
// Adapter fakes that don't replay trigger conditions themselves.
func (g *GridTrader) Tick(ctx context.Context) {
	if !g.cfg.TestMode {
		return
	}
	g.mu.Lock()
	lastPrice := g.lastPrice
	var crossed []*model.Position
	for _, pos := range g.positions {
		if pos.IsClosing || lastPrice.IsZero() {
			continue
		}
		dir := pos.Direction.Sign()
		tpCrossed := (dir > 0 && lastPrice.GreaterThanOrEqual(pos.TakeProfitPrice)) || (dir < 0 && lastPrice.LessThanOrEqual(pos.TakeProfitPrice))
		slCrossed := (dir > 0 && lastPrice.LessThanOrEqual(pos.StopLossPrice)) || (dir < 0 && lastPrice.GreaterThanOrEqual(pos.StopLossPrice))
		if tpCrossed || slCrossed {
			crossed = append(crossed, pos)
		}
	}
	g.mu.Unlock()

	for _, pos := range crossed {
		dir := pos.Direction.Sign()
		reason := model.ReasonTakeProfit
		tpCrossed := (dir > 0 && lastPrice.GreaterThanOrEqual(pos.TakeProfitPrice)) || (dir < 0 && lastPrice.LessThanOrEqual(pos.TakeProfitPrice))
		if !tpCrossed {
			reason = model.ReasonStopLoss
		}
		g.finalizeClose(ctx, pos, lastPrice, reason)
	}
}
