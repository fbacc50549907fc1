package strategy

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/predatortrading/perp-engine/internal/exchange"
	"github.com/predatortrading/perp-engine/internal/ledger"
	"github.com/predatortrading/perp-engine/internal/model"
)

// VolatilityTrader opens opposing long/short market legs of equal size at
// start; once one leg's TP fills, the surviving leg's exit is rewritten to
// break even at the Trader's basePrice while keeping its original SL.
type VolatilityTrader struct {
	base

	tpHitSide model.PositionSide // empty until the first TP fires
	tpHit     bool
}

// NewVolatilityTrader constructs an un-started volatility Trader for symbol.
func NewVolatilityTrader(symbol model.Symbol, adapter exchange.Adapter, led *ledger.Ledger, cfg Config) *VolatilityTrader {
	v := &VolatilityTrader{base: newBase(newTraderID(symbol, model.StrategyVolatility), symbol, model.StrategyVolatility, adapter, led, cfg)}
	// The Trader lives until both legs are gone, whatever closed the last
	// one; the first TP must not terminate it mid-rewrite.
	v.terminalOn = func(_ model.CloseReason, remaining int) bool {
		return remaining == 0
	}
	return v
}

func (v *VolatilityTrader) Start(ctx context.Context) error {
	price, err := v.adapter.GetMarkPrice(ctx, v.symbol)
	if err != nil {
		return err
	}
	v.mu.Lock()
	v.basePrice = price
	v.lastPrice = price
	v.mu.Unlock()

	qty := v.legQuantity(price)

	_, longFill, err := v.adapter.PlaceMarketOrder(ctx, model.Order{
		Symbol: v.symbol, Side: model.SideBuy, Type: model.OrderTypeMarket,
		Quantity: qty, PositionSide: model.PositionLong,
	})
	if err != nil {
		return err
	}
	_, shortFill, err := v.adapter.PlaceMarketOrder(ctx, model.Order{
		Symbol: v.symbol, Side: model.SideSell, Type: model.OrderTypeMarket,
		Quantity: qty, PositionSide: model.PositionShort,
	})
	if err != nil {
		return err
	}

	if err := v.openLeg(ctx, model.PositionLong, longFill, price, qty); err != nil {
		return err
	}
	if err := v.openLeg(ctx, model.PositionShort, shortFill, price, qty); err != nil {
		return err
	}

	v.setState(model.TraderActive)
	return nil
}

// legQuantity implements notional × leverage / basePrice (floor-rounded by
// the adapter at order placement time).
func (v *VolatilityTrader) legQuantity(price decimal.Decimal) decimal.Decimal {
	if price.IsZero() {
		return decimal.Zero
	}
	notional := v.cfg.VolatilityPositionNotionalUSDT.Mul(decimal.NewFromInt(int64(v.cfg.Leverage)))
	return notional.Div(price)
}

// openLeg places the reduce-only TP/SL pair for one leg. TP/SL are always
// referenced from basePrice, not the leg's own fill price.
func (v *VolatilityTrader) openLeg(ctx context.Context, direction model.PositionSide, entryPrice, basePrice, qty decimal.Decimal) error {
	if entryPrice.IsZero() {
		entryPrice = basePrice
	}

	tpPct := v.cfg.VolatilityTakeProfitPercent.Div(hundred)
	slPct := v.cfg.VolatilityStopLossPercent.Div(hundred)
	dir := decimal.NewFromInt(int64(direction.Sign()))
	tp := basePrice.Mul(decimal.NewFromInt(1).Add(tpPct.Mul(dir)))
	sl := basePrice.Mul(decimal.NewFromInt(1).Sub(slPct.Mul(dir)))

	pos := &model.Position{
		PosID: string(direction), Direction: direction, EntryPrice: entryPrice,
		Quantity: qty, TakeProfitPrice: tp, StopLossPrice: sl,
	}

	closeSide := direction.CloseSide()
	tpID, err := v.adapter.PlaceLimitOrder(ctx, model.Order{
		Symbol: v.symbol, Side: closeSide, Type: model.OrderTypeLimit,
		Quantity: qty, Price: tp, ReduceOnly: true, PositionSide: direction,
	})
	if err != nil {
		v.log.Error().Err(err).Str("direction", string(direction)).Msg("volatility TP placement failed")
		return err
	}

	pos.TPOrderID = tpID
	v.mu.Lock()
	v.positions[pos.PosID] = pos
	v.pendingExits[tpID] = &model.PendingExit{OrderID: tpID, PositionID: pos.PosID, Reason: model.ReasonTakeProfit, Price: tp}
	v.mu.Unlock()

	slID, err := v.adapter.PlaceStopLimitOrder(ctx, model.Order{
		Symbol: v.symbol, Side: closeSide, Type: model.OrderTypeStopLimit,
		Quantity: qty, Price: sl, StopPrice: sl, ReduceOnly: true, PositionSide: direction,
	})
	if err != nil {
		// The leg is live without a stop; flatten it rather than carry
		// unprotected exposure. -2021 closes as a stop-loss, anything
		// else as sl-rejected.
		reason := model.ReasonSLRejected
		if exchange.IsCode(err, exchange.CodeWouldImmediateTrigger) {
			reason = model.ReasonStopLoss
		}
		v.log.Warn().Err(err).Str("direction", string(direction)).Str("reason", string(reason)).Msg("volatility SL placement rejected, flattening leg")
		_, fillPx, closeErr := v.adapter.ClosePositionMarket(ctx, v.symbol, closeSide, qty)
		if closeErr != nil {
			return closeErr
		}
		v.finalizeClose(ctx, pos, fillPx, reason)
		return nil
	}

	v.mu.Lock()
	pos.SLOrderID = slID
	v.pendingExits[slID] = &model.PendingExit{OrderID: slID, PositionID: pos.PosID, Reason: model.ReasonStopLoss, Price: sl}
	v.mu.Unlock()
	return nil
}

func (v *VolatilityTrader) HandleEvent(ctx context.Context, ev exchange.Event) {
	switch ev.Kind {
	case exchange.EventMarkPrice, exchange.EventBookTicker:
		v.mu.Lock()
		if ev.Kind == exchange.EventMarkPrice {
			v.lastPrice = ev.MarkPrice
		} else if !ev.BestBid.IsZero() && !ev.BestAsk.IsZero() {
			v.lastPrice = ev.BestBid.Add(ev.BestAsk).Div(decimal.NewFromInt(2))
		}
		v.mu.Unlock()
	case exchange.EventOrderFilled:
		v.onExitFilled(ctx, ev)
	case exchange.EventOrderCancelled:
		v.onExitCancelled(ctx, ev)
	}
}

func (v *VolatilityTrader) onExitFilled(ctx context.Context, ev exchange.Event) {
	v.mu.Lock()
	exit, ok := v.pendingExits[ev.OrderID]
	if ok {
		delete(v.pendingExits, ev.OrderID)
	}
	v.mu.Unlock()
	if !ok {
		return
	}

	v.mu.Lock()
	pos, posOK := v.positions[exit.PositionID]
	v.mu.Unlock()
	if !posOK {
		return
	}

	exitPrice := v.reconcileExit(ctx, exit.OrderID, ev.Price)

	v.mu.Lock()
	alreadyHit := v.tpHit
	v.mu.Unlock()

	if exit.Reason == model.ReasonTakeProfit && !alreadyHit {
		v.mu.Lock()
		v.tpHit = true
		v.tpHitSide = pos.Direction
		v.mu.Unlock()

		v.finalizeClose(ctx, pos, exitPrice, model.ReasonTakeProfit)
		v.rewriteSurvivingLeg(ctx)
		return
	}

	v.finalizeClose(ctx, pos, exitPrice, exit.Reason)
}

// rewriteSurvivingLeg implements the TP-then-rewrite protocol: cancel the
// surviving leg's TP/SL, place a break-even TP at basePrice, and re-place
// the SL at its original price. If price is already back at or through
// basePrice (break-even or better for the survivor), or the new TP
// placement fails, market-close with reason base-close instead.
func (v *VolatilityTrader) rewriteSurvivingLeg(ctx context.Context) {
	v.mu.Lock()
	var survivor *model.Position
	for _, p := range v.positions {
		if !p.IsClosing {
			survivor = p
			break
		}
	}
	basePrice := v.basePrice
	lastPrice := v.lastPrice
	v.mu.Unlock()

	if survivor == nil {
		return
	}

	if survivor.TPOrderID != "" {
		if err := v.adapter.CancelOrder(ctx, v.symbol, survivor.TPOrderID); err != nil {
			v.log.Warn().Err(err).Msg("failed to cancel surviving leg's TP during rewrite")
		}
		v.mu.Lock()
		delete(v.pendingExits, survivor.TPOrderID)
		v.mu.Unlock()
	}
	if survivor.SLOrderID != "" {
		if err := v.adapter.CancelOrder(ctx, v.symbol, survivor.SLOrderID); err != nil {
			v.log.Warn().Err(err).Msg("failed to cancel surviving leg's SL during rewrite")
		}
		v.mu.Lock()
		delete(v.pendingExits, survivor.SLOrderID)
		v.mu.Unlock()
	}

	closeSide := survivor.Direction.CloseSide()
	dir := survivor.Direction.Sign()
	// Price back at or through basePrice means the survivor can exit at
	// break-even or better right now; a resting TP at base would trigger
	// immediately, so close at market instead.
	pastBase := (dir > 0 && lastPrice.GreaterThanOrEqual(basePrice)) || (dir < 0 && lastPrice.LessThanOrEqual(basePrice))

	if pastBase {
		v.marketCloseBaseClose(ctx, survivor)
		return
	}

	newTPID, err := v.adapter.PlaceLimitOrder(ctx, model.Order{
		Symbol: v.symbol, Side: closeSide, Type: model.OrderTypeLimit,
		Quantity: survivor.Quantity, Price: basePrice, ReduceOnly: true, PositionSide: survivor.Direction,
	})
	if err != nil {
		v.log.Warn().Err(err).Msg("break-even TP placement failed, closing at market")
		v.marketCloseBaseClose(ctx, survivor)
		return
	}

	newSLID, err := v.adapter.PlaceStopLimitOrder(ctx, model.Order{
		Symbol: v.symbol, Side: closeSide, Type: model.OrderTypeStopLimit,
		Quantity: survivor.Quantity, Price: survivor.StopLossPrice, StopPrice: survivor.StopLossPrice,
		ReduceOnly: true, PositionSide: survivor.Direction,
	})
	if err != nil {
		v.log.Warn().Err(err).Msg("SL re-placement after TP rewrite failed")
	}

	v.mu.Lock()
	survivor.TakeProfitPrice = basePrice
	survivor.TPOrderID = newTPID
	survivor.SLOrderID = newSLID
	// The break-even exit closes with reason base-close, not take-profit:
	// it realizes no price movement on the loser leg.
	v.pendingExits[newTPID] = &model.PendingExit{OrderID: newTPID, PositionID: survivor.PosID, Reason: model.ReasonBaseClose, Price: basePrice}
	if newSLID != "" {
		v.pendingExits[newSLID] = &model.PendingExit{OrderID: newSLID, PositionID: survivor.PosID, Reason: model.ReasonStopLoss, Price: survivor.StopLossPrice}
	}
	v.mu.Unlock()
}

func (v *VolatilityTrader) marketCloseBaseClose(ctx context.Context, pos *model.Position) {
	_, fillPx, err := v.adapter.ClosePositionMarket(ctx, v.symbol, pos.Direction.CloseSide(), pos.Quantity)
	if err != nil {
		v.log.Error().Err(err).Msg("base-close market close failed")
		return
	}
	v.finalizeClose(ctx, pos, fillPx, model.ReasonBaseClose)
}

// onExitCancelled mirrors Grid's sl-rejected handling: an SL cancelled
// outside of the rewrite protocol (i.e. not because we just cancelled it
// ourselves) must never leave a position unprotected.
func (v *VolatilityTrader) onExitCancelled(ctx context.Context, ev exchange.Event) {
	v.mu.Lock()
	exit, ok := v.pendingExits[ev.OrderID]
	if !ok {
		v.mu.Unlock()
		return
	}
	delete(v.pendingExits, ev.OrderID)
	pos, posOK := v.positions[exit.PositionID]
	v.mu.Unlock()
	if !posOK || exit.Reason != model.ReasonStopLoss || pos.IsClosing {
		return
	}

	_, fillPx, err := v.adapter.ClosePositionMarket(ctx, v.symbol, pos.Direction.CloseSide(), pos.Quantity)
	if err != nil {
		v.log.Error().Err(err).Msg("sl-rejected market close failed")
		return
	}
	v.finalizeClose(ctx, pos, fillPx, model.ReasonSLRejected)
}

// Tick implements the same test-mode force-close complement Grid uses, so
// isolated Adapter fakes still observe TP/SL closures deterministically.
func (v *VolatilityTrader) Tick(ctx context.Context) {
	if !v.cfg.TestMode {
		return
	}
	v.mu.Lock()
	lastPrice := v.lastPrice
	var crossed []*model.Position
	for _, pos := range v.positions {
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
	v.mu.Unlock()

	for _, pos := range crossed {
		v.mu.Lock()
		lastPrice := v.lastPrice
		basePrice := v.basePrice
		dir := pos.Direction.Sign()
		tpCrossed := (dir > 0 && lastPrice.GreaterThanOrEqual(pos.TakeProfitPrice)) || (dir < 0 && lastPrice.LessThanOrEqual(pos.TakeProfitPrice))
		alreadyHit := v.tpHit
		v.mu.Unlock()

		reason := model.ReasonStopLoss
		if tpCrossed {
			reason = model.ReasonTakeProfit
			if alreadyHit && pos.TakeProfitPrice.Equal(basePrice) {
				reason = model.ReasonBaseClose
			}
		}

		if reason == model.ReasonTakeProfit && !alreadyHit {
			v.mu.Lock()
			v.tpHit = true
			v.tpHitSide = pos.Direction
			v.mu.Unlock()
			v.finalizeClose(ctx, pos, lastPrice, model.ReasonTakeProfit)
			v.rewriteSurvivingLeg(ctx)
			continue
		}
		v.finalizeClose(ctx, pos, lastPrice, reason)
	}
}

var _ Trader = (*VolatilityTrader)(nil)
var _ Trader = (*GridTrader)(nil)
