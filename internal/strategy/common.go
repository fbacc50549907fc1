// Package strategy implements the two trading disciplines a Trader can
// run — Grid and Volatility — on top of the shared exchange.Adapter and
// ledger.Ledger. Both strategies share position bookkeeping, finalize-
// close accounting, and the test-mode force-close helper defined here;
// they differ only in how entries are opened and how TP/SL are managed
// once a position is live.
package strategy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/predatortrading/perp-engine/internal/exchange"
	"github.com/predatortrading/perp-engine/internal/ledger"
	"github.com/predatortrading/perp-engine/internal/model"
)

// Config carries every tunable a Trader needs, sourced from the global
// engine configuration.
type Config struct {
	TestMode bool

	MaxTraders     int
	Leverage       int
	EquityFraction decimal.Decimal

	LevelSpacingPercent decimal.Decimal
	TakeProfitPercent   decimal.Decimal
	StopLossPercent     decimal.Decimal

	PositionNotionalUSDT           decimal.Decimal
	VolatilityPositionNotionalUSDT decimal.Decimal
	VolatilityTakeProfitPercent    decimal.Decimal
	VolatilityStopLossPercent      decimal.Decimal

	FeeRate decimal.Decimal
}

// slCrossedTolerancePct is the "within 0.02% of the stop" pre-check band
// from the entry-fill handling rules.
var slCrossedTolerancePct = decimal.NewFromFloat(0.02)

// Trader is the interface the Supervisor drives. A Trader owns its
// positions and pending orders exclusively; the Supervisor only ever
// reads State/UnrealizedPnL/TerminalPnL and forwards adapter events.
type Trader interface {
	ID() string
	Symbol() model.Symbol
	Kind() model.StrategyKind
	State() model.TraderState
	Start(ctx context.Context) error
	HandleEvent(ctx context.Context, ev exchange.Event)
	Tick(ctx context.Context)
	UnrealizedPnL() decimal.Decimal
	TerminalPnL() decimal.Decimal
	Destroy(ctx context.Context)
	Snapshot() ledger.TraderSnapshot
}

// base holds everything common to both strategy variants: position and
// pending-order bookkeeping, the shared adapter/ledger handles, and the
// finalize-close accounting rules.
type base struct {
	mu sync.Mutex

	id     string
	symbol model.Symbol
	kind   model.StrategyKind

	adapter exchange.Adapter
	ledger  *ledger.Ledger
	cfg     Config
	log     zerolog.Logger

	state     model.TraderState
	basePrice decimal.Decimal
	lastPrice decimal.Decimal
	realized  decimal.Decimal
	destroyed bool

	// terminalOn decides whether a close ends the Trader's lifecycle:
	// Grid terminates on any take-profit/stop-loss close, Volatility only
	// once its last position is gone.
	terminalOn func(reason model.CloseReason, remaining int) bool

	positions      map[string]*model.Position // posID -> position
	pendingExits   map[string]*model.PendingExit
	pendingEntries map[string]*model.PendingEntry
	tradeHistory   []model.TradeRecord
}

func newBase(id string, symbol model.Symbol, kind model.StrategyKind, adapter exchange.Adapter, led *ledger.Ledger, cfg Config) base {
	return base{
		id:             id,
		symbol:         symbol,
		kind:           kind,
		adapter:        adapter,
		ledger:         led,
		cfg:            cfg,
		log:            log.With().Str("trader", id).Str("symbol", string(symbol)).Str("strategy", string(kind)).Logger(),
		state:          model.TraderInit,
		positions:      make(map[string]*model.Position),
		pendingExits:   make(map[string]*model.PendingExit),
		pendingEntries: make(map[string]*model.PendingEntry),
	}
}

func (b *base) ID() string               { return b.id }
func (b *base) Symbol() model.Symbol     { return b.symbol }
func (b *base) Kind() model.StrategyKind { return b.kind }

func (b *base) State() model.TraderState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// TerminalPnL is the Trader's total realized P&L across every close; the
// Supervisor reads it at termination for loss-cooldown bookkeeping.
func (b *base) TerminalPnL() decimal.Decimal {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.realized
}

func (b *base) UnrealizedPnL() decimal.Decimal {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.unrealizedLocked()
}

func (b *base) Snapshot() ledger.TraderSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return ledger.TraderSnapshot{
		ID: b.id, Symbol: b.symbol, Strategy: b.kind, State: b.state,
		UnrealizedPnl: b.unrealizedLocked(), OpenPositions: len(b.positions),
	}
}

func (b *base) unrealizedLocked() decimal.Decimal {
	total := decimal.Zero
	if b.lastPrice.IsZero() {
		return total
	}
	for _, pos := range b.positions {
		dir := decimal.NewFromInt(int64(pos.Direction.Sign()))
		total = total.Add(b.lastPrice.Sub(pos.EntryPrice).Mul(pos.Quantity).Mul(dir))
	}
	return total
}

// slAlreadyCrossed implements the entry-fill pre-check: true when
// lastPrice has already crossed, or sits within 0.02% of, the stop.
func slAlreadyCrossed(direction model.PositionSide, lastPrice, stopPrice decimal.Decimal) bool {
	if lastPrice.IsZero() || stopPrice.IsZero() {
		return false
	}
	tolerance := stopPrice.Mul(slCrossedTolerancePct).Div(decimal.NewFromInt(100)).Abs()
	if direction == model.PositionLong {
		return lastPrice.LessThanOrEqual(stopPrice.Add(tolerance))
	}
	return lastPrice.GreaterThanOrEqual(stopPrice.Sub(tolerance))
}

// cancelSibling cancels the exit order paired with a position's other
// leg (TP when closing on SL, SL when closing on TP) and drops it from
// pendingExits. Cancel failures are logged, not fatal — the position is
// already being flattened.
func (b *base) cancelSibling(ctx context.Context, pos *model.Position, closingReason model.CloseReason) {
	var siblingID string
	switch closingReason {
	case model.ReasonTakeProfit, model.ReasonBaseClose:
		siblingID = pos.SLOrderID
	case model.ReasonStopLoss, model.ReasonSLRejected:
		siblingID = pos.TPOrderID
	}
	if siblingID == "" {
		return
	}
	if err := b.adapter.CancelOrder(ctx, b.symbol, siblingID); err != nil {
		b.log.Warn().Err(err).Str("order_id", siblingID).Msg("failed to cancel sibling exit order")
	}
	delete(b.pendingExits, siblingID)
}

// reconcileExit attempts to read the actual average fill price from the
// exchange's per-order trade reports in live mode; on any failure it
// falls back to the caller-supplied estimate. Only the price is
// reconciled: the reports' commission and realized P&L are not used, so
// finalizeClose still computes P&L and fees from its own estimate.
func (b *base) reconcileExit(ctx context.Context, orderID string, estimatePrice decimal.Decimal) decimal.Decimal {
	if b.cfg.TestMode {
		return estimatePrice
	}
	trades, err := b.adapter.GetOrderTrades(ctx, b.symbol, orderID)
	if err != nil || len(trades) == 0 {
		return estimatePrice
	}
	totalQty := decimal.Zero
	totalNotional := decimal.Zero
	for _, t := range trades {
		totalNotional = totalNotional.Add(t.Price.Mul(t.Quantity))
		totalQty = totalQty.Add(t.Quantity)
	}
	if totalQty.IsZero() {
		return estimatePrice
	}
	return totalNotional.Div(totalQty)
}

// finalizeClose is the common accounting path for any position close:
// mark isClosing, cancel the sibling exit, compute P&L/fees, append
// trade history, update the Ledger, and mark the Trader TERMINAL when
// terminalOn says the close ends its lifecycle (without terminalOn: a
// take-profit or stop-loss close).
func (b *base) finalizeClose(ctx context.Context, pos *model.Position, exitPrice decimal.Decimal, reason model.CloseReason) {
	b.mu.Lock()
	if pos.IsClosing {
		b.mu.Unlock()
		return
	}
	pos.IsClosing = true
	b.cancelSibling(ctx, pos, reason)
	b.mu.Unlock()

	dir := decimal.NewFromInt(int64(pos.Direction.Sign()))
	pnl := exitPrice.Sub(pos.EntryPrice).Mul(pos.Quantity).Mul(dir)
	fees := pos.EntryPrice.Add(exitPrice).Mul(pos.Quantity).Mul(b.cfg.FeeRate)

	record := model.TradeRecord{
		Symbol: b.symbol, Direction: pos.Direction, EntryPrice: pos.EntryPrice,
		ExitPrice: exitPrice, Quantity: pos.Quantity, PnL: pnl, Fees: fees,
		Reason: reason, ClosedAt: time.Now(),
	}

	b.mu.Lock()
	b.tradeHistory = append(b.tradeHistory, record)
	delete(b.positions, pos.PosID)
	b.realized = b.realized.Add(pnl)
	terminal := reason == model.ReasonTakeProfit || reason == model.ReasonStopLoss
	if b.terminalOn != nil {
		terminal = b.terminalOn(reason, len(b.positions))
	}
	b.mu.Unlock()

	b.ledger.RecordTrade(pnl, fees)
	b.log.Info().Str("reason", string(reason)).
		Str("pnl", pnl.String()).Str("entry", pos.EntryPrice.String()).
		Str("exit", exitPrice.String()).Msg("position closed")

	if terminal {
		b.setState(model.TraderTerminal)
	}
}

func (b *base) setState(s model.TraderState) {
	b.mu.Lock()
	b.state = s
	b.mu.Unlock()
}

// Destroy tears the Trader down: cancel every resting order on its
// symbol, flatten any remaining position at market, and report the
// terminal summary to the Ledger. Guarded so calling it twice has the
// same effect as once.
func (b *base) Destroy(ctx context.Context) {
	b.mu.Lock()
	if b.destroyed {
		b.mu.Unlock()
		return
	}
	b.destroyed = true
	positions := make([]*model.Position, 0, len(b.positions))
	for _, p := range b.positions {
		positions = append(positions, p)
	}
	b.pendingEntries = make(map[string]*model.PendingEntry)
	b.pendingExits = make(map[string]*model.PendingExit)
	b.mu.Unlock()

	if err := b.adapter.CancelAllOpenOrders(ctx, b.symbol); err != nil {
		b.log.Warn().Err(err).Msg("destroy: failed to cancel open orders")
	}

	for _, pos := range positions {
		_, price, err := b.adapter.ClosePositionMarket(ctx, b.symbol, pos.Direction.CloseSide(), pos.Quantity)
		if err != nil {
			b.log.Error().Err(err).Msg("destroy: failed to flatten position")
			continue
		}
		b.finalizeClose(ctx, pos, price, model.ReasonBaseClose)
	}
	b.ledger.RemoveTrader(b.id, ledger.TraderSummary{
		ID: b.id, Symbol: b.symbol, RealizedPnl: b.TerminalPnL(), ClosedAt: time.Now(),
	})
	b.setState(model.TraderTerminal)
}

func newTraderID(symbol model.Symbol, kind model.StrategyKind) string {
	return fmt.Sprintf("%s-%s-%d", symbol, kind, time.Now().UnixNano())
}
