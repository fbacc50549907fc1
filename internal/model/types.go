// Package model holds the data types shared by the exchange adapter,
// the strategies, and the supervisor: symbols, orders, positions, and
// the pending-order bookkeeping a Trader carries between fill events.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Symbol is the opaque routing key for market and order events.
type Symbol string

// Side is the exchange order side.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderType enumerates the order types the adapter will place.
type OrderType string

const (
	OrderTypeLimit      OrderType = "LIMIT"
	OrderTypeStopLimit  OrderType = "STOP_LIMIT"
	OrderTypeStopMarket OrderType = "STOP_MARKET"
	OrderTypeMarket     OrderType = "MARKET"
)

// PositionSide distinguishes hedge-mode legs on the same symbol.
type PositionSide string

const (
	PositionLong  PositionSide = "LONG"
	PositionShort PositionSide = "SHORT"
)

// Sign returns +1 for LONG and -1 for SHORT, the sign convention
// used throughout P&L math.
func (p PositionSide) Sign() int {
	if p == PositionShort {
		return -1
	}
	return 1
}

// CloseSide returns the closing side for a position of this direction.
func (p PositionSide) CloseSide() Side {
	if p == PositionLong {
		return SideSell
	}
	return SideBuy
}

// EntrySide returns the side used to open a position of this direction.
func (p PositionSide) EntrySide() Side {
	if p == PositionLong {
		return SideBuy
	}
	return SideSell
}

// Order is the normalized view of an order the strategy places through
// the adapter. OrderID is the adapter's normalized, single id space.
type Order struct {
	OrderID      string
	Symbol       Symbol
	Side         Side
	Type         OrderType
	Quantity     decimal.Decimal
	Price        decimal.Decimal // zero value means "not set"
	StopPrice    decimal.Decimal
	ReduceOnly   bool
	PositionSide PositionSide
}

// CloseReason records why a position was closed, surfaced in trade
// history so dashboard consumers can tell protective closes apart from
// planned exits.
type CloseReason string

const (
	ReasonTakeProfit CloseReason = "take-profit"
	ReasonStopLoss   CloseReason = "stop-loss"
	ReasonSLRejected CloseReason = "sl-rejected"
	ReasonBaseClose  CloseReason = "base-close"
)

// Position is an open exchange position tracked by a Trader, together
// with the exit orders that must protect it.
type Position struct {
	PosID           string
	Direction       PositionSide
	EntryPrice      decimal.Decimal
	Quantity        decimal.Decimal
	TakeProfitPrice decimal.Decimal
	StopLossPrice   decimal.Decimal
	TPOrderID       string // empty when no TP is live
	SLOrderID       string // empty when no SL is live
	LevelIndex      int
	IsClosing       bool
}

// HasLiveExits reports whether both protective orders are currently
// recorded as live.
func (p *Position) HasLiveExits() bool {
	return p.TPOrderID != "" && p.SLOrderID != ""
}

// PendingEntry is a placed, unfilled entry order.
type PendingEntry struct {
	OrderID    string
	Direction  PositionSide
	Price      decimal.Decimal
	Quantity   decimal.Decimal
	LevelIndex int
}

// PendingExit is a placed, unfilled TP or SL order bound to a position.
type PendingExit struct {
	OrderID    string
	PositionID string
	Reason     CloseReason
	Price      decimal.Decimal
}

// TradeRecord is one closed trade appended to a Trader's history.
type TradeRecord struct {
	Symbol     Symbol
	Direction  PositionSide
	EntryPrice decimal.Decimal
	ExitPrice  decimal.Decimal
	Quantity   decimal.Decimal
	PnL        decimal.Decimal
	Fees       decimal.Decimal
	Reason     CloseReason
	ClosedAt   time.Time
}

// StrategyKind names the two trading disciplines a Trader can run.
type StrategyKind string

const (
	StrategyGrid       StrategyKind = "GRID"
	StrategyVolatility StrategyKind = "VOLATILITY"
)

// TraderState is the lifecycle stage of a Trader.
type TraderState string

const (
	TraderInit     TraderState = "INIT"
	TraderActive   TraderState = "ACTIVE"
	TraderTerminal TraderState = "TERMINAL"
)
