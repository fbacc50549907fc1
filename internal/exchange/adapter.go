// Package exchange implements the symbol-agnostic trading surface the
// strategies drive: market-data subscription, signed order operations,
// and a normalized order-event stream. A Live adapter talks to Binance
// USDT-M futures; a Sim adapter replays the same contract deterministically
// in-process so strategy logic never has to know which one it is holding.
package exchange

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/predatortrading/perp-engine/internal/model"
)

// Event is the tagged union of everything the adapter fans out to
// subscribed Traders. Kind names the variant; only the fields that
// variant uses are populated.
type Event struct {
	Kind          EventKind
	Symbol        model.Symbol
	MarkPrice     decimal.Decimal
	BestBid       decimal.Decimal
	BestAsk       decimal.Decimal
	OrderID       string
	NumericID     int64
	ClientOrderID string
	Price         decimal.Decimal
	Quantity      decimal.Decimal
	Side          model.Side
	OrderType     model.OrderType
	Status        string
}

// EventKind distinguishes the Event variants.
type EventKind int

const (
	EventMarkPrice EventKind = iota
	EventBookTicker
	EventOrderFilled
	EventOrderCancelled
)

// Values GetExchangeInfo reports for symbols the engine may trade.
const (
	QuoteAssetUSDT        = "USDT"
	SymbolStatusTrading   = "TRADING"
	ContractTypePerpetual = "PERPETUAL"
)

// SymbolFilters holds a symbol's tick/step rounding rules and contract
// eligibility metadata, cached from exchange info.
type SymbolFilters struct {
	TickSize     decimal.Decimal
	StepSize     decimal.Decimal
	QuoteAsset   string
	Status       string
	ContractType string
}

// TradablePerpetual reports whether the symbol is an eligible trading
// target: USDT-quoted, actively trading, and a perpetual contract.
func (f SymbolFilters) TradablePerpetual() bool {
	return f.QuoteAsset == QuoteAssetUSDT &&
		f.Status == SymbolStatusTrading &&
		f.ContractType == ContractTypePerpetual
}

// Ticker24h is one row of the 24h ticker statistics feed.
type Ticker24h struct {
	Symbol             model.Symbol
	PriceChangePercent decimal.Decimal
	QuoteVolume        decimal.Decimal
	Volume1h           decimal.Decimal // rolling 1h volume; Live.Get24hTickers leaves it zero
	High               decimal.Decimal
	Low                decimal.Decimal
}

// DepthLevel is one bid or ask row.
type DepthLevel struct {
	Price decimal.Decimal
	Qty   decimal.Decimal
}

// Depth is a symbol's order book snapshot, truncated to the requested depth.
type Depth struct {
	Bids []DepthLevel
	Asks []DepthLevel
}

// Kline is one OHLCV candle.
type Kline struct {
	OpenTime time.Time
	Open     decimal.Decimal
	High     decimal.Decimal
	Low      decimal.Decimal
	Close    decimal.Decimal
	Volume   decimal.Decimal
}

// AccountTrade is one fill report used to reconcile realized P&L/fees.
type AccountTrade struct {
	OrderID     string
	Price       decimal.Decimal
	Quantity    decimal.Decimal
	Commission  decimal.Decimal
	RealizedPnl decimal.Decimal
}

// Adapter is the interface both strategies and the Supervisor drive.
// Implementations: Live (Binance USDT-M futures) and Sim (deterministic,
// in-process).
type Adapter interface {
	// Market data / order event subscription.
	Subscribe() <-chan Event
	StartMarketStreams(ctx context.Context, symbols []model.Symbol) error
	UpdateSymbols(ctx context.Context, symbols []model.Symbol) error
	StartUserDataStream(ctx context.Context) error

	// Reads.
	GetMarkPrice(ctx context.Context, symbol model.Symbol) (decimal.Decimal, error)
	GetTickerPrice(ctx context.Context, symbol model.Symbol) (decimal.Decimal, error)
	Get24hTickers(ctx context.Context) ([]Ticker24h, error)
	GetExchangeInfo(ctx context.Context) (map[model.Symbol]SymbolFilters, error)
	GetKlines(ctx context.Context, symbol model.Symbol, interval string, limit int) ([]Kline, error)
	GetDepth(ctx context.Context, symbol model.Symbol, limit int) (Depth, error)
	GetBalance(ctx context.Context) (decimal.Decimal, error)
	GetPosition(ctx context.Context, symbol model.Symbol) (decimal.Decimal, error)
	GetOrderTrades(ctx context.Context, symbol model.Symbol, orderID string) ([]AccountTrade, error)
	SetLeverage(ctx context.Context, symbol model.Symbol, leverage int) error

	// Writes. Quantity/price are floor-rounded to the symbol's step/tick
	// size before submission.
	PlaceLimitOrder(ctx context.Context, o model.Order) (string, error)
	PlaceStopLimitOrder(ctx context.Context, o model.Order) (string, error)
	PlaceMarketOrder(ctx context.Context, o model.Order) (string, decimal.Decimal, error)
	CancelOrder(ctx context.Context, symbol model.Symbol, orderID string) error
	CancelAllOpenOrders(ctx context.Context, symbol model.Symbol) error
	ClosePositionMarket(ctx context.Context, symbol model.Symbol, side model.Side, qty decimal.Decimal) (string, decimal.Decimal, error)
}
