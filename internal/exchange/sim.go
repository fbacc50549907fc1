package exchange

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/predatortrading/perp-engine/internal/model"
)

// simOrder is a resting order the simulator will fill once its
// condition is satisfied by a mark-price or book-mid tick.
type simOrder struct {
	id           string
	symbol       model.Symbol
	side         model.Side
	orderType    model.OrderType
	quantity     decimal.Decimal
	price        decimal.Decimal
	stopPrice    decimal.Decimal
	reduceOnly   bool
	positionSide model.PositionSide
	status       string // NEW, FILLED, CANCELED
}

type simPosition struct {
	qty   decimal.Decimal // signed: positive for LONG, negative for SHORT
	entry decimal.Decimal
}

// SimConfig controls the deterministic test-mode exchange behavior.
type SimConfig struct {
	FeeRate       decimal.Decimal
	SlippageRate  decimal.Decimal
	StartBalance  decimal.Decimal
	DefaultFilter SymbolFilters
}

// Sim is the deterministic, in-process stand-in for the live adapter.
// It replays resting orders against each fed price tick, so strategy
// logic exercises identical fill/cancel semantics with or without a
// network.
type Sim struct {
	mu sync.Mutex

	cfg SimConfig

	orders    map[string]*simOrder
	positions map[model.Symbol]map[model.PositionSide]*simPosition
	balance   decimal.Decimal

	lastSimPrice map[model.Symbol]decimal.Decimal
	bestBid      map[model.Symbol]decimal.Decimal
	bestAsk      map[model.Symbol]decimal.Decimal
	filters      map[model.Symbol]SymbolFilters

	events chan Event
}

// NewSim constructs a simulator with the given fee/slippage model and
// starting balance.
func NewSim(cfg SimConfig) *Sim {
	return &Sim{
		cfg:          cfg,
		orders:       make(map[string]*simOrder),
		positions:    make(map[model.Symbol]map[model.PositionSide]*simPosition),
		balance:      cfg.StartBalance,
		lastSimPrice: make(map[model.Symbol]decimal.Decimal),
		bestBid:      make(map[model.Symbol]decimal.Decimal),
		bestAsk:      make(map[model.Symbol]decimal.Decimal),
		filters:      make(map[model.Symbol]SymbolFilters),
		events:       make(chan Event, 1024),
	}
}

func (s *Sim) Subscribe() <-chan Event { return s.events }

func (s *Sim) StartMarketStreams(ctx context.Context, symbols []model.Symbol) error { return nil }
func (s *Sim) UpdateSymbols(ctx context.Context, symbols []model.Symbol) error      { return nil }
func (s *Sim) StartUserDataStream(ctx context.Context) error                       { return nil }

// SetFilters registers tick/step sizes for a symbol, used by tests that
// need non-default rounding.
func (s *Sim) SetFilters(symbol model.Symbol, f SymbolFilters) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filters[symbol] = f
}

func (s *Sim) filtersFor(symbol model.Symbol) SymbolFilters {
	if f, ok := s.filters[symbol]; ok {
		return f
	}
	return s.cfg.DefaultFilter
}

// GetExchangeInfo reports every symbol the simulator has seen a price
// for, with explicitly registered filters taking precedence over the
// configured default.
func (s *Sim) GetExchangeInfo(ctx context.Context) (map[model.Symbol]SymbolFilters, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[model.Symbol]SymbolFilters, len(s.filters)+len(s.lastSimPrice))
	for sym := range s.lastSimPrice {
		out[sym] = s.cfg.DefaultFilter
	}
	for k, v := range s.filters {
		out[k] = v
	}
	return out, nil
}

func (s *Sim) GetMarkPrice(ctx context.Context, symbol model.Symbol) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.lastSimPrice[symbol]
	if !ok {
		return decimal.Zero, &ExchangeError{Code: -1, Message: "no price seeded for " + string(symbol)}
	}
	return p, nil
}

func (s *Sim) GetTickerPrice(ctx context.Context, symbol model.Symbol) (decimal.Decimal, error) {
	return s.GetMarkPrice(ctx, symbol)
}

func (s *Sim) Get24hTickers(ctx context.Context) ([]Ticker24h, error) { return nil, nil }

func (s *Sim) GetKlines(ctx context.Context, symbol model.Symbol, interval string, limit int) ([]Kline, error) {
	return nil, nil
}

func (s *Sim) GetDepth(ctx context.Context, symbol model.Symbol, limit int) (Depth, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := Depth{}
	if bid, ok := s.bestBid[symbol]; ok {
		d.Bids = append(d.Bids, DepthLevel{Price: bid, Qty: decimal.NewFromInt(1)})
	}
	if ask, ok := s.bestAsk[symbol]; ok {
		d.Asks = append(d.Asks, DepthLevel{Price: ask, Qty: decimal.NewFromInt(1)})
	}
	return d, nil
}

func (s *Sim) GetBalance(ctx context.Context) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balance, nil
}

func (s *Sim) GetPosition(ctx context.Context, symbol model.Symbol) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := decimal.Zero
	for _, p := range s.positions[symbol] {
		total = total.Add(p.qty)
	}
	return total, nil
}

func (s *Sim) GetOrderTrades(ctx context.Context, symbol model.Symbol, orderID string) ([]AccountTrade, error) {
	// The simulator settles P&L synchronously on fill; strategies that
	// ask for a reconciliation report get nothing to reconcile against,
	// which is the documented fallback-to-estimate path.
	return nil, nil
}

func (s *Sim) SetLeverage(ctx context.Context, symbol model.Symbol, leverage int) error { return nil }

// FeedMarkPrice delivers a mark-price tick for symbol and replays resting
// orders against it, exactly as the live adapter's mark-price stream
// would. Test code drives the simulator through this method (and
// FeedBookTicker) instead of a network connection.
func (s *Sim) FeedMarkPrice(symbol model.Symbol, price decimal.Decimal) {
	// The price tick precedes any fills it triggers, mirroring exchange
	// delivery order so consumers see an up-to-date lastPrice by the time
	// the fill arrives.
	s.events <- Event{Kind: EventMarkPrice, Symbol: symbol, MarkPrice: price}

	s.mu.Lock()
	s.replayLocked(symbol, price)
	s.lastSimPrice[symbol] = price
	s.mu.Unlock()
}

// FeedBookTicker delivers a best-bid/ask update; the simulator also
// replays orders against the derived mid-price.
func (s *Sim) FeedBookTicker(symbol model.Symbol, bid, ask decimal.Decimal) {
	s.events <- Event{Kind: EventBookTicker, Symbol: symbol, BestBid: bid, BestAsk: ask}

	s.mu.Lock()
	s.bestBid[symbol] = bid
	s.bestAsk[symbol] = ask
	mid := bid.Add(ask).Div(decimal.NewFromInt(2))
	s.replayLocked(symbol, mid)
	s.lastSimPrice[symbol] = mid
	s.mu.Unlock()
}

// triggered reports whether order's condition is satisfied by price.
func triggered(o *simOrder, price decimal.Decimal) bool {
	switch o.orderType {
	case model.OrderTypeLimit:
		if o.side == model.SideBuy {
			return price.LessThanOrEqual(o.price)
		}
		return price.GreaterThanOrEqual(o.price)
	case model.OrderTypeStopLimit, model.OrderTypeStopMarket:
		if o.side == model.SideBuy {
			return price.GreaterThanOrEqual(o.stopPrice)
		}
		return price.LessThanOrEqual(o.stopPrice)
	case model.OrderTypeMarket:
		return true
	}
	return false
}

func fillPriceFor(o *simOrder) decimal.Decimal {
	if !o.price.IsZero() {
		return o.price
	}
	return o.stopPrice
}

// replayLocked scans every NEW order on symbol and fills any whose
// condition price satisfies. Caller holds s.mu.
func (s *Sim) replayLocked(symbol model.Symbol, price decimal.Decimal) {
	prior, hadPrior := s.lastSimPrice[symbol]

	for _, o := range s.orders {
		if o.symbol != symbol || o.status != "NEW" {
			continue
		}
		if o.orderType == model.OrderTypeMarket {
			continue // market orders fill synchronously at submission time
		}
		if !triggered(o, price) {
			continue
		}

		fp := fillPriceFor(o)
		alreadyPassed := hadPrior && !price.Equal(fp) && prior.Cmp(fp) != price.Cmp(fp)
		if !price.Equal(fp) {
			log.Debug().
				Str("symbol", string(symbol)).
				Str("orderId", o.id).
				Str("trigger", fp.String()).
				Str("tickPrice", price.String()).
				Bool("alreadyPassed", alreadyPassed).
				Msg("sim order gap-filled at trigger price")
		}

		s.fillLocked(o, fp)
	}
}

func (s *Sim) fillLocked(o *simOrder, fillPrice decimal.Decimal) {
	o.status = "FILLED"

	fee := fillPrice.Mul(o.quantity).Abs().Mul(s.cfg.FeeRate)
	s.balance = s.balance.Sub(fee)

	byPosSide := s.positions[o.symbol]
	if byPosSide == nil {
		byPosSide = make(map[model.PositionSide]*simPosition)
		s.positions[o.symbol] = byPosSide
	}
	pos := byPosSide[o.positionSide]
	if pos == nil {
		pos = &simPosition{}
		byPosSide[o.positionSide] = pos
	}

	signedQty := o.quantity
	if o.side == model.SideSell {
		signedQty = signedQty.Neg()
	}

	sameSign := pos.qty.Sign() == 0 || pos.qty.Sign() == signedQty.Sign()
	if !o.reduceOnly && sameSign {
		// Weighted-average entry when adding to (or opening) a position.
		newQty := pos.qty.Add(signedQty)
		if newQty.IsZero() {
			pos.entry = decimal.Zero
		} else {
			notionalOld := pos.entry.Mul(pos.qty).Abs()
			notionalNew := fillPrice.Mul(signedQty).Abs()
			pos.entry = notionalOld.Add(notionalNew).Div(newQty.Abs())
		}
		pos.qty = newQty
	} else {
		// Reduce-only or opposite-sign fill: realize P&L proportionally.
		closingQty := decimal.Min(signedQty.Abs(), pos.qty.Abs())
		dir := decimal.NewFromInt(int64(o.positionSide.Sign()))
		pnl := fillPrice.Sub(pos.entry).Mul(closingQty).Mul(dir)
		s.balance = s.balance.Add(pnl)

		if pos.qty.Sign() > 0 {
			pos.qty = pos.qty.Sub(closingQty)
		} else {
			pos.qty = pos.qty.Add(closingQty)
		}
		if pos.qty.IsZero() {
			pos.entry = decimal.Zero
		}
	}

	s.events <- Event{
		Kind:      EventOrderFilled,
		Symbol:    o.symbol,
		OrderID:   o.id,
		Price:     fillPrice,
		Quantity:  o.quantity,
		Side:      o.side,
		OrderType: o.orderType,
	}
}

func (s *Sim) place(o *simOrder) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	o.id = "SIM-" + uuid.NewString()
	o.status = "NEW"
	s.orders[o.id] = o

	// An order placed after price has already crossed its trigger is
	// replayed immediately against the last known price.
	if last, ok := s.lastSimPrice[o.symbol]; ok && o.orderType != model.OrderTypeMarket {
		if triggered(o, last) {
			s.fillLocked(o, fillPriceFor(o))
		}
	}
	return o.id
}

func (s *Sim) PlaceLimitOrder(ctx context.Context, o model.Order) (string, error) {
	f := s.filtersFor(o.Symbol)
	id := s.place(&simOrder{
		symbol: o.Symbol, side: o.Side, orderType: model.OrderTypeLimit,
		quantity: FloorQuantity(o.Quantity, f), price: FloorPrice(o.Price, f),
		reduceOnly: o.ReduceOnly, positionSide: o.PositionSide,
	})
	return id, nil
}

func (s *Sim) PlaceStopLimitOrder(ctx context.Context, o model.Order) (string, error) {
	f := s.filtersFor(o.Symbol)
	id := s.place(&simOrder{
		symbol: o.Symbol, side: o.Side, orderType: model.OrderTypeStopLimit,
		quantity: FloorQuantity(o.Quantity, f), price: FloorPrice(o.Price, f),
		stopPrice: FloorPrice(o.StopPrice, f), reduceOnly: o.ReduceOnly,
		positionSide: o.PositionSide,
	})
	return id, nil
}

func (s *Sim) PlaceMarketOrder(ctx context.Context, o model.Order) (string, decimal.Decimal, error) {
	s.mu.Lock()
	last, ok := s.lastSimPrice[o.Symbol]
	if !ok {
		s.mu.Unlock()
		return "", decimal.Zero, &ExchangeError{Code: -1, Message: "no price seeded for " + string(o.Symbol)}
	}

	fillPrice := last
	if bid, bok := s.bestBid[o.Symbol]; bok {
		if ask, aok := s.bestAsk[o.Symbol]; aok {
			if o.Side == model.SideBuy {
				fillPrice = ask
			} else {
				fillPrice = bid
			}
		}
	}
	slip := fillPrice.Mul(s.cfg.SlippageRate)
	if o.Side == model.SideBuy {
		fillPrice = fillPrice.Add(slip)
	} else {
		fillPrice = fillPrice.Sub(slip)
	}

	f := s.filtersFor(o.Symbol)
	ord := &simOrder{
		symbol: o.Symbol, side: o.Side, orderType: model.OrderTypeMarket,
		quantity: FloorQuantity(o.Quantity, f), reduceOnly: o.ReduceOnly,
		positionSide: o.PositionSide, id: "SIM-" + uuid.NewString(), status: "NEW",
	}
	s.orders[ord.id] = ord
	s.fillLocked(ord, fillPrice)
	s.mu.Unlock()
	return ord.id, fillPrice, nil
}

func (s *Sim) CancelOrder(ctx context.Context, symbol model.Symbol, orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok || o.status != "NEW" {
		// Already gone: treated as success, the same -2011 swallowing
		// the live adapter applies. No status is reported and no cancel
		// event is emitted.
		return nil
	}
	o.status = "CANCELED"
	s.events <- Event{Kind: EventOrderCancelled, Symbol: symbol, OrderID: orderID, Side: o.side, OrderType: o.orderType, Status: "CANCELED"}
	return nil
}

func (s *Sim) CancelAllOpenOrders(ctx context.Context, symbol model.Symbol) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.orders {
		if o.symbol == symbol && o.status == "NEW" {
			o.status = "CANCELED"
			s.events <- Event{Kind: EventOrderCancelled, Symbol: symbol, OrderID: o.id, Side: o.side, OrderType: o.orderType, Status: "CANCELED"}
		}
	}
	return nil
}

func (s *Sim) ClosePositionMarket(ctx context.Context, symbol model.Symbol, side model.Side, qty decimal.Decimal) (string, decimal.Decimal, error) {
	positionSide := model.PositionLong
	if side == model.SideBuy {
		positionSide = model.PositionShort
	}
	return s.PlaceMarketOrder(ctx, model.Order{
		Symbol: symbol, Side: side, Type: model.OrderTypeMarket,
		Quantity: qty, ReduceOnly: true, PositionSide: positionSide,
	})
}

// Logger returns a zerolog sub-logger tagged for the simulator, used by
// callers that want sim diagnostics folded into the adapter's log stream.
func (s *Sim) Logger() zerolog.Logger {
	return log.With().Str("component", "sim-adapter").Logger()
}

var _ Adapter = (*Sim)(nil)
