package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/predatortrading/perp-engine/internal/model"
)

const (
	marketWatchdogInterval = 5 * time.Second
	marketSilenceLimit     = 10 * time.Second
	reconnectDelay         = 3 * time.Second
	listenKeyKeepalive     = 25 * time.Minute
	exchangeInfoTTL        = 10 * time.Minute
	marketStreamBase       = "wss://fstream.binance.com/stream?streams="
	userStreamBase         = "wss://fstream.binance.com/ws/"
)

// Live drives Binance USDT-M futures: REST via go-binance/v2/futures.Client,
// market and user-data streams via a direct gorilla/websocket dial against
// the combined-stream and ws/<listenKey> URL forms. It owns reconnection:
// a fixed 3s retry delay, no exponential back-off, and a 10s-silence
// watchdog on the market stream.
type Live struct {
	client *futures.Client
	log    zerolog.Logger

	events chan Event

	mu            sync.Mutex
	symbols       map[model.Symbol]bool
	filters       map[model.Symbol]SymbolFilters
	filtersLoaded time.Time
	algoIDMap     map[string]string // numeric orderId (as string) -> clientAlgoId, for conditional orders

	marketConn    *websocket.Conn
	lastMarketMsg time.Time
	marketGen     int64 // reconnect debounce token

	userConn  *websocket.Conn
	listenKey string
	userGen   int64
}

// NewLive constructs a Live adapter. Set useTestnet for Binance's futures
// testnet URLs.
func NewLive(apiKey, apiSecret string, useTestnet bool) *Live {
	if useTestnet {
		futures.UseTestnet = true
	}
	return &Live{
		client:    futures.NewClient(apiKey, apiSecret),
		log:       log.With().Str("component", "live-adapter").Logger(),
		events:    make(chan Event, 4096),
		symbols:   make(map[model.Symbol]bool),
		filters:   make(map[model.Symbol]SymbolFilters),
		algoIDMap: make(map[string]string),
	}
}

func (l *Live) Subscribe() <-chan Event { return l.events }

// ---------------------------------------------------------------------
// Market data streams
// ---------------------------------------------------------------------

type combinedMsg struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

type markPriceMsg struct {
	Symbol    string `json:"s"`
	MarkPrice string `json:"p"`
}

type bookTickerMsg struct {
	Symbol string `json:"s"`
	Bid    string `json:"b"`
	Ask    string `json:"a"`
}

func streamsFor(symbols []model.Symbol) []string {
	streams := make([]string, 0, len(symbols)*2)
	for _, s := range symbols {
		lower := strings.ToLower(string(s))
		streams = append(streams, lower+"@markPrice@1s", lower+"@bookTicker")
	}
	return streams
}

// StartMarketStreams establishes the combined market websocket for the
// given symbol set.
func (l *Live) StartMarketStreams(ctx context.Context, symbols []model.Symbol) error {
	l.mu.Lock()
	l.symbols = make(map[model.Symbol]bool, len(symbols))
	for _, s := range symbols {
		l.symbols[s] = true
	}
	l.mu.Unlock()

	go l.runMarketStream(ctx)
	go l.runMarketWatchdog(ctx)
	return nil
}

// UpdateSymbols tears down and reconnects the combined market websocket
// only if membership actually changed.
func (l *Live) UpdateSymbols(ctx context.Context, symbols []model.Symbol) error {
	next := make(map[model.Symbol]bool, len(symbols))
	for _, s := range symbols {
		next[s] = true
	}

	l.mu.Lock()
	changed := len(next) != len(l.symbols)
	if !changed {
		for s := range next {
			if !l.symbols[s] {
				changed = true
				break
			}
		}
	}
	l.symbols = next
	conn := l.marketConn
	l.mu.Unlock()

	if !changed {
		return nil
	}
	if conn != nil {
		conn.Close()
	}
	return nil
}

func (l *Live) currentSymbols() []model.Symbol {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]model.Symbol, 0, len(l.symbols))
	for s := range l.symbols {
		out = append(out, s)
	}
	return out
}

func (l *Live) runMarketStream(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		symbols := l.currentSymbols()
		if len(symbols) == 0 {
			time.Sleep(reconnectDelay)
			continue
		}

		url := marketStreamBase + strings.Join(streamsFor(symbols), "/")
		conn, _, err := websocket.DefaultDialer.Dial(url, nil)
		if err != nil {
			l.log.Warn().Err(err).Msg("market stream dial failed")
			l.scheduleMarketReconnect(ctx)
			return
		}

		l.mu.Lock()
		l.marketConn = conn
		l.lastMarketMsg = time.Now()
		l.mu.Unlock()
		l.log.Info().Int("symbols", len(symbols)).Msg("market stream connected")

		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				l.log.Warn().Err(err).Msg("market stream read error")
				conn.Close()
				l.scheduleMarketReconnect(ctx)
				return
			}

			l.mu.Lock()
			l.lastMarketMsg = time.Now()
			l.mu.Unlock()

			var msg combinedMsg
			if err := json.Unmarshal(raw, &msg); err != nil {
				continue
			}

			switch {
			case strings.Contains(msg.Stream, "@markPrice"):
				var m markPriceMsg
				if json.Unmarshal(msg.Data, &m) == nil {
					price, _ := decimal.NewFromString(m.MarkPrice)
					l.events <- Event{Kind: EventMarkPrice, Symbol: model.Symbol(m.Symbol), MarkPrice: price}
				}
			case strings.Contains(msg.Stream, "@bookTicker"):
				var b bookTickerMsg
				if json.Unmarshal(msg.Data, &b) == nil {
					bid, _ := decimal.NewFromString(b.Bid)
					ask, _ := decimal.NewFromString(b.Ask)
					l.events <- Event{Kind: EventBookTicker, Symbol: model.Symbol(b.Symbol), BestBid: bid, BestAsk: ask}
				}
			}
		}
	}
}

// runMarketWatchdog terminates the market socket if no message has
// arrived for marketSilenceLimit; the read loop above notices the close
// and reconnects after reconnectDelay.
func (l *Live) runMarketWatchdog(ctx context.Context) {
	ticker := time.NewTicker(marketWatchdogInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.mu.Lock()
			stale := !l.lastMarketMsg.IsZero() && time.Since(l.lastMarketMsg) > marketSilenceLimit
			conn := l.marketConn
			l.mu.Unlock()
			if stale && conn != nil {
				l.log.Warn().Msg("market stream silent, forcing reconnect")
				conn.Close()
			}
		}
	}
}

// scheduleMarketReconnect debounces concurrent reconnect attempts behind
// a single generation token.
func (l *Live) scheduleMarketReconnect(ctx context.Context) {
	gen := atomic.AddInt64(&l.marketGen, 1)
	time.AfterFunc(reconnectDelay, func() {
		if atomic.LoadInt64(&l.marketGen) != gen {
			return // superseded by a newer reconnect request
		}
		go l.runMarketStream(ctx)
	})
}

// ---------------------------------------------------------------------
// User data stream
// ---------------------------------------------------------------------

type userDataEnvelope struct {
	EventType string          `json:"e"`
	Order     json.RawMessage `json:"o"`
}

type orderTradeUpdate struct {
	Symbol        string `json:"s"`
	ClientOrderID string `json:"c"`
	OrderID       int64  `json:"i"`
	Side          string `json:"S"`
	OrderType     string `json:"o"`
	Status        string `json:"X"`
	ExecutionType string `json:"x"`
	LastFillPrice string `json:"L"`
	LastFillQty   string `json:"l"`
	PositionSide  string `json:"ps"`
}

// StartUserDataStream obtains a listen key, dials ws/<listenKey>, and
// keeps the key alive on a 25-minute cadence, inside Binance's
// 30-minute expiry.
func (l *Live) StartUserDataStream(ctx context.Context) error {
	key, err := l.client.NewStartUserStreamService().Do(ctx)
	if err != nil {
		return asExchangeError(err)
	}
	l.mu.Lock()
	l.listenKey = key
	l.mu.Unlock()

	go l.runUserStream(ctx)
	go l.runListenKeyKeepalive(ctx)
	return nil
}

func (l *Live) runListenKeyKeepalive(ctx context.Context) {
	ticker := time.NewTicker(listenKeyKeepalive)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.mu.Lock()
			key := l.listenKey
			l.mu.Unlock()
			if key == "" {
				continue
			}
			if err := l.client.NewKeepaliveUserStreamService().ListenKey(key).Do(ctx); err != nil {
				l.log.Warn().Err(err).Msg("listen key keepalive failed")
			}
		}
	}
}

func (l *Live) runUserStream(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		l.mu.Lock()
		key := l.listenKey
		l.mu.Unlock()
		if key == "" {
			time.Sleep(reconnectDelay)
			continue
		}

		conn, _, err := websocket.DefaultDialer.Dial(userStreamBase+key, nil)
		if err != nil {
			l.log.Warn().Err(err).Msg("user stream dial failed")
			l.scheduleUserReconnect(ctx)
			return
		}

		l.mu.Lock()
		l.userConn = conn
		l.mu.Unlock()
		l.log.Info().Msg("user data stream connected")

		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				conn.Close()
				l.scheduleUserReconnect(ctx)
				return
			}

			var env userDataEnvelope
			if json.Unmarshal(raw, &env) != nil {
				continue
			}

			switch env.EventType {
			case "ORDER_TRADE_UPDATE":
				var o orderTradeUpdate
				if json.Unmarshal(env.Order, &o) != nil {
					continue
				}
				l.emitOrderEvent(o)
			case "listenKeyExpired":
				conn.Close()
				l.mu.Lock()
				l.listenKey = ""
				l.mu.Unlock()
				l.reissueListenKey(ctx)
				l.scheduleUserReconnect(ctx)
				return
			}
		}
	}
}

func (l *Live) reissueListenKey(ctx context.Context) {
	key, err := l.client.NewStartUserStreamService().Do(ctx)
	if err != nil {
		l.log.Error().Err(err).Msg("failed to reissue listen key")
		return
	}
	l.mu.Lock()
	l.listenKey = key
	l.mu.Unlock()
}

func (l *Live) scheduleUserReconnect(ctx context.Context) {
	gen := atomic.AddInt64(&l.userGen, 1)
	time.AfterFunc(reconnectDelay, func() {
		if atomic.LoadInt64(&l.userGen) != gen {
			return
		}
		go l.runUserStream(ctx)
	})
}

// normalizeOrderID resolves the single, bot-facing order id from the
// three id spaces a user-data event may carry: a BOT-prefixed client id
// wins, then the mapped client id for a conditional order's numeric id,
// else the numeric id itself.
func (l *Live) normalizeOrderID(numericID int64, clientOrderID string) string {
	if strings.HasPrefix(clientOrderID, "BOT-") {
		return clientOrderID
	}
	numStr := strconv.FormatInt(numericID, 10)
	l.mu.Lock()
	mapped, ok := l.algoIDMap[numStr]
	l.mu.Unlock()
	if ok {
		return mapped
	}
	return numStr
}

func (l *Live) emitOrderEvent(o orderTradeUpdate) {
	orderID := l.normalizeOrderID(o.OrderID, o.ClientOrderID)
	price, _ := decimal.NewFromString(o.LastFillPrice)
	qty, _ := decimal.NewFromString(o.LastFillQty)

	switch o.ExecutionType {
	case "TRADE":
		if o.Status == "FILLED" || o.Status == "PARTIALLY_FILLED" {
			l.events <- Event{
				Kind: EventOrderFilled, Symbol: model.Symbol(o.Symbol),
				OrderID: orderID, NumericID: o.OrderID, ClientOrderID: o.ClientOrderID,
				Price: price, Quantity: qty, Side: model.Side(o.Side),
			}
		}
	case "CANCELED", "EXPIRED", "REJECTED":
		l.events <- Event{
			Kind: EventOrderCancelled, Symbol: model.Symbol(o.Symbol),
			OrderID: orderID, NumericID: o.OrderID, ClientOrderID: o.ClientOrderID,
			Side: model.Side(o.Side), OrderType: model.OrderType(o.OrderType), Status: o.Status,
		}
	}
}

// ---------------------------------------------------------------------
// REST reads
// ---------------------------------------------------------------------

func asExchangeError(err error) error {
	if err == nil {
		return nil
	}
	if apiErr, ok := err.(*common.APIError); ok {
		return &ExchangeError{Code: int(apiErr.Code), Message: apiErr.Message}
	}
	return &ExchangeError{Code: 0, Message: err.Error()}
}

func (l *Live) GetMarkPrice(ctx context.Context, symbol model.Symbol) (decimal.Decimal, error) {
	res, err := l.client.NewPremiumIndexService().Symbol(string(symbol)).Do(ctx)
	if err != nil {
		return decimal.Zero, asExchangeError(err)
	}
	if len(res) == 0 {
		return decimal.Zero, &ExchangeError{Code: -1, Message: "empty premium index response"}
	}
	return decimal.NewFromString(res[0].MarkPrice)
}

func (l *Live) GetTickerPrice(ctx context.Context, symbol model.Symbol) (decimal.Decimal, error) {
	res, err := l.client.NewListPricesService().Symbol(string(symbol)).Do(ctx)
	if err != nil {
		return decimal.Zero, asExchangeError(err)
	}
	if len(res) == 0 {
		return decimal.Zero, &ExchangeError{Code: -1, Message: "empty ticker price response"}
	}
	return decimal.NewFromString(res[0].Price)
}

func (l *Live) Get24hTickers(ctx context.Context) ([]Ticker24h, error) {
	res, err := l.client.NewListPriceChangeStatsService().Do(ctx)
	if err != nil {
		return nil, asExchangeError(err)
	}
	out := make([]Ticker24h, 0, len(res))
	for _, r := range res {
		changePct, _ := decimal.NewFromString(r.PriceChangePercent)
		quoteVol, _ := decimal.NewFromString(r.QuoteVolume)
		high, _ := decimal.NewFromString(r.HighPrice)
		low, _ := decimal.NewFromString(r.LowPrice)
		out = append(out, Ticker24h{
			Symbol: model.Symbol(r.Symbol), PriceChangePercent: changePct,
			QuoteVolume: quoteVol, High: high, Low: low,
		})
	}
	return out, nil
}

func (l *Live) GetExchangeInfo(ctx context.Context) (map[model.Symbol]SymbolFilters, error) {
	l.mu.Lock()
	if time.Since(l.filtersLoaded) < exchangeInfoTTL && len(l.filters) > 0 {
		out := make(map[model.Symbol]SymbolFilters, len(l.filters))
		for k, v := range l.filters {
			out[k] = v
		}
		l.mu.Unlock()
		return out, nil
	}
	l.mu.Unlock()

	info, err := l.client.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return nil, asExchangeError(err)
	}

	fresh := make(map[model.Symbol]SymbolFilters, len(info.Symbols))
	for _, s := range info.Symbols {
		f := SymbolFilters{
			QuoteAsset:   s.QuoteAsset,
			Status:       string(s.Status),
			ContractType: string(s.ContractType),
		}
		for _, filt := range s.Filters {
			switch filt["filterType"] {
			case "PRICE_FILTER":
				if ts, ok := filt["tickSize"].(string); ok {
					f.TickSize, _ = decimal.NewFromString(ts)
				}
			case "LOT_SIZE":
				if ss, ok := filt["stepSize"].(string); ok {
					f.StepSize, _ = decimal.NewFromString(ss)
				}
			}
		}
		fresh[model.Symbol(s.Symbol)] = f
	}

	l.mu.Lock()
	l.filters = fresh
	l.filtersLoaded = time.Now()
	l.mu.Unlock()
	return fresh, nil
}

func (l *Live) filtersFor(ctx context.Context, symbol model.Symbol) SymbolFilters {
	all, err := l.GetExchangeInfo(ctx)
	if err != nil {
		return SymbolFilters{}
	}
	return all[symbol]
}

func (l *Live) GetKlines(ctx context.Context, symbol model.Symbol, interval string, limit int) ([]Kline, error) {
	res, err := l.client.NewKlinesService().Symbol(string(symbol)).Interval(interval).Limit(limit).Do(ctx)
	if err != nil {
		return nil, asExchangeError(err)
	}
	out := make([]Kline, 0, len(res))
	for _, k := range res {
		open, _ := decimal.NewFromString(k.Open)
		high, _ := decimal.NewFromString(k.High)
		low, _ := decimal.NewFromString(k.Low)
		close_, _ := decimal.NewFromString(k.Close)
		vol, _ := decimal.NewFromString(k.Volume)
		out = append(out, Kline{
			OpenTime: time.UnixMilli(k.OpenTime),
			Open:     open, High: high, Low: low, Close: close_, Volume: vol,
		})
	}
	return out, nil
}

func (l *Live) GetDepth(ctx context.Context, symbol model.Symbol, limit int) (Depth, error) {
	res, err := l.client.NewDepthService().Symbol(string(symbol)).Limit(limit).Do(ctx)
	if err != nil {
		return Depth{}, asExchangeError(err)
	}
	d := Depth{}
	for _, b := range res.Bids {
		price, _ := decimal.NewFromString(b.Price)
		qty, _ := decimal.NewFromString(b.Quantity)
		d.Bids = append(d.Bids, DepthLevel{Price: price, Qty: qty})
	}
	for _, a := range res.Asks {
		price, _ := decimal.NewFromString(a.Price)
		qty, _ := decimal.NewFromString(a.Quantity)
		d.Asks = append(d.Asks, DepthLevel{Price: price, Qty: qty})
	}
	return d, nil
}

func (l *Live) GetBalance(ctx context.Context) (decimal.Decimal, error) {
	res, err := l.client.NewGetBalanceService().Do(ctx)
	if err != nil {
		return decimal.Zero, asExchangeError(err)
	}
	for _, b := range res {
		if b.Asset == "USDT" {
			return decimal.NewFromString(b.AvailableBalance)
		}
	}
	return decimal.Zero, &ExchangeError{Code: -1, Message: "USDT balance not found"}
}

func (l *Live) GetPosition(ctx context.Context, symbol model.Symbol) (decimal.Decimal, error) {
	res, err := l.client.NewGetPositionRiskService().Symbol(string(symbol)).Do(ctx)
	if err != nil {
		return decimal.Zero, asExchangeError(err)
	}
	total := decimal.Zero
	for _, p := range res {
		amt, _ := decimal.NewFromString(p.PositionAmt)
		total = total.Add(amt)
	}
	return total, nil
}

func (l *Live) GetOrderTrades(ctx context.Context, symbol model.Symbol, orderID string) ([]AccountTrade, error) {
	numID, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return nil, nil // BOT-prefixed client ids can't be reconciled via numeric lookup; caller falls back to estimate
	}
	res, err := l.client.NewListAccountTradeService().Symbol(string(symbol)).OrderID(numID).Do(ctx)
	if err != nil {
		return nil, asExchangeError(err)
	}
	out := make([]AccountTrade, 0, len(res))
	for _, t := range res {
		price, _ := decimal.NewFromString(t.Price)
		qty, _ := decimal.NewFromString(t.Quantity)
		commission, _ := decimal.NewFromString(t.Commission)
		pnl, _ := decimal.NewFromString(t.RealizedPnl)
		out = append(out, AccountTrade{
			OrderID: strconv.FormatInt(t.OrderID, 10), Price: price,
			Quantity: qty, Commission: commission, RealizedPnl: pnl,
		})
	}
	return out, nil
}

func (l *Live) SetLeverage(ctx context.Context, symbol model.Symbol, leverage int) error {
	_, err := l.client.NewChangeLeverageService().Symbol(string(symbol)).Leverage(leverage).Do(ctx)
	return asExchangeError(err)
}

// ---------------------------------------------------------------------
// REST writes
// ---------------------------------------------------------------------

func newClientAlgoID() string {
	return fmt.Sprintf("BOT-%d-%s", time.Now().UnixMilli(), uuid.NewString()[:8])
}

func futuresSide(s model.Side) futures.SideType {
	if s == model.SideSell {
		return futures.SideTypeSell
	}
	return futures.SideTypeBuy
}

func futuresPositionSide(p model.PositionSide) futures.PositionSideType {
	if p == model.PositionShort {
		return futures.PositionSideTypeShort
	}
	return futures.PositionSideTypeLong
}

func (l *Live) PlaceLimitOrder(ctx context.Context, o model.Order) (string, error) {
	f := l.filtersFor(ctx, o.Symbol)
	price := FloorPrice(o.Price, f)
	qty := FloorQuantity(o.Quantity, f)

	res, err := l.client.NewCreateOrderService().
		Symbol(string(o.Symbol)).
		Side(futuresSide(o.Side)).
		PositionSide(futuresPositionSide(o.PositionSide)).
		Type(futures.OrderTypeLimit).
		TimeInForce(futures.TimeInForceTypeGTC).
		Price(price.String()).
		Quantity(qty.String()).
		ReduceOnly(o.ReduceOnly).
		Do(ctx)
	if err != nil {
		return "", asExchangeError(err)
	}
	return strconv.FormatInt(res.OrderID, 10), nil
}

// PlaceStopLimitOrder places a conditional order. It pre-assigns a
// BOT-prefixed client id before the RPC goes out, so a fill event racing
// the placement response can still resolve to the right pending exit.
func (l *Live) PlaceStopLimitOrder(ctx context.Context, o model.Order) (string, error) {
	f := l.filtersFor(ctx, o.Symbol)
	price := FloorPrice(o.Price, f)
	stopPrice := FloorPrice(o.StopPrice, f)
	qty := FloorQuantity(o.Quantity, f)
	clientID := newClientAlgoID()

	res, err := l.client.NewCreateOrderService().
		Symbol(string(o.Symbol)).
		Side(futuresSide(o.Side)).
		PositionSide(futuresPositionSide(o.PositionSide)).
		Type(futures.OrderType("STOP")).
		TimeInForce(futures.TimeInForceTypeGTC).
		Price(price.String()).
		StopPrice(stopPrice.String()).
		Quantity(qty.String()).
		ReduceOnly(o.ReduceOnly).
		WorkingType(futures.WorkingTypeMarkPrice).
		NewClientOrderID(clientID).
		Do(ctx)
	if err != nil {
		return "", asExchangeError(err)
	}

	l.mu.Lock()
	l.algoIDMap[strconv.FormatInt(res.OrderID, 10)] = clientID
	l.mu.Unlock()
	return clientID, nil
}

func (l *Live) PlaceMarketOrder(ctx context.Context, o model.Order) (string, decimal.Decimal, error) {
	f := l.filtersFor(ctx, o.Symbol)
	qty := FloorQuantity(o.Quantity, f)

	res, err := l.client.NewCreateOrderService().
		Symbol(string(o.Symbol)).
		Side(futuresSide(o.Side)).
		PositionSide(futuresPositionSide(o.PositionSide)).
		Type(futures.OrderTypeMarket).
		Quantity(qty.String()).
		ReduceOnly(o.ReduceOnly).
		Do(ctx)
	if err != nil {
		return "", decimal.Zero, asExchangeError(err)
	}

	avgPrice, _ := decimal.NewFromString(res.AvgPrice)
	if avgPrice.IsZero() {
		avgPrice, _ = l.GetMarkPrice(ctx, o.Symbol)
	}
	return strconv.FormatInt(res.OrderID, 10), avgPrice, nil
}

func (l *Live) resolveNumericID(orderID string) (int64, bool) {
	if numID, err := strconv.ParseInt(orderID, 10, 64); err == nil {
		return numID, true
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for numStr, client := range l.algoIDMap {
		if client == orderID {
			numID, _ := strconv.ParseInt(numStr, 10, 64)
			return numID, true
		}
	}
	return 0, false
}

func (l *Live) CancelOrder(ctx context.Context, symbol model.Symbol, orderID string) error {
	numID, ok := l.resolveNumericID(orderID)
	if !ok {
		return &ExchangeError{Code: CodeUnknownOrder, Message: "client order id not resolvable"}
	}
	_, err := l.client.NewCancelOrderService().Symbol(string(symbol)).OrderID(numID).Do(ctx)
	if err != nil {
		ee := asExchangeError(err)
		if IsCode(ee, CodeUnknownOrder) {
			return nil // already gone: treated as success
		}
		return ee
	}
	return nil
}

func (l *Live) CancelAllOpenOrders(ctx context.Context, symbol model.Symbol) error {
	err := l.client.NewCancelAllOpenOrdersService().Symbol(string(symbol)).Do(ctx)
	return asExchangeError(err)
}

func (l *Live) ClosePositionMarket(ctx context.Context, symbol model.Symbol, side model.Side, qty decimal.Decimal) (string, decimal.Decimal, error) {
	positionSide := model.PositionLong
	if side == model.SideBuy {
		positionSide = model.PositionShort
	}
	return l.PlaceMarketOrder(ctx, model.Order{
		Symbol: symbol, Side: side, Type: model.OrderTypeMarket,
		Quantity: qty, ReduceOnly: true, PositionSide: positionSide,
	})
}

var _ Adapter = (*Live)(nil)
