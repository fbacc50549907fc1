package scanner

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/predatortrading/perp-engine/internal/exchange"
	"github.com/predatortrading/perp-engine/internal/model"
)

func dd(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

// fakeScanAdapter implements exchange.Adapter with canned ticker, depth,
// and exchange-info data; every other method is an unused stub since
// Scan only reads those three.
type fakeScanAdapter struct {
	tickers []exchange.Ticker24h
	depth   map[model.Symbol]exchange.Depth
	info    map[model.Symbol]exchange.SymbolFilters
}

// perpInfo builds eligible exchange-info rows for the given symbols.
func perpInfo(symbols ...model.Symbol) map[model.Symbol]exchange.SymbolFilters {
	out := make(map[model.Symbol]exchange.SymbolFilters, len(symbols))
	for _, s := range symbols {
		out[s] = exchange.SymbolFilters{
			QuoteAsset:   exchange.QuoteAssetUSDT,
			Status:       exchange.SymbolStatusTrading,
			ContractType: exchange.ContractTypePerpetual,
		}
	}
	return out
}

func (f *fakeScanAdapter) Subscribe() <-chan exchange.Event { return nil }
func (f *fakeScanAdapter) StartMarketStreams(ctx context.Context, symbols []model.Symbol) error {
	return nil
}
func (f *fakeScanAdapter) UpdateSymbols(ctx context.Context, symbols []model.Symbol) error { return nil }
func (f *fakeScanAdapter) StartUserDataStream(ctx context.Context) error                   { return nil }
func (f *fakeScanAdapter) GetMarkPrice(ctx context.Context, symbol model.Symbol) (decimal.Decimal, error) {
	return decimal.Zero, nil
}
func (f *fakeScanAdapter) GetTickerPrice(ctx context.Context, symbol model.Symbol) (decimal.Decimal, error) {
	return decimal.Zero, nil
}
func (f *fakeScanAdapter) Get24hTickers(ctx context.Context) ([]exchange.Ticker24h, error) {
	return f.tickers, nil
}
func (f *fakeScanAdapter) GetExchangeInfo(ctx context.Context) (map[model.Symbol]exchange.SymbolFilters, error) {
	return f.info, nil
}
func (f *fakeScanAdapter) GetKlines(ctx context.Context, symbol model.Symbol, interval string, limit int) ([]exchange.Kline, error) {
	return nil, nil
}
func (f *fakeScanAdapter) GetDepth(ctx context.Context, symbol model.Symbol, limit int) (exchange.Depth, error) {
	d, ok := f.depth[symbol]
	if !ok {
		return exchange.Depth{}, &exchange.ExchangeError{Code: -1, Message: "no depth"}
	}
	return d, nil
}
func (f *fakeScanAdapter) GetBalance(ctx context.Context) (decimal.Decimal, error) { return decimal.Zero, nil }
func (f *fakeScanAdapter) GetPosition(ctx context.Context, symbol model.Symbol) (decimal.Decimal, error) {
	return decimal.Zero, nil
}
func (f *fakeScanAdapter) GetOrderTrades(ctx context.Context, symbol model.Symbol, orderID string) ([]exchange.AccountTrade, error) {
	return nil, nil
}
func (f *fakeScanAdapter) SetLeverage(ctx context.Context, symbol model.Symbol, leverage int) error {
	return nil
}
func (f *fakeScanAdapter) PlaceLimitOrder(ctx context.Context, o model.Order) (string, error) {
	return "", nil
}
func (f *fakeScanAdapter) PlaceStopLimitOrder(ctx context.Context, o model.Order) (string, error) {
	return "", nil
}
func (f *fakeScanAdapter) PlaceMarketOrder(ctx context.Context, o model.Order) (string, decimal.Decimal, error) {
	return "", decimal.Zero, nil
}
func (f *fakeScanAdapter) CancelOrder(ctx context.Context, symbol model.Symbol, orderID string) error {
	return nil
}
func (f *fakeScanAdapter) CancelAllOpenOrders(ctx context.Context, symbol model.Symbol) error {
	return nil
}
func (f *fakeScanAdapter) ClosePositionMarket(ctx context.Context, symbol model.Symbol, side model.Side, qty decimal.Decimal) (string, decimal.Decimal, error) {
	return "", decimal.Zero, nil
}

var _ exchange.Adapter = (*fakeScanAdapter)(nil)

func tightDepth(mid string) exchange.Depth {
	bid := dd(mid).Sub(dd("0.01"))
	ask := dd(mid).Add(dd("0.01"))
	return exchange.Depth{
		Bids: []exchange.DepthLevel{{Price: bid, Qty: dd("1000")}},
		Asks: []exchange.DepthLevel{{Price: ask, Qty: dd("1000")}},
	}
}

func TestScanRanksByAbsChangePlusRange(t *testing.T) {
	adapter := &fakeScanAdapter{
		tickers: []exchange.Ticker24h{
			{Symbol: "AAAUSDT", PriceChangePercent: dd("5"), High: dd("110"), Low: dd("100"), QuoteVolume: dd("1000000"), Volume1h: dd("100000")},
			{Symbol: "BBBUSDT", PriceChangePercent: dd("-8"), High: dd("115"), Low: dd("95"), QuoteVolume: dd("1000000"), Volume1h: dd("100000")},
		},
		depth: map[model.Symbol]exchange.Depth{
			"AAAUSDT": tightDepth("105"),
			"BBBUSDT": tightDepth("105"),
		},
	}
	f := Filters{Enabled: false}

	out, err := Scan(context.Background(), adapter, f, 0)
	require.NoError(t, err)
	require.Len(t, out, 2)
	// BBB: |−8| + (115−95)/95*100 ≈ 8 + 21.05 = 29.05
	// AAA: |5| + (110−100)/100*100 = 5 + 10 = 15
	assert.Equal(t, model.Symbol("BBBUSDT"), out[0])
	assert.Equal(t, model.Symbol("AAAUSDT"), out[1])
}

func TestScanTruncatesToMaxResults(t *testing.T) {
	adapter := &fakeScanAdapter{
		tickers: []exchange.Ticker24h{
			{Symbol: "AAAUSDT", PriceChangePercent: dd("5"), High: dd("110"), Low: dd("100")},
			{Symbol: "BBBUSDT", PriceChangePercent: dd("8"), High: dd("115"), Low: dd("95")},
			{Symbol: "CCCUSDT", PriceChangePercent: dd("2"), High: dd("101"), Low: dd("100")},
		},
		depth: map[model.Symbol]exchange.Depth{},
	}
	out, err := Scan(context.Background(), adapter, Filters{Enabled: false}, 2)
	require.NoError(t, err)
	assert.Len(t, out, 2)
}

func TestScanFiltersByChangeBand(t *testing.T) {
	adapter := &fakeScanAdapter{
		tickers: []exchange.Ticker24h{
			{Symbol: "TOOQUIET", PriceChangePercent: dd("0.1"), High: dd("100.2"), Low: dd("100")},
			{Symbol: "INBAND", PriceChangePercent: dd("5"), High: dd("110"), Low: dd("100")},
		},
		depth: map[model.Symbol]exchange.Depth{
			"INBAND": tightDepth("105"),
		},
		info: perpInfo("TOOQUIET", "INBAND"),
	}
	f := Filters{
		Enabled: true, MinChange: dd("1"), MaxChange: dd("50"),
		MinRangePercent: dd("0"), DepthMin: dd("0"), DepthMax: dd("1000000000"),
		SpreadMin: dd("0"), SpreadMax: dd("10"),
	}
	out, err := Scan(context.Background(), adapter, f, 0)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, model.Symbol("INBAND"), out[0])
}

// Only USDT-quoted, TRADING, PERPETUAL contracts are eligible; a wrong
// quote asset, a halted symbol, a dated contract, or a symbol missing
// from exchange info entirely must all be excluded before any other gate.
func TestScanExcludesNonTradablePerpetuals(t *testing.T) {
	mover := func(sym model.Symbol) exchange.Ticker24h {
		return exchange.Ticker24h{Symbol: sym, PriceChangePercent: dd("5"), High: dd("110"), Low: dd("100")}
	}
	adapter := &fakeScanAdapter{
		tickers: []exchange.Ticker24h{
			mover("AAABUSD"), mover("BBBUSDT"), mover("CCCUSDT_250926"), mover("DDDUSDT"), mover("EEEUSDT"),
		},
		info: map[model.Symbol]exchange.SymbolFilters{
			"AAABUSD":        {QuoteAsset: "BUSD", Status: exchange.SymbolStatusTrading, ContractType: exchange.ContractTypePerpetual},
			"BBBUSDT":        {QuoteAsset: exchange.QuoteAssetUSDT, Status: "BREAK", ContractType: exchange.ContractTypePerpetual},
			"CCCUSDT_250926": {QuoteAsset: exchange.QuoteAssetUSDT, Status: exchange.SymbolStatusTrading, ContractType: "CURRENT_QUARTER"},
			"DDDUSDT":        {QuoteAsset: exchange.QuoteAssetUSDT, Status: exchange.SymbolStatusTrading, ContractType: exchange.ContractTypePerpetual},
		},
		depth: map[model.Symbol]exchange.Depth{
			"DDDUSDT": tightDepth("105"),
		},
	}
	f := Filters{
		Enabled: true, MinChange: dd("0"), MaxChange: dd("100"),
		MinRangePercent: dd("0"), DepthMin: dd("0"), DepthMax: dd("1000000000"),
		SpreadMin: dd("0"), SpreadMax: dd("10"),
	}
	out, err := Scan(context.Background(), adapter, f, 0)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, model.Symbol("DDDUSDT"), out[0])
}

func TestScanExcludesSymbolOnDepthReadFailure(t *testing.T) {
	adapter := &fakeScanAdapter{
		tickers: []exchange.Ticker24h{
			{Symbol: "NODEPTH", PriceChangePercent: dd("5"), High: dd("110"), Low: dd("100")},
		},
		depth: map[model.Symbol]exchange.Depth{},
		info:  perpInfo("NODEPTH"),
	}
	f := Filters{Enabled: true, MinChange: dd("0"), MaxChange: dd("100"), DepthMax: dd("1000000000")}
	out, err := Scan(context.Background(), adapter, f, 0)
	require.NoError(t, err)
	assert.Empty(t, out)
}
