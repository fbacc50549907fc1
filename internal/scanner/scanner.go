// Package scanner implements the candidate-ranking function the
// Supervisor drives each scan tick. It is a pure function of its inputs —
// no owned state — restricting the Adapter's 24h ticker feed to tradable
// perpetual contracts and filtering by liquidity and movement (when
// filters are enabled), then scoring the survivors best-first.
package scanner

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/predatortrading/perp-engine/internal/exchange"
	"github.com/predatortrading/perp-engine/internal/model"
)

// Filters carries every threshold the scan pipeline gates on.
type Filters struct {
	Enabled bool

	MinChange       decimal.Decimal
	MaxChange       decimal.Decimal
	VolumeRatio     decimal.Decimal
	MinRangePercent decimal.Decimal
	DepthMin        decimal.Decimal
	DepthMax        decimal.Decimal
	SpreadMin       decimal.Decimal
	SpreadMax       decimal.Decimal
}

type candidate struct {
	symbol model.Symbol
	score  decimal.Decimal
}

// Scan ranks tradable perpetual symbols best-first and truncates to
// maxResults: restrict to USDT-quoted, TRADING, PERPETUAL contracts per
// exchange info, filter by 24h absolute change, 1h/24h volume ratio,
// range, order-book depth, and best-bid/ask spread, then rank by
// |change| + rangePct. The volume-ratio gate is skipped for a ticker
// whose Volume1h or QuoteVolume is zero. When f.Enabled is false none of
// the gates apply and every ticker is ranked.
func Scan(ctx context.Context, adapter exchange.Adapter, f Filters, maxResults int) ([]model.Symbol, error) {
	tickers, err := adapter.Get24hTickers(ctx)
	if err != nil {
		return nil, err
	}

	var info map[model.Symbol]exchange.SymbolFilters
	if f.Enabled {
		info, err = adapter.GetExchangeInfo(ctx)
		if err != nil {
			return nil, err
		}
	}

	candidates := make([]candidate, 0, len(tickers))
	for _, t := range tickers {
		if f.Enabled && !passesFilters(ctx, adapter, t, info[t.Symbol], f) {
			continue
		}
		rangePct := rangePercent(t)
		score := t.PriceChangePercent.Abs().Add(rangePct)
		candidates = append(candidates, candidate{symbol: t.Symbol, score: score})
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].score.GreaterThan(candidates[j].score)
	})

	if maxResults > 0 && len(candidates) > maxResults {
		candidates = candidates[:maxResults]
	}

	out := make([]model.Symbol, len(candidates))
	for i, c := range candidates {
		out[i] = c.symbol
	}
	return out, nil
}

func rangePercent(t exchange.Ticker24h) decimal.Decimal {
	if t.Low.IsZero() {
		return decimal.Zero
	}
	return t.High.Sub(t.Low).Div(t.Low).Mul(decimal.NewFromInt(100))
}

// passesFilters applies the contract-eligibility gate followed by the
// change, volume-ratio, range, depth, and spread gates. Depth/spread
// reads are best-effort: a read failure excludes the symbol rather than
// risking a bad launch on stale data.
func passesFilters(ctx context.Context, adapter exchange.Adapter, t exchange.Ticker24h, sym exchange.SymbolFilters, f Filters) bool {
	if !sym.TradablePerpetual() {
		return false
	}

	change := t.PriceChangePercent.Abs()
	if change.LessThan(f.MinChange) || change.GreaterThan(f.MaxChange) {
		return false
	}

	if !t.Volume1h.IsZero() && !t.QuoteVolume.IsZero() {
		ratio := t.Volume1h.Mul(decimal.NewFromInt(24)).Div(t.QuoteVolume)
		if ratio.LessThan(f.VolumeRatio) {
			return false
		}
	}

	if rangePercent(t).LessThan(f.MinRangePercent) {
		return false
	}

	depth, err := adapter.GetDepth(ctx, t.Symbol, 10)
	if err != nil {
		return false
	}
	notional := depthNotional(depth)
	if notional.LessThan(f.DepthMin) || notional.GreaterThan(f.DepthMax) {
		return false
	}

	spread := bestSpreadPercent(depth)
	if spread.LessThan(f.SpreadMin) || spread.GreaterThan(f.SpreadMax) {
		return false
	}

	return true
}

func depthNotional(d exchange.Depth) decimal.Decimal {
	total := decimal.Zero
	for _, b := range d.Bids {
		total = total.Add(b.Price.Mul(b.Qty))
	}
	for _, a := range d.Asks {
		total = total.Add(a.Price.Mul(a.Qty))
	}
	return total
}

func bestSpreadPercent(d exchange.Depth) decimal.Decimal {
	if len(d.Bids) == 0 || len(d.Asks) == 0 {
		return decimal.Zero
	}
	bid := d.Bids[0].Price
	ask := d.Asks[0].Price
	if bid.IsZero() {
		return decimal.Zero
	}
	return ask.Sub(bid).Div(bid).Mul(decimal.NewFromInt(100))
}
