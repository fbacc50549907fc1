// Package ledger tracks account balance, mark-to-market equity, and
// aggregate trade performance. It is the single shared resource mutated
// by both the Supervisor (balance/equity) and every Trader (RecordTrade,
// UpsertTrader, RemoveTrader).
package ledger

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/predatortrading/perp-engine/internal/model"
)

const maxEquitySamples = 500

// EquitySample is one timestamped point on the equity curve.
type EquitySample struct {
	Time   time.Time
	Equity decimal.Decimal
}

// Performance aggregates realized trading results.
type Performance struct {
	TotalTrades int
	Wins        int
	Losses      int
	GrossProfit decimal.Decimal
	GrossLoss   decimal.Decimal
	FeesPaid    decimal.Decimal
	NetProfit   decimal.Decimal
	MaxDrawdown decimal.Decimal

	// Live variants fold in unrealized P&L across currently active traders.
	GrossProfitLive decimal.Decimal
	GrossLossLive   decimal.Decimal
	NetProfitLive   decimal.Decimal
}

// TraderSnapshot is the read-only view of a Trader the dashboard and
// status endpoints consume; Traders push these via upsertTrader.
type TraderSnapshot struct {
	ID            string
	Symbol        model.Symbol
	Strategy      model.StrategyKind
	State         model.TraderState
	UnrealizedPnl decimal.Decimal
	OpenPositions int
}

// TraderSummary is the terminal record left behind when a Trader is removed.
type TraderSummary struct {
	ID          string
	Symbol      model.Symbol
	RealizedPnl decimal.Decimal
	ClosedAt    time.Time
}

// MarketStatus reports the adapter's REST and websocket connectivity, the
// channel through which transient network failures become user-visible.
type MarketStatus struct {
	API string
	WS  string
}

// Status is the point-in-time account snapshot returned by getStatus.
type Status struct {
	Balance      decimal.Decimal
	Equity       decimal.Decimal
	PeakEquity   decimal.Decimal
	DrawdownPct  decimal.Decimal
	PnlToday     decimal.Decimal
	MarketStatus MarketStatus
}

// DashboardUpdate bundles everything a single broadcast tick needs.
type DashboardUpdate struct {
	Status      Status
	Performance Performance
	Traders     []TraderSnapshot
}

// Ledger is the process-wide performance and equity store. All methods
// are safe for concurrent use; GetDashboardUpdate takes a single
// consistent snapshot under one lock acquisition so a reader never
// tears a partial update.
type Ledger struct {
	mu sync.Mutex

	balance      decimal.Decimal
	equity       decimal.Decimal
	peakEquity   decimal.Decimal
	pnlToday     decimal.Decimal
	marketStatus MarketStatus

	perf Performance

	equitySeries []EquitySample
	traders      map[string]TraderSnapshot
	lastSummary  map[string]TraderSummary
}

// New constructs a Ledger seeded with a starting balance.
func New(startingBalance decimal.Decimal) *Ledger {
	return &Ledger{
		balance:     startingBalance,
		equity:      startingBalance,
		peakEquity:  startingBalance,
		traders:     make(map[string]TraderSnapshot),
		lastSummary: make(map[string]TraderSummary),
	}
}

// SetBalance updates the account balance (Supervisor-owned).
func (l *Ledger) SetBalance(v decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balance = v
}

// SetMarketStatus records the adapter's REST and websocket connectivity
// (Supervisor-owned, refreshed on its account-sync tick).
func (l *Ledger) SetMarketStatus(apiOK, wsOK bool) {
	status := func(ok bool) string {
		if ok {
			return "online"
		}
		return "offline"
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.marketStatus = MarketStatus{API: status(apiOK), WS: status(wsOK)}
}

// SetEquity records a new equity reading, appending it to the bounded
// ring buffer and updating peak/drawdown bookkeeping. peakEquity and
// maxDrawdown only ever move up.
func (l *Ledger) SetEquity(v decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.equity = v
	if v.GreaterThan(l.peakEquity) {
		l.peakEquity = v
	}

	l.equitySeries = append(l.equitySeries, EquitySample{Time: time.Now(), Equity: v})
	if len(l.equitySeries) > maxEquitySamples {
		l.equitySeries = l.equitySeries[len(l.equitySeries)-maxEquitySamples:]
	}

	if l.peakEquity.IsPositive() {
		drawdown := l.peakEquity.Sub(v).Div(l.peakEquity).Mul(decimal.NewFromInt(100))
		if drawdown.GreaterThan(l.perf.MaxDrawdown) {
			l.perf.MaxDrawdown = drawdown
		}
	}
}

// RecordTrade folds one closed trade's realized P&L and fees into the
// running performance counters. Only Traders call this.
func (l *Ledger) RecordTrade(pnl, fees decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.perf.TotalTrades++
	if pnl.IsNegative() {
		l.perf.Losses++
		l.perf.GrossLoss = l.perf.GrossLoss.Add(pnl.Abs())
	} else {
		l.perf.Wins++
		l.perf.GrossProfit = l.perf.GrossProfit.Add(pnl)
	}
	l.perf.FeesPaid = l.perf.FeesPaid.Add(fees)
	l.perf.NetProfit = l.perf.GrossProfit.Sub(l.perf.GrossLoss).Sub(l.perf.FeesPaid)
	l.pnlToday = l.pnlToday.Add(pnl).Sub(fees)
}

// UpsertTrader installs or refreshes a Trader's dashboard snapshot.
func (l *Ledger) UpsertTrader(snap TraderSnapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.traders[snap.ID] = snap
}

// RemoveTrader deletes a Trader's snapshot and records its terminal summary.
func (l *Ledger) RemoveTrader(id string, summary TraderSummary) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.traders, id)
	l.lastSummary[id] = summary
}

// GetStatus returns the current account snapshot.
func (l *Ledger) GetStatus() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.statusLocked()
}

func (l *Ledger) statusLocked() Status {
	drawdownPct := decimal.Zero
	if l.peakEquity.IsPositive() {
		drawdownPct = l.peakEquity.Sub(l.equity).Div(l.peakEquity).Mul(decimal.NewFromInt(100))
	}
	return Status{
		Balance:      l.balance,
		Equity:       l.equity,
		PeakEquity:   l.peakEquity,
		DrawdownPct:  drawdownPct,
		PnlToday:     l.pnlToday,
		MarketStatus: l.marketStatus,
	}
}

// GetTraders returns a snapshot slice of all active traders.
func (l *Ledger) GetTraders() []TraderSnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]TraderSnapshot, 0, len(l.traders))
	for _, t := range l.traders {
		out = append(out, t)
	}
	return out
}

// GetPerformance returns the performance block with its live variants
// folded in from the currently active traders' unrealized P&L.
func (l *Ledger) GetPerformance() Performance {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.performanceLocked()
}

func (l *Ledger) performanceLocked() Performance {
	unrealized := decimal.Zero
	for _, t := range l.traders {
		unrealized = unrealized.Add(t.UnrealizedPnl)
	}

	p := l.perf
	p.GrossProfitLive = p.GrossProfit.Add(decimal.Max(decimal.Zero, unrealized))
	p.GrossLossLive = p.GrossLoss.Add(decimal.Max(decimal.Zero, unrealized.Neg()))
	p.NetProfitLive = p.GrossProfitLive.Sub(p.GrossLossLive).Sub(p.FeesPaid)
	return p
}

// GetDashboardUpdate takes one consistent snapshot of status, performance
// and active traders under a single lock acquisition.
func (l *Ledger) GetDashboardUpdate() DashboardUpdate {
	l.mu.Lock()
	defer l.mu.Unlock()

	traders := make([]TraderSnapshot, 0, len(l.traders))
	for _, t := range l.traders {
		traders = append(traders, t)
	}

	return DashboardUpdate{
		Status:      l.statusLocked(),
		Performance: l.performanceLocked(),
		Traders:     traders,
	}
}

// EquitySeries returns a copy of the bounded equity curve.
func (l *Ledger) EquitySeries() []EquitySample {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]EquitySample, len(l.equitySeries))
	copy(out, l.equitySeries)
	return out
}
