package ledger

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestSetEquityTracksPeakAndDrawdown(t *testing.T) {
	l := New(d("1000"))

	l.SetEquity(d("1100"))
	status := l.GetStatus()
	assert.True(t, status.PeakEquity.Equal(d("1100")))
	assert.True(t, status.DrawdownPct.IsZero())

	l.SetEquity(d("990"))
	status = l.GetStatus()
	assert.True(t, status.PeakEquity.Equal(d("1100")), "peak equity is monotonic non-decreasing")
	require.True(t, status.DrawdownPct.GreaterThan(decimal.Zero))

	perf := l.GetPerformance()
	firstDrawdown := perf.MaxDrawdown

	l.SetEquity(d("1050")) // equity recovers; maxDrawdown must not decrease
	perf = l.GetPerformance()
	assert.True(t, perf.MaxDrawdown.GreaterThanOrEqual(firstDrawdown), "maxDrawdown is non-decreasing")
}

func TestRecordTradeAccumulatesPerformance(t *testing.T) {
	l := New(d("1000"))

	l.RecordTrade(d("10"), d("1"))
	l.RecordTrade(d("-4"), d("1"))

	perf := l.GetPerformance()
	assert.Equal(t, 2, perf.TotalTrades)
	assert.Equal(t, 1, perf.Wins)
	assert.Equal(t, 1, perf.Losses)
	assert.True(t, perf.GrossProfit.Equal(d("10")))
	assert.True(t, perf.GrossLoss.Equal(d("4")))
	assert.True(t, perf.FeesPaid.Equal(d("2")))
	assert.True(t, perf.NetProfit.Equal(d("4")), "netProfit = grossProfit - grossLoss - fees")
}

func TestRecordTradeZeroPnlCountsAsWin(t *testing.T) {
	l := New(d("1000"))
	l.RecordTrade(decimal.Zero, d("0.5"))
	perf := l.GetPerformance()
	assert.Equal(t, 1, perf.Wins)
	assert.Equal(t, 0, perf.Losses)
}

func TestGetPerformanceLiveFoldsInUnrealized(t *testing.T) {
	l := New(d("1000"))
	l.RecordTrade(d("5"), d("0"))
	l.UpsertTrader(TraderSnapshot{ID: "t1", UnrealizedPnl: d("3")})
	l.UpsertTrader(TraderSnapshot{ID: "t2", UnrealizedPnl: d("-2")})

	perf := l.GetPerformance()
	assert.True(t, perf.GrossProfitLive.Equal(d("6")))  // 5 realized + max(0, 1 net unrealized)
	assert.True(t, perf.GrossLossLive.Equal(d("0")))
	assert.True(t, perf.NetProfitLive.Equal(d("6")))
}

func TestEquitySeriesBoundedTo500(t *testing.T) {
	l := New(d("1000"))
	for i := 0; i < 600; i++ {
		l.SetEquity(d("1000"))
	}
	assert.LessOrEqual(t, len(l.EquitySeries()), maxEquitySamples)
	assert.Equal(t, maxEquitySamples, len(l.EquitySeries()))
}

func TestUpsertAndRemoveTrader(t *testing.T) {
	l := New(d("1000"))
	l.UpsertTrader(TraderSnapshot{ID: "t1", Symbol: "BTCUSDT"})
	assert.Len(t, l.GetTraders(), 1)

	l.RemoveTrader("t1", TraderSummary{ID: "t1", RealizedPnl: d("2")})
	assert.Len(t, l.GetTraders(), 0)
}

func TestGetDashboardUpdateConsistentSnapshot(t *testing.T) {
	l := New(d("1000"))
	l.SetEquity(d("1050"))
	l.RecordTrade(d("5"), d("1"))
	l.UpsertTrader(TraderSnapshot{ID: "t1"})

	update := l.GetDashboardUpdate()
	assert.True(t, update.Status.Equity.Equal(d("1050")))
	assert.Equal(t, 1, update.Performance.TotalTrades)
	assert.Len(t, update.Traders, 1)
}
