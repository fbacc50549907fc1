// Package metrics exposes the Ledger's status as Prometheus gauges,
// sampled on a fixed ticker and served from the dashboard's /metrics
// endpoint.
package metrics

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/predatortrading/perp-engine/internal/ledger"
)

var (
	equityGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "perp_engine_equity",
		Help: "Current mark-to-market equity (balance + unrealized P&L).",
	})
	balanceGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "perp_engine_balance",
		Help: "Current account balance.",
	})
	drawdownGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "perp_engine_drawdown_pct",
		Help: "Current drawdown from peak equity, percent.",
	})
	netProfitGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "perp_engine_net_profit",
		Help: "Realized net profit (gross profit - gross loss - fees).",
	})
	activeTradersGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "perp_engine_active_traders",
		Help: "Number of currently active Traders.",
	})
)

// Run samples the Ledger every interval and updates the gauges until ctx
// is cancelled.
func Run(ctx context.Context, led *ledger.Ledger, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			status := led.GetStatus()
			perf := led.GetPerformance()
			equityGauge.Set(mustFloat(status.Equity.String()))
			balanceGauge.Set(mustFloat(status.Balance.String()))
			drawdownGauge.Set(mustFloat(status.DrawdownPct.String()))
			netProfitGauge.Set(mustFloat(perf.NetProfit.String()))
			activeTradersGauge.Set(float64(len(led.GetTraders())))
		}
	}
}

func mustFloat(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}
