// Command engine is the single binary wiring config → exchange adapter →
// ledger → supervisor (Grid/Volatility Traders) → the outbound
// dashboard/metrics/notification layer.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/predatortrading/perp-engine/internal/config"
	"github.com/predatortrading/perp-engine/internal/dashboard"
	"github.com/predatortrading/perp-engine/internal/exchange"
	"github.com/predatortrading/perp-engine/internal/ledger"
	"github.com/predatortrading/perp-engine/internal/metrics"
	"github.com/predatortrading/perp-engine/internal/model"
	"github.com/predatortrading/perp-engine/internal/notify"
	"github.com/predatortrading/perp-engine/internal/supervisor"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})

	cfg := config.Load()

	notifier := notify.New(cfg.TelegramBotToken, cfg.TelegramChatID)
	if notifier != nil {
		go notifier.StartChatIDListener()
	}

	var adapter exchange.Adapter
	if cfg.Mode == config.ModeLive {
		adapter = exchange.NewLive(cfg.APIKey, cfg.APISecret, false)
	} else {
		adapter = exchange.NewSim(exchange.SimConfig{
			FeeRate:      cfg.FeeRate,
			SlippageRate: cfg.SlippageRate,
			StartBalance: cfg.StartingBalanceUSDT,
			DefaultFilter: exchange.SymbolFilters{
				TickSize:     decimal.NewFromFloat(0.01),
				StepSize:     decimal.NewFromFloat(0.001),
				QuoteAsset:   exchange.QuoteAssetUSDT,
				Status:       exchange.SymbolStatusTrading,
				ContractType: exchange.ContractTypePerpetual,
			},
		})
	}

	led := ledger.New(cfg.StartingBalanceUSDT)

	sup := supervisor.New(cfg, adapter, led, notifier)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := sup.Start(ctx); err != nil {
		notifier.Notify("FATAL: engine startup failed: " + err.Error())
		log.Fatal().Err(err).Msg("supervisor startup failed")
	}
	go sup.Run(ctx)

	hub := dashboard.NewHub()
	go hub.RunDashboardUpdates(led, ctx.Done())
	go metrics.Run(ctx, led, 5*time.Second)
	sup.SetPriceListener(func(symbol model.Symbol, mid decimal.Decimal) {
		hub.BroadcastPrice(string(symbol), mid.String())
	})

	server := dashboard.NewServer(string(cfg.Mode), led, adapter, hub)
	httpServer := &http.Server{Addr: cfg.DashboardAddr, Handler: server.Routes()}
	go func() {
		log.Info().Str("addr", cfg.DashboardAddr).Msg("dashboard listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("dashboard server error")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info().Msg("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	httpServer.Shutdown(shutdownCtx)
	cancel()
}
