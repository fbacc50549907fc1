// Package supervisor schedules per-symbol Traders within global slots,
// enforcing cooldowns, quotas, blacklists, and a daily trading window. It
// owns the set of active Traders exclusively; each Trader in turn owns
// its positions and pending orders, and the Supervisor only reads their
// state and forwards adapter events.
package supervisor

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/predatortrading/perp-engine/internal/config"
	"github.com/predatortrading/perp-engine/internal/exchange"
	"github.com/predatortrading/perp-engine/internal/ledger"
	"github.com/predatortrading/perp-engine/internal/model"
	"github.com/predatortrading/perp-engine/internal/scanner"
	"github.com/predatortrading/perp-engine/internal/strategy"
)

const (
	accountSyncInterval = 10 * time.Second
	maxStartFailures    = 3
)

// Notifier is the best-effort outbound alert surface (Telegram in the
// wired binary). Supervisor only ever calls Notify; failures are the
// notifier's problem, not the Supervisor's.
type Notifier interface {
	Notify(msg string)
}

type noopNotifier struct{}

func (noopNotifier) Notify(string) {}

type failureRecord struct {
	count int
	until time.Time
}

type traderEntry struct {
	trader strategy.Trader
	cancel context.CancelFunc
	events chan exchange.Event
}

// Supervisor is the Trader lifecycle manager: scan → gate → launch, slot
// allocation, cooldowns, blacklists, and the daily trading window.
type Supervisor struct {
	mu sync.Mutex

	cfg     *config.Config
	adapter exchange.Adapter
	ledger  *ledger.Ledger
	notify  Notifier
	log     zerolog.Logger

	traders           map[model.Symbol]*traderEntry
	leverageSet       map[model.Symbol]bool
	leverageBlacklist map[model.Symbol]bool
	failedSymbols     map[model.Symbol]*failureRecord

	consecutiveLosses int
	lossCooldownUntil time.Time

	priceListener func(model.Symbol, decimal.Decimal)
	lastEventAt   time.Time

	nowFn func() time.Time
}

// New constructs a Supervisor. notify may be nil; a no-op is substituted.
func New(cfg *config.Config, adapter exchange.Adapter, led *ledger.Ledger, notify Notifier) *Supervisor {
	if notify == nil {
		notify = noopNotifier{}
	}
	return &Supervisor{
		cfg:               cfg,
		adapter:           adapter,
		ledger:            led,
		notify:            notify,
		log:               log.With().Str("component", "supervisor").Logger(),
		traders:           make(map[model.Symbol]*traderEntry),
		leverageSet:       make(map[model.Symbol]bool),
		leverageBlacklist: make(map[model.Symbol]bool),
		failedSymbols:     make(map[model.Symbol]*failureRecord),
		nowFn:             time.Now,
	}
}

func (s *Supervisor) now() time.Time { return s.nowFn() }

// Start performs the Supervisor's one-time startup sequence (user-data
// stream in live mode, empty-set market streams, initial account sync)
// and launches the two periodic tasks: accountSync and scanAndLaunch.
// A fatal startup failure (balance unreadable) is returned to the caller,
// who exits the process.
func (s *Supervisor) Start(ctx context.Context) error {
	if s.cfg.Mode == config.ModeLive {
		if err := s.adapter.StartUserDataStream(ctx); err != nil {
			return err
		}
	}
	if err := s.adapter.StartMarketStreams(ctx, nil); err != nil {
		return err
	}

	if err := s.syncAccount(ctx); err != nil {
		return err
	}

	go s.runTicker(ctx, accountSyncInterval, func() { _ = s.syncAccount(ctx) })
	go s.runTicker(ctx, time.Duration(s.cfg.ScannerIntervalMs)*time.Millisecond, func() { s.scanAndLaunch(ctx) })
	return nil
}

func (s *Supervisor) runTicker(ctx context.Context, interval time.Duration, fn func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}

// syncAccount refreshes balance (computed as starting balance + net
// profit in test mode), equity = balance + Σ unrealized, and the market
// status the dashboard shows.
func (s *Supervisor) syncAccount(ctx context.Context) error {
	var balance decimal.Decimal
	if s.cfg.Mode == config.ModeTest {
		perf := s.ledger.GetPerformance()
		balance = s.cfg.StartingBalanceUSDT.Add(perf.NetProfit)
	} else {
		b, err := s.adapter.GetBalance(ctx)
		if err != nil {
			s.ledger.SetMarketStatus(false, s.wsHealthy())
			return err
		}
		balance = b
	}
	s.ledger.SetBalance(balance)
	s.ledger.SetMarketStatus(true, s.wsHealthy())

	s.mu.Lock()
	unrealized := decimal.Zero
	for _, e := range s.traders {
		unrealized = unrealized.Add(e.trader.UnrealizedPnL())
		s.ledger.UpsertTrader(e.trader.Snapshot())
	}
	s.mu.Unlock()

	s.ledger.SetEquity(balance.Add(unrealized))
	return nil
}

// wsHealthy reports whether the market stream looks alive: with no
// traders there is nothing subscribed (and nothing to miss), otherwise an
// event must have arrived recently.
func (s *Supervisor) wsHealthy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.traders) == 0 {
		return true
	}
	return !s.lastEventAt.IsZero() && s.now().Sub(s.lastEventAt) < 30*time.Second
}

func (s *Supervisor) activeSymbols() []model.Symbol {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Symbol, 0, len(s.traders))
	for sym := range s.traders {
		out = append(out, sym)
	}
	return out
}

func (s *Supervisor) withinTradingWindow() bool {
	if !s.cfg.EnableTradingWindow {
		return true
	}
	hour := s.now().UTC().Hour()
	start, end := s.cfg.TradingWindowStartUTC, s.cfg.TradingWindowEndUTC
	if start <= end {
		return hour >= start && hour < end
	}
	return hour >= start || hour < end // wraps past midnight
}

// scanAndLaunch is the Supervisor's periodic scan, gate, and launch pass.
func (s *Supervisor) scanAndLaunch(ctx context.Context) {
	s.mu.Lock()
	full := len(s.traders) >= s.cfg.MaxTraders
	cooldownUntil := s.lossCooldownUntil
	s.mu.Unlock()

	if full {
		return
	}
	if cooldownUntil.After(s.now()) {
		s.log.Info().Dur("remaining", cooldownUntil.Sub(s.now())).Msg("loss cooldown active, skipping scan")
		return
	}

	candidates, err := scanner.Scan(ctx, s.adapter, scanner.Filters{
		Enabled:         s.cfg.EnableScannerFilters,
		MinChange:       s.cfg.MinChange,
		MaxChange:       s.cfg.MaxChange,
		VolumeRatio:     s.cfg.VolumeRatio,
		MinRangePercent: s.cfg.MinRangePercent,
		DepthMin:        s.cfg.DepthMin,
		DepthMax:        s.cfg.DepthMax,
		SpreadMin:       s.cfg.SpreadMin,
		SpreadMax:       s.cfg.SpreadMax,
	}, s.cfg.MaxTraders)
	if err != nil {
		s.log.Warn().Err(err).Msg("scan failed")
		return
	}

	if !s.withinTradingWindow() {
		s.log.Info().Msg("outside configured trading window, skipping launch")
		return
	}

	volatilitySlots := s.cfg.MaxTraders / 2
	expansionSlots := s.cfg.MaxTraders - volatilitySlots

	s.mu.Lock()
	var volCount, gridCount int
	for _, e := range s.traders {
		if e.trader.Kind() == model.StrategyVolatility {
			volCount++
		} else {
			gridCount++
		}
	}
	s.mu.Unlock()

	var volFailThisTick, gridFailThisTick int

	for _, sym := range candidates {
		s.mu.Lock()
		_, trading := s.traders[sym]
		blacklisted := s.leverageBlacklist[sym]
		fail, hasFail := s.failedSymbols[sym]
		cooling := hasFail && fail.until.After(s.now())
		full := len(s.traders) >= s.cfg.MaxTraders
		s.mu.Unlock()

		if trading || blacklisted || cooling || full {
			continue
		}

		if s.cfg.Mode == config.ModeLive {
			s.mu.Lock()
			leveraged := s.leverageSet[sym]
			s.mu.Unlock()
			if !leveraged {
				if err := s.adapter.SetLeverage(ctx, sym, s.cfg.Leverage); err != nil {
					s.log.Warn().Err(err).Str("symbol", string(sym)).Msg("set-leverage failed, blacklisting symbol")
					s.mu.Lock()
					s.leverageBlacklist[sym] = true
					s.mu.Unlock()
					continue
				}
				s.mu.Lock()
				s.leverageSet[sym] = true
				s.mu.Unlock()
			}
		}

		kind, ok := s.pickStrategy(volCount, volatilitySlots, gridCount, expansionSlots, volFailThisTick, gridFailThisTick)
		if !ok {
			continue
		}

		if err := s.launch(ctx, sym, kind); err != nil {
			s.log.Warn().Err(err).Str("symbol", string(sym)).Str("strategy", string(kind)).Msg("trader start failed")
			s.recordStartFailure(sym)
			if kind == model.StrategyVolatility {
				volFailThisTick++
			} else {
				gridFailThisTick++
			}
			continue
		}

		if kind == model.StrategyVolatility {
			volCount++
		} else {
			gridCount++
		}
	}

	_ = s.adapter.UpdateSymbols(ctx, s.activeSymbols())
}

// pickStrategy prefers Volatility when both variants have slots
// available, and skips a variant that has already failed to start 3+
// times this tick.
func (s *Supervisor) pickStrategy(volCount, volSlots, gridCount, gridSlots, volFails, gridFails int) (model.StrategyKind, bool) {
	volAvailable := volCount < volSlots && volFails < maxStartFailures
	gridAvailable := gridCount < gridSlots && gridFails < maxStartFailures
	switch {
	case volAvailable:
		return model.StrategyVolatility, true
	case gridAvailable:
		return model.StrategyGrid, true
	default:
		return "", false
	}
}

func (s *Supervisor) launch(ctx context.Context, sym model.Symbol, kind model.StrategyKind) error {
	sc := strategy.Config{
		TestMode:       s.cfg.Mode == config.ModeTest,
		MaxTraders:     s.cfg.MaxTraders,
		Leverage:       s.cfg.Leverage,
		EquityFraction: s.cfg.EquityFraction,

		LevelSpacingPercent: s.cfg.LevelSpacingPercent,
		TakeProfitPercent:   s.cfg.TakeProfitPercent,
		StopLossPercent:     s.cfg.StopLossPercent,

		PositionNotionalUSDT:           s.cfg.PositionNotionalUSDT,
		VolatilityPositionNotionalUSDT: s.cfg.VolatilityPositionNotionalUSDT,
		VolatilityTakeProfitPercent:    s.cfg.VolatilityTakeProfitPercent,
		VolatilityStopLossPercent:      s.cfg.VolatilityStopLossPercent,

		FeeRate: s.cfg.FeeRate,
	}

	var trader strategy.Trader
	if kind == model.StrategyVolatility {
		trader = strategy.NewVolatilityTrader(sym, s.adapter, s.ledger, sc)
	} else {
		trader = strategy.NewGridTrader(sym, s.adapter, s.ledger, sc)
	}

	traderCtx, cancel := context.WithCancel(ctx)
	entry := &traderEntry{trader: trader, cancel: cancel, events: make(chan exchange.Event, 256)}

	// Register before Start so a fill racing the startup RPCs buffers in
	// the entry's channel instead of being dropped by Dispatch; the
	// worker drains the backlog once Start returns.
	s.mu.Lock()
	s.traders[sym] = entry
	s.mu.Unlock()

	if err := trader.Start(ctx); err != nil {
		s.mu.Lock()
		delete(s.traders, sym)
		s.mu.Unlock()
		cancel()
		trader.Destroy(ctx)
		return err
	}

	s.ledger.UpsertTrader(trader.Snapshot())

	go s.runTrader(traderCtx, sym, entry)
	s.log.Info().Str("symbol", string(sym)).Str("strategy", string(kind)).Msg("trader started")
	return nil
}

// runTrader is the per-symbol worker goroutine: it reads from its own
// event channel (fed by dispatch) until the Trader reaches TERMINAL, then
// reports back to the Supervisor for slot reclamation and cooldown
// bookkeeping.
func (s *Supervisor) runTrader(ctx context.Context, sym model.Symbol, entry *traderEntry) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-entry.events:
			if !ok {
				return
			}
			entry.trader.HandleEvent(ctx, ev)
		case <-ticker.C:
			entry.trader.Tick(ctx)
		}

		if entry.trader.State() == model.TraderTerminal {
			s.onTraderTerminal(ctx, sym, entry)
			return
		}
	}
}

// SetPriceListener registers a callback receiving every bookTicker
// mid-price, used to forward priceUpdate events to the dashboard hub.
func (s *Supervisor) SetPriceListener(fn func(model.Symbol, decimal.Decimal)) {
	s.mu.Lock()
	s.priceListener = fn
	s.mu.Unlock()
}

// Dispatch fans an adapter event out to the Trader subscribed to its
// symbol, non-blocking so a slow/destroyed Trader never stalls the shared
// event stream.
func (s *Supervisor) Dispatch(ev exchange.Event) {
	s.mu.Lock()
	entry, ok := s.traders[ev.Symbol]
	listener := s.priceListener
	s.lastEventAt = s.now()
	s.mu.Unlock()

	if listener != nil && ev.Kind == exchange.EventBookTicker && !ev.BestBid.IsZero() && !ev.BestAsk.IsZero() {
		listener(ev.Symbol, ev.BestBid.Add(ev.BestAsk).Div(decimal.NewFromInt(2)))
	}

	if !ok {
		return
	}
	select {
	case entry.events <- ev:
	default:
		s.log.Warn().Str("symbol", string(ev.Symbol)).Msg("trader event channel full, dropping event")
	}
}

// Run drains the adapter's event stream and dispatches every event by
// symbol until ctx is cancelled.
func (s *Supervisor) Run(ctx context.Context) {
	events := s.adapter.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			s.Dispatch(ev)
		}
	}
}

func (s *Supervisor) onTraderTerminal(ctx context.Context, sym model.Symbol, entry *traderEntry) {
	pnl := entry.trader.TerminalPnL()
	entry.trader.Destroy(ctx)
	entry.cancel()

	s.mu.Lock()
	delete(s.traders, sym)
	s.mu.Unlock()

	s.applyLossCooldown(pnl)

	s.mu.Lock()
	symbols := make([]model.Symbol, 0, len(s.traders))
	for sym := range s.traders {
		symbols = append(symbols, sym)
	}
	s.mu.Unlock()
	_ = s.adapter.UpdateSymbols(ctx, symbols)

	s.log.Info().Str("symbol", string(sym)).Str("pnl", pnl.String()).Msg("trader destroyed")
}

// applyLossCooldown implements the global consecutive-loss cooldown: a
// losing terminal P&L increments the streak and sets lossCooldownUntil per
// f(consecutiveLosses); any non-losing terminal P&L resets both.
func (s *Supervisor) applyLossCooldown(pnl decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if pnl.IsNegative() {
		s.consecutiveLosses++
		var cooldown time.Duration
		switch {
		case s.consecutiveLosses >= 4:
			cooldown = 60 * time.Minute
		case s.consecutiveLosses == 3:
			cooldown = 30 * time.Minute
		case s.consecutiveLosses == 2:
			cooldown = 15 * time.Minute
		}
		if cooldown > 0 {
			until := s.now().Add(cooldown)
			if until.After(s.lossCooldownUntil) {
				s.lossCooldownUntil = until
			}
			s.notify.Notify("loss cooldown engaged after consecutive losses")
		}
		return
	}

	s.consecutiveLosses = 0
	s.lossCooldownUntil = time.Time{}
}

// recordStartFailure schedules the per-symbol cooldown: 5 min after the
// 1st failure, 15 min after the 2nd, 60 min after the 3rd or later.
func (s *Supervisor) recordStartFailure(sym model.Symbol) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.failedSymbols[sym]
	if !ok {
		rec = &failureRecord{}
		s.failedSymbols[sym] = rec
	}
	rec.count++

	var cooldown time.Duration
	switch {
	case rec.count >= 3:
		cooldown = 60 * time.Minute
	case rec.count == 2:
		cooldown = 15 * time.Minute
	default:
		cooldown = 5 * time.Minute
	}
	rec.until = s.now().Add(cooldown)
}

// ActiveTraderCount reports the current slot usage.
func (s *Supervisor) ActiveTraderCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.traders)
}
