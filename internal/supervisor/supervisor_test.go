package supervisor

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/predatortrading/perp-engine/internal/config"
	"github.com/predatortrading/perp-engine/internal/ledger"
	"github.com/predatortrading/perp-engine/internal/model"
)

func newTestSupervisor() *Supervisor {
	cfg := &config.Config{
		Mode:       config.ModeTest,
		MaxTraders: 6,
		Leverage:   1,
	}
	led := ledger.New(decimal.NewFromInt(1000))
	return New(cfg, nil, led, nil)
}

// Two consecutive losing closes (-5, -3) engage a 15-minute cooldown; a
// subsequent non-losing close resets the streak.
func TestApplyLossCooldownEscalatesThenResets(t *testing.T) {
	s := newTestSupervisor()
	fixedNow := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.nowFn = func() time.Time { return fixedNow }

	s.applyLossCooldown(decimal.NewFromInt(-5))
	assert.Equal(t, 1, s.consecutiveLosses)
	assert.True(t, s.lossCooldownUntil.IsZero(), "first loss alone does not engage a cooldown")

	s.applyLossCooldown(decimal.NewFromInt(-3))
	assert.Equal(t, 2, s.consecutiveLosses)
	assert.Equal(t, fixedNow.Add(15*time.Minute), s.lossCooldownUntil)

	s.applyLossCooldown(decimal.NewFromInt(2))
	assert.Equal(t, 0, s.consecutiveLosses, "a non-losing close resets the streak")
	assert.True(t, s.lossCooldownUntil.IsZero())
}

func TestApplyLossCooldownEscalatesAtThreeAndFour(t *testing.T) {
	s := newTestSupervisor()
	fixedNow := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.nowFn = func() time.Time { return fixedNow }

	s.applyLossCooldown(decimal.NewFromInt(-1))
	s.applyLossCooldown(decimal.NewFromInt(-1))
	s.applyLossCooldown(decimal.NewFromInt(-1))
	assert.Equal(t, fixedNow.Add(30*time.Minute), s.lossCooldownUntil)

	s.applyLossCooldown(decimal.NewFromInt(-1))
	assert.Equal(t, fixedNow.Add(60*time.Minute), s.lossCooldownUntil)
}

func TestRecordStartFailureEscalates(t *testing.T) {
	s := newTestSupervisor()
	fixedNow := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.nowFn = func() time.Time { return fixedNow }

	s.recordStartFailure("BTCUSDT")
	assert.Equal(t, fixedNow.Add(5*time.Minute), s.failedSymbols["BTCUSDT"].until)

	s.recordStartFailure("BTCUSDT")
	assert.Equal(t, fixedNow.Add(15*time.Minute), s.failedSymbols["BTCUSDT"].until)

	s.recordStartFailure("BTCUSDT")
	assert.Equal(t, fixedNow.Add(60*time.Minute), s.failedSymbols["BTCUSDT"].until)
}

func TestWithinTradingWindowHandlesWraparound(t *testing.T) {
	s := newTestSupervisor()
	s.cfg.EnableTradingWindow = true
	s.cfg.TradingWindowStartUTC = 22
	s.cfg.TradingWindowEndUTC = 2

	s.nowFn = func() time.Time { return time.Date(2026, 1, 1, 23, 0, 0, 0, time.UTC) }
	assert.True(t, s.withinTradingWindow())

	s.nowFn = func() time.Time { return time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC) }
	assert.False(t, s.withinTradingWindow())
}

func TestWithinTradingWindowDisabledAlwaysTrue(t *testing.T) {
	s := newTestSupervisor()
	s.cfg.EnableTradingWindow = false
	assert.True(t, s.withinTradingWindow())
}

func TestPickStrategyRespectsSlotsAndFailureBackoff(t *testing.T) {
	s := newTestSupervisor()

	kind, ok := s.pickStrategy(0, 3, 0, 3, 0, 0)
	assert.True(t, ok)
	assert.Equal(t, model.StrategyVolatility, kind)

	kind, ok = s.pickStrategy(3, 3, 0, 3, 0, 0)
	assert.True(t, ok)
	assert.Equal(t, model.StrategyGrid, kind)

	_, ok = s.pickStrategy(3, 3, 3, 3, 0, 0)
	assert.False(t, ok, "no slots left in either variant")

	_, ok = s.pickStrategy(0, 3, 0, 3, 3, 3)
	assert.False(t, ok, "3+ start failures this tick benches both variants")
}

func TestSyncAccountTestModeUpdatesBalanceAndMarketStatus(t *testing.T) {
	s := newTestSupervisor()
	s.cfg.StartingBalanceUSDT = decimal.NewFromInt(1000)

	s.ledger.RecordTrade(decimal.NewFromInt(25), decimal.NewFromInt(5))
	require.NoError(t, s.syncAccount(context.Background()))

	status := s.ledger.GetStatus()
	assert.True(t, status.Balance.Equal(decimal.NewFromInt(1020)), "test-mode balance = starting balance + net profit, got %s", status.Balance)
	assert.Equal(t, "online", status.MarketStatus.API)
	assert.Equal(t, "online", status.MarketStatus.WS)
}

func TestWsHealthyRequiresRecentEventWhileTrading(t *testing.T) {
	s := newTestSupervisor()
	fixedNow := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.nowFn = func() time.Time { return fixedNow }

	assert.True(t, s.wsHealthy(), "no traders means nothing subscribed, stream counts as healthy")

	s.traders["BTCUSDT"] = &traderEntry{}
	assert.False(t, s.wsHealthy(), "trading with no events ever seen is unhealthy")

	s.lastEventAt = fixedNow.Add(-10 * time.Second)
	assert.True(t, s.wsHealthy())

	s.lastEventAt = fixedNow.Add(-45 * time.Second)
	assert.False(t, s.wsHealthy())
}

func TestActiveTraderCountReflectsMapSize(t *testing.T) {
	s := newTestSupervisor()
	assert.Equal(t, 0, s.ActiveTraderCount())
	s.traders["BTCUSDT"] = &traderEntry{}
	assert.Equal(t, 1, s.ActiveTraderCount())
}
