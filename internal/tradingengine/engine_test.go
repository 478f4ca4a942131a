package tradingengine

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ot-clark/cryptoedge/internal/clob"
	"github.com/ot-clark/cryptoedge/internal/domain"
	"github.com/ot-clark/cryptoedge/internal/httpfetch"
)

// stubSource returns a fixed opportunity list per cycle, cycling
// through successive calls.
type stubSource struct {
	cycles [][]domain.Opportunity
	calls  int
}

func (s *stubSource) Run(_ context.Context, _ int) ([]domain.Opportunity, error) {
	if s.calls >= len(s.cycles) {
		return nil, nil
	}
	out := s.cycles[s.calls]
	s.calls++
	return out, nil
}

// errSource always fails its Run call with a fixed error, for exercising
// handleCycleError's persist-on-failure path.
type errSource struct {
	err error
}

func (s *errSource) Run(_ context.Context, _ int) ([]domain.Opportunity, error) {
	return nil, s.err
}

type stubPersister struct {
	saves int
}

func (s *stubPersister) Save(*domain.BotState) error {
	s.saves++
	return nil
}

// stubExecutor fills every order at order.ReferencePrice, mirroring
// DryRunExecutor but without its (0,1) validation so tests can exercise
// edge values directly.
type stubExecutor struct{}

func (stubExecutor) Execute(_ context.Context, order clob.Order) (clob.Fill, error) {
	return clob.Fill{FilledPrice: order.ReferencePrice, OrderID: "test-order"}, nil
}

func baseConfig() domain.BotConfig {
	return domain.BotConfig{
		StartingBalance:       decimal.NewFromInt(1000),
		MinEdgeToEnter:        0.05,
		MaxEdgeToExit:         0.05,
		BasePositionSize:      decimal.NewFromInt(25),
		EdgeMultiplier:        decimal.NewFromInt(500),
		MaxPositionSize:       decimal.NewFromInt(100),
		MaxTotalExposure:      decimal.NewFromInt(1000),
		PollInterval:          time.Hour,
		MaxPositionsPerMarket: 1,
		MinTimeToExpiry:       0,
		DryRun:                true,
	}
}

func btcOpportunity(polymarketProb, edge float64) domain.Opportunity {
	claim := domain.CryptoClaim{
		MarketID:    "btc-200k",
		Symbol:      "BTC",
		TargetPrice: decimal.NewFromInt(200000),
		Expiry:      time.Now().Add(30 * 24 * time.Hour),
		BetType:     domain.BetOneTouch,
		Direction:   domain.DirAbove,
	}
	modelProb := polymarketProb - edge
	return domain.Opportunity{
		Snapshot: domain.MarketSnapshot{
			Claim:          claim,
			PolymarketProb: polymarketProb,
			YesTokenID:     "yes-1",
			NoTokenID:      "no-1",
		},
		Spot:           domain.SpotPrice{Symbol: "BTC", Price: decimal.NewFromInt(100000)},
		ZScoreEstimate: domain.ProbabilityEstimate{Probability: modelProb},
		EdgeZ:          edge,
	}
}

// TestScenarioS6OpenThenClose replicates the spec's open-then-close
// walkthrough: balance=1000, a +0.10 edge opens a short of size 75 at
// 0.40, then the edge decays to +0.04 and the position closes for a
// realized gain of 10.
func TestScenarioS6OpenThenClose(t *testing.T) {
	cfg := baseConfig()
	state := domain.NewBotState(cfg)

	source := &stubSource{cycles: [][]domain.Opportunity{
		{btcOpportunity(0.40, 0.10)},
		{btcOpportunity(0.32, 0.04)},
	}}
	persister := &stubPersister{}

	engine := New(source, persister, stubExecutor{}, nil, state, 10)

	engine.cycle(context.Background())

	require.Len(t, state.OpenPositions, 1)
	pos := state.OpenPositions["btc-200k"]
	require.NotNil(t, pos)
	assert.True(t, pos.Notional.Equal(decimal.NewFromInt(75)), "notional: %s", pos.Notional)
	assert.Equal(t, domain.SideShort, pos.Side)
	assert.True(t, pos.EntryPrice.Equal(decimal.NewFromFloat(0.40)))
	assert.True(t, pos.Shares.Equal(decimal.NewFromInt(125)), "shares: %s", pos.Shares)
	assert.True(t, state.CurrentBalance.Equal(decimal.NewFromInt(925)), "balance after open: %s", state.CurrentBalance)

	engine.cycle(context.Background())

	assert.Len(t, state.OpenPositions, 0)
	require.Len(t, state.ClosedPositions, 1)
	closed := state.ClosedPositions[0]
	assert.Equal(t, domain.CloseEdgeAligned, closed.CloseReason)
	assert.True(t, closed.RealizedPnl.Equal(decimal.NewFromInt(10)), "pnl: %s", closed.RealizedPnl)
	assert.True(t, state.CurrentBalance.Equal(decimal.NewFromInt(1010)), "balance after close: %s", state.CurrentBalance)
	assert.True(t, state.TotalRealizedPnl.Equal(decimal.NewFromInt(10)))
	assert.Equal(t, 1, state.WinCount)
}

func TestOnePerMarketGateRejectsSecondEntry(t *testing.T) {
	cfg := baseConfig()
	state := domain.NewBotState(cfg)

	source := &stubSource{cycles: [][]domain.Opportunity{
		{btcOpportunity(0.40, 0.10)},
		{btcOpportunity(0.41, 0.11)},
	}}
	engine := New(source, &stubPersister{}, stubExecutor{}, nil, state, 10)

	engine.cycle(context.Background())
	engine.cycle(context.Background())

	assert.Len(t, state.OpenPositions, 1)
}

func TestResolvedMarketGuardRejectsEntry(t *testing.T) {
	cfg := baseConfig()
	state := domain.NewBotState(cfg)

	source := &stubSource{cycles: [][]domain.Opportunity{
		{btcOpportunity(0.995, 0.10)},
	}}
	engine := New(source, &stubPersister{}, stubExecutor{}, nil, state, 10)

	engine.cycle(context.Background())

	assert.Len(t, state.OpenPositions, 0)
}

func TestModelMarketAgreementGuardRejectsEntry(t *testing.T) {
	cfg := baseConfig()
	state := domain.NewBotState(cfg)

	// polymarketProb=0.95, edge=0.10 => modelProb=0.85, not >0.90, so this
	// should NOT trigger the guard; use a case where both sides agree.
	// polymarketProb=0.98, modelProb=0.92: both >0.90, below the 0.99
	// resolved-market bound, and the 0.06 edge clears the 0.05 minimum,
	// so only the agreement guard can reject it.
	opp := btcOpportunity(0.98, 0.06)
	opp.ZScoreEstimate.Probability = 0.92

	source := &stubSource{cycles: [][]domain.Opportunity{{opp}}}
	engine := New(source, &stubPersister{}, stubExecutor{}, nil, state, 10)

	engine.cycle(context.Background())

	assert.Len(t, state.OpenPositions, 0)
}

func TestExposureCapLimitsPositionSize(t *testing.T) {
	cfg := baseConfig()
	cfg.MaxTotalExposure = decimal.NewFromInt(50)
	state := domain.NewBotState(cfg)

	source := &stubSource{cycles: [][]domain.Opportunity{{btcOpportunity(0.40, 0.10)}}}
	engine := New(source, &stubPersister{}, stubExecutor{}, nil, state, 10)

	engine.cycle(context.Background())

	require.Len(t, state.OpenPositions, 1)
	pos := state.OpenPositions["btc-200k"]
	assert.True(t, pos.Notional.Equal(decimal.NewFromInt(50)), "notional: %s", pos.Notional)
	assert.True(t, state.OpenNotionalSum().LessThanOrEqual(cfg.MaxTotalExposure))
}

func TestMinEdgeGateRejectsSmallEdge(t *testing.T) {
	cfg := baseConfig()
	state := domain.NewBotState(cfg)

	source := &stubSource{cycles: [][]domain.Opportunity{{btcOpportunity(0.40, 0.02)}}}
	engine := New(source, &stubPersister{}, stubExecutor{}, nil, state, 10)

	engine.cycle(context.Background())

	assert.Len(t, state.OpenPositions, 0)
}

func TestExpiredPositionClosesWhenMarketDisappears(t *testing.T) {
	cfg := baseConfig()
	state := domain.NewBotState(cfg)
	state.OpenPositions["gone-market"] = &domain.Position{
		ID:           "p1",
		MarketID:     "gone-market",
		Side:         domain.SideLong,
		EntryPrice:   decimal.NewFromFloat(0.5),
		Notional:     decimal.NewFromInt(10),
		Shares:       decimal.NewFromInt(20),
		Expiry:       time.Now().Add(-time.Hour),
		CurrentPrice: decimal.NewFromFloat(0.5),
		Status:       domain.StatusOpen,
	}

	source := &stubSource{cycles: [][]domain.Opportunity{{btcOpportunity(0.40, 0.10)}}}
	engine := New(source, &stubPersister{}, stubExecutor{}, nil, state, 10)

	engine.cycle(context.Background())

	assert.Len(t, state.OpenPositions, 1) // only the new btc entry remains open
	_, stillOpen := state.OpenPositions["gone-market"]
	assert.False(t, stillOpen)
	assert.Len(t, state.ClosedPositions, 1)
	assert.Equal(t, domain.CloseExpired, state.ClosedPositions[0].CloseReason)
}

// TestCycleErrorPersistsLastErrorToDisk covers spec.md's recovery policy
// ("persists the last consistent state and continues"): a failed cycle
// must still reach the Persister so a read-only status reader (which
// only ever sees the persisted file, never in-memory state) can observe
// lastError.
func TestCycleErrorPersistsLastErrorToDisk(t *testing.T) {
	cfg := baseConfig()
	state := domain.NewBotState(cfg)
	persister := &stubPersister{}
	source := &errSource{err: fmt.Errorf("catalog fetch failed")}
	engine := New(source, persister, stubExecutor{}, nil, state, 10)

	engine.cycle(context.Background())

	assert.Equal(t, 1, persister.saves)
	assert.Equal(t, "catalog fetch failed", state.LastError)
}

func TestRateLimitedCyclePersistsAndBacksOff(t *testing.T) {
	cfg := baseConfig()
	state := domain.NewBotState(cfg)
	persister := &stubPersister{}
	source := &errSource{err: fmt.Errorf("wrap: %w", httpfetch.ErrRateLimited)}
	engine := New(source, persister, stubExecutor{}, nil, state, 10)

	originalInterval := engine.pollInterval
	engine.cycle(context.Background())

	assert.Equal(t, 1, persister.saves)
	assert.Equal(t, "rate-limited", state.LastError)
	assert.Equal(t, originalInterval*2, engine.pollInterval)
}

func TestNilLedgerDoesNotPanic(t *testing.T) {
	cfg := baseConfig()
	state := domain.NewBotState(cfg)
	source := &stubSource{cycles: [][]domain.Opportunity{{btcOpportunity(0.40, 0.10)}}}
	engine := New(source, &stubPersister{}, stubExecutor{}, nil, state, 10)

	assert.NotPanics(t, func() {
		engine.cycle(context.Background())
	})
}
