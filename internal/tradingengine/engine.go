// Package tradingengine is the Trading State Machine: the sole mutator
// of domain.BotState. It runs a cooperative, single-threaded cycle loop
// grounded on the donor's internal/arbitrage/engine.go ticker+select
// idiom (arbitrageLoop/windowStateLoop/oddsRefreshLoop), and its gate
// sequence is grounded on risk/manager.go's ValidateSignal chain,
// generalized from the donor's fixed up/down window bet into the full
// entry/exit rule set this system's claims require.
package tradingengine

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/ot-clark/cryptoedge/internal/clob"
	"github.com/ot-clark/cryptoedge/internal/domain"
	"github.com/ot-clark/cryptoedge/internal/httpfetch"
)

// OpportunitySource produces a ranked opportunity list each cycle. The
// Trading State Machine depends on this narrow contract rather than the
// concrete *pipeline.Pipeline, so a cycle can be exercised against a
// stub in tests without standing up real providers.
type OpportunitySource interface {
	Run(ctx context.Context, n int) ([]domain.Opportunity, error)
}

// Persister is the subset of *store.Store the engine needs.
type Persister interface {
	Save(state *domain.BotState) error
}

// AuditRecorder is the subset of *ledger.Ledger the engine needs. A nil
// AuditRecorder disables audit recording entirely.
type AuditRecorder interface {
	RecordTrade(t domain.Trade) error
	RecordSnapshot(balance, totalExposure decimal.Decimal, openPositions int, recordedAt time.Time) error
}

// Entry-gate thresholds named as distinct constants per the spec's two
// separate agreement bands: a resolved-market guard (near-certain
// settlement) and a model-market agreement guard (both sides strongly
// agree, so the remaining edge is noise rather than signal).
const (
	resolvedMarketLowerBound = 0.01
	resolvedMarketUpperBound = 0.99

	agreementHighBound = 0.90
	agreementLowBound  = 0.10

	hoursPerDay = 24.0
)

// Engine is the Trading State Machine. One Engine owns one BotState for
// the lifetime of the process.
type Engine struct {
	source   OpportunitySource
	store    Persister
	executor clob.Executor
	ledger   AuditRecorder // optional; nil disables audit recording

	state *domain.BotState

	pollInterval time.Duration
	opportunityN int
}

// New constructs an Engine from a freshly loaded (or default) state. A
// nil led disables audit recording; it must be a nil interface value, as
// a nil *ledger.Ledger stored in an AuditRecorder is not nil and is
// called like any other recorder.
func New(source OpportunitySource, st Persister, exec clob.Executor, led AuditRecorder, state *domain.BotState, opportunityN int) *Engine {
	return &Engine{
		source:       source,
		store:        st,
		executor:     exec,
		ledger:       led,
		state:        state,
		pollInterval: state.Config.PollInterval,
		opportunityN: opportunityN,
	}
}

// Run starts the cooperative cycle loop and blocks until ctx is
// cancelled. A cycle that runs long causes the next tick to be skipped
// rather than queueing a second concurrent cycle, matching the spec's
// single-threaded, non-overlapping scheduling model.
func (e *Engine) Run(ctx context.Context) {
	e.state.IsRunning = true

	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	e.cycle(ctx)

	for {
		select {
		case <-ticker.C:
			// cycle() runs inline, so the loop never runs two cycles
			// concurrently: it does not return to this select until
			// cycle() returns. The ticker.Reset below restarts the period
			// from the end of the cycle and, under the Go 1.23+ timer
			// semantics this module builds with, discards any tick that
			// fell due while the cycle ran instead of queueing it.
			e.cycle(ctx)
			ticker.Reset(e.pollInterval)
		case <-ctx.Done():
			e.state.IsRunning = false
			if err := e.store.Save(e.state); err != nil {
				log.Error().Err(err).Msg("final save on shutdown failed")
			}
			return
		}
	}
}

// cycle runs one fetch/refresh/exit/entry/persist pass. Errors abort
// the cycle without mutating state, per the spec's failure semantics.
func (e *Engine) cycle(ctx context.Context) {
	opportunities, err := e.source.Run(ctx, e.opportunityN)
	if err != nil {
		e.handleCycleError(err)
		return
	}

	e.state.LastError = ""
	e.pollInterval = e.state.Config.PollInterval

	if len(opportunities) == 0 {
		e.state.LastUpdate = time.Now()
		e.persist()
		return
	}

	byMarket := make(map[string]domain.Opportunity, len(opportunities))
	for _, o := range opportunities {
		byMarket[o.Snapshot.Claim.MarketID] = o
	}

	e.refreshOpenPositions(byMarket)
	e.runExitPhase(byMarket)
	e.runEntryPhase(ctx, opportunities)

	e.state.LastUpdate = time.Now()
	e.recomputeAggregates()
	e.persist()
}

// handleCycleError records the failure in lastError and persists the
// last consistent state without mutating positions, per spec.md's
// recovery policy ("it persists the last consistent state and
// continues"). Without this, a rate-limited/failed cycle's lastError
// would never reach disk and cryptoedge-status (which reads only the
// persisted file) would never surface it.
func (e *Engine) handleCycleError(err error) {
	if errors.Is(err, httpfetch.ErrRateLimited) {
		e.pollInterval *= 2
		e.state.LastError = "rate-limited"
		log.Warn().Dur("next_interval", e.pollInterval).Msg("rate limited, backing off")
	} else {
		e.state.LastError = err.Error()
		log.Error().Err(err).Msg("cycle fetch failed")
	}

	e.state.LastUpdate = time.Now()
	e.persist()
}

func (e *Engine) persist() {
	if err := e.store.Save(e.state); err != nil {
		log.Error().Err(err).Msg("persist state failed")
	}
}

// refreshOpenPositions updates currentPrice/currentEdge/unrealizedPnl
// for every open position whose market is still present in this
// cycle's opportunity set. A position whose market disappeared is left
// stale and handled by the exit phase's expired branch.
func (e *Engine) refreshOpenPositions(byMarket map[string]domain.Opportunity) {
	for _, pos := range e.state.OpenPositions {
		opp, ok := byMarket[pos.MarketID]
		if !ok {
			continue
		}
		pos.CurrentPrice = decimal.NewFromFloat(opp.Snapshot.PolymarketProb)
		pos.CurrentEdge = effectiveEdge(opp)
		pos.UnrealizedPnl = unrealizedPnl(*pos)
	}
}

func effectiveEdge(o domain.Opportunity) float64 {
	if o.EdgeDelta != nil {
		return *o.EdgeDelta
	}
	return o.EdgeZ
}

func unrealizedPnl(p domain.Position) decimal.Decimal {
	if p.Side == domain.SideLong {
		return p.Shares.Mul(p.CurrentPrice.Sub(p.EntryPrice))
	}
	return p.Shares.Mul(p.EntryPrice.Sub(p.CurrentPrice))
}

// runExitPhase walks a snapshot of the open set so closes made mid-loop
// never affect its own iteration.
func (e *Engine) runExitPhase(byMarket map[string]domain.Opportunity) {
	snapshot := make([]*domain.Position, 0, len(e.state.OpenPositions))
	for _, p := range e.state.OpenPositions {
		snapshot = append(snapshot, p)
	}

	for _, pos := range snapshot {
		_, present := byMarket[pos.MarketID]

		if !present && time.Now().After(pos.Expiry) {
			e.closePosition(pos, pos.CurrentPrice, domain.CloseExpired)
			continue
		}
		if !present {
			continue
		}

		edge := pos.CurrentEdge
		if absFloat(edge) < e.state.Config.MaxEdgeToExit {
			e.closePosition(pos, pos.CurrentPrice, domain.CloseEdgeAligned)
			continue
		}

		impliedSide := domain.SideShort
		if edge < 0 {
			impliedSide = domain.SideLong
		}
		if impliedSide != pos.Side && absFloat(edge) >= e.state.Config.MinEdgeToEnter {
			e.closePosition(pos, pos.CurrentPrice, domain.CloseEdgeAligned)
		}
	}
}

// closePosition realizes P&L, credits the balance, and moves the
// position from open to closed. A position is closed at most once:
// callers always pass a pointer sourced from OpenPositions and this
// function deletes the key before returning.
func (e *Engine) closePosition(pos *domain.Position, closePrice decimal.Decimal, reason domain.CloseReason) {
	pos.ClosePrice = closePrice
	pos.CloseTimestamp = time.Now()
	pos.CloseReason = reason
	pos.Status = domain.StatusClosed

	var pnl decimal.Decimal
	if pos.Side == domain.SideLong {
		pnl = pos.Shares.Mul(closePrice.Sub(pos.EntryPrice))
	} else {
		pnl = pos.Shares.Mul(pos.EntryPrice.Sub(closePrice))
	}
	pos.RealizedPnl = pnl

	e.state.CurrentBalance = e.state.CurrentBalance.Add(pos.Notional).Add(pnl)
	e.state.TotalRealizedPnl = e.state.TotalRealizedPnl.Add(pnl)
	if pnl.IsPositive() {
		e.state.WinCount++
	} else if pnl.IsNegative() {
		e.state.LossCount++
	}

	trade := &domain.Trade{
		ID:          uuid.NewString(),
		PositionID:  pos.ID,
		MarketID:    pos.MarketID,
		Timestamp:   pos.CloseTimestamp,
		Action:      domain.ActionClose,
		Side:        pos.Side,
		Price:       closePrice,
		Notional:    pos.Notional,
		Shares:      pos.Shares,
		Edge:        pos.CurrentEdge,
		SpotAtTrade: decimal.Zero,
		Pnl:         &pnl,
	}
	e.state.Trades = append(e.state.Trades, trade)
	e.recordTrade(trade)

	delete(e.state.OpenPositions, pos.MarketID)
	e.state.ClosedPositions = append(e.state.ClosedPositions, pos)
}

// runEntryPhase evaluates opportunities highest-edge first (the
// pipeline already returns them in that order) and opens a position
// for each one that clears every gate.
func (e *Engine) runEntryPhase(ctx context.Context, opportunities []domain.Opportunity) {
	cfg := e.state.Config

	for _, opp := range opportunities {
		if !e.passesEntryGates(opp, cfg) {
			continue
		}

		edge := effectiveEdge(opp)
		remaining := cfg.MaxTotalExposure.Sub(e.state.OpenNotionalSum())
		size := positionSize(cfg, edge, remaining)
		if size.LessThanOrEqual(decimal.Zero) {
			continue
		}

		side := domain.SideLong
		if edge > 0 {
			side = domain.SideShort
		}

		e.openPosition(ctx, opp, side, size, edge)
	}
}

func (e *Engine) passesEntryGates(opp domain.Opportunity, cfg domain.BotConfig) bool {
	claim := opp.Snapshot.Claim
	prob := opp.Snapshot.PolymarketProb

	if prob <= resolvedMarketLowerBound || prob >= resolvedMarketUpperBound {
		return false
	}

	if claim.BetType == domain.BetOneTouch {
		spot := opp.Spot.Price
		target := claim.TargetPrice
		if claim.Direction == domain.DirBelow && spot.LessThanOrEqual(target) {
			return false
		}
		if claim.Direction == domain.DirAbove && spot.GreaterThanOrEqual(target) {
			return false
		}
	}

	modelProb := opp.ZScoreEstimate.Probability
	if (modelProb > agreementHighBound && prob > agreementHighBound) ||
		(modelProb < agreementLowBound && prob < agreementLowBound) {
		return false
	}

	edge := effectiveEdge(opp)
	if absFloat(edge) < cfg.MinEdgeToEnter {
		return false
	}

	daysToExpiry := time.Until(claim.Expiry).Hours() / hoursPerDay
	if daysToExpiry < cfg.MinTimeToExpiry {
		return false
	}

	if _, open := e.state.OpenPositions[claim.MarketID]; open {
		return false
	}

	return true
}

// positionSize implements min(maxPositionSize, remainingExposure,
// basePositionSize + |edge|*edgeMultiplier), rounded to cents. The
// balance cap is not applied here: openPosition skips the entry when the
// size exceeds the current balance.
func positionSize(cfg domain.BotConfig, edge float64, remainingExposure decimal.Decimal) decimal.Decimal {
	scaled := cfg.BasePositionSize.Add(decimal.NewFromFloat(absFloat(edge)).Mul(cfg.EdgeMultiplier))

	size := cfg.MaxPositionSize
	if remainingExposure.LessThan(size) {
		size = remainingExposure
	}
	if scaled.LessThan(size) {
		size = scaled
	}
	return size.Round(2)
}

func (e *Engine) openPosition(ctx context.Context, opp domain.Opportunity, side domain.PositionSide, size decimal.Decimal, edge float64) {
	if size.GreaterThan(e.state.CurrentBalance) {
		return
	}

	claim := opp.Snapshot.Claim
	order := clob.Order{
		MarketID:       claim.MarketID,
		YesTokenID:     opp.Snapshot.YesTokenID,
		NoTokenID:      opp.Snapshot.NoTokenID,
		Side:           side,
		Notional:       size,
		ReferencePrice: decimal.NewFromFloat(opp.Snapshot.PolymarketProb),
	}

	fill, err := e.executor.Execute(ctx, order)
	if err != nil {
		log.Error().Err(err).Str("market", claim.MarketID).Msg("order execution failed")
		return
	}

	shares := size.Div(fill.FilledPrice)
	if side == domain.SideShort {
		shares = size.Div(decimal.NewFromInt(1).Sub(fill.FilledPrice))
	}

	pos := &domain.Position{
		ID:             uuid.NewString(),
		MarketID:       claim.MarketID,
		Symbol:         claim.Symbol,
		TargetPrice:    claim.TargetPrice,
		Direction:      claim.Direction,
		BetType:        claim.BetType,
		Expiry:         claim.Expiry,
		Side:           side,
		EntryPrice:     fill.FilledPrice,
		Notional:       size,
		Shares:         shares,
		EntryEdge:      edge,
		EntryTimestamp: time.Now(),
		CurrentPrice:   fill.FilledPrice,
		CurrentEdge:    edge,
		Status:         domain.StatusOpen,
	}

	e.state.CurrentBalance = e.state.CurrentBalance.Sub(size)
	e.state.OpenPositions[claim.MarketID] = pos

	trade := &domain.Trade{
		ID:          uuid.NewString(),
		PositionID:  pos.ID,
		MarketID:    pos.MarketID,
		Timestamp:   pos.EntryTimestamp,
		Action:      domain.ActionOpen,
		Side:        side,
		Price:       fill.FilledPrice,
		Notional:    size,
		Shares:      shares,
		Edge:        edge,
		ZScoreProb:  opp.ZScoreEstimate.Probability,
		SpotAtTrade: opp.Spot.Price,
	}
	if opp.DeltaEstimate != nil {
		delta := opp.DeltaEstimate.Probability
		trade.DeltaProb = &delta
	}
	e.state.Trades = append(e.state.Trades, trade)
	e.recordTrade(trade)
}

func (e *Engine) recordTrade(t *domain.Trade) {
	if e.ledger == nil {
		return
	}
	if err := e.ledger.RecordTrade(*t); err != nil {
		log.Warn().Err(err).Msg("ledger record failed, audit trail incomplete")
	}
}

func (e *Engine) recomputeAggregates() {
	if e.ledger == nil {
		return
	}
	err := e.ledger.RecordSnapshot(e.state.CurrentBalance, e.state.OpenNotionalSum(), len(e.state.OpenPositions), e.state.LastUpdate)
	if err != nil {
		log.Warn().Err(err).Msg("ledger snapshot failed")
	}
}

func absFloat(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
