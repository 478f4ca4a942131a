// Package domain holds the shared value types that flow between the
// engine's components. Keeping them in one leaf package avoids import
// cycles between claim/spot/vol/prob/pipeline/store/clob.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// BetType distinguishes a binary settle-above/below bet from a one-touch
// (path-dependent) bet.
type BetType string

const (
	BetBinary   BetType = "binary"
	BetOneTouch BetType = "one-touch"
)

// Direction is the side of the target price a claim resolves on.
type Direction string

const (
	DirAbove Direction = "above"
	DirBelow Direction = "below"
)

// Signal is the edge classifier's trade recommendation.
type Signal string

const (
	SignalBuy     Signal = "buy"
	SignalSell    Signal = "sell"
	SignalNeutral Signal = "neutral"
)

// Confidence bands the magnitude of an edge.
type Confidence string

const (
	ConfHigh   Confidence = "high"
	ConfMedium Confidence = "medium"
	ConfLow    Confidence = "low"
)

// PositionSide is long (bought YES-equivalent exposure) or short.
type PositionSide string

const (
	SideLong  PositionSide = "long"
	SideShort PositionSide = "short"
)

// PositionStatus is the lifecycle stage of a Position.
type PositionStatus string

const (
	StatusOpen    PositionStatus = "open"
	StatusClosed  PositionStatus = "closed"
	StatusExpired PositionStatus = "expired"
)

// CloseReason records why a position was closed.
type CloseReason string

const (
	CloseEdgeAligned CloseReason = "edge-aligned"
	CloseExpired     CloseReason = "expired"
	CloseManual      CloseReason = "manual"
)

// TradeAction is open or close.
type TradeAction string

const (
	ActionOpen  TradeAction = "open"
	ActionClose TradeAction = "close"
)

// ProbabilityMethod names which formula produced a ProbabilityEstimate.
type ProbabilityMethod string

const (
	MethodZScore        ProbabilityMethod = "zscore"
	MethodOptionsDelta   ProbabilityMethod = "options-delta"
	MethodVerticalSpread ProbabilityMethod = "vertical-spread"
)

// CryptoClaim is the structured result of parsing a free-text market
// question. Immutable once parsed; two claims sharing a MarketID must be
// equal.
type CryptoClaim struct {
	MarketID    string
	Question    string
	Symbol      string
	TargetPrice decimal.Decimal
	Expiry      time.Time
	BetType     BetType
	Direction   Direction
}

// MarketSnapshot joins a parsed claim with its current market-implied
// probability and outcome token ids.
type MarketSnapshot struct {
	Claim          CryptoClaim
	PolymarketProb float64
	YesTokenID     string
	NoTokenID      string
	Volume24h      float64
}

// Resolved reports whether the market has settled (prob at a boundary).
func (m MarketSnapshot) Resolved() bool {
	return m.PolymarketProb <= 0 || m.PolymarketProb >= 1
}

// SpotPrice is the latest known USD price for a symbol.
type SpotPrice struct {
	Symbol string
	Price  decimal.Decimal
	AsOf   time.Time
}

// StrikeIV holds the implied-vol surface data at one strike.
type StrikeIV struct {
	Strike        decimal.Decimal
	CallIV        float64
	CallDelta     *float64
	PutIV         float64
	PutDelta      *float64
	Expiry        time.Time
	DaysToExpiry  float64
}

// IVSurface is the options-derived volatility surface for a symbol, or a
// hard-coded default when the options exchange doesn't cover the symbol.
type IVSurface struct {
	Symbol         string
	UnderlyingPrice decimal.Decimal
	AtmIV          float64
	PerStrike      map[string]StrikeIV // keyed by strike.String()
	IsDefault      bool
}

// ProbabilityEstimate is one engine output: a probability plus the audit
// trail that produced it. Never load-bearing for control flow — advisory.
type ProbabilityEstimate struct {
	Method         ProbabilityMethod
	Probability    float64
	VolatilityUsed float64
	TimeToExpiry   float64 // years
	ZScore         *float64
	Delta          *float64
	AuditTrail     []string
}

// Opportunity is one ranked output of the pipeline: a market snapshot
// enriched with spot, volatility, and both probability estimates.
type Opportunity struct {
	Snapshot       MarketSnapshot
	Spot           SpotPrice
	IVSurface      *IVSurface
	ZScoreEstimate ProbabilityEstimate
	DeltaEstimate  *ProbabilityEstimate
	EdgeZ          float64
	EdgeDelta      *float64
	Signal         Signal
	Confidence     Confidence
}

// RankKey is the ranking value used to sort a pipeline result: the larger
// of the two edge magnitudes.
func (o Opportunity) RankKey() float64 {
	k := abs(o.EdgeZ)
	if o.EdgeDelta != nil {
		if d := abs(*o.EdgeDelta); d > k {
			k = d
		}
	}
	return k
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

// Position is an open, closed, or expired bet against one market.
type Position struct {
	ID              string
	MarketID        string
	Symbol          string
	TargetPrice     decimal.Decimal
	Direction       Direction
	BetType         BetType
	Expiry          time.Time
	Side            PositionSide
	EntryPrice      decimal.Decimal
	Notional        decimal.Decimal
	Shares          decimal.Decimal
	EntryEdge       float64
	EntryTimestamp  time.Time
	CurrentPrice    decimal.Decimal
	CurrentEdge     float64
	UnrealizedPnl   decimal.Decimal
	Status          PositionStatus
	CloseReason     CloseReason
	ClosePrice      decimal.Decimal
	CloseTimestamp  time.Time
	RealizedPnl     decimal.Decimal
}

// EffectivePrice is the price the notional was sized against: entry price
// for a long, 1-entryPrice for a short (the NO-token price).
func (p Position) EffectivePrice() decimal.Decimal {
	if p.Side == SideLong {
		return p.EntryPrice
	}
	return decimal.NewFromInt(1).Sub(p.EntryPrice)
}

// Trade is one append-only ledger entry: an open or a close.
type Trade struct {
	ID             string
	PositionID     string
	MarketID       string
	Timestamp      time.Time
	Action         TradeAction
	Side           PositionSide
	Price          decimal.Decimal
	Notional       decimal.Decimal
	Shares         decimal.Decimal
	Edge           float64
	ZScoreProb     float64
	DeltaProb      *float64
	SpotAtTrade    decimal.Decimal
	Pnl            *decimal.Decimal
}

// BotConfig is immutable per run; supplied at startup.
type BotConfig struct {
	StartingBalance   decimal.Decimal
	MinEdgeToEnter    float64
	MaxEdgeToExit     float64
	BasePositionSize  decimal.Decimal
	EdgeMultiplier    decimal.Decimal
	MaxPositionSize   decimal.Decimal
	MaxTotalExposure  decimal.Decimal
	PollInterval      time.Duration
	MaxPositionsPerMarket int
	MinTimeToExpiry   float64 // days
	DryRun            bool
}

// BotState is the sole persisted, sole-mutated trading state. The Trading
// State Machine is its only mutator.
type BotState struct {
	StartingBalance  decimal.Decimal
	CurrentBalance   decimal.Decimal
	TotalRealizedPnl decimal.Decimal
	OpenPositions    map[string]*Position // keyed by MarketID
	ClosedPositions  []*Position
	Trades           []*Trade
	IsRunning        bool
	LastUpdate       time.Time
	LastError        string
	WinCount         int
	LossCount        int
	Config           BotConfig
}

// NewBotState builds the zero-position starting state for a fresh run.
func NewBotState(cfg BotConfig) *BotState {
	return &BotState{
		StartingBalance: cfg.StartingBalance,
		CurrentBalance:  cfg.StartingBalance,
		OpenPositions:   make(map[string]*Position),
		ClosedPositions: make([]*Position, 0),
		Trades:          make([]*Trade, 0),
		Config:          cfg,
	}
}

// OpenNotionalSum is the sum of notional across all open positions, used
// by the exposure-cap safety invariant.
func (s *BotState) OpenNotionalSum() decimal.Decimal {
	sum := decimal.Zero
	for _, p := range s.OpenPositions {
		sum = sum.Add(p.Notional)
	}
	return sum
}
