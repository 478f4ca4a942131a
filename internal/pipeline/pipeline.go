// Package pipeline is the Opportunity Pipeline: it orchestrates the
// claim parser and the spot/volatility providers into a ranked list of
// domain.Opportunity records. Grounded on the donor's
// internal/arbitrage/engine.go analyzeWindow orchestration, but expressed
// as an explicit bounded fan-out/fan-in (golang.org/x/sync/errgroup) per
// the spec's design note, replacing the donor's ad hoc goroutine+channel
// wiring.
package pipeline

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ot-clark/cryptoedge/internal/claim"
	"github.com/ot-clark/cryptoedge/internal/domain"
	"github.com/ot-clark/cryptoedge/internal/prob"
	"github.com/ot-clark/cryptoedge/internal/vol"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// ErrPricesUnavailable is returned when the Spot Price Provider fails
// entirely for every requested symbol, per the spec's "a complete
// spot-price outage fails the whole pipeline" rule.
var ErrPricesUnavailable = fmt.Errorf("prices-unavailable")

// MarketCatalog fetches up to `limit` most-active markets.
type MarketCatalog interface {
	ActiveMarkets(ctx context.Context, limit int) ([]RawMarket, error)
}

// RawMarket is the pre-parse shape returned by the prediction market's
// catalog endpoint.
type RawMarket struct {
	ID             string
	Question       string
	PolymarketProb float64
	YesTokenID     string
	NoTokenID      string
	Volume24h      float64
	EndDate        *time.Time
}

// SpotPrices bulk-fetches current prices.
type SpotPrices interface {
	Prices(ctx context.Context, symbols []string) (map[string]domain.SpotPrice, error)
}

// VolSurface fetches an IV surface for one symbol.
type VolSurface interface {
	Surface(ctx context.Context, symbol string, underlying decimal.Decimal) (domain.IVSurface, error)
}

const maxConcurrency = 10

// Pipeline composes the providers with the parser and probability engine.
type Pipeline struct {
	catalog MarketCatalog
	spot    SpotPrices
	vols    VolSurface
}

// New builds a Pipeline.
func New(catalog MarketCatalog, spot SpotPrices, vols VolSurface) *Pipeline {
	return &Pipeline{catalog: catalog, spot: spot, vols: vols}
}

// Run produces a ranked list of at most n Opportunities.
func (p *Pipeline) Run(ctx context.Context, n int) ([]domain.Opportunity, error) {
	raw, err := p.catalog.ActiveMarkets(ctx, 3*n)
	if err != nil {
		return nil, fmt.Errorf("fetch active markets: %w", err)
	}

	snapshots := make([]domain.MarketSnapshot, 0, n)
	for _, m := range raw {
		c, err := claim.Parse(m.ID, m.Question, m.EndDate)
		if err != nil {
			continue // non-crypto or unparseable: silently skipped, per spec
		}
		if c.Expiry.Before(time.Now()) {
			continue
		}
		if m.PolymarketProb <= 0 || m.PolymarketProb >= 1 {
			continue
		}

		snapshots = append(snapshots, domain.MarketSnapshot{
			Claim:          c,
			PolymarketProb: m.PolymarketProb,
			YesTokenID:     m.YesTokenID,
			NoTokenID:      m.NoTokenID,
			Volume24h:      m.Volume24h,
		})
		if len(snapshots) >= n {
			break
		}
	}

	symbolSet := map[string]bool{}
	for _, s := range snapshots {
		symbolSet[s.Claim.Symbol] = true
	}
	symbols := make([]string, 0, len(symbolSet))
	for s := range symbolSet {
		symbols = append(symbols, s)
	}

	prices, err := p.spot.Prices(ctx, symbols)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPricesUnavailable, err)
	}
	if len(prices) == 0 && len(symbols) > 0 {
		return nil, ErrPricesUnavailable
	}

	surfaces := p.fetchSurfacesConcurrently(ctx, symbols, prices)

	opportunities := make([]domain.Opportunity, 0, len(snapshots))
	for _, snap := range snapshots {
		spotPrice, ok := prices[snap.Claim.Symbol]
		if !ok {
			log.Debug().Str("market", snap.Claim.MarketID).Msg("no-spot-price: skipping opportunity")
			continue
		}

		years := yearsUntil(snap.Claim.Expiry)
		if years <= 0 {
			continue
		}

		surface := surfaces[snap.Claim.Symbol]

		spotF, _ := spotPrice.Price.Float64()
		targetF, _ := snap.Claim.TargetPrice.Float64()

		zEst := prob.ZScoreEstimate(spotF, targetF, surface.AtmIV, years, snap.Claim.Direction, snap.Claim.BetType)
		edgeZ := prob.Edge(snap.PolymarketProb, zEst.Probability)

		opp := domain.Opportunity{
			Snapshot:       snap,
			Spot:           spotPrice,
			ZScoreEstimate: zEst,
			EdgeZ:          edgeZ,
		}
		if !surface.IsDefault {
			s := surface
			opp.IVSurface = &s
			if iv, delta := vol.IvForStrike(surface, snap.Claim.TargetPrice); delta != nil {
				if dEst, ok := prob.OptionsDeltaEstimate(spotF, targetF, iv, years, *delta, snap.Claim.Direction, snap.Claim.BetType); ok {
					edgeDelta := prob.Edge(snap.PolymarketProb, dEst.Probability)
					opp.DeltaEstimate = &dEst
					opp.EdgeDelta = &edgeDelta
				}
			}
		}

		effectiveEdge := opp.EdgeZ
		if opp.EdgeDelta != nil {
			effectiveEdge = *opp.EdgeDelta
		}
		opp.Signal, opp.Confidence = prob.Classify(effectiveEdge)

		opportunities = append(opportunities, opp)
	}

	sort.SliceStable(opportunities, func(i, j int) bool {
		ki, kj := opportunities[i].RankKey(), opportunities[j].RankKey()
		if ki != kj {
			return ki > kj
		}
		if opportunities[i].Snapshot.Volume24h != opportunities[j].Snapshot.Volume24h {
			return opportunities[i].Snapshot.Volume24h > opportunities[j].Snapshot.Volume24h
		}
		return opportunities[i].Snapshot.Claim.Expiry.Before(opportunities[j].Snapshot.Claim.Expiry)
	})

	return opportunities, nil
}

func (p *Pipeline) fetchSurfacesConcurrently(ctx context.Context, symbols []string, prices map[string]domain.SpotPrice) map[string]domain.IVSurface {
	result := make(map[string]domain.IVSurface, len(symbols))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrency)

	for _, sym := range symbols {
		sym := sym
		spotPrice, ok := prices[sym]
		if !ok {
			continue
		}
		g.Go(func() error {
			surface, err := p.vols.Surface(gctx, sym, spotPrice.Price)
			if err != nil {
				log.Warn().Str("symbol", sym).Err(err).Msg("iv-unavailable: degrading to default vol")
				atm, known := vol.DefaultVol[sym]
				if !known {
					atm = 0.70
				}
				surface = domain.IVSurface{
					Symbol:          sym,
					UnderlyingPrice: spotPrice.Price,
					AtmIV:           atm,
					PerStrike:       map[string]domain.StrikeIV{},
					IsDefault:       true,
				}
			}
			mu.Lock()
			result[sym] = surface
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait() // no error ever returned above; a per-symbol failure degrades that symbol to default vol and never fails the whole pipeline

	return result
}

func yearsUntil(t time.Time) float64 {
	return time.Until(t).Hours() / 24 / 365
}
