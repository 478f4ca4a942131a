package pipeline

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ot-clark/cryptoedge/internal/domain"
)

// stubCatalog returns a fixed raw market list.
type stubCatalog struct {
	markets []RawMarket
	err     error
}

func (s *stubCatalog) ActiveMarkets(_ context.Context, _ int) ([]RawMarket, error) {
	return s.markets, s.err
}

// stubSpot returns a fixed price map, or an error.
type stubSpot struct {
	prices map[string]domain.SpotPrice
	err    error
}

func (s *stubSpot) Prices(_ context.Context, _ []string) (map[string]domain.SpotPrice, error) {
	return s.prices, s.err
}

// stubVol returns a per-symbol surface or error, so tests can exercise
// the per-symbol-failure-degrades-to-default-vol path independently of
// the whole-pipeline spot outage path.
type stubVol struct {
	surfaces map[string]domain.IVSurface
	errFor   map[string]error
}

func (s *stubVol) Surface(_ context.Context, symbol string, underlying decimal.Decimal) (domain.IVSurface, error) {
	if err, ok := s.errFor[symbol]; ok {
		return domain.IVSurface{}, err
	}
	if surf, ok := s.surfaces[symbol]; ok {
		return surf, nil
	}
	return domain.IVSurface{Symbol: symbol, UnderlyingPrice: underlying, AtmIV: 0.6, IsDefault: true}, nil
}

func btcMarket(id, question string, prob, volume float64, daysOut int) RawMarket {
	return RawMarket{
		ID:             id,
		Question:       question,
		PolymarketProb: prob,
		YesTokenID:     "yes-" + id,
		NoTokenID:      "no-" + id,
		Volume24h:      volume,
		EndDate:        timePtr(time.Now().Add(time.Duration(daysOut) * 24 * time.Hour)),
	}
}

func timePtr(t time.Time) *time.Time { return &t }

func btcSurface() domain.IVSurface {
	return domain.IVSurface{
		Symbol:          "BTC",
		UnderlyingPrice: decimal.NewFromInt(100000),
		AtmIV:           0.55,
		PerStrike: map[string]domain.StrikeIV{
			"120000": {
				Strike:    decimal.NewFromInt(120000),
				CallIV:    0.55,
				CallDelta: floatPtr(0.30),
			},
		},
	}
}

func floatPtr(f float64) *float64 { return &f }

func TestRunRanksByEdgeMagnitudeDescending(t *testing.T) {
	catalog := &stubCatalog{markets: []RawMarket{
		btcMarket("m-small-edge", "Will Bitcoin hit $120k by December 31, 2026?", 0.30, 100, 180),
		btcMarket("m-big-edge", "Will Bitcoin hit $200k by December 31, 2026?", 0.50, 100, 180),
	}}
	spotProv := &stubSpot{prices: map[string]domain.SpotPrice{
		"BTC": {Symbol: "BTC", Price: decimal.NewFromInt(100000), AsOf: time.Now()},
	}}
	volProv := &stubVol{surfaces: map[string]domain.IVSurface{"BTC": {Symbol: "BTC", AtmIV: 0.55, IsDefault: true}}}

	p := New(catalog, spotProv, volProv)
	opps, err := p.Run(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, opps, 2)

	// Highest |edge| must rank first.
	assert.GreaterOrEqual(t, opps[0].RankKey(), opps[1].RankKey())
}

func TestRunTieBreaksByVolume(t *testing.T) {
	// Two markets with identical symbol/target/prob/surface, so the
	// z-score edge is an exact tie; volume breaks it.
	catalog := &stubCatalog{markets: []RawMarket{
		btcMarket("m-low-volume", "Will Bitcoin hit $150k by December 31, 2026?", 0.40, 50, 180),
		btcMarket("m-high-volume", "Will Bitcoin reach $150k by December 31, 2026?", 0.40, 500, 180),
	}}
	spotProv := &stubSpot{prices: map[string]domain.SpotPrice{
		"BTC": {Symbol: "BTC", Price: decimal.NewFromInt(100000), AsOf: time.Now()},
	}}
	volProv := &stubVol{surfaces: map[string]domain.IVSurface{
		"BTC": {Symbol: "BTC", AtmIV: 0.55, IsDefault: true},
	}}

	p := New(catalog, spotProv, volProv)
	opps, err := p.Run(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, opps, 2)

	require.Equal(t, opps[0].RankKey(), opps[1].RankKey(), "both markets should produce an exact edge tie")
	assert.Equal(t, "m-high-volume", opps[0].Snapshot.Claim.MarketID, "higher volume must rank first on a tied edge")
	assert.Equal(t, float64(500), opps[0].Snapshot.Volume24h)
}

func TestRunSkipsUnparseableAndExpiredMarkets(t *testing.T) {
	expired := btcMarket("m-expired", "Will Bitcoin hit $150k by December 31, 2026?", 0.40, 100, 180)
	expired.Question = "Will Bitcoin hit $150k by December 31, 2020?"

	catalog := &stubCatalog{markets: []RawMarket{
		btcMarket("m-non-crypto", "Will the MegaETH market cap exceed $5B in 2026?", 0.40, 100, 180),
		expired,
		btcMarket("m-resolved", "Will Bitcoin hit $150k by December 31, 2026?", 0, 100, 180),
		btcMarket("m-good", "Will Bitcoin hit $150k by December 31, 2026?", 0.40, 100, 180),
	}}
	spotProv := &stubSpot{prices: map[string]domain.SpotPrice{
		"BTC": {Symbol: "BTC", Price: decimal.NewFromInt(100000), AsOf: time.Now()},
	}}
	volProv := &stubVol{surfaces: map[string]domain.IVSurface{"BTC": {Symbol: "BTC", AtmIV: 0.55, IsDefault: true}}}

	p := New(catalog, spotProv, volProv)
	opps, err := p.Run(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, opps, 1)
	assert.Equal(t, "m-good", opps[0].Snapshot.Claim.MarketID)
}

func TestRunPropagatesPricesUnavailable(t *testing.T) {
	catalog := &stubCatalog{markets: []RawMarket{
		btcMarket("m-1", "Will Bitcoin hit $150k by December 31, 2026?", 0.40, 100, 180),
	}}
	spotProv := &stubSpot{err: fmt.Errorf("oracle down")}
	volProv := &stubVol{}

	p := New(catalog, spotProv, volProv)
	_, err := p.Run(context.Background(), 10)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPricesUnavailable)
}

func TestRunPropagatesPricesUnavailableOnEmptyMap(t *testing.T) {
	catalog := &stubCatalog{markets: []RawMarket{
		btcMarket("m-1", "Will Bitcoin hit $150k by December 31, 2026?", 0.40, 100, 180),
	}}
	spotProv := &stubSpot{prices: map[string]domain.SpotPrice{}}
	volProv := &stubVol{}

	p := New(catalog, spotProv, volProv)
	_, err := p.Run(context.Background(), 10)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPricesUnavailable)
}

func TestRunDegradesToZScoreOnlyWhenIVUnavailable(t *testing.T) {
	catalog := &stubCatalog{markets: []RawMarket{
		btcMarket("m-1", "Will Bitcoin hit $150k by December 31, 2026?", 0.40, 100, 180),
	}}
	spotProv := &stubSpot{prices: map[string]domain.SpotPrice{
		"BTC": {Symbol: "BTC", Price: decimal.NewFromInt(100000), AsOf: time.Now()},
	}}
	volProv := &stubVol{errFor: map[string]error{"BTC": fmt.Errorf("options exchange down")}}

	p := New(catalog, spotProv, volProv)
	opps, err := p.Run(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, opps, 1)
	assert.Nil(t, opps[0].DeltaEstimate)
	assert.Nil(t, opps[0].EdgeDelta)
	assert.NotZero(t, opps[0].ZScoreEstimate.Probability)
}

func TestRunUsesOptionsDeltaWhenSurfaceNonDefault(t *testing.T) {
	catalog := &stubCatalog{markets: []RawMarket{
		btcMarket("m-1", "Will Bitcoin hit $120k by December 31, 2026?", 0.40, 100, 180),
	}}
	spotProv := &stubSpot{prices: map[string]domain.SpotPrice{
		"BTC": {Symbol: "BTC", Price: decimal.NewFromInt(100000), AsOf: time.Now()},
	}}
	volProv := &stubVol{surfaces: map[string]domain.IVSurface{"BTC": btcSurface()}}

	p := New(catalog, spotProv, volProv)
	opps, err := p.Run(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, opps, 1)
	require.NotNil(t, opps[0].IVSurface)
	require.NotNil(t, opps[0].DeltaEstimate)
	require.NotNil(t, opps[0].EdgeDelta)
}

func TestRunFetchActiveMarketsFailurePropagates(t *testing.T) {
	catalog := &stubCatalog{err: fmt.Errorf("gamma api down")}
	p := New(catalog, &stubSpot{}, &stubVol{})

	_, err := p.Run(context.Background(), 10)
	require.Error(t, err)
}
