// Package vol is the Volatility Provider: an options-exchange client for
// supported symbols (BTC, ETH) with a hard-coded default for everything
// else. The donor repo never prices options at all, so this is grounded
// on the Deribit-shaped client in other_examples
// (richkuo-go-trader/scheduler/deribit.go) for the instrument/ticker
// polling shape, and on the donor's REST-fetch-then-decode idiom
// (internal/polymarket/window_scanner.go's inline anonymous structs) for
// the decoding style.
package vol

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/ot-clark/cryptoedge/internal/domain"
	"github.com/ot-clark/cryptoedge/internal/httpfetch"
	"github.com/ot-clark/cryptoedge/internal/spot"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// DefaultVol is the hard-coded fallback volatility per symbol, used when
// the options exchange has no coverage or its endpoints fail.
var DefaultVol = map[string]float64{
	"BTC": 0.60,
	"ETH": 0.70,
}

const fallbackDefaultVol = 0.70

// supportedSymbols is the options-exchange's covered set.
var supportedSymbols = map[string]bool{"BTC": true, "ETH": true}

const strikesPerExpiry = 10
const expiriesConsidered = 3

type instrument struct {
	InstrumentName string  `json:"instrument_name"`
	Strike         float64 `json:"strike"`
	ExpirationTS   int64   `json:"expiration_timestamp"`
	OptionType     string  `json:"option_type"` // "call" | "put"
}

type tickerResult struct {
	MarkIV float64 `json:"mark_iv"`
	Greeks struct {
		Delta float64 `json:"delta"`
	} `json:"greeks"`
}

// Provider fetches IV surfaces from a Deribit-shaped options exchange, or
// the Spot Price Provider's historical series for a realized-vol
// fallback, before finally resorting to the hard default.
type Provider struct {
	fetcher     *httpfetch.Fetcher
	baseURL     string
	spotFetcher *spot.Provider // optional, for realized-vol fallback
}

// New builds a Provider against the given options exchange base URL.
func New(fetcher *httpfetch.Fetcher, baseURL string, spotFetcher *spot.Provider) *Provider {
	return &Provider{fetcher: fetcher, baseURL: baseURL, spotFetcher: spotFetcher}
}

// Surface returns the IV surface for symbol. A symbol outside the
// options exchange's set gets realized vol from the spot provider's
// history when that is available, else the hard-coded default; a
// supported symbol whose options data cannot be fetched gets the
// hard-coded default.
func (p *Provider) Surface(ctx context.Context, symbol string, underlyingPrice decimal.Decimal) (domain.IVSurface, error) {
	upper := strings.ToUpper(symbol)
	if !supportedSymbols[upper] {
		return p.defaultSurface(ctx, upper, underlyingPrice), nil
	}

	surface, err := p.fetchOptionsSurface(ctx, upper, underlyingPrice)
	if err != nil {
		log.Warn().Str("symbol", upper).Err(err).Msg("options surface unavailable, degrading to default vol")
		return p.defaultSurface(ctx, upper, underlyingPrice), nil
	}
	return surface, nil
}

func (p *Provider) fetchOptionsSurface(ctx context.Context, symbol string, underlyingPrice decimal.Decimal) (domain.IVSurface, error) {
	instruments, err := p.fetchInstruments(ctx, symbol)
	if err != nil {
		return domain.IVSurface{}, fmt.Errorf("fetch instruments: %w", err)
	}

	spotF, _ := underlyingPrice.Float64()

	expiries := groupByExpiry(symbol, instruments)
	sort.Slice(expiries, func(i, j int) bool { return expiries[i].ts < expiries[j].ts })
	if len(expiries) > expiriesConsidered {
		expiries = expiries[:expiriesConsidered]
	}

	perStrike := make(map[string]domain.StrikeIV)
	var callIVs []float64

	for _, exp := range expiries {
		strikes := closestStrikesBounded(exp.strikes, spotF, strikesPerExpiry)
		for _, strike := range strikes {
			callName := exp.instrumentName(strike, "call")
			putName := exp.instrumentName(strike, "put")

			callTicker, callErr := p.fetchTicker(ctx, callName)
			putTicker, putErr := p.fetchTicker(ctx, putName)

			entry := domain.StrikeIV{
				Strike:       decimal.NewFromFloat(strike),
				Expiry:       time.Unix(exp.ts/1000, 0).UTC(),
				DaysToExpiry: float64(exp.ts/1000-time.Now().Unix()) / 86400,
			}
			if callErr == nil {
				entry.CallIV = callTicker.MarkIV / 100
				delta := callTicker.Greeks.Delta
				entry.CallDelta = &delta
				callIVs = append(callIVs, entry.CallIV)
			}
			if putErr == nil {
				entry.PutIV = putTicker.MarkIV / 100
				delta := putTicker.Greeks.Delta
				entry.PutDelta = &delta
			}
			if callErr == nil || putErr == nil {
				perStrike[entry.Strike.String()] = entry
			}
		}
	}

	atmIV, ok := atmFromNearestExpiry(ctx, p, expiries, spotF)
	if !ok {
		// Per spec: if the ATM ticker fails but the per-strike map has
		// at least one entry, fall back to the mean of all populated
		// call IVs rather than only the (possibly empty) near-ATM subset.
		if len(callIVs) == 0 {
			return domain.IVSurface{}, fmt.Errorf("no ATM or per-strike IV available")
		}
		atmIV = mean(callIVs)
	}

	return domain.IVSurface{
		Symbol:          symbol,
		UnderlyingPrice: underlyingPrice,
		AtmIV:           atmIV,
		PerStrike:       perStrike,
		IsDefault:       false,
	}, nil
}

// atmFromNearestExpiry fetches the ATM call ticker for the
// nearest-expiry, closest-to-underlying strike directly, per spec §4.3.
func atmFromNearestExpiry(ctx context.Context, p *Provider, expiries []expiryGroup, spotF float64) (float64, bool) {
	if len(expiries) == 0 {
		return 0, false
	}
	nearest := expiries[0]
	atmStrike := closestStrike(nearest.strikes, spotF)
	name := nearest.instrumentName(atmStrike, "call")

	ticker, err := p.fetchTicker(ctx, name)
	if err != nil {
		return 0, false
	}
	return ticker.MarkIV / 100, true
}

func (p *Provider) defaultSurface(ctx context.Context, symbol string, underlyingPrice decimal.Decimal) domain.IVSurface {
	atm, ok := DefaultVol[symbol]
	if !ok {
		atm = fallbackDefaultVol
	}

	if p.spotFetcher != nil && !supportedSymbols[symbol] {
		if series, err := p.spotFetcher.HistoricalSeries(ctx, symbol, 30); err == nil {
			if realized, ok := spot.RealizedVolatility(series); ok {
				atm = realized
			}
		}
	}

	return domain.IVSurface{
		Symbol:          symbol,
		UnderlyingPrice: underlyingPrice,
		AtmIV:           atm,
		PerStrike:       map[string]domain.StrikeIV{},
		IsDefault:       true,
	}
}

// IvForStrike picks the closest strike in the surface's map and returns
// its call IV, plus its call delta only if the strike is within 20%
// relative distance of target.
func IvForStrike(surface domain.IVSurface, target decimal.Decimal) (iv float64, delta *float64) {
	if len(surface.PerStrike) == 0 {
		return surface.AtmIV, nil
	}

	targetF, _ := target.Float64()
	var best domain.StrikeIV
	bestDist := math.MaxFloat64
	found := false
	for _, s := range surface.PerStrike {
		strikeF, _ := s.Strike.Float64()
		dist := math.Abs(strikeF - targetF)
		if dist < bestDist {
			bestDist = dist
			best = s
			found = true
		}
	}
	if !found {
		return surface.AtmIV, nil
	}

	strikeF, _ := best.Strike.Float64()
	relDist := math.Abs(strikeF-targetF) / targetF
	if relDist < 0.20 {
		return best.CallIV, best.CallDelta
	}
	return best.CallIV, nil
}

type expiryGroup struct {
	symbol  string
	ts      int64
	strikes []float64
}

func (e expiryGroup) instrumentName(strike float64, kind string) string {
	letter := "C"
	if kind == "put" {
		letter = "P"
	}
	expiryStr := time.Unix(e.ts/1000, 0).UTC().Format("02Jan06")
	return fmt.Sprintf("%s-%s-%d-%s", e.symbol, strings.ToUpper(expiryStr), int64(strike), letter)
}

func groupByExpiry(symbol string, instruments []instrument) []expiryGroup {
	groups := map[int64]*expiryGroup{}
	for _, in := range instruments {
		g, ok := groups[in.ExpirationTS]
		if !ok {
			g = &expiryGroup{symbol: symbol, ts: in.ExpirationTS}
			groups[in.ExpirationTS] = g
		}
		g.strikes = append(g.strikes, in.Strike)
	}
	result := make([]expiryGroup, 0, len(groups))
	for _, g := range groups {
		result = append(result, *g)
	}
	return result
}

func closestStrike(strikes []float64, spotF float64) float64 {
	best := spotF
	bestDist := math.MaxFloat64
	for _, s := range strikes {
		dist := math.Abs(s - spotF)
		if dist < bestDist {
			bestDist = dist
			best = s
		}
	}
	return best
}

// closestStrikesBounded returns up to n strikes closest to spot, bounded
// to [0.5*S, 2.0*S], closest-to-ATM first.
func closestStrikesBounded(strikes []float64, spotF float64, n int) []float64 {
	lo, hi := 0.5*spotF, 2.0*spotF
	bounded := make([]float64, 0, len(strikes))
	for _, s := range strikes {
		if s >= lo && s <= hi {
			bounded = append(bounded, s)
		}
	}
	sort.Slice(bounded, func(i, j int) bool {
		return math.Abs(bounded[i]-spotF) < math.Abs(bounded[j]-spotF)
	})
	if len(bounded) > n {
		bounded = bounded[:n]
	}
	return bounded
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func (p *Provider) fetchInstruments(ctx context.Context, symbol string) ([]instrument, error) {
	url := fmt.Sprintf("%s/public/get_instruments?currency=%s&kind=option&expired=false", p.baseURL, symbol)
	var resp struct {
		Result []instrument `json:"result"`
	}
	if err := p.fetcher.GetJSON(ctx, url, &resp); err != nil {
		return nil, err
	}
	for i := range resp.Result {
		resp.Result[i].InstrumentName = strings.ToUpper(resp.Result[i].InstrumentName)
	}
	return resp.Result, nil
}

func (p *Provider) fetchTicker(ctx context.Context, instrumentName string) (tickerResult, error) {
	url := fmt.Sprintf("%s/public/ticker?instrument_name=%s", p.baseURL, instrumentName)
	var resp struct {
		Result tickerResult `json:"result"`
	}
	if err := p.fetcher.GetJSON(ctx, url, &resp); err != nil {
		return tickerResult{}, err
	}
	return resp.Result, nil
}

// IndexPrice fetches the options exchange's own index price. Surface does
// not call it: the underlying comes from the caller.
func (p *Provider) IndexPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	url := fmt.Sprintf("%s/public/get_index_price?index_name=%s_usd", p.baseURL, strings.ToLower(symbol))
	var resp struct {
		Result struct {
			IndexPrice float64 `json:"index_price"`
		} `json:"result"`
	}
	if err := p.fetcher.GetJSON(ctx, url, &resp); err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromFloat(resp.Result.IndexPrice), nil
}
