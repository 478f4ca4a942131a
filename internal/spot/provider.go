// Package spot is the Spot Price Provider: bulk USD price lookups with a
// distinct rate-limited signal, grounded on the donor's internal/cmc and
// internal/binance REST-polling clients (consolidated here onto the
// shared httpfetch.Fetcher instead of each client rolling its own
// http.Get + json.Decode boilerplate).
package spot

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/ot-clark/cryptoedge/internal/domain"
	"github.com/ot-clark/cryptoedge/internal/httpfetch"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// symbolToOracleID maps a claim symbol to the oracle's coin id, the way
// a CoinGecko-shaped /coins/markets?ids= call expects.
var symbolToOracleID = map[string]string{
	"BTC":  "bitcoin",
	"ETH":  "ethereum",
	"SOL":  "solana",
	"DOGE": "dogecoin",
	"XRP":  "ripple",
	"ADA":  "cardano",
	"LTC":  "litecoin",
}

var oracleIDToSymbol = func() map[string]string {
	m := make(map[string]string, len(symbolToOracleID))
	for sym, id := range symbolToOracleID {
		m[id] = sym
	}
	return m
}()

type marketEntry struct {
	ID           string  `json:"id"`
	Symbol       string  `json:"symbol"`
	CurrentPrice float64 `json:"current_price"`
}

type historicalPoint struct {
	Price float64
	AsOf  time.Time
}

// DefaultSymbols lists every symbol the oracle and stream refresher both
// know how to resolve, used by the entrypoint to size the websocket
// subscription when no narrower symbol list is configured.
func DefaultSymbols() []string {
	symbols := make([]string, 0, len(symbolToOracleID))
	for sym := range symbolToOracleID {
		symbols = append(symbols, sym)
	}
	return symbols
}

// Provider fetches spot prices in bulk from a CoinGecko-shaped oracle.
type Provider struct {
	fetcher *httpfetch.Fetcher
	baseURL string
	stream  *StreamRefresher
}

// New builds a Provider against the given oracle base URL (e.g.
// "https://api.coingecko.com/api/v3").
func New(fetcher *httpfetch.Fetcher, baseURL string) *Provider {
	return &Provider{fetcher: fetcher, baseURL: baseURL}
}

// WithStream attaches a running StreamRefresher so Prices can prefer its
// sub-second-fresh websocket quote over the REST oracle for symbols it
// covers, falling back to the REST value otherwise. Optional: a Provider
// with no attached stream behaves exactly as before.
func (p *Provider) WithStream(stream *StreamRefresher) *Provider {
	p.stream = stream
	return p
}

// Prices bulk-fetches current USD prices for the given symbols in a
// single upstream call. Unknown symbols are simply absent from the
// returned map rather than causing the whole call to fail.
func (p *Provider) Prices(ctx context.Context, symbols []string) (map[string]domain.SpotPrice, error) {
	if len(symbols) == 0 {
		return map[string]domain.SpotPrice{}, nil
	}

	ids := make([]string, 0, len(symbols))
	seen := map[string]bool{}
	for _, s := range symbols {
		id, ok := symbolToOracleID[strings.ToUpper(s)]
		if !ok || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return map[string]domain.SpotPrice{}, nil
	}

	url := fmt.Sprintf("%s/coins/markets?vs_currency=usd&ids=%s", p.baseURL, strings.Join(ids, ","))

	var entries []marketEntry
	if err := p.fetcher.GetJSON(ctx, url, &entries); err != nil {
		if err == httpfetch.ErrRateLimited {
			return nil, httpfetch.ErrRateLimited
		}
		return nil, fmt.Errorf("fetch spot prices: %w", err)
	}

	now := time.Now().UTC()
	result := make(map[string]domain.SpotPrice, len(entries))
	for _, e := range entries {
		sym, ok := oracleIDToSymbol[e.ID]
		if !ok {
			continue
		}
		result[sym] = domain.SpotPrice{
			Symbol: sym,
			Price:  decimal.NewFromFloat(e.CurrentPrice),
			AsOf:   now,
		}
	}

	if p.stream != nil {
		for sym := range result {
			if live, ok := p.stream.Latest(sym); ok {
				result[sym] = live
			}
		}
	}

	log.Debug().Int("requested", len(symbols)).Int("resolved", len(result)).Msg("spot prices fetched")
	return result, nil
}

// HistoricalSeries returns a daily price series for realized-volatility
// computation, the Spot Price Provider's optional capability named in
// the spec. Grounded on the donor's internal/binance/client.go GetKlines,
// generalized from Binance-only klines to the oracle's market_chart
// endpoint so it works for any supported symbol, not just BTC/ETH/SOL.
func (p *Provider) HistoricalSeries(ctx context.Context, symbol string, days int) ([]float64, error) {
	id, ok := symbolToOracleID[strings.ToUpper(symbol)]
	if !ok {
		return nil, fmt.Errorf("historical series: unsupported symbol %s", symbol)
	}

	url := fmt.Sprintf("%s/coins/%s/market_chart?vs_currency=usd&days=%d", p.baseURL, id, days)

	var resp struct {
		Prices [][2]float64 `json:"prices"`
	}
	if err := p.fetcher.GetJSON(ctx, url, &resp); err != nil {
		if err == httpfetch.ErrRateLimited {
			return nil, httpfetch.ErrRateLimited
		}
		return nil, fmt.Errorf("fetch historical series: %w", err)
	}

	prices := make([]float64, 0, len(resp.Prices))
	for _, pt := range resp.Prices {
		prices = append(prices, pt[1])
	}
	return prices, nil
}

// RealizedVolatility computes the annualized standard deviation of daily
// log returns from a price series, used as the Volatility Provider's
// better-than-default fallback (see SPEC_FULL.md §4) when a symbol has no
// options-exchange coverage.
func RealizedVolatility(prices []float64) (float64, bool) {
	if len(prices) < 3 {
		return 0, false
	}

	returns := make([]float64, 0, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		if prices[i-1] <= 0 || prices[i] <= 0 {
			continue
		}
		returns = append(returns, logf(prices[i]/prices[i-1]))
	}
	if len(returns) < 2 {
		return 0, false
	}

	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	variance := 0.0
	for _, r := range returns {
		d := r - mean
		variance += d * d
	}
	variance /= float64(len(returns) - 1)

	dailyStdDev := math.Sqrt(variance)
	const tradingDaysPerYear = 365.0
	return dailyStdDev * math.Sqrt(tradingDaysPerYear), true
}

func logf(x float64) float64 {
	return math.Log(x)
}
