// Package polymarket is the Prediction Market Provider: it fetches the
// gamma catalog of active markets for the Opportunity Pipeline to parse.
// Grounded on the donor's internal/polymarket/window_scanner.go (gamma
// /events REST fetch, decode-then-normalize idiom), generalized here from
// a single-asset "Will BTC go up/down" window scan into the spec's
// general free-text market catalog fetch, and rewritten to use the
// string-or-array normalization the spec's redesign notes call for: the
// donor unmarshalled outcomes/outcomePrices/clobTokenIds as raw JSON
// strings-of-arrays only, and would fail outright on a payload where the
// upstream already returns a native array (gamma does both, depending on
// endpoint/version). This package normalizes both shapes at the boundary
// so the rest of the system only ever sees a canonical two-element slice.
package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/ot-clark/cryptoedge/internal/httpfetch"
	"github.com/ot-clark/cryptoedge/internal/pipeline"
)

// stringOrArray decodes a JSON field that upstream sometimes sends as a
// native array and sometimes as a JSON-encoded string of an array (gamma
// does both depending on endpoint). It always normalizes to []string.
type stringOrArray []string

func (s *stringOrArray) UnmarshalJSON(data []byte) error {
	var arr []string
	if err := json.Unmarshal(data, &arr); err == nil {
		*s = arr
		return nil
	}

	var asString string
	if err := json.Unmarshal(data, &asString); err != nil {
		return fmt.Errorf("outcome field is neither array nor string: %w", err)
	}
	if asString == "" || asString == "null" {
		*s = nil
		return nil
	}
	if err := json.Unmarshal([]byte(asString), &arr); err != nil {
		return fmt.Errorf("decode string-of-json outcome field %q: %w", asString, err)
	}
	*s = arr
	return nil
}

// gammaMarket is the raw decode target for one element of the gamma
// catalog response. Every field the spec names as "string-of-json or
// array" goes through stringOrArray so callers handle one shape.
type gammaMarket struct {
	ConditionID   string        `json:"conditionId"`
	ID            string        `json:"id"`
	Question      string        `json:"question"`
	Outcomes      stringOrArray `json:"outcomes"`
	OutcomePrices stringOrArray `json:"outcomePrices"`
	ClobTokenIds  stringOrArray `json:"clobTokenIds"`
	EndDate       string        `json:"endDate"`
	Volume24hr    float64       `json:"volume24hr"`
}

func (m gammaMarket) marketID() string {
	if m.ConditionID != "" {
		return m.ConditionID
	}
	return m.ID
}

// Provider fetches the gamma catalog of active, non-closed markets.
type Provider struct {
	fetcher *httpfetch.Fetcher
	baseURL string
}

// New builds a Provider against the gamma API base URL (e.g.
// "https://gamma-api.polymarket.com").
func New(fetcher *httpfetch.Fetcher, baseURL string) *Provider {
	return &Provider{fetcher: fetcher, baseURL: baseURL}
}

// ActiveMarkets implements pipeline.MarketCatalog: a single paginated
// call for up to limit most-active (by 24h volume) open markets.
func (p *Provider) ActiveMarkets(ctx context.Context, limit int) ([]pipeline.RawMarket, error) {
	url := fmt.Sprintf(
		"%s/markets?active=true&closed=false&limit=%d&order=volume24hr&ascending=false",
		p.baseURL, limit,
	)

	var raw []gammaMarket
	if err := p.fetcher.GetJSON(ctx, url, &raw); err != nil {
		return nil, fmt.Errorf("fetch gamma markets: %w", err)
	}

	out := make([]pipeline.RawMarket, 0, len(raw))
	for _, m := range raw {
		rm, ok := m.toRawMarket()
		if !ok {
			continue
		}
		out = append(out, rm)
	}
	return out, nil
}

// toRawMarket normalizes one decoded gammaMarket into the pipeline's
// RawMarket shape, discarding markets that don't carry the two-outcome
// shape the rest of the system assumes (the spec's claim/MarketSnapshot
// model is binary-outcome only).
func (m gammaMarket) toRawMarket() (pipeline.RawMarket, bool) {
	if len(m.OutcomePrices) < 2 || len(m.ClobTokenIds) < 2 {
		return pipeline.RawMarket{}, false
	}

	firstPrice, err := strconv.ParseFloat(m.OutcomePrices[0], 64)
	if err != nil {
		return pipeline.RawMarket{}, false
	}

	rm := pipeline.RawMarket{
		ID:             m.marketID(),
		Question:       m.Question,
		PolymarketProb: firstPrice,
		YesTokenID:     m.ClobTokenIds[0],
		NoTokenID:      m.ClobTokenIds[1],
		Volume24h:      m.Volume24hr,
	}

	if m.EndDate != "" {
		if t, err := time.Parse(time.RFC3339, m.EndDate); err == nil {
			rm.EndDate = &t
		}
	}

	return rm, true
}
