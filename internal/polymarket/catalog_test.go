package polymarket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ot-clark/cryptoedge/internal/httpfetch"
)

func TestActiveMarketsNormalizesArrayShapedFields(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{
			"conditionId": "0xabc",
			"question": "Will Bitcoin hit $150k by December 31, 2026?",
			"outcomes": ["Yes", "No"],
			"outcomePrices": ["0.4", "0.6"],
			"clobTokenIds": ["yes-token", "no-token"],
			"endDate": "2026-12-31T23:59:59Z",
			"volume24hr": 1234.5
		}]`))
	}))
	defer srv.Close()

	p := New(httpfetch.New(), srv.URL)
	markets, err := p.ActiveMarkets(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, markets, 1)

	m := markets[0]
	assert.Equal(t, "0xabc", m.ID)
	assert.Equal(t, 0.4, m.PolymarketProb)
	assert.Equal(t, "yes-token", m.YesTokenID)
	assert.Equal(t, "no-token", m.NoTokenID)
	require.NotNil(t, m.EndDate)
}

func TestActiveMarketsNormalizesStringEncodedArrayFields(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{
			"id": "cond-1",
			"question": "Will Ethereum hit $5k by December 31, 2026?",
			"outcomes": "[\"Yes\", \"No\"]",
			"outcomePrices": "[\"0.25\", \"0.75\"]",
			"clobTokenIds": "[\"yes-1\", \"no-1\"]",
			"volume24hr": 50
		}]`))
	}))
	defer srv.Close()

	p := New(httpfetch.New(), srv.URL)
	markets, err := p.ActiveMarkets(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, markets, 1)
	assert.Equal(t, "cond-1", markets[0].ID)
	assert.Equal(t, 0.25, markets[0].PolymarketProb)
	assert.Nil(t, markets[0].EndDate)
}

func TestActiveMarketsDiscardsMarketsMissingOutcomeShape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[
			{"id": "good", "question": "q", "outcomePrices": ["0.3","0.7"], "clobTokenIds": ["y","n"]},
			{"id": "bad-no-prices", "question": "q2", "outcomePrices": [], "clobTokenIds": ["y","n"]}
		]`))
	}))
	defer srv.Close()

	p := New(httpfetch.New(), srv.URL)
	markets, err := p.ActiveMarkets(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, markets, 1)
	assert.Equal(t, "good", markets[0].ID)
}

func TestActiveMarketsPropagatesFetchFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := New(httpfetch.New(), srv.URL)
	_, err := p.ActiveMarkets(context.Background(), 10)
	assert.Error(t, err)
}
