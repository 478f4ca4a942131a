package claim

import (
	"testing"
	"time"

	"github.com/ot-clark/cryptoedge/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// S4. Parser acceptance.
func TestScenarioS4Acceptance(t *testing.T) {
	c, err := Parse("m1", "Will Bitcoin hit $200k by December 31, 2025?", nil)
	require.NoError(t, err)
	assert.Equal(t, "BTC", c.Symbol)
	assert.True(t, c.TargetPrice.Equal(decimal.NewFromInt(200000)))
	assert.Equal(t, domain.BetOneTouch, c.BetType)
	assert.Equal(t, domain.DirAbove, c.Direction)
	assert.Equal(t, time.Date(2025, time.December, 31, 23, 59, 59, 0, time.UTC), c.Expiry.UTC())
}

// S5. Parser rejection.
func TestScenarioS5Rejection(t *testing.T) {
	_, err := Parse("m2", "MegaETH market cap above $5B in 2026", nil)
	require.Error(t, err)
	require.ErrorIs(t, err, ErrUnparseable)
}

func TestRoundTripFields(t *testing.T) {
	cases := []string{
		"Will Ethereum reach $5,000 before 2027?",
		"Will Solana fall below $80 in 2026?",
		"Will Bitcoin drop under $50000 by 03/15/2026?",
	}
	for _, q := range cases {
		c, err := Parse("m", q, nil)
		require.NoError(t, err, q)
		assert.NotEmpty(t, c.Symbol)
		assert.True(t, c.TargetPrice.IsPositive())
		assert.False(t, c.Expiry.IsZero())
	}
}

func TestRejectsMissingPriceIntent(t *testing.T) {
	_, err := Parse("m", "Bitcoin is a cryptocurrency in 2026", nil)
	require.Error(t, err)
}

func TestFallsBackToHint(t *testing.T) {
	hint := time.Date(2026, time.June, 1, 0, 0, 0, 0, time.UTC)
	c, err := Parse("m", "Will Bitcoin hit $150k?", &hint)
	require.NoError(t, err)
	assert.Equal(t, hint, c.Expiry)
}

func TestRejectsPastExpiry(t *testing.T) {
	_, err := Parse("m", "Will Bitcoin hit $150k by January 1, 2020?", nil)
	require.Error(t, err)
}
