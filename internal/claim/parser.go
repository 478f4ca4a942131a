// Package claim deterministically converts a free-text prediction-market
// question into a typed domain.CryptoClaim, or rejects it. Every pattern
// table here is data, not control flow, per the donor's own table-driven
// style (internal/polymarket/window_scanner.go's ordered windowTypes
// slice) generalized to text parsing.
package claim

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/ot-clark/cryptoedge/internal/domain"
	"github.com/shopspring/decimal"
)

// ErrUnparseable is returned for any rejection. Callers treat a rejected
// market as non-crypto and skip it; the spec requires one uniform
// rejection kind rather than a taxonomy of parse failures.
var ErrUnparseable = fmt.Errorf("unparseable market question")

// disqualifyingPatterns are checked before anything else. A single match
// anywhere in the lowercased question rejects the market outright.
var disqualifyingPatterns = []string{
	"market cap", "mcap", "fdv", "tvl", "dominance", "fees", "gas",
	"staking", "airdrop", "etf", "halving", "wrapped", "staked",
	"megaeth",
}

// symbolPatterns is an ordered list of (regex, symbol) pairs; the first
// match wins. Word-boundary anchors keep "eth" from matching inside
// "megaeth" (which is already excluded by the disqualifier above, but the
// anchors protect against other unknown compound names too).
var symbolPatterns = []struct {
	re     *regexp.Regexp
	symbol string
}{
	{regexp.MustCompile(`\b(bitcoin|btc)\b`), "BTC"},
	{regexp.MustCompile(`\b(ethereum|eth)\b`), "ETH"},
	{regexp.MustCompile(`\b(solana|sol)\b`), "SOL"},
	{regexp.MustCompile(`\b(dogecoin|doge)\b`), "DOGE"},
	{regexp.MustCompile(`\b(ripple|xrp)\b`), "XRP"},
	{regexp.MustCompile(`\b(cardano|ada)\b`), "ADA"},
	{regexp.MustCompile(`\b(litecoin|ltc)\b`), "LTC"},
}

var priceIntentKeywords = []string{
	"price", "hit", "reach", "above", "below", "exceed", "surpass",
	"over", "under", "dip", "$",
}

var oneTouchKeywords = []string{
	"hit", "reach", "touch", "surpass", "exceed", "dip", "drop", "crash",
}

var belowKeywords = []string{
	"below", "under", "less than", "fall", "dip", "drop", "crash",
	"sink", "plunge", "decline",
}

var pricePatterns = []struct {
	re         *regexp.Regexp
	multiplier float64
}{
	// "$150k" or "$150 k"
	{regexp.MustCompile(`\$\s*([\d,]+(?:\.\d+)?)\s*k\b`), 1000},
	// "150 thousand"
	{regexp.MustCompile(`([\d,]+(?:\.\d+)?)\s*thousand\b`), 1000},
	// "$150,000" or "$150000"
	{regexp.MustCompile(`\$\s*([\d,]+(?:\.\d+)?)`), 1},
	// "150000 dollars" / "150000 usd"
	{regexp.MustCompile(`([\d,]+(?:\.\d+)?)\s*(?:dollars|usd)\b`), 1},
}

var monthNames = map[string]time.Month{
	"january": time.January, "february": time.February, "march": time.March,
	"april": time.April, "may": time.May, "june": time.June,
	"july": time.July, "august": time.August, "september": time.September,
	"october": time.October, "november": time.November, "december": time.December,
}

var monthDayYearRe = regexp.MustCompile(`(?i)\b(` + monthAlternation() + `)\s+(\d{1,2}),?\s+(\d{4})\b`)
var dayMonthYearRe = regexp.MustCompile(`(?i)\b(\d{1,2})\s+(` + monthAlternation() + `)\s+(\d{4})\b`)
var numericDateRe = regexp.MustCompile(`\b(\d{1,2})/(\d{1,2})/(\d{4})\b`)
var byEndOfYearRe = regexp.MustCompile(`(?i)\bby\s+(?:end of\s+)?(\d{4})\b`)
var beforeYearRe = regexp.MustCompile(`(?i)\bbefore\s+(\d{4})\b`)
var inYearRe = regexp.MustCompile(`(?i)\bin\s+(\d{4})\b`)

func monthAlternation() string {
	names := make([]string, 0, len(monthNames))
	for name := range monthNames {
		names = append(names, name)
	}
	return strings.Join(names, "|")
}

// Parse converts a free-text question (plus an optional market-end-date
// hint used only when no expiry pattern matches) into a CryptoClaim.
func Parse(marketID, question string, endDateHint *time.Time) (domain.CryptoClaim, error) {
	lower := strings.ToLower(question)

	for _, p := range disqualifyingPatterns {
		if strings.Contains(lower, p) {
			return domain.CryptoClaim{}, fmt.Errorf("%w: disqualifying pattern %q", ErrUnparseable, p)
		}
	}

	symbol, ok := detectSymbol(lower)
	if !ok {
		return domain.CryptoClaim{}, fmt.Errorf("%w: no symbol detected", ErrUnparseable)
	}

	if !hasPriceIntent(lower) {
		return domain.CryptoClaim{}, fmt.Errorf("%w: no price-intent keyword", ErrUnparseable)
	}

	target, ok := extractTargetPrice(lower)
	if !ok {
		return domain.CryptoClaim{}, fmt.Errorf("%w: no target price", ErrUnparseable)
	}

	betType := domain.BetBinary
	if containsAny(lower, oneTouchKeywords) {
		betType = domain.BetOneTouch
	}

	direction := domain.DirAbove
	if containsAny(lower, belowKeywords) {
		direction = domain.DirBelow
	}

	expiry, ok := extractExpiry(question)
	if !ok {
		if endDateHint == nil {
			return domain.CryptoClaim{}, fmt.Errorf("%w: no expiry found and no hint", ErrUnparseable)
		}
		expiry = *endDateHint
	}

	if expiry.Before(time.Now()) {
		return domain.CryptoClaim{}, fmt.Errorf("%w: expiry %s is in the past", ErrUnparseable, expiry)
	}

	return domain.CryptoClaim{
		MarketID:    marketID,
		Question:    question,
		Symbol:      symbol,
		TargetPrice: target,
		Expiry:      expiry,
		BetType:     betType,
		Direction:   direction,
	}, nil
}

func detectSymbol(lower string) (string, bool) {
	for _, sp := range symbolPatterns {
		if sp.re.MatchString(lower) {
			return sp.symbol, true
		}
	}
	return "", false
}

func hasPriceIntent(lower string) bool {
	return containsAny(lower, priceIntentKeywords)
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}

func extractTargetPrice(lower string) (decimal.Decimal, bool) {
	for _, pp := range pricePatterns {
		m := pp.re.FindStringSubmatch(lower)
		if m == nil {
			continue
		}
		cleaned := strings.ReplaceAll(m[1], ",", "")
		val, err := strconv.ParseFloat(cleaned, 64)
		if err != nil {
			continue
		}
		return decimal.NewFromFloat(val * pp.multiplier), true
	}
	return decimal.Zero, false
}

func extractExpiry(question string) (time.Time, bool) {
	if m := monthDayYearRe.FindStringSubmatch(question); m != nil {
		month := monthNames[strings.ToLower(m[1])]
		day, _ := strconv.Atoi(m[2])
		year, _ := strconv.Atoi(m[3])
		return time.Date(year, month, day, 23, 59, 59, 0, time.UTC), true
	}
	if m := dayMonthYearRe.FindStringSubmatch(question); m != nil {
		day, _ := strconv.Atoi(m[1])
		month := monthNames[strings.ToLower(m[2])]
		year, _ := strconv.Atoi(m[3])
		return time.Date(year, month, day, 23, 59, 59, 0, time.UTC), true
	}
	if m := numericDateRe.FindStringSubmatch(question); m != nil {
		monthNum, _ := strconv.Atoi(m[1])
		day, _ := strconv.Atoi(m[2])
		year, _ := strconv.Atoi(m[3])
		return time.Date(year, time.Month(monthNum), day, 23, 59, 59, 0, time.UTC), true
	}
	if m := byEndOfYearRe.FindStringSubmatch(question); m != nil {
		year, _ := strconv.Atoi(m[1])
		return time.Date(year, time.December, 31, 23, 59, 59, 0, time.UTC), true
	}
	if m := beforeYearRe.FindStringSubmatch(question); m != nil {
		year, _ := strconv.Atoi(m[1])
		return time.Date(year-1, time.December, 31, 23, 59, 59, 0, time.UTC), true
	}
	if m := inYearRe.FindStringSubmatch(question); m != nil {
		year, _ := strconv.Atoi(m[1])
		return time.Date(year, time.December, 31, 23, 59, 59, 0, time.UTC), true
	}
	return time.Time{}, false
}
