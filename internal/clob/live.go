package clob

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ot-clark/cryptoedge/internal/domain"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// bookEntry is one bid/ask level.
type bookEntry struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

type book struct {
	Bids []bookEntry `json:"bids"`
	Asks []bookEntry `json:"asks"`
}

// orderResponse is the CLOB's /order response.
type orderResponse struct {
	OrderID   string `json:"orderID"`
	Status    string `json:"status"`
	ErrorCode string `json:"errorCode,omitempty"`
	Message   string `json:"message,omitempty"`
}

// LiveExecutor places real fill-or-kill orders against Polymarket's CLOB.
// Grounded on the donor's internal/arbitrage/clob.go CLOBClient
// (PlaceOrder, GetBookPrice) and execution/executor.go's executeLive
// split, with credentials held in an explicit AuthSession rather than
// package state.
type LiveExecutor struct {
	httpClient *http.Client
	baseURL    string
	auth       *AuthSession

	privateKey    *ecdsa.PrivateKey
	signerAddr    common.Address
	funderAddr    common.Address
	signatureType int
}

// NewLiveExecutor builds a LiveExecutor. Credentials are derived lazily
// on the first Execute call via ensureAuth, not at construction time, so
// a dry-run-only process never needs a wallet.
func NewLiveExecutor(baseURL string, pk *ecdsa.PrivateKey, signerAddr, funderAddr common.Address, signatureType int) *LiveExecutor {
	return &LiveExecutor{
		httpClient:    &http.Client{Timeout: 10 * time.Second},
		baseURL:       baseURL,
		privateKey:    pk,
		signerAddr:    signerAddr,
		funderAddr:    funderAddr,
		signatureType: signatureType,
	}
}

func (e *LiveExecutor) ensureAuth(ctx context.Context) (*AuthSession, error) {
	if e.auth != nil {
		return e.auth, nil
	}
	auth, err := NewAuthSession(ctx, e.httpClient, e.baseURL, e.privateKey, e.signerAddr, e.funderAddr, e.signatureType)
	if err != nil {
		return nil, err
	}
	e.auth = auth
	return auth, nil
}

// Execute resolves (side) to an outcome token, reads the top of book for
// that token, and places a fill-or-kill order at the best ask.
//
// Note (spec open question, preserved deliberately per SPEC_FULL.md /
// DESIGN.md): bestAsk on the chosen outcome token is used as the fill
// price for both a long (buy YES) and a short (buy NO) order. For a
// short this is the NO token's own ask, not 1-ask(YES) — those can
// diverge in practice when the two legs of the book aren't mirrored.
// This preserves the donor's behavior rather than correcting it.
func (e *LiveExecutor) Execute(ctx context.Context, order Order) (Fill, error) {
	auth, err := e.ensureAuth(ctx)
	if err != nil {
		return Fill{}, fmt.Errorf("clob auth: %w", err)
	}

	tokenID := order.YesTokenID
	if order.Side == domain.SideShort {
		tokenID = order.NoTokenID
	}

	bestAsk, err := e.fillPrice(ctx, tokenID)
	if err != nil {
		return Fill{}, fmt.Errorf("fetch order book: %w", err)
	}
	if bestAsk.LessThanOrEqual(decimal.Zero) {
		return Fill{}, fmt.Errorf("no ask liquidity for token %s", tokenID)
	}

	shares := order.Notional.Div(bestAsk)

	signed, err := auth.signer.CreateSignedOrder(tokenID, ctfSideBuy, bestAsk, shares)
	if err != nil {
		return Fill{}, fmt.Errorf("sign order: %w", err)
	}

	resp, err := e.submitOrder(ctx, auth, signed, bestAsk, shares)
	if err != nil {
		return Fill{}, err
	}

	log.Info().
		Str("market", order.MarketID).
		Str("token", tokenID).
		Str("price", bestAsk.String()).
		Str("shares", shares.String()).
		Str("orderID", resp.OrderID).
		Msg("live order filled")

	return Fill{FilledPrice: bestAsk, OrderID: resp.OrderID}, nil
}

// fillPrice reads the top of book for tokenID and returns the best ask,
// the price the spec directs the live executor to treat as the fill
// price for both sides.
func (e *LiveExecutor) fillPrice(ctx context.Context, tokenID string) (decimal.Decimal, error) {
	url := fmt.Sprintf("%s/book?token_id=%s", e.baseURL, tokenID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return decimal.Zero, err
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("request book: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return decimal.Zero, fmt.Errorf("book fetch status %d: %s", resp.StatusCode, string(body))
	}

	var b book
	if err := json.NewDecoder(resp.Body).Decode(&b); err != nil {
		return decimal.Zero, fmt.Errorf("decode book: %w", err)
	}
	if len(b.Asks) == 0 {
		return decimal.Zero, fmt.Errorf("empty ask side")
	}
	return decimal.NewFromString(b.Asks[0].Price)
}

// submitOrder places the FOK order and waits for the fill response.
func (e *LiveExecutor) submitOrder(ctx context.Context, auth *AuthSession, signed *SignedCTFOrder, price, size decimal.Decimal) (orderResponse, error) {
	payload := map[string]any{
		"tokenID":    signed.Order.TokenID.String(),
		"side":       sideLabel(signed.Order.Side),
		"size":       size.String(),
		"price":      price.String(),
		"type":       "FOK",
		"feeRateBps": "0",
		"signature":  signed.Signature,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return orderResponse{}, fmt.Errorf("marshal order payload: %w", err)
	}

	const path = "/order"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return orderResponse{}, err
	}
	auth.sign(req, http.MethodPost, path, body)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return orderResponse{}, fmt.Errorf("submit order: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	var out orderResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return orderResponse{}, fmt.Errorf("decode order response: %w: %s", err, string(respBody))
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return out, fmt.Errorf("order rejected: %s %s", out.ErrorCode, out.Message)
	}
	return out, nil
}

func sideLabel(side uint8) string {
	if side == ctfSideSell {
		return "SELL"
	}
	return "BUY"
}
