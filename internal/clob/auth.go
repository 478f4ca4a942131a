package clob

import (
	"context"
	"crypto/ecdsa"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"
)

// AuthSession holds one wallet's derived L2 CLOB credentials. It is
// constructed once by LiveExecutor, lazily, on first use, and threaded
// through every signed request explicitly — there is no process-wide
// auth state, per the spec's design note replacing the donor's ambient
// mutable singleton with an explicit value owned by the caller.
type AuthSession struct {
	apiKey     string
	apiSecret  string
	passphrase string
	address    common.Address
	funder     common.Address
	signer     *OrderSigner
}

// apiCreds is the CLOB's derive/create-api-key response shape.
type apiCreds struct {
	ApiKey     string `json:"apiKey"`
	Secret     string `json:"secret"`
	Passphrase string `json:"passphrase"`
}

// NewAuthSession derives L2 API credentials for the given wallet against
// the CLOB's /auth endpoints: it signs the EIP-712 "ClobAuth" message
// (L1 auth), then asks the CLOB to derive (or, failing that, create) an
// L2 API key/secret/passphrase triple bound to that signature.
func NewAuthSession(ctx context.Context, client *http.Client, baseURL string, pk *ecdsa.PrivateKey, signerAddr, funderAddr common.Address, signatureType int) (*AuthSession, error) {
	authAddr := funderAddr
	if authAddr == (common.Address{}) {
		authAddr = signerAddr
	}

	timestamp := time.Now().Unix()
	const nonce = 0

	signature, err := signClobAuthMessage(pk, authAddr, timestamp, nonce)
	if err != nil {
		return nil, fmt.Errorf("sign L1 auth message: %w", err)
	}

	headers := map[string]string{
		"POLY_ADDRESS":   authAddr.Hex(),
		"POLY_SIGNATURE": signature,
		"POLY_TIMESTAMP": strconv.FormatInt(timestamp, 10),
		"POLY_NONCE":     strconv.Itoa(nonce),
	}

	creds, err := deriveOrCreateCreds(ctx, client, baseURL+"/auth/derive-api-key", headers)
	if err != nil {
		creds, err = deriveOrCreateCreds(ctx, client, baseURL+"/auth/api-key", headers)
		if err != nil {
			return nil, fmt.Errorf("derive or create L2 API credentials: %w", err)
		}
	}

	log.Info().Str("address", authAddr.Hex()).Msg("derived L2 CLOB API credentials")

	return &AuthSession{
		apiKey:     creds.ApiKey,
		apiSecret:  creds.Secret,
		passphrase: creds.Passphrase,
		address:    signerAddr,
		funder:     funderAddr,
		signer:     NewOrderSigner(pk, signerAddr, funderAddr, signatureType),
	}, nil
}

func deriveOrCreateCreds(ctx context.Context, client *http.Client, url string, headers map[string]string) (apiCreds, error) {
	method := http.MethodGet
	if strings.HasSuffix(url, "/auth/api-key") {
		method = http.MethodPost
	}

	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return apiCreds{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return apiCreds{}, fmt.Errorf("auth request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return apiCreds{}, fmt.Errorf("auth endpoint %s returned %d: %s", url, resp.StatusCode, string(body))
	}

	var creds apiCreds
	if err := json.Unmarshal(body, &creds); err != nil {
		return apiCreds{}, fmt.Errorf("parse credentials: %w", err)
	}
	return creds, nil
}

// sign attaches the POLY_* L2 auth headers to req: HMAC-SHA256 over
// timestamp+METHOD+path+body, using the API secret base64-decoded first,
// matching py-clob-client's request-signing convention that the donor's
// signL2Request implements.
func (a *AuthSession) sign(req *http.Request, method, path string, body []byte) {
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)

	message := timestamp + method + path
	if len(body) > 0 {
		message += string(body)
	}

	secretBytes, err := base64.URLEncoding.DecodeString(a.apiSecret)
	if err != nil {
		padded := a.apiSecret
		if len(padded)%4 != 0 {
			padded += strings.Repeat("=", 4-len(padded)%4)
		}
		secretBytes, err = base64.URLEncoding.DecodeString(padded)
		if err != nil {
			secretBytes, _ = base64.StdEncoding.DecodeString(a.apiSecret)
		}
	}

	h := hmac.New(sha256.New, secretBytes)
	h.Write([]byte(message))
	signature := base64.URLEncoding.EncodeToString(h.Sum(nil))

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("POLY_API_KEY", a.apiKey)
	req.Header.Set("POLY_SIGNATURE", signature)
	req.Header.Set("POLY_TIMESTAMP", timestamp)
	req.Header.Set("POLY_PASSPHRASE", a.passphrase)
	req.Header.Set("POLY_ADDRESS", a.address.Hex())
}
