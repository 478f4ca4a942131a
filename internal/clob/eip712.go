package clob

import (
	"crypto/ecdsa"
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	cmath "github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/shopspring/decimal"
)

// Polymarket CTF Exchange contract addresses (Polygon mainnet). Adapted
// directly from the donor's internal/arbitrage/eip712.go.
const (
	polygonChainID     = 137
	ctfExchangeAddress = "0x4bFb41d5B3570DeFd03C39a9A4D8dE6Bd8B8982E"
)

// Order sides as the CTF Exchange encodes them.
const (
	ctfSideBuy  = uint8(0)
	ctfSideSell = uint8(1)
)

// CTFOrder is one Polymarket CTF Exchange order, the EIP-712 typed-data
// message signed by the wallet.
type CTFOrder struct {
	Salt          *big.Int
	Maker         common.Address
	Signer        common.Address
	Taker         common.Address
	TokenID       *big.Int
	MakerAmount   *big.Int
	TakerAmount   *big.Int
	Expiration    *big.Int
	Nonce         *big.Int
	FeeRateBps    *big.Int
	Side          uint8
	SignatureType uint8
}

// SignedCTFOrder is an order plus its EIP-712 signature, ready for the
// CLOB's /order endpoint.
type SignedCTFOrder struct {
	Order     *CTFOrder
	Signature string
}

// OrderSigner derives and signs CTF Exchange orders for one wallet. It is
// an explicit value owned by LiveExecutor — never package-level state —
// per the spec's redesign note on ambient auth singletons.
type OrderSigner struct {
	privateKey    *ecdsa.PrivateKey
	signerAddress common.Address
	funderAddress common.Address
	signatureType int
	exchangeAddr  common.Address
}

// NewOrderSigner builds a signer for the given wallet.
func NewOrderSigner(privateKey *ecdsa.PrivateKey, signerAddr, funderAddr common.Address, signatureType int) *OrderSigner {
	return &OrderSigner{
		privateKey:    privateKey,
		signerAddress: signerAddr,
		funderAddress: funderAddr,
		signatureType: signatureType,
		exchangeAddr:  common.HexToAddress(ctfExchangeAddress),
	}
}

// CreateSignedOrder builds and signs a fill-or-kill CTF order buying
// `size` shares of tokenID at `price`, on the given side.
func (s *OrderSigner) CreateSignedOrder(tokenID string, side uint8, price, size decimal.Decimal) (*SignedCTFOrder, error) {
	tokenIDInt, ok := new(big.Int).SetString(tokenID, 10)
	if !ok {
		return nil, fmt.Errorf("invalid token id %q", tokenID)
	}

	priceF, _ := price.Float64()
	sizeF, _ := size.Float64()
	usdcAmount := toTokenDecimals(sizeF * priceF)
	shareAmount := toTokenDecimals(sizeF)

	makerAmount, takerAmount := usdcAmount, shareAmount
	if side == ctfSideSell {
		makerAmount, takerAmount = shareAmount, usdcAmount
	}

	maker := s.funderAddress
	if maker == (common.Address{}) {
		maker = s.signerAddress
	}

	order := &CTFOrder{
		Salt:          generateSalt(),
		Maker:         maker,
		Signer:        s.signerAddress,
		Taker:         common.Address{},
		TokenID:       tokenIDInt,
		MakerAmount:   makerAmount,
		TakerAmount:   takerAmount,
		Expiration:    big.NewInt(0),
		Nonce:         big.NewInt(0),
		FeeRateBps:    big.NewInt(0),
		Side:          side,
		SignatureType: uint8(s.signatureType),
	}

	return s.signOrder(order)
}

func (s *OrderSigner) signOrder(order *CTFOrder) (*SignedCTFOrder, error) {
	typedData := s.buildTypedData(order)

	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("hash domain: %w", err)
	}
	messageHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("hash message: %w", err)
	}

	rawData := append([]byte{0x19, 0x01}, domainSeparator.Bytes()...)
	rawData = append(rawData, messageHash.Bytes()...)
	hash := crypto.Keccak256Hash(rawData)

	sig, err := crypto.Sign(hash.Bytes(), s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("sign order: %w", err)
	}
	if sig[64] < 27 {
		sig[64] += 27
	}

	return &SignedCTFOrder{Order: order, Signature: fmt.Sprintf("0x%x", sig)}, nil
}

func (s *OrderSigner) buildTypedData(order *CTFOrder) apitypes.TypedData {
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"Order": {
				{Name: "salt", Type: "uint256"},
				{Name: "maker", Type: "address"},
				{Name: "signer", Type: "address"},
				{Name: "taker", Type: "address"},
				{Name: "tokenId", Type: "uint256"},
				{Name: "makerAmount", Type: "uint256"},
				{Name: "takerAmount", Type: "uint256"},
				{Name: "expiration", Type: "uint256"},
				{Name: "nonce", Type: "uint256"},
				{Name: "feeRateBps", Type: "uint256"},
				{Name: "side", Type: "uint8"},
				{Name: "signatureType", Type: "uint8"},
			},
		},
		PrimaryType: "Order",
		Domain: apitypes.TypedDataDomain{
			Name:              "Polymarket CTF Exchange",
			Version:           "1",
			ChainId:           cmath.NewHexOrDecimal256(polygonChainID),
			VerifyingContract: s.exchangeAddr.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"salt":          order.Salt.String(),
			"maker":         order.Maker.Hex(),
			"signer":        order.Signer.Hex(),
			"taker":         order.Taker.Hex(),
			"tokenId":       order.TokenID.String(),
			"makerAmount":   order.MakerAmount.String(),
			"takerAmount":   order.TakerAmount.String(),
			"expiration":    order.Expiration.String(),
			"nonce":         order.Nonce.String(),
			"feeRateBps":    order.FeeRateBps.String(),
			"side":          fmt.Sprintf("%d", order.Side),
			"signatureType": fmt.Sprintf("%d", order.SignatureType),
		},
	}
}

func toTokenDecimals(amount float64) *big.Int {
	return big.NewInt(int64(amount * 1e6))
}

func generateSalt() *big.Int {
	buf := make([]byte, 32)
	_, _ = rand.Read(buf)
	return new(big.Int).SetBytes(buf)
}

// signClobAuthMessage signs the CLOB's L2-key derivation message: EIP-712
// domain {ClobAuthDomain, version 1, chainId 137}, message {address,
// timestamp, nonce, "This message attests that I control the given
// wallet"}. Adapted from the donor's signClobAuthMessage.
func signClobAuthMessage(pk *ecdsa.PrivateKey, address common.Address, timestamp, nonce int64) (string, error) {
	domainTypeHash := crypto.Keccak256Hash([]byte("EIP712Domain(string name,string version,uint256 chainId)"))
	nameHash := crypto.Keccak256Hash([]byte("ClobAuthDomain"))
	versionHash := crypto.Keccak256Hash([]byte("1"))
	chainID := big.NewInt(polygonChainID)

	domainSeparator := crypto.Keccak256Hash(
		domainTypeHash.Bytes(),
		nameHash.Bytes(),
		versionHash.Bytes(),
		common.LeftPadBytes(chainID.Bytes(), 32),
	)

	clobAuthTypeHash := crypto.Keccak256Hash([]byte("ClobAuth(address address,string timestamp,uint256 nonce,string message)"))
	timestampStr := fmt.Sprintf("%d", timestamp)
	messageStr := "This message attests that I control the given wallet"

	structHash := crypto.Keccak256Hash(
		clobAuthTypeHash.Bytes(),
		common.LeftPadBytes(address.Bytes(), 32),
		crypto.Keccak256Hash([]byte(timestampStr)).Bytes(),
		common.LeftPadBytes(big.NewInt(nonce).Bytes(), 32),
		crypto.Keccak256Hash([]byte(messageStr)).Bytes(),
	)

	rawData := append([]byte{0x19, 0x01}, domainSeparator.Bytes()...)
	rawData = append(rawData, structHash.Bytes()...)
	hash := crypto.Keccak256Hash(rawData)

	sig, err := crypto.Sign(hash.Bytes(), pk)
	if err != nil {
		return "", fmt.Errorf("sign auth message: %w", err)
	}
	if sig[64] < 27 {
		sig[64] += 27
	}
	return fmt.Sprintf("0x%x", sig), nil
}
