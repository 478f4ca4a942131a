package clob

import (
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestCreateSignedOrderProducesValidSignature(t *testing.T) {
	pk, err := crypto.GenerateKey()
	require.NoError(t, err)

	signerAddr := crypto.PubkeyToAddress(pk.PublicKey)
	signer := NewOrderSigner(pk, signerAddr, signerAddr, 0)

	signed, err := signer.CreateSignedOrder("12345678901234567890", ctfSideBuy, decimal.NewFromFloat(0.40), decimal.NewFromInt(125))
	require.NoError(t, err)
	require.NotEmpty(t, signed.Signature)
	require.Equal(t, "0x", signed.Signature[:2])
	require.Equal(t, signerAddr, signed.Order.Signer)
	require.Equal(t, ctfSideBuy, signed.Order.Side)
}

func TestSignClobAuthMessageIsDeterministicPerInputs(t *testing.T) {
	pk, err := crypto.GenerateKey()
	require.NoError(t, err)
	addr := crypto.PubkeyToAddress(pk.PublicKey)

	sig1, err := signClobAuthMessage(pk, addr, 1000, 0)
	require.NoError(t, err)
	sig2, err := signClobAuthMessage(pk, addr, 1000, 0)
	require.NoError(t, err)
	require.Equal(t, sig1, sig2)

	sig3, err := signClobAuthMessage(pk, addr, 1001, 0)
	require.NoError(t, err)
	require.NotEqual(t, sig1, sig3)
}
