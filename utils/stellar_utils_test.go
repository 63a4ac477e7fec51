package utils

import (
	"testing"

	"github.com/stellar/go/keypair"
	"github.com/stellar/go/network"
	"github.com/stellar/go/txnbuild"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignTx(t *testing.T) {
	kp := keypair.MustRandom()
	dest := keypair.MustRandom()
	secret := kp.Seed()

	sourceAccount := txnbuild.SimpleAccount{AccountID: kp.Address(), Sequence: 1}
	client := NewStellarClient("https://horizon-testnet.stellar.org", network.TestNetworkPassphrase)
	tx, err := client.BuildPaymentTx(&sourceAccount, dest.Address(), "XLM", "", "50", "KVM-123456")
	require.NoError(t, err)

	envelopeXDR, err := tx.Base64()
	require.NoError(t, err)

	t.Run("Valid signature", func(t *testing.T) {
		signedXDR, err := SignTx(envelopeXDR, secret, network.TestNetworkPassphrase)
		assert.NoError(t, err)
		assert.NotEmpty(t, signedXDR)
		assert.NotEqual(t, envelopeXDR, signedXDR)

		genericTx, err := txnbuild.TransactionFromXDR(signedXDR)
		require.NoError(t, err)
		stx, ok := genericTx.Transaction()
		assert.True(t, ok)
		assert.Len(t, stx.Signatures(), 1)
	})

	t.Run("Invalid secret key", func(t *testing.T) {
		signedXDR, err := SignTx(envelopeXDR, "invalid_key", network.TestNetworkPassphrase)
		assert.Error(t, err)
		assert.Equal(t, envelopeXDR, signedXDR)
	})

	t.Run("Invalid XDR", func(t *testing.T) {
		signedXDR, err := SignTx("invalid_xdr", secret, network.TestNetworkPassphrase)
		assert.Error(t, err)
		assert.Equal(t, "invalid_xdr", signedXDR)
	})
}

func TestBuildPaymentTx(t *testing.T) {
	client := NewStellarClient("https://horizon-testnet.stellar.org", network.TestNetworkPassphrase)
	source := &txnbuild.SimpleAccount{AccountID: keypair.MustRandom().Address(), Sequence: 1}
	dest := keypair.MustRandom().Address()

	t.Run("Native payment with voucher memo", func(t *testing.T) {
		tx, err := client.BuildPaymentTx(source, dest, "XLM", "", "30", "KVM-654321")
		require.NoError(t, err)
		require.Len(t, tx.Operations(), 1)

		op := tx.Operations()[0].(*txnbuild.Payment)
		assert.Equal(t, "30", op.Amount)
		assert.IsType(t, txnbuild.NativeAsset{}, op.Asset)
		assert.Equal(t, txnbuild.MemoText("KVM-654321"), tx.Memo())
	})

	t.Run("Credit asset payment", func(t *testing.T) {
		issuer := keypair.MustRandom().Address()
		tx, err := client.BuildPaymentTx(source, dest, "USDC", issuer, "20", "")
		require.NoError(t, err)

		op := tx.Operations()[0].(*txnbuild.Payment)
		asset := op.Asset.(txnbuild.CreditAsset)
		assert.Equal(t, "USDC", asset.Code)
		assert.Equal(t, issuer, asset.Issuer)
		assert.Nil(t, tx.Memo())
	})

	t.Run("Invalid destination", func(t *testing.T) {
		_, err := client.BuildPaymentTx(source, "GABC", "XLM", "", "20", "")
		assert.Error(t, err)
	})
}

func TestValidAddressAndAmount(t *testing.T) {
	assert.True(t, ValidAddress(keypair.MustRandom().Address()))
	assert.False(t, ValidAddress("GABC"))
	assert.False(t, ValidAddress(keypair.MustRandom().Seed()))

	assert.Equal(t, "50", FormatAmount(50))
	assert.Equal(t, "12.5", FormatAmount(12.5))
}
