package utils

import (
	"fmt"
	"strconv"

	"github.com/stellar/go/clients/horizonclient"
	"github.com/stellar/go/keypair"
	"github.com/stellar/go/txnbuild"
)

// DisbursementClient builds voucher payouts on the Stellar network.
type DisbursementClient interface {
	ValidateAccount(accountID string) error
	BuildDisbursementTx(source, destination, assetCode, issuer, amount, memo string) (string, error)
}

type StellarClient struct {
	client            *horizonclient.Client
	networkPassphrase string
}

func NewStellarClient(horizonURL, networkPassphrase string) *StellarClient {
	return &StellarClient{
		client:            &horizonclient.Client{HorizonURL: horizonURL},
		networkPassphrase: networkPassphrase,
	}
}

func (s *StellarClient) ValidateAccount(accountID string) error {
	if !ValidAddress(accountID) {
		return fmt.Errorf("invalid account id: %s", accountID)
	}
	_, err := s.client.AccountDetail(horizonclient.AccountRequest{AccountID: accountID})
	if err != nil {
		return fmt.Errorf("invalid or non-existent account: %w", err)
	}
	return nil
}

// BuildDisbursementTx returns the unsigned base64 envelope paying amount
// from the disbursement account.
func (s *StellarClient) BuildDisbursementTx(source, destination, assetCode, issuer, amount, memo string) (string, error) {
	sourceAccount, err := s.client.AccountDetail(horizonclient.AccountRequest{AccountID: source})
	if err != nil {
		return "", fmt.Errorf("failed to load source account: %w", err)
	}

	tx, err := s.BuildPaymentTx(&sourceAccount, destination, assetCode, issuer, amount, memo)
	if err != nil {
		return "", err
	}

	xdr, err := tx.Base64()
	if err != nil {
		return "", fmt.Errorf("failed to encode transaction to XDR: %w", err)
	}
	return xdr, nil
}

// BuildPaymentTx builds a single payment. assetCode "XLM" pays lumens.
func (s *StellarClient) BuildPaymentTx(source txnbuild.Account, destination, assetCode, issuer, amount, memo string) (*txnbuild.Transaction, error) {
	var asset txnbuild.Asset
	if assetCode == "" || assetCode == "XLM" {
		asset = txnbuild.NativeAsset{}
	} else {
		asset = txnbuild.CreditAsset{Code: assetCode, Issuer: issuer}
	}

	params := txnbuild.TransactionParams{
		SourceAccount:        source,
		IncrementSequenceNum: true,
		BaseFee:              txnbuild.MinBaseFee,
		Preconditions:        txnbuild.Preconditions{TimeBounds: txnbuild.NewInfiniteTimeout()},
		Operations: []txnbuild.Operation{
			&txnbuild.Payment{
				Destination: destination,
				Amount:      amount,
				Asset:       asset,
			},
		},
	}
	if memo != "" {
		params.Memo = txnbuild.MemoText(memo)
	}

	tx, err := txnbuild.NewTransaction(params)
	if err != nil {
		return nil, fmt.Errorf("failed to build transaction: %w", err)
	}
	return tx, nil
}

// SignTx signs an envelope. On failure the input envelope is returned
// alongside the error.
func SignTx(envelopeXDR, secret, networkPassphrase string) (string, error) {
	kp, err := keypair.ParseFull(secret)
	if err != nil {
		return envelopeXDR, fmt.Errorf("invalid secret key: %w", err)
	}

	generic, err := txnbuild.TransactionFromXDR(envelopeXDR)
	if err != nil {
		return envelopeXDR, fmt.Errorf("invalid transaction envelope: %w", err)
	}
	tx, ok := generic.Transaction()
	if !ok {
		return envelopeXDR, fmt.Errorf("fee bump transactions are not supported")
	}

	tx, err = tx.Sign(networkPassphrase, kp)
	if err != nil {
		return envelopeXDR, fmt.Errorf("failed to sign transaction: %w", err)
	}
	signed, err := tx.Base64()
	if err != nil {
		return envelopeXDR, fmt.Errorf("failed to encode transaction to XDR: %w", err)
	}
	return signed, nil
}

// ValidAddress reports whether s is a well-formed public account id.
func ValidAddress(s string) bool {
	_, err := keypair.ParseAddress(s)
	return err == nil
}

// FormatAmount renders a voucher amount the way Horizon expects it.
func FormatAmount(amount float64) string {
	return strconv.FormatFloat(amount, 'f', -1, 64)
}
