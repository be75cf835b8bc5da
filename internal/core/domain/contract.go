package domain

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// Contract holds the terms of a trade agreed and signed by all parties.
type Contract struct {
	OfferID                        string      `json:"offerId"`
	TradeAmount                    uint64      `json:"tradeAmount"`
	TradePrice                     string      `json:"tradePrice"`
	CurrencyCode                   string      `json:"currencyCode"`
	IsBuyerMakerAndSellerTaker     bool        `json:"isBuyerMakerAndSellerTaker"`
	MakerAccountID                 string      `json:"makerAccountId"`
	TakerAccountID                 string      `json:"takerAccountId"`
	MakerNodeAddress               NodeAddress `json:"makerNodeAddress"`
	TakerNodeAddress               NodeAddress `json:"takerNodeAddress"`
	ArbitratorNodeAddress          NodeAddress `json:"arbitratorNodeAddress"`
	MakerPubKeyRing                PubKeyRing  `json:"makerPubKeyRing"`
	TakerPubKeyRing                PubKeyRing  `json:"takerPubKeyRing"`
	MakerPaymentMethodID           string      `json:"makerPaymentMethodId"`
	TakerPaymentMethodID           string      `json:"takerPaymentMethodId"`
	MakerPaymentAccountPayloadHash []byte      `json:"makerPaymentAccountPayloadHash"`
	TakerPaymentAccountPayloadHash []byte      `json:"takerPaymentAccountPayloadHash"`
	MakerPayoutAddress             string      `json:"makerPayoutAddress"`
	TakerPayoutAddress             string      `json:"takerPayoutAddress"`
	MakerDepositTxHash             string      `json:"makerDepositTxHash"`
	TakerDepositTxHash             string      `json:"takerDepositTxHash"`
	MultisigAddress                string      `json:"multisigAddress"`
}

// NewContract derives the contract from the trade. It fails with
// ErrMissingContractData if any trader term is not known yet.
func NewContract(t *Trade) (*Contract, error) {
	maker, taker := t.Maker, t.Taker
	missing := make([]string, 0)
	check := func(name string, ok bool) {
		if !ok {
			missing = append(missing, name)
		}
	}
	check("maker account id", maker.AccountID != "")
	check("taker account id", taker.AccountID != "")
	check("maker pub key ring", !maker.PubKeyRing.IsEmpty())
	check("taker pub key ring", !taker.PubKeyRing.IsEmpty())
	check("maker payment account hash", len(maker.PaymentAccountPayloadHash) > 0)
	check("taker payment account hash", len(taker.PaymentAccountPayloadHash) > 0)
	check("maker payout address", maker.PayoutAddress != "")
	check("taker payout address", taker.PayoutAddress != "")
	check("maker deposit tx", !maker.DepositTx.IsEmpty())
	check("taker deposit tx", !taker.DepositTx.IsEmpty())
	check("multisig address", t.MultisigAddress != "")
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %v", ErrMissingContractData, missing)
	}

	return &Contract{
		OfferID:                        t.Offer.ID,
		TradeAmount:                    t.Amount,
		TradePrice:                     t.Price.String(),
		CurrencyCode:                   t.Offer.CurrencyCode,
		IsBuyerMakerAndSellerTaker:     t.IsBuyerMaker(),
		MakerAccountID:                 maker.AccountID,
		TakerAccountID:                 taker.AccountID,
		MakerNodeAddress:               maker.NodeAddress,
		TakerNodeAddress:               taker.NodeAddress,
		ArbitratorNodeAddress:          t.Arbitrator.NodeAddress,
		MakerPubKeyRing:                maker.PubKeyRing,
		TakerPubKeyRing:                taker.PubKeyRing,
		MakerPaymentMethodID:           maker.PaymentMethodID,
		TakerPaymentMethodID:           taker.PaymentMethodID,
		MakerPaymentAccountPayloadHash: maker.PaymentAccountPayloadHash,
		TakerPaymentAccountPayloadHash: taker.PaymentAccountPayloadHash,
		MakerPayoutAddress:             maker.PayoutAddress,
		TakerPayoutAddress:             taker.PayoutAddress,
		MakerDepositTxHash:             maker.DepositTx.Hash,
		TakerDepositTxHash:             taker.DepositTx.Hash,
		MultisigAddress:                t.MultisigAddress,
	}, nil
}

// JSON returns the canonical serialization of the contract.
func (c *Contract) JSON() (string, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ContractHash returns the double sha256 of the given contract json.
func ContractHash(contractAsJSON string) []byte {
	return chainhash.DoubleHashB([]byte(contractAsJSON))
}

// SetContract stores the contract and its hash into the trade. A contract
// different from the one already stored is rejected.
func (t *Trade) SetContract(contractAsJSON string) error {
	hash := ContractHash(contractAsJSON)
	if len(t.ContractHash) > 0 && !bytes.Equal(t.ContractHash, hash) {
		return ErrContractMismatch
	}
	t.ContractAsJSON = contractAsJSON
	t.ContractHash = hash
	return nil
}
