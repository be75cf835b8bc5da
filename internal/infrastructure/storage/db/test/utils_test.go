package db_test

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tdex-network/tdex-escrow/internal/core/domain"
)

func makeRandomTrade() *domain.Trade {
	offer := domain.Offer{
		ID:                       randomId(),
		Direction:                domain.OfferBuy,
		Price:                    decimal.RequireFromString("31250.5"),
		MinAmount:                1e10,
		MaxAmount:                1e12,
		CurrencyCode:             "EUR",
		PaymentMethodID:          "SEPA",
		BuyerSecurityDepositPct:  decimal.RequireFromString("0.15"),
		SellerSecurityDepositPct: decimal.RequireFromString("0.15"),
		MakerNodeAddress:         domain.NodeAddress(randomHex(8) + ".onion:9999"),
		MakerPubKeyRing: domain.PubKeyRing{
			SignaturePubKey:  randomBytes(33),
			EncryptionPubKey: randomBytes(33),
		},
		ArbitratorNodeAddress: domain.NodeAddress(randomHex(8) + ".onion:9999"),
	}
	trade, _ := domain.NewTrade(offer, domain.RoleBuyerAsMaker, 5e11)
	return trade
}

func randomHex(len int) string {
	return hex.EncodeToString(randomBytes(len))
}

func randomId() string {
	return uuid.New().String()
}

func randomBytes(len int) []byte {
	b := make([]byte, len)
	//nolint
	rand.Read(b)
	return b
}
