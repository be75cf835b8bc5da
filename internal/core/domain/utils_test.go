package domain_test

import (
	"crypto/rand"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/tdex-network/tdex-escrow/internal/core/domain"
)

func newTestOffer(direction domain.OfferDirection) domain.Offer {
	return domain.Offer{
		ID:                       uuid.New().String(),
		Direction:                direction,
		Price:                    decimal.RequireFromString("150"),
		MinAmount:                1e11,
		MaxAmount:                1e12,
		CurrencyCode:             "EUR",
		PaymentMethodID:          "SEPA",
		BuyerSecurityDepositPct:  decimal.RequireFromString("0.15"),
		SellerSecurityDepositPct: decimal.RequireFromString("0.15"),
		MakerFee:                 1e9,
		TakerFee:                 2e9,
		MakerNodeAddress:         "maker:9999",
		MakerPubKeyRing:          randomPubKeyRing(),
		ArbitratorNodeAddress:    "arbitrator:9999",
	}
}

func newTestTrade(
	t *testing.T, direction domain.OfferDirection, role domain.TradeRole,
) *domain.Trade {
	trade, err := domain.NewTrade(newTestOffer(direction), role, 5e11)
	require.NoError(t, err)
	return trade
}

func randomPubKeyRing() domain.PubKeyRing {
	return domain.PubKeyRing{
		SignaturePubKey:  randomBytes(33),
		EncryptionPubKey: randomBytes(32),
	}
}

func randomBytes(len int) []byte {
	b := make([]byte, len)
	// nolint
	rand.Read(b)
	return b
}

// fillContractTerms sets every trader term needed to derive a contract.
func fillContractTerms(t *testing.T, trade *domain.Trade) {
	trade.MultisigAddress = "multisig-address"
	for _, role := range []domain.PeerRole{domain.PeerMaker, domain.PeerTaker} {
		role := role
		err := trade.UpdatePeer(role, func(p domain.Peer) (domain.Peer, error) {
			if p.PubKeyRing.IsEmpty() {
				p.NodeAddress = domain.NodeAddress(role.String() + ":9999")
				p.PubKeyRing = randomPubKeyRing()
			}
			p.AccountID = role.String() + "-account"
			p.PaymentMethodID = "SEPA"
			p.PaymentAccountPayloadHash = randomBytes(32)
			p.PayoutAddress = role.String() + "-payout"
			p.DepositTx = domain.TxRef{Hash: role.String() + "-deposit", Hex: "00"}
			return p, nil
		})
		require.NoError(t, err)
	}
}
