package httpinterface

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tdex-network/tdex-escrow/internal/core/domain"
)

type pubKeyRingJSON struct {
	SignaturePubKey  string `json:"signature_pubkey"`
	EncryptionPubKey string `json:"encryption_pubkey"`
}

func (r pubKeyRingJSON) toDomain() (domain.PubKeyRing, error) {
	sigKey, err := hex.DecodeString(r.SignaturePubKey)
	if err != nil {
		return domain.PubKeyRing{}, fmt.Errorf("invalid signature pubkey: %s", err)
	}
	encKey, err := hex.DecodeString(r.EncryptionPubKey)
	if err != nil {
		return domain.PubKeyRing{}, fmt.Errorf("invalid encryption pubkey: %s", err)
	}
	return domain.PubKeyRing{SignaturePubKey: sigKey, EncryptionPubKey: encKey}, nil
}

func newPubKeyRingJSON(r domain.PubKeyRing) pubKeyRingJSON {
	return pubKeyRingJSON{
		SignaturePubKey:  hex.EncodeToString(r.SignaturePubKey),
		EncryptionPubKey: hex.EncodeToString(r.EncryptionPubKey),
	}
}

type offerJSON struct {
	ID                       string          `json:"id,omitempty"`
	Direction                string          `json:"direction"`
	Price                    decimal.Decimal `json:"price"`
	MinAmount                uint64          `json:"min_amount"`
	MaxAmount                uint64          `json:"max_amount"`
	CurrencyCode             string          `json:"currency_code"`
	PaymentMethodID          string          `json:"payment_method_id"`
	BuyerSecurityDepositPct  decimal.Decimal `json:"buyer_security_deposit_pct"`
	SellerSecurityDepositPct decimal.Decimal `json:"seller_security_deposit_pct"`
	MakerFee                 uint64          `json:"maker_fee"`
	TakerFee                 uint64          `json:"taker_fee"`
	MakerNodeAddress         string          `json:"maker_node_address,omitempty"`
	MakerPubKeyRing          *pubKeyRingJSON `json:"maker_pubkey_ring,omitempty"`
	ArbitratorNodeAddress    string          `json:"arbitrator_node_address"`
	CreatedAt                int64           `json:"created_at,omitempty"`
}

func newOfferJSON(o domain.Offer) offerJSON {
	ring := newPubKeyRingJSON(o.MakerPubKeyRing)
	return offerJSON{
		ID:                       o.ID,
		Direction:                o.Direction.String(),
		Price:                    o.Price,
		MinAmount:                o.MinAmount,
		MaxAmount:                o.MaxAmount,
		CurrencyCode:             o.CurrencyCode,
		PaymentMethodID:          o.PaymentMethodID,
		BuyerSecurityDepositPct:  o.BuyerSecurityDepositPct,
		SellerSecurityDepositPct: o.SellerSecurityDepositPct,
		MakerFee:                 o.MakerFee,
		TakerFee:                 o.TakerFee,
		MakerNodeAddress:         o.MakerNodeAddress.String(),
		MakerPubKeyRing:          &ring,
		ArbitratorNodeAddress:    o.ArbitratorNodeAddress.String(),
		CreatedAt:                o.CreatedAt,
	}
}

func (o offerJSON) toDomain() (domain.Offer, error) {
	var direction domain.OfferDirection
	switch strings.ToUpper(o.Direction) {
	case "BUY":
		direction = domain.OfferBuy
	case "SELL":
		direction = domain.OfferSell
	default:
		return domain.Offer{}, fmt.Errorf("invalid direction %q", o.Direction)
	}

	offer := domain.Offer{
		ID:                       o.ID,
		Direction:                direction,
		Price:                    o.Price,
		MinAmount:                o.MinAmount,
		MaxAmount:                o.MaxAmount,
		CurrencyCode:             o.CurrencyCode,
		PaymentMethodID:          o.PaymentMethodID,
		BuyerSecurityDepositPct:  o.BuyerSecurityDepositPct,
		SellerSecurityDepositPct: o.SellerSecurityDepositPct,
		MakerFee:                 o.MakerFee,
		TakerFee:                 o.TakerFee,
		MakerNodeAddress:         domain.NodeAddress(o.MakerNodeAddress),
		ArbitratorNodeAddress:    domain.NodeAddress(o.ArbitratorNodeAddress),
		CreatedAt:                o.CreatedAt,
	}
	if o.MakerPubKeyRing != nil {
		ring, err := o.MakerPubKeyRing.toDomain()
		if err != nil {
			return domain.Offer{}, err
		}
		offer.MakerPubKeyRing = ring
	}
	return offer, nil
}

type accountJSON struct {
	ID              string            `json:"id"`
	PaymentMethodID string            `json:"payment_method_id"`
	Data            map[string]string `json:"data"`
	Salt            string            `json:"salt,omitempty"`
}

func (a accountJSON) toDomain() (domain.PaymentAccountPayload, error) {
	if a.ID == "" {
		return domain.PaymentAccountPayload{}, fmt.Errorf("missing account id")
	}
	salt, err := hex.DecodeString(a.Salt)
	if err != nil {
		return domain.PaymentAccountPayload{}, fmt.Errorf("invalid salt: %s", err)
	}
	return domain.PaymentAccountPayload{
		ID:              a.ID,
		PaymentMethodID: a.PaymentMethodID,
		Data:            a.Data,
		Salt:            salt,
	}, nil
}

type placeOfferRequest struct {
	Offer   offerJSON   `json:"offer"`
	Account accountJSON `json:"account"`
}

type takeOfferRequest struct {
	Offer   offerJSON   `json:"offer"`
	Amount  uint64      `json:"amount"`
	Account accountJSON `json:"account"`
}

type peerJSON struct {
	NodeAddress     string `json:"node_address,omitempty"`
	PayoutAddress   string `json:"payout_address,omitempty"`
	DepositTxID     string `json:"deposit_txid,omitempty"`
	SecurityDeposit uint64 `json:"security_deposit,omitempty"`
	ContractSigned  bool   `json:"contract_signed"`
}

func newPeerJSON(p domain.Peer) peerJSON {
	return peerJSON{
		NodeAddress:     p.NodeAddress.String(),
		PayoutAddress:   p.PayoutAddress,
		DepositTxID:     p.DepositTx.Hash,
		SecurityDeposit: p.SecurityDeposit,
		ContractSigned:  len(p.ContractSignature) > 0,
	}
}

// tradeJSON is the operator view of a trade. Payment account details and
// multisig material are never exposed.
type tradeJSON struct {
	ID              string    `json:"id"`
	Role            string    `json:"role"`
	Phase           string    `json:"phase"`
	State           string    `json:"state"`
	Offer           offerJSON `json:"offer"`
	Amount          uint64    `json:"amount"`
	Price           string    `json:"price"`
	Volume          string    `json:"volume"`
	Maker           peerJSON  `json:"maker"`
	Taker           peerJSON  `json:"taker"`
	Arbitrator      peerJSON  `json:"arbitrator"`
	MultisigAddress string    `json:"multisig_address,omitempty"`
	PayoutTxID      string    `json:"payout_txid,omitempty"`
	PayoutPublished bool      `json:"payout_published"`
	Error           string    `json:"error,omitempty"`
	Archived        bool      `json:"archived"`
	CreatedAt       string    `json:"created_at"`
	UpdatedAt       string    `json:"updated_at"`
	CompletedAt     string    `json:"completed_at,omitempty"`
}

func newTradeJSON(t *domain.Trade) tradeJSON {
	tj := tradeJSON{
		ID:              t.ID,
		Role:            t.Role.String(),
		Phase:           t.Phase.String(),
		State:           t.State.String(),
		Offer:           newOfferJSON(t.Offer),
		Amount:          t.Amount,
		Price:           t.Price.String(),
		Volume:          t.Volume().String(),
		Maker:           newPeerJSON(t.Maker),
		Taker:           newPeerJSON(t.Taker),
		Arbitrator:      newPeerJSON(t.Arbitrator),
		MultisigAddress: t.MultisigAddress,
		PayoutTxID:      t.PayoutTxHash,
		PayoutPublished: t.PayoutPublished,
		Error:           t.ErrorMessage,
		Archived:        t.Archived,
		CreatedAt:       formatTime(t.CreatedAt),
		UpdatedAt:       formatTime(t.UpdatedAt),
	}
	if t.CompletedAt > 0 {
		tj.CompletedAt = formatTime(t.CompletedAt)
	}
	return tj
}

type paymentMethodJSON struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Crypto         bool   `json:"crypto"`
	MaxTradeAmount uint64 `json:"max_trade_amount"`
	MaxTradePeriod string `json:"max_trade_period"`
}

func formatTime(ts int64) string {
	return time.Unix(ts, 0).UTC().Format(time.RFC3339)
}
