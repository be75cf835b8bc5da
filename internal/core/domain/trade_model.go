package domain

import (
	"bytes"

	"github.com/shopspring/decimal"
)

// TradeRole is the role of the local node in a trade.
type TradeRole int

const (
	RoleBuyerAsMaker TradeRole = iota
	RoleBuyerAsTaker
	RoleSellerAsMaker
	RoleSellerAsTaker
	RoleArbitrator
)

var roleToString = map[TradeRole]string{
	RoleBuyerAsMaker:  "BUYER_AS_MAKER",
	RoleBuyerAsTaker:  "BUYER_AS_TAKER",
	RoleSellerAsMaker: "SELLER_AS_MAKER",
	RoleSellerAsTaker: "SELLER_AS_TAKER",
	RoleArbitrator:    "ARBITRATOR",
}

func (r TradeRole) String() string {
	if s, ok := roleToString[r]; ok {
		return s
	}
	return "UNKNOWN"
}

func (r TradeRole) IsMaker() bool {
	return r == RoleBuyerAsMaker || r == RoleSellerAsMaker
}

func (r TradeRole) IsTaker() bool {
	return r == RoleBuyerAsTaker || r == RoleSellerAsTaker
}

func (r TradeRole) IsBuyer() bool {
	return r == RoleBuyerAsMaker || r == RoleBuyerAsTaker
}

func (r TradeRole) IsSeller() bool {
	return r == RoleSellerAsMaker || r == RoleSellerAsTaker
}

func (r TradeRole) IsArbitrator() bool {
	return r == RoleArbitrator
}

// PeerRole identifies one of the three peer records of a trade.
type PeerRole int

const (
	PeerMaker PeerRole = iota
	PeerTaker
	PeerArbitrator
)

func (r PeerRole) String() string {
	switch r {
	case PeerMaker:
		return "maker"
	case PeerTaker:
		return "taker"
	case PeerArbitrator:
		return "arbitrator"
	default:
		return "unknown"
	}
}

// OfferDirection is the direction of an offer from the maker's point of view.
type OfferDirection int

const (
	OfferBuy OfferDirection = iota
	OfferSell
)

func (d OfferDirection) String() string {
	if d == OfferBuy {
		return "BUY"
	}
	return "SELL"
}

// NodeAddress is the network address of a peer.
type NodeAddress string

func (a NodeAddress) String() string {
	return string(a)
}

// PubKeyRing holds the public keys identifying a peer.
type PubKeyRing struct {
	SignaturePubKey  []byte
	EncryptionPubKey []byte
}

// IsEmpty returns whether no key is set.
func (r PubKeyRing) IsEmpty() bool {
	return len(r.SignaturePubKey) == 0 && len(r.EncryptionPubKey) == 0
}

// Equal returns whether both rings hold the same keys.
func (r PubKeyRing) Equal(other PubKeyRing) bool {
	return bytes.Equal(r.SignaturePubKey, other.SignaturePubKey) &&
		bytes.Equal(r.EncryptionPubKey, other.EncryptionPubKey)
}

func (r PubKeyRing) clone() PubKeyRing {
	return PubKeyRing{
		SignaturePubKey:  cloneBytes(r.SignaturePubKey),
		EncryptionPubKey: cloneBytes(r.EncryptionPubKey),
	}
}

// Offer describes the terms published by a maker.
type Offer struct {
	ID                       string
	Direction                OfferDirection
	Price                    decimal.Decimal
	MinAmount                uint64
	MaxAmount                uint64
	CurrencyCode             string
	PaymentMethodID          string
	BuyerSecurityDepositPct  decimal.Decimal
	SellerSecurityDepositPct decimal.Decimal
	MakerFee                 uint64
	TakerFee                 uint64
	MakerNodeAddress         NodeAddress
	MakerPubKeyRing          PubKeyRing
	ArbitratorNodeAddress    NodeAddress
	CreatedAt                int64
}

// TxRef references a transaction by hash, hex and key.
type TxRef struct {
	Hash string
	Hex  string
	Key  string
}

// IsEmpty returns whether the transaction hash is not set.
func (r TxRef) IsEmpty() bool {
	return r.Hash == ""
}

// PaymentAccountPayload is the opaque description of a payment account, the
// protocol only hashes, encrypts and signs it.
type PaymentAccountPayload struct {
	ID              string
	PaymentMethodID string
	Data            map[string]string
	Salt            []byte
}

// AccountAgeWitness proves the registration date of a payment account.
// Signature is made over the trade nonce with the peer's signature key.
type AccountAgeWitness struct {
	Hash      []byte
	Date      int64
	Signature []byte
}

// AckState tracks the acknowledgement of a message sent to a peer.
type AckState struct {
	UID             string
	Arrived         bool
	StoredInMailbox bool
	Acked           bool
	Nacked          bool
	ErrorMessage    string
}

// IsResponded returns whether the peer answered the message, either with an
// ack or a nack.
func (a AckState) IsResponded() bool {
	return a.Acked || a.Nacked
}

// Trade is the persistent record of a single trade.
type Trade struct {
	ID              string
	Role            TradeRole
	Offer           Offer
	Amount          uint64
	Price           decimal.Decimal
	Phase           Phase
	State           State
	Maker           Peer
	Taker           Peer
	Arbitrator      Peer
	ContractAsJSON  string
	ContractHash    []byte
	MultisigAddress string
	PayoutTxHash    string
	PayoutTxHex     string
	PayoutPublished bool
	ErrorMessage    string
	Archived        bool
	CreatedAt       int64
	UpdatedAt       int64
	CompletedAt     int64
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	c := make([]byte, len(b))
	copy(c, b)
	return c
}
