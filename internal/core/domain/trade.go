package domain

import (
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// AtomicUnitsExp is the number of decimals of the traded asset.
const AtomicUnitsExp = 12

// NewTrade returns a trade for the given offer, where the local node plays
// the given role. The amount must be within the offer bounds.
func NewTrade(offer Offer, role TradeRole, amount uint64) (*Trade, error) {
	if offer.ID == "" {
		return nil, NewInvalidArgumentError("missing offer id")
	}
	if _, ok := roleToString[role]; !ok {
		return nil, NewInvalidArgumentError("unknown trade role %d", role)
	}
	if amount == 0 || amount < offer.MinAmount ||
		(offer.MaxAmount > 0 && amount > offer.MaxAmount) {
		return nil, fmt.Errorf(
			"%w: %d not in range [%d, %d]",
			ErrInvalidTradeAmount, amount, offer.MinAmount, offer.MaxAmount,
		)
	}
	if offer.MakerNodeAddress == "" || offer.ArbitratorNodeAddress == "" {
		return nil, NewInvalidArgumentError(
			"offer must specify maker and arbitrator addresses",
		)
	}

	now := time.Now().Unix()
	t := &Trade{
		ID:        offer.ID,
		Role:      role,
		Offer:     offer,
		Amount:    amount,
		Price:     offer.Price,
		Phase:     PhaseInit,
		State:     StatePreparation,
		CreatedAt: now,
		UpdatedAt: now,
	}
	t.Maker.NodeAddress = offer.MakerNodeAddress
	t.Maker.PubKeyRing = offer.MakerPubKeyRing.clone()
	t.Maker.PaymentMethodID = offer.PaymentMethodID
	t.Arbitrator.NodeAddress = offer.ArbitratorNodeAddress
	return t, nil
}

// IsBuyerMaker returns whether the maker is the buyer of the trade.
func (t *Trade) IsBuyerMaker() bool {
	return t.Offer.Direction == OfferBuy
}

// BuyerRole returns the peer role of the buyer.
func (t *Trade) BuyerRole() PeerRole {
	if t.IsBuyerMaker() {
		return PeerMaker
	}
	return PeerTaker
}

// SellerRole returns the peer role of the seller.
func (t *Trade) SellerRole() PeerRole {
	if t.IsBuyerMaker() {
		return PeerTaker
	}
	return PeerMaker
}

// SelfRole returns the peer role of the local node.
func (t *Trade) SelfRole() PeerRole {
	switch {
	case t.Role.IsMaker():
		return PeerMaker
	case t.Role.IsTaker():
		return PeerTaker
	default:
		return PeerArbitrator
	}
}

// TradePeerRole returns the peer role of the counterparty trader. For the
// arbitrator it's the maker.
func (t *Trade) TradePeerRole() PeerRole {
	if t.Role.IsMaker() {
		return PeerTaker
	}
	return PeerMaker
}

// OtherRoles returns the roles of the two peers other than the local one.
func (t *Trade) OtherRoles() []PeerRole {
	self := t.SelfRole()
	roles := make([]PeerRole, 0, 2)
	for _, r := range []PeerRole{PeerMaker, PeerTaker, PeerArbitrator} {
		if r != self {
			roles = append(roles, r)
		}
	}
	return roles
}

// Peer returns the snapshot of the peer with the given role.
func (t *Trade) Peer(role PeerRole) Peer {
	switch role {
	case PeerMaker:
		return t.Maker
	case PeerTaker:
		return t.Taker
	default:
		return t.Arbitrator
	}
}

func (t *Trade) Buyer() Peer     { return t.Peer(t.BuyerRole()) }
func (t *Trade) Seller() Peer    { return t.Peer(t.SellerRole()) }
func (t *Trade) Self() Peer      { return t.Peer(t.SelfRole()) }
func (t *Trade) TradePeer() Peer { return t.Peer(t.TradePeerRole()) }

// UpdatePeer replaces the peer with the given role with the snapshot
// returned by updateFn. Nothing changes if updateFn fails.
func (t *Trade) UpdatePeer(role PeerRole, updateFn func(p Peer) (Peer, error)) error {
	updated, err := updateFn(t.Peer(role).Clone())
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", role, err)
	}
	switch role {
	case PeerMaker:
		t.Maker = updated
	case PeerTaker:
		t.Taker = updated
	case PeerArbitrator:
		t.Arbitrator = updated
	default:
		return NewInvalidArgumentError("unknown peer role %d", role)
	}
	t.UpdatedAt = time.Now().Unix()
	return nil
}

// RoleByAddress returns the role of the peer with the given address.
func (t *Trade) RoleByAddress(addr NodeAddress) (PeerRole, bool) {
	if addr == "" {
		return 0, false
	}
	for _, r := range []PeerRole{PeerMaker, PeerTaker, PeerArbitrator} {
		if t.Peer(r).NodeAddress == addr {
			return r, true
		}
	}
	return 0, false
}

// SetState moves the trade to the given state and advances the phase
// accordingly. Invalid transitions leave the trade untouched.
func (t *Trade) SetState(next State) error {
	if t.State == next {
		return nil
	}
	if !CanTransition(t.State, next) {
		return fmt.Errorf(
			"%w: %s -> %s", ErrInvalidStateTransition, t.State, next,
		)
	}
	t.State = next
	if next.Phase() > t.Phase {
		t.Phase = next.Phase()
	}
	t.UpdatedAt = time.Now().Unix()
	return nil
}

// Fail flags the trade as failed. Only the first reason is kept.
func (t *Trade) Fail(reason string) {
	if t.ErrorMessage != "" {
		return
	}
	if reason == "" {
		reason = "unknown error"
	}
	t.ErrorMessage = reason
	t.UpdatedAt = time.Now().Unix()
}

// HasFailed returns whether the trade is flagged as failed.
func (t *Trade) HasFailed() bool {
	return t.ErrorMessage != ""
}

// Complete moves the trade to the completed state.
func (t *Trade) Complete() error {
	if err := t.SetState(StateTradeCompleted); err != nil {
		return err
	}
	if t.CompletedAt == 0 {
		t.CompletedAt = time.Now().Unix()
	}
	return nil
}

// IsCompleted returns whether the trade reached its final phase.
func (t *Trade) IsCompleted() bool {
	return t.Phase == PhaseCompleted
}

// Archive flags the trade as no longer open.
func (t *Trade) Archive() {
	t.Archived = true
	t.UpdatedAt = time.Now().Unix()
}

// IsDepositRequestFailed returns whether the arbitrator refused or failed to
// publish the deposit transactions.
func (t *Trade) IsDepositRequestFailed() bool {
	return t.State == StatePublishDepositTxRequestFailed
}

// Volume returns the amount of counter currency exchanged.
func (t *Trade) Volume() decimal.Decimal {
	return decimal.New(int64(t.Amount), -AtomicUnitsExp).Mul(t.Price)
}

// SecurityDeposit returns the security deposit expected from the trader
// with the given role.
func (t *Trade) SecurityDeposit(role PeerRole) uint64 {
	pct := t.Offer.SellerSecurityDepositPct
	if role == t.BuyerRole() {
		pct = t.Offer.BuyerSecurityDepositPct
	}
	return uint64(
		decimal.NewFromInt(int64(t.Amount)).Mul(pct).Floor().IntPart(),
	)
}

// TradeFee returns the fee paid by the trader with the given role.
func (t *Trade) TradeFee(role PeerRole) uint64 {
	if role == PeerMaker {
		return t.Offer.MakerFee
	}
	return t.Offer.TakerFee
}

// DepositAmount returns the amount the trader with the given role locks
// into the multisig wallet.
func (t *Trade) DepositAmount(role PeerRole) uint64 {
	amount := t.SecurityDeposit(role)
	if role == t.SellerRole() {
		amount += t.Amount
	}
	return amount
}

// ReserveAmount returns the amount the trader with the given role must set
// aside before the multisig setup starts.
func (t *Trade) ReserveAmount(role PeerRole) uint64 {
	return t.DepositAmount(role) + t.TradeFee(role)
}

// HasAllContractSignatures returns whether the three parties signed the
// contract.
func (t *Trade) HasAllContractSignatures() bool {
	return len(t.Maker.ContractSignature) > 0 &&
		len(t.Taker.ContractSignature) > 0 &&
		len(t.Arbitrator.ContractSignature) > 0
}

// Nonce returns the trade nonce signed by the account age witnesses.
func (t *Trade) Nonce() []byte {
	h := sha256.Sum256([]byte(t.ID))
	return h[:]
}

// Clone returns a deep copy of the trade.
func (t *Trade) Clone() *Trade {
	c := *t
	c.Offer.MakerPubKeyRing = t.Offer.MakerPubKeyRing.clone()
	c.Maker = t.Maker.Clone()
	c.Taker = t.Taker.Clone()
	c.Arbitrator = t.Arbitrator.Clone()
	c.ContractHash = cloneBytes(t.ContractHash)
	return &c
}
