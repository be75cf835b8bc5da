package protocol

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/tdex-network/tdex-escrow/internal/core/domain"
)

// verifyArbitrator resolves the pub key ring of the arbitrator chosen by
// the offer from the registry.
var verifyArbitrator = newTask(
	"verify arbitrator",
	func(_ context.Context, pm *ProcessModel) error {
		addr := pm.Trade.Offer.ArbitratorNodeAddress
		ring, err := pm.svc.Arbitrators.GetArbitrator(addr)
		if err != nil {
			return domain.NewInvalidArgumentError(
				"arbitrator %s not registered: %s", addr, err,
			)
		}
		return pm.updatePeer(domain.PeerArbitrator, func(p domain.Peer) (domain.Peer, error) {
			return p.WithIdentity(addr, ring)
		})
	},
)

// validatePaymentMethod checks the trade amount against the limits of the
// payment method of the offer.
var validatePaymentMethod = newTask(
	"validate payment method",
	func(_ context.Context, pm *ProcessModel) error {
		t := pm.Trade
		return pm.svc.PaymentMethods.ValidateAmount(t.Offer.PaymentMethodID, t.Amount)
	},
)

// prepareTraderTerms fills in the local trader terms: account, payment
// method, payload commitment and payout address.
var prepareTraderTerms = newTask(
	"prepare trader terms",
	func(ctx context.Context, pm *ProcessModel) error {
		t := pm.Trade
		self := pm.self()
		if self.PaymentAccountPayload == nil {
			return domain.NewInvalidArgumentError("missing payment account")
		}
		if self.PaymentAccountPayload.PaymentMethodID != t.Offer.PaymentMethodID {
			return domain.NewInvalidArgumentError(
				"payment account method %s doesn't match offer method %s",
				self.PaymentAccountPayload.PaymentMethodID, t.Offer.PaymentMethodID,
			)
		}
		hash, err := self.PaymentAccountPayload.Hash()
		if err != nil {
			return err
		}

		payoutAddress := self.PayoutAddress
		if payoutAddress == "" {
			if payoutAddress, err = pm.svc.Wallet.GetNewAddress(ctx); err != nil {
				return err
			}
		}

		ring := pm.svc.KeyRing.PubKeyRing()
		return pm.updatePeer(t.SelfRole(), func(p domain.Peer) (domain.Peer, error) {
			p, err := p.WithIdentity(pm.svc.P2P.Address(), ring)
			if err != nil {
				return p, err
			}
			p.AccountID = hex.EncodeToString(ring.SignaturePubKey)
			p.PaymentMethodID = t.Offer.PaymentMethodID
			p.PaymentAccountPayloadHash = hash
			p.PayoutAddress = payoutAddress
			return p, nil
		})
	},
)

// reserveFunds sets aside the deposit plus the trade fee of the local
// trader.
var reserveFunds = newTask(
	"reserve funds",
	func(ctx context.Context, pm *ProcessModel) error {
		t := pm.Trade
		if !pm.self().ReserveTx.IsEmpty() {
			return nil
		}

		pm.svc.WalletLock.Lock()
		tx, err := pm.svc.Wallet.CreateReserveTx(
			ctx, t.ID, t.ReserveAmount(t.SelfRole()),
		)
		pm.svc.WalletLock.Unlock()
		if err != nil {
			return fmt.Errorf("failed to reserve funds: %w", err)
		}

		return pm.updatePeer(t.SelfRole(), func(p domain.Peer) (domain.Peer, error) {
			p.ReserveTx = tx
			return p, nil
		})
	},
)

// applyInitTradeRequest checks the received request against the local view
// of the offer and records the terms of the other traders.
var applyInitTradeRequest = newTask(
	"apply init trade request",
	func(_ context.Context, pm *ProcessModel) error {
		t := pm.Trade
		msg, ok := pm.Message.(*domain.InitTradeRequest)
		if !ok {
			return domain.NewInvalidArgumentError("unexpected message %s", pm.Message.Type())
		}

		switch {
		case msg.Offer.ID != t.ID:
			return domain.NewInvalidArgumentError("offer id mismatch")
		case msg.TradeAmount != t.Amount:
			return domain.NewInvalidArgumentError("trade amount mismatch")
		case !msg.Offer.Price.Equal(t.Offer.Price):
			return domain.NewInvalidArgumentError("offer price mismatch")
		case msg.Offer.Direction != t.Offer.Direction:
			return domain.NewInvalidArgumentError("offer direction mismatch")
		case msg.ArbitratorNodeAddress != t.Offer.ArbitratorNodeAddress:
			return domain.NewInvalidArgumentError("arbitrator mismatch")
		case msg.TakerNodeAddress == "" || msg.TakerPubKeyRing.IsEmpty():
			return domain.NewInvalidArgumentError("missing taker identity")
		case msg.TakerPaymentMethodID != t.Offer.PaymentMethodID:
			return domain.NewInvalidArgumentError("taker payment method mismatch")
		}

		if t.SelfRole() != domain.PeerTaker {
			if err := pm.updatePeer(domain.PeerTaker, func(p domain.Peer) (domain.Peer, error) {
				p, err := p.WithIdentity(msg.TakerNodeAddress, msg.TakerPubKeyRing)
				if err != nil {
					return p, err
				}
				p.AccountID = msg.TakerAccountID
				p.PaymentMethodID = msg.TakerPaymentMethodID
				if !msg.TakerReserveTx.IsEmpty() {
					p.ReserveTx = msg.TakerReserveTx
				}
				return p, nil
			}); err != nil {
				return err
			}
		}

		if t.SelfRole() != domain.PeerMaker && !msg.MakerReserveTx.IsEmpty() {
			if err := pm.updatePeer(domain.PeerMaker, func(p domain.Peer) (domain.Peer, error) {
				if msg.MakerPaymentMethodID != t.Offer.PaymentMethodID {
					return p, domain.NewInvalidArgumentError("maker payment method mismatch")
				}
				p.AccountID = msg.MakerAccountID
				p.PaymentMethodID = msg.MakerPaymentMethodID
				p.ReserveTx = msg.MakerReserveTx
				return p, nil
			}); err != nil {
				return err
			}
		}
		return nil
	},
)

// verifyReserveTxs checks that the traders with the given roles reserved
// the expected amounts.
func verifyReserveTxs(roles ...domain.PeerRole) Task {
	return newTask(
		"verify reserve txs",
		func(ctx context.Context, pm *ProcessModel) error {
			t := pm.Trade
			for _, role := range roles {
				tx := t.Peer(role).ReserveTx
				if tx.IsEmpty() {
					return domain.NewInvalidArgumentError("missing %s reserve tx", role)
				}
				if err := pm.svc.Wallet.VerifyReserveTx(
					ctx, t.ID, tx, t.ReserveAmount(role),
				); err != nil {
					return fmt.Errorf("invalid %s reserve tx: %w", role, err)
				}
			}
			return nil
		},
	)
}

// sendInitTradeRequestTo forwards the init trade request, with the terms
// known so far, to the peer with the given role.
func sendInitTradeRequestTo(role domain.PeerRole) Task {
	return newAsyncTask(
		"send init trade request",
		func(ctx context.Context, pm *ProcessModel, complete func(), fail func(error)) {
			t := pm.Trade
			msg := &domain.InitTradeRequest{
				MessageInfo:           pm.selfInfo(),
				Offer:                 t.Offer,
				TradeAmount:           t.Amount,
				TakerNodeAddress:      t.Taker.NodeAddress,
				TakerPubKeyRing:       t.Taker.PubKeyRing,
				TakerAccountID:        t.Taker.AccountID,
				TakerPaymentMethodID:  t.Taker.PaymentMethodID,
				TakerReserveTx:        t.Taker.ReserveTx,
				MakerAccountID:        t.Maker.AccountID,
				MakerPaymentMethodID:  t.Maker.PaymentMethodID,
				MakerReserveTx:        t.Maker.ReserveTx,
				ArbitratorNodeAddress: t.Offer.ArbitratorNodeAddress,
			}
			sendMessages(
				ctx, pm, false, []outbound{{role, msg}}, nil,
				requireDelivery(complete, fail),
			)
		},
	)
}
