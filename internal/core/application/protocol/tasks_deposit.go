package protocol

import (
	"bytes"
	"context"
	"fmt"

	"github.com/tdex-network/tdex-escrow/internal/core/domain"
)

// maybeSendDepositRequest asks the arbitrator to publish the local deposit
// tx once the three parties signed the contract.
var maybeSendDepositRequest = newAsyncTask(
	"send deposit request",
	func(ctx context.Context, pm *ProcessModel, complete func(), fail func(error)) {
		t := pm.Trade
		if t.State != domain.StateContractSigned || !t.HasAllContractSignatures() {
			complete()
			return
		}

		self := pm.self()
		msg := &domain.DepositRequest{
			MessageInfo:       pm.selfInfo(),
			ContractSignature: self.ContractSignature,
			DepositTx:         self.DepositTx,
			PaymentAccountKey: self.PaymentAccountKey,
		}
		pm.setState(domain.StateSentPublishDepositTxRequest)
		sendMessages(
			ctx, pm, false, []outbound{{domain.PeerArbitrator, msg}},
			func(_ domain.PeerRole, outcome sendOutcome) {
				if outcome == outcomeArrived &&
					pm.Trade.State == domain.StateSentPublishDepositTxRequest {
					pm.setState(domain.StateSawArrivedPublishDepositTxRequest)
				}
			},
			requireDelivery(complete, fail),
		)
	},
)

// processDepositRequest verifies the deposit tx of the sender against the
// signed contract and the multisig address.
var processDepositRequest = newTask(
	"process deposit request",
	func(ctx context.Context, pm *ProcessModel) error {
		t := pm.Trade
		msg, ok := pm.Message.(*domain.DepositRequest)
		if !ok {
			return domain.NewInvalidArgumentError("unexpected message %s", pm.Message.Type())
		}
		role := pm.SenderRole
		peer := t.Peer(role)

		if len(t.ContractHash) == 0 {
			return domain.NewInvalidArgumentError("contract not signed yet")
		}
		if msg.DepositTx.Hash == "" || msg.DepositTx.Hash != peer.DepositTx.Hash {
			return domain.NewInvalidArgumentError(
				"deposit tx of %s doesn't match contract", role,
			)
		}
		if err := pm.svc.KeyRing.Verify(
			peer.PubKeyRing, t.ContractHash, msg.ContractSignature,
		); err != nil {
			return domain.NewInvalidArgumentError(
				"invalid contract signature of %s: %s", role, err,
			)
		}
		if len(peer.ContractSignature) > 0 &&
			!bytes.Equal(peer.ContractSignature, msg.ContractSignature) {
			return domain.NewInvalidArgumentError("contract signature of %s changed", role)
		}
		if len(msg.PaymentAccountKey) == 0 {
			return domain.NewInvalidArgumentError("missing payment account key")
		}

		info, err := pm.svc.Wallet.VerifyDepositTx(
			ctx, t.ID, t.MultisigAddress, msg.DepositTx, t.DepositAmount(role),
		)
		if err != nil {
			return fmt.Errorf("invalid deposit tx of %s: %w", role, err)
		}
		var locked uint64
		if role == t.SellerRole() {
			locked = t.Amount
		}
		if info.Amount < locked+info.Fee {
			return domain.NewInvalidArgumentError(
				"deposit of %s doesn't cover trade amount and fee", role,
			)
		}

		return pm.updatePeer(role, func(p domain.Peer) (domain.Peer, error) {
			p.ContractSignature = msg.ContractSignature
			p.DepositTx = msg.DepositTx
			p.PaymentAccountKey = msg.PaymentAccountKey
			p.DepositTxFee = info.Fee
			p.SecurityDeposit = info.Amount - locked - info.Fee
			return p, nil
		})
	},
)

// maybeRelayDepositTxs publishes both deposit txs once both are verified.
// Either both txs are relayed or none is.
var maybeRelayDepositTxs = newAsyncTask(
	"relay deposit txs",
	func(ctx context.Context, pm *ProcessModel, complete func(), fail func(error)) {
		t := pm.Trade
		maker, taker := t.Maker, t.Taker
		if maker.DepositTx.Hex == "" || taker.DepositTx.Hex == "" {
			complete()
			return
		}

		hashes := make([]string, 0, 2)
		var relayErr error
		for _, tx := range []domain.TxRef{maker.DepositTx, taker.DepositTx} {
			hash, err := pm.svc.Wallet.SubmitTxToPool(ctx, tx.Hex)
			if err != nil {
				relayErr = fmt.Errorf("failed to submit deposit tx %s: %w", tx.Hash, err)
				break
			}
			hashes = append(hashes, hash)
		}
		if relayErr == nil {
			if err := pm.svc.Wallet.RelayTxs(ctx, hashes); err != nil {
				relayErr = fmt.Errorf("failed to relay deposit txs: %w", err)
			}
		}

		traders := []domain.PeerRole{domain.PeerMaker, domain.PeerTaker}
		if relayErr != nil {
			depositRelayCounter.WithLabelValues(resultFailure).Inc()
			if len(hashes) > 0 {
				if err := pm.svc.Wallet.FlushTxPool(ctx, hashes); err != nil {
					logger(t).WithError(err).Warn("failed to flush deposit txs from pool")
				}
			}
			pm.setState(domain.StatePublishDepositTxRequestFailed)

			msgs := make([]outbound, 0, len(traders))
			for _, role := range traders {
				msgs = append(msgs, outbound{role, &domain.DepositResponse{
					MessageInfo:  pm.selfInfo(),
					ErrorMessage: relayErr.Error(),
				}})
			}
			sendMessages(ctx, pm, false, msgs, nil, func(map[domain.PeerRole]error) {
				fail(relayErr)
			})
			return
		}

		depositRelayCounter.WithLabelValues(resultSuccess).Inc()
		pm.setState(domain.StateArbitratorPublishedDepositTxs)
		logger(t).Info("deposit txs published")

		msgs := make([]outbound, 0, len(traders))
		for _, role := range traders {
			msgs = append(msgs, outbound{role, &domain.DepositResponse{
				MessageInfo:           pm.selfInfo(),
				BuyerSecurityDeposit:  t.Buyer().SecurityDeposit,
				SellerSecurityDeposit: t.Seller().SecurityDeposit,
			}})
		}
		sendMessages(ctx, pm, false, msgs, nil, func(faults map[domain.PeerRole]error) {
			for role, err := range faults {
				logger(pm.Trade).WithError(err).Warnf(
					"failed to send deposit response to %s", role,
				)
			}
			complete()
		})
	},
)

// processDepositResponse records the outcome of the deposit relay.
var processDepositResponse = newTask(
	"process deposit response",
	func(_ context.Context, pm *ProcessModel) error {
		t := pm.Trade
		msg, ok := pm.Message.(*domain.DepositResponse)
		if !ok {
			return domain.NewInvalidArgumentError("unexpected message %s", pm.Message.Type())
		}

		if msg.ErrorMessage != "" {
			pm.setState(domain.StatePublishDepositTxRequestFailed)
			t.Fail(fmt.Sprintf("arbitrator failed to publish deposit txs: %s", msg.ErrorMessage))
			logger(t).Warn(t.ErrorMessage)
			return nil
		}

		if err := pm.updatePeer(t.BuyerRole(), func(p domain.Peer) (domain.Peer, error) {
			p.SecurityDeposit = msg.BuyerSecurityDeposit
			return p, nil
		}); err != nil {
			return err
		}
		if err := pm.updatePeer(t.SellerRole(), func(p domain.Peer) (domain.Peer, error) {
			p.SecurityDeposit = msg.SellerSecurityDeposit
			return p, nil
		}); err != nil {
			return err
		}
		if t.Phase < domain.PhaseDepositsPublished {
			pm.setState(domain.StateArbitratorPublishedDepositTxs)
		}
		return nil
	},
)

// recordDepositsConfirmed stores the multisig hex of the sender and the
// seller's payment account key, if attached. Security deposits sent by the
// arbitrator fill the ones missing if the deposit response got lost.
var recordDepositsConfirmed = newTask(
	"record deposits confirmed",
	func(_ context.Context, pm *ProcessModel) error {
		t := pm.Trade
		msg, ok := pm.Message.(*domain.DepositsConfirmedMessage)
		if !ok {
			return domain.NewInvalidArgumentError("unexpected message %s", pm.Message.Type())
		}

		if msg.UpdatedMultisigHex != "" {
			if err := pm.updatePeer(pm.SenderRole, func(p domain.Peer) (domain.Peer, error) {
				p.UpdatedMultisigHex = msg.UpdatedMultisigHex
				return p, nil
			}); err != nil {
				return err
			}
		}

		if pm.SenderRole == domain.PeerArbitrator {
			deposits := map[domain.PeerRole]uint64{
				t.BuyerRole():  msg.BuyerSecurityDeposit,
				t.SellerRole(): msg.SellerSecurityDeposit,
			}
			for role, amount := range deposits {
				if err := pm.updatePeer(role, func(p domain.Peer) (domain.Peer, error) {
					if p.SecurityDeposit == 0 {
						p.SecurityDeposit = amount
					}
					return p, nil
				}); err != nil {
					return err
				}
			}
		}

		if len(msg.SellerPaymentAccountKey) > 0 && t.SelfRole() != t.SellerRole() {
			return pm.updatePeer(t.SellerRole(), func(p domain.Peer) (domain.Peer, error) {
				if len(p.PaymentAccountKey) > 0 &&
					!bytes.Equal(p.PaymentAccountKey, msg.SellerPaymentAccountKey) {
					return p, domain.NewInvalidArgumentError(
						"payment account key of seller changed",
					)
				}
				p.PaymentAccountKey = msg.SellerPaymentAccountKey
				return p, nil
			})
		}
		return nil
	},
)

// decryptSellerPaymentAccount lets the buyer read the seller's payment
// account as soon as the key is known.
var decryptSellerPaymentAccount = newTask(
	"decrypt seller payment account",
	func(ctx context.Context, pm *ProcessModel) error {
		if len(pm.Trade.Seller().PaymentAccountKey) == 0 {
			return nil
		}
		return decryptPaymentAccount(ctx, pm, pm.Trade.SellerRole())
	},
)

// sendDepositsConfirmed notifies both other peers that the deposits are
// confirmed. Failed deliveries are only logged.
var sendDepositsConfirmed = newAsyncTask(
	"send deposits confirmed",
	func(ctx context.Context, pm *ProcessModel, complete func(), fail func(error)) {
		t := pm.Trade
		addr, keys := pm.svc.P2P.Address(), pm.svc.KeyRing.PubKeyRing()

		msgs := make([]outbound, 0, 2)
		for _, role := range t.OtherRoles() {
			msg, err := buildMailboxMessage(t, domain.MsgDepositsConfirmed, role, addr, keys)
			if err != nil {
				fail(err)
				return
			}
			msgs = append(msgs, outbound{role, msg})
		}
		sendMessages(ctx, pm, true, msgs, nil, func(faults map[domain.PeerRole]error) {
			for role, err := range faults {
				logger(pm.Trade).WithError(err).Warnf(
					"failed to send deposits confirmed to %s", role,
				)
			}
			complete()
		})
	},
)
