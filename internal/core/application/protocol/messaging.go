package protocol

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/tdex-network/tdex-escrow/internal/core/domain"
	"github.com/tdex-network/tdex-escrow/internal/core/ports"
)

type sendOutcome int

const (
	outcomeArrived sendOutcome = iota
	outcomeStored
	outcomeFault
)

func (o sendOutcome) apply(a domain.AckState) domain.AckState {
	switch o {
	case outcomeArrived:
		a.Arrived = true
	case outcomeStored:
		a.StoredInMailbox = true
	}
	return a
}

// outbound is a message addressed to one of the peers of the trade.
type outbound struct {
	role domain.PeerRole
	msg  domain.Message
}

// sendMessages sends every message and calls done once all sends resolved,
// with the errors of the failed ones. onOutcome, if defined, is applied to
// the working trade while the pipeline is still running.
func sendMessages(
	ctx context.Context, pm *ProcessModel, mailbox bool, msgs []outbound,
	onOutcome func(role domain.PeerRole, outcome sendOutcome),
	done func(faults map[domain.PeerRole]error),
) {
	if len(msgs) == 0 {
		done(nil)
		return
	}

	for _, o := range msgs {
		msgType, uid := o.msg.Type(), o.msg.Info().UID
		// nolint
		pm.updatePeer(o.role, func(p domain.Peer) (domain.Peer, error) {
			return p.WithAck(msgType, domain.AckState{UID: uid}), nil
		})
	}

	var lock sync.Mutex
	pending := len(msgs)
	faults := make(map[domain.PeerRole]error)

	resolve := func(o outbound, outcome sendOutcome, err error) {
		pm.apply(func() {
			msgType := o.msg.Type()
			// nolint
			pm.Trade.UpdatePeer(o.role, func(p domain.Peer) (domain.Peer, error) {
				return p.WithAck(msgType, outcome.apply(p.Ack(msgType))), nil
			})
			if onOutcome != nil {
				onOutcome(o.role, outcome)
			}
		})

		lock.Lock()
		if err != nil {
			faults[o.role] = err
		}
		pending--
		last := pending == 0
		lock.Unlock()

		if last {
			done(faults)
		}
	}

	for _, o := range msgs {
		o := o
		peer := pm.Trade.Peer(o.role)
		once := &sync.Once{}
		listener := ports.SendListener{
			OnArrived: func() {
				once.Do(func() { resolve(o, outcomeArrived, nil) })
			},
			OnStoredInMailbox: func() {
				once.Do(func() { resolve(o, outcomeStored, nil) })
			},
			OnFault: func(err error) {
				once.Do(func() { resolve(o, outcomeFault, err) })
			},
		}

		if mailbox {
			pm.svc.P2P.SendMailbox(ctx, peer.NodeAddress, peer.PubKeyRing, o.msg, listener)
			continue
		}
		pm.svc.P2P.SendDirect(ctx, peer.NodeAddress, peer.PubKeyRing, o.msg, listener)
	}
}

// requireDelivery returns a done callback failing the task if any message
// could not be delivered.
func requireDelivery(
	complete func(), fail func(error),
) func(faults map[domain.PeerRole]error) {
	return func(faults map[domain.PeerRole]error) {
		if len(faults) > 0 {
			roles := make([]domain.PeerRole, 0, len(faults))
			for role := range faults {
				roles = append(roles, role)
			}
			sort.Slice(roles, func(i, j int) bool { return roles[i] < roles[j] })
			fail(fmt.Errorf(
				"failed to send message to %s: %w", roles[0], faults[roles[0]],
			))
			return
		}
		complete()
	}
}

// toOthers addresses the message built by build to both other peers.
func toOthers(
	t *domain.Trade, build func(role domain.PeerRole) domain.Message,
) []outbound {
	msgs := make([]outbound, 0, 2)
	for _, role := range t.OtherRoles() {
		msgs = append(msgs, outbound{role, build(role)})
	}
	return msgs
}

// buildMailboxMessage returns the mailbox message of the given type for the
// peer with the given role. The uid only depends on trade, type and
// receiver, so resends replace the previous copy in the receiver's mailbox.
func buildMailboxMessage(
	t *domain.Trade, msgType domain.MessageType, role domain.PeerRole,
	sender domain.NodeAddress, senderKeys domain.PubKeyRing,
) (domain.Message, error) {
	info := domain.NewMessageInfo(t.ID, sender, senderKeys)
	info.UID = domain.DeterministicUID(t.ID, msgType, t.Peer(role).NodeAddress)
	self := t.Self()

	switch msgType {
	case domain.MsgDepositsConfirmed:
		msg := &domain.DepositsConfirmedMessage{
			MessageInfo:        info,
			UpdatedMultisigHex: self.UpdatedMultisigHex,
		}
		if !t.Role.IsBuyer() {
			msg.SellerPaymentAccountKey = t.Seller().PaymentAccountKey
		}
		if t.Role.IsArbitrator() {
			msg.BuyerSecurityDeposit = t.Buyer().SecurityDeposit
			msg.SellerSecurityDeposit = t.Seller().SecurityDeposit
		}
		return msg, nil
	case domain.MsgPaymentSent:
		if t.PayoutTxHex == "" {
			return nil, fmt.Errorf("missing payout tx")
		}
		return &domain.PaymentSentMessage{
			MessageInfo:            info,
			PayoutTxHex:            t.PayoutTxHex,
			BuyerPaymentAccountKey: self.PaymentAccountKey,
			UpdatedMultisigHex:     self.UpdatedMultisigHex,
		}, nil
	case domain.MsgPaymentReceived:
		if !t.PayoutPublished {
			return nil, fmt.Errorf("payout tx not published")
		}
		return &domain.PaymentReceivedMessage{
			MessageInfo:        info,
			SignedPayoutTxHex:  t.PayoutTxHex,
			PayoutTxHash:       t.PayoutTxHash,
			UpdatedMultisigHex: self.UpdatedMultisigHex,
		}, nil
	default:
		return nil, fmt.Errorf("%s is not a mailbox message", msgType)
	}
}

// deliveryState returns the state reached when a payment message sent to
// the trade peer arrives, is stored in mailbox or fails.
func deliveryState(
	t *domain.Trade, msgType domain.MessageType, role domain.PeerRole,
	outcome sendOutcome,
) (domain.State, bool) {
	var states map[sendOutcome]domain.State
	switch {
	case msgType == domain.MsgPaymentSent && t.Role.IsBuyer() &&
		role == t.SellerRole() && t.Phase == domain.PhasePaymentSent:
		states = map[sendOutcome]domain.State{
			outcomeArrived: domain.StateBuyerSawArrivedPaymentSentMsg,
			outcomeStored:  domain.StateBuyerStoredInMailboxPaymentSentMsg,
			outcomeFault:   domain.StateBuyerSendFailedPaymentSentMsg,
		}
		if t.State == domain.StateBuyerSawArrivedPaymentSentMsg {
			return 0, false
		}
	case msgType == domain.MsgPaymentReceived && t.Role.IsSeller() &&
		role == t.BuyerRole() && t.Phase == domain.PhasePaymentReceived:
		states = map[sendOutcome]domain.State{
			outcomeArrived: domain.StateSellerSawArrivedPaymentReceivedMsg,
			outcomeStored:  domain.StateSellerStoredInMailboxPaymentReceivedMsg,
			outcomeFault:   domain.StateSellerSendFailedPaymentReceivedMsg,
		}
		if t.State == domain.StateSellerSawArrivedPaymentReceivedMsg {
			return 0, false
		}
	default:
		return 0, false
	}

	next := states[outcome]
	if !domain.CanTransition(t.State, next) {
		return 0, false
	}
	return next, true
}

// sendPaymentMessage sends a payment message to both other peers through
// the mailbox and starts the resend jobs. Delivery failures don't fail the
// pipeline, the message is resent until acked.
func sendPaymentMessage(msgType domain.MessageType, sentState domain.State) Task {
	return newAsyncTask(
		fmt.Sprintf("send %s", msgType),
		func(ctx context.Context, pm *ProcessModel, complete func(), fail func(error)) {
			t := pm.Trade
			addr, keys := pm.svc.P2P.Address(), pm.svc.KeyRing.PubKeyRing()

			msgs := make([]outbound, 0, 2)
			for _, role := range t.OtherRoles() {
				msg, err := buildMailboxMessage(t, msgType, role, addr, keys)
				if err != nil {
					fail(err)
					return
				}
				msgs = append(msgs, outbound{role, msg})
			}

			pm.setState(sentState)
			pm.protocol.scheduleResends(t.Clone(), msgType)

			onOutcome := func(role domain.PeerRole, outcome sendOutcome) {
				if next, ok := deliveryState(pm.Trade, msgType, role, outcome); ok {
					pm.setState(next)
				}
			}
			sendMessages(ctx, pm, true, msgs, onOutcome, func(
				faults map[domain.PeerRole]error,
			) {
				for role, err := range faults {
					logger(pm.Trade).WithError(err).Warnf(
						"failed to send %s to %s, will retry", msgType, role,
					)
				}
				complete()
			})
		},
	)
}
