package trade

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/tdex-network/tdex-escrow/internal/core/application/protocol"
	"github.com/tdex-network/tdex-escrow/internal/core/domain"
	"github.com/tdex-network/tdex-escrow/internal/core/ports"
	"go.uber.org/ratelimit"
)

// ProcessMailbox replays the messages stored in the mailbox of the local
// node, in priority order. Messages of completed or archived trades are
// discarded.
func (s *Service) ProcessMailbox(ctx context.Context) error {
	s.mailLock.Lock()
	defer s.mailLock.Unlock()

	items, err := s.svc.P2P.MailboxItems(ctx)
	if err != nil {
		return err
	}
	if len(items) <= 0 {
		return nil
	}
	domain.SortMailboxItems(items)
	log.Debugf("replaying %d mailbox items", len(items))

	limiter := ratelimit.New(s.cfg.MailboxReplayRate)
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return err
		}
		limiter.Take()

		msg := item.Message
		if msg.Type() != domain.MsgAck && s.isClosedTrade(ctx, msg.Info().TradeID) {
			log.WithField("trade", msg.Info().TradeID).Debugf(
				"discarding %s of closed trade", msg.Type(),
			)
			s.discard(ctx, msg)
			continue
		}
		s.onMessage(ctx, msg, item.Sender)
	}
	return nil
}

func (s *Service) onMessage(
	ctx context.Context, msg domain.Message, sender domain.NodeAddress,
) {
	if err := s.routeMessage(ctx, msg, sender); err != nil {
		log.WithError(err).WithField("trade", msg.Info().TradeID).Debugf(
			"failed to handle %s from %s", msg.Type(), sender,
		)
	}
}

// routeMessage hands the message to the protocol of its trade. An init
// trade request for an unknown trade opens it.
func (s *Service) routeMessage(
	ctx context.Context, msg domain.Message, sender domain.NodeAddress,
) error {
	tradeID := msg.Info().TradeID

	s.lock.RLock()
	p, ok := s.trades[tradeID]
	started := s.started
	s.lock.RUnlock()

	if !started {
		return ErrServiceNotStarted
	}
	if ok {
		return p.HandleMessage(ctx, msg, sender)
	}

	req, ok := msg.(*domain.InitTradeRequest)
	if !ok {
		s.discard(ctx, msg)
		return fmt.Errorf("%w: %s", domain.ErrTradeNotFound, tradeID)
	}
	p, err := s.openTrade(ctx, req)
	if err != nil {
		log.WithError(err).WithField("trade", tradeID).Warnf(
			"refusing init trade request from %s", sender,
		)
		s.nack(ctx, msg, err)
		return err
	}
	return p.HandleMessage(ctx, msg, sender)
}

// openTrade creates the trade requested by the given message, as maker if
// the offer is one of the local node, as arbitrator if the local node is
// the one chosen by the offer.
func (s *Service) openTrade(
	ctx context.Context, req *domain.InitTradeRequest,
) (*protocol.TradeProtocol, error) {
	self := s.svc.P2P.Address()

	var trade *domain.Trade
	switch self {
	case req.Offer.MakerNodeAddress:
		own, err := s.takeOwnOffer(req.Offer.ID)
		if err != nil {
			return nil, err
		}
		role := domain.RoleSellerAsMaker
		if own.offer.Direction == domain.OfferBuy {
			role = domain.RoleBuyerAsMaker
		}
		if trade, err = domain.NewTrade(own.offer, role, req.TradeAmount); err != nil {
			return nil, err
		}
		if err := trade.UpdatePeer(domain.PeerMaker, withAccount(own.account)); err != nil {
			return nil, err
		}
	case req.Offer.ArbitratorNodeAddress:
		var err error
		if trade, err = domain.NewTrade(
			req.Offer, domain.RoleArbitrator, req.TradeAmount,
		); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrNotTradeParty, req.Offer.ID)
	}

	p, err := s.addTrade(ctx, trade)
	if err != nil {
		if errors.Is(err, domain.ErrTradeAlreadyExists) {
			if p, err := s.getProtocol(trade.ID); err == nil {
				return p, nil
			}
		}
		return nil, err
	}
	return p, nil
}

func (s *Service) isClosedTrade(ctx context.Context, tradeID string) bool {
	t, err := s.GetTrade(ctx, tradeID)
	if err != nil {
		return false
	}
	return t.Archived || t.IsCompleted()
}

// nack refuses a message that no protocol could handle.
func (s *Service) nack(ctx context.Context, msg domain.Message, err error) {
	info := msg.Info()
	ack := domain.NewAckMessage(
		msg, s.svc.P2P.Address(), s.svc.KeyRing.PubKeyRing(), err,
	)
	listener := ports.SendListener{
		OnFault: func(err error) {
			log.WithError(err).Debugf(
				"failed to send nack of %s to %s", msg.Type(), info.SenderNodeAddress,
			)
		},
	}
	if msg.Type().IsMailboxMessage() {
		s.svc.P2P.SendMailbox(
			ctx, info.SenderNodeAddress, info.SenderPubKeyRing, ack, listener,
		)
	} else {
		s.svc.P2P.SendDirect(
			ctx, info.SenderNodeAddress, info.SenderPubKeyRing, ack, listener,
		)
	}
	s.discard(ctx, msg)
}

// discard removes the message from the mailbox, if stored there.
func (s *Service) discard(ctx context.Context, msg domain.Message) {
	if !msg.Type().IsMailboxMessage() && msg.Type() != domain.MsgAck {
		return
	}
	if err := s.svc.P2P.RemoveMailboxItem(ctx, msg.Info().UID); err != nil {
		log.WithError(err).Debugf("failed to remove mailbox item %s", msg.Info().UID)
	}
}
