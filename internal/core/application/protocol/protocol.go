package protocol

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tdex-network/tdex-escrow/internal/core/domain"
	"github.com/tdex-network/tdex-escrow/internal/core/ports"
)

// TradeProtocol drives a single trade through the protocol. Every inbound
// message, user action and chain event runs as a pipeline serialized by the
// trade lock.
type TradeProtocol struct {
	mu    sync.Mutex
	trade *domain.Trade

	role   roleStrategy
	svc    Services
	cfg    Config
	resend *resendScheduler

	multisigLock sync.Mutex
	multisig     ports.MultisigWallet

	reprocessLock   sync.Mutex
	reprocessTimers map[string]*time.Timer
	closed          bool
}

// NewTradeProtocol returns the protocol of the given trade.
func NewTradeProtocol(
	trade *domain.Trade, svc Services, cfg Config,
) (*TradeProtocol, error) {
	if trade == nil {
		return nil, domain.NewInvalidArgumentError("missing trade")
	}
	if err := svc.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, domain.NewInvalidArgumentError("%s", err)
	}
	role, err := newRoleStrategy(trade.Role)
	if err != nil {
		return nil, err
	}

	p := &TradeProtocol{
		trade:           trade.Clone(),
		role:            role,
		svc:             svc,
		cfg:             cfg,
		resend:          newResendScheduler(cfg),
		reprocessTimers: make(map[string]*time.Timer),
	}
	return p, nil
}

// Trade returns a copy of the current trade.
func (p *TradeProtocol) Trade() *domain.Trade {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.trade.Clone()
}

// Close stops the pending resends and reprocess attempts.
func (p *TradeProtocol) Close() {
	p.resend.stop()

	p.reprocessLock.Lock()
	defer p.reprocessLock.Unlock()
	p.closed = true
	for uid, timer := range p.reprocessTimers {
		timer.Stop()
		delete(p.reprocessTimers, uid)
	}
}

// TakeOffer reserves the funds of the taker and sends the init trade
// request.
func (p *TradeProtocol) TakeOffer(ctx context.Context) error {
	f, err := p.role.takeOffer(p.Trade())
	if err != nil {
		return err
	}
	return p.given("take_offer", f).run(ctx)
}

// ConfirmPaymentSent is called by the buyer once the payment was sent.
func (p *TradeProtocol) ConfirmPaymentSent(ctx context.Context) error {
	f, err := p.role.confirmPaymentSent(p.Trade())
	if err != nil {
		return err
	}
	return p.given("confirm_payment_sent", f).run(ctx)
}

// ConfirmPaymentReceived is called by the seller once the payment was
// received.
func (p *TradeProtocol) ConfirmPaymentReceived(ctx context.Context) error {
	f, err := p.role.confirmPaymentReceived(p.Trade())
	if err != nil {
		return err
	}
	return p.given("confirm_payment_received", f).run(ctx)
}

// OnDepositTxsSeen is called when both deposit txs are seen in the network.
func (p *TradeProtocol) OnDepositTxsSeen(ctx context.Context) error {
	return p.given("deposits_seen", depositsSeenFlow()).run(ctx)
}

// OnDepositTxsConfirmed is called when both deposit txs are mined.
func (p *TradeProtocol) OnDepositTxsConfirmed(ctx context.Context) error {
	return p.given("deposits_confirmed", depositsConfirmedFlow()).run(ctx)
}

// OnDepositTxsUnlocked is called when both deposit txs can be spent.
func (p *TradeProtocol) OnDepositTxsUnlocked(ctx context.Context) error {
	return p.given("deposits_unlocked", depositsUnlockedFlow()).run(ctx)
}

// HandleMessage processes a message sent by the given peer. Every message,
// except acks, is answered with exactly one ack or nack.
func (p *TradeProtocol) HandleMessage(
	ctx context.Context, msg domain.Message, sender domain.NodeAddress,
) error {
	return p.handleMessage(ctx, msg, sender, 0)
}

func (p *TradeProtocol) handleMessage(
	ctx context.Context, msg domain.Message, sender domain.NodeAddress,
	attempt int,
) error {
	if ack, ok := msg.(*domain.AckMessage); ok {
		return p.handleAck(ctx, ack, sender)
	}

	f, err := p.flowFor(msg, sender)
	if err != nil {
		p.mu.Lock()
		p.sendAck(ctx, msg, err)
		p.mu.Unlock()
		p.removeFromMailbox(ctx, msg)
		return err
	}

	pl := p.given(string(msg.Type()), f)
	pl.msg = msg
	pl.sender = sender
	pl.attempt = attempt
	return pl.run(ctx)
}

func (p *TradeProtocol) flowFor(
	msg domain.Message, sender domain.NodeAddress,
) (*flow, error) {
	t := p.Trade()
	switch m := msg.(type) {
	case *domain.InitTradeRequest:
		return p.role.initTradeRequest(t, m, sender)
	case *domain.InitMultisigRequest:
		return p.role.initMultisigRequest(t)
	case *domain.SignContractRequest:
		return p.role.signContractRequest(t)
	case *domain.SignContractResponse:
		return p.role.signContractResponse(t)
	case *domain.DepositRequest:
		return p.role.depositRequest(t)
	case *domain.DepositResponse:
		return p.role.depositResponse(t)
	case *domain.DepositsConfirmedMessage:
		return p.role.depositsConfirmedMessage(t)
	case *domain.PaymentSentMessage:
		return p.role.paymentSent(t)
	case *domain.PaymentReceivedMessage:
		return p.role.paymentReceived(t)
	default:
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownMessageType, msg.Type())
	}
}

// pipeline binds a flow to the message or action triggering it.
type pipeline struct {
	p       *TradeProtocol
	name    string
	flow    *flow
	msg     domain.Message
	sender  domain.NodeAddress
	attempt int
}

func (p *TradeProtocol) given(name string, f *flow) *pipeline {
	return &pipeline{p: p, name: name, flow: f}
}

func (pl *pipeline) run(ctx context.Context) error {
	p := pl.p
	p.mu.Lock()
	defer p.mu.Unlock()

	roleLabel := p.trade.Role.String()

	if pl.msg != nil && p.trade.HasFailed() {
		err := fmt.Errorf("%w: %s", domain.ErrTradeFailed, p.trade.ErrorMessage)
		p.sendAck(ctx, pl.msg, err)
		p.removeFromMailbox(ctx, pl.msg)
		pipelineCounter.WithLabelValues(roleLabel, pl.name, resultRefused).Inc()
		return err
	}

	cond := pl.flow.cond
	if pl.msg != nil {
		cond = cond.with(pl.msg, pl.sender)
	}
	senderRole, err := cond.check(p.trade)
	if err != nil {
		entry := logger(p.trade).WithError(err)
		if pl.msg != nil {
			entry.Warnf("refusing %s from %s", pl.msg.Type(), pl.sender)
			p.sendAck(ctx, pl.msg, err)
			p.removeFromMailbox(ctx, pl.msg)
		} else {
			entry.Debugf("skipping %s", pl.name)
		}
		pipelineCounter.WithLabelValues(roleLabel, pl.name, resultRefused).Inc()
		return err
	}

	working := p.trade.Clone()
	pm := newProcessModel(p, working, pl.msg, pl.sender, senderRole)

	tasks := pl.flow.tasks
	if pl.msg != nil {
		tasks = append([]Task{applySenderIdentity}, tasks...)
	}
	err = newTaskRunner(p.cfg.PipelineTimeout, tasks...).run(ctx, pm)
	pm.close()

	if err == nil {
		p.commit(ctx, working)
		if pl.msg != nil {
			p.sendAck(ctx, pl.msg, nil)
			p.removeFromMailbox(ctx, pl.msg)
		}
		pipelineCounter.WithLabelValues(roleLabel, pl.name, resultSuccess).Inc()
		return nil
	}

	pipelineCounter.WithLabelValues(roleLabel, pl.name, resultFailure).Inc()

	if pl.msg != nil && pl.flow.reprocess && !domain.IsInvalidArgument(err) &&
		pl.attempt < p.cfg.MaxReprocessAttempts {
		logger(p.trade).WithError(err).Warnf(
			"failed to process %s, retrying (attempt %d/%d)",
			pl.msg.Type(), pl.attempt+1, p.cfg.MaxReprocessAttempts,
		)
		p.scheduleReprocess(pl.msg, pl.sender, pl.attempt+1)
		return err
	}

	// A timed out pipeline may still be running, its working copy is
	// discarded.
	failed := working
	if errors.Is(err, ErrPipelineTimeout) {
		failed = p.trade.Clone()
	}
	failed.Fail(err.Error())
	logger(failed).WithError(err).Errorf("%s failed", pl.name)
	p.commit(ctx, failed)

	if pl.msg != nil {
		p.sendAck(ctx, pl.msg, err)
		p.removeFromMailbox(ctx, pl.msg)
	}
	return err
}

// multisigWallet opens the multisig wallet of the trade once and shares it
// across runs.
func (p *TradeProtocol) multisigWallet(
	ctx context.Context, tradeID string,
) (ports.MultisigWallet, error) {
	p.multisigLock.Lock()
	defer p.multisigLock.Unlock()

	if p.multisig != nil {
		return p.multisig, nil
	}
	w, err := p.svc.Wallet.OpenMultisigWallet(ctx, tradeID)
	if err != nil {
		return nil, err
	}
	p.multisig = w
	return w, nil
}

// commit makes t the current trade and persists it. Completed and failed
// trades are archived.
func (p *TradeProtocol) commit(ctx context.Context, t *domain.Trade) {
	if !t.Archived && (t.IsCompleted() || t.HasFailed()) {
		t.Archive()
		result := resultSuccess
		if t.HasFailed() {
			result = resultFailure
		}
		tradeCounter.WithLabelValues(t.Role.String(), result).Inc()
	}
	p.trade = t

	if ctx.Err() != nil {
		ctx = context.Background()
	}
	stored := t.Clone()
	if err := p.svc.Repository.UpdateTrade(
		ctx, t.ID, func(_ *domain.Trade) (*domain.Trade, error) {
			return stored, nil
		},
	); err != nil {
		logger(t).WithError(err).Error("failed to persist trade")
	}

	if p.svc.OnTradeUpdated != nil {
		p.svc.OnTradeUpdated(*t.Clone())
	}
}

// update applies fn to a copy of the current trade and commits it. It's
// used by callbacks arriving after the pipeline that triggered them ended.
func (p *TradeProtocol) update(
	ctx context.Context, fn func(t *domain.Trade) bool,
) {
	p.mu.Lock()
	defer p.mu.Unlock()

	t := p.trade.Clone()
	if !fn(t) {
		return
	}
	p.commit(ctx, t)
}

func (p *TradeProtocol) handleAck(
	ctx context.Context, ack *domain.AckMessage, sender domain.NodeAddress,
) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	defer p.removeFromMailbox(ctx, ack)

	t := p.trade.Clone()
	role, ok := t.RoleByAddress(sender)
	if !ok || role == t.SelfRole() {
		return fmt.Errorf(
			"%w: ack from unknown peer %s", ErrPreconditionFailed, sender,
		)
	}

	state := domain.AckState{
		UID:          ack.SourceUID,
		Arrived:      true,
		Acked:        ack.Success,
		Nacked:       !ack.Success,
		ErrorMessage: ack.ErrorMessage,
	}
	// nolint
	t.UpdatePeer(role, func(peer domain.Peer) (domain.Peer, error) {
		state.StoredInMailbox = peer.Ack(ack.SourceType).StoredInMailbox
		return peer.WithAck(ack.SourceType, state), nil
	})
	p.resend.cancel(resendKey{ack.SourceType, role})

	entry := logger(t).WithField("peer", role.String())
	if ack.Success {
		entry.Debugf("%s acked", ack.SourceType)
	} else {
		entry.Warnf("%s nacked: %s", ack.SourceType, ack.ErrorMessage)
	}

	switch ack.SourceType {
	case domain.MsgDepositRequest:
		if t.Phase > domain.PhaseDepositRequested || t.HasFailed() {
			break
		}
		if !ack.Success {
			if err := t.SetState(domain.StatePublishDepositTxRequestFailed); err != nil {
				entry.WithError(err).Warn("ignoring state change")
			}
			t.Fail(fmt.Sprintf("deposit request refused: %s", ack.ErrorMessage))
			break
		}
		if t.State == domain.StateSentPublishDepositTxRequest {
			// nolint
			t.SetState(domain.StateSawArrivedPublishDepositTxRequest)
		}
	case domain.MsgPaymentSent:
		if ack.Success && role == t.SellerRole() &&
			t.Phase == domain.PhasePaymentSent && t.Role.IsBuyer() {
			// nolint
			t.SetState(domain.StateBuyerSawArrivedPaymentSentMsg)
		}
	case domain.MsgPaymentReceived:
		if ack.Success && role == t.BuyerRole() &&
			t.Phase == domain.PhasePaymentReceived && t.Role.IsSeller() {
			// nolint
			t.SetState(domain.StateSellerSawArrivedPaymentReceivedMsg)
		}
	}

	p.commit(ctx, t)
	return nil
}

// sendAck answers msg with an ack, or a nack if err is not nil. Acks of
// mailbox messages travel through the mailbox too.
func (p *TradeProtocol) sendAck(
	ctx context.Context, msg domain.Message, err error,
) {
	if msg.Type() == domain.MsgAck {
		return
	}
	info := msg.Info()
	ack := domain.NewAckMessage(
		msg, p.svc.P2P.Address(), p.svc.KeyRing.PubKeyRing(), err,
	)
	listener := ports.SendListener{
		OnFault: func(err error) {
			log.WithError(err).Warnf(
				"failed to send ack of %s to %s", msg.Type(), info.SenderNodeAddress,
			)
		},
	}

	if msg.Type().IsMailboxMessage() {
		p.svc.P2P.SendMailbox(
			ctx, info.SenderNodeAddress, info.SenderPubKeyRing, ack, listener,
		)
		return
	}
	p.svc.P2P.SendDirect(
		ctx, info.SenderNodeAddress, info.SenderPubKeyRing, ack, listener,
	)
}

func (p *TradeProtocol) removeFromMailbox(
	ctx context.Context, msg domain.Message,
) {
	if !msg.Type().IsMailboxMessage() && msg.Type() != domain.MsgAck {
		return
	}
	if ctx.Err() != nil {
		ctx = context.Background()
	}
	if err := p.svc.P2P.RemoveMailboxItem(ctx, msg.Info().UID); err != nil {
		log.WithError(err).Debugf("failed to remove mailbox item %s", msg.Info().UID)
	}
}

func (p *TradeProtocol) scheduleReprocess(
	msg domain.Message, sender domain.NodeAddress, attempt int,
) {
	p.reprocessLock.Lock()
	defer p.reprocessLock.Unlock()

	if p.closed {
		return
	}
	uid := msg.Info().UID
	if timer, ok := p.reprocessTimers[uid]; ok {
		timer.Stop()
	}
	p.reprocessTimers[uid] = time.AfterFunc(
		reprocessDelay(p.cfg, attempt), func() {
			p.reprocessLock.Lock()
			delete(p.reprocessTimers, uid)
			closed := p.closed
			p.reprocessLock.Unlock()
			if closed {
				return
			}
			// nolint
			p.handleMessage(context.Background(), msg, sender, attempt)
		},
	)
}

// ResumeResends restarts the resend jobs of the payment sent message not
// acked yet, for trades restored after a restart. A seller trade is archived
// once the payout is published, so after a restart the payment received
// message relies on the copy stored in the peer mailboxes.
func (p *TradeProtocol) ResumeResends() {
	p.mu.Lock()
	defer p.mu.Unlock()

	t := p.trade
	if t.HasFailed() || t.Archived {
		return
	}
	if t.Role.IsBuyer() && t.Phase == domain.PhasePaymentSent {
		p.scheduleResends(t, domain.MsgPaymentSent)
	}
}

// scheduleResends starts the resend jobs of the given message for the
// receivers that didn't answer yet.
func (p *TradeProtocol) scheduleResends(t *domain.Trade, msgType domain.MessageType) {
	for _, role := range t.OtherRoles() {
		if t.Peer(role).Ack(msgType).IsResponded() {
			continue
		}
		role := role
		p.resend.schedule(resendKey{msgType, role}, func(attempt int) {
			p.resendMessage(msgType, role, attempt)
		})
	}
}

func (p *TradeProtocol) resendMessage(
	msgType domain.MessageType, role domain.PeerRole, attempt int,
) {
	ctx := context.Background()

	p.mu.Lock()
	defer p.mu.Unlock()

	t := p.trade
	peer := t.Peer(role)
	if peer.Ack(msgType).IsResponded() {
		p.resend.cancel(resendKey{msgType, role})
		return
	}

	msg, err := buildMailboxMessage(
		t, msgType, role, p.svc.P2P.Address(), p.svc.KeyRing.PubKeyRing(),
	)
	if err != nil {
		logger(t).WithError(err).Warnf("failed to rebuild %s", msgType)
		return
	}

	entry := logger(t).WithField("peer", role.String())
	if attempt >= p.cfg.MaxResendAttempts {
		entry.Warnf(
			"resending %s for the last time, no ack after %d attempts",
			msgType, attempt,
		)
	} else {
		entry.Debugf("resending %s (attempt %d)", msgType, attempt)
	}
	resendCounter.WithLabelValues(string(msgType)).Inc()

	p.svc.P2P.SendMailbox(
		ctx, peer.NodeAddress, peer.PubKeyRing, msg,
		p.resendListener(ctx, msgType, role),
	)
}

// resendListener tracks the delivery of a resent payment message.
func (p *TradeProtocol) resendListener(
	ctx context.Context, msgType domain.MessageType, role domain.PeerRole,
) ports.SendListener {
	onOutcome := func(outcome sendOutcome, sendErr error) {
		p.update(ctx, func(t *domain.Trade) bool {
			// nolint
			t.UpdatePeer(role, func(peer domain.Peer) (domain.Peer, error) {
				return peer.WithAck(msgType, outcome.apply(peer.Ack(msgType))), nil
			})
			if next, ok := deliveryState(t, msgType, role, outcome); ok {
				// nolint
				t.SetState(next)
			}
			return true
		})
		if sendErr != nil {
			log.WithError(sendErr).Debugf("failed to resend %s", msgType)
		}
	}
	return ports.SendListener{
		OnArrived:         func() { onOutcome(outcomeArrived, nil) },
		OnStoredInMailbox: func() { onOutcome(outcomeStored, nil) },
		OnFault:           func(err error) { onOutcome(outcomeFault, err) },
	}
}

func logger(t *domain.Trade) *log.Entry {
	return log.WithFields(log.Fields{
		"trade": t.ID,
		"role":  t.Role.String(),
		"state": t.State.String(),
	})
}
