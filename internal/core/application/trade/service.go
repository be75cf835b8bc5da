package trade

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tdex-network/tdex-escrow/internal/core/application/protocol"
	"github.com/tdex-network/tdex-escrow/internal/core/application/pubsub"
	"github.com/tdex-network/tdex-escrow/internal/core/domain"
)

var (
	ErrServiceNotStarted = errors.New("trade service is not started")
	ErrServiceStarted    = errors.New("trade service is already started")
	ErrOfferNotFound     = errors.New("offer not found")
	ErrNotTradeParty     = errors.New("node is not a party of the trade")
)

const (
	DefaultDepositConfirmations       = 1
	DefaultDepositUnlockConfirmations = 10
	DefaultChainWatchInterval         = 10 * time.Second
	DefaultMailboxReplayRate          = 10
)

// Config holds the tunables of the trade service.
type Config struct {
	Protocol protocol.Config
	// DepositConfirmations is the number of blocks after which both
	// deposits are considered confirmed.
	DepositConfirmations uint64
	// DepositUnlockConfirmations is the number of blocks after which the
	// deposits can be spent.
	DepositUnlockConfirmations uint64
	ChainWatchInterval         time.Duration
	// MailboxReplayRate is the max number of mailbox items replayed per
	// second.
	MailboxReplayRate int
}

// DefaultConfig returns the default trade service config.
func DefaultConfig() Config {
	return Config{
		Protocol:                   protocol.DefaultConfig(),
		DepositConfirmations:       DefaultDepositConfirmations,
		DepositUnlockConfirmations: DefaultDepositUnlockConfirmations,
		ChainWatchInterval:         DefaultChainWatchInterval,
		MailboxReplayRate:          DefaultMailboxReplayRate,
	}
}

// Validate checks the trade service settings, protocol ones included.
func (c Config) Validate() error {
	if err := c.Protocol.Validate(); err != nil {
		return err
	}
	if c.DepositConfirmations == 0 {
		return fmt.Errorf("deposit confirmations must be positive")
	}
	if c.DepositUnlockConfirmations < c.DepositConfirmations {
		return fmt.Errorf(
			"deposit unlock confirmations must not be lower than deposit confirmations",
		)
	}
	if c.ChainWatchInterval <= 0 {
		return fmt.Errorf("chain watch interval must be positive")
	}
	if c.MailboxReplayRate <= 0 {
		return fmt.Errorf("mailbox replay rate must be positive")
	}
	return nil
}

// Service keeps track of the open trades of the local node. It routes
// inbound messages and chain events to the protocol of the trade they
// refer to.
type Service struct {
	svc    protocol.Services
	pubsub *pubsub.Service
	cfg    Config

	lock     sync.RWMutex
	trades   map[string]*protocol.TradeProtocol
	offers   map[string]ownOffer
	last     map[string]domain.Trade
	started  bool
	quit     chan struct{}
	wg       sync.WaitGroup
	mailLock sync.Mutex
}

// NewService returns a trade service using the given collaborators. The
// pubsub service is optional.
func NewService(
	svc protocol.Services, pubsubSvc *pubsub.Service, cfg Config,
) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, domain.NewInvalidArgumentError("%s", err)
	}
	if svc.WalletLock == nil {
		svc.WalletLock = &sync.Mutex{}
	}

	s := &Service{
		pubsub: pubsubSvc,
		cfg:    cfg,
		trades: make(map[string]*protocol.TradeProtocol),
		offers: make(map[string]ownOffer),
		last:   make(map[string]domain.Trade),
	}
	s.svc = svc
	s.svc.OnTradeUpdated = s.onTradeUpdated
	if err := s.svc.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Start restores the open trades, replays the mailbox and starts watching
// the chain.
func (s *Service) Start(ctx context.Context) error {
	s.lock.Lock()
	if s.started {
		s.lock.Unlock()
		return ErrServiceStarted
	}
	s.started = true
	s.quit = make(chan struct{})
	s.lock.Unlock()

	trades, err := s.svc.Repository.GetOpenTrades(ctx)
	if err != nil {
		return fmt.Errorf("failed to restore open trades: %w", err)
	}
	for _, t := range trades {
		p, err := s.register(t)
		if err != nil {
			log.WithError(err).Warnf("failed to restore trade %s", t.ID)
			continue
		}
		s.lock.Lock()
		s.last[t.ID] = *t.Clone()
		s.lock.Unlock()
		p.ResumeResends()
		log.WithField("trade", t.ID).Debug("restored open trade")
	}
	if len(trades) > 0 {
		log.Infof("restored %d open trades", len(trades))
	}

	s.svc.P2P.SetMessageHandler(s.onMessage)

	if err := s.ProcessMailbox(ctx); err != nil {
		log.WithError(err).Warn("failed to process mailbox")
	}

	s.wg.Add(1)
	go s.watchChain()
	return nil
}

// Stop stops the chain watcher and every pending protocol job.
func (s *Service) Stop() {
	s.lock.Lock()
	if !s.started {
		s.lock.Unlock()
		return
	}
	s.started = false
	close(s.quit)
	protocols := make([]*protocol.TradeProtocol, 0, len(s.trades))
	for _, p := range s.trades {
		protocols = append(protocols, p)
	}
	s.lock.Unlock()

	s.wg.Wait()
	for _, p := range protocols {
		p.Close()
	}
	s.svc.P2P.SetMessageHandler(nil)
	log.Debug("trade service stopped")
}

// TakeOffer creates a trade for the given offer where the local node is the
// taker, and starts it by reserving funds and sending the init request.
func (s *Service) TakeOffer(
	ctx context.Context, offer domain.Offer, amount uint64,
	account domain.PaymentAccountPayload,
) (*domain.Trade, error) {
	if !s.isStarted() {
		return nil, ErrServiceNotStarted
	}
	if offer.MakerNodeAddress == s.svc.P2P.Address() {
		return nil, domain.NewInvalidArgumentError("can't take own offer")
	}

	role := domain.RoleBuyerAsTaker
	if offer.Direction == domain.OfferBuy {
		role = domain.RoleSellerAsTaker
	}
	trade, err := domain.NewTrade(offer, role, amount)
	if err != nil {
		return nil, err
	}
	if err := trade.UpdatePeer(domain.PeerTaker, withAccount(account)); err != nil {
		return nil, err
	}

	p, err := s.addTrade(ctx, trade)
	if err != nil {
		return nil, err
	}
	if err := p.TakeOffer(ctx); err != nil {
		return p.Trade(), err
	}
	return p.Trade(), nil
}

// ConfirmPaymentSent notifies the seller and the arbitrator that the buyer
// sent the payment.
func (s *Service) ConfirmPaymentSent(
	ctx context.Context, tradeID string,
) (*domain.Trade, error) {
	p, err := s.getProtocol(tradeID)
	if err != nil {
		return nil, err
	}
	err = p.ConfirmPaymentSent(ctx)
	return p.Trade(), err
}

// ConfirmPaymentReceived releases the funds of the trade to the buyer.
func (s *Service) ConfirmPaymentReceived(
	ctx context.Context, tradeID string,
) (*domain.Trade, error) {
	p, err := s.getProtocol(tradeID)
	if err != nil {
		return nil, err
	}
	err = p.ConfirmPaymentReceived(ctx)
	return p.Trade(), err
}

func (s *Service) GetTrade(ctx context.Context, tradeID string) (*domain.Trade, error) {
	s.lock.RLock()
	p, ok := s.trades[tradeID]
	s.lock.RUnlock()
	if ok {
		return p.Trade(), nil
	}
	return s.svc.Repository.GetTrade(ctx, tradeID)
}

// ListTrades returns the stored trades, only the open ones if requested.
func (s *Service) ListTrades(ctx context.Context, openOnly bool) ([]*domain.Trade, error) {
	if openOnly {
		return s.svc.Repository.GetOpenTrades(ctx)
	}
	return s.svc.Repository.GetAllTrades(ctx)
}

func (s *Service) isStarted() bool {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.started
}

func (s *Service) getProtocol(tradeID string) (*protocol.TradeProtocol, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	if !s.started {
		return nil, ErrServiceNotStarted
	}
	p, ok := s.trades[tradeID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrTradeNotFound, tradeID)
	}
	return p, nil
}

// addTrade stores a new trade and registers its protocol.
func (s *Service) addTrade(
	ctx context.Context, trade *domain.Trade,
) (*protocol.TradeProtocol, error) {
	if err := s.svc.Repository.AddTrade(ctx, trade); err != nil {
		return nil, err
	}
	p, err := s.register(trade)
	if err != nil {
		return nil, err
	}
	s.onTradeUpdated(*trade.Clone())
	log.WithFields(log.Fields{
		"trade": trade.ID,
		"role":  trade.Role.String(),
	}).Info("new trade")
	return p, nil
}

func (s *Service) register(trade *domain.Trade) (*protocol.TradeProtocol, error) {
	p, err := protocol.NewTradeProtocol(trade, s.svc, s.cfg.Protocol)
	if err != nil {
		return nil, err
	}

	s.lock.Lock()
	defer s.lock.Unlock()
	if _, ok := s.trades[trade.ID]; ok {
		p.Close()
		return nil, fmt.Errorf("%w: %s", domain.ErrTradeAlreadyExists, trade.ID)
	}
	s.trades[trade.ID] = p
	return p, nil
}

// onTradeUpdated is invoked by the protocols after every persisted change.
func (s *Service) onTradeUpdated(trade domain.Trade) {
	s.lock.Lock()
	prev, ok := s.last[trade.ID]
	s.last[trade.ID] = trade
	s.lock.Unlock()

	if s.pubsub == nil {
		return
	}
	var prevTrade *domain.Trade
	if ok {
		prevTrade = &prev
	}
	if err := s.pubsub.PublishTradeEvents(prevTrade, trade); err != nil {
		log.WithError(err).WithField("trade", trade.ID).Warn(
			"failed to publish trade events",
		)
	}
}

func withAccount(
	account domain.PaymentAccountPayload,
) func(domain.Peer) (domain.Peer, error) {
	return func(p domain.Peer) (domain.Peer, error) {
		acc := account
		p.PaymentAccountPayload = &acc
		return p, nil
	}
}
