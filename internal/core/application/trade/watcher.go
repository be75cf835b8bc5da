package trade

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tdex-network/tdex-escrow/internal/core/application/protocol"
	"github.com/tdex-network/tdex-escrow/internal/core/domain"
)

func (s *Service) watchChain() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.ChainWatchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.quit:
			return
		case <-ticker.C:
			s.checkDeposits(context.Background())
		}
	}
}

// checkDeposits drives the chain events of the trades whose deposits are
// published but not unlocked yet. A trader still waiting for the deposit
// response is watched too once both deposit hashes are known.
func (s *Service) checkDeposits(ctx context.Context) {
	s.lock.RLock()
	protocols := make([]*protocol.TradeProtocol, 0, len(s.trades))
	for _, p := range s.trades {
		protocols = append(protocols, p)
	}
	s.lock.RUnlock()

	for _, p := range protocols {
		t := p.Trade()
		if t.Archived || t.HasFailed() || !depositsWatchable(t) {
			continue
		}

		confirmations, err := s.depositConfirmations(ctx, t)
		if err != nil {
			log.WithError(err).WithField("trade", t.ID).Debug(
				"deposits not found",
			)
			continue
		}

		switch t.State {
		case domain.StateSentPublishDepositTxRequest,
			domain.StateSawArrivedPublishDepositTxRequest,
			domain.StateArbitratorPublishedDepositTxs:
			s.fireChainEvent(ctx, t, "deposits seen", p.OnDepositTxsSeen)
		}
		if confirmations >= s.cfg.DepositConfirmations &&
			t.Phase < domain.PhaseDepositsConfirmed {
			s.fireChainEvent(ctx, t, "deposits confirmed", p.OnDepositTxsConfirmed)
		}
		if confirmations >= s.cfg.DepositUnlockConfirmations {
			s.fireChainEvent(ctx, t, "deposits unlocked", p.OnDepositTxsUnlocked)
		}
	}
}

func depositsWatchable(t *domain.Trade) bool {
	if t.Phase >= domain.PhaseDepositsUnlocked {
		return false
	}
	if t.Phase >= domain.PhaseDepositsPublished {
		return true
	}
	return t.Phase == domain.PhaseDepositRequested &&
		t.Maker.DepositTx.Hash != "" && t.Taker.DepositTx.Hash != ""
}

func (s *Service) fireChainEvent(
	ctx context.Context, t *domain.Trade, event string,
	handler func(context.Context) error,
) {
	if err := handler(ctx); err != nil {
		entry := log.WithError(err).WithField("trade", t.ID)
		if errors.Is(err, protocol.ErrPreconditionFailed) {
			entry.Debugf("skipping %s event", event)
			return
		}
		entry.Warnf("failed to handle %s event", event)
	}
}

// depositConfirmations returns the confirmations of the least confirmed
// deposit tx of the trade.
func (s *Service) depositConfirmations(
	ctx context.Context, t *domain.Trade,
) (uint64, error) {
	hashes := []string{t.Maker.DepositTx.Hash, t.Taker.DepositTx.Hash}
	var lowest uint64
	for i, hash := range hashes {
		if hash == "" {
			return 0, fmt.Errorf("missing deposit tx hash")
		}
		confirmations, err := s.svc.Wallet.GetTxConfirmations(ctx, hash)
		if err != nil {
			return 0, err
		}
		if i == 0 || confirmations < lowest {
			lowest = confirmations
		}
	}
	return lowest, nil
}
