package trade

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/tdex-network/tdex-escrow/internal/core/domain"
)

// ownOffer is an offer published by the local node together with the
// payment account used to settle it.
type ownOffer struct {
	offer   domain.Offer
	account domain.PaymentAccountPayload
}

// PlaceOffer adds an offer to the local offer book. Trades are opened on it
// when the first init trade request arrives. The maker fields of the offer
// are set to the local node identity.
func (s *Service) PlaceOffer(
	_ context.Context, offer domain.Offer, account domain.PaymentAccountPayload,
) (domain.Offer, error) {
	if offer.ID == "" {
		offer.ID = uuid.New().String()
	}
	offer.MakerNodeAddress = s.svc.P2P.Address()
	offer.MakerPubKeyRing = s.svc.KeyRing.PubKeyRing()
	offer.CreatedAt = time.Now().Unix()

	if err := s.validateOffer(offer, account); err != nil {
		return domain.Offer{}, err
	}

	s.lock.Lock()
	defer s.lock.Unlock()
	if _, ok := s.offers[offer.ID]; ok {
		return domain.Offer{}, domain.NewInvalidArgumentError(
			"offer %s already exists", offer.ID,
		)
	}
	if _, ok := s.trades[offer.ID]; ok {
		return domain.Offer{}, domain.NewInvalidArgumentError(
			"offer %s already taken", offer.ID,
		)
	}
	s.offers[offer.ID] = ownOffer{offer, account}

	log.WithFields(log.Fields{
		"offer":     offer.ID,
		"direction": offer.Direction.String(),
		"price":     offer.Price.String(),
	}).Info("offer placed")
	return offer, nil
}

// ListOffers returns the offers of the local node not taken yet.
func (s *Service) ListOffers(_ context.Context) []domain.Offer {
	s.lock.RLock()
	defer s.lock.RUnlock()

	offers := make([]domain.Offer, 0, len(s.offers))
	for _, o := range s.offers {
		offers = append(offers, o.offer)
	}
	sort.Slice(offers, func(i, j int) bool {
		if offers[i].CreatedAt == offers[j].CreatedAt {
			return offers[i].ID < offers[j].ID
		}
		return offers[i].CreatedAt < offers[j].CreatedAt
	})
	return offers
}

// RemoveOffer removes an offer not taken yet from the local offer book.
func (s *Service) RemoveOffer(_ context.Context, offerID string) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if _, ok := s.offers[offerID]; !ok {
		return fmt.Errorf("%w: %s", ErrOfferNotFound, offerID)
	}
	delete(s.offers, offerID)
	return nil
}

// takeOwnOffer removes the offer from the book and returns it.
func (s *Service) takeOwnOffer(offerID string) (ownOffer, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	o, ok := s.offers[offerID]
	if !ok {
		return ownOffer{}, fmt.Errorf("%w: %s", ErrOfferNotFound, offerID)
	}
	delete(s.offers, offerID)
	return o, nil
}

func (s *Service) validateOffer(
	offer domain.Offer, account domain.PaymentAccountPayload,
) error {
	if _, err := s.svc.PaymentMethods.Get(offer.PaymentMethodID); err != nil {
		return err
	}
	if account.PaymentMethodID != offer.PaymentMethodID {
		return domain.NewInvalidArgumentError(
			"payment account method %s doesn't match offer method %s",
			account.PaymentMethodID, offer.PaymentMethodID,
		)
	}
	if !offer.Price.IsPositive() {
		return domain.NewInvalidArgumentError("price must be positive")
	}
	if offer.MinAmount == 0 || offer.MaxAmount < offer.MinAmount {
		return domain.NewInvalidArgumentError(
			"invalid amount range [%d, %d]", offer.MinAmount, offer.MaxAmount,
		)
	}
	if err := s.svc.PaymentMethods.ValidateAmount(
		offer.PaymentMethodID, offer.MaxAmount,
	); err != nil {
		return err
	}
	if offer.BuyerSecurityDepositPct.IsNegative() ||
		offer.SellerSecurityDepositPct.IsNegative() {
		return domain.NewInvalidArgumentError("security deposit must not be negative")
	}
	if _, err := s.svc.Arbitrators.GetArbitrator(offer.ArbitratorNodeAddress); err != nil {
		return domain.NewInvalidArgumentError(
			"arbitrator %s not registered", offer.ArbitratorNodeAddress,
		)
	}
	return nil
}
