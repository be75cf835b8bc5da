package inmemory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/tdex-network/tdex-escrow/internal/core/domain"
)

type tradeInmemoryStore struct {
	trades map[string]*domain.Trade
	locker *sync.RWMutex
}

type tradeRepositoryImpl struct {
	store *tradeInmemoryStore
}

// NewTradeRepositoryImpl returns a new inmemory TradeRepository
// implementation. Trades are copied in and out of the store.
func NewTradeRepositoryImpl() domain.TradeRepository {
	return &tradeRepositoryImpl{&tradeInmemoryStore{
		trades: make(map[string]*domain.Trade),
		locker: &sync.RWMutex{},
	}}
}

func (r tradeRepositoryImpl) AddTrade(_ context.Context, trade *domain.Trade) error {
	if trade == nil || trade.ID == "" {
		return domain.NewInvalidArgumentError("missing trade")
	}

	r.store.locker.Lock()
	defer r.store.locker.Unlock()

	if _, ok := r.store.trades[trade.ID]; ok {
		return fmt.Errorf("%w: %s", domain.ErrTradeAlreadyExists, trade.ID)
	}
	r.store.trades[trade.ID] = trade.Clone()
	return nil
}

func (r tradeRepositoryImpl) GetTrade(_ context.Context, tradeID string) (*domain.Trade, error) {
	r.store.locker.RLock()
	defer r.store.locker.RUnlock()

	trade, ok := r.store.trades[tradeID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrTradeNotFound, tradeID)
	}
	return trade.Clone(), nil
}

func (r tradeRepositoryImpl) GetAllTrades(_ context.Context) ([]*domain.Trade, error) {
	r.store.locker.RLock()
	defer r.store.locker.RUnlock()

	return r.findTrades(func(*domain.Trade) bool { return true }), nil
}

func (r tradeRepositoryImpl) GetOpenTrades(_ context.Context) ([]*domain.Trade, error) {
	r.store.locker.RLock()
	defer r.store.locker.RUnlock()

	return r.findTrades(func(t *domain.Trade) bool { return !t.Archived }), nil
}

func (r tradeRepositoryImpl) UpdateTrade(
	_ context.Context,
	tradeID string,
	updateFn func(t *domain.Trade) (*domain.Trade, error),
) error {
	r.store.locker.Lock()
	defer r.store.locker.Unlock()

	currentTrade, ok := r.store.trades[tradeID]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrTradeNotFound, tradeID)
	}

	updatedTrade, err := updateFn(currentTrade.Clone())
	if err != nil {
		return err
	}
	if updatedTrade.ID != tradeID {
		return domain.NewInvalidArgumentError("trade id can't change")
	}

	r.store.trades[tradeID] = updatedTrade.Clone()
	return nil
}

func (r tradeRepositoryImpl) findTrades(match func(*domain.Trade) bool) []*domain.Trade {
	trades := make([]*domain.Trade, 0, len(r.store.trades))
	for _, trade := range r.store.trades {
		if match(trade) {
			trades = append(trades, trade.Clone())
		}
	}
	sort.SliceStable(trades, func(i, j int) bool {
		if trades[i].CreatedAt == trades[j].CreatedAt {
			return trades[i].ID < trades[j].ID
		}
		return trades[i].CreatedAt < trades[j].CreatedAt
	})
	return trades
}
