package dbbadger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/dgraph-io/badger/v3"
	"github.com/tdex-network/tdex-escrow/internal/core/domain"
	"github.com/timshannon/badgerhold/v4"
)

type tradeRepositoryImpl struct {
	store *badgerhold.Store
	// Serializes read-modify-write cycles to avoid badger txn conflicts.
	lock *sync.Mutex
}

// NewTradeRepositoryImpl returns a TradeRepository backed by the given
// badgerhold store.
func NewTradeRepositoryImpl(store *badgerhold.Store) domain.TradeRepository {
	return &tradeRepositoryImpl{store, &sync.Mutex{}}
}

func (r *tradeRepositoryImpl) AddTrade(
	_ context.Context, trade *domain.Trade,
) error {
	if trade == nil || trade.ID == "" {
		return domain.NewInvalidArgumentError("missing trade")
	}

	if err := r.store.Insert(trade.ID, *trade); err != nil {
		if errors.Is(err, badgerhold.ErrKeyExists) {
			return fmt.Errorf("%w: %s", domain.ErrTradeAlreadyExists, trade.ID)
		}
		return err
	}
	return nil
}

func (r *tradeRepositoryImpl) GetTrade(
	_ context.Context, tradeID string,
) (*domain.Trade, error) {
	var trade domain.Trade
	if err := r.store.Get(tradeID, &trade); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", domain.ErrTradeNotFound, tradeID)
		}
		return nil, err
	}
	return &trade, nil
}

func (r *tradeRepositoryImpl) GetAllTrades(
	_ context.Context,
) ([]*domain.Trade, error) {
	return r.findTrades(nil)
}

func (r *tradeRepositoryImpl) GetOpenTrades(
	_ context.Context,
) ([]*domain.Trade, error) {
	return r.findTrades(badgerhold.Where("Archived").Eq(false))
}

func (r *tradeRepositoryImpl) UpdateTrade(
	_ context.Context,
	tradeID string,
	updateFn func(t *domain.Trade) (*domain.Trade, error),
) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	return r.store.Badger().Update(func(tx *badger.Txn) error {
		var trade domain.Trade
		if err := r.store.TxGet(tx, tradeID, &trade); err != nil {
			if errors.Is(err, badgerhold.ErrNotFound) {
				return fmt.Errorf("%w: %s", domain.ErrTradeNotFound, tradeID)
			}
			return err
		}

		updatedTrade, err := updateFn(&trade)
		if err != nil {
			return err
		}
		if updatedTrade.ID != tradeID {
			return domain.NewInvalidArgumentError("trade id can't change")
		}
		return r.store.TxUpdate(tx, tradeID, *updatedTrade)
	})
}

func (r *tradeRepositoryImpl) findTrades(
	query *badgerhold.Query,
) ([]*domain.Trade, error) {
	var found []domain.Trade
	if err := r.store.Find(&found, query); err != nil {
		return nil, err
	}

	trades := make([]*domain.Trade, 0, len(found))
	for i := range found {
		trades = append(trades, &found[i])
	}
	sort.SliceStable(trades, func(i, j int) bool {
		if trades[i].CreatedAt == trades[j].CreatedAt {
			return trades[i].ID < trades[j].ID
		}
		return trades[i].CreatedAt < trades[j].CreatedAt
	})
	return trades, nil
}
