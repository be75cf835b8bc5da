package db_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tdex-network/tdex-escrow/internal/core/domain"
	"github.com/tdex-network/tdex-escrow/internal/core/ports"
	dbbadger "github.com/tdex-network/tdex-escrow/internal/infrastructure/storage/db/badger"
	"github.com/tdex-network/tdex-escrow/internal/infrastructure/storage/db/inmemory"
	dbsqlite "github.com/tdex-network/tdex-escrow/internal/infrastructure/storage/db/sqlite"
)

func TestTradeRepositoryImplementations(t *testing.T) {
	repositories := createTradeRepositories(t)

	for i := range repositories {
		repo := repositories[i]

		t.Run(repo.Name, func(t *testing.T) {
			t.Parallel()

			t.Run("testAddTrade", func(t *testing.T) {
				t.Parallel()
				testAddTrade(t, repo)
			})

			t.Run("testGetTradeNotFound", func(t *testing.T) {
				t.Parallel()
				testGetTradeNotFound(t, repo)
			})

			t.Run("testGetOpenTrades", func(t *testing.T) {
				t.Parallel()
				testGetOpenTrades(t, repo)
			})

			t.Run("testUpdateTrade", func(t *testing.T) {
				t.Parallel()
				testUpdateTrade(t, repo)
			})

			t.Run("testUpdateTrade_rollback", func(t *testing.T) {
				t.Parallel()
				testUpdateTradeRollback(t, repo)
			})

			t.Run("testConcurrentUpdates", func(t *testing.T) {
				t.Parallel()
				testConcurrentUpdates(t, repo)
			})
		})
	}
}

func testAddTrade(t *testing.T, repo tradeRepository) {
	ctx := context.Background()
	trade := makeRandomTrade()
	trade.Maker.PaymentAccountPayload = &domain.PaymentAccountPayload{
		ID:              randomId(),
		PaymentMethodID: "SEPA",
		Data:            map[string]string{"iban": "DE89370400440532013000"},
		Salt:            randomBytes(32),
	}

	err := repo.Repository.AddTrade(ctx, trade)
	require.NoError(t, err)

	err = repo.Repository.AddTrade(ctx, trade)
	require.True(t, errors.Is(err, domain.ErrTradeAlreadyExists))

	storedTrade, err := repo.Repository.GetTrade(ctx, trade.ID)
	require.NoError(t, err)
	require.Equal(t, trade.ID, storedTrade.ID)
	require.Equal(t, trade.Role, storedTrade.Role)
	require.Equal(t, trade.State, storedTrade.State)
	require.True(t, trade.Price.Equal(storedTrade.Price))
	require.True(t, trade.Offer.MakerPubKeyRing.Equal(storedTrade.Maker.PubKeyRing))
	require.Equal(t, *trade.Maker.PaymentAccountPayload, *storedTrade.Maker.PaymentAccountPayload)

	trades, err := repo.Repository.GetAllTrades(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, trades)
}

func testGetTradeNotFound(t *testing.T, repo tradeRepository) {
	ctx := context.Background()

	trade, err := repo.Repository.GetTrade(ctx, randomId())
	require.Nil(t, trade)
	require.True(t, errors.Is(err, domain.ErrTradeNotFound))

	err = repo.Repository.UpdateTrade(
		ctx, randomId(), func(t *domain.Trade) (*domain.Trade, error) {
			return t, nil
		},
	)
	require.True(t, errors.Is(err, domain.ErrTradeNotFound))
}

func testGetOpenTrades(t *testing.T, repo tradeRepository) {
	ctx := context.Background()
	openTrade := makeRandomTrade()
	archivedTrade := makeRandomTrade()
	archivedTrade.Archive()

	require.NoError(t, repo.Repository.AddTrade(ctx, openTrade))
	require.NoError(t, repo.Repository.AddTrade(ctx, archivedTrade))

	trades, err := repo.Repository.GetOpenTrades(ctx)
	require.NoError(t, err)

	ids := make(map[string]bool)
	for _, trade := range trades {
		require.False(t, trade.Archived)
		ids[trade.ID] = true
	}
	require.True(t, ids[openTrade.ID])
	require.False(t, ids[archivedTrade.ID])
}

func testUpdateTrade(t *testing.T, repo tradeRepository) {
	ctx := context.Background()
	trade := makeRandomTrade()
	require.NoError(t, repo.Repository.AddTrade(ctx, trade))

	err := repo.Repository.UpdateTrade(
		ctx, trade.ID, func(t *domain.Trade) (*domain.Trade, error) {
			if err := t.SetState(domain.StateMultisigPrepared); err != nil {
				return nil, err
			}
			if err := t.UpdatePeer(domain.PeerMaker, func(p domain.Peer) (domain.Peer, error) {
				return p.WithAck(domain.MsgPaymentSent, domain.AckState{
					UID: randomId(), Arrived: true,
				}), nil
			}); err != nil {
				return nil, err
			}
			t.MultisigAddress = randomHex(32)
			return t, nil
		},
	)
	require.NoError(t, err)

	storedTrade, err := repo.Repository.GetTrade(ctx, trade.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StateMultisigPrepared, storedTrade.State)
	require.NotEmpty(t, storedTrade.MultisigAddress)
	require.True(t, storedTrade.Maker.Ack(domain.MsgPaymentSent).Arrived)
}

func testUpdateTradeRollback(t *testing.T, repo tradeRepository) {
	ctx := context.Background()
	trade := makeRandomTrade()
	require.NoError(t, repo.Repository.AddTrade(ctx, trade))

	err := repo.Repository.UpdateTrade(
		ctx, trade.ID, func(t *domain.Trade) (*domain.Trade, error) {
			t.MultisigAddress = randomHex(32)
			return nil, fmt.Errorf("something went wrong")
		},
	)
	require.Error(t, err)

	storedTrade, err := repo.Repository.GetTrade(ctx, trade.ID)
	require.NoError(t, err)
	require.Empty(t, storedTrade.MultisigAddress)
}

func testConcurrentUpdates(t *testing.T, repo tradeRepository) {
	ctx := context.Background()
	trade := makeRandomTrade()
	require.NoError(t, repo.Repository.AddTrade(ctx, trade))

	numOfUpdates := 20
	wg := &sync.WaitGroup{}
	wg.Add(numOfUpdates)
	for i := 0; i < numOfUpdates; i++ {
		go func() {
			defer wg.Done()
			err := repo.Repository.UpdateTrade(
				ctx, trade.ID, func(t *domain.Trade) (*domain.Trade, error) {
					t.Amount++
					return t, nil
				},
			)
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	storedTrade, err := repo.Repository.GetTrade(ctx, trade.ID)
	require.NoError(t, err)
	require.Equal(t, trade.Amount+uint64(numOfUpdates), storedTrade.Amount)
}

func createTradeRepositories(t *testing.T) []tradeRepository {
	inmemoryDBManager := inmemory.NewRepoManager()
	badgerDBManager, err := dbbadger.NewRepoManager("", nil)
	require.NoError(t, err)
	sqliteDBManager, err := dbsqlite.NewRepoManager("")
	require.NoError(t, err)

	t.Cleanup(func() {
		badgerDBManager.Close()
		sqliteDBManager.Close()
	})

	return []tradeRepository{
		{
			Name:       "badger",
			DBManager:  badgerDBManager,
			Repository: badgerDBManager.TradeRepository(),
		},
		{
			Name:       "inmemory",
			DBManager:  inmemoryDBManager,
			Repository: inmemoryDBManager.TradeRepository(),
		},
		{
			Name:       "sqlite",
			DBManager:  sqliteDBManager,
			Repository: sqliteDBManager.TradeRepository(),
		},
	}
}

type tradeRepository struct {
	Name       string
	DBManager  ports.RepoManager
	Repository domain.TradeRepository
}
