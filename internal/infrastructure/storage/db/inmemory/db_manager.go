package inmemory

import (
	"github.com/tdex-network/tdex-escrow/internal/core/domain"
	"github.com/tdex-network/tdex-escrow/internal/core/ports"
)

type RepoManager struct {
	tradeRepository domain.TradeRepository
}

func NewRepoManager() ports.RepoManager {
	return &RepoManager{
		tradeRepository: NewTradeRepositoryImpl(),
	}
}

func (d *RepoManager) TradeRepository() domain.TradeRepository {
	return d.tradeRepository
}

func (d *RepoManager) Close() {}
