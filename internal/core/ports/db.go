package ports

import "github.com/tdex-network/tdex-escrow/internal/core/domain"

// RepoManager interface defines the methods to access the repositories.
type RepoManager interface {
	TradeRepository() domain.TradeRepository
	Close()
}
