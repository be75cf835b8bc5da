package dbsqlite

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/tdex-network/tdex-escrow/internal/core/domain"
	"github.com/tdex-network/tdex-escrow/internal/core/ports"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const dbFile = "trades.db"

type repoManager struct {
	db              *gorm.DB
	tradeRepository domain.TradeRepository
}

// NewRepoManager opens (or creates if not exists) the sqlite db in the
// given dir. An empty dir opens a private in-memory db.
func NewRepoManager(baseDbDir string) (ports.RepoManager, error) {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	if len(baseDbDir) > 0 {
		if err := os.MkdirAll(baseDbDir, os.ModeDir|0755); err != nil {
			return nil, err
		}
		dsn = filepath.Join(baseDbDir, dbFile)
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("opening trades db: %w", err)
	}
	if err := db.AutoMigrate(&tradeRow{}); err != nil {
		return nil, fmt.Errorf("migrating trades db: %w", err)
	}

	return &repoManager{
		db:              db,
		tradeRepository: NewTradeRepositoryImpl(db),
	}, nil
}

func (r *repoManager) TradeRepository() domain.TradeRepository {
	return r.tradeRepository
}

func (r *repoManager) Close() {
	sqlDB, err := r.db.DB()
	if err != nil {
		return
	}
	if err := sqlDB.Close(); err != nil {
		log.WithError(err).Warn("failed to close trades db")
	}
}
