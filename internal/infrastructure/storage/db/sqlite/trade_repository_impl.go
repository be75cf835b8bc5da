package dbsqlite

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/tdex-network/tdex-escrow/internal/core/domain"
	"gorm.io/gorm"
)

// tradeRow stores the whole trade as json next to the columns used for
// filtering.
type tradeRow struct {
	ID        string `gorm:"primaryKey"`
	Role      string `gorm:"size:32"`
	Phase     string `gorm:"size:32;index"`
	State     string `gorm:"size:64"`
	Archived  bool   `gorm:"index"`
	Data      []byte
	CreatedAt int64 `gorm:"autoCreateTime:false"`
	UpdatedAt int64 `gorm:"autoUpdateTime:false"`
}

func (tradeRow) TableName() string {
	return "trades"
}

func newTradeRow(t *domain.Trade) (*tradeRow, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("failed to encode trade: %w", err)
	}
	return &tradeRow{
		ID:        t.ID,
		Role:      t.Role.String(),
		Phase:     t.Phase.String(),
		State:     t.State.String(),
		Archived:  t.Archived,
		Data:      data,
		CreatedAt: t.CreatedAt,
		UpdatedAt: t.UpdatedAt,
	}, nil
}

func (r tradeRow) toDomain() (*domain.Trade, error) {
	var t domain.Trade
	if err := json.Unmarshal(r.Data, &t); err != nil {
		return nil, fmt.Errorf("failed to decode trade %s: %w", r.ID, err)
	}
	return &t, nil
}

type tradeRepositoryImpl struct {
	db *gorm.DB
	// sqlite allows a single writer at a time.
	lock *sync.Mutex
}

// NewTradeRepositoryImpl returns a TradeRepository backed by the given
// gorm db.
func NewTradeRepositoryImpl(db *gorm.DB) domain.TradeRepository {
	return &tradeRepositoryImpl{db, &sync.Mutex{}}
}

func (r *tradeRepositoryImpl) AddTrade(ctx context.Context, trade *domain.Trade) error {
	if trade == nil || trade.ID == "" {
		return domain.NewInvalidArgumentError("missing trade")
	}
	row, err := newTradeRow(trade)
	if err != nil {
		return err
	}

	r.lock.Lock()
	defer r.lock.Unlock()

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&tradeRow{}).Where("id = ?", trade.ID).
			Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return fmt.Errorf("%w: %s", domain.ErrTradeAlreadyExists, trade.ID)
		}
		return tx.Create(row).Error
	})
}

func (r *tradeRepositoryImpl) GetTrade(ctx context.Context, tradeID string) (*domain.Trade, error) {
	row, err := getTradeRow(r.db.WithContext(ctx), tradeID)
	if err != nil {
		return nil, err
	}
	return row.toDomain()
}

func (r *tradeRepositoryImpl) GetAllTrades(ctx context.Context) ([]*domain.Trade, error) {
	return r.findTrades(r.db.WithContext(ctx))
}

func (r *tradeRepositoryImpl) GetOpenTrades(ctx context.Context) ([]*domain.Trade, error) {
	return r.findTrades(r.db.WithContext(ctx).Where("archived = ?", false))
}

func (r *tradeRepositoryImpl) UpdateTrade(
	ctx context.Context,
	tradeID string,
	updateFn func(t *domain.Trade) (*domain.Trade, error),
) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row, err := getTradeRow(tx, tradeID)
		if err != nil {
			return err
		}
		trade, err := row.toDomain()
		if err != nil {
			return err
		}

		updatedTrade, err := updateFn(trade)
		if err != nil {
			return err
		}
		if updatedTrade.ID != tradeID {
			return domain.NewInvalidArgumentError("trade id can't change")
		}

		updatedRow, err := newTradeRow(updatedTrade)
		if err != nil {
			return err
		}
		return tx.Save(updatedRow).Error
	})
}

func (r *tradeRepositoryImpl) findTrades(query *gorm.DB) ([]*domain.Trade, error) {
	var rows []tradeRow
	if err := query.Order("created_at, id").Find(&rows).Error; err != nil {
		return nil, err
	}

	trades := make([]*domain.Trade, 0, len(rows))
	for _, row := range rows {
		trade, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		trades = append(trades, trade)
	}
	return trades, nil
}

func getTradeRow(db *gorm.DB, tradeID string) (*tradeRow, error) {
	var row tradeRow
	if err := db.Where("id = ?", tradeID).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", domain.ErrTradeNotFound, tradeID)
		}
		return nil, err
	}
	return &row, nil
}
