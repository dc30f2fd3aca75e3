package repository

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/xpack-ai/mcpay/app/models"
)

type ledgerRepository struct {
	db *gorm.DB
}

// NewLedgerRepository creates a wallet history repository backed by GORM.
func NewLedgerRepository(db *gorm.DB) LedgerRepository {
	return &ledgerRepository{db: db}
}

func (r *ledgerRepository) Insert(entry *models.WalletHistory) error {
	return r.db.Create(entry).Error
}

func (r *ledgerRepository) GetByID(id uint) (*models.WalletHistory, error) {
	var entry models.WalletHistory
	err := r.db.Where("id = ?", id).First(&entry).Error
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *ledgerRepository) UpdateStatus(id uint, status string) error {
	return r.db.Model(&models.WalletHistory{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     status,
			"updated_at": time.Now(),
		}).Error
}

func (r *ledgerRepository) ClaimForSettlement(id uint) (bool, error) {
	res := r.db.Model(&models.WalletHistory{}).
		Where("id = ? AND status IN ?", id,
			[]string{models.HistoryStatusNew, models.HistoryStatusPending}).
		Updates(map[string]interface{}{
			"status":     models.HistoryStatusProcessing,
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *ledgerRepository) MarkFailedIfPending(id uint) (bool, error) {
	res := r.db.Model(&models.WalletHistory{}).
		Where("id = ? AND status IN ?", id,
			[]string{models.HistoryStatusNew, models.HistoryStatusPending}).
		Updates(map[string]interface{}{
			"status":     models.HistoryStatusFailed,
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *ledgerRepository) MarkCompleted(id uint, balanceAfter decimal.Decimal, externalTransactionID string) error {
	return r.db.Model(&models.WalletHistory{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":                  models.HistoryStatusCompleted,
			"balance_after":           balanceAfter,
			"external_transaction_id": externalTransactionID,
			"updated_at":              time.Now(),
		}).Error
}

func (r *ledgerRepository) ListByUser(userID uint, limit int) ([]models.WalletHistory, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	var entries []models.WalletHistory
	err := r.db.
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&entries).Error
	return entries, err
}

func (r *ledgerRepository) ListPendingSince(since time.Time) ([]models.WalletHistory, error) {
	var entries []models.WalletHistory
	err := r.db.
		Where("type = ? AND status IN ? AND created_at >= ?",
			models.HistoryTypeDeposit,
			[]string{models.HistoryStatusNew, models.HistoryStatusPending},
			since).
		Order("created_at ASC").
		Find(&entries).Error
	return entries, err
}
