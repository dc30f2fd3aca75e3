package repository

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/xpack-ai/mcpay/app/models"
)

type callLogRepository struct {
	db *gorm.DB
}

// NewCallLogRepository creates a call log repository backed by GORM.
func NewCallLogRepository(db *gorm.DB) CallLogRepository {
	return &callLogRepository{db: db}
}

func (r *callLogRepository) CreateIfNotExists(log *models.CallLog) (bool, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoNothing: true,
	}).Create(log)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *callLogRepository) GetByID(id string) (*models.CallLog, error) {
	var log models.CallLog
	err := r.db.Where("id = ?", id).First(&log).Error
	if err != nil {
		return nil, err
	}
	return &log, nil
}

func (r *callLogRepository) MarkProcessed(id string, walletHistoryID uint) error {
	updates := map[string]interface{}{
		"process_status": models.CallLogStatusProcessed,
		"updated_at":     time.Now(),
	}
	if walletHistoryID != 0 {
		updates["wallet_history_id"] = walletHistoryID
	}
	return r.db.Model(&models.CallLog{}).Where("id = ?", id).Updates(updates).Error
}

func (r *callLogRepository) MarkFailed(id string) error {
	return r.db.Model(&models.CallLog{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"process_status": models.CallLogStatusFailed,
			"updated_at":     time.Now(),
		}).Error
}
