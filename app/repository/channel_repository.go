package repository

import (
	"time"

	"gorm.io/gorm"

	"github.com/xpack-ai/mcpay/app/models"
)

type channelRepository struct {
	db *gorm.DB
}

// NewChannelRepository creates a payment channel repository backed by GORM.
func NewChannelRepository(db *gorm.DB) ChannelRepository {
	return &channelRepository{db: db}
}

func (r *channelRepository) GetByID(id uint) (*models.PaymentChannel, error) {
	var channel models.PaymentChannel
	err := r.db.Where("id = ?", id).First(&channel).Error
	if err != nil {
		return nil, err
	}
	return &channel, nil
}

func (r *channelRepository) ListAll() ([]models.PaymentChannel, error) {
	var channels []models.PaymentChannel
	err := r.db.Order("id ASC").Find(&channels).Error
	return channels, err
}

func (r *channelRepository) ListEnabled() ([]models.PaymentChannel, error) {
	var channels []models.PaymentChannel
	err := r.db.Where("enabled = ?", true).Order("id ASC").Find(&channels).Error
	return channels, err
}

func (r *channelRepository) SetEnabled(id uint, enabled bool) error {
	result := r.db.Model(&models.PaymentChannel{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"enabled":    enabled,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
