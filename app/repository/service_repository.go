package repository

import (
	"gorm.io/gorm"

	"github.com/xpack-ai/mcpay/app/models"
)

type serviceRepository struct {
	db *gorm.DB
}

// NewServiceRepository creates a service repository backed by GORM.
func NewServiceRepository(db *gorm.DB) ServiceRepository {
	return &serviceRepository{db: db}
}

func (r *serviceRepository) GetByID(id uint) (*models.McpService, error) {
	var service models.McpService
	err := r.db.Where("id = ? AND enabled = ?", id, true).First(&service).Error
	if err != nil {
		return nil, err
	}
	return &service, nil
}
