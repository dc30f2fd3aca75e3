package repository

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/xpack-ai/mcpay/app/models"
)

type walletRepository struct {
	db *gorm.DB
}

// NewWalletRepository creates a wallet repository backed by GORM.
func NewWalletRepository(db *gorm.DB) WalletRepository {
	return &walletRepository{db: db}
}

func (r *walletRepository) GetByUser(userID uint) (*models.Wallet, error) {
	var wallet models.Wallet
	err := r.db.Where("user_id = ?", userID).First(&wallet).Error
	if err != nil {
		return nil, err
	}
	return &wallet, nil
}

func (r *walletRepository) CreateIfMissing(userID uint) (*models.Wallet, error) {
	wallet, err := r.GetByUser(userID)
	if err == nil {
		return wallet, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	created := &models.Wallet{
		UserID:        userID,
		Balance:       decimal.Zero,
		FrozenBalance: decimal.Zero,
	}
	// DoNothing keeps a concurrent first-access race harmless; whichever
	// insert wins, the follow-up read returns the surviving row.
	if err := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoNothing: true,
	}).Create(created).Error; err != nil {
		return nil, err
	}
	return r.GetByUser(userID)
}

func (r *walletRepository) CompareAndSwapBalance(userID uint, oldBalance, newBalance decimal.Decimal) (bool, error) {
	res := r.db.Model(&models.Wallet{}).
		Where("user_id = ? AND balance = ?", userID, oldBalance).
		Updates(map[string]interface{}{
			"balance":    newBalance,
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
