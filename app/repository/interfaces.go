package repository

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/xpack-ai/mcpay/app/models"
)

// WalletRepository defines the interface for wallet row operations. Balance
// writes happen only through CompareAndSwapBalance so the ledger can enforce
// its optimistic-concurrency discipline.
type WalletRepository interface {
	GetByUser(userID uint) (*models.Wallet, error)
	CreateIfMissing(userID uint) (*models.Wallet, error)
	// CompareAndSwapBalance writes newBalance only while the row still holds
	// oldBalance. It returns false (and no error) on a predicate mismatch.
	CompareAndSwapBalance(userID uint, oldBalance, newBalance decimal.Decimal) (bool, error)
}

// LedgerRepository defines the interface for the append-only wallet history.
type LedgerRepository interface {
	Insert(entry *models.WalletHistory) error
	GetByID(id uint) (*models.WalletHistory, error)
	UpdateStatus(id uint, status string) error
	// ClaimForSettlement moves an entry from new/pending to processing. It
	// returns whether this caller won the claim; concurrent settlers racing
	// on the same entry see false and must not touch the balance.
	ClaimForSettlement(id uint) (bool, error)
	// MarkFailedIfPending moves an entry from new/pending to failed. A
	// completed or claimed entry is left untouched and false is returned.
	MarkFailedIfPending(id uint) (bool, error)
	// MarkCompleted stamps a deposit entry with its post-commit balance and
	// the gateway transaction id when the credit settles.
	MarkCompleted(id uint, balanceAfter decimal.Decimal, externalTransactionID string) error
	// ListPendingSince returns deposit entries still in status new/pending
	// created after the given time, for reseeding the reconciliation monitor.
	ListPendingSince(since time.Time) ([]models.WalletHistory, error)
	// ListByUser returns the newest history entries for a user.
	ListByUser(userID uint, limit int) ([]models.WalletHistory, error)
}

// CallLogRepository defines the interface for call-log operations.
type CallLogRepository interface {
	// CreateIfNotExists inserts the log row unless one with the same id
	// already exists. It returns whether a row was created.
	CreateIfNotExists(log *models.CallLog) (bool, error)
	GetByID(id string) (*models.CallLog, error)
	MarkProcessed(id string, walletHistoryID uint) error
	MarkFailed(id string) error
}

// ServiceRepository defines the read interface over published services the
// billing pipeline needs. Service management is out of scope.
type ServiceRepository interface {
	GetByID(id uint) (*models.McpService, error)
}

// ChannelRepository defines the interface for payment channel configuration.
type ChannelRepository interface {
	GetByID(id uint) (*models.PaymentChannel, error)
	ListAll() ([]models.PaymentChannel, error)
	ListEnabled() ([]models.PaymentChannel, error)
	SetEnabled(id uint, enabled bool) error
}

// Repositories struct holds all repository instances
type Repositories struct {
	Wallet  WalletRepository
	Ledger  LedgerRepository
	CallLog CallLogRepository
	Service ServiceRepository
	Channel ChannelRepository
}

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		Wallet:  NewWalletRepository(db),
		Ledger:  NewLedgerRepository(db),
		CallLog: NewCallLogRepository(db),
		Service: NewServiceRepository(db),
		Channel: NewChannelRepository(db),
	}
}
