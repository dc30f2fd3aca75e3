// Package wallet implements the authoritative balance ledger. Every balance
// change flows through the compare-and-swap update here; the Redis-held
// balance is only an advisory projection that this package overwrites after
// each durable commit.
package wallet

import (
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/shopspring/decimal"

	"github.com/xpack-ai/mcpay/app/models"
	"github.com/xpack-ai/mcpay/app/repository"
)

// Domain-level error values returned by the ledger.
var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrAlreadySettled    = errors.New("already settled")
	ErrConcurrentUpdate  = errors.New("balance changed concurrently")
	ErrAmountMismatch    = errors.New("paid amount does not match order amount")
	ErrUnknownOrder      = errors.New("unknown deposit order")
)

const (
	casMaxRetries = 3
	casBackoff    = 50 * time.Millisecond
)

// BalanceCacheFunc overwrites the advisory cached balance for a user.
// Failures are logged, not propagated: the durable row is already committed
// and the cache self-heals via TTL.
type BalanceCacheFunc func(userID uint, balance decimal.Decimal) error

// Ledger performs atomic wallet mutations with optimistic concurrency.
type Ledger struct {
	wallets  repository.WalletRepository
	history  repository.LedgerRepository
	setCache BalanceCacheFunc
}

// NewLedger wires a wallet ledger over the given repositories.
func NewLedger(wallets repository.WalletRepository, history repository.LedgerRepository, setCache BalanceCacheFunc) *Ledger {
	return &Ledger{wallets: wallets, history: history, setCache: setCache}
}

// Debit removes amount from the user's balance and appends a completed
// consumption entry. It returns ErrInsufficientFunds when the durable
// balance cannot cover the amount (the pre-deduction check only consulted
// the advisory cache) and ErrConcurrentUpdate after exhausting CAS retries.
func (l *Ledger) Debit(userID uint, amount decimal.Decimal) (*models.WalletHistory, error) {
	if amount.Sign() <= 0 {
		return nil, fmt.Errorf("debit amount must be positive, got %s", amount)
	}

	for attempt := 0; attempt < casMaxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(casBackoff)
		}

		w, err := l.wallets.CreateIfMissing(userID)
		if err != nil {
			return nil, err
		}

		if w.Balance.Cmp(amount) < 0 {
			return nil, fmt.Errorf("%w: balance %s, needed %s", ErrInsufficientFunds, w.Balance, amount)
		}

		newBalance := w.Balance.Sub(amount)
		swapped, err := l.wallets.CompareAndSwapBalance(userID, w.Balance, newBalance)
		if err != nil {
			return nil, err
		}
		if !swapped {
			continue
		}

		entry := &models.WalletHistory{
			UserID:       userID,
			Amount:       amount.Neg(),
			BalanceAfter: newBalance,
			Type:         models.HistoryTypeAPICall,
			Status:       models.HistoryStatusCompleted,
		}
		if err := l.history.Insert(entry); err != nil {
			return nil, err
		}

		l.refreshCache(userID, newBalance)
		return entry, nil
	}

	return nil, fmt.Errorf("%w: user %d after %d attempts", ErrConcurrentUpdate, userID, casMaxRetries)
}

// Credit settles a pending deposit entry. The entry id is the idempotency
// key: the entry is claimed with a conditional status update before the
// balance is touched, so concurrent settlers (webhook vs poller, duplicate
// webhook deliveries) commit the amount at most once; losers get
// ErrAlreadySettled.
func (l *Ledger) Credit(entryID uint, paidAmount decimal.Decimal, externalTransactionID string) error {
	entry, err := l.history.GetByID(entryID)
	if err != nil {
		return fmt.Errorf("%w: entry %d: %v", ErrUnknownOrder, entryID, err)
	}

	if entry.Status == models.HistoryStatusCompleted {
		return ErrAlreadySettled
	}
	if !paidAmount.IsZero() && !paidAmount.Equal(entry.Amount) {
		return fmt.Errorf("%w: order %d expects %s, gateway reported %s",
			ErrAmountMismatch, entryID, entry.Amount, paidAmount)
	}

	// Claim the entry before touching the balance. The webhook handler and
	// the reconciliation poller can race on the same order; only the claim
	// winner credits, the loser sees the entry as settled.
	claimed, err := l.history.ClaimForSettlement(entryID)
	if err != nil {
		return err
	}
	if !claimed {
		return ErrAlreadySettled
	}

	newBalance, err := l.addBalance(entry.UserID, entry.Amount)
	if err != nil {
		// Hand the entry back so the next webhook delivery or poll cycle can
		// settle it.
		if revertErr := l.history.UpdateStatus(entryID, models.HistoryStatusPending); revertErr != nil {
			log.Errorf("[WalletLedger] Entry %d stuck in processing after failed credit: %v", entryID, revertErr)
		}
		return err
	}

	if err := l.history.MarkCompleted(entryID, newBalance, externalTransactionID); err != nil {
		// The balance is committed; a stale entry status is repairable,
		// losing the credit is not.
		log.Errorf("[WalletLedger] Credit committed but entry %d not marked completed: %v", entryID, err)
	}

	l.refreshCache(entry.UserID, newBalance)
	return nil
}

// addBalance adds amount to the user's balance via the CAS loop and returns
// the committed balance.
func (l *Ledger) addBalance(userID uint, amount decimal.Decimal) (decimal.Decimal, error) {
	for attempt := 0; attempt < casMaxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(casBackoff)
		}

		w, err := l.wallets.CreateIfMissing(userID)
		if err != nil {
			return decimal.Zero, err
		}

		newBalance := w.Balance.Add(amount)
		swapped, err := l.wallets.CompareAndSwapBalance(userID, w.Balance, newBalance)
		if err != nil {
			return decimal.Zero, err
		}
		if swapped {
			return newBalance, nil
		}
	}

	return decimal.Zero, fmt.Errorf("%w: user %d after %d attempts", ErrConcurrentUpdate, userID, casMaxRetries)
}

// FailDeposit marks a pending deposit entry as failed (gateway reported
// failure or the order timed out). Completed entries are left untouched.
func (l *Ledger) FailDeposit(entryID uint) error {
	entry, err := l.history.GetByID(entryID)
	if err != nil {
		return fmt.Errorf("%w: entry %d: %v", ErrUnknownOrder, entryID, err)
	}
	if entry.Status == models.HistoryStatusCompleted {
		return ErrAlreadySettled
	}
	if entry.Status == models.HistoryStatusFailed {
		return nil
	}

	failed, err := l.history.MarkFailedIfPending(entryID)
	if err != nil {
		return err
	}
	if !failed {
		// Settled or claimed concurrently; a completed entry is never
		// demoted to failed.
		return ErrAlreadySettled
	}
	return nil
}

func (l *Ledger) refreshCache(userID uint, balance decimal.Decimal) {
	if l.setCache == nil {
		return
	}
	if err := l.setCache(userID, balance); err != nil {
		log.Warnf("[WalletLedger] Failed to refresh cached balance for user %d: %v", userID, err)
	}
}
