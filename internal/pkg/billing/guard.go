package billing

import (
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xpack-ai/mcpay/app/models"
	"github.com/xpack-ai/mcpay/app/repository"
	"github.com/xpack-ai/mcpay/internal/pkg/pricing"
	"github.com/xpack-ai/mcpay/internal/pkg/wallet"
)

// ErrLockContention means the per-user billing lock could not be acquired.
// The caller should retry the whole request, not spin on the lock.
var ErrLockContention = errors.New("billing lock contention")

// Per-token services are reserved against a fixed token placeholder; the
// true cost is only known after execution and settled by the consumer.
const reserveTokenEstimate = 1000

// Locker is the per-user mutual-exclusion primitive the guard runs under.
type Locker interface {
	Acquire(key, token string, ttl time.Duration) (bool, error)
	Release(key, token string) (bool, error)
}

// BalanceCache is the advisory balance store consulted before paid work.
type BalanceCache interface {
	Get(userID uint) (decimal.Decimal, bool, error)
	Set(userID uint, balance decimal.Decimal) error
}

// PriceQuoter resolves a service's charge model.
type PriceQuoter interface {
	Resolve(serviceID uint) (pricing.PriceQuote, error)
}

// Reservation is the result of a successful pre-deduction check.
type Reservation struct {
	Quote        pricing.PriceQuote
	Price        decimal.Decimal
	BalanceAfter decimal.Decimal
}

// Guard performs the synchronous pre-deduction check: under a short per-user
// lock it verifies the advisory balance covers the quoted price and writes
// the reserved balance back to the cache. The durable wallet row is never
// touched here; the settlement consumer commits the real debit later.
type Guard struct {
	quoter  PriceQuoter
	wallets repository.WalletRepository
	cache   BalanceCache
	locker  Locker
	lockTTL time.Duration
	lockKey func(userID uint) string
}

// NewGuard wires a pre-deduction guard.
func NewGuard(quoter PriceQuoter, wallets repository.WalletRepository, cache BalanceCache, locker Locker, lockTTL time.Duration, lockKey func(userID uint) string) *Guard {
	return &Guard{
		quoter:  quoter,
		wallets: wallets,
		cache:   cache,
		locker:  locker,
		lockTTL: lockTTL,
		lockKey: lockKey,
	}
}

// TryReserve checks that the user can afford one invocation of the service
// and soft-reserves the quoted price in the advisory cache. Free services
// pass through without locking. Returns wallet.ErrInsufficientFunds or
// ErrLockContention as typed failures.
func (g *Guard) TryReserve(userID, serviceID uint, toolName string) (*Reservation, error) {
	quote, err := g.quoter.Resolve(serviceID)
	if err != nil {
		return nil, err
	}

	price := estimatePrice(quote)
	if price.Sign() <= 0 {
		// No lock needed, but the reported balance still has to be real.
		balance, err := g.currentBalance(userID)
		if err != nil {
			return nil, err
		}
		return &Reservation{Quote: quote, Price: decimal.Zero, BalanceAfter: balance}, nil
	}

	key := g.lockKey(userID)
	token := uuid.New().String()
	acquired, err := g.locker.Acquire(key, token, g.lockTTL)
	if err != nil {
		return nil, fmt.Errorf("acquire billing lock for user %d: %w", userID, err)
	}
	if !acquired {
		return nil, fmt.Errorf("%w: user %d", ErrLockContention, userID)
	}
	defer func() {
		// The lock self-expires; a failed release only delays the next
		// caller by at most the TTL.
		if _, err := g.locker.Release(key, token); err != nil {
			log.Warnf("[Billing] Failed to release lock %s: %v", key, err)
		}
	}()

	balance, err := g.currentBalance(userID)
	if err != nil {
		return nil, err
	}

	if balance.Cmp(price) < 0 {
		return nil, fmt.Errorf("%w: balance %s, tool %q costs %s",
			wallet.ErrInsufficientFunds, balance, toolName, price)
	}

	balanceAfter := balance.Sub(price)
	if err := g.cache.Set(userID, balanceAfter); err != nil {
		return nil, fmt.Errorf("reserve balance for user %d: %w", userID, err)
	}

	return &Reservation{Quote: quote, Price: price, BalanceAfter: balanceAfter}, nil
}

// currentBalance reads the advisory balance, falling back to the durable
// wallet row on a cache miss and repopulating the cache from it.
func (g *Guard) currentBalance(userID uint) (decimal.Decimal, error) {
	balance, hit, err := g.cache.Get(userID)
	if err != nil {
		return decimal.Zero, err
	}
	if hit {
		return balance, nil
	}

	w, err := g.wallets.CreateIfMissing(userID)
	if err != nil {
		return decimal.Zero, err
	}
	if err := g.cache.Set(userID, w.Balance); err != nil {
		return decimal.Zero, err
	}
	return w.Balance, nil
}

// estimatePrice computes the reservation amount for one invocation. Per-call
// services reserve the flat price; per-token services reserve against the
// fixed token placeholder since real usage is unknown pre-execution.
func estimatePrice(quote pricing.PriceQuote) decimal.Decimal {
	switch quote.ChargeType {
	case models.ChargeTypePerCall:
		return quote.Price
	case models.ChargeTypePerToken:
		tokens := decimal.NewFromInt(reserveTokenEstimate)
		perThousand := quote.InputTokenPrice.Add(quote.OutputTokenPrice)
		return perThousand.Mul(tokens).Div(decimal.NewFromInt(1000))
	default:
		return decimal.Zero
	}
}
