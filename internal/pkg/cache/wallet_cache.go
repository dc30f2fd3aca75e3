package cache

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Advisory balance cache. The value is a projection of the durable wallet
// balance and may transiently diverge from it; the ledger overwrites it on
// every successful commit, so a stale value self-heals within BalanceTTL.
const (
	balanceKeyPrefix = "wallet:balance:"
	BalanceTTL       = 300 * time.Second
)

// BalanceKey returns the cache key for a user's advisory balance.
func BalanceKey(userID uint) string {
	return fmt.Sprintf("%s%d", balanceKeyPrefix, userID)
}

// GetBalance reads the cached balance. The second return value is false on a
// cache miss.
func GetBalance(userID uint) (decimal.Decimal, bool, error) {
	val, err := Get(BalanceKey(userID))
	if err != nil {
		if IsMiss(err) {
			return decimal.Zero, false, nil
		}
		return decimal.Zero, false, err
	}
	balance, err := decimal.NewFromString(val)
	if err != nil {
		// Corrupt value; treat as a miss so callers fall back to the ledger.
		return decimal.Zero, false, nil
	}
	return balance, true, nil
}

// SetBalance overwrites the cached balance.
func SetBalance(userID uint, balance decimal.Decimal) error {
	return Set(BalanceKey(userID), balance.StringFixed(2), BalanceTTL)
}

// DeleteBalance drops the cached balance so the next reader falls back to
// the durable wallet row.
func DeleteBalance(userID uint) error {
	return Delete(BalanceKey(userID))
}
