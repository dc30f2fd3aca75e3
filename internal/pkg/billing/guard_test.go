package billing

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/xpack-ai/mcpay/app/models"
	"github.com/xpack-ai/mcpay/internal/pkg/pricing"
	"github.com/xpack-ai/mcpay/internal/pkg/wallet"
)

type fakeQuoter struct {
	quotes map[uint]pricing.PriceQuote
}

func (f *fakeQuoter) Resolve(serviceID uint) (pricing.PriceQuote, error) {
	if q, ok := f.quotes[serviceID]; ok {
		return q, nil
	}
	return pricing.PriceQuote{}, pricing.ErrServiceNotFound
}

type fakeBalanceCache struct {
	mu       sync.Mutex
	balances map[uint]decimal.Decimal
	sets     int
}

func newFakeBalanceCache() *fakeBalanceCache {
	return &fakeBalanceCache{balances: map[uint]decimal.Decimal{}}
}

func (f *fakeBalanceCache) Get(userID uint) (decimal.Decimal, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	bal, ok := f.balances[userID]
	return bal, ok, nil
}

func (f *fakeBalanceCache) Set(userID uint, balance decimal.Decimal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balances[userID] = balance
	f.sets++
	return nil
}

type fakeLocker struct {
	mu    sync.Mutex
	held  map[string]string
	fails bool
}

func newFakeLocker() *fakeLocker {
	return &fakeLocker{held: map[string]string{}}
}

func (f *fakeLocker) Acquire(key, token string, _ time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fails {
		return false, nil
	}
	if _, ok := f.held[key]; ok {
		return false, nil
	}
	f.held[key] = token
	return true, nil
}

func (f *fakeLocker) Release(key, token string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.held[key] != token {
		return false, nil
	}
	delete(f.held, key)
	return true, nil
}

type fakeWalletRepo struct {
	mu       sync.Mutex
	balances map[uint]decimal.Decimal
}

func newFakeWalletRepo() *fakeWalletRepo {
	return &fakeWalletRepo{balances: map[uint]decimal.Decimal{}}
}

func (f *fakeWalletRepo) GetByUser(userID uint) (*models.Wallet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	bal, ok := f.balances[userID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return &models.Wallet{UserID: userID, Balance: bal}, nil
}

func (f *fakeWalletRepo) CreateIfMissing(userID uint) (*models.Wallet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	bal, ok := f.balances[userID]
	if !ok {
		bal = decimal.Zero
		f.balances[userID] = bal
	}
	return &models.Wallet{UserID: userID, Balance: bal}, nil
}

func (f *fakeWalletRepo) CompareAndSwapBalance(userID uint, oldBalance, newBalance decimal.Decimal) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.balances[userID].Equal(oldBalance) {
		return false, nil
	}
	f.balances[userID] = newBalance
	return true, nil
}

func lockKey(userID uint) string {
	return fmt.Sprintf("test:lock:%d", userID)
}

func newTestGuard(quoter *fakeQuoter, wallets *fakeWalletRepo, cache *fakeBalanceCache, locker *fakeLocker) *Guard {
	return NewGuard(quoter, wallets, cache, locker, 3*time.Second, lockKey)
}

func TestTryReserveDeductsAdvisoryBalance(t *testing.T) {
	quoter := &fakeQuoter{quotes: map[uint]pricing.PriceQuote{
		1: {ServiceID: 1, ChargeType: models.ChargeTypePerCall, Price: decimal.RequireFromString("4.00")},
	}}
	cache := newFakeBalanceCache()
	cache.balances[7] = decimal.RequireFromString("10.00")
	locker := newFakeLocker()

	guard := newTestGuard(quoter, newFakeWalletRepo(), cache, locker)

	res, err := guard.TryReserve(7, 1, "geocode")
	require.NoError(t, err)
	assert.True(t, res.Price.Equal(decimal.RequireFromString("4.00")))
	assert.True(t, res.BalanceAfter.Equal(decimal.RequireFromString("6.00")))
	assert.True(t, cache.balances[7].Equal(decimal.RequireFromString("6.00")))
	assert.Empty(t, locker.held, "lock must be released")
}

func TestTryReserveInsufficientFunds(t *testing.T) {
	quoter := &fakeQuoter{quotes: map[uint]pricing.PriceQuote{
		1: {ServiceID: 1, ChargeType: models.ChargeTypePerCall, Price: decimal.RequireFromString("4.00")},
	}}
	cache := newFakeBalanceCache()
	cache.balances[7] = decimal.Zero

	guard := newTestGuard(quoter, newFakeWalletRepo(), cache, newFakeLocker())

	_, err := guard.TryReserve(7, 1, "geocode")
	require.ErrorIs(t, err, wallet.ErrInsufficientFunds)
	// No reservation was written.
	assert.True(t, cache.balances[7].IsZero())
	assert.Equal(t, 0, cache.sets)
}

func TestTryReserveLockContention(t *testing.T) {
	quoter := &fakeQuoter{quotes: map[uint]pricing.PriceQuote{
		1: {ServiceID: 1, ChargeType: models.ChargeTypePerCall, Price: decimal.RequireFromString("1.00")},
	}}
	locker := newFakeLocker()
	locker.fails = true

	guard := newTestGuard(quoter, newFakeWalletRepo(), newFakeBalanceCache(), locker)

	_, err := guard.TryReserve(7, 1, "geocode")
	require.ErrorIs(t, err, ErrLockContention)
}

func TestTryReserveFallsBackToDurableBalanceOnCacheMiss(t *testing.T) {
	quoter := &fakeQuoter{quotes: map[uint]pricing.PriceQuote{
		1: {ServiceID: 1, ChargeType: models.ChargeTypePerCall, Price: decimal.RequireFromString("2.00")},
	}}
	wallets := newFakeWalletRepo()
	wallets.balances[7] = decimal.RequireFromString("9.00")
	cache := newFakeBalanceCache()

	guard := newTestGuard(quoter, wallets, cache, newFakeLocker())

	res, err := guard.TryReserve(7, 1, "geocode")
	require.NoError(t, err)
	assert.True(t, res.BalanceAfter.Equal(decimal.RequireFromString("7.00")))
	assert.True(t, cache.balances[7].Equal(decimal.RequireFromString("7.00")))
}

func TestTryReserveFreeServiceSkipsLock(t *testing.T) {
	quoter := &fakeQuoter{quotes: map[uint]pricing.PriceQuote{
		2: {ServiceID: 2, ChargeType: models.ChargeTypeFree},
	}}
	locker := newFakeLocker()
	locker.fails = true // would fail if the guard tried to lock

	guard := newTestGuard(quoter, newFakeWalletRepo(), newFakeBalanceCache(), locker)

	res, err := guard.TryReserve(7, 2, "free-tool")
	require.NoError(t, err)
	assert.True(t, res.Price.IsZero())
}

func TestTryReserveFreeServiceReportsDurableBalanceOnCacheMiss(t *testing.T) {
	quoter := &fakeQuoter{quotes: map[uint]pricing.PriceQuote{
		2: {ServiceID: 2, ChargeType: models.ChargeTypeFree},
	}}
	wallets := newFakeWalletRepo()
	wallets.balances[7] = decimal.RequireFromString("3.50")
	cache := newFakeBalanceCache()

	guard := newTestGuard(quoter, wallets, cache, newFakeLocker())

	res, err := guard.TryReserve(7, 2, "free-tool")
	require.NoError(t, err)
	assert.True(t, res.BalanceAfter.Equal(decimal.RequireFromString("3.50")),
		"cache miss must fall back to the durable balance, got %s", res.BalanceAfter)
	assert.True(t, cache.balances[7].Equal(decimal.RequireFromString("3.50")))
}

func TestTryReserveUnknownService(t *testing.T) {
	guard := newTestGuard(&fakeQuoter{quotes: map[uint]pricing.PriceQuote{}}, newFakeWalletRepo(), newFakeBalanceCache(), newFakeLocker())

	_, err := guard.TryReserve(7, 99, "nope")
	require.ErrorIs(t, err, pricing.ErrServiceNotFound)
}

func TestEstimatePricePerToken(t *testing.T) {
	quote := pricing.PriceQuote{
		ChargeType:       models.ChargeTypePerToken,
		InputTokenPrice:  decimal.RequireFromString("0.002"),
		OutputTokenPrice: decimal.RequireFromString("0.006"),
	}
	// 1000-token placeholder: one full block of input + output pricing.
	assert.True(t, estimatePrice(quote).Equal(decimal.RequireFromString("0.008")))
}

func TestConcurrentReservesNeverOverspend(t *testing.T) {
	quoter := &fakeQuoter{quotes: map[uint]pricing.PriceQuote{
		1: {ServiceID: 1, ChargeType: models.ChargeTypePerCall, Price: decimal.RequireFromString("4.00")},
	}}
	cache := newFakeBalanceCache()
	cache.balances[7] = decimal.RequireFromString("10.00")

	guard := newTestGuard(quoter, newFakeWalletRepo(), cache, newFakeLocker())

	const attempts = 10
	var wg sync.WaitGroup
	var mu sync.Mutex
	var reserved int
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := guard.TryReserve(7, 1, "geocode"); err == nil {
				mu.Lock()
				reserved++
				mu.Unlock()
			} else if !errors.Is(err, wallet.ErrInsufficientFunds) && !errors.Is(err, ErrLockContention) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	// 10.00 covers at most two 4.00 reservations.
	assert.LessOrEqual(t, reserved, 2)
	expected := decimal.RequireFromString("10.00").Sub(decimal.RequireFromString("4.00").Mul(decimal.NewFromInt(int64(reserved))))
	assert.True(t, cache.balances[7].Equal(expected))
}
