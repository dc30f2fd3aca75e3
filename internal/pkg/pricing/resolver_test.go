package pricing

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/xpack-ai/mcpay/app/models"
)

type fakeServiceRepo struct {
	services map[uint]*models.McpService
	calls    int
}

func (f *fakeServiceRepo) GetByID(id uint) (*models.McpService, error) {
	f.calls++
	if s, ok := f.services[id]; ok {
		return s, nil
	}
	return nil, gorm.ErrRecordNotFound
}

type mapQuoteCache struct {
	entries map[string]string
}

func newMapQuoteCache() *mapQuoteCache {
	return &mapQuoteCache{entries: map[string]string{}}
}

func (c *mapQuoteCache) Get(key string) (string, bool) {
	val, ok := c.entries[key]
	return val, ok
}

func (c *mapQuoteCache) Set(key, value string, _ time.Duration) {
	c.entries[key] = value
}

func TestResolvePerCallService(t *testing.T) {
	repo := &fakeServiceRepo{services: map[uint]*models.McpService{
		7: {
			ID:         7,
			Name:       "geocode",
			ChargeType: models.ChargeTypePerCall,
			Price:      decimal.RequireFromString("0.50"),
		},
	}}
	resolver := NewResolver(repo, newMapQuoteCache())

	quote, err := resolver.Resolve(7)
	require.NoError(t, err)
	assert.Equal(t, models.ChargeTypePerCall, quote.ChargeType)
	assert.True(t, quote.Price.Equal(decimal.RequireFromString("0.50")))
}

func TestResolveUnknownService(t *testing.T) {
	resolver := NewResolver(&fakeServiceRepo{services: map[uint]*models.McpService{}}, newMapQuoteCache())

	_, err := resolver.Resolve(99)
	require.ErrorIs(t, err, ErrServiceNotFound)
}

func TestResolveUsesCacheOnSecondLookup(t *testing.T) {
	repo := &fakeServiceRepo{services: map[uint]*models.McpService{
		3: {
			ID:               3,
			Name:             "summarize",
			ChargeType:       models.ChargeTypePerToken,
			InputTokenPrice:  decimal.RequireFromString("0.002"),
			OutputTokenPrice: decimal.RequireFromString("0.006"),
		},
	}}
	resolver := NewResolver(repo, newMapQuoteCache())

	first, err := resolver.Resolve(3)
	require.NoError(t, err)

	second, err := resolver.Resolve(3)
	require.NoError(t, err)

	assert.Equal(t, 1, repo.calls, "second lookup should be served from cache")
	assert.True(t, first.InputTokenPrice.Equal(second.InputTokenPrice))
	assert.True(t, first.OutputTokenPrice.Equal(second.OutputTokenPrice))
}

func TestResolveFallsBackOnCorruptCacheEntry(t *testing.T) {
	repo := &fakeServiceRepo{services: map[uint]*models.McpService{
		5: {ID: 5, Name: "free-tool", ChargeType: models.ChargeTypeFree},
	}}
	cache := newMapQuoteCache()
	cache.Set(quoteKey(5), "{not json", 0)
	resolver := NewResolver(repo, cache)

	quote, err := resolver.Resolve(5)
	require.NoError(t, err)
	assert.Equal(t, models.ChargeTypeFree, quote.ChargeType)
	assert.Equal(t, 1, repo.calls)
}
