// Package pricing resolves a service's charge model and unit prices for the
// billing pipeline. Lookups read through a TTL cache; the cache is
// best-effort and the durable service table stays authoritative.
package pricing

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/xpack-ai/mcpay/app/repository"
)

// Quotes are cached for an hour; price edits propagate within this window.
const QuoteTTL = time.Hour

// ErrServiceNotFound is returned when no enabled service exists for the id.
var ErrServiceNotFound = errors.New("service not found")

// PriceQuote is the resolved charge model for one service.
type PriceQuote struct {
	ServiceID        uint            `json:"service_id"`
	ChargeType       string          `json:"charge_type"`
	Price            decimal.Decimal `json:"price"`
	InputTokenPrice  decimal.Decimal `json:"input_token_price"`
	OutputTokenPrice decimal.Decimal `json:"output_token_price"`
}

// QuoteCache is the slice of the cache layer the resolver needs. Both
// methods are best-effort; implementations swallow transport errors.
type QuoteCache interface {
	Get(key string) (string, bool)
	Set(key, value string, ttl time.Duration)
}

// Resolver resolves service prices with a read-through cache.
type Resolver struct {
	services repository.ServiceRepository
	cache    QuoteCache
}

// NewResolver creates a price resolver over the given service repository.
func NewResolver(services repository.ServiceRepository, cache QuoteCache) *Resolver {
	return &Resolver{services: services, cache: cache}
}

func quoteKey(serviceID uint) string {
	return fmt.Sprintf("service:price:%d", serviceID)
}

// Resolve returns the charge model for a service, from cache when possible.
func (r *Resolver) Resolve(serviceID uint) (PriceQuote, error) {
	key := quoteKey(serviceID)

	if raw, ok := r.cache.Get(key); ok {
		var quote PriceQuote
		if err := json.Unmarshal([]byte(raw), &quote); err == nil {
			return quote, nil
		}
		// Corrupt cache entry; fall through to the durable source.
	}

	service, err := r.services.GetByID(serviceID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return PriceQuote{}, fmt.Errorf("%w: service %d", ErrServiceNotFound, serviceID)
		}
		return PriceQuote{}, err
	}

	quote := PriceQuote{
		ServiceID:        service.ID,
		ChargeType:       service.ChargeType,
		Price:            service.Price,
		InputTokenPrice:  service.InputTokenPrice,
		OutputTokenPrice: service.OutputTokenPrice,
	}

	if raw, err := json.Marshal(quote); err == nil {
		r.cache.Set(key, string(raw), QuoteTTL)
	}

	return quote, nil
}

// redisQuoteCache adapts the shared cache package to QuoteCache. Errors are
// logged and reported as misses so the resolver never blocks on the cache.
type redisQuoteCache struct {
	get func(key string) (string, error)
	set func(key string, value interface{}, ttl time.Duration) error
	// isMiss distinguishes a missing key from a transport failure.
	isMiss func(err error) bool
}

// NewRedisQuoteCache wraps the shared cache functions as a QuoteCache.
func NewRedisQuoteCache(
	get func(key string) (string, error),
	set func(key string, value interface{}, ttl time.Duration) error,
	isMiss func(err error) bool,
) QuoteCache {
	return &redisQuoteCache{get: get, set: set, isMiss: isMiss}
}

func (c *redisQuoteCache) Get(key string) (string, bool) {
	val, err := c.get(key)
	if err != nil {
		if !c.isMiss(err) {
			log.Warnf("[Pricing] Cache read failed for %s: %v", key, err)
		}
		return "", false
	}
	return val, true
}

func (c *redisQuoteCache) Set(key, value string, ttl time.Duration) {
	if err := c.set(key, value, ttl); err != nil {
		log.Warnf("[Pricing] Cache write failed for %s: %v", key, err)
	}
}
