// Package counter accumulates per-service invocation counters in Redis and
// flushes them to the database in batches. Counting must never slow down or
// fail the billing path, so increments are fire-and-forget hash bumps.
package counter

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/xpack-ai/mcpay/internal/pkg/cache"
	"github.com/xpack-ai/mcpay/internal/pkg/database"
)

const (
	serviceCallsKey    = "service:counters:calls"
	serviceFailuresKey = "service:counters:failures"
)

// AddServiceCall increments the pending invocation counter for a service.
func AddServiceCall(serviceID uint) error {
	ctx := context.Background()
	field := strconv.FormatUint(uint64(serviceID), 10)
	return cache.GetClient().HIncrBy(ctx, serviceCallsKey, field, 1).Err()
}

// AddServiceFailure increments the pending failure counter for a service.
func AddServiceFailure(serviceID uint) error {
	ctx := context.Background()
	field := strconv.FormatUint(uint64(serviceID), 10)
	return cache.GetClient().HIncrBy(ctx, serviceFailuresKey, field, 1).Err()
}

// FlushAll drains both counter hashes into the services table.
func FlushAll() error {
	if err := flushHashToColumn(serviceCallsKey, "call_count"); err != nil {
		return err
	}
	return flushHashToColumn(serviceFailuresKey, "failure_count")
}

// flushHashToColumn drains a Redis hash atomically and applies batched
// increments to mcp_services. RENAME to a temp key drains without losing
// in-flight increments.
func flushHashToColumn(redisKey, column string) error {
	ctx := context.Background()
	rdb := cache.GetClient()

	tmpKey := redisKey + ":tmp:" + strconv.FormatInt(time.Now().UnixNano(), 10)
	if err := rdb.Do(ctx, "RENAME", redisKey, tmpKey).Err(); err != nil {
		// Nothing accumulated since the last flush.
		if strings.Contains(strings.ToLower(err.Error()), "no such key") || err.Error() == "redis: nil" {
			return nil
		}
		return err
	}
	defer rdb.Del(ctx, tmpKey)

	data, err := rdb.HGetAll(ctx, tmpKey).Result()
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}

	type pair struct {
		id  uint64
		inc int64
	}
	pairs := make([]pair, 0, len(data))
	for k, v := range data {
		id, perr := strconv.ParseUint(k, 10, 64)
		if perr != nil {
			continue
		}
		inc, ierr := strconv.ParseInt(v, 10, 64)
		if ierr != nil || inc == 0 {
			continue
		}
		pairs = append(pairs, pair{id: id, inc: inc})
	}
	if len(pairs) == 0 {
		return nil
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].id < pairs[j].id })

	// UPDATE mcp_services SET <column> = <column> + CASE id WHEN ? THEN ? ... END WHERE id IN (...)
	var builder strings.Builder
	args := make([]interface{}, 0, len(pairs)*3)
	builder.WriteString("UPDATE mcp_services SET ")
	builder.WriteString(column)
	builder.WriteString(" = ")
	builder.WriteString(column)
	builder.WriteString(" + CASE id ")
	for _, p := range pairs {
		builder.WriteString(" WHEN ? THEN ?")
		args = append(args, p.id, p.inc)
	}
	builder.WriteString(" END WHERE id IN (")
	for i, p := range pairs {
		if i > 0 {
			builder.WriteString(",")
		}
		builder.WriteString("?")
		args = append(args, p.id)
	}
	builder.WriteString(")")

	return database.GetDB().Exec(builder.String(), args...).Error
}

// StartFlusher flushes the counters every interval until stop is closed.
func StartFlusher(interval time.Duration, stop <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				_ = FlushAll()
				return
			case <-ticker.C:
				_ = FlushAll()
			}
		}
	}()
}
