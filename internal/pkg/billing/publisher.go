package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"
)

// Publisher pushes billing events onto the durable queue. On transport
// failure it pings the connection once and retries the push once; a second
// failure drops the event with an error log. This is a known lossy edge,
// accepted until a dead-letter path exists.
type Publisher struct {
	client *redis.Client
}

// NewPublisher wires a publisher over the shared Redis client.
func NewPublisher(client *redis.Client) *Publisher {
	return &Publisher{client: client}
}

// Publish finalizes the record with the outcome and end time, then pushes it
// to the billing queue.
func (p *Publisher) Publish(record *CallRecord, success bool, endTime time.Time) error {
	record.CallSuccess = success
	record.CallEndTime = endTime.UnixMilli()

	payload, err := record.Encode()
	if err != nil {
		return fmt.Errorf("encode billing event %s: %w", record.EventID, err)
	}

	ctx := context.Background()
	pushErr := p.client.LPush(ctx, EventQueueKey, payload).Err()
	if pushErr == nil {
		return nil
	}
	log.Warnf("[Billing] Publish failed for event %s, reconnecting: %v", record.EventID, pushErr)

	// Force a fresh connection out of the pool before the single retry.
	if err := p.client.Ping(ctx).Err(); err != nil {
		log.Errorf("[Billing] Reconnect failed, dropping event %s (user %d, service %d): %v",
			record.EventID, record.UserID, record.ServiceID, err)
		return fmt.Errorf("publish billing event %s: %w", record.EventID, err)
	}

	if err := p.client.LPush(ctx, EventQueueKey, payload).Err(); err != nil {
		log.Errorf("[Billing] Retry failed, dropping event %s (user %d, service %d): %v",
			record.EventID, record.UserID, record.ServiceID, err)
		return fmt.Errorf("publish billing event %s: %w", record.EventID, err)
	}

	return nil
}
