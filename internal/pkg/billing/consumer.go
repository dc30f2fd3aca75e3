package billing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/xpack-ai/mcpay/app/models"
	"github.com/xpack-ai/mcpay/app/repository"
	"github.com/xpack-ai/mcpay/internal/pkg/wallet"
)

// Consumer drains the billing queue with a single sequential worker and
// commits each event to the wallet ledger. One message at a time keeps
// ledger writes for a given user serialized at the consumer even though the
// queue itself is unordered across users.
//
// Every message is acked regardless of outcome: the transport has no
// dead-lettering, so a poison message must not loop forever. Settlement
// failures mark the call log failed and are not retried; losing a charge is
// preferred over charging twice.
type Consumer struct {
	client   *redis.Client
	callLogs repository.CallLogRepository
	quoter   PriceQuoter
	ledger   *wallet.Ledger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewConsumer wires the settlement consumer.
func NewConsumer(client *redis.Client, callLogs repository.CallLogRepository, quoter PriceQuoter, ledger *wallet.Ledger) *Consumer {
	return &Consumer{
		client:   client,
		callLogs: callLogs,
		quoter:   quoter,
		ledger:   ledger,
	}
}

// Start launches the consume loop. Calling Start on a running consumer is a
// no-op.
func (c *Consumer) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return
	}
	c.running = true
	c.stopCh = make(chan struct{})
	c.wg.Add(1)
	go c.loop()
	log.Info("[Billing] Settlement consumer started")
}

// Stop signals the consume loop and waits for the in-flight message.
func (c *Consumer) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	close(c.stopCh)
	c.mu.Unlock()

	c.wg.Wait()
	log.Info("[Billing] Settlement consumer stopped")
}

func (c *Consumer) loop() {
	defer c.wg.Done()
	ctx := context.Background()

	for {
		select {
		case <-c.stopCh:
			return
		default:
		}

		// Atomically move the next event into the processing list so a crash
		// mid-settlement leaves it visible to operators.
		payload, err := c.client.BRPopLPush(ctx, EventQueueKey, ProcessingQueueKey, time.Second).Result()
		if err != nil {
			if !errors.Is(err, redis.Nil) {
				log.Errorf("[Billing] Consume error: %v", err)
				time.Sleep(time.Second)
			}
			continue
		}

		if err := c.Settle([]byte(payload)); err != nil {
			log.Errorf("[Billing] Settlement error: %v", err)
		}

		// Always ack. Redelivery without dead-lettering would loop forever on
		// the same failure.
		if err := c.client.LRem(ctx, ProcessingQueueKey, 1, payload).Err(); err != nil {
			log.Errorf("[Billing] Failed to ack billing event: %v", err)
		}
	}
}

// Settle commits one billing event: parse, record the call log, debit the
// wallet when the call succeeded and has a positive cost, and link the log
// to the ledger entry. Errors are terminal for the message.
func (c *Consumer) Settle(payload []byte) error {
	record, err := DecodeCallRecord(payload)
	if err != nil {
		return fmt.Errorf("malformed billing event dropped: %w", err)
	}
	if record.EventID == "" || record.UserID == 0 {
		return fmt.Errorf("billing event missing event_id or user_id, dropped")
	}

	created, err := c.callLogs.CreateIfNotExists(&models.CallLog{
		ID:            record.EventID,
		UserID:        record.UserID,
		ServiceID:     record.ServiceID,
		APIID:         record.APIID,
		ToolName:      record.ToolName,
		UnitPrice:     record.UnitPrice,
		InputToken:    record.InputToken,
		OutputToken:   record.OutputToken,
		CallSuccess:   record.CallSuccess,
		ProcessStatus: models.CallLogStatusPending,
		CallStartTime: record.CallStartTime,
		CallEndTime:   record.CallEndTime,
	})
	if err != nil {
		return fmt.Errorf("create call log %s: %w", record.EventID, err)
	}
	if !created {
		// Redelivered event; the first delivery owns settlement.
		log.Warnf("[Billing] Duplicate event %s skipped", record.EventID)
		return nil
	}

	amount, err := c.settlementAmount(record)
	if err != nil {
		if markErr := c.callLogs.MarkFailed(record.EventID); markErr != nil {
			log.Errorf("[Billing] Failed to mark call log %s failed: %v", record.EventID, markErr)
		}
		return fmt.Errorf("settle event %s: %w", record.EventID, err)
	}

	if !record.CallSuccess || amount.Sign() <= 0 {
		// Nothing to charge; the log row alone is the outcome.
		if err := c.callLogs.MarkProcessed(record.EventID, 0); err != nil {
			return fmt.Errorf("mark call log %s processed: %w", record.EventID, err)
		}
		return nil
	}

	entry, err := c.ledger.Debit(record.UserID, amount)
	if err != nil {
		// Insufficient balance can surface only now because the pre-deduction
		// check consulted the advisory cache. Not retried.
		if markErr := c.callLogs.MarkFailed(record.EventID); markErr != nil {
			log.Errorf("[Billing] Failed to mark call log %s failed: %v", record.EventID, markErr)
		}
		return fmt.Errorf("debit user %d for event %s: %w", record.UserID, record.EventID, err)
	}

	if err := c.callLogs.MarkProcessed(record.EventID, entry.ID); err != nil {
		return fmt.Errorf("link call log %s to ledger entry %d: %w", record.EventID, entry.ID, err)
	}

	log.Infof("[Billing] Settled event %s: user %d charged %s", record.EventID, record.UserID, amount)
	return nil
}

// settlementAmount computes the true cost of the call. Per-call events carry
// the price inline; per-token events are priced from the actual token counts
// against current token prices.
func (c *Consumer) settlementAmount(record *CallRecord) (decimal.Decimal, error) {
	switch record.ChargeType {
	case models.ChargeTypePerCall:
		return record.UnitPrice, nil
	case models.ChargeTypePerToken:
		quote, err := c.quoter.Resolve(record.ServiceID)
		if err != nil {
			return decimal.Zero, fmt.Errorf("resolve token prices for service %d: %w", record.ServiceID, err)
		}
		thousand := decimal.NewFromInt(1000)
		inputCost := quote.InputTokenPrice.Mul(decimal.NewFromInt(record.InputToken)).Div(thousand)
		outputCost := quote.OutputTokenPrice.Mul(decimal.NewFromInt(record.OutputToken)).Div(thousand)
		return inputCost.Add(outputCost).Round(2), nil
	default:
		return decimal.Zero, nil
	}
}
