package payment

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/shopspring/decimal"

	"github.com/xpack-ai/mcpay/app/repository"
	"github.com/xpack-ai/mcpay/internal/pkg/wallet"
)

// Monitor timing. An order that stays WAITING past OrderTimeout is settled
// as failed; the gateway-side order has long expired by then.
const (
	DefaultPollInterval    = 10 * time.Second
	DefaultRefreshInterval = 60 * time.Second
	OrderTimeout           = 6 * time.Minute
	// ReseedWindow bounds the startup requery: pending entries older than
	// this are assumed to have timed out while the process was down.
	ReseedWindow = 5 * time.Minute

	queueCapacity = 1024
)

// ErrQueueFull is returned when the pending-order queue cannot take more
// work; the order will still be found by webhook delivery or a restart.
var ErrQueueFull = errors.New("pending order queue full")

// PendingOrder is one deposit awaiting gateway confirmation. PaymentID is
// the ledger entry id, which doubles as the gateway-side order id.
type PendingOrder struct {
	CreatedTime time.Time
	UserID      uint
	Amount      decimal.Decimal
	PaymentID   uint
	ChannelID   uint
}

// Settler is the slice of the wallet ledger the monitor drives.
type Settler interface {
	Credit(entryID uint, paidAmount decimal.Decimal, externalTransactionID string) error
	FailDeposit(entryID uint) error
}

// Monitor polls payment gateways until each pending deposit succeeds, fails,
// or times out, and drives ledger settlement accordingly. One instance per
// process, constructed at startup and injected where needed.
//
// Two independent loops: the poll loop works the order queue, the refresh
// loop re-reads channel configuration and hot-swaps adapters. Disabling a
// channel stops new queries against it but never drops orders queued for
// other channels.
type Monitor struct {
	ledger   Settler
	history  repository.LedgerRepository
	channels repository.ChannelRepository

	orders chan PendingOrder

	mu      sync.RWMutex
	adapter map[uint]Channel

	pollInterval    time.Duration
	refreshInterval time.Duration
	orderTimeout    time.Duration

	runMu   sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewMonitor wires a reconciliation monitor with default timing.
func NewMonitor(ledger Settler, history repository.LedgerRepository, channels repository.ChannelRepository) *Monitor {
	return &Monitor{
		ledger:          ledger,
		history:         history,
		channels:        channels,
		orders:          make(chan PendingOrder, queueCapacity),
		adapter:         map[uint]Channel{},
		pollInterval:    DefaultPollInterval,
		refreshInterval: DefaultRefreshInterval,
		orderTimeout:    OrderTimeout,
	}
}

// EnqueueOrder adds a pending deposit to the reconciliation queue.
func (m *Monitor) EnqueueOrder(order PendingOrder) error {
	select {
	case m.orders <- order:
		return nil
	default:
		log.Errorf("[PaymentMonitor] Queue full, order %d not enqueued", order.PaymentID)
		return ErrQueueFull
	}
}

// EnableChannel enables a channel and reloads the adapter set.
func (m *Monitor) EnableChannel(channelID uint) error {
	if err := m.channels.SetEnabled(channelID, true); err != nil {
		return err
	}
	m.refreshChannels()
	return nil
}

// DisableChannel disables a channel and reloads the adapter set. Orders
// already queued for this channel stay queued and time out normally.
func (m *Monitor) DisableChannel(channelID uint) error {
	if err := m.channels.SetEnabled(channelID, false); err != nil {
		return err
	}
	m.refreshChannels()
	return nil
}

// Start loads the channel adapters, reseeds the queue from recent pending
// ledger entries, and launches both background loops.
func (m *Monitor) Start() {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if m.running {
		return
	}
	m.running = true
	m.stopCh = make(chan struct{})

	m.refreshChannels()
	m.reseed()

	m.wg.Add(2)
	go m.pollLoop()
	go m.refreshLoop()
	log.Info("[PaymentMonitor] Started")
}

// Stop terminates both loops and waits for the in-flight cycle.
func (m *Monitor) Stop() {
	m.runMu.Lock()
	if !m.running {
		m.runMu.Unlock()
		return
	}
	m.running = false
	close(m.stopCh)
	m.runMu.Unlock()

	m.wg.Wait()
	log.Info("[PaymentMonitor] Stopped")
}

// reseed rebuilds the in-memory queue from ledger entries still pending
// within the reseed window. Older pending orders are assumed to have timed
// out on the gateway side already.
func (m *Monitor) reseed() {
	entries, err := m.history.ListPendingSince(time.Now().Add(-ReseedWindow))
	if err != nil {
		log.Errorf("[PaymentMonitor] Reseed query failed: %v", err)
		return
	}
	for _, entry := range entries {
		order := PendingOrder{
			CreatedTime: entry.CreatedAt,
			UserID:      entry.UserID,
			Amount:      entry.Amount,
			PaymentID:   entry.ID,
			ChannelID:   entry.ChannelID,
		}
		if err := m.EnqueueOrder(order); err != nil {
			return
		}
	}
	if len(entries) > 0 {
		log.Infof("[PaymentMonitor] Reseeded %d pending orders", len(entries))
	}
}

func (m *Monitor) pollLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.pollCycle()
		}
	}
}

// pollCycle works through the orders queued at cycle start. Orders still
// waiting are re-queued for the next cycle; one bad order never halts the
// loop.
func (m *Monitor) pollCycle() {
	ctx, cancel := context.WithTimeout(context.Background(), m.pollInterval)
	defer cancel()

	pending := len(m.orders)
	for i := 0; i < pending; i++ {
		var order PendingOrder
		select {
		case order = <-m.orders:
		default:
			return
		}
		if m.resolveOrder(ctx, order) {
			continue
		}
		// Still open; back of the queue for the next cycle.
		if err := m.EnqueueOrder(order); err != nil {
			log.Errorf("[PaymentMonitor] Dropped order %d on requeue: %v", order.PaymentID, err)
		}
	}
}

// resolveOrder returns true when the order reached a terminal state and must
// not be requeued.
func (m *Monitor) resolveOrder(ctx context.Context, order PendingOrder) bool {
	if time.Since(order.CreatedTime) > m.orderTimeout {
		log.Warnf("[PaymentMonitor] Order %d timed out after %s", order.PaymentID, m.orderTimeout)
		m.settleFailure(order)
		return true
	}

	channel, ok := m.channelFor(order.ChannelID)
	if !ok {
		// Channel currently disabled or unconfigured; keep the order queued
		// until the config refresh brings the adapter back or it times out.
		return false
	}

	result, err := channel.QueryStatus(ctx, strconv.FormatUint(uint64(order.PaymentID), 10))
	if err != nil {
		log.Warnf("[PaymentMonitor] Query failed for order %d: %v", order.PaymentID, err)
		return false
	}

	switch channel.Classify(result.Status) {
	case StateSuccess:
		m.settleSuccess(order, result)
		return true
	case StateFailed:
		m.settleFailure(order)
		return true
	default:
		return false
	}
}

func (m *Monitor) settleSuccess(order PendingOrder, result QueryResult) {
	err := m.ledger.Credit(order.PaymentID, result.PaidAmount, result.TradeNo)
	if err != nil && !errors.Is(err, wallet.ErrAlreadySettled) {
		log.Errorf("[PaymentMonitor] Credit failed for order %d: %v", order.PaymentID, err)
		return
	}
	log.Infof("[PaymentMonitor] Order %d settled: user %d credited %s", order.PaymentID, order.UserID, order.Amount)
}

func (m *Monitor) settleFailure(order PendingOrder) {
	err := m.ledger.FailDeposit(order.PaymentID)
	if err != nil && !errors.Is(err, wallet.ErrAlreadySettled) {
		log.Errorf("[PaymentMonitor] Failure settlement failed for order %d: %v", order.PaymentID, err)
	}
}

func (m *Monitor) refreshLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.refreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.refreshChannels()
		}
	}
}

// refreshChannels rebuilds the adapter map from the enabled channel rows.
func (m *Monitor) refreshChannels() {
	configs, err := m.channels.ListEnabled()
	if err != nil {
		log.Errorf("[PaymentMonitor] Channel refresh failed: %v", err)
		return
	}

	adapters := make(map[uint]Channel, len(configs))
	for i := range configs {
		channel, err := NewChannelFromConfig(&configs[i])
		if err != nil {
			log.Errorf("[PaymentMonitor] Skipping channel %d: %v", configs[i].ID, err)
			continue
		}
		adapters[channel.ID()] = channel
	}

	m.mu.Lock()
	m.adapter = adapters
	m.mu.Unlock()
}

func (m *Monitor) channelFor(channelID uint) (Channel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	channel, ok := m.adapter[channelID]
	return channel, ok
}

// ActiveChannels lists the currently loaded channel kinds, keyed by id.
func (m *Monitor) ActiveChannels() map[uint]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[uint]string, len(m.adapter))
	for id, channel := range m.adapter {
		out[id] = channel.Kind()
	}
	return out
}
