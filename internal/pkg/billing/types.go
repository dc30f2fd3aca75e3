// Package billing implements the settlement pipeline for metered tool
// invocations: the synchronous pre-deduction guard, the durable billing
// event queue, and the single-worker consumer that commits queued events to
// the wallet ledger.
package billing

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Redis keys for the billing event queue. Events move from EventQueueKey to
// ProcessingQueueKey atomically on consume, so a message being worked on is
// never invisible to an operator inspecting the queues.
const (
	EventQueueKey      = "billing:events"
	ProcessingQueueKey = "billing:events:processing"
)

// CallRecord is the billing event payload. EventID is generated once at
// publish time and doubles as the call-log primary key, so a redelivered
// event settles onto the same log row instead of creating a duplicate.
type CallRecord struct {
	EventID       string          `json:"event_id"`
	UserID        uint            `json:"user_id"`
	ServiceID     uint            `json:"service_id"`
	APIID         uint            `json:"api_id"`
	ToolName      string          `json:"tool_name"`
	InputParams   string          `json:"input_params"`
	CallSuccess   bool            `json:"call_success"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
	InputToken    int64           `json:"input_token"`
	OutputToken   int64           `json:"output_token"`
	ChargeType    string          `json:"charge_type"`
	CallStartTime int64           `json:"call_start_time"` // unix milliseconds
	CallEndTime   int64           `json:"call_end_time"`
	APIKeyID      uint            `json:"apikey_id"`
}

// NewCallRecord stamps a fresh event id and the call start time.
func NewCallRecord(userID, serviceID uint, toolName string) *CallRecord {
	return &CallRecord{
		EventID:       uuid.New().String(),
		UserID:        userID,
		ServiceID:     serviceID,
		ToolName:      toolName,
		CallStartTime: time.Now().UnixMilli(),
	}
}

// Encode serializes the record for the queue.
func (r *CallRecord) Encode() ([]byte, error) {
	return json.Marshal(r)
}

// DecodeCallRecord parses a queue payload.
func DecodeCallRecord(data []byte) (*CallRecord, error) {
	var record CallRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, err
	}
	return &record, nil
}
