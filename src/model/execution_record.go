package model

import "time"

const (
	ExecutionStatusPending   = "pending"
	ExecutionStatusSubmitted = "submitted"
	ExecutionStatusFilled    = "filled"
	ExecutionStatusFailed    = "failed"
)

// ErrorCodeReserveTimeout marks a PENDING reservation that was abandoned by
// a crashed or timed-out pass and reaped by a later one.
const ErrorCodeReserveTimeout = "RESERVE_TIMEOUT"

// ExecutionRecord is the durable idempotency and audit row binding one
// signal to one account's execution attempt. The unique index over
// (signal_id, account_id) is what guarantees at-most-once execution; the
// application never relies on a check-then-insert.
//
// Records are append-only: status transitions update the row, nothing
// deletes it.
type ExecutionRecord struct {
	ID        uint `gorm:"primaryKey" json:"id"`
	SignalID  uint `gorm:"not null;uniqueIndex:idx_signal_account" json:"signal_id"`
	AccountID uint `gorm:"not null;uniqueIndex:idx_signal_account;index" json:"account_id"`

	// Symbol is denormalized from the signal so cooldown lookups do not
	// have to join the feed database.
	Symbol string `gorm:"size:32;not null" json:"symbol"`

	Status string `gorm:"size:50;not null;default:pending" json:"status"`

	// ClientOrderID is the deterministic exchange-side dedup key derived
	// from (signal_id, account_id).
	ClientOrderID   string `gorm:"size:64" json:"client_order_id"`
	ExchangeOrderID string `gorm:"size:64" json:"exchange_order_id,omitempty"`
	ErrorCode       string `gorm:"size:50" json:"error_code,omitempty"`

	// ClosedAt is set by the external settlement process once the position
	// opened by this execution is no longer open. The orchestrator never
	// writes it.
	ClosedAt *time.Time `json:"closed_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (ExecutionRecord) TableName() string {
	return "execution_records"
}
