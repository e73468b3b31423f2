package externalmodel

import "time"

const (
	DirectionLong  = "LONG"
	DirectionShort = "SHORT"
)

// Signal is a scored candidate trade produced by the external signal feed.
// Rows are immutable once written; the orchestrator only reads them.
type Signal struct {
	ID         uint       `gorm:"primaryKey;column:id" json:"id"`
	Symbol     string     `gorm:"column:symbol" json:"symbol"`
	Direction  string     `gorm:"column:direction" json:"direction"`
	Timeframe  string     `gorm:"column:timeframe" json:"timeframe"`
	Score      float64    `gorm:"column:score" json:"score"`
	EntryPrice float64    `gorm:"column:entry_price" json:"entry_price"`
	StopLoss   *float64   `gorm:"column:stop_loss" json:"stop_loss,omitempty"`
	TakeProfit *float64   `gorm:"column:take_profit" json:"take_profit,omitempty"`
	CreatedAt  time.Time  `gorm:"column:created_at" json:"created_at"`
	ReceivedAt *time.Time `gorm:"column:received_at" json:"received_at,omitempty"`
}

// TableName ensures GORM uses the exact table name from the feed database.
func (Signal) TableName() string {
	return "feed_signals"
}
