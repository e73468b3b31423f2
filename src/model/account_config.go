package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// AccountConfig holds the per-account automation settings. Records are
// created and updated by the external settings API; the orchestrator only
// reads them, except for Disable on a terminal auth failure.
type AccountConfig struct {
	ID        uint `gorm:"primaryKey" json:"id"`
	AccountID uint `gorm:"not null;uniqueIndex" json:"account_id"`
	Enabled   bool `gorm:"not null;default:false" json:"enabled"`

	MinSignalScore   float64         `gorm:"not null;default:0" json:"min_signal_score"`
	MaxOpenPositions int             `gorm:"not null;default:1" json:"max_open_positions"`
	RiskPerTradeUSD  decimal.Decimal `gorm:"type:numeric" json:"risk_per_trade_usd"`

	ExcludedSymbols   []string `gorm:"serializer:json" json:"excluded_symbols"`
	AllowedTimeframes []string `gorm:"serializer:json" json:"allowed_timeframes"`

	// CooldownSeconds is the minimum spacing between execution attempts for
	// the same symbol on this account. Zero disables the cooldown.
	CooldownSeconds int `gorm:"not null;default:0" json:"cooldown_seconds"`

	// Exchange credentials, encrypted with the shared credentials key.
	APIKeyEnc    string `gorm:"column:api_key;type:text" json:"-"`
	APISecretEnc string `gorm:"column:api_secret;type:text" json:"-"`

	// DisabledReason records why automation was switched off, e.g. an
	// AUTH_INVALID response from the exchange.
	DisabledReason string `gorm:"size:255" json:"disabled_reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (AccountConfig) TableName() string {
	return "account_configs"
}

// CooldownWindow returns CooldownSeconds as a duration.
func (c *AccountConfig) CooldownWindow() time.Duration {
	return time.Duration(c.CooldownSeconds) * time.Second
}
