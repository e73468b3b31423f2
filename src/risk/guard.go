package risk

import (
	"context"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"signalexecutor/src/model"
)

// OpenPositionCounter is the slice of the execution ledger the guard needs.
type OpenPositionCounter interface {
	CountOpen(ctx context.Context, accountID uint) (int64, error)
}

// Guard enforces the per-account concurrency ceiling. It only reads a
// snapshot; overlapping passes are prevented by the run coordinator, and
// the ledger's uniqueness constraint backstops both.
type Guard struct {
	ledger OpenPositionCounter
}

func NewGuard(ledger OpenPositionCounter) *Guard {
	return &Guard{ledger: ledger}
}

// AvailableSlots returns how many new positions the account may open in
// this pass: max(0, maxOpenPositions - open).
func (g *Guard) AvailableSlots(ctx context.Context, cfg *model.AccountConfig) (int, error) {
	open, err := g.ledger.CountOpen(ctx, cfg.AccountID)
	if err != nil {
		return 0, err
	}

	slots := cfg.MaxOpenPositions - int(open)
	if slots < 0 {
		slots = 0
	}

	logger.WithFields(map[string]interface{}{
		"component": "PositionGuard",
		"accountID": cfg.AccountID,
		"open":      open,
		"max":       cfg.MaxOpenPositions,
		"slots":     slots,
	}).Debug("Computed available slots")

	return slots, nil
}

// quantityPrecision is the decimal places orders are rounded to.
const quantityPrecision = 6

// OrderQuantity sizes an order from the account's USD risk budget: the
// quantity that loses riskPerTradeUSD if price moves from entry to stop.
// Without a stop loss the full budget is treated as notional at entry.
// Returns zero when the inputs cannot produce a positive quantity.
func OrderQuantity(riskPerTradeUSD decimal.Decimal, entryPrice float64, stopLoss *float64) decimal.Decimal {
	if riskPerTradeUSD.Sign() <= 0 || entryPrice <= 0 {
		return decimal.Zero
	}

	entry := decimal.NewFromFloat(entryPrice)

	divisor := entry
	if stopLoss != nil {
		distance := entry.Sub(decimal.NewFromFloat(*stopLoss)).Abs()
		if distance.Sign() <= 0 {
			return decimal.Zero
		}
		divisor = distance
	}

	return riskPerTradeUSD.Div(divisor).Round(quantityPrecision)
}
