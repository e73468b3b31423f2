package repository

import (
	"context"
	"time"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"signalexecutor/src/database"
	"signalexecutor/src/model"
)

// openPositionWindow bounds the open-position count for legacy rows that
// predate close tracking: a SUBMITTED/FILLED record with no closed_at older
// than this window no longer counts against the account's slots.
const openPositionWindow = 24 * time.Hour

// ExecutionRecordRepository owns all writes to the execution ledger. Every
// mutation goes through the reserve-then-update pattern; there is no
// read-modify-write path.
type ExecutionRecordRepository struct {
	db *gorm.DB
}

func NewExecutionRecordRepository() *ExecutionRecordRepository {
	logger.WithField("component", "ExecutionRecordRepository").
		Info("Creating new ExecutionRecordRepository with MainDB")

	return &ExecutionRecordRepository{db: database.MainDB}
}

// WithDB allows overriding the underlying *gorm.DB instance.
// Useful for tests or custom sessions/transactions.
func (r *ExecutionRecordRepository) WithDB(db *gorm.DB) *ExecutionRecordRepository {
	return &ExecutionRecordRepository{db: db}
}

// Reserve atomically claims a signal for an account by inserting a PENDING
// record. It returns false when the (signal_id, account_id) uniqueness
// constraint rejects the insert, meaning another pass already claimed the
// signal. A conflict is expected under concurrency and is not an error.
//
// The one conflicting row Reserve may take over is a reaped reservation
// (FAILED with RESERVE_TIMEOUT): that row marks an abandoned claim, not an
// exhausted signal, so it is flipped back to PENDING with a conditional
// update. The deterministic client order id keeps the retried submission
// safe against exchange-side duplication.
func (r *ExecutionRecordRepository) Reserve(ctx context.Context, rec *model.ExecutionRecord) (bool, error) {
	rec.Status = model.ExecutionStatusPending

	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "signal_id"}, {Name: "account_id"}},
			DoNothing: true,
		}).
		Create(rec)

	if res.Error != nil {
		logger.WithFields(map[string]interface{}{
			"repo":      "ExecutionRecordRepository",
			"op":        "Reserve",
			"signalID":  rec.SignalID,
			"accountID": rec.AccountID,
		}).WithError(res.Error).Error("Failed to reserve signal")

		return false, res.Error
	}

	if res.RowsAffected == 0 {
		return r.reclaimReaped(ctx, rec)
	}

	return true, nil
}

// reclaimReaped retakes an abandoned reservation. The update is guarded on
// status and error code, so of any number of racing passes exactly one gets
// RowsAffected = 1; the rest see a live claim.
func (r *ExecutionRecordRepository) reclaimReaped(ctx context.Context, rec *model.ExecutionRecord) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&model.ExecutionRecord{}).
		Where("signal_id = ?", rec.SignalID).
		Where("account_id = ?", rec.AccountID).
		Where("status = ?", model.ExecutionStatusFailed).
		Where("error_code = ?", model.ErrorCodeReserveTimeout).
		Updates(map[string]interface{}{
			"status":     model.ExecutionStatusPending,
			"error_code": "",
		})

	if res.Error != nil {
		logger.WithFields(map[string]interface{}{
			"repo":      "ExecutionRecordRepository",
			"op":        "Reserve",
			"signalID":  rec.SignalID,
			"accountID": rec.AccountID,
		}).WithError(res.Error).Error("Failed to reclaim reaped reservation")

		return false, res.Error
	}

	if res.RowsAffected == 0 {
		logger.WithFields(map[string]interface{}{
			"repo":      "ExecutionRecordRepository",
			"op":        "Reserve",
			"signalID":  rec.SignalID,
			"accountID": rec.AccountID,
		}).Debug("Reservation conflict, signal already claimed")

		return false, nil
	}

	var existing model.ExecutionRecord
	err := r.db.WithContext(ctx).
		Where("signal_id = ?", rec.SignalID).
		Where("account_id = ?", rec.AccountID).
		First(&existing).Error
	if err != nil {
		return false, err
	}

	rec.ID = existing.ID
	rec.Status = model.ExecutionStatusPending

	logger.WithFields(map[string]interface{}{
		"repo":      "ExecutionRecordRepository",
		"op":        "Reserve",
		"signalID":  rec.SignalID,
		"accountID": rec.AccountID,
		"recordID":  rec.ID,
	}).Info("Reclaimed reaped reservation")

	return true, nil
}

// MarkSubmitted transitions a reservation to SUBMITTED after the exchange
// acknowledged the order.
func (r *ExecutionRecordRepository) MarkSubmitted(ctx context.Context, id uint, exchangeOrderID string) error {
	err := r.db.WithContext(ctx).
		Model(&model.ExecutionRecord{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":            model.ExecutionStatusSubmitted,
			"exchange_order_id": exchangeOrderID,
		}).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "ExecutionRecordRepository",
			"op":   "MarkSubmitted",
			"id":   id,
		}).WithError(err).Error("Failed to mark record submitted")
	}

	return err
}

// MarkFailed transitions a reservation to FAILED with the gateway error
// code. The signal is considered exhausted for this account and is not
// retried.
func (r *ExecutionRecordRepository) MarkFailed(ctx context.Context, id uint, errorCode string) error {
	err := r.db.WithContext(ctx).
		Model(&model.ExecutionRecord{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     model.ExecutionStatusFailed,
			"error_code": errorCode,
		}).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "ExecutionRecordRepository",
			"op":   "MarkFailed",
			"id":   id,
		}).WithError(err).Error("Failed to mark record failed")
	}

	return err
}

// CountOpen returns how many positions are currently open for the account:
// SUBMITTED/FILLED records that the settlement process has not closed,
// bounded by the rolling window for rows that never get a closed_at.
func (r *ExecutionRecordRepository) CountOpen(ctx context.Context, accountID uint) (int64, error) {
	var count int64

	err := r.db.WithContext(ctx).
		Model(&model.ExecutionRecord{}).
		Where("account_id = ?", accountID).
		Where("status IN ?", []string{model.ExecutionStatusSubmitted, model.ExecutionStatusFilled}).
		Where("closed_at IS NULL").
		Where("created_at >= ?", time.Now().Add(-openPositionWindow)).
		Count(&count).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":      "ExecutionRecordRepository",
			"op":        "CountOpen",
			"accountID": accountID,
		}).WithError(err).Error("Failed to count open positions")

		return 0, err
	}

	return count, nil
}

// ExecutedSignalIDs returns the subset of signalIDs that already have an
// execution record for the account. Used by the eligibility filter as the
// cheap pre-check before the atomic Reserve. Reaped reservations (FAILED
// with RESERVE_TIMEOUT) are not counted: those signals are retryable and
// must stay visible to the filter.
func (r *ExecutionRecordRepository) ExecutedSignalIDs(ctx context.Context, accountID uint, signalIDs []uint) (map[uint]struct{}, error) {
	executed := make(map[uint]struct{})
	if len(signalIDs) == 0 {
		return executed, nil
	}

	var ids []uint
	err := r.db.WithContext(ctx).
		Model(&model.ExecutionRecord{}).
		Where("account_id = ?", accountID).
		Where("signal_id IN ?", signalIDs).
		Where("NOT (status = ? AND error_code = ?)", model.ExecutionStatusFailed, model.ErrorCodeReserveTimeout).
		Pluck("signal_id", &ids).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":      "ExecutionRecordRepository",
			"op":        "ExecutedSignalIDs",
			"accountID": accountID,
		}).WithError(err).Error("Failed to fetch executed signal ids")

		return nil, err
	}

	for _, id := range ids {
		executed[id] = struct{}{}
	}

	return executed, nil
}

// LastAttemptBySymbol returns the latest execution attempt time per symbol
// for the account since the given time. Feeds the cooldown rule.
func (r *ExecutionRecordRepository) LastAttemptBySymbol(ctx context.Context, accountID uint, since time.Time) (map[string]time.Time, error) {
	type row struct {
		Symbol string
		Last   time.Time
	}

	var rows []row
	err := r.db.WithContext(ctx).
		Model(&model.ExecutionRecord{}).
		Select("symbol, MAX(created_at) AS last").
		Where("account_id = ?", accountID).
		Where("created_at >= ?", since).
		Group("symbol").
		Scan(&rows).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":      "ExecutionRecordRepository",
			"op":        "LastAttemptBySymbol",
			"accountID": accountID,
		}).WithError(err).Error("Failed to fetch last attempts by symbol")

		return nil, err
	}

	last := make(map[string]time.Time, len(rows))
	for _, rr := range rows {
		last[rr.Symbol] = rr.Last
	}

	return last, nil
}

// FailStalePending flips PENDING reservations older than the cutoff to
// FAILED with RESERVE_TIMEOUT. A crashed submission left its reservation
// PENDING; reaping it here is what allows the signal to be inspected again
// without ever risking a duplicate exchange call.
func (r *ExecutionRecordRepository) FailStalePending(ctx context.Context, accountID uint, olderThan time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&model.ExecutionRecord{}).
		Where("account_id = ?", accountID).
		Where("status = ?", model.ExecutionStatusPending).
		Where("created_at < ?", olderThan).
		Updates(map[string]interface{}{
			"status":     model.ExecutionStatusFailed,
			"error_code": model.ErrorCodeReserveTimeout,
		})

	if res.Error != nil {
		logger.WithFields(map[string]interface{}{
			"repo":      "ExecutionRecordRepository",
			"op":        "FailStalePending",
			"accountID": accountID,
		}).WithError(res.Error).Error("Failed to reap stale reservations")

		return 0, res.Error
	}

	if res.RowsAffected > 0 {
		logger.WithFields(map[string]interface{}{
			"repo":      "ExecutionRecordRepository",
			"op":        "FailStalePending",
			"accountID": accountID,
			"reaped":    res.RowsAffected,
		}).Warn("Reaped stale PENDING reservations")
	}

	return res.RowsAffected, nil
}

// ExecutionSearchOptions filters the ledger listing exposed by the ops API.
type ExecutionSearchOptions struct {
	AccountID uint
	Status    *string
	Symbol    *string
	Limit     int
	Offset    int
}

// Search lists execution records for an account, newest first.
func (r *ExecutionRecordRepository) Search(ctx context.Context, options ExecutionSearchOptions) ([]model.ExecutionRecord, error) {
	query := r.db.WithContext(ctx).
		Model(&model.ExecutionRecord{}).
		Where("account_id = ?", options.AccountID)

	if options.Status != nil {
		query = query.Where("status = ?", *options.Status)
	}
	if options.Symbol != nil {
		query = query.Where("symbol = ?", *options.Symbol)
	}

	query = query.Order("created_at DESC, id DESC")

	if options.Limit > 0 {
		query = query.Limit(options.Limit)
	}
	if options.Offset > 0 {
		query = query.Offset(options.Offset)
	}

	var records []model.ExecutionRecord
	if err := query.Find(&records).Error; err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":      "ExecutionRecordRepository",
			"op":        "Search",
			"accountID": options.AccountID,
		}).WithError(err).Error("Failed to search execution records")

		return nil, err
	}

	return records, nil
}
