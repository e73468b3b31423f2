package repository

import (
	"context"
	"errors"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"signalexecutor/src/database"
	"signalexecutor/src/model"
)

// AccountConfigRepository reads the per-account automation settings
// maintained by the external settings API. The orchestrator's only write is
// Disable, used when the exchange reports the credentials invalid.
type AccountConfigRepository struct {
	db *gorm.DB
}

func NewAccountConfigRepository() *AccountConfigRepository {
	logger.WithField("component", "AccountConfigRepository").
		Info("Creating new AccountConfigRepository with MainDB")

	return &AccountConfigRepository{db: database.MainDB}
}

// WithDB allows overriding the underlying *gorm.DB instance.
func (r *AccountConfigRepository) WithDB(db *gorm.DB) *AccountConfigRepository {
	return &AccountConfigRepository{db: db}
}

// GetByAccountID fetches the automation settings for one account.
// Returns (nil, nil) if not found; an absent config means automation is
// disabled for that account.
func (r *AccountConfigRepository) GetByAccountID(ctx context.Context, accountID uint) (*model.AccountConfig, error) {
	var cfg model.AccountConfig

	err := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		First(&cfg).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			logger.WithFields(map[string]interface{}{
				"repo":      "AccountConfigRepository",
				"op":        "GetByAccountID",
				"accountID": accountID,
			}).Debug("Account config not found")
			return nil, nil // not found is not an error
		}

		logger.WithFields(map[string]interface{}{
			"repo":      "AccountConfigRepository",
			"op":        "GetByAccountID",
			"accountID": accountID,
		}).WithError(err).Error("Failed to fetch account config")

		return nil, err
	}

	return &cfg, nil
}

// ListEnabled returns all accounts with automation switched on, ordered by
// account id for deterministic sweeps.
func (r *AccountConfigRepository) ListEnabled(ctx context.Context) ([]model.AccountConfig, error) {
	var configs []model.AccountConfig

	err := r.db.WithContext(ctx).
		Where("enabled = ?", true).
		Order("account_id ASC").
		Find(&configs).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "AccountConfigRepository",
			"op":   "ListEnabled",
		}).WithError(err).Error("Failed to list enabled accounts")

		return nil, err
	}

	return configs, nil
}

// Disable switches automation off for the account and records the reason.
// Called on terminal failures such as AUTH_INVALID so the account stops
// trading until an operator intervenes.
func (r *AccountConfigRepository) Disable(ctx context.Context, accountID uint, reason string) error {
	err := r.db.WithContext(ctx).
		Model(&model.AccountConfig{}).
		Where("account_id = ?", accountID).
		Updates(map[string]interface{}{
			"enabled":         false,
			"disabled_reason": reason,
		}).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":      "AccountConfigRepository",
			"op":        "Disable",
			"accountID": accountID,
			"reason":    reason,
		}).WithError(err).Error("Failed to disable account automation")

		return err
	}

	logger.WithFields(map[string]interface{}{
		"repo":      "AccountConfigRepository",
		"op":        "Disable",
		"accountID": accountID,
		"reason":    reason,
	}).Warn("Account automation disabled")

	return nil
}
