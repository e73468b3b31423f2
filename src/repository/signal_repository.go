package repository

import (
	"context"
	"errors"
	"time"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"signalexecutor/src/database"
	"signalexecutor/src/externalmodel"
)

// SignalRepository handles read-only access to the external signal feed
// stored in the feed database. The feed is account-agnostic; per-account
// shaping happens in the eligibility filter.
type SignalRepository struct {
	db *gorm.DB
}

// NewSignalRepository creates a new repository instance.
// It uses the FeedDB connection by default.
func NewSignalRepository() *SignalRepository {
	logger.WithField("component", "SignalRepository").
		Info("Creating new SignalRepository with FeedDB")

	return &SignalRepository{db: database.FeedDB}
}

// WithDB allows overriding the underlying *gorm.DB instance.
// Useful for tests or custom sessions (even if read-only).
func (r *SignalRepository) WithDB(db *gorm.DB) *SignalRepository {
	return &SignalRepository{db: db}
}

// ListCandidates fetches candidate signals created at or after the given
// time, oldest first. The limit parameter bounds a single pass; zero falls
// back to a safety default.
func (r *SignalRepository) ListCandidates(ctx context.Context, accountID uint, since time.Time) ([]externalmodel.Signal, error) {
	return r.listSince(ctx, accountID, since, 0)
}

func (r *SignalRepository) listSince(ctx context.Context, accountID uint, since time.Time, limit int) ([]externalmodel.Signal, error) {
	if limit <= 0 {
		limit = 200 // default safety limit
	}

	logger.WithFields(map[string]interface{}{
		"repo":      "SignalRepository",
		"op":        "ListCandidates",
		"accountID": accountID,
		"since":     since,
		"limit":     limit,
	}).Debug("Fetching candidate signals")

	var signals []externalmodel.Signal

	err := r.db.WithContext(ctx).
		Where("created_at >= ?", since).
		Order("created_at ASC").
		Limit(limit).
		Find(&signals).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":      "SignalRepository",
			"op":        "ListCandidates",
			"accountID": accountID,
			"since":     since,
		}).WithError(err).Error("Failed to fetch candidate signals")

		return nil, err
	}

	logger.WithFields(map[string]interface{}{
		"repo":        "SignalRepository",
		"op":          "ListCandidates",
		"accountID":   accountID,
		"rows_return": len(signals),
	}).Debug("Candidate signals fetched")

	return signals, nil
}

// FindByID fetches a single signal by its primary ID.
// Returns (nil, nil) if not found.
func (r *SignalRepository) FindByID(ctx context.Context, id uint) (*externalmodel.Signal, error) {
	var signal externalmodel.Signal

	err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&signal).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil // not found is not an error
		}

		logger.WithFields(map[string]interface{}{
			"repo": "SignalRepository",
			"op":   "FindByID",
			"id":   id,
		}).WithError(err).Error("Failed to fetch signal by ID")

		return nil, err
	}

	return &signal, nil
}
