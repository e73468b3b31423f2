package database

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"signalexecutor/src/externalmodel"
)

// FeedDB is the read-only database connection used to poll the external
// signal feed. The database user for this connection should have
// SELECT-only permissions.
var FeedDB *gorm.DB

// InitFeedDB initializes the read-only feed connection. It does not run any
// migrations and should only be used for reading signals.
func InitFeedDB() error {
	config := GetConfig()
	db, err := gorm.Open(postgres.Open(config.DatabaseURLFeed),
		&gorm.Config{
			PrepareStmt:    true,
			TranslateError: true,
			Logger:         logger.Default.LogMode(logger.LogLevel(config.GormLogLevel)),
		},
	)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to connect to feed database")
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB from FeedDB: %w", err)
	}

	if err := sqlDB.Ping(); err != nil {
		return fmt.Errorf("failed to ping FeedDB: %w", err)
	}

	// Verify the signal table is actually reachable before the first sweep
	// depends on it.
	var count int64
	if err := db.
		Model(&externalmodel.Signal{}).
		Count(&count).Error; err != nil {
		return fmt.Errorf("failed to access feed_signals: %w", err)
	}

	logrus.WithFields(map[string]interface{}{"count": count}).Info("[FeedDB] feed_signals reachable")

	FeedDB = db

	return nil
}
