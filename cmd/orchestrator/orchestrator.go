package orchestrator

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"signalexecutor/src/database"
	"signalexecutor/src/feed"
	"signalexecutor/src/orchestrator"
	"signalexecutor/src/repository"
	"signalexecutor/src/server"
)

type Orchestrator struct{}

// Start wires the engine, the sweep scheduler and the ops API, then blocks
// until shutdown.
func (o *Orchestrator) Start() error {
	config := GetConfig()

	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer stop()

	// Initialize main (read/write) database
	if err := database.InitMainDB(); err != nil {
		logrus.WithError(err).Fatal("Failed to connect to main database")
		return err
	}

	ledgerRepo := repository.NewExecutionRecordRepository()
	configRepo := repository.NewAccountConfigRepository()

	var signalFeed orchestrator.SignalFeed
	switch config.FeedMode {
	case "stream":
		streaming := feed.NewStreamingFeed(logrus.WithField("component", "StreamingFeed"), config.FeedWSURL)
		go streaming.Run(ctx)
		signalFeed = streaming
	default:
		if err := database.InitFeedDB(); err != nil {
			logrus.WithError(err).Fatal("Failed to connect to feed database")
			return err
		}
		signalFeed = repository.NewSignalRepository()
	}

	orchCfg := orchestrator.GetConfig()
	engine := orchestrator.NewEngine(
		logrus.WithField("component", "Engine"),
		signalFeed,
		ledgerRepo,
		configRepo,
		orchestrator.NewCredentialGatewayProvider(),
		orchestrator.NewCoordinator(orchCfg.LeaseTTL),
		orchCfg,
	)

	sweeper := orchestrator.NewSweeper(logrus.WithField("component", "Sweeper"), engine, orchCfg)
	if err := sweeper.Start(ctx); err != nil {
		logrus.WithError(err).Error("Failed to start sweep scheduler")
		return err
	}
	defer sweeper.Stop()

	// Blocks until SIGINT/SIGTERM.
	server.StartServer(config.ServerPort, engine, ledgerRepo)

	return nil
}
