package server

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	logger "github.com/sirupsen/logrus"

	"signalexecutor/src/handler"
	"signalexecutor/src/orchestrator"
	"signalexecutor/src/repository"
)

// NewRouter wires the ops API routes.
func NewRouter(engine *orchestrator.Engine, ledger *repository.ExecutionRecordRepository) chi.Router {
	r := chi.NewRouter()

	// Public routes
	r.Get("/healthcheck", func(w http.ResponseWriter, r *http.Request) {
		if _, err := w.Write([]byte("OK")); err != nil {
			logger.WithError(err).Error("/healthcheck error")
		}
	})

	r.Route("/accounts/{accountID}", func(r chi.Router) {
		r.Get("/status", handler.AccountStatusHandler(engine))
		r.Post("/trigger", handler.TriggerPassHandler(engine))
		r.Get("/executions", handler.SearchExecutionsHandler(ledger))
	})

	return r
}

// StartServer serves the ops API until SIGINT/SIGTERM, then shuts down
// gracefully.
func StartServer(port string, engine *orchestrator.Engine, ledger *repository.ExecutionRecordRepository) {
	addr := ":" + port
	srv := &http.Server{
		Addr:    addr,
		Handler: NewRouter(engine, ledger),
	}

	// Start server in goroutine
	go func() {
		logger.Infof("Listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Server crashed")
		}
	}()

	// Shutdown on SIGINT or SIGTERM
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("Shutting down gracefully...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Shutdown error")
	}
}
