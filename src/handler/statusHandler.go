package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	logger "github.com/sirupsen/logrus"

	"signalexecutor/src/model"
	"signalexecutor/src/orchestrator"
	"signalexecutor/src/repository"
)

type statusProvider interface {
	Status(ctx context.Context, accountID uint) (*orchestrator.AccountStatus, error)
}

type passRunner interface {
	RunPass(ctx context.Context, accountID uint) (orchestrator.PassResult, error)
}

type executionSearcher interface {
	Search(ctx context.Context, options repository.ExecutionSearchOptions) ([]model.ExecutionRecord, error)
}

// AccountStatusHandler returns the operator view for one account: enabled
// flag, open positions, last pass time and last account-level error.
func AccountStatusHandler(provider statusProvider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accountID, err := parseAccountID(r)
		if err != nil {
			http.Error(w, "invalid accountID", http.StatusBadRequest)
			return
		}

		status, err := provider.Status(r.Context(), accountID)
		if err != nil {
			logger.WithError(err).WithField("accountID", accountID).Error("Failed to build account status")
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, status)
	}
}

// TriggerPassHandler runs one out-of-band orchestration pass for the
// account. Responds 409 when a pass already holds the account's lease.
func TriggerPassHandler(runner passRunner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accountID, err := parseAccountID(r)
		if err != nil {
			http.Error(w, "invalid accountID", http.StatusBadRequest)
			return
		}

		result, err := runner.RunPass(r.Context(), accountID)
		if err != nil {
			if errors.Is(err, orchestrator.ErrAccountBusy) {
				http.Error(w, "pass already running", http.StatusConflict)
				return
			}

			logger.WithError(err).WithField("accountID", accountID).Error("Manual pass failed")
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusAccepted, result)
	}
}

// SearchExecutionsHandler lists the account's ledger rows, newest first.
// Supports status/symbol filters and pagination.
func SearchExecutionsHandler(repo executionSearcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accountID, err := parseAccountID(r)
		if err != nil {
			http.Error(w, "invalid accountID", http.StatusBadRequest)
			return
		}

		options := repository.ExecutionSearchOptions{AccountID: accountID, Limit: 50}

		if statusParam := r.URL.Query().Get("status"); statusParam != "" {
			options.Status = &statusParam
		}
		if symbolParam := r.URL.Query().Get("symbol"); symbolParam != "" {
			options.Symbol = &symbolParam
		}
		if limitParam := r.URL.Query().Get("limit"); limitParam != "" {
			limit, err := strconv.Atoi(limitParam)
			if err != nil || limit < 1 || limit > 500 {
				http.Error(w, "invalid limit", http.StatusBadRequest)
				return
			}
			options.Limit = limit
		}
		if offsetParam := r.URL.Query().Get("offset"); offsetParam != "" {
			offset, err := strconv.Atoi(offsetParam)
			if err != nil || offset < 0 {
				http.Error(w, "invalid offset", http.StatusBadRequest)
				return
			}
			options.Offset = offset
		}

		records, err := repo.Search(r.Context(), options)
		if err != nil {
			logger.WithError(err).WithField("accountID", accountID).Error("Failed to search executions")
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, records)
	}
}

func parseAccountID(r *http.Request) (uint, error) {
	id, err := strconv.ParseUint(chi.URLParam(r, "accountID"), 10, 64)
	if err != nil {
		return 0, err
	}
	return uint(id), nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.WithError(err).Error("Failed to encode response")
	}
}
