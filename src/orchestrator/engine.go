package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"signalexecutor/src/connectors"
	"signalexecutor/src/eligibility"
	"signalexecutor/src/externalmodel"
	"signalexecutor/src/model"
	"signalexecutor/src/risk"
)

// ErrAccountBusy is returned when a pass cannot start because another pass
// holds the account's coordinator lease. Expected under load; callers skip
// the account rather than queueing.
var ErrAccountBusy = errors.New("orchestration pass already running for account")

// SignalFeed supplies scored candidate signals. Implemented by the feed
// database repository and by the websocket streaming adapter.
type SignalFeed interface {
	ListCandidates(ctx context.Context, accountID uint, since time.Time) ([]externalmodel.Signal, error)
}

// Ledger is the slice of the execution record repository the engine uses.
// Reserve is the atomic claim; everything else reads snapshots or updates a
// claim the caller already owns.
type Ledger interface {
	Reserve(ctx context.Context, rec *model.ExecutionRecord) (bool, error)
	MarkSubmitted(ctx context.Context, id uint, exchangeOrderID string) error
	MarkFailed(ctx context.Context, id uint, errorCode string) error
	CountOpen(ctx context.Context, accountID uint) (int64, error)
	ExecutedSignalIDs(ctx context.Context, accountID uint, signalIDs []uint) (map[uint]struct{}, error)
	LastAttemptBySymbol(ctx context.Context, accountID uint, since time.Time) (map[string]time.Time, error)
	FailStalePending(ctx context.Context, accountID uint, olderThan time.Time) (int64, error)
}

// ConfigStore reads account automation settings and disables automation on
// terminal failures.
type ConfigStore interface {
	GetByAccountID(ctx context.Context, accountID uint) (*model.AccountConfig, error)
	ListEnabled(ctx context.Context) ([]model.AccountConfig, error)
	Disable(ctx context.Context, accountID uint, reason string) error
}

// Gateway submits signed orders to the exchange.
type Gateway interface {
	SubmitOrder(ctx context.Context, req connectors.OrderRequest) (*connectors.OrderResult, error)
}

// GatewayProvider resolves the gateway for an account's credentials.
type GatewayProvider interface {
	GatewayFor(cfg *model.AccountConfig) (Gateway, error)
}

// StaticGatewayProvider maps account ids to fixed gateways. Used in tests.
type StaticGatewayProvider map[uint]Gateway

func (p StaticGatewayProvider) GatewayFor(cfg *model.AccountConfig) (Gateway, error) {
	gw, ok := p[cfg.AccountID]
	if !ok {
		return nil, fmt.Errorf("gateway for account %d not found", cfg.AccountID)
	}
	return gw, nil
}

// PassResult summarizes one account's orchestration pass.
type PassResult struct {
	AccountID  uint   `json:"account_id"`
	Candidates int    `json:"candidates"`
	Submitted  int    `json:"submitted"`
	Failed     int    `json:"failed"`
	Conflicts  int    `json:"conflicts"`
	Skipped    string `json:"skipped,omitempty"`
}

// Engine runs the per-account orchestration pass:
// lock → config → reap stale → slots → fetch → filter → reserve/submit/record.
type Engine struct {
	logger   *logrus.Entry
	feed     SignalFeed
	ledger   Ledger
	configs  ConfigStore
	gateways GatewayProvider
	guard    *risk.Guard
	coord    *Coordinator
	status   *statusRegistry
	cfg      Config
	now      func() time.Time
}

func NewEngine(logger *logrus.Entry, feed SignalFeed, ledger Ledger, configs ConfigStore, gateways GatewayProvider, coord *Coordinator, cfg Config) *Engine {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}

	return &Engine{
		logger:   logger,
		feed:     feed,
		ledger:   ledger,
		configs:  configs,
		gateways: gateways,
		guard:    risk.NewGuard(ledger),
		coord:    coord,
		status:   newStatusRegistry(),
		cfg:      cfg,
		now:      time.Now,
	}
}

// RunPass executes one orchestration pass for the account. Failures scoped
// to a single signal never abort the rest of the pass; only a terminal
// account problem (invalid credentials, storage failure) ends it early.
func (e *Engine) RunPass(ctx context.Context, accountID uint) (PassResult, error) {
	result := PassResult{AccountID: accountID}

	token, acquired := e.coord.TryAcquire(accountID)
	if !acquired {
		e.logger.WithField("accountID", accountID).Debug("Pass skipped, account busy")
		return result, ErrAccountBusy
	}
	defer e.coord.Release(accountID, token)

	// Bound every pass, including manually triggered ones, so a pass can
	// never outlive its coordinator lease.
	ctx, cancel := context.WithTimeout(ctx, e.cfg.PassDeadline)
	defer cancel()

	passStart := e.now()
	defer e.status.recordPass(accountID, passStart)

	log := e.logger.WithField("accountID", accountID)

	cfg, err := e.configs.GetByAccountID(ctx, accountID)
	if err != nil {
		e.status.recordError(accountID, err)
		return result, err
	}
	if cfg == nil || !cfg.Enabled {
		// An absent config means automation is off; ordinary, not alertable.
		result.Skipped = "automation disabled"
		return result, nil
	}

	if _, err := e.ledger.FailStalePending(ctx, accountID, passStart.Add(-e.cfg.ReserveTimeout)); err != nil {
		e.status.recordError(accountID, err)
		return result, err
	}

	slots, err := e.guard.AvailableSlots(ctx, cfg)
	if err != nil {
		e.status.recordError(accountID, err)
		return result, err
	}
	if slots == 0 {
		// Cheap early exit before touching the feed or the gateway.
		result.Skipped = "slots exhausted"
		return result, nil
	}

	candidates, err := e.eligibleCandidates(ctx, cfg, passStart)
	if err != nil {
		e.status.recordError(accountID, err)
		return result, err
	}
	result.Candidates = len(candidates)
	if len(candidates) == 0 {
		result.Skipped = "no eligible signals"
		return result, nil
	}

	gateway, err := e.gateways.GatewayFor(cfg)
	if err != nil {
		e.status.recordError(accountID, err)
		return result, err
	}

	for _, signal := range candidates {
		if result.Submitted >= slots {
			break
		}

		select {
		case <-ctx.Done():
			// Pass deadline: abort the remaining candidates gracefully. Any
			// in-flight reservation stays PENDING for the reaper.
			log.WithField("remaining", len(candidates)-result.Submitted-result.Failed-result.Conflicts).
				Warn("Pass deadline reached, aborting remaining candidates")
			result.Skipped = "pass deadline reached"
			return result, nil
		default:
		}

		submitted, execErr := e.executeCandidate(ctx, gateway, cfg, signal)
		if execErr != nil {
			var exErr *connectors.ExchangeError
			if errors.As(execErr, &exErr) && exErr.Kind == connectors.KindAuthInvalid {
				// Terminal for the account: disable automation and surface
				// to the operator.
				e.status.recordError(accountID, execErr)
				if dErr := e.configs.Disable(ctx, accountID, string(exErr.Kind)); dErr != nil {
					log.WithError(dErr).Error("Failed to disable account after auth failure")
				}
				return result, execErr
			}

			result.Failed++
			if errors.As(execErr, &exErr) && exErr.Retryable() {
				// Retries exhausted on a transient failure; alertable.
				e.status.recordError(accountID, execErr)
			}
			log.WithError(execErr).WithField("signalID", signal.ID).Error("Candidate execution failed")
			continue
		}

		if !submitted {
			result.Conflicts++
			continue
		}

		result.Submitted++
		log.WithFields(logrus.Fields{
			"signalID": signal.ID,
			"symbol":   signal.Symbol,
			"score":    signal.Score,
		}).Info("Signal submitted")
	}

	if result.Submitted > 0 {
		e.status.clearError(accountID)
	}

	return result, nil
}

// eligibleCandidates gathers the ledger snapshots and runs the pure filter.
func (e *Engine) eligibleCandidates(ctx context.Context, cfg *model.AccountConfig, now time.Time) ([]externalmodel.Signal, error) {
	signals, err := e.feed.ListCandidates(ctx, cfg.AccountID, now.Add(-e.cfg.MaxSignalAge))
	if err != nil {
		return nil, fmt.Errorf("failed to list candidates: %w", err)
	}
	if len(signals) == 0 {
		return nil, nil
	}

	ids := make([]uint, 0, len(signals))
	for _, s := range signals {
		ids = append(ids, s.ID)
	}

	executed, err := e.ledger.ExecutedSignalIDs(ctx, cfg.AccountID, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load executed signals: %w", err)
	}

	var lastBySymbol map[string]time.Time
	if cfg.CooldownSeconds > 0 {
		lastBySymbol, err = e.ledger.LastAttemptBySymbol(ctx, cfg.AccountID, now.Add(-cfg.CooldownWindow()))
		if err != nil {
			return nil, fmt.Errorf("failed to load cooldown snapshot: %w", err)
		}
	}

	return eligibility.Filter(signals, cfg, e.cfg.MaxSignalAge, executed, lastBySymbol, now), nil
}

// executeCandidate claims the signal and, only if the claim succeeded,
// calls the exchange. Reserve-before-submit is what keeps the external call
// at-most-once even when passes overlap.
func (e *Engine) executeCandidate(ctx context.Context, gateway Gateway, cfg *model.AccountConfig, signal externalmodel.Signal) (bool, error) {
	rec := &model.ExecutionRecord{
		SignalID:      signal.ID,
		AccountID:     cfg.AccountID,
		Symbol:        signal.Symbol,
		ClientOrderID: connectors.ClientOrderID(signal.ID, cfg.AccountID),
	}

	claimed, err := e.ledger.Reserve(ctx, rec)
	if err != nil {
		return false, fmt.Errorf("failed to reserve signal %d: %w", signal.ID, err)
	}
	if !claimed {
		// Another pass owns this signal; move on without a gateway call.
		return false, nil
	}

	qty := risk.OrderQuantity(cfg.RiskPerTradeUSD, signal.EntryPrice, signal.StopLoss)
	if qty.Sign() <= 0 {
		if mErr := e.ledger.MarkFailed(ctx, rec.ID, "NO_EXECUTABLE_QUANTITY"); mErr != nil {
			e.logger.WithError(mErr).WithField("recordID", rec.ID).Error("Failed to record sizing failure")
		}
		return false, fmt.Errorf("no executable quantity for signal %d", signal.ID)
	}

	reqCtx, cancel := context.WithTimeout(ctx, e.cfg.RequestTimeout)
	defer cancel()

	result, execErr := gateway.SubmitOrder(reqCtx, buildOrder(signal, qty, rec.ClientOrderID))
	if execErr != nil {
		code := "GATEWAY_ERROR"
		var exErr *connectors.ExchangeError
		if errors.As(execErr, &exErr) {
			code = string(exErr.Kind)
		}
		if mErr := e.ledger.MarkFailed(ctx, rec.ID, code); mErr != nil {
			e.logger.WithError(mErr).WithField("recordID", rec.ID).Error("Failed to record gateway failure")
		}
		return false, execErr
	}

	if err := e.ledger.MarkSubmitted(ctx, rec.ID, result.ExchangeOrderID); err != nil {
		// The order is live on the exchange; the reservation stays PENDING
		// and the reaper will flag it. Count the slot as used.
		e.logger.WithError(err).WithFields(logrus.Fields{
			"recordID":        rec.ID,
			"exchangeOrderID": result.ExchangeOrderID,
		}).Error("Order acknowledged but ledger update failed")
	}

	return true, nil
}

func buildOrder(signal externalmodel.Signal, qty decimal.Decimal, clientOrderID string) connectors.OrderRequest {
	side := connectors.SideBuy
	if signal.Direction == externalmodel.DirectionShort {
		side = connectors.SideSell
	}

	req := connectors.OrderRequest{
		Symbol:        signal.Symbol,
		Side:          side,
		OrderType:     connectors.OrderTypeMarket,
		Quantity:      qty,
		ClientOrderID: clientOrderID,
	}

	if signal.StopLoss != nil {
		sl := decimal.NewFromFloat(*signal.StopLoss)
		req.StopLoss = &sl
	}
	if signal.TakeProfit != nil {
		tp := decimal.NewFromFloat(*signal.TakeProfit)
		req.TakeProfit = &tp
	}

	return req
}

// Status assembles the operator view for one account.
func (e *Engine) Status(ctx context.Context, accountID uint) (*AccountStatus, error) {
	cfg, err := e.configs.GetByAccountID(ctx, accountID)
	if err != nil {
		return nil, err
	}

	status := &AccountStatus{AccountID: accountID}
	if cfg != nil {
		status.Enabled = cfg.Enabled
	}

	open, err := e.ledger.CountOpen(ctx, accountID)
	if err != nil {
		return nil, err
	}
	status.OpenPositions = open

	status.LastPassAt, status.LastError = e.status.snapshot(accountID)
	return status, nil
}

// EnabledAccounts lists the accounts a sweep should visit.
func (e *Engine) EnabledAccounts(ctx context.Context) ([]model.AccountConfig, error) {
	return e.configs.ListEnabled(ctx)
}
