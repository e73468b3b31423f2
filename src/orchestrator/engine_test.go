package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signalexecutor/src/connectors"
	"signalexecutor/src/externalmodel"
	"signalexecutor/src/model"
)

type stubFeed struct {
	signals []externalmodel.Signal
	calls   int
}

func (f *stubFeed) ListCandidates(_ context.Context, _ uint, _ time.Time) ([]externalmodel.Signal, error) {
	f.calls++
	return f.signals, nil
}

type ledgerKey struct {
	signalID  uint
	accountID uint
}

type stubLedger struct {
	mu           sync.Mutex
	nextID       uint
	records      map[uint]*model.ExecutionRecord
	claimed      map[ledgerKey]bool
	conflicts    map[uint]bool // signal ids another pass already owns
	executed     map[uint]struct{}
	lastBySymbol map[string]time.Time
	open         int64
	reapCalls    int
}

func newStubLedger() *stubLedger {
	return &stubLedger{
		records:   make(map[uint]*model.ExecutionRecord),
		claimed:   make(map[ledgerKey]bool),
		conflicts: make(map[uint]bool),
		executed:  make(map[uint]struct{}),
	}
}

func (l *stubLedger) Reserve(_ context.Context, rec *model.ExecutionRecord) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := ledgerKey{rec.SignalID, rec.AccountID}
	if l.conflicts[rec.SignalID] || l.claimed[key] {
		return false, nil
	}

	l.nextID++
	rec.ID = l.nextID
	rec.Status = model.ExecutionStatusPending
	stored := *rec
	l.records[rec.ID] = &stored
	l.claimed[key] = true
	return true, nil
}

func (l *stubLedger) MarkSubmitted(_ context.Context, id uint, exchangeOrderID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records[id].Status = model.ExecutionStatusSubmitted
	l.records[id].ExchangeOrderID = exchangeOrderID
	return nil
}

func (l *stubLedger) MarkFailed(_ context.Context, id uint, errorCode string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records[id].Status = model.ExecutionStatusFailed
	l.records[id].ErrorCode = errorCode
	return nil
}

func (l *stubLedger) CountOpen(_ context.Context, _ uint) (int64, error) {
	return l.open, nil
}

func (l *stubLedger) ExecutedSignalIDs(_ context.Context, _ uint, signalIDs []uint) (map[uint]struct{}, error) {
	out := make(map[uint]struct{})
	for _, id := range signalIDs {
		if _, ok := l.executed[id]; ok {
			out[id] = struct{}{}
		}
	}
	return out, nil
}

func (l *stubLedger) LastAttemptBySymbol(_ context.Context, _ uint, _ time.Time) (map[string]time.Time, error) {
	return l.lastBySymbol, nil
}

func (l *stubLedger) FailStalePending(_ context.Context, _ uint, _ time.Time) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.reapCalls++
	return 0, nil
}

func (l *stubLedger) recordsByStatus(status string) []*model.ExecutionRecord {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []*model.ExecutionRecord
	for _, rec := range l.records {
		if rec.Status == status {
			out = append(out, rec)
		}
	}
	return out
}

type stubGateway struct {
	mu          sync.Mutex
	requests    []connectors.OrderRequest
	errBySymbol map[string]error
}

func (g *stubGateway) SubmitOrder(_ context.Context, req connectors.OrderRequest) (*connectors.OrderResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err, ok := g.errBySymbol[req.Symbol]; ok {
		return nil, err
	}

	g.requests = append(g.requests, req)
	return &connectors.OrderResult{
		ExchangeOrderID: fmt.Sprintf("ex-%d", len(g.requests)),
		Status:          "NEW",
	}, nil
}

type stubConfigs struct {
	cfg             *model.AccountConfig
	disabledReasons []string
}

func (c *stubConfigs) GetByAccountID(_ context.Context, accountID uint) (*model.AccountConfig, error) {
	if c.cfg == nil || c.cfg.AccountID != accountID {
		return nil, nil
	}
	return c.cfg, nil
}

func (c *stubConfigs) ListEnabled(_ context.Context) ([]model.AccountConfig, error) {
	if c.cfg == nil || !c.cfg.Enabled {
		return nil, nil
	}
	return []model.AccountConfig{*c.cfg}, nil
}

func (c *stubConfigs) Disable(_ context.Context, _ uint, reason string) error {
	c.disabledReasons = append(c.disabledReasons, reason)
	c.cfg.Enabled = false
	return nil
}

func testEngineConfig() Config {
	return Config{
		PassDeadline:   55 * time.Second,
		RequestTimeout: time.Second,
		MaxSignalAge:   30 * time.Minute,
		ReserveTimeout: 5 * time.Minute,
		LeaseTTL:       time.Minute,
		WorkerPoolSize: 2,
	}
}

func testAccountConfig() *model.AccountConfig {
	return &model.AccountConfig{
		AccountID:        1,
		Enabled:          true,
		MinSignalScore:   75,
		MaxOpenPositions: 2,
		RiskPerTradeUSD:  decimal.NewFromInt(100),
	}
}

func newTestEngine(feed SignalFeed, ledger Ledger, configs ConfigStore, gw Gateway) *Engine {
	return NewEngine(nil, feed, ledger, configs, StaticGatewayProvider{1: gw}, NewCoordinator(time.Minute), testEngineConfig())
}

func feedSignal(id uint, symbol string, score float64, age time.Duration) externalmodel.Signal {
	return externalmodel.Signal{
		ID:         id,
		Symbol:     symbol,
		Direction:  externalmodel.DirectionLong,
		Timeframe:  "1h",
		Score:      score,
		EntryPrice: 100,
		CreatedAt:  time.Now().Add(-age),
	}
}

func TestRunPassEndToEnd(t *testing.T) {
	// Account: maxOpenPositions=2, 0 open, minSignalScore=75.
	// Feed: scores 80, 95, 70 → expect 95 then 80 submitted, 70 filtered.
	feed := &stubFeed{signals: []externalmodel.Signal{
		feedSignal(1, "BTCUSDT", 80, time.Minute),
		feedSignal(2, "ETHUSDT", 95, time.Minute),
		feedSignal(3, "SOLUSDT", 70, time.Minute),
	}}
	ledger := newStubLedger()
	gw := &stubGateway{}
	configs := &stubConfigs{cfg: testAccountConfig()}

	engine := newTestEngine(feed, ledger, configs, gw)
	result, err := engine.RunPass(context.Background(), 1)

	require.NoError(t, err)
	assert.Equal(t, 2, result.Submitted)
	assert.Equal(t, 0, result.Failed)

	require.Len(t, gw.requests, 2)
	assert.Equal(t, "ETHUSDT", gw.requests[0].Symbol)
	assert.Equal(t, "BTCUSDT", gw.requests[1].Symbol)

	submitted := ledger.recordsByStatus(model.ExecutionStatusSubmitted)
	assert.Len(t, submitted, 2)
	assert.Equal(t, 1, ledger.reapCalls, "stale reservations must be reaped before filtering")

	// The dedup key must be stable across retries and restarts.
	assert.Equal(t, connectors.ClientOrderID(2, 1), gw.requests[0].ClientOrderID)
}

func TestRunPassPriorityOrderingWithOneSlot(t *testing.T) {
	feed := &stubFeed{signals: []externalmodel.Signal{
		feedSignal(1, "BTCUSDT", 90, time.Minute),
		feedSignal(2, "ETHUSDT", 60, time.Minute),
		feedSignal(3, "SOLUSDT", 85, time.Minute),
	}}
	ledger := newStubLedger()
	gw := &stubGateway{}
	cfg := testAccountConfig()
	cfg.MinSignalScore = 70
	cfg.MaxOpenPositions = 1
	configs := &stubConfigs{cfg: cfg}

	engine := newTestEngine(feed, ledger, configs, gw)
	result, err := engine.RunPass(context.Background(), 1)

	require.NoError(t, err)
	assert.Equal(t, 1, result.Submitted)
	require.Len(t, gw.requests, 1)
	assert.Equal(t, "BTCUSDT", gw.requests[0].Symbol, "the highest score must win the only slot")
}

func TestRunPassSkipsDisabledAndMissingConfig(t *testing.T) {
	feed := &stubFeed{}
	ledger := newStubLedger()
	gw := &stubGateway{}

	t.Run("missing config", func(t *testing.T) {
		engine := newTestEngine(feed, ledger, &stubConfigs{}, gw)
		result, err := engine.RunPass(context.Background(), 1)
		require.NoError(t, err)
		assert.Equal(t, "automation disabled", result.Skipped)
	})

	t.Run("disabled config", func(t *testing.T) {
		cfg := testAccountConfig()
		cfg.Enabled = false
		engine := newTestEngine(feed, ledger, &stubConfigs{cfg: cfg}, gw)
		result, err := engine.RunPass(context.Background(), 1)
		require.NoError(t, err)
		assert.Equal(t, "automation disabled", result.Skipped)
	})

	assert.Zero(t, feed.calls, "a skipped account must not touch the feed")
}

func TestRunPassSlotsExhausted(t *testing.T) {
	feed := &stubFeed{signals: []externalmodel.Signal{feedSignal(1, "BTCUSDT", 90, time.Minute)}}
	ledger := newStubLedger()
	ledger.open = 2
	gw := &stubGateway{}
	configs := &stubConfigs{cfg: testAccountConfig()}

	engine := newTestEngine(feed, ledger, configs, gw)
	result, err := engine.RunPass(context.Background(), 1)

	require.NoError(t, err)
	assert.Equal(t, "slots exhausted", result.Skipped)
	assert.Zero(t, feed.calls, "slot exhaustion must exit before fetching candidates")
	assert.Empty(t, gw.requests)
}

func TestRunPassReservationConflictSkipsGatewayCall(t *testing.T) {
	feed := &stubFeed{signals: []externalmodel.Signal{
		feedSignal(1, "BTCUSDT", 95, time.Minute),
		feedSignal(2, "ETHUSDT", 80, time.Minute),
	}}
	ledger := newStubLedger()
	ledger.conflicts[1] = true // another pass claimed the top signal
	gw := &stubGateway{}
	configs := &stubConfigs{cfg: testAccountConfig()}

	engine := newTestEngine(feed, ledger, configs, gw)
	result, err := engine.RunPass(context.Background(), 1)

	require.NoError(t, err)
	assert.Equal(t, 1, result.Conflicts)
	assert.Equal(t, 1, result.Submitted)
	require.Len(t, gw.requests, 1)
	assert.Equal(t, "ETHUSDT", gw.requests[0].Symbol, "the conflicted signal must never reach the gateway")
}

func TestRunPassFailureIsolation(t *testing.T) {
	feed := &stubFeed{signals: []externalmodel.Signal{
		feedSignal(1, "BTCUSDT", 95, time.Minute),
		feedSignal(2, "ETHUSDT", 90, time.Minute),
		feedSignal(3, "SOLUSDT", 85, time.Minute),
	}}
	ledger := newStubLedger()
	gw := &stubGateway{errBySymbol: map[string]error{
		"BTCUSDT": &connectors.ExchangeError{Kind: connectors.KindInsufficientBalance, Code: 20001, Msg: "not enough balance"},
	}}
	cfg := testAccountConfig()
	cfg.MaxOpenPositions = 3
	configs := &stubConfigs{cfg: cfg}

	engine := newTestEngine(feed, ledger, configs, gw)
	result, err := engine.RunPass(context.Background(), 1)

	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, 2, result.Submitted, "remaining candidates must still be attempted")

	failed := ledger.recordsByStatus(model.ExecutionStatusFailed)
	require.Len(t, failed, 1)
	assert.Equal(t, string(connectors.KindInsufficientBalance), failed[0].ErrorCode)
}

func TestRunPassAuthInvalidDisablesAccount(t *testing.T) {
	feed := &stubFeed{signals: []externalmodel.Signal{
		feedSignal(1, "BTCUSDT", 95, time.Minute),
		feedSignal(2, "ETHUSDT", 90, time.Minute),
	}}
	ledger := newStubLedger()
	gw := &stubGateway{errBySymbol: map[string]error{
		"BTCUSDT": &connectors.ExchangeError{Kind: connectors.KindAuthInvalid, Code: 10002, Msg: "signature mismatch"},
	}}
	configs := &stubConfigs{cfg: testAccountConfig()}

	engine := newTestEngine(feed, ledger, configs, gw)
	result, err := engine.RunPass(context.Background(), 1)

	require.Error(t, err)
	assert.Equal(t, 0, result.Submitted, "auth failure must end the pass immediately")
	assert.Equal(t, []string{string(connectors.KindAuthInvalid)}, configs.disabledReasons)
	assert.False(t, configs.cfg.Enabled)

	status, sErr := engine.Status(context.Background(), 1)
	require.NoError(t, sErr)
	assert.Contains(t, status.LastError, "AUTH_INVALID")
}

func TestRunPassSkipsWhenAccountBusy(t *testing.T) {
	feed := &stubFeed{}
	ledger := newStubLedger()
	gw := &stubGateway{}
	configs := &stubConfigs{cfg: testAccountConfig()}

	coord := NewCoordinator(time.Minute)
	engine := NewEngine(nil, feed, ledger, configs, StaticGatewayProvider{1: gw}, coord, testEngineConfig())

	_, acquired := coord.TryAcquire(1)
	require.True(t, acquired)
	_, err := engine.RunPass(context.Background(), 1)
	assert.ErrorIs(t, err, ErrAccountBusy)
}

func TestRunPassConcurrentPassesSubmitAtMostOnce(t *testing.T) {
	// Two overlapping passes over the same single candidate: the
	// coordinator serializes them, and even the pass that does run a
	// second time loses the reservation. Exactly one submission.
	feed := &stubFeed{signals: []externalmodel.Signal{feedSignal(1, "BTCUSDT", 95, time.Minute)}}
	ledger := newStubLedger()
	gw := &stubGateway{}
	configs := &stubConfigs{cfg: testAccountConfig()}

	engine := newTestEngine(feed, ledger, configs, gw)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = engine.RunPass(context.Background(), 1)
		}()
	}
	wg.Wait()

	// A third, sequential pass re-reads the same feed; the ledger
	// snapshot must filter the already-claimed signal out.
	_, err := engine.RunPass(context.Background(), 1)
	require.NoError(t, err)

	assert.LessOrEqual(t, len(gw.requests), 1)
	assert.Len(t, ledger.recordsByStatus(model.ExecutionStatusSubmitted), 1)
}

func TestStatusReportsOpenPositionsAndLastPass(t *testing.T) {
	feed := &stubFeed{}
	ledger := newStubLedger()
	ledger.open = 1
	gw := &stubGateway{}
	configs := &stubConfigs{cfg: testAccountConfig()}

	engine := newTestEngine(feed, ledger, configs, gw)

	status, err := engine.Status(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, status.Enabled)
	assert.EqualValues(t, 1, status.OpenPositions)
	assert.Nil(t, status.LastPassAt)

	_, err = engine.RunPass(context.Background(), 1)
	require.NoError(t, err)

	status, err = engine.Status(context.Background(), 1)
	require.NoError(t, err)
	assert.NotNil(t, status.LastPassAt)
}
