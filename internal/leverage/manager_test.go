package leverage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"levtrader/internal/audit"
	"levtrader/internal/engine"
	"levtrader/internal/market"
	"levtrader/internal/store"
)

type fakeSignalStore struct {
	signals map[string]*store.LeveragedSignal
	nextID  int
}

func newFakeSignalStore() *fakeSignalStore {
	return &fakeSignalStore{signals: map[string]*store.LeveragedSignal{}}
}

func (f *fakeSignalStore) CreateSignal(_ context.Context, signal *store.LeveragedSignal) error {
	f.nextID++
	signal.ID = fmt.Sprintf("sig-%d", f.nextID)
	signal.CreatedAt = time.Now().UTC()
	clone := *signal
	f.signals[signal.ID] = &clone
	return nil
}

func (f *fakeSignalStore) GetSignal(_ context.Context, id string) (*store.LeveragedSignal, error) {
	signal, ok := f.signals[id]
	if !ok {
		return nil, fmt.Errorf("signal %s not found", id)
	}
	clone := *signal
	return &clone, nil
}

func (f *fakeSignalStore) SaveSignal(_ context.Context, signal *store.LeveragedSignal) error {
	clone := *signal
	f.signals[signal.ID] = &clone
	return nil
}

func (f *fakeSignalStore) ListSignals(_ context.Context, _ int) ([]store.LeveragedSignal, error) {
	out := make([]store.LeveragedSignal, 0, len(f.signals))
	for _, s := range f.signals {
		out = append(out, *s)
	}
	return out, nil
}

type fakeTradeStore struct {
	trades map[string]*store.LeveragedTrade
	nextID int
	saves  int
}

func newFakeTradeStore() *fakeTradeStore {
	return &fakeTradeStore{trades: map[string]*store.LeveragedTrade{}}
}

func (f *fakeTradeStore) CreateTrade(_ context.Context, trade *store.LeveragedTrade) error {
	f.nextID++
	trade.ID = fmt.Sprintf("trade-%d", f.nextID)
	trade.CreatedAt = time.Now().UTC()
	clone := *trade
	f.trades[trade.ID] = &clone
	return nil
}

func (f *fakeTradeStore) GetTrade(_ context.Context, id string) (*store.LeveragedTrade, error) {
	trade, ok := f.trades[id]
	if !ok {
		return nil, fmt.Errorf("trade %s not found", id)
	}
	clone := *trade
	return &clone, nil
}

func (f *fakeTradeStore) SaveTrade(_ context.Context, trade *store.LeveragedTrade) error {
	f.saves++
	clone := *trade
	f.trades[trade.ID] = &clone
	return nil
}

func (f *fakeTradeStore) ListOpenTrades(_ context.Context) ([]store.LeveragedTrade, error) {
	var out []store.LeveragedTrade
	for _, t := range f.trades {
		if t.Status == store.TradeOpen {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (f *fakeTradeStore) ListClosedTrades(_ context.Context, _ int) ([]store.LeveragedTrade, error) {
	var out []store.LeveragedTrade
	for _, t := range f.trades {
		if t.Status == store.TradeClosed {
			out = append(out, *t)
		}
	}
	return out, nil
}

type fakeKV struct {
	values map[string]json.RawMessage
}

func newFakeKV() *fakeKV { return &fakeKV{values: map[string]json.RawMessage{}} }

func (f *fakeKV) GetValue(_ context.Context, key string, out any) (bool, error) {
	raw, ok := f.values[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, out)
}

func (f *fakeKV) SetValue(_ context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	f.values[key] = raw
	return nil
}

// fakeRunner simulates the execution engine: every proposed intent fills
// immediately at the configured price unless failNext is set.
type fakeRunner struct {
	intents   map[string]*store.TradeIntent
	nextID    int
	fillPrice float64
	failNext  error
	executed  []string
}

func newFakeRunner(fillPrice float64) *fakeRunner {
	return &fakeRunner{intents: map[string]*store.TradeIntent{}, fillPrice: fillPrice}
}

func (f *fakeRunner) Propose(_ context.Context, req engine.ProposeRequest) (*store.TradeIntent, error) {
	f.nextID++
	intent := &store.TradeIntent{
		ID:                fmt.Sprintf("intent-%d", f.nextID),
		Status:            store.IntentProposed,
		Symbol:            req.Symbol,
		InstrumentCode:    req.Symbol + "_US_EQ",
		Side:              req.Side,
		Quantity:          req.Quantity,
		EstimatedNotional: req.EstimatedNotional,
	}
	f.intents[intent.ID] = intent
	return intent, nil
}

func (f *fakeRunner) Execute(_ context.Context, intentID string, _ bool) (*store.TradeIntent, error) {
	if f.failNext != nil {
		err := f.failNext
		f.failNext = nil
		return nil, err
	}
	intent, ok := f.intents[intentID]
	if !ok {
		return nil, fmt.Errorf("intent %s not found", intentID)
	}
	intent.Status = store.IntentExecuted
	price := f.fillPrice
	intent.ExecutionPrice = &price
	f.executed = append(f.executed, intentID)
	return intent, nil
}

type fakeMarket struct {
	prices map[string]float64
	techs  map[string]*market.Snapshot
	errs   map[string]error
}

func newFakeMarket() *fakeMarket {
	return &fakeMarket{
		prices: map[string]float64{},
		techs:  map[string]*market.Snapshot{},
		errs:   map[string]error{},
	}
}

func (f *fakeMarket) Quote(_ context.Context, symbol string) (*market.Quote, error) {
	if err, ok := f.errs[symbol]; ok {
		return nil, err
	}
	price, ok := f.prices[symbol]
	if !ok {
		return nil, fmt.Errorf("no price for %s", symbol)
	}
	return &market.Quote{Symbol: symbol, Price: price}, nil
}

func (f *fakeMarket) Technicals(_ context.Context, symbol string) (*market.Snapshot, error) {
	if err, ok := f.errs[symbol]; ok {
		return nil, err
	}
	snap, ok := f.techs[symbol]
	if !ok {
		return nil, fmt.Errorf("no technicals for %s", symbol)
	}
	return snap, nil
}

type fakeAuditor struct {
	entries []audit.Entry
}

func (f *fakeAuditor) Append(entry audit.Entry) (string, error) {
	f.entries = append(f.entries, entry)
	return "trades/test.md", nil
}

type managerFixture struct {
	manager *Manager
	signals *fakeSignalStore
	trades  *fakeTradeStore
	kv      *fakeKV
	runner  *fakeRunner
	market  *fakeMarket
	auditor *fakeAuditor
}

func newManagerFixture(t *testing.T, policy Policy) *managerFixture {
	t.Helper()
	f := &managerFixture{
		signals: newFakeSignalStore(),
		trades:  newFakeTradeStore(),
		kv:      newFakeKV(),
		runner:  newFakeRunner(0),
		market:  newFakeMarket(),
		auditor: &fakeAuditor{},
	}
	normalized, _ := policy.Normalize()
	require.NoError(t, f.kv.SetValue(context.Background(), policyKey, normalized))
	f.manager = NewManager(Deps{
		Signals:  f.signals,
		Trades:   f.trades,
		KV:       f.kv,
		Engine:   f.runner,
		Market:   f.market,
		AuditLog: f.auditor,
	})
	return f
}

func (f *managerFixture) seedSignal(t *testing.T, symbol string, notional float64) *store.LeveragedSignal {
	t.Helper()
	signal := &store.LeveragedSignal{
		Status:         store.SignalProposed,
		Symbol:         symbol,
		Direction:      store.DirectionLong,
		EntrySide:      store.SideBuy,
		TargetNotional: notional,
		StopLossPct:    0.05,
		TakeProfitPct:  0.08,
		Confidence:     0.7,
	}
	require.NoError(t, f.signals.CreateSignal(context.Background(), signal))
	return signal
}

func tightPolicy() Policy {
	return Policy{
		Enabled:             true,
		MaxOpenPositions:    1,
		PerPositionNotional: 200,
		MaxTotalExposure:    200,
		TakeProfitPct:       0.08,
		StopLossPct:         0.05,
		CloseTime:           "15:30",
		AllowOvernight:      true,
		ScanSymbols:         []string{"SPY"},
	}
}

func TestGetPolicySeedsDefaultsOnFirstUse(t *testing.T) {
	f := &managerFixture{
		signals: newFakeSignalStore(),
		trades:  newFakeTradeStore(),
		kv:      newFakeKV(),
		runner:  newFakeRunner(0),
		market:  newFakeMarket(),
	}
	f.manager = NewManager(Deps{
		Signals: f.signals, Trades: f.trades, KV: f.kv,
		Engine: f.runner, Market: f.market,
	})
	policy, err := f.manager.GetPolicy(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DefaultPolicy(), policy)

	_, ok := f.kv.values[policyKey]
	assert.True(t, ok, "defaults must be persisted")
}

func TestGetPolicyNormalizesStoredDrift(t *testing.T) {
	f := newManagerFixture(t, tightPolicy())
	drifted := tightPolicy()
	drifted.PerPositionNotional = 99999
	require.NoError(t, f.kv.SetValue(context.Background(), policyKey, drifted))

	policy, err := f.manager.GetPolicy(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2000.0, policy.PerPositionNotional)

	var stored Policy
	_, err = f.kv.GetValue(context.Background(), policyKey, &stored)
	require.NoError(t, err)
	assert.Equal(t, 2000.0, stored.PerPositionNotional, "clamped value written back")
}

func TestExecuteSignalQuantityFromNotional(t *testing.T) {
	f := newManagerFixture(t, tightPolicy())
	f.market.prices["SPY"] = 50
	f.runner.fillPrice = 50
	signal := f.seedSignal(t, "SPY", 200)

	trade, err := f.manager.ExecuteSignal(context.Background(), signal.ID, "test")
	require.NoError(t, err)
	assert.InDelta(t, 4.0, trade.Quantity, 1e-9)
	assert.InDelta(t, 200.0, trade.EntryNotional, 1e-9)
	assert.Equal(t, store.TradeOpen, trade.Status)
	assert.Equal(t, signal.ID, trade.SignalID)

	stored, err := f.signals.GetSignal(context.Background(), signal.ID)
	require.NoError(t, err)
	assert.Equal(t, store.SignalExecuted, stored.Status)
	assert.Equal(t, trade.ID, stored.LinkedTradeID)
	require.Len(t, f.auditor.entries, 1)
	assert.Equal(t, "entry", f.auditor.entries[0].Action)
}

func TestExecuteSignalCapsNotionalAtPerPositionLimit(t *testing.T) {
	policy := tightPolicy()
	policy.PerPositionNotional = 50
	f := newManagerFixture(t, policy)
	f.market.prices["SPY"] = 50
	f.runner.fillPrice = 50
	// stored before the policy was tightened
	signal := f.seedSignal(t, "SPY", 200)

	trade, err := f.manager.ExecuteSignal(context.Background(), signal.ID, "test")
	require.NoError(t, err)
	assert.InDelta(t, 1.0, trade.Quantity, 1e-9)
	assert.InDelta(t, 50.0, trade.EntryNotional, 1e-9)

	intent := f.runner.intents[trade.EntryIntentID]
	require.NotNil(t, intent)
	assert.InDelta(t, 50.0, intent.EstimatedNotional, 1e-9, "order sized from the capped value")
}

func TestExecuteSignalExposureCheckUsesCappedNotional(t *testing.T) {
	policy := tightPolicy()
	policy.MaxOpenPositions = 2
	policy.PerPositionNotional = 50
	policy.MaxTotalExposure = 200
	f := newManagerFixture(t, policy)
	f.market.prices["SPY"] = 100
	f.market.prices["QQQ"] = 50
	f.runner.fillPrice = 100
	first := f.seedSignal(t, "SPY", 50)
	_, err := f.manager.ExecuteSignal(context.Background(), first.ID, "test")
	require.NoError(t, err)

	// 50 held + capped 50 fits; the raw 400 target would not
	f.runner.fillPrice = 50
	second := f.seedSignal(t, "QQQ", 400)
	trade, err := f.manager.ExecuteSignal(context.Background(), second.ID, "test")
	require.NoError(t, err)
	assert.InDelta(t, 50.0, trade.EntryNotional, 1e-9)
}

func TestExecuteSignalRespectsSlotCap(t *testing.T) {
	f := newManagerFixture(t, tightPolicy())
	f.market.prices["SPY"] = 50
	f.market.prices["QQQ"] = 50
	f.runner.fillPrice = 50

	first := f.seedSignal(t, "SPY", 200)
	_, err := f.manager.ExecuteSignal(context.Background(), first.ID, "test")
	require.NoError(t, err)

	second := f.seedSignal(t, "QQQ", 200)
	_, err = f.manager.ExecuteSignal(context.Background(), second.ID, "test")
	var capErr *CapacityError
	require.ErrorAs(t, err, &capErr)
	assert.Contains(t, capErr.Reason, "max open positions")
}

func TestExecuteSignalBrokerFailureMarksSignalFailed(t *testing.T) {
	f := newManagerFixture(t, tightPolicy())
	f.market.prices["SPY"] = 50
	f.runner.failNext = errors.New("broker rejected order")
	signal := f.seedSignal(t, "SPY", 200)

	_, err := f.manager.ExecuteSignal(context.Background(), signal.ID, "test")
	require.Error(t, err)

	stored, err := f.signals.GetSignal(context.Background(), signal.ID)
	require.NoError(t, err)
	assert.Equal(t, store.SignalFailed, stored.Status)
	open, _ := f.trades.ListOpenTrades(context.Background())
	assert.Empty(t, open, "no trade row on failure")
}

func TestExecuteSignalTwiceIsInvalid(t *testing.T) {
	f := newManagerFixture(t, tightPolicy())
	f.market.prices["SPY"] = 50
	f.runner.fillPrice = 50
	signal := f.seedSignal(t, "SPY", 100)

	trade, err := f.manager.ExecuteSignal(context.Background(), signal.ID, "test")
	require.NoError(t, err)
	_, err = f.manager.CloseTrade(context.Background(), trade.ID, "manual")
	require.NoError(t, err)

	_, err = f.manager.ExecuteSignal(context.Background(), signal.ID, "test")
	var invalid *InvalidStateError
	assert.ErrorAs(t, err, &invalid)
}

func TestCloseTradeStopLossPnL(t *testing.T) {
	f := newManagerFixture(t, tightPolicy())
	f.market.prices["SPY"] = 100
	f.runner.fillPrice = 100
	signal := f.seedSignal(t, "SPY", 200)
	trade, err := f.manager.ExecuteSignal(context.Background(), signal.ID, "test")
	require.NoError(t, err)
	assert.InDelta(t, 2.0, trade.Quantity, 1e-9)

	// price drops to the stop
	f.market.prices["SPY"] = 94
	f.runner.fillPrice = 94

	closed, err := f.manager.CloseTrade(context.Background(), trade.ID, "stop-loss")
	require.NoError(t, err)
	assert.Equal(t, store.TradeClosed, closed.Status)
	require.NotNil(t, closed.ExitPrice)
	assert.InDelta(t, 94.0, *closed.ExitPrice, 1e-9)
	require.NotNil(t, closed.PnLPct)
	assert.InDelta(t, -0.06, *closed.PnLPct, 1e-9)
	require.NotNil(t, closed.PnLValue)
	assert.InDelta(t, -12.0, *closed.PnLValue, 1e-9)
	assert.Equal(t, "stop-loss", closed.CloseReason)
}

func TestCloseTradeOnClosedTradeHasNoSideEffects(t *testing.T) {
	f := newManagerFixture(t, tightPolicy())
	f.market.prices["SPY"] = 100
	f.runner.fillPrice = 100
	signal := f.seedSignal(t, "SPY", 200)
	trade, err := f.manager.ExecuteSignal(context.Background(), signal.ID, "test")
	require.NoError(t, err)
	_, err = f.manager.CloseTrade(context.Background(), trade.ID, "manual")
	require.NoError(t, err)

	saves := f.trades.saves
	intents := len(f.runner.intents)
	_, err = f.manager.CloseTrade(context.Background(), trade.ID, "manual")
	var invalid *InvalidStateError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, saves, f.trades.saves, "no store writes")
	assert.Equal(t, intents, len(f.runner.intents), "no new intents")
}

func TestCloseTradeBrokerFailureLeavesTradeOpen(t *testing.T) {
	f := newManagerFixture(t, tightPolicy())
	f.market.prices["SPY"] = 100
	f.runner.fillPrice = 100
	signal := f.seedSignal(t, "SPY", 200)
	trade, err := f.manager.ExecuteSignal(context.Background(), signal.ID, "test")
	require.NoError(t, err)

	f.runner.failNext = errors.New("exit rejected")
	_, err = f.manager.CloseTrade(context.Background(), trade.ID, "manual")
	require.Error(t, err)

	stored, err := f.trades.GetTrade(context.Background(), trade.ID)
	require.NoError(t, err)
	assert.Equal(t, store.TradeOpen, stored.Status)
}

func TestMonitorReasonPriority(t *testing.T) {
	policy := tightPolicy()
	policy.MaxOpenPositions = 3
	policy.MaxTotalExposure = 1000
	f := newManagerFixture(t, policy)
	f.runner.fillPrice = 100
	for _, sym := range []string{"AAA", "BBB", "CCC"} {
		f.market.prices[sym] = 100
		signal := f.seedSignal(t, sym, 100)
		_, err := f.manager.ExecuteSignal(context.Background(), signal.ID, "test")
		require.NoError(t, err)
	}

	// AAA hits take-profit, BBB hits stop-loss, CCC stays in range
	f.market.prices["AAA"] = 109
	f.market.prices["BBB"] = 94
	f.market.prices["CCC"] = 101
	f.runner.fillPrice = 0 // each close fills at the quote fallback

	report, err := f.manager.MonitorOpenTrades(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Positions, 3)

	byPosition := map[string]PositionStatus{}
	for _, pos := range report.Positions {
		byPosition[pos.Symbol] = pos
	}
	assert.Equal(t, "take-profit", byPosition["AAA"].CloseReason)
	assert.True(t, byPosition["AAA"].Closed)
	assert.Equal(t, "stop-loss", byPosition["BBB"].CloseReason)
	assert.True(t, byPosition["BBB"].Closed)
	assert.Empty(t, byPosition["CCC"].CloseReason, "in-range position stays open")
	assert.False(t, byPosition["CCC"].Closed)
}

func TestMonitorTimeStopRespectsOvernightFlag(t *testing.T) {
	policy := tightPolicy()
	policy.AllowOvernight = false
	policy.CloseTime = "15:30"
	f := newManagerFixture(t, policy)
	f.market.prices["SPY"] = 100
	f.runner.fillPrice = 100
	signal := f.seedSignal(t, "SPY", 100)
	_, err := f.manager.ExecuteSignal(context.Background(), signal.ID, "test")
	require.NoError(t, err)

	f.manager.nowFn = func() time.Time {
		return time.Date(2026, 3, 2, 16, 0, 0, 0, time.UTC)
	}
	report, err := f.manager.MonitorOpenTrades(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Positions, 1)
	assert.Equal(t, "time-stop", report.Positions[0].CloseReason)

	// allow_overnight disables the time stop
	f2 := newManagerFixture(t, tightPolicy())
	f2.market.prices["SPY"] = 100
	f2.runner.fillPrice = 100
	sig2 := f2.seedSignal(t, "SPY", 100)
	_, err = f2.manager.ExecuteSignal(context.Background(), sig2.ID, "test")
	require.NoError(t, err)
	f2.manager.nowFn = func() time.Time {
		return time.Date(2026, 3, 2, 16, 0, 0, 0, time.UTC)
	}
	report2, err := f2.manager.MonitorOpenTrades(context.Background())
	require.NoError(t, err)
	require.Len(t, report2.Positions, 1)
	assert.Empty(t, report2.Positions[0].CloseReason)
}

func TestMonitorTimeStopFiresWithoutQuote(t *testing.T) {
	policy := tightPolicy()
	policy.AllowOvernight = false
	policy.CloseTime = "15:30"
	f := newManagerFixture(t, policy)
	f.market.prices["SPY"] = 100
	f.runner.fillPrice = 100
	signal := f.seedSignal(t, "SPY", 100)
	trade, err := f.manager.ExecuteSignal(context.Background(), signal.ID, "test")
	require.NoError(t, err)

	// feed goes down after entry; the position marks at entry, return 0
	f.market.errs["SPY"] = errors.New("feed down")
	f.manager.nowFn = func() time.Time {
		return time.Date(2026, 3, 2, 16, 0, 0, 0, time.UTC)
	}

	report, err := f.manager.MonitorOpenTrades(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Positions, 1)
	pos := report.Positions[0]
	assert.InDelta(t, 100.0, pos.CurrentPrice, 1e-9)
	assert.Zero(t, pos.ReturnPct)
	assert.Equal(t, "time-stop", pos.CloseReason)
	assert.True(t, pos.Closed)

	stored, err := f.trades.GetTrade(context.Background(), trade.ID)
	require.NoError(t, err)
	assert.Equal(t, store.TradeClosed, stored.Status)
	require.NotNil(t, stored.PnLValue)
	assert.Zero(t, *stored.PnLValue, "exit marks at entry without a quote")
}

func TestScanCreatesSignalWithinCapacity(t *testing.T) {
	policy := tightPolicy()
	policy.MaxOpenPositions = 2
	policy.MaxTotalExposure = 300
	policy.ScanSymbols = []string{"SPY", "QQQ"}
	f := newManagerFixture(t, policy)
	f.market.techs["SPY"] = longSnapshot()
	qqq := longSnapshot()
	qqq.Symbol = "QQQ"
	f.market.techs["QQQ"] = qqq

	report, err := f.manager.Scan(context.Background(), "task-1")
	require.NoError(t, err)
	require.Len(t, report.Signals, 2)
	assert.Equal(t, "SPY_US_EQ", report.Signals[0].InstrumentCode)
	assert.Equal(t, 200.0, report.Signals[0].TargetNotional)
	// remaining headroom caps the second entry
	assert.Equal(t, 100.0, report.Signals[1].TargetNotional)
	assert.Equal(t, "task-1", report.Signals[0].SourceTaskID)
	assert.Equal(t, store.SignalProposed, report.Signals[0].Status)
}

func TestScanSkipsHeldAndFailedSymbols(t *testing.T) {
	policy := tightPolicy()
	policy.MaxOpenPositions = 3
	policy.MaxTotalExposure = 1000
	policy.ScanSymbols = []string{"SPY", "QQQ", "LQQ3"}
	f := newManagerFixture(t, policy)
	f.market.prices["SPY"] = 100
	f.runner.fillPrice = 100
	held := f.seedSignal(t, "SPY", 100)
	_, err := f.manager.ExecuteSignal(context.Background(), held.ID, "test")
	require.NoError(t, err)

	f.market.errs["QQQ"] = errors.New("feed down")
	lqq := longSnapshot()
	lqq.Symbol = "LQQ3"
	f.market.techs["LQQ3"] = lqq

	report, err := f.manager.Scan(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, report.Signals, 1)
	assert.Equal(t, "LQQ3", report.Signals[0].Symbol)
	assert.Equal(t, "position already open", report.Skipped["SPY"])
	assert.Contains(t, report.Skipped["QQQ"], "data unavailable")
}

func TestScanStopsWhenNoSlots(t *testing.T) {
	f := newManagerFixture(t, tightPolicy())
	f.market.prices["SPY"] = 100
	f.runner.fillPrice = 100
	signal := f.seedSignal(t, "SPY", 100)
	_, err := f.manager.ExecuteSignal(context.Background(), signal.ID, "test")
	require.NoError(t, err)

	report, err := f.manager.Scan(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, report.Signals)
	assert.Equal(t, "no open-position slots available", report.Reason)
}

func TestScanDisabledPolicy(t *testing.T) {
	policy := tightPolicy()
	policy.Enabled = false
	f := newManagerFixture(t, policy)
	report, err := f.manager.Scan(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, report.Signals)
	assert.Equal(t, "strategy disabled by policy", report.Reason)
}

func TestScanAutoExecuteOpensTrades(t *testing.T) {
	policy := tightPolicy()
	policy.AutoExecute = true
	f := newManagerFixture(t, policy)
	f.market.techs["SPY"] = longSnapshot()
	f.market.prices["SPY"] = 105
	f.runner.fillPrice = 105

	report, err := f.manager.Scan(context.Background(), "task-9")
	require.NoError(t, err)
	require.Len(t, report.Signals, 1)
	require.Len(t, report.ExecutedTradeIDs, 1)

	open, err := f.trades.ListOpenTrades(context.Background())
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "SPY", open[0].Symbol)
}

func TestRunCycleMonitorBeforeScan(t *testing.T) {
	policy := tightPolicy()
	policy.ScanSymbols = []string{"SPY"}
	f := newManagerFixture(t, policy)
	f.market.prices["SPY"] = 100
	f.runner.fillPrice = 100
	signal := f.seedSignal(t, "SPY", 100)
	_, err := f.manager.ExecuteSignal(context.Background(), signal.ID, "test")
	require.NoError(t, err)

	// the position hits take-profit; the freed slot lets the scan run
	f.market.prices["SPY"] = 110
	f.market.techs["SPY"] = longSnapshot()

	cycle, err := f.manager.RunCycle(context.Background(), "task-2")
	require.NoError(t, err)
	require.Len(t, cycle.Monitor.Positions, 1)
	assert.True(t, cycle.Monitor.Positions[0].Closed)
	assert.Equal(t, 1, cycle.Scan.SlotsAvailable, "monitor freed the slot before scanning")
}

func TestSnapshotAggregates(t *testing.T) {
	policy := tightPolicy()
	policy.MaxOpenPositions = 2
	policy.MaxTotalExposure = 500
	f := newManagerFixture(t, policy)
	f.runner.fillPrice = 100
	f.market.prices["AAA"] = 100
	f.market.prices["BBB"] = 100
	sigA := f.seedSignal(t, "AAA", 200)
	_, err := f.manager.ExecuteSignal(context.Background(), sigA.ID, "test")
	require.NoError(t, err)
	sigB := f.seedSignal(t, "BBB", 100)
	tradeB, err := f.manager.ExecuteSignal(context.Background(), sigB.ID, "test")
	require.NoError(t, err)

	f.market.prices["AAA"] = 110 // +10 * 2 = +20 unrealized
	f.market.prices["BBB"] = 95
	f.runner.fillPrice = 95
	_, err = f.manager.CloseTrade(context.Background(), tradeB.ID, "manual")
	require.NoError(t, err)

	report, err := f.manager.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Summary.OpenPositions)
	assert.InDelta(t, 200.0, report.Summary.OpenExposure, 1e-9)
	assert.InDelta(t, 20.0, report.Summary.UnrealizedPnL, 1e-9)
	assert.InDelta(t, -5.0, report.Summary.RealizedPnL, 1e-9)
	assert.Equal(t, 1, report.Summary.ClosedTrades)
	assert.Equal(t, 0.0, report.Summary.WinRate)
}

func TestUpdatePolicyMergesAndClamps(t *testing.T) {
	f := newManagerFixture(t, tightPolicy())
	tp := 0.95 // above the cap
	enabled := false
	policy, err := f.manager.UpdatePolicy(context.Background(), PolicyPatch{
		TakeProfitPct: &tp,
		Enabled:       &enabled,
	})
	require.NoError(t, err)
	assert.Equal(t, 0.4, policy.TakeProfitPct)
	assert.False(t, policy.Enabled)
	assert.Equal(t, 200.0, policy.PerPositionNotional, "unpatched fields kept")
}
