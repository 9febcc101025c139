package gormstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"levtrader/internal/store"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open("  ")
	assert.Error(t, err)
}

func TestIntentRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	intent := &store.TradeIntent{
		Status:            store.IntentProposed,
		Symbol:            "SPY",
		Side:              store.SideBuy,
		OrderType:         store.OrderMarket,
		Quantity:          2,
		EstimatedNotional: 200,
	}
	require.NoError(t, s.CreateIntent(ctx, intent))
	require.NotEmpty(t, intent.ID)

	got, err := s.GetIntent(ctx, intent.ID)
	require.NoError(t, err)
	assert.Equal(t, store.IntentProposed, got.Status)
	assert.Equal(t, "SPY", got.Symbol)

	got.Status = store.IntentExecuted
	require.NoError(t, s.SaveIntent(ctx, got))
	again, err := s.GetIntent(ctx, intent.ID)
	require.NoError(t, err)
	assert.Equal(t, store.IntentExecuted, again.Status)

	_, err = s.GetIntent(ctx, "nope")
	assert.ErrorContains(t, err, "not found")
}

func TestFindDuplicateIntentWindow(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	existing := &store.TradeIntent{
		Status:   store.IntentExecuted,
		Symbol:   "SPY",
		Side:     store.SideBuy,
		Quantity: 2,
	}
	require.NoError(t, s.CreateIntent(ctx, existing))

	candidate := &store.TradeIntent{
		Status:   store.IntentProposed,
		Symbol:   "SPY",
		Side:     store.SideBuy,
		Quantity: 2,
	}
	require.NoError(t, s.CreateIntent(ctx, candidate))

	dup, err := s.FindDuplicateIntent(ctx, candidate, time.Minute)
	require.NoError(t, err)
	assert.True(t, dup)

	// a different quantity is not a duplicate
	other := &store.TradeIntent{
		Status:   store.IntentProposed,
		Symbol:   "SPY",
		Side:     store.SideBuy,
		Quantity: 5,
	}
	require.NoError(t, s.CreateIntent(ctx, other))
	dup, err = s.FindDuplicateIntent(ctx, other, time.Minute)
	require.NoError(t, err)
	assert.False(t, dup)

	// rejected intents do not count
	rejected := &store.TradeIntent{
		Status:   store.IntentRejected,
		Symbol:   "QQQ",
		Side:     store.SideSell,
		Quantity: 1,
	}
	require.NoError(t, s.CreateIntent(ctx, rejected))
	probe := &store.TradeIntent{
		Status:   store.IntentProposed,
		Symbol:   "QQQ",
		Side:     store.SideSell,
		Quantity: 1,
	}
	require.NoError(t, s.CreateIntent(ctx, probe))
	dup, err = s.FindDuplicateIntent(ctx, probe, time.Minute)
	require.NoError(t, err)
	assert.False(t, dup)
}

func TestDailyExecutedNotionalSumsExecutedOnly(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	dayStart := now.Truncate(24 * time.Hour)

	mk := func(status store.IntentStatus, notional float64, executedAt *time.Time) {
		intent := &store.TradeIntent{
			Status:            status,
			Symbol:            "SPY",
			Side:              store.SideBuy,
			Quantity:          1,
			EstimatedNotional: notional,
			ExecutedAt:        executedAt,
		}
		require.NoError(t, s.CreateIntent(ctx, intent))
	}
	mk(store.IntentExecuted, 100, &now)
	mk(store.IntentExecuted, 250, &now)
	yesterday := now.Add(-25 * time.Hour)
	mk(store.IntentExecuted, 999, &yesterday)
	mk(store.IntentProposed, 500, nil)

	total, err := s.DailyExecutedNotional(ctx, dayStart)
	require.NoError(t, err)
	assert.InDelta(t, 350.0, total, 1e-9)
}

func TestDailyExecutedNotionalEmpty(t *testing.T) {
	s := openTestStore(t)
	total, err := s.DailyExecutedNotional(context.Background(), time.Now().UTC())
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestKVRoundTripAndUpsert(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	type rails struct {
		Max  float64 `json:"max"`
		Open int     `json:"open"`
	}
	found, err := s.GetValue(ctx, "policy", &rails{})
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, s.SetValue(ctx, "policy", rails{Max: 600, Open: 3}))
	var got rails
	found, err = s.GetValue(ctx, "policy", &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, rails{Max: 600, Open: 3}, got)

	require.NoError(t, s.SetValue(ctx, "policy", rails{Max: 800, Open: 5}))
	found, err = s.GetValue(ctx, "policy", &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, rails{Max: 800, Open: 5}, got, "second write overwrites")
}

func TestTradeStoreOpenClosedSplit(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	open := &store.LeveragedTrade{Status: store.TradeOpen, Symbol: "SPY", Quantity: 1, EntryPrice: 100, EntryNotional: 100, EnteredAt: time.Now().UTC()}
	require.NoError(t, s.CreateTrade(ctx, open))

	exited := time.Now().UTC()
	closed := &store.LeveragedTrade{Status: store.TradeClosed, Symbol: "QQQ", Quantity: 1, EntryPrice: 100, EntryNotional: 100, EnteredAt: exited, ExitedAt: &exited}
	require.NoError(t, s.CreateTrade(ctx, closed))

	openRows, err := s.ListOpenTrades(ctx)
	require.NoError(t, err)
	require.Len(t, openRows, 1)
	assert.Equal(t, "SPY", openRows[0].Symbol)

	closedRows, err := s.ListClosedTrades(ctx, 10)
	require.NoError(t, err)
	require.Len(t, closedRows, 1)
	assert.Equal(t, "QQQ", closedRows[0].Symbol)
}

func TestTaskDueSelection(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)

	due := &store.ScheduledTask{Name: "due", CronExpr: "* * * * *", Enabled: true, NextRunAt: &past}
	require.NoError(t, s.CreateTask(ctx, due))
	never := &store.ScheduledTask{Name: "never-run", CronExpr: "* * * * *", Enabled: true}
	require.NoError(t, s.CreateTask(ctx, never))
	notYet := &store.ScheduledTask{Name: "future", CronExpr: "* * * * *", Enabled: true, NextRunAt: &future}
	require.NoError(t, s.CreateTask(ctx, notYet))
	off := &store.ScheduledTask{Name: "off", CronExpr: "* * * * *", Enabled: false, NextRunAt: &past}
	require.NoError(t, s.CreateTask(ctx, off))

	rows, err := s.ListDueTasks(ctx, now)
	require.NoError(t, err)
	names := make([]string, 0, len(rows))
	for _, task := range rows {
		names = append(names, task.Name)
	}
	assert.ElementsMatch(t, []string{"due", "never-run"}, names)
}

func TestGetTaskByNameMissReturnsNil(t *testing.T) {
	s := openTestStore(t)
	task, err := s.GetTaskByName(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, task)
}

func TestLatestFreeCash(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	cash, err := s.LatestFreeCash(ctx)
	require.NoError(t, err)
	assert.Zero(t, cash, "no snapshot yet")

	older := time.Now().UTC().Add(-time.Hour)
	require.NoError(t, s.SaveSnapshot(ctx, &store.AccountSnapshot{FreeCash: 500, FetchedAt: older}))
	require.NoError(t, s.SaveSnapshot(ctx, &store.AccountSnapshot{FreeCash: 750}))

	cash, err = s.LatestFreeCash(ctx)
	require.NoError(t, err)
	assert.Equal(t, 750.0, cash)
}
