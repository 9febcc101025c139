package store

import (
	"context"
	"time"
)

// IntentStore persists trade intents. FindDuplicate implements the
// time-windowed duplicate-order query: another intent with the same symbol,
// side and quantity created within the window and still proposed, approved
// or executed.
type IntentStore interface {
	CreateIntent(ctx context.Context, intent *TradeIntent) error
	GetIntent(ctx context.Context, id string) (*TradeIntent, error)
	SaveIntent(ctx context.Context, intent *TradeIntent) error
	ListIntents(ctx context.Context, limit int) ([]TradeIntent, error)
	FindDuplicateIntent(ctx context.Context, intent *TradeIntent, window time.Duration) (bool, error)
	DailyExecutedNotional(ctx context.Context, dayStart time.Time) (float64, error)
}

// EventStore is the append-only execution audit trail.
type EventStore interface {
	AppendEvent(ctx context.Context, event *ExecutionEvent) error
	ListEvents(ctx context.Context, limit int) ([]ExecutionEvent, error)
	ListEventsByIntent(ctx context.Context, intentID string, limit int) ([]ExecutionEvent, error)
}

type SignalStore interface {
	CreateSignal(ctx context.Context, signal *LeveragedSignal) error
	GetSignal(ctx context.Context, id string) (*LeveragedSignal, error)
	SaveSignal(ctx context.Context, signal *LeveragedSignal) error
	ListSignals(ctx context.Context, limit int) ([]LeveragedSignal, error)
}

type TradeStore interface {
	CreateTrade(ctx context.Context, trade *LeveragedTrade) error
	GetTrade(ctx context.Context, id string) (*LeveragedTrade, error)
	SaveTrade(ctx context.Context, trade *LeveragedTrade) error
	ListOpenTrades(ctx context.Context) ([]LeveragedTrade, error)
	ListClosedTrades(ctx context.Context, limit int) ([]LeveragedTrade, error)
}

type TaskStore interface {
	CreateTask(ctx context.Context, task *ScheduledTask) error
	GetTask(ctx context.Context, id string) (*ScheduledTask, error)
	GetTaskByName(ctx context.Context, name string) (*ScheduledTask, error)
	SaveTask(ctx context.Context, task *ScheduledTask) error
	DeleteTask(ctx context.Context, id string) error
	ListTasks(ctx context.Context) ([]ScheduledTask, error)
	ListDueTasks(ctx context.Context, now time.Time) ([]ScheduledTask, error)
	AppendTaskLog(ctx context.Context, log *TaskLog) error
	ListTaskLogs(ctx context.Context, taskID string, limit int) ([]TaskLog, error)
}

// SnapshotStore exposes the latest known account cash for the buy-side guard.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, snap *AccountSnapshot) error
	LatestFreeCash(ctx context.Context) (float64, error)
}

// KVStore is the normalized configuration record store (policy rails).
type KVStore interface {
	GetValue(ctx context.Context, key string, out any) (bool, error)
	SetValue(ctx context.Context, key string, value any) error
}
