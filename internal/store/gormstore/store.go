package gormstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"levtrader/internal/store"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	_ "modernc.org/sqlite"
)

// Store implements every repository interface in internal/store on top of
// Gorm + SQLite. One Store is shared process-wide.
type Store struct {
	db *gorm.DB
}

var (
	_ store.IntentStore   = (*Store)(nil)
	_ store.EventStore    = (*Store)(nil)
	_ store.SignalStore   = (*Store)(nil)
	_ store.TradeStore    = (*Store)(nil)
	_ store.TaskStore     = (*Store)(nil)
	_ store.SnapshotStore = (*Store)(nil)
	_ store.KVStore       = (*Store)(nil)
)

// Open initializes the SQLite database at path and migrates the schema.
func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("gorm store: db path cannot be empty")
	}
	if err := ensureDir(path); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	// "sqlite" is the pure-Go driver registered by the modernc import.
	db, err := gorm.Open(sqlite.Dialector{DriverName: "sqlite", DSN: dsn}, &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	models := []interface{}{
		&store.TradeIntent{},
		&store.ExecutionEvent{},
		&store.LeveragedSignal{},
		&store.LeveragedTrade{},
		&store.ScheduledTask{},
		&store.TaskLog{},
		&store.AccountSnapshot{},
		&store.ConfigEntry{},
	}
	if err := db.AutoMigrate(models...); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite + WAL: keep a small pool so the scheduler tick and the admin
	// HTTP reads do not contend on a single connection.
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &Store{db: db}, nil
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func newID() string { return uuid.NewString() }

// ---- IntentStore ----

func (s *Store) CreateIntent(ctx context.Context, intent *store.TradeIntent) error {
	if intent.ID == "" {
		intent.ID = newID()
	}
	now := time.Now().UTC()
	if intent.CreatedAt.IsZero() {
		intent.CreatedAt = now
	}
	intent.UpdatedAt = now
	return s.db.WithContext(ctx).Create(intent).Error
}

func (s *Store) GetIntent(ctx context.Context, id string) (*store.TradeIntent, error) {
	var intent store.TradeIntent
	err := s.db.WithContext(ctx).First(&intent, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("intent %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	return &intent, nil
}

func (s *Store) SaveIntent(ctx context.Context, intent *store.TradeIntent) error {
	intent.UpdatedAt = time.Now().UTC()
	return s.db.WithContext(ctx).Save(intent).Error
}

func (s *Store) ListIntents(ctx context.Context, limit int) ([]store.TradeIntent, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []store.TradeIntent
	err := s.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Find(&rows).Error
	return rows, err
}

func (s *Store) FindDuplicateIntent(ctx context.Context, intent *store.TradeIntent, window time.Duration) (bool, error) {
	cutoff := time.Now().UTC().Add(-window)
	var count int64
	err := s.db.WithContext(ctx).Model(&store.TradeIntent{}).
		Where("created_at >= ?", cutoff).
		Where("id <> ?", intent.ID).
		Where("symbol = ? AND side = ? AND quantity = ?", intent.Symbol, intent.Side, intent.Quantity).
		Where("status IN ?", []store.IntentStatus{store.IntentProposed, store.IntentApproved, store.IntentExecuted}).
		Count(&count).Error
	return count > 0, err
}

func (s *Store) DailyExecutedNotional(ctx context.Context, dayStart time.Time) (float64, error) {
	var total *float64
	err := s.db.WithContext(ctx).Model(&store.TradeIntent{}).
		Select("SUM(estimated_notional)").
		Where("status = ?", store.IntentExecuted).
		Where("executed_at >= ?", dayStart).
		Scan(&total).Error
	if err != nil {
		return 0, err
	}
	if total == nil {
		return 0, nil
	}
	return *total, nil
}

// ---- EventStore ----

func (s *Store) AppendEvent(ctx context.Context, event *store.ExecutionEvent) error {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	return s.db.WithContext(ctx).Create(event).Error
}

func (s *Store) ListEvents(ctx context.Context, limit int) ([]store.ExecutionEvent, error) {
	if limit <= 0 {
		limit = 300
	}
	var rows []store.ExecutionEvent
	err := s.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Find(&rows).Error
	return rows, err
}

func (s *Store) ListEventsByIntent(ctx context.Context, intentID string, limit int) ([]store.ExecutionEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []store.ExecutionEvent
	err := s.db.WithContext(ctx).Where("intent_id = ?", intentID).
		Order("created_at DESC").Limit(limit).Find(&rows).Error
	return rows, err
}

// ---- SignalStore ----

func (s *Store) CreateSignal(ctx context.Context, signal *store.LeveragedSignal) error {
	if signal.ID == "" {
		signal.ID = newID()
	}
	now := time.Now().UTC()
	if signal.CreatedAt.IsZero() {
		signal.CreatedAt = now
	}
	signal.UpdatedAt = now
	return s.db.WithContext(ctx).Create(signal).Error
}

func (s *Store) GetSignal(ctx context.Context, id string) (*store.LeveragedSignal, error) {
	var signal store.LeveragedSignal
	err := s.db.WithContext(ctx).First(&signal, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("signal %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	return &signal, nil
}

func (s *Store) SaveSignal(ctx context.Context, signal *store.LeveragedSignal) error {
	signal.UpdatedAt = time.Now().UTC()
	return s.db.WithContext(ctx).Save(signal).Error
}

func (s *Store) ListSignals(ctx context.Context, limit int) ([]store.LeveragedSignal, error) {
	if limit <= 0 {
		limit = 120
	}
	var rows []store.LeveragedSignal
	err := s.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Find(&rows).Error
	return rows, err
}

// ---- TradeStore ----

func (s *Store) CreateTrade(ctx context.Context, trade *store.LeveragedTrade) error {
	if trade.ID == "" {
		trade.ID = newID()
	}
	now := time.Now().UTC()
	if trade.CreatedAt.IsZero() {
		trade.CreatedAt = now
	}
	trade.UpdatedAt = now
	return s.db.WithContext(ctx).Create(trade).Error
}

func (s *Store) GetTrade(ctx context.Context, id string) (*store.LeveragedTrade, error) {
	var trade store.LeveragedTrade
	err := s.db.WithContext(ctx).First(&trade, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("trade %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	return &trade, nil
}

func (s *Store) SaveTrade(ctx context.Context, trade *store.LeveragedTrade) error {
	trade.UpdatedAt = time.Now().UTC()
	return s.db.WithContext(ctx).Save(trade).Error
}

func (s *Store) ListOpenTrades(ctx context.Context) ([]store.LeveragedTrade, error) {
	var rows []store.LeveragedTrade
	err := s.db.WithContext(ctx).Where("status = ?", store.TradeOpen).
		Order("created_at DESC").Find(&rows).Error
	return rows, err
}

func (s *Store) ListClosedTrades(ctx context.Context, limit int) ([]store.LeveragedTrade, error) {
	if limit <= 0 {
		limit = 120
	}
	var rows []store.LeveragedTrade
	err := s.db.WithContext(ctx).Where("status = ?", store.TradeClosed).
		Order("exited_at DESC").Limit(limit).Find(&rows).Error
	return rows, err
}

// ---- TaskStore ----

func (s *Store) CreateTask(ctx context.Context, task *store.ScheduledTask) error {
	if task.ID == "" {
		task.ID = newID()
	}
	now := time.Now().UTC()
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	task.UpdatedAt = now
	return s.db.WithContext(ctx).Create(task).Error
}

func (s *Store) GetTask(ctx context.Context, id string) (*store.ScheduledTask, error) {
	var task store.ScheduledTask
	err := s.db.WithContext(ctx).First(&task, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("task %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	return &task, nil
}

func (s *Store) GetTaskByName(ctx context.Context, name string) (*store.ScheduledTask, error) {
	var task store.ScheduledTask
	err := s.db.WithContext(ctx).First(&task, "name = ?", name).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &task, nil
}

func (s *Store) SaveTask(ctx context.Context, task *store.ScheduledTask) error {
	task.UpdatedAt = time.Now().UTC()
	return s.db.WithContext(ctx).Save(task).Error
}

func (s *Store) DeleteTask(ctx context.Context, id string) error {
	if err := s.db.WithContext(ctx).Delete(&store.TaskLog{}, "task_id = ?", id).Error; err != nil {
		return err
	}
	return s.db.WithContext(ctx).Delete(&store.ScheduledTask{}, "id = ?", id).Error
}

func (s *Store) ListTasks(ctx context.Context) ([]store.ScheduledTask, error) {
	var rows []store.ScheduledTask
	err := s.db.WithContext(ctx).Order("name ASC").Find(&rows).Error
	return rows, err
}

func (s *Store) ListDueTasks(ctx context.Context, now time.Time) ([]store.ScheduledTask, error) {
	var rows []store.ScheduledTask
	err := s.db.WithContext(ctx).
		Where("enabled = ?", true).
		Where("next_run_at IS NULL OR next_run_at <= ?", now).
		Find(&rows).Error
	return rows, err
}

func (s *Store) AppendTaskLog(ctx context.Context, log *store.TaskLog) error {
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}
	return s.db.WithContext(ctx).Create(log).Error
}

func (s *Store) ListTaskLogs(ctx context.Context, taskID string, limit int) ([]store.TaskLog, error) {
	if limit <= 0 {
		limit = 30
	}
	if limit > 200 {
		limit = 200
	}
	var rows []store.TaskLog
	err := s.db.WithContext(ctx).Where("task_id = ?", taskID).
		Order("created_at DESC").Limit(limit).Find(&rows).Error
	return rows, err
}

// ---- SnapshotStore ----

func (s *Store) SaveSnapshot(ctx context.Context, snap *store.AccountSnapshot) error {
	if snap.FetchedAt.IsZero() {
		snap.FetchedAt = time.Now().UTC()
	}
	return s.db.WithContext(ctx).Create(snap).Error
}

func (s *Store) LatestFreeCash(ctx context.Context) (float64, error) {
	var snap store.AccountSnapshot
	err := s.db.WithContext(ctx).Order("fetched_at DESC").First(&snap).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return snap.FreeCash, nil
}
