package store

import (
	"time"

	"gorm.io/datatypes"
)

// TradeIntent is one attempted order. It is owned exclusively by the
// execution engine; other components reference it by id only.
type TradeIntent struct {
	ID                string         `gorm:"column:id;primaryKey"`
	Status            IntentStatus   `gorm:"column:status;index"`
	BrokerMode        string         `gorm:"column:broker_mode"`
	Symbol            string         `gorm:"column:symbol;index"`
	InstrumentCode    string         `gorm:"column:instrument_code"`
	Side              Side           `gorm:"column:side"`
	OrderType         OrderType      `gorm:"column:order_type"`
	Quantity          float64        `gorm:"column:quantity"`
	LimitPrice        *float64       `gorm:"column:limit_price"`
	StopPrice         *float64       `gorm:"column:stop_price"`
	EstimatedNotional float64        `gorm:"column:estimated_notional"`
	Confidence        float64        `gorm:"column:confidence"`
	RiskScore         float64        `gorm:"column:risk_score"`
	Rationale         string         `gorm:"column:rationale"`
	BrokerOrderID     string         `gorm:"column:broker_order_id"`
	ExecutionPrice    *float64       `gorm:"column:execution_price"`
	FailureReason     string         `gorm:"column:failure_reason"`
	Meta              datatypes.JSON `gorm:"column:meta;type:TEXT"`
	CreatedAt         time.Time      `gorm:"column:created_at;index"`
	ApprovedAt        *time.Time     `gorm:"column:approved_at"`
	ExecutedAt        *time.Time     `gorm:"column:executed_at"`
	UpdatedAt         time.Time      `gorm:"column:updated_at"`
}

func (TradeIntent) TableName() string { return "trade_intents" }

// ExecutionEvent is an append-only audit record keyed by intent id.
type ExecutionEvent struct {
	ID        int64          `gorm:"column:id;primaryKey;autoIncrement"`
	IntentID  string         `gorm:"column:intent_id;index"`
	Level     string         `gorm:"column:level"`
	Message   string         `gorm:"column:message"`
	Payload   datatypes.JSON `gorm:"column:payload;type:TEXT"`
	CreatedAt time.Time      `gorm:"column:created_at;index"`
}

func (ExecutionEvent) TableName() string { return "execution_events" }

// LeveragedSignal is a scanner-produced candidate entry.
type LeveragedSignal struct {
	ID             string         `gorm:"column:id;primaryKey"`
	Status         SignalStatus   `gorm:"column:status;index"`
	Symbol         string         `gorm:"column:symbol;index"`
	InstrumentCode string         `gorm:"column:instrument_code"`
	Direction      Direction      `gorm:"column:direction"`
	EntrySide      Side           `gorm:"column:entry_side"`
	TargetNotional float64        `gorm:"column:target_notional"`
	ReferencePrice float64        `gorm:"column:reference_price"`
	StopLossPct    float64        `gorm:"column:stop_loss_pct"`
	TakeProfitPct  float64        `gorm:"column:take_profit_pct"`
	Confidence     float64        `gorm:"column:confidence"`
	ExpectedEdge   float64        `gorm:"column:expected_edge"`
	Rationale      string         `gorm:"column:rationale"`
	StrategyTag    string         `gorm:"column:strategy_tag"`
	LinkedIntentID string         `gorm:"column:linked_intent_id"`
	LinkedTradeID  string         `gorm:"column:linked_trade_id"`
	SourceTaskID   string         `gorm:"column:source_task_id"`
	Meta           datatypes.JSON `gorm:"column:meta;type:TEXT"`
	CreatedAt      time.Time      `gorm:"column:created_at;index"`
	UpdatedAt      time.Time      `gorm:"column:updated_at"`
}

func (LeveragedSignal) TableName() string { return "leveraged_signals" }

// LeveragedTrade is a realized position. Mutated only by the close path;
// closed trades are immutable.
type LeveragedTrade struct {
	ID             string         `gorm:"column:id;primaryKey"`
	SignalID       string         `gorm:"column:signal_id;index"`
	Status         TradeStatus    `gorm:"column:status;index"`
	Symbol         string         `gorm:"column:symbol;index"`
	InstrumentCode string         `gorm:"column:instrument_code"`
	Direction      Direction      `gorm:"column:direction"`
	Quantity       float64        `gorm:"column:quantity"`
	EntryPrice     float64        `gorm:"column:entry_price"`
	EntryNotional  float64        `gorm:"column:entry_notional"`
	EnteredAt      time.Time      `gorm:"column:entered_at"`
	StopLossPct    float64        `gorm:"column:stop_loss_pct"`
	TakeProfitPct  float64        `gorm:"column:take_profit_pct"`
	EntryIntentID  string         `gorm:"column:entry_intent_id"`
	ExitIntentID   string         `gorm:"column:exit_intent_id"`
	ExitPrice      *float64       `gorm:"column:exit_price"`
	ExitNotional   *float64       `gorm:"column:exit_notional"`
	ExitedAt       *time.Time     `gorm:"column:exited_at"`
	CloseReason    string         `gorm:"column:close_reason"`
	PnLValue       *float64       `gorm:"column:pnl_value"`
	PnLPct         *float64       `gorm:"column:pnl_pct"`
	Meta           datatypes.JSON `gorm:"column:meta;type:TEXT"`
	CreatedAt      time.Time      `gorm:"column:created_at;index"`
	UpdatedAt      time.Time      `gorm:"column:updated_at"`
}

func (LeveragedTrade) TableName() string { return "leveraged_trades" }

// ScheduledTask pairs a cron expression and timezone with an operation kind.
type ScheduledTask struct {
	ID           string         `gorm:"column:id;primaryKey"`
	Name         string         `gorm:"column:name;uniqueIndex"`
	CronExpr     string         `gorm:"column:cron_expr"`
	Timezone     string         `gorm:"column:timezone"`
	Kind         TaskKind       `gorm:"column:kind"`
	Prompt       string         `gorm:"column:prompt"`
	Enabled      bool           `gorm:"column:enabled;index"`
	NextRunAt    *time.Time     `gorm:"column:next_run_at;index"`
	LastRunAt    *time.Time     `gorm:"column:last_run_at"`
	LastStatus   TaskStatus     `gorm:"column:last_status"`
	RunCount     int            `gorm:"column:run_count"`
	FailureCount int            `gorm:"column:failure_count"`
	Meta         datatypes.JSON `gorm:"column:meta;type:TEXT"`
	CreatedAt    time.Time      `gorm:"column:created_at"`
	UpdatedAt    time.Time      `gorm:"column:updated_at"`
}

func (ScheduledTask) TableName() string { return "scheduled_tasks" }

// TaskLog is one structured run record for a scheduled task.
type TaskLog struct {
	ID         int64          `gorm:"column:id;primaryKey;autoIncrement"`
	TaskID     string         `gorm:"column:task_id;index"`
	Status     TaskStatus     `gorm:"column:status"`
	Message    string         `gorm:"column:message"`
	Payload    datatypes.JSON `gorm:"column:payload;type:TEXT"`
	OutputPath string         `gorm:"column:output_path"`
	CreatedAt  time.Time      `gorm:"column:created_at;index"`
}

func (TaskLog) TableName() string { return "task_logs" }

// AccountSnapshot is the latest known account state, refreshed out of band.
// The execution engine reads the newest row for the cash guard.
type AccountSnapshot struct {
	ID         int64     `gorm:"column:id;primaryKey;autoIncrement"`
	FreeCash   float64   `gorm:"column:free_cash"`
	TotalValue float64   `gorm:"column:total_value"`
	Currency   string    `gorm:"column:currency"`
	FetchedAt  time.Time `gorm:"column:fetched_at;index"`
}

func (AccountSnapshot) TableName() string { return "account_snapshots" }

// ConfigEntry is one normalized configuration record in the key-value store.
type ConfigEntry struct {
	Key       string         `gorm:"column:key;primaryKey"`
	Value     datatypes.JSON `gorm:"column:value;type:TEXT"`
	UpdatedAt time.Time      `gorm:"column:updated_at"`
}

func (ConfigEntry) TableName() string { return "config_entries" }
