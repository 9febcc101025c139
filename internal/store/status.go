package store

// IntentStatus is the lifecycle state of a TradeIntent.
type IntentStatus string

const (
	IntentProposed  IntentStatus = "proposed"
	IntentApproved  IntentStatus = "approved"
	IntentRejected  IntentStatus = "rejected"
	IntentExecuting IntentStatus = "executing"
	IntentExecuted  IntentStatus = "executed"
	IntentFailed    IntentStatus = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s IntentStatus) Terminal() bool {
	switch s {
	case IntentRejected, IntentExecuted, IntentFailed:
		return true
	}
	return false
}

// CanExecute reports whether the intent may enter the execute path.
func (s IntentStatus) CanExecute() bool {
	return s == IntentProposed || s == IntentApproved
}

type SignalStatus string

const (
	SignalProposed SignalStatus = "proposed"
	SignalApproved SignalStatus = "approved"
	SignalExecuted SignalStatus = "executed"
	SignalFailed   SignalStatus = "failed"
)

func (s SignalStatus) CanExecute() bool {
	return s == SignalProposed || s == SignalApproved
}

type TradeStatus string

const (
	TradeOpen   TradeStatus = "open"
	TradeClosed TradeStatus = "closed"
)

// TaskStatus is the last observed outcome of a scheduled task run.
type TaskStatus string

const (
	TaskIdle    TaskStatus = "idle"
	TaskRunning TaskStatus = "running"
	TaskOK      TaskStatus = "ok"
	TaskError   TaskStatus = "error"
)

// TaskKind selects the operation a scheduled task invokes.
type TaskKind string

const (
	TaskLeveragedCycle   TaskKind = "leveraged_cycle"
	TaskLeveragedScan    TaskKind = "leveraged_scan"
	TaskLeveragedMonitor TaskKind = "leveraged_monitor"
	TaskGeneric          TaskKind = "generic"
)

type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
)

type OrderType string

const (
	OrderMarket    OrderType = "market"
	OrderLimit     OrderType = "limit"
	OrderStop      OrderType = "stop"
	OrderStopLimit OrderType = "stop_limit"
)
