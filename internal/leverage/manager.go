package leverage

import (
	"context"
	"time"

	"levtrader/internal/audit"
	"levtrader/internal/engine"
	"levtrader/internal/logger"
	"levtrader/internal/market"
	"levtrader/internal/notify"
	"levtrader/internal/store"
)

// MarketData is the slice of the market service the manager consumes.
type MarketData interface {
	Quote(ctx context.Context, symbol string) (*market.Quote, error)
	Technicals(ctx context.Context, symbol string) (*market.Snapshot, error)
}

// IntentRunner is the execution-engine surface the manager is allowed to
// touch. All orders flow through it; the manager never talks to the broker.
type IntentRunner interface {
	Propose(ctx context.Context, req engine.ProposeRequest) (*store.TradeIntent, error)
	Execute(ctx context.Context, intentID string, forceLive bool) (*store.TradeIntent, error)
}

// Auditor records human-readable trade actions.
type Auditor interface {
	Append(entry audit.Entry) (string, error)
}

// Manager owns the leveraged-position lifecycle: policy rails, scanning,
// entries, exits and the periodic monitor.
type Manager struct {
	signals  store.SignalStore
	trades   store.TradeStore
	kv       store.KVStore
	engine   IntentRunner
	market   MarketData
	auditLog Auditor
	notifier notify.TextNotifier
	loc      *time.Location
	nowFn    func() time.Time
}

// Deps bundles the manager's collaborators.
type Deps struct {
	Signals  store.SignalStore
	Trades   store.TradeStore
	KV       store.KVStore
	Engine   IntentRunner
	Market   MarketData
	AuditLog Auditor
	Notifier notify.TextNotifier
	Location *time.Location
}

func NewManager(deps Deps) *Manager {
	loc := deps.Location
	if loc == nil {
		loc = time.UTC
	}
	notifier := deps.Notifier
	if notifier == nil {
		notifier = notify.Noop{}
	}
	return &Manager{
		signals:  deps.Signals,
		trades:   deps.Trades,
		kv:       deps.KV,
		engine:   deps.Engine,
		market:   deps.Market,
		auditLog: deps.AuditLog,
		notifier: notifier,
		loc:      loc,
		nowFn:    time.Now,
	}
}

// GetPolicy loads the stored rails, seeding defaults on first use. The
// stored record is normalized on every read and written back when clamping
// changed it, so stale out-of-band edits cannot linger.
func (m *Manager) GetPolicy(ctx context.Context) (Policy, error) {
	var stored Policy
	found, err := m.kv.GetValue(ctx, policyKey, &stored)
	if err != nil {
		return Policy{}, err
	}
	if !found {
		policy := DefaultPolicy()
		if err := m.kv.SetValue(ctx, policyKey, policy); err != nil {
			return Policy{}, err
		}
		return policy, nil
	}
	policy, drifted := stored.Normalize()
	if drifted {
		if err := m.kv.SetValue(ctx, policyKey, policy); err != nil {
			logger.Warnf("writing back normalized policy: %v", err)
		}
	}
	return policy, nil
}

// PolicyPatch is a partial update; nil fields keep their current value.
type PolicyPatch struct {
	Enabled             *bool     `json:"enabled"`
	AutoExecute         *bool     `json:"auto_execute"`
	PerPositionNotional *float64  `json:"per_position_notional"`
	MaxTotalExposure    *float64  `json:"max_total_exposure"`
	MaxOpenPositions    *int      `json:"max_open_positions"`
	TakeProfitPct       *float64  `json:"take_profit_pct"`
	StopLossPct         *float64  `json:"stop_loss_pct"`
	CloseTime           *string   `json:"close_time"`
	AllowOvernight      *bool     `json:"allow_overnight"`
	ScanSymbols         *[]string `json:"scan_symbols"`
	InstrumentPriority  *[]string `json:"instrument_priority"`
	ShortProducts       *[]string `json:"short_products"`
}

// UpdatePolicy merges the patch onto the current rails, clamps the result
// and persists it.
func (m *Manager) UpdatePolicy(ctx context.Context, patch PolicyPatch) (Policy, error) {
	current, err := m.GetPolicy(ctx)
	if err != nil {
		return Policy{}, err
	}
	if patch.Enabled != nil {
		current.Enabled = *patch.Enabled
	}
	if patch.AutoExecute != nil {
		current.AutoExecute = *patch.AutoExecute
	}
	if patch.PerPositionNotional != nil {
		current.PerPositionNotional = *patch.PerPositionNotional
	}
	if patch.MaxTotalExposure != nil {
		current.MaxTotalExposure = *patch.MaxTotalExposure
	}
	if patch.MaxOpenPositions != nil {
		current.MaxOpenPositions = *patch.MaxOpenPositions
	}
	if patch.TakeProfitPct != nil {
		current.TakeProfitPct = *patch.TakeProfitPct
	}
	if patch.StopLossPct != nil {
		current.StopLossPct = *patch.StopLossPct
	}
	if patch.CloseTime != nil {
		current.CloseTime = *patch.CloseTime
	}
	if patch.AllowOvernight != nil {
		current.AllowOvernight = *patch.AllowOvernight
	}
	if patch.ScanSymbols != nil {
		current.ScanSymbols = *patch.ScanSymbols
	}
	if patch.InstrumentPriority != nil {
		current.InstrumentPriority = *patch.InstrumentPriority
	}
	if patch.ShortProducts != nil {
		current.ShortProducts = *patch.ShortProducts
	}
	policy, _ := current.Normalize()
	if err := m.kv.SetValue(ctx, policyKey, policy); err != nil {
		return Policy{}, err
	}
	logger.Infof("leveraged policy updated: per_position=%.2f exposure=%.2f slots=%d tp=%.3f sl=%.3f",
		policy.PerPositionNotional, policy.MaxTotalExposure, policy.MaxOpenPositions,
		policy.TakeProfitPct, policy.StopLossPct)
	return policy, nil
}

// openExposure sums the entry notional of every open trade.
func openExposure(open []store.LeveragedTrade) float64 {
	total := 0.0
	for _, t := range open {
		total += t.EntryNotional
	}
	return total
}

func (m *Manager) notifyText(ctx context.Context, text string) {
	if err := m.notifier.Send(ctx, text); err != nil {
		logger.Warnf("notification failed: %v", err)
	}
}

func (m *Manager) auditEntry(entry audit.Entry) {
	if m.auditLog == nil {
		return
	}
	if _, err := m.auditLog.Append(entry); err != nil {
		logger.Warnf("audit log append failed: %v", err)
	}
}
