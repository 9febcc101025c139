package leverage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"levtrader/internal/broker"
	"levtrader/internal/logger"
	"levtrader/internal/store"
)

// ScanReport is the outcome of one scan pass. Skipped maps each passed-over
// symbol to the reason; a capacity stop sets Reason and leaves Signals empty.
type ScanReport struct {
	GeneratedAt      time.Time               `json:"generated_at"`
	Reason           string                  `json:"reason,omitempty"`
	SlotsAvailable   int                     `json:"slots_available"`
	CapacityLeft     float64                 `json:"capacity_left"`
	Skipped          map[string]string       `json:"skipped,omitempty"`
	Signals          []store.LeveragedSignal `json:"signals"`
	ExecutedTradeIDs []string                `json:"executed_trade_ids,omitempty"`
	ExecutionErrors  map[string]string       `json:"execution_errors,omitempty"`
}

// Scan walks the configured universe, creates a proposed signal for each
// matched setup within capacity, and hands signals to ExecuteSignal when the
// policy has auto-execute turned on. Per-symbol data failures are recorded
// and skipped, never fatal.
func (m *Manager) Scan(ctx context.Context, sourceTaskID string) (*ScanReport, error) {
	report := &ScanReport{
		GeneratedAt: m.nowFn().UTC(),
		Skipped:     map[string]string{},
		Signals:     []store.LeveragedSignal{},
	}

	policy, err := m.GetPolicy(ctx)
	if err != nil {
		return nil, err
	}
	if !policy.Enabled {
		report.Reason = "strategy disabled by policy"
		return report, nil
	}

	open, err := m.trades.ListOpenTrades(ctx)
	if err != nil {
		return nil, err
	}
	slots := policy.MaxOpenPositions - len(open)
	capacityLeft := policy.MaxTotalExposure - openExposure(open)
	report.SlotsAvailable = slots
	report.CapacityLeft = capacityLeft
	if slots <= 0 {
		report.Reason = "no open-position slots available"
		return report, nil
	}
	if capacityLeft < 10 {
		report.Reason = "exposure headroom exhausted"
		return report, nil
	}

	held := make(map[string]struct{}, len(open))
	for _, t := range open {
		held[t.Symbol] = struct{}{}
	}

	for _, symbol := range policy.Universe() {
		if slots <= 0 {
			break
		}
		if _, ok := held[symbol]; ok {
			report.Skipped[symbol] = "position already open"
			continue
		}
		snap, err := m.market.Technicals(ctx, symbol)
		if err != nil {
			report.Skipped[symbol] = fmt.Sprintf("data unavailable: %v", err)
			logger.Warnf("scan: technicals for %s failed: %v", symbol, err)
			continue
		}
		matched, ok := evalSetup(snap, policy.IsShortProduct(symbol))
		if !ok {
			report.Skipped[symbol] = "no setup"
			continue
		}
		target := policy.PerPositionNotional
		if capacityLeft < target {
			target = capacityLeft
		}
		if target < 10 {
			report.Reason = "exposure headroom exhausted"
			break
		}

		signal := &store.LeveragedSignal{
			Status:         store.SignalProposed,
			Symbol:         symbol,
			InstrumentCode: broker.NormalizeInstrumentCode(symbol),
			Direction:      matched.Direction,
			EntrySide:      store.SideBuy,
			TargetNotional: target,
			ReferencePrice: snap.Price,
			StopLossPct:    policy.StopLossPct,
			TakeProfitPct:  policy.TakeProfitPct,
			Confidence:     matched.Confidence,
			ExpectedEdge:   matched.ExpectedEdge,
			Rationale:      matched.Rationale,
			StrategyTag:    "leveraged-momentum",
			SourceTaskID:   sourceTaskID,
		}
		if raw, err := json.Marshal(map[string]any{
			"rsi14": snap.RSI14, "sma20": snap.SMA20, "sma50": snap.SMA50,
			"macd": snap.MACD, "macd_signal": snap.MACDSignal, "trend": snap.Trend,
		}); err == nil {
			signal.Meta = raw
		}
		if err := m.signals.CreateSignal(ctx, signal); err != nil {
			return nil, err
		}
		report.Signals = append(report.Signals, *signal)
		slots--
		capacityLeft -= target
	}

	if policy.AutoExecute {
		for _, signal := range report.Signals {
			trade, err := m.ExecuteSignal(ctx, signal.ID, "auto-scan")
			if err != nil {
				if report.ExecutionErrors == nil {
					report.ExecutionErrors = map[string]string{}
				}
				report.ExecutionErrors[signal.ID] = err.Error()
				logger.Warnf("scan: auto-execute of signal %s failed: %v", signal.ID, err)
				continue
			}
			report.ExecutedTradeIDs = append(report.ExecutedTradeIDs, trade.ID)
		}
	}
	return report, nil
}
