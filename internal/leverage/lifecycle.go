package leverage

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"levtrader/internal/audit"
	"levtrader/internal/engine"
	"levtrader/internal/logger"
	"levtrader/internal/store"
)

// ExecuteSignal turns a proposed signal into an open position. The entry
// order goes through the execution engine so every risk guard applies; an
// execution failure marks the signal failed and creates no trade row.
func (m *Manager) ExecuteSignal(ctx context.Context, signalID, source string) (*store.LeveragedTrade, error) {
	signal, err := m.signals.GetSignal(ctx, signalID)
	if err != nil {
		return nil, err
	}
	if !signal.Status.CanExecute() {
		return nil, &InvalidStateError{Reason: fmt.Sprintf("signal %s cannot be executed from status %s", signalID, signal.Status)}
	}

	policy, err := m.GetPolicy(ctx)
	if err != nil {
		return nil, err
	}
	if !policy.Enabled {
		return nil, &CapacityError{Reason: "strategy disabled by policy"}
	}
	open, err := m.trades.ListOpenTrades(ctx)
	if err != nil {
		return nil, err
	}
	if len(open) >= policy.MaxOpenPositions {
		return nil, &CapacityError{Reason: "max open positions reached"}
	}
	// The stored target may predate a tighter policy; the current
	// per-position limit always wins.
	target := signal.TargetNotional
	if target > policy.PerPositionNotional {
		target = policy.PerPositionNotional
	}
	if openExposure(open)+target > policy.MaxTotalExposure {
		return nil, &CapacityError{Reason: "entry would exceed max total exposure"}
	}

	quote, err := m.market.Quote(ctx, signal.Symbol)
	if err != nil {
		return nil, fmt.Errorf("live price for %s: %w", signal.Symbol, err)
	}
	if quote.Price <= 0 {
		return nil, fmt.Errorf("no usable price for %s", signal.Symbol)
	}
	qty := decimal.NewFromFloat(target).
		Div(decimal.NewFromFloat(quote.Price)).
		Round(6)
	if !qty.IsPositive() {
		return nil, fmt.Errorf("computed quantity for %s is not positive", signal.Symbol)
	}
	quantity, _ := qty.Float64()
	notional, _ := qty.Mul(decimal.NewFromFloat(quote.Price)).Float64()

	intent, err := m.engine.Propose(ctx, engine.ProposeRequest{
		Symbol:            signal.Symbol,
		Side:              store.SideBuy,
		OrderType:         store.OrderMarket,
		Quantity:          quantity,
		EstimatedNotional: notional,
		Confidence:        signal.Confidence,
		RiskScore:         1 - signal.Confidence,
		Rationale:         signal.Rationale,
		Meta:              map[string]any{"signal_id": signal.ID, "source": source},
	})
	if err != nil {
		return nil, err
	}

	executed, err := m.engine.Execute(ctx, intent.ID, false)
	if err != nil {
		signal.Status = store.SignalFailed
		signal.LinkedIntentID = intent.ID
		if saveErr := m.signals.SaveSignal(ctx, signal); saveErr != nil {
			logger.Errorf("marking signal %s failed: %v", signal.ID, saveErr)
		}
		return nil, err
	}

	entryPrice := quote.Price
	if executed.ExecutionPrice != nil && *executed.ExecutionPrice > 0 {
		entryPrice = *executed.ExecutionPrice
	}
	entryNotional, _ := qty.Mul(decimal.NewFromFloat(entryPrice)).Float64()

	trade := &store.LeveragedTrade{
		SignalID:       signal.ID,
		Status:         store.TradeOpen,
		Symbol:         signal.Symbol,
		InstrumentCode: executed.InstrumentCode,
		Direction:      signal.Direction,
		Quantity:       quantity,
		EntryPrice:     entryPrice,
		EntryNotional:  entryNotional,
		EnteredAt:      m.nowFn().UTC(),
		StopLossPct:    signal.StopLossPct,
		TakeProfitPct:  signal.TakeProfitPct,
		EntryIntentID:  executed.ID,
	}
	if err := m.trades.CreateTrade(ctx, trade); err != nil {
		return nil, err
	}

	signal.Status = store.SignalExecuted
	signal.LinkedIntentID = executed.ID
	signal.LinkedTradeID = trade.ID
	if err := m.signals.SaveSignal(ctx, signal); err != nil {
		logger.Errorf("linking signal %s to trade %s: %v", signal.ID, trade.ID, err)
	}

	m.auditEntry(audit.Entry{
		Action:    "entry",
		Symbol:    trade.Symbol,
		Direction: string(trade.Direction),
		Quantity:  trade.Quantity,
		Price:     trade.EntryPrice,
		Notional:  trade.EntryNotional,
		Reason:    source,
		Meta:      map[string]any{"signal_id": signal.ID, "intent_id": executed.ID},
	})
	m.notifyText(ctx, fmt.Sprintf("*Opened* %s %s qty %.6f @ %.4f (%.2f notional)",
		trade.Symbol, trade.Direction, trade.Quantity, trade.EntryPrice, trade.EntryNotional))
	return trade, nil
}

// CloseTrade exits the full position through a sell intent. A broker failure
// propagates and leaves the trade open; a closed trade is never touched.
func (m *Manager) CloseTrade(ctx context.Context, tradeID, reason string) (*store.LeveragedTrade, error) {
	trade, err := m.trades.GetTrade(ctx, tradeID)
	if err != nil {
		return nil, err
	}
	if trade.Status != store.TradeOpen {
		return nil, &InvalidStateError{Reason: fmt.Sprintf("trade %s is not open", tradeID)}
	}

	markPrice := trade.EntryPrice
	if quote, err := m.market.Quote(ctx, trade.Symbol); err == nil && quote.Price > 0 {
		markPrice = quote.Price
	}

	intent, err := m.engine.Propose(ctx, engine.ProposeRequest{
		Symbol:            trade.Symbol,
		InstrumentCode:    trade.InstrumentCode,
		Side:              store.SideSell,
		OrderType:         store.OrderMarket,
		Quantity:          trade.Quantity,
		EstimatedNotional: trade.Quantity * markPrice,
		Rationale:         "close: " + reason,
		Meta:              map[string]any{"trade_id": trade.ID, "reason": reason},
	})
	if err != nil {
		return nil, err
	}
	executed, err := m.engine.Execute(ctx, intent.ID, false)
	if err != nil {
		return nil, err
	}

	exitPrice := markPrice
	if executed.ExecutionPrice != nil && *executed.ExecutionPrice > 0 {
		exitPrice = *executed.ExecutionPrice
	}
	qty := decimal.NewFromFloat(trade.Quantity)
	exitDec := decimal.NewFromFloat(exitPrice)
	entryDec := decimal.NewFromFloat(trade.EntryPrice)
	exitNotional, _ := qty.Mul(exitDec).Float64()
	pnlValue, _ := exitDec.Sub(entryDec).Mul(qty).Float64()
	pnlPct := 0.0
	if trade.EntryPrice > 0 {
		pnlPct, _ = exitDec.Div(entryDec).Sub(decimal.NewFromInt(1)).Float64()
	}

	now := m.nowFn().UTC()
	trade.Status = store.TradeClosed
	trade.ExitIntentID = executed.ID
	trade.ExitPrice = &exitPrice
	trade.ExitNotional = &exitNotional
	trade.ExitedAt = &now
	trade.CloseReason = reason
	trade.PnLValue = &pnlValue
	trade.PnLPct = &pnlPct
	if err := m.trades.SaveTrade(ctx, trade); err != nil {
		return nil, err
	}

	m.auditEntry(audit.Entry{
		Action:    "close",
		Symbol:    trade.Symbol,
		Direction: string(trade.Direction),
		Quantity:  trade.Quantity,
		Price:     exitPrice,
		Notional:  exitNotional,
		PnLValue:  &pnlValue,
		PnLPct:    &pnlPct,
		Reason:    reason,
		Meta:      map[string]any{"trade_id": trade.ID, "intent_id": executed.ID},
	})
	m.notifyText(ctx, fmt.Sprintf("*Closed* %s (%s) @ %.4f, P&L %.2f (%.2f%%)",
		trade.Symbol, reason, exitPrice, pnlValue, pnlPct*100))
	return trade, nil
}

// PositionStatus is one open trade's line in a monitor report.
type PositionStatus struct {
	TradeID      string  `json:"trade_id"`
	Symbol       string  `json:"symbol"`
	Direction    string  `json:"direction"`
	EntryPrice   float64 `json:"entry_price"`
	CurrentPrice float64 `json:"current_price"`
	ReturnPct    float64 `json:"return_pct"`
	CloseReason  string  `json:"close_reason,omitempty"`
	Closed       bool    `json:"closed"`
	Note         string  `json:"note,omitempty"`
}

// MonitorReport lists every open trade checked, whether or not it was closed.
type MonitorReport struct {
	CheckedAt time.Time        `json:"checked_at"`
	Positions []PositionStatus `json:"positions"`
}

// MonitorOpenTrades checks each open position against the exit rules. Exactly
// one close reason applies per pass: take-profit wins over stop-loss, which
// wins over the time stop. A price failure marks the trade at its entry price,
// so take-profit and stop-loss stay silent but the time stop still closes; a
// close failure leaves the trade open for the next pass.
func (m *Manager) MonitorOpenTrades(ctx context.Context) (*MonitorReport, error) {
	report := &MonitorReport{CheckedAt: m.nowFn().UTC(), Positions: []PositionStatus{}}

	policy, err := m.GetPolicy(ctx)
	if err != nil {
		return nil, err
	}
	open, err := m.trades.ListOpenTrades(ctx)
	if err != nil {
		return nil, err
	}
	pastClose := m.pastCloseTime(policy.CloseTime)

	for _, trade := range open {
		pos := PositionStatus{
			TradeID:    trade.ID,
			Symbol:     trade.Symbol,
			Direction:  string(trade.Direction),
			EntryPrice: trade.EntryPrice,
		}
		price := trade.EntryPrice
		if quote, err := m.market.Quote(ctx, trade.Symbol); err == nil && quote.Price > 0 {
			price = quote.Price
		} else {
			pos.Note = "price unavailable, marking at entry"
		}
		pos.CurrentPrice = price
		if trade.EntryPrice > 0 {
			pos.ReturnPct = price/trade.EntryPrice - 1
		}

		reason := ""
		switch {
		case pos.ReturnPct >= trade.TakeProfitPct:
			reason = "take-profit"
		case pos.ReturnPct <= -trade.StopLossPct:
			reason = "stop-loss"
		case pastClose && !policy.AllowOvernight:
			reason = "time-stop"
		}
		if reason != "" {
			pos.CloseReason = reason
			if _, err := m.CloseTrade(ctx, trade.ID, reason); err != nil {
				pos.Note = fmt.Sprintf("close failed: %v", err)
				logger.Warnf("monitor: closing trade %s (%s): %v", trade.ID, reason, err)
			} else {
				pos.Closed = true
			}
		}
		report.Positions = append(report.Positions, pos)
	}
	return report, nil
}

// CycleReport is the combined output of one monitor-then-scan pass.
type CycleReport struct {
	Monitor *MonitorReport `json:"monitor"`
	Scan    *ScanReport    `json:"scan"`
}

// RunCycle runs the monitor first so freed slots are available to the scan
// that follows.
func (m *Manager) RunCycle(ctx context.Context, sourceTaskID string) (*CycleReport, error) {
	monitor, err := m.MonitorOpenTrades(ctx)
	if err != nil {
		return nil, err
	}
	scan, err := m.Scan(ctx, sourceTaskID)
	if err != nil {
		return nil, err
	}
	return &CycleReport{Monitor: monitor, Scan: scan}, nil
}

// pastCloseTime reports whether the local wall clock has reached the policy
// close time ("HH:MM").
func (m *Manager) pastCloseTime(closeTime string) bool {
	parts := strings.SplitN(closeTime, ":", 2)
	if len(parts) != 2 {
		return false
	}
	hour, err1 := strconv.Atoi(parts[0])
	minute, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil {
		return false
	}
	now := m.nowFn().In(m.loc)
	return now.Hour()*60+now.Minute() >= hour*60+minute
}
