package leverage

import (
	"context"
	"time"

	"levtrader/internal/store"
)

// SnapshotSummary aggregates position economics for the admin surface.
type SnapshotSummary struct {
	OpenPositions int     `json:"open_positions"`
	OpenExposure  float64 `json:"open_exposure"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
	RealizedPnL   float64 `json:"realized_pnl"`
	ClosedTrades  int     `json:"closed_trades"`
	WinningTrades int     `json:"winning_trades"`
	WinRate       float64 `json:"win_rate"`
}

// SnapshotReport is the single-call strategy overview.
type SnapshotReport struct {
	GeneratedAt   time.Time               `json:"generated_at"`
	Policy        Policy                  `json:"policy"`
	Summary       SnapshotSummary         `json:"summary"`
	OpenTrades    []store.LeveragedTrade  `json:"open_trades"`
	RecentClosed  []store.LeveragedTrade  `json:"recent_closed"`
	RecentSignals []store.LeveragedSignal `json:"recent_signals"`
}

// Snapshot assembles policy, aggregates and recent activity. Quote failures
// leave a position's unrealized contribution at zero rather than failing the
// whole report.
func (m *Manager) Snapshot(ctx context.Context) (*SnapshotReport, error) {
	policy, err := m.GetPolicy(ctx)
	if err != nil {
		return nil, err
	}
	open, err := m.trades.ListOpenTrades(ctx)
	if err != nil {
		return nil, err
	}
	closed, err := m.trades.ListClosedTrades(ctx, 20)
	if err != nil {
		return nil, err
	}
	signals, err := m.signals.ListSignals(ctx, 20)
	if err != nil {
		return nil, err
	}

	summary := SnapshotSummary{
		OpenPositions: len(open),
		OpenExposure:  openExposure(open),
		ClosedTrades:  len(closed),
	}
	for _, trade := range open {
		quote, err := m.market.Quote(ctx, trade.Symbol)
		if err != nil || quote.Price <= 0 {
			continue
		}
		summary.UnrealizedPnL += (quote.Price - trade.EntryPrice) * trade.Quantity
	}
	for _, trade := range closed {
		if trade.PnLValue == nil {
			continue
		}
		summary.RealizedPnL += *trade.PnLValue
		if *trade.PnLValue > 0 {
			summary.WinningTrades++
		}
	}
	if summary.ClosedTrades > 0 {
		summary.WinRate = float64(summary.WinningTrades) / float64(summary.ClosedTrades)
	}

	return &SnapshotReport{
		GeneratedAt:   m.nowFn().UTC(),
		Policy:        policy,
		Summary:       summary,
		OpenTrades:    open,
		RecentClosed:  closed,
		RecentSignals: signals,
	}, nil
}
