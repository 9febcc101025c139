package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"levtrader/internal/broker"
	"levtrader/internal/config"
	"levtrader/internal/logger"
	"levtrader/internal/market"
	"levtrader/internal/store"
)

// OrderPlacer is the slice of the broker client the engine needs. The engine
// is the only component allowed to place orders.
type OrderPlacer interface {
	PlaceMarketOrder(ctx context.Context, instrumentCode string, quantity float64, extendedHours bool) (*broker.OrderResult, error)
	PlaceLimitOrder(ctx context.Context, instrumentCode string, quantity, limitPrice float64) (*broker.OrderResult, error)
	PlaceStopOrder(ctx context.Context, instrumentCode string, quantity, stopPrice float64) (*broker.OrderResult, error)
	PlaceStopLimitOrder(ctx context.Context, instrumentCode string, quantity, stopPrice, limitPrice float64) (*broker.OrderResult, error)
}

// QuoteProvider supplies the last known market price for paper fills.
type QuoteProvider interface {
	Quote(ctx context.Context, symbol string) (*market.Quote, error)
}

// Engine owns the order-intent state machine and every risk guard.
type Engine struct {
	intents store.IntentStore
	events  store.EventStore
	cash    store.SnapshotStore
	orders  OrderPlacer
	quotes  QuoteProvider
	risk    config.RiskConfig
	mode    string // "paper" | "live"
	nowFn   func() time.Time
}

func New(intents store.IntentStore, events store.EventStore, cash store.SnapshotStore,
	orders OrderPlacer, quotes QuoteProvider, risk config.RiskConfig, mode string) *Engine {
	if mode != "live" {
		mode = "paper"
	}
	return &Engine{
		intents: intents,
		events:  events,
		cash:    cash,
		orders:  orders,
		quotes:  quotes,
		risk:    risk,
		mode:    mode,
		nowFn:   time.Now,
	}
}

// ProposeRequest carries everything needed to create a new intent.
type ProposeRequest struct {
	Symbol            string
	InstrumentCode    string
	Side              store.Side
	OrderType         store.OrderType
	Quantity          float64
	LimitPrice        *float64
	StopPrice         *float64
	EstimatedNotional float64
	Confidence        float64
	RiskScore         float64
	Rationale         string
	Meta              map[string]any
}

// Propose creates an intent in the proposed state.
func (e *Engine) Propose(ctx context.Context, req ProposeRequest) (*store.TradeIntent, error) {
	if req.Symbol == "" || req.Quantity <= 0 {
		return nil, &InvalidStateError{Reason: "intent requires a symbol and a positive quantity"}
	}
	if req.InstrumentCode == "" {
		req.InstrumentCode = broker.NormalizeInstrumentCode(req.Symbol)
	}
	if req.OrderType == "" {
		req.OrderType = store.OrderMarket
	}
	intent := &store.TradeIntent{
		Status:            store.IntentProposed,
		BrokerMode:        e.mode,
		Symbol:            req.Symbol,
		InstrumentCode:    req.InstrumentCode,
		Side:              req.Side,
		OrderType:         req.OrderType,
		Quantity:          req.Quantity,
		LimitPrice:        req.LimitPrice,
		StopPrice:         req.StopPrice,
		EstimatedNotional: req.EstimatedNotional,
		Confidence:        req.Confidence,
		RiskScore:         req.RiskScore,
		Rationale:         req.Rationale,
	}
	if len(req.Meta) > 0 {
		raw, err := json.Marshal(req.Meta)
		if err != nil {
			return nil, fmt.Errorf("encoding intent meta: %w", err)
		}
		intent.Meta = raw
	}
	if err := e.intents.CreateIntent(ctx, intent); err != nil {
		return nil, err
	}
	return intent, nil
}

// Approve is a pure status transition with an optional note.
func (e *Engine) Approve(ctx context.Context, intentID, note string) (*store.TradeIntent, error) {
	intent, err := e.intents.GetIntent(ctx, intentID)
	if err != nil {
		return nil, err
	}
	if !intent.Status.CanExecute() {
		return nil, &InvalidStateError{Reason: fmt.Sprintf("intent %s cannot be approved from status %s", intentID, intent.Status)}
	}
	now := e.nowFn().UTC()
	intent.Status = store.IntentApproved
	intent.ApprovedAt = &now
	if err := e.intents.SaveIntent(ctx, intent); err != nil {
		return nil, err
	}
	e.logEvent(ctx, intent.ID, "info", "intent approved", map[string]any{"note": note})
	return intent, nil
}

// Reject abandons an intent from proposed or approved.
func (e *Engine) Reject(ctx context.Context, intentID, note string) (*store.TradeIntent, error) {
	intent, err := e.intents.GetIntent(ctx, intentID)
	if err != nil {
		return nil, err
	}
	if !intent.Status.CanExecute() {
		return nil, &InvalidStateError{Reason: fmt.Sprintf("intent %s cannot be rejected from status %s", intentID, intent.Status)}
	}
	intent.Status = store.IntentRejected
	if err := e.intents.SaveIntent(ctx, intent); err != nil {
		return nil, err
	}
	e.logEvent(ctx, intent.ID, "warn", "intent rejected", map[string]any{"note": note})
	return intent, nil
}

// Execute runs the risk guards and, if they pass, places the order in paper
// or live mode. Guard failures never reach the broker and leave the intent in
// its prior status; broker failures after the executing transition always
// land in a terminal failed state.
func (e *Engine) Execute(ctx context.Context, intentID string, forceLive bool) (*store.TradeIntent, error) {
	intent, err := e.intents.GetIntent(ctx, intentID)
	if err != nil {
		return nil, err
	}
	if !intent.Status.CanExecute() {
		return nil, &InvalidStateError{Reason: fmt.Sprintf("intent %s cannot be executed from status %s", intentID, intent.Status)}
	}

	if err := e.runGuards(ctx, intent); err != nil {
		e.logEvent(ctx, intent.ID, "warn", "risk guard blocked execution", map[string]any{"error": err.Error()})
		return nil, err
	}

	mode := e.mode
	if forceLive {
		mode = "live"
	}
	intent.BrokerMode = mode
	intent.Status = store.IntentExecuting
	if err := e.intents.SaveIntent(ctx, intent); err != nil {
		return nil, err
	}

	if mode == "paper" {
		return e.executePaper(ctx, intent)
	}
	return e.executeLive(ctx, intent)
}

func (e *Engine) runGuards(ctx context.Context, intent *store.TradeIntent) error {
	window := time.Duration(e.risk.DuplicateWindowSeconds) * time.Second
	dup, err := e.intents.FindDuplicateIntent(ctx, intent, window)
	if err != nil {
		return err
	}
	if dup {
		return &RiskGuardError{Reason: "duplicate-order-guard: similar order already exists in recent window"}
	}

	if intent.EstimatedNotional > e.risk.MaxSingleOrderNotional {
		return &RiskGuardError{Reason: "risk-guard: order exceeds max single-order notional"}
	}

	dayStart := e.nowFn().UTC().Truncate(24 * time.Hour)
	executedToday, err := e.intents.DailyExecutedNotional(ctx, dayStart)
	if err != nil {
		return err
	}
	if executedToday+intent.EstimatedNotional > e.risk.MaxDailyNotional {
		return &RiskGuardError{Reason: "risk-guard: order exceeds max daily notional"}
	}

	if intent.Side == store.SideBuy {
		cash, err := e.cash.LatestFreeCash(ctx)
		if err != nil {
			return err
		}
		if intent.EstimatedNotional > cash {
			return &RiskGuardError{Reason: "risk-guard: insufficient available cash"}
		}
	}
	return nil
}

func (e *Engine) executePaper(ctx context.Context, intent *store.TradeIntent) (*store.TradeIntent, error) {
	fillPrice := 0.0
	if quote, err := e.quotes.Quote(ctx, intent.Symbol); err == nil {
		fillPrice = quote.Price
	} else {
		logger.Warnf("paper fill price lookup failed for %s: %v", intent.Symbol, err)
	}
	now := e.nowFn().UTC()
	intent.Status = store.IntentExecuted
	intent.ExecutedAt = &now
	intent.ExecutionPrice = &fillPrice
	intent.BrokerOrderID = "paper-" + shortID(intent.ID)
	if err := e.intents.SaveIntent(ctx, intent); err != nil {
		return nil, err
	}
	e.logEvent(ctx, intent.ID, "info", "paper execution completed", map[string]any{
		"fill_price":         fillPrice,
		"estimated_notional": intent.EstimatedNotional,
	})
	return intent, nil
}

func (e *Engine) executeLive(ctx context.Context, intent *store.TradeIntent) (*store.TradeIntent, error) {
	signedQty := intent.Quantity
	if intent.Side == store.SideSell {
		signedQty = -abs(intent.Quantity)
	}

	var result *broker.OrderResult
	var err error
	switch {
	case intent.OrderType == store.OrderLimit && intent.LimitPrice != nil:
		result, err = e.orders.PlaceLimitOrder(ctx, intent.InstrumentCode, signedQty, *intent.LimitPrice)
	case intent.OrderType == store.OrderStop && intent.StopPrice != nil:
		result, err = e.orders.PlaceStopOrder(ctx, intent.InstrumentCode, signedQty, *intent.StopPrice)
	case intent.OrderType == store.OrderStopLimit && intent.StopPrice != nil && intent.LimitPrice != nil:
		result, err = e.orders.PlaceStopLimitOrder(ctx, intent.InstrumentCode, signedQty, *intent.StopPrice, *intent.LimitPrice)
	default:
		result, err = e.orders.PlaceMarketOrder(ctx, intent.InstrumentCode, signedQty, false)
	}
	if err != nil {
		return nil, e.failIntent(ctx, intent, err)
	}

	now := e.nowFn().UTC()
	intent.Status = store.IntentExecuted
	intent.ExecutedAt = &now
	intent.BrokerOrderID = result.OrderID
	if intent.BrokerOrderID == "" {
		intent.BrokerOrderID = "live-" + shortID(intent.ID)
	}
	if intent.ExecutionPrice == nil {
		price := result.Price
		intent.ExecutionPrice = &price
	}
	if err := e.intents.SaveIntent(ctx, intent); err != nil {
		return nil, err
	}
	e.logEvent(ctx, intent.ID, "info", "live execution accepted", map[string]any{
		"broker_order_id": intent.BrokerOrderID,
	})
	return intent, nil
}

// failIntent records a terminal failure and returns the original error.
func (e *Engine) failIntent(ctx context.Context, intent *store.TradeIntent, cause error) error {
	intent.Status = store.IntentFailed
	intent.FailureReason = cause.Error()
	if err := e.intents.SaveIntent(ctx, intent); err != nil {
		logger.Errorf("persisting failed intent %s: %v", intent.ID, err)
	}
	e.logEvent(ctx, intent.ID, "error", "execution failed", map[string]any{"error": cause.Error()})
	return cause
}

func (e *Engine) logEvent(ctx context.Context, intentID, level, message string, payload map[string]any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		raw = []byte("{}")
	}
	event := &store.ExecutionEvent{
		IntentID: intentID,
		Level:    level,
		Message:  message,
		Payload:  raw,
	}
	if err := e.events.AppendEvent(ctx, event); err != nil {
		logger.Errorf("appending execution event for %s: %v", intentID, err)
	}
}

// ListIntents returns the most recent intents.
func (e *Engine) ListIntents(ctx context.Context, limit int) ([]store.TradeIntent, error) {
	return e.intents.ListIntents(ctx, limit)
}

// ListEvents returns the most recent audit events.
func (e *Engine) ListEvents(ctx context.Context, limit int) ([]store.ExecutionEvent, error) {
	return e.events.ListEvents(ctx, limit)
}

// IsRiskGuard reports whether err came from a risk guard.
func IsRiskGuard(err error) bool {
	var guard *RiskGuardError
	return errors.As(err, &guard)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
