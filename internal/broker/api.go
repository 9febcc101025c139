package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
)

// AccountSummary is the subset of the account endpoint the engine needs.
type AccountSummary struct {
	FreeCash   float64
	TotalValue float64
	Currency   string
	Rate       RateInfo
}

// GetAccountSummary fetches balances; field names vary across API revisions
// so the payload is probed rather than strictly decoded.
func (c *Client) GetAccountSummary(ctx context.Context) (*AccountSummary, error) {
	raw, info, err := c.Do(ctx, http.MethodGet, "/equity/account/summary", "summary", nil, nil)
	if err != nil {
		return nil, err
	}
	summary := &AccountSummary{Rate: info}
	for _, path := range []string{"cash.free", "free", "freeCash"} {
		if v := gjson.GetBytes(raw, path); v.Exists() {
			summary.FreeCash = v.Float()
			break
		}
	}
	for _, path := range []string{"cash.total", "total", "totalValue"} {
		if v := gjson.GetBytes(raw, path); v.Exists() {
			summary.TotalValue = v.Float()
			break
		}
	}
	if v := gjson.GetBytes(raw, "currencyCode"); v.Exists() {
		summary.Currency = v.String()
	}
	return summary, nil
}

// Position is one open brokerage position.
type Position struct {
	Ticker       string  `json:"ticker"`
	Quantity     float64 `json:"quantity"`
	AveragePrice float64 `json:"averagePrice"`
	CurrentPrice float64 `json:"currentPrice"`
}

func (c *Client) GetPositions(ctx context.Context) ([]Position, error) {
	raw, _, err := c.Do(ctx, http.MethodGet, "/equity/positions", "positions", nil, nil)
	if err != nil {
		return nil, err
	}
	var out []Position
	if err := decodeList(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// PendingOrder is one order awaiting a fill.
type PendingOrder struct {
	ID       json.Number `json:"id"`
	Ticker   string      `json:"ticker"`
	Quantity float64     `json:"quantity"`
	Type     string      `json:"type"`
	Status   string      `json:"status"`
}

func (c *Client) GetPendingOrders(ctx context.Context) ([]PendingOrder, error) {
	raw, _, err := c.Do(ctx, http.MethodGet, "/equity/orders", "orders", nil, nil)
	if err != nil {
		return nil, err
	}
	var out []PendingOrder
	if err := decodeList(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Instrument is exchange-listed instrument metadata.
type Instrument struct {
	Ticker       string `json:"ticker"`
	Name         string `json:"name"`
	Type         string `json:"type"`
	CurrencyCode string `json:"currencyCode"`
	ISIN         string `json:"isin"`
}

func (c *Client) GetInstruments(ctx context.Context) ([]Instrument, error) {
	raw, _, err := c.Do(ctx, http.MethodGet, "/equity/metadata/instruments", "instruments", nil, nil)
	if err != nil {
		return nil, err
	}
	var out []Instrument
	if err := decodeList(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Exchange is market venue metadata.
type Exchange struct {
	ID   json.Number `json:"id"`
	Name string      `json:"name"`
}

func (c *Client) GetExchanges(ctx context.Context) ([]Exchange, error) {
	raw, _, err := c.Do(ctx, http.MethodGet, "/equity/metadata/exchanges", "exchanges", nil, nil)
	if err != nil {
		return nil, err
	}
	var out []Exchange
	if err := decodeList(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// OrderResult is the normalized outcome of an order placement call.
type OrderResult struct {
	OrderID string
	Price   float64
	Raw     json.RawMessage
}

func orderResultFrom(raw []byte) *OrderResult {
	result := &OrderResult{Raw: append(json.RawMessage(nil), raw...)}
	for _, path := range []string{"id", "orderId", "order.id"} {
		if v := gjson.GetBytes(raw, path); v.Exists() && v.String() != "" {
			result.OrderID = v.String()
			break
		}
	}
	if v := gjson.GetBytes(raw, "price"); v.Exists() {
		result.Price = v.Float()
	}
	return result
}

// PlaceMarketOrder submits a market order. Sells are expressed by a negative
// quantity, matching the brokerage convention.
func (c *Client) PlaceMarketOrder(ctx context.Context, instrumentCode string, quantity float64, extendedHours bool) (*OrderResult, error) {
	payload := map[string]any{
		"ticker":        instrumentCode,
		"quantity":      quantity,
		"extendedHours": extendedHours,
	}
	raw, _, err := c.Do(ctx, http.MethodPost, "/equity/orders/market", "place_order", nil, payload)
	if err != nil {
		return nil, err
	}
	return orderResultFrom(raw), nil
}

func (c *Client) PlaceLimitOrder(ctx context.Context, instrumentCode string, quantity, limitPrice float64) (*OrderResult, error) {
	payload := map[string]any{
		"ticker":     instrumentCode,
		"quantity":   quantity,
		"limitPrice": limitPrice,
	}
	raw, _, err := c.Do(ctx, http.MethodPost, "/equity/orders/limit", "place_order", nil, payload)
	if err != nil {
		return nil, err
	}
	return orderResultFrom(raw), nil
}

func (c *Client) PlaceStopOrder(ctx context.Context, instrumentCode string, quantity, stopPrice float64) (*OrderResult, error) {
	payload := map[string]any{
		"ticker":    instrumentCode,
		"quantity":  quantity,
		"stopPrice": stopPrice,
	}
	raw, _, err := c.Do(ctx, http.MethodPost, "/equity/orders/stop", "place_order", nil, payload)
	if err != nil {
		return nil, err
	}
	return orderResultFrom(raw), nil
}

func (c *Client) PlaceStopLimitOrder(ctx context.Context, instrumentCode string, quantity, stopPrice, limitPrice float64) (*OrderResult, error) {
	payload := map[string]any{
		"ticker":     instrumentCode,
		"quantity":   quantity,
		"stopPrice":  stopPrice,
		"limitPrice": limitPrice,
	}
	raw, _, err := c.Do(ctx, http.MethodPost, "/equity/orders/stop_limit", "place_order", nil, payload)
	if err != nil {
		return nil, err
	}
	return orderResultFrom(raw), nil
}

func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	path := fmt.Sprintf("/equity/orders/%s", orderID)
	_, _, err := c.Do(ctx, http.MethodDelete, path, "cancel_order", nil, nil)
	return err
}

// decodeList accepts either a bare JSON array or an {"items": [...]} envelope.
func decodeList(raw []byte, out any) error {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, out); err == nil {
		return nil
	}
	items := gjson.GetBytes(raw, "items")
	if !items.Exists() {
		return fmt.Errorf("unexpected broker list payload")
	}
	return json.Unmarshal([]byte(items.Raw), out)
}

// NormalizeInstrumentCode maps a bare symbol onto the brokerage instrument
// code convention; already-coded values pass through.
func NormalizeInstrumentCode(symbol string) string {
	value := strings.ToUpper(strings.TrimSpace(symbol))
	if strings.Contains(value, "_") {
		return value
	}
	return value + "_US_EQ"
}
