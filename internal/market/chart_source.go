package market

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"levtrader/internal/config"
)

const defaultChartBaseURL = "https://query1.finance.yahoo.com"

// ChartSource fetches daily history from a Yahoo-style chart endpoint. The
// symbol map translates brokerage codes onto vendor tickers; leveraged LSE
// products not in the map fall back to the ".L" heuristic.
type ChartSource struct {
	baseURL    string
	httpClient *http.Client
	symbolMap  map[string]string
}

func NewChartSource(cfg config.MarketConfig) *ChartSource {
	base := strings.TrimSpace(cfg.BaseURL)
	if base == "" {
		base = defaultChartBaseURL
	}
	mapping := make(map[string]string, len(cfg.SymbolMap))
	for k, v := range cfg.SymbolMap {
		mapping[strings.ToUpper(strings.TrimSpace(k))] = strings.TrimSpace(v)
	}
	return &ChartSource{
		baseURL:    strings.TrimRight(base, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
		symbolMap:  mapping,
	}
}

// SetHTTPClient swaps the HTTP client; used by tests.
func (s *ChartSource) SetHTTPClient(client *http.Client) { s.httpClient = client }

// VendorTicker resolves the external quote ticker for a symbol or
// brokerage instrument code.
func (s *ChartSource) VendorTicker(symbol string) string {
	raw := normalizeSymbol(symbol)
	if mapped, ok := s.symbolMap[raw]; ok && mapped != "" {
		return mapped
	}
	// Many leveraged LSE products are short alphanumeric codes starting
	// with a digit.
	if raw != "" && raw[0] >= '0' && raw[0] <= '9' && !strings.Contains(raw, ".") {
		return raw + ".L"
	}
	return raw
}

func (s *ChartSource) History(ctx context.Context, symbol string, lookbackDays int) ([]Candle, error) {
	if strings.TrimSpace(symbol) == "" {
		return nil, fmt.Errorf("symbol is required")
	}
	if lookbackDays <= 0 {
		lookbackDays = 180
	}
	ticker := s.VendorTicker(symbol)
	url := fmt.Sprintf("%s/v8/finance/chart/%s?range=%s&interval=1d", s.baseURL, ticker, chartRange(lookbackDays))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "levtrader/1.0")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("chart request failed for %s: %w", ticker, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("chart endpoint returned %d for %s", resp.StatusCode, ticker)
	}
	return parseChartPayload(symbol, ticker, body)
}

func parseChartPayload(symbol, ticker string, body []byte) ([]Candle, error) {
	if msg := gjson.GetBytes(body, "chart.error.description"); msg.Exists() && msg.String() != "" {
		return nil, fmt.Errorf("chart error for %s: %s", ticker, msg.String())
	}
	result := gjson.GetBytes(body, "chart.result.0")
	if !result.Exists() {
		return nil, fmt.Errorf("no chart result for %s (%s)", symbol, ticker)
	}
	timestamps := result.Get("timestamp").Array()
	quote := result.Get("indicators.quote.0")
	opens := quote.Get("open").Array()
	highs := quote.Get("high").Array()
	lows := quote.Get("low").Array()
	closes := quote.Get("close").Array()
	volumes := quote.Get("volume").Array()

	candles := make([]Candle, 0, len(timestamps))
	for i, ts := range timestamps {
		if i >= len(closes) || closes[i].Type == gjson.Null {
			continue
		}
		candle := Candle{
			Time:  time.Unix(ts.Int(), 0).UTC(),
			Close: closes[i].Float(),
		}
		if i < len(opens) {
			candle.Open = opens[i].Float()
		}
		if i < len(highs) {
			candle.High = highs[i].Float()
		}
		if i < len(lows) {
			candle.Low = lows[i].Float()
		}
		if i < len(volumes) {
			candle.Volume = volumes[i].Float()
		}
		candles = append(candles, candle)
	}
	if len(candles) == 0 {
		return nil, fmt.Errorf("no valid candles for %s (%s)", symbol, ticker)
	}
	return candles, nil
}

func chartRange(lookbackDays int) string {
	switch {
	case lookbackDays <= 7:
		return "5d"
	case lookbackDays <= 31:
		return "1mo"
	case lookbackDays <= 93:
		return "3mo"
	case lookbackDays <= 186:
		return "6mo"
	default:
		return "1y"
	}
}

// normalizeSymbol upper-cases and strips brokerage code suffixes so cache
// keys and vendor lookups agree.
func normalizeSymbol(symbol string) string {
	raw := strings.ToUpper(strings.TrimSpace(symbol))
	raw = strings.TrimSuffix(raw, "_EQ")
	if idx := strings.Index(raw, "_"); idx > 0 {
		raw = raw[:idx]
	}
	return raw
}
