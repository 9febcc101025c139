package market

import (
	"context"
	"time"
)

// Candle is one daily OHLCV bar.
type Candle struct {
	Time   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// Source supplies raw price history. Implementations are external
// collaborators; the Service owns caching on top of them.
type Source interface {
	History(ctx context.Context, symbol string, lookbackDays int) ([]Candle, error)
}

// Trend is the coarse direction derived from the moving-average stack.
type Trend string

const (
	TrendUp    Trend = "uptrend"
	TrendDown  Trend = "downtrend"
	TrendMixed Trend = "mixed"
)

// Quote is the latest price with its change versus the previous close.
type Quote struct {
	Symbol    string
	Price     float64
	ChangePct float64
	Timestamp time.Time
}

// Snapshot is the technical picture of one symbol. Indicator fields are zero
// when the history is too short to compute them.
type Snapshot struct {
	Symbol     string
	Price      float64
	RSI14      float64
	SMA20      float64
	SMA50      float64
	SMA200     float64
	MACD       float64
	MACDSignal float64
	Trend      Trend
	Timestamp  time.Time
}
