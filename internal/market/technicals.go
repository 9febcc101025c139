package market

import (
	"math"

	talib "github.com/markcheno/go-talib"
)

// computeSnapshot derives the technical snapshot from daily candles using
// talib. Indicators whose window exceeds the history stay zero.
func computeSnapshot(symbol string, candles []Candle) *Snapshot {
	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}
	snap := &Snapshot{Symbol: symbol, Trend: TrendMixed}
	if len(closes) == 0 {
		return snap
	}
	snap.Price = closes[len(closes)-1]
	snap.Timestamp = candles[len(candles)-1].Time

	snap.RSI14 = lastIndicator(closes, 15, func(in []float64) []float64 { return talib.Rsi(in, 14) })
	snap.SMA20 = lastIndicator(closes, 20, func(in []float64) []float64 { return talib.Sma(in, 20) })
	snap.SMA50 = lastIndicator(closes, 50, func(in []float64) []float64 { return talib.Sma(in, 50) })
	snap.SMA200 = lastIndicator(closes, 200, func(in []float64) []float64 { return talib.Sma(in, 200) })

	if len(closes) >= 35 {
		macd, signal, _ := talib.Macd(closes, 12, 26, 9)
		snap.MACD = lastFinite(macd)
		snap.MACDSignal = lastFinite(signal)
	}

	if snap.SMA50 > 0 && snap.SMA200 > 0 {
		switch {
		case snap.Price > snap.SMA50 && snap.SMA50 > snap.SMA200:
			snap.Trend = TrendUp
		case snap.Price < snap.SMA50 && snap.SMA50 < snap.SMA200:
			snap.Trend = TrendDown
		}
	}
	return snap
}

func lastIndicator(closes []float64, minLen int, fn func([]float64) []float64) float64 {
	if len(closes) < minLen {
		return 0
	}
	return lastFinite(fn(closes))
}

// lastFinite walks backwards to the newest usable value. talib pads the
// warm-up window with zeros, so zero counts as missing alongside NaN/Inf.
func lastFinite(values []float64) float64 {
	for i := len(values) - 1; i >= 0; i-- {
		v := values[i]
		if v != 0 && !math.IsNaN(v) && !math.IsInf(v, 0) {
			return v
		}
	}
	return 0
}
