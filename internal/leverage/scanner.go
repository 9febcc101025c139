package leverage

import (
	"fmt"

	"levtrader/internal/market"
	"levtrader/internal/store"
)

// setup is one matched entry candidate for a scanned symbol. Every entry is a
// broker buy; direction records the economic exposure, which is short when
// the instrument itself is an inverse product.
type setup struct {
	Direction    store.Direction
	Confidence   float64
	ExpectedEdge float64
	Rationale    string
}

// evalSetup applies the momentum entry rules to a technical snapshot.
// Long-biased products must show an uptrend with constructive momentum;
// inverse products mirror the rules against a downtrend. An inverse product
// never matches the long setup.
func evalSetup(snap *market.Snapshot, shortProduct bool) (*setup, bool) {
	if snap == nil || snap.Price <= 0 {
		return nil, false
	}
	if shortProduct {
		if !shortSetupMatches(snap) {
			return nil, false
		}
		conf := confidence(snap, store.DirectionShort)
		return &setup{
			Direction:    store.DirectionShort,
			Confidence:   conf,
			ExpectedEdge: expectedEdge(conf),
			Rationale: fmt.Sprintf("downtrend momentum: rsi=%.1f macd=%.4f/%.4f price=%.2f sma20=%.2f",
				snap.RSI14, snap.MACD, snap.MACDSignal, snap.Price, snap.SMA20),
		}, true
	}
	if !longSetupMatches(snap) {
		return nil, false
	}
	conf := confidence(snap, store.DirectionLong)
	return &setup{
		Direction:    store.DirectionLong,
		Confidence:   conf,
		ExpectedEdge: expectedEdge(conf),
		Rationale: fmt.Sprintf("uptrend momentum: rsi=%.1f macd=%.4f/%.4f price=%.2f sma20=%.2f",
			snap.RSI14, snap.MACD, snap.MACDSignal, snap.Price, snap.SMA20),
	}, true
}

func longSetupMatches(snap *market.Snapshot) bool {
	if snap.Trend != market.TrendUp {
		return false
	}
	if snap.MACD < snap.MACDSignal {
		return false
	}
	if snap.RSI14 < 44 || snap.RSI14 > 72 {
		return false
	}
	if snap.SMA20 > 0 && snap.Price < snap.SMA20 {
		return false
	}
	return true
}

func shortSetupMatches(snap *market.Snapshot) bool {
	if snap.Trend != market.TrendDown {
		return false
	}
	if snap.MACD > snap.MACDSignal {
		return false
	}
	if snap.RSI14 < 28 || snap.RSI14 > 60 {
		return false
	}
	if snap.SMA20 > 0 && snap.Price > snap.SMA20 {
		return false
	}
	return true
}

// confidence scores a matched setup. The base reflects that the gate already
// passed; trend, a healthy RSI band and MACD divergence each add a bump.
func confidence(snap *market.Snapshot, direction store.Direction) float64 {
	conf := 0.55
	if direction == store.DirectionLong {
		if snap.Trend == market.TrendUp {
			conf += 0.08
		}
		if snap.RSI14 >= 48 && snap.RSI14 <= 66 {
			conf += 0.07
		}
		if snap.MACD-snap.MACDSignal > 0 {
			conf += 0.07
		}
	} else {
		if snap.Trend == market.TrendDown {
			conf += 0.08
		}
		if snap.RSI14 >= 34 && snap.RSI14 <= 56 {
			conf += 0.07
		}
		if snap.MACDSignal-snap.MACD > 0 {
			conf += 0.07
		}
	}
	if conf < 0.35 {
		conf = 0.35
	}
	if conf > 0.92 {
		conf = 0.92
	}
	return conf
}

func expectedEdge(conf float64) float64 {
	edge := 0.006
	if conf > 0.5 {
		edge += (conf - 0.5) * 0.02
	}
	if edge < 0.004 {
		edge = 0.004
	}
	if edge > 0.03 {
		edge = 0.03
	}
	return edge
}
