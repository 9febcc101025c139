package leverage

import (
	"regexp"
	"strings"
)

// policyKey is the config-store key holding the normalized policy record.
const policyKey = "leveraged_policy"

var defaultScanUniverse = []string{"3USL", "3ULS", "LQQ3", "QQQS", "3NVD", "3PLT", "SPY", "QQQ"}

var closeTimeRe = regexp.MustCompile(`^([01]?\d|2[0-3]):[0-5]\d$`)

// Policy holds the per-strategy trading rails. Every read path goes through
// Normalize so out-of-range values stored by an operator (or an older build)
// are clamped rather than trusted.
type Policy struct {
	Enabled             bool     `json:"enabled"`
	AutoExecute         bool     `json:"auto_execute"`
	PerPositionNotional float64  `json:"per_position_notional"`
	MaxTotalExposure    float64  `json:"max_total_exposure"`
	MaxOpenPositions    int      `json:"max_open_positions"`
	TakeProfitPct       float64  `json:"take_profit_pct"`
	StopLossPct         float64  `json:"stop_loss_pct"`
	CloseTime           string   `json:"close_time"`
	AllowOvernight      bool     `json:"allow_overnight"`
	ScanSymbols         []string `json:"scan_symbols"`
	InstrumentPriority  []string `json:"instrument_priority"`
	ShortProducts       []string `json:"short_products"`
}

// DefaultPolicy returns the seeded rails used until an operator updates them.
func DefaultPolicy() Policy {
	return Policy{
		Enabled:             true,
		AutoExecute:         false,
		PerPositionNotional: 200,
		MaxTotalExposure:    600,
		MaxOpenPositions:    3,
		TakeProfitPct:       0.08,
		StopLossPct:         0.05,
		CloseTime:           "15:30",
		AllowOvernight:      false,
		ScanSymbols:         append([]string(nil), defaultScanUniverse...),
		ShortProducts:       []string{"3ULS", "QQQS"},
	}
}

// Normalize clamps every numeric rail into its allowed band, sanitizes the
// close time and dedupes the symbol lists. It returns the normalized copy and
// whether anything changed.
func (p Policy) Normalize() (Policy, bool) {
	out := p
	out.PerPositionNotional = clampFloat(p.PerPositionNotional, 50, 2000, 200)
	out.MaxTotalExposure = clampFloat(p.MaxTotalExposure, 100, 8000, 600)
	out.MaxOpenPositions = clampInt(p.MaxOpenPositions, 1, 20, 3)
	out.TakeProfitPct = clampFloat(p.TakeProfitPct, 0.01, 0.4, 0.08)
	out.StopLossPct = clampFloat(p.StopLossPct, 0.005, 0.3, 0.05)
	if !closeTimeRe.MatchString(strings.TrimSpace(p.CloseTime)) {
		out.CloseTime = "15:30"
	} else {
		out.CloseTime = strings.TrimSpace(p.CloseTime)
	}
	out.ScanSymbols = dedupeUpper(p.ScanSymbols)
	if len(out.ScanSymbols) == 0 {
		out.ScanSymbols = append([]string(nil), defaultScanUniverse...)
	}
	out.InstrumentPriority = dedupeUpper(p.InstrumentPriority)
	out.ShortProducts = dedupeUpper(p.ShortProducts)
	return out, !policyEqual(p, out)
}

// Universe is the ordered scan list: priority symbols first, then the scan
// list, deduped.
func (p Policy) Universe() []string {
	return dedupeUpper(append(append([]string(nil), p.InstrumentPriority...), p.ScanSymbols...))
}

// IsShortProduct reports whether symbol is marked as an inverse/short
// instrument whose setup logic is mirrored.
func (p Policy) IsShortProduct(symbol string) bool {
	upper := strings.ToUpper(strings.TrimSpace(symbol))
	for _, s := range p.ShortProducts {
		if s == upper {
			return true
		}
	}
	return false
}

func clampFloat(v, lo, hi, def float64) float64 {
	if v == 0 {
		return def
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampInt(v, lo, hi, def int) int {
	if v == 0 {
		return def
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func dedupeUpper(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		upper := strings.ToUpper(strings.TrimSpace(v))
		if upper == "" {
			continue
		}
		if _, ok := seen[upper]; ok {
			continue
		}
		seen[upper] = struct{}{}
		out = append(out, upper)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func policyEqual(a, b Policy) bool {
	if a.Enabled != b.Enabled || a.AutoExecute != b.AutoExecute ||
		a.PerPositionNotional != b.PerPositionNotional ||
		a.MaxTotalExposure != b.MaxTotalExposure ||
		a.MaxOpenPositions != b.MaxOpenPositions ||
		a.TakeProfitPct != b.TakeProfitPct ||
		a.StopLossPct != b.StopLossPct ||
		a.CloseTime != b.CloseTime ||
		a.AllowOvernight != b.AllowOvernight {
		return false
	}
	return equalStrings(a.ScanSymbols, b.ScanSymbols) &&
		equalStrings(a.InstrumentPriority, b.InstrumentPriority) &&
		equalStrings(a.ShortProducts, b.ShortProducts)
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
