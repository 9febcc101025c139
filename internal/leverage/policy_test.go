package leverage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeClampsNumericRails(t *testing.T) {
	policy, changed := Policy{
		PerPositionNotional: 5,
		MaxTotalExposure:    99999,
		MaxOpenPositions:    50,
		TakeProfitPct:       0.9,
		StopLossPct:         0.0001,
		CloseTime:           "15:30",
	}.Normalize()

	assert.True(t, changed)
	assert.Equal(t, 50.0, policy.PerPositionNotional)
	assert.Equal(t, 8000.0, policy.MaxTotalExposure)
	assert.Equal(t, 20, policy.MaxOpenPositions)
	assert.Equal(t, 0.4, policy.TakeProfitPct)
	assert.Equal(t, 0.005, policy.StopLossPct)
}

func TestNormalizeZeroValuesUseDefaults(t *testing.T) {
	policy, _ := Policy{}.Normalize()
	assert.Equal(t, 200.0, policy.PerPositionNotional)
	assert.Equal(t, 600.0, policy.MaxTotalExposure)
	assert.Equal(t, 3, policy.MaxOpenPositions)
	assert.Equal(t, 0.08, policy.TakeProfitPct)
	assert.Equal(t, 0.05, policy.StopLossPct)
	assert.Equal(t, "15:30", policy.CloseTime)
	assert.Equal(t, defaultScanUniverse, policy.ScanSymbols)
}

func TestNormalizeSanitizesCloseTime(t *testing.T) {
	for _, bad := range []string{"", "25:00", "3pm", "15:70", "nope"} {
		policy, _ := Policy{CloseTime: bad}.Normalize()
		assert.Equal(t, "15:30", policy.CloseTime, "close time %q", bad)
	}
	policy, _ := Policy{CloseTime: " 09:05 "}.Normalize()
	assert.Equal(t, "09:05", policy.CloseTime)
}

func TestNormalizeDedupesSymbols(t *testing.T) {
	policy, _ := Policy{
		ScanSymbols:        []string{"spy", "SPY", " qqq ", ""},
		InstrumentPriority: []string{"lqq3", "LQQ3"},
	}.Normalize()
	assert.Equal(t, []string{"SPY", "QQQ"}, policy.ScanSymbols)
	assert.Equal(t, []string{"LQQ3"}, policy.InstrumentPriority)
}

func TestUniversePriorityFirst(t *testing.T) {
	policy := Policy{
		ScanSymbols:        []string{"SPY", "QQQ"},
		InstrumentPriority: []string{"QQQ", "LQQ3"},
	}
	assert.Equal(t, []string{"QQQ", "LQQ3", "SPY"}, policy.Universe())
}

func TestIsShortProduct(t *testing.T) {
	policy := DefaultPolicy()
	assert.True(t, policy.IsShortProduct("qqqs"))
	assert.True(t, policy.IsShortProduct("3ULS"))
	assert.False(t, policy.IsShortProduct("SPY"))
}

func TestNormalizeStableWhenAlreadyValid(t *testing.T) {
	valid := DefaultPolicy()
	normalized, changed := valid.Normalize()
	assert.False(t, changed)
	assert.Equal(t, valid, normalized)
}
