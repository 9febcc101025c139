package broker

import (
	"context"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"levtrader/internal/logger"
)

// resetSafetyMargin pads header-driven reset deadlines so a call issued right
// at the boundary is not rejected by the server's clock.
const resetSafetyMargin = 150 * time.Millisecond

// rateState is the shared per-endpoint-group limiter. It is written after
// every response and consulted before every request, so concurrent callers
// all respect the same reset window. One instance per client, never per call.
type rateState struct {
	mu     sync.Mutex
	resets map[string]time.Time
	pacers map[string]*rate.Limiter
	nowFn  func() time.Time
}

func newRateState() *rateState {
	return &rateState{
		resets: make(map[string]time.Time),
		pacers: make(map[string]*rate.Limiter),
		nowFn:  time.Now,
	}
}

func (r *rateState) pacer(group string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	limiter, ok := r.pacers[group]
	if !ok {
		// Steady-state pacing: one request per second per endpoint group,
		// with a single burst slot. Header resets handle the hard limits.
		limiter = rate.NewLimiter(rate.Every(time.Second), 1)
		r.pacers[group] = limiter
	}
	return limiter
}

// wait blocks until the group's pacer admits a call and any active reset
// deadline has passed.
func (r *rateState) wait(ctx context.Context, group string) error {
	if err := r.pacer(group).Wait(ctx); err != nil {
		return err
	}
	r.mu.Lock()
	resetAt, ok := r.resets[group]
	r.mu.Unlock()
	if !ok {
		return nil
	}
	now := r.nowFn()
	if !now.Before(resetAt) {
		return nil
	}
	delay := resetAt.Sub(now) + resetSafetyMargin
	logger.Debugf("rate-limit: sleeping %s for group %s", delay.Truncate(time.Millisecond), group)
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// update records the server's remaining/reset headers for the group. A
// non-positive remaining arms the reset deadline; anything else clears it.
func (r *rateState) update(group, remaining, reset string) {
	if remaining == "" || reset == "" {
		return
	}
	rem, err := strconv.Atoi(remaining)
	if err != nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if rem <= 0 {
		if at, ok := parseResetTimestamp(reset); ok {
			r.resets[group] = at
		}
		return
	}
	delete(r.resets, group)
}

// noteRejected arms the reset deadline after an explicit 429.
func (r *rateState) noteRejected(group, reset string) time.Time {
	at, ok := parseResetTimestamp(reset)
	if !ok {
		at = r.nowFn().Add(5 * time.Second)
	}
	r.mu.Lock()
	r.resets[group] = at
	r.mu.Unlock()
	return at
}

// parseResetTimestamp accepts a unix timestamp, in seconds or milliseconds.
func parseResetTimestamp(raw string) (time.Time, bool) {
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v <= 0 {
		return time.Time{}, false
	}
	if v > 1e12 {
		v /= 1000
	}
	sec := int64(v)
	nsec := int64((v - float64(sec)) * 1e9)
	return time.Unix(sec, nsec), true
}
