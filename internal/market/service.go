package market

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"levtrader/internal/config"
)

// Service is the time-boxed snapshot cache that shields the scanner and the
// position monitor from repeated source calls. Concurrent requests for the
// same key collapse into a single fetch.
type Service struct {
	source       Source
	lookbackDays int
	prices       *ttlCache
	techs        *ttlCache
	history      *ttlCache
	group        singleflight.Group
	nowFn        func() time.Time
}

func NewService(source Source, cfg config.MarketConfig) *Service {
	ttl := time.Duration(cfg.CacheTTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	lookback := cfg.LookbackDays
	if lookback <= 0 {
		lookback = 180
	}
	return &Service{
		source:       source,
		lookbackDays: lookback,
		prices:       newTTLCache(ttl, cfg.CacheMaxItems),
		techs:        newTTLCache(ttl, cfg.CacheMaxItems),
		history:      newTTLCache(ttl, cfg.CacheMaxItems),
		nowFn:        time.Now,
	}
}

// History returns daily candles, cached per symbol+window.
func (s *Service) History(ctx context.Context, symbol string, lookbackDays int) ([]Candle, error) {
	key := fmt.Sprintf("%s|%d", normalizeSymbol(symbol), lookbackDays)
	if cached, ok := s.history.get(key); ok {
		return cached.([]Candle), nil
	}
	value, err, _ := s.group.Do("hist:"+key, func() (any, error) {
		candles, err := s.source.History(ctx, normalizeSymbol(symbol), lookbackDays)
		if err != nil {
			return nil, err
		}
		if len(candles) == 0 {
			return nil, fmt.Errorf("no price history for %s", symbol)
		}
		s.history.set(key, candles)
		return candles, nil
	})
	if err != nil {
		return nil, err
	}
	return value.([]Candle), nil
}

// Quote returns the latest close and its change versus the previous close.
func (s *Service) Quote(ctx context.Context, symbol string) (*Quote, error) {
	key := normalizeSymbol(symbol)
	if cached, ok := s.prices.get(key); ok {
		return cached.(*Quote), nil
	}
	candles, err := s.History(ctx, key, 7)
	if err != nil {
		return nil, err
	}
	last := candles[len(candles)-1]
	changePct := 0.0
	if len(candles) > 1 {
		prev := candles[len(candles)-2]
		if prev.Close > 0 {
			changePct = last.Close/prev.Close - 1
		}
	}
	quote := &Quote{
		Symbol:    key,
		Price:     last.Close,
		ChangePct: changePct,
		Timestamp: s.nowFn().UTC(),
	}
	s.prices.set(key, quote)
	return quote, nil
}

// Technicals returns the cached technical snapshot for symbol.
func (s *Service) Technicals(ctx context.Context, symbol string) (*Snapshot, error) {
	key := normalizeSymbol(symbol)
	if cached, ok := s.techs.get(key); ok {
		return cached.(*Snapshot), nil
	}
	candles, err := s.History(ctx, key, s.lookbackDays)
	if err != nil {
		return nil, err
	}
	snap := computeSnapshot(key, candles)
	s.techs.set(key, snap)
	return snap, nil
}
