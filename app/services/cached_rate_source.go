package services

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/amirphl/metal-price-sync/models"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RateSource mirrors the flow's live-rate contract.
type RateSource interface {
	FetchCurrentRates(ctx context.Context, currency string) (models.RateSet, error)
}

// CachedRateSource keeps the last good quote per currency in redis so that
// repeated runs and the live-rates endpoint do not burn API quota.
type CachedRateSource struct {
	next   RateSource
	rc     *redis.Client
	prefix string
	ttl    time.Duration
	logger *zap.Logger
}

func NewCachedRateSource(next RateSource, rc *redis.Client, prefix string, ttl time.Duration, logger *zap.Logger) *CachedRateSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedRateSource{next: next, rc: rc, prefix: prefix, ttl: ttl, logger: logger}
}

func (s *CachedRateSource) cacheKey(currency string) string {
	return s.prefix + "rates:" + strings.ToUpper(currency)
}

func (s *CachedRateSource) FetchCurrentRates(ctx context.Context, currency string) (models.RateSet, error) {
	key := s.cacheKey(currency)

	if bs, err := s.rc.Get(ctx, key).Bytes(); err == nil && len(bs) > 0 {
		var cached models.RateSet
		if err := json.Unmarshal(bs, &cached); err == nil && cached.Validate() == nil {
			s.logger.Debug("metal rates served from cache", zap.String("currency", currency))
			return cached, nil
		}
		s.logger.Warn("discarding unreadable cached rates", zap.String("key", key))
	} else if err != nil && !errors.Is(err, redis.Nil) {
		s.logger.Warn("rate cache read failed", zap.Error(err))
	}

	rates, err := s.next.FetchCurrentRates(ctx, currency)
	if err != nil {
		return nil, err
	}
	// invalid quotes are returned uncached; the caller rejects them
	if err := rates.Validate(); err != nil {
		return rates, nil
	}

	if bs, err := json.Marshal(rates); err == nil {
		if err := s.rc.Set(ctx, key, bs, s.ttl).Err(); err != nil {
			s.logger.Warn("rate cache write failed", zap.Error(err))
		}
	}
	return rates, nil
}
