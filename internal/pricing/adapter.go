package pricing

import (
	"context"
	"fmt"
	"time"

	"ticketing-escrow/internal/logger"
	"ticketing-escrow/internal/models"
)

// Adapter converts fiat reference amounts into settlement units using the
// external rate source. It carries no state beyond the last-known-quote
// cache and the freshness bound.
type Adapter struct {
	Source RateSource
	Cache  QuoteCache
	MaxAge time.Duration
	Clock  func() time.Time
	Logger *logger.Logger
}

func NewAdapter(source RateSource, cache QuoteCache, maxAge time.Duration, log *logger.Logger) *Adapter {
	return &Adapter{
		Source: source,
		Cache:  cache,
		MaxAge: maxAge,
		Clock:  time.Now,
		Logger: log,
	}
}

// Quote converts referenceAmount (whole fiat units) into smallest settlement
// units at the current rate. A rate older than MaxAge is rejected with
// ErrStaleQuote; when the source itself fails, a cached rate is used if it
// is still fresh.
func (a *Adapter) Quote(ctx context.Context, referenceAmount int64) (models.Quote, error) {
	rate, err := a.freshRate(ctx)
	if err != nil {
		return models.Quote{}, err
	}

	settlement, err := ConvertToSettlement(referenceAmount, rate.Value)
	if err != nil {
		return models.Quote{}, err
	}

	return models.Quote{
		ReferenceAmount:  referenceAmount,
		SettlementAmount: settlement,
		Rate:             rate.Value,
		ObservedAt:       rate.ObservedAt,
	}, nil
}

func (a *Adapter) freshRate(ctx context.Context) (Rate, error) {
	now := a.Clock()

	rate, err := a.Source.LatestRate(ctx)
	if err == nil {
		if now.Sub(rate.ObservedAt) > a.MaxAge {
			return Rate{}, fmt.Errorf("rate observed at %s, bound %s: %w", rate.ObservedAt, a.MaxAge, ErrStaleQuote)
		}
		if a.Cache != nil {
			a.Cache.Put(ctx, rate)
		}
		return rate, nil
	}

	a.Logger.Warn("ORACLE", fmt.Sprintf("Rate source unavailable, trying cache: %v", err))
	if a.Cache != nil {
		if cached, ok := a.Cache.Get(ctx); ok && now.Sub(cached.ObservedAt) <= a.MaxAge {
			return cached, nil
		}
	}
	return Rate{}, fmt.Errorf("rate source failed and no fresh cached quote: %w", ErrStaleQuote)
}
