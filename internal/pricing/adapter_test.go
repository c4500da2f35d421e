package pricing_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ticketing-escrow/internal/logger"
	"ticketing-escrow/internal/pricing"
)

type stubRateSource struct {
	rate pricing.Rate
	err  error
}

func (s *stubRateSource) LatestRate(ctx context.Context) (pricing.Rate, error) {
	return s.rate, s.err
}

func newTestAdapter(source pricing.RateSource, cache pricing.QuoteCache, now time.Time) *pricing.Adapter {
	a := pricing.NewAdapter(source, cache, 5*time.Minute, logger.NewNop())
	a.Clock = func() time.Time { return now }
	return a
}

func TestConvertToSettlement(t *testing.T) {
	// $2500.00000000 per whole coin: $1 buys 0.0004 coin = 40,000 units.
	rate := int64(2500 * pricing.RateScale)

	settlement, err := pricing.ConvertToSettlement(1, rate)
	require.NoError(t, err)
	assert.Equal(t, int64(40_000), settlement)

	settlement, err = pricing.ConvertToSettlement(2, rate)
	require.NoError(t, err)
	assert.Equal(t, int64(80_000), settlement)
}

func TestConvertToSettlementRoundsDown(t *testing.T) {
	// A rate that does not divide evenly must round toward zero.
	settlement, err := pricing.ConvertToSettlement(1, 3*pricing.RateScale)
	require.NoError(t, err)
	assert.Equal(t, int64(33_333_333), settlement)
}

func TestConvertToSettlementLargeOrder(t *testing.T) {
	// 100 tickets at $50 would overflow int64 without widening.
	settlement, err := pricing.ConvertToSettlement(5000, 2500*pricing.RateScale)
	require.NoError(t, err)
	assert.Equal(t, int64(200_000_000), settlement)
}

func TestConvertToSettlementInvalidRate(t *testing.T) {
	_, err := pricing.ConvertToSettlement(1, 0)
	assert.ErrorIs(t, err, pricing.ErrInvalidRate)

	_, err = pricing.ConvertToSettlement(1, -5)
	assert.ErrorIs(t, err, pricing.ErrInvalidRate)
}

func TestQuoteFreshRate(t *testing.T) {
	now := time.Now()
	source := &stubRateSource{rate: pricing.Rate{Value: 2500 * pricing.RateScale, ObservedAt: now.Add(-time.Minute)}}
	adapter := newTestAdapter(source, pricing.NewMemoryQuoteCache(), now)

	quote, err := adapter.Quote(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, int64(2), quote.ReferenceAmount)
	assert.Equal(t, int64(80_000), quote.SettlementAmount)
	assert.Equal(t, source.rate.Value, quote.Rate)
}

func TestQuoteRejectsStaleRate(t *testing.T) {
	now := time.Now()
	source := &stubRateSource{rate: pricing.Rate{Value: 2500 * pricing.RateScale, ObservedAt: now.Add(-6 * time.Minute)}}
	adapter := newTestAdapter(source, pricing.NewMemoryQuoteCache(), now)

	_, err := adapter.Quote(context.Background(), 1)
	assert.ErrorIs(t, err, pricing.ErrStaleQuote)
}

func TestQuoteFallsBackToCachedRate(t *testing.T) {
	now := time.Now()
	cache := pricing.NewMemoryQuoteCache()
	cache.Put(context.Background(), pricing.Rate{Value: 2500 * pricing.RateScale, ObservedAt: now.Add(-2 * time.Minute)})

	source := &stubRateSource{err: errors.New("feed down")}
	adapter := newTestAdapter(source, cache, now)

	quote, err := adapter.Quote(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(40_000), quote.SettlementAmount)
}

func TestQuoteFailsWhenCacheStaleToo(t *testing.T) {
	now := time.Now()
	cache := pricing.NewMemoryQuoteCache()
	cache.Put(context.Background(), pricing.Rate{Value: 2500 * pricing.RateScale, ObservedAt: now.Add(-10 * time.Minute)})

	source := &stubRateSource{err: errors.New("feed down")}
	adapter := newTestAdapter(source, cache, now)

	_, err := adapter.Quote(context.Background(), 1)
	assert.ErrorIs(t, err, pricing.ErrStaleQuote)
}

func TestQuoteCachesSuccessfulFetch(t *testing.T) {
	now := time.Now()
	cache := pricing.NewMemoryQuoteCache()
	source := &stubRateSource{rate: pricing.Rate{Value: 3000 * pricing.RateScale, ObservedAt: now}}
	adapter := newTestAdapter(source, cache, now)

	_, err := adapter.Quote(context.Background(), 1)
	require.NoError(t, err)

	cached, ok := cache.Get(context.Background())
	require.True(t, ok)
	assert.Equal(t, source.rate.Value, cached.Value)
}
