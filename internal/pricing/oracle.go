package pricing

import (
	"context"
	"errors"
	"math/big"
	"time"
)

const (
	// SettlementUnitsPerWhole is the number of smallest settlement units in
	// one whole settlement coin.
	SettlementUnitsPerWhole = 100_000_000

	// RateScale is the fixed-point scale of oracle rates: a rate of
	// 2500 * RateScale means 2500 reference units buy one whole coin.
	RateScale = 100_000_000
)

var (
	// ErrStaleQuote is returned when the rate source cannot produce a rate
	// within the configured freshness bound. Purchases must abort rather
	// than price on stale data; callers may retry.
	ErrStaleQuote = errors.New("oracle quote is stale")

	// ErrInvalidRate is returned for non-positive rates from the source.
	ErrInvalidRate = errors.New("oracle returned invalid rate")
)

// Rate is one observation from the external rate source.
type Rate struct {
	Value      int64     `json:"rate"`
	ObservedAt time.Time `json:"observed_at"`
}

// RateSource produces the current reference-to-settlement exchange rate.
type RateSource interface {
	LatestRate(ctx context.Context) (Rate, error)
}

// ConvertToSettlement converts a whole-unit reference amount into smallest
// settlement units at the given rate. Integer math only; the division
// rounds down.
func ConvertToSettlement(referenceAmount, rate int64) (int64, error) {
	if rate <= 0 {
		return 0, ErrInvalidRate
	}
	if referenceAmount <= 0 {
		return 0, nil
	}
	// referenceAmount * SettlementUnitsPerWhole * RateScale can exceed 63
	// bits for large orders, so widen before dividing.
	n := new(big.Int).SetInt64(referenceAmount)
	n.Mul(n, big.NewInt(SettlementUnitsPerWhole))
	n.Mul(n, big.NewInt(RateScale))
	n.Quo(n, big.NewInt(rate))
	if !n.IsInt64() {
		return 0, ErrInvalidRate
	}
	return n.Int64(), nil
}
