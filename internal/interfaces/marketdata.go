package interfaces

import (
	"context"

	"portfolio-sentinel/internal/types"
)

// MarketData is the consumed market-data contract. Fundamentals may come
// back with any subset of fields; incompleteness is never an error.
type MarketData interface {
	History(ctx context.Context, symbol, period, interval string) (*types.PriceSeries, error)
	Quote(ctx context.Context, symbol string) (*types.Quote, error)
	Fundamentals(ctx context.Context, symbol string) (*types.Fundamentals, error)
}

// EarningsSource resolves the next earnings date for a symbol. A nil date
// in the result means unknown.
type EarningsSource interface {
	NextEarnings(ctx context.Context, symbol string) (*types.EarningsDate, error)
}
