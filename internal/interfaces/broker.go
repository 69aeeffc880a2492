package interfaces

import (
	"context"

	"portfolio-sentinel/internal/types"
)

// Account identifies one brokerage account.
type Account struct {
	ID   string
	Name string
}

// Broker is the consumed brokerage contract: authenticated session,
// accounts, holdings and equity figures. Implementations map provider
// failures onto broker.ErrAuthExpired / broker.ErrRateLimited.
type Broker interface {
	Accounts(ctx context.Context) ([]Account, error)
	Holdings(ctx context.Context, accountID string) ([]types.Holding, error)
	Equity(ctx context.Context, accountID string) (today, previous float64, err error)
}
