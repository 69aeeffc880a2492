package broker

import (
	"context"
	"time"

	"portfolio-sentinel/internal/interfaces"
	"portfolio-sentinel/internal/types"
)

// Static serves a fixed two-account portfolio for DRY_RUN mode. Output is
// deterministic so detection passes over it are reproducible.
type Static struct{}

var _ interfaces.Broker = (*Static)(nil)

func newStatic() *Static { return &Static{} }

func (s *Static) Accounts(ctx context.Context) ([]interfaces.Account, error) {
	return []interfaces.Account{
		{ID: "ACC-001", Name: "Individual"},
		{ID: "ACC-002", Name: "Retirement"},
	}, nil
}

func (s *Static) Holdings(ctx context.Context, accountID string) ([]types.Holding, error) {
	cost := func(v float64) *float64 { return &v }

	switch accountID {
	case "ACC-001":
		return []types.Holding{
			{Symbol: "AAPL", AccountID: accountID, Quantity: 25, CostBasis: cost(148.20), LastPrice: 182.50},
			{Symbol: "MSFT", AccountID: accountID, Quantity: 10, CostBasis: cost(310.00), LastPrice: 404.10},
			{Symbol: "NVDA", AccountID: accountID, Quantity: 8, CostBasis: cost(450.75), LastPrice: 875.30},
			{
				Symbol: "AAPL240621C190", AccountID: accountID, Quantity: 2,
				CostBasis: cost(4.35), IsOption: true, LastPrice: 6.10,
				Option: &types.OptionFields{
					Strike: 190,
					Expiry: time.Date(2024, 6, 21, 0, 0, 0, 0, time.UTC),
					Delta:  0.42,
				},
			},
		}, nil
	case "ACC-002":
		return []types.Holding{
			{Symbol: "SPY", AccountID: accountID, Quantity: 40, CostBasis: cost(412.90), LastPrice: 510.20},
			{Symbol: "BRK.B", AccountID: accountID, Quantity: 15, CostBasis: cost(305.40), LastPrice: 402.80},
		}, nil
	default:
		return nil, nil
	}
}

func (s *Static) Equity(ctx context.Context, accountID string) (today, previous float64, err error) {
	switch accountID {
	case "ACC-001":
		return 16480.30, 16302.75, nil
	case "ACC-002":
		return 26450.00, 26510.40, nil
	default:
		return 0, 0, nil
	}
}
