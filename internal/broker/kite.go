package broker

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	kiteconnect "github.com/zerodha/gokiteconnect/v4"

	"portfolio-sentinel/internal/interfaces"
	"portfolio-sentinel/internal/logger"
	"portfolio-sentinel/internal/types"
)

// Kite is the live brokerage client.
type Kite struct {
	kc *kiteconnect.Client
}

var _ interfaces.Broker = (*Kite)(nil)

func newKite(p Params) *Kite {
	kc := kiteconnect.New(p.APIKey)
	kc.SetAccessToken(p.AccessToken)
	return &Kite{kc: kc}
}

// mapErr translates provider errors onto the package taxonomy.
func mapErr(err error) error {
	var kerr kiteconnect.Error
	if ok := asKiteError(err, &kerr); ok {
		switch kerr.ErrorType {
		case "TokenException":
			return fmt.Errorf("%w: %s", ErrAuthExpired, kerr.Message)
		case "NetworkException":
			return fmt.Errorf("%w: %s", ErrRateLimited, kerr.Message)
		}
	}
	return err
}

func asKiteError(err error, target *kiteconnect.Error) bool {
	if err == nil {
		return false
	}
	if kerr, ok := err.(kiteconnect.Error); ok {
		*target = kerr
		return true
	}
	return false
}

// Accounts returns the single account behind the session.
func (k *Kite) Accounts(ctx context.Context) ([]interfaces.Account, error) {
	profile, err := k.kc.GetUserProfile()
	if err != nil {
		return nil, mapErr(err)
	}
	return []interfaces.Account{{ID: profile.UserID, Name: profile.UserName}}, nil
}

// Holdings returns equity holdings plus net option positions for the
// account.
func (k *Kite) Holdings(ctx context.Context, accountID string) ([]types.Holding, error) {
	hs, err := k.kc.GetHoldings()
	if err != nil {
		return nil, mapErr(err)
	}

	out := make([]types.Holding, 0, len(hs))
	for _, h := range hs {
		cost := h.AveragePrice
		out = append(out, types.Holding{
			Symbol:    h.Tradingsymbol,
			AccountID: accountID,
			Quantity:  float64(h.Quantity),
			CostBasis: &cost,
			LastPrice: h.LastPrice,
		})
	}

	positions, err := k.kc.GetPositions()
	if err != nil {
		// Equity holdings alone are still a usable answer.
		logger.Warn(ctx, "positions fetch failed, serving equity holdings only", "error", err)
		return out, nil
	}
	for _, p := range positions.Net {
		if p.Quantity == 0 {
			continue
		}
		opt := parseOptionSymbol(p.Tradingsymbol)
		if opt == nil {
			continue // futures and intraday equity are out of scope
		}
		cost := p.AveragePrice
		out = append(out, types.Holding{
			Symbol:    p.Tradingsymbol,
			AccountID: accountID,
			Quantity:  float64(p.Quantity),
			CostBasis: &cost,
			IsOption:  true,
			Option:    opt,
			LastPrice: p.LastPrice,
		})
	}
	return out, nil
}

// Equity returns today's and the previous session's account equity, holdings
// value plus free cash.
func (k *Kite) Equity(ctx context.Context, accountID string) (today, previous float64, err error) {
	hs, err := k.kc.GetHoldings()
	if err != nil {
		return 0, 0, mapErr(err)
	}
	for _, h := range hs {
		qty := float64(h.Quantity)
		today += qty * h.LastPrice
		previous += qty * h.ClosePrice
	}

	margins, err := k.kc.GetUserMargins()
	if err != nil {
		return 0, 0, mapErr(err)
	}
	today += margins.Equity.Net
	previous += margins.Equity.Net
	return today, previous, nil
}

// parseOptionSymbol extracts the strike from tradingsymbols ending in
// CE/PE (e.g. NIFTY24D1924000CE). Returns nil when the symbol is not an
// option. The provider does not expose delta or a structured expiry here;
// those fields stay zero.
func parseOptionSymbol(symbol string) *types.OptionFields {
	s := strings.ToUpper(symbol)
	if !strings.HasSuffix(s, "CE") && !strings.HasSuffix(s, "PE") {
		return nil
	}
	body := s[:len(s)-2]

	i := len(body)
	for i > 0 && body[i-1] >= '0' && body[i-1] <= '9' {
		i--
	}
	if i == len(body) {
		return nil
	}
	strike, err := strconv.ParseFloat(body[i:], 64)
	if err != nil {
		return nil
	}
	return &types.OptionFields{Strike: strike}
}
