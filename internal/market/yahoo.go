// Package market integrates the consumed market-data provider. It speaks
// the Yahoo Finance public chart/quoteSummary endpoints and returns the
// engine's own series types; provider quirks (null bars, missing
// fundamentals, symbol notation) are absorbed here.
package market

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"portfolio-sentinel/internal/api"
	"portfolio-sentinel/internal/interfaces"
	"portfolio-sentinel/internal/logger"
	"portfolio-sentinel/internal/types"
)

// Re-exported so callers can errors.Is against one package.
var (
	ErrRateLimited         = api.ErrRateLimited
	ErrProviderUnavailable = api.ErrProviderUnavailable
)

// Yahoo fetches OHLCV history, quotes and fundamentals.
type Yahoo struct {
	client *api.Client
}

var _ interfaces.MarketData = (*Yahoo)(nil)

// NewYahoo builds a provider on the shared HTTP client.
func NewYahoo(baseURL string, timeout time.Duration) *Yahoo {
	return &Yahoo{
		client: api.NewClient(
			api.WithBaseURL(baseURL),
			api.WithTimeout(timeout),
			api.WithHeader("User-Agent", "Mozilla/5.0 (compatible; portfolio-sentinel/1.0)"),
		),
	}
}

// NormalizeSymbol converts broker notation to provider notation:
// "$BRK.B" becomes "BRK-B".
func NormalizeSymbol(symbol string) string {
	s := strings.TrimPrefix(symbol, "$")
	return strings.ReplaceAll(s, ".", "-")
}

// chartResponse mirrors the provider's chart JSON.
type chartResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				RegularMarketPrice float64 `json:"regularMarketPrice"`
				PreviousClose      float64 `json:"chartPreviousClose"`
			} `json:"meta"`
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []*float64 `json:"open"`
					High   []*float64 `json:"high"`
					Low    []*float64 `json:"low"`
					Close  []*float64 `json:"close"`
					Volume []*float64 `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

func (y *Yahoo) fetchChart(ctx context.Context, symbol, interval, rng string) (*chartResponse, error) {
	path := fmt.Sprintf("/v8/finance/chart/%s?interval=%s&range=%s",
		url.PathEscape(NormalizeSymbol(symbol)), url.QueryEscape(interval), url.QueryEscape(rng))

	body, err := y.client.GetJSON(ctx, path)
	if err != nil {
		return nil, err
	}

	var cr chartResponse
	if err := json.Unmarshal(body, &cr); err != nil {
		return nil, fmt.Errorf("%w: decode chart for %s: %v", ErrProviderUnavailable, symbol, err)
	}
	if cr.Chart.Error != nil {
		return nil, fmt.Errorf("%w: %s: %s", ErrProviderUnavailable, cr.Chart.Error.Code, cr.Chart.Error.Description)
	}
	if len(cr.Chart.Result) == 0 || len(cr.Chart.Result[0].Indicators.Quote) == 0 {
		return nil, fmt.Errorf("%w: empty chart result for %s", ErrProviderUnavailable, symbol)
	}
	return &cr, nil
}

// History fetches the OHLCV series for symbol. Bars with null prices
// (halts, partial sessions) are skipped; missing trading days are normal.
func (y *Yahoo) History(ctx context.Context, symbol, period, interval string) (*types.PriceSeries, error) {
	cr, err := y.fetchChart(ctx, symbol, interval, period)
	if err != nil {
		return nil, err
	}

	res := cr.Chart.Result[0]
	q := res.Indicators.Quote[0]

	series := &types.PriceSeries{
		Symbol:   symbol,
		Period:   period,
		Interval: interval,
		Bars:     make([]types.PriceBar, 0, len(res.Timestamp)),
	}
	for i, ts := range res.Timestamp {
		if i >= len(q.Close) || i >= len(q.Open) || q.Close[i] == nil || q.Open[i] == nil {
			continue
		}
		bar := types.PriceBar{
			Date:  time.Unix(ts, 0).UTC(),
			Open:  *q.Open[i],
			Close: *q.Close[i],
		}
		if i < len(q.High) && q.High[i] != nil {
			bar.High = *q.High[i]
		}
		if i < len(q.Low) && q.Low[i] != nil {
			bar.Low = *q.Low[i]
		}
		if i < len(q.Volume) && q.Volume[i] != nil {
			bar.Volume = *q.Volume[i]
		}
		series.Bars = append(series.Bars, bar)
	}

	if err := series.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	logger.Debug(ctx, "history fetched", "symbol", symbol, "bars", len(series.Bars))
	return series, nil
}

// Quote returns the latest price and previous close.
func (y *Yahoo) Quote(ctx context.Context, symbol string) (*types.Quote, error) {
	cr, err := y.fetchChart(ctx, symbol, "1d", "5d")
	if err != nil {
		return nil, err
	}
	meta := cr.Chart.Result[0].Meta
	if meta.RegularMarketPrice == 0 {
		return nil, fmt.Errorf("%w: no market price for %s", ErrProviderUnavailable, symbol)
	}
	return &types.Quote{
		Symbol:    symbol,
		Price:     meta.RegularMarketPrice,
		PrevClose: meta.PreviousClose,
		AsOf:      time.Now().UTC(),
	}, nil
}

// summaryResponse mirrors the quoteSummary JSON for the modules we read.
type summaryResponse struct {
	QuoteSummary struct {
		Result []struct {
			AssetProfile *struct {
				Sector string `json:"sector"`
			} `json:"assetProfile"`
			SummaryDetail *struct {
				TrailingPE       rawValue `json:"trailingPE"`
				FiftyTwoWeekHigh rawValue `json:"fiftyTwoWeekHigh"`
				FiftyTwoWeekLow  rawValue `json:"fiftyTwoWeekLow"`
				MarketCap        rawValue `json:"marketCap"`
			} `json:"summaryDetail"`
		} `json:"result"`
		Error *struct {
			Code string `json:"code"`
		} `json:"error"`
	} `json:"quoteSummary"`
}

// rawValue is the provider's {raw, fmt} number wrapper.
type rawValue struct {
	Raw *float64 `json:"raw"`
}

// Fundamentals fetches sector and 52-week range data. Every field is
// optional: a symbol without an asset profile (ETFs, warrants) simply comes
// back sparse.
func (y *Yahoo) Fundamentals(ctx context.Context, symbol string) (*types.Fundamentals, error) {
	path := fmt.Sprintf("/v10/finance/quoteSummary/%s?modules=assetProfile%%2CsummaryDetail",
		url.PathEscape(NormalizeSymbol(symbol)))

	body, err := y.client.GetJSON(ctx, path)
	if err != nil {
		return nil, err
	}

	var sr summaryResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return nil, fmt.Errorf("%w: decode summary for %s: %v", ErrProviderUnavailable, symbol, err)
	}
	f := &types.Fundamentals{Symbol: symbol}
	if sr.QuoteSummary.Error != nil || len(sr.QuoteSummary.Result) == 0 {
		// Sparse fundamentals are not a failure.
		return f, nil
	}

	res := sr.QuoteSummary.Result[0]
	if res.AssetProfile != nil && res.AssetProfile.Sector != "" {
		sector := res.AssetProfile.Sector
		f.Sector = &sector
	}
	if sd := res.SummaryDetail; sd != nil {
		f.PE = sd.TrailingPE.Raw
		f.High52w = sd.FiftyTwoWeekHigh.Raw
		f.Low52w = sd.FiftyTwoWeekLow.Raw
		f.MarketCap = sd.MarketCap.Raw
	}
	return f, nil
}
