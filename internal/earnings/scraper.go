// Package earnings resolves upcoming earnings dates by scraping public
// earnings-calendar pages. Absence of a date is never an error: ETFs,
// index funds, warrants and units simply have none.
package earnings

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"

	"portfolio-sentinel/internal/interfaces"
	"portfolio-sentinel/internal/logger"
	"portfolio-sentinel/internal/types"
)

// Source is one earnings-calendar site with the CSS selectors needed to
// pull a date row out of its symbol page.
type Source struct {
	Name         string
	URLTemplate  string // {symbol} is replaced with the normalized symbol
	RowSelector  string
	DateSelector string
	TimeSelector string
	DateLayouts  []string
}

func defaultSources() []Source {
	return []Source{
		{
			Name:         "Zacks",
			URLTemplate:  "https://www.zacks.com/stock/research/{symbol}/earnings-calendar",
			RowSelector:  "section#stock_key_earnings table tbody tr",
			DateSelector: "td:nth-child(1)",
			TimeSelector: "td.time",
			DateLayouts:  []string{"1/2/06", "1/2/2006"},
		},
		{
			Name:         "StockAnalysis",
			URLTemplate:  "https://stockanalysis.com/stocks/{symbol}/",
			RowSelector:  "div[data-test=overview-info] tr",
			DateSelector: "td:nth-child(2)",
			TimeSelector: "td.timing",
			DateLayouts:  []string{"Jan 2, 2006", "January 2, 2006"},
		},
	}
}

// indexFundSymbols covers the common ETFs/index funds in retail portfolios;
// none of them report earnings.
var indexFundSymbols = map[string]bool{
	"SPY": true, "VOO": true, "IVV": true, "QQQ": true, "VTI": true,
	"DIA": true, "IWM": true, "VXUS": true, "BND": true, "SCHD": true,
	"VIG": true, "VUG": true, "VEA": true, "VWO": true, "AGG": true,
}

// Scraper fetches earnings dates via colly.
type Scraper struct {
	sources []Source
	timeout time.Duration
}

var _ interfaces.EarningsSource = (*Scraper)(nil)

// NewScraper builds a scraper over the default calendar sources.
func NewScraper(timeout time.Duration) *Scraper {
	return &Scraper{sources: defaultSources(), timeout: timeout}
}

// IsIndexFund reports whether the symbol is a known ETF/index fund.
func IsIndexFund(symbol string) bool {
	return indexFundSymbols[strings.ToUpper(strings.TrimPrefix(symbol, "$"))]
}

// IsWarrantOrUnit detects warrant/unit/rights notation. These securities
// never have earnings dates. Single-letter suffix heuristics are avoided:
// they false-positive on normal tickers like AAPL or GOOGL.
func IsWarrantOrUnit(symbol string) bool {
	upper := strings.ToUpper(symbol)
	return strings.HasSuffix(upper, ".WS") ||
		strings.HasSuffix(upper, "-WS") ||
		strings.HasSuffix(upper, "/WS") ||
		strings.HasSuffix(upper, ".U") ||
		strings.HasSuffix(upper, ".RT")
}

// NextEarnings scrapes the sources in order and returns the first parsed
// upcoming date. Symbols without earnings return an empty result, nil
// error.
func (s *Scraper) NextEarnings(ctx context.Context, symbol string) (*types.EarningsDate, error) {
	result := &types.EarningsDate{Symbol: symbol}
	if IsIndexFund(symbol) || IsWarrantOrUnit(symbol) {
		return result, nil
	}

	normalized := strings.ToUpper(strings.TrimPrefix(symbol, "$"))
	for _, src := range s.sources {
		date, timing, err := s.scrapeSource(ctx, src, normalized)
		if err != nil {
			logger.Debug(ctx, "earnings source failed", "source", src.Name, "symbol", symbol, "error", err)
			continue
		}
		if date == nil {
			continue
		}
		result.Date = date
		result.Timing = timing
		days := daysUntil(*date)
		result.DaysUntil = &days
		return result, nil
	}
	// All sources empty or unreachable: unknown, not an error.
	return result, nil
}

func (s *Scraper) scrapeSource(ctx context.Context, src Source, symbol string) (*time.Time, string, error) {
	c := colly.NewCollector(
		colly.UserAgent("Mozilla/5.0 (compatible; portfolio-sentinel/1.0)"),
		colly.StdlibContext(ctx),
	)
	c.SetRequestTimeout(s.timeout)

	var found *time.Time
	var timing string

	c.OnHTML(src.RowSelector, func(e *colly.HTMLElement) {
		if found != nil {
			return
		}
		e.DOM.Find(src.DateSelector).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
			text := strings.TrimSpace(sel.Text())
			for _, layout := range src.DateLayouts {
				if t, err := time.Parse(layout, text); err == nil {
					found = &t
					return false
				}
			}
			return true
		})
		if raw := strings.TrimSpace(e.DOM.Find(src.TimeSelector).First().Text()); raw != "" {
			timing = normalizeTiming(raw)
		}
	})

	var visitErr error
	c.OnError(func(_ *colly.Response, err error) { visitErr = err })

	url := strings.ReplaceAll(src.URLTemplate, "{symbol}", symbol)
	if err := c.Visit(url); err != nil {
		return nil, "", fmt.Errorf("visit %s: %w", src.Name, err)
	}
	c.Wait()

	if visitErr != nil {
		return nil, "", visitErr
	}
	return found, timing, nil
}

func normalizeTiming(raw string) string {
	lower := strings.ToLower(raw)
	switch {
	case strings.Contains(lower, "before"), strings.Contains(lower, "bmo"):
		return "BMO"
	case strings.Contains(lower, "after"), strings.Contains(lower, "amc"):
		return "AMC"
	default:
		return ""
	}
}

func daysUntil(date time.Time) int {
	today := time.Now().UTC().Truncate(24 * time.Hour)
	target := date.UTC().Truncate(24 * time.Hour)
	return int(target.Sub(today).Hours() / 24)
}
