package types

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// PriceBar is one OHLCV bar. Immutable once produced.
type PriceBar struct {
	Date   time.Time `json:"date"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// PriceSeries is an ordered OHLCV history for one symbol.
// Bars are strictly ascending by date with no duplicates; missing trading
// days are allowed.
type PriceSeries struct {
	Symbol   string     `json:"symbol"`
	Bars     []PriceBar `json:"bars"`
	Period   string     `json:"period"`
	Interval string     `json:"interval"`
}

// Validate checks the ordering invariant.
func (s *PriceSeries) Validate() error {
	for i := 1; i < len(s.Bars); i++ {
		if !s.Bars[i].Date.After(s.Bars[i-1].Date) {
			return fmt.Errorf("series %s: bar %d date %s not after %s",
				s.Symbol, i, s.Bars[i].Date.Format("2006-01-02"), s.Bars[i-1].Date.Format("2006-01-02"))
		}
	}
	return nil
}

// Closes returns the closing prices in date order.
func (s *PriceSeries) Closes() []float64 {
	out := make([]float64, len(s.Bars))
	for i, b := range s.Bars {
		out[i] = b.Close
	}
	return out
}

// Volumes returns the volumes in date order.
func (s *PriceSeries) Volumes() []float64 {
	out := make([]float64, len(s.Bars))
	for i, b := range s.Bars {
		out[i] = b.Volume
	}
	return out
}

// Last returns the most recent bar, or false when the series is empty.
func (s *PriceSeries) Last() (PriceBar, bool) {
	if len(s.Bars) == 0 {
		return PriceBar{}, false
	}
	return s.Bars[len(s.Bars)-1], true
}

// OptionFields carries the option-specific part of a holding.
type OptionFields struct {
	Strike float64   `json:"strike"`
	Expiry time.Time `json:"expiry"`
	Delta  float64   `json:"delta"`
}

// Holding is one brokerage position, equity or option.
type Holding struct {
	Symbol    string        `json:"symbol"`
	AccountID string        `json:"account_id"`
	Quantity  float64       `json:"quantity"`
	CostBasis *float64      `json:"cost_basis,omitempty"`
	IsOption  bool          `json:"is_option"`
	Option    *OptionFields `json:"option,omitempty"`
	LastPrice float64       `json:"last_price"`
}

// HoldingValuation is the money math for one holding. decimal avoids the
// cent drift that float accumulation produces on large accounts.
type HoldingValuation struct {
	Symbol      string          `json:"symbol"`
	AccountID   string          `json:"account_id"`
	MarketValue decimal.Decimal `json:"market_value"`
	PL          decimal.Decimal `json:"pl"`
	PLPercent   decimal.Decimal `json:"pl_percent"`
}

// AccountEquity is the daily P/L view for one account: holdings value plus
// free cash, today against the previous session.
type AccountEquity struct {
	AccountID string  `json:"account_id"`
	Today     float64 `json:"today"`
	Previous  float64 `json:"previous"`
	ChangePct float64 `json:"change_pct"`
}

// Quote is a point-in-time price for a symbol.
type Quote struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	PrevClose float64   `json:"prev_close"`
	AsOf      time.Time `json:"as_of"`
}

// Fundamentals carries the optional enrichment fields. Providers routinely
// omit some of them, so everything is a pointer.
type Fundamentals struct {
	Symbol    string   `json:"symbol"`
	Sector    *string  `json:"sector,omitempty"`
	PE        *float64 `json:"pe,omitempty"`
	High52w   *float64 `json:"high_52w,omitempty"`
	Low52w    *float64 `json:"low_52w,omitempty"`
	MarketCap *float64 `json:"market_cap,omitempty"`
}

// EarningsDate is the enrichment result for one symbol. Zero value means
// unknown, which is never an error.
type EarningsDate struct {
	Symbol    string     `json:"symbol"`
	Date      *time.Time `json:"date,omitempty"`
	DaysUntil *int       `json:"days_until,omitempty"`
	Timing    string     `json:"timing,omitempty"` // "BMO", "AMC" or empty
}

// SignalKind enumerates the detection rules.
type SignalKind string

const (
	SignalGap         SignalKind = "GAP"
	SignalMAProximity SignalKind = "MA_PROXIMITY"
	SignalBelow200MA  SignalKind = "BELOW_200MA"
	SignalNear52wHigh SignalKind = "NEAR_52W_HIGH"
	SignalMABreakout  SignalKind = "MA_BREAKOUT"
	SignalGoldenCross SignalKind = "GOLDEN_CROSS"
	SignalDeathCross  SignalKind = "DEATH_CROSS"
)

// Direction is the trading read of a signal.
type Direction string

const (
	Bullish Direction = "bullish"
	Bearish Direction = "bearish"
	Neutral Direction = "neutral"
)

// rank orders directions for the presentation contract: bullish first,
// bearish last.
func (d Direction) rank() int {
	switch d {
	case Bullish:
		return 0
	case Neutral:
		return 1
	default:
		return 2
	}
}

// Signal is one classified event. Signals are derived values, recomputed on
// every detection pass and never persisted.
type Signal struct {
	Kind      SignalKind         `json:"kind"`
	Symbol    string             `json:"symbol"`
	Direction Direction          `json:"direction"`
	Metrics   map[string]float64 `json:"metrics"`
	AsOfDate  time.Time          `json:"as_of_date"`
}

// Less implements the snapshot ordering contract: bullish before neutral
// before bearish, ties alphabetical by symbol, then by kind.
func (s Signal) Less(o Signal) bool {
	if s.Direction != o.Direction {
		return s.Direction.rank() < o.Direction.rank()
	}
	if s.Symbol != o.Symbol {
		return s.Symbol < o.Symbol
	}
	return s.Kind < o.Kind
}

// RSIZoneLabel classifies an RSI reading.
type RSIZoneLabel string

const (
	RSIOversold   RSIZoneLabel = "Oversold"
	RSIWeak       RSIZoneLabel = "Weak"
	RSIBullish    RSIZoneLabel = "Bullish"
	RSIOverbought RSIZoneLabel = "Overbought"
)

// SymbolMetrics are the derived per-symbol indicator values exposed to the
// presentation layer. Absent metrics are nil rather than zero.
type SymbolMetrics struct {
	Symbol       string        `json:"symbol"`
	Price        float64       `json:"price"`
	MA50         *float64      `json:"ma_50,omitempty"`
	MA200        *float64      `json:"ma_200,omitempty"`
	PctFromMA50  *float64      `json:"pct_from_ma_50,omitempty"`
	PctFromMA200 *float64      `json:"pct_from_ma_200,omitempty"`
	RSI          *float64      `json:"rsi,omitempty"`
	RSIZone      RSIZoneLabel  `json:"rsi_zone,omitempty"`
	MACDHist     *float64      `json:"macd_hist,omitempty"`
	MACDRead     string        `json:"macd_read,omitempty"`
	Volatility   *float64      `json:"volatility,omitempty"`
	RangePos52w  *float64      `json:"range_pos_52w,omitempty"`
	Sector       string        `json:"sector,omitempty"`
	Earnings     *EarningsDate `json:"earnings,omitempty"`
}

// LoadingPhase is the pipeline stage visible to the UI.
type LoadingPhase string

const (
	PhaseIdle      LoadingPhase = "idle"
	PhaseFetching  LoadingPhase = "fetching"
	PhaseAnalyzing LoadingPhase = "analyzing"
	PhaseRetrying  LoadingPhase = "retrying"
)

// Snapshot is the read-only document handed to the UI layer, re-emitted on
// every phase transition.
type Snapshot struct {
	Generation  uint64                   `json:"generation"`
	Phase       LoadingPhase             `json:"loadingPhase"`
	Busy        bool                     `json:"busy"`
	Signals     []Signal                 `json:"signals"`
	Metrics     map[string]SymbolMetrics `json:"metrics"`
	Holdings    []Holding                `json:"holdings"`
	Valuations  []HoldingValuation       `json:"valuations"`
	Equity      []AccountEquity          `json:"equity,omitempty"`
	Errors      map[string]string        `json:"errors,omitempty"`
	AuthExpired bool                     `json:"auth_expired,omitempty"`
	AsOf        time.Time                `json:"as_of"`
}
