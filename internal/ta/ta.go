// Package ta holds the pure indicator math. Functions take an ordered slice
// of closes (oldest first), keep no state and are safe for concurrent use.
// Point indicators signal insufficient data with math.NaN(); series
// indicators return ErrInsufficientData.
package ta

import (
	"errors"
	"math"

	"portfolio-sentinel/internal/types"
)

// ErrInsufficientData is returned when a series is shorter than the window
// an indicator needs. Callers omit the metric instead of propagating it.
var ErrInsufficientData = errors.New("insufficient data for indicator window")

// tradingDaysPerYear scales daily volatility to annual.
const tradingDaysPerYear = 252

// SMA is the trailing simple moving average over the last n closes.
func SMA(closes []float64, n int) float64 {
	if len(closes) < n || n <= 0 {
		return math.NaN()
	}
	sum := 0.0
	for i := len(closes) - n; i < len(closes); i++ {
		sum += closes[i]
	}
	return sum / float64(n)
}

// MASeries computes the full moving-average series. Output length is
// len(closes)-window+1; the leading window-1 points produce no value.
func MASeries(closes []float64, window int) ([]float64, error) {
	if window <= 0 || len(closes) < window {
		return nil, ErrInsufficientData
	}
	out := make([]float64, 0, len(closes)-window+1)
	sum := 0.0
	for i, c := range closes {
		sum += c
		if i >= window {
			sum -= closes[i-window]
		}
		if i >= window-1 {
			out = append(out, sum/float64(window))
		}
	}
	return out, nil
}

// RSI computes the rolling-average gain/loss RSI (not the Wilder
// exponential variant). Undefined until period+1 closes exist.
func RSI(closes []float64, period int) float64 {
	if len(closes) < period+1 || period <= 0 {
		return math.NaN()
	}
	gain, loss := 0.0, 0.0
	for i := len(closes) - period; i < len(closes); i++ {
		d := closes[i] - closes[i-1]
		if d > 0 {
			gain += d
		} else {
			loss -= d
		}
	}
	if loss == 0 {
		if gain == 0 {
			return 50.0
		}
		return 100.0
	}
	rs := (gain / float64(period)) / (loss / float64(period))
	return 100.0 - (100.0 / (1.0 + rs))
}

// RSIZone classifies an RSI reading: <30 oversold, [30,50) weak,
// [50,70) bullish, >=70 overbought.
func RSIZone(rsi float64) types.RSIZoneLabel {
	switch {
	case math.IsNaN(rsi):
		return ""
	case rsi < 30:
		return types.RSIOversold
	case rsi < 50:
		return types.RSIWeak
	case rsi < 70:
		return types.RSIBullish
	default:
		return types.RSIOverbought
	}
}

// EMA computes the exponential moving average seeded with the SMA of the
// first period closes.
func EMA(closes []float64, period int) float64 {
	series := emaSeries(closes, period)
	if series == nil {
		return math.NaN()
	}
	return series[len(series)-1]
}

// emaSeries returns EMA values aligned so that series[i] corresponds to
// closes[i+period-1]. Nil when there are fewer than period closes.
func emaSeries(closes []float64, period int) []float64 {
	if period <= 0 || len(closes) < period {
		return nil
	}
	mult := 2.0 / float64(period+1)
	seed := 0.0
	for _, c := range closes[:period] {
		seed += c
	}
	seed /= float64(period)

	out := make([]float64, 0, len(closes)-period+1)
	out = append(out, seed)
	ema := seed
	for _, c := range closes[period:] {
		ema = (c-ema)*mult + ema
		out = append(out, ema)
	}
	return out
}

// MACD returns the MACD line, signal line and histogram for the latest
// close. All three are NaN until slow+signal-1 closes exist.
func MACD(closes []float64, fast, slow, signal int) (macd, signalLine, hist float64) {
	nan := math.NaN()
	if fast <= 0 || slow <= fast || signal <= 0 || len(closes) < slow+signal-1 {
		return nan, nan, nan
	}
	fastS := emaSeries(closes, fast)
	slowS := emaSeries(closes, slow)

	// Both series end at the latest close; trim the fast one to the slow
	// one's coverage before differencing.
	offset := len(fastS) - len(slowS)
	macdLine := make([]float64, len(slowS))
	for i := range slowS {
		macdLine[i] = fastS[i+offset] - slowS[i]
	}

	sigS := emaSeries(macdLine, signal)
	if sigS == nil {
		return nan, nan, nan
	}
	macd = macdLine[len(macdLine)-1]
	signalLine = sigS[len(sigS)-1]
	return macd, signalLine, macd - signalLine
}

// MACDRead reduces a histogram value to the Positive/Negative label used by
// the snapshot.
func MACDRead(hist float64) string {
	switch {
	case math.IsNaN(hist):
		return ""
	case hist >= 0:
		return "Positive"
	default:
		return "Negative"
	}
}

// StdDev is the population standard deviation over the last n values.
func StdDev(vals []float64, n int) float64 {
	if len(vals) < n || n <= 0 {
		return math.NaN()
	}
	m := SMA(vals, n)
	s := 0.0
	for i := len(vals) - n; i < len(vals); i++ {
		d := vals[i] - m
		s += d * d
	}
	return math.Sqrt(s / float64(n))
}

// AnnualizedVolatility is the standard deviation of simple daily returns
// over the trailing window, scaled by sqrt(252). Needs window+1 closes.
func AnnualizedVolatility(closes []float64, window int) float64 {
	if window <= 0 || len(closes) < window+1 {
		return math.NaN()
	}
	rets := make([]float64, 0, window)
	for i := len(closes) - window; i < len(closes); i++ {
		if closes[i-1] == 0 {
			return math.NaN()
		}
		rets = append(rets, closes[i]/closes[i-1]-1)
	}
	return StdDev(rets, window) * math.Sqrt(tradingDaysPerYear)
}

// RangePosition52w places price inside the 52-week [low, high] band as a
// 0-100 percentage, clamped. NaN when the band is degenerate.
func RangePosition52w(price, low52w, high52w float64) float64 {
	if high52w == low52w {
		return math.NaN()
	}
	pos := (price - low52w) / (high52w - low52w) * 100
	return math.Max(0, math.Min(100, pos))
}
