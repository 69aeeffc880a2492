// Package detector classifies discrete trading events from price series
// whose indicator inputs are already resident. Detection is a pure function
// of its inputs: no I/O, no cache access, no wall clock. Identical inputs
// always produce the identical ordered signal set.
package detector

import (
	"math"
	"sort"

	"portfolio-sentinel/internal/ta"
	"portfolio-sentinel/internal/types"
)

// Config holds the detection thresholds. Zero values are not defaulted
// here; callers pass a fully populated config (see store.Config).
type Config struct {
	GapThreshold      float64 // fractional, e.g. 0.02
	GapVolumeRatio    float64 // e.g. 1.5
	MAProximityPct    float64 // fractional, e.g. 0.05
	NearHighPct       float64 // fractional, e.g. 0.05
	BreakoutVolume50  float64 // e.g. 1.5
	BreakoutVolume200 float64 // stricter: a 200d break is a regime change
	AvgVolumeWindow   int     // e.g. 20
}

// Input is the per-symbol material for one detection pass.
type Input struct {
	Series  *types.PriceSeries
	High52w *float64 // closing-price 52w high; derived from the series when nil
	Low52w  *float64
}

// DetectAll runs every rule over every symbol and returns one ordered
// sequence: bullish first, bearish last, ties alphabetical by symbol then
// by kind. Holdings annotate how many accounts hold each signaled symbol.
func DetectAll(cfg Config, inputs map[string]Input, holdings []types.Holding) []types.Signal {
	heldAccounts := make(map[string]int)
	seen := make(map[string]map[string]bool)
	for _, h := range holdings {
		if seen[h.Symbol] == nil {
			seen[h.Symbol] = make(map[string]bool)
		}
		if !seen[h.Symbol][h.AccountID] {
			seen[h.Symbol][h.AccountID] = true
			heldAccounts[h.Symbol]++
		}
	}

	// Map iteration order is randomized; fix the symbol order up front so
	// the pass is reproducible before the final sort even runs.
	symbols := make([]string, 0, len(inputs))
	for sym := range inputs {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	var signals []types.Signal
	for _, sym := range symbols {
		in := inputs[sym]
		if in.Series == nil || len(in.Series.Bars) == 0 {
			continue
		}
		ss := detectSymbol(cfg, sym, in)
		for i := range ss {
			if n, ok := heldAccounts[sym]; ok {
				ss[i].Metrics["held_accounts"] = float64(n)
			}
		}
		signals = append(signals, ss...)
	}

	sort.SliceStable(signals, func(i, j int) bool {
		return signals[i].Less(signals[j])
	})
	return signals
}

func detectSymbol(cfg Config, symbol string, in Input) []types.Signal {
	series := in.Series
	bars := series.Bars
	closes := series.Closes()
	volumes := series.Volumes()
	last := bars[len(bars)-1]
	price := last.Close
	asOf := last.Date

	var out []types.Signal
	emit := func(kind types.SignalKind, dir types.Direction, metrics map[string]float64) {
		metrics["price"] = price
		out = append(out, types.Signal{
			Kind:      kind,
			Symbol:    symbol,
			Direction: dir,
			Metrics:   metrics,
			AsOfDate:  asOf,
		})
	}

	volRatio := volumeRatio(volumes, cfg.AvgVolumeWindow)

	// Gap: open jumps against the prior close on confirming volume.
	if len(bars) >= 2 {
		prevClose := bars[len(bars)-2].Close
		if prevClose > 0 && !math.IsNaN(volRatio) {
			gapPct := (last.Open - prevClose) / prevClose
			if math.Abs(gapPct) >= cfg.GapThreshold && volRatio >= cfg.GapVolumeRatio {
				dir := types.Bullish
				if gapPct < 0 {
					dir = types.Bearish
				}
				emit(types.SignalGap, dir, map[string]float64{
					"gap_pct":      gapPct * 100,
					"volume_ratio": volRatio,
					"prev_close":   prevClose,
					"open":         last.Open,
				})
			}
		}
	}

	ma50 := ta.SMA(closes, 50)
	ma200 := ta.SMA(closes, 200)

	// MA proximity: within the band of either long MA, trend-agnostic.
	for _, m := range []struct {
		window int
		value  float64
	}{{50, ma50}, {200, ma200}} {
		if math.IsNaN(m.value) || m.value == 0 {
			continue
		}
		offset := (price - m.value) / m.value
		if math.Abs(offset) <= cfg.MAProximityPct {
			emit(types.SignalMAProximity, types.Neutral, map[string]float64{
				"ma_window":  float64(m.window),
				"ma_value":   m.value,
				"pct_offset": offset * 100,
			})
		}
	}

	// Below 200d MA: pure trend-state flag, at most one per symbol per pass.
	if !math.IsNaN(ma200) && price < ma200 {
		emit(types.SignalBelow200MA, types.Bearish, map[string]float64{
			"ma_value":  ma200,
			"pct_below": (price - ma200) / ma200 * 100,
		})
	}

	// Near 52w high, closing-price based.
	high52 := high52w(in, closes)
	if high52 > 0 {
		fromHigh := (high52 - price) / high52
		if fromHigh <= cfg.NearHighPct {
			emit(types.SignalNear52wHigh, types.Bullish, map[string]float64{
				"high_52w":      high52,
				"pct_from_high": fromHigh * 100,
			})
		}
	}

	// MA breakouts: the close crosses its MA between the last two bars,
	// confirmed by volume. A 200d break demands a stricter multiple than
	// a 50d one.
	if !math.IsNaN(volRatio) && len(closes) >= 2 {
		prevClose := closes[len(closes)-2]
		for _, b := range []struct {
			window  int
			confirm float64
		}{{50, cfg.BreakoutVolume50}, {200, cfg.BreakoutVolume200}} {
			maNow, maPrev, ok := lastTwoMA(closes, b.window)
			if !ok || volRatio < b.confirm {
				continue
			}
			var dir types.Direction
			switch {
			case price > maNow && prevClose <= maPrev:
				dir = types.Bullish
			case price < maNow && prevClose >= maPrev:
				dir = types.Bearish
			default:
				continue
			}
			emit(types.SignalMABreakout, dir, map[string]float64{
				"ma_window":    float64(b.window),
				"ma_value":     maNow,
				"volume_ratio": volRatio,
			})
		}
	}

	// Golden/death cross: the same two-bar crossing rule, applied to the
	// 50d MA against the 200d MA instead of price against an MA.
	if ma50Now, ma50Prev, ok := lastTwoMA(closes, 50); ok {
		if ma200Now, ma200Prev, ok := lastTwoMA(closes, 200); ok {
			switch {
			case ma50Now > ma200Now && ma50Prev <= ma200Prev:
				emit(types.SignalGoldenCross, types.Bullish, map[string]float64{
					"ma_50": ma50Now, "ma_200": ma200Now,
				})
			case ma50Now < ma200Now && ma50Prev >= ma200Prev:
				emit(types.SignalDeathCross, types.Bearish, map[string]float64{
					"ma_50": ma50Now, "ma_200": ma200Now,
				})
			}
		}
	}

	return out
}

// lastTwoMA returns the moving average at the last bar and the bar before
// it. ok is false when the series is too short for two MA points.
func lastTwoMA(closes []float64, window int) (now, prev float64, ok bool) {
	series, err := ta.MASeries(closes, window)
	if err != nil || len(series) < 2 {
		return 0, 0, false
	}
	return series[len(series)-1], series[len(series)-2], true
}

// volumeRatio compares the latest volume to the mean of the window
// preceding it (the latest bar is excluded from the average).
func volumeRatio(volumes []float64, window int) float64 {
	if window <= 0 || len(volumes) < window+1 {
		return math.NaN()
	}
	sum := 0.0
	for i := len(volumes) - window - 1; i < len(volumes)-1; i++ {
		sum += volumes[i]
	}
	avg := sum / float64(window)
	if avg == 0 {
		return math.NaN()
	}
	return volumes[len(volumes)-1] / avg
}

func high52w(in Input, closes []float64) float64 {
	if in.High52w != nil && *in.High52w > 0 {
		return *in.High52w
	}
	high := 0.0
	for _, c := range closes {
		if c > high {
			high = c
		}
	}
	return high
}
