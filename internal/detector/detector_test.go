package detector

import (
	"reflect"
	"testing"
	"time"

	"portfolio-sentinel/internal/types"
)

func testConfig() Config {
	return Config{
		GapThreshold:      0.02,
		GapVolumeRatio:    1.5,
		MAProximityPct:    0.05,
		NearHighPct:       0.05,
		BreakoutVolume50:  1.5,
		BreakoutVolume200: 2.0,
		AvgVolumeWindow:   20,
	}
}

// makeSeries builds a daily series from parallel close/volume slices. The
// last bar's open can be set independently to shape gap scenarios.
func makeSeries(symbol string, closes, volumes []float64, lastOpen float64) *types.PriceSeries {
	start := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	bars := make([]types.PriceBar, len(closes))
	for i := range closes {
		open := closes[i]
		if i == len(closes)-1 {
			open = lastOpen
		}
		bars[i] = types.PriceBar{
			Date:   start.AddDate(0, 0, i),
			Open:   open,
			High:   closes[i],
			Low:    closes[i],
			Close:  closes[i],
			Volume: volumes[i],
		}
	}
	return &types.PriceSeries{Symbol: symbol, Bars: bars, Period: "1y", Interval: "1d"}
}

func repeat(v float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func ofKind(signals []types.Signal, kind types.SignalKind) []types.Signal {
	var out []types.Signal
	for _, s := range signals {
		if s.Kind == kind {
			out = append(out, s)
		}
	}
	return out
}

func TestGapDetection(t *testing.T) {
	closes := repeat(100, 30)
	closes[len(closes)-1] = 103
	volumes := repeat(1e6, 30)
	volumes[len(volumes)-1] = 2e6

	// Open 103 against a prior close of 100 on 2x volume: bullish gap.
	inputs := map[string]Input{
		"AAPL": {Series: makeSeries("AAPL", closes, volumes, 103)},
	}
	gaps := ofKind(DetectAll(testConfig(), inputs, nil), types.SignalGap)
	if len(gaps) != 1 {
		t.Fatalf("expected one gap signal, got %d", len(gaps))
	}
	if gaps[0].Direction != types.Bullish {
		t.Errorf("expected bullish gap, got %s", gaps[0].Direction)
	}
	if got := gaps[0].Metrics["gap_pct"]; got < 2.9 || got > 3.1 {
		t.Errorf("expected gap_pct around 3.0, got %f", got)
	}

	// Same volume but only +1%: below threshold, no signal.
	closes[len(closes)-1] = 101
	inputs["AAPL"] = Input{Series: makeSeries("AAPL", closes, volumes, 101)}
	if gaps := ofKind(DetectAll(testConfig(), inputs, nil), types.SignalGap); len(gaps) != 0 {
		t.Errorf("expected no gap signal at +1%%, got %d", len(gaps))
	}
}

func TestGapWithoutVolumeConfirmIsSuppressed(t *testing.T) {
	closes := repeat(100, 30)
	closes[len(closes)-1] = 103
	volumes := repeat(1e6, 30) // last volume equals the average

	inputs := map[string]Input{
		"AAPL": {Series: makeSeries("AAPL", closes, volumes, 103)},
	}
	if gaps := ofKind(DetectAll(testConfig(), inputs, nil), types.SignalGap); len(gaps) != 0 {
		t.Errorf("a 3%% gap on average volume must not signal, got %d", len(gaps))
	}
}

func TestDownGapIsBearish(t *testing.T) {
	closes := repeat(100, 30)
	closes[len(closes)-1] = 96
	volumes := repeat(1e6, 30)
	volumes[len(volumes)-1] = 2e6

	inputs := map[string]Input{
		"XOM": {Series: makeSeries("XOM", closes, volumes, 96)},
	}
	gaps := ofKind(DetectAll(testConfig(), inputs, nil), types.SignalGap)
	if len(gaps) != 1 || gaps[0].Direction != types.Bearish {
		t.Fatalf("expected one bearish gap, got %+v", gaps)
	}
}

func TestMABreakout(t *testing.T) {
	closes := repeat(100, 51)
	closes[50] = 106
	volumes := repeat(1e6, 51)
	volumes[50] = 1.6e6

	// Crossing the 50d MA upward on 1.6x volume confirms.
	inputs := map[string]Input{
		"NVDA": {Series: makeSeries("NVDA", closes, volumes, 100)},
	}
	breaks := ofKind(DetectAll(testConfig(), inputs, nil), types.SignalMABreakout)
	if len(breaks) != 1 {
		t.Fatalf("expected one breakout, got %d", len(breaks))
	}
	if breaks[0].Direction != types.Bullish {
		t.Errorf("expected bullish breakout, got %s", breaks[0].Direction)
	}
	if got := breaks[0].Metrics["ma_window"]; got != 50 {
		t.Errorf("expected 50d window, got %f", got)
	}

	// Same crossing on 1.2x volume: unconfirmed, no signal.
	volumes[50] = 1.2e6
	inputs["NVDA"] = Input{Series: makeSeries("NVDA", closes, volumes, 100)}
	if breaks := ofKind(DetectAll(testConfig(), inputs, nil), types.SignalMABreakout); len(breaks) != 0 {
		t.Errorf("expected no breakout at 1.2x volume, got %d", len(breaks))
	}
}

func TestBelow200MA(t *testing.T) {
	closes := repeat(100, 201)
	closes[200] = 90
	volumes := repeat(1e6, 201)

	inputs := map[string]Input{
		"INTC": {Series: makeSeries("INTC", closes, volumes, 100)},
	}
	below := ofKind(DetectAll(testConfig(), inputs, nil), types.SignalBelow200MA)
	if len(below) != 1 {
		t.Fatalf("expected one below-200 signal, got %d", len(below))
	}
	if below[0].Direction != types.Bearish {
		t.Errorf("expected bearish, got %s", below[0].Direction)
	}
}

func TestNear52wHighPrefersProviderValue(t *testing.T) {
	closes := repeat(100, 30)
	volumes := repeat(1e6, 30)
	high := 102.0

	inputs := map[string]Input{
		"MSFT": {Series: makeSeries("MSFT", closes, volumes, 100), High52w: &high},
	}
	near := ofKind(DetectAll(testConfig(), inputs, nil), types.SignalNear52wHigh)
	if len(near) != 1 {
		t.Fatalf("expected one near-high signal, got %d", len(near))
	}
	if got := near[0].Metrics["high_52w"]; got != 102 {
		t.Errorf("expected provider high 102, got %f", got)
	}

	// Far below the high: no signal.
	farHigh := 140.0
	inputs["MSFT"] = Input{Series: makeSeries("MSFT", closes, volumes, 100), High52w: &farHigh}
	if near := ofKind(DetectAll(testConfig(), inputs, nil), types.SignalNear52wHigh); len(near) != 0 {
		t.Errorf("expected no near-high signal 28%% off the high, got %d", len(near))
	}
}

func TestGoldenCross(t *testing.T) {
	closes := repeat(100, 201)
	closes[200] = 110
	volumes := repeat(1e6, 201)

	inputs := map[string]Input{
		"AMD": {Series: makeSeries("AMD", closes, volumes, 100)},
	}
	got := DetectAll(testConfig(), inputs, nil)
	if g := ofKind(got, types.SignalGoldenCross); len(g) != 1 || g[0].Direction != types.Bullish {
		t.Fatalf("expected one bullish golden cross, got %+v", g)
	}
	if d := ofKind(got, types.SignalDeathCross); len(d) != 0 {
		t.Errorf("golden cross scenario must not also emit a death cross")
	}
}

func TestDeathCross(t *testing.T) {
	closes := repeat(100, 201)
	closes[200] = 90
	volumes := repeat(1e6, 201)

	inputs := map[string]Input{
		"T": {Series: makeSeries("T", closes, volumes, 100)},
	}
	d := ofKind(DetectAll(testConfig(), inputs, nil), types.SignalDeathCross)
	if len(d) != 1 || d[0].Direction != types.Bearish {
		t.Fatalf("expected one bearish death cross, got %+v", d)
	}
}

func TestShortSeriesEmitsNothing(t *testing.T) {
	inputs := map[string]Input{
		"NEW": {Series: makeSeries("NEW", repeat(100, 3), repeat(1e6, 3), 100)},
		"NIL": {},
	}
	got := DetectAll(testConfig(), inputs, nil)
	// Only proximity-free kinds are impossible here; a 3-bar flat series
	// still sits at its own high, which is the one rule needing no window.
	for _, s := range got {
		if s.Kind != types.SignalNear52wHigh {
			t.Errorf("unexpected %s on a 3-bar series", s.Kind)
		}
	}
}

func TestOrderingAndIdempotence(t *testing.T) {
	bull := repeat(100, 30)
	bull[29] = 103
	bullVol := repeat(1e6, 30)
	bullVol[29] = 2e6

	bear := repeat(100, 30)
	bear[29] = 96
	bearVol := repeat(1e6, 30)
	bearVol[29] = 2e6

	inputs := map[string]Input{
		"ZZZ": {Series: makeSeries("ZZZ", bull, bullVol, 103)},
		"AAA": {Series: makeSeries("AAA", bear, bearVol, 96)},
	}

	first := DetectAll(testConfig(), inputs, nil)
	second := DetectAll(testConfig(), inputs, nil)
	if !reflect.DeepEqual(first, second) {
		t.Fatal("identical inputs must produce identical signal sets")
	}

	for i := 1; i < len(first); i++ {
		if first[i].Less(first[i-1]) {
			t.Fatalf("signals out of order at %d: %+v before %+v", i, first[i-1], first[i])
		}
	}
	if len(first) == 0 || first[0].Direction != types.Bullish {
		t.Errorf("bullish signals must sort first, got %+v", first)
	}
	if last := first[len(first)-1]; last.Direction != types.Bearish {
		t.Errorf("bearish signals must sort last, got %+v", last)
	}
}

func TestHoldingsAnnotation(t *testing.T) {
	closes := repeat(100, 30)
	closes[29] = 103
	volumes := repeat(1e6, 30)
	volumes[29] = 2e6

	inputs := map[string]Input{
		"AAPL": {Series: makeSeries("AAPL", closes, volumes, 103)},
	}
	holdings := []types.Holding{
		{Symbol: "AAPL", AccountID: "ACC-001", Quantity: 10},
		{Symbol: "AAPL", AccountID: "ACC-002", Quantity: 5},
		{Symbol: "AAPL", AccountID: "ACC-002", Quantity: 2}, // same account twice
	}
	gaps := ofKind(DetectAll(testConfig(), inputs, holdings), types.SignalGap)
	if len(gaps) != 1 {
		t.Fatalf("expected one gap signal, got %d", len(gaps))
	}
	if got := gaps[0].Metrics["held_accounts"]; got != 2 {
		t.Errorf("expected 2 distinct holding accounts, got %f", got)
	}
}
