package market

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestNormalizeSymbol(t *testing.T) {
	cases := map[string]string{
		"$BRK.B": "BRK-B",
		"BRK.B":  "BRK-B",
		"AAPL":   "AAPL",
		"$SPY":   "SPY",
	}
	for in, want := range cases {
		if got := NormalizeSymbol(in); got != want {
			t.Errorf("NormalizeSymbol(%q): expected %q, got %q", in, want, got)
		}
	}
}

const chartBody = `{"chart":{"result":[{
  "meta":{"regularMarketPrice":103.5,"chartPreviousClose":100.0},
  "timestamp":[1700000000,1700086400,1700172800],
  "indicators":{"quote":[{
    "open":[100.0,null,102.0],
    "high":[101.0,null,104.0],
    "low":[99.0,null,101.5],
    "close":[100.5,null,103.5],
    "volume":[1000,null,2500]
  }]}
}],"error":null}}`

func TestHistorySkipsNullBars(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(chartBody))
	}))
	defer srv.Close()

	y := NewYahoo(srv.URL, 5*time.Second)
	series, err := y.History(context.Background(), "AAPL", "1y", "1d")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(series.Bars) != 2 {
		t.Fatalf("expected 2 bars after skipping the null one, got %d", len(series.Bars))
	}
	if series.Bars[1].Close != 103.5 || series.Bars[1].Volume != 2500 {
		t.Errorf("unexpected last bar %+v", series.Bars[1])
	}
	if err := series.Validate(); err != nil {
		t.Errorf("series must be strictly ascending: %v", err)
	}
}

func TestQuoteFromChartMeta(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(chartBody))
	}))
	defer srv.Close()

	y := NewYahoo(srv.URL, 5*time.Second)
	q, err := y.Quote(context.Background(), "AAPL")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q.Price != 103.5 || q.PrevClose != 100.0 {
		t.Errorf("unexpected quote %+v", q)
	}
}

func TestRateLimitMapped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	y := NewYahoo(srv.URL, 5*time.Second)
	_, err := y.History(context.Background(), "AAPL", "1y", "1d")
	if !errors.Is(err, ErrRateLimited) {
		t.Errorf("expected ErrRateLimited, got %v", err)
	}
}

func TestSparseFundamentalsNotFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"quoteSummary":{"result":[],"error":{"code":"Not Found"}}}`))
	}))
	defer srv.Close()

	y := NewYahoo(srv.URL, 5*time.Second)
	f, err := y.Fundamentals(context.Background(), "SPY")
	if err != nil {
		t.Fatalf("sparse fundamentals must not be an error: %v", err)
	}
	if f.Sector != nil || f.High52w != nil {
		t.Errorf("expected empty fundamentals, got %+v", f)
	}
}
