package earnings

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestSymbolClassification(t *testing.T) {
	for _, sym := range []string{"SPY", "$QQQ", "voo"} {
		if !IsIndexFund(sym) {
			t.Errorf("%s should classify as index fund", sym)
		}
	}
	for _, sym := range []string{"AAPL", "GOOGL", "UBER"} {
		if IsIndexFund(sym) || IsWarrantOrUnit(sym) {
			t.Errorf("%s should be a plain equity", sym)
		}
	}
	for _, sym := range []string{"ABC.WS", "abc-ws", "XYZ/WS", "SPAC.U"} {
		if !IsWarrantOrUnit(sym) {
			t.Errorf("%s should classify as warrant/unit", sym)
		}
	}
}

func TestIndexFundSkipsScrape(t *testing.T) {
	s := NewScraper(time.Second)
	got, err := s.NextEarnings(context.Background(), "SPY")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Date != nil || got.DaysUntil != nil {
		t.Errorf("index fund must have no earnings date, got %+v", got)
	}
}

func TestScrapeParsesDateAndTiming(t *testing.T) {
	page := `<html><body><table id="cal"><tbody>
		<tr><td class="date">Feb 15, 2026</td><td class="when">After Market Close</td></tr>
	</tbody></table></body></html>`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(page))
	}))
	defer srv.Close()

	s := &Scraper{
		timeout: 2 * time.Second,
		sources: []Source{{
			Name:         "test",
			URLTemplate:  srv.URL + "/{symbol}",
			RowSelector:  "table#cal tbody tr",
			DateSelector: "td.date",
			TimeSelector: "td.when",
			DateLayouts:  []string{"Jan 2, 2006"},
		}},
	}

	got, err := s.NextEarnings(context.Background(), "AAPL")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Date == nil {
		t.Fatal("expected a parsed earnings date")
	}
	want := time.Date(2026, 2, 15, 0, 0, 0, 0, time.UTC)
	if !got.Date.Equal(want) {
		t.Errorf("expected %s, got %s", want, got.Date)
	}
	if got.Timing != "AMC" {
		t.Errorf("expected AMC timing, got %q", got.Timing)
	}
	if got.DaysUntil == nil {
		t.Error("expected days-until to be computed")
	}
}

func TestUnreachableSourceIsNotFatal(t *testing.T) {
	s := &Scraper{
		timeout: 500 * time.Millisecond,
		sources: []Source{{
			Name:        "dead",
			URLTemplate: "http://127.0.0.1:1/{symbol}",
			RowSelector: "tr",
			DateLayouts: []string{"Jan 2, 2006"},
		}},
	}
	got, err := s.NextEarnings(context.Background(), "AAPL")
	if err != nil {
		t.Fatalf("unreachable source must degrade to unknown, got error %v", err)
	}
	if got.Date != nil {
		t.Errorf("expected unknown earnings date, got %+v", got)
	}
}
