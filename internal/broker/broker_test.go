package broker

import (
	"context"
	"testing"
)

func TestStaticHoldingsDeterministic(t *testing.T) {
	b := New(Params{Mode: "DRY_RUN"})
	ctx := context.Background()

	accounts, err := b.Accounts(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(accounts) != 2 {
		t.Fatalf("expected 2 accounts, got %d", len(accounts))
	}

	first, err := b.Holdings(ctx, accounts[0].ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := b.Holdings(ctx, accounts[0].ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(first) != len(second) {
		t.Fatalf("holdings must be deterministic: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].Symbol != second[i].Symbol || first[i].Quantity != second[i].Quantity {
			t.Errorf("holding %d differs between calls", i)
		}
	}

	var options int
	for _, h := range first {
		if h.IsOption {
			options++
			if h.Option == nil || h.Option.Strike == 0 {
				t.Error("option holding must carry option fields")
			}
		}
	}
	if options == 0 {
		t.Error("static portfolio should include an option position")
	}
}

func TestParseOptionSymbol(t *testing.T) {
	cases := []struct {
		symbol string
		strike float64
	}{
		{"NIFTY24DEC24000CE", 24000},
		{"BANKNIFTY24JAN48500PE", 48500},
	}
	for _, c := range cases {
		opt := parseOptionSymbol(c.symbol)
		if opt == nil {
			t.Errorf("%s: expected option fields", c.symbol)
			continue
		}
		if opt.Strike != c.strike {
			t.Errorf("%s: expected strike %v, got %v", c.symbol, c.strike, opt.Strike)
		}
	}

	for _, sym := range []string{"RELIANCE", "NIFTY24DECFUT", "CE"} {
		if parseOptionSymbol(sym) != nil {
			t.Errorf("%s: should not parse as option", sym)
		}
	}
}
