// Package engine drives the two-phase fetch pipeline: FETCHING pulls
// holdings, history and quotes through the cache; ANALYZING runs detection
// and enriches with fundamentals and earnings dates, retrying transient
// failures with backoff. Every provider call goes through the cache layer,
// and every result is gated on the generation token so superseded work is
// discarded instead of merged.
package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"portfolio-sentinel/internal/broker"
	"portfolio-sentinel/internal/cache"
	"portfolio-sentinel/internal/detector"
	"portfolio-sentinel/internal/interfaces"
	"portfolio-sentinel/internal/logger"
	"portfolio-sentinel/internal/phase"
	"portfolio-sentinel/internal/store"
	"portfolio-sentinel/internal/ta"
	"portfolio-sentinel/internal/types"
)

// optionMultiplier is the contract size for US equity options.
const optionMultiplier = 100

// PartialFetchFailure reports which per-symbol or per-account fetches failed
// while the batch as a whole completed.
type PartialFetchFailure struct {
	Failures map[string]string // "dataset:key" -> error text
}

func (e *PartialFetchFailure) Error() string {
	return fmt.Sprintf("%d fetches failed", len(e.Failures))
}

// Caches groups the per-dataset TTL caches. One instance is shared across
// all fetch generations; the cache key space is generation-independent.
type Caches struct {
	History      *cache.Cache[*types.PriceSeries]
	Quotes       *cache.Cache[*types.Quote]
	Fundamentals *cache.Cache[*types.Fundamentals]
	Holdings     *cache.Cache[[]types.Holding]
	Equity       *cache.Cache[types.AccountEquity]
	Earnings     *cache.Cache[*types.EarningsDate]
}

// NewCaches creates empty caches for every dataset.
func NewCaches() *Caches {
	return &Caches{
		History:      cache.New[*types.PriceSeries](),
		Quotes:       cache.New[*types.Quote](),
		Fundamentals: cache.New[*types.Fundamentals](),
		Holdings:     cache.New[[]types.Holding](),
		Equity:       cache.New[types.AccountEquity](),
		Earnings:     cache.New[*types.EarningsDate](),
	}
}

// StartSweepers launches the background expiry sweep on every cache.
func (c *Caches) StartSweepers(ctx context.Context, interval time.Duration) {
	c.History.StartSweeper(ctx, interval)
	c.Quotes.StartSweeper(ctx, interval)
	c.Fundamentals.StartSweeper(ctx, interval)
	c.Holdings.StartSweeper(ctx, interval)
	c.Equity.StartSweeper(ctx, interval)
	c.Earnings.StartSweeper(ctx, interval)
}

// fetchVia routes a read through the cache, forcing a refetch when asked.
// A forced refetch that fails falls back to the resident entry; stale
// reports that degraded path so callers can log it.
func fetchVia[V any](ctx context.Context, c *cache.Cache[V], key string, ttl time.Duration, force bool, fetch func(ctx context.Context) (V, error)) (v V, stale bool, err error) {
	if force {
		return c.ForceRefresh(ctx, key, ttl, fetch)
	}
	v, err = c.GetOrFetch(ctx, key, ttl, fetch)
	return v, false, err
}

// SubscriberFunc receives every published snapshot.
type SubscriberFunc func(types.Snapshot)

// Engine is the fetch orchestrator.
type Engine struct {
	cfg      *store.Config
	brk      interfaces.Broker
	market   interfaces.MarketData
	earnings interfaces.EarningsSource
	caches   *Caches
	tracker  *phase.Tracker

	mu       sync.RWMutex
	snapshot types.Snapshot
	working  workingSet
	subs     []SubscriberFunc

	// sleep is swappable so retry tests run without wall-clock waits.
	sleep func(ctx context.Context, d time.Duration) error
}

// workingSet is the mutable state of the in-flight generation. It is folded
// into an immutable Snapshot at every publication point. gen tags the set
// with its owning generation; all writes go through applyWorking so a
// superseded generation's results are dropped, never merged.
type workingSet struct {
	gen        uint64
	holdings   []types.Holding
	valuations []types.HoldingValuation
	equity     []types.AccountEquity
	signals    []types.Signal
	metrics    map[string]types.SymbolMetrics
	errors     map[string]string
	authDead   bool
}

// New wires the orchestrator. The tracker's transition hook republishes the
// snapshot on every phase change.
func New(cfg *store.Config, brk interfaces.Broker, market interfaces.MarketData, earnings interfaces.EarningsSource, caches *Caches) *Engine {
	e := &Engine{
		cfg:      cfg,
		brk:      brk,
		market:   market,
		earnings: earnings,
		caches:   caches,
		tracker:  phase.NewTracker(),
		sleep:    sleepCtx,
	}
	e.snapshot = types.Snapshot{Phase: types.PhaseIdle, Metrics: map[string]types.SymbolMetrics{}}
	e.tracker.OnTransition(func(p types.LoadingPhase, gen uint64) {
		e.publish(p, gen)
	})
	return e
}

// Subscribe registers a snapshot consumer. Subscribers are invoked
// synchronously on every phase transition, in registration order.
func (e *Engine) Subscribe(fn SubscriberFunc) {
	e.mu.Lock()
	e.subs = append(e.subs, fn)
	e.mu.Unlock()
}

// Snapshot returns the last published snapshot.
func (e *Engine) Snapshot() types.Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.snapshot
}

// Busy reports whether a fetch generation is in flight.
func (e *Engine) Busy() bool { return e.tracker.Busy() }

// applyWorking mutates the working set on behalf of gen. The generation
// check and the mutation share one critical section: a writer that checked
// freshness outside the lock cannot land its results after a newer
// generation has reset the set.
func (e *Engine) applyWorking(gen uint64, fn func(w *workingSet)) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.working.gen != gen || !e.tracker.StillCurrent(gen) {
		return false
	}
	fn(&e.working)
	return true
}

// publish folds the working set into an immutable snapshot and fans it out.
func (e *Engine) publish(p types.LoadingPhase, gen uint64) {
	e.mu.Lock()
	snap := types.Snapshot{
		Generation:  gen,
		Phase:       p,
		Busy:        p != types.PhaseIdle,
		Signals:     append([]types.Signal(nil), e.working.signals...),
		Metrics:     copyMetrics(e.working.metrics),
		Holdings:    append([]types.Holding(nil), e.working.holdings...),
		Valuations:  append([]types.HoldingValuation(nil), e.working.valuations...),
		Equity:      append([]types.AccountEquity(nil), e.working.equity...),
		Errors:      copyErrors(e.working.errors),
		AuthExpired: e.working.authDead,
		AsOf:        time.Now().UTC(),
	}
	e.snapshot = snap
	subs := append([]SubscriberFunc(nil), e.subs...)
	e.mu.Unlock()

	for _, fn := range subs {
		fn(snap)
	}
}

// FetchAll runs one full pipeline generation and returns the resulting
// snapshot. Per-symbol and per-account failures do not abort the batch; they
// come back inside a *PartialFetchFailure. An expired broker session aborts
// the generation and surfaces as broker.ErrAuthExpired.
func (e *Engine) FetchAll(ctx context.Context) (types.Snapshot, error) {
	return e.run(ctx, false)
}

// Refresh runs a generation that refetches the volatile datasets (quotes,
// holdings, equity) even when their cache entries are still fresh. A failed
// forced refetch serves the stale entry rather than surfacing an error.
func (e *Engine) Refresh(ctx context.Context) (types.Snapshot, error) {
	return e.run(ctx, true)
}

func (e *Engine) run(ctx context.Context, force bool) (types.Snapshot, error) {
	gen := e.tracker.Begin()
	ctx, span := logger.StartPhaseSpan(ctx, "fetch", gen)
	defer span.End()
	logger.Info(ctx, "fetch started", "generation", gen)

	e.mu.Lock()
	e.working = workingSet{
		gen:     gen,
		metrics: map[string]types.SymbolMetrics{},
		errors:  map[string]string{},
	}
	e.mu.Unlock()

	holdings, equity, errs, err := e.fetchHoldings(ctx, force)
	if err != nil {
		e.applyWorking(gen, func(w *workingSet) {
			w.authDead = errors.Is(err, broker.ErrAuthExpired)
			w.errors["broker"] = err.Error()
		})
		e.idle(gen)
		return e.Snapshot(), err
	}

	symbols := e.symbolUniverse(holdings)
	histories, quotes := e.fetchMarketData(ctx, symbols, errs, force)

	stored := e.applyWorking(gen, func(w *workingSet) {
		w.holdings = holdings
		w.valuations = valuations(holdings)
		w.equity = equity
		w.errors = errs
	})
	if !stored {
		logger.Info(ctx, "generation superseded during fetch, discarding", "generation", gen)
		return e.Snapshot(), nil
	}

	if err := e.tracker.Advance(gen, types.PhaseAnalyzing); err != nil {
		return e.Snapshot(), nil
	}

	// First detection pass: series-derived highs only. Enrichment below
	// re-runs detection once provider fundamentals are in.
	e.analyze(gen, symbols, histories, quotes, nil, holdings)

	fundamentals, earnings := e.enrich(ctx, gen, symbols, errs)
	if !e.tracker.StillCurrent(gen) {
		logger.Info(ctx, "generation superseded during analyze, discarding", "generation", gen)
		return e.Snapshot(), nil
	}
	e.analyze(gen, symbols, histories, quotes, fundamentals, holdings)
	e.mergeEnrichment(gen, fundamentals, earnings)

	e.idle(gen)
	logger.Info(ctx, "fetch finished", "generation", gen, "symbols", len(symbols), "failures", len(errs))

	if len(errs) > 0 {
		return e.Snapshot(), &PartialFetchFailure{Failures: errs}
	}
	return e.Snapshot(), nil
}

func (e *Engine) idle(gen uint64) {
	if err := e.tracker.Advance(gen, types.PhaseIdle); err != nil {
		logger.Debug(context.Background(), "idle transition skipped", "generation", gen, "error", err)
	}
}

// fetchHoldings pulls every account's holdings and equity figures through
// the cache. Auth expiry on the accounts call is fatal to the generation; a
// single account's failure is isolated into errs.
func (e *Engine) fetchHoldings(ctx context.Context, force bool) ([]types.Holding, []types.AccountEquity, map[string]string, error) {
	errs := map[string]string{}
	accounts, err := e.brk.Accounts(ctx)
	if err != nil {
		return nil, nil, errs, fmt.Errorf("list accounts: %w", err)
	}

	var mu sync.Mutex
	var all []types.Holding
	var equities []types.AccountEquity
	var wg sync.WaitGroup
	sem := make(chan struct{}, e.cfg.Fetch.Parallelism)

	for _, acct := range accounts {
		wg.Add(1)
		go func(acct interfaces.Account) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			key := cache.Key("holdings", acct.ID)
			hs, stale, err := fetchVia(ctx, e.caches.Holdings, key, cache.TTLHoldings, force, func(ctx context.Context) ([]types.Holding, error) {
				return e.brk.Holdings(ctx, acct.ID)
			})
			if stale {
				logger.Info(ctx, "serving stale holdings after failed refresh", "account", acct.ID)
			}

			eqKey := cache.Key("equity", acct.ID)
			eq, eqStale, eqErr := fetchVia(ctx, e.caches.Equity, eqKey, cache.TTLHoldings, force, func(ctx context.Context) (types.AccountEquity, error) {
				today, previous, err := e.brk.Equity(ctx, acct.ID)
				if err != nil {
					return types.AccountEquity{}, err
				}
				eq := types.AccountEquity{AccountID: acct.ID, Today: today, Previous: previous}
				if previous != 0 {
					eq.ChangePct = (today - previous) / previous * 100
				}
				return eq, nil
			})
			if eqStale {
				logger.Info(ctx, "serving stale equity after failed refresh", "account", acct.ID)
			}

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs[key] = err.Error()
			} else {
				all = append(all, hs...)
			}
			if eqErr != nil {
				errs[eqKey] = eqErr.Error()
			} else {
				equities = append(equities, eq)
			}
		}(acct)
	}
	wg.Wait()

	sort.Slice(all, func(i, j int) bool {
		if all[i].AccountID != all[j].AccountID {
			return all[i].AccountID < all[j].AccountID
		}
		return all[i].Symbol < all[j].Symbol
	})
	sort.Slice(equities, func(i, j int) bool { return equities[i].AccountID < equities[j].AccountID })
	return all, equities, errs, nil
}

// symbolUniverse is the deduplicated union of held symbols and the
// configured watchlist, sorted for deterministic fan-out.
func (e *Engine) symbolUniverse(holdings []types.Holding) []string {
	set := map[string]bool{}
	for _, h := range holdings {
		set[h.Symbol] = true
	}
	for _, s := range e.cfg.Universe {
		set[s] = true
	}
	symbols := make([]string, 0, len(set))
	for s := range set {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)
	return symbols
}

// fetchMarketData fans out history and quote fetches with bounded
// parallelism. Failures land in errs keyed by dataset and symbol. Only
// quotes honor force; history freshness is governed by its TTL alone.
func (e *Engine) fetchMarketData(ctx context.Context, symbols []string, errs map[string]string, force bool) (map[string]*types.PriceSeries, map[string]*types.Quote) {
	histories := map[string]*types.PriceSeries{}
	quotes := map[string]*types.Quote{}

	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, e.cfg.Fetch.Parallelism)

	for _, sym := range symbols {
		wg.Add(1)
		go func(sym string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			histKey := cache.Key("history", sym, e.cfg.MarketData.Period, e.cfg.MarketData.Interval)
			series, histErr := e.caches.History.GetOrFetch(ctx, histKey, cache.TTLHistory, func(ctx context.Context) (*types.PriceSeries, error) {
				return e.market.History(ctx, sym, e.cfg.MarketData.Period, e.cfg.MarketData.Interval)
			})

			quoteKey := cache.Key("quote", sym)
			quote, quoteStale, quoteErr := fetchVia(ctx, e.caches.Quotes, quoteKey, cache.TTLQuote, force, func(ctx context.Context) (*types.Quote, error) {
				return e.market.Quote(ctx, sym)
			})
			if quoteStale {
				logger.Info(ctx, "serving stale quote after failed refresh", "symbol", sym)
			}

			mu.Lock()
			defer mu.Unlock()
			if histErr != nil {
				errs[histKey] = histErr.Error()
			} else {
				histories[sym] = series
			}
			if quoteErr != nil {
				errs[quoteKey] = quoteErr.Error()
			} else {
				quotes[sym] = quote
			}
		}(sym)
	}
	wg.Wait()
	return histories, quotes
}

// analyze runs detection and rebuilds the per-symbol metrics from whatever
// inputs are resident. Symbols whose history failed simply have no metrics.
// The results only land if gen still owns the working set.
func (e *Engine) analyze(gen uint64, symbols []string, histories map[string]*types.PriceSeries, quotes map[string]*types.Quote, fundamentals map[string]*types.Fundamentals, holdings []types.Holding) {
	inputs := map[string]detector.Input{}
	metrics := map[string]types.SymbolMetrics{}

	for _, sym := range symbols {
		series, ok := histories[sym]
		if !ok || series == nil || len(series.Bars) == 0 {
			continue
		}
		in := detector.Input{Series: series}
		if f := fundamentals[sym]; f != nil {
			in.High52w = f.High52w
			in.Low52w = f.Low52w
		}
		inputs[sym] = in
		metrics[sym] = symbolMetrics(sym, series, quotes[sym], fundamentals[sym])
	}

	signals := detector.DetectAll(detector.Config{
		GapThreshold:      e.cfg.Signals.GapThreshold,
		GapVolumeRatio:    e.cfg.Signals.GapVolumeRatio,
		MAProximityPct:    e.cfg.Signals.MAProximityPct,
		NearHighPct:       e.cfg.Signals.NearHighPct,
		BreakoutVolume50:  e.cfg.Signals.BreakoutVolume50,
		BreakoutVolume200: e.cfg.Signals.BreakoutVolume200,
		AvgVolumeWindow:   e.cfg.Signals.AvgVolumeWindow,
	}, inputs, holdings)

	e.applyWorking(gen, func(w *workingSet) {
		w.signals = signals
		w.metrics = metrics
	})
}

// enrich fetches fundamentals and earnings dates for every symbol, retrying
// failed symbols with exponential backoff while the generation stays
// current. Exhausted retries leave the fields absent; enrichment never
// fails the batch.
func (e *Engine) enrich(ctx context.Context, gen uint64, symbols []string, errs map[string]string) (map[string]*types.Fundamentals, map[string]*types.EarningsDate) {
	fundamentals := map[string]*types.Fundamentals{}
	earnings := map[string]*types.EarningsDate{}

	pending := append([]string(nil), symbols...)
	for attempt := 0; len(pending) > 0 && attempt <= e.cfg.Fetch.RetryMax; attempt++ {
		if !e.tracker.StillCurrent(gen) {
			return fundamentals, earnings
		}
		if attempt > 0 {
			if err := e.tracker.Advance(gen, types.PhaseRetrying); err != nil {
				return fundamentals, earnings
			}
			wait := backoff(e.cfg.Fetch.RetryBase, attempt)
			logger.Info(ctx, "enrichment retry", "generation", gen, "attempt", attempt, "pending", len(pending), "wait", wait)
			if err := e.sleep(ctx, wait); err != nil {
				return fundamentals, earnings
			}
			if err := e.tracker.Advance(gen, types.PhaseAnalyzing); err != nil {
				return fundamentals, earnings
			}
		}

		failed := e.enrichBatch(ctx, pending, fundamentals, earnings, errs)
		pending = failed
	}
	return fundamentals, earnings
}

// enrichBatch runs one enrichment pass. errs is aliased by the working set
// at this point, so mutations happen under the engine lock.
func (e *Engine) enrichBatch(ctx context.Context, symbols []string, fundamentals map[string]*types.Fundamentals, earnings map[string]*types.EarningsDate, errs map[string]string) []string {
	var failed []string
	var wg sync.WaitGroup
	sem := make(chan struct{}, e.cfg.Fetch.Parallelism)

	for _, sym := range symbols {
		wg.Add(1)
		go func(sym string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			fundKey := cache.Key("fundamentals", sym)
			f, fErr := e.caches.Fundamentals.GetOrFetch(ctx, fundKey, cache.TTLFundamentals, func(ctx context.Context) (*types.Fundamentals, error) {
				return e.market.Fundamentals(ctx, sym)
			})

			earnKey := cache.Key("earnings", sym)
			ed, eErr := e.caches.Earnings.GetOrFetch(ctx, earnKey, cache.TTLEarnings, func(ctx context.Context) (*types.EarningsDate, error) {
				return e.earnings.NextEarnings(ctx, sym)
			})

			e.mu.Lock()
			defer e.mu.Unlock()
			if fErr == nil {
				fundamentals[sym] = f
				delete(errs, fundKey)
			} else {
				errs[fundKey] = fErr.Error()
			}
			if eErr == nil {
				earnings[sym] = ed
				delete(errs, earnKey)
			} else {
				errs[earnKey] = eErr.Error()
			}
			if fErr != nil || eErr != nil {
				failed = append(failed, sym)
			}
		}(sym)
	}
	wg.Wait()

	sort.Strings(failed)
	return failed
}

// mergeEnrichment folds fundamentals and earnings into the working metrics,
// provided gen still owns the working set.
func (e *Engine) mergeEnrichment(gen uint64, fundamentals map[string]*types.Fundamentals, earnings map[string]*types.EarningsDate) {
	e.applyWorking(gen, func(w *workingSet) {
		for sym, m := range w.metrics {
			if f := fundamentals[sym]; f != nil && f.Sector != nil {
				m.Sector = *f.Sector
			}
			if ed := earnings[sym]; ed != nil && ed.Date != nil {
				m.Earnings = ed
			}
			w.metrics[sym] = m
		}
	})
}

// backoff returns base doubled per attempt with 10% jitter.
func backoff(base time.Duration, attempt int) time.Duration {
	d := float64(base) * math.Pow(2, float64(attempt-1))
	jitter := 1 + (rand.Float64()*0.2 - 0.1)
	return time.Duration(d * jitter)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// valuations computes per-holding market value and P/L in decimal.
func valuations(holdings []types.Holding) []types.HoldingValuation {
	out := make([]types.HoldingValuation, 0, len(holdings))
	for _, h := range holdings {
		qty := decimal.NewFromFloat(h.Quantity)
		price := decimal.NewFromFloat(h.LastPrice)
		mult := decimal.NewFromInt(1)
		if h.IsOption {
			mult = decimal.NewFromInt(optionMultiplier)
		}
		mv := qty.Mul(price).Mul(mult)

		v := types.HoldingValuation{
			Symbol:      h.Symbol,
			AccountID:   h.AccountID,
			MarketValue: mv,
		}
		if h.CostBasis != nil {
			cost := qty.Mul(decimal.NewFromFloat(*h.CostBasis)).Mul(mult)
			v.PL = mv.Sub(cost)
			if !cost.IsZero() {
				v.PLPercent = v.PL.Div(cost).Mul(decimal.NewFromInt(100)).Round(4)
			}
		}
		out = append(out, v)
	}
	return out
}

// symbolMetrics derives the indicator panel for one symbol.
func symbolMetrics(sym string, series *types.PriceSeries, quote *types.Quote, f *types.Fundamentals) types.SymbolMetrics {
	closes := series.Closes()
	last, _ := series.Last()

	price := last.Close
	if quote != nil && quote.Price > 0 {
		price = quote.Price
	}

	m := types.SymbolMetrics{Symbol: sym, Price: price}

	if v := ta.SMA(closes, 50); !math.IsNaN(v) {
		m.MA50 = &v
		pct := (price - v) / v * 100
		m.PctFromMA50 = &pct
	}
	if v := ta.SMA(closes, 200); !math.IsNaN(v) {
		m.MA200 = &v
		pct := (price - v) / v * 100
		m.PctFromMA200 = &pct
	}
	if v := ta.RSI(closes, 14); !math.IsNaN(v) {
		m.RSI = &v
		m.RSIZone = ta.RSIZone(v)
	}
	if _, _, hist := ta.MACD(closes, 12, 26, 9); !math.IsNaN(hist) {
		m.MACDHist = &hist
		m.MACDRead = ta.MACDRead(hist)
	}
	if v := ta.AnnualizedVolatility(closes, 30); !math.IsNaN(v) {
		m.Volatility = &v
	}

	low, high := rangeBounds(closes, f)
	if v := ta.RangePosition52w(price, low, high); !math.IsNaN(v) {
		m.RangePos52w = &v
	}
	return m
}

// rangeBounds prefers provider 52w bounds, falling back to the series.
func rangeBounds(closes []float64, f *types.Fundamentals) (low, high float64) {
	if f != nil && f.Low52w != nil && f.High52w != nil {
		return *f.Low52w, *f.High52w
	}
	if len(closes) == 0 {
		return math.NaN(), math.NaN()
	}
	low, high = closes[0], closes[0]
	for _, c := range closes {
		if c < low {
			low = c
		}
		if c > high {
			high = c
		}
	}
	return low, high
}

func copyMetrics(in map[string]types.SymbolMetrics) map[string]types.SymbolMetrics {
	out := make(map[string]types.SymbolMetrics, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func copyErrors(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
