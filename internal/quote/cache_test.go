package quote_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/cryptowallet/internal/domain"
	"github.com/alanyoungcy/cryptowallet/internal/quote"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeSource struct {
	mu       sync.Mutex
	assets   []domain.Asset
	allErr   error
	oneErr   error
	delay    time.Duration
	allCalls int
	oneCalls int
}

func (s *fakeSource) set(code, price string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := decimal.RequireFromString(price)
	for i := range s.assets {
		if s.assets[i].Code == code {
			s.assets[i].PriceUSD = p
			return
		}
	}
	s.assets = append(s.assets, domain.Asset{Code: code, IsCrypto: true, PriceUSD: p})
}

func (s *fakeSource) wait(ctx context.Context) error {
	if s.delay == 0 {
		return nil
	}
	select {
	case <-time.After(s.delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *fakeSource) FetchAll(ctx context.Context) ([]domain.Asset, error) {
	s.mu.Lock()
	s.allCalls++
	s.mu.Unlock()
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.allErr != nil {
		return nil, s.allErr
	}
	out := make([]domain.Asset, len(s.assets))
	copy(out, s.assets)
	return out, nil
}

func (s *fakeSource) Fetch(ctx context.Context, code string) (domain.Asset, error) {
	s.mu.Lock()
	s.oneCalls++
	s.mu.Unlock()
	if err := s.wait(ctx); err != nil {
		return domain.Asset{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.oneErr != nil {
		return domain.Asset{}, s.oneErr
	}
	for _, a := range s.assets {
		if a.Code == code {
			return a, nil
		}
	}
	return domain.Asset{}, domain.ErrAssetNotFound
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newCache(src quote.Source, clk *clock) *quote.Cache {
	return quote.NewCache(quote.NewFetcher(src, 0), quote.Config{}, discard, quote.WithClock(clk.now))
}

func TestPriceReadThrough(t *testing.T) {
	ctx := context.Background()
	src := &fakeSource{}
	src.set("BTC", "10")
	clk := &clock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := newCache(src, clk)

	p, err := c.Price(ctx, "BTC")
	if err != nil {
		t.Fatalf("Price() error = %v", err)
	}
	if !p.Equal(decimal.NewFromInt(10)) {
		t.Errorf("Price() = %s, want 10", p)
	}
	if src.oneCalls != 1 {
		t.Fatalf("oneCalls = %d, want 1", src.oneCalls)
	}

	// Fresh: served from the cache even if upstream moved.
	src.set("BTC", "20")
	clk.advance(30 * time.Minute)
	p, _ = c.Price(ctx, "BTC")
	if !p.Equal(decimal.NewFromInt(10)) || src.oneCalls != 1 {
		t.Errorf("fresh Price() = %s after %d calls, want cached 10 after 1", p, src.oneCalls)
	}

	// Stale: refetched in place.
	clk.advance(time.Second)
	p, _ = c.Price(ctx, "BTC")
	if !p.Equal(decimal.NewFromInt(20)) || src.oneCalls != 2 {
		t.Errorf("stale Price() = %s after %d calls, want 20 after 2", p, src.oneCalls)
	}
	if c.Len() != 1 {
		t.Errorf("Len() = %d, want 1", c.Len())
	}
}

func TestPriceUnknownCode(t *testing.T) {
	c := newCache(&fakeSource{}, &clock{t: time.Now()})
	if _, err := c.Price(context.Background(), "NOPE"); !errors.Is(err, domain.ErrAssetNotFound) {
		t.Fatalf("Price() error = %v, want %v", err, domain.ErrAssetNotFound)
	}
	if c.Len() != 0 {
		t.Errorf("Len() = %d after failed fetch, want 0", c.Len())
	}
}

func TestPriceStaleFetchFailureKeepsEntry(t *testing.T) {
	ctx := context.Background()
	src := &fakeSource{}
	src.set("ETH", "5")
	clk := &clock{t: time.Now()}
	c := newCache(src, clk)
	_, _ = c.Price(ctx, "ETH")

	clk.advance(time.Hour)
	src.oneErr = domain.ErrSourceUnavailable
	if _, err := c.Price(ctx, "ETH"); !errors.Is(err, domain.ErrSourceUnavailable) {
		t.Fatalf("Price() error = %v, want %v", err, domain.ErrSourceUnavailable)
	}

	src.oneErr = nil
	src.set("ETH", "6")
	p, err := c.Price(ctx, "ETH")
	if err != nil || !p.Equal(decimal.NewFromInt(6)) {
		t.Errorf("Price() after recovery = %s, %v; want 6", p, err)
	}
}

func TestOfferingsPopulateFilterSortCap(t *testing.T) {
	src := &fakeSource{}
	for i := 1; i <= 60; i++ {
		src.set(fmt.Sprintf("C%02d", i), fmt.Sprintf("%d", i))
	}
	src.assets = append(src.assets,
		domain.Asset{Code: "USD", IsCrypto: false, PriceUSD: decimal.NewFromInt(1000)},
		domain.Asset{Code: "DEAD", IsCrypto: true, PriceUSD: decimal.Zero},
	)
	c := newCache(src, &clock{t: time.Now()})

	got, err := c.Offerings(context.Background())
	if err != nil {
		t.Fatalf("Offerings() error = %v", err)
	}
	if len(got) != 50 {
		t.Fatalf("len(Offerings()) = %d, want 50", len(got))
	}
	if got[0].Code != "C60" || got[49].Code != "C11" {
		t.Errorf("Offerings() runs %s..%s, want C60..C11", got[0].Code, got[49].Code)
	}
	for i := 1; i < len(got); i++ {
		if got[i].Price.GreaterThan(got[i-1].Price) {
			t.Fatalf("Offerings() not descending at %d", i)
		}
	}
	for _, q := range got {
		if q.Code == "USD" || q.Code == "DEAD" {
			t.Errorf("Offerings() includes unlistable %s", q.Code)
		}
	}

	// Second call is served from the cache.
	_, _ = c.Offerings(context.Background())
	if src.allCalls != 1 {
		t.Errorf("allCalls = %d, want 1", src.allCalls)
	}
}

func TestOfferingsRefreshThreshold(t *testing.T) {
	ctx := context.Background()
	src := &fakeSource{}
	for _, code := range []string{"A", "B", "C", "D", "E", "F", "G"} {
		src.set(code, "1")
	}
	clk := &clock{t: time.Now()}
	c := newCache(src, clk)
	if _, err := c.Offerings(ctx); err != nil {
		t.Fatalf("Offerings() error = %v", err)
	}
	start := clk.t

	clk.advance(31 * time.Minute)
	for _, code := range []string{"A", "B", "C"} {
		if _, err := c.Price(ctx, code); err != nil {
			t.Fatalf("Price(%s) error = %v", code, err)
		}
	}
	// D, E, F and G are stale: one short of the threshold.
	_, _ = c.Offerings(ctx)
	if src.allCalls != 1 {
		t.Fatalf("allCalls = %d with 4 stale entries, want 1", src.allCalls)
	}

	c.Warm([]domain.Quote{{Code: "H", Price: decimal.NewFromInt(1), FetchedAt: start}})
	src.set("D", "9")
	got, err := c.Offerings(ctx)
	if err != nil {
		t.Fatalf("Offerings() error = %v", err)
	}
	if src.allCalls != 2 {
		t.Fatalf("allCalls = %d with 5 stale entries, want 2", src.allCalls)
	}
	if got[0].Code != "D" || !got[0].Price.Equal(decimal.NewFromInt(9)) {
		t.Errorf("Offerings()[0] = %+v, want refreshed D at 9", got[0])
	}
}

func TestOfferingsBulkFailureLeavesCache(t *testing.T) {
	ctx := context.Background()
	src := &fakeSource{allErr: domain.ErrSourceUnavailable}
	src.set("BTC", "10")
	c := newCache(src, &clock{t: time.Now()})

	if _, err := c.Offerings(ctx); !errors.Is(err, domain.ErrSourceUnavailable) {
		t.Fatalf("Offerings() error = %v, want %v", err, domain.ErrSourceUnavailable)
	}
	if c.Len() != 0 {
		t.Errorf("Len() = %d after failed bulk fetch, want 0", c.Len())
	}
}

func TestPricesKeepsInputOrder(t *testing.T) {
	src := &fakeSource{}
	src.set("BTC", "3")
	src.set("ETH", "2")
	src.set("ADA", "1")
	c := newCache(src, &clock{t: time.Now()})

	codes := []string{"ETH", "ADA", "BTC"}
	got, err := c.Prices(context.Background(), codes)
	if err != nil {
		t.Fatalf("Prices() error = %v", err)
	}
	for i, q := range got {
		if q.Code != codes[i] {
			t.Errorf("Prices()[%d] = %s, want %s", i, q.Code, codes[i])
		}
	}
}

func TestPlanApplyResolvedNeverFetches(t *testing.T) {
	ctx := context.Background()
	src := &fakeSource{}
	src.set("BTC", "10")
	clk := &clock{t: time.Now()}
	c := newCache(src, clk)

	job := c.Plan(quote.Need{Codes: []string{"BTC", "BTC", "XYZ"}})
	if len(job.Codes) != 2 || job.Bulk {
		t.Fatalf("Plan() = %+v, want BTC and XYZ without bulk", job)
	}

	res := c.Fetcher().Fetch(ctx, job)
	c.Apply(res)
	view := c.Resolved(res)

	if p, err := view.Price(ctx, "BTC"); err != nil || !p.Equal(decimal.NewFromInt(10)) {
		t.Errorf("view.Price(BTC) = %s, %v", p, err)
	}
	if _, err := view.Price(ctx, "XYZ"); !errors.Is(err, domain.ErrAssetNotFound) {
		t.Errorf("view.Price(XYZ) error = %v, want %v", err, domain.ErrAssetNotFound)
	}

	clk.advance(time.Hour)
	calls := src.oneCalls
	if _, err := c.Resolved(quote.Result{}).Price(ctx, "BTC"); err != nil {
		t.Errorf("stale view.Price(BTC) error = %v", err)
	}
	if src.oneCalls != calls {
		t.Errorf("resolved view called upstream")
	}
	if job := c.Plan(quote.Need{Codes: []string{"BTC"}}); len(job.Codes) != 1 {
		t.Errorf("Plan() for stale BTC = %+v, want a refetch", job)
	}
}

func TestFetcherTimeout(t *testing.T) {
	src := &fakeSource{delay: time.Second}
	src.set("BTC", "10")
	f := quote.NewFetcher(src, 20*time.Millisecond)

	start := time.Now()
	res := f.Fetch(context.Background(), quote.Job{Codes: []string{"BTC"}})
	if !errors.Is(res.Errs["BTC"], context.DeadlineExceeded) {
		t.Fatalf("Errs[BTC] = %v, want deadline exceeded", res.Errs["BTC"])
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("Fetch() took %v despite timeout", elapsed)
	}
}

func TestWarmKeepsTimestamps(t *testing.T) {
	ctx := context.Background()
	src := &fakeSource{}
	src.set("BTC", "20")
	clk := &clock{t: time.Now()}
	c := newCache(src, clk)

	n := c.Warm([]domain.Quote{
		{Code: "BTC", Price: decimal.NewFromInt(10), FetchedAt: clk.t.Add(-time.Hour)},
		{Code: "ETH", Price: decimal.NewFromInt(3), FetchedAt: clk.t},
	})
	if n != 2 {
		t.Fatalf("Warm() = %d, want 2", n)
	}

	if p, _ := c.Price(ctx, "ETH"); !p.Equal(decimal.NewFromInt(3)) || src.oneCalls != 0 {
		t.Errorf("warm fresh ETH = %s after %d calls", p, src.oneCalls)
	}
	if p, _ := c.Price(ctx, "BTC"); !p.Equal(decimal.NewFromInt(20)) || src.oneCalls != 1 {
		t.Errorf("warm stale BTC = %s after %d calls, want refetched 20", p, src.oneCalls)
	}
}

func TestJobWithout(t *testing.T) {
	job := quote.Job{Codes: []string{"A", "B", "C"}, Bulk: true}

	got := job.Without(quote.Job{Codes: []string{"B"}, Bulk: true})
	if got.Bulk || fmt.Sprint(got.Codes) != "[A C]" {
		t.Errorf("Without() = %+v, want codes [A C] and no bulk", got)
	}
	if !job.Without(job).IsZero() {
		t.Error("job without itself should be zero")
	}
}

func TestResultMergeKeepsEarlierOutcomes(t *testing.T) {
	first := quote.Result{
		Job:  quote.Job{Codes: []string{"A", "B"}},
		Errs: map[string]error{"B": domain.ErrAssetNotFound},
		Fetched: map[string]domain.Asset{
			"A": {Code: "A", PriceUSD: decimal.RequireFromString("1")},
		},
	}
	next := quote.Result{
		Job: quote.Job{Codes: []string{"C"}},
		Fetched: map[string]domain.Asset{
			"C": {Code: "C", PriceUSD: decimal.RequireFromString("3")},
		},
	}

	got := first.Merge(next)
	if fmt.Sprint(got.Job.Codes) != "[A B C]" {
		t.Errorf("Job.Codes = %v, want [A B C]", got.Job.Codes)
	}
	if len(got.Fetched) != 2 {
		t.Errorf("Fetched = %v, want A and C", got.Fetched)
	}
	if !errors.Is(got.Errs["B"], domain.ErrAssetNotFound) {
		t.Errorf("Errs[B] = %v, want %v", got.Errs["B"], domain.ErrAssetNotFound)
	}
	if len(first.Job.Codes) != 2 {
		t.Errorf("Merge modified the receiver: %v", first.Job.Codes)
	}
}
