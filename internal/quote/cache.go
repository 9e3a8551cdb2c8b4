package quote

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/cryptowallet/internal/domain"
)

// Defaults used when a Config field is left zero.
const (
	DefaultTTL              = 30 * time.Minute
	DefaultRefreshThreshold = 5
	DefaultListingLimit     = 50
)

// Config tunes the cache.
type Config struct {
	// TTL is how long a price stays fresh.
	TTL time.Duration
	// RefreshThreshold is the number of stale entries that triggers a bulk
	// refresh on listing.
	RefreshThreshold int
	// ListingLimit caps the number of offerings listed.
	ListingLimit int
}

type entry struct {
	price     decimal.Decimal
	refreshed time.Time
}

// Cache is a read-through price cache. It is not safe for concurrent use.
type Cache struct {
	cfg     Config
	fetcher *Fetcher
	now     func() time.Time
	entries map[string]*entry
	logger  *slog.Logger
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// NewCache creates an empty Cache that reads through fetcher.
func NewCache(fetcher *Fetcher, cfg Config, logger *slog.Logger, opts ...Option) *Cache {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.RefreshThreshold <= 0 {
		cfg.RefreshThreshold = DefaultRefreshThreshold
	}
	if cfg.ListingLimit <= 0 {
		cfg.ListingLimit = DefaultListingLimit
	}
	c := &Cache{
		cfg:     cfg,
		fetcher: fetcher,
		now:     time.Now,
		entries: make(map[string]*entry),
		logger:  logger.With(slog.String("component", "price_cache")),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Fetcher returns the fetcher the cache reads through.
func (c *Cache) Fetcher() *Fetcher {
	return c.fetcher
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	return len(c.entries)
}

func (c *Cache) stale(e *entry, now time.Time) bool {
	return now.Sub(e.refreshed) > c.cfg.TTL
}

func (c *Cache) staleCount(now time.Time) int {
	n := 0
	for _, e := range c.entries {
		if c.stale(e, now) {
			n++
		}
	}
	return n
}

// Plan returns the upstream work needed before n can be served from the
// cache. It does not modify the cache.
func (c *Cache) Plan(n Need) Job {
	now := c.now()
	var job Job
	if n.Listing {
		job.Bulk = len(c.entries) == 0 || c.staleCount(now) >= c.cfg.RefreshThreshold
	}
	seen := make(map[string]bool, len(n.Codes))
	for _, code := range n.Codes {
		if seen[code] {
			continue
		}
		seen[code] = true
		if e, ok := c.entries[code]; !ok || c.stale(e, now) {
			job.Codes = append(job.Codes, code)
		}
	}
	return job
}

// Apply stores the successful parts of res. Failed parts leave the cache
// untouched.
func (c *Cache) Apply(res Result) {
	now := c.now()
	if res.Job.Bulk && res.BulkErr == nil {
		c.applyBulk(res.Assets, now)
	}
	for _, code := range res.Job.Codes {
		a, ok := res.Fetched[code]
		if !ok {
			continue
		}
		c.put(code, a.PriceUSD, now)
	}
}

// applyBulk inserts the most expensive listable assets and refreshes every
// other cached entry present in the batch.
func (c *Cache) applyBulk(assets []domain.Asset, now time.Time) {
	listable := make([]domain.Asset, 0, len(assets))
	for _, a := range assets {
		if a.Listable() {
			listable = append(listable, a)
		}
	}
	sort.SliceStable(listable, func(i, j int) bool {
		return listable[i].PriceUSD.GreaterThan(listable[j].PriceUSD)
	})

	refreshed := 0
	for i, a := range listable {
		if _, ok := c.entries[a.Code]; ok || i < c.cfg.ListingLimit {
			c.put(a.Code, a.PriceUSD, now)
			refreshed++
		}
	}
	c.logger.Debug("bulk quotes applied",
		slog.Int("received", len(assets)),
		slog.Int("stored", refreshed),
		slog.Int("entries", len(c.entries)),
	)
}

func (c *Cache) put(code string, price decimal.Decimal, at time.Time) {
	if e, ok := c.entries[code]; ok {
		e.price = price
		e.refreshed = at
		return
	}
	c.entries[code] = &entry{price: price, refreshed: at}
}

// Warm seeds the cache with previously observed quotes, keeping their
// original timestamps so staleness still applies. Codes already cached are
// left alone.
func (c *Cache) Warm(quotes []domain.Quote) int {
	n := 0
	for _, q := range quotes {
		if _, ok := c.entries[q.Code]; ok || q.Code == "" {
			continue
		}
		c.entries[q.Code] = &entry{price: q.Price, refreshed: q.FetchedAt}
		n++
	}
	return n
}

func (c *Cache) listing() []domain.Quote {
	out := make([]domain.Quote, 0, len(c.entries))
	for code, e := range c.entries {
		out = append(out, domain.Quote{Code: code, Price: e.price, FetchedAt: e.refreshed})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Price.Equal(out[j].Price) {
			return out[i].Price.GreaterThan(out[j].Price)
		}
		return out[i].Code < out[j].Code
	})
	if len(out) > c.cfg.ListingLimit {
		out = out[:c.cfg.ListingLimit]
	}
	return out
}

// Resolved returns a view that answers from the cache as it stands, reporting
// the failures recorded in res. The view never calls upstream.
func (c *Cache) Resolved(res Result) Quotes {
	return resolved{cache: c, res: res}
}

// resolve fetches whatever n needs inline and returns a view over the
// outcome.
func (c *Cache) resolve(ctx context.Context, n Need) Quotes {
	job := c.Plan(n)
	var res Result
	if !job.IsZero() {
		res = c.fetcher.Fetch(ctx, job)
		c.Apply(res)
	}
	return c.Resolved(res)
}

// Price returns the price of code, fetching it when absent or stale.
func (c *Cache) Price(ctx context.Context, code string) (decimal.Decimal, error) {
	return c.resolve(ctx, Need{Codes: []string{code}}).Price(ctx, code)
}

// Prices returns quotes for codes in input order, fetching each that is
// absent or stale.
func (c *Cache) Prices(ctx context.Context, codes []string) ([]domain.Quote, error) {
	return c.resolve(ctx, Need{Codes: codes}).Prices(ctx, codes)
}

// Offerings returns the listing, populating the cache when it is empty and
// refreshing it when too many entries have gone stale.
func (c *Cache) Offerings(ctx context.Context) ([]domain.Quote, error) {
	return c.resolve(ctx, Need{Listing: true}).Offerings(ctx)
}

type resolved struct {
	cache *Cache
	res   Result
}

func (r resolved) Price(_ context.Context, code string) (decimal.Decimal, error) {
	if err, ok := r.res.Errs[code]; ok {
		return decimal.Zero, err
	}
	e, ok := r.cache.entries[code]
	if !ok {
		return decimal.Zero, domain.ErrAssetNotFound
	}
	return e.price, nil
}

func (r resolved) Prices(ctx context.Context, codes []string) ([]domain.Quote, error) {
	out := make([]domain.Quote, 0, len(codes))
	for _, code := range codes {
		p, err := r.Price(ctx, code)
		if err != nil {
			return nil, err
		}
		out = append(out, domain.Quote{Code: code, Price: p, FetchedAt: r.cache.entries[code].refreshed})
	}
	return out, nil
}

func (r resolved) Offerings(context.Context) ([]domain.Quote, error) {
	if r.res.Job.Bulk && r.res.BulkErr != nil {
		return nil, r.res.BulkErr
	}
	return r.cache.listing(), nil
}

// Compile-time interface checks.
var (
	_ Quotes = (*Cache)(nil)
	_ Quotes = resolved{}
)
