// Package quote fronts the upstream quote source with a time-bounded price
// cache.
//
// The cache is owned by a single goroutine. Fetching is split out so the
// owner can plan a fetch, run it elsewhere through a Fetcher, and apply the
// result when it comes back.
package quote

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/cryptowallet/internal/domain"
)

// Source is the upstream quote provider.
type Source interface {
	// FetchAll returns every asset the source knows about.
	FetchAll(ctx context.Context) ([]domain.Asset, error)
	// Fetch returns a single asset. It returns domain.ErrAssetNotFound when
	// the source does not know code.
	Fetch(ctx context.Context, code string) (domain.Asset, error)
}

// Quotes is the read side used to resolve commands.
type Quotes interface {
	Price(ctx context.Context, code string) (decimal.Decimal, error)
	// Prices returns one quote per code, in the order given.
	Prices(ctx context.Context, codes []string) ([]domain.Quote, error)
	// Offerings returns the listing, most expensive first.
	Offerings(ctx context.Context) ([]domain.Quote, error)
}

// Need names the quotes a command will read.
type Need struct {
	Codes   []string
	Listing bool
}

// IsZero reports whether nothing is needed.
func (n Need) IsZero() bool {
	return len(n.Codes) == 0 && !n.Listing
}

// Job is the upstream work required to satisfy a Need.
type Job struct {
	Codes []string
	Bulk  bool
}

// IsZero reports whether the job needs no upstream call.
func (j Job) IsZero() bool {
	return len(j.Codes) == 0 && !j.Bulk
}

// Result is the outcome of running a Job.
type Result struct {
	Job     Job
	Assets  []domain.Asset
	BulkErr error
	Fetched map[string]domain.Asset
	Errs    map[string]error
}

// Without returns the part of j not already covered by done.
func (j Job) Without(done Job) Job {
	covered := make(map[string]bool, len(done.Codes))
	for _, code := range done.Codes {
		covered[code] = true
	}
	out := Job{Bulk: j.Bulk && !done.Bulk}
	for _, code := range j.Codes {
		if !covered[code] {
			out.Codes = append(out.Codes, code)
		}
	}
	return out
}

// Merge combines r with the outcome of a follow-up job. Later outcomes win.
func (r Result) Merge(next Result) Result {
	out := Result{
		Job: Job{
			Codes: append(append([]string(nil), r.Job.Codes...), next.Job.Codes...),
			Bulk:  r.Job.Bulk || next.Job.Bulk,
		},
		Assets:  r.Assets,
		BulkErr: r.BulkErr,
	}
	if next.Job.Bulk {
		out.Assets = next.Assets
		out.BulkErr = next.BulkErr
	}
	out.Fetched = mergeMaps(r.Fetched, next.Fetched)
	out.Errs = mergeMaps(r.Errs, next.Errs)
	for code := range next.Fetched {
		delete(out.Errs, code)
	}
	return out
}

func mergeMaps[V any](a, b map[string]V) map[string]V {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	out := make(map[string]V, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		out[k] = v
	}
	return out
}
