package quote

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/alanyoungcy/cryptowallet/internal/domain"
)

const bulkFlightKey = "\x00all"

// Fetcher runs jobs against a Source. It holds no cache state and is safe
// for concurrent use; concurrent requests for the same code share one
// upstream call.
type Fetcher struct {
	source  Source
	timeout time.Duration
	flight  singleflight.Group
}

// NewFetcher creates a Fetcher. A positive timeout bounds each job.
func NewFetcher(source Source, timeout time.Duration) *Fetcher {
	return &Fetcher{source: source, timeout: timeout}
}

// Fetch runs job and reports every outcome in the returned Result.
func (f *Fetcher) Fetch(ctx context.Context, job Job) Result {
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	res := Result{Job: job}

	if job.Bulk {
		v, err, _ := f.flight.Do(bulkFlightKey, func() (any, error) {
			return f.source.FetchAll(ctx)
		})
		if err != nil {
			res.BulkErr = fmt.Errorf("quote: fetch all: %w", err)
		} else {
			res.Assets = v.([]domain.Asset)
		}
	}

	for _, code := range job.Codes {
		v, err, _ := f.flight.Do(code, func() (any, error) {
			return f.source.Fetch(ctx, code)
		})
		if err != nil {
			if res.Errs == nil {
				res.Errs = make(map[string]error)
			}
			res.Errs[code] = fmt.Errorf("quote: fetch %s: %w", code, err)
			continue
		}
		if res.Fetched == nil {
			res.Fetched = make(map[string]domain.Asset)
		}
		res.Fetched[code] = v.(domain.Asset)
	}

	return res
}
