package domain

import (
	"context"
	"time"
)

// QuoteStore keeps the last observed quotes outside the process so a restart
// does not have to spend upstream quota to warm the price cache.
type QuoteStore interface {
	SaveQuotes(ctx context.Context, quotes []Quote) error
	LoadQuotes(ctx context.Context) ([]Quote, error)
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}
