package quote

import (
	"context"
	"log/slog"
	"time"

	"github.com/alanyoungcy/cryptowallet/internal/domain"
)

// LimitedSource spends a shared upstream quota before every call. When the
// quota is exhausted calls fail with domain.ErrRateLimited. A limiter
// failure lets the call through.
type LimitedSource struct {
	next    Source
	limiter domain.RateLimiter
	key     string
	limit   int
	window  time.Duration
	logger  *slog.Logger
}

// NewLimitedSource wraps next with a quota of limit calls per window.
func NewLimitedSource(next Source, limiter domain.RateLimiter, key string, limit int, window time.Duration, logger *slog.Logger) *LimitedSource {
	return &LimitedSource{
		next:    next,
		limiter: limiter,
		key:     key,
		limit:   limit,
		window:  window,
		logger:  logger.With(slog.String("component", "quote_quota")),
	}
}

func (s *LimitedSource) allow(ctx context.Context) error {
	ok, err := s.limiter.Allow(ctx, s.key, s.limit, s.window)
	if err != nil {
		s.logger.WarnContext(ctx, "quota check failed, letting call through",
			slog.String("key", s.key),
			slog.String("error", err.Error()),
		)
		return nil
	}
	if !ok {
		return domain.ErrRateLimited
	}
	return nil
}

// FetchAll implements Source.
func (s *LimitedSource) FetchAll(ctx context.Context) ([]domain.Asset, error) {
	if err := s.allow(ctx); err != nil {
		return nil, err
	}
	return s.next.FetchAll(ctx)
}

// Fetch implements Source.
func (s *LimitedSource) Fetch(ctx context.Context, code string) (domain.Asset, error) {
	if err := s.allow(ctx); err != nil {
		return domain.Asset{}, err
	}
	return s.next.Fetch(ctx, code)
}

var _ Source = (*LimitedSource)(nil)
