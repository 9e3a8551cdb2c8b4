package quote

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/alanyoungcy/cryptowallet/internal/domain"
)

// MirroredSource copies every successful fetch into a QuoteStore. Mirror
// failures are logged and never fail the fetch.
type MirroredSource struct {
	next   Source
	store  domain.QuoteStore
	limit  int
	now    func() time.Time
	logger *slog.Logger
}

// NewMirroredSource wraps next. At most limit assets of a bulk fetch are
// mirrored, most expensive first.
func NewMirroredSource(next Source, store domain.QuoteStore, limit int, logger *slog.Logger) *MirroredSource {
	if limit <= 0 {
		limit = DefaultListingLimit
	}
	return &MirroredSource{
		next:   next,
		store:  store,
		limit:  limit,
		now:    time.Now,
		logger: logger.With(slog.String("component", "quote_mirror")),
	}
}

// FetchAll implements Source.
func (s *MirroredSource) FetchAll(ctx context.Context) ([]domain.Asset, error) {
	assets, err := s.next.FetchAll(ctx)
	if err != nil {
		return nil, err
	}

	listable := make([]domain.Asset, 0, len(assets))
	for _, a := range assets {
		if a.Listable() {
			listable = append(listable, a)
		}
	}
	sort.SliceStable(listable, func(i, j int) bool {
		return listable[i].PriceUSD.GreaterThan(listable[j].PriceUSD)
	})
	if len(listable) > s.limit {
		listable = listable[:s.limit]
	}
	s.save(ctx, listable)
	return assets, nil
}

// Fetch implements Source.
func (s *MirroredSource) Fetch(ctx context.Context, code string) (domain.Asset, error) {
	a, err := s.next.Fetch(ctx, code)
	if err != nil {
		return domain.Asset{}, err
	}
	s.save(ctx, []domain.Asset{a})
	return a, nil
}

func (s *MirroredSource) save(ctx context.Context, assets []domain.Asset) {
	if len(assets) == 0 {
		return
	}
	at := s.now()
	quotes := make([]domain.Quote, 0, len(assets))
	for _, a := range assets {
		quotes = append(quotes, domain.Quote{Code: a.Code, Price: a.PriceUSD, FetchedAt: at})
	}
	if err := s.store.SaveQuotes(ctx, quotes); err != nil {
		s.logger.WarnContext(ctx, "mirror quotes failed",
			slog.Int("count", len(quotes)),
			slog.String("error", err.Error()),
		)
	}
}

var _ Source = (*MirroredSource)(nil)
