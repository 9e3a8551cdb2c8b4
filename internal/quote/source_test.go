package quote_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/cryptowallet/internal/domain"
	"github.com/alanyoungcy/cryptowallet/internal/quote"
)

type fakeLimiter struct {
	remaining int
	err       error
	keys      []string
}

func (l *fakeLimiter) Allow(_ context.Context, key string, _ int, _ time.Duration) (bool, error) {
	l.keys = append(l.keys, key)
	if l.err != nil {
		return false, l.err
	}
	if l.remaining <= 0 {
		return false, nil
	}
	l.remaining--
	return true, nil
}

type fakeQuoteStore struct {
	saved []domain.Quote
	err   error
}

func (s *fakeQuoteStore) SaveQuotes(_ context.Context, quotes []domain.Quote) error {
	if s.err != nil {
		return s.err
	}
	s.saved = append(s.saved, quotes...)
	return nil
}

func (s *fakeQuoteStore) LoadQuotes(context.Context) ([]domain.Quote, error) {
	return s.saved, nil
}

func TestLimitedSource(t *testing.T) {
	ctx := context.Background()
	src := &fakeSource{}
	src.set("BTC", "10")
	lim := &fakeLimiter{remaining: 1}
	ls := quote.NewLimitedSource(src, lim, "coinapi", 100, 24*time.Hour, discard)

	if _, err := ls.Fetch(ctx, "BTC"); err != nil {
		t.Fatalf("first Fetch() error = %v", err)
	}
	if _, err := ls.FetchAll(ctx); !errors.Is(err, domain.ErrRateLimited) {
		t.Fatalf("FetchAll() over quota error = %v, want %v", err, domain.ErrRateLimited)
	}
	if src.allCalls != 0 {
		t.Errorf("upstream called %d times over quota", src.allCalls)
	}
	if len(lim.keys) != 2 || lim.keys[0] != "coinapi" {
		t.Errorf("limiter keys = %v", lim.keys)
	}

	// A broken limiter fails open.
	lim.err = errors.New("connection refused")
	if _, err := ls.Fetch(ctx, "BTC"); err != nil {
		t.Errorf("Fetch() with broken limiter error = %v", err)
	}
}

func TestMirroredSource(t *testing.T) {
	ctx := context.Background()
	src := &fakeSource{}
	src.set("LOW", "1")
	src.set("MID", "5")
	src.set("TOP", "9")
	src.assets = append(src.assets, domain.Asset{Code: "EUR", PriceUSD: decimal.NewFromInt(2)})
	store := &fakeQuoteStore{}
	ms := quote.NewMirroredSource(src, store, 2, discard)

	assets, err := ms.FetchAll(ctx)
	if err != nil {
		t.Fatalf("FetchAll() error = %v", err)
	}
	if len(assets) != 4 {
		t.Errorf("FetchAll() returned %d assets, want all 4", len(assets))
	}
	if len(store.saved) != 2 || store.saved[0].Code != "TOP" || store.saved[1].Code != "MID" {
		t.Fatalf("mirrored %+v, want TOP and MID", store.saved)
	}

	store.err = errors.New("redis down")
	if _, err := ms.Fetch(ctx, "LOW"); err != nil {
		t.Errorf("Fetch() with failing mirror error = %v", err)
	}
}
