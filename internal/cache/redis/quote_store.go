package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/cryptowallet/internal/domain"
)

// DefaultQuoteRetention bounds how long a mirrored quote is kept.
const DefaultQuoteRetention = 24 * time.Hour

// QuoteStore implements domain.QuoteStore with one hash per asset code at
// "quote:{code}" holding fields "price" and "ts" (Unix nanoseconds), plus a
// set of known codes at "quote:index".
type QuoteStore struct {
	client    *Client
	retention time.Duration
}

// NewQuoteStore creates a QuoteStore. A zero retention uses
// DefaultQuoteRetention.
func NewQuoteStore(c *Client, retention time.Duration) *QuoteStore {
	if retention <= 0 {
		retention = DefaultQuoteRetention
	}
	return &QuoteStore{client: c, retention: retention}
}

func (s *QuoteStore) quoteKey(code string) string {
	return s.client.key("quote", code)
}

func (s *QuoteStore) indexKey() string {
	return s.client.key("quote", "index")
}

// SaveQuotes writes quotes in one pipeline.
func (s *QuoteStore) SaveQuotes(ctx context.Context, quotes []domain.Quote) error {
	if len(quotes) == 0 {
		return nil
	}

	pipe := s.client.rdb.Pipeline()
	codes := make([]any, 0, len(quotes))
	for _, q := range quotes {
		key := s.quoteKey(q.Code)
		pipe.HSet(ctx, key, map[string]any{
			"price": q.Price.String(),
			"ts":    strconv.FormatInt(q.FetchedAt.UnixNano(), 10),
		})
		pipe.Expire(ctx, key, s.retention)
		codes = append(codes, q.Code)
	}
	pipe.SAdd(ctx, s.indexKey(), codes...)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: save quotes: %w", err)
	}
	return nil
}

// LoadQuotes returns every mirrored quote that has not expired. Codes whose
// hash has expired are dropped from the index.
func (s *QuoteStore) LoadQuotes(ctx context.Context) ([]domain.Quote, error) {
	codes, err := s.client.rdb.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: load quote index: %w", err)
	}
	if len(codes) == 0 {
		return nil, nil
	}

	pipe := s.client.rdb.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(codes))
	for i, code := range codes {
		cmds[i] = pipe.HGetAll(ctx, s.quoteKey(code))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: load quotes pipeline: %w", err)
	}

	quotes := make([]domain.Quote, 0, len(codes))
	var expired []any
	for i, cmd := range cmds {
		vals, err := cmd.Result()
		if err != nil || len(vals) == 0 {
			expired = append(expired, codes[i])
			continue
		}
		q, err := parseQuote(codes[i], vals)
		if err != nil {
			return nil, err
		}
		quotes = append(quotes, q)
	}

	if len(expired) > 0 {
		if err := s.client.rdb.SRem(ctx, s.indexKey(), expired...).Err(); err != nil {
			return nil, fmt.Errorf("redis: prune quote index: %w", err)
		}
	}
	return quotes, nil
}

func parseQuote(code string, vals map[string]string) (domain.Quote, error) {
	price, err := decimal.NewFromString(vals["price"])
	if err != nil {
		return domain.Quote{}, fmt.Errorf("redis: parse price %s: %w", code, err)
	}
	tsNano, err := strconv.ParseInt(vals["ts"], 10, 64)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("redis: parse ts %s: %w", code, err)
	}
	return domain.Quote{Code: code, Price: price, FetchedAt: time.Unix(0, tsNano)}, nil
}

// Compile-time interface check.
var _ domain.QuoteStore = (*QuoteStore)(nil)
