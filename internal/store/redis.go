package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/atmx/lmsr-amm/internal/model"
)

// CachedStore wraps a primary Store with a Redis read-through cache. Writes
// go to the primary store and invalidate the cache; reads check Redis first
// then fall back to the primary. Cache failures never fail a call.
type CachedStore struct {
	primary Store
	rdb     redis.UniversalClient
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb redis.UniversalClient, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) CreateMarket(ctx context.Context, m *model.Market) error {
	if err := s.primary.CreateMarket(ctx, m); err != nil {
		return err
	}
	s.set(ctx, marketKey(m.ID), m)
	return nil
}

func (s *CachedStore) UpdateMarketState(ctx context.Context, id string, shares []float64, status string, resolvedOutcome *int) error {
	if err := s.primary.UpdateMarketState(ctx, id, shares, status, resolvedOutcome); err != nil {
		return err
	}
	s.invalidate(ctx, marketKey(id))
	return nil
}

func (s *CachedStore) UpsertPosition(ctx context.Context, p *model.Position) error {
	if err := s.primary.UpsertPosition(ctx, p); err != nil {
		return err
	}
	s.invalidate(ctx, positionsKey(p.MarketID))
	return nil
}

func (s *CachedStore) InsertLedgerEntry(ctx context.Context, entry *model.LedgerEntry) error {
	return s.primary.InsertLedgerEntry(ctx, entry)
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetMarket(ctx context.Context, id string) (*model.Market, error) {
	return readThrough(ctx, s, marketKey(id), func() (*model.Market, error) {
		return s.primary.GetMarket(ctx, id)
	})
}

func (s *CachedStore) GetPositions(ctx context.Context, marketID string) ([]model.Position, error) {
	return readThrough(ctx, s, positionsKey(marketID), func() ([]model.Position, error) {
		return s.primary.GetPositions(ctx, marketID)
	})
}

// readThrough returns the cached JSON value at key, or loads it from the
// primary and caches it. Undecodable cache entries count as misses.
func readThrough[T any](ctx context.Context, s *CachedStore, key string, load func() (T, error)) (T, error) {
	if data, err := s.rdb.Get(ctx, key).Bytes(); err == nil {
		var v T
		if json.Unmarshal(data, &v) == nil {
			return v, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		log.Debug().Err(err).Str("key", key).Msg("cache-read-failed")
	}

	v, err := load()
	if err != nil {
		return v, err
	}
	s.set(ctx, key, v)
	return v, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListMarkets(ctx context.Context) ([]model.Market, error) {
	return s.primary.ListMarkets(ctx)
}

func (s *CachedStore) GetLedgerEntriesByMarket(ctx context.Context, marketID string) ([]model.LedgerEntry, error) {
	return s.primary.GetLedgerEntriesByMarket(ctx, marketID)
}

func (s *CachedStore) GetLedgerEntriesByParticipant(ctx context.Context, participantID string) ([]model.LedgerEntry, error) {
	return s.primary.GetLedgerEntriesByParticipant(ctx, participantID)
}

// --- Cache helpers ---

func (s *CachedStore) set(ctx context.Context, key string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := s.rdb.Set(ctx, key, data, s.ttl).Err(); err != nil {
		log.Debug().Err(err).Str("key", key).Msg("cache-write-failed")
	}
}

func (s *CachedStore) invalidate(ctx context.Context, key string) {
	if err := s.rdb.Del(ctx, key).Err(); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("cache-invalidate-failed")
	}
}

func marketKey(id string) string        { return fmt.Sprintf("lmsr:market:%s", id) }
func positionsKey(market string) string { return fmt.Sprintf("lmsr:positions:%s", market) }
