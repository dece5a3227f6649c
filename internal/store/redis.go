package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/atmx/risk-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and invalidate the cache; reads
// check Redis first then fall back to the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
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
	s.cacheMarket(ctx, m)
	return nil
}

func (s *CachedStore) UpdateMarket(ctx context.Context, m *model.Market) error {
	if err := s.primary.UpdateMarket(ctx, m); err != nil {
		return err
	}
	// Invalidate cache; next read will re-populate.
	s.rdb.Del(ctx, marketKey(m.ID))
	return nil
}

func (s *CachedStore) CreatePosition(ctx context.Context, p *model.Position) error {
	if err := s.primary.CreatePosition(ctx, p); err != nil {
		return err
	}
	s.rdb.Del(ctx, positionKey(p.ID))
	return nil
}

func (s *CachedStore) UpdatePosition(ctx context.Context, p *model.Position) error {
	if err := s.primary.UpdatePosition(ctx, p); err != nil {
		return err
	}
	s.rdb.Del(ctx, positionKey(p.ID))
	return nil
}

func (s *CachedStore) UpsertVault(ctx context.Context, v *model.Vault) error {
	if err := s.primary.UpsertVault(ctx, v); err != nil {
		return err
	}
	s.rdb.Del(ctx, vaultKey(v.MarketID))
	return nil
}

func (s *CachedStore) InsertLedgerEntry(ctx context.Context, entry *model.LedgerEntry) error {
	return s.primary.InsertLedgerEntry(ctx, entry)
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetMarket(ctx context.Context, id string) (*model.Market, error) {
	// Try cache.
	data, err := s.rdb.Get(ctx, marketKey(id)).Bytes()
	if err == nil {
		var m model.Market
		if json.Unmarshal(data, &m) == nil {
			return &m, nil
		}
	}

	// Cache miss: read from primary.
	m, err := s.primary.GetMarket(ctx, id)
	if err != nil {
		return nil, err
	}

	s.cacheMarket(ctx, m)
	return m, nil
}

func (s *CachedStore) GetMarketByTicker(ctx context.Context, ticker string) (*model.Market, error) {
	// Try cache via ticker→marketID mapping.
	marketID, err := s.rdb.Get(ctx, tickerKey(ticker)).Result()
	if err == nil {
		return s.GetMarket(ctx, marketID)
	}

	// Cache miss.
	m, err := s.primary.GetMarketByTicker(ctx, ticker)
	if err != nil {
		return nil, err
	}

	// Cache both the market and the ticker→ID mapping.
	s.cacheMarket(ctx, m)
	s.rdb.Set(ctx, tickerKey(ticker), m.ID, s.ttl)
	return m, nil
}

func (s *CachedStore) GetPosition(ctx context.Context, id string) (*model.Position, error) {
	data, err := s.rdb.Get(ctx, positionKey(id)).Bytes()
	if err == nil {
		var p model.Position
		if json.Unmarshal(data, &p) == nil {
			return &p, nil
		}
	}

	p, err := s.primary.GetPosition(ctx, id)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(p); err == nil {
		s.rdb.Set(ctx, positionKey(id), data, s.ttl)
	}
	return p, nil
}

func (s *CachedStore) GetVault(ctx context.Context, marketID string) (*model.Vault, error) {
	data, err := s.rdb.Get(ctx, vaultKey(marketID)).Bytes()
	if err == nil {
		var v model.Vault
		if json.Unmarshal(data, &v) == nil {
			return &v, nil
		}
	}

	v, err := s.primary.GetVault(ctx, marketID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, vaultKey(marketID), data, s.ttl)
	}
	return v, nil
}

// --- Passthrough (not cached) ---

// Liquidation sweeps iterate these; serving them stale would let a
// liquidation act on a prior cycle's snapshot.

func (s *CachedStore) ListMarkets(ctx context.Context) ([]model.Market, error) {
	return s.primary.ListMarkets(ctx)
}

func (s *CachedStore) ListPositionsByMarket(ctx context.Context, marketID string) ([]model.Position, error) {
	return s.primary.ListPositionsByMarket(ctx, marketID)
}

func (s *CachedStore) ListPositionsByOwner(ctx context.Context, ownerID string) ([]model.Position, error) {
	return s.primary.ListPositionsByOwner(ctx, ownerID)
}

func (s *CachedStore) GetLedgerEntriesByMarket(ctx context.Context, marketID string) ([]model.LedgerEntry, error) {
	return s.primary.GetLedgerEntriesByMarket(ctx, marketID)
}

func (s *CachedStore) GetLedgerEntriesByOwner(ctx context.Context, ownerID string) ([]model.LedgerEntry, error) {
	return s.primary.GetLedgerEntriesByOwner(ctx, ownerID)
}

func (s *CachedStore) CreateChain(ctx context.Context, c *model.Chain) error {
	return s.primary.CreateChain(ctx, c)
}

func (s *CachedStore) GetChain(ctx context.Context, id string) (*model.Chain, error) {
	return s.primary.GetChain(ctx, id)
}

// --- Cache helpers ---

func (s *CachedStore) cacheMarket(ctx context.Context, m *model.Market) {
	if data, err := json.Marshal(m); err == nil {
		s.rdb.Set(ctx, marketKey(m.ID), data, s.ttl)
	}
}

func marketKey(id string) string   { return fmt.Sprintf("market:%s", id) }
func tickerKey(t string) string    { return fmt.Sprintf("ticker:%s", t) }
func positionKey(id string) string { return fmt.Sprintf("position:%s", id) }
func vaultKey(id string) string    { return fmt.Sprintf("vault:%s", id) }
