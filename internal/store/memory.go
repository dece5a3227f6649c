package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/atmx/risk-engine/internal/amm"
	"github.com/atmx/risk-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu        sync.RWMutex
	markets   map[string]*model.Market
	positions map[string]*model.Position
	vaults    map[string]*model.Vault
	chains    map[string]*model.Chain
	ledger    []model.LedgerEntry
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		markets:   make(map[string]*model.Market),
		positions: make(map[string]*model.Position),
		vaults:    make(map[string]*model.Vault),
		chains:    make(map[string]*model.Chain),
	}
}

func (s *MemoryStore) CreateMarket(_ context.Context, m *model.Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.markets {
		if existing.Ticker == m.Ticker {
			return fmt.Errorf("market for ticker %s already exists", m.Ticker)
		}
	}

	cp := cloneMarket(m)
	s.markets[m.ID] = cp
	return nil
}

func (s *MemoryStore) GetMarket(_ context.Context, id string) (*model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.markets[id]
	if !ok {
		return nil, fmt.Errorf("market %s: %w", id, ErrNotFound)
	}
	return cloneMarket(m), nil
}

func (s *MemoryStore) GetMarketByTicker(_ context.Context, ticker string) (*model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, m := range s.markets {
		if m.Ticker == ticker {
			return cloneMarket(m), nil
		}
	}
	return nil, fmt.Errorf("market for ticker %s: %w", ticker, ErrNotFound)
}

func (s *MemoryStore) ListMarkets(_ context.Context) ([]model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	markets := make([]model.Market, 0, len(s.markets))
	for _, m := range s.markets {
		markets = append(markets, *cloneMarket(m))
	}
	return markets, nil
}

func (s *MemoryStore) UpdateMarket(_ context.Context, m *model.Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.markets[m.ID]
	if !ok {
		return fmt.Errorf("market %s: %w", m.ID, ErrNotFound)
	}

	// The variant resolved at creation survives every update.
	if m.Variant != existing.Variant {
		return fmt.Errorf("market %s: %w", m.ID, amm.ErrAlreadySet)
	}

	s.markets[m.ID] = cloneMarket(m)
	return nil
}

func (s *MemoryStore) CreatePosition(_ context.Context, p *model.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.positions[p.ID]; ok {
		return fmt.Errorf("position %s already exists", p.ID)
	}
	cp := *p
	s.positions[p.ID] = &cp
	return nil
}

func (s *MemoryStore) GetPosition(_ context.Context, id string) (*model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.positions[id]
	if !ok {
		return nil, fmt.Errorf("position %s: %w", id, ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) UpdatePosition(_ context.Context, p *model.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.positions[p.ID]; !ok {
		return fmt.Errorf("position %s: %w", p.ID, ErrNotFound)
	}
	cp := *p
	s.positions[p.ID] = &cp
	return nil
}

func (s *MemoryStore) ListPositionsByMarket(_ context.Context, marketID string) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Position
	for _, p := range s.positions {
		if p.MarketID == marketID && p.State != model.StateClosed {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (s *MemoryStore) ListPositionsByOwner(_ context.Context, ownerID string) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Position
	for _, p := range s.positions {
		if p.OwnerID == ownerID && p.State != model.StateClosed {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (s *MemoryStore) GetVault(_ context.Context, marketID string) (*model.Vault, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.vaults[marketID]
	if !ok {
		return nil, fmt.Errorf("vault for market %s: %w", marketID, ErrNotFound)
	}
	cp := *v
	return &cp, nil
}

func (s *MemoryStore) UpsertVault(_ context.Context, v *model.Vault) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *v
	s.vaults[v.MarketID] = &cp
	return nil
}

func (s *MemoryStore) InsertLedgerEntry(_ context.Context, entry *model.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ledger = append(s.ledger, *entry)
	return nil
}

func (s *MemoryStore) GetLedgerEntriesByMarket(_ context.Context, marketID string) ([]model.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.LedgerEntry
	for _, e := range s.ledger {
		if e.MarketID == marketID {
			result = append(result, e)
		}
	}
	return result, nil
}

func (s *MemoryStore) GetLedgerEntriesByOwner(_ context.Context, ownerID string) ([]model.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.LedgerEntry
	for _, e := range s.ledger {
		if e.OwnerID == ownerID {
			result = append(result, e)
		}
	}
	return result, nil
}

func (s *MemoryStore) CreateChain(_ context.Context, c *model.Chain) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.chains[c.ID]; ok {
		return fmt.Errorf("chain %s already exists", c.ID)
	}
	cp := *c
	cp.Legs = append([]model.ChainLeg(nil), c.Legs...)
	s.chains[c.ID] = &cp
	return nil
}

func (s *MemoryStore) GetChain(_ context.Context, id string) (*model.Chain, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.chains[id]
	if !ok {
		return nil, fmt.Errorf("chain %s: %w", id, ErrNotFound)
	}
	cp := *c
	cp.Legs = append([]model.ChainLeg(nil), c.Legs...)
	return &cp, nil
}

// cloneMarket copies a market including its per-variant slices so
// callers can never mutate stored state through a returned pointer.
func cloneMarket(m *model.Market) *model.Market {
	cp := *m
	if m.Reserves != nil {
		cp.Reserves = append([]decimal.Decimal(nil), m.Reserves...)
	}
	if m.DensityModes != nil {
		cp.DensityModes = append([]model.DensityMode(nil), m.DensityModes...)
	}
	return &cp
}
