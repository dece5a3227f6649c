package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/risk-engine/internal/amm"
	"github.com/atmx/risk-engine/internal/model"
)

func testMarket(id, ticker string) *model.Market {
	return &model.Market{
		ID:           id,
		Ticker:       ticker,
		OutcomeCount: 1,
		Variant:      "LMSR",
		B:            decimal.NewFromInt(100),
		Status:       model.MarketStatusActive,
		CreatedAt:    time.Now().UTC(),
	}
}

func TestMemoryStore_MarketRoundTrip(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	m := testMarket("m1", "ATMX-CRYPTO-BTC100K-20260131")
	if err := s.CreateMarket(ctx, m); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetMarket(ctx, "m1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Ticker != m.Ticker || got.Variant != "LMSR" {
		t.Errorf("round trip mismatch: %+v", got)
	}

	byTicker, err := s.GetMarketByTicker(ctx, m.Ticker)
	if err != nil {
		t.Fatal(err)
	}
	if byTicker.ID != "m1" {
		t.Errorf("ticker lookup returned %s", byTicker.ID)
	}
}

func TestMemoryStore_DuplicateTickerRejected(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if err := s.CreateMarket(ctx, testMarket("m1", "ATMX-MACRO-CPI3PCT-20261101")); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateMarket(ctx, testMarket("m2", "ATMX-MACRO-CPI3PCT-20261101")); err == nil {
		t.Error("duplicate ticker should be rejected")
	}
}

func TestMemoryStore_UpdateRejectsVariantChange(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	m := testMarket("m1", "ATMX-CRYPTO-ETH10K-20261231")
	if err := s.CreateMarket(ctx, m); err != nil {
		t.Fatal(err)
	}

	// An update smuggling a different variant is rejected whole, mark
	// price included.
	mutated := *m
	mutated.Variant = "L2"
	mutated.MarkPrice = decimal.NewFromFloat(0.6)
	if err := s.UpdateMarket(ctx, &mutated); !errors.Is(err, amm.ErrAlreadySet) {
		t.Fatalf("variant change error = %v, want ErrAlreadySet", err)
	}

	got, err := s.GetMarket(ctx, "m1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Variant != "LMSR" || !got.MarkPrice.IsZero() {
		t.Errorf("rejected update mutated the market: %+v", got)
	}

	// Same variant updates normally.
	m.MarkPrice = decimal.NewFromFloat(0.6)
	if err := s.UpdateMarket(ctx, m); err != nil {
		t.Fatal(err)
	}
	got, err = s.GetMarket(ctx, "m1")
	if err != nil {
		t.Fatal(err)
	}
	if !got.MarkPrice.Equal(decimal.NewFromFloat(0.6)) {
		t.Errorf("mark price not updated: %s", got.MarkPrice)
	}
}

func TestMemoryStore_NotFound(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if _, err := s.GetMarket(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.GetPosition(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.GetVault(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.GetChain(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStore_PositionLifecycle(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	p := &model.Position{
		ID:           "p1",
		OwnerID:      "alice",
		MarketID:     "m1",
		Notional:     decimal.NewFromInt(10000),
		Direction:    model.DirectionLong,
		EntryPrice:   decimal.NewFromInt(100),
		BaseLeverage: 10,
		State:        model.StateHealthy,
	}
	if err := s.CreatePosition(ctx, p); err != nil {
		t.Fatal(err)
	}

	open, err := s.ListPositionsByMarket(ctx, "m1")
	if err != nil {
		t.Fatal(err)
	}
	if len(open) != 1 {
		t.Fatalf("open positions = %d, want 1", len(open))
	}

	p.State = model.StateClosed
	if err := s.UpdatePosition(ctx, p); err != nil {
		t.Fatal(err)
	}

	open, err = s.ListPositionsByMarket(ctx, "m1")
	if err != nil {
		t.Fatal(err)
	}
	if len(open) != 0 {
		t.Errorf("closed positions should not be listed, got %d", len(open))
	}
}

func TestMemoryStore_VaultUpsert(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	v := &model.Vault{MarketID: "m1", Balance: decimal.NewFromInt(5000), OpenInterest: decimal.NewFromInt(50000)}
	if err := s.UpsertVault(ctx, v); err != nil {
		t.Fatal(err)
	}

	v.Balance = decimal.NewFromInt(6000)
	if err := s.UpsertVault(ctx, v); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetVault(ctx, "m1")
	if err != nil {
		t.Fatal(err)
	}
	if !got.Balance.Equal(decimal.NewFromInt(6000)) {
		t.Errorf("balance = %s, want 6000", got.Balance)
	}
}

func TestMemoryStore_LedgerAppendOnly(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	for i, owner := range []string{"alice", "bob", "alice"} {
		e := &model.LedgerEntry{
			ID:       string(rune('a' + i)),
			OwnerID:  owner,
			MarketID: "m1",
			Kind:     "trade",
		}
		if err := s.InsertLedgerEntry(ctx, e); err != nil {
			t.Fatal(err)
		}
	}

	byMarket, err := s.GetLedgerEntriesByMarket(ctx, "m1")
	if err != nil {
		t.Fatal(err)
	}
	if len(byMarket) != 3 {
		t.Errorf("market entries = %d, want 3", len(byMarket))
	}

	byOwner, err := s.GetLedgerEntriesByOwner(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(byOwner) != 2 {
		t.Errorf("alice entries = %d, want 2", len(byOwner))
	}
}

func TestMemoryStore_ChainRoundTrip(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	c := &model.Chain{
		ID:      "c1",
		OwnerID: "alice",
		Legs: []model.ChainLeg{
			{PositionID: "p1", Role: model.RoleStake},
			{PositionID: "p2", Role: model.RoleBorrow, DependsOn: []int{0}},
		},
	}
	if err := s.CreateChain(ctx, c); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetChain(ctx, "c1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Legs) != 2 || got.Legs[1].Role != model.RoleBorrow {
		t.Errorf("chain round trip mismatch: %+v", got)
	}
}
