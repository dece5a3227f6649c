// Package store defines the persistence interface for the risk engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/atmx/risk-engine/internal/model"
)

// ErrNotFound is returned when the requested row does not exist.
var ErrNotFound = errors.New("store: not found")

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// --- Market operations ---

	// CreateMarket persists a new market with its resolved AMM variant.
	CreateMarket(ctx context.Context, market *model.Market) error

	// GetMarket retrieves a market by its ID.
	GetMarket(ctx context.Context, id string) (*model.Market, error)

	// GetMarketByTicker retrieves a market by its instrument ticker.
	GetMarketByTicker(ctx context.Context, ticker string) (*model.Market, error)

	// ListMarkets returns all markets.
	ListMarkets(ctx context.Context) ([]model.Market, error)

	// UpdateMarket persists pricer state, mark price, sigma and status
	// after a trade or price update. The variant column is never
	// touched.
	UpdateMarket(ctx context.Context, market *model.Market) error

	// --- Position operations ---

	// CreatePosition persists a newly opened position.
	CreatePosition(ctx context.Context, pos *model.Position) error

	// GetPosition retrieves a position by its ID.
	GetPosition(ctx context.Context, id string) (*model.Position, error)

	// UpdatePosition persists recomputed risk fields and state.
	UpdatePosition(ctx context.Context, pos *model.Position) error

	// ListPositionsByMarket returns every non-closed position in a market.
	ListPositionsByMarket(ctx context.Context, marketID string) ([]model.Position, error)

	// ListPositionsByOwner returns every non-closed position for an owner.
	ListPositionsByOwner(ctx context.Context, ownerID string) ([]model.Position, error)

	// --- Vault operations ---

	// GetVault retrieves the vault backing a market.
	GetVault(ctx context.Context, marketID string) (*model.Vault, error)

	// UpsertVault persists a vault's balance and open interest.
	UpsertVault(ctx context.Context, vault *model.Vault) error

	// --- Immutable ledger ---

	// InsertLedgerEntry appends an immutable fill/liquidation record.
	InsertLedgerEntry(ctx context.Context, entry *model.LedgerEntry) error

	// GetLedgerEntriesByMarket returns all entries for a market.
	GetLedgerEntriesByMarket(ctx context.Context, marketID string) ([]model.LedgerEntry, error)

	// GetLedgerEntriesByOwner returns all entries for an owner.
	GetLedgerEntriesByOwner(ctx context.Context, ownerID string) ([]model.LedgerEntry, error)

	// --- Chain operations ---

	// CreateChain persists a linked chain position.
	CreateChain(ctx context.Context, chain *model.Chain) error

	// GetChain retrieves a chain by its ID.
	GetChain(ctx context.Context, id string) (*model.Chain, error)
}
