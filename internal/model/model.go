// Package model defines the core domain types shared across the risk engine.
// All monetary values use shopspring/decimal — never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Direction of a leveraged position.
type Direction string

const (
	DirectionLong  Direction = "LONG"
	DirectionShort Direction = "SHORT"
)

// Sign returns +1 for longs and -1 for shorts, the multiplier that
// turns a raw price move into signed PnL.
func (d Direction) Sign() decimal.Decimal {
	if d == DirectionShort {
		return decimal.NewFromInt(-1)
	}
	return decimal.NewFromInt(1)
}

// Valid reports whether the direction is one of the two known values.
func (d Direction) Valid() bool {
	return d == DirectionLong || d == DirectionShort
}

// PositionState is the liquidation lifecycle state of a position.
//
// Transitions: Healthy → AtRisk → PartiallyLiquidated → (Healthy | Closed).
type PositionState string

const (
	StateHealthy             PositionState = "HEALTHY"
	StateAtRisk              PositionState = "AT_RISK"
	StatePartiallyLiquidated PositionState = "PARTIALLY_LIQUIDATED"
	StateClosed              PositionState = "CLOSED"
)

// Market status values.
const (
	MarketStatusActive   = "active"
	MarketStatusHalted   = "halted"
	MarketStatusResolved = "resolved"
)

// Market holds one market's outcome structure and the state of its
// assigned pricer. Exactly one of the per-variant blocks is populated,
// matching the variant resolved at creation; Variant is immutable for
// the market's lifetime.
type Market struct {
	ID           string `json:"id" db:"id"`
	Ticker       string `json:"ticker" db:"ticker"`
	OutcomeCount int    `json:"outcome_count" db:"outcome_count"`
	Continuous   bool   `json:"continuous" db:"continuous"`
	Variant      string `json:"variant" db:"variant"` // "LMSR", "PM-AMM", "L2"

	// LMSR state: outstanding share quantities and liquidity parameter.
	QYes decimal.Decimal `json:"q_yes" db:"q_yes"`
	QNo  decimal.Decimal `json:"q_no" db:"q_no"`
	B    decimal.Decimal `json:"b" db:"b"`

	// PM-AMM state: one reserve per outcome.
	Reserves []decimal.Decimal `json:"reserves,omitempty" db:"reserves"`

	// L2 state: fitted density modes (mean, stddev, weight triples).
	DensityModes []DensityMode `json:"density_modes,omitempty" db:"density_modes"`

	Sigma     decimal.Decimal `json:"sigma" db:"sigma"` // realized volatility
	MarkPrice decimal.Decimal `json:"mark_price" db:"mark_price"`
	Status    string          `json:"status" db:"status"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}

// DensityMode is one normal component of a continuous market's fitted
// density, stored as plain numbers for serialization.
type DensityMode struct {
	Mean   float64 `json:"mean" db:"mean"`
	StdDev float64 `json:"std_dev" db:"std_dev"`
	Weight float64 `json:"weight" db:"weight"`
}

// Position is one leveraged position. Derived fields (PnL, effective
// leverage, liquidation price) are recomputed on every mark-price
// update; they are stored, never trusted across cycles.
type Position struct {
	ID       string `json:"id" db:"id"`
	OwnerID  string `json:"owner_id" db:"owner_id"`
	MarketID string `json:"market_id" db:"market_id"`

	Notional     decimal.Decimal `json:"notional" db:"notional"`
	Direction    Direction       `json:"direction" db:"direction"`
	EntryPrice   decimal.Decimal `json:"entry_price" db:"entry_price"`
	BaseLeverage int64           `json:"base_leverage" db:"base_leverage"`
	Margin       decimal.Decimal `json:"margin" db:"margin"`

	MarkPrice         decimal.Decimal `json:"mark_price" db:"mark_price"`
	PnLPct            decimal.Decimal `json:"pnl_pct" db:"pnl_pct"`
	PnLAbs            decimal.Decimal `json:"pnl_abs" db:"pnl_abs"`
	EffectiveLeverage decimal.Decimal `json:"effective_leverage" db:"effective_leverage"`
	LiquidationPrice  decimal.Decimal `json:"liquidation_price" db:"liquidation_price"`
	MarginRatio       decimal.Decimal `json:"margin_ratio" db:"margin_ratio"`

	State   PositionState `json:"state" db:"state"`
	ChainID string        `json:"chain_id,omitempty" db:"chain_id"` // empty when unchained

	// OpenCount is the owner's concurrent open position count, feeding
	// the margin-ratio crowding factor.
	OpenCount int `json:"open_count" db:"open_count"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Vault aggregates collateral and open interest for one market.
type Vault struct {
	MarketID     string          `json:"market_id" db:"market_id"`
	Balance      decimal.Decimal `json:"balance" db:"balance"`
	OpenInterest decimal.Decimal `json:"open_interest" db:"open_interest"`
	UpdatedAt    time.Time       `json:"updated_at" db:"updated_at"`
}

// LedgerEntry is an immutable record of a fill or liquidation slice.
// Once created, these are never modified or deleted.
type LedgerEntry struct {
	ID        string          `json:"id" db:"id"`
	OwnerID   string          `json:"owner_id" db:"owner_id"`
	MarketID  string          `json:"market_id" db:"market_id"`
	Kind      string          `json:"kind" db:"kind"` // "trade", "liquidation", "keeper_incentive"
	Side      string          `json:"side" db:"side"`
	Quantity  decimal.Decimal `json:"quantity" db:"quantity"` // signed: +buy, -sell
	Price     decimal.Decimal `json:"price" db:"price"`       // average fill price
	Cost      decimal.Decimal `json:"cost" db:"cost"`         // total cost (signed)
	Timestamp time.Time       `json:"timestamp" db:"timestamp"`
}

// ChainRole tags one leg of a linked chain position.
type ChainRole string

const (
	RoleStake     ChainRole = "STAKE"
	RoleLeveraged ChainRole = "LEVERAGED"
	RoleBorrow    ChainRole = "BORROW"
)

// ChainLeg is one leg of a chain: a position plus its role and the
// legs it depends on (indices into the owning chain's leg slice).
type ChainLeg struct {
	PositionID string    `json:"position_id" db:"position_id"`
	Role       ChainRole `json:"role" db:"role"`
	DependsOn  []int     `json:"depends_on,omitempty" db:"depends_on"`
}

// Chain is an ordered list of linked legs. The dependency graph over
// legs must be acyclic; unwind order is derived from roles.
type Chain struct {
	ID        string     `json:"id" db:"id"`
	OwnerID   string     `json:"owner_id" db:"owner_id"`
	Legs      []ChainLeg `json:"legs" db:"legs"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
}
