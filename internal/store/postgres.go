package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/atmx/risk-engine/internal/amm"
	"github.com/atmx/risk-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision;
// per-variant pricer state (reserves, density modes) is stored as JSONB.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const marketColumns = `id, ticker, outcome_count, continuous, variant,
        q_yes::TEXT, q_no::TEXT, b::TEXT,
        reserves, density_modes,
        sigma::TEXT, mark_price::TEXT,
        status, created_at, updated_at`

func (s *PostgresStore) CreateMarket(ctx context.Context, m *model.Market) error {
	reserves, modes, err := marshalPricerState(m)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO markets (id, ticker, outcome_count, continuous, variant,
		                      q_yes, q_no, b, reserves, density_modes,
		                      sigma, mark_price, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5,
		         $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9::JSONB, $10::JSONB,
		         $11::NUMERIC, $12::NUMERIC, $13, $14, $15)`,
		m.ID, m.Ticker, m.OutcomeCount, m.Continuous, m.Variant,
		m.QYes.String(), m.QNo.String(), m.B.String(), reserves, modes,
		m.Sigma.String(), m.MarkPrice.String(), m.Status, m.CreatedAt, m.UpdatedAt,
	)
	return err
}

func (s *PostgresStore) GetMarket(ctx context.Context, id string) (*model.Market, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+marketColumns+` FROM markets WHERE id = $1`, id)
	m, err := scanMarket(row)
	if err != nil {
		return nil, fmt.Errorf("get market %s: %w", id, notFoundOr(err))
	}
	return m, nil
}

func (s *PostgresStore) GetMarketByTicker(ctx context.Context, ticker string) (*model.Market, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+marketColumns+` FROM markets WHERE ticker = $1`, ticker)
	m, err := scanMarket(row)
	if err != nil {
		return nil, fmt.Errorf("get market by ticker %s: %w", ticker, notFoundOr(err))
	}
	return m, nil
}

func (s *PostgresStore) ListMarkets(ctx context.Context) ([]model.Market, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+marketColumns+` FROM markets ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var markets []model.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, err
		}
		markets = append(markets, *m)
	}
	return markets, rows.Err()
}

func (s *PostgresStore) UpdateMarket(ctx context.Context, m *model.Market) error {
	reserves, modes, err := marshalPricerState(m)
	if err != nil {
		return err
	}
	// The SET list omits the variant column and the WHERE clause pins
	// it: the variant resolved at creation is immutable, and an update
	// carrying a different one matches no row.
	tag, err := s.pool.Exec(ctx,
		`UPDATE markets
		 SET q_yes = $2::NUMERIC, q_no = $3::NUMERIC, b = $4::NUMERIC,
		     reserves = $5::JSONB, density_modes = $6::JSONB,
		     sigma = $7::NUMERIC, mark_price = $8::NUMERIC,
		     status = $9, updated_at = $10
		 WHERE id = $1 AND variant = $11`,
		m.ID, m.QYes.String(), m.QNo.String(), m.B.String(),
		reserves, modes,
		m.Sigma.String(), m.MarkPrice.String(), m.Status, m.UpdatedAt,
		m.Variant,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM markets WHERE id = $1)`, m.ID,
		).Scan(&exists); err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("update market %s: %w", m.ID, amm.ErrAlreadySet)
		}
		return fmt.Errorf("update market %s: %w", m.ID, ErrNotFound)
	}
	return nil
}

const positionColumns = `id, owner_id, market_id,
        notional::TEXT, direction, entry_price::TEXT, base_leverage, margin::TEXT,
        mark_price::TEXT, pnl_pct::TEXT, pnl_abs::TEXT,
        effective_leverage::TEXT, liquidation_price::TEXT, margin_ratio::TEXT,
        state, COALESCE(chain_id, ''), open_count, created_at, updated_at`

func (s *PostgresStore) CreatePosition(ctx context.Context, p *model.Position) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO positions (id, owner_id, market_id,
		                        notional, direction, entry_price, base_leverage, margin,
		                        mark_price, pnl_pct, pnl_abs,
		                        effective_leverage, liquidation_price, margin_ratio,
		                        state, chain_id, open_count, created_at, updated_at)
		 VALUES ($1, $2, $3,
		         $4::NUMERIC, $5, $6::NUMERIC, $7, $8::NUMERIC,
		         $9::NUMERIC, $10::NUMERIC, $11::NUMERIC,
		         $12::NUMERIC, $13::NUMERIC, $14::NUMERIC,
		         $15, NULLIF($16, ''), $17, $18, $19)`,
		p.ID, p.OwnerID, p.MarketID,
		p.Notional.String(), p.Direction, p.EntryPrice.String(), p.BaseLeverage, p.Margin.String(),
		p.MarkPrice.String(), p.PnLPct.String(), p.PnLAbs.String(),
		p.EffectiveLeverage.String(), p.LiquidationPrice.String(), p.MarginRatio.String(),
		p.State, p.ChainID, p.OpenCount, p.CreatedAt, p.UpdatedAt,
	)
	return err
}

func (s *PostgresStore) GetPosition(ctx context.Context, id string) (*model.Position, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE id = $1`, id)
	p, err := scanPosition(row)
	if err != nil {
		return nil, fmt.Errorf("get position %s: %w", id, notFoundOr(err))
	}
	return p, nil
}

func (s *PostgresStore) UpdatePosition(ctx context.Context, p *model.Position) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE positions
		 SET notional = $2::NUMERIC, margin = $3::NUMERIC,
		     mark_price = $4::NUMERIC, pnl_pct = $5::NUMERIC, pnl_abs = $6::NUMERIC,
		     effective_leverage = $7::NUMERIC, liquidation_price = $8::NUMERIC,
		     margin_ratio = $9::NUMERIC, state = $10, open_count = $11, updated_at = $12
		 WHERE id = $1`,
		p.ID, p.Notional.String(), p.Margin.String(),
		p.MarkPrice.String(), p.PnLPct.String(), p.PnLAbs.String(),
		p.EffectiveLeverage.String(), p.LiquidationPrice.String(),
		p.MarginRatio.String(), p.State, p.OpenCount, p.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update position %s: %w", p.ID, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) ListPositionsByMarket(ctx context.Context, marketID string) ([]model.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionColumns+`
		 FROM positions WHERE market_id = $1 AND state != 'CLOSED'
		 ORDER BY created_at`, marketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPositions(rows)
}

func (s *PostgresStore) ListPositionsByOwner(ctx context.Context, ownerID string) ([]model.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionColumns+`
		 FROM positions WHERE owner_id = $1 AND state != 'CLOSED'
		 ORDER BY created_at`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPositions(rows)
}

func (s *PostgresStore) GetVault(ctx context.Context, marketID string) (*model.Vault, error) {
	var v model.Vault
	var balance, oi string

	err := s.pool.QueryRow(ctx,
		`SELECT market_id, balance::TEXT, open_interest::TEXT, updated_at
		 FROM vaults WHERE market_id = $1`, marketID).
		Scan(&v.MarketID, &balance, &oi, &v.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("get vault %s: %w", marketID, notFoundOr(err))
	}

	v.Balance, _ = decimal.NewFromString(balance)
	v.OpenInterest, _ = decimal.NewFromString(oi)
	return &v, nil
}

func (s *PostgresStore) UpsertVault(ctx context.Context, v *model.Vault) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO vaults (market_id, balance, open_interest, updated_at)
		 VALUES ($1, $2::NUMERIC, $3::NUMERIC, $4)
		 ON CONFLICT (market_id) DO UPDATE
		 SET balance = EXCLUDED.balance,
		     open_interest = EXCLUDED.open_interest,
		     updated_at = EXCLUDED.updated_at`,
		v.MarketID, v.Balance.String(), v.OpenInterest.String(), v.UpdatedAt,
	)
	return err
}

func (s *PostgresStore) InsertLedgerEntry(ctx context.Context, e *model.LedgerEntry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO ledger_entries (id, owner_id, market_id, kind, side, quantity, price, cost, timestamp)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9)`,
		e.ID, e.OwnerID, e.MarketID, e.Kind, e.Side,
		e.Quantity.String(), e.Price.String(), e.Cost.String(),
		e.Timestamp,
	)
	return err
}

func (s *PostgresStore) GetLedgerEntriesByMarket(ctx context.Context, marketID string) ([]model.LedgerEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, owner_id, market_id, kind, side,
		        quantity::TEXT, price::TEXT, cost::TEXT, timestamp
		 FROM ledger_entries WHERE market_id = $1 ORDER BY timestamp`, marketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanLedgerEntries(rows)
}

func (s *PostgresStore) GetLedgerEntriesByOwner(ctx context.Context, ownerID string) ([]model.LedgerEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, owner_id, market_id, kind, side,
		        quantity::TEXT, price::TEXT, cost::TEXT, timestamp
		 FROM ledger_entries WHERE owner_id = $1 ORDER BY timestamp`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanLedgerEntries(rows)
}

func (s *PostgresStore) CreateChain(ctx context.Context, c *model.Chain) error {
	legs, err := json.Marshal(c.Legs)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO chains (id, owner_id, legs, created_at)
		 VALUES ($1, $2, $3::JSONB, $4)`,
		c.ID, c.OwnerID, legs, c.CreatedAt,
	)
	return err
}

func (s *PostgresStore) GetChain(ctx context.Context, id string) (*model.Chain, error) {
	var c model.Chain
	var legs []byte

	err := s.pool.QueryRow(ctx,
		`SELECT id, owner_id, legs, created_at FROM chains WHERE id = $1`, id).
		Scan(&c.ID, &c.OwnerID, &legs, &c.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("get chain %s: %w", id, notFoundOr(err))
	}
	if err := json.Unmarshal(legs, &c.Legs); err != nil {
		return nil, fmt.Errorf("get chain %s: decode legs: %w", id, err)
	}
	return &c, nil
}

// --- Scan helpers ---

type pgxRow interface {
	Scan(dest ...interface{}) error
}

type pgxRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

func scanMarket(row pgxRow) (*model.Market, error) {
	var m model.Market
	var qYes, qNo, b, sigma, mark string
	var reserves, modes []byte

	if err := row.Scan(&m.ID, &m.Ticker, &m.OutcomeCount, &m.Continuous, &m.Variant,
		&qYes, &qNo, &b,
		&reserves, &modes,
		&sigma, &mark,
		&m.Status, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return nil, err
	}

	m.QYes, _ = decimal.NewFromString(qYes)
	m.QNo, _ = decimal.NewFromString(qNo)
	m.B, _ = decimal.NewFromString(b)
	m.Sigma, _ = decimal.NewFromString(sigma)
	m.MarkPrice, _ = decimal.NewFromString(mark)

	if len(reserves) > 0 {
		if err := json.Unmarshal(reserves, &m.Reserves); err != nil {
			return nil, fmt.Errorf("decode reserves: %w", err)
		}
	}
	if len(modes) > 0 {
		if err := json.Unmarshal(modes, &m.DensityModes); err != nil {
			return nil, fmt.Errorf("decode density modes: %w", err)
		}
	}
	return &m, nil
}

func scanPosition(row pgxRow) (*model.Position, error) {
	var p model.Position
	var notional, entry, margin, mark, pnlPct, pnlAbs, eff, liq, mr string

	if err := row.Scan(&p.ID, &p.OwnerID, &p.MarketID,
		&notional, &p.Direction, &entry, &p.BaseLeverage, &margin,
		&mark, &pnlPct, &pnlAbs,
		&eff, &liq, &mr,
		&p.State, &p.ChainID, &p.OpenCount, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}

	p.Notional, _ = decimal.NewFromString(notional)
	p.EntryPrice, _ = decimal.NewFromString(entry)
	p.Margin, _ = decimal.NewFromString(margin)
	p.MarkPrice, _ = decimal.NewFromString(mark)
	p.PnLPct, _ = decimal.NewFromString(pnlPct)
	p.PnLAbs, _ = decimal.NewFromString(pnlAbs)
	p.EffectiveLeverage, _ = decimal.NewFromString(eff)
	p.LiquidationPrice, _ = decimal.NewFromString(liq)
	p.MarginRatio, _ = decimal.NewFromString(mr)
	return &p, nil
}

func scanPositions(rows pgxRows) ([]model.Position, error) {
	var out []model.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func scanLedgerEntries(rows pgxRows) ([]model.LedgerEntry, error) {
	var entries []model.LedgerEntry
	for rows.Next() {
		var e model.LedgerEntry
		var qtyS, priceS, costS string

		if err := rows.Scan(&e.ID, &e.OwnerID, &e.MarketID, &e.Kind, &e.Side,
			&qtyS, &priceS, &costS, &e.Timestamp); err != nil {
			return nil, err
		}

		e.Quantity, _ = decimal.NewFromString(qtyS)
		e.Price, _ = decimal.NewFromString(priceS)
		e.Cost, _ = decimal.NewFromString(costS)

		entries = append(entries, e)
	}
	return entries, nil
}

func marshalPricerState(m *model.Market) (reserves, modes []byte, err error) {
	if m.Reserves != nil {
		if reserves, err = json.Marshal(m.Reserves); err != nil {
			return nil, nil, err
		}
	}
	if m.DensityModes != nil {
		if modes, err = json.Marshal(m.DensityModes); err != nil {
			return nil, nil, err
		}
	}
	return reserves, modes, nil
}

func notFoundOr(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
