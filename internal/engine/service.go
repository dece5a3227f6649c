// Package engine provides the HTTP handlers and business logic for
// creating markets, pricing trades, running the per-cycle risk loop,
// and executing liquidations and chain unwinds.
//
// All monetary values use shopspring/decimal — never float64 for money.
package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/atmx/risk-engine/internal/amm"
	"github.com/atmx/risk-engine/internal/amm/l2dist"
	"github.com/atmx/risk-engine/internal/amm/lmsr"
	"github.com/atmx/risk-engine/internal/amm/pmamm"
	"github.com/atmx/risk-engine/internal/chain"
	"github.com/atmx/risk-engine/internal/coverage"
	"github.com/atmx/risk-engine/internal/liquidation"
	"github.com/atmx/risk-engine/internal/metrics"
	"github.com/atmx/risk-engine/internal/model"
	"github.com/atmx/risk-engine/internal/store"
)

// spreadThreshold rejects price updates whose yes+no deviates from par
// by more than 5%: such updates are stale or corrupt at the source.
var spreadThreshold = decimal.NewFromFloat(0.05)

// Service handles market operations. Uses a mutex for serialized
// execution (single-instance): trades, price updates and liquidations
// are discrete ordered calls, and a liquidation must observe the most
// recently recomputed coverage, never a stale snapshot.
type Service struct {
	store store.Store
	wsHub *WSHub // optional WebSocket hub for real-time broadcasts

	mu           sync.Mutex
	coverages    map[string]*coverage.State
	accumulators map[string]*liquidation.PeriodAccumulator

	liqPeriod     time.Duration
	keeperLimiter *rate.Limiter // paces permissionless liquidation calls
}

// NewService creates a new engine service.
// Pass nil for hub if WebSocket broadcasting is not needed.
func NewService(st store.Store, hub *WSHub, liqPeriod time.Duration, keeperRPS float64) *Service {
	if liqPeriod <= 0 {
		liqPeriod = time.Hour
	}
	if keeperRPS <= 0 {
		keeperRPS = 10
	}
	return &Service{
		store:         st,
		wsHub:         hub,
		coverages:     make(map[string]*coverage.State),
		accumulators:  make(map[string]*liquidation.PeriodAccumulator),
		liqPeriod:     liqPeriod,
		keeperLimiter: rate.NewLimiter(rate.Limit(keeperRPS), int(keeperRPS)+1),
	}
}

// coverageState returns the per-market coverage context, creating it
// on first use. Caller must hold s.mu.
func (s *Service) coverageState(marketID string) *coverage.State {
	cs, ok := s.coverages[marketID]
	if !ok {
		cs = coverage.NewState()
		s.coverages[marketID] = cs
	}
	return cs
}

// accumulator returns the per-market liquidation accumulator, creating
// it on first use. Caller must hold s.mu.
func (s *Service) accumulator(marketID string, now time.Time) *liquidation.PeriodAccumulator {
	acc, ok := s.accumulators[marketID]
	if !ok {
		acc = liquidation.NewPeriodAccumulator(s.liqPeriod, now.Truncate(s.liqPeriod))
		s.accumulators[marketID] = acc
	}
	return acc
}

// chainMultiplier resolves the effective-leverage multiplier for a
// chained position. Unchained positions, and positions whose chain can
// no longer be loaded, carry no multiplier.
func (s *Service) chainMultiplier(ctx context.Context, chainID string) decimal.Decimal {
	if chainID == "" {
		return decimal.Zero
	}
	c, err := s.store.GetChain(ctx, chainID)
	if err != nil {
		slog.Warn("chain lookup failed, skipping multiplier", "chain", chainID, "err", err)
		return decimal.Zero
	}
	return chain.Multiplier(c.Legs)
}

// --- Request/Response types ---

// CreateMarketRequest is the JSON body for market creation.
type CreateMarketRequest struct {
	Ticker       string          `json:"ticker"` // ATMX-{category}-{slug}-{date}
	OutcomeCount int             `json:"outcome_count"`
	Continuous   bool            `json:"continuous"`
	Variant      string          `json:"variant,omitempty"` // ignored: resolved server-side
	B            decimal.Decimal `json:"b,omitempty"`       // LMSR liquidity; 0 → derived
	Sigma        decimal.Decimal `json:"sigma,omitempty"`
	SeedLiquidity decimal.Decimal `json:"seed_liquidity,omitempty"` // PM-AMM per-outcome reserve
	DensityModes []model.DensityMode `json:"density_modes,omitempty"`
	VaultBalance decimal.Decimal `json:"vault_balance,omitempty"`
}

// PriceUpdateRequest is the JSON body for POST /markets/{id}/price.
// Binary markets carry yes/no prices; continuous markets carry fresh
// density modes. The caller owns staleness policy; the engine enforces
// the par-spread gate.
type PriceUpdateRequest struct {
	YesPrice     decimal.Decimal     `json:"yes_price,omitempty"`
	NoPrice      decimal.Decimal     `json:"no_price,omitempty"`
	DensityModes []model.DensityMode `json:"density_modes,omitempty"`
	Sigma        decimal.Decimal     `json:"sigma,omitempty"`
	Timestamp    time.Time           `json:"timestamp"`
}

// CoverageResponse is the JSON body for GET /markets/{id}/coverage.
type CoverageResponse struct {
	MarketID string          `json:"market_id"`
	Ratio    decimal.Decimal `json:"coverage_ratio"`
	TailLoss decimal.Decimal `json:"tail_loss"`
	Halted   bool            `json:"halted"`
}

// --- Market handlers ---

// CreateMarket handles POST /api/v1/markets.
// The AMM variant is resolved from the outcome structure exactly once;
// a caller-supplied variant never wins.
func (s *Service) CreateMarket(w http.ResponseWriter, r *http.Request) {
	var req CreateMarketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if _, err := model.ParseTicker(req.Ticker); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	variant, err := amm.Resolve(req.OutcomeCount, req.Continuous)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Variant != "" && amm.ParseVariant(req.Variant) != variant {
		slog.Warn("requested variant overridden by resolution",
			"requested", req.Variant, "resolved", variant.String())
	}

	now := time.Now().UTC()
	market := &model.Market{
		ID:           uuid.New().String(),
		Ticker:       req.Ticker,
		OutcomeCount: req.OutcomeCount,
		Continuous:   req.Continuous,
		Variant:      variant.String(),
		Sigma:        req.Sigma,
		Status:       model.MarketStatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	switch variant {
	case amm.VariantLMSR:
		b := req.B
		if b.LessThanOrEqual(decimal.Zero) {
			b, err = lmsr.DeriveLiquidity(req.Sigma, decimal.NewFromInt(1000))
			if err != nil {
				writeError(w, err.Error(), http.StatusBadRequest)
				return
			}
		}
		if _, err := lmsr.NewMarketMaker(b); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		market.B = b
		market.MarkPrice = decimal.NewFromFloat(0.5)

	case amm.VariantPMAMM:
		seed := req.SeedLiquidity
		if seed.LessThanOrEqual(decimal.Zero) {
			seed = decimal.NewFromInt(1000)
		}
		reserves := make([]decimal.Decimal, req.OutcomeCount)
		for i := range reserves {
			reserves[i] = seed
		}
		pool, err := pmamm.NewPool(reserves)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		market.Reserves = reserves
		mark, _ := pool.SpotPrice(0)
		market.MarkPrice = mark

	case amm.VariantL2:
		if len(req.DensityModes) == 0 {
			writeError(w, "continuous markets require density_modes", http.StatusBadRequest)
			return
		}
		mixture, err := buildMixture(req.DensityModes)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		market.DensityModes = req.DensityModes
		market.MarkPrice = mixture.Mean()
	}

	ctx := r.Context()
	if err := s.store.CreateMarket(ctx, market); err != nil {
		writeError(w, err.Error(), http.StatusConflict)
		return
	}

	vault := &model.Vault{
		MarketID:  market.ID,
		Balance:   req.VaultBalance,
		UpdatedAt: now,
	}
	if err := s.store.UpsertVault(ctx, vault); err != nil {
		writeError(w, "failed to initialize vault", http.StatusInternalServerError)
		return
	}

	metrics.ActiveMarkets.Inc()
	slog.Info("market created",
		"id", market.ID,
		"ticker", req.Ticker,
		"variant", market.Variant,
		"outcomes", req.OutcomeCount,
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(market)
}

// GetMarket handles GET /api/v1/markets/{marketID}
func (s *Service) GetMarket(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")

	market, err := s.store.GetMarket(r.Context(), marketID)
	if err != nil {
		writeError(w, "market not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(market)
}

// ListMarkets handles GET /api/v1/markets
func (s *Service) ListMarkets(w http.ResponseWriter, r *http.Request) {
	markets, err := s.store.ListMarkets(r.Context())
	if err != nil {
		writeError(w, "failed to list markets", http.StatusInternalServerError)
		return
	}
	if markets == nil {
		markets = []model.Market{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(markets)
}

// GetMarketHistory handles GET /api/v1/markets/{marketID}/history
// Returns ledger entries to reconstruct price history.
func (s *Service) GetMarketHistory(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")

	entries, err := s.store.GetLedgerEntriesByMarket(r.Context(), marketID)
	if err != nil {
		writeError(w, "failed to get market history", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []model.LedgerEntry{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(entries)
}

// UpdatePrice handles POST /api/v1/markets/{marketID}/price.
// One call is one update cycle: the mark price commits, coverage is
// recomputed and recorded, then every open position is re-evaluated
// against the fresh snapshot — strictly in that order.
func (s *Service) UpdatePrice(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")

	var req PriceUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	ctx := r.Context()

	s.mu.Lock()
	defer s.mu.Unlock()

	market, err := s.store.GetMarket(ctx, marketID)
	if err != nil {
		writeError(w, "market not found", http.StatusNotFound)
		return
	}

	// Recompute the mark price from the update payload.
	if market.Continuous {
		mixture, err := buildMixture(req.DensityModes)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		market.DensityModes = req.DensityModes
		market.MarkPrice = mixture.Mean()
	} else {
		// Par-spread gate: yes+no must sit within 5% of 1.
		spread := req.YesPrice.Add(req.NoPrice).Sub(decimal.NewFromInt(1)).Abs()
		if spread.GreaterThan(spreadThreshold) {
			writeError(w, "yes+no deviates from par beyond spread threshold", http.StatusBadRequest)
			return
		}
		market.MarkPrice = req.YesPrice
	}
	if req.Sigma.GreaterThan(decimal.Zero) {
		market.Sigma = req.Sigma
	}
	market.UpdatedAt = time.Now().UTC()

	if err := s.store.UpdateMarket(ctx, market); err != nil {
		writeError(w, "failed to update market", http.StatusInternalServerError)
		return
	}

	// Coverage recomputation precedes position evaluation; positions in
	// this cycle all read the same committed snapshot.
	vault, err := s.store.GetVault(ctx, marketID)
	if err != nil {
		writeError(w, "vault not found", http.StatusInternalServerError)
		return
	}
	ratio := coverage.Ratio(vault.Balance, vault.OpenInterest)
	cs := s.coverageState(marketID)
	wasHalted := cs.Halted()
	cs.Record(ratio)
	if cs.Halted() && !wasHalted {
		metrics.CoverageHalts.Inc()
		slog.Warn("coverage halt latched", "market", marketID, "ratio", ratio.String())
	}
	metrics.CoverageRatio.WithLabelValues(marketID).Set(ratio.InexactFloat64())

	snap := liquidation.Snapshot{
		MarkPrice: market.MarkPrice,
		Sigma:     market.Sigma,
		Coverage:  ratio,
	}

	positions, err := s.store.ListPositionsByMarket(ctx, marketID)
	if err != nil {
		writeError(w, "failed to load positions", http.StatusInternalServerError)
		return
	}

	// Positions in the same chain share a multiplier; resolve each
	// chain once per cycle.
	multipliers := make(map[string]decimal.Decimal)

	atRiskCount := 0
	for _, pos := range positions {
		snap.ChainMultiplier = decimal.Zero
		if pos.ChainID != "" {
			mult, ok := multipliers[pos.ChainID]
			if !ok {
				mult = s.chainMultiplier(ctx, pos.ChainID)
				multipliers[pos.ChainID] = mult
			}
			snap.ChainMultiplier = mult
		}
		updated, atRisk, err := liquidation.Evaluate(pos, snap)
		if err != nil {
			slog.Error("position evaluation failed", "position", pos.ID, "err", err)
			continue
		}
		if atRisk {
			atRiskCount++
		}
		if err := s.store.UpdatePosition(ctx, &updated); err != nil {
			writeError(w, "failed to persist position", http.StatusInternalServerError)
			return
		}
	}

	slog.Info("price cycle committed",
		"market", marketID,
		"mark", market.MarkPrice.String(),
		"coverage", ratio.String(),
		"positions", len(positions),
		"at_risk", atRiskCount,
	)

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:      "price_update",
			MarketID:  marketID,
			Ticker:    market.Ticker,
			MarkPrice: market.MarkPrice.String(),
			Coverage:  ratio.String(),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"market_id": marketID,
		"mark":      market.MarkPrice,
		"coverage":  ratio,
		"at_risk":   atRiskCount,
	})
}

// GetCoverage handles GET /api/v1/markets/{marketID}/coverage
func (s *Service) GetCoverage(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")
	ctx := r.Context()

	market, err := s.store.GetMarket(ctx, marketID)
	if err != nil {
		writeError(w, "market not found", http.StatusNotFound)
		return
	}
	vault, err := s.store.GetVault(ctx, marketID)
	if err != nil {
		writeError(w, "vault not found", http.StatusNotFound)
		return
	}

	s.mu.Lock()
	cs := s.coverageState(marketID)
	ratio := coverage.Ratio(vault.Balance, vault.OpenInterest)
	halted := cs.Halted() || ratio.LessThan(coverage.MinRatio)
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(CoverageResponse{
		MarketID: marketID,
		Ratio:    ratio,
		TailLoss: coverage.TailLoss(market.OutcomeCount, decimal.Zero),
		Halted:   halted,
	})
}

// ClearCoverageHalt handles POST /markets/{id}/coverage/clear-halt.
// The halt latch never clears on its own; once an operator has
// recapitalized the vault this is the only way to re-enable leveraged
// trading. Trades still pass through the live ratio floor afterwards.
func (s *Service) ClearCoverageHalt(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")
	ctx := r.Context()

	if _, err := s.store.GetMarket(ctx, marketID); err != nil {
		writeError(w, "market not found", http.StatusNotFound)
		return
	}
	vault, err := s.store.GetVault(ctx, marketID)
	if err != nil {
		writeError(w, "vault not found", http.StatusNotFound)
		return
	}

	s.mu.Lock()
	cs := s.coverageState(marketID)
	wasHalted := cs.Halted()
	cs.ClearHalt()
	ratio := coverage.Ratio(vault.Balance, vault.OpenInterest)
	s.mu.Unlock()

	slog.Info("coverage halt cleared",
		"market", marketID,
		"was_halted", wasHalted,
		"ratio", ratio.String())

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(CoverageResponse{
		MarketID: marketID,
		Ratio:    ratio,
		Halted:   ratio.LessThan(coverage.MinRatio),
	})
}

// buildMixture converts stored density modes to an l2dist mixture.
func buildMixture(modes []model.DensityMode) (*l2dist.Mixture, error) {
	ms := make([]l2dist.Mode, len(modes))
	for i, m := range modes {
		ms[i] = l2dist.Mode{Mean: m.Mean, StdDev: m.StdDev, Weight: m.Weight}
	}
	return l2dist.NewMixture(ms)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
