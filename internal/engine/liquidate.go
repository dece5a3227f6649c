package engine

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/atmx/risk-engine/internal/chain"
	"github.com/atmx/risk-engine/internal/coverage"
	"github.com/atmx/risk-engine/internal/liquidation"
	"github.com/atmx/risk-engine/internal/metrics"
	"github.com/atmx/risk-engine/internal/model"
)

// LiquidateRequest is the JSON body for POST /positions/{id}/liquidate.
// The call is permissionless: any keeper may submit it, subject to the
// service-wide rate limit.
type LiquidateRequest struct {
	KeeperID string          `json:"keeper_id"`
	MaxSize  decimal.Decimal `json:"max_size,omitempty"` // 0 = cap headroom only
}

// LiquidateResponse reports one liquidation slice.
type LiquidateResponse struct {
	PositionID      string          `json:"position_id"`
	Liquidated      decimal.Decimal `json:"liquidated"`
	KeeperIncentive decimal.Decimal `json:"keeper_incentive"`
	Remaining       decimal.Decimal `json:"remaining"`
	State           string          `json:"state"`
	NoOp            bool            `json:"no_op"`
}

// Liquidate handles POST /api/v1/positions/{positionID}/liquidate.
//
// The position is re-evaluated against a fresh snapshot before any
// slice executes: a keeper cannot liquidate a position that is healthy
// at the current mark. The coverage halt latch never gates this path.
func (s *Service) Liquidate(w http.ResponseWriter, r *http.Request) {
	if !s.keeperLimiter.Allow() {
		writeError(w, "keeper rate limit exceeded", http.StatusTooManyRequests)
		return
	}

	positionID := chi.URLParam(r, "positionID")

	var req LiquidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.KeeperID == "" {
		writeError(w, "keeper_id is required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	now := time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	pos, err := s.store.GetPosition(ctx, positionID)
	if err != nil {
		writeError(w, "position not found", http.StatusNotFound)
		return
	}

	market, err := s.store.GetMarket(ctx, pos.MarketID)
	if err != nil {
		writeError(w, "market not found", http.StatusInternalServerError)
		return
	}
	vault, err := s.store.GetVault(ctx, pos.MarketID)
	if err != nil {
		writeError(w, "vault not found", http.StatusInternalServerError)
		return
	}

	snap := liquidation.Snapshot{
		MarkPrice:       market.MarkPrice,
		Sigma:           market.Sigma,
		Coverage:        coverage.Ratio(vault.Balance, vault.OpenInterest),
		ChainMultiplier: s.chainMultiplier(ctx, pos.ChainID),
	}

	evaluated, atRisk, err := liquidation.Evaluate(*pos, snap)
	if err != nil {
		if errors.Is(err, liquidation.ErrPositionClosed) {
			writeError(w, err.Error(), http.StatusConflict)
			return
		}
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !atRisk {
		// Persist the refreshed derived fields even when nothing executes.
		if err := s.store.UpdatePosition(ctx, &evaluated); err != nil {
			writeError(w, "failed to persist position", http.StatusInternalServerError)
			return
		}
		writeError(w, "position is not liquidatable at current mark", http.StatusConflict)
		return
	}

	acc := s.accumulator(pos.MarketID, now)
	result, updated, err := liquidation.Execute(evaluated, acc, market.Sigma, vault.OpenInterest, req.MaxSize, now)
	if err != nil {
		writeError(w, err.Error(), http.StatusConflict)
		return
	}

	if result.NoOp {
		metrics.LiquidationsTotal.WithLabelValues("capped").Inc()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(LiquidateResponse{
			PositionID: positionID,
			Remaining:  result.Remaining,
			State:      string(updated.State),
			NoOp:       true,
		})
		return
	}

	if err := s.store.UpdatePosition(ctx, &updated); err != nil {
		writeError(w, "failed to persist position", http.StatusInternalServerError)
		return
	}

	// The vault absorbs the liquidated notional net of the keeper's cut;
	// open interest shrinks by the full slice.
	vault.Balance = vault.Balance.Add(result.VaultProceeds)
	vault.OpenInterest = vault.OpenInterest.Sub(result.Liquidated)
	if vault.OpenInterest.IsNegative() {
		vault.OpenInterest = decimal.Zero
	}
	vault.UpdatedAt = now
	if err := s.store.UpsertVault(ctx, vault); err != nil {
		writeError(w, "failed to update vault", http.StatusInternalServerError)
		return
	}

	ledger := []*model.LedgerEntry{
		{
			ID:        uuid.New().String(),
			OwnerID:   pos.OwnerID,
			MarketID:  pos.MarketID,
			Kind:      "liquidation",
			Side:      string(pos.Direction),
			Quantity:  result.Liquidated.Neg(),
			Price:     market.MarkPrice,
			Cost:      result.Liquidated.Neg(),
			Timestamp: now,
		},
		{
			ID:        uuid.New().String(),
			OwnerID:   req.KeeperID,
			MarketID:  pos.MarketID,
			Kind:      "keeper_incentive",
			Quantity:  decimal.Zero,
			Price:     market.MarkPrice,
			Cost:      result.KeeperIncentive,
			Timestamp: now,
		},
	}
	for _, e := range ledger {
		if err := s.store.InsertLedgerEntry(ctx, e); err != nil {
			writeError(w, "failed to record liquidation", http.StatusInternalServerError)
			return
		}
	}

	metrics.LiquidationsTotal.WithLabelValues("executed").Inc()
	metrics.LiquidatedNotional.WithLabelValues(pos.MarketID).Add(result.Liquidated.InexactFloat64())

	slog.Info("liquidation executed",
		"position", positionID,
		"keeper", req.KeeperID,
		"liquidated", result.Liquidated.String(),
		"incentive", result.KeeperIncentive.String(),
		"remaining", result.Remaining.String(),
		"state", updated.State,
	)

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:     "liquidation",
			MarketID: pos.MarketID,
			Ticker:   market.Ticker,
			Quantity: result.Liquidated.String(),
			Price:    market.MarkPrice.String(),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(LiquidateResponse{
		PositionID:      positionID,
		Liquidated:      result.Liquidated,
		KeeperIncentive: result.KeeperIncentive,
		Remaining:       result.Remaining,
		State:           string(updated.State),
	})
}

// GetPosition handles GET /api/v1/positions/{positionID}
func (s *Service) GetPosition(w http.ResponseWriter, r *http.Request) {
	positionID := chi.URLParam(r, "positionID")

	pos, err := s.store.GetPosition(r.Context(), positionID)
	if err != nil {
		writeError(w, "position not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(pos)
}

// ListOwnerPositions handles GET /api/v1/owners/{ownerID}/positions
func (s *Service) ListOwnerPositions(w http.ResponseWriter, r *http.Request) {
	ownerID := chi.URLParam(r, "ownerID")

	positions, err := s.store.ListPositionsByOwner(r.Context(), ownerID)
	if err != nil {
		writeError(w, "failed to list positions", http.StatusInternalServerError)
		return
	}
	if positions == nil {
		positions = []model.Position{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(positions)
}

// CreateChainRequest is the JSON body for POST /chains.
type CreateChainRequest struct {
	OwnerID string           `json:"owner_id"`
	Legs    []model.ChainLeg `json:"legs"`
}

// CreateChain handles POST /api/v1/chains.
// The dependency graph is verified acyclic before the chain persists;
// a cyclic chain never reaches storage.
func (s *Service) CreateChain(w http.ResponseWriter, r *http.Request) {
	var req CreateChainRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.OwnerID == "" {
		writeError(w, "owner_id is required", http.StatusBadRequest)
		return
	}

	c := &model.Chain{
		ID:        uuid.New().String(),
		OwnerID:   req.OwnerID,
		Legs:      req.Legs,
		CreatedAt: time.Now().UTC(),
	}

	if err := chain.VerifyAcyclic(c.Legs); err != nil {
		if errors.Is(err, chain.ErrCyclicDependency) {
			writeError(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := s.store.CreateChain(r.Context(), c); err != nil {
		writeError(w, "failed to persist chain", http.StatusInternalServerError)
		return
	}

	slog.Info("chain created", "id", c.ID, "owner", req.OwnerID, "legs", len(c.Legs))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(c)
}

// UnwindChain handles POST /api/v1/chains/{chainID}/unwind.
//
// Legs close borrow-first, then leveraged, then stake; a cycle in the
// dependency graph rejects the whole call with nothing closed. A leg
// failure stops the unwind and reports the partial results.
func (s *Service) UnwindChain(w http.ResponseWriter, r *http.Request) {
	chainID := chi.URLParam(r, "chainID")
	ctx := r.Context()

	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.store.GetChain(ctx, chainID)
	if err != nil {
		writeError(w, "chain not found", http.StatusNotFound)
		return
	}

	now := time.Now().UTC()
	results, err := chain.Unwind(*c, func(leg model.ChainLeg) error {
		pos, err := s.store.GetPosition(ctx, leg.PositionID)
		if err != nil {
			return err
		}
		if pos.State == model.StateClosed {
			return nil
		}

		vault, err := s.store.GetVault(ctx, pos.MarketID)
		if err != nil {
			return err
		}
		vault.OpenInterest = vault.OpenInterest.Sub(pos.Notional)
		if vault.OpenInterest.IsNegative() {
			vault.OpenInterest = decimal.Zero
		}
		vault.UpdatedAt = now
		if err := s.store.UpsertVault(ctx, vault); err != nil {
			return err
		}

		pos.Notional = decimal.Zero
		pos.State = model.StateClosed
		pos.UpdatedAt = now
		return s.store.UpdatePosition(ctx, pos)
	})
	if err != nil {
		if errors.Is(err, chain.ErrCyclicDependency) {
			writeError(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		// Partial unwind: report what closed alongside the failure.
		slog.Error("chain unwind aborted", "chain", chainID, "err", err, "closed", len(results))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error":   err.Error(),
			"results": results,
		})
		return
	}

	slog.Info("chain unwound", "chain", chainID, "legs", len(results))

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"chain_id": chainID,
		"results":  results,
	})
}
