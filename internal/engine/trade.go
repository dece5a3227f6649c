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

	"github.com/atmx/risk-engine/internal/amm"
	"github.com/atmx/risk-engine/internal/amm/l2dist"
	"github.com/atmx/risk-engine/internal/amm/lmsr"
	"github.com/atmx/risk-engine/internal/amm/pmamm"
	"github.com/atmx/risk-engine/internal/coverage"
	"github.com/atmx/risk-engine/internal/leverage"
	"github.com/atmx/risk-engine/internal/metrics"
	"github.com/atmx/risk-engine/internal/model"
)

// defaultIntegratorSegments is the base Simpson grid for range pricing.
const defaultIntegratorSegments = 10

// defaultIntegratorTolerance is the Richardson error target for range
// pricing. Tighter than price scale by two digits.
const defaultIntegratorTolerance = 1e-6

// TradeRequest is the JSON body for POST /markets/{id}/trade.
//
// The side field depends on the market's variant: "YES"/"NO" for a
// binary market, an outcome index for a discrete multi-outcome market,
// and a [range_low, range_high] claim for a continuous market.
type TradeRequest struct {
	OwnerID      string          `json:"owner_id"`
	Side         string          `json:"side,omitempty"`          // LMSR: "YES" | "NO"
	OutcomeIndex int             `json:"outcome_index,omitempty"` // PM-AMM
	RangeLow     float64         `json:"range_low,omitempty"`     // L2
	RangeHigh    float64         `json:"range_high,omitempty"`    // L2
	Size         decimal.Decimal `json:"size"` // shares; negative = sell (LMSR only)
	MaxSlippage  decimal.Decimal `json:"max_slippage"`
	Leverage     int64           `json:"leverage,omitempty"`    // 0 or 1 = unleveraged
	ChainDepth   int             `json:"chain_depth,omitempty"` // hierarchy nesting level
	Direction    model.Direction `json:"direction,omitempty"`
}

// TradeResponse is returned after a successful fill.
type TradeResponse struct {
	FillPrice decimal.Decimal `json:"fill_price"`
	Cost      decimal.Decimal `json:"cost"`
	Position  *model.Position `json:"position,omitempty"`
	MarketID  string          `json:"market_id"`
}

// fill is the variant-independent outcome of pricing one trade.
type fill struct {
	price decimal.Decimal // average execution price per share
	cost  decimal.Decimal // total cost to the trader
	spot  decimal.Decimal // pre-trade spot, for slippage accounting
	side  string          // label for the ledger and metrics
}

// Trade handles POST /api/v1/markets/{marketID}/trade.
//
// Leveraged trades pass two gates before pricing: the coverage halt
// latch and the per-market leverage ceiling. Liquidations never pass
// through here and are never gated by either.
func (s *Service) Trade(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	marketID := chi.URLParam(r, "marketID")

	var req TradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.OwnerID == "" {
		writeError(w, "owner_id is required", http.StatusBadRequest)
		return
	}
	if req.Size.IsZero() {
		writeError(w, "size must be non-zero", http.StatusBadRequest)
		return
	}
	if req.Direction == "" {
		req.Direction = model.DirectionLong
	}
	if !req.Direction.Valid() {
		writeError(w, "direction must be LONG or SHORT", http.StatusBadRequest)
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
	if market.Status != model.MarketStatusActive {
		writeError(w, "market is not active", http.StatusConflict)
		return
	}

	vault, err := s.store.GetVault(ctx, marketID)
	if err != nil {
		writeError(w, "vault not found", http.StatusInternalServerError)
		return
	}

	leveraged := req.Leverage > 1
	if leveraged {
		cs := s.coverageState(marketID)
		if err := cs.AllowLeveragedTrade(); err != nil {
			writeError(w, "leveraged trading halted: coverage below threshold", http.StatusConflict)
			return
		}

		// The recorded state only reflects committed price cycles; the
		// live ratio must clear the floor too, or a trade arriving
		// before the first cycle would lever against a thin vault.
		ratio := coverage.Ratio(vault.Balance, vault.OpenInterest)
		if ratio.LessThan(coverage.MinRatio) {
			writeError(w, "leveraged trading halted: coverage below threshold", http.StatusConflict)
			return
		}

		maxLev, err := leverage.MaxLeverage(req.ChainDepth, ratio, market.OutcomeCount)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		if req.Leverage > maxLev {
			writeError(w, "requested leverage exceeds market cap", http.StatusBadRequest)
			return
		}
	}

	variant := amm.ParseVariant(market.Variant)
	var f fill
	switch variant {
	case amm.VariantLMSR:
		f, err = s.fillLMSR(market, &req)
	case amm.VariantPMAMM:
		f, err = s.fillPMAMM(market, &req)
	case amm.VariantL2:
		f, err = s.fillL2(market, &req)
	default:
		writeError(w, "market has no resolved pricer", http.StatusInternalServerError)
		return
	}
	if err != nil {
		switch {
		case errors.Is(err, pmamm.ErrPricingDivergence),
			errors.Is(err, l2dist.ErrIntegrationDivergence):
			writeError(w, err.Error(), http.StatusUnprocessableEntity)
		case errors.Is(err, lmsr.ErrPriceBoundExceeded):
			writeError(w, err.Error(), http.StatusUnprocessableEntity)
		default:
			writeError(w, err.Error(), http.StatusBadRequest)
		}
		return
	}

	// Slippage is measured fill-vs-spot, relative to the spot quote the
	// trader saw before pricing.
	if req.MaxSlippage.GreaterThan(decimal.Zero) && f.spot.GreaterThan(decimal.Zero) {
		slippage := f.price.Sub(f.spot).Abs().DivRound(f.spot, 8)
		if slippage.GreaterThan(req.MaxSlippage) {
			writeError(w, "slippage exceeds limit", http.StatusUnprocessableEntity)
			return
		}
	}

	now := time.Now().UTC()
	notional := f.cost.Abs()

	var position *model.Position
	if leveraged {
		openCount := 1
		if existing, err := s.store.ListPositionsByOwner(ctx, req.OwnerID); err == nil {
			openCount = len(existing) + 1
		}
		margin := notional.DivRound(decimal.NewFromInt(req.Leverage), 8)
		position = &model.Position{
			ID:           uuid.New().String(),
			OwnerID:      req.OwnerID,
			MarketID:     marketID,
			Notional:     notional,
			Direction:    req.Direction,
			EntryPrice:   f.price,
			BaseLeverage: req.Leverage,
			Margin:       margin,
			MarkPrice:    f.price,
			State:        model.StateHealthy,
			OpenCount:    openCount,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := s.store.CreatePosition(ctx, position); err != nil {
			writeError(w, "failed to persist position", http.StatusInternalServerError)
			return
		}
		vault.OpenInterest = vault.OpenInterest.Add(notional)
		vault.UpdatedAt = now
		if err := s.store.UpsertVault(ctx, vault); err != nil {
			writeError(w, "failed to update vault", http.StatusInternalServerError)
			return
		}
	}

	market.UpdatedAt = now
	if err := s.store.UpdateMarket(ctx, market); err != nil {
		writeError(w, "failed to update market", http.StatusInternalServerError)
		return
	}

	entry := &model.LedgerEntry{
		ID:        uuid.New().String(),
		OwnerID:   req.OwnerID,
		MarketID:  marketID,
		Kind:      "trade",
		Side:      f.side,
		Quantity:  req.Size,
		Price:     f.price,
		Cost:      f.cost,
		Timestamp: now,
	}
	if err := s.store.InsertLedgerEntry(ctx, entry); err != nil {
		writeError(w, "failed to record trade", http.StatusInternalServerError)
		return
	}

	metrics.TradesTotal.WithLabelValues(market.Variant, string(req.Direction)).Inc()
	metrics.TradeLatency.WithLabelValues(market.Variant).Observe(time.Since(start).Seconds())

	slog.Info("trade executed",
		"market", marketID,
		"owner", req.OwnerID,
		"variant", market.Variant,
		"side", f.side,
		"size", req.Size.String(),
		"fill", f.price.String(),
		"leverage", req.Leverage,
	)

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:      "trade",
			MarketID:  marketID,
			Ticker:    market.Ticker,
			Side:      f.side,
			Quantity:  req.Size.String(),
			Price:     f.price.String(),
			MarkPrice: market.MarkPrice.String(),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(TradeResponse{
		FillPrice: f.price,
		Cost:      f.cost,
		Position:  position,
		MarketID:  marketID,
	})
}

// fillLMSR prices a binary trade and advances the stored quantities.
// The market's mark price moves to the post-trade YES price.
func (s *Service) fillLMSR(market *model.Market, req *TradeRequest) (fill, error) {
	mm, err := lmsr.NewMarketMaker(market.B)
	if err != nil {
		return fill{}, err
	}

	switch req.Side {
	case "YES":
		if err := mm.ValidateTrade(market.QYes, market.QNo, req.Size); err != nil {
			return fill{}, err
		}
		spot := mm.Price(market.QYes, market.QNo)
		cost := mm.TradeCost(market.QYes, market.QNo, req.Size)
		price := mm.FillPrice(market.QYes, market.QNo, req.Size)
		market.QYes = market.QYes.Add(req.Size)
		market.MarkPrice = mm.Price(market.QYes, market.QNo)
		return fill{price: price, cost: cost, spot: spot, side: "YES"}, nil

	case "NO":
		if err := mm.ValidateTradeNo(market.QYes, market.QNo, req.Size); err != nil {
			return fill{}, err
		}
		spot := mm.PriceNo(market.QYes, market.QNo)
		cost := mm.TradeCostNo(market.QYes, market.QNo, req.Size)
		price := mm.FillPrice(market.QNo, market.QYes, req.Size)
		market.QNo = market.QNo.Add(req.Size)
		market.MarkPrice = mm.Price(market.QYes, market.QNo)
		return fill{price: price, cost: cost, spot: spot, side: "NO"}, nil

	default:
		return fill{}, errors.New("binary markets require side YES or NO")
	}
}

// fillPMAMM prices a discrete multi-outcome buy via the Newton solver
// and swaps in the post-trade pool reserves.
func (s *Service) fillPMAMM(market *model.Market, req *TradeRequest) (fill, error) {
	if req.Size.IsNegative() {
		return fill{}, errors.New("multi-outcome markets support buys only")
	}

	pool, err := pmamm.NewPool(market.Reserves)
	if err != nil {
		return fill{}, err
	}
	spot, err := pool.SpotPrice(req.OutcomeIndex)
	if err != nil {
		return fill{}, err
	}

	res, err := pool.CostToBuy(req.OutcomeIndex, req.Size)
	if err != nil {
		return fill{}, err
	}
	metrics.SolverIterations.Observe(float64(res.Iterations))

	next, err := pool.ApplyBuy(req.OutcomeIndex, req.Size, res.Cost)
	if err != nil {
		return fill{}, err
	}
	market.Reserves = next.Reserves()
	mark, err := next.SpotPrice(req.OutcomeIndex)
	if err != nil {
		return fill{}, err
	}
	market.MarkPrice = mark

	price := pmamm.FillPrice(res.Cost, req.Size)
	return fill{price: price, cost: res.Cost, spot: spot, side: "OUTCOME"}, nil
}

// fillL2 prices a range claim on a continuous market. The claim fills
// at the probability mass inside the range; the density itself is not
// moved by the trade, so spot and fill coincide and slippage is zero.
func (s *Service) fillL2(market *model.Market, req *TradeRequest) (fill, error) {
	if req.Size.IsNegative() {
		return fill{}, errors.New("continuous markets support buys only")
	}
	mixture, err := buildMixture(market.DensityModes)
	if err != nil {
		return fill{}, err
	}
	integrator, err := l2dist.NewIntegrator(defaultIntegratorSegments, defaultIntegratorTolerance)
	if err != nil {
		return fill{}, err
	}
	pricer := l2dist.NewPricer(mixture, integrator)

	price, err := pricer.MassBetween(req.RangeLow, req.RangeHigh)
	if err != nil {
		return fill{}, err
	}
	metrics.IntegrationPasses.Observe(float64(pricer.LastPasses()))

	cost := price.Mul(req.Size).Round(8)
	return fill{price: price, cost: cost, spot: price, side: "RANGE"}, nil
}
