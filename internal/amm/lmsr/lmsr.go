// Package lmsr implements the Logarithmic Market Scoring Rule (LMSR)
// automated market maker for binary outcome pairs.
//
// The LMSR was proposed by Robin Hanson and provides:
//   - Bounded loss for the market maker (capped at b * ln(2))
//   - Continuous pricing with infinite liquidity
//   - Path-independent cost function
//
// All monetary values use shopspring/decimal — never float64 for money.
// Exponentials are evaluated through a precomputed lookup table with
// linear interpolation (see exptable.go), with results immediately
// converted to decimal.
//
// Reference: Hanson, R. (2003) "Combinatorial Information Market Design"
package lmsr

import (
	"errors"
	"math"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidLiquidity is returned when b <= 0.
	ErrInvalidLiquidity = errors.New("lmsr: liquidity parameter b must be positive")

	// ErrPriceBoundExceeded is returned when a trade would push prices
	// beyond the allowed bounds [MinPrice, MaxPrice].
	ErrPriceBoundExceeded = errors.New("lmsr: trade would push price beyond allowed bounds")

	// MinPrice is the lowest allowed price (probability floor).
	// Prevents degenerate markets where shares become worthless.
	MinPrice = decimal.NewFromFloat(0.001)

	// MaxPrice is the highest allowed price (probability ceiling).
	// Prevents degenerate markets where the outcome appears "certain".
	MaxPrice = decimal.NewFromFloat(0.999)

	// PriceScale is the number of decimal places for price/cost rounding.
	PriceScale int32 = 8
)

// MarketMaker implements the LMSR cost function for one binary outcome
// pair. It is stateless — outcome quantities are passed as arguments,
// not stored.
type MarketMaker struct {
	b decimal.Decimal
}

// NewMarketMaker creates an LMSR market maker with liquidity parameter
// b. Higher b → more liquidity, lower price impact per trade. Maximum
// market-maker loss is bounded by b * ln(2).
func NewMarketMaker(b decimal.Decimal) (*MarketMaker, error) {
	if b.LessThanOrEqual(decimal.Zero) {
		return nil, ErrInvalidLiquidity
	}
	return &MarketMaker{b: b}, nil
}

// B returns the liquidity parameter.
func (m *MarketMaker) B() decimal.Decimal {
	return m.b
}

// Cost computes the LMSR cost function:
//
//	C(q) = b * ln(exp(qYes/b) + exp(qNo/b))
//
// Uses logSumExp internally for numerical stability.
func (m *MarketMaker) Cost(qYes, qNo decimal.Decimal) decimal.Decimal {
	bf := m.b.InexactFloat64()
	qy := qYes.InexactFloat64()
	qn := qNo.InexactFloat64()

	lse := logSumExp([]float64{qy / bf, qn / bf})
	cost := bf * lse

	return decimal.NewFromFloat(cost).Round(PriceScale)
}

// Price computes the instantaneous price (probability) for the YES
// outcome:
//
//	p_yes = exp(qYes/b) / (exp(qYes/b) + exp(qNo/b))
//
// This is the softmax function, evaluated against the exponential table
// after max-subtraction. The result is clamped to [MinPrice, MaxPrice].
func (m *MarketMaker) Price(qYes, qNo decimal.Decimal) decimal.Decimal {
	bf := m.b.InexactFloat64()
	price := rawPrice(qYes.InexactFloat64()/bf, qNo.InexactFloat64()/bf)
	result := decimal.NewFromFloat(price).Round(PriceScale)

	// Clamp to bounds.
	if result.LessThan(MinPrice) {
		return MinPrice
	}
	if result.GreaterThan(MaxPrice) {
		return MaxPrice
	}
	return result
}

// PriceNo returns the instantaneous price for the NO outcome: 1 - p_yes.
func (m *MarketMaker) PriceNo(qYes, qNo decimal.Decimal) decimal.Decimal {
	return decimal.NewFromInt(1).Sub(m.Price(qYes, qNo))
}

// TradeCost computes the cost to change the YES quantity by deltaYes
// shares:
//
//	cost = C(qYes + deltaYes, qNo) - C(qYes, qNo)
//
// Positive deltaYes = buying YES (positive cost to trader).
// Negative deltaYes = selling YES (negative cost = payout to trader).
func (m *MarketMaker) TradeCost(qYes, qNo, deltaYes decimal.Decimal) decimal.Decimal {
	costBefore := m.Cost(qYes, qNo)
	costAfter := m.Cost(qYes.Add(deltaYes), qNo)
	return costAfter.Sub(costBefore)
}

// TradeCostNo computes the cost to change the NO quantity by deltaNo
// shares. Uses the symmetry property C(a, b) = C(b, a).
func (m *MarketMaker) TradeCostNo(qYes, qNo, deltaNo decimal.Decimal) decimal.Decimal {
	return m.TradeCost(qNo, qYes, deltaNo)
}

// FillPrice returns the average execution price per share for a trade.
//
//	fillPrice = cost / delta
//
// Positive for both buys (cost>0, delta>0) and sells (cost<0, delta<0).
func (m *MarketMaker) FillPrice(qFirst, qSecond, delta decimal.Decimal) decimal.Decimal {
	if delta.IsZero() {
		return m.Price(qFirst, qSecond)
	}
	cost := m.TradeCost(qFirst, qSecond, delta)
	return cost.Div(delta).Round(PriceScale)
}

// ValidateTrade checks if a YES-side trade would push prices beyond
// bounds.
func (m *MarketMaker) ValidateTrade(qYes, qNo, deltaYes decimal.Decimal) error {
	return m.validatePriceAfterTrade(qYes.Add(deltaYes), qNo)
}

// ValidateTradeNo checks if a NO-side trade would push prices beyond
// bounds.
func (m *MarketMaker) ValidateTradeNo(qYes, qNo, deltaNo decimal.Decimal) error {
	return m.validatePriceAfterTrade(qYes, qNo.Add(deltaNo))
}

// MaxLoss returns the maximum possible loss for the market maker:
// b * ln(2) for a binary pair.
func (m *MarketMaker) MaxLoss() decimal.Decimal {
	bf := m.b.InexactFloat64()
	loss := bf * math.Ln2
	return decimal.NewFromFloat(loss).Round(PriceScale)
}

// DeriveLiquidity computes the b parameter from realized volatility.
// Higher volatility → higher b → more liquidity subsidy to encourage
// price discovery; quiet markets get a lower b so they converge quickly.
//
//	b = baseVolume × sigma, floored at 10
func DeriveLiquidity(sigma, baseVolume decimal.Decimal) (decimal.Decimal, error) {
	if sigma.IsNegative() {
		return decimal.Zero, errors.New("lmsr: volatility must be non-negative")
	}

	b := baseVolume.Mul(sigma)

	// Enforce minimum b to prevent degenerate markets.
	minB := decimal.NewFromInt(10)
	if b.LessThan(minB) {
		return minB, nil
	}
	return b.Round(2), nil
}

func (m *MarketMaker) validatePriceAfterTrade(newQYes, newQNo decimal.Decimal) error {
	bf := m.b.InexactFloat64()
	price := rawPrice(newQYes.InexactFloat64()/bf, newQNo.InexactFloat64()/bf)

	minF := MinPrice.InexactFloat64()
	maxF := MaxPrice.InexactFloat64()
	if price < minF || price > maxF {
		return ErrPriceBoundExceeded
	}
	return nil
}

// rawPrice computes softmax(yOverB, nOverB) for the YES side with
// max-subtraction so both exponents are table-range.
func rawPrice(yOverB, nOverB float64) float64 {
	maxVal := math.Max(yOverB, nOverB)
	expYes := expNeg(yOverB - maxVal)
	expNo := expNeg(nOverB - maxVal)
	return expYes / (expYes + expNo)
}
