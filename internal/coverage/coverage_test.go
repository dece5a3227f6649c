package coverage

import (
	"testing"

	"github.com/shopspring/decimal"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// --- Ratio tests ---

func TestRatio_VaultAgainstHalfOpenInterest(t *testing.T) {
	// vault=$5,000, OI=$50,000 ⇒ 5000 / 25000 = 0.2.
	got := Ratio(d(5000), d(50000))
	if !got.Equal(d(0.2)) {
		t.Errorf("Ratio(5000, 50000) = %s, want 0.2", got)
	}
}

func TestRatio_ZeroOpenInterest(t *testing.T) {
	got := Ratio(d(5000), d(0))
	if !got.Equal(Unconstrained) {
		t.Errorf("zero OI should report the unconstrained sentinel, got %s", got)
	}
}

func TestRatio_FullyBacked(t *testing.T) {
	// Vault equals half the OI: ratio exactly 1.
	got := Ratio(d(25000), d(50000))
	if !got.Equal(decimal.NewFromInt(1)) {
		t.Errorf("Ratio(25000, 50000) = %s, want 1", got)
	}
}

// --- Correlation / tail-loss tests ---

func TestCorrelationFactor_WeightedMean(t *testing.T) {
	pairs := []PairExposure{
		{Weight: d(3), Correlation: d(0.8)},
		{Weight: d(1), Correlation: d(0.2)},
	}
	// (3×0.8 + 1×0.2) / 4 = 0.65
	got := CorrelationFactor(pairs)
	if !got.Equal(d(0.65)) {
		t.Errorf("CorrelationFactor = %s, want 0.65", got)
	}
}

func TestCorrelationFactor_Bounded(t *testing.T) {
	over := CorrelationFactor([]PairExposure{{Weight: d(1), Correlation: d(1.5)}})
	if !over.Equal(decimal.NewFromInt(1)) {
		t.Errorf("factor should cap at 1, got %s", over)
	}
	under := CorrelationFactor([]PairExposure{{Weight: d(1), Correlation: d(-0.5)}})
	if !under.Equal(decimal.Zero) {
		t.Errorf("factor should floor at 0, got %s", under)
	}
	if got := CorrelationFactor(nil); !got.Equal(decimal.Zero) {
		t.Errorf("no pairs should yield 0, got %s", got)
	}
}

func TestTailLoss(t *testing.T) {
	tests := []struct {
		name string
		n    int
		corr float64
		want float64
	}{
		{"binary uncorrelated", 2, 0, 0.5},
		{"binary fully correlated", 2, 1, 1},
		{"ten outcomes uncorrelated", 10, 0, 0.9},
		{"ten outcomes half correlated", 10, 0.5, 0.95},
		{"single outcome", 1, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TailLoss(tt.n, d(tt.corr))
			if !got.Equal(d(tt.want)) {
				t.Errorf("TailLoss(%d, %v) = %s, want %v", tt.n, tt.corr, got, tt.want)
			}
		})
	}
}

// --- State / halt tests ---

func TestState_BelowFloorHaltsLeveragedTrades(t *testing.T) {
	s := NewState()
	s.Record(d(0.2))

	if err := s.AllowLeveragedTrade(); err != ErrBelowThreshold {
		t.Errorf("coverage 0.2 should halt leveraged trades, got %v", err)
	}
}

func TestState_HealthyAllowsTrades(t *testing.T) {
	s := NewState()
	s.Record(d(1.5))

	if err := s.AllowLeveragedTrade(); err != nil {
		t.Errorf("coverage 1.5 should allow trades, got %v", err)
	}
	if s.Halted() {
		t.Error("healthy coverage should not latch the halt")
	}
}

func TestState_SingleCycleDropHalts(t *testing.T) {
	// 3.0 → 2.0 is a 33% single-cycle drop: halt even though 2.0 is
	// comfortably above the absolute floor.
	s := NewState()
	s.Record(d(3.0))
	halted := s.Record(d(2.0))

	if !halted || !s.Halted() {
		t.Error("a >20% single-cycle drop should latch the halt")
	}
	if err := s.AllowLeveragedTrade(); err != ErrBelowThreshold {
		t.Errorf("halted state should reject leveraged trades, got %v", err)
	}
}

func TestState_GradualDeclineDoesNotHalt(t *testing.T) {
	// Each step is under the 20% drop threshold and above the floor.
	s := NewState()
	for _, r := range []float64{3.0, 2.6, 2.3, 2.0, 1.8} {
		s.Record(d(r))
	}
	if s.Halted() {
		t.Error("gradual decline above the floor should not halt")
	}
}

func TestState_HaltLatchPersists(t *testing.T) {
	s := NewState()
	s.Record(d(3.0))
	s.Record(d(1.0)) // drop halt

	// Recovery in a later cycle does not clear the latch on its own.
	s.Record(d(3.0))
	if !s.Halted() {
		t.Error("halt latch should persist until explicitly cleared")
	}

	s.ClearHalt()
	if s.Halted() {
		t.Error("ClearHalt should release the latch")
	}
	if err := s.AllowLeveragedTrade(); err != nil {
		t.Errorf("cleared state with healthy ratio should allow trades, got %v", err)
	}
}

func TestState_WindowBounded(t *testing.T) {
	s := NewState()
	for i := 0; i < 20; i++ {
		s.Record(d(1.0))
	}
	if got := len(s.History()); got != 8 {
		t.Errorf("history window = %d entries, want 8", got)
	}
}

func TestState_EmptyCurrentUnconstrained(t *testing.T) {
	s := NewState()
	if !s.Current().Equal(Unconstrained) {
		t.Errorf("empty state should report unconstrained, got %s", s.Current())
	}
}
