package l2dist

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func mustIntegrator(t *testing.T, segments int, tol float64) *Integrator {
	t.Helper()
	ig, err := NewIntegrator(segments, tol)
	if err != nil {
		t.Fatalf("NewIntegrator(%d, %g): %v", segments, tol, err)
	}
	return ig
}

// --- Integrator tests ---

func TestIntegrate_XSquared(t *testing.T) {
	// ∫x² over [0,1] = 1/3. Simpson is exact for cubics, so the base
	// 10-segment grid already lands within 1e-6.
	ig := mustIntegrator(t, 10, 1e-6)
	res, err := ig.Integrate(func(x float64) float64 { return x * x }, 0, 1)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(res.Value-1.0/3.0) >= 1e-6 {
		t.Errorf("∫x² over [0,1] = %g, want 1/3 within 1e-6", res.Value)
	}
}

func TestIntegrate_Sine(t *testing.T) {
	// ∫sin over [0,π] = 2.
	ig := mustIntegrator(t, 10, 1e-9)
	res, err := ig.Integrate(math.Sin, 0, math.Pi)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(res.Value-2) >= 1e-8 {
		t.Errorf("∫sin over [0,π] = %g, want 2", res.Value)
	}
}

func TestIntegrate_EmptyInterval(t *testing.T) {
	ig := mustIntegrator(t, 10, 1e-6)
	res, err := ig.Integrate(math.Exp, 3, 3)
	if err != nil {
		t.Fatal(err)
	}
	if res.Value != 0 {
		t.Errorf("empty interval should integrate to 0, got %g", res.Value)
	}
}

func TestIntegrate_RefinementImprovesOscillatory(t *testing.T) {
	// An oscillating integrand forces refinement passes.
	// ∫sin(3x) over [0,π] = (1 - cos(3π))/3 = 2/3.
	ig := mustIntegrator(t, 10, 1e-6)
	res, err := ig.Integrate(func(x float64) float64 { return math.Sin(3 * x) }, 0, math.Pi)
	if err != nil {
		t.Fatal(err)
	}
	if res.Passes < 2 {
		t.Errorf("oscillatory integrand should need refinement, got %d passes", res.Passes)
	}
	if math.Abs(res.Value-2.0/3.0) >= 1e-6 {
		t.Errorf("∫sin(3x) over [0,π] = %g, want 2/3", res.Value)
	}
}

func TestNewIntegrator_Validation(t *testing.T) {
	tests := []struct {
		name     string
		segments int
		tol      float64
		err      error
	}{
		{"below range", 8, 1e-6, ErrSegmentCount},
		{"odd count", 11, 1e-6, ErrSegmentCount},
		{"above range", 18, 1e-6, ErrSegmentCount},
		{"tolerance too loose", 10, 1e-3, ErrInvalidTolerance},
		{"tolerance too tight", 10, 1e-15, ErrInvalidTolerance},
		{"valid lower", 10, 1e-6, nil},
		{"valid upper", 16, 1e-12, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewIntegrator(tt.segments, tt.tol)
			if err != tt.err {
				t.Errorf("NewIntegrator(%d, %g) error = %v, want %v",
					tt.segments, tt.tol, err, tt.err)
			}
		})
	}
}

func TestSimpsonWeights_Precomputed(t *testing.T) {
	for _, n := range []int{10, 12, 14, 16} {
		w, ok := simpsonWeights[n]
		if !ok {
			t.Fatalf("missing weight vector for %d segments", n)
		}
		if len(w) != n+1 {
			t.Fatalf("weight vector for %d segments has length %d", n, len(w))
		}
		if w[0] != 1 || w[n] != 1 {
			t.Errorf("endpoints must weigh 1, got %v / %v", w[0], w[n])
		}
		// Weights sum to 3n so that sum·h/3 reproduces the interval
		// length for f ≡ 1.
		var sum float64
		for _, v := range w {
			sum += v
		}
		if sum != float64(3*n) {
			t.Errorf("weights for %d segments sum to %v, want %d", n, sum, 3*n)
		}
	}
}

// --- Mixture tests ---

func TestNewMixture_Validation(t *testing.T) {
	valid := Mode{Mean: 0, StdDev: 1, Weight: 1}

	if _, err := NewMixture(nil); err != ErrNoModes {
		t.Errorf("empty modes: got %v, want ErrNoModes", err)
	}
	if _, err := NewMixture([]Mode{valid, valid, valid, valid, valid}); err != ErrTooManyModes {
		t.Errorf("5 modes: got %v, want ErrTooManyModes", err)
	}
	if _, err := NewMixture([]Mode{{Mean: 0, StdDev: 0, Weight: 1}}); err != ErrInvalidMode {
		t.Errorf("zero std dev: got %v, want ErrInvalidMode", err)
	}
	if _, err := NewMixture([]Mode{{Mean: 0, StdDev: 1, Weight: -1}}); err != ErrInvalidMode {
		t.Errorf("negative weight: got %v, want ErrInvalidMode", err)
	}
	if _, err := NewMixture([]Mode{valid, valid, valid, valid}); err != nil {
		t.Errorf("4 modes should be accepted, got %v", err)
	}
}

func TestMixture_RenormalizesWeights(t *testing.T) {
	// Raw weights 3 and 1 renormalize to 0.75 / 0.25; total mass is 1.
	mx, err := NewMixture([]Mode{
		{Mean: 0, StdDev: 1, Weight: 3},
		{Mean: 10, StdDev: 1, Weight: 1},
	})
	if err != nil {
		t.Fatal(err)
	}

	p := NewPricer(mx, mustIntegrator(t, 16, 1e-6))
	total, err := p.MassBetween(-6, 16)
	if err != nil {
		t.Fatal(err)
	}
	if total.Sub(decimal.NewFromInt(1)).Abs().GreaterThan(d(0.0001)) {
		t.Errorf("total mass should be 1 after renormalization, got %s", total)
	}
}

func TestMixture_Mean(t *testing.T) {
	mx, err := NewMixture([]Mode{
		{Mean: 100, StdDev: 5, Weight: 1},
		{Mean: 200, StdDev: 5, Weight: 3},
	})
	if err != nil {
		t.Fatal(err)
	}
	// 0.25×100 + 0.75×200 = 175.
	if !mx.Mean().Equal(d(175)) {
		t.Errorf("mixture mean = %s, want 175", mx.Mean())
	}
}

// --- Pricer tests ---

func TestMassBetween_StandardNormal(t *testing.T) {
	mx, err := NewMixture([]Mode{{Mean: 0, StdDev: 1, Weight: 1}})
	if err != nil {
		t.Fatal(err)
	}
	p := NewPricer(mx, mustIntegrator(t, 10, 1e-6))

	tests := []struct {
		name   string
		lo, hi float64
		want   float64
	}{
		{"within one sigma", -1, 1, 0.6826894921},
		{"within two sigma", -2, 2, 0.9544997361},
		{"upper half", 0, 6, 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := p.MassBetween(tt.lo, tt.hi)
			if err != nil {
				t.Fatal(err)
			}
			if got.Sub(d(tt.want)).Abs().GreaterThan(d(0.00001)) {
				t.Errorf("mass in [%v,%v] = %s, want %v", tt.lo, tt.hi, got, tt.want)
			}
		})
	}
}

func TestMassAboveBelow_Complementary(t *testing.T) {
	mx, err := NewMixture([]Mode{{Mean: 50, StdDev: 10, Weight: 1}})
	if err != nil {
		t.Fatal(err)
	}
	p := NewPricer(mx, mustIntegrator(t, 12, 1e-6))

	above, err := p.MassAbove(55)
	if err != nil {
		t.Fatal(err)
	}
	below, err := p.MassBelow(55)
	if err != nil {
		t.Fatal(err)
	}
	sum := above.Add(below)
	if sum.Sub(decimal.NewFromInt(1)).Abs().GreaterThan(d(0.0001)) {
		t.Errorf("above + below should be 1, got %s + %s = %s", above, below, sum)
	}
}

func TestMassBetween_BimodalSplit(t *testing.T) {
	// Two well-separated equal modes: half the mass sits around each.
	mx, err := NewMixture([]Mode{
		{Mean: 10, StdDev: 1, Weight: 1},
		{Mean: 90, StdDev: 1, Weight: 1},
	})
	if err != nil {
		t.Fatal(err)
	}
	p := NewPricer(mx, mustIntegrator(t, 16, 1e-6))

	lower, err := p.MassBetween(4, 16)
	if err != nil {
		t.Fatal(err)
	}
	if lower.Sub(d(0.5)).Abs().GreaterThan(d(0.0001)) {
		t.Errorf("mass around lower mode = %s, want 0.5", lower)
	}
}

func TestMassBetween_InvertedInterval(t *testing.T) {
	mx, _ := NewMixture([]Mode{{Mean: 0, StdDev: 1, Weight: 1}})
	p := NewPricer(mx, mustIntegrator(t, 10, 1e-6))
	if _, err := p.MassBetween(2, 1); err != ErrInvalidInterval {
		t.Errorf("expected ErrInvalidInterval, got %v", err)
	}
}

func TestMassBetween_ClampedToUnit(t *testing.T) {
	mx, _ := NewMixture([]Mode{{Mean: 0, StdDev: 1, Weight: 1}})
	p := NewPricer(mx, mustIntegrator(t, 16, 1e-6))

	mass, err := p.MassBetween(-6, 6)
	if err != nil {
		t.Fatal(err)
	}
	if mass.GreaterThan(decimal.NewFromInt(1)) {
		t.Errorf("mass must never exceed 1, got %s", mass)
	}
	if mass.LessThan(d(0.999)) {
		t.Errorf("near-full support should carry ≈1 mass, got %s", mass)
	}
}

func TestRefit_SwapsDensity(t *testing.T) {
	calm, _ := NewMixture([]Mode{{Mean: 100, StdDev: 1, Weight: 1}})
	wide, _ := NewMixture([]Mode{{Mean: 100, StdDev: 20, Weight: 1}})
	p := NewPricer(calm, mustIntegrator(t, 12, 1e-6))

	before, err := p.MassBetween(99, 101)
	if err != nil {
		t.Fatal(err)
	}
	p.Refit(wide)
	after, err := p.MassBetween(99, 101)
	if err != nil {
		t.Fatal(err)
	}
	if after.GreaterThanOrEqual(before) {
		t.Errorf("wider density should hold less mass near the mean: before=%s after=%s",
			before, after)
	}
}
