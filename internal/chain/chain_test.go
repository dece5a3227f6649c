package chain

import (
	"errors"
	"testing"

	"github.com/atmx/risk-engine/internal/model"
)

func legs(roles ...model.ChainRole) []model.ChainLeg {
	out := make([]model.ChainLeg, len(roles))
	for i, r := range roles {
		out[i] = model.ChainLeg{PositionID: string(rune('a' + i)), Role: r}
	}
	return out
}

func TestUnwindOrder_RoleOrder(t *testing.T) {
	// [stake, leveraged, borrow] unwinds as [borrow, leveraged, stake].
	order, err := UnwindOrder(legs(model.RoleStake, model.RoleLeveraged, model.RoleBorrow))
	if err != nil {
		t.Fatal(err)
	}
	want := []int{2, 1, 0}
	for i, idx := range order {
		if idx != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestUnwindOrder_StableWithinRole(t *testing.T) {
	order, err := UnwindOrder(legs(
		model.RoleBorrow,    // 0
		model.RoleStake,     // 1
		model.RoleBorrow,    // 2
		model.RoleLeveraged, // 3
		model.RoleStake,     // 4
	))
	if err != nil {
		t.Fatal(err)
	}
	want := []int{0, 2, 3, 1, 4}
	for i, idx := range order {
		if idx != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestVerifyAcyclic_AcceptsDag(t *testing.T) {
	ls := legs(model.RoleStake, model.RoleLeveraged, model.RoleBorrow)
	ls[2].DependsOn = []int{1}
	ls[1].DependsOn = []int{0}
	if err := VerifyAcyclic(ls); err != nil {
		t.Errorf("acyclic chain rejected: %v", err)
	}
}

func TestVerifyAcyclic_RejectsBackEdge(t *testing.T) {
	// A depends on B depends on A.
	ls := legs(model.RoleLeveraged, model.RoleBorrow)
	ls[0].DependsOn = []int{1}
	ls[1].DependsOn = []int{0}
	if err := VerifyAcyclic(ls); !errors.Is(err, ErrCyclicDependency) {
		t.Errorf("expected ErrCyclicDependency, got %v", err)
	}
}

func TestVerifyAcyclic_RejectsSelfLoop(t *testing.T) {
	ls := legs(model.RoleBorrow)
	ls[0].DependsOn = []int{0}
	if err := VerifyAcyclic(ls); !errors.Is(err, ErrCyclicDependency) {
		t.Errorf("expected ErrCyclicDependency, got %v", err)
	}
}

func TestVerifyAcyclic_DeepChainNoOverflow(t *testing.T) {
	// 100k-leg linear chain: the iterative traversal must not blow the
	// stack the way recursion would.
	ls := make([]model.ChainLeg, 100_000)
	for i := range ls {
		ls[i] = model.ChainLeg{PositionID: "p", Role: model.RoleLeveraged}
		if i > 0 {
			ls[i].DependsOn = []int{i - 1}
		}
	}
	if err := VerifyAcyclic(ls); err != nil {
		t.Errorf("deep linear chain rejected: %v", err)
	}
}

func TestVerifyAcyclic_Validation(t *testing.T) {
	if err := VerifyAcyclic(nil); !errors.Is(err, ErrEmptyChain) {
		t.Errorf("empty chain: got %v, want ErrEmptyChain", err)
	}
	ls := legs(model.RoleStake)
	ls[0].DependsOn = []int{5}
	if err := VerifyAcyclic(ls); !errors.Is(err, ErrLegIndex) {
		t.Errorf("dangling dependency: got %v, want ErrLegIndex", err)
	}
}

func TestMultiplier_PerLegStep(t *testing.T) {
	tests := []struct {
		name string
		legs []model.ChainLeg
		want string
	}{
		{"single leg", legs(model.RoleLeveraged), "1"},
		{"two legs", legs(model.RoleStake, model.RoleLeveraged), "1.1"},
		{"three legs", legs(model.RoleStake, model.RoleLeveraged, model.RoleBorrow), "1.2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Multiplier(tt.legs)
			if got.String() != tt.want {
				t.Errorf("Multiplier(%d legs) = %s, want %s", len(tt.legs), got, tt.want)
			}
		})
	}
	if got := Multiplier(nil); got.String() != "1" {
		t.Errorf("Multiplier(nil) = %s, want 1", got)
	}
}

func TestUnwind_ClosesInOrder(t *testing.T) {
	c := model.Chain{
		ID:   "chain-1",
		Legs: legs(model.RoleStake, model.RoleLeveraged, model.RoleBorrow),
	}

	var closed []model.ChainRole
	results, err := Unwind(c, func(leg model.ChainLeg) error {
		closed = append(closed, leg.Role)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	wantRoles := []model.ChainRole{model.RoleBorrow, model.RoleLeveraged, model.RoleStake}
	for i, r := range closed {
		if r != wantRoles[i] {
			t.Fatalf("closed roles = %v, want %v", closed, wantRoles)
		}
	}
	if len(results) != 3 {
		t.Fatalf("results = %d legs, want 3", len(results))
	}
	for _, res := range results {
		if !res.Closed {
			t.Errorf("leg %d not marked closed", res.LegIndex)
		}
	}
}

func TestUnwind_CyclicChainClosesNothing(t *testing.T) {
	ls := legs(model.RoleLeveraged, model.RoleBorrow)
	ls[0].DependsOn = []int{1}
	ls[1].DependsOn = []int{0}

	calls := 0
	_, err := Unwind(model.Chain{ID: "c", Legs: ls}, func(model.ChainLeg) error {
		calls++
		return nil
	})
	if !errors.Is(err, ErrCyclicDependency) {
		t.Fatalf("expected ErrCyclicDependency, got %v", err)
	}
	if calls != 0 {
		t.Errorf("cyclic chain must close no legs, closed %d", calls)
	}
}

func TestUnwind_StopsOnCloseFailure(t *testing.T) {
	c := model.Chain{
		ID:   "chain-1",
		Legs: legs(model.RoleStake, model.RoleLeveraged, model.RoleBorrow),
	}

	boom := errors.New("close failed")
	calls := 0
	results, err := Unwind(c, func(leg model.ChainLeg) error {
		calls++
		if leg.Role == model.RoleLeveraged {
			return boom
		}
		return nil
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected close error, got %v", err)
	}
	if calls != 2 {
		t.Errorf("expected 2 close attempts (borrow then leveraged), got %d", calls)
	}
	if len(results) != 1 || results[0].Role != string(model.RoleBorrow) {
		t.Errorf("partial results should hold the borrow leg only, got %+v", results)
	}
}
