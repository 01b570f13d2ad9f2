package ports

import (
	"errors"
	"testing"
)

func testRanges() map[Role]Range {
	return map[Role]Range{
		RoleVNC:        {Min: 100, Max: 101},
		RoleNoVNC:      {Min: 200, Max: 201},
		RoleBrowserAPI: {Min: 300, Max: 301},
		RoleFileServer: {Min: 400, Max: 401},
	}
}

func TestAllocateAssignsWithinRange(t *testing.T) {
	a := New(testRanges())

	got, err := a.Allocate()
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}

	for role, r := range testRanges() {
		port, ok := got[role]
		if !ok {
			t.Fatalf("missing role %s in result", role)
		}
		if port < r.Min || port > r.Max {
			t.Fatalf("role %s port %d outside range [%d,%d]", role, port, r.Min, r.Max)
		}
	}
}

func TestAllocateExhaustion(t *testing.T) {
	ranges := map[Role]Range{RoleVNC: {Min: 1, Max: 1}}
	a := New(ranges)

	if _, err := a.Allocate(); err != nil {
		t.Fatalf("first Allocate: %v", err)
	}

	before := a.InUse()[RoleVNC]
	if _, err := a.Allocate(); !errors.Is(err, ErrExhausted) {
		t.Fatalf("second Allocate: got err %v, want ErrExhausted", err)
	}

	after := a.InUse()[RoleVNC]
	if len(after) != len(before) {
		t.Fatalf("failed allocate leaked ports: before=%v after=%v", before, after)
	}
}

func TestAllocatePartialFailureReleasesAll(t *testing.T) {
	ranges := map[Role]Range{
		RoleVNC:   {Min: 1, Max: 2},
		RoleNoVNC: {Min: 1, Max: 1},
	}
	a := New(ranges)

	// Exhaust RoleNoVNC's single port up front.
	a.Reserve(RoleNoVNC, 1)

	if _, err := a.Allocate(); !errors.Is(err, ErrExhausted) {
		t.Fatalf("Allocate: got err %v, want ErrExhausted", err)
	}

	inUse := a.InUse()
	if len(inUse[RoleVNC]) != 0 {
		t.Fatalf("RoleVNC should have no ports reserved after failed allocate, got %v", inUse[RoleVNC])
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	a := New(testRanges())

	assigned, err := a.Allocate()
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}

	a.Release(assigned)
	a.Release(assigned) // second call must not panic or misbehave

	for role, set := range a.InUse() {
		if len(set) != 0 {
			t.Fatalf("role %s still has ports reserved after release: %v", role, set)
		}
	}
}

func TestAllocateNoDuplicatesAcrossCalls(t *testing.T) {
	a := New(map[Role]Range{RoleVNC: {Min: 1, Max: 3}})

	seen := make(map[int]bool)
	for i := 0; i < 3; i++ {
		got, err := a.Allocate()
		if err != nil {
			t.Fatalf("Allocate #%d: %v", i, err)
		}
		p := got[RoleVNC]
		if seen[p] {
			t.Fatalf("port %d allocated twice", p)
		}
		seen[p] = true
	}

	if _, err := a.Allocate(); !errors.Is(err, ErrExhausted) {
		t.Fatalf("Allocate should be exhausted after 3 allocations, got err=%v", err)
	}
}

func TestReserveRejectsOutOfRangeAndDuplicate(t *testing.T) {
	a := New(testRanges())

	if a.Reserve(RoleVNC, 999) {
		t.Fatal("Reserve should reject out-of-range port")
	}
	if !a.Reserve(RoleVNC, 100) {
		t.Fatal("Reserve should accept in-range free port")
	}
	if a.Reserve(RoleVNC, 100) {
		t.Fatal("Reserve should reject already-reserved port")
	}
}
