package status_test

import (
	"testing"

	"trackline/internal/domain"
	"trackline/internal/status"
)

func approved(unitID, proofType string) domain.Proof {
	return domain.Proof{UnitID: unitID, Type: proofType, Approval: domain.ProofApproved, Valid: true}
}

func TestResolveRequiresCountAndTypeCoverage(t *testing.T) {
	u := domain.Unit{
		ID:                 "u1",
		RequiredProofCount: 2,
		RequiredProofTypes: []string{"photo", "document"},
	}
	// one approved photo: count short, coverage short
	got := status.Resolve(u, []domain.Proof{approved("u1", "photo")})
	if got != domain.StatusRed {
		t.Fatalf("one photo: got %s, want red", got)
	}
	// photo + document: satisfied
	got = status.Resolve(u, []domain.Proof{approved("u1", "photo"), approved("u1", "document")})
	if got != domain.StatusGreen {
		t.Fatalf("photo+document: got %s, want green", got)
	}
	// count satisfied but type coverage missing
	got = status.Resolve(u, []domain.Proof{approved("u1", "photo"), approved("u1", "video")})
	if got != domain.StatusRed {
		t.Fatalf("missing document: got %s, want red", got)
	}
}

func TestResolveIgnoresNonCountingProofs(t *testing.T) {
	u := domain.Unit{ID: "u1", RequiredProofCount: 1, RequiredProofTypes: []string{"photo"}}
	proofs := []domain.Proof{
		{UnitID: "u1", Type: "photo", Approval: domain.ProofPending, Valid: true},
		{UnitID: "u1", Type: "photo", Approval: domain.ProofRejected, Valid: true},
		{UnitID: "u1", Type: "photo", Approval: domain.ProofApproved, Valid: true, Superseded: true},
		{UnitID: "u1", Type: "photo", Approval: domain.ProofApproved, Valid: false},
	}
	if got := status.Resolve(u, proofs); got != domain.StatusRed {
		t.Fatalf("got %s, want red", got)
	}
}

func TestResolveBlockedDominates(t *testing.T) {
	u := domain.Unit{
		ID:                 "u1",
		RequiredProofCount: 1,
		RequiredProofTypes: []string{"photo"},
		Blocked:            true,
		BlockedReason:      "permit pending",
	}
	if got := status.Resolve(u, []domain.Proof{approved("u1", "photo")}); got != domain.StatusBlocked {
		t.Fatalf("got %s, want blocked", got)
	}
}

func TestResolveVacuouslyGreen(t *testing.T) {
	u := domain.Unit{ID: "u1", RequiredProofCount: 0}
	if got := status.Resolve(u, nil); got != domain.StatusGreen {
		t.Fatalf("got %s, want green for zero requirements", got)
	}
}

func TestResolveDeterministic(t *testing.T) {
	u := domain.Unit{ID: "u1", RequiredProofCount: 2, RequiredProofTypes: []string{"photo"}}
	proofs := []domain.Proof{approved("u1", "photo"), approved("u1", "video")}
	first := status.Resolve(u, proofs)
	for i := 0; i < 10; i++ {
		if got := status.Resolve(u, proofs); got != first {
			t.Fatalf("resolve not deterministic: %s vs %s", got, first)
		}
	}
}

func TestAggregateDominanceOrder(t *testing.T) {
	cases := []struct {
		name string
		in   []domain.Status
		want domain.Status
	}{
		{"empty", nil, domain.StatusEmpty},
		{"all green", []domain.Status{domain.StatusGreen, domain.StatusGreen}, domain.StatusGreen},
		{"red beats green", []domain.Status{domain.StatusGreen, domain.StatusRed}, domain.StatusRed},
		{"blocked beats red", []domain.Status{domain.StatusRed, domain.StatusBlocked, domain.StatusGreen}, domain.StatusBlocked},
		{"single blocked", []domain.Status{domain.StatusBlocked}, domain.StatusBlocked},
	}
	for _, tc := range cases {
		if got := status.Aggregate(tc.in); got != tc.want {
			t.Errorf("%s: got %s, want %s", tc.name, got, tc.want)
		}
	}
}
