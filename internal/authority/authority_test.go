package authority_test

import (
	"errors"
	"testing"

	"trackline/internal/authority"
	"trackline/internal/domain"
)

func TestApproveProofSelfApprovalDeniedForEveryTier(t *testing.T) {
	proof := domain.Proof{ID: "p1", UploadedBy: "alice"}
	unit := domain.Unit{ID: "u1"}
	for _, role := range []authority.Role{
		authority.RoleViewer, authority.RoleContributor, authority.RoleLead,
		authority.RoleOwner, authority.RoleAdmin,
	} {
		err := authority.ApproveProof("alice", role, proof, unit)
		var denied authority.DeniedError
		if !errors.As(err, &denied) || denied.Rule != authority.RuleSelfApproval {
			t.Fatalf("role %s: expected self-approval denial, got %v", role, err)
		}
	}
}

func TestApproveProofHighCriticalityGate(t *testing.T) {
	proof := domain.Proof{ID: "p1", UploadedBy: "alice"}
	unit := domain.Unit{ID: "u1", HighCriticality: true}

	err := authority.ApproveProof("bob", authority.RoleLead, proof, unit)
	var denied authority.DeniedError
	if !errors.As(err, &denied) || denied.Rule != authority.RuleHighCriticality {
		t.Fatalf("lead: expected high-criticality denial, got %v", err)
	}
	if err := authority.ApproveProof("bob", authority.RoleOwner, proof, unit); err != nil {
		t.Fatalf("owner: unexpected denial: %v", err)
	}
	if err := authority.ApproveProof("bob", authority.RoleAdmin, proof, unit); err != nil {
		t.Fatalf("admin: unexpected denial: %v", err)
	}
	// without the flag a lead may approve
	unit.HighCriticality = false
	if err := authority.ApproveProof("bob", authority.RoleLead, proof, unit); err != nil {
		t.Fatalf("lead on normal unit: unexpected denial: %v", err)
	}
}

func TestConfirmBlockedTier(t *testing.T) {
	if err := authority.ConfirmBlocked(authority.RoleContributor); err == nil {
		t.Fatal("contributor: expected denial")
	}
	if err := authority.ConfirmBlocked(authority.RoleLead); err != nil {
		t.Fatalf("lead: unexpected denial: %v", err)
	}
}

func TestUnblockTier(t *testing.T) {
	if err := authority.Unblock(authority.RoleLead); err == nil {
		t.Fatal("lead: expected denial")
	}
	if err := authority.Unblock(authority.RoleOwner); err != nil {
		t.Fatalf("owner: unexpected denial: %v", err)
	}
}

func TestConfirmUnitTier(t *testing.T) {
	if err := authority.ConfirmUnit(authority.RoleViewer); err == nil {
		t.Fatal("viewer: expected denial")
	}
	if err := authority.ConfirmUnit(authority.RoleLead); err != nil {
		t.Fatalf("lead: unexpected denial: %v", err)
	}
}

func TestApproveProofViewerFloor(t *testing.T) {
	proof := domain.Proof{ID: "p1", UploadedBy: "alice"}
	err := authority.ApproveProof("bob", authority.RoleViewer, proof, domain.Unit{ID: "u1"})
	var denied authority.DeniedError
	if !errors.As(err, &denied) || denied.Rule != authority.RuleDecideProof {
		t.Fatalf("viewer: expected decide-proof denial, got %v", err)
	}
}

func TestCreateUnitTier(t *testing.T) {
	if err := authority.CreateUnit(authority.RoleViewer); err == nil {
		t.Fatal("viewer: expected denial")
	}
	if err := authority.CreateUnit(authority.RoleContributor); err != nil {
		t.Fatalf("contributor: unexpected denial: %v", err)
	}
}

func TestSubmitProofTier(t *testing.T) {
	if err := authority.SubmitProof(authority.RoleViewer); err == nil {
		t.Fatal("viewer: expected denial")
	}
	if err := authority.SubmitProof(authority.RoleContributor); err != nil {
		t.Fatalf("contributor: unexpected denial: %v", err)
	}
}

func TestArchiveUnitTier(t *testing.T) {
	if err := authority.ArchiveUnit(authority.RoleContributor); err == nil {
		t.Fatal("contributor: expected denial")
	}
	if err := authority.ArchiveUnit(authority.RoleLead); err != nil {
		t.Fatalf("lead: unexpected denial: %v", err)
	}
}

func TestDenialsCarryDistinctReasons(t *testing.T) {
	selfErr := authority.ApproveProof("a", authority.RoleAdmin, domain.Proof{UploadedBy: "a"}, domain.Unit{})
	critErr := authority.ApproveProof("b", authority.RoleLead, domain.Proof{UploadedBy: "a"}, domain.Unit{HighCriticality: true})
	if selfErr.Error() == critErr.Error() {
		t.Fatal("expected rule-specific reasons to differ")
	}
}
