// Package authority centralizes every role-gated decision. Callers never
// compare role strings themselves; they ask one of the decision functions
// and act on the answer.
package authority

import (
	"fmt"

	"trackline/internal/domain"
)

// Role is an ordered authority tier.
type Role string

const (
	RoleViewer      Role = "viewer"
	RoleContributor Role = "contributor"
	RoleLead        Role = "lead"
	RoleOwner       Role = "owner"
	RoleAdmin       Role = "admin"
)

var tiers = map[Role]int{
	RoleViewer:      0,
	RoleContributor: 1,
	RoleLead:        2,
	RoleOwner:       3,
	RoleAdmin:       4,
}

// Known reports whether the role names a valid tier.
func Known(r Role) bool {
	_, ok := tiers[r]
	return ok
}

// AtLeast reports whether r sits at or above the given tier.
func (r Role) AtLeast(min Role) bool {
	return tiers[r] >= tiers[min]
}

// Rules identify which gate produced a denial.
const (
	RuleSelfApproval    = "self_approval"
	RuleHighCriticality = "high_criticality_tier"
	RuleConfirmBlocked  = "confirm_blocked_tier"
	RuleUnblock         = "unblock_tier"
	RuleConfirmUnit     = "confirm_unit_tier"
	RuleCreateUnit      = "create_unit_tier"
	RuleArchiveUnit     = "archive_unit_tier"
	RuleDecideProof     = "decide_proof_tier"
	RuleSubmitProof     = "submit_proof_tier"
)

// DeniedError carries the specific rule violated and a reason the API
// layer can show without further lookup.
type DeniedError struct {
	Rule   string
	Reason string
}

func (e DeniedError) Error() string { return e.Reason }

// ApproveProof gates proof approval: the approver must differ from the
// uploader, and high-criticality units require owner tier or above.
func ApproveProof(actorID string, role Role, proof domain.Proof, unit domain.Unit) error {
	if !role.AtLeast(RoleContributor) {
		return DeniedError{
			Rule:   RuleDecideProof,
			Reason: fmt.Sprintf("proof decisions require %s tier or above", RoleContributor),
		}
	}
	if actorID == proof.UploadedBy {
		return DeniedError{Rule: RuleSelfApproval, Reason: "cannot approve own proof"}
	}
	if unit.HighCriticality && !role.AtLeast(RoleOwner) {
		return DeniedError{
			Rule:   RuleHighCriticality,
			Reason: fmt.Sprintf("requires %s approval for high-criticality unit", RoleOwner),
		}
	}
	return nil
}

// ConfirmBlocked gates applying a blocked state directly. Roles below
// lead may only propose; the engine records the proposal instead.
func ConfirmBlocked(role Role) error {
	if !role.AtLeast(RoleLead) {
		return DeniedError{
			Rule:   RuleConfirmBlocked,
			Reason: fmt.Sprintf("blocking requires %s tier or above; recorded as proposal", RoleLead),
		}
	}
	return nil
}

// Unblock gates clearing a blocked state.
func Unblock(role Role) error {
	if !role.AtLeast(RoleOwner) {
		return DeniedError{
			Rule:   RuleUnblock,
			Reason: fmt.Sprintf("unblocking requires %s tier or above", RoleOwner),
		}
	}
	return nil
}

// ConfirmUnit gates confirming a unit's scope. Contributor-created units
// stay out of aggregation and escalation until confirmed.
func ConfirmUnit(role Role) error {
	if !role.AtLeast(RoleLead) {
		return DeniedError{
			Rule:   RuleConfirmUnit,
			Reason: fmt.Sprintf("unit confirmation requires %s tier or above", RoleLead),
		}
	}
	return nil
}

// CreateUnit gates unit creation. Contributor-created units start
// unconfirmed; lead tier and above create confirmed units directly.
func CreateUnit(role Role) error {
	if !role.AtLeast(RoleContributor) {
		return DeniedError{
			Rule:   RuleCreateUnit,
			Reason: fmt.Sprintf("unit creation requires %s tier or above", RoleContributor),
		}
	}
	return nil
}

// SubmitProof gates appending evidence to a unit's ledger.
func SubmitProof(role Role) error {
	if !role.AtLeast(RoleContributor) {
		return DeniedError{
			Rule:   RuleSubmitProof,
			Reason: fmt.Sprintf("proof submission requires %s tier or above", RoleContributor),
		}
	}
	return nil
}

// ArchiveUnit gates removing a unit from aggregation and escalation.
func ArchiveUnit(role Role) error {
	if !role.AtLeast(RoleLead) {
		return DeniedError{
			Rule:   RuleArchiveUnit,
			Reason: fmt.Sprintf("archival requires %s tier or above", RoleLead),
		}
	}
	return nil
}
