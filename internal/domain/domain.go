package domain

import "fmt"

// Status is the derived state of a unit or workstream.
type Status string

const (
	StatusRed     Status = "red"
	StatusGreen   Status = "green"
	StatusBlocked Status = "blocked"
	// StatusEmpty is reported for workstreams with no evaluable units.
	// It is never collapsed into green.
	StatusEmpty Status = "empty"
)

// Alert profiles name an ordered set of elapsed-time percentage thresholds.
const (
	ProfileStandard = "standard"
	ProfileCritical = "critical"
	ProfileCustom   = "custom"
)

// Proof approval states.
const (
	ProofPending  = "pending"
	ProofApproved = "approved"
	ProofRejected = "rejected"
)

// Escalation trigger types.
const (
	TriggerAutomatic = "automatic"
	TriggerManual    = "manual"
)

// Escalation resolution states.
const (
	EscalationActive   = "active"
	EscalationResolved = "resolved"
)

// MaxEscalationLevel is the highest alert level a unit can reach.
const MaxEscalationLevel = 3

type Workstream struct {
	ID        string `json:"id"`
	ProgramID string `json:"program_id"`
	Name      string `json:"name"`
	Archived  bool   `json:"archived"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// Unit is a deliverable requiring proof-backed verification.
type Unit struct {
	ID                 string   `json:"id"`
	WorkstreamID       string   `json:"workstream_id"`
	Name               string   `json:"name"`
	RequiredProofCount int      `json:"required_proof_count"`
	RequiredProofTypes []string `json:"required_proof_types,omitempty"`
	Deadline           string   `json:"deadline" format:"date-time"`
	AlertProfile       string   `json:"alert_profile" enum:"standard,critical,custom"`
	CustomThresholds   []int    `json:"custom_thresholds,omitempty"`
	HighCriticality    bool     `json:"high_criticality"`
	Blocked            bool     `json:"blocked"`
	BlockedReason      string   `json:"blocked_reason,omitempty"`
	BlockedBy          *string  `json:"blocked_by,omitempty"`
	BlockedAt          *string  `json:"blocked_at,omitempty" format:"date-time"`
	Confirmed          bool     `json:"confirmed"`
	ConfirmedBy        *string  `json:"confirmed_by,omitempty"`
	Archived           bool     `json:"archived"`
	EscalationLevel    int      `json:"escalation_level"`
	Status             Status   `json:"status" enum:"red,green,blocked"`
	Version            int64    `json:"version"`
	CreatedAt          string   `json:"created_at" format:"date-time"`
	UpdatedAt          string   `json:"updated_at" format:"date-time"`
}

// Proof is one evidence submission on a unit.
type Proof struct {
	ID           string  `json:"id"`
	UnitID       string  `json:"unit_id"`
	Type         string  `json:"type"`
	Approval     string  `json:"approval" enum:"pending,approved,rejected"`
	UploadedBy   string  `json:"uploaded_by"`
	DecidedBy    *string `json:"decided_by,omitempty"`
	DecidedAt    *string `json:"decided_at,omitempty" format:"date-time"`
	RejectReason string  `json:"reject_reason,omitempty"`
	Superseded   bool    `json:"superseded"`
	SupersededBy *string `json:"superseded_by,omitempty"`
	Valid        bool    `json:"valid"`
	CreatedAt    string  `json:"created_at" format:"date-time"`
}

// Counts reports whether the proof contributes to unit satisfaction.
func (p Proof) Counts() bool {
	return p.Approval == ProofApproved && !p.Superseded && p.Valid
}

// Escalation records an alert level being reached or requested.
type Escalation struct {
	ID              string  `json:"id"`
	UnitID          string  `json:"unit_id"`
	Level           int     `json:"level" minimum:"1" maximum:"3"`
	Trigger         string  `json:"trigger" enum:"automatic,manual"`
	Reason          string  `json:"reason,omitempty"`
	ProposedBlocked bool    `json:"proposed_blocked"`
	ProposedByRole  string  `json:"proposed_by_role,omitempty"`
	Resolution      string  `json:"resolution" enum:"active,resolved"`
	CreatedAt       string  `json:"created_at" format:"date-time"`
	ResolvedAt      *string `json:"resolved_at,omitempty" format:"date-time"`
}

// StatusEvent is one append-only audit row. Rows are never updated or
// deleted; the repo deliberately exposes no mutation for them.
type StatusEvent struct {
	ID        int64  `json:"id"`
	TS        string `json:"ts" format:"date-time"`
	Type      string `json:"type"`
	UnitID    string `json:"unit_id,omitempty"`
	OldStatus string `json:"old_status,omitempty"`
	NewStatus string `json:"new_status,omitempty"`
	ActorID   string `json:"actor_id"`
	ActorRole string `json:"actor_role,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Payload   string `json:"payload_json,omitempty"`
}

type Actor struct {
	ID        string `json:"id"`
	Role      string `json:"role"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// ValidationError marks a malformed configuration or mutation argument.
// It is surfaced to the caller and never coerced or retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// Thresholds returns the effective escalation thresholds for the unit's
// alert profile.
func (u Unit) Thresholds() []int {
	switch u.AlertProfile {
	case ProfileCritical:
		return []int{30, 60, 90}
	case ProfileCustom:
		return u.CustomThresholds
	default:
		return []int{50, 75, 90}
	}
}

// ValidateThresholds checks a custom threshold sequence: 1-5 entries,
// strictly increasing, each within (0,100]. Enforced at write time.
func ValidateThresholds(thresholds []int) error {
	if len(thresholds) == 0 || len(thresholds) > 5 {
		return ValidationError{Field: "custom_thresholds", Reason: "must contain 1 to 5 entries"}
	}
	prev := 0
	for _, t := range thresholds {
		if t <= 0 || t > 100 {
			return ValidationError{Field: "custom_thresholds", Reason: fmt.Sprintf("threshold %d out of range (0,100]", t)}
		}
		if t <= prev {
			return ValidationError{Field: "custom_thresholds", Reason: "thresholds must be strictly increasing"}
		}
		prev = t
	}
	return nil
}
