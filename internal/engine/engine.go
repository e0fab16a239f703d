// Package engine implements the write-side operations: every mutation is
// a short read-modify-write inside one transaction, guarded by the unit's
// version column. A stale version surfaces as repo.ErrConflict and the
// caller retries the whole operation.
package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"trackline/internal/audit"
	"trackline/internal/authority"
	"trackline/internal/config"
	"trackline/internal/domain"
	"trackline/internal/notify"
	"trackline/internal/repo"
	"trackline/internal/status"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Audit  audit.Emitter
	Notify notify.Sink
	Config *config.Config
	Logger zerolog.Logger
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config, logger zerolog.Logger) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Audit:  audit.Emitter{Recorder: audit.Writer{DB: db}, Logger: logger},
		Notify: notify.LogSink{Logger: logger},
		Config: cfg,
		Logger: logger,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) stamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

// CreateWorkstream registers a workstream under the configured program.
func (e Engine) CreateWorkstream(ctx context.Context, id, name, actorID string) (domain.Workstream, error) {
	if e.Config == nil {
		return domain.Workstream{}, errors.New("config not loaded")
	}
	if name == "" {
		return domain.Workstream{}, domain.ValidationError{Field: "name", Reason: "required"}
	}
	if id == "" {
		id = uuid.NewString()
	}
	w := domain.Workstream{
		ID:        id,
		ProgramID: e.Config.Program.ID,
		Name:      name,
		CreatedAt: e.stamp(),
	}
	if err := e.Repo.InsertWorkstream(ctx, w); err != nil {
		return domain.Workstream{}, fmt.Errorf("insert workstream: %w", err)
	}
	e.Audit.Emit(ctx, domain.StatusEvent{
		Type:    audit.EventWorkstreamCreated,
		ActorID: actorID,
		Payload: audit.Payload(map[string]any{"workstream_id": w.ID, "name": w.Name}),
	})
	return w, nil
}

// ArchiveWorkstream archives a workstream. Its units drop out of listings
// through the workstream, not via cascading mutation.
func (e Engine) ArchiveWorkstream(ctx context.Context, id, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.ArchiveWorkstream(ctx, tx, id); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	e.Audit.Emit(ctx, domain.StatusEvent{
		Type:    audit.EventWorkstreamArchived,
		ActorID: actorID,
		Payload: audit.Payload(map[string]any{"workstream_id": id}),
	})
	return nil
}

// WorkstreamStatus aggregates the cached statuses of a workstream's
// confirmed, non-archived units. A workstream with no evaluable units
// reports StatusEmpty, never green.
func (e Engine) WorkstreamStatus(ctx context.Context, id string) (domain.Status, []domain.Unit, error) {
	if _, err := e.Repo.GetWorkstream(ctx, id); err != nil {
		return "", nil, err
	}
	units, err := e.Repo.ListEvaluableUnits(ctx, id)
	if err != nil {
		return "", nil, err
	}
	statuses := make([]domain.Status, 0, len(units))
	for _, u := range units {
		statuses = append(statuses, u.Status)
	}
	return status.Aggregate(statuses), units, nil
}

// UnitCreateOptions are parameters for creating a unit.
type UnitCreateOptions struct {
	ID                 string
	WorkstreamID       string
	Name               string
	RequiredProofCount int
	RequiredProofTypes []string
	Deadline           string
	AlertProfile       string
	CustomThresholds   []int
	HighCriticality    bool
	ActorID            string
	Role               authority.Role
}

// CreateUnit validates and persists a unit. Units created by roles below
// lead start unconfirmed and stay out of aggregation and escalation until
// a lead confirms them.
func (e Engine) CreateUnit(ctx context.Context, opts UnitCreateOptions) (domain.Unit, error) {
	if err := authority.CreateUnit(opts.Role); err != nil {
		return domain.Unit{}, err
	}
	if opts.Name == "" {
		return domain.Unit{}, domain.ValidationError{Field: "name", Reason: "required"}
	}
	if opts.WorkstreamID == "" {
		return domain.Unit{}, domain.ValidationError{Field: "workstream_id", Reason: "required"}
	}
	if opts.RequiredProofCount < 0 {
		return domain.Unit{}, domain.ValidationError{Field: "required_proof_count", Reason: "must not be negative"}
	}
	deadline, err := time.Parse(time.RFC3339, opts.Deadline)
	if err != nil {
		return domain.Unit{}, domain.ValidationError{Field: "deadline", Reason: "must be RFC3339"}
	}
	profile, thresholds, err := e.resolveProfile(opts.AlertProfile, opts.CustomThresholds)
	if err != nil {
		return domain.Unit{}, err
	}
	ws, err := e.Repo.GetWorkstream(ctx, opts.WorkstreamID)
	if err != nil {
		return domain.Unit{}, err
	}
	if ws.Archived {
		return domain.Unit{}, repo.ErrNotFound
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Unit{}, err
	}
	defer tx.Rollback()

	now := e.stamp()
	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}
	u := domain.Unit{
		ID:                 id,
		WorkstreamID:       opts.WorkstreamID,
		Name:               opts.Name,
		RequiredProofCount: opts.RequiredProofCount,
		RequiredProofTypes: opts.RequiredProofTypes,
		Deadline:           deadline.UTC().Format(time.RFC3339),
		AlertProfile:       profile,
		CustomThresholds:   thresholds,
		HighCriticality:    opts.HighCriticality,
		Version:            1,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if opts.Role.AtLeast(authority.RoleLead) {
		u.Confirmed = true
		u.ConfirmedBy = &opts.ActorID
	}
	u.Status = status.Resolve(u, nil)
	if err := e.Repo.InsertUnit(ctx, tx, u); err != nil {
		return domain.Unit{}, fmt.Errorf("insert unit: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Unit{}, err
	}
	e.Audit.Emit(ctx, domain.StatusEvent{
		Type:      audit.EventUnitCreated,
		UnitID:    u.ID,
		NewStatus: string(u.Status),
		ActorID:   opts.ActorID,
		ActorRole: string(opts.Role),
		Payload:   audit.Payload(map[string]any{"confirmed": u.Confirmed, "workstream_id": u.WorkstreamID}),
	})
	return u, nil
}

// resolveProfile maps an alert profile name to its stored form. Named
// custom profiles from trackline.yml resolve to their threshold list.
func (e Engine) resolveProfile(name string, custom []int) (string, []int, error) {
	switch name {
	case "", domain.ProfileStandard:
		return domain.ProfileStandard, nil, nil
	case domain.ProfileCritical:
		return domain.ProfileCritical, nil, nil
	case domain.ProfileCustom:
		if err := domain.ValidateThresholds(custom); err != nil {
			return "", nil, err
		}
		return domain.ProfileCustom, custom, nil
	}
	if e.Config != nil {
		if thresholds, ok := e.Config.Profiles.Custom[name]; ok {
			return domain.ProfileCustom, thresholds, nil
		}
	}
	return "", nil, domain.ValidationError{Field: "alert_profile", Reason: fmt.Sprintf("unknown profile %q", name)}
}

// ConfirmUnit marks a unit as in-scope for aggregation and escalation.
func (e Engine) ConfirmUnit(ctx context.Context, unitID, actorID string, role authority.Role) (domain.Unit, error) {
	if err := authority.ConfirmUnit(role); err != nil {
		return domain.Unit{}, err
	}
	return e.mutateUnit(ctx, unitID, func(u *domain.Unit) (domain.StatusEvent, error) {
		if u.Archived {
			return domain.StatusEvent{}, repo.ErrNotFound
		}
		if u.Confirmed {
			return domain.StatusEvent{}, domain.ValidationError{Field: "confirmed", Reason: "unit already confirmed"}
		}
		u.Confirmed = true
		u.ConfirmedBy = &actorID
		return domain.StatusEvent{
			Type:      audit.EventUnitConfirmed,
			UnitID:    u.ID,
			ActorID:   actorID,
			ActorRole: string(role),
		}, nil
	})
}

// ArchiveUnit removes a unit from aggregation and escalation. Its proofs
// and events stay queryable.
func (e Engine) ArchiveUnit(ctx context.Context, unitID, actorID string, role authority.Role) (domain.Unit, error) {
	if err := authority.ArchiveUnit(role); err != nil {
		return domain.Unit{}, err
	}
	return e.mutateUnit(ctx, unitID, func(u *domain.Unit) (domain.StatusEvent, error) {
		if u.Archived {
			return domain.StatusEvent{}, repo.ErrNotFound
		}
		u.Archived = true
		return domain.StatusEvent{
			Type:      audit.EventUnitArchived,
			UnitID:    u.ID,
			ActorID:   actorID,
			ActorRole: string(role),
		}, nil
	})
}

// mutateUnit runs one transactional read-modify-write over a unit with
// the optimistic version check, then emits the returned audit event.
func (e Engine) mutateUnit(ctx context.Context, unitID string, fn func(u *domain.Unit) (domain.StatusEvent, error)) (domain.Unit, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Unit{}, err
	}
	defer tx.Rollback()

	u, err := e.Repo.GetUnitTx(ctx, tx, unitID)
	if err != nil {
		return domain.Unit{}, err
	}
	evt, err := fn(&u)
	if err != nil {
		return domain.Unit{}, err
	}
	u.UpdatedAt = e.stamp()
	if err := e.Repo.UpdateUnit(ctx, tx, u); err != nil {
		return domain.Unit{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Unit{}, err
	}
	u.Version++
	if evt.Type != "" {
		e.Audit.Emit(ctx, evt)
	}
	return u, nil
}

// SubmitProof appends a pending proof to a unit's ledger.
func (e Engine) SubmitProof(ctx context.Context, unitID, proofType, uploadedBy string, role authority.Role) (domain.Proof, error) {
	if err := authority.SubmitProof(role); err != nil {
		return domain.Proof{}, err
	}
	if proofType == "" {
		return domain.Proof{}, domain.ValidationError{Field: "type", Reason: "required"}
	}
	u, err := e.Repo.GetUnit(ctx, unitID)
	if err != nil {
		return domain.Proof{}, err
	}
	if u.Archived {
		return domain.Proof{}, repo.ErrNotFound
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Proof{}, err
	}
	defer tx.Rollback()

	p := domain.Proof{
		ID:         uuid.NewString(),
		UnitID:     unitID,
		Type:       proofType,
		Approval:   domain.ProofPending,
		UploadedBy: uploadedBy,
		Valid:      true,
		CreatedAt:  e.stamp(),
	}
	if err := e.Repo.InsertProof(ctx, tx, p); err != nil {
		return domain.Proof{}, fmt.Errorf("insert proof: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Proof{}, err
	}
	e.Audit.Emit(ctx, domain.StatusEvent{
		Type:      audit.EventProofSubmitted,
		UnitID:    unitID,
		ActorID:   uploadedBy,
		ActorRole: string(role),
		Payload:   audit.Payload(map[string]any{"proof_id": p.ID, "type": p.Type}),
	})
	return p, nil
}

// ProofDecideOptions are parameters for approving or rejecting a proof.
type ProofDecideOptions struct {
	ProofID string
	ActorID string
	Role    authority.Role
	Approve bool
	Reason  string
}

// DecideProof applies an approve/reject decision to a pending proof.
// Approval supersedes the prior approved proof of the same type on the
// unit, resolves the unit's status and persists it in the same
// transaction. A transition to green resolves active escalations and
// resets the alert level.
func (e Engine) DecideProof(ctx context.Context, opts ProofDecideOptions) (domain.Proof, domain.Unit, error) {
	if !opts.Approve && opts.Reason == "" {
		return domain.Proof{}, domain.Unit{}, domain.ValidationError{Field: "reason", Reason: "required when rejecting"}
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Proof{}, domain.Unit{}, err
	}
	defer tx.Rollback()

	p, err := e.Repo.GetProofTx(ctx, tx, opts.ProofID)
	if err != nil {
		return domain.Proof{}, domain.Unit{}, err
	}
	if p.Approval != domain.ProofPending {
		return domain.Proof{}, domain.Unit{}, domain.ValidationError{Field: "approval", Reason: "proof already decided"}
	}
	u, err := e.Repo.GetUnitTx(ctx, tx, p.UnitID)
	if err != nil {
		return domain.Proof{}, domain.Unit{}, err
	}
	if u.Archived {
		return domain.Proof{}, domain.Unit{}, repo.ErrNotFound
	}
	if err := authority.ApproveProof(opts.ActorID, opts.Role, p, u); err != nil {
		return domain.Proof{}, domain.Unit{}, err
	}

	now := e.stamp()
	if opts.Approve {
		p.Approval = domain.ProofApproved
	} else {
		p.Approval = domain.ProofRejected
		p.RejectReason = opts.Reason
	}
	p.DecidedBy = &opts.ActorID
	p.DecidedAt = &now
	if err := e.Repo.UpdateProofDecision(ctx, tx, p); err != nil {
		return domain.Proof{}, domain.Unit{}, err
	}
	if opts.Approve {
		if _, err := e.Repo.SupersedePriorProofs(ctx, tx, u.ID, p.Type, p.ID); err != nil {
			return domain.Proof{}, domain.Unit{}, fmt.Errorf("supersede prior proofs: %w", err)
		}
	}

	proofs, err := e.Repo.ListUnitProofsTx(ctx, tx, u.ID)
	if err != nil {
		return domain.Proof{}, domain.Unit{}, err
	}
	oldStatus := u.Status
	u.Status = status.Resolve(u, proofs)
	var resolved int64
	if u.Status == domain.StatusGreen && oldStatus != domain.StatusGreen {
		resolved, err = e.Repo.ResolveActiveEscalations(ctx, tx, u.ID, now)
		if err != nil {
			return domain.Proof{}, domain.Unit{}, err
		}
		u.EscalationLevel = 0
	}
	u.UpdatedAt = now
	if err := e.Repo.UpdateUnit(ctx, tx, u); err != nil {
		return domain.Proof{}, domain.Unit{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Proof{}, domain.Unit{}, err
	}
	u.Version++

	evtType := audit.EventProofApproved
	if !opts.Approve {
		evtType = audit.EventProofRejected
	}
	e.Audit.Emit(ctx, domain.StatusEvent{
		Type:      evtType,
		UnitID:    u.ID,
		OldStatus: string(oldStatus),
		NewStatus: string(u.Status),
		ActorID:   opts.ActorID,
		ActorRole: string(opts.Role),
		Reason:    opts.Reason,
		Payload:   audit.Payload(map[string]any{"proof_id": p.ID, "type": p.Type}),
	})
	if resolved > 0 {
		e.Audit.Emit(ctx, domain.StatusEvent{
			Type:      audit.EventEscalationResolved,
			UnitID:    u.ID,
			OldStatus: string(oldStatus),
			NewStatus: string(u.Status),
			ActorID:   opts.ActorID,
			ActorRole: string(opts.Role),
			Payload:   audit.Payload(map[string]any{"resolved": resolved}),
		})
	}
	return p, u, nil
}

// Block applies or proposes a blocked state on a unit. Roles at or above
// lead apply the block; lower tiers only record a proposal, leaving the
// unit untouched. A confirmed block closes the unit's active escalations:
// the condition they were raised for is now acknowledged and owned. The
// stored alert level is kept so an unblock resumes from where it stood.
func (e Engine) Block(ctx context.Context, unitID, actorID string, role authority.Role, reason string) (domain.Unit, error) {
	if reason == "" {
		return domain.Unit{}, domain.ValidationError{Field: "reason", Reason: "required"}
	}
	if gateErr := authority.ConfirmBlocked(role); gateErr != nil {
		return e.proposeBlock(ctx, unitID, actorID, role, reason)
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Unit{}, err
	}
	defer tx.Rollback()

	u, err := e.Repo.GetUnitTx(ctx, tx, unitID)
	if err != nil {
		return domain.Unit{}, err
	}
	if u.Archived {
		return domain.Unit{}, repo.ErrNotFound
	}
	if u.Blocked {
		return domain.Unit{}, domain.ValidationError{Field: "blocked", Reason: "unit already blocked"}
	}
	now := e.stamp()
	old := u.Status
	u.Blocked = true
	u.BlockedReason = reason
	u.BlockedBy = &actorID
	u.BlockedAt = &now
	u.Status = domain.StatusBlocked
	resolved, err := e.Repo.ResolveActiveEscalations(ctx, tx, u.ID, now)
	if err != nil {
		return domain.Unit{}, err
	}
	u.UpdatedAt = now
	if err := e.Repo.UpdateUnit(ctx, tx, u); err != nil {
		return domain.Unit{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Unit{}, err
	}
	u.Version++
	e.Audit.Emit(ctx, domain.StatusEvent{
		Type:      audit.EventUnitBlocked,
		UnitID:    u.ID,
		OldStatus: string(old),
		NewStatus: string(u.Status),
		ActorID:   actorID,
		ActorRole: string(role),
		Reason:    reason,
	})
	if resolved > 0 {
		e.Audit.Emit(ctx, domain.StatusEvent{
			Type:      audit.EventEscalationResolved,
			UnitID:    u.ID,
			ActorID:   actorID,
			ActorRole: string(role),
			Payload:   audit.Payload(map[string]any{"resolved": resolved}),
		})
	}
	return u, nil
}

// proposeBlock records a block proposal without mutating the unit.
func (e Engine) proposeBlock(ctx context.Context, unitID, actorID string, role authority.Role, reason string) (domain.Unit, error) {
	u, err := e.Repo.GetUnit(ctx, unitID)
	if err != nil {
		return domain.Unit{}, err
	}
	if u.Archived {
		return domain.Unit{}, repo.ErrNotFound
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Unit{}, err
	}
	defer tx.Rollback()

	level := u.EscalationLevel
	if level < 1 {
		level = 1
	}
	esc := domain.Escalation{
		ID:              uuid.NewString(),
		UnitID:          unitID,
		Level:           level,
		Trigger:         domain.TriggerManual,
		Reason:          reason,
		ProposedBlocked: true,
		ProposedByRole:  string(role),
		Resolution:      domain.EscalationActive,
		CreatedAt:       e.stamp(),
	}
	if err := e.Repo.InsertEscalation(ctx, tx, esc); err != nil {
		return domain.Unit{}, fmt.Errorf("insert block proposal: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Unit{}, err
	}
	e.Audit.Emit(ctx, domain.StatusEvent{
		Type:      audit.EventBlockProposed,
		UnitID:    unitID,
		ActorID:   actorID,
		ActorRole: string(role),
		Reason:    reason,
		Payload:   audit.Payload(map[string]any{"escalation_id": esc.ID}),
	})
	return u, nil
}

// Unblock clears a blocked state and recomputes status from the proof
// ledger.
func (e Engine) Unblock(ctx context.Context, unitID, actorID string, role authority.Role) (domain.Unit, error) {
	if err := authority.Unblock(role); err != nil {
		return domain.Unit{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Unit{}, err
	}
	defer tx.Rollback()

	u, err := e.Repo.GetUnitTx(ctx, tx, unitID)
	if err != nil {
		return domain.Unit{}, err
	}
	if u.Archived {
		return domain.Unit{}, repo.ErrNotFound
	}
	if !u.Blocked {
		return domain.Unit{}, domain.ValidationError{Field: "blocked", Reason: "unit is not blocked"}
	}
	proofs, err := e.Repo.ListUnitProofsTx(ctx, tx, u.ID)
	if err != nil {
		return domain.Unit{}, err
	}
	old := u.Status
	now := e.stamp()
	u.Blocked = false
	u.BlockedReason = ""
	u.BlockedBy = nil
	u.BlockedAt = nil
	u.Status = status.Resolve(u, proofs)
	var resolved int64
	if u.Status == domain.StatusGreen {
		resolved, err = e.Repo.ResolveActiveEscalations(ctx, tx, u.ID, now)
		if err != nil {
			return domain.Unit{}, err
		}
		u.EscalationLevel = 0
	}
	u.UpdatedAt = now
	if err := e.Repo.UpdateUnit(ctx, tx, u); err != nil {
		return domain.Unit{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Unit{}, err
	}
	u.Version++
	e.Audit.Emit(ctx, domain.StatusEvent{
		Type:      audit.EventUnitUnblocked,
		UnitID:    u.ID,
		OldStatus: string(old),
		NewStatus: string(u.Status),
		ActorID:   actorID,
		ActorRole: string(role),
	})
	if resolved > 0 {
		e.Audit.Emit(ctx, domain.StatusEvent{
			Type:      audit.EventEscalationResolved,
			UnitID:    u.ID,
			ActorID:   actorID,
			ActorRole: string(role),
			Payload:   audit.Payload(map[string]any{"resolved": resolved}),
		})
	}
	return u, nil
}

// EscalateOptions are parameters for a manual escalation.
type EscalateOptions struct {
	UnitID      string
	ActorID     string
	Role        authority.Role
	Level       int
	Reason      string
	MarkBlocked bool
}

// Escalate records a manual escalation at the requested level. The stored
// alert level never decreases from a manual request. MarkBlocked routes
// through the blocking gate: lead and above apply the block, lower tiers
// leave a proposal on the escalation record.
func (e Engine) Escalate(ctx context.Context, opts EscalateOptions) (domain.Escalation, domain.Unit, error) {
	if opts.Level < 1 || opts.Level > domain.MaxEscalationLevel {
		return domain.Escalation{}, domain.Unit{}, domain.ValidationError{
			Field:  "level",
			Reason: fmt.Sprintf("must be between 1 and %d", domain.MaxEscalationLevel),
		}
	}
	if opts.MarkBlocked && opts.Reason == "" {
		return domain.Escalation{}, domain.Unit{}, domain.ValidationError{Field: "reason", Reason: "required when marking blocked"}
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Escalation{}, domain.Unit{}, err
	}
	defer tx.Rollback()

	u, err := e.Repo.GetUnitTx(ctx, tx, opts.UnitID)
	if err != nil {
		return domain.Escalation{}, domain.Unit{}, err
	}
	if u.Archived {
		return domain.Escalation{}, domain.Unit{}, repo.ErrNotFound
	}

	now := e.stamp()
	old := u.Status
	blockApplied := false
	blockProposed := false
	if opts.MarkBlocked {
		if gateErr := authority.ConfirmBlocked(opts.Role); gateErr == nil {
			if !u.Blocked {
				u.Blocked = true
				u.BlockedReason = opts.Reason
				u.BlockedBy = &opts.ActorID
				u.BlockedAt = &now
				u.Status = domain.StatusBlocked
				blockApplied = true
			}
		} else {
			blockProposed = true
		}
	}
	if opts.Level > u.EscalationLevel {
		u.EscalationLevel = opts.Level
	}
	var resolved int64
	if blockApplied {
		resolved, err = e.Repo.ResolveActiveEscalations(ctx, tx, u.ID, now)
		if err != nil {
			return domain.Escalation{}, domain.Unit{}, err
		}
	}
	esc := domain.Escalation{
		ID:              uuid.NewString(),
		UnitID:          u.ID,
		Level:           opts.Level,
		Trigger:         domain.TriggerManual,
		Reason:          opts.Reason,
		ProposedBlocked: blockProposed,
		Resolution:      domain.EscalationActive,
		CreatedAt:       now,
	}
	if blockProposed {
		esc.ProposedByRole = string(opts.Role)
	}
	if blockApplied {
		// The request was acted on in the same call; the record closes
		// with it.
		esc.Resolution = domain.EscalationResolved
		esc.ResolvedAt = &now
	}
	if err := e.Repo.InsertEscalation(ctx, tx, esc); err != nil {
		return domain.Escalation{}, domain.Unit{}, fmt.Errorf("insert escalation: %w", err)
	}
	u.UpdatedAt = now
	if err := e.Repo.UpdateUnit(ctx, tx, u); err != nil {
		return domain.Escalation{}, domain.Unit{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Escalation{}, domain.Unit{}, err
	}
	u.Version++

	e.Audit.Emit(ctx, domain.StatusEvent{
		Type:      audit.EventEscalationRequest,
		UnitID:    u.ID,
		OldStatus: string(old),
		NewStatus: string(u.Status),
		ActorID:   opts.ActorID,
		ActorRole: string(opts.Role),
		Reason:    opts.Reason,
		Payload: audit.Payload(map[string]any{
			"escalation_id":  esc.ID,
			"level":          esc.Level,
			"block_applied":  blockApplied,
			"block_proposed": blockProposed,
		}),
	})
	if resolved > 0 {
		e.Audit.Emit(ctx, domain.StatusEvent{
			Type:      audit.EventEscalationResolved,
			UnitID:    u.ID,
			ActorID:   opts.ActorID,
			ActorRole: string(opts.Role),
			Payload:   audit.Payload(map[string]any{"resolved": resolved}),
		})
	}
	if e.Notify != nil && e.Config != nil {
		e.Notify.Notify(ctx, notify.Notification{
			Unit:       u,
			Escalation: esc,
			Recipients: e.Config.Recipients(u.EscalationLevel),
		})
	}
	return esc, u, nil
}
