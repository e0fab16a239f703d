package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"trackline/internal/authority"
	"trackline/internal/config"
	"trackline/internal/db"
	"trackline/internal/domain"
	"trackline/internal/engine"
	"trackline/internal/migrate"
	"trackline/internal/notify"
	"trackline/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("prog-1")
	eng := engine.New(conn, cfg, zerolog.Nop())
	eng.Notify = notify.Discard{}
	eng.Now = func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }
	env := &testEnv{Engine: eng, Ctx: context.Background()}
	if _, err := eng.CreateWorkstream(env.Ctx, "ws-1", "Rollout", "owner-1"); err != nil {
		t.Fatalf("create workstream: %v", err)
	}
	return env
}

func (env *testEnv) createUnit(t *testing.T, opts engine.UnitCreateOptions) domain.Unit {
	t.Helper()
	if opts.WorkstreamID == "" {
		opts.WorkstreamID = "ws-1"
	}
	if opts.Name == "" {
		opts.Name = "unit"
	}
	if opts.Deadline == "" {
		opts.Deadline = "2025-01-11T00:00:00Z"
	}
	if opts.ActorID == "" {
		opts.ActorID = "lead-1"
	}
	if opts.Role == "" {
		opts.Role = authority.RoleLead
	}
	u, err := env.Engine.CreateUnit(env.Ctx, opts)
	if err != nil {
		t.Fatalf("create unit: %v", err)
	}
	return u
}

func (env *testEnv) approve(t *testing.T, proofID, actorID string, role authority.Role) domain.Unit {
	t.Helper()
	_, u, err := env.Engine.DecideProof(env.Ctx, engine.ProofDecideOptions{
		ProofID: proofID, ActorID: actorID, Role: role, Approve: true,
	})
	if err != nil {
		t.Fatalf("approve proof %s: %v", proofID, err)
	}
	return u
}

// A unit needing two proofs covering photo and document goes green only
// when both type slots are filled by approved evidence.
func TestProofCountAndCoverage(t *testing.T) {
	env := newTestEnv(t)
	u := env.createUnit(t, engine.UnitCreateOptions{
		RequiredProofCount: 2,
		RequiredProofTypes: []string{"photo", "document"},
	})
	if u.Status != domain.StatusRed {
		t.Fatalf("new unit status = %s, want red", u.Status)
	}

	photo, err := env.Engine.SubmitProof(env.Ctx, u.ID, "photo", "contrib-1", authority.RoleContributor)
	if err != nil {
		t.Fatalf("submit photo: %v", err)
	}
	u = env.approve(t, photo.ID, "lead-1", authority.RoleLead)
	if u.Status != domain.StatusRed {
		t.Fatalf("after one of two proofs status = %s, want red", u.Status)
	}

	doc, err := env.Engine.SubmitProof(env.Ctx, u.ID, "document", "contrib-1", authority.RoleContributor)
	if err != nil {
		t.Fatalf("submit document: %v", err)
	}
	u = env.approve(t, doc.ID, "lead-1", authority.RoleLead)
	if u.Status != domain.StatusGreen {
		t.Fatalf("after both proofs status = %s, want green", u.Status)
	}
}

// Approving a second proof of the same type supersedes the first, and a
// superseded proof no longer satisfies the unit.
func TestSupersessionPerTypeSlot(t *testing.T) {
	env := newTestEnv(t)
	u := env.createUnit(t, engine.UnitCreateOptions{
		RequiredProofCount: 1,
		RequiredProofTypes: []string{"report"},
	})

	first, _ := env.Engine.SubmitProof(env.Ctx, u.ID, "report", "contrib-1", authority.RoleContributor)
	u = env.approve(t, first.ID, "lead-1", authority.RoleLead)
	if u.Status != domain.StatusGreen {
		t.Fatalf("status = %s, want green", u.Status)
	}

	second, _ := env.Engine.SubmitProof(env.Ctx, u.ID, "report", "contrib-2", authority.RoleContributor)
	u = env.approve(t, second.ID, "lead-1", authority.RoleLead)
	if u.Status != domain.StatusGreen {
		t.Fatalf("status after replacement = %s, want green", u.Status)
	}

	proofs, err := env.Engine.Repo.ListUnitProofs(env.Ctx, u.ID)
	if err != nil {
		t.Fatal(err)
	}
	active := 0
	for _, p := range proofs {
		if p.ID == first.ID {
			if !p.Superseded {
				t.Fatalf("first proof not superseded")
			}
			if p.SupersededBy == nil || *p.SupersededBy != second.ID {
				t.Fatalf("superseded_by = %v, want %s", p.SupersededBy, second.ID)
			}
		}
		if p.Counts() {
			active++
		}
	}
	if active != 1 {
		t.Fatalf("active approved proofs = %d, want 1", active)
	}
}

func TestSelfApprovalDenied(t *testing.T) {
	env := newTestEnv(t)
	u := env.createUnit(t, engine.UnitCreateOptions{RequiredProofCount: 1})
	p, _ := env.Engine.SubmitProof(env.Ctx, u.ID, "photo", "lead-1", authority.RoleLead)

	_, _, err := env.Engine.DecideProof(env.Ctx, engine.ProofDecideOptions{
		ProofID: p.ID, ActorID: "lead-1", Role: authority.RoleLead, Approve: true,
	})
	var denied authority.DeniedError
	if !errors.As(err, &denied) || denied.Rule != authority.RuleSelfApproval {
		t.Fatalf("err = %v, want self-approval denial", err)
	}

	got, err := env.Engine.Repo.GetProof(env.Ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Approval != domain.ProofPending {
		t.Fatalf("proof approval = %s, want pending after denial", got.Approval)
	}
}

func TestHighCriticalityRequiresOwner(t *testing.T) {
	env := newTestEnv(t)
	u := env.createUnit(t, engine.UnitCreateOptions{RequiredProofCount: 1, HighCriticality: true})
	p, _ := env.Engine.SubmitProof(env.Ctx, u.ID, "photo", "contrib-1", authority.RoleContributor)

	_, _, err := env.Engine.DecideProof(env.Ctx, engine.ProofDecideOptions{
		ProofID: p.ID, ActorID: "lead-1", Role: authority.RoleLead, Approve: true,
	})
	var denied authority.DeniedError
	if !errors.As(err, &denied) || denied.Rule != authority.RuleHighCriticality {
		t.Fatalf("lead approval on high-criticality: err = %v, want denial", err)
	}

	u2 := env.approve(t, p.ID, "owner-1", authority.RoleOwner)
	if u2.Status != domain.StatusGreen {
		t.Fatalf("status after owner approval = %s, want green", u2.Status)
	}
}

func TestRejectionRequiresReasonAndKeepsLedger(t *testing.T) {
	env := newTestEnv(t)
	u := env.createUnit(t, engine.UnitCreateOptions{RequiredProofCount: 1})
	p, _ := env.Engine.SubmitProof(env.Ctx, u.ID, "photo", "contrib-1", authority.RoleContributor)

	_, _, err := env.Engine.DecideProof(env.Ctx, engine.ProofDecideOptions{
		ProofID: p.ID, ActorID: "lead-1", Role: authority.RoleLead, Approve: false,
	})
	var verr domain.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("reject without reason: err = %v, want validation error", err)
	}

	_, u2, err := env.Engine.DecideProof(env.Ctx, engine.ProofDecideOptions{
		ProofID: p.ID, ActorID: "lead-1", Role: authority.RoleLead, Approve: false, Reason: "blurry",
	})
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if u2.Status != domain.StatusRed {
		t.Fatalf("status = %s, want red", u2.Status)
	}
	got, _ := env.Engine.Repo.GetProof(env.Ctx, p.ID)
	if got.Approval != domain.ProofRejected || got.RejectReason != "blurry" {
		t.Fatalf("rejected proof = %+v", got)
	}

	// a decided proof cannot be decided again
	_, _, err = env.Engine.DecideProof(env.Ctx, engine.ProofDecideOptions{
		ProofID: p.ID, ActorID: "owner-1", Role: authority.RoleOwner, Approve: true,
	})
	if err == nil {
		t.Fatalf("expected error re-deciding proof")
	}
}

func TestBlockedDominatesAndUnblockRecomputes(t *testing.T) {
	env := newTestEnv(t)
	u := env.createUnit(t, engine.UnitCreateOptions{RequiredProofCount: 1})
	p, _ := env.Engine.SubmitProof(env.Ctx, u.ID, "photo", "contrib-1", authority.RoleContributor)
	env.approve(t, p.ID, "lead-1", authority.RoleLead)

	u, err := env.Engine.Block(env.Ctx, u.ID, "lead-1", authority.RoleLead, "dependency slipped")
	if err != nil {
		t.Fatalf("block: %v", err)
	}
	if u.Status != domain.StatusBlocked || !u.Blocked {
		t.Fatalf("blocked unit = %+v", u)
	}

	// below owner cannot unblock
	_, err = env.Engine.Unblock(env.Ctx, u.ID, "lead-1", authority.RoleLead)
	var denied authority.DeniedError
	if !errors.As(err, &denied) || denied.Rule != authority.RuleUnblock {
		t.Fatalf("lead unblock: err = %v, want denial", err)
	}

	u, err = env.Engine.Unblock(env.Ctx, u.ID, "owner-1", authority.RoleOwner)
	if err != nil {
		t.Fatalf("unblock: %v", err)
	}
	if u.Status != domain.StatusGreen {
		t.Fatalf("status after unblock = %s, want green (proofs satisfied)", u.Status)
	}
}

func TestBlockByContributorRecordsProposalOnly(t *testing.T) {
	env := newTestEnv(t)
	u := env.createUnit(t, engine.UnitCreateOptions{RequiredProofCount: 1})

	got, err := env.Engine.Block(env.Ctx, u.ID, "contrib-1", authority.RoleContributor, "vendor outage")
	if err != nil {
		t.Fatalf("propose block: %v", err)
	}
	if got.Blocked || got.Status == domain.StatusBlocked {
		t.Fatalf("contributor proposal mutated unit: %+v", got)
	}

	escs, err := env.Engine.Repo.ListEscalations(env.Ctx, repo.EscalationFilters{UnitID: u.ID})
	if err != nil {
		t.Fatal(err)
	}
	if len(escs) != 1 || !escs[0].ProposedBlocked || escs[0].ProposedByRole != string(authority.RoleContributor) {
		t.Fatalf("escalations = %+v, want one block proposal", escs)
	}
}

func TestBlockRequiresReason(t *testing.T) {
	env := newTestEnv(t)
	u := env.createUnit(t, engine.UnitCreateOptions{RequiredProofCount: 1})
	_, err := env.Engine.Block(env.Ctx, u.ID, "lead-1", authority.RoleLead, "")
	var verr domain.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("block without reason: err = %v, want validation error", err)
	}
}

func TestVacuouslyGreenUnit(t *testing.T) {
	env := newTestEnv(t)
	u := env.createUnit(t, engine.UnitCreateOptions{RequiredProofCount: 0})
	if u.Status != domain.StatusGreen {
		t.Fatalf("zero-requirement unit status = %s, want green", u.Status)
	}
}

func TestWorkstreamAggregation(t *testing.T) {
	env := newTestEnv(t)

	// no evaluable units reports empty, not green
	st, _, err := env.Engine.WorkstreamStatus(env.Ctx, "ws-1")
	if err != nil {
		t.Fatal(err)
	}
	if st != domain.StatusEmpty {
		t.Fatalf("empty workstream status = %s, want empty", st)
	}

	green := env.createUnit(t, engine.UnitCreateOptions{RequiredProofCount: 0, Name: "done"})
	red := env.createUnit(t, engine.UnitCreateOptions{RequiredProofCount: 1, Name: "pending"})

	st, units, err := env.Engine.WorkstreamStatus(env.Ctx, "ws-1")
	if err != nil {
		t.Fatal(err)
	}
	if st != domain.StatusRed || len(units) != 2 {
		t.Fatalf("status = %s with %d units, want red with 2", st, len(units))
	}

	if _, err := env.Engine.Block(env.Ctx, red.ID, "lead-1", authority.RoleLead, "stuck"); err != nil {
		t.Fatal(err)
	}
	st, _, _ = env.Engine.WorkstreamStatus(env.Ctx, "ws-1")
	if st != domain.StatusBlocked {
		t.Fatalf("status = %s, want blocked to dominate", st)
	}

	// archiving the troubled unit leaves only the green one
	if _, err := env.Engine.ArchiveUnit(env.Ctx, red.ID, "lead-1", authority.RoleLead); err != nil {
		t.Fatal(err)
	}
	st, _, _ = env.Engine.WorkstreamStatus(env.Ctx, "ws-1")
	if st != domain.StatusGreen {
		t.Fatalf("status = %s, want green, green unit id %s", st, green.ID)
	}
}

func TestContributorUnitsStayOutUntilConfirmed(t *testing.T) {
	env := newTestEnv(t)
	u := env.createUnit(t, engine.UnitCreateOptions{
		RequiredProofCount: 1,
		ActorID:            "contrib-1",
		Role:               authority.RoleContributor,
	})
	if u.Confirmed {
		t.Fatalf("contributor-created unit starts confirmed")
	}

	st, units, err := env.Engine.WorkstreamStatus(env.Ctx, "ws-1")
	if err != nil {
		t.Fatal(err)
	}
	if st != domain.StatusEmpty || len(units) != 0 {
		t.Fatalf("unconfirmed unit leaked into aggregation: %s %d", st, len(units))
	}

	// contributor cannot confirm their own unit
	_, err = env.Engine.ConfirmUnit(env.Ctx, u.ID, "contrib-1", authority.RoleContributor)
	var denied authority.DeniedError
	if !errors.As(err, &denied) || denied.Rule != authority.RuleConfirmUnit {
		t.Fatalf("contributor confirm: err = %v, want denial", err)
	}

	u, err = env.Engine.ConfirmUnit(env.Ctx, u.ID, "lead-1", authority.RoleLead)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	st, _, _ = env.Engine.WorkstreamStatus(env.Ctx, "ws-1")
	if st != domain.StatusRed {
		t.Fatalf("status after confirm = %s, want red", st)
	}
}

func TestTickRaisesOneLevelPerEvaluation(t *testing.T) {
	env := newTestEnv(t)
	u := env.createUnit(t, engine.UnitCreateOptions{
		RequiredProofCount: 1,
		Deadline:           "2025-01-11T00:00:00Z", // ten-day window from fixed Now
	})

	// day 6 of 10: 60% elapsed, past the 50% threshold only
	raised, err := env.Engine.EvaluateAllEligible(env.Ctx, time.Date(2025, 1, 7, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if len(raised) != 1 || raised[0].Level != 1 {
		t.Fatalf("raised = %+v, want level 1", raised)
	}

	// same instant again: idempotent, nothing new
	raised, err = env.Engine.EvaluateAllEligible(env.Ctx, time.Date(2025, 1, 7, 0, 0, 0, 0, time.UTC))
	if err != nil || len(raised) != 0 {
		t.Fatalf("second tick raised %d, err %v", len(raised), err)
	}

	// 80% elapsed crosses 75%, but only one level per tick even though
	// time has passed two thresholds since creation
	raised, _ = env.Engine.EvaluateAllEligible(env.Ctx, time.Date(2025, 1, 9, 0, 0, 0, 0, time.UTC))
	if len(raised) != 1 || raised[0].Level != 2 {
		t.Fatalf("raised = %+v, want level 2", raised)
	}

	// past the deadline: clamped to 100%, crosses 90%
	raised, _ = env.Engine.EvaluateAllEligible(env.Ctx, time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC))
	if len(raised) != 1 || raised[0].Level != 3 {
		t.Fatalf("raised = %+v, want level 3", raised)
	}

	// level 3 is the ceiling
	raised, _ = env.Engine.EvaluateAllEligible(env.Ctx, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC))
	if len(raised) != 0 {
		t.Fatalf("raised past max level: %+v", raised)
	}

	got, _ := env.Engine.Repo.GetUnit(env.Ctx, u.ID)
	if got.EscalationLevel != 3 {
		t.Fatalf("escalation level = %d, want 3", got.EscalationLevel)
	}
}

func TestTickSkipsBlockedGreenAndUnconfirmed(t *testing.T) {
	env := newTestEnv(t)
	env.createUnit(t, engine.UnitCreateOptions{RequiredProofCount: 0, Name: "green"})
	blocked := env.createUnit(t, engine.UnitCreateOptions{RequiredProofCount: 1, Name: "blocked"})
	if _, err := env.Engine.Block(env.Ctx, blocked.ID, "lead-1", authority.RoleLead, "stuck"); err != nil {
		t.Fatal(err)
	}
	env.createUnit(t, engine.UnitCreateOptions{
		RequiredProofCount: 1, Name: "unconfirmed",
		ActorID: "contrib-1", Role: authority.RoleContributor,
	})

	raised, err := env.Engine.EvaluateAllEligible(env.Ctx, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if len(raised) != 0 {
		t.Fatalf("tick raised on ineligible units: %+v", raised)
	}
}

type captureSink struct {
	sent []notify.Notification
}

func (s *captureSink) Notify(ctx context.Context, n notify.Notification) {
	s.sent = append(s.sent, n)
}

// An automatic raise reaches the sink with the recipients configured for
// the new level.
func TestTickNotifiesRecipientsForLevel(t *testing.T) {
	env := newTestEnv(t)
	sink := &captureSink{}
	env.Engine.Notify = sink
	u := env.createUnit(t, engine.UnitCreateOptions{RequiredProofCount: 1})

	raised, err := env.Engine.EvaluateAllEligible(env.Ctx, time.Date(2025, 1, 7, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatal(err)
	}
	if len(raised) != 1 || len(sink.sent) != 1 {
		t.Fatalf("raised = %d notifications = %d, want 1 and 1", len(raised), len(sink.sent))
	}
	n := sink.sent[0]
	if n.Unit.ID != u.ID || n.Escalation.Level != 1 || n.Escalation.Trigger != domain.TriggerAutomatic {
		t.Fatalf("notification = %+v", n)
	}
	if len(n.Recipients) != 1 || n.Recipients[0] != authority.RoleLead {
		t.Fatalf("recipients = %v, want [lead]", n.Recipients)
	}

	// level 2 widens the audience per the notify map
	_, err = env.Engine.EvaluateAllEligible(env.Ctx, time.Date(2025, 1, 9, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatal(err)
	}
	if len(sink.sent) != 2 {
		t.Fatalf("notifications = %d, want 2", len(sink.sent))
	}
	n = sink.sent[1]
	if n.Escalation.Level != 2 || len(n.Recipients) != 2 {
		t.Fatalf("level 2 notification = %+v", n)
	}
}

func TestGreenTransitionResolvesEscalations(t *testing.T) {
	env := newTestEnv(t)
	u := env.createUnit(t, engine.UnitCreateOptions{RequiredProofCount: 1})

	// run the unit up to level 2
	env.Engine.EvaluateAllEligible(env.Ctx, time.Date(2025, 1, 7, 0, 0, 0, 0, time.UTC))
	env.Engine.EvaluateAllEligible(env.Ctx, time.Date(2025, 1, 9, 0, 0, 0, 0, time.UTC))

	p, _ := env.Engine.SubmitProof(env.Ctx, u.ID, "photo", "contrib-1", authority.RoleContributor)
	u = env.approve(t, p.ID, "lead-1", authority.RoleLead)
	if u.Status != domain.StatusGreen || u.EscalationLevel != 0 {
		t.Fatalf("unit after green transition = status %s level %d", u.Status, u.EscalationLevel)
	}

	escs, err := env.Engine.Repo.ListEscalations(env.Ctx, repo.EscalationFilters{UnitID: u.ID, Resolution: domain.EscalationActive})
	if err != nil {
		t.Fatal(err)
	}
	if len(escs) != 0 {
		t.Fatalf("active escalations after green = %d, want 0", len(escs))
	}
}

func TestManualEscalationNeverLowersLevel(t *testing.T) {
	env := newTestEnv(t)
	u := env.createUnit(t, engine.UnitCreateOptions{RequiredProofCount: 1})

	esc, got, err := env.Engine.Escalate(env.Ctx, engine.EscalateOptions{
		UnitID: u.ID, ActorID: "lead-1", Role: authority.RoleLead, Level: 3, Reason: "slipping badly",
	})
	if err != nil {
		t.Fatalf("escalate: %v", err)
	}
	if esc.Trigger != domain.TriggerManual || got.EscalationLevel != 3 {
		t.Fatalf("escalation = %+v unit level = %d", esc, got.EscalationLevel)
	}

	// a lower manual level records the event but keeps the stored level
	_, got, err = env.Engine.Escalate(env.Ctx, engine.EscalateOptions{
		UnitID: u.ID, ActorID: "lead-1", Role: authority.RoleLead, Level: 1, Reason: "nudge",
	})
	if err != nil {
		t.Fatalf("escalate lower: %v", err)
	}
	if got.EscalationLevel != 3 {
		t.Fatalf("level lowered to %d", got.EscalationLevel)
	}

	_, _, err = env.Engine.Escalate(env.Ctx, engine.EscalateOptions{
		UnitID: u.ID, ActorID: "lead-1", Role: authority.RoleLead, Level: 4, Reason: "x",
	})
	var verr domain.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("level 4: err = %v, want validation error", err)
	}
}

func TestManualEscalationMarkBlocked(t *testing.T) {
	env := newTestEnv(t)
	u := env.createUnit(t, engine.UnitCreateOptions{RequiredProofCount: 1})

	// contributor request leaves a proposal, unit untouched
	esc, got, err := env.Engine.Escalate(env.Ctx, engine.EscalateOptions{
		UnitID: u.ID, ActorID: "contrib-1", Role: authority.RoleContributor,
		Level: 1, Reason: "vendor outage", MarkBlocked: true,
	})
	if err != nil {
		t.Fatalf("escalate: %v", err)
	}
	if !esc.ProposedBlocked || got.Blocked {
		t.Fatalf("esc = %+v unit blocked = %v", esc, got.Blocked)
	}

	// lead request applies the block
	esc, got, err = env.Engine.Escalate(env.Ctx, engine.EscalateOptions{
		UnitID: u.ID, ActorID: "lead-1", Role: authority.RoleLead,
		Level: 2, Reason: "vendor outage confirmed", MarkBlocked: true,
	})
	if err != nil {
		t.Fatalf("escalate: %v", err)
	}
	if esc.ProposedBlocked || !got.Blocked || got.Status != domain.StatusBlocked {
		t.Fatalf("esc = %+v unit = %+v", esc, got)
	}
}

// A block confirmed by an authorized role closes the unit's active
// escalations: the condition is acknowledged and owned. The stored level
// stays so an unblock resumes from where it stood.
func TestConfirmedBlockResolvesEscalations(t *testing.T) {
	env := newTestEnv(t)
	u := env.createUnit(t, engine.UnitCreateOptions{RequiredProofCount: 1})

	env.Engine.EvaluateAllEligible(env.Ctx, time.Date(2025, 1, 7, 0, 0, 0, 0, time.UTC))

	got, err := env.Engine.Block(env.Ctx, u.ID, "lead-1", authority.RoleLead, "vendor outage")
	if err != nil {
		t.Fatalf("block: %v", err)
	}
	if got.EscalationLevel != 1 {
		t.Fatalf("level = %d, want 1 kept", got.EscalationLevel)
	}
	escs, err := env.Engine.Repo.ListEscalations(env.Ctx, repo.EscalationFilters{UnitID: u.ID, Resolution: domain.EscalationActive})
	if err != nil {
		t.Fatal(err)
	}
	if len(escs) != 0 {
		t.Fatalf("active escalations after confirmed block = %d, want 0", len(escs))
	}
}

func TestMarkBlockedEscalationResolvesActive(t *testing.T) {
	env := newTestEnv(t)
	u := env.createUnit(t, engine.UnitCreateOptions{RequiredProofCount: 1})

	env.Engine.EvaluateAllEligible(env.Ctx, time.Date(2025, 1, 7, 0, 0, 0, 0, time.UTC))

	esc, got, err := env.Engine.Escalate(env.Ctx, engine.EscalateOptions{
		UnitID: u.ID, ActorID: "lead-1", Role: authority.RoleLead,
		Level: 2, Reason: "vendor outage", MarkBlocked: true,
	})
	if err != nil {
		t.Fatalf("escalate: %v", err)
	}
	if !got.Blocked || esc.Resolution != domain.EscalationResolved {
		t.Fatalf("unit blocked = %v escalation = %+v", got.Blocked, esc)
	}
	escs, err := env.Engine.Repo.ListEscalations(env.Ctx, repo.EscalationFilters{UnitID: u.ID, Resolution: domain.EscalationActive})
	if err != nil {
		t.Fatal(err)
	}
	if len(escs) != 0 {
		t.Fatalf("active escalations after applied mark-blocked = %d, want 0", len(escs))
	}

	// a proposal-only request stays active
	got, err = env.Engine.Unblock(env.Ctx, u.ID, "owner-1", authority.RoleOwner)
	if err != nil {
		t.Fatalf("unblock: %v", err)
	}
	if _, _, err := env.Engine.Escalate(env.Ctx, engine.EscalateOptions{
		UnitID: got.ID, ActorID: "contrib-1", Role: authority.RoleContributor,
		Level: 1, Reason: "still stuck", MarkBlocked: true,
	}); err != nil {
		t.Fatalf("escalate proposal: %v", err)
	}
	escs, err = env.Engine.Repo.ListEscalations(env.Ctx, repo.EscalationFilters{UnitID: u.ID, Resolution: domain.EscalationActive})
	if err != nil {
		t.Fatal(err)
	}
	if len(escs) != 1 {
		t.Fatalf("active escalations after proposal = %d, want 1", len(escs))
	}
}

func TestCustomProfileValidation(t *testing.T) {
	env := newTestEnv(t)
	cases := []struct {
		name       string
		thresholds []int
	}{
		{"empty", nil},
		{"too many", []int{10, 20, 30, 40, 50, 60}},
		{"not increasing", []int{50, 50, 90}},
		{"over 100", []int{50, 75, 110}},
		{"zero entry", []int{0, 50, 90}},
	}
	for _, tc := range cases {
		_, err := env.Engine.CreateUnit(env.Ctx, engine.UnitCreateOptions{
			WorkstreamID: "ws-1", Name: tc.name, Deadline: "2025-01-11T00:00:00Z",
			AlertProfile: domain.ProfileCustom, CustomThresholds: tc.thresholds,
			ActorID: "lead-1", Role: authority.RoleLead,
		})
		var verr domain.ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("%s: err = %v, want validation error", tc.name, err)
		}
	}

	u, err := env.Engine.CreateUnit(env.Ctx, engine.UnitCreateOptions{
		WorkstreamID: "ws-1", Name: "ok", Deadline: "2025-01-11T00:00:00Z",
		AlertProfile: domain.ProfileCustom, CustomThresholds: []int{25, 50},
		ActorID: "lead-1", Role: authority.RoleLead,
	})
	if err != nil {
		t.Fatalf("valid custom profile: %v", err)
	}
	// 30% elapsed crosses the 25% threshold
	raised, err := env.Engine.EvaluateAllEligible(env.Ctx, time.Date(2025, 1, 4, 0, 0, 0, 0, time.UTC))
	if err != nil || len(raised) != 1 || raised[0].UnitID != u.ID {
		t.Fatalf("raised = %+v err = %v", raised, err)
	}
}

func TestCriticalProfileEscalatesEarlier(t *testing.T) {
	env := newTestEnv(t)
	env.createUnit(t, engine.UnitCreateOptions{
		RequiredProofCount: 1, Name: "standard", AlertProfile: domain.ProfileStandard,
	})
	crit := env.createUnit(t, engine.UnitCreateOptions{
		RequiredProofCount: 1, Name: "critical", AlertProfile: domain.ProfileCritical,
	})

	// 40% elapsed: past critical's 30%, below standard's 50%
	raised, err := env.Engine.EvaluateAllEligible(env.Ctx, time.Date(2025, 1, 5, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if len(raised) != 1 || raised[0].UnitID != crit.ID {
		t.Fatalf("raised = %+v, want only the critical unit", raised)
	}
}

func TestDeadlineBeforeCreationCountsAsFullyElapsed(t *testing.T) {
	env := newTestEnv(t)
	u := env.createUnit(t, engine.UnitCreateOptions{
		RequiredProofCount: 1,
		Deadline:           "2024-12-01T00:00:00Z", // before the fixed clock
	})
	d := engine.EvaluateUnit(u, time.Date(2025, 1, 1, 0, 0, 1, 0, time.UTC))
	if !d.Raise || d.NewLevel != 1 || d.Elapsed != 1 {
		t.Fatalf("decision = %+v, want immediate raise at 100%%", d)
	}
}

func TestAuditTrailOnProofLifecycle(t *testing.T) {
	env := newTestEnv(t)
	u := env.createUnit(t, engine.UnitCreateOptions{RequiredProofCount: 1})
	p, _ := env.Engine.SubmitProof(env.Ctx, u.ID, "photo", "contrib-1", authority.RoleContributor)
	env.approve(t, p.ID, "lead-1", authority.RoleLead)

	events, err := env.Engine.Repo.LatestStatusEvents(env.Ctx, 50, 0, u.ID, "")
	if err != nil {
		t.Fatal(err)
	}
	types := map[string]bool{}
	for _, evt := range events {
		types[evt.Type] = true
	}
	for _, want := range []string{"unit.created", "proof.submitted", "proof.approved"} {
		if !types[want] {
			t.Fatalf("missing %s in trail: %v", want, types)
		}
	}
	// the approval event records the red→green transition
	for _, evt := range events {
		if evt.Type == "proof.approved" {
			if evt.OldStatus != string(domain.StatusRed) || evt.NewStatus != string(domain.StatusGreen) {
				t.Fatalf("approval transition = %s→%s", evt.OldStatus, evt.NewStatus)
			}
		}
	}
}

func TestSubmitProofToArchivedUnitFails(t *testing.T) {
	env := newTestEnv(t)
	u := env.createUnit(t, engine.UnitCreateOptions{RequiredProofCount: 1})
	if _, err := env.Engine.ArchiveUnit(env.Ctx, u.ID, "lead-1", authority.RoleLead); err != nil {
		t.Fatal(err)
	}
	_, err := env.Engine.SubmitProof(env.Ctx, u.ID, "photo", "contrib-1", authority.RoleContributor)
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("err = %v, want not found", err)
	}
}

// Archived units are invisible to every mutation path, including proofs
// already pending on them.
func TestArchivedUnitRejectsMutations(t *testing.T) {
	env := newTestEnv(t)
	u := env.createUnit(t, engine.UnitCreateOptions{RequiredProofCount: 1})
	p, err := env.Engine.SubmitProof(env.Ctx, u.ID, "photo", "contrib-1", authority.RoleContributor)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.ArchiveUnit(env.Ctx, u.ID, "lead-1", authority.RoleLead); err != nil {
		t.Fatal(err)
	}

	if _, err := env.Engine.Block(env.Ctx, u.ID, "lead-1", authority.RoleLead, "late"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("block: err = %v, want not found", err)
	}
	if _, err := env.Engine.Block(env.Ctx, u.ID, "contrib-1", authority.RoleContributor, "late"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("block proposal: err = %v, want not found", err)
	}
	if _, err := env.Engine.Unblock(env.Ctx, u.ID, "owner-1", authority.RoleOwner); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("unblock: err = %v, want not found", err)
	}
	if _, err := env.Engine.ConfirmUnit(env.Ctx, u.ID, "lead-1", authority.RoleLead); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("confirm: err = %v, want not found", err)
	}
	_, _, err = env.Engine.DecideProof(env.Ctx, engine.ProofDecideOptions{
		ProofID: p.ID, ActorID: "lead-1", Role: authority.RoleLead, Approve: true,
	})
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("decide: err = %v, want not found", err)
	}
}
