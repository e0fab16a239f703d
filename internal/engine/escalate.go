package engine

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"trackline/internal/audit"
	"trackline/internal/domain"
	"trackline/internal/notify"
	"trackline/internal/repo"
)

// TickDecision is the outcome of evaluating one unit at one instant.
type TickDecision struct {
	Raise     bool
	NewLevel  int
	Threshold int
	Elapsed   float64
}

// EvaluateUnit decides whether the unit crosses its next escalation
// threshold at the given instant. Pure: no I/O, no side effects.
//
// The elapsed fraction of the created→deadline window is clamped to
// [0,1]; a deadline at or before creation counts as fully elapsed. The
// next threshold is indexed by the current level, so a unit raises at
// most one level per evaluation regardless of how many thresholds the
// elapsed time has passed.
func EvaluateUnit(u domain.Unit, now time.Time) TickDecision {
	if u.Blocked || u.Archived || !u.Confirmed || u.Status == domain.StatusGreen {
		return TickDecision{}
	}
	if u.EscalationLevel >= domain.MaxEscalationLevel {
		return TickDecision{}
	}
	thresholds := u.Thresholds()
	if u.EscalationLevel >= len(thresholds) {
		return TickDecision{}
	}

	elapsed := elapsedFraction(u, now)
	next := thresholds[u.EscalationLevel]
	if elapsed*100 < float64(next) {
		return TickDecision{Elapsed: elapsed}
	}
	return TickDecision{
		Raise:     true,
		NewLevel:  u.EscalationLevel + 1,
		Threshold: next,
		Elapsed:   elapsed,
	}
}

func elapsedFraction(u domain.Unit, now time.Time) float64 {
	created, err := time.Parse(time.RFC3339, u.CreatedAt)
	if err != nil {
		return 0
	}
	deadline, err := time.Parse(time.RFC3339, u.Deadline)
	if err != nil {
		return 0
	}
	window := deadline.Sub(created)
	if window <= 0 {
		return 1
	}
	f := float64(now.Sub(created)) / float64(window)
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

// EvaluateAllEligible runs one escalation tick across every eligible
// unit. Each raise runs in its own transaction with the version check,
// so a tick racing a proof decision simply skips that unit; the next
// tick re-evaluates it. Ticks are idempotent: a unit already at the
// level its elapsed time warrants raises nothing.
func (e Engine) EvaluateAllEligible(ctx context.Context, now time.Time) ([]domain.Escalation, error) {
	candidates, err := e.Repo.ListTickCandidates(ctx)
	if err != nil {
		return nil, err
	}
	var raised []domain.Escalation
	for _, c := range candidates {
		esc, err := e.raiseIfDue(ctx, c.ID, now)
		if err != nil {
			if errors.Is(err, repo.ErrConflict) || errors.Is(err, repo.ErrNotFound) {
				e.Logger.Debug().Str("unit_id", c.ID).Err(err).Msg("tick skipped unit")
				continue
			}
			return raised, err
		}
		if esc != nil {
			raised = append(raised, *esc)
		}
	}
	return raised, nil
}

func (e Engine) raiseIfDue(ctx context.Context, unitID string, now time.Time) (*domain.Escalation, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	u, err := e.Repo.GetUnitTx(ctx, tx, unitID)
	if err != nil {
		return nil, err
	}
	d := EvaluateUnit(u, now)
	if !d.Raise {
		return nil, nil
	}

	ts := now.UTC().Format(time.RFC3339)
	esc := domain.Escalation{
		ID:         uuid.NewString(),
		UnitID:     u.ID,
		Level:      d.NewLevel,
		Trigger:    domain.TriggerAutomatic,
		Resolution: domain.EscalationActive,
		CreatedAt:  ts,
	}
	if err := e.Repo.InsertEscalation(ctx, tx, esc); err != nil {
		return nil, err
	}
	u.EscalationLevel = d.NewLevel
	u.UpdatedAt = ts
	if err := e.Repo.UpdateUnit(ctx, tx, u); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	u.Version++

	e.Audit.Emit(ctx, domain.StatusEvent{
		Type:      audit.EventEscalationRaised,
		UnitID:    u.ID,
		NewStatus: string(u.Status),
		ActorID:   "system",
		Payload: audit.Payload(map[string]any{
			"escalation_id": esc.ID,
			"level":         esc.Level,
			"threshold":     d.Threshold,
		}),
	})
	if e.Notify != nil && e.Config != nil {
		e.Notify.Notify(ctx, notify.Notification{
			Unit:       u,
			Escalation: esc,
			Recipients: e.Config.Recipients(esc.Level),
		})
	}
	return &esc, nil
}
