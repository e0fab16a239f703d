// Package audit appends immutable status events. The Recorder surface is
// append-only on purpose: immutability lives in the type system, not in a
// bolt-on permission layer.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"trackline/internal/domain"
)

// Event types written to the trail.
const (
	EventUnitCreated        = "unit.created"
	EventUnitConfirmed      = "unit.confirmed"
	EventUnitArchived       = "unit.archived"
	EventUnitBlocked        = "unit.blocked"
	EventBlockProposed      = "unit.block_proposed"
	EventUnitUnblocked      = "unit.unblocked"
	EventProofSubmitted     = "proof.submitted"
	EventProofApproved      = "proof.approved"
	EventProofRejected      = "proof.rejected"
	EventEscalationRaised   = "escalation.raised"
	EventEscalationRequest  = "escalation.requested"
	EventEscalationResolved = "escalation.resolved"
	EventWorkstreamCreated  = "workstream.created"
	EventWorkstreamArchived = "workstream.archived"
)

// Recorder appends one status event. There is no update or delete.
type Recorder interface {
	Record(ctx context.Context, evt domain.StatusEvent) error
}

// Writer records status events into the status_events table.
type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

func (w Writer) Record(ctx context.Context, evt domain.StatusEvent) error {
	ts := evt.TS
	if ts == "" {
		now := time.Now
		if w.Now != nil {
			now = w.Now
		}
		ts = now().UTC().Format(time.RFC3339)
	}
	_, err := w.DB.ExecContext(ctx,
		`INSERT INTO status_events(ts,type,unit_id,old_status,new_status,actor_id,actor_role,reason,payload_json) VALUES (?,?,?,?,?,?,?,?,?)`,
		ts, evt.Type, nullable(evt.UnitID), nullable(evt.OldStatus), nullable(evt.NewStatus),
		evt.ActorID, nullable(evt.ActorRole), nullable(evt.Reason), nullable(evt.Payload))
	if err != nil {
		return fmt.Errorf("append status event: %w", err)
	}
	return nil
}

// Emitter wraps a Recorder so that a failed audit write never fails the
// business action that produced it. Failures are logged and forwarded to
// OnFailure for external alerting.
type Emitter struct {
	Recorder  Recorder
	Logger    zerolog.Logger
	OnFailure func(evt domain.StatusEvent, err error)
}

// Emit records the event, swallowing and surfacing any failure.
func (e Emitter) Emit(ctx context.Context, evt domain.StatusEvent) {
	if e.Recorder == nil {
		return
	}
	if err := e.Recorder.Record(ctx, evt); err != nil {
		e.Logger.Error().Err(err).
			Str("event_type", evt.Type).
			Str("unit_id", evt.UnitID).
			Msg("audit write failed")
		if e.OnFailure != nil {
			e.OnFailure(evt, err)
		}
	}
}

// Payload marshals an arbitrary payload map for a status event.
func Payload(fields map[string]any) string {
	if len(fields) == 0 {
		return ""
	}
	b, err := json.Marshal(fields)
	if err != nil {
		return ""
	}
	return string(b)
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
