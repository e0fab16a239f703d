package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"trackline/internal/domain"
)

// Status events are append-only. This file intentionally contains read
// queries only; the single writer lives in the audit package.

const eventColumns = `id,ts,type,unit_id,old_status,new_status,actor_id,actor_role,reason,payload_json`

func scanStatusEvent(scan func(dest ...any) error) (domain.StatusEvent, error) {
	var e domain.StatusEvent
	var unitID, oldStatus, newStatus, actorRole, reason, payload sql.NullString
	err := scan(&e.ID, &e.TS, &e.Type, &unitID, &oldStatus, &newStatus, &e.ActorID, &actorRole, &reason, &payload)
	if err == sql.ErrNoRows {
		return e, ErrNotFound
	}
	if err != nil {
		return e, err
	}
	if unitID.Valid {
		e.UnitID = unitID.String
	}
	if oldStatus.Valid {
		e.OldStatus = oldStatus.String
	}
	if newStatus.Valid {
		e.NewStatus = newStatus.String
	}
	if actorRole.Valid {
		e.ActorRole = actorRole.String
	}
	if reason.Valid {
		e.Reason = reason.String
	}
	if payload.Valid {
		e.Payload = payload.String
	}
	return e, nil
}

// LatestStatusEvents returns the newest events first, optionally filtered
// by unit and type, with an id cursor for paging backwards.
func (r Repo) LatestStatusEvents(ctx context.Context, limit int, cursor int64, unitID, evtType string) ([]domain.StatusEvent, error) {
	clauses := []string{"1=1"}
	var args []any
	if unitID != "" {
		clauses = append(clauses, "unit_id=?")
		args = append(args, unitID)
	}
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if cursor > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, cursor)
	}
	if limit <= 0 {
		limit = 100
	}
	query := fmt.Sprintf(`SELECT %s FROM status_events WHERE %s ORDER BY id DESC LIMIT ?`, eventColumns, strings.Join(clauses, " AND "))
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.StatusEvent
	for rows.Next() {
		e, err := scanStatusEvent(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// StatusEventsAfter returns events with IDs greater than the cursor in
// ascending order. Used by the webhook dispatcher.
func (r Repo) StatusEventsAfter(ctx context.Context, limit int, cursor int64) ([]domain.StatusEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.DB.QueryContext(ctx,
		fmt.Sprintf(`SELECT %s FROM status_events WHERE id>? ORDER BY id ASC LIMIT ?`, eventColumns), cursor, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.StatusEvent
	for rows.Next() {
		e, err := scanStatusEvent(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// LatestStatusEventID returns the most recent event ID.
func (r Repo) LatestStatusEventID(ctx context.Context) (int64, error) {
	var id int64
	if err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM status_events`).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}
