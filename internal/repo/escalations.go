package repo

import (
	"context"
	"database/sql"
	"strings"

	"trackline/internal/domain"
)

const escalationColumns = `id,unit_id,level,trigger_type,reason,proposed_blocked,proposed_by_role,resolution,created_at,resolved_at`

func (r Repo) InsertEscalation(ctx context.Context, tx *sql.Tx, e domain.Escalation) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO escalations(`+escalationColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		e.ID, e.UnitID, e.Level, e.Trigger, nullable(e.Reason), boolInt(e.ProposedBlocked),
		nullable(e.ProposedByRole), e.Resolution, e.CreatedAt, nullableStringPtr(e.ResolvedAt))
	return err
}

func scanEscalation(scan func(dest ...any) error) (domain.Escalation, error) {
	var e domain.Escalation
	var reason, proposedRole, resolvedAt sql.NullString
	var proposed int
	err := scan(&e.ID, &e.UnitID, &e.Level, &e.Trigger, &reason, &proposed, &proposedRole,
		&e.Resolution, &e.CreatedAt, &resolvedAt)
	if err == sql.ErrNoRows {
		return e, ErrNotFound
	}
	if err != nil {
		return e, err
	}
	if reason.Valid {
		e.Reason = reason.String
	}
	if proposedRole.Valid {
		e.ProposedByRole = proposedRole.String
	}
	if resolvedAt.Valid {
		e.ResolvedAt = &resolvedAt.String
	}
	e.ProposedBlocked = proposed != 0
	return e, nil
}

type EscalationFilters struct {
	UnitID     string
	Resolution string
	Limit      int
}

func (r Repo) ListEscalations(ctx context.Context, f EscalationFilters) ([]domain.Escalation, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.UnitID != "" {
		clauses = append(clauses, "unit_id=?")
		args = append(args, f.UnitID)
	}
	if f.Resolution != "" {
		clauses = append(clauses, "resolution=?")
		args = append(args, f.Resolution)
	}
	query := `SELECT ` + escalationColumns + ` FROM escalations WHERE ` + strings.Join(clauses, " AND ") +
		` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Escalation
	for rows.Next() {
		e, err := scanEscalation(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// ResolveActiveEscalations closes every active escalation on a unit.
// Called when the unit turns green or its blocked state is confirmed by
// an authorized role.
func (r Repo) ResolveActiveEscalations(ctx context.Context, tx *sql.Tx, unitID, resolvedAt string) (int64, error) {
	res, err := tx.ExecContext(ctx,
		`UPDATE escalations SET resolution=?, resolved_at=? WHERE unit_id=? AND resolution=?`,
		domain.EscalationResolved, resolvedAt, unitID, domain.EscalationActive)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return n, nil
}
