package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"trackline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict reports a stale unit version. The caller retries the
	// whole read-modify-write, not just the write.
	ErrConflict = errors.New("conflict: unit changed concurrently")
)

// --- workstreams ---

func (r Repo) InsertWorkstream(ctx context.Context, w domain.Workstream) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO workstreams(id,program_id,name,archived,created_at) VALUES (?,?,?,?,?)`,
		w.ID, w.ProgramID, w.Name, boolInt(w.Archived), w.CreatedAt)
	return err
}

func (r Repo) GetWorkstream(ctx context.Context, id string) (domain.Workstream, error) {
	var w domain.Workstream
	var archived int
	err := r.DB.QueryRowContext(ctx, `SELECT id,program_id,name,archived,created_at FROM workstreams WHERE id=?`, id).
		Scan(&w.ID, &w.ProgramID, &w.Name, &archived, &w.CreatedAt)
	if err == sql.ErrNoRows {
		return w, ErrNotFound
	}
	w.Archived = archived != 0
	return w, err
}

func (r Repo) ListWorkstreams(ctx context.Context, programID string, includeArchived bool) ([]domain.Workstream, error) {
	clauses := []string{"1=1"}
	var args []any
	if programID != "" {
		clauses = append(clauses, "program_id=?")
		args = append(args, programID)
	}
	if !includeArchived {
		clauses = append(clauses, "archived=0")
	}
	query := `SELECT id,program_id,name,archived,created_at FROM workstreams WHERE ` +
		strings.Join(clauses, " AND ") + ` ORDER BY created_at DESC, id DESC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Workstream
	for rows.Next() {
		var w domain.Workstream
		var archived int
		if err := rows.Scan(&w.ID, &w.ProgramID, &w.Name, &archived, &w.CreatedAt); err != nil {
			return nil, err
		}
		w.Archived = archived != 0
		res = append(res, w)
	}
	return res, rows.Err()
}

func (r Repo) ArchiveWorkstream(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `UPDATE workstreams SET archived=1 WHERE id=? AND archived=0`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- units ---

const unitColumns = `id,workstream_id,name,required_proof_count,required_proof_types,deadline,alert_profile,custom_thresholds,high_criticality,blocked,blocked_reason,blocked_by,blocked_at,confirmed,confirmed_by,archived,escalation_level,status,version,created_at,updated_at`

func (r Repo) InsertUnit(ctx context.Context, tx *sql.Tx, u domain.Unit) error {
	types, err := marshalStrings(u.RequiredProofTypes)
	if err != nil {
		return err
	}
	thresholds, err := marshalInts(u.CustomThresholds)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO units(`+unitColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		u.ID, u.WorkstreamID, u.Name, u.RequiredProofCount, types, u.Deadline, u.AlertProfile, thresholds,
		boolInt(u.HighCriticality), boolInt(u.Blocked), nullable(u.BlockedReason), nullableStringPtr(u.BlockedBy),
		nullableStringPtr(u.BlockedAt), boolInt(u.Confirmed), nullableStringPtr(u.ConfirmedBy), boolInt(u.Archived),
		u.EscalationLevel, string(u.Status), u.Version, u.CreatedAt, u.UpdatedAt)
	return err
}

func scanUnit(scan func(dest ...any) error) (domain.Unit, error) {
	var u domain.Unit
	var types, thresholds, blockedReason, blockedBy, blockedAt, confirmedBy sql.NullString
	var highCrit, blocked, confirmed, archived int
	var st string
	err := scan(&u.ID, &u.WorkstreamID, &u.Name, &u.RequiredProofCount, &types, &u.Deadline, &u.AlertProfile,
		&thresholds, &highCrit, &blocked, &blockedReason, &blockedBy, &blockedAt, &confirmed, &confirmedBy,
		&archived, &u.EscalationLevel, &st, &u.Version, &u.CreatedAt, &u.UpdatedAt)
	if err == sql.ErrNoRows {
		return u, ErrNotFound
	}
	if err != nil {
		return u, err
	}
	u.HighCriticality = highCrit != 0
	u.Blocked = blocked != 0
	u.Confirmed = confirmed != 0
	u.Archived = archived != 0
	u.Status = domain.Status(st)
	if blockedReason.Valid {
		u.BlockedReason = blockedReason.String
	}
	if blockedBy.Valid {
		u.BlockedBy = &blockedBy.String
	}
	if blockedAt.Valid {
		u.BlockedAt = &blockedAt.String
	}
	if confirmedBy.Valid {
		u.ConfirmedBy = &confirmedBy.String
	}
	if types.Valid && types.String != "" {
		if err := json.Unmarshal([]byte(types.String), &u.RequiredProofTypes); err != nil {
			return u, fmt.Errorf("unit %s required_proof_types: %w", u.ID, err)
		}
	}
	if thresholds.Valid && thresholds.String != "" {
		if err := json.Unmarshal([]byte(thresholds.String), &u.CustomThresholds); err != nil {
			return u, fmt.Errorf("unit %s custom_thresholds: %w", u.ID, err)
		}
	}
	return u, nil
}

func (r Repo) GetUnit(ctx context.Context, id string) (domain.Unit, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+unitColumns+` FROM units WHERE id=?`, id)
	return scanUnit(row.Scan)
}

func (r Repo) GetUnitTx(ctx context.Context, tx *sql.Tx, id string) (domain.Unit, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+unitColumns+` FROM units WHERE id=?`, id)
	return scanUnit(row.Scan)
}

type UnitFilters struct {
	WorkstreamID    string
	Status          string
	IncludeArchived bool
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListUnits(ctx context.Context, f UnitFilters) ([]domain.Unit, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.WorkstreamID != "" {
		clauses = append(clauses, "workstream_id=?")
		args = append(args, f.WorkstreamID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if !f.IncludeArchived {
		clauses = append(clauses, "archived=0")
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	query := `SELECT ` + unitColumns + ` FROM units WHERE ` + strings.Join(clauses, " AND ") +
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
	var res []domain.Unit
	for rows.Next() {
		u, err := scanUnit(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, u)
	}
	return res, rows.Err()
}

// ListEvaluableUnits returns confirmed, non-archived units of a
// workstream: the aggregation input set.
func (r Repo) ListEvaluableUnits(ctx context.Context, workstreamID string) ([]domain.Unit, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT `+unitColumns+` FROM units WHERE workstream_id=? AND archived=0 AND confirmed=1 ORDER BY created_at ASC, id ASC`,
		workstreamID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Unit
	for rows.Next() {
		u, err := scanUnit(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, u)
	}
	return res, rows.Err()
}

// ListTickCandidates returns units eligible for escalation evaluation:
// confirmed, not archived, not blocked, not green, below the top level.
func (r Repo) ListTickCandidates(ctx context.Context) ([]domain.Unit, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT `+unitColumns+` FROM units
WHERE archived=0 AND confirmed=1 AND blocked=0 AND status!=? AND escalation_level<?
ORDER BY created_at ASC, id ASC`,
		string(domain.StatusGreen), domain.MaxEscalationLevel)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Unit
	for rows.Next() {
		u, err := scanUnit(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, u)
	}
	return res, rows.Err()
}

// UpdateUnit persists the unit's mutable state with an optimistic version
// check. The stored version must still match u.Version; on success the
// row's version is incremented.
func (r Repo) UpdateUnit(ctx context.Context, tx *sql.Tx, u domain.Unit) error {
	types, err := marshalStrings(u.RequiredProofTypes)
	if err != nil {
		return err
	}
	thresholds, err := marshalInts(u.CustomThresholds)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `UPDATE units SET
name=?, required_proof_count=?, required_proof_types=?, deadline=?, alert_profile=?, custom_thresholds=?,
high_criticality=?, blocked=?, blocked_reason=?, blocked_by=?, blocked_at=?, confirmed=?, confirmed_by=?,
archived=?, escalation_level=?, status=?, version=version+1, updated_at=?
WHERE id=? AND version=?`,
		u.Name, u.RequiredProofCount, types, u.Deadline, u.AlertProfile, thresholds,
		boolInt(u.HighCriticality), boolInt(u.Blocked), nullable(u.BlockedReason), nullableStringPtr(u.BlockedBy),
		nullableStringPtr(u.BlockedAt), boolInt(u.Confirmed), nullableStringPtr(u.ConfirmedBy),
		boolInt(u.Archived), u.EscalationLevel, string(u.Status), u.UpdatedAt,
		u.ID, u.Version)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, getErr := r.GetUnitTx(ctx, tx, u.ID); errors.Is(getErr, ErrNotFound) {
			return ErrNotFound
		}
		return ErrConflict
	}
	return nil
}

// --- helpers ---

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func marshalStrings(in []string) (any, error) {
	if len(in) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func marshalInts(in []int) (any, error) {
	if len(in) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}
