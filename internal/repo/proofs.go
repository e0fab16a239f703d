package repo

import (
	"context"
	"database/sql"

	"trackline/internal/domain"
)

const proofColumns = `id,unit_id,type,approval,uploaded_by,decided_by,decided_at,reject_reason,superseded,superseded_by,valid,created_at`

func (r Repo) InsertProof(ctx context.Context, tx *sql.Tx, p domain.Proof) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO proofs(`+proofColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		p.ID, p.UnitID, p.Type, p.Approval, p.UploadedBy, nullableStringPtr(p.DecidedBy), nullableStringPtr(p.DecidedAt),
		nullable(p.RejectReason), boolInt(p.Superseded), nullableStringPtr(p.SupersededBy), boolInt(p.Valid), p.CreatedAt)
	return err
}

func scanProof(scan func(dest ...any) error) (domain.Proof, error) {
	var p domain.Proof
	var decidedBy, decidedAt, rejectReason, supersededBy sql.NullString
	var superseded, valid int
	err := scan(&p.ID, &p.UnitID, &p.Type, &p.Approval, &p.UploadedBy, &decidedBy, &decidedAt,
		&rejectReason, &superseded, &supersededBy, &valid, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	if decidedBy.Valid {
		p.DecidedBy = &decidedBy.String
	}
	if decidedAt.Valid {
		p.DecidedAt = &decidedAt.String
	}
	if rejectReason.Valid {
		p.RejectReason = rejectReason.String
	}
	if supersededBy.Valid {
		p.SupersededBy = &supersededBy.String
	}
	p.Superseded = superseded != 0
	p.Valid = valid != 0
	return p, nil
}

func (r Repo) GetProof(ctx context.Context, id string) (domain.Proof, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+proofColumns+` FROM proofs WHERE id=?`, id)
	return scanProof(row.Scan)
}

func (r Repo) GetProofTx(ctx context.Context, tx *sql.Tx, id string) (domain.Proof, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+proofColumns+` FROM proofs WHERE id=?`, id)
	return scanProof(row.Scan)
}

func (r Repo) ListUnitProofs(ctx context.Context, unitID string) ([]domain.Proof, error) {
	return r.listUnitProofs(ctx, r.DB.QueryContext, unitID)
}

func (r Repo) ListUnitProofsTx(ctx context.Context, tx *sql.Tx, unitID string) ([]domain.Proof, error) {
	return r.listUnitProofs(ctx, tx.QueryContext, unitID)
}

type queryFn func(ctx context.Context, query string, args ...any) (*sql.Rows, error)

func (r Repo) listUnitProofs(ctx context.Context, query queryFn, unitID string) ([]domain.Proof, error) {
	rows, err := query(ctx, `SELECT `+proofColumns+` FROM proofs WHERE unit_id=? ORDER BY created_at ASC, id ASC`, unitID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Proof
	for rows.Next() {
		p, err := scanProof(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// UpdateProofDecision writes the approve/reject outcome for a pending proof.
func (r Repo) UpdateProofDecision(ctx context.Context, tx *sql.Tx, p domain.Proof) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE proofs SET approval=?, decided_by=?, decided_at=?, reject_reason=? WHERE id=? AND approval=?`,
		p.Approval, nullableStringPtr(p.DecidedBy), nullableStringPtr(p.DecidedAt), nullable(p.RejectReason),
		p.ID, domain.ProofPending)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrConflict
	}
	return nil
}

// SupersedePriorProofs marks the previously-approved, non-superseded
// proofs of the same type on the unit as superseded by the given proof.
// Runs inside the decision transaction so there is never a window with
// two active approved proofs for one type slot.
func (r Repo) SupersedePriorProofs(ctx context.Context, tx *sql.Tx, unitID, proofType, newProofID string) (int64, error) {
	res, err := tx.ExecContext(ctx,
		`UPDATE proofs SET superseded=1, superseded_by=? WHERE unit_id=? AND type=? AND approval=? AND superseded=0 AND id!=?`,
		newProofID, unitID, proofType, domain.ProofApproved, newProofID)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return n, nil
}
