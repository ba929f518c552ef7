package repo

import (
	"context"
	"database/sql"
	"strings"

	"agentmarket/internal/domain"
)

const disputeColumns = `id,job_id,initiator,reason,status,response,resolution_notes,refund_percentage,created_at,resolved_at`

func (r Repo) InsertDisputeTx(ctx context.Context, tx *sql.Tx, d domain.Dispute) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO disputes(`+disputeColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		d.ID, d.JobID, d.Initiator, d.Reason, string(d.Status), d.Response, d.ResolutionNotes,
		d.RefundPercentage, d.CreatedAt, nullablePtr(d.ResolvedAt))
	return err
}

func scanDispute(scan func(dest ...any) error) (domain.Dispute, error) {
	var (
		d          domain.Dispute
		status     string
		refundPct  sql.NullInt64
		resolvedAt sql.NullString
	)
	err := scan(&d.ID, &d.JobID, &d.Initiator, &d.Reason, &status, &d.Response, &d.ResolutionNotes,
		&refundPct, &d.CreatedAt, &resolvedAt)
	if err == sql.ErrNoRows {
		return d, ErrNotFound
	}
	if err != nil {
		return d, err
	}
	d.Status = domain.DisputeStatus(status)
	if refundPct.Valid {
		v := refundPct.Int64
		d.RefundPercentage = &v
	}
	d.ResolvedAt = optionalString(resolvedAt)
	return d, nil
}

func (r Repo) GetDispute(ctx context.Context, id int64) (domain.Dispute, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+disputeColumns+` FROM disputes WHERE id=?`, id)
	return scanDispute(row.Scan)
}

func (r Repo) GetDisputeTx(ctx context.Context, tx *sql.Tx, id int64) (domain.Dispute, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+disputeColumns+` FROM disputes WHERE id=?`, id)
	return scanDispute(row.Scan)
}

// DisputeFilter narrows ListDisputes.
type DisputeFilter struct {
	JobID  *int64
	Status *domain.DisputeStatus
	Limit  int
	Offset int
}

func (r Repo) ListDisputes(ctx context.Context, f DisputeFilter) ([]domain.Dispute, error) {
	var (
		conds []string
		args  []any
	)
	if f.JobID != nil {
		conds = append(conds, "job_id=?")
		args = append(args, *f.JobID)
	}
	if f.Status != nil {
		conds = append(conds, "status=?")
		args = append(args, string(*f.Status))
	}
	where := ""
	if len(conds) > 0 {
		where = "WHERE " + strings.Join(conds, " AND ")
	}
	args = append(args, f.Limit, f.Offset)
	rows, err := r.DB.QueryContext(ctx,
		`SELECT `+disputeColumns+` FROM disputes `+where+` ORDER BY id DESC LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Dispute
	for rows.Next() {
		d, err := scanDispute(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

func (r Repo) SetDisputeResponseTx(ctx context.Context, tx *sql.Tx, id int64, response string) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE disputes SET status='responded', response=? WHERE id=? AND status='open'`, response, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) ResolveDisputeTx(ctx context.Context, tx *sql.Tx, id int64, outcome domain.DisputeStatus, notes string, refundPct *int64, resolvedAt string) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE disputes SET status=?, resolution_notes=?, refund_percentage=?, resolved_at=? WHERE id=? AND status IN ('open','responded')`,
		string(outcome), notes, refundPct, resolvedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
