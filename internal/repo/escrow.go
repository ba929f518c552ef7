package repo

import (
	"context"
	"database/sql"

	"agentmarket/internal/domain"
)

const escrowColumns = `job_id,client,agent,amount,released,refunded,status,locked_at,released_at`

func (r Repo) InsertEscrowTx(ctx context.Context, tx *sql.Tx, e domain.EscrowRecord) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO escrows(`+escrowColumns+`) VALUES (?,?,?,?,?,?,?,?,?)`,
		e.JobID, e.Client, nullablePtr(e.Agent), e.Amount, e.Released, e.Refunded,
		string(e.Status), nullablePtr(e.LockedAt), nullablePtr(e.ReleasedAt))
	return err
}

func scanEscrow(scan func(dest ...any) error) (domain.EscrowRecord, error) {
	var (
		e          domain.EscrowRecord
		agent      sql.NullString
		status     string
		lockedAt   sql.NullString
		releasedAt sql.NullString
	)
	err := scan(&e.JobID, &e.Client, &agent, &e.Amount, &e.Released, &e.Refunded, &status, &lockedAt, &releasedAt)
	if err == sql.ErrNoRows {
		return e, ErrNotFound
	}
	if err != nil {
		return e, err
	}
	e.Agent = optionalString(agent)
	e.Status = domain.EscrowStatus(status)
	e.LockedAt = optionalString(lockedAt)
	e.ReleasedAt = optionalString(releasedAt)
	return e, nil
}

func (r Repo) GetEscrow(ctx context.Context, jobID int64) (domain.EscrowRecord, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+escrowColumns+` FROM escrows WHERE job_id=?`, jobID)
	return scanEscrow(row.Scan)
}

func (r Repo) GetEscrowTx(ctx context.Context, tx *sql.Tx, jobID int64) (domain.EscrowRecord, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+escrowColumns+` FROM escrows WHERE job_id=?`, jobID)
	return scanEscrow(row.Scan)
}

// ListActiveEscrows returns escrows that still hold funds.
func (r Repo) ListActiveEscrows(ctx context.Context) ([]domain.EscrowRecord, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT `+escrowColumns+` FROM escrows WHERE status IN (?,?) ORDER BY job_id`,
		string(domain.EscrowLocked), string(domain.EscrowPartiallyReleased))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.EscrowRecord
	for rows.Next() {
		e, err := scanEscrow(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func (r Repo) UpdateEscrowTx(ctx context.Context, tx *sql.Tx, e domain.EscrowRecord) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE escrows SET agent=?, amount=?, released=?, refunded=?, status=?, locked_at=?, released_at=? WHERE job_id=?`,
		nullablePtr(e.Agent), e.Amount, e.Released, e.Refunded, string(e.Status),
		nullablePtr(e.LockedAt), nullablePtr(e.ReleasedAt), e.JobID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
