package repo

import (
	"context"
	"database/sql"

	"agentmarket/internal/domain"
)

const milestoneColumns = `job_id,id,title,description,payment_percentage,status,due_date,submission_notes,revision_feedback`

func (r Repo) InsertMilestoneTx(ctx context.Context, tx *sql.Tx, m domain.Milestone) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO milestones(`+milestoneColumns+`) VALUES (?,?,?,?,?,?,?,?,?)`,
		m.JobID, m.ID, m.Title, m.Description, m.PaymentPercentage, string(m.Status),
		nullablePtr(m.DueDate), m.SubmissionNotes, m.RevisionFeedback)
	return err
}

func scanMilestone(scan func(dest ...any) error) (domain.Milestone, error) {
	var (
		m       domain.Milestone
		status  string
		dueDate sql.NullString
	)
	err := scan(&m.JobID, &m.ID, &m.Title, &m.Description, &m.PaymentPercentage, &status,
		&dueDate, &m.SubmissionNotes, &m.RevisionFeedback)
	if err == sql.ErrNoRows {
		return m, ErrNotFound
	}
	if err != nil {
		return m, err
	}
	m.Status = domain.MilestoneStatus(status)
	m.DueDate = optionalString(dueDate)
	return m, nil
}

func (r Repo) GetMilestoneTx(ctx context.Context, tx *sql.Tx, jobID, id int64) (domain.Milestone, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+milestoneColumns+` FROM milestones WHERE job_id=? AND id=?`, jobID, id)
	return scanMilestone(row.Scan)
}

func (r Repo) ListMilestones(ctx context.Context, jobID int64) ([]domain.Milestone, error) {
	return listMilestones(ctx, r.DB, jobID)
}

func listMilestones(ctx context.Context, q querier, jobID int64) ([]domain.Milestone, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+milestoneColumns+` FROM milestones WHERE job_id=? ORDER BY id`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Milestone
	for rows.Next() {
		m, err := scanMilestone(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

// CountOpenMilestonesTx counts a job's milestones not yet approved.
func (r Repo) CountOpenMilestonesTx(ctx context.Context, tx *sql.Tx, jobID int64) (int64, error) {
	var n int64
	err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM milestones WHERE job_id=? AND status<>?`,
		jobID, string(domain.MilestoneApproved)).Scan(&n)
	return n, err
}

// UpdateMilestoneStatusGuardedTx transitions a milestone only from the
// expected status, recording notes or feedback for the new state.
func (r Repo) UpdateMilestoneStatusGuardedTx(ctx context.Context, tx *sql.Tx, jobID, id int64, from, to domain.MilestoneStatus, notes, feedback *string) error {
	q := `UPDATE milestones SET status=?`
	args := []any{string(to)}
	if notes != nil {
		q += `, submission_notes=?`
		args = append(args, *notes)
	}
	if feedback != nil {
		q += `, revision_feedback=?`
		args = append(args, *feedback)
	}
	q += ` WHERE job_id=? AND id=? AND status=?`
	args = append(args, jobID, id, string(from))
	res, err := tx.ExecContext(ctx, q, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
