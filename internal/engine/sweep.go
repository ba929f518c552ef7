package engine

import (
	"context"
	"database/sql"
	"time"

	"agentmarket/internal/events"
)

// SweepOverdueJobs appends an overdue event for every in_progress job whose
// deadline has passed. Job state is untouched; the parties decide whether to
// dispute or extend. Returns the ids flagged in this pass.
func (e Engine) SweepOverdueJobs(ctx context.Context) ([]int64, error) {
	now := e.now().UTC().Format(time.RFC3339)
	jobs, err := e.Repo.ListOverdueJobs(ctx, now)
	if err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return nil, nil
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var flagged []int64
	for _, j := range jobs {
		already, err := e.overdueFlaggedTx(ctx, tx, j.ID)
		if err != nil {
			return nil, err
		}
		if already {
			continue
		}
		if err := e.writer().Append(ctx, tx, "job.deadline.overdue", "job", itoa(j.ID), "", events.EventPayload{
			"deadline": *j.Deadline,
		}); err != nil {
			return nil, err
		}
		flagged = append(flagged, j.ID)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return flagged, nil
}

func (e Engine) overdueFlaggedTx(ctx context.Context, tx *sql.Tx, jobID int64) (bool, error) {
	var n int64
	err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM events WHERE type='job.deadline.overdue' AND entity_kind='job' AND entity_id=?`,
		itoa(jobID)).Scan(&n)
	return n > 0, err
}
