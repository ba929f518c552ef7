package engine

import (
	"context"
	"database/sql"

	"agentmarket/internal/domain"
	"agentmarket/internal/events"
	"agentmarket/internal/repo"
)

// SubmitMilestone marks work on a milestone as delivered. The assigned agent
// submits; pending and revision_requested milestones are eligible.
func (e Engine) SubmitMilestone(ctx context.Context, jobID, milestoneID int64, actor, notes string) (domain.Milestone, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Milestone{}, err
	}
	defer tx.Rollback()

	j, m, err := e.milestoneContextTx(ctx, tx, jobID, milestoneID)
	if err != nil {
		return domain.Milestone{}, err
	}
	if j.Agent == nil || *j.Agent != actor {
		return domain.Milestone{}, newError(KindUnauthorized, "only the assigned agent may submit milestones")
	}
	if j.Status != domain.JobInProgress {
		return domain.Milestone{}, newError(KindInvalidState, "job %d is %s, milestones can only be submitted while in_progress", jobID, j.Status.Wire())
	}
	if m.Status != domain.MilestonePending && m.Status != domain.MilestoneRevisionRequested {
		return domain.Milestone{}, newError(KindInvalidState, "milestone %d is %s, only pending or revision_requested milestones can be submitted", milestoneID, m.Status.Wire())
	}
	if err := e.Repo.UpdateMilestoneStatusGuardedTx(ctx, tx, jobID, milestoneID, m.Status, domain.MilestoneSubmitted, &notes, nil); err != nil {
		if err == repo.ErrNotFound {
			return domain.Milestone{}, newError(KindInvalidState, "milestone %d changed state concurrently", milestoneID)
		}
		return domain.Milestone{}, err
	}
	if err := e.writer().Append(ctx, tx, "milestone.submitted", "milestone", milestoneKey(jobID, milestoneID), actor, events.EventPayload{
		"job_id": jobID,
	}); err != nil {
		return domain.Milestone{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Milestone{}, err
	}
	m.Status = domain.MilestoneSubmitted
	m.SubmissionNotes = notes
	return m, nil
}

// ApproveMilestone accepts submitted work and releases the milestone's share
// of escrow to the agent in the same transaction.
func (e Engine) ApproveMilestone(ctx context.Context, jobID, milestoneID int64, actor string) (domain.Milestone, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Milestone{}, err
	}
	defer tx.Rollback()

	j, m, err := e.milestoneContextTx(ctx, tx, jobID, milestoneID)
	if err != nil {
		return domain.Milestone{}, err
	}
	if j.Client != actor {
		return domain.Milestone{}, newError(KindUnauthorized, "only the posting client may approve milestones")
	}
	if j.Status != domain.JobInProgress {
		return domain.Milestone{}, newError(KindInvalidState, "job %d is %s, milestones can only be approved while in_progress", jobID, j.Status.Wire())
	}
	if m.Status != domain.MilestoneSubmitted {
		return domain.Milestone{}, newError(KindInvalidState, "milestone %d is %s, only submitted milestones can be approved", milestoneID, m.Status.Wire())
	}
	if err := e.Repo.UpdateMilestoneStatusGuardedTx(ctx, tx, jobID, milestoneID, domain.MilestoneSubmitted, domain.MilestoneApproved, nil, nil); err != nil {
		if err == repo.ErrNotFound {
			return domain.Milestone{}, newError(KindInvalidState, "milestone %d changed state concurrently", milestoneID)
		}
		return domain.Milestone{}, err
	}
	released, err := e.releaseMilestoneShareTx(ctx, tx, j, m.PaymentPercentage)
	if err != nil {
		return domain.Milestone{}, err
	}
	if err := e.writer().Append(ctx, tx, "milestone.approved", "milestone", milestoneKey(jobID, milestoneID), actor, events.EventPayload{
		"job_id":   jobID,
		"released": released.String(),
	}); err != nil {
		return domain.Milestone{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Milestone{}, err
	}
	m.Status = domain.MilestoneApproved
	return m, nil
}

// RequestMilestoneRevision sends submitted work back to the agent with
// feedback. The milestone becomes eligible for resubmission.
func (e Engine) RequestMilestoneRevision(ctx context.Context, jobID, milestoneID int64, actor, feedback string) (domain.Milestone, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Milestone{}, err
	}
	defer tx.Rollback()

	j, m, err := e.milestoneContextTx(ctx, tx, jobID, milestoneID)
	if err != nil {
		return domain.Milestone{}, err
	}
	if j.Client != actor {
		return domain.Milestone{}, newError(KindUnauthorized, "only the posting client may request revisions")
	}
	if j.Status != domain.JobInProgress {
		return domain.Milestone{}, newError(KindInvalidState, "job %d is %s, revisions can only be requested while in_progress", jobID, j.Status.Wire())
	}
	if m.Status != domain.MilestoneSubmitted {
		return domain.Milestone{}, newError(KindInvalidState, "milestone %d is %s, only submitted milestones can be sent back", milestoneID, m.Status.Wire())
	}
	if err := e.Repo.UpdateMilestoneStatusGuardedTx(ctx, tx, jobID, milestoneID, domain.MilestoneSubmitted, domain.MilestoneRevisionRequested, nil, &feedback); err != nil {
		if err == repo.ErrNotFound {
			return domain.Milestone{}, newError(KindInvalidState, "milestone %d changed state concurrently", milestoneID)
		}
		return domain.Milestone{}, err
	}
	if err := e.writer().Append(ctx, tx, "milestone.revision_requested", "milestone", milestoneKey(jobID, milestoneID), actor, events.EventPayload{
		"job_id": jobID,
	}); err != nil {
		return domain.Milestone{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Milestone{}, err
	}
	m.Status = domain.MilestoneRevisionRequested
	m.RevisionFeedback = feedback
	return m, nil
}

func (e Engine) milestoneContextTx(ctx context.Context, tx *sql.Tx, jobID, milestoneID int64) (domain.Job, domain.Milestone, error) {
	j, err := e.Repo.GetJobTx(ctx, tx, jobID)
	if err != nil {
		if err == repo.ErrNotFound {
			return domain.Job{}, domain.Milestone{}, newError(KindNotFound, "job %d not found", jobID)
		}
		return domain.Job{}, domain.Milestone{}, err
	}
	m, err := e.Repo.GetMilestoneTx(ctx, tx, jobID, milestoneID)
	if err != nil {
		if err == repo.ErrNotFound {
			return domain.Job{}, domain.Milestone{}, newError(KindNotFound, "milestone %d not found on job %d", milestoneID, jobID)
		}
		return domain.Job{}, domain.Milestone{}, err
	}
	return j, m, nil
}

func milestoneKey(jobID, milestoneID int64) string {
	return itoa(jobID) + ":" + itoa(milestoneID)
}
