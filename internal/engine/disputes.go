package engine

import (
	"context"
	"strings"

	"agentmarket/internal/domain"
	"agentmarket/internal/events"
	"agentmarket/internal/repo"
)

// OpenDispute freezes an in_progress job pending arbitration. Either party
// may initiate; at most one unresolved dispute per job.
func (e Engine) OpenDispute(ctx context.Context, jobID int64, actor, reason string) (domain.Dispute, error) {
	if strings.TrimSpace(reason) == "" {
		return domain.Dispute{}, newError(KindInvalidAmount, "dispute reason is required")
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Dispute{}, err
	}
	defer tx.Rollback()

	j, err := e.Repo.GetJobTx(ctx, tx, jobID)
	if err != nil {
		if err == repo.ErrNotFound {
			return domain.Dispute{}, newError(KindNotFound, "job %d not found", jobID)
		}
		return domain.Dispute{}, err
	}
	if actor != j.Client && (j.Agent == nil || actor != *j.Agent) {
		return domain.Dispute{}, newError(KindUnauthorized, "only the client or assigned agent may open a dispute")
	}
	if j.Status != domain.JobInProgress {
		return domain.Dispute{}, newError(KindInvalidState, "job %d is %s, only in_progress jobs can be disputed", jobID, j.Status.Wire())
	}
	if err := e.Repo.UpdateJobStatusGuardedTx(ctx, tx, jobID, domain.JobInProgress, domain.JobDisputed); err != nil {
		if err == repo.ErrNotFound {
			return domain.Dispute{}, newError(KindInvalidState, "job %d changed state concurrently", jobID)
		}
		return domain.Dispute{}, err
	}
	id, err := e.Repo.NextSeq(ctx, tx, repo.SeqDisputes)
	if err != nil {
		return domain.Dispute{}, err
	}
	d := domain.Dispute{
		ID:        id,
		JobID:     jobID,
		Initiator: actor,
		Reason:    reason,
		Status:    domain.DisputeOpen,
		CreatedAt: e.nowString(),
	}
	if err := e.Repo.InsertDisputeTx(ctx, tx, d); err != nil {
		return domain.Dispute{}, err
	}
	if err := e.writer().Append(ctx, tx, "dispute.opened", "dispute", itoa(id), actor, events.EventPayload{
		"job_id": jobID,
		"reason": reason,
	}); err != nil {
		return domain.Dispute{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Dispute{}, err
	}
	return d, nil
}

// RespondToDispute records the counterparty's side of the story.
func (e Engine) RespondToDispute(ctx context.Context, disputeID int64, actor, response string) (domain.Dispute, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Dispute{}, err
	}
	defer tx.Rollback()

	d, err := e.Repo.GetDisputeTx(ctx, tx, disputeID)
	if err != nil {
		if err == repo.ErrNotFound {
			return domain.Dispute{}, newError(KindNotFound, "dispute %d not found", disputeID)
		}
		return domain.Dispute{}, err
	}
	if d.Status.Resolved() {
		return domain.Dispute{}, newError(KindAlreadyResolved, "dispute %d is already resolved", disputeID)
	}
	j, err := e.Repo.GetJobTx(ctx, tx, d.JobID)
	if err != nil {
		return domain.Dispute{}, err
	}
	if actor == d.Initiator {
		return domain.Dispute{}, newError(KindUnauthorized, "the initiator cannot respond to their own dispute")
	}
	if actor != j.Client && (j.Agent == nil || actor != *j.Agent) {
		return domain.Dispute{}, newError(KindUnauthorized, "only a party to the job may respond")
	}
	if err := e.Repo.SetDisputeResponseTx(ctx, tx, disputeID, response); err != nil {
		if err == repo.ErrNotFound {
			return domain.Dispute{}, newError(KindInvalidState, "dispute %d is %s, responses are only accepted while open", disputeID, d.Status.Wire())
		}
		return domain.Dispute{}, err
	}
	if err := e.writer().Append(ctx, tx, "dispute.responded", "dispute", itoa(disputeID), actor, nil); err != nil {
		return domain.Dispute{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Dispute{}, err
	}
	d.Status = domain.DisputeResponded
	d.Response = response
	return d, nil
}

// DisputeResolveOptions are arbitration parameters. Admin reflects the
// caller's role; the config admin list is also honored.
type DisputeResolveOptions struct {
	DisputeID        int64
	Actor            string
	Admin            bool
	Outcome          domain.DisputeStatus
	Notes            string
	RefundPercentage *int64
}

// ResolveDispute settles escrow and closes the job. Resolved for the client
// refunds everything remaining; for the agent it pays out everything; a
// split divides by the given percentage. Resolution is final.
func (e Engine) ResolveDispute(ctx context.Context, opts DisputeResolveOptions) (domain.Dispute, error) {
	if !opts.Admin && (e.Config == nil || !e.Config.IsDisputeAdmin(opts.Actor)) {
		return domain.Dispute{}, newError(KindUnauthorized, "only dispute admins may resolve disputes")
	}
	if !opts.Outcome.Resolved() {
		return domain.Dispute{}, newError(KindInvalidState, "outcome %q is not a resolution", string(opts.Outcome))
	}
	var refundPct int64
	switch opts.Outcome {
	case domain.DisputeResolvedForClient:
		refundPct = 100
	case domain.DisputeResolvedForAgent:
		refundPct = 0
	case domain.DisputeResolvedSplit:
		if opts.RefundPercentage == nil {
			return domain.Dispute{}, newError(KindInvalidAmount, "refund percentage is required for a split resolution")
		}
		refundPct = *opts.RefundPercentage
		if refundPct < 0 || refundPct > 100 {
			return domain.Dispute{}, newError(KindInvalidAmount, "refund percentage must be in 0..100, got %d", refundPct)
		}
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Dispute{}, err
	}
	defer tx.Rollback()

	d, err := e.Repo.GetDisputeTx(ctx, tx, opts.DisputeID)
	if err != nil {
		if err == repo.ErrNotFound {
			return domain.Dispute{}, newError(KindNotFound, "dispute %d not found", opts.DisputeID)
		}
		return domain.Dispute{}, err
	}
	if d.Status.Resolved() {
		return domain.Dispute{}, newError(KindAlreadyResolved, "dispute %d is already resolved", opts.DisputeID)
	}
	j, err := e.Repo.GetJobTx(ctx, tx, d.JobID)
	if err != nil {
		return domain.Dispute{}, err
	}
	resolvedAt := e.nowString()
	if err := e.Repo.ResolveDisputeTx(ctx, tx, opts.DisputeID, opts.Outcome, opts.Notes, &refundPct, resolvedAt); err != nil {
		if err == repo.ErrNotFound {
			return domain.Dispute{}, newError(KindAlreadyResolved, "dispute %d was resolved concurrently", opts.DisputeID)
		}
		return domain.Dispute{}, err
	}
	refund, payout, err := e.splitEscrowTx(ctx, tx, d.JobID, refundPct)
	if err != nil {
		return domain.Dispute{}, err
	}

	final := domain.JobCompleted
	if opts.Outcome == domain.DisputeResolvedForClient {
		final = domain.JobCancelled
	}
	if err := e.Repo.UpdateJobStatusGuardedTx(ctx, tx, d.JobID, domain.JobDisputed, final); err != nil {
		if err == repo.ErrNotFound {
			return domain.Dispute{}, newError(KindInvalidState, "job %d changed state concurrently", d.JobID)
		}
		return domain.Dispute{}, err
	}
	if final == domain.JobCompleted && j.Agent != nil {
		if err := e.Repo.IncrementJobsCompletedTx(ctx, tx, *j.Agent); err != nil {
			return domain.Dispute{}, err
		}
	}
	if err := e.writer().Append(ctx, tx, "dispute.resolved", "dispute", itoa(opts.DisputeID), opts.Actor, events.EventPayload{
		"job_id":  d.JobID,
		"outcome": opts.Outcome.Wire(),
		"refund":  refund.String(),
		"payout":  payout.String(),
	}); err != nil {
		return domain.Dispute{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Dispute{}, err
	}
	d.Status = opts.Outcome
	d.ResolutionNotes = opts.Notes
	d.RefundPercentage = &refundPct
	d.ResolvedAt = &resolvedAt
	return d, nil
}
