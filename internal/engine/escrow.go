package engine

import (
	"context"
	"database/sql"
	"strconv"

	"github.com/shopspring/decimal"

	"agentmarket/internal/domain"
	"agentmarket/internal/events"
	"agentmarket/internal/repo"
)

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}

// lockEscrowTx funds the escrow for the accepted amount. The escrow row was
// created unfunded at post time; amount is rewritten to the accepted bid.
func (e Engine) lockEscrowTx(ctx context.Context, tx *sql.Tx, jobID int64, agent string, amount decimal.Decimal) error {
	esc, err := e.Repo.GetEscrowTx(ctx, tx, jobID)
	if err != nil {
		if err == repo.ErrNotFound {
			return newError(KindNotFound, "escrow for job %d not found", jobID)
		}
		return err
	}
	if esc.Status != domain.EscrowUnfunded {
		return newError(KindAlreadyFunded, "escrow for job %d is already %s", jobID, esc.Status.Wire())
	}
	now := e.nowString()
	esc.Agent = &agent
	esc.Amount = amount
	esc.Status = domain.EscrowLocked
	esc.LockedAt = &now
	return e.Repo.UpdateEscrowTx(ctx, tx, esc)
}

// releaseRemainingTx pays out whatever locked balance is left. Returns the
// amount released; zero when the escrow was never funded.
func (e Engine) releaseRemainingTx(ctx context.Context, tx *sql.Tx, jobID int64) (decimal.Decimal, error) {
	esc, err := e.Repo.GetEscrowTx(ctx, tx, jobID)
	if err != nil {
		if err == repo.ErrNotFound {
			return decimal.Zero, newError(KindNotFound, "escrow for job %d not found", jobID)
		}
		return decimal.Zero, err
	}
	if !esc.Status.Active() {
		return decimal.Zero, nil
	}
	remaining := esc.Remaining()
	now := e.nowString()
	esc.Released = esc.Released.Add(remaining)
	esc.Status = closedEscrowStatus(esc)
	esc.ReleasedAt = &now
	if err := e.Repo.UpdateEscrowTx(ctx, tx, esc); err != nil {
		return decimal.Zero, err
	}
	return remaining, nil
}

// closedEscrowStatus picks the terminal status once Remaining reaches zero.
func closedEscrowStatus(esc domain.EscrowRecord) domain.EscrowStatus {
	if esc.Released.IsZero() {
		return domain.EscrowRefunded
	}
	return domain.EscrowReleased
}

// FundEscrow re-locks an in_progress job whose escrow is still unfunded.
// Recovery path for jobs assigned before funding succeeded.
func (e Engine) FundEscrow(ctx context.Context, jobID int64, actor string) (domain.EscrowRecord, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.EscrowRecord{}, err
	}
	defer tx.Rollback()

	j, err := e.Repo.GetJobTx(ctx, tx, jobID)
	if err != nil {
		if err == repo.ErrNotFound {
			return domain.EscrowRecord{}, newError(KindNotFound, "job %d not found", jobID)
		}
		return domain.EscrowRecord{}, err
	}
	if j.Client != actor {
		return domain.EscrowRecord{}, newError(KindUnauthorized, "only the posting client may fund escrow")
	}
	if j.Status != domain.JobInProgress || j.Agent == nil {
		return domain.EscrowRecord{}, newError(KindInvalidState, "job %d is %s, escrow funding needs an in_progress job", jobID, j.Status.Wire())
	}
	amount := j.Payment
	if j.AcceptedBidAmount != nil {
		amount = *j.AcceptedBidAmount
	}
	if err := e.lockEscrowTx(ctx, tx, jobID, *j.Agent, amount); err != nil {
		return domain.EscrowRecord{}, err
	}
	if err := e.writer().Append(ctx, tx, "escrow.locked", "job", itoa(jobID), actor, events.EventPayload{
		"amount": amount.String(),
	}); err != nil {
		return domain.EscrowRecord{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.EscrowRecord{}, err
	}
	return e.Repo.GetEscrow(ctx, jobID)
}

// ReleaseEscrow lets the client voluntarily release part of the locked
// balance to the agent ahead of completion.
func (e Engine) ReleaseEscrow(ctx context.Context, jobID int64, actor string, amount decimal.Decimal) (domain.EscrowRecord, error) {
	if !amount.IsPositive() {
		return domain.EscrowRecord{}, newError(KindInvalidAmount, "release amount must be positive, got %s", amount)
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.EscrowRecord{}, err
	}
	defer tx.Rollback()

	j, err := e.Repo.GetJobTx(ctx, tx, jobID)
	if err != nil {
		if err == repo.ErrNotFound {
			return domain.EscrowRecord{}, newError(KindNotFound, "job %d not found", jobID)
		}
		return domain.EscrowRecord{}, err
	}
	// Once a dispute is open the resolver owns escrow disposition.
	if j.Status != domain.JobInProgress {
		return domain.EscrowRecord{}, newError(KindInvalidState, "job %d is %s, escrow can only be released while in_progress", jobID, j.Status.Wire())
	}
	esc, err := e.Repo.GetEscrowTx(ctx, tx, jobID)
	if err != nil {
		if err == repo.ErrNotFound {
			return domain.EscrowRecord{}, newError(KindNotFound, "escrow for job %d not found", jobID)
		}
		return domain.EscrowRecord{}, err
	}
	if esc.Client != actor {
		return domain.EscrowRecord{}, newError(KindUnauthorized, "only the posting client may release escrow")
	}
	if !esc.Status.Active() {
		return domain.EscrowRecord{}, newError(KindInvalidState, "escrow for job %d is %s, nothing to release", jobID, esc.Status.Wire())
	}
	remaining := esc.Remaining()
	if amount.GreaterThan(remaining) {
		return domain.EscrowRecord{}, newError(KindInsufficientEscrow, "release %s exceeds remaining balance %s", amount, remaining)
	}
	now := e.nowString()
	esc.Released = esc.Released.Add(amount)
	if esc.Remaining().IsZero() {
		esc.Status = closedEscrowStatus(esc)
		esc.ReleasedAt = &now
	} else {
		esc.Status = domain.EscrowPartiallyReleased
	}
	if err := e.Repo.UpdateEscrowTx(ctx, tx, esc); err != nil {
		return domain.EscrowRecord{}, err
	}
	if err := e.writer().Append(ctx, tx, "escrow.released", "job", itoa(jobID), actor, events.EventPayload{
		"amount":    amount.String(),
		"remaining": esc.Remaining().String(),
	}); err != nil {
		return domain.EscrowRecord{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.EscrowRecord{}, err
	}
	return esc, nil
}

// splitEscrowTx settles locked funds per the refund percentage; the refunded
// share goes back to the client and the rest to the agent. Conservation
// holds: refund + payout equals the remaining balance exactly.
func (e Engine) splitEscrowTx(ctx context.Context, tx *sql.Tx, jobID int64, refundPct int64) (refund, payout decimal.Decimal, err error) {
	esc, err := e.Repo.GetEscrowTx(ctx, tx, jobID)
	if err != nil {
		if err == repo.ErrNotFound {
			return decimal.Zero, decimal.Zero, newError(KindNotFound, "escrow for job %d not found", jobID)
		}
		return decimal.Zero, decimal.Zero, err
	}
	if !esc.Status.Active() {
		return decimal.Zero, decimal.Zero, nil
	}
	remaining := esc.Remaining()
	refund = remaining.Mul(decimal.NewFromInt(refundPct)).Div(decimal.NewFromInt(100))
	payout = remaining.Sub(refund)
	now := e.nowString()
	esc.Refunded = esc.Refunded.Add(refund)
	esc.Released = esc.Released.Add(payout)
	esc.Status = closedEscrowStatus(esc)
	esc.ReleasedAt = &now
	if err := e.Repo.UpdateEscrowTx(ctx, tx, esc); err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	return refund, payout, nil
}

// releaseMilestoneShareTx pays the milestone's percentage of the accepted
// amount, clamped to the remaining balance so rounding never overdraws.
func (e Engine) releaseMilestoneShareTx(ctx context.Context, tx *sql.Tx, j domain.Job, pct int64) (decimal.Decimal, error) {
	esc, err := e.Repo.GetEscrowTx(ctx, tx, j.ID)
	if err != nil {
		if err == repo.ErrNotFound {
			return decimal.Zero, newError(KindNotFound, "escrow for job %d not found", j.ID)
		}
		return decimal.Zero, err
	}
	if !esc.Status.Active() {
		return decimal.Zero, nil
	}
	basis := j.Payment
	if j.AcceptedBidAmount != nil {
		basis = *j.AcceptedBidAmount
	}
	share := basis.Mul(decimal.NewFromInt(pct)).Div(decimal.NewFromInt(100))
	if remaining := esc.Remaining(); share.GreaterThan(remaining) {
		share = remaining
	}
	esc.Released = esc.Released.Add(share)
	if esc.Remaining().IsZero() {
		now := e.nowString()
		esc.Status = closedEscrowStatus(esc)
		esc.ReleasedAt = &now
	} else {
		esc.Status = domain.EscrowPartiallyReleased
	}
	if err := e.Repo.UpdateEscrowTx(ctx, tx, esc); err != nil {
		return decimal.Zero, err
	}
	return share, nil
}
