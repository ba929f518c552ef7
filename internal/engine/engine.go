package engine

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"agentmarket/internal/config"
	"agentmarket/internal/domain"
	"agentmarket/internal/events"
	"agentmarket/internal/repo"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) nowString() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) writer() events.Writer {
	w := e.Events
	if w.Now == nil {
		w.Now = e.Now
	}
	return w
}

// JobPostOptions are parameters for posting a job.
type JobPostOptions struct {
	Client      string
	Title       string
	Description string
	Payment     decimal.Decimal
	Category    string
	Tags        []string
	Deadline    *string
	Milestones  []MilestoneSpec
}

// MilestoneSpec describes one milestone at job-post time.
type MilestoneSpec struct {
	Title             string
	Description       string
	PaymentPercentage int64
	DueDate           *string
}

// PostJob records a new job in posted status with an unfunded escrow shell.
func (e Engine) PostJob(ctx context.Context, opts JobPostOptions) (domain.Job, error) {
	if strings.TrimSpace(opts.Title) == "" {
		return domain.Job{}, newError(KindInvalidAmount, "title is required")
	}
	if !opts.Payment.IsPositive() {
		return domain.Job{}, newError(KindInvalidAmount, "payment must be positive, got %s", opts.Payment)
	}
	if opts.Deadline != nil {
		if _, err := time.Parse(time.RFC3339, *opts.Deadline); err != nil {
			return domain.Job{}, newError(KindInvalidAmount, "deadline must be RFC3339: %v", err)
		}
	}
	if e.Config != nil {
		if len(opts.Tags) > e.Config.Limits.MaxTags {
			return domain.Job{}, newError(KindInvalidAmount, "at most %d tags allowed", e.Config.Limits.MaxTags)
		}
		if len(opts.Milestones) > e.Config.Limits.MaxMilestones {
			return domain.Job{}, newError(KindInvalidMilestones, "at most %d milestones allowed", e.Config.Limits.MaxMilestones)
		}
		if !e.Config.KnownCategory(opts.Category) {
			return domain.Job{}, newError(KindInvalidAmount, "unknown category %q", opts.Category)
		}
	}
	if err := validateMilestoneSpecs(opts.Milestones); err != nil {
		return domain.Job{}, err
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Job{}, err
	}
	defer tx.Rollback()

	id, err := e.Repo.NextSeq(ctx, tx, repo.SeqJobs)
	if err != nil {
		return domain.Job{}, err
	}
	now := e.nowString()
	j := domain.Job{
		ID:          id,
		Client:      opts.Client,
		Title:       strings.TrimSpace(opts.Title),
		Description: opts.Description,
		Payment:     opts.Payment,
		Status:      domain.JobPosted,
		Category:    opts.Category,
		Tags:        opts.Tags,
		Deadline:    opts.Deadline,
		CreatedAt:   now,
	}
	if err := e.Repo.InsertJobTx(ctx, tx, j); err != nil {
		return domain.Job{}, err
	}
	for i, spec := range opts.Milestones {
		m := domain.Milestone{
			JobID:             id,
			ID:                int64(i + 1),
			Title:             spec.Title,
			Description:       spec.Description,
			PaymentPercentage: spec.PaymentPercentage,
			Status:            domain.MilestonePending,
			DueDate:           spec.DueDate,
		}
		if err := e.Repo.InsertMilestoneTx(ctx, tx, m); err != nil {
			return domain.Job{}, err
		}
		j.Milestones = append(j.Milestones, m)
	}
	esc := domain.EscrowRecord{
		JobID:    id,
		Client:   opts.Client,
		Amount:   opts.Payment,
		Released: decimal.Zero,
		Refunded: decimal.Zero,
		Status:   domain.EscrowUnfunded,
	}
	if err := e.Repo.InsertEscrowTx(ctx, tx, esc); err != nil {
		return domain.Job{}, err
	}
	if err := e.writer().Append(ctx, tx, "job.posted", "job", itoa(id), opts.Client, events.EventPayload{
		"title":   j.Title,
		"payment": j.Payment.String(),
	}); err != nil {
		return domain.Job{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Job{}, err
	}
	return j, nil
}

// BidOptions are parameters for placing a bid.
type BidOptions struct {
	JobID         int64
	Agent         string
	Amount        decimal.Decimal
	Proposal      string
	EstimatedDays int
}

// PlaceBid appends an agent's offer to a posted job. Registered profile
// required; one bid per agent per job; clients cannot bid on their own jobs.
func (e Engine) PlaceBid(ctx context.Context, opts BidOptions) (domain.Bid, error) {
	if !opts.Amount.IsPositive() {
		return domain.Bid{}, newError(KindInvalidAmount, "bid amount must be positive, got %s", opts.Amount)
	}
	if strings.TrimSpace(opts.Proposal) == "" {
		return domain.Bid{}, newError(KindInvalidAmount, "bid proposal must not be empty")
	}
	if opts.EstimatedDays <= 0 {
		return domain.Bid{}, newError(KindInvalidAmount, "estimated days must be positive, got %d", opts.EstimatedDays)
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Bid{}, err
	}
	defer tx.Rollback()

	j, err := e.Repo.GetJobTx(ctx, tx, opts.JobID)
	if err != nil {
		if err == repo.ErrNotFound {
			return domain.Bid{}, newError(KindNotFound, "job %d not found", opts.JobID)
		}
		return domain.Bid{}, err
	}
	if j.Status != domain.JobPosted {
		return domain.Bid{}, newError(KindInvalidState, "job %d is %s, bids are only accepted while posted", j.ID, j.Status.Wire())
	}
	if j.Client == opts.Agent {
		return domain.Bid{}, newError(KindUnauthorized, "clients cannot bid on their own jobs")
	}
	if _, err := e.Repo.GetAgentTx(ctx, tx, opts.Agent); err != nil {
		if err == repo.ErrNotFound {
			return domain.Bid{}, newError(KindNoAgent, "agent %s is not registered", opts.Agent)
		}
		return domain.Bid{}, err
	}
	dup, err := e.Repo.HasBidTx(ctx, tx, opts.JobID, opts.Agent)
	if err != nil {
		return domain.Bid{}, err
	}
	if dup {
		return domain.Bid{}, newError(KindDuplicateBid, "agent %s has already bid on job %d", opts.Agent, opts.JobID)
	}
	if e.Config != nil && e.Config.Limits.MaxBidsPerJob > 0 {
		n, err := e.Repo.CountBidsTx(ctx, tx, opts.JobID)
		if err != nil {
			return domain.Bid{}, err
		}
		if n >= int64(e.Config.Limits.MaxBidsPerJob) {
			return domain.Bid{}, newError(KindInvalidState, "job %d already has %d bids", opts.JobID, n)
		}
	}
	maxID, err := e.Repo.MaxBidIDTx(ctx, tx, opts.JobID)
	if err != nil {
		return domain.Bid{}, err
	}
	b := domain.Bid{
		JobID:         opts.JobID,
		BidID:         maxID + 1,
		Agent:         opts.Agent,
		Amount:        opts.Amount,
		Proposal:      opts.Proposal,
		EstimatedDays: opts.EstimatedDays,
		Timestamp:     e.nowString(),
	}
	if err := e.Repo.InsertBidTx(ctx, tx, b); err != nil {
		return domain.Bid{}, err
	}
	if err := e.writer().Append(ctx, tx, "job.bid.placed", "job", itoa(opts.JobID), opts.Agent, events.EventPayload{
		"bid_id": b.BidID,
		"amount": b.Amount.String(),
	}); err != nil {
		return domain.Bid{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Bid{}, err
	}
	return b, nil
}

// AcceptBid moves a posted job to in_progress, assigns the winning agent and
// locks escrow for the accepted amount. Only the posting client may accept,
// and only once; concurrent accepts lose on the guarded update.
func (e Engine) AcceptBid(ctx context.Context, jobID, bidID int64, actor string) (domain.Job, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Job{}, err
	}
	defer tx.Rollback()

	j, err := e.Repo.GetJobTx(ctx, tx, jobID)
	if err != nil {
		if err == repo.ErrNotFound {
			return domain.Job{}, newError(KindNotFound, "job %d not found", jobID)
		}
		return domain.Job{}, err
	}
	if j.Client != actor {
		return domain.Job{}, newError(KindUnauthorized, "only the posting client may accept a bid")
	}
	if j.Status != domain.JobPosted {
		return domain.Job{}, newError(KindInvalidState, "job %d is %s, bids can only be accepted while posted", jobID, j.Status.Wire())
	}
	b, err := e.Repo.GetBidTx(ctx, tx, jobID, bidID)
	if err != nil {
		if err == repo.ErrNotFound {
			return domain.Job{}, newError(KindBidNotFound, "bid %d not found on job %d", bidID, jobID)
		}
		return domain.Job{}, err
	}
	if err := e.Repo.AssignJobAgentTx(ctx, tx, jobID, b.Agent, b.Amount); err != nil {
		if err == repo.ErrNotFound {
			return domain.Job{}, newError(KindInvalidState, "job %d was accepted concurrently", jobID)
		}
		return domain.Job{}, err
	}
	if err := e.lockEscrowTx(ctx, tx, jobID, b.Agent, b.Amount); err != nil {
		return domain.Job{}, err
	}
	if err := e.writer().Append(ctx, tx, "job.bid.accepted", "job", itoa(jobID), actor, events.EventPayload{
		"bid_id": bidID,
		"agent":  b.Agent,
		"amount": b.Amount.String(),
	}); err != nil {
		return domain.Job{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Job{}, err
	}
	return e.Repo.GetJob(ctx, jobID)
}

// CompleteJob finishes an in_progress job. The assigned agent initiates it;
// any undisbursed escrow goes to the agent and jobs_completed advances.
func (e Engine) CompleteJob(ctx context.Context, jobID int64, actor string) (domain.Job, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Job{}, err
	}
	defer tx.Rollback()

	j, err := e.Repo.GetJobTx(ctx, tx, jobID)
	if err != nil {
		if err == repo.ErrNotFound {
			return domain.Job{}, newError(KindNotFound, "job %d not found", jobID)
		}
		return domain.Job{}, err
	}
	if j.Agent == nil {
		return domain.Job{}, newError(KindNoAgent, "job %d has no assigned agent", jobID)
	}
	if *j.Agent != actor {
		return domain.Job{}, newError(KindUnauthorized, "only the assigned agent may complete the job")
	}
	if j.Status != domain.JobInProgress {
		return domain.Job{}, newError(KindInvalidState, "job %d is %s, only in_progress jobs can be completed", jobID, j.Status.Wire())
	}
	open, err := e.Repo.CountOpenMilestonesTx(ctx, tx, jobID)
	if err != nil {
		return domain.Job{}, err
	}
	if open > 0 {
		return domain.Job{}, newError(KindInvalidState, "job %d still has %d unapproved milestones", jobID, open)
	}
	if err := e.Repo.UpdateJobStatusGuardedTx(ctx, tx, jobID, domain.JobInProgress, domain.JobCompleted); err != nil {
		if err == repo.ErrNotFound {
			return domain.Job{}, newError(KindInvalidState, "job %d changed state concurrently", jobID)
		}
		return domain.Job{}, err
	}
	released, err := e.releaseRemainingTx(ctx, tx, jobID)
	if err != nil {
		return domain.Job{}, err
	}
	if err := e.Repo.IncrementJobsCompletedTx(ctx, tx, *j.Agent); err != nil {
		return domain.Job{}, err
	}
	if err := e.writer().Append(ctx, tx, "job.completed", "job", itoa(jobID), actor, events.EventPayload{
		"released": released.String(),
	}); err != nil {
		return domain.Job{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Job{}, err
	}
	return e.Repo.GetJob(ctx, jobID)
}

// CancelJob withdraws a posted job. In-progress jobs cannot be cancelled,
// they go through the dispute path instead.
func (e Engine) CancelJob(ctx context.Context, jobID int64, actor string) (domain.Job, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Job{}, err
	}
	defer tx.Rollback()

	j, err := e.Repo.GetJobTx(ctx, tx, jobID)
	if err != nil {
		if err == repo.ErrNotFound {
			return domain.Job{}, newError(KindNotFound, "job %d not found", jobID)
		}
		return domain.Job{}, err
	}
	if j.Client != actor {
		return domain.Job{}, newError(KindUnauthorized, "only the posting client may cancel the job")
	}
	if j.Status != domain.JobPosted {
		return domain.Job{}, newError(KindInvalidState, "job %d is %s, only posted jobs can be cancelled", jobID, j.Status.Wire())
	}
	if err := e.Repo.UpdateJobStatusGuardedTx(ctx, tx, jobID, domain.JobPosted, domain.JobCancelled); err != nil {
		if err == repo.ErrNotFound {
			return domain.Job{}, newError(KindInvalidState, "job %d changed state concurrently", jobID)
		}
		return domain.Job{}, err
	}
	if err := e.writer().Append(ctx, tx, "job.cancelled", "job", itoa(jobID), actor, nil); err != nil {
		return domain.Job{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Job{}, err
	}
	return e.Repo.GetJob(ctx, jobID)
}

func validateMilestoneSpecs(specs []MilestoneSpec) error {
	if len(specs) == 0 {
		return nil
	}
	var total int64
	for i, spec := range specs {
		if strings.TrimSpace(spec.Title) == "" {
			return newError(KindInvalidMilestones, "milestone %d needs a title", i+1)
		}
		if spec.PaymentPercentage <= 0 || spec.PaymentPercentage > 100 {
			return newError(KindInvalidMilestones, "milestone %d percentage must be in 1..100, got %d", i+1, spec.PaymentPercentage)
		}
		if spec.DueDate != nil {
			if _, err := time.Parse(time.RFC3339, *spec.DueDate); err != nil {
				return newError(KindInvalidMilestones, "milestone %d due date must be RFC3339: %v", i+1, err)
			}
		}
		total += spec.PaymentPercentage
	}
	// Plans may reserve less than the full payment; CompleteJob settles
	// whatever escrow remains.
	if total > 100 {
		return newError(KindInvalidMilestones, "milestone percentages must sum to at most 100, got %d", total)
	}
	return nil
}
