package engine

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"

	"agentmarket/internal/domain"
	"agentmarket/internal/events"
	"agentmarket/internal/repo"
)

// AgentRegisterOptions are parameters for one-time agent registration.
type AgentRegisterOptions struct {
	Owner              string
	Name               string
	ServiceDescription string
	Skills             []string
	PortfolioURLs      []string
	HourlyRate         *decimal.Decimal
	Availability       bool
}

func (e Engine) RegisterAgent(ctx context.Context, opts AgentRegisterOptions) (domain.AgentProfile, error) {
	if strings.TrimSpace(opts.Name) == "" {
		return domain.AgentProfile{}, newError(KindInvalidAmount, "agent name is required")
	}
	if opts.HourlyRate != nil && opts.HourlyRate.IsNegative() {
		return domain.AgentProfile{}, newError(KindInvalidAmount, "hourly rate must not be negative")
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.AgentProfile{}, err
	}
	defer tx.Rollback()

	if _, err := e.Repo.GetAgentTx(ctx, tx, opts.Owner); err == nil {
		return domain.AgentProfile{}, newError(KindAlreadyRegistered, "agent %s is already registered", opts.Owner)
	} else if err != repo.ErrNotFound {
		return domain.AgentProfile{}, err
	}
	a := domain.AgentProfile{
		Owner:              opts.Owner,
		Name:               strings.TrimSpace(opts.Name),
		ServiceDescription: opts.ServiceDescription,
		Skills:             opts.Skills,
		PortfolioURLs:      opts.PortfolioURLs,
		HourlyRate:         opts.HourlyRate,
		Availability:       opts.Availability,
		VerificationLevel:  domain.VerificationUnverified,
		RegisteredAt:       e.nowString(),
	}
	if err := e.Repo.InsertAgentTx(ctx, tx, a); err != nil {
		return domain.AgentProfile{}, err
	}
	if err := e.writer().Append(ctx, tx, "agent.registered", "agent", opts.Owner, opts.Owner, events.EventPayload{
		"name": a.Name,
	}); err != nil {
		return domain.AgentProfile{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.AgentProfile{}, err
	}
	return a, nil
}

// AgentUpdateOptions carries the optional profile fields; nil means keep.
type AgentUpdateOptions struct {
	Name               *string
	ServiceDescription *string
	Skills             []string
	PortfolioURLs      []string
	HourlyRate         *decimal.Decimal
	Availability       *bool
}

// UpdateAgentProfile edits listing fields. Reputation counters and the
// verification level are never writable here.
func (e Engine) UpdateAgentProfile(ctx context.Context, owner, actor string, opts AgentUpdateOptions) (domain.AgentProfile, error) {
	if owner != actor {
		return domain.AgentProfile{}, newError(KindUnauthorized, "only the profile owner may update it")
	}
	if opts.Name != nil && strings.TrimSpace(*opts.Name) == "" {
		return domain.AgentProfile{}, newError(KindInvalidAmount, "agent name must not be empty")
	}
	if opts.HourlyRate != nil && opts.HourlyRate.IsNegative() {
		return domain.AgentProfile{}, newError(KindInvalidAmount, "hourly rate must not be negative")
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.AgentProfile{}, err
	}
	defer tx.Rollback()

	if _, err := e.Repo.GetAgentTx(ctx, tx, owner); err != nil {
		if err == repo.ErrNotFound {
			return domain.AgentProfile{}, newError(KindNotFound, "agent %s not found", owner)
		}
		return domain.AgentProfile{}, err
	}
	upd := repo.AgentProfileUpdate{
		Name:               opts.Name,
		ServiceDescription: opts.ServiceDescription,
		Skills:             opts.Skills,
		PortfolioURLs:      opts.PortfolioURLs,
		HourlyRate:         opts.HourlyRate,
		Availability:       opts.Availability,
	}
	if err := e.Repo.UpdateAgentTx(ctx, tx, owner, upd); err != nil {
		return domain.AgentProfile{}, err
	}
	if err := e.writer().Append(ctx, tx, "agent.updated", "agent", owner, actor, nil); err != nil {
		return domain.AgentProfile{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.AgentProfile{}, err
	}
	return e.Repo.GetAgent(ctx, owner)
}

// RateOptions are parameters for rating a counterparty after completion.
type RateOptions struct {
	JobID  int64
	Rater  string
	Rating int
	Review string
}

// RateAgent records a review on a completed job. The rating row is always
// written; reputation counters only move when the rated party has a
// registered profile.
func (e Engine) RateAgent(ctx context.Context, opts RateOptions) (domain.Rating, error) {
	if opts.Rating < 1 || opts.Rating > 5 {
		return domain.Rating{}, newError(KindInvalidAmount, "rating must be in 1..5, got %d", opts.Rating)
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Rating{}, err
	}
	defer tx.Rollback()

	j, err := e.Repo.GetJobTx(ctx, tx, opts.JobID)
	if err != nil {
		if err == repo.ErrNotFound {
			return domain.Rating{}, newError(KindNotFound, "job %d not found", opts.JobID)
		}
		return domain.Rating{}, err
	}
	if j.Status != domain.JobCompleted {
		return domain.Rating{}, newError(KindInvalidState, "job %d is %s, only completed jobs can be rated", opts.JobID, j.Status.Wire())
	}
	if j.Agent == nil {
		return domain.Rating{}, newError(KindNoAgent, "job %d has no assigned agent", opts.JobID)
	}
	var rated string
	switch opts.Rater {
	case j.Client:
		rated = *j.Agent
	case *j.Agent:
		rated = j.Client
	default:
		return domain.Rating{}, newError(KindUnauthorized, "only a party to the job may rate it")
	}
	dup, err := e.Repo.HasRatingTx(ctx, tx, opts.JobID, opts.Rater)
	if err != nil {
		return domain.Rating{}, err
	}
	if dup {
		return domain.Rating{}, newError(KindDuplicateRating, "%s has already rated job %d", opts.Rater, opts.JobID)
	}
	id, err := e.Repo.NextSeq(ctx, tx, repo.SeqRatings)
	if err != nil {
		return domain.Rating{}, err
	}
	rt := domain.Rating{
		ID:        id,
		JobID:     opts.JobID,
		Rater:     opts.Rater,
		Rated:     rated,
		Rating:    opts.Rating,
		Review:    opts.Review,
		Timestamp: e.nowString(),
	}
	if err := e.Repo.InsertRatingTx(ctx, tx, rt); err != nil {
		return domain.Rating{}, err
	}
	if _, err := e.Repo.GetAgentTx(ctx, tx, rated); err == nil {
		if err := e.Repo.AddAgentRatingTx(ctx, tx, rated, opts.Rating); err != nil {
			return domain.Rating{}, err
		}
	} else if err != repo.ErrNotFound {
		return domain.Rating{}, err
	}
	if err := e.writer().Append(ctx, tx, "agent.rated", "agent", rated, opts.Rater, events.EventPayload{
		"job_id": opts.JobID,
		"rating": opts.Rating,
	}); err != nil {
		return domain.Rating{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Rating{}, err
	}
	return rt, nil
}

// SetAgentVerification is an admin-only trust level change.
func (e Engine) SetAgentVerification(ctx context.Context, owner, actor string, admin bool, level domain.VerificationLevel) (domain.AgentProfile, error) {
	if !admin && (e.Config == nil || !e.Config.IsDisputeAdmin(actor)) {
		return domain.AgentProfile{}, newError(KindUnauthorized, "only admins may change verification levels")
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.AgentProfile{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.SetAgentVerificationTx(ctx, tx, owner, level); err != nil {
		if err == repo.ErrNotFound {
			return domain.AgentProfile{}, newError(KindNotFound, "agent %s not found", owner)
		}
		return domain.AgentProfile{}, err
	}
	if err := e.writer().Append(ctx, tx, "agent.verified", "agent", owner, actor, events.EventPayload{
		"level": level.Wire(),
	}); err != nil {
		return domain.AgentProfile{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.AgentProfile{}, err
	}
	return e.Repo.GetAgent(ctx, owner)
}
