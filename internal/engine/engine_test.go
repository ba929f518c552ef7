package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"agentmarket/internal/config"
	"agentmarket/internal/db"
	"agentmarket/internal/domain"
	"agentmarket/internal/engine"
	"agentmarket/internal/migrate"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, config.Default())
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	return testEnv{Engine: eng, Ctx: context.Background()}
}

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("decimal %q: %v", s, err)
	}
	return d
}

func registerAgent(t *testing.T, env testEnv, owner string) domain.AgentProfile {
	t.Helper()
	a, err := env.Engine.RegisterAgent(env.Ctx, engine.AgentRegisterOptions{
		Owner:        owner,
		Name:         owner + " bot",
		Skills:       []string{"scraping"},
		Availability: true,
	})
	if err != nil {
		t.Fatalf("register %s: %v", owner, err)
	}
	return a
}

func postJob(t *testing.T, env testEnv, client, payment string, milestones ...engine.MilestoneSpec) domain.Job {
	t.Helper()
	j, err := env.Engine.PostJob(env.Ctx, engine.JobPostOptions{
		Client:     client,
		Title:      "Scrape product listings",
		Payment:    dec(t, payment),
		Category:   "data",
		Milestones: milestones,
	})
	if err != nil {
		t.Fatalf("post job: %v", err)
	}
	return j
}

func acceptBid(t *testing.T, env testEnv, client, agent string, jobID int64, amount string) domain.Job {
	t.Helper()
	b, err := env.Engine.PlaceBid(env.Ctx, engine.BidOptions{JobID: jobID, Agent: agent, Amount: dec(t, amount), Proposal: "I will handle it", EstimatedDays: 3})
	if err != nil {
		t.Fatalf("place bid: %v", err)
	}
	j, err := env.Engine.AcceptBid(env.Ctx, jobID, b.BidID, client)
	if err != nil {
		t.Fatalf("accept bid: %v", err)
	}
	return j
}

func TestJobLifecycleWithMilestones(t *testing.T) {
	env := newTestEnv(t)
	registerAgent(t, env, "agent-1")

	job := postJob(t, env, "client-1", "100",
		engine.MilestoneSpec{Title: "crawl", PaymentPercentage: 50},
		engine.MilestoneSpec{Title: "report", PaymentPercentage: 50},
	)
	if job.Status != domain.JobPosted {
		t.Fatalf("expected posted, got %s", job.Status)
	}
	esc, err := env.Engine.Repo.GetEscrow(env.Ctx, job.ID)
	if err != nil || esc.Status != domain.EscrowUnfunded {
		t.Fatalf("expected unfunded escrow shell: %v %s", err, esc.Status)
	}

	job = acceptBid(t, env, "client-1", "agent-1", job.ID, "90")
	if job.Status != domain.JobInProgress {
		t.Fatalf("expected in_progress, got %s", job.Status)
	}
	if job.Agent == nil || *job.Agent != "agent-1" {
		t.Fatalf("expected agent-1 assigned")
	}
	esc, _ = env.Engine.Repo.GetEscrow(env.Ctx, job.ID)
	if esc.Status != domain.EscrowLocked || !esc.Amount.Equal(dec(t, "90")) {
		t.Fatalf("expected 90 locked, got %s %s", esc.Status, esc.Amount)
	}

	// Milestone pays its share of the accepted amount, not the posted one.
	if _, err := env.Engine.SubmitMilestone(env.Ctx, job.ID, 1, "agent-1", "done"); err != nil {
		t.Fatalf("submit milestone: %v", err)
	}
	ms, err := env.Engine.ApproveMilestone(env.Ctx, job.ID, 1, "client-1")
	if err != nil || ms.Status != domain.MilestoneApproved {
		t.Fatalf("approve milestone: %v", err)
	}
	esc, _ = env.Engine.Repo.GetEscrow(env.Ctx, job.ID)
	if !esc.Released.Equal(dec(t, "45")) {
		t.Fatalf("expected 45 released after 50%% milestone, got %s", esc.Released)
	}
	if esc.Status != domain.EscrowPartiallyReleased {
		t.Fatalf("expected partially_released, got %s", esc.Status)
	}

	// completion waits for every milestone
	if _, err := env.Engine.CompleteJob(env.Ctx, job.ID, "agent-1"); !engine.IsKind(err, engine.KindInvalidState) {
		t.Fatalf("expected invalid_state with an open milestone, got %v", err)
	}
	if _, err := env.Engine.SubmitMilestone(env.Ctx, job.ID, 2, "agent-1", "done"); err != nil {
		t.Fatalf("submit milestone 2: %v", err)
	}
	if _, err := env.Engine.ApproveMilestone(env.Ctx, job.ID, 2, "client-1"); err != nil {
		t.Fatalf("approve milestone 2: %v", err)
	}

	job, err = env.Engine.CompleteJob(env.Ctx, job.ID, "agent-1")
	if err != nil || job.Status != domain.JobCompleted {
		t.Fatalf("complete job: %v", err)
	}
	esc, _ = env.Engine.Repo.GetEscrow(env.Ctx, job.ID)
	if !esc.Released.Equal(dec(t, "90")) || esc.Status != domain.EscrowReleased {
		t.Fatalf("expected full 90 released, got %s %s", esc.Released, esc.Status)
	}
	if !esc.Remaining().IsZero() {
		t.Fatalf("expected nothing remaining, got %s", esc.Remaining())
	}

	a, _ := env.Engine.Repo.GetAgent(env.Ctx, "agent-1")
	if a.JobsCompleted != 1 {
		t.Fatalf("expected jobs_completed=1, got %d", a.JobsCompleted)
	}
}

func TestBidValidation(t *testing.T) {
	env := newTestEnv(t)
	registerAgent(t, env, "agent-1")
	job := postJob(t, env, "client-1", "100")

	// unregistered agents cannot bid
	_, err := env.Engine.PlaceBid(env.Ctx, engine.BidOptions{JobID: job.ID, Agent: "ghost", Amount: dec(t, "10"), Proposal: "pick me", EstimatedDays: 2})
	if !engine.IsKind(err, engine.KindNoAgent) {
		t.Fatalf("expected no_agent, got %v", err)
	}
	// clients cannot bid on their own jobs
	registerAgent(t, env, "client-1")
	_, err = env.Engine.PlaceBid(env.Ctx, engine.BidOptions{JobID: job.ID, Agent: "client-1", Amount: dec(t, "10"), Proposal: "pick me", EstimatedDays: 2})
	if !engine.IsKind(err, engine.KindUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	// one bid per agent per job
	if _, err := env.Engine.PlaceBid(env.Ctx, engine.BidOptions{JobID: job.ID, Agent: "agent-1", Amount: dec(t, "80"), Proposal: "pick me", EstimatedDays: 2}); err != nil {
		t.Fatalf("first bid: %v", err)
	}
	_, err = env.Engine.PlaceBid(env.Ctx, engine.BidOptions{JobID: job.ID, Agent: "agent-1", Amount: dec(t, "70"), Proposal: "again", EstimatedDays: 2})
	if !engine.IsKind(err, engine.KindDuplicateBid) {
		t.Fatalf("expected duplicate_bid, got %v", err)
	}
	// non-positive amounts are rejected
	_, err = env.Engine.PlaceBid(env.Ctx, engine.BidOptions{JobID: job.ID, Agent: "agent-1", Amount: dec(t, "0"), Proposal: "zero", EstimatedDays: 2})
	if !engine.IsKind(err, engine.KindInvalidAmount) {
		t.Fatalf("expected invalid_amount, got %v", err)
	}
}

func TestAcceptBidGuards(t *testing.T) {
	env := newTestEnv(t)
	registerAgent(t, env, "agent-1")
	job := postJob(t, env, "client-1", "100")
	b, err := env.Engine.PlaceBid(env.Ctx, engine.BidOptions{JobID: job.ID, Agent: "agent-1", Amount: dec(t, "80"), Proposal: "pick me", EstimatedDays: 2})
	if err != nil {
		t.Fatal(err)
	}
	// only the client may accept
	_, err = env.Engine.AcceptBid(env.Ctx, job.ID, b.BidID, "agent-1")
	if !engine.IsKind(err, engine.KindUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	// unknown bid
	_, err = env.Engine.AcceptBid(env.Ctx, job.ID, 99, "client-1")
	if !engine.IsKind(err, engine.KindBidNotFound) {
		t.Fatalf("expected bid_not_found, got %v", err)
	}
	if _, err := env.Engine.AcceptBid(env.Ctx, job.ID, b.BidID, "client-1"); err != nil {
		t.Fatalf("accept: %v", err)
	}
	// a second accept hits the status guard
	_, err = env.Engine.AcceptBid(env.Ctx, job.ID, b.BidID, "client-1")
	if !engine.IsKind(err, engine.KindInvalidState) {
		t.Fatalf("expected invalid_state, got %v", err)
	}
}

func TestMilestonePlanPercentages(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.PostJob(env.Ctx, engine.JobPostOptions{
		Client:  "client-1",
		Title:   "bad plan",
		Payment: dec(t, "100"),
		Milestones: []engine.MilestoneSpec{
			{Title: "half", PaymentPercentage: 60},
			{Title: "rest", PaymentPercentage: 50},
		},
	})
	if !engine.IsKind(err, engine.KindInvalidMilestones) {
		t.Fatalf("expected invalid_milestones for 110%%, got %v", err)
	}

	// under 100 is fine; the remainder settles at completion
	j, err := env.Engine.PostJob(env.Ctx, engine.JobPostOptions{
		Client:  "client-1",
		Title:   "partial plan",
		Payment: dec(t, "100"),
		Milestones: []engine.MilestoneSpec{
			{Title: "half", PaymentPercentage: 50},
			{Title: "short", PaymentPercentage: 40},
		},
	})
	if err != nil {
		t.Fatalf("post with 90%% plan: %v", err)
	}
	if len(j.Milestones) != 2 {
		t.Fatalf("expected 2 milestones, got %d", len(j.Milestones))
	}
}

func TestCancelOnlyWhilePosted(t *testing.T) {
	env := newTestEnv(t)
	registerAgent(t, env, "agent-1")
	job := postJob(t, env, "client-1", "100")

	_, err := env.Engine.CancelJob(env.Ctx, job.ID, "someone-else")
	if !engine.IsKind(err, engine.KindUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	job = acceptBid(t, env, "client-1", "agent-1", job.ID, "80")
	_, err = env.Engine.CancelJob(env.Ctx, job.ID, "client-1")
	if !engine.IsKind(err, engine.KindInvalidState) {
		t.Fatalf("expected invalid_state after accept, got %v", err)
	}
}

func TestDisputeSplitResolution(t *testing.T) {
	env := newTestEnv(t)
	registerAgent(t, env, "agent-1")
	job := postJob(t, env, "client-1", "100")
	job = acceptBid(t, env, "client-1", "agent-1", job.ID, "90")

	d, err := env.Engine.OpenDispute(env.Ctx, job.ID, "client-1", "output is incomplete")
	if err != nil {
		t.Fatalf("open dispute: %v", err)
	}
	job, _ = env.Engine.Repo.GetJob(env.Ctx, job.ID)
	if job.Status != domain.JobDisputed {
		t.Fatalf("expected disputed, got %s", job.Status)
	}
	// the initiator cannot also respond
	_, err = env.Engine.RespondToDispute(env.Ctx, d.ID, "client-1", "actually fine")
	if !engine.IsKind(err, engine.KindUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if _, err := env.Engine.RespondToDispute(env.Ctx, d.ID, "agent-1", "work was delivered"); err != nil {
		t.Fatalf("respond: %v", err)
	}
	// non-admins cannot resolve
	_, err = env.Engine.ResolveDispute(env.Ctx, engine.DisputeResolveOptions{
		DisputeID: d.ID, Actor: "client-1", Outcome: domain.DisputeResolvedSplit,
	})
	if !engine.IsKind(err, engine.KindUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	pct := int64(50)
	d, err = env.Engine.ResolveDispute(env.Ctx, engine.DisputeResolveOptions{
		DisputeID:        d.ID,
		Actor:            "arbiter",
		Admin:            true,
		Outcome:          domain.DisputeResolvedSplit,
		RefundPercentage: &pct,
	})
	if err != nil || d.Status != domain.DisputeResolvedSplit {
		t.Fatalf("resolve: %v", err)
	}
	esc, _ := env.Engine.Repo.GetEscrow(env.Ctx, job.ID)
	if !esc.Refunded.Equal(dec(t, "45")) || !esc.Released.Equal(dec(t, "45")) {
		t.Fatalf("expected 45/45 split of 90, got refunded=%s released=%s", esc.Refunded, esc.Released)
	}
	if !esc.Remaining().IsZero() {
		t.Fatalf("split must conserve the escrow, %s left over", esc.Remaining())
	}
	job, _ = env.Engine.Repo.GetJob(env.Ctx, job.ID)
	if job.Status != domain.JobCompleted {
		t.Fatalf("split resolution should complete the job, got %s", job.Status)
	}
	// resolution is final
	_, err = env.Engine.ResolveDispute(env.Ctx, engine.DisputeResolveOptions{
		DisputeID: d.ID, Actor: "arbiter", Admin: true, Outcome: domain.DisputeResolvedForAgent,
	})
	if !engine.IsKind(err, engine.KindAlreadyResolved) {
		t.Fatalf("expected already_resolved, got %v", err)
	}
}

func TestDisputeFreezesEscrowAndMilestones(t *testing.T) {
	env := newTestEnv(t)
	registerAgent(t, env, "agent-1")
	job := postJob(t, env, "client-1", "100",
		engine.MilestoneSpec{Title: "crawl", PaymentPercentage: 50},
	)
	job = acceptBid(t, env, "client-1", "agent-1", job.ID, "90")
	if _, err := env.Engine.SubmitMilestone(env.Ctx, job.ID, 1, "agent-1", "done"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := env.Engine.OpenDispute(env.Ctx, job.ID, "client-1", "deliverable is off spec"); err != nil {
		t.Fatalf("open dispute: %v", err)
	}

	// the resolver alone may disburse escrow from here on
	_, err := env.Engine.ReleaseEscrow(env.Ctx, job.ID, "client-1", dec(t, "30"))
	if !engine.IsKind(err, engine.KindInvalidState) {
		t.Fatalf("release during dispute: expected invalid_state, got %v", err)
	}
	_, err = env.Engine.ApproveMilestone(env.Ctx, job.ID, 1, "client-1")
	if !engine.IsKind(err, engine.KindInvalidState) {
		t.Fatalf("approve during dispute: expected invalid_state, got %v", err)
	}
	_, err = env.Engine.RequestMilestoneRevision(env.Ctx, job.ID, 1, "client-1", "redo the crawl")
	if !engine.IsKind(err, engine.KindInvalidState) {
		t.Fatalf("revision during dispute: expected invalid_state, got %v", err)
	}

	esc, err := env.Engine.Repo.GetEscrow(env.Ctx, job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if esc.Status != domain.EscrowLocked || !esc.Remaining().Equal(dec(t, "90")) {
		t.Fatalf("escrow must stay intact, got status=%s remaining=%s", esc.Status, esc.Remaining())
	}
}

func TestDisputeForClientRefundsAndCancels(t *testing.T) {
	env := newTestEnv(t)
	registerAgent(t, env, "agent-1")
	job := postJob(t, env, "client-1", "100")
	job = acceptBid(t, env, "client-1", "agent-1", job.ID, "60")
	d, err := env.Engine.OpenDispute(env.Ctx, job.ID, "agent-1", "client vanished")
	if err != nil {
		t.Fatal(err)
	}
	d, err = env.Engine.ResolveDispute(env.Ctx, engine.DisputeResolveOptions{
		DisputeID: d.ID, Actor: "arbiter", Admin: true, Outcome: domain.DisputeResolvedForClient,
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	esc, _ := env.Engine.Repo.GetEscrow(env.Ctx, job.ID)
	if !esc.Refunded.Equal(dec(t, "60")) || esc.Status != domain.EscrowRefunded {
		t.Fatalf("expected full refund, got %s %s", esc.Refunded, esc.Status)
	}
	job, _ = env.Engine.Repo.GetJob(env.Ctx, job.ID)
	if job.Status != domain.JobCancelled {
		t.Fatalf("client win should cancel the job, got %s", job.Status)
	}
}

func TestRatingRules(t *testing.T) {
	env := newTestEnv(t)
	registerAgent(t, env, "agent-1")
	job := postJob(t, env, "client-1", "100")
	job = acceptBid(t, env, "client-1", "agent-1", job.ID, "80")

	// only completed jobs can be rated
	_, err := env.Engine.RateAgent(env.Ctx, engine.RateOptions{JobID: job.ID, Rater: "client-1", Rating: 5})
	if !engine.IsKind(err, engine.KindInvalidState) {
		t.Fatalf("expected invalid_state, got %v", err)
	}
	if _, err := env.Engine.CompleteJob(env.Ctx, job.ID, "agent-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.RateAgent(env.Ctx, engine.RateOptions{JobID: job.ID, Rater: "client-1", Rating: 4, Review: "solid"}); err != nil {
		t.Fatalf("rate: %v", err)
	}
	// once per rater per job
	_, err = env.Engine.RateAgent(env.Ctx, engine.RateOptions{JobID: job.ID, Rater: "client-1", Rating: 5})
	if !engine.IsKind(err, engine.KindDuplicateRating) {
		t.Fatalf("expected duplicate_rating, got %v", err)
	}
	// outsiders cannot rate
	_, err = env.Engine.RateAgent(env.Ctx, engine.RateOptions{JobID: job.ID, Rater: "stranger", Rating: 1})
	if !engine.IsKind(err, engine.KindUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	// the agent rates back; the client has no profile so only the row lands
	if _, err := env.Engine.RateAgent(env.Ctx, engine.RateOptions{JobID: job.ID, Rater: "agent-1", Rating: 5}); err != nil {
		t.Fatalf("counter-rate: %v", err)
	}
	a, _ := env.Engine.Repo.GetAgent(env.Ctx, "agent-1")
	if a.TotalRatings != 1 || a.Rating() != 4 {
		t.Fatalf("expected one 4-star rating, got n=%d avg=%.1f", a.TotalRatings, a.Rating())
	}
}

func TestMessagingBetweenParties(t *testing.T) {
	env := newTestEnv(t)
	registerAgent(t, env, "agent-1")
	job := postJob(t, env, "client-1", "100")

	// no agent assigned yet
	_, err := env.Engine.SendMessage(env.Ctx, job.ID, "client-1", "hello?")
	if !engine.IsKind(err, engine.KindNoAgent) {
		t.Fatalf("expected no_agent, got %v", err)
	}
	job = acceptBid(t, env, "client-1", "agent-1", job.ID, "80")
	m, err := env.Engine.SendMessage(env.Ctx, job.ID, "client-1", "how is it going?")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if m.Recipient != "agent-1" {
		t.Fatalf("recipient should be the counterparty, got %s", m.Recipient)
	}
	// outsiders stay out of the thread
	_, err = env.Engine.SendMessage(env.Ctx, job.ID, "stranger", "psst")
	if !engine.IsKind(err, engine.KindUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	n, err := env.Engine.MarkMessagesRead(env.Ctx, job.ID, "agent-1")
	if err != nil || n != 1 {
		t.Fatalf("expected one message marked read, got %d (%v)", n, err)
	}
	n, _ = env.Engine.MarkMessagesRead(env.Ctx, job.ID, "agent-1")
	if n != 0 {
		t.Fatalf("expected idempotent read marking, got %d", n)
	}
}

func TestVoluntaryEscrowRelease(t *testing.T) {
	env := newTestEnv(t)
	registerAgent(t, env, "agent-1")
	job := postJob(t, env, "client-1", "100")
	job = acceptBid(t, env, "client-1", "agent-1", job.ID, "90")

	esc, err := env.Engine.ReleaseEscrow(env.Ctx, job.ID, "client-1", dec(t, "30"))
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if esc.Status != domain.EscrowPartiallyReleased || !esc.Remaining().Equal(dec(t, "60")) {
		t.Fatalf("expected 60 remaining, got %s %s", esc.Status, esc.Remaining())
	}
	// cannot overdraw
	_, err = env.Engine.ReleaseEscrow(env.Ctx, job.ID, "client-1", dec(t, "61"))
	if !engine.IsKind(err, engine.KindInsufficientEscrow) {
		t.Fatalf("expected insufficient_escrow, got %v", err)
	}
	// only the client releases voluntarily
	_, err = env.Engine.ReleaseEscrow(env.Ctx, job.ID, "agent-1", dec(t, "10"))
	if !engine.IsKind(err, engine.KindUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

func TestAgentRegistrationAndUpdate(t *testing.T) {
	env := newTestEnv(t)
	a := registerAgent(t, env, "agent-1")
	if a.VerificationLevel != domain.VerificationUnverified {
		t.Fatalf("expected unverified, got %s", a.VerificationLevel)
	}
	_, err := env.Engine.RegisterAgent(env.Ctx, engine.AgentRegisterOptions{Owner: "agent-1", Name: "again"})
	if !engine.IsKind(err, engine.KindAlreadyRegistered) {
		t.Fatalf("expected already_registered, got %v", err)
	}
	// only the owner edits their profile
	name := "renamed"
	_, err = env.Engine.UpdateAgentProfile(env.Ctx, "agent-1", "intruder", engine.AgentUpdateOptions{Name: &name})
	if !engine.IsKind(err, engine.KindUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	a, err = env.Engine.UpdateAgentProfile(env.Ctx, "agent-1", "agent-1", engine.AgentUpdateOptions{Name: &name})
	if err != nil || a.Name != "renamed" {
		t.Fatalf("update: %v", err)
	}
	// verification needs admin authority
	_, err = env.Engine.SetAgentVerification(env.Ctx, "agent-1", "agent-1", false, domain.VerificationVerified)
	if !engine.IsKind(err, engine.KindUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	a, err = env.Engine.SetAgentVerification(env.Ctx, "agent-1", "ops", true, domain.VerificationVerified)
	if err != nil || a.VerificationLevel != domain.VerificationVerified {
		t.Fatalf("verify: %v", err)
	}
}

func TestSweepFlagsOverdueJobsOnce(t *testing.T) {
	env := newTestEnv(t)
	registerAgent(t, env, "agent-1")
	deadline := "2023-12-31T00:00:00Z"
	j, err := env.Engine.PostJob(env.Ctx, engine.JobPostOptions{
		Client:   "client-1",
		Title:    "overdue",
		Payment:  dec(t, "10"),
		Deadline: &deadline,
	})
	if err != nil {
		t.Fatal(err)
	}
	acceptBid(t, env, "client-1", "agent-1", j.ID, "10")

	flagged, err := env.Engine.SweepOverdueJobs(env.Ctx)
	if err != nil || len(flagged) != 1 || flagged[0] != j.ID {
		t.Fatalf("expected job %d flagged, got %v (%v)", j.ID, flagged, err)
	}
	// a second sweep does not re-flag
	flagged, err = env.Engine.SweepOverdueJobs(env.Ctx)
	if err != nil || len(flagged) != 0 {
		t.Fatalf("expected no re-flag, got %v (%v)", flagged, err)
	}
}

func TestFundEscrowRecovery(t *testing.T) {
	env := newTestEnv(t)
	registerAgent(t, env, "agent-1")
	job := postJob(t, env, "client-1", "100")
	job = acceptBid(t, env, "client-1", "agent-1", job.ID, "70")

	// accept already locked the escrow
	_, err := env.Engine.FundEscrow(env.Ctx, job.ID, "client-1")
	if !engine.IsKind(err, engine.KindAlreadyFunded) {
		t.Fatalf("expected already_funded, got %v", err)
	}
}
