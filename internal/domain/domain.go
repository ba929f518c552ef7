package domain

import "github.com/shopspring/decimal"

// Job is a posted unit of work. Bids only grow while the job is Posted;
// Agent is set iff the job has passed acceptance.
type Job struct {
	ID                int64            `json:"id"`
	Client            string           `json:"client"`
	Title             string           `json:"title"`
	Description       string           `json:"description,omitempty"`
	Payment           decimal.Decimal  `json:"payment"`
	Status            JobStatus        `json:"status"`
	Agent             *string          `json:"agent,omitempty"`
	Category          string           `json:"category,omitempty"`
	Tags              []string         `json:"tags,omitempty"`
	Deadline          *string          `json:"deadline,omitempty" format:"date-time"`
	Bids              []Bid            `json:"bids,omitempty"`
	Milestones        []Milestone      `json:"milestones,omitempty"`
	AcceptedBidAmount *decimal.Decimal `json:"accepted_bid_amount,omitempty"`
	CreatedAt         string           `json:"created_at" format:"date-time"`
}

// Bid is one agent's offer on a job. At most one bid per (job, agent).
type Bid struct {
	JobID         int64           `json:"job_id"`
	BidID         int64           `json:"bid_id"`
	Agent         string          `json:"agent"`
	Amount        decimal.Decimal `json:"amount"`
	Proposal      string          `json:"proposal"`
	EstimatedDays int             `json:"estimated_days"`
	Timestamp     string          `json:"timestamp" format:"date-time"`
}

// AgentProfile holds a registered agent's listing and reputation counters.
// Owner is globally unique; registration is one-time.
type AgentProfile struct {
	Owner              string            `json:"owner"`
	Name               string            `json:"name"`
	ServiceDescription string            `json:"service_description,omitempty"`
	Skills             []string          `json:"skills,omitempty"`
	PortfolioURLs      []string          `json:"portfolio_urls,omitempty"`
	HourlyRate         *decimal.Decimal  `json:"hourly_rate,omitempty"`
	Availability       bool              `json:"availability"`
	JobsCompleted      int64             `json:"jobs_completed"`
	TotalRatingPoints  int64             `json:"total_rating_points"`
	TotalRatings       int64             `json:"total_ratings"`
	VerificationLevel  VerificationLevel `json:"verification_level"`
	RegisteredAt       string            `json:"registered_at" format:"date-time"`
}

// Rating returns the aggregate average, 0 when unrated.
func (p AgentProfile) Rating() float64 {
	if p.TotalRatings == 0 {
		return 0
	}
	return float64(p.TotalRatingPoints) / float64(p.TotalRatings)
}

// Milestone is a partial-payment checkpoint; ID is unique within its job.
type Milestone struct {
	JobID             int64           `json:"job_id"`
	ID                int64           `json:"id"`
	Title             string          `json:"title"`
	Description       string          `json:"description,omitempty"`
	PaymentPercentage int64           `json:"payment_percentage"`
	Status            MilestoneStatus `json:"status"`
	DueDate           *string         `json:"due_date,omitempty" format:"date-time"`
	SubmissionNotes   string          `json:"submission_notes,omitempty"`
	RevisionFeedback  string          `json:"revision_feedback,omitempty"`
}

// EscrowRecord tracks custody for one job (1:1). Released plus Refunded
// never exceeds Amount once locked.
type EscrowRecord struct {
	JobID      int64           `json:"job_id"`
	Client     string          `json:"client"`
	Agent      *string         `json:"agent,omitempty"`
	Amount     decimal.Decimal `json:"amount"`
	Released   decimal.Decimal `json:"released"`
	Refunded   decimal.Decimal `json:"refunded"`
	Status     EscrowStatus    `json:"status"`
	LockedAt   *string         `json:"locked_at,omitempty" format:"date-time"`
	ReleasedAt *string         `json:"released_at,omitempty" format:"date-time"`
}

// Remaining is the undisbursed locked balance.
func (e EscrowRecord) Remaining() decimal.Decimal {
	return e.Amount.Sub(e.Released).Sub(e.Refunded)
}

// Dispute is an arbitration record; at most one open dispute per job.
type Dispute struct {
	ID               int64         `json:"id"`
	JobID            int64         `json:"job_id"`
	Initiator        string        `json:"initiator"`
	Reason           string        `json:"reason"`
	Status           DisputeStatus `json:"status"`
	Response         string        `json:"response,omitempty"`
	ResolutionNotes  string        `json:"resolution_notes,omitempty"`
	RefundPercentage *int64        `json:"refund_percentage,omitempty"`
	CreatedAt        string        `json:"created_at" format:"date-time"`
	ResolvedAt       *string       `json:"resolved_at,omitempty" format:"date-time"`
}

// Rating is a 1-5 review tied to a completed job; one per (job, rater).
type Rating struct {
	ID        int64  `json:"id"`
	JobID     int64  `json:"job_id"`
	Rater     string `json:"rater"`
	Rated     string `json:"rated"`
	Rating    int    `json:"rating" minimum:"1" maximum:"5"`
	Review    string `json:"review,omitempty"`
	Timestamp string `json:"timestamp" format:"date-time"`
}

// ChatMessage is an append-only per-job communication entry.
type ChatMessage struct {
	ID        int64  `json:"id"`
	JobID     int64  `json:"job_id"`
	Sender    string `json:"sender"`
	Recipient string `json:"recipient"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp" format:"date-time"`
	Read      bool   `json:"read"`
}

// Event is one row of the append-only ledger audit log.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// APIKey authenticates an out-of-band caller identity.
type APIKey struct {
	ID        string `json:"id"`
	Owner     string `json:"owner"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// MarketplaceStats is the aggregate counter projection.
type MarketplaceStats struct {
	TotalJobs          int64           `json:"total_jobs"`
	PostedJobs         int64           `json:"posted_jobs"`
	InProgressJobs     int64           `json:"in_progress_jobs"`
	CompletedJobs      int64           `json:"completed_jobs"`
	CancelledJobs      int64           `json:"cancelled_jobs"`
	DisputedJobs       int64           `json:"disputed_jobs"`
	TotalAgents        int64           `json:"total_agents"`
	OpenDisputes       int64           `json:"open_disputes"`
	LockedVolume       decimal.Decimal `json:"locked_volume"`
	TotalPaymentVolume decimal.Decimal `json:"total_payment_volume"`
}
