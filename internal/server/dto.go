package server

import (
	"agentmarket/internal/domain"
)

// Request payloads

type MilestoneSpecRequest struct {
	Title             string  `json:"title"`
	Description       *string `json:"description,omitempty"`
	PaymentPercentage int64   `json:"payment_percentage" minimum:"1" maximum:"100"`
	DueDate           *string `json:"due_date,omitempty" format:"date-time"`
}

type PostJobRequest struct {
	Title       string                 `json:"title"`
	Description *string                `json:"description,omitempty"`
	Payment     string                 `json:"payment"`
	Category    *string                `json:"category,omitempty"`
	Tags        []string               `json:"tags,omitempty"`
	Deadline    *string                `json:"deadline,omitempty" format:"date-time"`
	Milestones  []MilestoneSpecRequest `json:"milestones,omitempty"`
}

type PlaceBidRequest struct {
	Amount        string  `json:"amount"`
	Proposal      *string `json:"proposal,omitempty"`
	EstimatedDays *int    `json:"estimated_days,omitempty" minimum:"0"`
}

type AcceptBidRequest struct {
	BidID int64 `json:"bid_id"`
}

type ReleaseEscrowRequest struct {
	Amount string `json:"amount"`
}

type SubmitMilestoneRequest struct {
	Notes *string `json:"notes,omitempty"`
}

type RequestRevisionRequest struct {
	Feedback string `json:"feedback"`
}

type OpenDisputeRequest struct {
	Reason string `json:"reason"`
}

type RespondDisputeRequest struct {
	Response string `json:"response"`
}

type ResolveDisputeRequest struct {
	Outcome          string  `json:"outcome"`
	Notes            *string `json:"notes,omitempty"`
	RefundPercentage *int64  `json:"refund_percentage,omitempty" minimum:"0" maximum:"100"`
}

type RegisterAgentRequest struct {
	Name               string   `json:"name"`
	ServiceDescription *string  `json:"service_description,omitempty"`
	Skills             []string `json:"skills,omitempty"`
	PortfolioURLs      []string `json:"portfolio_urls,omitempty"`
	HourlyRate         *string  `json:"hourly_rate,omitempty"`
	Availability       *bool    `json:"availability,omitempty"`
}

type UpdateAgentRequest struct {
	Name               *string  `json:"name,omitempty"`
	ServiceDescription *string  `json:"service_description,omitempty"`
	Skills             []string `json:"skills,omitempty"`
	PortfolioURLs      []string `json:"portfolio_urls,omitempty"`
	HourlyRate         *string  `json:"hourly_rate,omitempty"`
	Availability       *bool    `json:"availability,omitempty"`
}

type SetVerificationRequest struct {
	Level string `json:"level"`
}

type RateAgentRequest struct {
	Rating int     `json:"rating" minimum:"1" maximum:"5"`
	Review *string `json:"review,omitempty"`
}

type SendMessageRequest struct {
	Content string `json:"content"`
}

type CreateAPIKeyRequest struct {
	Owner string  `json:"owner"`
	Name  *string `json:"name,omitempty"`
}

type DevLoginRequest struct {
	ActorID string   `json:"actor_id"`
	Roles   []string `json:"roles,omitempty"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

// Response payloads

type BidResponse struct {
	JobID         int64  `json:"job_id"`
	BidID         int64  `json:"bid_id"`
	Agent         string `json:"agent"`
	Amount        string `json:"amount"`
	Proposal      string `json:"proposal,omitempty"`
	EstimatedDays int    `json:"estimated_days,omitempty"`
	Timestamp     string `json:"timestamp" format:"date-time"`
}

type MilestoneResponse struct {
	JobID             int64   `json:"job_id"`
	ID                int64   `json:"id"`
	Title             string  `json:"title"`
	Description       string  `json:"description,omitempty"`
	PaymentPercentage int64   `json:"payment_percentage"`
	Status            string  `json:"status" enum:"PENDING,SUBMITTED,APPROVED,REVISION_REQUESTED"`
	DueDate           *string `json:"due_date,omitempty" format:"date-time"`
	SubmissionNotes   string  `json:"submission_notes,omitempty"`
	RevisionFeedback  string  `json:"revision_feedback,omitempty"`
}

type JobResponse struct {
	ID                int64               `json:"id"`
	Client            string              `json:"client"`
	Title             string              `json:"title"`
	Description       string              `json:"description,omitempty"`
	Payment           string              `json:"payment"`
	Status            string              `json:"status" enum:"POSTED,IN_PROGRESS,COMPLETED,CANCELLED,DISPUTED"`
	Agent             *string             `json:"agent,omitempty"`
	Category          string              `json:"category,omitempty"`
	Tags              []string            `json:"tags,omitempty"`
	Deadline          *string             `json:"deadline,omitempty" format:"date-time"`
	Bids              []BidResponse       `json:"bids"`
	Milestones        []MilestoneResponse `json:"milestones"`
	AcceptedBidAmount *string             `json:"accepted_bid_amount,omitempty"`
	CreatedAt         string              `json:"created_at" format:"date-time"`
}

type EscrowResponse struct {
	JobID      int64   `json:"job_id"`
	Client     string  `json:"client"`
	Agent      *string `json:"agent,omitempty"`
	Amount     string  `json:"amount"`
	Released   string  `json:"released"`
	Refunded   string  `json:"refunded"`
	Remaining  string  `json:"remaining"`
	Status     string  `json:"status" enum:"UNFUNDED,LOCKED,RELEASED,REFUNDED,PARTIALLY_RELEASED"`
	LockedAt   *string `json:"locked_at,omitempty" format:"date-time"`
	ReleasedAt *string `json:"released_at,omitempty" format:"date-time"`
}

type DisputeResponse struct {
	ID               int64   `json:"id"`
	JobID            int64   `json:"job_id"`
	Initiator        string  `json:"initiator"`
	Reason           string  `json:"reason"`
	Status           string  `json:"status" enum:"OPEN,RESPONDED,RESOLVED_FOR_CLIENT,RESOLVED_FOR_AGENT,RESOLVED_SPLIT"`
	Response         string  `json:"response,omitempty"`
	ResolutionNotes  string  `json:"resolution_notes,omitempty"`
	RefundPercentage *int64  `json:"refund_percentage,omitempty"`
	CreatedAt        string  `json:"created_at" format:"date-time"`
	ResolvedAt       *string `json:"resolved_at,omitempty" format:"date-time"`
}

type AgentResponse struct {
	Owner              string   `json:"owner"`
	Name               string   `json:"name"`
	ServiceDescription string   `json:"service_description,omitempty"`
	Skills             []string `json:"skills"`
	PortfolioURLs      []string `json:"portfolio_urls"`
	HourlyRate         *string  `json:"hourly_rate,omitempty"`
	Availability       bool     `json:"availability"`
	JobsCompleted      int64    `json:"jobs_completed"`
	Rating             float64  `json:"rating"`
	TotalRatings       int64    `json:"total_ratings"`
	VerificationLevel  string   `json:"verification_level" enum:"UNVERIFIED,BASIC,VERIFIED,PREMIUM"`
	RegisteredAt       string   `json:"registered_at" format:"date-time"`
}

type RatingResponse struct {
	ID        int64  `json:"id"`
	JobID     int64  `json:"job_id"`
	Rater     string `json:"rater"`
	Rated     string `json:"rated"`
	Rating    int    `json:"rating"`
	Review    string `json:"review,omitempty"`
	Timestamp string `json:"timestamp" format:"date-time"`
}

type MessageResponse struct {
	ID        int64  `json:"id"`
	JobID     int64  `json:"job_id"`
	Sender    string `json:"sender"`
	Recipient string `json:"recipient"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp" format:"date-time"`
	Read      bool   `json:"read"`
}

type EventResponse struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id,omitempty"`
	Payload    string `json:"payload_json"`
}

type StatsResponse struct {
	TotalJobs          int64  `json:"total_jobs"`
	PostedJobs         int64  `json:"posted_jobs"`
	InProgressJobs     int64  `json:"in_progress_jobs"`
	CompletedJobs      int64  `json:"completed_jobs"`
	CancelledJobs      int64  `json:"cancelled_jobs"`
	DisputedJobs       int64  `json:"disputed_jobs"`
	TotalAgents        int64  `json:"total_agents"`
	OpenDisputes       int64  `json:"open_disputes"`
	LockedVolume       string `json:"locked_volume"`
	TotalPaymentVolume string `json:"total_payment_volume"`
}

type APIKeyResponse struct {
	ID        string `json:"id"`
	Owner     string `json:"owner"`
	Name      string `json:"name,omitempty"`
	Key       string `json:"key,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type WhoAmIResponse struct {
	ActorID string   `json:"actor_id"`
	Roles   []string `json:"roles"`
	Source  string   `json:"source,omitempty"`
}

// Mapping helpers

func mapBid(b domain.Bid) BidResponse {
	return BidResponse{
		JobID:         b.JobID,
		BidID:         b.BidID,
		Agent:         b.Agent,
		Amount:        b.Amount.String(),
		Proposal:      b.Proposal,
		EstimatedDays: b.EstimatedDays,
		Timestamp:     b.Timestamp,
	}
}

func mapBids(items []domain.Bid) []BidResponse {
	res := make([]BidResponse, 0, len(items))
	for _, b := range items {
		res = append(res, mapBid(b))
	}
	return res
}

func mapMilestone(m domain.Milestone) MilestoneResponse {
	return MilestoneResponse{
		JobID:             m.JobID,
		ID:                m.ID,
		Title:             m.Title,
		Description:       m.Description,
		PaymentPercentage: m.PaymentPercentage,
		Status:            m.Status.Wire(),
		DueDate:           m.DueDate,
		SubmissionNotes:   m.SubmissionNotes,
		RevisionFeedback:  m.RevisionFeedback,
	}
}

func mapMilestones(items []domain.Milestone) []MilestoneResponse {
	res := make([]MilestoneResponse, 0, len(items))
	for _, m := range items {
		res = append(res, mapMilestone(m))
	}
	return res
}

func mapJob(j domain.Job) JobResponse {
	var accepted *string
	if j.AcceptedBidAmount != nil {
		s := j.AcceptedBidAmount.String()
		accepted = &s
	}
	return JobResponse{
		ID:                j.ID,
		Client:            j.Client,
		Title:             j.Title,
		Description:       j.Description,
		Payment:           j.Payment.String(),
		Status:            j.Status.Wire(),
		Agent:             j.Agent,
		Category:          j.Category,
		Tags:              nonNilSlice(j.Tags),
		Deadline:          j.Deadline,
		Bids:              mapBids(j.Bids),
		Milestones:        mapMilestones(j.Milestones),
		AcceptedBidAmount: accepted,
		CreatedAt:         j.CreatedAt,
	}
}

func mapJobs(items []domain.Job) []JobResponse {
	res := make([]JobResponse, 0, len(items))
	for _, j := range items {
		res = append(res, mapJob(j))
	}
	return res
}

func mapEscrow(e domain.EscrowRecord) EscrowResponse {
	return EscrowResponse{
		JobID:      e.JobID,
		Client:     e.Client,
		Agent:      e.Agent,
		Amount:     e.Amount.String(),
		Released:   e.Released.String(),
		Refunded:   e.Refunded.String(),
		Remaining:  e.Remaining().String(),
		Status:     e.Status.Wire(),
		LockedAt:   e.LockedAt,
		ReleasedAt: e.ReleasedAt,
	}
}

func mapDispute(d domain.Dispute) DisputeResponse {
	return DisputeResponse{
		ID:               d.ID,
		JobID:            d.JobID,
		Initiator:        d.Initiator,
		Reason:           d.Reason,
		Status:           d.Status.Wire(),
		Response:         d.Response,
		ResolutionNotes:  d.ResolutionNotes,
		RefundPercentage: d.RefundPercentage,
		CreatedAt:        d.CreatedAt,
		ResolvedAt:       d.ResolvedAt,
	}
}

func mapDisputes(items []domain.Dispute) []DisputeResponse {
	res := make([]DisputeResponse, 0, len(items))
	for _, d := range items {
		res = append(res, mapDispute(d))
	}
	return res
}

func mapAgent(a domain.AgentProfile) AgentResponse {
	var rate *string
	if a.HourlyRate != nil {
		s := a.HourlyRate.String()
		rate = &s
	}
	return AgentResponse{
		Owner:              a.Owner,
		Name:               a.Name,
		ServiceDescription: a.ServiceDescription,
		Skills:             nonNilSlice(a.Skills),
		PortfolioURLs:      nonNilSlice(a.PortfolioURLs),
		HourlyRate:         rate,
		Availability:       a.Availability,
		JobsCompleted:      a.JobsCompleted,
		Rating:             a.Rating(),
		TotalRatings:       a.TotalRatings,
		VerificationLevel:  a.VerificationLevel.Wire(),
		RegisteredAt:       a.RegisteredAt,
	}
}

func mapAgents(items []domain.AgentProfile) []AgentResponse {
	res := make([]AgentResponse, 0, len(items))
	for _, a := range items {
		res = append(res, mapAgent(a))
	}
	return res
}

func mapRating(rt domain.Rating) RatingResponse {
	return RatingResponse{
		ID:        rt.ID,
		JobID:     rt.JobID,
		Rater:     rt.Rater,
		Rated:     rt.Rated,
		Rating:    rt.Rating,
		Review:    rt.Review,
		Timestamp: rt.Timestamp,
	}
}

func mapRatings(items []domain.Rating) []RatingResponse {
	res := make([]RatingResponse, 0, len(items))
	for _, rt := range items {
		res = append(res, mapRating(rt))
	}
	return res
}

func mapMessage(m domain.ChatMessage) MessageResponse {
	return MessageResponse{
		ID:        m.ID,
		JobID:     m.JobID,
		Sender:    m.Sender,
		Recipient: m.Recipient,
		Content:   m.Content,
		Timestamp: m.Timestamp,
		Read:      m.Read,
	}
}

func mapMessages(items []domain.ChatMessage) []MessageResponse {
	res := make([]MessageResponse, 0, len(items))
	for _, m := range items {
		res = append(res, mapMessage(m))
	}
	return res
}

func mapEvent(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    e.Payload,
	}
}

func mapEvents(items []domain.Event) []EventResponse {
	res := make([]EventResponse, 0, len(items))
	for _, e := range items {
		res = append(res, mapEvent(e))
	}
	return res
}

func mapStats(s domain.MarketplaceStats) StatsResponse {
	return StatsResponse{
		TotalJobs:          s.TotalJobs,
		PostedJobs:         s.PostedJobs,
		InProgressJobs:     s.InProgressJobs,
		CompletedJobs:      s.CompletedJobs,
		CancelledJobs:      s.CancelledJobs,
		DisputedJobs:       s.DisputedJobs,
		TotalAgents:        s.TotalAgents,
		OpenDisputes:       s.OpenDisputes,
		LockedVolume:       s.LockedVolume.String(),
		TotalPaymentVolume: s.TotalPaymentVolume.String(),
	}
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}

func strVal(in *string) string {
	if in == nil {
		return ""
	}
	return *in
}

func intVal(in *int) int {
	if in == nil {
		return 0
	}
	return *in
}
