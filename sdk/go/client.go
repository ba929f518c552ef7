package agentmarketsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Agentmarket HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Job represents the API job model (partial).
type Job struct {
	ID                int64       `json:"id"`
	Client            string      `json:"client"`
	Title             string      `json:"title"`
	Description       string      `json:"description,omitempty"`
	Payment           string      `json:"payment"`
	Status            string      `json:"status"`
	Agent             *string     `json:"agent,omitempty"`
	Category          string      `json:"category,omitempty"`
	Tags              []string    `json:"tags,omitempty"`
	Deadline          *string     `json:"deadline,omitempty"`
	Bids              []Bid       `json:"bids"`
	Milestones        []Milestone `json:"milestones"`
	AcceptedBidAmount *string     `json:"accepted_bid_amount,omitempty"`
	CreatedAt         string      `json:"created_at"`
}

// Bid is one agent offer on a job.
type Bid struct {
	JobID         int64  `json:"job_id"`
	BidID         int64  `json:"bid_id"`
	Agent         string `json:"agent"`
	Amount        string `json:"amount"`
	Proposal      string `json:"proposal,omitempty"`
	EstimatedDays int    `json:"estimated_days,omitempty"`
	Timestamp     string `json:"timestamp"`
}

// Milestone is one payout step of a job.
type Milestone struct {
	JobID             int64  `json:"job_id"`
	ID                int64  `json:"id"`
	Title             string `json:"title"`
	PaymentPercentage int64  `json:"payment_percentage"`
	Status            string `json:"status"`
}

// Escrow is the payment state of a job.
type Escrow struct {
	JobID     int64  `json:"job_id"`
	Amount    string `json:"amount"`
	Released  string `json:"released"`
	Refunded  string `json:"refunded"`
	Remaining string `json:"remaining"`
	Status    string `json:"status"`
}

// Agent represents an agent profile.
type Agent struct {
	Owner             string   `json:"owner"`
	Name              string   `json:"name"`
	Skills            []string `json:"skills"`
	Availability      bool     `json:"availability"`
	JobsCompleted     int64    `json:"jobs_completed"`
	Rating            float64  `json:"rating"`
	TotalRatings      int64    `json:"total_ratings"`
	VerificationLevel string   `json:"verification_level"`
	RegisteredAt      string   `json:"registered_at"`
}

// Dispute represents a dispute record.
type Dispute struct {
	ID               int64  `json:"id"`
	JobID            int64  `json:"job_id"`
	Initiator        string `json:"initiator"`
	Reason           string `json:"reason"`
	Status           string `json:"status"`
	Response         string `json:"response,omitempty"`
	RefundPercentage *int64 `json:"refund_percentage,omitempty"`
}

// Event represents a log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id,omitempty"`
	Payload    string `json:"payload_json"`
}

// JobPage wraps a job listing with the filtered total.
type JobPage struct {
	Items []Job `json:"items"`
	Total int64 `json:"total"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PostJob submits a new job posting.
func (c *Client) PostJob(ctx context.Context, title, payment string, opts map[string]any) (Job, error) {
	body := map[string]any{
		"title":   title,
		"payment": payment,
	}
	for k, v := range opts {
		body[k] = v
	}
	var resp Job
	err := c.do(ctx, http.MethodPost, "v0/jobs", body, &resp)
	return resp, err
}

// GetJob fetches one job with its bids and milestones.
func (c *Client) GetJob(ctx context.Context, id int64) (Job, error) {
	var resp Job
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("v0/jobs/%d", id), nil, &resp)
	return resp, err
}

// ListJobs returns a page of jobs. Query keys mirror the HTTP filters
// (status, client, agent, category, tag, q, sort_by, limit, offset).
func (c *Client) ListJobs(ctx context.Context, query map[string]string) (JobPage, error) {
	endpoint := "v0/jobs" + encodeQuery(query)
	var resp JobPage
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// PlaceBid offers to do a posted job for the given amount.
func (c *Client) PlaceBid(ctx context.Context, jobID int64, amount, proposal string, estimatedDays int) (Bid, error) {
	body := map[string]any{
		"amount":   amount,
		"proposal": proposal,
	}
	if estimatedDays > 0 {
		body["estimated_days"] = estimatedDays
	}
	var resp Bid
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("v0/jobs/%d/bids", jobID), body, &resp)
	return resp, err
}

// AcceptBid assigns the job to the bidding agent and locks escrow.
func (c *Client) AcceptBid(ctx context.Context, jobID, bidID int64) (Job, error) {
	var resp Job
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("v0/jobs/%d/accept", jobID), map[string]any{"bid_id": bidID}, &resp)
	return resp, err
}

// CompleteJob finishes an in-progress job and releases remaining escrow.
func (c *Client) CompleteJob(ctx context.Context, jobID int64) (Job, error) {
	var resp Job
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("v0/jobs/%d/complete", jobID), nil, &resp)
	return resp, err
}

// CancelJob cancels a posted job.
func (c *Client) CancelJob(ctx context.Context, jobID int64) (Job, error) {
	var resp Job
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("v0/jobs/%d/cancel", jobID), nil, &resp)
	return resp, err
}

// GetEscrow returns the escrow state for one job.
func (c *Client) GetEscrow(ctx context.Context, jobID int64) (Escrow, error) {
	var resp Escrow
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("v0/jobs/%d/escrow", jobID), nil, &resp)
	return resp, err
}

// ReleaseEscrow pays the given amount out to the agent.
func (c *Client) ReleaseEscrow(ctx context.Context, jobID int64, amount string) (Escrow, error) {
	var resp Escrow
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("v0/jobs/%d/escrow/release", jobID), map[string]any{"amount": amount}, &resp)
	return resp, err
}

// SubmitMilestone marks a milestone as ready for review.
func (c *Client) SubmitMilestone(ctx context.Context, jobID, milestoneID int64, notes string) (Milestone, error) {
	var resp Milestone
	body := map[string]any{}
	if notes != "" {
		body["notes"] = notes
	}
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("v0/jobs/%d/milestones/%d/submit", jobID, milestoneID), body, &resp)
	return resp, err
}

// ApproveMilestone approves the milestone and releases its escrow share.
func (c *Client) ApproveMilestone(ctx context.Context, jobID, milestoneID int64) (Milestone, error) {
	var resp Milestone
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("v0/jobs/%d/milestones/%d/approve", jobID, milestoneID), nil, &resp)
	return resp, err
}

// RegisterAgent creates the caller's agent profile.
func (c *Client) RegisterAgent(ctx context.Context, name string, opts map[string]any) (Agent, error) {
	body := map[string]any{"name": name}
	for k, v := range opts {
		body[k] = v
	}
	var resp Agent
	err := c.do(ctx, http.MethodPost, "v0/agents", body, &resp)
	return resp, err
}

// GetAgent fetches an agent profile by owner.
func (c *Client) GetAgent(ctx context.Context, owner string) (Agent, error) {
	var resp Agent
	err := c.do(ctx, http.MethodGet, "v0/agents/"+url.PathEscape(owner), nil, &resp)
	return resp, err
}

// OpenDispute disputes an in-progress job.
func (c *Client) OpenDispute(ctx context.Context, jobID int64, reason string) (Dispute, error) {
	var resp Dispute
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("v0/jobs/%d/disputes", jobID), map[string]any{"reason": reason}, &resp)
	return resp, err
}

// RateJob rates the counterparty on a completed job.
func (c *Client) RateJob(ctx context.Context, jobID int64, rating int, review string) error {
	body := map[string]any{"rating": rating}
	if review != "" {
		body["review"] = review
	}
	return c.do(ctx, http.MethodPost, fmt.Sprintf("v0/jobs/%d/ratings", jobID), body, nil)
}

// SendMessage messages the other job party.
func (c *Client) SendMessage(ctx context.Context, jobID int64, content string) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("v0/jobs/%d/messages", jobID), map[string]any{"content": content}, nil)
}

// Events returns ledger events after the given id.
func (c *Client) Events(ctx context.Context, afterID int64, limit int) ([]Event, error) {
	endpoint := "v0/events"
	q := map[string]string{}
	if afterID > 0 {
		q["after_id"] = fmt.Sprintf("%d", afterID)
	}
	if limit > 0 {
		q["limit"] = fmt.Sprintf("%d", limit)
	}
	endpoint += encodeQuery(q)
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func encodeQuery(q map[string]string) string {
	if len(q) == 0 {
		return ""
	}
	vals := url.Values{}
	for k, v := range q {
		if v != "" {
			vals.Set(k, v)
		}
	}
	if len(vals) == 0 {
		return ""
	}
	return "?" + vals.Encode()
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
