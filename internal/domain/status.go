package domain

import (
	"fmt"
	"strings"
)

// Status enums are stored lower_snake and transmitted UPPER_SNAKE. Each enum
// has exactly one parse function; an unrecognized token is a hard error,
// never a silent default.

type JobStatus string

const (
	JobPosted     JobStatus = "posted"
	JobInProgress JobStatus = "in_progress"
	JobCompleted  JobStatus = "completed"
	JobCancelled  JobStatus = "cancelled"
	JobDisputed   JobStatus = "disputed"
)

func (s JobStatus) Wire() string { return wireToken(string(s)) }

func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobCancelled
}

func ParseJobStatus(token string) (JobStatus, error) {
	switch normalizeToken(token) {
	case "posted":
		return JobPosted, nil
	case "in_progress":
		return JobInProgress, nil
	case "completed":
		return JobCompleted, nil
	case "cancelled", "canceled":
		return JobCancelled, nil
	case "disputed":
		return JobDisputed, nil
	}
	return "", fmt.Errorf("unknown job status %q", token)
}

type EscrowStatus string

const (
	EscrowUnfunded          EscrowStatus = "unfunded"
	EscrowLocked            EscrowStatus = "locked"
	EscrowReleased          EscrowStatus = "released"
	EscrowRefunded          EscrowStatus = "refunded"
	EscrowPartiallyReleased EscrowStatus = "partially_released"
)

func (s EscrowStatus) Wire() string { return wireToken(string(s)) }

// Active reports whether locked funds remain in custody.
func (s EscrowStatus) Active() bool {
	return s == EscrowLocked || s == EscrowPartiallyReleased
}

type MilestoneStatus string

const (
	MilestonePending           MilestoneStatus = "pending"
	MilestoneSubmitted         MilestoneStatus = "submitted"
	MilestoneApproved          MilestoneStatus = "approved"
	MilestoneRevisionRequested MilestoneStatus = "revision_requested"
)

func (s MilestoneStatus) Wire() string { return wireToken(string(s)) }

type DisputeStatus string

const (
	DisputeOpen              DisputeStatus = "open"
	DisputeResponded         DisputeStatus = "responded"
	DisputeResolvedForClient DisputeStatus = "resolved_for_client"
	DisputeResolvedForAgent  DisputeStatus = "resolved_for_agent"
	DisputeResolvedSplit     DisputeStatus = "resolved_split"
)

func (s DisputeStatus) Wire() string { return wireToken(string(s)) }

func (s DisputeStatus) Resolved() bool {
	switch s {
	case DisputeResolvedForClient, DisputeResolvedForAgent, DisputeResolvedSplit:
		return true
	}
	return false
}

func ParseDisputeStatus(token string) (DisputeStatus, error) {
	switch normalizeToken(token) {
	case "open":
		return DisputeOpen, nil
	case "responded":
		return DisputeResponded, nil
	case "resolved_for_client":
		return DisputeResolvedForClient, nil
	case "resolved_for_agent":
		return DisputeResolvedForAgent, nil
	case "resolved_split":
		return DisputeResolvedSplit, nil
	}
	return "", fmt.Errorf("unknown dispute status %q", token)
}

type VerificationLevel string

const (
	VerificationUnverified VerificationLevel = "unverified"
	VerificationBasic      VerificationLevel = "basic"
	VerificationVerified   VerificationLevel = "verified"
	VerificationPremium    VerificationLevel = "premium"
)

func (v VerificationLevel) Wire() string { return wireToken(string(v)) }

// Rank orders levels for minimum-level filtering.
func (v VerificationLevel) Rank() int {
	switch v {
	case VerificationBasic:
		return 1
	case VerificationVerified:
		return 2
	case VerificationPremium:
		return 3
	}
	return 0
}

func ParseVerificationLevel(token string) (VerificationLevel, error) {
	switch normalizeToken(token) {
	case "unverified":
		return VerificationUnverified, nil
	case "basic":
		return VerificationBasic, nil
	case "verified":
		return VerificationVerified, nil
	case "premium":
		return VerificationPremium, nil
	}
	return "", fmt.Errorf("unknown verification level %q", token)
}

func normalizeToken(token string) string {
	return strings.ToLower(strings.TrimSpace(token))
}

func wireToken(s string) string {
	return strings.ToUpper(s)
}
