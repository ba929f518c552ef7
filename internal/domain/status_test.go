package domain

import "testing"

func TestParseJobStatus(t *testing.T) {
	cases := map[string]JobStatus{
		"POSTED":      JobPosted,
		"in_progress": JobInProgress,
		"Completed":   JobCompleted,
		"CANCELLED":   JobCancelled,
		"canceled":    JobCancelled,
		"disputed":    JobDisputed,
	}
	for token, want := range cases {
		got, err := ParseJobStatus(token)
		if err != nil || got != want {
			t.Errorf("ParseJobStatus(%q) = %v, %v; want %v", token, got, err, want)
		}
	}
	if _, err := ParseJobStatus("pending"); err == nil {
		t.Errorf("expected error for unknown status")
	}
}

func TestWireTokens(t *testing.T) {
	if got := JobInProgress.Wire(); got != "IN_PROGRESS" {
		t.Errorf("wire token = %q", got)
	}
	if got := EscrowPartiallyReleased.Wire(); got != "PARTIALLY_RELEASED" {
		t.Errorf("wire token = %q", got)
	}
	if got := DisputeResolvedForAgent.Wire(); got != "RESOLVED_FOR_AGENT" {
		t.Errorf("wire token = %q", got)
	}
}

func TestDisputeStatusResolved(t *testing.T) {
	for _, s := range []DisputeStatus{DisputeResolvedForClient, DisputeResolvedForAgent, DisputeResolvedSplit} {
		if !s.Resolved() {
			t.Errorf("%s should be resolved", s)
		}
	}
	if DisputeOpen.Resolved() || DisputeResponded.Resolved() {
		t.Errorf("open and responded are not resolved")
	}
}

func TestVerificationRank(t *testing.T) {
	order := []VerificationLevel{VerificationUnverified, VerificationBasic, VerificationVerified, VerificationPremium}
	for i := 1; i < len(order); i++ {
		if order[i].Rank() <= order[i-1].Rank() {
			t.Errorf("%s should rank above %s", order[i], order[i-1])
		}
	}
}
