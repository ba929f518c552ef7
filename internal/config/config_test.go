package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	if cfg.Marketplace.Name != "agentmarket" {
		t.Fatalf("name = %q", cfg.Marketplace.Name)
	}
	if cfg.Limits.MaxMilestones != 20 || cfg.Limits.MaxTags != 16 {
		t.Fatalf("unexpected limits: %+v", cfg.Limits)
	}
	if cfg.Sweeper.Schedule != "@every 5m" {
		t.Fatalf("schedule = %q", cfg.Sweeper.Schedule)
	}
	if !cfg.KnownCategory("data") || !cfg.KnownCategory("") {
		t.Fatalf("default catalog should accept data and empty")
	}
	if cfg.KnownCategory("underwater-basket-weaving") {
		t.Fatalf("unknown category accepted")
	}
}

func TestLoadMissingFileFallsBack(t *testing.T) {
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Marketplace.Name != "agentmarket" {
		t.Fatalf("expected defaults, got %+v", cfg)
	}
}

func TestLoadWorkspaceFile(t *testing.T) {
	dir := t.TempDir()
	raw := `marketplace:
  name: testmarket
disputes:
  admins: [arbiter]
limits:
  max_bids_per_job: 3
webhooks:
  - url: http://localhost:9999/hook
    events: [job.posted]
`
	if err := os.WriteFile(filepath.Join(dir, "marketplace.yml"), []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Marketplace.Name != "testmarket" {
		t.Fatalf("name = %q", cfg.Marketplace.Name)
	}
	if !cfg.IsDisputeAdmin("arbiter") || cfg.IsDisputeAdmin("random") {
		t.Fatalf("admin list not applied")
	}
	if cfg.Limits.MaxBidsPerJob != 3 {
		t.Fatalf("max_bids_per_job = %d", cfg.Limits.MaxBidsPerJob)
	}
	// unset limits still get defaults
	if cfg.Limits.MaxMilestones != 20 {
		t.Fatalf("max_milestones = %d", cfg.Limits.MaxMilestones)
	}
	if len(cfg.Webhooks) != 1 || cfg.Webhooks[0].URL == "" {
		t.Fatalf("webhooks not parsed: %+v", cfg.Webhooks)
	}
}

func TestValidateRejectsBadConfig(t *testing.T) {
	_, err := FromYAML([]byte("webhooks:\n  - events: [job.posted]\n"))
	if err == nil {
		t.Fatalf("expected error for webhook without url")
	}
	_, err = FromYAML([]byte("disputes:\n  admins: [\"\"]\n"))
	if err == nil {
		t.Fatalf("expected error for empty admin")
	}
}
