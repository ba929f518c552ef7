package repo_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"agentmarket/internal/db"
	"agentmarket/internal/domain"
	"agentmarket/internal/migrate"
	"agentmarket/internal/repo"
)

func newTestRepo(t *testing.T) repo.Repo {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return repo.Repo{DB: conn}
}

func mustDec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func seedJob(t *testing.T, r repo.Repo, id int64, title, client, payment, category string, tags []string) {
	t.Helper()
	ctx := context.Background()
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer tx.Rollback()
	j := domain.Job{
		ID:        id,
		Client:    client,
		Title:     title,
		Payment:   mustDec(t, payment),
		Status:    domain.JobPosted,
		Category:  category,
		Tags:      tags,
		CreatedAt: "2024-01-01T00:00:00Z",
	}
	if err := r.InsertJobTx(ctx, tx, j); err != nil {
		t.Fatalf("insert job: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
}

func TestNextSeqIsMonotonic(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	for want := int64(1); want <= 3; want++ {
		tx, err := r.DB.BeginTx(ctx, nil)
		if err != nil {
			t.Fatal(err)
		}
		got, err := r.NextSeq(ctx, tx, repo.SeqJobs)
		if err != nil {
			t.Fatalf("next seq: %v", err)
		}
		if err := tx.Commit(); err != nil {
			t.Fatal(err)
		}
		if got != want {
			t.Fatalf("seq = %d, want %d", got, want)
		}
	}
	// independent counters do not interfere
	tx, _ := r.DB.BeginTx(ctx, nil)
	got, err := r.NextSeq(ctx, tx, repo.SeqDisputes)
	if err != nil || got != 1 {
		t.Fatalf("disputes seq = %d (%v), want 1", got, err)
	}
	_ = tx.Commit()
}

func TestListJobsFilters(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	seedJob(t, r, 1, "Scrape catalog", "alice", "50", "data", []string{"scraping", "daily"})
	seedJob(t, r, 2, "Write summaries", "bob", "120", "content", []string{"writing"})
	seedJob(t, r, 3, "Scrape prices", "alice", "80", "data", []string{"scraping"})

	jobs, err := r.ListJobs(ctx, repo.JobFilter{Tag: "scraping", Limit: 10})
	if err != nil || len(jobs) != 2 {
		t.Fatalf("tag filter: %d jobs (%v)", len(jobs), err)
	}

	jobs, err = r.ListJobs(ctx, repo.JobFilter{Client: "bob", Limit: 10})
	if err != nil || len(jobs) != 1 || jobs[0].ID != 2 {
		t.Fatalf("client filter: %+v (%v)", jobs, err)
	}

	jobs, err = r.ListJobs(ctx, repo.JobFilter{Search: "scrape", Limit: 10})
	if err != nil || len(jobs) != 2 {
		t.Fatalf("search filter: %d jobs (%v)", len(jobs), err)
	}

	// payment sorts numerically, not lexically
	jobs, err = r.ListJobs(ctx, repo.JobFilter{SortBy: "payment", SortDir: "desc", Limit: 10})
	if err != nil || len(jobs) != 3 {
		t.Fatalf("sort: %d jobs (%v)", len(jobs), err)
	}
	if jobs[0].ID != 2 || jobs[2].ID != 1 {
		t.Fatalf("payment sort order wrong: %d %d %d", jobs[0].ID, jobs[1].ID, jobs[2].ID)
	}

	total, err := r.CountJobs(ctx, repo.JobFilter{Category: "data"})
	if err != nil || total != 2 {
		t.Fatalf("count: %d (%v)", total, err)
	}
}

func TestGetJobNotFound(t *testing.T) {
	r := newTestRepo(t)
	_, err := r.GetJob(context.Background(), 42)
	if err != repo.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAPIKeyRoundTrip(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	key := domain.APIKey{
		ID:      "k-1",
		Owner:   "ops",
		Name:    "ci",
		KeyHash: repo.HashAPIKey("super-secret"),
	}
	if err := r.InsertAPIKey(ctx, nil, key); err != nil {
		t.Fatalf("insert: %v", err)
	}
	got, err := r.GetAPIKeyByHash(ctx, repo.HashAPIKey("super-secret"))
	if err != nil || got.Owner != "ops" {
		t.Fatalf("lookup: %+v (%v)", got, err)
	}
	// hashing trims whitespace so header parsing stays forgiving
	if repo.HashAPIKey(" super-secret ") != key.KeyHash {
		t.Fatalf("hash should trim input")
	}
	if _, err := r.GetAPIKeyByHash(ctx, repo.HashAPIKey("wrong")); err != repo.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := r.DeleteAPIKey(ctx, "k-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := r.GetAPIKeyByHash(ctx, key.KeyHash); err != repo.ErrNotFound {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestWebhookCursorPersistence(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	cur, err := r.WebhookCursor(ctx, "http://example.test/hook")
	if err != nil || cur != 0 {
		t.Fatalf("fresh cursor = %d (%v)", cur, err)
	}
	if err := r.SetWebhookCursor(ctx, "http://example.test/hook", 7); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := r.SetWebhookCursor(ctx, "http://example.test/hook", 12); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	cur, err = r.WebhookCursor(ctx, "http://example.test/hook")
	if err != nil || cur != 12 {
		t.Fatalf("cursor = %d (%v), want 12", cur, err)
	}
}
