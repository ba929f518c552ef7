package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strconv"
	"testing"

	"agentmarket/internal/config"
	"agentmarket/internal/db"
	"agentmarket/internal/engine"
	"agentmarket/internal/migrate"
)

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, config.Default())
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v0",
		Auth: AuthConfig{
			JWTSecret:              "test-secret",
			AllowLegacyActorHeader: true,
		},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func asClient() map[string]string {
	return map[string]string{"X-Actor-Id": "client-1"}
}

func asAgent() map[string]string {
	return map[string]string{"X-Actor-Id": "agent-1"}
}

func TestAuthRequired(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, _ := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/jobs", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without credentials, got %d", res.StatusCode)
	}
	// health stays open
	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected open health endpoint, got %d", res.StatusCode)
	}
}

func TestDevLoginIssuesUsableToken(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/auth/dev/login", map[string]any{
		"actor_id": "client-1",
		"roles":    []string{"admin"},
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dev login: %d %s", res.StatusCode, string(data))
	}
	var login DevLoginResponse
	if err := json.Unmarshal(data, &login); err != nil || login.Token == "" {
		t.Fatalf("expected token, got %s (%v)", string(data), err)
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{
		"Authorization": "Bearer " + login.Token,
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("me: %d %s", res.StatusCode, string(data))
	}
	var who WhoAmIResponse
	_ = json.Unmarshal(data, &who)
	if who.ActorID != "client-1" || who.Source != "jwt" {
		t.Fatalf("unexpected principal: %+v", who)
	}
}

func TestJobFlowOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/agents", map[string]any{
		"name":   "Crawler",
		"skills": []string{"scraping"},
	}, asAgent())
	if res.StatusCode != http.StatusOK {
		t.Fatalf("register agent: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/jobs", map[string]any{
		"title":    "Scrape listings",
		"payment":  "100",
		"category": "data",
	}, asClient())
	if res.StatusCode != http.StatusOK {
		t.Fatalf("post job: %d %s", res.StatusCode, string(data))
	}
	var job JobResponse
	if err := json.Unmarshal(data, &job); err != nil {
		t.Fatalf("unmarshal job: %v", err)
	}
	if job.Status != "POSTED" {
		t.Fatalf("expected POSTED, got %s", job.Status)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+jobPath(job.ID)+"/bids", map[string]any{
		"amount":         "80",
		"proposal":       "I will scrape it nightly",
		"estimated_days": 3,
	}, asAgent())
	if res.StatusCode != http.StatusOK {
		t.Fatalf("place bid: %d %s", res.StatusCode, string(data))
	}
	var bid BidResponse
	_ = json.Unmarshal(data, &bid)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+jobPath(job.ID)+"/accept", map[string]any{
		"bid_id": bid.BidID,
	}, asClient())
	if res.StatusCode != http.StatusOK {
		t.Fatalf("accept bid: %d %s", res.StatusCode, string(data))
	}
	_ = json.Unmarshal(data, &job)
	if job.Status != "IN_PROGRESS" || job.Agent == nil || *job.Agent != "agent-1" {
		t.Fatalf("unexpected job after accept: %s", string(data))
	}

	// a second accept conflicts
	res, data = doJSON(t, client, http.MethodPost, srv.URL+jobPath(job.ID)+"/accept", map[string]any{
		"bid_id": bid.BidID,
	}, asClient())
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 on re-accept, got %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+jobPath(job.ID)+"/escrow", nil, asClient())
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get escrow: %d %s", res.StatusCode, string(data))
	}
	var esc EscrowResponse
	_ = json.Unmarshal(data, &esc)
	if esc.Status != "LOCKED" || esc.Amount != "80" {
		t.Fatalf("expected 80 locked, got %s", string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+jobPath(job.ID)+"/complete", nil, asAgent())
	if res.StatusCode != http.StatusOK {
		t.Fatalf("complete: %d %s", res.StatusCode, string(data))
	}
	_ = json.Unmarshal(data, &job)
	if job.Status != "COMPLETED" {
		t.Fatalf("expected COMPLETED, got %s", job.Status)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/stats", nil, asClient())
	if res.StatusCode != http.StatusOK {
		t.Fatalf("stats: %d %s", res.StatusCode, string(data))
	}
	var stats StatsResponse
	_ = json.Unmarshal(data, &stats)
	if stats.CompletedJobs != 1 || stats.TotalPaymentVolume != "80" {
		t.Fatalf("unexpected stats: %s", string(data))
	}
}

func TestLowercaseFilterTokens(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/jobs", map[string]any{
		"title":    "Scrape listings",
		"payment":  "100",
		"category": "data",
	}, asClient())
	if res.StatusCode != http.StatusOK {
		t.Fatalf("post job: %d %s", res.StatusCode, string(data))
	}

	for _, token := range []string{"posted", "POSTED", "Posted"} {
		res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/jobs?status="+token, nil, asClient())
		if res.StatusCode != http.StatusOK {
			t.Fatalf("status=%s: %d %s", token, res.StatusCode, string(data))
		}
		var list JobListResponse
		if err := json.Unmarshal(data, &list); err != nil {
			t.Fatalf("unmarshal list: %v", err)
		}
		if list.Total != 1 || len(list.Items) != 1 || list.Items[0].Status != "POSTED" {
			t.Fatalf("status=%s: unexpected list %s", token, string(data))
		}
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/jobs?status=bogus", nil, asClient())
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("bogus status: expected 400, got %d %s", res.StatusCode, string(data))
	}
}

func TestErrorEnvelope(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/jobs/999", nil, asClient())
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if envelope.Error.Code != "not_found" || envelope.Error.Message == "" {
		t.Fatalf("unexpected envelope: %s", string(data))
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/jobs", map[string]any{
		"title":   "free work",
		"payment": "-5",
	}, asClient())
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for negative payment, got %d %s", res.StatusCode, string(data))
	}
}

func TestEventLogOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/jobs", map[string]any{
		"title":   "Emit an event",
		"payment": "10",
	}, asClient())
	if res.StatusCode != http.StatusOK {
		t.Fatalf("post job: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/events?type=job.posted", nil, asClient())
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events: %d %s", res.StatusCode, string(data))
	}
	var events []EventResponse
	if err := json.Unmarshal(data, &events); err != nil {
		t.Fatalf("unmarshal events: %v", err)
	}
	if len(events) != 1 || events[0].ActorID != "client-1" {
		t.Fatalf("expected one job.posted event by client-1, got %s", string(data))
	}
}

func jobPath(id int64) string {
	return "/v0/jobs/" + strconv.FormatInt(id, 10)
}
