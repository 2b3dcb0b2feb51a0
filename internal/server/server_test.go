package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"forgegate/internal/config"
	"forgegate/internal/db"
	"forgegate/internal/engine"
	"forgegate/internal/migrate"
	"forgegate/internal/ratelimit"
)

const testAPIKey = "test-api-key"

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }

func newTestServer(t *testing.T, mutate func(*config.Config, *Config)) *testServer {
	t.Helper()
	workspace := t.TempDir()
	cfg := config.Default()
	cfg.Auth.JWTSecret = "test-jwt-secret"
	cfg.Auth.APIKey = testAPIKey
	conn, err := db.Open(workspace)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, cfg)
	ctx := context.Background()
	if _, err := e.CreateProject(ctx, "p1", "demo"); err != nil {
		t.Fatalf("create project: %v", err)
	}
	if _, err := e.CreateSession(ctx, "p1", "s1"); err != nil {
		t.Fatalf("create session: %v", err)
	}
	srvCfg := Config{
		Engine:   e,
		BasePath: "/api/v1",
		Auth: AuthConfig{
			JWTSecret: cfg.Auth.JWTSecret,
			APIKey:    cfg.Auth.APIKey,
		},
		Limiter:   ratelimit.NewInMemory(time.Minute),
		RateLimit: 10000,
	}
	if mutate != nil {
		mutate(cfg, &srvCfg)
	}
	handler, err := New(srvCfg)
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	ts := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	t.Cleanup(ts.close)
	return ts
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, token string) (*http.Response, []byte) {
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
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
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

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal error envelope %s: %v", string(data), err)
	}
	return envelope.Error.Code
}

func mintToken(t *testing.T, srv *testServer, role, projectID, sessionID string) string {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/v1/auth/token", map[string]any{
		"api_key":    testAPIKey,
		"role":       role,
		"project_id": projectID,
		"session_id": sessionID,
	}, "")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("mint status %d: %s", res.StatusCode, string(data))
	}
	var grant MintTokenResponse
	if err := json.Unmarshal(data, &grant); err != nil {
		t.Fatalf("unmarshal grant: %v", err)
	}
	if grant.AccessToken == "" || grant.TokenType != "Bearer" {
		t.Fatalf("bad grant: %+v", grant)
	}
	return grant.AccessToken
}

func TestMintTokenRejectsBadKey(t *testing.T) {
	srv := newTestServer(t, nil)
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/v1/auth/token", map[string]any{
		"api_key": "wrong-key",
		"role":    "runner",
	}, "")
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status %d, want 401", res.StatusCode)
	}
	if code := errorCode(t, data); code != "invalid_api_key" {
		t.Fatalf("code = %q, want invalid_api_key", code)
	}
}

func TestMintTokenRejectsUnknownRole(t *testing.T) {
	srv := newTestServer(t, nil)
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/v1/auth/token", map[string]any{
		"api_key": testAPIKey,
		"role":    "root",
	}, "")
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status %d, want 400: %s", res.StatusCode, string(data))
	}
	if code := errorCode(t, data); code != "validation_error" {
		t.Fatalf("code = %q, want validation_error", code)
	}
}

func TestUnauthenticatedRequestsRejected(t *testing.T) {
	srv := newTestServer(t, nil)
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/v1/sessions/s1/gate", nil, "")
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status %d, want 401", res.StatusCode)
	}
	if code := errorCode(t, data); code != "unauthorized" {
		t.Fatalf("code = %q, want unauthorized", code)
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/v1/sessions/s1/gate", nil, "garbage-token")
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("garbage token status %d, want 401: %s", res.StatusCode, string(data))
	}
}

func TestSessionScopeMismatch(t *testing.T) {
	srv := newTestServer(t, nil)
	token := mintToken(t, srv, "runner", "p1", "s1")
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/v1/sessions/other-session/gate", nil, token)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("status %d, want 403: %s", res.StatusCode, string(data))
	}
	if code := errorCode(t, data); code != "session_scope_mismatch" {
		t.Fatalf("code = %q, want session_scope_mismatch", code)
	}
	// The matching session works.
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/v1/sessions/s1/gate", nil, token)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("scoped session status %d: %s", res.StatusCode, string(data))
	}
}

func TestRoleEnforcement(t *testing.T) {
	srv := newTestServer(t, nil)
	runner := mintToken(t, srv, "runner", "p1", "")
	user := mintToken(t, srv, "user", "p1", "")

	// A runner can never grant its own approval.
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/v1/sessions/s1/approvals/apply",
		map[string]any{"reason": "x"}, runner)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("runner approval status %d, want 403: %s", res.StatusCode, string(data))
	}
	if code := errorCode(t, data); code != "forbidden" {
		t.Fatalf("code = %q, want forbidden", code)
	}

	// A user cannot report check outcomes.
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/v1/sessions/s1/checks",
		map[string]any{"name": "tests", "ok": true}, user)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("user check report status %d, want 403: %s", res.StatusCode, string(data))
	}
}

func TestArtifactOperationsOpenToAllRoles(t *testing.T) {
	srv := newTestServer(t, nil)
	user := mintToken(t, srv, "user", "p1", "s1")

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/v1/sessions/s1/artifacts/presign-put",
		map[string]any{"iteration": 0, "name": "a.json", "content_type": "application/json", "size_bytes": 100}, user)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("user presign-put status %d, want 200: %s", res.StatusCode, string(data))
	}
	var put PresignPutResponse
	if err := json.Unmarshal(data, &put); err != nil {
		t.Fatalf("unmarshal presign-put: %v", err)
	}

	sha := strings.Repeat("0a", 32)
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/v1/sessions/s1/artifacts/complete",
		map[string]any{"key": put.Artifact.Key, "sha256": sha, "size_bytes": 100}, user)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("user complete status %d, want 200: %s", res.StatusCode, string(data))
	}
}

func TestArtifactFlowOverHTTP(t *testing.T) {
	srv := newTestServer(t, nil)
	runner := mintToken(t, srv, "runner", "p1", "s1")
	user := mintToken(t, srv, "user", "p1", "s1")

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/v1/sessions/s1/artifacts/presign-put",
		map[string]any{"iteration": 2, "name": "report.json", "content_type": "application/json", "size_bytes": 42}, runner)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("presign-put status %d: %s", res.StatusCode, string(data))
	}
	var put PresignPutResponse
	if err := json.Unmarshal(data, &put); err != nil {
		t.Fatalf("unmarshal presign-put: %v", err)
	}
	if put.Artifact.Key != "projects/p1/sessions/s1/iter/2/report.json" {
		t.Fatalf("derived key = %q", put.Artifact.Key)
	}
	if put.UploadURL == "" {
		t.Fatal("no upload url")
	}

	getURL := srv.URL + "/api/v1/sessions/s1/artifacts/presign-get?key=" + url.QueryEscape(put.Artifact.Key)

	// Download is refused until completion, indistinguishable from missing.
	res, data = doJSON(t, srv.Client(), http.MethodGet, getURL, nil, user)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("presign-get before complete status %d, want 404: %s", res.StatusCode, string(data))
	}
	if code := errorCode(t, data); code != "not_found" {
		t.Fatalf("code = %q, want not_found", code)
	}

	sha := strings.Repeat("ef", 32)
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/v1/sessions/s1/artifacts/complete",
		map[string]any{"key": put.Artifact.Key, "sha256": sha, "size_bytes": 42}, runner)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("complete status %d: %s", res.StatusCode, string(data))
	}
	var completed ArtifactResponse
	if err := json.Unmarshal(data, &completed); err != nil {
		t.Fatalf("unmarshal artifact: %v", err)
	}
	if completed.Status != "complete" || completed.SHA256 == nil || *completed.SHA256 != sha {
		t.Fatalf("artifact after completion: %+v", completed)
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, getURL, nil, user)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("presign-get status %d: %s", res.StatusCode, string(data))
	}
	var get PresignGetResponse
	if err := json.Unmarshal(data, &get); err != nil {
		t.Fatalf("unmarshal presign-get: %v", err)
	}
	if !strings.Contains(get.DownloadURL, "X-Forge-Signature=") {
		t.Fatalf("download url unsigned: %s", get.DownloadURL)
	}
}

func TestApprovalFlowOverHTTP(t *testing.T) {
	srv := newTestServer(t, nil)
	user := mintToken(t, srv, "user", "p1", "s1")
	runner := mintToken(t, srv, "runner", "p1", "s1")

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/v1/sessions/s1/approvals/apply",
		map[string]any{"reason": "deploy", "ttl_seconds": 120}, user)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("request approval status %d: %s", res.StatusCode, string(data))
	}
	var grant ApprovalGrantResponse
	if err := json.Unmarshal(data, &grant); err != nil {
		t.Fatalf("unmarshal grant: %v", err)
	}
	if grant.Token == "" || grant.Status != "issued" || grant.ExpiresIn != 120 {
		t.Fatalf("bad grant: %+v", grant)
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/v1/sessions/s1/approvals/apply/consume",
		map[string]any{"token": grant.Token}, runner)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("consume status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/v1/sessions/s1/approvals/apply/consume",
		map[string]any{"token": grant.Token}, runner)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("double consume status %d, want 400: %s", res.StatusCode, string(data))
	}
	if code := errorCode(t, data); code != "approval_not_usable" {
		t.Fatalf("code = %q, want approval_not_usable", code)
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/v1/sessions/s1/approvals/apply/consume",
		map[string]any{"token": "unknown-token"}, runner)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown token status %d, want 404: %s", res.StatusCode, string(data))
	}
	if code := errorCode(t, data); code != "approval_not_found" {
		t.Fatalf("code = %q, want approval_not_found", code)
	}
}

func TestGateOverHTTP(t *testing.T) {
	srv := newTestServer(t, nil)
	runner := mintToken(t, srv, "runner", "p1", "s1")

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/v1/sessions/s1/gate", nil, runner)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("gate status %d: %s", res.StatusCode, string(data))
	}
	var gate GateResponse
	if err := json.Unmarshal(data, &gate); err != nil {
		t.Fatalf("unmarshal gate: %v", err)
	}
	if gate.OK {
		t.Fatal("gate passed with no reported checks")
	}
	if len(gate.Checks) != 4 {
		t.Fatalf("gate returned %d checks, want 4", len(gate.Checks))
	}

	for _, body := range []map[string]any{
		{"name": "tests", "ok": true},
		{"name": "coverage", "ok": true, "details": map[string]any{"percent": 95.0}},
		{"name": "security", "ok": true},
	} {
		res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/v1/sessions/s1/checks", body, runner)
		if res.StatusCode != http.StatusOK {
			t.Fatalf("report %v status %d: %s", body["name"], res.StatusCode, string(data))
		}
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/v1/sessions/s1/gate", nil, runner)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("gate status %d: %s", res.StatusCode, string(data))
	}
	if err := json.Unmarshal(data, &gate); err != nil {
		t.Fatalf("unmarshal gate: %v", err)
	}
	if !gate.OK {
		t.Fatalf("gate failed after all checks reported: %+v", gate.Checks)
	}
}

func TestAuditEndpointIsAdminOnly(t *testing.T) {
	srv := newTestServer(t, nil)
	runner := mintToken(t, srv, "runner", "p1", "")
	admin := mintToken(t, srv, "admin", "", "")

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/v1/audit", nil, runner)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("runner audit status %d, want 403: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/v1/audit", nil, admin)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("admin audit status %d: %s", res.StatusCode, string(data))
	}
	var page paginatedAudit
	if err := json.Unmarshal(data, &page); err != nil {
		t.Fatalf("unmarshal audit page: %v", err)
	}
}

func TestRateLimitReturns429(t *testing.T) {
	srv := newTestServer(t, func(_ *config.Config, sc *Config) {
		sc.RateLimit = 3
	})
	token := mintToken(t, srv, "runner", "p1", "s1")
	var last *http.Response
	var data []byte
	for i := 0; i < 5; i++ {
		last, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/v1/sessions/s1/gate", nil, token)
	}
	if last.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("status %d, want 429: %s", last.StatusCode, string(data))
	}
	if code := errorCode(t, data); code != "rate_limited" {
		t.Fatalf("code = %q, want rate_limited", code)
	}
}

func TestHealthIsOpen(t *testing.T) {
	srv := newTestServer(t, nil)
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/v1/health", nil, "")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d: %s", res.StatusCode, string(data))
	}
	if !strings.Contains(string(data), "ok") {
		t.Fatalf("health body: %s", string(data))
	}
}
