package forgegatesdk

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

// Client is a minimal Forgegate HTTP API client.
type Client struct {
	BaseURL     string
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

// TokenGrant is the mint response.
type TokenGrant struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// Artifact represents the API artifact model.
type Artifact struct {
	ID          string  `json:"id"`
	ProjectID   string  `json:"project_id"`
	SessionID   string  `json:"session_id"`
	Iteration   int     `json:"iteration"`
	Key         string  `json:"key"`
	ContentType string  `json:"content_type"`
	SizeBytes   int64   `json:"size_bytes"`
	SHA256      *string `json:"sha256,omitempty"`
	Status      string  `json:"status"`
	CreatedAt   string  `json:"created_at"`
	CompletedAt *string `json:"completed_at,omitempty"`
}

// PresignedUpload carries the pending artifact and its one-time upload URL.
type PresignedUpload struct {
	Artifact  Artifact `json:"artifact"`
	UploadURL string   `json:"upload_url"`
}

// PresignedDownload carries a verified artifact's download URL.
type PresignedDownload struct {
	Key         string `json:"key"`
	DownloadURL string `json:"download_url"`
}

// ApprovalGrant is returned at issuance; Token appears exactly once.
type ApprovalGrant struct {
	ID        string `json:"id"`
	Token     string `json:"token"`
	Status    string `json:"status"`
	Reason    string `json:"reason,omitempty"`
	ExpiresAt string `json:"expires_at"`
	ExpiresIn int    `json:"expires_in"`
}

// GateCheck is one component of a gate evaluation.
type GateCheck struct {
	Name    string         `json:"name"`
	OK      bool           `json:"ok"`
	Details map[string]any `json:"details,omitempty"`
}

// GateEvaluation is the full gate verdict for a session.
type GateEvaluation struct {
	SessionID   string      `json:"session_id"`
	OK          bool        `json:"ok"`
	Checks      []GateCheck `json:"checks"`
	EvaluatedAt string      `json:"evaluated_at"`
}

// Check is a reported check outcome.
type Check struct {
	SessionID  string         `json:"session_id"`
	Name       string         `json:"name"`
	OK         bool           `json:"ok"`
	Details    map[string]any `json:"details,omitempty"`
	ReportedBy string         `json:"reported_by"`
	ReportedAt string         `json:"reported_at"`
}

// Task represents the API task model.
type Task struct {
	ID        string `json:"id"`
	SessionID string `json:"session_id"`
	Title     string `json:"title"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// MintToken exchanges an API key for a scoped bearer token and stores it on
// the client for subsequent calls.
func (c *Client) MintToken(ctx context.Context, apiKey, role, projectID, sessionID string, ttlSeconds int) (TokenGrant, error) {
	body := map[string]any{
		"api_key": apiKey,
		"role":    role,
	}
	if projectID != "" {
		body["project_id"] = projectID
	}
	if sessionID != "" {
		body["session_id"] = sessionID
	}
	if ttlSeconds > 0 {
		body["ttl_seconds"] = ttlSeconds
	}
	var resp TokenGrant
	if err := c.do(ctx, http.MethodPost, "auth/token", body, &resp); err != nil {
		return TokenGrant{}, err
	}
	c.BearerToken = resp.AccessToken
	return resp, nil
}

// PresignPut declares an upload and returns the signed upload URL.
func (c *Client) PresignPut(ctx context.Context, sessionID string, iteration int, name, contentType string, sizeBytes int64) (PresignedUpload, error) {
	body := map[string]any{
		"iteration":    iteration,
		"name":         name,
		"content_type": contentType,
		"size_bytes":   sizeBytes,
	}
	var resp PresignedUpload
	err := c.do(ctx, http.MethodPost, c.sessionPath(sessionID, "artifacts/presign-put"), body, &resp)
	return resp, err
}

// CompleteArtifact confirms an upload with its digest and size.
func (c *Client) CompleteArtifact(ctx context.Context, sessionID, key, sha256Hex string, sizeBytes int64) (Artifact, error) {
	body := map[string]any{
		"key":        key,
		"sha256":     sha256Hex,
		"size_bytes": sizeBytes,
	}
	var resp Artifact
	err := c.do(ctx, http.MethodPost, c.sessionPath(sessionID, "artifacts/complete"), body, &resp)
	return resp, err
}

// PresignGet returns a signed download URL for a completed artifact.
func (c *Client) PresignGet(ctx context.Context, sessionID, key string) (PresignedDownload, error) {
	endpoint := c.sessionPath(sessionID, "artifacts/presign-get") + "?key=" + url.QueryEscape(key)
	var resp PresignedDownload
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// ListArtifacts returns the session's artifacts.
func (c *Client) ListArtifacts(ctx context.Context, sessionID string) ([]Artifact, error) {
	var resp []Artifact
	err := c.do(ctx, http.MethodGet, c.sessionPath(sessionID, "artifacts"), nil, &resp)
	return resp, err
}

// RequestApproval issues a single-use apply approval token.
func (c *Client) RequestApproval(ctx context.Context, sessionID, reason string, ttlSeconds int) (ApprovalGrant, error) {
	body := map[string]any{}
	if reason != "" {
		body["reason"] = reason
	}
	if ttlSeconds > 0 {
		body["ttl_seconds"] = ttlSeconds
	}
	var resp ApprovalGrant
	err := c.do(ctx, http.MethodPost, c.sessionPath(sessionID, "approvals/apply"), body, &resp)
	return resp, err
}

// ConsumeApproval spends an apply approval token.
func (c *Client) ConsumeApproval(ctx context.Context, sessionID, token string) error {
	body := map[string]any{"token": token}
	return c.do(ctx, http.MethodPost, c.sessionPath(sessionID, "approvals/apply/consume"), body, nil)
}

// Gate evaluates the readiness gate for a session.
func (c *Client) Gate(ctx context.Context, sessionID string) (GateEvaluation, error) {
	var resp GateEvaluation
	err := c.do(ctx, http.MethodGet, c.sessionPath(sessionID, "gate"), nil, &resp)
	return resp, err
}

// ReportCheck records a check outcome for the session.
func (c *Client) ReportCheck(ctx context.Context, sessionID, name string, ok bool, details map[string]any) (Check, error) {
	body := map[string]any{
		"name": name,
		"ok":   ok,
	}
	if len(details) > 0 {
		body["details"] = details
	}
	var resp Check
	err := c.do(ctx, http.MethodPost, c.sessionPath(sessionID, "checks"), body, &resp)
	return resp, err
}

// CreateTask creates a task under the session.
func (c *Client) CreateTask(ctx context.Context, sessionID, title string) (Task, error) {
	body := map[string]any{"title": title}
	var resp Task
	err := c.do(ctx, http.MethodPost, c.sessionPath(sessionID, "tasks"), body, &resp)
	return resp, err
}

// SetTaskStatus updates a task's status.
func (c *Client) SetTaskStatus(ctx context.Context, sessionID, taskID, status string) (Task, error) {
	body := map[string]any{"status": status}
	var resp Task
	endpoint := c.sessionPath(sessionID, fmt.Sprintf("tasks/%s", url.PathEscape(taskID)))
	err := c.do(ctx, http.MethodPatch, endpoint, body, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	u := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, u, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var envelope struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &envelope) == nil {
			apiErr.Code = envelope.Error.Code
			apiErr.Message = envelope.Error.Message
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) sessionPath(sessionID, p string) string {
	return fmt.Sprintf("api/v1/sessions/%s/%s", url.PathEscape(sessionID), strings.TrimLeft(p, "/"))
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
