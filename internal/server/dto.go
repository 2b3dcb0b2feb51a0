package server

import (
	"encoding/json"

	"forgegate/internal/domain"
)

type MintTokenRequest struct {
	APIKey     string `json:"api_key"`
	Role       string `json:"role" enum:"admin,runner,user"`
	ProjectID  string `json:"project_id,omitempty"`
	SessionID  string `json:"session_id,omitempty"`
	Subject    string `json:"subject,omitempty"`
	TTLSeconds int    `json:"ttl_seconds,omitempty" minimum:"0"`
}

type MintTokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type" example:"Bearer"`
	ExpiresIn   int    `json:"expires_in"`
}

type CreateProjectRequest struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
}

type ProjectResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type CreateSessionRequest struct {
	ID string `json:"id,omitempty"`
}

type SessionResponse struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type PresignPutRequest struct {
	Iteration   int    `json:"iteration" minimum:"0"`
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	SizeBytes   int64  `json:"size_bytes"`
}

type ArtifactResponse struct {
	ID          string  `json:"id"`
	ProjectID   string  `json:"project_id"`
	SessionID   string  `json:"session_id"`
	Iteration   int     `json:"iteration"`
	Key         string  `json:"key"`
	ContentType string  `json:"content_type"`
	SizeBytes   int64   `json:"size_bytes"`
	SHA256      *string `json:"sha256,omitempty"`
	Status      string  `json:"status" enum:"pending,complete"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
	CompletedAt *string `json:"completed_at,omitempty" format:"date-time"`
}

type PresignPutResponse struct {
	Artifact  ArtifactResponse `json:"artifact"`
	UploadURL string           `json:"upload_url"`
}

type CompleteArtifactRequest struct {
	Key       string `json:"key"`
	SHA256    string `json:"sha256"`
	SizeBytes int64  `json:"size_bytes"`
}

type PresignGetResponse struct {
	Key         string `json:"key"`
	DownloadURL string `json:"download_url"`
}

type RequestApprovalRequest struct {
	Reason     string `json:"reason,omitempty"`
	TTLSeconds int    `json:"ttl_seconds,omitempty" minimum:"0"`
}

// ApprovalGrantResponse is the only place the raw token ever appears.
type ApprovalGrantResponse struct {
	ID        string `json:"id"`
	Token     string `json:"token"`
	Status    string `json:"status"`
	Reason    string `json:"reason,omitempty"`
	ExpiresAt string `json:"expires_at" format:"date-time"`
	ExpiresIn int    `json:"expires_in"`
}

type ConsumeApprovalRequest struct {
	Token string `json:"token"`
}

type ConsumeApprovalResponse struct {
	Consumed bool `json:"consumed"`
}

type GateCheckResponse struct {
	Name    string         `json:"name"`
	OK      bool           `json:"ok"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

type GateResponse struct {
	SessionID   string              `json:"session_id"`
	OK          bool                `json:"ok"`
	Checks      []GateCheckResponse `json:"checks"`
	EvaluatedAt string              `json:"evaluated_at" format:"date-time"`
}

type ReportCheckRequest struct {
	Name    string         `json:"name" enum:"tests,coverage,security"`
	OK      bool           `json:"ok"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

type CheckResponse struct {
	SessionID  string         `json:"session_id"`
	Name       string         `json:"name"`
	OK         bool           `json:"ok"`
	Details    map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
	ReportedBy string         `json:"reported_by"`
	ReportedAt string         `json:"reported_at" format:"date-time"`
}

type CreateTaskRequest struct {
	Title string `json:"title"`
}

type UpdateTaskRequest struct {
	Status string `json:"status" enum:"planned,in_progress,done,canceled"`
}

type TaskResponse struct {
	ID        string `json:"id"`
	SessionID string `json:"session_id"`
	Title     string `json:"title"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at" format:"date-time"`
	UpdatedAt string `json:"updated_at" format:"date-time"`
}

type AuditEntryResponse struct {
	ID        int64          `json:"id"`
	TS        string         `json:"ts" format:"date-time"`
	ActorSub  string         `json:"actor_sub"`
	Action    string         `json:"action"`
	ProjectID string         `json:"project_id,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
	Resource  string         `json:"resource,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

type paginatedAudit struct {
	Items      []AuditEntryResponse `json:"items"`
	NextCursor int64                `json:"next_cursor,omitempty"`
}

func projectResponse(p domain.Project) ProjectResponse {
	return ProjectResponse{ID: p.ID, Name: p.Name, CreatedAt: p.CreatedAt}
}

func sessionResponse(s domain.Session) SessionResponse {
	return SessionResponse{ID: s.ID, ProjectID: s.ProjectID, Status: s.Status, CreatedAt: s.CreatedAt}
}

func artifactResponse(a domain.Artifact) ArtifactResponse {
	return ArtifactResponse{
		ID:          a.ID,
		ProjectID:   a.ProjectID,
		SessionID:   a.SessionID,
		Iteration:   a.Iteration,
		Key:         a.Key,
		ContentType: a.ContentType,
		SizeBytes:   a.SizeBytes,
		SHA256:      a.SHA256,
		Status:      a.Status,
		CreatedAt:   a.CreatedAt,
		CompletedAt: a.CompletedAt,
	}
}

func mapArtifacts(items []domain.Artifact) []ArtifactResponse {
	res := make([]ArtifactResponse, 0, len(items))
	for _, a := range items {
		res = append(res, artifactResponse(a))
	}
	return res
}

func gateResponse(ev domain.GateEvaluation) GateResponse {
	checks := make([]GateCheckResponse, 0, len(ev.Checks))
	for _, c := range ev.Checks {
		checks = append(checks, GateCheckResponse{Name: c.Name, OK: c.OK, Details: c.Details})
	}
	return GateResponse{
		SessionID:   ev.SessionID,
		OK:          ev.OK,
		Checks:      checks,
		EvaluatedAt: ev.EvaluatedAt,
	}
}

func checkResponse(c domain.SessionCheck) CheckResponse {
	var details map[string]any
	if c.DetailsJSON != "" {
		_ = json.Unmarshal([]byte(c.DetailsJSON), &details)
	}
	return CheckResponse{
		SessionID:  c.SessionID,
		Name:       c.Name,
		OK:         c.OK,
		Details:    details,
		ReportedBy: c.ReportedBy,
		ReportedAt: c.ReportedAt,
	}
}

func taskResponse(t domain.Task) TaskResponse {
	return TaskResponse{
		ID:        t.ID,
		SessionID: t.SessionID,
		Title:     t.Title,
		Status:    t.Status,
		CreatedAt: t.CreatedAt,
		UpdatedAt: t.UpdatedAt,
	}
}

func mapTasks(items []domain.Task) []TaskResponse {
	res := make([]TaskResponse, 0, len(items))
	for _, t := range items {
		res = append(res, taskResponse(t))
	}
	return res
}

func auditEntryResponse(e domain.AuditEntry) AuditEntryResponse {
	var meta map[string]any
	if e.MetadataJSON != "" {
		_ = json.Unmarshal([]byte(e.MetadataJSON), &meta)
	}
	return AuditEntryResponse{
		ID:        e.ID,
		TS:        e.TS,
		ActorSub:  e.ActorSub,
		Action:    e.Action,
		ProjectID: e.ProjectID,
		SessionID: e.SessionID,
		Resource:  e.Resource,
		Metadata:  meta,
	}
}

func mapAuditEntries(items []domain.AuditEntry) []AuditEntryResponse {
	res := make([]AuditEntryResponse, 0, len(items))
	for _, e := range items {
		res = append(res, auditEntryResponse(e))
	}
	return res
}
