package domain

// Role is the fixed role set recognized by the control plane.
const (
	RoleAdmin  = "admin"
	RoleRunner = "runner"
	RoleUser   = "user"
)

// Artifact status values. Transitions only move forward: pending -> complete.
const (
	ArtifactPending  = "pending"
	ArtifactComplete = "complete"
)

// Approval token status values. A token is consumed at most once; expiry is
// checked at consumption time rather than stored as a status.
const (
	ApprovalIssued   = "issued"
	ApprovalConsumed = "consumed"
)

// Gate check names, in canonical evaluation order.
const (
	CheckTasks    = "tasks"
	CheckTests    = "tests"
	CheckCoverage = "coverage"
	CheckSecurity = "security"
)

type Project struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// Session is reference data owned by the external pipeline store. Forgegate
// reads it to resolve scope and never mutates it.
type Session struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Task struct {
	ID        string `json:"id"`
	SessionID string `json:"session_id"`
	Title     string `json:"title"`
	Status    string `json:"status" enum:"planned,in_progress,done,canceled"`
	CreatedAt string `json:"created_at" format:"date-time"`
	UpdatedAt string `json:"updated_at" format:"date-time"`
}

type Artifact struct {
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

// ApprovalToken stores only the one-way hash of the raw secret. The raw token
// is returned exactly once at issuance and is unrecoverable afterwards.
type ApprovalToken struct {
	ID          string  `json:"id"`
	SessionID   string  `json:"session_id"`
	TokenHash   string  `json:"-"`
	Status      string  `json:"status" enum:"issued,consumed"`
	Reason      string  `json:"reason,omitempty"`
	IssuedToSub string  `json:"issued_to_sub"`
	ExpiresAt   string  `json:"expires_at" format:"date-time"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
	ConsumedAt  *string `json:"consumed_at,omitempty" format:"date-time"`
}

type GateCheckResult struct {
	Name    string         `json:"name" enum:"tasks,tests,coverage,security"`
	OK      bool           `json:"ok"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// GateEvaluation is recomputed on every request; it is never persisted.
type GateEvaluation struct {
	SessionID   string            `json:"session_id"`
	OK          bool              `json:"ok"`
	Checks      []GateCheckResult `json:"checks"`
	EvaluatedAt string            `json:"evaluated_at" format:"date-time"`
}

// SessionCheck is the latest reported outcome for one check domain.
type SessionCheck struct {
	SessionID   string `json:"session_id"`
	Name        string `json:"name"`
	OK          bool   `json:"ok"`
	DetailsJSON string `json:"details_json,omitempty"`
	ReportedBy  string `json:"reported_by"`
	ReportedAt  string `json:"reported_at" format:"date-time"`
}

// AuditEntry is append-only and immutable.
type AuditEntry struct {
	ID           int64  `json:"id"`
	TS           string `json:"ts" format:"date-time"`
	ActorSub     string `json:"actor_sub"`
	Action       string `json:"action"`
	ProjectID    string `json:"project_id,omitempty"`
	SessionID    string `json:"session_id,omitempty"`
	Resource     string `json:"resource,omitempty"`
	MetadataJSON string `json:"metadata_json,omitempty"`
}
