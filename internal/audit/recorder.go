package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"
)

// Action vocabulary. Every sensitive state change appends exactly one entry.
const (
	ActionArtifactPresignPut = "artifact.presign_put"
	ActionArtifactComplete   = "artifact.complete"
	ActionArtifactPresignGet = "artifact.presign_get"
	ActionApprovalIssue      = "approval.issue_apply"
	ActionApprovalConsume    = "approval.consume_apply"
	ActionCheckReport        = "check.report"
)

// Recorder appends immutable audit entries. When a transaction is supplied
// the entry commits or rolls back with the primary operation; the standalone
// path is best-effort and logs failures instead of failing the caller.
type Recorder struct {
	DB     *sql.DB
	Now    func() time.Time
	Logger *log.Logger
}

type Metadata map[string]any

func (r Recorder) logger() *log.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return log.Default()
}

func (r Recorder) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

// Append writes an entry inside tx.
func (r Recorder) Append(ctx context.Context, tx *sql.Tx, actorSub, action, projectID, sessionID, resource string, meta Metadata) error {
	ts := r.now().UTC().Format(time.RFC3339)
	if meta == nil {
		meta = Metadata{}
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal audit metadata: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO audit_log(ts,actor_sub,action,project_id,session_id,resource,metadata_json) VALUES (?,?,?,?,?,?,?)`,
		ts, actorSub, action, nullable(projectID), nullable(sessionID), nullable(resource), string(data))
	return err
}

// Record writes an entry outside any transaction. A failure is surfaced in
// the log but does not propagate; the primary operation already succeeded.
func (r Recorder) Record(ctx context.Context, actorSub, action, projectID, sessionID, resource string, meta Metadata) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		r.logger().Printf("audit: begin failed for %s: %v", action, err)
		return
	}
	defer tx.Rollback()
	if err := r.Append(ctx, tx, actorSub, action, projectID, sessionID, resource, meta); err != nil {
		r.logger().Printf("audit: append failed for %s: %v", action, err)
		return
	}
	if err := tx.Commit(); err != nil {
		r.logger().Printf("audit: commit failed for %s: %v", action, err)
	}
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
