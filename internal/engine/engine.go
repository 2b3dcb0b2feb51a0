package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"forgegate/internal/audit"
	"forgegate/internal/config"
	"forgegate/internal/domain"
	"forgegate/internal/gate"
	"forgegate/internal/repo"
	"forgegate/internal/signer"
)

// Engine implements the control-plane operations on top of the repo layer.
// It is stateless between requests; all durable state lives in the store.
type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Audit  audit.Recorder
	Gate   gate.Evaluator
	Config *config.Config
	Signer signer.Signer
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	r := repo.Repo{DB: db}
	secret := cfg.Artifacts.SigningSecret
	if secret == "" {
		secret = cfg.Auth.JWTSecret
	}
	return Engine{
		DB:     db,
		Repo:   r,
		Audit:  audit.Recorder{DB: db},
		Gate:   gate.New(r, cfg.Gate.CoverageThreshold),
		Config: cfg,
		Signer: signer.Signer{
			Secret:  []byte(secret),
			BaseURL: cfg.Artifacts.StorageBaseURL,
			TTL:     time.Duration(cfg.Artifacts.PresignExpirySeconds) * time.Second,
		},
		Now: time.Now,
	}
}

// Actor is the authenticated caller an operation runs on behalf of.
type Actor struct {
	Sub       string
	Role      string
	ProjectID string
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) nowRFC3339() string {
	return e.now().UTC().Format(time.RFC3339)
}

// ResolveSession loads a session and enforces the caller's project scope.
// A session outside the caller's project is reported as not found so the
// existence of another tenant's resources never leaks.
func (e Engine) ResolveSession(ctx context.Context, actor Actor, sessionID string) (domain.Session, error) {
	s, err := e.Repo.GetSession(ctx, sessionID)
	if err != nil {
		return domain.Session{}, err
	}
	if actor.ProjectID != "" && actor.ProjectID != s.ProjectID {
		return domain.Session{}, repo.ErrNotFound
	}
	return s, nil
}

// EvaluateGate recomputes the session's gate verdict from current state.
func (e Engine) EvaluateGate(ctx context.Context, actor Actor, sessionID string) (domain.GateEvaluation, error) {
	if _, err := e.ResolveSession(ctx, actor, sessionID); err != nil {
		return domain.GateEvaluation{}, err
	}
	ev := e.Gate
	if ev.Now == nil {
		ev.Now = e.Now
	}
	return ev.Evaluate(ctx, sessionID)
}

// ReportCheck records a runner-reported outcome for one check domain. The
// tasks check is derived from the task table and cannot be reported.
func (e Engine) ReportCheck(ctx context.Context, actor Actor, sessionID, name string, ok bool, details map[string]any) (domain.SessionCheck, error) {
	switch name {
	case domain.CheckTests, domain.CheckCoverage, domain.CheckSecurity:
	default:
		return domain.SessionCheck{}, ValidationError{Field: "name", Msg: "must be one of tests, coverage, security"}
	}
	s, err := e.ResolveSession(ctx, actor, sessionID)
	if err != nil {
		return domain.SessionCheck{}, err
	}
	var detailsJSON string
	if len(details) > 0 {
		data, err := json.Marshal(details)
		if err != nil {
			return domain.SessionCheck{}, ValidationError{Field: "details", Msg: "not serializable"}
		}
		detailsJSON = string(data)
	}
	rec := domain.SessionCheck{
		SessionID:   sessionID,
		Name:        name,
		OK:          ok,
		DetailsJSON: detailsJSON,
		ReportedBy:  actor.Sub,
		ReportedAt:  e.nowRFC3339(),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.SessionCheck{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpsertSessionCheck(ctx, tx, rec); err != nil {
		return domain.SessionCheck{}, err
	}
	if err := e.Audit.Append(ctx, tx, actor.Sub, audit.ActionCheckReport, s.ProjectID, sessionID, name,
		audit.Metadata{"ok": ok}); err != nil {
		return domain.SessionCheck{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.SessionCheck{}, err
	}
	return rec, nil
}

// CreateTask seeds a pipeline task under a session.
func (e Engine) CreateTask(ctx context.Context, actor Actor, sessionID, title string) (domain.Task, error) {
	if title == "" {
		return domain.Task{}, ValidationError{Field: "title", Msg: "required"}
	}
	if _, err := e.ResolveSession(ctx, actor, sessionID); err != nil {
		return domain.Task{}, err
	}
	now := e.nowRFC3339()
	t := domain.Task{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Title:     title,
		Status:    "planned",
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.Repo.InsertTask(ctx, t); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// SetTaskStatus updates a task's status within its session scope.
func (e Engine) SetTaskStatus(ctx context.Context, actor Actor, sessionID, taskID, status string) (domain.Task, error) {
	switch status {
	case "planned", "in_progress", "done", "canceled":
	default:
		return domain.Task{}, ValidationError{Field: "status", Msg: "invalid task status"}
	}
	if _, err := e.ResolveSession(ctx, actor, sessionID); err != nil {
		return domain.Task{}, err
	}
	return e.Repo.UpdateTaskStatus(ctx, sessionID, taskID, status)
}

// CreateProject seeds reference data for local and test use; in production
// projects are owned by the external pipeline store.
func (e Engine) CreateProject(ctx context.Context, id, name string) (domain.Project, error) {
	if id == "" {
		id = uuid.NewString()
	}
	p := domain.Project{ID: id, Name: name, CreatedAt: e.nowRFC3339()}
	if err := e.Repo.InsertProject(ctx, p); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

// CreateSession seeds reference data for local and test use.
func (e Engine) CreateSession(ctx context.Context, projectID, id string) (domain.Session, error) {
	if _, err := e.Repo.GetProject(ctx, projectID); err != nil {
		return domain.Session{}, err
	}
	if id == "" {
		id = uuid.NewString()
	}
	s := domain.Session{ID: id, ProjectID: projectID, Status: "active", CreatedAt: e.nowRFC3339()}
	if err := e.Repo.InsertSession(ctx, s); err != nil {
		return domain.Session{}, err
	}
	return s, nil
}

// IsNotFound reports whether err is the store's not-found sentinel.
func IsNotFound(err error) bool {
	return errors.Is(err, repo.ErrNotFound)
}
