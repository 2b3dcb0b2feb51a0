package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"forgegate/internal/audit"
	"forgegate/internal/domain"
	"forgegate/internal/repo"
	"forgegate/internal/tokens"
)

const maxArtifactNameLen = 255

// PresignPutParams is the caller-declared upload intent.
type PresignPutParams struct {
	Iteration   int
	Name        string
	ContentType string
	SizeBytes   int64
}

// PresignPutResult carries the derived key and the one-time upload URL.
type PresignPutResult struct {
	Artifact  domain.Artifact
	UploadURL string
}

// PresignPut validates the declared upload, records a pending artifact, and
// returns a time-limited signed upload URL. The storage key is always
// derived server-side; the caller never supplies the full key.
func (e Engine) PresignPut(ctx context.Context, actor Actor, sessionID string, p PresignPutParams) (PresignPutResult, error) {
	if !e.Config.ContentTypeAllowed(p.ContentType) {
		return PresignPutResult{}, ValidationError{Field: "content_type", Msg: fmt.Sprintf("%q is not an allowed content type", p.ContentType)}
	}
	if p.SizeBytes <= 0 {
		return PresignPutResult{}, ValidationError{Field: "size_bytes", Msg: "must be positive"}
	}
	if p.SizeBytes > e.Config.Artifacts.MaxUploadBytes {
		return PresignPutResult{}, ValidationError{Field: "size_bytes", Msg: fmt.Sprintf("exceeds maximum of %d bytes", e.Config.Artifacts.MaxUploadBytes)}
	}
	if p.Iteration < 0 {
		return PresignPutResult{}, ValidationError{Field: "iteration", Msg: "must be non-negative"}
	}
	name, err := sanitizeArtifactName(p.Name)
	if err != nil {
		return PresignPutResult{}, err
	}
	s, err := e.ResolveSession(ctx, actor, sessionID)
	if err != nil {
		return PresignPutResult{}, err
	}

	key := deriveKey(s.ProjectID, s.ID, p.Iteration, name)
	a := domain.Artifact{
		ID:          uuid.NewString(),
		ProjectID:   s.ProjectID,
		SessionID:   s.ID,
		Iteration:   p.Iteration,
		Key:         key,
		ContentType: p.ContentType,
		SizeBytes:   p.SizeBytes,
		Status:      domain.ArtifactPending,
		CreatedAt:   e.nowRFC3339(),
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return PresignPutResult{}, err
	}
	defer tx.Rollback()

	existing, err := e.Repo.GetArtifactByKey(ctx, s.ID, key)
	switch {
	case err == nil && existing.Status == domain.ArtifactComplete:
		// Completed artifacts are immutable by key; there is no overwrite path.
		return PresignPutResult{}, ValidationError{Field: "name", Msg: "artifact already completed for this key"}
	case err == nil:
		// Re-presigning a pending upload refreshes the declared metadata.
		a.ID = existing.ID
		a.CreatedAt = existing.CreatedAt
		if err := e.Repo.RefreshPendingArtifact(ctx, tx, a.ID, a.ContentType, a.SizeBytes); err != nil {
			return PresignPutResult{}, err
		}
	case errors.Is(err, repo.ErrNotFound):
		if err := e.Repo.InsertArtifact(ctx, tx, a); err != nil {
			return PresignPutResult{}, err
		}
	default:
		return PresignPutResult{}, err
	}

	if err := e.Audit.Append(ctx, tx, actor.Sub, audit.ActionArtifactPresignPut, s.ProjectID, s.ID, key,
		audit.Metadata{"content_type": p.ContentType, "size_bytes": p.SizeBytes}); err != nil {
		return PresignPutResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return PresignPutResult{}, err
	}

	uploadURL, err := e.Signer.SignedURL(http.MethodPut, key)
	if err != nil {
		return PresignPutResult{}, err
	}
	return PresignPutResult{Artifact: a, UploadURL: uploadURL}, nil
}

// CompleteArtifact verifies the declared digest and size and flips the
// artifact to complete. Only after this transition is the content readable.
func (e Engine) CompleteArtifact(ctx context.Context, actor Actor, sessionID, key, sha256Hex string, sizeBytes int64) error {
	if !tokens.ValidSHA256Hex(sha256Hex) {
		return ValidationError{Field: "sha256", Msg: "must be a 64-character lowercase hex digest"}
	}
	if sizeBytes <= 0 {
		return ValidationError{Field: "size_bytes", Msg: "must be positive"}
	}
	s, err := e.ResolveSession(ctx, actor, sessionID)
	if err != nil {
		return err
	}
	a, err := e.Repo.GetArtifactByKey(ctx, s.ID, key)
	if err != nil {
		return err
	}
	if a.SizeBytes != sizeBytes {
		return ValidationError{Field: "size_bytes", Msg: fmt.Sprintf("declared size was %d", a.SizeBytes)}
	}
	if a.Status == domain.ArtifactComplete {
		// Repeating a completion with the same digest is a harmless retry.
		if a.SHA256 != nil && *a.SHA256 == sha256Hex {
			return nil
		}
		return repo.ErrNotFound
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.CompleteArtifact(ctx, tx, s.ID, key, sha256Hex, e.nowRFC3339()); err != nil {
		return err
	}
	if err := e.Audit.Append(ctx, tx, actor.Sub, audit.ActionArtifactComplete, s.ProjectID, s.ID, key,
		audit.Metadata{"sha256": sha256Hex, "size_bytes": sizeBytes}); err != nil {
		return err
	}
	return tx.Commit()
}

// PresignGet issues a download URL for a verified artifact. A pending
// artifact is treated identically to a missing one.
func (e Engine) PresignGet(ctx context.Context, actor Actor, sessionID, key string) (string, error) {
	s, err := e.ResolveSession(ctx, actor, sessionID)
	if err != nil {
		return "", err
	}
	if _, err := e.Repo.GetCompleteArtifact(ctx, s.ID, key); err != nil {
		return "", err
	}
	downloadURL, err := e.Signer.SignedURL(http.MethodGet, key)
	if err != nil {
		return "", err
	}
	e.Audit.Record(ctx, actor.Sub, audit.ActionArtifactPresignGet, s.ProjectID, s.ID, key, nil)
	return downloadURL, nil
}

func deriveKey(projectID, sessionID string, iteration int, name string) string {
	return fmt.Sprintf("projects/%s/sessions/%s/iter/%d/%s", projectID, sessionID, iteration, name)
}

// sanitizeArtifactName rejects names that could escape the derived key
// prefix: separators, traversal segments, and control characters.
func sanitizeArtifactName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ValidationError{Field: "name", Msg: "required"}
	}
	if len(name) > maxArtifactNameLen {
		return "", ValidationError{Field: "name", Msg: "too long"}
	}
	if strings.ContainsAny(name, "/\\") {
		return "", ValidationError{Field: "name", Msg: "must not contain path separators"}
	}
	if name == "." || strings.Contains(name, "..") {
		return "", ValidationError{Field: "name", Msg: "must not contain traversal segments"}
	}
	for _, c := range name {
		if c < 0x20 || c == 0x7f {
			return "", ValidationError{Field: "name", Msg: "must not contain control characters"}
		}
	}
	return name, nil
}
