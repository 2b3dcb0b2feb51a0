package repo

import (
	"context"
	"database/sql"

	"forgegate/internal/domain"
)

func scanArtifact(scan func(dest ...any) error) (domain.Artifact, error) {
	var a domain.Artifact
	var sha, completedAt sql.NullString
	err := scan(&a.ID, &a.ProjectID, &a.SessionID, &a.Iteration, &a.Key, &a.ContentType,
		&a.SizeBytes, &sha, &a.Status, &a.CreatedAt, &completedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	if err != nil {
		return a, err
	}
	if sha.Valid {
		a.SHA256 = &sha.String
	}
	if completedAt.Valid {
		a.CompletedAt = &completedAt.String
	}
	return a, nil
}

const artifactColumns = `id,project_id,session_id,iteration,key,content_type,size_bytes,sha256,status,created_at,completed_at`

func (r Repo) InsertArtifact(ctx context.Context, tx *sql.Tx, a domain.Artifact) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO artifacts(`+artifactColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		a.ID, a.ProjectID, a.SessionID, a.Iteration, a.Key, a.ContentType, a.SizeBytes, nil, a.Status, a.CreatedAt, nil)
	return err
}

// GetArtifactByKey looks an artifact up by its unique (session, key) pair.
func (r Repo) GetArtifactByKey(ctx context.Context, sessionID, key string) (domain.Artifact, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+artifactColumns+` FROM artifacts WHERE session_id=? AND key=?`, sessionID, key)
	return scanArtifact(row.Scan)
}

// GetCompleteArtifact returns an artifact only when its upload has been
// verified. Pending artifacts are reported as ErrNotFound so unverified
// content is never observable through read paths.
func (r Repo) GetCompleteArtifact(ctx context.Context, sessionID, key string) (domain.Artifact, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+artifactColumns+` FROM artifacts WHERE session_id=? AND key=? AND status=?`,
		sessionID, key, domain.ArtifactComplete)
	return scanArtifact(row.Scan)
}

// RefreshPendingArtifact updates the declared metadata of a pending upload.
// The conditional status keeps a re-presign from touching verified rows;
// ErrNotFound means the artifact completed in the meantime.
func (r Repo) RefreshPendingArtifact(ctx context.Context, tx *sql.Tx, id, contentType string, sizeBytes int64) error {
	res, err := tx.ExecContext(ctx, `UPDATE artifacts SET content_type=?, size_bytes=? WHERE id=? AND status=?`,
		contentType, sizeBytes, id, domain.ArtifactPending)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// CompleteArtifact performs the pending -> complete transition as a single
// conditional update keyed on the current status. Returns ErrNotFound when no
// pending artifact matches, which also covers double-completion races.
func (r Repo) CompleteArtifact(ctx context.Context, tx *sql.Tx, sessionID, key, sha256, completedAt string) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE artifacts SET status=?, sha256=?, completed_at=? WHERE session_id=? AND key=? AND status=?`,
		domain.ArtifactComplete, sha256, completedAt, sessionID, key, domain.ArtifactPending)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) ListArtifacts(ctx context.Context, sessionID string) ([]domain.Artifact, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+artifactColumns+` FROM artifacts WHERE session_id=? ORDER BY created_at DESC, id DESC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Artifact
	for rows.Next() {
		a, err := scanArtifact(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}
