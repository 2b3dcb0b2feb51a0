package repo

import (
	"context"
	"database/sql"

	"forgegate/internal/domain"
)

const approvalColumns = `id,session_id,token_hash,status,reason,issued_to_sub,expires_at,created_at,consumed_at`

func scanApproval(scan func(dest ...any) error) (domain.ApprovalToken, error) {
	var t domain.ApprovalToken
	var reason, consumedAt sql.NullString
	err := scan(&t.ID, &t.SessionID, &t.TokenHash, &t.Status, &reason, &t.IssuedToSub,
		&t.ExpiresAt, &t.CreatedAt, &consumedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	if reason.Valid {
		t.Reason = reason.String
	}
	if consumedAt.Valid {
		t.ConsumedAt = &consumedAt.String
	}
	return t, nil
}

func (r Repo) InsertApprovalToken(ctx context.Context, tx *sql.Tx, t domain.ApprovalToken) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO approval_tokens(`+approvalColumns+`) VALUES (?,?,?,?,?,?,?,?,?)`,
		t.ID, t.SessionID, t.TokenHash, t.Status, nullable(t.Reason), t.IssuedToSub, t.ExpiresAt, t.CreatedAt, nil)
	return err
}

// GetApprovalByHash looks a token up by the hash of its raw secret, scoped to
// one session. The raw token itself is never stored or queried.
func (r Repo) GetApprovalByHash(ctx context.Context, sessionID, tokenHash string) (domain.ApprovalToken, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+approvalColumns+` FROM approval_tokens WHERE session_id=? AND token_hash=?`,
		sessionID, tokenHash)
	return scanApproval(row.Scan)
}

// ConsumeApprovalToken is the single point of truth for the single-use
// guarantee: the status check and flip happen in one conditional update, so
// concurrent consumption attempts observe exactly one success. Returns
// ErrNotFound when the token is no longer in the issued state.
func (r Repo) ConsumeApprovalToken(ctx context.Context, tx *sql.Tx, id, consumedAt string) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE approval_tokens SET status=?, consumed_at=? WHERE id=? AND status=?`,
		domain.ApprovalConsumed, consumedAt, id, domain.ApprovalIssued)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) ListApprovalTokens(ctx context.Context, sessionID string) ([]domain.ApprovalToken, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+approvalColumns+` FROM approval_tokens WHERE session_id=? ORDER BY created_at DESC, id DESC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ApprovalToken
	for rows.Next() {
		t, err := scanApproval(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}
