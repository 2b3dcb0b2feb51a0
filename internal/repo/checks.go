package repo

import (
	"context"
	"database/sql"

	"forgegate/internal/domain"
)

// UpsertSessionCheck records the latest reported outcome for one check
// domain; re-reports overwrite the previous row.
func (r Repo) UpsertSessionCheck(ctx context.Context, tx *sql.Tx, c domain.SessionCheck) error {
	ok := 0
	if c.OK {
		ok = 1
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO session_checks(session_id,name,ok,details_json,reported_by,reported_at) VALUES (?,?,?,?,?,?)
ON CONFLICT(session_id,name) DO UPDATE SET ok=excluded.ok, details_json=excluded.details_json, reported_by=excluded.reported_by, reported_at=excluded.reported_at`,
		c.SessionID, c.Name, ok, nullable(c.DetailsJSON), c.ReportedBy, c.ReportedAt)
	return err
}

func (r Repo) GetSessionCheck(ctx context.Context, sessionID, name string) (domain.SessionCheck, error) {
	var c domain.SessionCheck
	var ok int
	var details sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT session_id,name,ok,details_json,reported_by,reported_at FROM session_checks WHERE session_id=? AND name=?`,
		sessionID, name).Scan(&c.SessionID, &c.Name, &ok, &details, &c.ReportedBy, &c.ReportedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	if err != nil {
		return c, err
	}
	c.OK = ok != 0
	if details.Valid {
		c.DetailsJSON = details.String
	}
	return c, nil
}
