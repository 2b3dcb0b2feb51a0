package engine

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"forgegate/internal/audit"
	"forgegate/internal/domain"
	"forgegate/internal/repo"
	"forgegate/internal/tokens"
)

const (
	approvalMinTTL     = 60
	approvalMaxTTL     = 1800
	approvalDefaultTTL = 600
)

// ApprovalGrant is returned once at issuance; RawToken is unrecoverable
// afterwards.
type ApprovalGrant struct {
	Approval         domain.ApprovalToken
	RawToken         string
	ExpiresInSeconds int
}

// RequestApproval issues a single-use, time-boxed token gating one apply
// action for the session. Only the token's hash is stored.
func (e Engine) RequestApproval(ctx context.Context, actor Actor, sessionID, reason string, ttlSeconds int) (ApprovalGrant, error) {
	s, err := e.ResolveSession(ctx, actor, sessionID)
	if err != nil {
		return ApprovalGrant{}, err
	}
	if ttlSeconds == 0 {
		ttlSeconds = approvalDefaultTTL
	}
	if ttlSeconds < approvalMinTTL {
		ttlSeconds = approvalMinTTL
	}
	if ttlSeconds > approvalMaxTTL {
		ttlSeconds = approvalMaxTTL
	}

	if e.Config.Gate.RequirePassForApproval {
		eval, err := e.EvaluateGate(ctx, actor, sessionID)
		if err != nil {
			return ApprovalGrant{}, err
		}
		if !eval.OK {
			return ApprovalGrant{}, ErrGateNotPassed
		}
	}

	raw, err := tokens.NewRaw()
	if err != nil {
		return ApprovalGrant{}, err
	}
	now := e.now().UTC()
	t := domain.ApprovalToken{
		ID:          uuid.NewString(),
		SessionID:   s.ID,
		TokenHash:   tokens.Hash(raw),
		Status:      domain.ApprovalIssued,
		Reason:      reason,
		IssuedToSub: actor.Sub,
		ExpiresAt:   now.Add(time.Duration(ttlSeconds) * time.Second).Format(time.RFC3339),
		CreatedAt:   now.Format(time.RFC3339),
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return ApprovalGrant{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertApprovalToken(ctx, tx, t); err != nil {
		return ApprovalGrant{}, err
	}
	if err := e.Audit.Append(ctx, tx, actor.Sub, audit.ActionApprovalIssue, s.ProjectID, s.ID, t.ID,
		audit.Metadata{"reason": reason, "ttl_seconds": ttlSeconds}); err != nil {
		return ApprovalGrant{}, err
	}
	if err := tx.Commit(); err != nil {
		return ApprovalGrant{}, err
	}
	return ApprovalGrant{Approval: t, RawToken: raw, ExpiresInSeconds: ttlSeconds}, nil
}

// ConsumeApproval validates and consumes a token exactly once. Failure modes
// are checked in a fixed order: not found, not usable, expired. The final
// conditional update guarantees that concurrent attempts against the same
// token produce exactly one success.
func (e Engine) ConsumeApproval(ctx context.Context, actor Actor, sessionID, rawToken string) error {
	s, err := e.ResolveSession(ctx, actor, sessionID)
	if err != nil {
		return err
	}
	t, err := e.Repo.GetApprovalByHash(ctx, s.ID, tokens.Hash(rawToken))
	if errors.Is(err, repo.ErrNotFound) {
		return ErrApprovalNotFound
	}
	if err != nil {
		return err
	}
	if t.Status != domain.ApprovalIssued {
		return ApprovalNotUsableError{Status: t.Status}
	}
	expiresAt, err := time.Parse(time.RFC3339, t.ExpiresAt)
	if err != nil || !e.now().UTC().Before(expiresAt) {
		return ErrApprovalExpired
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.ConsumeApprovalToken(ctx, tx, t.ID, e.nowRFC3339()); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			// Lost the race; someone else consumed it between read and update.
			return ApprovalNotUsableError{Status: domain.ApprovalConsumed}
		}
		return err
	}
	if err := e.Audit.Append(ctx, tx, actor.Sub, audit.ActionApprovalConsume, s.ProjectID, s.ID, t.ID,
		audit.Metadata{"issued_to": t.IssuedToSub}); err != nil {
		return err
	}
	return tx.Commit()
}
