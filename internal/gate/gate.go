// Package gate aggregates independently-reported check outcomes into one
// pass/fail verdict per session. Nothing here is persisted; every evaluation
// recomputes from the current underlying state.
package gate

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"forgegate/internal/domain"
	"forgegate/internal/repo"
)

// CheckSource produces the current result for one check domain.
type CheckSource interface {
	Name() string
	Check(ctx context.Context, sessionID string) (domain.GateCheckResult, error)
}

// Evaluator runs the configured sources in canonical order and ANDs their
// outcomes. Any single failing check fails the whole gate.
type Evaluator struct {
	Sources []CheckSource
	Now     func() time.Time
}

// New wires the standard four-check evaluator: task completion derived from
// the tasks table, reported tests and security outcomes, and reported
// coverage compared against the configured threshold.
func New(r repo.Repo, coverageThreshold float64) Evaluator {
	return Evaluator{
		Sources: []CheckSource{
			TasksSource{Repo: r},
			ReportedSource{Repo: r, CheckName: domain.CheckTests},
			CoverageSource{Repo: r, Threshold: coverageThreshold},
			ReportedSource{Repo: r, CheckName: domain.CheckSecurity},
		},
	}
}

func (e Evaluator) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Evaluator) Evaluate(ctx context.Context, sessionID string) (domain.GateEvaluation, error) {
	eval := domain.GateEvaluation{
		SessionID:   sessionID,
		OK:          true,
		EvaluatedAt: e.now().UTC().Format(time.RFC3339),
	}
	for _, src := range e.Sources {
		res, err := src.Check(ctx, sessionID)
		if err != nil {
			return domain.GateEvaluation{}, err
		}
		eval.OK = eval.OK && res.OK
		eval.Checks = append(eval.Checks, res)
	}
	return eval, nil
}

// TasksSource passes when every task in the session is done. A session with
// no tasks at all has nothing outstanding and passes.
type TasksSource struct {
	Repo repo.Repo
}

func (s TasksSource) Name() string { return domain.CheckTasks }

func (s TasksSource) Check(ctx context.Context, sessionID string) (domain.GateCheckResult, error) {
	counts, err := s.Repo.CountTasksByStatus(ctx, sessionID)
	if err != nil {
		return domain.GateCheckResult{}, err
	}
	total, open := 0, 0
	for status, n := range counts {
		total += n
		if status != "done" && status != "canceled" {
			open += n
		}
	}
	return domain.GateCheckResult{
		Name: domain.CheckTasks,
		OK:   open == 0,
		Details: map[string]any{
			"total": total,
			"open":  open,
		},
	}, nil
}

// ReportedSource reads the latest reported outcome for a check domain. An
// unreported check fails closed.
type ReportedSource struct {
	Repo      repo.Repo
	CheckName string
}

func (s ReportedSource) Name() string { return s.CheckName }

func (s ReportedSource) Check(ctx context.Context, sessionID string) (domain.GateCheckResult, error) {
	rec, err := s.Repo.GetSessionCheck(ctx, sessionID, s.CheckName)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.GateCheckResult{
			Name:    s.CheckName,
			OK:      false,
			Details: map[string]any{"reported": false},
		}, nil
	}
	if err != nil {
		return domain.GateCheckResult{}, err
	}
	details := decodeDetails(rec.DetailsJSON)
	details["reported"] = true
	details["reported_at"] = rec.ReportedAt
	return domain.GateCheckResult{Name: s.CheckName, OK: rec.OK, Details: details}, nil
}

// CoverageSource compares the reported coverage percentage against the
// configured threshold. The reporter's own ok flag must also hold, so a
// failed coverage run cannot pass on a stale percentage.
type CoverageSource struct {
	Repo      repo.Repo
	Threshold float64
}

func (s CoverageSource) Name() string { return domain.CheckCoverage }

func (s CoverageSource) Check(ctx context.Context, sessionID string) (domain.GateCheckResult, error) {
	rec, err := s.Repo.GetSessionCheck(ctx, sessionID, domain.CheckCoverage)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.GateCheckResult{
			Name:    domain.CheckCoverage,
			OK:      false,
			Details: map[string]any{"reported": false, "threshold": s.Threshold},
		}, nil
	}
	if err != nil {
		return domain.GateCheckResult{}, err
	}
	details := decodeDetails(rec.DetailsJSON)
	details["reported"] = true
	details["threshold"] = s.Threshold
	ok := rec.OK
	if pct, found := coveragePercent(details); found {
		ok = ok && pct >= s.Threshold
	}
	return domain.GateCheckResult{Name: domain.CheckCoverage, OK: ok, Details: details}, nil
}

func coveragePercent(details map[string]any) (float64, bool) {
	switch v := details["percent"].(type) {
	case float64:
		return v, true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	}
	return 0, false
}

func decodeDetails(raw string) map[string]any {
	out := map[string]any{}
	if raw == "" {
		return out
	}
	var tmp map[string]any
	if err := json.Unmarshal([]byte(raw), &tmp); err == nil {
		out = tmp
	}
	return out
}
