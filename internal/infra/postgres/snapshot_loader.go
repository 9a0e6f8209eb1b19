package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"contest-rating-service/internal/domain"
)

// SnapshotLoader reads standings input straight from the pgx pool, skipping
// submission source code. It backs the leaderboard caches.
type SnapshotLoader struct {
	pool *pgxpool.Pool
}

func NewSnapshotLoader(pool *pgxpool.Pool) *SnapshotLoader {
	return &SnapshotLoader{pool: pool}
}

func (l *SnapshotLoader) LoadSnapshot(ctx context.Context, contestID int64) (domain.ContestSnapshot, error) {
	var (
		snap       domain.ContestSnapshot
		visibility string
	)
	c := &snap.Contest
	err := l.pool.QueryRow(ctx, `
		SELECT id, title, slug, location, start_date, end_date, visibility, finalized, problems_count
		FROM contests WHERE id = $1`, contestID).
		Scan(&c.ID, &c.Title, &c.Slug, &c.Location, &c.StartDate, &c.EndDate, &visibility, &c.Finalized, &c.ProblemsCount)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ContestSnapshot{}, domain.ErrContestNotFound
	}
	if err != nil {
		return domain.ContestSnapshot{}, fmt.Errorf("load contest: %w", err)
	}
	c.Visibility = domain.Visibility(visibility)

	snap.Problems, err = l.problems(ctx, contestID)
	if err != nil {
		return domain.ContestSnapshot{}, err
	}
	snap.Submissions, err = l.submissions(ctx, contestID)
	if err != nil {
		return domain.ContestSnapshot{}, err
	}
	return snap, nil
}

func (l *SnapshotLoader) problems(ctx context.Context, contestID int64) ([]domain.Problem, error) {
	rows, err := l.pool.Query(ctx, `
		SELECT id, contest_id, title, code, max_score, time_limit_ms, memory_limit_kb
		FROM problems WHERE contest_id = $1 ORDER BY id`, contestID)
	if err != nil {
		return nil, fmt.Errorf("load problems: %w", err)
	}
	defer rows.Close()

	var out []domain.Problem
	for rows.Next() {
		var p domain.Problem
		if err := rows.Scan(&p.ID, &p.ContestID, &p.Title, &p.Code, &p.MaxScore, &p.TimeLimitMs, &p.MemoryLimitKB); err != nil {
			return nil, fmt.Errorf("scan problem: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (l *SnapshotLoader) submissions(ctx context.Context, contestID int64) ([]domain.Submission, error) {
	rows, err := l.pool.Query(ctx, `
		SELECT id, contest_id, problem_id, coder_id, status, score, attempt_no, submitted_at, judged_at
		FROM submissions WHERE contest_id = $1 ORDER BY id`, contestID)
	if err != nil {
		return nil, fmt.Errorf("load submissions: %w", err)
	}
	defer rows.Close()

	var out []domain.Submission
	for rows.Next() {
		var (
			s        domain.Submission
			status   string
			judgedAt *time.Time
		)
		if err := rows.Scan(&s.ID, &s.ContestID, &s.ProblemID, &s.CoderID, &status, &s.Score, &s.AttemptNo, &s.SubmittedAt, &judgedAt); err != nil {
			return nil, fmt.Errorf("scan submission: %w", err)
		}
		s.Status = domain.SubmissionStatus(status)
		s.JudgedAt = judgedAt
		out = append(out, s)
	}
	return out, rows.Err()
}
