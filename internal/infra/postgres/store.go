package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"contest-rating-service/internal/app"
	"contest-rating-service/internal/domain"
)

// Store is the bun backed implementation of app.Store. Every unit of work runs in
// a READ COMMITTED transaction. Finalize locks the contest row FOR UPDATE while
// submits and verdicts hold it FOR SHARE, and judging is a conditional update.
type Store struct {
	queries
	db *bun.DB
}

func NewStore(db *bun.DB) *Store {
	return &Store{queries: queries{db: db}, db: db}
}

func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx app.Tx) error) error {
	return s.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		return fn(ctx, queries{db: tx})
	})
}

// queries runs against either the pool or an open transaction.
type queries struct {
	db bun.IDB
}

func (q queries) GetCoder(ctx context.Context, id int64) (domain.Coder, error) {
	var row coderRow
	err := q.db.NewSelect().Model(&row).Where("id = ?", id).Scan(ctx)
	if err != nil {
		return domain.Coder{}, translate(err, domain.ErrCoderNotFound)
	}
	return row.toDomain(), nil
}

func (q queries) GetContest(ctx context.Context, id int64) (domain.Contest, error) {
	var row contestRow
	err := q.db.NewSelect().Model(&row).Where("id = ?", id).Scan(ctx)
	if err != nil {
		return domain.Contest{}, translate(err, domain.ErrContestNotFound)
	}
	return row.toDomain(), nil
}

func (q queries) GetProblem(ctx context.Context, id int64) (domain.Problem, error) {
	var row problemRow
	err := q.db.NewSelect().Model(&row).Where("id = ?", id).Scan(ctx)
	if err != nil {
		return domain.Problem{}, translate(err, domain.ErrProblemNotFound)
	}
	return row.toDomain(), nil
}

func (q queries) GetSubmission(ctx context.Context, id int64) (domain.Submission, error) {
	var row submissionRow
	err := q.db.NewSelect().Model(&row).Where("id = ?", id).Scan(ctx)
	if err != nil {
		return domain.Submission{}, translate(err, domain.ErrSubmissionNotFound)
	}
	return row.toDomain(), nil
}

func (q queries) ListProblems(ctx context.Context, contestID int64) ([]domain.Problem, error) {
	var rows []problemRow
	err := q.db.NewSelect().Model(&rows).Where("contest_id = ?", contestID).Order("id ASC").Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("select problems: %w", err)
	}
	out := make([]domain.Problem, len(rows))
	for i, r := range rows {
		out[i] = r.toDomain()
	}
	return out, nil
}

func (q queries) ListSubmissions(ctx context.Context, contestID int64) ([]domain.Submission, error) {
	var rows []submissionRow
	err := q.db.NewSelect().Model(&rows).
		ExcludeColumn("code").
		Where("contest_id = ?", contestID).
		Order("id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("select submissions: %w", err)
	}
	out := make([]domain.Submission, len(rows))
	for i, r := range rows {
		out[i] = r.toDomain()
	}
	return out, nil
}

func (q queries) ListRatingChanges(ctx context.Context, coderID int64) ([]domain.RatingChange, error) {
	var rows []ratingChangeRow
	err := q.db.NewSelect().Model(&rows).
		Where("coder_id = ?", coderID).
		Order("created_at ASC", "id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("select rating changes: %w", err)
	}
	out := make([]domain.RatingChange, len(rows))
	for i, r := range rows {
		out[i] = r.toDomain()
	}
	return out, nil
}

func (q queries) ListDueContests(ctx context.Context, t time.Time) ([]domain.Contest, error) {
	var rows []contestRow
	err := q.db.NewSelect().Model(&rows).
		Where("finalized = FALSE").
		Where("end_date <= ?", t).
		Order("end_date ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("select due contests: %w", err)
	}
	out := make([]domain.Contest, len(rows))
	for i, r := range rows {
		out[i] = r.toDomain()
	}
	return out, nil
}

func (q queries) CreateCoder(ctx context.Context, coder *domain.Coder) error {
	row := coderRow{
		Nickname:    coder.Nickname,
		DisplayName: coder.DisplayName,
		Country:     coder.Country,
		Bio:         coder.Bio,
		Rating:      coder.Rating,
		CreatedAt:   coder.CreatedAt,
		UpdatedAt:   coder.UpdatedAt,
	}
	if _, err := q.db.NewInsert().Model(&row).Returning("id").Exec(ctx); err != nil {
		return translate(err, nil)
	}
	coder.ID = row.ID
	return nil
}

func (q queries) CreateContest(ctx context.Context, contest *domain.Contest) error {
	row := contestRow{
		Title:       contest.Title,
		Slug:        contest.Slug,
		Description: contest.Description,
		Location:    contest.Location,
		StartDate:   contest.StartDate,
		EndDate:     contest.EndDate,
		Visibility:  string(contest.Visibility),
		CreatedAt:   contest.CreatedAt,
		UpdatedAt:   contest.UpdatedAt,
	}
	if _, err := q.db.NewInsert().Model(&row).Returning("id").Exec(ctx); err != nil {
		return translate(err, nil)
	}
	contest.ID = row.ID
	return nil
}

func (q queries) SlugExists(ctx context.Context, slug string) (bool, error) {
	return q.db.NewSelect().Model((*contestRow)(nil)).Where("slug = ?", slug).Exists(ctx)
}

func (q queries) CreateProblem(ctx context.Context, problem *domain.Problem) error {
	row := problemRow{
		ContestID:     problem.ContestID,
		Title:         problem.Title,
		Code:          problem.Code,
		MaxScore:      problem.MaxScore,
		TimeLimitMs:   problem.TimeLimitMs,
		MemoryLimitKB: problem.MemoryLimitKB,
		CreatedAt:     problem.CreatedAt,
	}
	if _, err := q.db.NewInsert().Model(&row).Returning("id").Exec(ctx); err != nil {
		return translate(err, nil)
	}
	_, err := q.db.NewUpdate().Model((*contestRow)(nil)).
		Set("problems_count = problems_count + 1").
		Where("id = ?", problem.ContestID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("bump problems count: %w", err)
	}
	problem.ID = row.ID
	return nil
}

func (q queries) NextAttemptNo(ctx context.Context, contestID, problemID, coderID int64) (int, error) {
	var next int
	err := q.db.NewSelect().Model((*submissionRow)(nil)).
		ColumnExpr("COALESCE(MAX(attempt_no), 0) + 1").
		Where("contest_id = ?", contestID).
		Where("problem_id = ?", problemID).
		Where("coder_id = ?", coderID).
		Scan(ctx, &next)
	if err != nil {
		return 0, fmt.Errorf("next attempt: %w", err)
	}
	return next, nil
}

func (q queries) CreateSubmission(ctx context.Context, sub *domain.Submission) error {
	row := submissionRow{
		ContestID:   sub.ContestID,
		ProblemID:   sub.ProblemID,
		CoderID:     sub.CoderID,
		Language:    sub.Language,
		Code:        sub.Code,
		Status:      string(sub.Status),
		AttemptNo:   sub.AttemptNo,
		SubmittedAt: sub.SubmittedAt,
	}
	if _, err := q.db.NewInsert().Model(&row).Returning("id").Exec(ctx); err != nil {
		return translate(err, nil)
	}
	sub.ID = row.ID
	return nil
}

func (q queries) JudgeSubmission(ctx context.Context, id int64, j domain.Judgement) error {
	res, err := q.db.NewUpdate().Model((*submissionRow)(nil)).
		Set("status = ?", string(j.Status)).
		Set("score = ?", j.Score).
		Set("runtime_ms = ?", j.RuntimeMs).
		Set("memory_kb = ?", j.MemoryKB).
		Set("judged_at = ?", j.JudgedAt).
		Where("id = ?", id).
		Where("status = ?", string(domain.StatusPending)).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("judge submission: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := q.GetSubmission(ctx, id); err != nil {
			return err
		}
		return domain.ErrAlreadyJudged
	}
	return nil
}

func (q queries) BumpSubmissionCounters(ctx context.Context, coderID int64, accepted bool) error {
	inc := 0
	if accepted {
		inc = 1
	}
	res, err := q.db.NewUpdate().Model((*coderRow)(nil)).
		Set("total_submissions = total_submissions + 1").
		Set("accepted_submissions = accepted_submissions + ?", inc).
		Set("updated_at = NOW()").
		Where("id = ?", coderID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("bump submission counters: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrCoderNotFound
	}
	return nil
}

func (q queries) LockContest(ctx context.Context, id int64) (domain.Contest, error) {
	var row contestRow
	err := q.db.NewSelect().Model(&row).Where("id = ?", id).For("UPDATE").Scan(ctx)
	if err != nil {
		return domain.Contest{}, translate(err, domain.ErrContestNotFound)
	}
	return row.toDomain(), nil
}

func (q queries) ShareContest(ctx context.Context, id int64) (domain.Contest, error) {
	var row contestRow
	err := q.db.NewSelect().Model(&row).Where("id = ?", id).For("SHARE").Scan(ctx)
	if err != nil {
		return domain.Contest{}, translate(err, domain.ErrContestNotFound)
	}
	return row.toDomain(), nil
}

func (q queries) SetContestEnd(ctx context.Context, id int64, end time.Time) error {
	res, err := q.db.NewUpdate().Model((*contestRow)(nil)).
		Set("end_date = ?", end).
		Set("updated_at = ?", end).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("set contest end: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrContestNotFound
	}
	return nil
}

func (q queries) MarkContestFinalized(ctx context.Context, id int64) error {
	res, err := q.db.NewUpdate().Model((*contestRow)(nil)).
		Set("finalized = TRUE").
		Set("updated_at = NOW()").
		Where("id = ?", id).
		Where("finalized = FALSE").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("mark contest finalized: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := q.GetContest(ctx, id); err != nil {
			return err
		}
		return domain.ErrAlreadyFinalized
	}
	return nil
}

func (q queries) LockCoders(ctx context.Context, ids []int64) (map[int64]domain.Coder, error) {
	out := make(map[int64]domain.Coder, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var rows []coderRow
	err := q.db.NewSelect().Model(&rows).
		Where("id IN (?)", bun.In(ids)).
		Order("id ASC").
		For("UPDATE").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("lock coders: %w", err)
	}
	for _, r := range rows {
		out[r.ID] = r.toDomain()
	}
	return out, nil
}

func (q queries) SumRatingDeltas(ctx context.Context, coderIDs []int64) (map[int64]int, error) {
	out := make(map[int64]int, len(coderIDs))
	if len(coderIDs) == 0 {
		return out, nil
	}
	var sums []struct {
		CoderID int64 `bun:"coder_id"`
		Total   int   `bun:"total"`
	}
	err := q.db.NewSelect().Model((*ratingChangeRow)(nil)).
		Column("coder_id").
		ColumnExpr("SUM(delta) AS total").
		Where("coder_id IN (?)", bun.In(coderIDs)).
		Group("coder_id").
		Scan(ctx, &sums)
	if err != nil {
		return nil, fmt.Errorf("sum rating deltas: %w", err)
	}
	for _, s := range sums {
		out[s.CoderID] = s.Total
	}
	return out, nil
}

func (q queries) InsertRatingChanges(ctx context.Context, changes []domain.RatingChange) error {
	if len(changes) == 0 {
		return nil
	}
	rows := make([]ratingChangeRow, len(changes))
	for i, c := range changes {
		rows[i] = ratingChangeRow{
			CoderID:   c.CoderID,
			ContestID: c.ContestID,
			OldRating: c.OldRating,
			NewRating: c.NewRating,
			Delta:     c.Delta,
			Reason:    c.Reason,
			CreatedAt: c.CreatedAt,
		}
	}
	if _, err := q.db.NewInsert().Model(&rows).Returning("id").Exec(ctx); err != nil {
		return translate(err, nil)
	}
	for i := range changes {
		changes[i].ID = rows[i].ID
	}
	return nil
}

func (q queries) ApplyContestResult(ctx context.Context, coderID int64, rating, points int) error {
	res, err := q.db.NewUpdate().Model((*coderRow)(nil)).
		Set("rating = ?", rating).
		Set("points_total = points_total + ?", points).
		Set("updated_at = NOW()").
		Where("id = ?", coderID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("apply contest result: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrCoderNotFound
	}
	return nil
}
