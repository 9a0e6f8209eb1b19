package postgres

import (
	"time"

	"github.com/uptrace/bun"

	"contest-rating-service/internal/domain"
)

type coderRow struct {
	bun.BaseModel `bun:"table:coders,alias:cd"`

	ID                  int64     `bun:"id,pk,autoincrement"`
	Nickname            string    `bun:"nickname,notnull"`
	DisplayName         string    `bun:"display_name,notnull"`
	Country             string    `bun:"country,notnull"`
	Bio                 string    `bun:"bio,notnull"`
	Rating              int       `bun:"rating,notnull"`
	PointsTotal         int       `bun:"points_total,notnull"`
	TotalSubmissions    int       `bun:"total_submissions,notnull"`
	AcceptedSubmissions int       `bun:"accepted_submissions,notnull"`
	CreatedAt           time.Time `bun:"created_at,notnull"`
	UpdatedAt           time.Time `bun:"updated_at,notnull"`
}

func (r coderRow) toDomain() domain.Coder {
	return domain.Coder{
		ID:                  r.ID,
		Nickname:            r.Nickname,
		DisplayName:         r.DisplayName,
		Country:             r.Country,
		Bio:                 r.Bio,
		Rating:              r.Rating,
		PointsTotal:         r.PointsTotal,
		TotalSubmissions:    r.TotalSubmissions,
		AcceptedSubmissions: r.AcceptedSubmissions,
		CreatedAt:           r.CreatedAt,
		UpdatedAt:           r.UpdatedAt,
	}
}

type contestRow struct {
	bun.BaseModel `bun:"table:contests,alias:ct"`

	ID            int64     `bun:"id,pk,autoincrement"`
	Title         string    `bun:"title,notnull"`
	Slug          string    `bun:"slug,notnull"`
	Description   string    `bun:"description,notnull"`
	Location      string    `bun:"location,notnull"`
	StartDate     time.Time `bun:"start_date,notnull"`
	EndDate       time.Time `bun:"end_date,notnull"`
	Visibility    string    `bun:"visibility,notnull"`
	Finalized     bool      `bun:"finalized,notnull"`
	ProblemsCount int       `bun:"problems_count,notnull"`
	CreatedAt     time.Time `bun:"created_at,notnull"`
	UpdatedAt     time.Time `bun:"updated_at,notnull"`
}

func (r contestRow) toDomain() domain.Contest {
	return domain.Contest{
		ID:            r.ID,
		Title:         r.Title,
		Slug:          r.Slug,
		Description:   r.Description,
		Location:      r.Location,
		StartDate:     r.StartDate,
		EndDate:       r.EndDate,
		Visibility:    domain.Visibility(r.Visibility),
		Finalized:     r.Finalized,
		ProblemsCount: r.ProblemsCount,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}

type problemRow struct {
	bun.BaseModel `bun:"table:problems,alias:pr"`

	ID            int64     `bun:"id,pk,autoincrement"`
	ContestID     int64     `bun:"contest_id,notnull"`
	Title         string    `bun:"title,notnull"`
	Code          string    `bun:"code,notnull"`
	MaxScore      int       `bun:"max_score,notnull"`
	TimeLimitMs   int       `bun:"time_limit_ms,notnull"`
	MemoryLimitKB int       `bun:"memory_limit_kb,notnull"`
	CreatedAt     time.Time `bun:"created_at,notnull"`
}

func (r problemRow) toDomain() domain.Problem {
	return domain.Problem{
		ID:            r.ID,
		ContestID:     r.ContestID,
		Title:         r.Title,
		Code:          r.Code,
		MaxScore:      r.MaxScore,
		TimeLimitMs:   r.TimeLimitMs,
		MemoryLimitKB: r.MemoryLimitKB,
		CreatedAt:     r.CreatedAt,
	}
}

type submissionRow struct {
	bun.BaseModel `bun:"table:submissions,alias:sb"`

	ID          int64      `bun:"id,pk,autoincrement"`
	ContestID   int64      `bun:"contest_id,notnull"`
	ProblemID   int64      `bun:"problem_id,notnull"`
	CoderID     int64      `bun:"coder_id,notnull"`
	Language    string     `bun:"language,notnull"`
	Code        string     `bun:"code,notnull"`
	Status      string     `bun:"status,notnull"`
	Score       int        `bun:"score,notnull"`
	AttemptNo   int        `bun:"attempt_no,notnull"`
	RuntimeMs   int        `bun:"runtime_ms,notnull"`
	MemoryKB    int        `bun:"memory_kb,notnull"`
	SubmittedAt time.Time  `bun:"submitted_at,notnull"`
	JudgedAt    *time.Time `bun:"judged_at"`
}

func (r submissionRow) toDomain() domain.Submission {
	return domain.Submission{
		ID:          r.ID,
		ContestID:   r.ContestID,
		ProblemID:   r.ProblemID,
		CoderID:     r.CoderID,
		Language:    r.Language,
		Code:        r.Code,
		Status:      domain.SubmissionStatus(r.Status),
		Score:       r.Score,
		AttemptNo:   r.AttemptNo,
		RuntimeMs:   r.RuntimeMs,
		MemoryKB:    r.MemoryKB,
		SubmittedAt: r.SubmittedAt,
		JudgedAt:    r.JudgedAt,
	}
}

type ratingChangeRow struct {
	bun.BaseModel `bun:"table:rating_changes,alias:rc"`

	ID        int64     `bun:"id,pk,autoincrement"`
	CoderID   int64     `bun:"coder_id,notnull"`
	ContestID int64     `bun:"contest_id,notnull"`
	OldRating int       `bun:"old_rating,notnull"`
	NewRating int       `bun:"new_rating,notnull"`
	Delta     int       `bun:"delta,notnull"`
	Reason    string    `bun:"reason,notnull"`
	CreatedAt time.Time `bun:"created_at,notnull"`
}

func (r ratingChangeRow) toDomain() domain.RatingChange {
	return domain.RatingChange{
		ID:        r.ID,
		CoderID:   r.CoderID,
		ContestID: r.ContestID,
		OldRating: r.OldRating,
		NewRating: r.NewRating,
		Delta:     r.Delta,
		Reason:    r.Reason,
		CreatedAt: r.CreatedAt,
	}
}
