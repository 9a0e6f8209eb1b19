package app

import (
	"time"

	"contest-rating-service/internal/domain"
)

// RegisterCoderRequest creates a coder account.
type RegisterCoderRequest struct {
	Nickname    string `json:"nickname" validate:"required,max=50"`
	DisplayName string `json:"displayName" validate:"required,max=120"`
	Country     string `json:"country" validate:"required,max=50"`
	Bio         string `json:"bio"`
}

// CreateContestRequest mirrors the contest creation form.
type CreateContestRequest struct {
	Title       string            `json:"title" validate:"required,max=200"`
	Description string            `json:"description"`
	Location    string            `json:"location" validate:"required,max=100"`
	StartDate   time.Time         `json:"startDate" validate:"required"`
	EndDate     time.Time         `json:"endDate" validate:"required,gtfield=StartDate"`
	Visibility  domain.Visibility `json:"visibility" validate:"omitempty,oneof=public private"`
}

// AddProblemRequest attaches a problem to a contest. Zero limits take the defaults.
type AddProblemRequest struct {
	ContestID     int64  `json:"-" validate:"required,gt=0"`
	Title         string `json:"title" validate:"required,max=200"`
	Code          string `json:"code" validate:"required,max=20"`
	MaxScore      int    `json:"maxScore" validate:"gte=0"`
	TimeLimitMs   int    `json:"timeLimitMs" validate:"gte=0"`
	MemoryLimitKB int    `json:"memoryLimitKb" validate:"gte=0"`
}

// SubmitRequest is one coder's attempt at a problem.
type SubmitRequest struct {
	ContestID int64  `json:"-" validate:"required,gt=0"`
	ProblemID int64  `json:"problemId" validate:"required,gt=0"`
	CoderID   int64  `json:"coderId" validate:"required,gt=0"`
	Language  string `json:"language" validate:"required,max=50"`
	Code      string `json:"code" validate:"required"`
}

// FinalizeResult describes a committed finalization.
type FinalizeResult struct {
	Contest     domain.Contest        `json:"contest"`
	Leaderboard domain.Leaderboard    `json:"leaderboard"`
	Changes     []domain.RatingChange `json:"changes"`
}

const (
	defaultMaxScore      = 100
	defaultTimeLimitMs   = 1000
	defaultMemoryLimitKB = 65536
)
