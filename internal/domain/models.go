package domain

import "time"

// DefaultRating is the rating every coder starts from before any rated contest.
const DefaultRating = 1500

// Visibility controls who can see a contest.
type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
)

func (v Visibility) Valid() bool {
	switch v {
	case VisibilityPublic, VisibilityPrivate:
		return true
	}
	return false
}

// Coder is a registered participant together with its running tallies.
type Coder struct {
	ID                  int64     `json:"id"`
	Nickname            string    `json:"nickname"`
	DisplayName         string    `json:"displayName"`
	Country             string    `json:"country"`
	Bio                 string    `json:"bio,omitempty"`
	Rating              int       `json:"rating"`
	PointsTotal         int       `json:"pointsTotal"`
	TotalSubmissions    int       `json:"totalSubmissions"`
	AcceptedSubmissions int       `json:"acceptedSubmissions"`
	CreatedAt           time.Time `json:"createdAt"`
	UpdatedAt           time.Time `json:"updatedAt"`
}

// Contest is a timed competition over [StartDate, EndDate).
type Contest struct {
	ID            int64      `json:"id"`
	Title         string     `json:"title"`
	Slug          string     `json:"slug"`
	Description   string     `json:"description,omitempty"`
	Location      string     `json:"location"`
	StartDate     time.Time  `json:"startDate"`
	EndDate       time.Time  `json:"endDate"`
	Visibility    Visibility `json:"visibility"`
	Finalized     bool       `json:"finalized"`
	ProblemsCount int        `json:"problemsCount"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

// IsOpen reports whether submissions are accepted at t.
func (c Contest) IsOpen(t time.Time) bool {
	return !c.Finalized && !t.Before(c.StartDate) && t.Before(c.EndDate)
}

// HasEnded reports whether the contest window is over at t.
func (c Contest) HasEnded(t time.Time) bool {
	return !t.Before(c.EndDate)
}

// Problem belongs to exactly one contest; its limits are the judging contract.
type Problem struct {
	ID            int64     `json:"id"`
	ContestID     int64     `json:"contestId"`
	Title         string    `json:"title"`
	Code          string    `json:"code"`
	MaxScore      int       `json:"maxScore"`
	TimeLimitMs   int       `json:"timeLimitMs"`
	MemoryLimitKB int       `json:"memoryLimitKb"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Submission is one attempt by one coder at one problem.
type Submission struct {
	ID          int64            `json:"id"`
	ContestID   int64            `json:"contestId"`
	ProblemID   int64            `json:"problemId"`
	CoderID     int64            `json:"coderId"`
	Language    string           `json:"language"`
	Code        string           `json:"code,omitempty"`
	Status      SubmissionStatus `json:"status"`
	Score       int              `json:"score"`
	AttemptNo   int              `json:"attemptNo"`
	RuntimeMs   int              `json:"runtimeMs"`
	MemoryKB    int              `json:"memoryKb"`
	SubmittedAt time.Time        `json:"submittedAt"`
	JudgedAt    *time.Time       `json:"judgedAt,omitempty"`
}

// Judged reports whether the submission reached a terminal status.
func (s Submission) Judged() bool {
	return s.Status.Terminal()
}

// Judgement is the terminal outcome written onto a pending submission.
type Judgement struct {
	Status    SubmissionStatus
	Score     int
	RuntimeMs int
	MemoryKB  int
	JudgedAt  time.Time
}

// VerdictEvent is what the execution sandbox delivers (at least once) per submission.
type VerdictEvent struct {
	SubmissionID int64            `json:"submissionId" validate:"required,gt=0"`
	Status       SubmissionStatus `json:"status" validate:"required"`
	Score        int              `json:"score"`
	RuntimeMs    int              `json:"runtimeMs" validate:"gte=0"`
	MemoryKB     int              `json:"memoryKb" validate:"gte=0"`
}

// RatingChange is one immutable ledger entry.
type RatingChange struct {
	ID        int64     `json:"id"`
	CoderID   int64     `json:"coderId"`
	ContestID int64     `json:"contestId"`
	OldRating int       `json:"oldRating"`
	NewRating int       `json:"newRating"`
	Delta     int       `json:"delta"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"createdAt"`
}

// LeaderboardEntry is one ranked participant.
type LeaderboardEntry struct {
	Rank            int   `json:"rank"`
	CoderID         int64 `json:"coderId"`
	Points          int   `json:"points"`
	Solved          int   `json:"solved"`
	AcceptedTimeSum int64 `json:"acceptedTimeSumMs"`
}

// Leaderboard captures the ordered standings of a contest.
type Leaderboard struct {
	ContestID int64              `json:"contestId"`
	Final     bool               `json:"final"`
	Entries   []LeaderboardEntry `json:"entries"`
	UpdatedAt time.Time          `json:"updatedAt"`
}

// ContestSnapshot is everything needed to rebuild standings for one contest.
type ContestSnapshot struct {
	Contest     Contest
	Problems    []Problem
	Submissions []Submission
}
