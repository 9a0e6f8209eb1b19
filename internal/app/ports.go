package app

import (
	"context"
	"time"

	"contest-rating-service/internal/domain"
)

// Reader is the read side of the persistent store.
type Reader interface {
	GetCoder(ctx context.Context, id int64) (domain.Coder, error)
	GetContest(ctx context.Context, id int64) (domain.Contest, error)
	GetProblem(ctx context.Context, id int64) (domain.Problem, error)
	GetSubmission(ctx context.Context, id int64) (domain.Submission, error)
	ListProblems(ctx context.Context, contestID int64) ([]domain.Problem, error)
	ListSubmissions(ctx context.Context, contestID int64) ([]domain.Submission, error)
	// ListRatingChanges returns a coder's ledger ordered by created_at, id.
	ListRatingChanges(ctx context.Context, coderID int64) ([]domain.RatingChange, error)
	// ListDueContests returns unfinalized contests whose end_date is not after t.
	ListDueContests(ctx context.Context, t time.Time) ([]domain.Contest, error)
}

// Tx is one all-or-nothing unit of work. Implementations translate uniqueness
// violations into the matching domain conflict errors.
type Tx interface {
	Reader

	CreateCoder(ctx context.Context, coder *domain.Coder) error
	CreateContest(ctx context.Context, contest *domain.Contest) error
	SlugExists(ctx context.Context, slug string) (bool, error)
	// CreateProblem inserts the problem and bumps the contest's problems_count.
	CreateProblem(ctx context.Context, problem *domain.Problem) error

	NextAttemptNo(ctx context.Context, contestID, problemID, coderID int64) (int, error)
	CreateSubmission(ctx context.Context, sub *domain.Submission) error
	// JudgeSubmission applies j only while the submission is still pending and
	// returns domain.ErrAlreadyJudged otherwise.
	JudgeSubmission(ctx context.Context, id int64, j domain.Judgement) error
	BumpSubmissionCounters(ctx context.Context, coderID int64, accepted bool) error

	// LockContest reads the contest and holds it exclusively until the unit of work ends.
	LockContest(ctx context.Context, id int64) (domain.Contest, error)
	// ShareContest reads the contest and keeps it from being locked exclusively
	// (finalized) until the unit of work ends; shared holders do not block each other.
	ShareContest(ctx context.Context, id int64) (domain.Contest, error)
	SetContestEnd(ctx context.Context, id int64, end time.Time) error
	// MarkContestFinalized flips finalized false -> true and returns
	// domain.ErrAlreadyFinalized when it was already set.
	MarkContestFinalized(ctx context.Context, id int64) error

	// LockCoders reads the coders and holds them exclusively until the unit of work
	// ends. Rows are locked in id order so concurrent callers cannot deadlock.
	LockCoders(ctx context.Context, ids []int64) (map[int64]domain.Coder, error)
	SumRatingDeltas(ctx context.Context, coderIDs []int64) (map[int64]int, error)
	InsertRatingChanges(ctx context.Context, changes []domain.RatingChange) error
	ApplyContestResult(ctx context.Context, coderID int64, rating, points int) error
}

// Store is the transactional persistence collaborator.
type Store interface {
	Reader
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// SnapshotLoader loads what is needed to rebuild a contest's standings.
type SnapshotLoader interface {
	LoadSnapshot(ctx context.Context, contestID int64) (domain.ContestSnapshot, error)
}

// LeaderboardCache serves standings built from a SnapshotLoader (in-memory, Redis, etc).
type LeaderboardCache interface {
	GetLeaderboard(ctx context.Context, contestID int64) (domain.Leaderboard, error)
	Invalidate(ctx context.Context, contestID int64) error
}

// HubRegistry abstracts where live standings hubs are kept. DeleteIfEmpty must check
// emptiness and remove the hub under the same lock that GetOrCreate and Get take.
type HubRegistry interface {
	GetOrCreate(contestID int64) *Hub
	Get(contestID int64) (*Hub, bool)
	DeleteIfEmpty(contestID int64)
}
