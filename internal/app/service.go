package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gosimple/slug"
	"github.com/rs/zerolog"

	"contest-rating-service/internal/domain"
	"contest-rating-service/internal/observability"
	"contest-rating-service/internal/rating"
	"contest-rating-service/internal/scoring"
)

const maxSubmitRetries = 3

// Deps bundles the collaborators of Service.
type Deps struct {
	Store     Store
	Standings LeaderboardCache
	Hubs      HubRegistry
	Engine    rating.Engine
	Validate  *validator.Validate
	Logger    zerolog.Logger
}

// Service contains the judging, standings and rating use cases.
type Service struct {
	store     Store
	standings LeaderboardCache
	hubs      HubRegistry
	engine    rating.Engine
	validate  *validator.Validate
	logger    zerolog.Logger
	now       func() time.Time
}

func NewService(deps Deps) *Service {
	return NewServiceWithClock(deps, time.Now)
}

// NewServiceWithClock allows deterministic timestamps in tests.
func NewServiceWithClock(deps Deps, now func() time.Time) *Service {
	if deps.Validate == nil {
		deps.Validate = validator.New(validator.WithRequiredStructEnabled())
	}
	if deps.Engine.K == 0 {
		deps.Engine = rating.DefaultEngine()
	}
	return &Service{
		store:     deps.Store,
		standings: deps.Standings,
		hubs:      deps.Hubs,
		engine:    deps.Engine,
		validate:  deps.Validate,
		logger:    deps.Logger.With().Str("component", "contest_service").Logger(),
		now:       now,
	}
}

// RegisterCoder creates a coder at the starting rating.
func (s *Service) RegisterCoder(ctx context.Context, req RegisterCoderRequest) (domain.Coder, error) {
	if err := s.check(req); err != nil {
		return domain.Coder{}, err
	}
	now := s.now()
	coder := domain.Coder{
		Nickname:    strings.TrimSpace(req.Nickname),
		DisplayName: strings.TrimSpace(req.DisplayName),
		Country:     strings.TrimSpace(req.Country),
		Bio:         req.Bio,
		Rating:      s.engine.Default,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		return tx.CreateCoder(ctx, &coder)
	})
	if err != nil {
		return domain.Coder{}, fmt.Errorf("register coder %q: %w", coder.Nickname, err)
	}
	return coder, nil
}

// CreateContest validates the window and derives a unique slug from the title.
func (s *Service) CreateContest(ctx context.Context, req CreateContestRequest) (domain.Contest, error) {
	if err := s.check(req); err != nil {
		return domain.Contest{}, err
	}
	if req.Visibility == "" {
		req.Visibility = domain.VisibilityPublic
	}
	now := s.now()
	contest := domain.Contest{
		Title:       strings.TrimSpace(req.Title),
		Description: req.Description,
		Location:    strings.TrimSpace(req.Location),
		StartDate:   req.StartDate.UTC(),
		EndDate:     req.EndDate.UTC(),
		Visibility:  req.Visibility,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		unique, err := uniqueSlug(ctx, tx, contest.Title)
		if err != nil {
			return err
		}
		contest.Slug = unique
		return tx.CreateContest(ctx, &contest)
	})
	if err != nil {
		return domain.Contest{}, fmt.Errorf("create contest %q: %w", contest.Title, err)
	}
	s.logger.Info().Int64("contest_id", contest.ID).Str("slug", contest.Slug).Msg("contest created")
	return contest, nil
}

func uniqueSlug(ctx context.Context, tx Tx, title string) (string, error) {
	base := slug.Make(title)
	if base == "" {
		base = "contest"
	}
	candidate := base
	for n := 2; ; n++ {
		taken, err := tx.SlugExists(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s-%d", base, n)
	}
}

// AddProblem attaches a problem to a contest that has not been finalized.
func (s *Service) AddProblem(ctx context.Context, req AddProblemRequest) (domain.Problem, error) {
	if err := s.check(req); err != nil {
		return domain.Problem{}, err
	}
	problem := domain.Problem{
		ContestID:     req.ContestID,
		Title:         strings.TrimSpace(req.Title),
		Code:          strings.TrimSpace(req.Code),
		MaxScore:      orDefault(req.MaxScore, defaultMaxScore),
		TimeLimitMs:   orDefault(req.TimeLimitMs, defaultTimeLimitMs),
		MemoryLimitKB: orDefault(req.MemoryLimitKB, defaultMemoryLimitKB),
		CreatedAt:     s.now(),
	}
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		contest, err := tx.LockContest(ctx, req.ContestID)
		if err != nil {
			return err
		}
		if contest.Finalized {
			return domain.ErrContestFinalized
		}
		return tx.CreateProblem(ctx, &problem)
	})
	if err != nil {
		return domain.Problem{}, fmt.Errorf("add problem %q to contest %d: %w", problem.Code, req.ContestID, err)
	}
	return problem, nil
}

// Submit stores a pending submission with the coder's next attempt number.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (domain.Submission, error) {
	if err := s.check(req); err != nil {
		return domain.Submission{}, err
	}

	var (
		created domain.Submission
		err     error
	)
	for try := 0; try < maxSubmitRetries; try++ {
		err = s.store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
			now := s.now()
			contest, err := tx.ShareContest(ctx, req.ContestID)
			if err != nil {
				return err
			}
			if !contest.IsOpen(now) {
				return domain.ErrContestNotOpen
			}
			problem, err := tx.GetProblem(ctx, req.ProblemID)
			if err != nil {
				return err
			}
			if problem.ContestID != contest.ID {
				return domain.ErrProblemNotFound
			}
			if _, err := tx.GetCoder(ctx, req.CoderID); err != nil {
				return err
			}
			attempt, err := tx.NextAttemptNo(ctx, contest.ID, problem.ID, req.CoderID)
			if err != nil {
				return err
			}
			created = domain.Submission{
				ContestID:   contest.ID,
				ProblemID:   problem.ID,
				CoderID:     req.CoderID,
				Language:    strings.TrimSpace(req.Language),
				Code:        req.Code,
				Status:      domain.StatusPending,
				AttemptNo:   attempt,
				SubmittedAt: now,
			}
			return tx.CreateSubmission(ctx, &created)
		})
		if !errors.Is(err, domain.ErrDuplicateAttempt) {
			break
		}
		s.logger.Debug().Int64("coder_id", req.CoderID).Int64("problem_id", req.ProblemID).Msg("attempt number raced, retrying")
	}
	if err != nil {
		return domain.Submission{}, fmt.Errorf("submit to contest %d: %w", req.ContestID, err)
	}

	observability.Submissions().Inc()
	s.refresh(ctx, created.ContestID)
	return created, nil
}

// RecordVerdict applies a sandbox verdict to a pending submission exactly once.
// Repeated deliveries fail with domain.ErrAlreadyJudged and change nothing.
func (s *Service) RecordVerdict(ctx context.Context, event domain.VerdictEvent) (domain.Submission, error) {
	if err := s.check(event); err != nil {
		observability.Verdicts().WithLabelValues("invalid").Inc()
		return domain.Submission{}, err
	}
	if err := domain.Transition(domain.StatusPending, event.Status); err != nil {
		observability.Verdicts().WithLabelValues("invalid").Inc()
		return domain.Submission{}, err
	}

	var judged domain.Submission
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		sub, err := tx.GetSubmission(ctx, event.SubmissionID)
		if err != nil {
			return err
		}
		if err := domain.Transition(sub.Status, event.Status); err != nil {
			if sub.Status.Terminal() {
				return domain.ErrAlreadyJudged
			}
			return err
		}
		contest, err := tx.ShareContest(ctx, sub.ContestID)
		if err != nil {
			return err
		}
		if contest.Finalized {
			return domain.ErrContestFinalized
		}
		problem, err := tx.GetProblem(ctx, sub.ProblemID)
		if err != nil {
			return err
		}
		if event.Score < 0 || event.Score > problem.MaxScore {
			return fmt.Errorf("%w: %d not in [0, %d]", domain.ErrScoreOutOfRange, event.Score, problem.MaxScore)
		}

		j := domain.Judgement{
			Status:    event.Status,
			Score:     event.Score,
			RuntimeMs: event.RuntimeMs,
			MemoryKB:  event.MemoryKB,
			JudgedAt:  s.now(),
		}
		if err := tx.JudgeSubmission(ctx, sub.ID, j); err != nil {
			return err
		}
		if err := tx.BumpSubmissionCounters(ctx, sub.CoderID, j.Status == domain.StatusAccepted); err != nil {
			return err
		}

		sub.Status, sub.Score, sub.RuntimeMs, sub.MemoryKB = j.Status, j.Score, j.RuntimeMs, j.MemoryKB
		judgedAt := j.JudgedAt
		sub.JudgedAt = &judgedAt
		judged = sub
		return nil
	})
	if err != nil {
		observability.Verdicts().WithLabelValues(verdictOutcome(err)).Inc()
		return domain.Submission{}, fmt.Errorf("record verdict for submission %d: %w", event.SubmissionID, err)
	}

	observability.Verdicts().WithLabelValues(string(judged.Status)).Inc()
	s.logger.Debug().
		Int64("submission_id", judged.ID).
		Str("status", string(judged.Status)).
		Int("score", judged.Score).
		Msg("verdict recorded")
	s.refresh(ctx, judged.ContestID)
	return judged, nil
}

func verdictOutcome(err error) string {
	switch {
	case errors.Is(err, domain.ErrAlreadyJudged):
		return "duplicate"
	case domain.KindOf(err) == domain.KindInternal:
		return "error"
	default:
		return domain.KindOf(err).String()
	}
}

// CloseContest ends a running contest now so it can be finalized early.
func (s *Service) CloseContest(ctx context.Context, contestID int64) (domain.Contest, error) {
	var closed domain.Contest
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		contest, err := tx.LockContest(ctx, contestID)
		if err != nil {
			return err
		}
		if contest.Finalized {
			return domain.ErrContestFinalized
		}
		now := s.now()
		if !now.After(contest.StartDate) {
			return domain.ErrContestNotStarted
		}
		if !contest.HasEnded(now) {
			if err := tx.SetContestEnd(ctx, contest.ID, now); err != nil {
				return err
			}
			contest.EndDate = now
			contest.UpdatedAt = now
		}
		closed = contest
		return nil
	})
	if err != nil {
		return domain.Contest{}, fmt.Errorf("close contest %d: %w", contestID, err)
	}
	s.logger.Info().Int64("contest_id", contestID).Time("end_date", closed.EndDate).Msg("contest closed")
	return closed, nil
}

// FinalizeContest freezes standings, writes one rating change per participant and marks
// the contest finalized, all in one unit of work.
func (s *Service) FinalizeContest(ctx context.Context, contestID int64) (FinalizeResult, error) {
	started := time.Now()
	var result FinalizeResult

	err := s.store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		contest, err := tx.LockContest(ctx, contestID)
		if err != nil {
			return err
		}
		if contest.Finalized {
			return domain.ErrAlreadyFinalized
		}
		now := s.now()
		if !contest.HasEnded(now) {
			return domain.ErrContestNotEnded
		}

		problems, err := tx.ListProblems(ctx, contest.ID)
		if err != nil {
			return err
		}
		submissions, err := tx.ListSubmissions(ctx, contest.ID)
		if err != nil {
			return err
		}
		board := scoring.Build(domain.ContestSnapshot{Contest: contest, Problems: problems, Submissions: submissions})

		prior, err := s.priorRatings(ctx, tx, board.Entries)
		if err != nil {
			return err
		}
		changes := s.engine.Compute(board.Entries, prior)

		reason := fmt.Sprintf("contest #%d: %s", contest.ID, contest.Title)
		records := make([]domain.RatingChange, len(changes))
		for i, c := range changes {
			records[i] = domain.RatingChange{
				CoderID:   c.CoderID,
				ContestID: contest.ID,
				OldRating: c.OldRating,
				NewRating: c.NewRating,
				Delta:     c.Delta,
				Reason:    reason,
				CreatedAt: now,
			}
		}
		if err := tx.InsertRatingChanges(ctx, records); err != nil {
			return err
		}
		for i, c := range changes {
			if err := tx.ApplyContestResult(ctx, c.CoderID, c.NewRating, board.Entries[i].Points); err != nil {
				return err
			}
		}
		if err := tx.MarkContestFinalized(ctx, contest.ID); err != nil {
			return err
		}

		contest.Finalized = true
		contest.UpdatedAt = now
		board.Final = true
		board.UpdatedAt = now
		result = FinalizeResult{Contest: contest, Leaderboard: board, Changes: records}
		return nil
	})
	observability.FinalizeDuration().Observe(time.Since(started).Seconds())
	if err != nil {
		observability.Finalizations().WithLabelValues(finalizeOutcome(err)).Inc()
		return FinalizeResult{}, fmt.Errorf("finalize contest %d: %w", contestID, err)
	}

	observability.Finalizations().WithLabelValues("finalized").Inc()
	observability.RatingChanges().Add(float64(len(result.Changes)))
	s.logger.Info().
		Int64("contest_id", contestID).
		Int("participants", len(result.Changes)).
		Msg("contest finalized")
	s.refresh(ctx, contestID)
	return result, nil
}

func finalizeOutcome(err error) string {
	switch {
	case errors.Is(err, domain.ErrAlreadyFinalized):
		return "already_finalized"
	case errors.Is(err, domain.ErrContestNotEnded):
		return "not_ended"
	case domain.KindOf(err) == domain.KindIntegrity:
		return "integrity"
	default:
		return "error"
	}
}

// priorRatings locks each participant and checks their current rating against the ledger.
// The lock keeps a concurrent finalization of another contest from reading the same
// rating before this one's change is applied.
func (s *Service) priorRatings(ctx context.Context, tx Tx, entries []domain.LeaderboardEntry) (map[int64]int, error) {
	ids := make([]int64, len(entries))
	for i, e := range entries {
		ids[i] = e.CoderID
	}
	coders, err := tx.LockCoders(ctx, ids)
	if err != nil {
		return nil, err
	}
	sums, err := tx.SumRatingDeltas(ctx, ids)
	if err != nil {
		return nil, err
	}

	prior := make(map[int64]int, len(ids))
	for _, id := range ids {
		coder, ok := coders[id]
		if !ok {
			return nil, fmt.Errorf("%w: %d", domain.ErrCoderNotFound, id)
		}
		if want := s.engine.Default + sums[id]; coder.Rating != want {
			s.logger.Error().Int64("coder_id", id).Int("rating", coder.Rating).Int("ledger", want).Msg("rating ledger mismatch")
			return nil, fmt.Errorf("%w: coder %d has %d, ledger replays to %d", domain.ErrLedgerMismatch, id, coder.Rating, want)
		}
		prior[id] = coder.Rating
	}
	return prior, nil
}

// FinalizeDue finalizes every contest whose window has closed. Contests finalized
// concurrently by someone else are skipped.
func (s *Service) FinalizeDue(ctx context.Context) (int, error) {
	due, err := s.store.ListDueContests(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("list due contests: %w", err)
	}
	var (
		finalized int
		errs      []error
	)
	for _, c := range due {
		if _, err := s.FinalizeContest(ctx, c.ID); err != nil {
			if domain.IsIdempotent(err) {
				s.logger.Debug().Int64("contest_id", c.ID).Msg("contest finalized elsewhere")
				continue
			}
			errs = append(errs, err)
			continue
		}
		finalized++
	}
	return finalized, errors.Join(errs...)
}

// GetLeaderboard returns current standings; callable before and after finalization.
func (s *Service) GetLeaderboard(ctx context.Context, contestID int64) (domain.Leaderboard, error) {
	lb, err := s.standings.GetLeaderboard(ctx, contestID)
	if err != nil {
		return domain.Leaderboard{}, fmt.Errorf("leaderboard for contest %d: %w", contestID, err)
	}
	return lb, nil
}

// Aggregate returns the coder's points for the contest from stored submissions.
func (s *Service) Aggregate(ctx context.Context, contestID, coderID int64) (int, error) {
	if _, err := s.store.GetContest(ctx, contestID); err != nil {
		return 0, err
	}
	if _, err := s.store.GetCoder(ctx, coderID); err != nil {
		return 0, err
	}
	problems, err := s.store.ListProblems(ctx, contestID)
	if err != nil {
		return 0, err
	}
	submissions, err := s.store.ListSubmissions(ctx, contestID)
	if err != nil {
		return 0, err
	}
	return scoring.Aggregate(problems, submissions, coderID), nil
}

// RatingHistory returns the coder's ledger in chronological order.
func (s *Service) RatingHistory(ctx context.Context, coderID int64) ([]domain.RatingChange, error) {
	if _, err := s.store.GetCoder(ctx, coderID); err != nil {
		return nil, err
	}
	return s.store.ListRatingChanges(ctx, coderID)
}

// VerifyLedger replays the coder's rating history and compares it with the cached rating.
func (s *Service) VerifyLedger(ctx context.Context, coderID int64) error {
	coder, err := s.store.GetCoder(ctx, coderID)
	if err != nil {
		return err
	}
	changes, err := s.store.ListRatingChanges(ctx, coderID)
	if err != nil {
		return err
	}
	running := s.engine.Default
	for _, c := range changes {
		if c.OldRating != running || c.NewRating-c.OldRating != c.Delta {
			return fmt.Errorf("%w: coder %d change for contest %d does not chain", domain.ErrLedgerMismatch, coderID, c.ContestID)
		}
		running = c.NewRating
	}
	if running != coder.Rating {
		return fmt.Errorf("%w: coder %d has %d, ledger replays to %d", domain.ErrLedgerMismatch, coderID, coder.Rating, running)
	}
	return nil
}

// Subscribe returns a channel that receives standings updates for a contest.
// The caller must invoke the returned cancel function to avoid leaks.
func (s *Service) Subscribe(ctx context.Context, contestID int64) (<-chan domain.Leaderboard, func(), error) {
	lb, err := s.GetLeaderboard(ctx, contestID)
	if err != nil {
		return nil, nil, err
	}
	var (
		ch     <-chan domain.Leaderboard
		cancel func()
	)
	for {
		hub := s.hubs.GetOrCreate(contestID)
		ch, cancel = hub.subscribe(lb)
		// DeleteIfEmpty may have dropped the hub between GetOrCreate and subscribe.
		// Once we are a member it is non-empty and stays registered.
		if cur, ok := s.hubs.Get(contestID); ok && cur == hub {
			break
		}
		cancel()
	}
	return ch, func() {
		cancel()
		s.hubs.DeleteIfEmpty(contestID)
	}, nil
}

// refresh drops cached standings after a committed write and pushes the new ones to
// live subscribers. The write already succeeded, so failures here are only logged.
func (s *Service) refresh(ctx context.Context, contestID int64) {
	if err := s.standings.Invalidate(ctx, contestID); err != nil {
		s.logger.Warn().Err(err).Int64("contest_id", contestID).Msg("failed to invalidate cached leaderboard")
	}
	hub, ok := s.hubs.Get(contestID)
	if !ok || hub.IsEmpty() {
		return
	}
	lb, err := s.standings.GetLeaderboard(ctx, contestID)
	if err != nil {
		s.logger.Warn().Err(err).Int64("contest_id", contestID).Msg("failed to rebuild leaderboard for subscribers")
		return
	}
	hub.publish(lb)
}

func (s *Service) check(v any) error {
	if err := s.validate.Struct(v); err != nil {
		return domain.Validationf("%v", err)
	}
	return nil
}

func orDefault(v, fallback int) int {
	if v == 0 {
		return fallback
	}
	return v
}
