package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"contest-rating-service/internal/app"
	"contest-rating-service/internal/domain"
)

// Store is an in-memory implementation of app.Store and app.SnapshotLoader.
// Units of work run one at a time against a private copy that replaces the
// live state only when the callback succeeds.
type Store struct {
	mu    sync.RWMutex
	state *state
}

type state struct {
	nextID int64

	coders      map[int64]domain.Coder
	contests    map[int64]domain.Contest
	problems    map[int64]domain.Problem
	submissions map[int64]domain.Submission
	changes     []domain.RatingChange
}

func NewStore() *Store {
	return &Store{state: &state{
		coders:      make(map[int64]domain.Coder),
		contests:    make(map[int64]domain.Contest),
		problems:    make(map[int64]domain.Problem),
		submissions: make(map[int64]domain.Submission),
	}}
}

func (s *state) clone() *state {
	return &state{
		nextID:      s.nextID,
		coders:      maps.Clone(s.coders),
		contests:    maps.Clone(s.contests),
		problems:    maps.Clone(s.problems),
		submissions: maps.Clone(s.submissions),
		changes:     slices.Clone(s.changes),
	}
}

func (s *state) id() int64 {
	s.nextID++
	return s.nextID
}

// RunInTx serializes units of work and commits the staged copy on success.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx app.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	staged := &txView{state: s.state.clone()}
	if err := fn(ctx, staged); err != nil {
		return err
	}
	s.state = staged.state
	return nil
}

func (s *Store) read() *txView {
	return &txView{state: s.state}
}

func (s *Store) GetCoder(ctx context.Context, id int64) (domain.Coder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().GetCoder(ctx, id)
}

func (s *Store) GetContest(ctx context.Context, id int64) (domain.Contest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().GetContest(ctx, id)
}

func (s *Store) GetProblem(ctx context.Context, id int64) (domain.Problem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().GetProblem(ctx, id)
}

func (s *Store) GetSubmission(ctx context.Context, id int64) (domain.Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().GetSubmission(ctx, id)
}

func (s *Store) ListProblems(ctx context.Context, contestID int64) ([]domain.Problem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().ListProblems(ctx, contestID)
}

func (s *Store) ListSubmissions(ctx context.Context, contestID int64) ([]domain.Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().ListSubmissions(ctx, contestID)
}

func (s *Store) ListRatingChanges(ctx context.Context, coderID int64) ([]domain.RatingChange, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().ListRatingChanges(ctx, coderID)
}

func (s *Store) ListDueContests(ctx context.Context, t time.Time) ([]domain.Contest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().ListDueContests(ctx, t)
}

// LoadSnapshot implements app.SnapshotLoader.
func (s *Store) LoadSnapshot(ctx context.Context, contestID int64) (domain.ContestSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v := s.read()
	contest, err := v.GetContest(ctx, contestID)
	if err != nil {
		return domain.ContestSnapshot{}, err
	}
	problems, err := v.ListProblems(ctx, contestID)
	if err != nil {
		return domain.ContestSnapshot{}, err
	}
	submissions, err := v.ListSubmissions(ctx, contestID)
	if err != nil {
		return domain.ContestSnapshot{}, err
	}
	return domain.ContestSnapshot{Contest: contest, Problems: problems, Submissions: submissions}, nil
}

// txView implements app.Tx over a state the caller already holds exclusively
// (or only reads under the store's read lock).
type txView struct {
	state *state
}

func (v *txView) GetCoder(_ context.Context, id int64) (domain.Coder, error) {
	c, ok := v.state.coders[id]
	if !ok {
		return domain.Coder{}, domain.ErrCoderNotFound
	}
	return c, nil
}

// LockCoders needs no row locks here: RunInTx already serializes units of work.
func (v *txView) LockCoders(_ context.Context, ids []int64) (map[int64]domain.Coder, error) {
	out := make(map[int64]domain.Coder, len(ids))
	for _, id := range ids {
		if c, ok := v.state.coders[id]; ok {
			out[id] = c
		}
	}
	return out, nil
}

func (v *txView) GetContest(_ context.Context, id int64) (domain.Contest, error) {
	c, ok := v.state.contests[id]
	if !ok {
		return domain.Contest{}, domain.ErrContestNotFound
	}
	return c, nil
}

func (v *txView) GetProblem(_ context.Context, id int64) (domain.Problem, error) {
	p, ok := v.state.problems[id]
	if !ok {
		return domain.Problem{}, domain.ErrProblemNotFound
	}
	return p, nil
}

func (v *txView) GetSubmission(_ context.Context, id int64) (domain.Submission, error) {
	sub, ok := v.state.submissions[id]
	if !ok {
		return domain.Submission{}, domain.ErrSubmissionNotFound
	}
	return sub, nil
}

func (v *txView) ListProblems(_ context.Context, contestID int64) ([]domain.Problem, error) {
	var out []domain.Problem
	for _, p := range v.state.problems {
		if p.ContestID == contestID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (v *txView) ListSubmissions(_ context.Context, contestID int64) ([]domain.Submission, error) {
	var out []domain.Submission
	for _, sub := range v.state.submissions {
		if sub.ContestID == contestID {
			out = append(out, sub)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (v *txView) ListRatingChanges(_ context.Context, coderID int64) ([]domain.RatingChange, error) {
	var out []domain.RatingChange
	for _, c := range v.state.changes {
		if c.CoderID == coderID {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (v *txView) ListDueContests(_ context.Context, t time.Time) ([]domain.Contest, error) {
	var out []domain.Contest
	for _, c := range v.state.contests {
		if !c.Finalized && c.HasEnded(t) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EndDate.Before(out[j].EndDate) })
	return out, nil
}

func (v *txView) CreateCoder(_ context.Context, coder *domain.Coder) error {
	for _, c := range v.state.coders {
		if c.Nickname == coder.Nickname || c.DisplayName == coder.DisplayName {
			return domain.ErrDuplicateCoder
		}
	}
	coder.ID = v.state.id()
	v.state.coders[coder.ID] = *coder
	return nil
}

func (v *txView) CreateContest(_ context.Context, contest *domain.Contest) error {
	for _, c := range v.state.contests {
		if c.Slug == contest.Slug {
			return domain.Validationf("slug %q already taken", contest.Slug)
		}
	}
	contest.ID = v.state.id()
	v.state.contests[contest.ID] = *contest
	return nil
}

func (v *txView) SlugExists(_ context.Context, slug string) (bool, error) {
	for _, c := range v.state.contests {
		if c.Slug == slug {
			return true, nil
		}
	}
	return false, nil
}

func (v *txView) CreateProblem(_ context.Context, problem *domain.Problem) error {
	contest, ok := v.state.contests[problem.ContestID]
	if !ok {
		return domain.ErrContestNotFound
	}
	for _, p := range v.state.problems {
		if p.ContestID == problem.ContestID && p.Code == problem.Code {
			return domain.ErrDuplicateProblem
		}
	}
	problem.ID = v.state.id()
	v.state.problems[problem.ID] = *problem
	contest.ProblemsCount++
	v.state.contests[contest.ID] = contest
	return nil
}

func (v *txView) NextAttemptNo(_ context.Context, contestID, problemID, coderID int64) (int, error) {
	last := 0
	for _, sub := range v.state.submissions {
		if sub.ContestID == contestID && sub.ProblemID == problemID && sub.CoderID == coderID && sub.AttemptNo > last {
			last = sub.AttemptNo
		}
	}
	return last + 1, nil
}

func (v *txView) CreateSubmission(_ context.Context, sub *domain.Submission) error {
	for _, existing := range v.state.submissions {
		if existing.ContestID == sub.ContestID && existing.ProblemID == sub.ProblemID &&
			existing.CoderID == sub.CoderID && existing.AttemptNo == sub.AttemptNo {
			return domain.ErrDuplicateAttempt
		}
	}
	sub.ID = v.state.id()
	v.state.submissions[sub.ID] = *sub
	return nil
}

func (v *txView) JudgeSubmission(_ context.Context, id int64, j domain.Judgement) error {
	sub, ok := v.state.submissions[id]
	if !ok {
		return domain.ErrSubmissionNotFound
	}
	if sub.Status != domain.StatusPending {
		return domain.ErrAlreadyJudged
	}
	judgedAt := j.JudgedAt
	sub.Status, sub.Score, sub.RuntimeMs, sub.MemoryKB, sub.JudgedAt = j.Status, j.Score, j.RuntimeMs, j.MemoryKB, &judgedAt
	v.state.submissions[id] = sub
	return nil
}

func (v *txView) BumpSubmissionCounters(_ context.Context, coderID int64, accepted bool) error {
	c, ok := v.state.coders[coderID]
	if !ok {
		return domain.ErrCoderNotFound
	}
	c.TotalSubmissions++
	if accepted {
		c.AcceptedSubmissions++
	}
	v.state.coders[coderID] = c
	return nil
}

func (v *txView) LockContest(ctx context.Context, id int64) (domain.Contest, error) {
	// the whole unit of work already runs exclusively
	return v.GetContest(ctx, id)
}

func (v *txView) ShareContest(ctx context.Context, id int64) (domain.Contest, error) {
	return v.GetContest(ctx, id)
}

func (v *txView) SetContestEnd(_ context.Context, id int64, end time.Time) error {
	c, ok := v.state.contests[id]
	if !ok {
		return domain.ErrContestNotFound
	}
	c.EndDate = end
	c.UpdatedAt = end
	v.state.contests[id] = c
	return nil
}

func (v *txView) MarkContestFinalized(_ context.Context, id int64) error {
	c, ok := v.state.contests[id]
	if !ok {
		return domain.ErrContestNotFound
	}
	if c.Finalized {
		return domain.ErrAlreadyFinalized
	}
	c.Finalized = true
	v.state.contests[id] = c
	return nil
}

func (v *txView) SumRatingDeltas(_ context.Context, coderIDs []int64) (map[int64]int, error) {
	want := make(map[int64]struct{}, len(coderIDs))
	for _, id := range coderIDs {
		want[id] = struct{}{}
	}
	out := make(map[int64]int, len(coderIDs))
	for _, c := range v.state.changes {
		if _, ok := want[c.CoderID]; ok {
			out[c.CoderID] += c.Delta
		}
	}
	return out, nil
}

func (v *txView) InsertRatingChanges(_ context.Context, changes []domain.RatingChange) error {
	for i := range changes {
		for _, existing := range v.state.changes {
			if existing.CoderID == changes[i].CoderID && existing.ContestID == changes[i].ContestID {
				return fmt.Errorf("%w: coder %d already rated for contest %d", domain.ErrAlreadyFinalized, changes[i].CoderID, changes[i].ContestID)
			}
		}
		changes[i].ID = v.state.id()
		v.state.changes = append(v.state.changes, changes[i])
	}
	return nil
}

func (v *txView) ApplyContestResult(_ context.Context, coderID int64, rating, points int) error {
	c, ok := v.state.coders[coderID]
	if !ok {
		return domain.ErrCoderNotFound
	}
	c.Rating = rating
	c.PointsTotal += points
	v.state.coders[coderID] = c
	return nil
}
