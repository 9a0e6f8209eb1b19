package app_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"contest-rating-service/internal/app"
	"contest-rating-service/internal/domain"
	"contest-rating-service/internal/infra/memory"
	"contest-rating-service/internal/rating"
)

var contestStart = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

type fixture struct {
	svc     *app.Service
	store   *memory.Store
	clock   *fakeClock
	contest domain.Contest
	problem domain.Problem
	coders  []domain.Coder
}

func newFixture(t *testing.T, coders int) *fixture {
	t.Helper()
	ctx := context.Background()
	store := memory.NewStore()
	clock := &fakeClock{now: contestStart.Add(-time.Hour)}
	svc := app.NewServiceWithClock(app.Deps{
		Store:     store,
		Standings: memory.NewLeaderboardCache(store, time.Minute),
		Hubs:      memory.NewHubRegistry(),
		Engine:    rating.DefaultEngine(),
		Logger:    zerolog.Nop(),
	}, clock.Now)

	contest, err := svc.CreateContest(ctx, app.CreateContestRequest{
		Title:     "Spring Round",
		Location:  "Online",
		StartDate: contestStart,
		EndDate:   contestStart.Add(2 * time.Hour),
	})
	require.NoError(t, err)

	problem, err := svc.AddProblem(ctx, app.AddProblemRequest{ContestID: contest.ID, Title: "Sum", Code: "A"})
	require.NoError(t, err)
	require.Equal(t, 100, problem.MaxScore)

	f := &fixture{svc: svc, store: store, clock: clock, contest: contest, problem: problem}
	for i := 0; i < coders; i++ {
		nick := string(rune('a' + i))
		c, err := svc.RegisterCoder(ctx, app.RegisterCoderRequest{Nickname: nick, DisplayName: "Coder " + nick, Country: "VN"})
		require.NoError(t, err)
		require.Equal(t, domain.DefaultRating, c.Rating)
		f.coders = append(f.coders, c)
	}
	clock.Set(contestStart.Add(5 * time.Minute))
	return f
}

func (f *fixture) submit(t *testing.T, coderID int64) domain.Submission {
	t.Helper()
	sub, err := f.svc.Submit(context.Background(), app.SubmitRequest{
		ContestID: f.contest.ID,
		ProblemID: f.problem.ID,
		CoderID:   coderID,
		Language:  "go",
		Code:      "package main",
	})
	require.NoError(t, err)
	return sub
}

func (f *fixture) judge(t *testing.T, subID int64, status domain.SubmissionStatus, score int) {
	t.Helper()
	_, err := f.svc.RecordVerdict(context.Background(), domain.VerdictEvent{SubmissionID: subID, Status: status, Score: score})
	require.NoError(t, err)
}

func TestCreateContestSlugIsUnique(t *testing.T) {
	f := newFixture(t, 0)
	require.Equal(t, "spring-round", f.contest.Slug)

	again, err := f.svc.CreateContest(context.Background(), app.CreateContestRequest{
		Title:     "Spring Round",
		Location:  "Hanoi",
		StartDate: contestStart,
		EndDate:   contestStart.Add(time.Hour),
	})
	require.NoError(t, err)
	require.Equal(t, "spring-round-2", again.Slug)
	require.Equal(t, domain.VisibilityPublic, again.Visibility)
}

func TestCreateContestRejectsInvertedWindow(t *testing.T) {
	f := newFixture(t, 0)
	_, err := f.svc.CreateContest(context.Background(), app.CreateContestRequest{
		Title:     "Broken",
		Location:  "Online",
		StartDate: contestStart,
		EndDate:   contestStart.Add(-time.Hour),
	})
	require.Equal(t, domain.KindValidation, domain.KindOf(err))
}

func TestRegisterCoderRejectsDuplicateNickname(t *testing.T) {
	f := newFixture(t, 1)
	_, err := f.svc.RegisterCoder(context.Background(), app.RegisterCoderRequest{Nickname: "a", DisplayName: "Other", Country: "VN"})
	require.ErrorIs(t, err, domain.ErrDuplicateCoder)
}

func TestSubmitNumbersAttemptsAndChecksWindow(t *testing.T) {
	f := newFixture(t, 1)
	coder := f.coders[0].ID

	first := f.submit(t, coder)
	second := f.submit(t, coder)
	require.Equal(t, 1, first.AttemptNo)
	require.Equal(t, 2, second.AttemptNo)
	require.Equal(t, domain.StatusPending, first.Status)

	f.clock.Set(f.contest.EndDate)
	_, err := f.svc.Submit(context.Background(), app.SubmitRequest{
		ContestID: f.contest.ID, ProblemID: f.problem.ID, CoderID: coder, Language: "go", Code: "x",
	})
	require.ErrorIs(t, err, domain.ErrContestNotOpen)
}

func TestSubmitUnknownCoder(t *testing.T) {
	f := newFixture(t, 0)
	_, err := f.svc.Submit(context.Background(), app.SubmitRequest{
		ContestID: f.contest.ID, ProblemID: f.problem.ID, CoderID: 42, Language: "go", Code: "x",
	})
	require.ErrorIs(t, err, domain.ErrCoderNotFound)
}

func TestRecordVerdictIsAppliedOnce(t *testing.T) {
	f := newFixture(t, 1)
	coder := f.coders[0].ID
	sub := f.submit(t, coder)

	f.judge(t, sub.ID, domain.StatusPartial, 80)

	_, err := f.svc.RecordVerdict(context.Background(), domain.VerdictEvent{SubmissionID: sub.ID, Status: domain.StatusAccepted, Score: 100})
	require.ErrorIs(t, err, domain.ErrAlreadyJudged)

	stored, err := f.store.GetSubmission(context.Background(), sub.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusPartial, stored.Status)
	require.Equal(t, 80, stored.Score)

	c, err := f.store.GetCoder(context.Background(), coder)
	require.NoError(t, err)
	require.Equal(t, 1, c.TotalSubmissions)
	require.Equal(t, 0, c.AcceptedSubmissions)
}

func TestRecordVerdictConcurrentDuplicates(t *testing.T) {
	f := newFixture(t, 1)
	sub := f.submit(t, f.coders[0].ID)

	const deliveries = 20
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		applied   int
		duplicate int
	)
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.RecordVerdict(context.Background(), domain.VerdictEvent{
				SubmissionID: sub.ID, Status: domain.StatusAccepted, Score: 100,
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				applied++
			case errors.Is(err, domain.ErrAlreadyJudged):
				duplicate++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 1, applied)
	require.Equal(t, deliveries-1, duplicate)

	c, err := f.store.GetCoder(context.Background(), f.coders[0].ID)
	require.NoError(t, err)
	require.Equal(t, 1, c.TotalSubmissions)
	require.Equal(t, 1, c.AcceptedSubmissions)
}

func TestRecordVerdictRejectsBadInput(t *testing.T) {
	f := newFixture(t, 1)
	sub := f.submit(t, f.coders[0].ID)
	ctx := context.Background()

	_, err := f.svc.RecordVerdict(ctx, domain.VerdictEvent{SubmissionID: sub.ID, Status: domain.StatusAccepted, Score: 101})
	require.ErrorIs(t, err, domain.ErrScoreOutOfRange)

	_, err = f.svc.RecordVerdict(ctx, domain.VerdictEvent{SubmissionID: sub.ID, Status: domain.StatusPending})
	require.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = f.svc.RecordVerdict(ctx, domain.VerdictEvent{SubmissionID: 999, Status: domain.StatusAccepted, Score: 1})
	require.ErrorIs(t, err, domain.ErrSubmissionNotFound)

	_, err = f.svc.RecordVerdict(ctx, domain.VerdictEvent{Status: domain.StatusAccepted})
	require.Equal(t, domain.KindValidation, domain.KindOf(err))

	stored, err := f.store.GetSubmission(ctx, sub.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusPending, stored.Status)
}

func TestAggregateTakesBestScorePerProblem(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()
	coder := f.coders[0].ID

	f.judge(t, f.submit(t, coder).ID, domain.StatusPartial, 40)
	f.judge(t, f.submit(t, coder).ID, domain.StatusPartial, 70)
	f.submit(t, coder) // pending, ignored
	f.judge(t, f.submit(t, f.coders[1].ID).ID, domain.StatusAccepted, 100)

	points, err := f.svc.Aggregate(ctx, f.contest.ID, coder)
	require.NoError(t, err)
	require.Equal(t, 70, points)

	_, err = f.svc.Aggregate(ctx, 999, coder)
	require.ErrorIs(t, err, domain.ErrContestNotFound)
}

func TestLeaderboardOrdersParticipants(t *testing.T) {
	f := newFixture(t, 3)
	ctx := context.Background()

	f.judge(t, f.submit(t, f.coders[0].ID).ID, domain.StatusPartial, 40)
	f.clock.Set(contestStart.Add(20 * time.Minute))
	f.judge(t, f.submit(t, f.coders[1].ID).ID, domain.StatusAccepted, 100)
	f.submit(t, f.coders[2].ID)

	lb, err := f.svc.GetLeaderboard(ctx, f.contest.ID)
	require.NoError(t, err)
	require.False(t, lb.Final)
	require.Len(t, lb.Entries, 3)
	require.Equal(t, f.coders[1].ID, lb.Entries[0].CoderID)
	require.Equal(t, int64(20*time.Minute/time.Millisecond), lb.Entries[0].AcceptedTimeSum)
	require.Equal(t, f.coders[0].ID, lb.Entries[1].CoderID)
	require.Equal(t, f.coders[2].ID, lb.Entries[2].CoderID)
	require.Equal(t, 0, lb.Entries[2].Points)
}

func TestFinalizeContest(t *testing.T) {
	f := newFixture(t, 3)
	ctx := context.Background()

	f.judge(t, f.submit(t, f.coders[0].ID).ID, domain.StatusAccepted, 100)
	f.judge(t, f.submit(t, f.coders[1].ID).ID, domain.StatusPartial, 50)
	f.judge(t, f.submit(t, f.coders[2].ID).ID, domain.StatusWrongAnswer, 0)

	_, err := f.svc.FinalizeContest(ctx, f.contest.ID)
	require.ErrorIs(t, err, domain.ErrContestNotEnded)

	f.clock.Set(f.contest.EndDate)
	res, err := f.svc.FinalizeContest(ctx, f.contest.ID)
	require.NoError(t, err)
	require.True(t, res.Contest.Finalized)
	require.True(t, res.Leaderboard.Final)
	require.Len(t, res.Changes, 3)

	wantDelta := map[int64]int{f.coders[0].ID: 16, f.coders[1].ID: 0, f.coders[2].ID: -16}
	sum := 0
	for _, c := range res.Changes {
		require.Equal(t, wantDelta[c.CoderID], c.Delta)
		require.Equal(t, c.OldRating+c.Delta, c.NewRating)
		require.Contains(t, c.Reason, "Spring Round")
		sum += c.Delta
	}
	require.Zero(t, sum)

	for _, coder := range f.coders {
		require.NoError(t, f.svc.VerifyLedger(ctx, coder.ID))
		history, err := f.svc.RatingHistory(ctx, coder.ID)
		require.NoError(t, err)
		require.Len(t, history, 1)
	}
	top, err := f.store.GetCoder(ctx, f.coders[0].ID)
	require.NoError(t, err)
	require.Equal(t, 1516, top.Rating)
	require.Equal(t, 100, top.PointsTotal)

	_, err = f.svc.FinalizeContest(ctx, f.contest.ID)
	require.ErrorIs(t, err, domain.ErrAlreadyFinalized)

	lb, err := f.svc.GetLeaderboard(ctx, f.contest.ID)
	require.NoError(t, err)
	require.Len(t, lb.Entries, 3)
}

func TestFinalizeContestConcurrently(t *testing.T) {
	f := newFixture(t, 2)
	f.judge(t, f.submit(t, f.coders[0].ID).ID, domain.StatusAccepted, 100)
	f.submit(t, f.coders[1].ID)
	f.clock.Set(f.contest.EndDate.Add(time.Minute))

	const callers = 10
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		repeated  int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.FinalizeContest(context.Background(), f.contest.ID)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				succeeded++
			} else if errors.Is(err, domain.ErrAlreadyFinalized) {
				repeated++
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 1, succeeded)
	require.Equal(t, callers-1, repeated)
	history, err := f.svc.RatingHistory(context.Background(), f.coders[1].ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
}

// lockTrackingStore fails any rating write to a coder the unit of work has not locked.
type lockTrackingStore struct {
	*memory.Store
	mu     sync.Mutex
	locked []int64
}

func (s *lockTrackingStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx app.Tx) error) error {
	return s.Store.RunInTx(ctx, func(ctx context.Context, tx app.Tx) error {
		return fn(ctx, &lockTrackingTx{Tx: tx, store: s, held: map[int64]bool{}})
	})
}

type lockTrackingTx struct {
	app.Tx
	store *lockTrackingStore
	held  map[int64]bool
}

func (t *lockTrackingTx) LockCoders(ctx context.Context, ids []int64) (map[int64]domain.Coder, error) {
	t.store.mu.Lock()
	t.store.locked = append(t.store.locked, ids...)
	t.store.mu.Unlock()
	for _, id := range ids {
		t.held[id] = true
	}
	return t.Tx.LockCoders(ctx, ids)
}

func (t *lockTrackingTx) ApplyContestResult(ctx context.Context, coderID int64, rating, points int) error {
	if !t.held[coderID] {
		return fmt.Errorf("coder %d rated without a lock", coderID)
	}
	return t.Tx.ApplyContestResult(ctx, coderID, rating, points)
}

func TestFinalizeLocksParticipantsBeforeRating(t *testing.T) {
	f := newFixture(t, 3)
	ctx := context.Background()
	f.judge(t, f.submit(t, f.coders[0].ID).ID, domain.StatusAccepted, 100)
	f.submit(t, f.coders[2].ID)

	store := &lockTrackingStore{Store: f.store}
	svc := app.NewServiceWithClock(app.Deps{
		Store:     store,
		Standings: memory.NewLeaderboardCache(store, time.Minute),
		Hubs:      memory.NewHubRegistry(),
		Engine:    rating.DefaultEngine(),
		Logger:    zerolog.Nop(),
	}, f.clock.Now)

	f.clock.Set(f.contest.EndDate)
	_, err := svc.FinalizeContest(ctx, f.contest.ID)
	require.NoError(t, err)
	require.ElementsMatch(t, []int64{f.coders[0].ID, f.coders[2].ID}, store.locked)
}

func TestVerdictAfterFinalizeIsRejected(t *testing.T) {
	f := newFixture(t, 2)
	f.judge(t, f.submit(t, f.coders[0].ID).ID, domain.StatusAccepted, 100)
	late := f.submit(t, f.coders[1].ID)

	f.clock.Set(f.contest.EndDate)
	_, err := f.svc.FinalizeContest(context.Background(), f.contest.ID)
	require.NoError(t, err)

	_, err = f.svc.RecordVerdict(context.Background(), domain.VerdictEvent{SubmissionID: late.ID, Status: domain.StatusAccepted, Score: 100})
	require.ErrorIs(t, err, domain.ErrContestFinalized)
}

func TestRatingsCarryAcrossContests(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()
	f.judge(t, f.submit(t, f.coders[0].ID).ID, domain.StatusAccepted, 100)
	f.submit(t, f.coders[1].ID)
	f.clock.Set(f.contest.EndDate)
	_, err := f.svc.FinalizeContest(ctx, f.contest.ID)
	require.NoError(t, err)

	next, err := f.svc.CreateContest(ctx, app.CreateContestRequest{
		Title:     "Summer Round",
		Location:  "Online",
		StartDate: f.contest.EndDate.Add(time.Hour),
		EndDate:   f.contest.EndDate.Add(3 * time.Hour),
	})
	require.NoError(t, err)
	p, err := f.svc.AddProblem(ctx, app.AddProblemRequest{ContestID: next.ID, Title: "Max", Code: "A", MaxScore: 10})
	require.NoError(t, err)

	f.clock.Set(next.StartDate.Add(time.Minute))
	for _, coder := range f.coders {
		sub, err := f.svc.Submit(ctx, app.SubmitRequest{ContestID: next.ID, ProblemID: p.ID, CoderID: coder.ID, Language: "go", Code: "x"})
		require.NoError(t, err)
		_, err = f.svc.RecordVerdict(ctx, domain.VerdictEvent{SubmissionID: sub.ID, Status: domain.StatusAccepted, Score: 10})
		require.NoError(t, err)
	}
	f.clock.Set(next.EndDate)
	res, err := f.svc.FinalizeContest(ctx, next.ID)
	require.NoError(t, err)
	for _, c := range res.Changes {
		require.NotEqual(t, domain.DefaultRating, c.OldRating)
	}
	for _, coder := range f.coders {
		require.NoError(t, f.svc.VerifyLedger(ctx, coder.ID))
	}
}

func TestCloseContestThenFinalizeDue(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()
	f.judge(t, f.submit(t, f.coders[0].ID).ID, domain.StatusAccepted, 100)
	f.submit(t, f.coders[1].ID)

	n, err := f.svc.FinalizeDue(ctx)
	require.NoError(t, err)
	require.Zero(t, n)

	f.clock.Set(contestStart.Add(30 * time.Minute))
	closed, err := f.svc.CloseContest(ctx, f.contest.ID)
	require.NoError(t, err)
	require.Equal(t, contestStart.Add(30*time.Minute), closed.EndDate)

	f.clock.Set(contestStart.Add(31 * time.Minute))
	n, err = f.svc.FinalizeDue(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	_, err = f.svc.CloseContest(ctx, f.contest.ID)
	require.ErrorIs(t, err, domain.ErrContestFinalized)
}

func TestCloseContestBeforeStart(t *testing.T) {
	f := newFixture(t, 0)
	f.clock.Set(contestStart.Add(-time.Minute))
	_, err := f.svc.CloseContest(context.Background(), f.contest.ID)
	require.ErrorIs(t, err, domain.ErrContestNotStarted)
}

func TestFinalizeDetectsLedgerDrift(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()
	f.judge(t, f.submit(t, f.coders[0].ID).ID, domain.StatusAccepted, 100)
	f.submit(t, f.coders[1].ID)

	// rating moved without a ledger entry
	err := f.store.RunInTx(ctx, func(ctx context.Context, tx app.Tx) error {
		return tx.ApplyContestResult(ctx, f.coders[1].ID, 1600, 0)
	})
	require.NoError(t, err)
	require.ErrorIs(t, f.svc.VerifyLedger(ctx, f.coders[1].ID), domain.ErrLedgerMismatch)

	f.clock.Set(f.contest.EndDate)
	_, err = f.svc.FinalizeContest(ctx, f.contest.ID)
	require.ErrorIs(t, err, domain.ErrLedgerMismatch)

	contest, err := f.store.GetContest(ctx, f.contest.ID)
	require.NoError(t, err)
	require.False(t, contest.Finalized)
}

func TestSubscribeReceivesUpdates(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()
	sub := f.submit(t, f.coders[0].ID)

	ch, cancel, err := f.svc.Subscribe(ctx, f.contest.ID)
	require.NoError(t, err)
	defer cancel()

	initial := <-ch
	require.Len(t, initial.Entries, 1)
	require.Zero(t, initial.Entries[0].Points)

	f.clock.Set(contestStart.Add(10 * time.Minute))
	f.judge(t, sub.ID, domain.StatusAccepted, 100)

	select {
	case update := <-ch:
		require.Equal(t, 100, update.Entries[0].Points)
	case <-time.After(time.Second):
		t.Fatalf("expected standings update")
	}
}

// droppingHubRegistry hands out one hub that has already been removed, as if the
// last watcher left between GetOrCreate and subscribing.
type droppingHubRegistry struct {
	*memory.HubRegistry
	dropped bool
}

func (r *droppingHubRegistry) GetOrCreate(contestID int64) *app.Hub {
	if !r.dropped {
		r.dropped = true
		return app.NewHub(contestID)
	}
	return r.HubRegistry.GetOrCreate(contestID)
}

func TestSubscribeSurvivesConcurrentHubRemoval(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()
	sub := f.submit(t, f.coders[0].ID)

	hubs := &droppingHubRegistry{HubRegistry: memory.NewHubRegistry()}
	svc := app.NewServiceWithClock(app.Deps{
		Store:     f.store,
		Standings: memory.NewLeaderboardCache(f.store, time.Minute),
		Hubs:      hubs,
		Engine:    rating.DefaultEngine(),
		Logger:    zerolog.Nop(),
	}, f.clock.Now)

	ch, cancel, err := svc.Subscribe(ctx, f.contest.ID)
	require.NoError(t, err)
	defer cancel()
	require.True(t, hubs.dropped)
	<-ch

	f.clock.Set(contestStart.Add(10 * time.Minute))
	_, err = svc.RecordVerdict(ctx, domain.VerdictEvent{SubmissionID: sub.ID, Status: domain.StatusAccepted, Score: 100})
	require.NoError(t, err)

	select {
	case update := <-ch:
		require.Equal(t, 100, update.Entries[0].Points)
	case <-time.After(time.Second):
		t.Fatalf("subscriber attached to a removed hub")
	}
}
