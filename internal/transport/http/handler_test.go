package http

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"contest-rating-service/internal/app"
	"contest-rating-service/internal/domain"
	"contest-rating-service/internal/infra/memory"
	"contest-rating-service/internal/rating"
)

var contestStart = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func newTestServer(t *testing.T) (*httptest.Server, *testClock) {
	t.Helper()
	store := memory.NewStore()
	clock := &testClock{now: contestStart.Add(-time.Hour)}
	service := app.NewServiceWithClock(app.Deps{
		Store:     store,
		Standings: memory.NewLeaderboardCache(store, time.Minute),
		Hubs:      memory.NewHubRegistry(),
		Engine:    rating.DefaultEngine(),
		Logger:    zerolog.Nop(),
	}, clock.Now)

	mux := http.NewServeMux()
	NewHandler(service, zerolog.Nop()).Register(mux)
	mux.HandleFunc("/ws", NewWSHandler(service, zerolog.Nop()).ServeWS)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server, clock
}

func do(t *testing.T, server *httptest.Server, method, path string, body any, out any) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, server.URL+path, &buf)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

// seedContest creates a contest with one problem and two coders.
func seedContest(t *testing.T, server *httptest.Server) (domain.Contest, domain.Problem, []domain.Coder) {
	t.Helper()
	var contest domain.Contest
	status := do(t, server, http.MethodPost, "/contests", map[string]any{
		"title":     "Weekly 12",
		"location":  "Online",
		"startDate": contestStart,
		"endDate":   contestStart.Add(time.Hour),
	}, &contest)
	require.Equal(t, http.StatusCreated, status)
	require.Equal(t, "weekly-12", contest.Slug)

	var problem domain.Problem
	status = do(t, server, http.MethodPost, fmt.Sprintf("/contests/%d/problems", contest.ID), map[string]any{
		"title": "Two Sum", "code": "A", "maxScore": 100,
	}, &problem)
	require.Equal(t, http.StatusCreated, status)

	var coders []domain.Coder
	for _, nick := range []string{"alice", "bob"} {
		var c domain.Coder
		status = do(t, server, http.MethodPost, "/coders", map[string]any{
			"nickname": nick, "displayName": nick + " display", "country": "VN",
		}, &c)
		require.Equal(t, http.StatusCreated, status)
		coders = append(coders, c)
	}
	return contest, problem, coders
}

func TestContestLifecycleOverHTTP(t *testing.T) {
	server, clock := newTestServer(t)
	contest, problem, coders := seedContest(t, server)

	clock.Set(contestStart.Add(10 * time.Minute))
	var subs []domain.Submission
	for _, c := range coders {
		var sub domain.Submission
		status := do(t, server, http.MethodPost, fmt.Sprintf("/contests/%d/submissions", contest.ID), map[string]any{
			"problemId": problem.ID, "coderId": c.ID, "language": "go", "code": "package main",
		}, &sub)
		require.Equal(t, http.StatusAccepted, status)
		require.Equal(t, domain.StatusPending, sub.Status)
		subs = append(subs, sub)
	}

	verdict := map[string]any{"submissionId": subs[0].ID, "status": "accepted", "score": 100}
	var judged domain.Submission
	require.Equal(t, http.StatusOK, do(t, server, http.MethodPost, "/verdicts", verdict, &judged))
	require.Equal(t, 100, judged.Score)

	var errBody errorBody
	require.Equal(t, http.StatusConflict, do(t, server, http.MethodPost, "/verdicts", verdict, &errBody))
	require.Equal(t, "conflict", errBody.Kind)

	require.Equal(t, http.StatusUnprocessableEntity, do(t, server, http.MethodPost, fmt.Sprintf("/contests/%d/finalize", contest.ID), nil, &errBody))

	var lb domain.Leaderboard
	require.Equal(t, http.StatusOK, do(t, server, http.MethodGet, fmt.Sprintf("/contests/%d/leaderboard", contest.ID), nil, &lb))
	require.Len(t, lb.Entries, 2)
	require.Equal(t, coders[0].ID, lb.Entries[0].CoderID)

	var pts pointsResponse
	require.Equal(t, http.StatusOK, do(t, server, http.MethodGet, fmt.Sprintf("/contests/%d/coders/%d/points", contest.ID, coders[0].ID), nil, &pts))
	require.Equal(t, 100, pts.Points)

	clock.Set(contestStart.Add(2 * time.Hour))
	var result app.FinalizeResult
	require.Equal(t, http.StatusOK, do(t, server, http.MethodPost, fmt.Sprintf("/contests/%d/finalize", contest.ID), nil, &result))
	require.True(t, result.Leaderboard.Final)
	require.Len(t, result.Changes, 2)

	require.Equal(t, http.StatusConflict, do(t, server, http.MethodPost, fmt.Sprintf("/contests/%d/finalize", contest.ID), nil, &errBody))

	var history []domain.RatingChange
	require.Equal(t, http.StatusOK, do(t, server, http.MethodGet, fmt.Sprintf("/coders/%d/ratings", coders[0].ID), nil, &history))
	require.Len(t, history, 1)
	require.Equal(t, 16, history[0].Delta)
}

func TestHTTPErrorMapping(t *testing.T) {
	server, _ := newTestServer(t)
	var errBody errorBody

	require.Equal(t, http.StatusNotFound, do(t, server, http.MethodGet, "/contests/42/leaderboard", nil, &errBody))
	require.Equal(t, "not_found", errBody.Kind)

	require.Equal(t, http.StatusBadRequest, do(t, server, http.MethodGet, "/contests/abc/leaderboard", nil, &errBody))

	require.Equal(t, http.StatusBadRequest, do(t, server, http.MethodPost, "/coders", map[string]any{"nickname": ""}, &errBody))
	require.Equal(t, "validation", errBody.Kind)

	require.Equal(t, http.StatusBadRequest, do(t, server, http.MethodPost, "/verdicts", map[string]any{"submissionId": 1, "status": "pending"}, &errBody))
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{domain.ErrAlreadyJudged, http.StatusConflict},
		{domain.ErrContestNotEnded, http.StatusUnprocessableEntity},
		{domain.ErrScoreOutOfRange, http.StatusBadRequest},
		{domain.ErrSubmissionNotFound, http.StatusNotFound},
		{domain.ErrLedgerMismatch, http.StatusInternalServerError},
		{fmt.Errorf("db down"), http.StatusInternalServerError},
		{fmt.Errorf("wrap: %w", domain.ErrContestNotOpen), http.StatusUnprocessableEntity},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, StatusFor(tc.err), tc.err.Error())
	}
}

func TestAccessLogKeepsWebsocketUpgrades(t *testing.T) {
	server, _ := newTestServer(t)
	var contest domain.Contest
	status := do(t, server, http.MethodPost, "/contests", map[string]any{
		"title": "Logged", "location": "Online", "startDate": contestStart, "endDate": contestStart.Add(time.Hour),
	}, &contest)
	require.Equal(t, http.StatusCreated, status)

	logged := httptest.NewServer(AccessLog(server.Config.Handler, zerolog.Nop()))
	defer logged.Close()

	u := "ws" + logged.URL[len("http"):] + fmt.Sprintf("/ws?contestId=%d", contest.ID)
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	defer conn.Close()
	readLeaderboard(t, conn)
}
