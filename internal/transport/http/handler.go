package http

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"contest-rating-service/internal/app"
	"contest-rating-service/internal/domain"
)

const maxBodyBytes = 1 << 20

// Handler exposes the contest use cases as a JSON API.
type Handler struct {
	service *app.Service
	logger  zerolog.Logger
}

func NewHandler(service *app.Service, logger zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger.With().Str("component", "http").Logger(),
	}
}

// Register mounts the API routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /coders", h.registerCoder)
	mux.HandleFunc("GET /coders/{id}/ratings", h.ratingHistory)
	mux.HandleFunc("POST /contests", h.createContest)
	mux.HandleFunc("POST /contests/{id}/problems", h.addProblem)
	mux.HandleFunc("POST /contests/{id}/submissions", h.submit)
	mux.HandleFunc("POST /contests/{id}/close", h.closeContest)
	mux.HandleFunc("POST /contests/{id}/finalize", h.finalize)
	mux.HandleFunc("GET /contests/{id}/leaderboard", h.leaderboard)
	mux.HandleFunc("GET /contests/{id}/coders/{coderID}/points", h.points)
	mux.HandleFunc("POST /verdicts", h.verdict)
}

func (h *Handler) registerCoder(w http.ResponseWriter, r *http.Request) {
	var req app.RegisterCoderRequest
	if !h.decode(w, r, &req) {
		return
	}
	coder, err := h.service.RegisterCoder(r.Context(), req)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, coder)
}

func (h *Handler) ratingHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	history, err := h.service.RatingHistory(r.Context(), id)
	if err != nil {
		h.fail(w, err)
		return
	}
	if history == nil {
		history = []domain.RatingChange{}
	}
	writeJSON(w, http.StatusOK, history)
}

func (h *Handler) createContest(w http.ResponseWriter, r *http.Request) {
	var req app.CreateContestRequest
	if !h.decode(w, r, &req) {
		return
	}
	contest, err := h.service.CreateContest(r.Context(), req)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, contest)
}

func (h *Handler) addProblem(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	var req app.AddProblemRequest
	if !h.decode(w, r, &req) {
		return
	}
	req.ContestID = id
	problem, err := h.service.AddProblem(r.Context(), req)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, problem)
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	var req app.SubmitRequest
	if !h.decode(w, r, &req) {
		return
	}
	req.ContestID = id
	sub, err := h.service.Submit(r.Context(), req)
	if err != nil {
		h.fail(w, err)
		return
	}
	sub.Code = ""
	writeJSON(w, http.StatusAccepted, sub)
}

// verdict is the sandbox webhook. Repeated deliveries answer 409 with kind "conflict"
// so the sender can stop retrying.
func (h *Handler) verdict(w http.ResponseWriter, r *http.Request) {
	var event domain.VerdictEvent
	if !h.decode(w, r, &event) {
		return
	}
	sub, err := h.service.RecordVerdict(r.Context(), event)
	if err != nil {
		h.fail(w, err)
		return
	}
	sub.Code = ""
	writeJSON(w, http.StatusOK, sub)
}

func (h *Handler) closeContest(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	contest, err := h.service.CloseContest(r.Context(), id)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, contest)
}

func (h *Handler) finalize(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	result, err := h.service.FinalizeContest(r.Context(), id)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) leaderboard(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	lb, err := h.service.GetLeaderboard(r.Context(), id)
	if err != nil {
		h.fail(w, err)
		return
	}
	if lb.Entries == nil {
		lb.Entries = []domain.LeaderboardEntry{}
	}
	writeJSON(w, http.StatusOK, lb)
}

type pointsResponse struct {
	ContestID int64 `json:"contestId"`
	CoderID   int64 `json:"coderId"`
	Points    int   `json:"points"`
}

func (h *Handler) points(w http.ResponseWriter, r *http.Request) {
	contestID, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	coderID, ok := h.pathID(w, r, "coderID")
	if !ok {
		return
	}
	points, err := h.service.Aggregate(r.Context(), contestID, coderID)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pointsResponse{ContestID: contestID, CoderID: coderID, Points: points})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, domain.KindValidation, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, domain.KindValidation, "invalid "+name)
		return 0, false
	}
	return id, true
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	kind := domain.KindOf(err)
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error().Err(err).Str("kind", kind.String()).Msg("request failed")
		if kind == domain.KindInternal {
			writeError(w, status, kind, "internal error")
			return
		}
	}
	writeError(w, status, kind, err.Error())
}

// StatusFor maps an error to the HTTP status of its kind.
func StatusFor(err error) int {
	switch domain.KindOf(err) {
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindConflict:
		return http.StatusConflict
	case domain.KindPrecondition:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func writeError(w http.ResponseWriter, status int, kind domain.Kind, msg string) {
	writeJSON(w, status, errorBody{Error: msg, Kind: kind.String()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
