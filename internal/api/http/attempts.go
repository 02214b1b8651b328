package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mind-engage/mindengage-exams/internal/apperr"
	"github.com/mind-engage/mindengage-exams/internal/attempt"
	auth "github.com/mind-engage/mindengage-exams/internal/auth/middleware"
)

type attemptResponse struct {
	ID               string         `json:"id"`
	ExamID           string         `json:"exam_id"`
	Status           attempt.Status `json:"status"`
	StartedAt        *time.Time     `json:"started_at,omitempty"`
	Deadline         *time.Time     `json:"deadline,omitempty"`
	RemainingSeconds int            `json:"remaining_seconds"`
	Answers          map[string]int `json:"answers"`
	Score            *int           `json:"score,omitempty"`
	Total            int            `json:"total"`
}

func toAttemptResponse(s attempt.Session, now time.Time) attemptResponse {
	out := attemptResponse{
		ID:               s.ID,
		ExamID:           s.ExamID,
		Status:           s.Status,
		RemainingSeconds: s.Remaining(now),
		Answers:          s.Answers,
		Total:            s.Total,
	}
	if !s.StartedAt.IsZero() {
		started, deadline := s.StartedAt, s.Deadline
		out.StartedAt, out.Deadline = &started, &deadline
	}
	if s.Status == attempt.StatusSubmitted && s.ResultID != "" {
		score := s.Score
		out.Score = &score
	}
	return out
}

type examRef struct {
	ExamID string `json:"exam_id"`
}

// GET /exams/{examID}/attempt-view
func AttemptViewHandler(svc *attempt.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v, err := svc.ExamForAttempt(r.Context(), chi.URLParam(r, "examID"))
		if err != nil {
			respondError(w, r, err)
			return
		}
		respondJSON(w, http.StatusOK, v)
	}
}

// POST /attempts/open {exam_id}
func OpenAttemptHandler(svc *attempt.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req examRef
		if err := decodeJSON(r, &req); err != nil {
			respondError(w, r, err)
			return
		}
		id := auth.IdentityFromContext(r.Context())
		sess, err := svc.Open(r.Context(), id.UserID, req.ExamID)
		if err != nil {
			respondError(w, r, err)
			return
		}
		view, err := svc.ExamForAttempt(r.Context(), sess.ExamID)
		if err != nil {
			respondError(w, r, err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]any{
			"attempt": toAttemptResponse(sess, svc.Now()),
			"exam":    view,
		})
	}
}

// POST /attempts {exam_id}
func StartAttemptHandler(svc *attempt.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req examRef
		if err := decodeJSON(r, &req); err != nil {
			respondError(w, r, err)
			return
		}
		id := auth.IdentityFromContext(r.Context())
		sess, err := svc.Start(r.Context(), id.UserID, req.ExamID)
		if err != nil {
			respondError(w, r, err)
			return
		}
		respondJSON(w, http.StatusCreated, toAttemptResponse(sess, svc.Now()))
	}
}

// GET /attempts/{attemptID}
func GetAttemptHandler(svc *attempt.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := auth.IdentityFromContext(r.Context())
		sess, err := svc.Get(r.Context(), id.UserID, chi.URLParam(r, "attemptID"))
		if err != nil {
			respondError(w, r, err)
			return
		}
		respondJSON(w, http.StatusOK, toAttemptResponse(sess, svc.Now()))
	}
}

// PUT /attempts/{attemptID}/answers/{questionID} {selected}
func RecordAnswerHandler(svc *attempt.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Selected *int `json:"selected"`
		}
		if err := decodeJSON(r, &req); err != nil {
			respondError(w, r, err)
			return
		}
		if req.Selected == nil {
			respondError(w, r, apperr.Validation("selected is required"))
			return
		}
		id := auth.IdentityFromContext(r.Context())
		err := svc.RecordAnswer(r.Context(), id.UserID,
			chi.URLParam(r, "attemptID"), chi.URLParam(r, "questionID"), *req.Selected)
		if err != nil {
			respondError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// POST /attempts/{attemptID}/submit {auto, answers}
// A repeat submit answers 409 with the original outcome in the body.
func SubmitAttemptHandler(svc *attempt.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Auto    bool           `json:"auto"`
			Answers map[string]int `json:"answers"`
		}
		if err := decodeOptionalJSON(r, &req); err != nil {
			respondError(w, r, err)
			return
		}
		id := auth.IdentityFromContext(r.Context())
		out, err := svc.Submit(r.Context(), id.UserID, chi.URLParam(r, "attemptID"), attempt.SubmitOptions{
			Auto:    req.Auto,
			Answers: req.Answers,
		})
		if errors.Is(err, attempt.ErrAlreadySubmitted) {
			respondJSON(w, http.StatusConflict, map[string]any{"error": err.Error(), "outcome": out})
			return
		}
		if err != nil {
			respondError(w, r, err)
			return
		}
		respondJSON(w, http.StatusOK, out)
	}
}
