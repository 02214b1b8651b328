package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mind-engage/mindengage-exams/internal/apperr"
	auth "github.com/mind-engage/mindengage-exams/internal/auth/middleware"
	"github.com/mind-engage/mindengage-exams/internal/result"
)

// GET /results/me
func MyResultsHandler(agg *result.Aggregator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h, err := agg.UserHistory(r.Context(), auth.IdentityFromContext(r.Context()).UserID)
		if err != nil {
			respondError(w, r, err)
			return
		}
		respondJSON(w, http.StatusOK, h)
	}
}

// GET /results/{resultID}; owners and admins only.
func GetResultHandler(store result.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := store.Get(r.Context(), chi.URLParam(r, "resultID"))
		if err != nil {
			respondError(w, r, err)
			return
		}
		id := auth.IdentityFromContext(r.Context())
		if res.UserID != id.UserID && !id.IsAdmin() {
			respondError(w, r, apperr.Forbidden("result belongs to another user"))
			return
		}
		respondJSON(w, http.StatusOK, res)
	}
}

// GET /admin/results/exams
func ExamSummariesHandler(agg *result.Aggregator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := agg.ExamSummaries(r.Context())
		if err != nil {
			respondError(w, r, err)
			return
		}
		respondJSON(w, http.StatusOK, list)
	}
}

// GET /admin/results/exams/{code}
func ExamReportHandler(agg *result.Aggregator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rep, err := agg.ExamReport(r.Context(), chi.URLParam(r, "code"))
		if err != nil {
			respondError(w, r, err)
			return
		}
		respondJSON(w, http.StatusOK, rep)
	}
}
